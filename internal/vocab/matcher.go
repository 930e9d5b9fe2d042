package vocab

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// Mode selects the fallback used when text is not an exact vocabulary entry.
type Mode string

const (
	// ModeExact accepts allow-list members and aliases only.
	ModeExact Mode = "exact"
	// ModeContains also accepts text that contains a command.
	ModeContains Mode = "contains"
	// ModeFuzzy also accepts the closest command by Jaro-Winkler similarity.
	ModeFuzzy Mode = "fuzzy"
)

const defaultFuzzyThreshold = 0.85

// ParseMode converts a configuration string into a Mode.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeExact:
		return ModeExact, nil
	case ModeContains:
		return ModeContains, nil
	case ModeFuzzy:
		return ModeFuzzy, nil
	default:
		return "", fmt.Errorf("unknown match mode %q", value)
	}
}

// Match is a successful vocabulary lookup.
type Match struct {
	Command string
	Mode    Mode
	Score   float64
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithMode sets the fallback mode. Default: ModeExact.
func WithMode(mode Mode) Option {
	return func(m *Matcher) {
		if mode != "" {
			m.mode = mode
		}
	}
}

// WithFuzzyThreshold sets the minimum similarity accepted in ModeFuzzy.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 && threshold <= 1 {
			m.fuzzyThreshold = threshold
		}
	}
}

// Matcher resolves recognized text against a Vocabulary. It is read-only
// after construction and safe for concurrent use.
type Matcher struct {
	vocab          *Vocabulary
	mode           Mode
	fuzzyThreshold float64
}

// NewMatcher returns a matcher over v. A nil vocabulary means Default().
func NewMatcher(v *Vocabulary, opts ...Option) *Matcher {
	if v == nil {
		v = Default()
	}
	m := &Matcher{vocab: v, mode: ModeExact, fuzzyThreshold: defaultFuzzyThreshold}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Vocabulary returns the underlying vocabulary.
func (m *Matcher) Vocabulary() *Vocabulary {
	return m.vocab
}

// Mode returns the configured fallback mode.
func (m *Matcher) Mode() Mode {
	return m.mode
}

// WithVocabulary returns a copy of m over a different vocabulary.
func (m *Matcher) WithVocabulary(v *Vocabulary) *Matcher {
	next := *m
	if v != nil {
		next.vocab = v
	}
	return &next
}

// Match looks text up. Exact membership always wins over the fallback mode.
func (m *Matcher) Match(text string) (Match, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Match{}, false
	}

	if command, ok := m.vocab.Resolve(text); ok {
		return Match{Command: command, Mode: ModeExact, Score: 1}, true
	}

	switch m.mode {
	case ModeContains:
		return m.matchContains(text)
	case ModeFuzzy:
		return m.matchFuzzy(text)
	default:
		return Match{}, false
	}
}

// matchContains prefers the longest contained entry so that "播放下一首"
// wins over a shorter command it happens to contain.
func (m *Matcher) matchContains(text string) (Match, bool) {
	best := ""
	bestLen := 0
	consider := func(entry string, command string) {
		if !strings.Contains(text, entry) {
			return
		}
		if n := utf8.RuneCountInString(entry); n > bestLen || (n == bestLen && command < best) {
			best, bestLen = command, n
		}
	}
	for _, command := range m.vocab.commands {
		consider(command, command)
	}
	for alias, command := range m.vocab.aliases {
		consider(alias, command)
	}
	if best == "" {
		return Match{}, false
	}
	return Match{Command: best, Mode: ModeContains, Score: 1}, true
}

func (m *Matcher) matchFuzzy(text string) (Match, bool) {
	best := Match{}
	for _, command := range m.vocab.commands {
		score := matchr.JaroWinkler(text, command, false)
		if score > best.Score || (score == best.Score && command < best.Command) {
			best = Match{Command: command, Mode: ModeFuzzy, Score: score}
		}
	}
	if best.Command == "" || best.Score < m.fuzzyThreshold {
		return Match{}, false
	}
	return best, true
}
