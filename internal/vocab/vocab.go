package vocab

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Vocabulary is the allow-list of command words plus aliases onto them.
// A Vocabulary is read-only after construction.
type Vocabulary struct {
	commands []string
	index    map[string]struct{}
	aliases  map[string]string
}

// Default returns the built-in karaoke control vocabulary.
func Default() *Vocabulary {
	v, _ := New(
		"播放下一首",
		"播放上一首",
		"开始播放",
		"暂停播放",
		"停止播放",
		"点歌",
		"插播",
		"删除歌曲",
		"提高音量",
		"降低音量",
		"静音",
		"重唱",
		"伴唱",
		"原唱",
		"已点歌曲",
	)
	return v
}

// New builds a vocabulary from plain command entries.
func New(commands ...string) (*Vocabulary, error) {
	b := newBuilder()
	for i, command := range commands {
		if err := b.addCommand(command); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
	}
	return b.build()
}

// Load reads a vocabulary file. An empty path or a missing file yields the
// default vocabulary.
func Load(path string) (*Vocabulary, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read vocabulary file %q: %w", path, err)
	}

	v, err := Parse(string(contents))
	if err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary file %q: %w", path, err)
	}
	return v, nil
}

// Parse compiles vocabulary file contents. Each non-comment line is either a
// command or an "alias => command" mapping; aliases may precede the command
// they point at.
func Parse(contents string) (*Vocabulary, error) {
	lines := strings.Split(contents, "\n")
	parsers := defaultLineParsers()
	b := newBuilder()

	for index, raw := range lines {
		line := strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		for _, parser := range parsers {
			if !parser.CanParse(line) {
				continue
			}
			if err := parser.Parse(line, b); err != nil {
				return nil, fmt.Errorf("line %d: %w", index+1, err)
			}
			break
		}
	}

	v, err := b.build()
	if err != nil {
		return nil, err
	}
	if len(v.commands) == 0 {
		return nil, errors.New("vocabulary declares no commands")
	}
	return v, nil
}

// Commands returns the declared commands in declaration order.
func (v *Vocabulary) Commands() []string {
	out := make([]string, len(v.commands))
	copy(out, v.commands)
	return out
}

// Len reports the number of declared commands.
func (v *Vocabulary) Len() int {
	return len(v.commands)
}

// Resolve maps text onto a command by exact membership, following aliases.
func (v *Vocabulary) Resolve(text string) (string, bool) {
	if _, ok := v.index[text]; ok {
		return text, true
	}
	if command, ok := v.aliases[text]; ok {
		return command, true
	}
	return "", false
}

type builder struct {
	commands []string
	index    map[string]struct{}
	aliases  map[string]string
}

func newBuilder() *builder {
	return &builder{
		index:   make(map[string]struct{}),
		aliases: make(map[string]string),
	}
}

func (b *builder) addCommand(command string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return errors.New("command cannot be empty")
	}
	if _, dup := b.index[command]; dup {
		return fmt.Errorf("duplicate command %q", command)
	}
	b.index[command] = struct{}{}
	b.commands = append(b.commands, command)
	return nil
}

func (b *builder) addAlias(alias string, command string) error {
	if _, dup := b.aliases[alias]; dup {
		return fmt.Errorf("duplicate alias %q", alias)
	}
	b.aliases[alias] = command
	return nil
}

func (b *builder) build() (*Vocabulary, error) {
	for alias, command := range b.aliases {
		if _, ok := b.index[command]; !ok {
			return nil, fmt.Errorf("alias %q points at undeclared command %q", alias, command)
		}
		if _, clash := b.index[alias]; clash {
			return nil, fmt.Errorf("alias %q shadows a declared command", alias)
		}
	}
	return &Vocabulary{commands: b.commands, index: b.index, aliases: b.aliases}, nil
}

// lineParser parses one vocabulary line into the builder.
type lineParser interface {
	CanParse(line string) bool
	Parse(line string, b *builder) error
}

func defaultLineParsers() []lineParser {
	return []lineParser{aliasLineParser{}, commandLineParser{}}
}

type aliasLineParser struct{}

func (aliasLineParser) CanParse(line string) bool {
	return strings.Contains(line, "=>")
}

func (aliasLineParser) Parse(line string, b *builder) error {
	parts := strings.SplitN(line, "=>", 2)
	alias := strings.TrimSpace(parts[0])
	command := strings.TrimSpace(parts[1])
	if alias == "" || command == "" {
		return errors.New("alias lines need both sides of =>")
	}
	return b.addAlias(alias, command)
}

type commandLineParser struct{}

func (commandLineParser) CanParse(string) bool { return true }

func (commandLineParser) Parse(line string, b *builder) error {
	return b.addCommand(line)
}
