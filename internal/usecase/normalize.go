package usecase

import (
	"strings"
	"unicode/utf8"

	"wakeassist/internal/domain"
)

const previewRuneLimit = 100

// channelTagSeparators are the separators the recognizer writes after a
// channel tag, e.g. "pgs: 暂停播放" or "pgs 暂停播放".
var channelTagSeparators = []string{":", "：", " "}

// normalizeUtterance reduces a raw channel buffer to the current utterance:
// the last non-empty line, with one leading channel tag removed, trimmed.
func normalizeUtterance(raw string) string {
	line := lastNonEmptyLine(raw)
	if line == "" {
		return ""
	}
	return strings.TrimSpace(stripChannelTag(line))
}

func lastNonEmptyLine(raw string) string {
	lines := strings.FieldsFunc(raw, func(r rune) bool { return r == '\n' || r == '\r' })
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func stripChannelTag(line string) string {
	lower := strings.ToLower(line)
	for _, channel := range domain.ChannelPriority {
		tag := string(channel)
		if !strings.HasPrefix(lower, tag) {
			continue
		}
		rest := line[len(tag):]
		for _, sep := range channelTagSeparators {
			if strings.HasPrefix(rest, sep) {
				return rest[len(sep):]
			}
		}
	}
	return line
}

// previewText keeps the tail of long text for the popup.
func previewText(text string) string {
	if utf8.RuneCountInString(text) <= previewRuneLimit {
		return text
	}
	runes := []rune(text)
	return "..." + string(runes[len(runes)-previewRuneLimit:])
}
