package usecase

import "wakeassist/internal/domain"

// resultDeduplicator remembers the last text seen per channel. The recognizer
// re-publishes the same buffer on every poll, so only changes are news.
type resultDeduplicator struct {
	last map[domain.ChannelID]string
}

func newResultDeduplicator() *resultDeduplicator {
	return &resultDeduplicator{last: make(map[domain.ChannelID]string, len(domain.ChannelPriority))}
}

// Observe returns text and records it when it is non-empty and differs from
// the cached value. Empty reads never touch the cache.
func (d *resultDeduplicator) Observe(channel domain.ChannelID, text string) (string, bool) {
	if text == "" {
		return "", false
	}
	if d.last[channel] == text {
		return "", false
	}
	d.last[channel] = text
	return text, true
}

// Last returns the cached value for channel.
func (d *resultDeduplicator) Last(channel domain.ChannelID) string {
	return d.last[channel]
}

// Reset forgets every channel.
func (d *resultDeduplicator) Reset() {
	clear(d.last)
}
