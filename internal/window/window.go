// Package window selects the part of a conversation that fits in the
// model's context.
//
// The window is always a suffix of the stored history: the newest messages
// are kept, in their original order, until the next older message would
// overflow the budget. Messages are never cut in half. The pending user
// message is appended after the suffix without being charged against the
// budget; callers account for it by reserving headroom below the model's
// hard limit (see Budget).
package window

import (
	"github.com/comigor/calmchat/internal/history"
	"github.com/comigor/calmchat/internal/tokens"
)

// Entry is one role-tagged message sent to the backend.
type Entry struct {
	Role    string
	Content string
}

// Stats describes a built window.
type Stats struct {
	Included      int // history messages kept
	Dropped       int // older history messages left out
	HistoryTokens int // tokens of the kept history, as counted now
}

// Builder assembles windows using Counter. Stored token counts are ignored
// so a window is always measured with the counter in use today.
type Builder struct {
	Counter tokens.Counter
}

// Budget is the history allowance for a model with contextWindow tokens
// when reserve tokens are held back for the new message and the reply.
func Budget(contextWindow, reserve int) int {
	return max(contextWindow-reserve, 0)
}

// Build returns the longest suffix of hist whose total token count is at
// most budget, oldest first, followed by the pending user message.
func (b Builder) Build(hist []history.Message, pending string, budget int) []Entry {
	entries, _ := b.BuildStats(hist, pending, budget)
	return entries
}

// BuildStats is Build that also reports what was kept.
func (b Builder) BuildStats(hist []history.Message, pending string, budget int) ([]Entry, Stats) {
	start := len(hist)
	total := 0
	for i := len(hist) - 1; i >= 0; i-- {
		n := b.Counter.Count(hist[i].Content)
		if total+n > budget {
			break
		}
		total += n
		start = i
	}

	entries := make([]Entry, 0, len(hist)-start+1)
	for _, m := range hist[start:] {
		entries = append(entries, Entry{Role: m.Role, Content: m.Content})
	}
	entries = append(entries, Entry{Role: history.RoleUser, Content: pending})

	return entries, Stats{
		Included:      len(hist) - start,
		Dropped:       start,
		HistoryTokens: total,
	}
}
