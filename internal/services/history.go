package services

import (
	"slices"
	"sync"

	"github.com/mindfulbot/mindfulbot-web/internal/models"
)

type historyEntry struct {
	role models.Role
	text string
}

// history is the conversation a session replays to providers whose APIs are stateless. A turn is committed
// only when its reply streamed to the end, so a failed turn leaves no trace in what the model sees next.
type history struct {
	mu      sync.Mutex
	entries []historyEntry
}

func (h *history) snapshot() []historyEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.entries)
}

func (h *history) commit(userText, reply string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries,
		historyEntry{role: models.RoleUser, text: userText},
		historyEntry{role: models.RoleAssistant, text: reply},
	)
}
