package app

import "sync"

// pendingInput tracks chats that are mid-dialog (waiting for a personal
// account number). Explicit and mutex-guarded: handler goroutines race on it.
type pendingInput struct {
	mu    sync.Mutex
	chats map[int64]bool
}

func newPendingInput() *pendingInput {
	return &pendingInput{chats: make(map[int64]bool)}
}

func (p *pendingInput) set(chatID int64) {
	p.mu.Lock()
	p.chats[chatID] = true
	p.mu.Unlock()
}

func (p *pendingInput) clear(chatID int64) {
	p.mu.Lock()
	delete(p.chats, chatID)
	p.mu.Unlock()
}

func (p *pendingInput) active(chatID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chats[chatID]
}
