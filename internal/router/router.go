package router

import (
	"log/slog"
	"sync"
)

// Screen names one of the two views of the application.
type Screen string

const (
	// ScreenLanding is the marketing page shown at start.
	ScreenLanding Screen = "landing"
	// ScreenChat is the conversation view.
	ScreenChat Screen = "chat"
)

// Router holds the active screen. The only transitions are StartChat (landing to chat) and Back (chat to
// landing); the selection lives in memory and starts on ScreenLanding.
type Router struct {
	mu     sync.Mutex
	screen Screen

	onEnterChat func()
	onLeaveChat func()

	logger *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithOnEnterChat sets a hook run after StartChat switched to the chat screen.
func WithOnEnterChat(fn func()) Option {
	return func(r *Router) { r.onEnterChat = fn }
}

// WithOnLeaveChat sets a hook run after Back switched to the landing screen.
func WithOnLeaveChat(fn func()) Option {
	return func(r *Router) { r.onLeaveChat = fn }
}

// New creates a Router on the landing screen.
func New(logger *slog.Logger, opts ...Option) *Router {
	r := &Router{
		screen: ScreenLanding,
		logger: logger.With(slog.String("module", "router")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Current returns the active screen.
func (r *Router) Current() Screen {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.screen
}

// StartChat switches from the landing screen to the chat screen. It reports whether the screen changed.
func (r *Router) StartChat() bool {
	return r.transition(ScreenLanding, ScreenChat, r.onEnterChat)
}

// Back switches from the chat screen to the landing screen. It reports whether the screen changed.
func (r *Router) Back() bool {
	return r.transition(ScreenChat, ScreenLanding, r.onLeaveChat)
}

func (r *Router) transition(from, to Screen, hook func()) bool {
	r.mu.Lock()
	if r.screen != from {
		r.mu.Unlock()
		r.logger.Debug("Ignored transition", slog.String("from", string(from)), slog.String("to", string(to)))
		return false
	}
	r.screen = to
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	return true
}
