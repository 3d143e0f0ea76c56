package conversation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mindfulbot/mindfulbot-web/internal/models"
)

// Capability is the external chat service. It opens a stateful session configured with a system prompt and
// sampling temperature.
type Capability interface {
	CreateSession(ctx context.Context, systemPrompt string, temperature float32) (Session, error)
}

// Session is a conversation handle of a Capability. Stream sends userText as the next turn and returns the
// reply as a finite sequence of text fragments. A non-nil error ends the sequence. The returned sequence
// must be consumed once.
type Session interface {
	Stream(ctx context.Context, userText string) iter.Seq2[string, error]
}

// FailurePolicy decides what happens to the text of a placeholder when its reply fails.
type FailurePolicy int

const (
	// FailureOverwrite replaces whatever was streamed with the fallback message.
	FailureOverwrite FailurePolicy = iota
	// FailurePreservePartial keeps the partial reply. An empty reply still gets the fallback message.
	FailurePreservePartial
)

const (
	// WelcomeID is the identifier of the seeded greeting.
	WelcomeID = "welcome"
	// WelcomeText greets the visitor when the chat screen opens on an empty conversation.
	WelcomeText = "Hello there. I'm here to listen. How are you feeling today?"
	// FallbackText is shown in place of a reply that could not be produced.
	FallbackText = "I'm having a little trouble connecting right now. Please try again in a moment."
)

// Options configures a Controller.
type Options struct {
	SystemPrompt  string
	FailurePolicy FailurePolicy

	// Temperature is the sampling temperature of the session; nil means DefaultTemperature. Zero is a valid
	// setting.
	Temperature *float32
}

// Turn identifies the two messages created by an accepted Submit.
type Turn struct {
	UserMessageID      string
	AssistantMessageID string

	done chan struct{}
}

// Done is closed once the assistant message of the turn is final.
func (t Turn) Done() <-chan struct{} {
	return t.done
}

// Controller owns the ordered message list of the conversation and drives one streamed reply at a time.
type Controller struct {
	capability  Capability
	opts        Options
	temperature float32
	logger      *slog.Logger

	now   func() time.Time
	newID func() string

	sessionMu sync.Mutex
	session   Session

	mu        sync.Mutex
	messages  []models.Message
	busy      bool
	listeners map[int]func(models.Message)
	nextLisID int
}

// NewController creates a Controller using capability for replies. An empty SystemPrompt falls back to
// DefaultSystemPrompt and a nil Temperature to DefaultTemperature.
func NewController(capability Capability, opts Options, logger *slog.Logger) *Controller {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	temperature := DefaultTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	return &Controller{
		capability:  capability,
		opts:        opts,
		temperature: temperature,
		logger:      logger.With(slog.String("module", "conversation")),
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
		listeners:   make(map[int]func(models.Message)),
	}
}

// Initialize creates the session with the capability. It does nothing when a session already exists. A
// failure is logged and returned, and leaves the controller without a session; the next Submit tries again.
func (c *Controller) Initialize(ctx context.Context) error {
	_, err := c.ensureSession(ctx)
	return err
}

func (c *Controller) ensureSession(ctx context.Context) (Session, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.session != nil {
		return c.session, nil
	}

	s, err := c.capability.CreateSession(ctx, c.opts.SystemPrompt, c.temperature)
	if err != nil {
		c.logger.Error("Failed to create chat session", slog.String(errLoggerKey, err.Error()))
		return nil, err
	}
	c.session = s
	return s, nil
}

// Submit appends the user's message and an empty streaming assistant message, then streams the reply into
// the latter in the background. Empty or whitespace-only text is rejected with ErrEmptyMessage and a
// submission while another reply is streaming is rejected with ErrBusy; rejected calls change nothing.
//
// Failures of the capability never surface as an error here: the assistant message ends with the fallback
// text instead.
func (c *Controller) Submit(ctx context.Context, text string) (Turn, error) {
	if strings.TrimSpace(text) == "" {
		return Turn{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return Turn{}, ErrBusy
	}
	c.busy = true

	now := c.now()
	um := models.Message{
		ID:        c.newID(),
		Role:      models.RoleUser,
		Text:      text,
		Timestamp: now,
	}
	am := models.Message{
		ID:        c.newID(),
		Role:      models.RoleAssistant,
		Timestamp: now,
		Streaming: true,
	}
	c.messages = append(c.messages, um, am)
	c.mu.Unlock()

	c.notify(um)
	c.notify(am)

	turn := Turn{
		UserMessageID:      um.ID,
		AssistantMessageID: am.ID,
		done:               make(chan struct{}),
	}

	// The reply outlives the request that submitted it.
	go c.reply(context.WithoutCancel(ctx), turn, am, text)

	return turn, nil
}

func (c *Controller) reply(ctx context.Context, turn Turn, am models.Message, text string) {
	defer close(turn.done)

	err := c.stream(ctx, &am, text)
	if err == nil {
		c.finish(am.Completed())
		return
	}

	c.logger.Error("Reply failed",
		slog.String("messageID", am.ID),
		slog.String(errLoggerKey, err.Error()))

	fallback := FallbackText
	if c.opts.FailurePolicy == FailurePreservePartial && am.Text != "" {
		fallback = ""
	}
	c.finish(am.FailedWith(fallback))
}

func (c *Controller) stream(ctx context.Context, am *models.Message, text string) error {
	s, err := c.ensureSession(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}

	for fragment, err := range s.Stream(ctx, text) {
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStreamFailure, err)
		}
		if fragment == "" {
			continue
		}
		*am = am.WithFragment(fragment)
		c.replace(*am)
	}
	return nil
}

// finish stores the final value of the assistant message and clears the busy flag in one step, so a listener
// seeing the final value can submit the next message.
func (c *Controller) finish(msg models.Message) {
	c.mu.Lock()
	found := c.store(msg)
	c.busy = false
	c.mu.Unlock()

	if found {
		c.notify(msg)
	}
}

// replace swaps the message with the same ID for msg and notifies listeners. A message that is no longer in
// the list, because the conversation was reset, is neither added back nor announced.
func (c *Controller) replace(msg models.Message) {
	c.mu.Lock()
	found := c.store(msg)
	c.mu.Unlock()

	if found {
		c.notify(msg)
	}
}

func (c *Controller) store(msg models.Message) bool {
	idx := slices.IndexFunc(c.messages, func(m models.Message) bool { return m.ID == msg.ID })
	if idx == -1 {
		return false
	}
	c.messages[idx] = msg
	return true
}

func (c *Controller) notify(msg models.Message) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(models.Message), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(msg)
	}
}

// Subscribe registers fn to be called with every new or changed message, in the order the changes happen.
// Calling the returned function unregisters fn; it is safe to call more than once.
func (c *Controller) Subscribe(fn func(models.Message)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextLisID
	c.nextLisID++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Messages returns a copy of the conversation in creation order.
func (c *Controller) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// Message returns the message with the given ID.
func (c *Controller) Message(id string) (models.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := slices.IndexFunc(c.messages, func(m models.Message) bool { return m.ID == id })
	if idx == -1 {
		return models.Message{}, false
	}
	return c.messages[idx], true
}

// Busy reports whether a reply is streaming.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// SeedWelcome adds the welcome message if the conversation is empty.
func (c *Controller) SeedWelcome() {
	c.mu.Lock()
	if len(c.messages) > 0 {
		c.mu.Unlock()
		return
	}
	welcome := models.Message{
		ID:        WelcomeID,
		Role:      models.RoleAssistant,
		Text:      WelcomeText,
		Timestamp: c.now(),
	}
	c.messages = append(c.messages, welcome)
	c.mu.Unlock()

	c.notify(welcome)
}

// Reset clears the visible conversation. The session, and the history the model keeps in it, stays. A reply
// still streaming keeps running until it ends, keeping the controller busy, but its message does not come
// back and its updates are not announced.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

// IsRejection reports whether err is one of the errors Submit returns for a submission it did not accept.
func IsRejection(err error) bool {
	return errors.Is(err, ErrEmptyMessage) || errors.Is(err, ErrBusy)
}
