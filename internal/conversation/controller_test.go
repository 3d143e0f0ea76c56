package conversation_test

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mindfulbot/mindfulbot-web/internal/conversation"
	"github.com/mindfulbot/mindfulbot-web/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type mockCapability struct {
	mu sync.Mutex

	createErr error
	session   *mockSession

	createCalls  int
	systemPrompt string
	temperature  float32
}

type mockSession struct {
	mu sync.Mutex

	fragments []string
	err       error
	// gate, when set, holds the stream before its first fragment until it is closed.
	gate chan struct{}

	streams []string
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSubmitStreamsFragments(t *testing.T) {
	session := &mockSession{fragments: []string{"Hello", " there", "!"}}
	c := newController(&mockCapability{session: session}, conversation.Options{})

	turn, err := c.Submit(context.Background(), "I feel anxious")
	require.NoError(t, err)
	waitTurn(t, turn)

	msgs := c.Messages()
	require.Len(t, msgs, 2)

	assert.Equal(t, turn.UserMessageID, msgs[0].ID)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "I feel anxious", msgs[0].Text)
	assert.False(t, msgs[0].Streaming)

	assert.Equal(t, turn.AssistantMessageID, msgs[1].ID)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello there!", msgs[1].Text)
	assert.False(t, msgs[1].Streaming)
	assert.False(t, msgs[1].Failed)

	assert.False(t, c.Busy())
	assert.Equal(t, []string{"I feel anxious"}, session.opened())
}

func TestSubmitRejectsEmptyText(t *testing.T) {
	capability := &mockCapability{session: &mockSession{}}
	c := newController(capability, conversation.Options{})

	for _, text := range []string{"", " ", "\n\t  "} {
		_, err := c.Submit(context.Background(), text)
		require.ErrorIs(t, err, conversation.ErrEmptyMessage)
		assert.True(t, conversation.IsRejection(err))
		assert.Empty(t, c.Messages())
		assert.False(t, c.Busy())
	}
	assert.Equal(t, 0, capability.calls())
}

func TestSubmitRejectsWhileBusy(t *testing.T) {
	session := &mockSession{fragments: []string{"ok"}, gate: make(chan struct{})}
	c := newController(&mockCapability{session: session}, conversation.Options{})

	turn, err := c.Submit(context.Background(), "first")
	require.NoError(t, err)
	require.True(t, c.Busy())

	_, err = c.Submit(context.Background(), "second")
	require.ErrorIs(t, err, conversation.ErrBusy)
	assert.Len(t, c.Messages(), 2)

	close(session.gate)
	waitTurn(t, turn)

	assert.False(t, c.Busy())
	assert.Equal(t, []string{"first"}, session.opened())

	turn, err = c.Submit(context.Background(), "third")
	require.NoError(t, err)
	waitTurn(t, turn)
	assert.Len(t, c.Messages(), 4)
}

func TestSubmitStreamFailure(t *testing.T) {
	tests := []struct {
		name     string
		policy   conversation.FailurePolicy
		frags    []string
		wantText string
	}{
		{
			name:     "overwrite partial text",
			policy:   conversation.FailureOverwrite,
			frags:    []string{"I "},
			wantText: conversation.FallbackText,
		},
		{
			name:     "preserve partial text",
			policy:   conversation.FailurePreservePartial,
			frags:    []string{"I "},
			wantText: "I ",
		},
		{
			name:     "preserve without partial text",
			policy:   conversation.FailurePreservePartial,
			wantText: conversation.FallbackText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &mockSession{fragments: tt.frags, err: io.ErrUnexpectedEOF}
			c := newController(&mockCapability{session: session}, conversation.Options{FailurePolicy: tt.policy})

			turn, err := c.Submit(context.Background(), "hello")
			require.NoError(t, err)
			waitTurn(t, turn)

			msgs := c.Messages()
			require.Len(t, msgs, 2)
			assert.Equal(t, tt.wantText, msgs[1].Text)
			assert.False(t, msgs[1].Streaming)
			assert.True(t, msgs[1].Failed)
			assert.False(t, c.Busy())
		})
	}
}

func TestSubmitWithoutSession(t *testing.T) {
	capability := &mockCapability{createErr: errors.New("API_KEY is not set")}
	c := newController(capability, conversation.Options{})

	require.Error(t, c.Initialize(context.Background()))

	turn, err := c.Submit(context.Background(), "hi")
	require.NoError(t, err)
	waitTurn(t, turn)

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, conversation.FallbackText, msgs[1].Text)
	assert.True(t, msgs[1].Failed)
	assert.False(t, msgs[1].Streaming)
	assert.False(t, c.Busy())

	// A later submission tries to create the session again.
	capability.restore(&mockSession{fragments: []string{"I'm here."}})
	turn, err = c.Submit(context.Background(), "hi again")
	require.NoError(t, err)
	waitTurn(t, turn)

	msgs = c.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "I'm here.", msgs[3].Text)
	assert.Equal(t, 3, capability.calls())
}

func TestInitializeIsIdempotent(t *testing.T) {
	capability := &mockCapability{session: &mockSession{}}
	c := newController(capability, conversation.Options{})

	require.NoError(t, c.Initialize(context.Background()))
	require.NoError(t, c.Initialize(context.Background()))

	turn, err := c.Submit(context.Background(), "hi")
	require.NoError(t, err)
	waitTurn(t, turn)

	assert.Equal(t, 1, capability.calls())
	assert.Equal(t, conversation.DefaultSystemPrompt, capability.systemPrompt)
	assert.InDelta(t, conversation.DefaultTemperature, capability.temperature, 0.0001)
}

func TestSubscribeReceivesEveryFragmentInOrder(t *testing.T) {
	session := &mockSession{fragments: []string{"Hello", "", " there", "!"}}
	c := newController(&mockCapability{session: session}, conversation.Options{})

	var (
		mu      sync.Mutex
		updates []models.Message
	)
	unsubscribe := c.Subscribe(func(m models.Message) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, m)
	})
	defer unsubscribe()

	turn, err := c.Submit(context.Background(), "hey")
	require.NoError(t, err)
	waitTurn(t, turn)

	mu.Lock()
	defer mu.Unlock()

	var texts []string
	for _, u := range updates {
		if u.ID == turn.AssistantMessageID {
			texts = append(texts, u.Text)
		}
	}
	assert.Equal(t, []string{"", "Hello", "Hello there", "Hello there!", "Hello there!"}, texts)

	require.Equal(t, turn.UserMessageID, updates[0].ID)
	last := updates[len(updates)-1]
	assert.False(t, last.Streaming)
}

func TestUnsubscribedListenerIsNotCalled(t *testing.T) {
	c := newController(&mockCapability{session: &mockSession{fragments: []string{"a", "b"}}}, conversation.Options{})

	called := false
	unsubscribe := c.Subscribe(func(models.Message) { called = true })
	unsubscribe()
	unsubscribe()

	turn, err := c.Submit(context.Background(), "hey")
	require.NoError(t, err)
	waitTurn(t, turn)

	assert.False(t, called)
}

func TestSeedWelcomeAndReset(t *testing.T) {
	c := newController(&mockCapability{session: &mockSession{fragments: []string{"ok"}}}, conversation.Options{})

	c.SeedWelcome()
	c.SeedWelcome()
	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, conversation.WelcomeID, msgs[0].ID)
	assert.Equal(t, conversation.WelcomeText, msgs[0].Text)
	assert.Equal(t, models.RoleAssistant, msgs[0].Role)
	assert.False(t, msgs[0].Streaming)

	turn, err := c.Submit(context.Background(), "hello")
	require.NoError(t, err)
	waitTurn(t, turn)
	require.Len(t, c.Messages(), 3)

	c.SeedWelcome()
	assert.Len(t, c.Messages(), 3)

	c.Reset()
	assert.Empty(t, c.Messages())
}

func TestResetWhileStreaming(t *testing.T) {
	session := &mockSession{fragments: []string{"late"}, gate: make(chan struct{})}
	c := newController(&mockCapability{session: session}, conversation.Options{})

	turn, err := c.Submit(context.Background(), "hello")
	require.NoError(t, err)

	c.Reset()
	c.SeedWelcome()

	var (
		mu      sync.Mutex
		updates []models.Message
	)
	unsubscribe := c.Subscribe(func(m models.Message) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, m)
	})
	defer unsubscribe()

	require.True(t, c.Busy())
	close(session.gate)
	waitTurn(t, turn)

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, conversation.WelcomeID, msgs[0].ID)
	_, ok := c.Message(turn.AssistantMessageID)
	assert.False(t, ok)
	assert.False(t, c.Busy())

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, updates)
}

func TestFinalUpdateArrivesWhenIdle(t *testing.T) {
	session := &mockSession{fragments: []string{"ok"}}
	c := newController(&mockCapability{session: session}, conversation.Options{})

	var (
		mu       sync.Mutex
		busy     []bool
		next     conversation.Turn
		nextErr  error
		resubmit = true
	)
	unsubscribe := c.Subscribe(func(m models.Message) {
		if m.Role != models.RoleAssistant || m.Streaming {
			return
		}
		mu.Lock()
		busy = append(busy, c.Busy())
		submit := resubmit
		resubmit = false
		mu.Unlock()

		if submit {
			turn, err := c.Submit(context.Background(), "again")
			mu.Lock()
			next, nextErr = turn, err
			mu.Unlock()
		}
	})
	defer unsubscribe()

	turn, err := c.Submit(context.Background(), "hello")
	require.NoError(t, err)
	waitTurn(t, turn)

	mu.Lock()
	second, secondErr := next, nextErr
	mu.Unlock()
	require.NoError(t, secondErr)
	waitTurn(t, second)

	assert.Len(t, c.Messages(), 4)
	assert.Equal(t, []string{"hello", "again"}, session.opened())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, false}, busy)
}

func TestZeroTemperatureIsKept(t *testing.T) {
	capability := &mockCapability{session: &mockSession{}}
	var zero float32
	c := newController(capability, conversation.Options{Temperature: &zero})

	require.NoError(t, c.Initialize(context.Background()))
	assert.Zero(t, capability.temperature)
}

func TestSubmitOutlivesRequestContext(t *testing.T) {
	session := &mockSession{fragments: []string{"still here"}, gate: make(chan struct{})}
	c := newController(&mockCapability{session: session}, conversation.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	turn, err := c.Submit(ctx, "hello")
	require.NoError(t, err)
	cancel()
	close(session.gate)
	waitTurn(t, turn)

	msg, ok := c.Message(turn.AssistantMessageID)
	require.True(t, ok)
	assert.Equal(t, "still here", msg.Text)
	assert.False(t, msg.Failed)
}

func newController(capability conversation.Capability, opts conversation.Options) *conversation.Controller {
	return conversation.NewController(capability, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func waitTurn(t *testing.T, turn conversation.Turn) {
	t.Helper()
	select {
	case <-turn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("turn did not finish")
	}
}

func (m *mockCapability) CreateSession(_ context.Context, systemPrompt string, temperature float32) (conversation.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.createCalls++
	m.systemPrompt = systemPrompt
	m.temperature = temperature
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.session, nil
}

func (m *mockCapability) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

func (m *mockCapability) restore(s *mockSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = nil
	m.session = s
}

func (m *mockSession) Stream(ctx context.Context, userText string) iter.Seq2[string, error] {
	m.mu.Lock()
	m.streams = append(m.streams, userText)
	m.mu.Unlock()

	return func(yield func(string, error) bool) {
		if m.gate != nil {
			select {
			case <-m.gate:
			case <-ctx.Done():
				yield("", ctx.Err())
				return
			}
		}
		for _, f := range m.fragments {
			if !yield(f, nil) {
				return
			}
		}
		if m.err != nil {
			yield("", m.err)
		}
	}
}

func (m *mockSession) opened() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.streams...)
}
