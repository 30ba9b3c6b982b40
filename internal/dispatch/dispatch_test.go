package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/revurb-io/revurb/internal/app"
	"github.com/revurb-io/revurb/internal/channel"
	"github.com/revurb-io/revurb/internal/metrics"
	"github.com/revurb-io/revurb/internal/pubsub"
)

type fakeBus struct {
	mu         sync.Mutex
	published  [][]byte
	recipients int64
}

func (b *fakeBus) Publish(_ context.Context, _ string, payload []byte) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, payload)
	return b.recipients, nil
}

func (b *fakeBus) Subscribe(ctx context.Context, _ string, _ func([]byte)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) envelopes(t *testing.T) []pubsub.Envelope {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]pubsub.Envelope, 0, len(b.published))
	for _, raw := range b.published {
		env, err := pubsub.DecodeEnvelope(raw)
		if err != nil {
			t.Fatalf("published payload does not decode: %v", err)
		}
		out = append(out, env)
	}
	return out
}

type fakeLocator struct {
	managers map[string]*channel.Manager
}

func (l *fakeLocator) ChannelManager(appID string) *channel.Manager {
	return l.managers[appID]
}

type fakeTerminator struct {
	mu     sync.Mutex
	calls  []string
	closed int
}

func (f *fakeTerminator) Terminate(appID, userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, appID+"/"+userID)
	return f.closed
}

type fakeSubscriber struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
}

func (s *fakeSubscriber) ID() string { return s.id }

func (s *fakeSubscriber) Send(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, payload)
}

func (s *fakeSubscriber) received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func testApp() *app.Application {
	a := &app.Application{ID: "1", Key: "key", Secret: "secret"}
	a.ApplyDefaults()
	return a
}

func newTestDispatcher(t *testing.T, bus pubsub.Bus) (*Dispatcher, *channel.Manager, *fakeTerminator) {
	t.Helper()
	mgr := channel.NewManager(testApp(), zerolog.Nop())
	locator := &fakeLocator{managers: map[string]*channel.Manager{"1": mgr}}
	terminator := &fakeTerminator{closed: 2}
	collectors := metrics.NewCollectors(prometheus.NewRegistry())
	d := NewDispatcher("node-a", locator, terminator, bus, "revurb", collectors, zerolog.Nop())
	return d, mgr, terminator
}

func TestTriggerDeliversLocallyAndMirrors(t *testing.T) {
	t.Parallel()

	bus := &fakeBus{recipients: 3}
	d, mgr, _ := newTestDispatcher(t, bus)

	member := &fakeSubscriber{id: "1.1"}
	if err := mgr.Subscribe(member, "room", "", ""); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	before := member.received()

	if err := d.Trigger(context.Background(), "1", "room", []byte(`{"event":"news"}`), ""); err != nil {
		t.Fatalf("Trigger() error: %v", err)
	}
	if member.received() != before+1 {
		t.Error("local member did not receive the broadcast")
	}

	envs := bus.envelopes(t)
	if len(envs) != 1 {
		t.Fatalf("published %d envelopes, want 1", len(envs))
	}
	env := envs[0]
	if env.Type != pubsub.TypeMessage || env.NodeID != "node-a" || env.ApplicationID != "1" ||
		env.Channel != "room" || env.Internal {
		t.Errorf("mirror envelope = %+v", env)
	}
}

func TestTriggerExcludesSocket(t *testing.T) {
	t.Parallel()

	d, mgr, _ := newTestDispatcher(t, nil)

	sender := &fakeSubscriber{id: "1.1"}
	other := &fakeSubscriber{id: "1.2"}
	for _, s := range []*fakeSubscriber{sender, other} {
		if err := mgr.Subscribe(s, "room", "", ""); err != nil {
			t.Fatalf("Subscribe() error: %v", err)
		}
	}
	senderBefore, otherBefore := sender.received(), other.received()

	if err := d.Trigger(context.Background(), "1", "room", []byte(`{}`), "1.1"); err != nil {
		t.Fatalf("Trigger() error: %v", err)
	}
	if sender.received() != senderBefore {
		t.Error("excluded socket received the broadcast")
	}
	if other.received() != otherBefore+1 {
		t.Error("other member did not receive the broadcast")
	}
}

func TestTriggerInternallySkipsCache(t *testing.T) {
	t.Parallel()

	bus := &fakeBus{recipients: 1}
	d, mgr, _ := newTestDispatcher(t, bus)

	member := &fakeSubscriber{id: "1.1"}
	if err := mgr.Subscribe(member, "cache-room", "", ""); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	if err := d.TriggerInternally(context.Background(), "1", "cache-room", []byte(`{}`), ""); err != nil {
		t.Fatalf("TriggerInternally() error: %v", err)
	}

	cacher := mgr.Find("cache-room").(channel.Cacher)
	if cacher.HasCachedPayload() {
		t.Error("internal broadcast must not populate the channel cache")
	}

	envs := bus.envelopes(t)
	if len(envs) != 1 || !envs[0].Internal {
		t.Errorf("mirror envelope = %+v, want Internal", envs)
	}
}

func TestTriggerUnoccupiedChannelStillMirrors(t *testing.T) {
	t.Parallel()

	bus := &fakeBus{recipients: 1}
	d, _, _ := newTestDispatcher(t, bus)

	// Nothing is subscribed anywhere; peers may still hold members.
	if err := d.Trigger(context.Background(), "1", "empty", []byte(`{}`), ""); err != nil {
		t.Fatalf("Trigger() error: %v", err)
	}
	if err := d.Trigger(context.Background(), "unknown-app", "empty", []byte(`{}`), ""); err != nil {
		t.Fatalf("Trigger() for unknown app error: %v", err)
	}
	if got := len(bus.envelopes(t)); got != 2 {
		t.Errorf("published %d envelopes, want 2", got)
	}
}

func TestTerminate(t *testing.T) {
	t.Parallel()

	bus := &fakeBus{recipients: 1}
	d, _, terminator := newTestDispatcher(t, bus)

	closed, err := d.Terminate(context.Background(), "1", "u-1")
	if err != nil {
		t.Fatalf("Terminate() error: %v", err)
	}
	if closed != 2 {
		t.Errorf("closed = %d, want 2", closed)
	}
	if len(terminator.calls) != 1 || terminator.calls[0] != "1/u-1" {
		t.Errorf("terminator calls = %v", terminator.calls)
	}

	envs := bus.envelopes(t)
	if len(envs) != 1 {
		t.Fatalf("published %d envelopes, want 1", len(envs))
	}
	if envs[0].Type != pubsub.TypeTerminate || envs[0].UserID != "u-1" || envs[0].NodeID != "node-a" {
		t.Errorf("terminate envelope = %+v", envs[0])
	}
}

func TestTerminateWithNilBus(t *testing.T) {
	t.Parallel()

	d, _, terminator := newTestDispatcher(t, nil)

	closed, err := d.Terminate(context.Background(), "1", "u-1")
	if err != nil {
		t.Fatalf("Terminate() error: %v", err)
	}
	if closed != 2 || len(terminator.calls) != 1 {
		t.Errorf("closed = %d, calls = %v", closed, terminator.calls)
	}
}
