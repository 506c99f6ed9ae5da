package assist

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voicegate/voicegate/domain/entities"
)

type fakeStream struct {
	mu       sync.Mutex
	sent     []Envelope
	blockOn  chan struct{} // non-nil makes Send block until closed
	inbound  chan Envelope
	err      error
	closedCh chan struct{}
	once     sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		inbound:  make(chan Envelope, 16),
		closedCh: make(chan struct{}),
	}
}

func (s *fakeStream) Send(env Envelope) error {
	if s.blockOn != nil && env.Event == EventAudioInput {
		<-s.blockOn
	}
	s.mu.Lock()
	s.sent = append(s.sent, env)
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Receive() <-chan Envelope { return s.inbound }
func (s *fakeStream) Err() error               { return s.err }

func (s *fakeStream) Close() error {
	s.once.Do(func() {
		close(s.closedCh)
		close(s.inbound)
	})
	return nil
}

func (s *fakeStream) sentEvents() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Envelope, len(s.sent))
	copy(out, s.sent)
	return out
}

type fakeDialer struct {
	mu     sync.Mutex
	stream *fakeStream
	dials  int
}

func (d *fakeDialer) Dial(context.Context, string) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	return d.stream, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type nopSink struct{}

func (nopSink) Play(context.Context, []byte, int, int) error { return nil }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = time.Minute
	cfg.IdleTimeout = 0
	return cfg
}

func collectStatuses() (StatusFunc, func() []Status) {
	var mu sync.Mutex
	var statuses []Status
	record := func(s Status) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	}
	snapshot := func() []Status {
		mu.Lock()
		defer mu.Unlock()
		out := make([]Status, len(statuses))
		copy(out, statuses)
		return out
	}
	return record, snapshot
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestStartWhileActiveIsNoop(t *testing.T) {
	dialer := &fakeDialer{stream: newFakeStream()}
	m := NewManager(testConfig(), dialer, nopSink{}, zap.NewNop(), nil)
	defer m.Stop(ReasonUserEnd)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dialed %d times, want 1", got)
	}
}

func TestSessionStartSentOnOpen(t *testing.T) {
	stream := newFakeStream()
	dialer := &fakeDialer{stream: stream}
	cfg := testConfig()
	cfg.SystemPrompt = "stay on topic"
	m := NewManager(cfg, dialer, nopSink{}, zap.NewNop(), nil)
	defer m.Stop(ReasonUserEnd)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sent := stream.sentEvents()
	if len(sent) == 0 || sent[0].Event != EventSessionStart {
		t.Fatalf("first envelope = %+v, want sessionStart", sent)
	}
	if sent[0].SessionStart.SystemPrompt != "stay on topic" {
		t.Errorf("system prompt = %q", sent[0].SessionStart.SystemPrompt)
	}
}

func TestIdleTimeoutEndsSession(t *testing.T) {
	stream := newFakeStream()
	dialer := &fakeDialer{stream: stream}
	cfg := testConfig()
	cfg.IdleTimeout = 500 * time.Millisecond // idle check clamps to 1s cadence

	record, snapshot := collectStatuses()
	m := NewManager(cfg, dialer, nopSink{}, zap.NewNop(), record)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		for _, st := range snapshot() {
			if st.State == entities.SessionClosed {
				return true
			}
		}
		return false
	})

	var endReason string
	for _, env := range stream.sentEvents() {
		if env.Event == EventSessionEnd {
			endReason = env.SessionEnd.Reason
		}
	}
	if endReason != ReasonTimeout {
		t.Errorf("session end reason = %q, want %q", endReason, ReasonTimeout)
	}
	if m.IsActive() {
		t.Error("manager still active after idle timeout")
	}
}

func TestRemoteEndClosesSession(t *testing.T) {
	stream := newFakeStream()
	dialer := &fakeDialer{stream: stream}
	record, snapshot := collectStatuses()
	m := NewManager(testConfig(), dialer, nopSink{}, zap.NewNop(), record)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stream.inbound <- NewSessionEnd("x", ReasonRemoteEnd)

	waitFor(t, 2*time.Second, func() bool { return !m.IsActive() })

	closed := 0
	for _, st := range snapshot() {
		if st.State == entities.SessionClosed {
			closed++
		}
	}
	if closed != 1 {
		t.Errorf("closed status published %d times, want exactly 1", closed)
	}
}

func TestClosedNotificationFiresOnce(t *testing.T) {
	stream := newFakeStream()
	dialer := &fakeDialer{stream: stream}
	record, snapshot := collectStatuses()
	m := NewManager(testConfig(), dialer, nopSink{}, zap.NewNop(), record)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Local stop and remote death race each other.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.Stop(ReasonUserEnd)
	}()
	go func() {
		defer wg.Done()
		stream.Close()
	}()
	wg.Wait()

	waitFor(t, 2*time.Second, func() bool { return !m.IsActive() })
	time.Sleep(100 * time.Millisecond)

	closed := 0
	for _, st := range snapshot() {
		if st.State == entities.SessionClosed {
			closed++
		}
	}
	if closed != 1 {
		t.Errorf("closed status published %d times, want exactly 1", closed)
	}
}

func TestFrameQueueDropsOldestAndDegradesLink(t *testing.T) {
	stream := newFakeStream()
	stream.blockOn = make(chan struct{})
	dialer := &fakeDialer{stream: stream}
	cfg := testConfig()
	cfg.QueueDepth = 3

	record, snapshot := collectStatuses()
	m := NewManager(cfg, dialer, nopSink{}, zap.NewNop(), record)
	defer func() {
		close(stream.blockOn)
		m.Stop(ReasonUserEnd)
	}()

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	frame := entities.AudioFrame{Samples: make([]int16, 160), Timestamp: time.Now()}
	// One frame occupies the blocked sender, three fill the queue, the
	// rest force drops.
	for i := 0; i < 8; i++ {
		m.OnFrame(frame)
	}

	waitFor(t, 2*time.Second, func() bool {
		for _, st := range snapshot() {
			if st.Link == entities.LinkDegraded {
				return true
			}
		}
		return false
	})
}

func TestTextOutputUpdatesStatus(t *testing.T) {
	stream := newFakeStream()
	dialer := &fakeDialer{stream: stream}
	record, snapshot := collectStatuses()
	m := NewManager(testConfig(), dialer, nopSink{}, zap.NewNop(), record)
	defer m.Stop(ReasonUserEnd)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stream.inbound <- Envelope{
		Event:      EventTextOutput,
		TextOutput: &TextOutputEvent{Content: "hello from the other side"},
	}

	waitFor(t, 2*time.Second, func() bool {
		for _, st := range snapshot() {
			if st.Message == "hello from the other side" {
				return true
			}
		}
		return false
	})
}

// gateSink blocks each render until its context is cancelled, reporting
// when a chunk starts playing and how each render ended.
type gateSink struct {
	entered chan byte // first byte of the chunk being rendered
	ended   chan error
}

func newGateSink() *gateSink {
	return &gateSink{
		entered: make(chan byte, 8),
		ended:   make(chan error, 8),
	}
}

func (g *gateSink) Play(ctx context.Context, pcm []byte, sampleRate, channels int) error {
	var tag byte
	if len(pcm) > 0 {
		tag = pcm[0]
	}
	g.entered <- tag
	<-ctx.Done()
	g.ended <- ctx.Err()
	return ctx.Err()
}

func audioOutputEnvelope(pcm []byte) Envelope {
	return Envelope{
		Event: EventAudioOutput,
		AudioOutput: &AudioOutputEvent{
			Content: base64.StdEncoding.EncodeToString(pcm),
		},
	}
}

func TestContentEndClearsSpeaking(t *testing.T) {
	stream := newFakeStream()
	dialer := &fakeDialer{stream: stream}
	sink := newGateSink()
	m := NewManager(testConfig(), dialer, sink, zap.NewNop(), nil)
	defer m.Stop(ReasonUserEnd)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stream.inbound <- audioOutputEnvelope([]byte{1, 0})
	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("playback never started")
	}
	if !m.Status().Speaking {
		t.Fatal("not speaking while a chunk is rendering")
	}

	// The turn boundary must clear the flag immediately, not when the
	// render drains.
	stream.inbound <- Envelope{Event: EventContentEnd, ContentEnd: &ContentEndEvent{}}
	waitFor(t, 2*time.Second, func() bool { return !m.Status().Speaking })

	select {
	case err := <-sink.ended:
		if err == nil {
			t.Error("render finished without cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Error("render not cancelled by content end")
	}
}

func TestNewChunkReplacesRenderInFlight(t *testing.T) {
	stream := newFakeStream()
	dialer := &fakeDialer{stream: stream}
	sink := newGateSink()
	m := NewManager(testConfig(), dialer, sink, zap.NewNop(), nil)
	defer m.Stop(ReasonUserEnd)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stream.inbound <- audioOutputEnvelope([]byte{1, 0})
	select {
	case tag := <-sink.entered:
		if tag != 1 {
			t.Fatalf("first render = chunk %d, want 1", tag)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first chunk never rendered")
	}

	stream.inbound <- audioOutputEnvelope([]byte{2, 0})
	select {
	case err := <-sink.ended:
		if err == nil {
			t.Error("first render finished without cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first render not cancelled by the second chunk")
	}
	select {
	case tag := <-sink.entered:
		if tag != 2 {
			t.Fatalf("second render = chunk %d, want 2", tag)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second chunk never rendered")
	}
	if !m.Status().Speaking {
		t.Error("not speaking while the replacement chunk is rendering")
	}
}

func TestZeroHeartbeatIntervalDisablesHeartbeat(t *testing.T) {
	stream := newFakeStream()
	dialer := &fakeDialer{stream: stream}
	cfg := testConfig()
	cfg.HeartbeatInterval = 0

	m := NewManager(cfg, dialer, nopSink{}, zap.NewNop(), nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	for _, env := range stream.sentEvents() {
		if env.Event == EventSessionHeartbeat {
			t.Error("heartbeat sent with heartbeats disabled")
		}
	}

	m.Stop(ReasonUserEnd)
	waitFor(t, 2*time.Second, func() bool { return !m.IsActive() })
}

func TestOnFrameWithoutSessionIsNoop(t *testing.T) {
	m := NewManager(testConfig(), &fakeDialer{stream: newFakeStream()}, nopSink{}, zap.NewNop(), nil)
	m.OnFrame(entities.AudioFrame{Samples: make([]int16, 160)})
	if m.IsActive() {
		t.Error("frame delivery activated a session")
	}
}
