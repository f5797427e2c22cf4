package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/syncer"
)

var errDial = errors.New("connection refused")

// fakeConn is one in-memory connection. The test plays the server through
// in (to client) and out (from client).
type fakeConn struct {
	in     chan Frame
	out    chan Frame
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan Frame, 16),
		out:    make(chan Frame, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Send(ctx context.Context, f Frame) error {
	select {
	case c.out <- f:
		return nil
	case <-c.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

// malformedEvent makes Receive return a *MalformedPayloadError.
const malformedEvent = "__malformed__"

func (c *fakeConn) Receive(ctx context.Context) (Frame, error) {
	select {
	case f := <-c.in:
		if f.Event == malformedEvent {
			return Frame{}, &MalformedPayloadError{Event: "frame", Reason: "bad json"}
		}
		return f, nil
	case <-c.closed:
		return Frame{}, io.EOF
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	conns    chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	d.dials++
	if d.failures > 0 {
		d.failures--
		d.mu.Unlock()
		return nil, errDial
	}
	d.mu.Unlock()
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

type syncCall struct {
	all    bool
	kind   syncer.Kind
	name   string
	reason syncer.Reason
}

type fakeSyncer struct {
	calls chan syncCall
}

func newFakeSyncer() *fakeSyncer { return &fakeSyncer{calls: make(chan syncCall, 64)} }

func (s *fakeSyncer) RefreshSubscribed(_ context.Context, reason syncer.Reason) {
	s.calls <- syncCall{all: true, reason: reason}
}

func (s *fakeSyncer) RefreshScope(_ context.Context, kind syncer.Kind, name string, reason syncer.Reason) bool {
	s.calls <- syncCall{kind: kind, name: name, reason: reason}
	return true
}

func (s *fakeSyncer) next(t *testing.T) syncCall {
	t.Helper()
	select {
	case c := <-s.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sync call")
		return syncCall{}
	}
}

func (s *fakeSyncer) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case c := <-s.calls:
		t.Fatalf("unexpected sync call %+v", c)
	case <-time.After(wait):
	}
}

func recvFrame(t *testing.T, c *fakeConn) Frame {
	t.Helper()
	select {
	case f := <-c.out:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return Frame{}
	}
}

func frame(t *testing.T, event string, data any) Frame {
	t.Helper()
	f := Frame{Event: event}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			t.Fatal(err)
		}
		f.Data = b
	}
	return f
}

func waitState(t *testing.T, ch *Channel, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for ch.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", ch.State(), want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type fakeMetrics struct {
	mu         sync.Mutex
	states     []string
	reconnects int
	events     map[string]int
	malformed  int
	handshakes map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{events: map[string]int{}, handshakes: map[string]int{}}
}

func (m *fakeMetrics) SetRealtimeState(s string) {
	m.mu.Lock()
	m.states = append(m.states, s)
	m.mu.Unlock()
}
func (m *fakeMetrics) IncRealtimeReconnect() {
	m.mu.Lock()
	m.reconnects++
	m.mu.Unlock()
}
func (m *fakeMetrics) IncRealtimeEvent(e string) {
	m.mu.Lock()
	m.events[e]++
	m.mu.Unlock()
}
func (m *fakeMetrics) IncRealtimeMalformed() {
	m.mu.Lock()
	m.malformed++
	m.mu.Unlock()
}
func (m *fakeMetrics) IncHandshake(outcome string) {
	m.mu.Lock()
	m.handshakes[outcome]++
	m.mu.Unlock()
}
func (m *fakeMetrics) handshakeCount(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handshakes[outcome]
}
