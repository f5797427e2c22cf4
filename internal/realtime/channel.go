package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/syncer"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/xerrors"
)

const (
	DefaultBaseBackoff      = time.Second
	DefaultMaxBackoff       = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second

	// maxQueued bounds pending change work; beyond it the queue collapses
	// into one refresh of everything subscribed.
	maxQueued = 64
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshakePending
	StateLive
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshakePending:
		return "handshake_pending"
	case StateLive:
		return "live"
	default:
		return "unknown"
	}
}

// Syncer is what change events drive.
type Syncer interface {
	RefreshSubscribed(ctx context.Context, reason syncer.Reason)
	RefreshScope(ctx context.Context, kind syncer.Kind, name string, reason syncer.Reason) bool
}

// Metrics is implemented by the metrics package to observe the channel.
type Metrics interface {
	SetRealtimeState(state string)
	IncRealtimeReconnect()
	IncRealtimeEvent(event string)
	IncRealtimeMalformed()
	IncHandshake(outcome string)
}

type Options struct {
	ProjectID     string
	ProjectSecret string
	Dialer        Dialer
	Syncer        Syncer
	Logger        log.Logger
	Metrics       Metrics

	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	HandshakeTimeout time.Duration

	// Rand and Now are overridable for tests.
	Rand io.Reader
	Now  func() time.Time
}

// Channel owns one logical realtime session across reconnects.
type Channel struct {
	projectID string
	secret    string
	dialer    Dialer
	syncer    Syncer
	logger    log.Logger
	metrics   Metrics

	base             time.Duration
	max              time.Duration
	handshakeTimeout time.Duration
	rand             io.Reader
	now              func() time.Time

	state atomic.Int32

	queue *workQueue

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

var errCryptoSkip = errors.New("realtime: handshake unavailable, channel disabled")

func New(opts Options) (*Channel, error) {
	if opts.Dialer == nil || opts.Syncer == nil {
		return nil, xerrors.New("realtime: Dialer and Syncer are required")
	}
	if opts.ProjectID == "" || opts.ProjectSecret == "" {
		return nil, xerrors.New("realtime: project id and secret are required")
	}
	base := opts.BaseBackoff
	if base <= 0 {
		base = DefaultBaseBackoff
	}
	maxB := opts.MaxBackoff
	if maxB <= 0 {
		maxB = DefaultMaxBackoff
	}
	if maxB < base {
		maxB = base
	}
	ht := opts.HandshakeTimeout
	if ht <= 0 {
		ht = DefaultHandshakeTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := log.OrNop(opts.Logger).With("component", "realtime", "project_id", opts.ProjectID)
	return &Channel{
		projectID:        opts.ProjectID,
		secret:           opts.ProjectSecret,
		dialer:           opts.Dialer,
		syncer:           opts.Syncer,
		logger:           logger,
		metrics:          opts.Metrics,
		base:             base,
		max:              maxB,
		handshakeTimeout: ht,
		rand:             opts.Rand,
		now:              now,
		queue:            newWorkQueue(),
	}, nil
}

func (c *Channel) State() State { return State(c.state.Load()) }

// Live reports whether the current connection completed the handshake.
func (c *Channel) Live() bool { return c.State() == StateLive }

func (c *Channel) setState(ctx context.Context, s State) {
	old := State(c.state.Swap(int32(s)))
	if old == s {
		return
	}
	if c.metrics != nil {
		c.metrics.SetRealtimeState(s.String())
	}
	c.logger.Debug(ctx, "realtime: state change", "from", old.String(), "to", s.String())
}

// Start launches the connection loop and the change worker. It is a no-op
// if already started.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.run(ctx)
	}()
	go func() {
		defer wg.Done()
		c.work(ctx)
	}()
	go func() {
		wg.Wait()
		close(c.done)
	}()
}

// Close tears the channel down and waits for its goroutines.
func (c *Channel) Close() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// run is the reconnect loop.
func (c *Channel) run(ctx context.Context) {
	defer c.setState(ctx, StateDisconnected)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		reachedLive, err := c.connectOnce(ctx)
		if errors.Is(err, errCryptoSkip) {
			return
		}
		c.setState(ctx, StateDisconnected)
		if ctx.Err() != nil {
			return
		}
		if reachedLive {
			attempt = 0
		}
		attempt++
		wait := c.backoff(attempt)
		c.logger.Warn(ctx, "realtime: disconnected, reconnecting",
			"error", err,
			"attempt", attempt,
			"retry_in", wait.String(),
		)
		if c.metrics != nil {
			c.metrics.IncRealtimeReconnect()
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// backoff returns base*2^(attempt-1) capped at max.
func (c *Channel) backoff(attempt int) time.Duration {
	d := c.base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.max {
			return c.max
		}
	}
	if d > c.max {
		d = c.max
	}
	return d
}

// connectOnce runs one connection from dial to teardown and reports whether
// it reached Live.
func (c *Channel) connectOnce(ctx context.Context) (reachedLive bool, err error) {
	connID := ulid.Make().String()
	logger := c.logger.With("conn_id", connID)

	c.setState(ctx, StateConnecting)
	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c.setState(ctx, StateHandshakePending)
	payload, err := BuildHandshake(c.projectID, c.secret, c.now(), c.rand)
	if err != nil {
		if errors.Is(err, cryptoutil.ErrCryptoUnavailable) {
			logger.Error(ctx, err, "realtime: handshake unavailable on this host, continuing without live updates")
			if c.metrics != nil {
				c.metrics.IncHandshake("unavailable")
			}
			return false, errCryptoSkip
		}
		return false, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return false, xerrors.Wrap(err, "realtime: encode handshake payload")
	}
	if err := conn.Send(ctx, Frame{Event: EventHandshake, Data: data}); err != nil {
		return false, err
	}

	if err := c.awaitAck(ctx, conn, logger); err != nil {
		return false, err
	}

	c.setState(ctx, StateLive)
	if c.metrics != nil {
		c.metrics.IncHandshake("ok")
	}
	logger.Info(ctx, "realtime: live")
	// catch up on anything missed while disconnected
	c.queue.push(work{all: true, reason: syncer.ReasonReconnect})

	for {
		f, err := conn.Receive(ctx)
		if err != nil {
			var mp *MalformedPayloadError
			if errors.As(err, &mp) {
				c.malformed(ctx, logger, mp)
				continue
			}
			return true, err
		}
		c.dispatch(ctx, logger, f)
	}
}

// awaitAck reads until handshake_ack, handshake_error or the timeout.
// Change events before the ack are not yet authorized and are dropped.
func (c *Channel) awaitAck(ctx context.Context, conn Conn, logger log.Logger) error {
	hctx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()
	for {
		f, err := conn.Receive(hctx)
		if err != nil {
			var mp *MalformedPayloadError
			if errors.As(err, &mp) {
				c.malformed(ctx, logger, mp)
				continue
			}
			if hctx.Err() != nil && ctx.Err() == nil {
				if c.metrics != nil {
					c.metrics.IncHandshake("timeout")
				}
				return xerrors.Newf("realtime: no handshake ack within %s", c.handshakeTimeout)
			}
			return err
		}
		switch f.Event {
		case EventHandshakeAck:
			return nil
		case EventHandshakeError:
			err := xerrors.Newf("realtime: handshake rejected: %s", handshakeErrorMessage(f))
			logger.Error(ctx, err, "realtime: handshake failed, dropping connection")
			if c.metrics != nil {
				c.metrics.IncHandshake("rejected")
			}
			return err
		default:
			logger.Debug(ctx, "realtime: ignoring event before handshake ack", "event", f.Event)
		}
	}
}

func (c *Channel) dispatch(ctx context.Context, logger log.Logger, f Frame) {
	if c.metrics != nil {
		c.metrics.IncRealtimeEvent(f.Event)
	}
	switch f.Event {
	case EventContentChanged:
		scope, err := parseContentChanged(f)
		if err != nil {
			c.malformed(ctx, logger, err)
			return
		}
		switch scope {
		case ScopeAll:
			c.queue.push(work{all: true, reason: syncer.ReasonRealtime})
		case ScopeColors:
			c.queue.push(work{kind: syncer.KindColors, reason: syncer.ReasonRealtime})
		case ScopeImages:
			c.queue.push(work{kind: syncer.KindImages, reason: syncer.ReasonRealtime})
		default:
			c.queue.push(work{kind: syncer.KindTab, name: scope, reason: syncer.ReasonRealtime})
		}
	case EventStoreChanged:
		id, err := parseStoreChanged(f)
		if err != nil {
			c.malformed(ctx, logger, err)
			return
		}
		c.queue.push(work{kind: syncer.KindStore, name: id, reason: syncer.ReasonRealtime})
	case EventHandshakeAck:
		// duplicate ack, already live
	case EventHandshakeError:
		logger.Warn(ctx, "realtime: handshake_error while live", "message", handshakeErrorMessage(f))
	default:
		logger.Debug(ctx, "realtime: ignoring unknown event", "event", f.Event)
	}
}

func (c *Channel) malformed(ctx context.Context, logger log.Logger, err error) {
	if c.metrics != nil {
		c.metrics.IncRealtimeMalformed()
	}
	logger.Warn(ctx, "realtime: dropping malformed message", "error", err)
}

// work drains the queue on one goroutine so changes apply in arrival order
// without blocking the receive loop.
func (c *Channel) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.queue.signal:
		}
		for _, w := range c.queue.drain() {
			if ctx.Err() != nil {
				return
			}
			if w.all {
				c.syncer.RefreshSubscribed(ctx, w.reason)
				continue
			}
			c.syncer.RefreshScope(ctx, w.kind, w.name, w.reason)
		}
	}
}

type work struct {
	all    bool
	kind   syncer.Kind
	name   string
	reason syncer.Reason
}

// workQueue is an unbounded-looking queue that collapses to a single
// refresh-all item once it grows past maxQueued.
type workQueue struct {
	mu     sync.Mutex
	items  []work
	signal chan struct{}
}

func newWorkQueue() *workQueue {
	return &workQueue{signal: make(chan struct{}, 1)}
}

func (q *workQueue) push(w work) {
	q.mu.Lock()
	switch {
	case len(q.items) >= maxQueued:
		q.items = []work{{all: true, reason: w.reason}}
	default:
		dup := false
		for _, it := range q.items {
			if it == w {
				dup = true
				break
			}
		}
		if !dup {
			q.items = append(q.items, w)
		}
	}
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *workQueue) drain() []work {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
