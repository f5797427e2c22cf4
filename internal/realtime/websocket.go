package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/xerrors"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	maxFrameBytes       = 1 << 20
)

type WebSocketOptions struct {
	// URL of the change feed. http(s) is rewritten to ws(s).
	URL    string
	Header http.Header

	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// Dialer overrides the gorilla dialer, e.g. for a proxy or TLS config.
	Dialer *websocket.Dialer
}

// WebSocketDialer dials the change feed over gorilla/websocket with JSON
// text frames.
type WebSocketDialer struct {
	url          string
	header       http.Header
	writeTimeout time.Duration
	dialer       *websocket.Dialer
}

func NewWebSocketDialer(opts WebSocketOptions) (*WebSocketDialer, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, xerrors.Wrapf(err, "realtime: parse url %q", opts.URL)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, xerrors.Newf("realtime: unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, xerrors.Newf("realtime: url %q has no host", opts.URL)
	}

	d := opts.Dialer
	if d == nil {
		dt := opts.DialTimeout
		if dt <= 0 {
			dt = defaultDialTimeout
		}
		d = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: dt,
		}
	}
	wt := opts.WriteTimeout
	if wt <= 0 {
		wt = defaultWriteTimeout
	}
	return &WebSocketDialer{
		url:          u.String(),
		header:       opts.Header,
		writeTimeout: wt,
		dialer:       d,
	}, nil
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, d.url, d.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, xerrors.Wrapf(err, "realtime: dial %s: status %d", d.url, resp.StatusCode)
		}
		return nil, xerrors.Wrapf(err, "realtime: dial %s", d.url)
	}
	ws.SetReadLimit(maxFrameBytes)
	return &wsConn{ws: ws, writeTimeout: d.writeTimeout}, nil
}

type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	// gorilla allows one concurrent data writer
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) Send(ctx context.Context, f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return xerrors.Wrap(err, "realtime: encode frame")
	}
	deadline := time.Now().Add(c.writeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return xerrors.Wrapf(err, "realtime: write %s", f.Event)
	}
	return nil
}

// Receive reads the next JSON frame. A frame that is not valid JSON returns
// a *MalformedPayloadError and leaves the connection usable.
func (c *wsConn) Receive(ctx context.Context) (Frame, error) {
	var deadline time.Time
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	_ = c.ws.SetReadDeadline(deadline)

	for {
		mt, msg, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Frame{}, ctx.Err()
			}
			return Frame{}, xerrors.Wrap(err, "realtime: read")
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if len(msg) == 0 {
			continue
		}
		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			return Frame{}, &MalformedPayloadError{Event: "frame", Reason: err.Error()}
		}
		if f.Event == "" {
			return Frame{}, &MalformedPayloadError{Event: "frame", Reason: "missing event"}
		}
		return f, nil
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		// WriteControl may run alongside WriteMessage
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
