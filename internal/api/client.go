package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/content"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/xerrors"
)

const (
	DefaultTimeout           = 30 * time.Second
	DefaultRequestsPerSecond = 20
	DefaultBurst             = 10

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 16 << 20
)

type Options struct {
	// BaseURL is the CMS origin, e.g. https://cms.example.com
	BaseURL string

	// HTTPClient overrides the default client. Its transport is used as is,
	// callers wanting tracing should wrap it themselves.
	HTTPClient *http.Client

	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
	Logger            log.Logger
}

// Credentials identify the project for data calls.
type Credentials struct {
	ProjectID string
	Token     string
}

type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	ua      string
	logger  log.Logger
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, xerrors.New("api: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, xerrors.Wrapf(err, "api: parse base URL %q", opts.BaseURL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, xerrors.Newf("api: base URL must be http or https, got %q", base.Scheme)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{
			Transport: otelx.Transport(nil),
			Timeout:   timeout,
		}
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = "contentsync"
	}

	return &Client{
		base:    base,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		ua:      ua,
		logger:  log.OrNop(opts.Logger),
	}, nil
}

// Authenticate exchanges the project credentials for a bearer token.
// Non-2xx responses return a *StatusError. A 2xx body with success false is
// returned as is for the caller to judge.
func (c *Client) Authenticate(ctx context.Context, req AuthRequest) (*AuthResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, xerrors.Wrap(err, "api: encode auth request")
	}
	status, raw, err := c.do(ctx, http.MethodPost, "/api/sdk/auth", "", body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &StatusError{Status: status, Message: errorMessage(raw)}
	}
	var out AuthResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, xerrors.Wrap(err, "api: decode auth response")
	}
	return &out, nil
}

// FetchTab returns key -> language -> value for one tab. A 404 means the tab
// has no content and yields an empty map.
func (c *Client) FetchTab(ctx context.Context, cr Credentials, tab string) (content.Translations, error) {
	scope := "tab:" + tab
	var p tabPayload
	found, err := c.getJSON(ctx, scope, cr.Token, pathJoin("api", "sdk", "translations", cr.ProjectID, tab), true, &p)
	if err != nil {
		return nil, err
	}
	out := make(content.Translations, len(p.Keys))
	if !found {
		return out, nil
	}
	for _, k := range p.Keys {
		if k.Key == "" || len(k.Values) == 0 {
			continue
		}
		vals := make(map[string]string, len(k.Values))
		for lang, v := range k.Values {
			vals[lang] = v
		}
		out[k.Key] = vals
	}
	return out, nil
}

func (c *Client) FetchColors(ctx context.Context, cr Credentials) (map[string]string, error) {
	var items []colorItem
	if _, err := c.getJSON(ctx, "colors", cr.Token, pathJoin("api", "sdk", "colors", cr.ProjectID), false, &items); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(items))
	for _, it := range items {
		if it.Key == "" {
			continue
		}
		if hex, ok := decodeColor(it.Value); ok {
			out[it.Key] = hex
		}
	}
	return out, nil
}

func (c *Client) FetchImages(ctx context.Context, cr Credentials) (map[string]string, error) {
	var items []imageItem
	if _, err := c.getJSON(ctx, "images", cr.Token, pathJoin("api", "sdk", "images", cr.ProjectID), false, &items); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(items))
	for _, it := range items {
		if it.Key == "" || it.URL == "" {
			continue
		}
		out[it.Key] = it.URL
	}
	return out, nil
}

// FetchStore returns the records of a data store in server order.
func (c *Client) FetchStore(ctx context.Context, cr Credentials, apiIdentifier string) ([]content.Record, error) {
	var p storePayload
	if _, err := c.getJSON(ctx, "store:"+apiIdentifier, cr.Token, pathJoin("api", "sdk", "store", cr.ProjectID, apiIdentifier), false, &p); err != nil {
		return nil, err
	}
	if p.Items == nil {
		return []content.Record{}, nil
	}
	return p.Items, nil
}

// Prefetch issues a GET for an asset URL and discards the body so upstream
// caches are warm. It bypasses the CMS rate limiter.
func (c *Client) Prefetch(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return xerrors.Wrapf(err, "api: build prefetch request for %q", rawURL)
	}
	req.Header.Set("User-Agent", c.ua)
	resp, err := c.http.Do(req)
	if err != nil {
		return xerrors.Wrapf(err, "api: prefetch %q", rawURL)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return xerrors.Newf("api: prefetch %q: status %d", rawURL, resp.StatusCode)
	}
	return nil
}

// getJSON performs an authenticated GET and decodes into v. With allow404 a
// 404 reports found=false instead of an error.
func (c *Client) getJSON(ctx context.Context, scope, token, p string, allow404 bool, v any) (found bool, err error) {
	status, raw, err := c.do(ctx, http.MethodGet, p, token, nil)
	if err != nil {
		return false, &FetchError{Scope: scope, Err: err}
	}
	if status == http.StatusNotFound && allow404 {
		return false, nil
	}
	if status < 200 || status > 299 {
		return false, &FetchError{Scope: scope, Status: status, Err: xerrors.New(errorMessage(raw))}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return true, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, &FetchError{Scope: scope, Status: status, Err: xerrors.Wrap(err, "decode body")}
	}
	return true, nil
}

func (c *Client) do(ctx context.Context, method, p, token string, body []byte) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, xerrors.Wrap(err, "api: rate limiter")
	}

	u := strings.TrimRight(c.base.String(), "/") + "/" + strings.TrimLeft(p, "/")

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return 0, nil, xerrors.Wrapf(err, "api: build %s %s", method, p)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.ua)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, xerrors.Wrapf(err, "api: %s %s", method, p)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, xerrors.Wrapf(err, "api: read %s %s", method, p)
	}

	c.logger.Debug(ctx, "api request",
		"method", method,
		"path", p,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp.StatusCode, raw, nil
}

// pathJoin escapes each segment so tab and store names with slashes or
// spaces stay a single path element.
func pathJoin(segs ...string) string {
	esc := make([]string, len(segs))
	for i, s := range segs {
		esc[i] = url.PathEscape(s)
	}
	return "/" + strings.Join(esc, "/")
}

// errorMessage pulls a message out of a JSON error body, falling back to the
// trimmed body text.
func errorMessage(raw []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return msg
}
