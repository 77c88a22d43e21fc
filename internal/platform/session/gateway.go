package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/net/publicsuffix"

	"github.com/posterparlor/storefront/internal/platform/idempotency"
	"github.com/posterparlor/storefront/internal/platform/observability"
	"github.com/posterparlor/storefront/internal/platform/requestctx"
)

const (
	// DefaultRefreshPath is the endpoint that rotates the session cookie.
	DefaultRefreshPath = "/auth/google/refresh"
	// DefaultRefreshLinger keeps a settled refresh joinable for a short window.
	DefaultRefreshLinger = 100 * time.Millisecond

	requestIDHeader = "X-Request-ID"
	maxResponseBody = 8 << 20
)

var (
	// ErrAuthExpired reports that the session could not be refreshed.
	ErrAuthExpired = errors.New("session: authentication expired")
	// ErrRefreshRejected is returned by a refresh attempt the backend did not accept.
	ErrRefreshRejected = errors.New("session: refresh rejected")
)

// Request is a backend call. Body is sent verbatim, so a replay is byte-identical.
type Request struct {
	Method         string
	Path           string
	Query          url.Values
	Body           []byte
	Header         http.Header
	IdempotencyKey string
}

// Response is a fully read backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Deps bundles the collaborators required by Gateway.
type Deps struct {
	BaseURL           string
	Client            *http.Client
	RefreshPath       string
	RefreshLinger     time.Duration
	IdempotencyHeader string
	Logger            func(context.Context, string, map[string]any)
	// OnSessionCleared is invoked whenever the gateway gives up on the session.
	OnSessionCleared func(context.Context)
}

// Gateway issues authenticated backend requests and transparently refreshes the
// session cookie on 401, with at most one refresh in flight.
type Gateway struct {
	base          *url.URL
	client        *http.Client
	refreshPath   string
	linger        time.Duration
	idemHeader    string
	logger        func(context.Context, string, map[string]any)
	onCleared     func(context.Context)
	refreshCount  metric.Int64Counter
	refreshFailed metric.Int64Counter
	replayCount   metric.Int64Counter

	mu       sync.Mutex
	inflight *refreshCall
	sticky   bool
	epoch    uint64
}

type refreshCall struct {
	done chan struct{}
	err  error
}

// New constructs a Gateway. A cookie jar is attached when the client has none.
func New(deps Deps) (*Gateway, error) {
	base := strings.TrimSpace(deps.BaseURL)
	if base == "" {
		return nil, errors.New("session: base URL is required")
	}
	parsed, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("session: parse base URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("session: base URL %q must be absolute", base)
	}

	client := deps.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if client.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("session: cookie jar: %w", err)
		}
		clone := *client
		clone.Jar = jar
		client = &clone
	}

	refreshPath := strings.TrimSpace(deps.RefreshPath)
	if refreshPath == "" {
		refreshPath = DefaultRefreshPath
	}
	linger := deps.RefreshLinger
	if linger < 0 {
		linger = 0
	}
	idemHeader := strings.TrimSpace(deps.IdempotencyHeader)
	if idemHeader == "" {
		idemHeader = idempotency.Header
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	g := &Gateway{
		base:        parsed,
		client:      client,
		refreshPath: refreshPath,
		linger:      linger,
		idemHeader:  idemHeader,
		logger:      logger,
		onCleared:   deps.OnSessionCleared,
	}

	meter := observability.Meter()
	if g.refreshCount, err = meter.Int64Counter("session.refresh.attempts",
		metric.WithDescription("Session refresh calls issued")); err != nil {
		return nil, fmt.Errorf("session: register metric: %w", err)
	}
	if g.refreshFailed, err = meter.Int64Counter("session.refresh.failures",
		metric.WithDescription("Session refresh calls that failed")); err != nil {
		return nil, fmt.Errorf("session: register metric: %w", err)
	}
	if g.replayCount, err = meter.Int64Counter("session.replays",
		metric.WithDescription("Requests replayed after a successful refresh")); err != nil {
		return nil, fmt.Errorf("session: register metric: %w", err)
	}
	return g, nil
}

// SetSessionClearedHook replaces the observer notified when the session is given up.
func (g *Gateway) SetSessionClearedHook(fn func(context.Context)) {
	g.mu.Lock()
	g.onCleared = fn
	g.mu.Unlock()
}

// CookieJar exposes the jar holding the session cookie.
func (g *Gateway) CookieJar() http.CookieJar {
	return g.client.Jar
}

// BaseURL returns the backend base URL.
func (g *Gateway) BaseURL() *url.URL {
	u := *g.base
	return &u
}

// Cookies returns the session cookies the jar would send to the backend.
func (g *Gateway) Cookies() []*http.Cookie {
	if g.client.Jar == nil {
		return nil
	}
	return g.client.Jar.Cookies(g.base)
}

// RestoreCookies seeds the jar with cookies saved by an earlier process.
func (g *Gateway) RestoreCookies(cookies []*http.Cookie) {
	if g.client.Jar == nil || len(cookies) == 0 {
		return
	}
	restored := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		restored = append(restored, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/", HttpOnly: true})
	}
	g.client.Jar.SetCookies(g.base, restored)
}

// ResetOnLogin clears the refresh slot and the sticky failure flag.
func (g *Gateway) ResetOnLogin() { g.reset() }

// ResetOnLogout clears the refresh slot and the sticky failure flag.
func (g *Gateway) ResetOnLogout() { g.reset() }

func (g *Gateway) reset() {
	g.mu.Lock()
	g.inflight = nil
	g.sticky = false
	g.epoch++
	g.mu.Unlock()
}

// RefreshFailed reports whether the sticky failure flag is set.
func (g *Gateway) RefreshFailed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sticky
}

// Do sends req. HTTP error statuses are returned as responses, not errors; only
// transport failures produce an error.
func (g *Gateway) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("session: nil request")
	}
	resp, err := g.send(ctx, req)
	if err != nil {
		return nil, err
	}

	// 403 means authenticated but not allowed; it never touches the session.
	if resp.StatusCode != http.StatusUnauthorized || g.isRefreshPath(req.Path) {
		return resp, nil
	}

	if err := g.refresh(ctx); err != nil {
		g.logger(ctx, "session_replay_skipped", map[string]any{
			"path":  req.Path,
			"error": err.Error(),
		})
		return resp, nil
	}

	g.replayCount.Add(ctx, 1)
	return g.send(ctx, req)
}

func (g *Gateway) isRefreshPath(p string) bool {
	return strings.TrimRight(p, "/") == strings.TrimRight(g.refreshPath, "/")
}

// refresh joins the in-flight refresh or starts one. The refresh itself runs
// detached from ctx so one impatient caller cannot fail it for the others.
func (g *Gateway) refresh(ctx context.Context) error {
	g.mu.Lock()
	if g.sticky {
		g.mu.Unlock()
		g.clearSession(ctx)
		return ErrAuthExpired
	}
	call := g.inflight
	if call == nil {
		call = &refreshCall{done: make(chan struct{})}
		g.inflight = call
		epoch := g.epoch
		g.mu.Unlock()
		go g.runRefresh(context.WithoutCancel(ctx), call, epoch)
	} else {
		g.mu.Unlock()
	}

	select {
	case <-call.done:
		return call.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) runRefresh(ctx context.Context, call *refreshCall, epoch uint64) {
	ctx, span := observability.Tracer().Start(ctx, "session.refresh")
	defer span.End()
	g.refreshCount.Add(ctx, 1)

	err := g.postRefresh(ctx)

	g.mu.Lock()
	if g.epoch == epoch {
		g.sticky = err != nil
	}
	g.mu.Unlock()

	if err != nil {
		g.refreshFailed.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		g.logger(ctx, "session_refresh_failed", map[string]any{"error": err.Error()})
	} else {
		g.logger(ctx, "session_refreshed", nil)
	}

	if err != nil {
		g.clearSession(ctx)
	}
	call.err = err
	close(call.done)

	release := func() {
		g.mu.Lock()
		if g.inflight == call {
			g.inflight = nil
		}
		g.mu.Unlock()
	}
	if g.linger <= 0 {
		release()
		return
	}
	time.AfterFunc(g.linger, release)
}

func (g *Gateway) postRefresh(ctx context.Context) error {
	resp, err := g.send(ctx, &Request{Method: http.MethodPost, Path: g.refreshPath})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRefreshRejected, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrRefreshRejected, resp.StatusCode)
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return fmt.Errorf("%w: empty body", ErrRefreshRejected)
	}
	return nil
}

func (g *Gateway) clearSession(ctx context.Context) {
	g.mu.Lock()
	fn := g.onCleared
	g.mu.Unlock()
	if fn != nil {
		fn(ctx)
	}
}

func (g *Gateway) send(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := g.newHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.StartClientSpan(ctx, httpReq)
	defer span.End()
	httpReq = httpReq.WithContext(ctx)
	observability.InjectTraceHeader(ctx, httpReq)

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		g.logger(ctx, "backend_request_error", map[string]any{
			"method":    req.Method,
			"path":      req.Path,
			"requestId": httpReq.Header.Get(requestIDHeader),
			"error":     err.Error(),
		})
		return nil, fmt.Errorf("session: %s %s: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: read %s %s: %w", req.Method, req.Path, err)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 500 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	g.logger(ctx, "backend_request", map[string]any{
		"method":     req.Method,
		"path":       req.Path,
		"status":     resp.StatusCode,
		"durationMs": time.Since(start).Milliseconds(),
		"requestId":  httpReq.Header.Get(requestIDHeader),
	})

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: body}, nil
}

func (g *Gateway) newHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	endpoint := g.base.JoinPath(req.Path)
	if len(req.Query) > 0 {
		endpoint.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, fmt.Errorf("session: build request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set(requestIDHeader, requestctx.RequestID(ctx))
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		httpReq.Header.Set(g.idemHeader, key)
	}
	return httpReq, nil
}
