package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/fanout-bench/pkg/logging"
	"github.com/Sternrassler/fanout-bench/pkg/ratelimit"
	"github.com/Sternrassler/fanout-bench/pkg/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Backend API paths.
const (
	PathSessions = "/v1/sessions"
	PathData     = "/v1/data"
)

// DefaultRequestTimeout is the per-attempt backend request timeout.
const DefaultRequestTimeout = 120 * time.Second

var (
	backendRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_backend_requests_total",
		Help: "Total backend requests by path and status",
	}, []string{"path", "status"})

	backendRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fanout_backend_request_duration_seconds",
		Help:    "Backend request duration in seconds by path",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 120},
	}, []string{"path"})

	backendErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_backend_errors_total",
		Help: "Total backend errors by class",
	}, []string{"class"})
)

// HTTPConfig holds the HTTP backend configuration.
type HTTPConfig struct {
	// BaseURL of the data service, e.g. "http://localhost:9000".
	BaseURL string

	// AppKey authenticates the session.
	AppKey string

	// Timeout bounds each request attempt.
	Timeout time.Duration

	// RatePerSecond paces requests of one session (0 = unlimited).
	RatePerSecond float64

	// Parameters are passed unchanged with every data request.
	Parameters map[string]string

	// Throttle optionally gates requests on the budget shared through Redis.
	Throttle *ratelimit.Tracker

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// DefaultHTTPConfig returns a configuration with the default timeout.
func DefaultHTTPConfig(baseURL, appKey string) HTTPConfig {
	return HTTPConfig{
		BaseURL: baseURL,
		AppKey:  appKey,
		Timeout: DefaultRequestTimeout,
	}
}

// HTTPBackend is a Session talking to a table-oriented data service over HTTP.
type HTTPBackend struct {
	cfg        HTTPConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger

	mu    sync.RWMutex
	token string
	state SessionState
}

// NewHTTPBackend creates an unopened HTTP session.
func NewHTTPBackend(cfg HTTPConfig) (*HTTPBackend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &HTTPBackend{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logging.NewLogger(logging.ComponentBackend),
		state:      StateClosed,
	}, nil
}

// HTTPSessionFactory returns a factory creating independent HTTP sessions.
func HTTPSessionFactory(cfg HTTPConfig) SessionFactory {
	return func() (Session, error) {
		return NewHTTPBackend(cfg)
	}
}

// State returns the session state.
func (b *HTTPBackend) State() SessionState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Open authenticates and stores the session token. Opening an open session is a no-op.
func (b *HTTPBackend) Open(ctx context.Context) error {
	if b.State() == StateOpened {
		return nil
	}

	payload, err := json.Marshal(map[string]string{"app_key": b.cfg.AppKey})
	if err != nil {
		return fmt.Errorf("marshal session request: %w", err)
	}

	body, _, err := b.do(ctx, http.MethodPost, PathSessions, "", payload)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	token := gjson.GetBytes(body, "token").String()
	if token == "" {
		return &FatalError{Class: ClassProtocol, Message: "session response without token", Err: ErrMalformedResponse}
	}

	b.mu.Lock()
	b.token = token
	b.state = StateOpened
	b.mu.Unlock()

	b.logger.Info().Str("base_url", b.cfg.BaseURL).Msg("Backend session opened")
	return nil
}

// Close releases the session on the backend.
func (b *HTTPBackend) Close() error {
	b.mu.Lock()
	token := b.token
	wasOpen := b.state == StateOpened
	b.token = ""
	b.state = StateClosed
	b.mu.Unlock()

	if !wasOpen {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, _, err := b.do(ctx, http.MethodDelete, PathSessions+"/"+token, token, nil); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	b.logger.Info().Msg("Backend session closed")
	return nil
}

// Fetch requests fields for identifiers and decodes the returned table.
func (b *HTTPBackend) Fetch(ctx context.Context, identifiers, fields []string) (*table.Table, error) {
	b.mu.RLock()
	token, state := b.token, b.state
	b.mu.RUnlock()
	if state != StateOpened {
		return nil, &FatalError{Class: ClassSession, Err: ErrSessionClosed}
	}

	if b.cfg.Throttle != nil {
		allowed, err := b.cfg.Throttle.ShouldAllowRequest(ctx)
		if err != nil {
			// Redis trouble must not stop the benchmark; fall through to the backend.
			b.logger.Warn().Err(err).Msg("Throttle check failed")
		} else if !allowed {
			backendErrorsTotal.WithLabelValues(string(ClassRateLimit)).Inc()
			return nil, &TransientError{Class: ClassRateLimit, Err: ErrThrottled}
		}
	}

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, &FatalError{Class: ClassCancelled, Err: err}
		}
	}

	payload, err := json.Marshal(struct {
		Universe   []string          `json:"universe"`
		Fields     []string          `json:"fields"`
		Parameters map[string]string `json:"parameters,omitempty"`
	}{identifiers, fields, b.cfg.Parameters})
	if err != nil {
		return nil, fmt.Errorf("marshal data request: %w", err)
	}

	b.logger.Debug().
		Int("items", len(identifiers)).
		Int("fields", len(fields)).
		Msg("Executing data request")

	body, headers, err := b.do(ctx, http.MethodPost, PathData, token, payload)
	if b.cfg.Throttle != nil && headers != nil {
		if uerr := b.cfg.Throttle.UpdateFromHeaders(ctx, headers); uerr != nil {
			b.logger.Warn().Err(uerr).Msg("Failed to update throttle state from headers")
		}
	}
	if err != nil {
		return nil, err
	}

	return DecodeTable(body, fields)
}

// do executes one request and classifies any failure.
func (b *HTTPBackend) do(ctx context.Context, method, path, token string, payload []byte) ([]byte, http.Header, error) {
	metricPath := path
	if strings.HasPrefix(path, PathSessions+"/") {
		metricPath = PathSessions + "/:token"
	}

	start := time.Now()
	defer func() {
		backendRequestDuration.WithLabelValues(metricPath).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		class := b.classifyTransportError(ctx, err)
		backendErrorsTotal.WithLabelValues(string(class)).Inc()
		backendRequestsTotal.WithLabelValues(metricPath, string(class)).Inc()
		b.logger.Warn().Err(err).Str("path", metricPath).Str("error_class", string(class)).Msg("Backend request failed")
		return nil, nil, classified(class, 0, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		backendErrorsTotal.WithLabelValues(string(ClassNetwork)).Inc()
		return nil, resp.Header, &TransientError{Class: ClassNetwork, StatusCode: resp.StatusCode, Message: "read body", Err: err}
	}

	backendRequestsTotal.WithLabelValues(metricPath, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		backendErrorsTotal.WithLabelValues(string(class)).Inc()
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = resp.Status
		}
		b.logger.Warn().
			Str("path", metricPath).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Backend request error")
		return nil, resp.Header, classified(class, resp.StatusCode, msg, nil)
	}

	return body, resp.Header, nil
}

// classifyTransportError categorizes a failure that produced no HTTP response.
func (b *HTTPBackend) classifyTransportError(ctx context.Context, err error) ErrorClass {
	if ctx.Err() != nil {
		return ClassCancelled
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}
	return ClassNetwork
}

// classifyStatus maps an HTTP error status to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ClassRateLimit
	case status == http.StatusRequestTimeout:
		return ClassTimeout
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuth
	case status >= 500:
		return ClassServer
	default:
		return ClassClient
	}
}
