package gatewayapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/txops/internal/domain/errors"
	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/cassiomorais/txops/internal/infrastructure/config"
	"github.com/cassiomorais/txops/pkg/retry"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	macVersion  = "1"
	breakerName = "gateway"
)

// CallObserver is told about every gateway call and breaker state change.
type CallObserver interface {
	ObserveGatewayCall(operation, result string, took time.Duration)
	ObserveBreakerState(name string, state int)
}

type nopObserver struct{}

func (nopObserver) ObserveGatewayCall(string, string, time.Duration) {}
func (nopObserver) ObserveBreakerState(string, int)                 {}

// Client talks to the gateway REST API. Calls are MAC-signed, run behind a
// circuit breaker and, for reads only, retried.
type Client struct {
	baseURL  *url.URL
	userID   int64
	secret   []byte
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[[]byte]
	reads    retry.Config
	observer CallObserver
	now      func() time.Time
}

var _ gateway.Client = (*Client)(nil)

// New creates a gateway client from configuration. observer may be nil.
func New(cfg config.GatewayConfig, observer CallObserver) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse gateway base url: %w", err)
	}
	secret, err := base64.StdEncoding.DecodeString(cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("decode gateway api secret: %w", err)
	}
	if observer == nil {
		observer = nopObserver{}
	}

	threshold := uint32(cfg.CircuitBreakerThreshold)
	if threshold == 0 {
		threshold = 10
	}

	c := &Client{
		baseURL: base,
		userID:  cfg.UserID,
		secret:  secret,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		reads: retry.Config{
			MaxAttempts:  max(cfg.ReadRetries, 1),
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     10 * cfg.RetryDelay,
			RetryIf:      retryable,
		},
		observer: observer,
		now:      time.Now,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.CircuitBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A rejected request means the gateway is up.
		IsSuccessful: func(err error) bool {
			var ce *gateway.ClientError
			return err == nil || errors.As(err, &ce)
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			observer.ObserveBreakerState(name, int(to))
		},
	})
	return c, nil
}

func retryable(err error) bool {
	var ce *gateway.ClientError
	if errors.As(err, &ce) {
		return false
	}
	return !errors.Is(err, domainErrors.ErrGatewayUnavailable) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// request describes one API call. path is relative to the base URL.
type request struct {
	operation string
	method    string
	path      string
	query     url.Values
	body      any
}

// read performs an idempotent call with retries.
func (c *Client) read(ctx context.Context, req request, out any) error {
	return retry.Do(ctx, c.reads, func() error {
		return c.call(ctx, req, out)
	})
}

// call performs a single attempt through the circuit breaker.
func (c *Client) call(ctx context.Context, req request, out any) error {
	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.send(ctx, req)
	})
	c.observer.ObserveGatewayCall(req.operation, resultLabel(err), time.Since(start))

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%s: %w", req.operation, domainErrors.ErrGatewayUnavailable)
		}
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", req.operation, err)
	}
	return nil
}

func resultLabel(err error) string {
	var ce *gateway.ClientError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &ce):
		return "client_error"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "rejected"
	default:
		return "error"
	}
}

func (c *Client) send(ctx context.Context, req request) ([]byte, error) {
	u := c.baseURL.JoinPath(req.path)
	u.RawQuery = req.query.Encode()

	var reader io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", req.operation, err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", req.operation, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json;charset=utf-8")
	}
	c.sign(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", req.operation, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests:
		return nil, decodeClientError(resp.StatusCode, body)
	default:
		return nil, fmt.Errorf("%s: unexpected status %d: %s", req.operation, resp.StatusCode, truncate(body, 256))
	}
}

// sign adds the MAC authentication headers. The secured data is
// version|user id|unix timestamp|method|request uri.
func (c *Client) sign(req *http.Request) {
	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	userID := strconv.FormatInt(c.userID, 10)

	secured := strings.Join([]string{macVersion, userID, timestamp, req.Method, req.URL.RequestURI()}, "|")
	mac := hmac.New(sha512.New, c.secret)
	mac.Write([]byte(secured))

	req.Header.Set("x-mac-version", macVersion)
	req.Header.Set("x-mac-userid", userID)
	req.Header.Set("x-mac-timestamp", timestamp)
	req.Header.Set("x-mac-value", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

func decodeClientError(status int, body []byte) *gateway.ClientError {
	var w wireError
	_ = json.Unmarshal(body, &w)

	ce := &gateway.ClientError{StatusCode: status, Reason: w.Type, Message: w.Message}
	if ce.Message == "" {
		ce.Message = w.DefaultMessage
	}
	if ce.Reason == "" {
		ce.Reason = http.StatusText(status)
	}
	if ce.Message == "" {
		ce.Message = string(truncate(body, 256))
	}
	return ce
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

func spaceQuery(spaceID int64, id ...int64) url.Values {
	q := url.Values{"spaceId": {strconv.FormatInt(spaceID, 10)}}
	if len(id) > 0 {
		q.Set("id", strconv.FormatInt(id[0], 10))
	}
	return q
}
