// Package client talks to a running habit-hero server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/boddenberg/habit-hero-go/internal/domain"
	"github.com/boddenberg/habit-hero-go/internal/infra/observability"
	"github.com/boddenberg/habit-hero-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

var tracer = otel.Tracer("client")

const serviceName = "habit-hero-api"

// HabitHeroClient calls the parent endpoints of a remote server. Login must succeed
// before any other call.
type HabitHeroClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	bulkhead   *resilience.Bulkhead
	metrics    *observability.Metrics

	mu    sync.RWMutex
	token string
}

// NewHabitHeroClient creates a new HabitHeroClient.
func NewHabitHeroClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics) *HabitHeroClient {
	return &HabitHeroClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		cb:         cb,
		cfg:        cfg,
		bulkhead:   resilience.NewBulkhead(cfg.MaxConcurrency),
		metrics:    metrics,
	}
}

// Login exchanges the parent PIN for a session token kept by the client.
func (c *HabitHeroClient) Login(ctx context.Context, pin string) error {
	var session domain.ParentSession
	if err := c.call(ctx, "HabitHeroClient.Login", http.MethodPost, "/v1/parent/login", domain.ParentLoginRequest{Pin: pin}, &session); err != nil {
		return err
	}
	c.mu.Lock()
	c.token = session.AccessToken
	c.mu.Unlock()
	return nil
}

// Export downloads the full aggregate.
func (c *HabitHeroClient) Export(ctx context.Context) (*domain.AppData, error) {
	var data domain.AppData
	if err := c.call(ctx, "HabitHeroClient.Export", http.MethodGet, "/v1/export", nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Import uploads a raw exported snapshot, replacing everything on the server.
func (c *HabitHeroClient) Import(ctx context.Context, raw []byte) error {
	return c.call(ctx, "HabitHeroClient.Import", http.MethodPost, "/v1/import", json.RawMessage(raw), nil)
}

// Reset restores the server's seed data.
func (c *HabitHeroClient) Reset(ctx context.Context, password string) error {
	return c.call(ctx, "HabitHeroClient.Reset", http.MethodPost, "/v1/reset", domain.ResetRequest{Password: password}, nil)
}

// GenerateSynthetic asks the server for count synthetic transactions.
func (c *HabitHeroClient) GenerateSynthetic(ctx context.Context, count int) (*domain.BulkInsertResult, error) {
	var res domain.BulkInsertResult
	if err := c.call(ctx, "HabitHeroClient.GenerateSynthetic", http.MethodPost, "/v1/transactions/synthetic", domain.SyntheticRequest{Count: count}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// BulkInsert appends txs on the server without adjusting the balance.
func (c *HabitHeroClient) BulkInsert(ctx context.Context, txs []domain.Transaction) (*domain.BulkInsertResult, error) {
	var res domain.BulkInsertResult
	if err := c.call(ctx, "HabitHeroClient.BulkInsert", http.MethodPost, "/v1/transactions/bulk", txs, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// call runs one request under the bulkhead, circuit breaker and retry policy.
// Client errors (4xx) are returned as domain errors and never retried.
func (c *HabitHeroClient) call(ctx context.Context, spanName, method, path string, in, out any) error {
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("http.path", path))

	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	err := c.bulkhead.Do(ctx, func() error {
		_, err := c.cb.Execute(func() (any, error) {
			innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
				return c.roundTrip(ctx, method, path, body, out)
			})
			if isCallerError(innerErr) {
				return nil, resilience.Permanent(innerErr)
			}
			return nil, innerErr
		})
		return err
	})
	if err == nil {
		return nil
	}
	if resilience.IsPermanent(err) {
		return errors.Unwrap(err)
	}
	if c.metrics != nil {
		c.metrics.IncrExternalError(serviceName)
	}
	return &domain.ErrExternalService{Service: serviceName, Err: err}
}

func (c *HabitHeroClient) roundTrip(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return resilience.Permanent(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return statusError(resp, path)
	}
	if resp.StatusCode >= 400 {
		return resilience.Permanent(statusError(resp, path))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// statusError turns an error response into a domain error where one fits.
func statusError(resp *http.Response, path string) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
	msg := payload.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge:
		return &domain.ErrValidation{Field: path, Message: msg}
	case http.StatusUnauthorized:
		return &domain.ErrUnauthorized{Message: msg}
	case http.StatusForbidden:
		return &domain.ErrForbidden{Action: strings.TrimPrefix(msg, "forbidden: ")}
	case http.StatusNotFound:
		return &domain.ErrNotFound{Resource: "endpoint", ID: path}
	}
	return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, msg)
}

func isCallerError(err error) bool {
	var ve *domain.ErrValidation
	var ue *domain.ErrUnauthorized
	var fe *domain.ErrForbidden
	var nf *domain.ErrNotFound
	return errors.As(err, &ve) || errors.As(err, &ue) || errors.As(err, &fe) || errors.As(err, &nf)
}
