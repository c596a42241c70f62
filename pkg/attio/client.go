// Package attio is a rate-limit aware client for the Attio records API.
package attio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sells-group/firmsync/internal/resilience"
)

const (
	defaultBaseURL = "https://api.attio.com/v2"

	// CompaniesEndpoint and PeopleEndpoint are the default record endpoints.
	CompaniesEndpoint = "objects/companies/records"
	PeopleEndpoint    = "objects/people/records"

	// DefaultConcurrency is the in-flight ceiling for each entity type.
	DefaultConcurrency = 15
)

var (
	// ErrUnsupportedMethod is returned for any method other than POST or PUT.
	ErrUnsupportedMethod = eris.New("attio: unsupported method")
	// ErrRateLimitExhausted is returned when every attempt was answered 429.
	ErrRateLimitExhausted = eris.New("attio: rate limit retries exhausted")
)

// Record is the request body for record create and assert calls.
type Record struct {
	Data RecordData `json:"data"`
}

// RecordData wraps the attribute values of a record.
type RecordData struct {
	Values map[string]any `json:"values"`
}

// RecordResponse is the response to a record create or assert call.
type RecordResponse struct {
	Data struct {
		ID struct {
			WorkspaceID string `json:"workspace_id"`
			ObjectID    string `json:"object_id"`
			RecordID    string `json:"record_id"`
		} `json:"id"`
	} `json:"data"`
}

// RecordID returns data.id.record_id, or "" when absent.
func (r *RecordResponse) RecordID() string {
	if r == nil {
		return ""
	}
	return r.Data.ID.RecordID
}

// APIError is returned when Attio responds with a status >= 400 other than 429.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("attio: HTTP %d: %s", e.StatusCode, e.Body)
}

// Client defines the Attio operations used by the sync orchestrator.
type Client interface {
	// Send issues one create (POST) or update (PUT) call, retrying 429s and
	// network timeouts.
	Send(ctx context.Context, endpoint string, payload any, method string) (*RecordResponse, error)
	// UpsertCompany writes a company record. With matchByDomain it asserts
	// the record by its domains attribute instead of creating one.
	UpsertCompany(ctx context.Context, values map[string]any, matchByDomain bool) (*RecordResponse, error)
	// UpsertPerson writes a person record, asserting by email address when
	// matchByEmail is set.
	UpsertPerson(ctx context.Context, values map[string]any, matchByEmail bool) (*RecordResponse, error)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL. Empty keeps the default.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-call timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithEndpoints overrides the company and person record endpoints.
func WithEndpoints(company, person string) Option {
	return func(c *httpClient) {
		if company != "" {
			c.companyEndpoint = company
		}
		if person != "" {
			c.personEndpoint = person
		}
	}
}

// WithConcurrency sets the in-flight ceilings for company and person calls.
func WithConcurrency(company, person int) Option {
	return func(c *httpClient) {
		if company > 0 {
			c.companySem = semaphore.NewWeighted(int64(company))
		}
		if person > 0 {
			c.personSem = semaphore.NewWeighted(int64(person))
		}
	}
}

// WithRateLimit paces outbound calls to rps per second across both entity
// types.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithRetry replaces the retry policy. ShouldRetry is always overridden so
// that only 429s and network failures are retried.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey          string
	baseURL         string
	companyEndpoint string
	personEndpoint  string
	http            *http.Client
	limiter         *rate.Limiter
	companySem      *semaphore.Weighted
	personSem       *semaphore.Weighted
	retry           resilience.RetryConfig
	now             func() time.Time
}

// NewClient creates a new Attio client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:          apiKey,
		baseURL:         defaultBaseURL,
		companyEndpoint: CompaniesEndpoint,
		personEndpoint:  PeopleEndpoint,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 2 * DefaultConcurrency,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		companySem: semaphore.NewWeighted(DefaultConcurrency),
		personSem:  semaphore.NewWeighted(DefaultConcurrency),
		retry:      resilience.RateLimitRetryConfig(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retry.ShouldRetry = shouldRetry
	return c
}

// shouldRetry retries 429s (carried as TransientError) and network
// failures. HTTP errors with a body are final.
func shouldRetry(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	return resilience.IsTransient(err)
}

func (c *httpClient) UpsertCompany(ctx context.Context, values map[string]any, matchByDomain bool) (*RecordResponse, error) {
	if err := c.companySem.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "attio: wait for company slot")
	}
	defer c.companySem.Release(1)

	endpoint, method := c.companyEndpoint, http.MethodPost
	if matchByDomain {
		endpoint, method = withMatchingAttribute(endpoint, "domains"), http.MethodPut
	}
	return c.Send(ctx, endpoint, Record{Data: RecordData{Values: values}}, method)
}

func (c *httpClient) UpsertPerson(ctx context.Context, values map[string]any, matchByEmail bool) (*RecordResponse, error) {
	if err := c.personSem.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "attio: wait for person slot")
	}
	defer c.personSem.Release(1)

	endpoint, method := c.personEndpoint, http.MethodPost
	if matchByEmail {
		endpoint, method = withMatchingAttribute(endpoint, "email_addresses"), http.MethodPut
	}
	return c.Send(ctx, endpoint, Record{Data: RecordData{Values: values}}, method)
}

func withMatchingAttribute(endpoint, attr string) string {
	return endpoint + "?matching_attribute=" + url.QueryEscape(attr)
}

func (c *httpClient) Send(ctx context.Context, endpoint string, payload any, method string) (*RecordResponse, error) {
	method = strings.ToUpper(method)
	if method != http.MethodPost && method != http.MethodPut {
		return nil, eris.Wrapf(ErrUnsupportedMethod, "attio: method %q", method)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "attio: marshal request")
	}
	target := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")

	cfg := c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("attio", method+" "+endpoint)
	}
	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*RecordResponse, error) {
		return c.attempt(ctx, method, target, body)
	})
	if err == nil {
		return resp, nil
	}

	var exhausted *resilience.ExhaustedError
	var te *resilience.TransientError
	if errors.As(err, &exhausted) && errors.As(exhausted.Err, &te) && te.StatusCode == http.StatusTooManyRequests {
		return nil, eris.Wrapf(ErrRateLimitExhausted, "attio: %s %s after %d attempts", method, endpoint, exhausted.Attempts)
	}
	return nil, eris.Wrapf(err, "attio: %s %s", method, endpoint)
}

func (c *httpClient) attempt(ctx context.Context, method, target string, body []byte) (*RecordResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limit")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "read response body")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		delay := ParseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		return nil, resilience.NewThrottledError(eris.New("attio: HTTP 429"), resp.StatusCode, delay)
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	var out RecordResponse
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, eris.Wrap(err, "decode response")
		}
	}
	return &out, nil
}
