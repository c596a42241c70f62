package attio

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/firmsync/internal/resilience"
)

// sleepRecorder replaces the retry sleep so tests run instantly and can
// assert on the requested delays.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) (Client, *sleepRecorder) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	rec := &sleepRecorder{}
	retry := resilience.RateLimitRetryConfig()
	retry.Sleep = rec.sleep
	all := append([]Option{WithBaseURL(srv.URL), WithRetry(retry)}, opts...)
	return NewClient("test-api-key", all...), rec
}

func writeRecord(w http.ResponseWriter, id string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": map[string]any{"id": map[string]string{"record_id": id}},
	})
}

func TestSend_CreateCompany(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/objects/companies/records", r.URL.Path)
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body Record
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Acme", body.Data.Values["name"])

		writeRecord(w, "rec-1")
	})

	resp, err := c.UpsertCompany(context.Background(), map[string]any{"name": "Acme"}, false)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", resp.RecordID())
}

func TestUpsertCompany_MatchByDomain(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/objects/companies/records", r.URL.Path)
		assert.Equal(t, "domains", r.URL.Query().Get("matching_attribute"))
		writeRecord(w, "rec-2")
	})

	resp, err := c.UpsertCompany(context.Background(), map[string]any{"domains": []string{"acme.com"}}, true)
	require.NoError(t, err)
	assert.Equal(t, "rec-2", resp.RecordID())
}

func TestUpsertPerson_MatchByEmail(t *testing.T) {
	var methods []string
	var mu sync.Mutex
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method+" "+r.URL.Query().Get("matching_attribute"))
		mu.Unlock()
		assert.Equal(t, "/objects/people/records", r.URL.Path)
		writeRecord(w, "person-1")
	})

	ctx := context.Background()
	_, err := c.UpsertPerson(ctx, map[string]any{"email_addresses": []string{"a@b.com"}}, true)
	require.NoError(t, err)
	_, err = c.UpsertPerson(ctx, map[string]any{"name": "No Email"}, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"PUT email_addresses", "POST "}, methods)
}

func TestSend_RetryAfterSeconds(t *testing.T) {
	var calls atomic.Int32
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeRecord(w, "rec-3")
	})

	resp, err := c.Send(context.Background(), CompaniesEndpoint, Record{}, "post")
	require.NoError(t, err)
	assert.Equal(t, "rec-3", resp.RecordID())
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second}, rec.delays)
}

func TestSend_RetryAfterGarbageWaitsOneSecond(t *testing.T) {
	var calls atomic.Int32
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "soon-ish")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeRecord(w, "rec-4")
	})

	_, err := c.Send(context.Background(), CompaniesEndpoint, Record{}, http.MethodPost)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second}, rec.delays)
}

func TestSend_RetryAfterZeroWaitsOneSecond(t *testing.T) {
	var calls atomic.Int32
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeRecord(w, "rec-6")
	})

	_, err := c.Send(context.Background(), CompaniesEndpoint, Record{}, http.MethodPost)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, rec.delays)
}

func TestSend_RateLimitExhausted(t *testing.T) {
	var calls atomic.Int32
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Send(context.Background(), PeopleEndpoint, Record{}, http.MethodPut)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimitExhausted))
	assert.Equal(t, int32(5), calls.Load())
	assert.Len(t, rec.delays, 4)
}

func TestSend_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid attribute"}`))
	})

	_, err := c.Send(context.Background(), CompaniesEndpoint, Record{}, http.MethodPost)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "invalid attribute")
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, rec.delays)
}

func TestSend_ServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.Send(context.Background(), CompaniesEndpoint, Record{}, http.MethodPost)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSend_UnsupportedMethod(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := c.Send(context.Background(), CompaniesEndpoint, Record{}, http.MethodDelete)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedMethod))
	assert.Equal(t, int32(0), calls.Load())
}

func TestSend_TimeoutRetried(t *testing.T) {
	var calls atomic.Int32
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			time.Sleep(200 * time.Millisecond)
		}
		writeRecord(w, "rec-5")
	}, WithTimeout(50*time.Millisecond))

	resp, err := c.Send(context.Background(), CompaniesEndpoint, Record{}, http.MethodPost)
	require.NoError(t, err)
	assert.Equal(t, "rec-5", resp.RecordID())
	require.Len(t, rec.delays, 1)
	assert.LessOrEqual(t, rec.delays[0], 10*time.Second)
}

func TestUpsertCompany_ConcurrencyCeiling(t *testing.T) {
	var inFlight, peak atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		writeRecord(w, "rec")
	}, WithConcurrency(2, 2))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.UpsertCompany(context.Background(), map[string]any{"name": "x"}, false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestConcurrency_PersonBurstDoesNotBlockCompanies(t *testing.T) {
	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	defer unblock()

	var personInFlight, personPeak atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "people") {
			n := personInFlight.Add(1)
			for {
				p := personPeak.Load()
				if n <= p || personPeak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			personInFlight.Add(-1)
		}
		writeRecord(w, "rec")
	}, WithConcurrency(1, 1))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.UpsertPerson(context.Background(), map[string]any{"name": "p"}, false)
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return personInFlight.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.UpsertCompany(ctx, map[string]any{"name": "x"}, false)
	require.NoError(t, err)
	assert.Equal(t, "rec", resp.RecordID())

	unblock()
	wg.Wait()
	assert.Equal(t, int32(1), personPeak.Load())
}

func TestRecordResponse_RecordID_Nil(t *testing.T) {
	var r *RecordResponse
	assert.Equal(t, "", r.RecordID())
}
