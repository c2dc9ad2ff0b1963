package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-catalog-sweep/config"
)

const testBaseURL = "http://api.test/items"

type countingHeaders struct {
	calls int64
	err   error
}

func (h *countingHeaders) Headers() (http.Header, error) {
	n := atomic.AddInt64(&h.calls, 1)
	if h.err != nil {
		return nil, h.err
	}
	hdr := http.Header{}
	hdr["WM_CONSUMER.INTIMESTAMP"] = []string{strconv.FormatInt(n, 10)}
	return hdr, nil
}

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func newTestFetcher(t *testing.T, mutate func(*config.Config)) (*Fetcher, *httpmock.MockTransport, *countingHeaders, *sleepRecorder) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BaseURL = testBaseURL
	cfg.PageSize = 50
	cfg.PageDelay = 0
	cfg.MaxAttempts = 5
	cfg.RetryBackoff = 10 * time.Millisecond
	cfg.RetryBackoffMax = time.Second
	cfg.BodySnippetLimit = 16
	if mutate != nil {
		mutate(cfg)
	}

	headers := &countingHeaders{}
	f, err := NewFetcher(cfg, headers, NewMetrics())
	require.NoError(t, err)

	transport := httpmock.NewMockTransport()
	f.WithTransport(transport)
	recorder := &sleepRecorder{}
	f.sleep = recorder.sleep
	return f, transport, headers, recorder
}

func itemsJSON(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf(`{"itemId": "%s-%d", "name": "Item %d", "salePrice": 1.5}`, prefix, i, i)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// pagedResponder serves pages of the given sizes, selected by the "page"
// query parameter (absent means the first page).
func pagedResponder(sizes []int) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		page := 1
		if p := req.URL.Query().Get("page"); p != "" {
			page, _ = strconv.Atoi(p)
		}
		if page < 1 || page > len(sizes) {
			return httpmock.NewStringResponse(http.StatusNotFound, `{"error":"no such page"}`), nil
		}
		more := page < len(sizes)
		next := ""
		if more {
			next = fmt.Sprintf("/items?category=%s&count=50&page=%d", req.URL.Query().Get("category"), page+1)
		}
		body := fmt.Sprintf(`{"items": %s, "nextPage": %q, "nextPageExist": %t}`,
			itemsJSON(fmt.Sprintf("p%d", page), sizes[page-1]), next, more)
		return httpmock.NewStringResponse(http.StatusOK, body), nil
	}
}

func TestFetchAllFollowsContinuationPointers(t *testing.T) {
	f, transport, headers, _ := newTestFetcher(t, nil)
	transport.RegisterResponder("GET", testBaseURL, pagedResponder([]int{50, 50, 30}))

	items, err := f.FetchAll(context.Background(), "976759")
	require.NoError(t, err)
	assert.Len(t, items, 130)
	assert.Equal(t, 3, transport.GetTotalCallCount())
	assert.EqualValues(t, 3, headers.calls)
	assert.EqualValues(t, 3, f.TotalRequests())
	assert.Equal(t, "p1-0", items[0].ItemID)
	assert.Equal(t, "p3-29", items[129].ItemID)
	assert.Equal(t, "1.5", items[0].SalePrice)
}

func TestFirstPageURLCarriesCategoryAndCount(t *testing.T) {
	f, transport, _, _ := newTestFetcher(t, nil)
	var seen string
	transport.RegisterResponder("GET", testBaseURL, func(req *http.Request) (*http.Response, error) {
		seen = req.URL.RawQuery
		return httpmock.NewStringResponse(http.StatusOK, `{"items": []}`), nil
	})

	items, err := f.FetchAll(context.Background(), "abc_123")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, "category=abc_123&count=50", seen)
}

func TestPagesWaitsBetweenPages(t *testing.T) {
	f, transport, _, recorder := newTestFetcher(t, func(cfg *config.Config) {
		cfg.PageDelay = 250 * time.Millisecond
	})
	transport.RegisterResponder("GET", testBaseURL, pagedResponder([]int{2, 2, 1}))

	_, err := f.FetchAll(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, recorder.delays)
}

func TestPagesFollowsAbsolutePointerWithoutFlag(t *testing.T) {
	f, transport, _, _ := newTestFetcher(t, nil)
	transport.RegisterResponder("GET", testBaseURL, func(req *http.Request) (*http.Response, error) {
		if req.URL.Query().Get("cursor") == "" {
			return httpmock.NewStringResponse(http.StatusOK,
				`{"items": [{"itemId": 1}], "nextPage": "http://api.test/items?cursor=abc"}`), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, `{"items": [{"itemId": 2}]}`), nil
	})

	items, err := f.FetchAll(context.Background(), "c")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "2", items[1].ItemID)
}

func TestPagesDetectsNonAdvancingPointer(t *testing.T) {
	f, transport, _, _ := newTestFetcher(t, nil)
	transport.RegisterResponder("GET", testBaseURL, func(req *http.Request) (*http.Response, error) {
		return httpmock.NewStringResponse(http.StatusOK, fmt.Sprintf(
			`{"items": [{"itemId": "a"}], "nextPage": %q, "nextPageExist": true}`, req.URL.RequestURI())), nil
	})

	items, err := f.FetchAll(context.Background(), "c")
	assert.ErrorIs(t, err, ErrPaginationLoop)
	assert.Equal(t, 1, transport.GetTotalCallCount())
	require.Len(t, items, 1, "the page carrying the bad pointer is still delivered")
	assert.Equal(t, "a", items[0].ItemID)
}

func TestPagesFailsWhenMorePagesLackPointer(t *testing.T) {
	f, transport, _, _ := newTestFetcher(t, nil)
	transport.RegisterResponder("GET", testBaseURL, httpmock.NewStringResponder(http.StatusOK,
		`{"items": [{"itemId": "a"}, {"itemId": "b"}], "nextPage": "", "nextPageExist": true}`))

	items, err := f.FetchAll(context.Background(), "c")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingContinuation)
	assert.Equal(t, "pagination", ErrorTypeLabel(err))
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusOK, reqErr.StatusCode)
	assert.Len(t, items, 2)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestPagesDropsItemsWithoutID(t *testing.T) {
	f, transport, _, _ := newTestFetcher(t, nil)
	transport.RegisterResponder("GET", testBaseURL, httpmock.NewStringResponder(http.StatusOK,
		`{"items": [{"itemId": "a"}, {"name": "no id"}, "garbage", {"itemId": ""}]}`))

	var pages []Page
	for page, err := range f.Pages(context.Background(), "c") {
		require.NoError(t, err)
		pages = append(pages, page)
	}
	require.Len(t, pages, 1)
	assert.Len(t, pages[0].Items, 1)
	assert.Equal(t, 3, pages[0].Dropped)
}

func TestPagesSequenceIsNotRestartable(t *testing.T) {
	f, transport, _, _ := newTestFetcher(t, nil)
	transport.RegisterResponder("GET", testBaseURL, httpmock.NewStringResponder(http.StatusOK, `{"items": [{"itemId": "a"}]}`))

	seq := f.Pages(context.Background(), "c")
	for _, err := range seq {
		require.NoError(t, err)
	}
	var second error
	for _, err := range seq {
		second = err
	}
	assert.ErrorIs(t, second, ErrSequenceConsumed)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestRetryOnRateLimitThenSuccess(t *testing.T) {
	f, transport, headers, recorder := newTestFetcher(t, nil)
	var calls int64
	transport.RegisterResponder("GET", testBaseURL, func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt64(&calls, 1) <= 3 {
			return httpmock.NewStringResponse(http.StatusTooManyRequests, `{"error":"slow down"}`), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, `{"items": [{"itemId": "x"}]}`), nil
	})

	items, err := f.FetchAll(context.Background(), "c")
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 4, transport.GetTotalCallCount())
	assert.EqualValues(t, 4, headers.calls, "every attempt is signed afresh")
	assert.EqualValues(t, 3, f.TotalRetries())

	require.Len(t, recorder.delays, 3)
	for i := 1; i < len(recorder.delays); i++ {
		assert.GreaterOrEqual(t, recorder.delays[i], 2*recorder.delays[i-1])
	}
	assert.Equal(t, 10*time.Millisecond, recorder.delays[0])
}

func TestServerErrorsExhaustAttempts(t *testing.T) {
	f, transport, _, recorder := newTestFetcher(t, func(cfg *config.Config) {
		cfg.MaxAttempts = 3
	})
	transport.RegisterResponder("GET", testBaseURL,
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "upstream is down for maintenance, try later"))

	_, err := f.FetchAll(context.Background(), "c")
	require.Error(t, err)
	assert.Equal(t, 3, transport.GetTotalCallCount())
	assert.Len(t, recorder.delays, 2)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusServiceUnavailable, reqErr.StatusCode)
	assert.Equal(t, 3, reqErr.Attempts)
	assert.Equal(t, "upstream is down", reqErr.Body)
	assert.Contains(t, reqErr.URL, "category=c")
	assert.Equal(t, "server", ErrorTypeLabel(err))
}

func TestClientErrorFailsWithoutRetry(t *testing.T) {
	f, transport, _, recorder := newTestFetcher(t, nil)
	transport.RegisterResponder("GET", testBaseURL, httpmock.NewStringResponder(http.StatusForbidden, `{"error":"bad signature"}`))

	_, err := f.FetchAll(context.Background(), "c")
	require.Error(t, err)
	assert.Equal(t, 1, transport.GetTotalCallCount())
	assert.Empty(t, recorder.delays)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusForbidden, reqErr.StatusCode)
	assert.Equal(t, "client", ErrorTypeLabel(err))
}

func TestSigningFailureStopsBeforeRequest(t *testing.T) {
	f, transport, headers, _ := newTestFetcher(t, nil)
	signErr := errors.New("bad key")
	headers.err = signErr
	transport.RegisterResponder("GET", testBaseURL, httpmock.NewStringResponder(http.StatusOK, `{"items": []}`))

	_, err := f.FetchAll(context.Background(), "c")
	assert.ErrorIs(t, err, signErr)
	assert.Zero(t, transport.GetTotalCallCount())
}

func TestCancelledContextAbortsRetryWait(t *testing.T) {
	f, transport, _, _ := newTestFetcher(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	transport.RegisterResponder("GET", testBaseURL, httpmock.NewStringResponder(http.StatusTooManyRequests, ""))
	f.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, d)
	}

	_, err := f.FetchAll(ctx, "c")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestCancelAbortsInFlightRequest(t *testing.T) {
	f, transport, _, _ := newTestFetcher(t, nil)
	transport.RegisterResponder("GET", testBaseURL, func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()

	start := time.Now()
	_, err := f.FetchAll(ctx, "c")
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, elapsed, 5*time.Second)
	assert.Equal(t, 1, transport.GetTotalCallCount(), "no retry after cancellation")
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	f, _, _, _ := newTestFetcher(t, func(cfg *config.Config) {
		cfg.RetryBackoff = 200 * time.Millisecond
		cfg.RetryBackoffMax = 500 * time.Millisecond
	})

	assert.Equal(t, 200*time.Millisecond, f.backoff(1))
	assert.Equal(t, 400*time.Millisecond, f.backoff(2))
	assert.Equal(t, 500*time.Millisecond, f.backoff(3))
	assert.Equal(t, 500*time.Millisecond, f.backoff(8))
}

func TestBackoffNeverOverflows(t *testing.T) {
	f, _, _, _ := newTestFetcher(t, func(cfg *config.Config) {
		cfg.RetryBackoff = time.Second
		cfg.RetryBackoffMax = time.Minute
	})
	for _, attempt := range []int{7, 34, 35, 40, 63, 64, 1000} {
		assert.Equal(t, time.Minute, f.backoff(attempt), "attempt %d", attempt)
	}

	f.cfg.RetryBackoffMax = 0
	prev := time.Duration(0)
	for attempt := 1; attempt <= 100; attempt++ {
		d := f.backoff(attempt)
		require.Positive(t, d, "attempt %d", attempt)
		require.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		prev = d
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
		retry      bool
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout", retry: true},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout", retry: true},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection", retry: true},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "client"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "client"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited", retry: true},
		{name: "bad gateway", err: nil, statusCode: http.StatusBadGateway, expected: "server", retry: true},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifyError(tt.err, tt.statusCode)
			if got := ErrorTypeLabel(classified); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
			if got := retryable(classified); got != tt.retry {
				t.Fatalf("retryable = %v, want %v", got, tt.retry)
			}
		})
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	assert.Equal(t, "abc", truncate("abcdef", 3))
	assert.Equal(t, "abcdef", truncate("abcdef", 0))
	assert.Equal(t, "a", truncate("aé", 2))
}
