package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-catalog-sweep/config"
	"github.com/aluiziolira/go-catalog-sweep/models"
	"github.com/aluiziolira/go-catalog-sweep/parser"
)

// HeaderSource produces the authentication headers for one request.
type HeaderSource interface {
	Headers() (http.Header, error)
}

// Page is one decoded listing page.
type Page struct {
	Number  int
	URL     string
	Items   []models.Item
	Dropped int
}

// pageResponse is the listing payload. Only the fields used for paging are
// typed; items are decoded one by one.
type pageResponse struct {
	Items         []json.RawMessage `json:"items"`
	NextPage      string            `json:"nextPage"`
	NextPageExist *bool             `json:"nextPageExist"`
}

// Fetcher drains a category's paginated item listing, one request at a time.
type Fetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	transport *contextTransport
	headers   HeaderSource
	baseURL   *url.URL
	Metrics   *Metrics

	// sleep waits for d or until ctx is done. Swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error

	requestCount int64
	retryCount   int64
}

// NewFetcher builds a fetcher configured from cfg. headers is consulted
// before every attempt so each request carries a fresh signature.
func NewFetcher(cfg *config.Config, headers HeaderSource, metrics *Metrics) (*Fetcher, error) {
	if headers == nil {
		return nil, fmt.Errorf("header source is required")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.UserAgent(cfg.UserAgent),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.ParseHTTPErrorResponse = true
	collector.MaxBodySize = 0

	transport := newContextTransport(http.DefaultTransport)
	collector.WithTransport(transport)

	f := &Fetcher{
		cfg:       cfg,
		collector: collector,
		transport: transport,
		headers:   headers,
		baseURL:   parsed,
		Metrics:   metrics,
		sleep:     sleepContext,
	}
	f.configureHandlers()
	return f, nil
}

// WithTransport replaces the underlying round tripper, keeping cancellation.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.transport.setBase(rt)
}

// TotalRequests returns the number of HTTP attempts made so far.
func (f *Fetcher) TotalRequests() int64 {
	return atomic.LoadInt64(&f.requestCount)
}

// TotalRetries returns the number of retried attempts so far.
func (f *Fetcher) TotalRetries() int64 {
	return atomic.LoadInt64(&f.retryCount)
}

func (f *Fetcher) configureHandlers() {
	f.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		atomic.AddInt64(&f.requestCount, 1)
		f.Metrics.IncRequest("started")
		slog.Debug("catalog request", slog.String("url", r.URL.String()))
	})

	f.collector.OnResponse(func(r *colly.Response) {
		if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
			f.Metrics.ObserveDuration(time.Since(start))
		}
		r.Ctx.Put("response", r)
	})
}

// FirstPageURL builds the initial listing URL for a category.
func (f *Fetcher) FirstPageURL(categoryID string) string {
	u := *f.baseURL
	q := u.Query()
	q.Set("category", categoryID)
	q.Set("count", strconv.Itoa(f.cfg.PageSize))
	u.RawQuery = q.Encode()
	return u.String()
}

// Pages returns the category's listing as a lazy sequence of pages. Pages are
// requested as the sequence is consumed, with the configured delay between
// them. The sequence ends after the page the server marks as last, or after
// the first error. It can be ranged over only once.
func (f *Fetcher) Pages(ctx context.Context, categoryID string) iter.Seq2[Page, error] {
	var consumed atomic.Bool
	return func(yield func(Page, error) bool) {
		if consumed.Swap(true) {
			yield(Page{}, ErrSequenceConsumed)
			return
		}

		next := f.FirstPageURL(categoryID)
		for number := 1; ; number++ {
			if number > 1 {
				if err := f.sleep(ctx, f.cfg.PageDelay); err != nil {
					yield(Page{}, err)
					return
				}
			}

			body, err := f.get(ctx, next)
			if err != nil {
				yield(Page{}, err)
				return
			}

			var resp pageResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				yield(Page{}, &RequestError{
					URL:        next,
					StatusCode: http.StatusOK,
					Body:       truncate(string(body), f.cfg.BodySnippetLimit),
					Attempts:   1,
					Err:        fmt.Errorf("decode page: %w", err),
				})
				return
			}

			page := Page{Number: number, URL: next, Items: make([]models.Item, 0, len(resp.Items))}
			for _, raw := range resp.Items {
				item, err := parser.ExtractItem(raw)
				if err == nil {
					err = parser.ValidateItem(&item)
				}
				if err != nil {
					page.Dropped++
					slog.Debug("dropping item", slog.String("category", categoryID), slog.Any("error", err))
					continue
				}
				page.Items = append(page.Items, item)
			}
			f.Metrics.IncPage()
			f.Metrics.AddItems(len(page.Items))

			following, more, nextErr := f.nextPage(next, resp)
			if !yield(page, nil) {
				return
			}
			if nextErr != nil {
				yield(Page{}, nextErr)
				return
			}
			if !more {
				return
			}
			next = following
		}
	}
}

// FetchAll drains every page of a category into one slice.
func (f *Fetcher) FetchAll(ctx context.Context, categoryID string) ([]models.Item, error) {
	var items []models.Item
	for page, err := range f.Pages(ctx, categoryID) {
		if err != nil {
			return items, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func (f *Fetcher) nextPage(current string, resp pageResponse) (string, bool, error) {
	if resp.NextPageExist != nil && !*resp.NextPageExist {
		return "", false, nil
	}
	if resp.NextPage == "" {
		if resp.NextPageExist != nil {
			return "", false, &RequestError{URL: current, StatusCode: http.StatusOK, Attempts: 1, Err: ErrMissingContinuation}
		}
		return "", false, nil
	}

	base, err := url.Parse(current)
	if err != nil {
		return "", false, fmt.Errorf("parse current url: %w", err)
	}
	ref, err := url.Parse(resp.NextPage)
	if err != nil {
		return "", false, fmt.Errorf("parse continuation pointer %q: %w", resp.NextPage, err)
	}
	resolved := base.ResolveReference(ref).String()
	if resolved == current {
		return "", false, &RequestError{URL: current, StatusCode: http.StatusOK, Attempts: 1, Err: ErrPaginationLoop}
	}
	return resolved, true, nil
}

// get issues one GET with retries. 429, 5xx and transport failures are retried
// with exponential backoff up to MaxAttempts; any other non-2xx fails at once.
func (f *Fetcher) get(ctx context.Context, target string) ([]byte, error) {
	for attempt := 1; ; attempt++ {
		status, body, err := f.attempt(ctx, target)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err == nil && status >= 200 && status < 300 {
			f.Metrics.IncRequest("ok")
			return body, nil
		}

		var signErr *signingError
		if errors.As(err, &signErr) {
			return nil, signErr.Err
		}

		classified := classifyError(err, status)
		label := ErrorTypeLabel(classified)
		f.Metrics.IncRequest("error")
		f.Metrics.IncError(label)

		if !retryable(classified) || attempt >= f.cfg.MaxAttempts {
			return nil, &RequestError{
				URL:        target,
				StatusCode: status,
				Body:       truncate(string(body), f.cfg.BodySnippetLimit),
				Attempts:   attempt,
				Err:        classified,
			}
		}

		delay := f.backoff(attempt)
		atomic.AddInt64(&f.retryCount, 1)
		f.Metrics.IncRetries()
		slog.Warn("retrying request",
			slog.String("url", target),
			slog.Int("status", status),
			slog.String("error_type", label),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

type signingError struct {
	Err error
}

func (e *signingError) Error() string { return e.Err.Error() }
func (e *signingError) Unwrap() error { return e.Err }

func (f *Fetcher) attempt(ctx context.Context, target string) (int, []byte, error) {
	hdr, err := f.headers.Headers()
	if err != nil {
		return 0, nil, &signingError{Err: err}
	}
	hdr.Set("Accept", "application/json")
	hdr.Set("User-Agent", f.cfg.UserAgent)

	f.transport.bind(ctx)
	defer f.transport.bind(nil)

	cctx := colly.NewContext()
	reqErr := f.collector.Request(http.MethodGet, target, nil, cctx, hdr)
	resp, _ := cctx.GetAny("response").(*colly.Response)
	if reqErr != nil {
		status := 0
		var body []byte
		if resp != nil {
			status, body = resp.StatusCode, resp.Body
		}
		return status, body, reqErr
	}
	if resp == nil {
		return 0, nil, fmt.Errorf("no response recorded for %s", target)
	}
	return resp.StatusCode, resp.Body, nil
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := f.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	ceiling := f.cfg.RetryBackoffMax
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > math.MaxInt64/2 {
			delay = math.MaxInt64
			break
		}
		delay *= 2
		if ceiling > 0 && delay >= ceiling {
			break
		}
	}
	if ceiling > 0 && delay > ceiling {
		delay = ceiling
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SleepContext waits for d unless ctx is done first.
func SleepContext(ctx context.Context, d time.Duration) error {
	return sleepContext(ctx, d)
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	s = s[:limit]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
