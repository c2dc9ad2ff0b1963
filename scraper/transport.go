package scraper

import (
	"context"
	"io"
	"net/http"
	"sync"
)

// contextTransport ties every outgoing request to the context of the fetch
// that issued it, so cancelling the run aborts an in-flight request.
type contextTransport struct {
	mu   sync.Mutex
	base http.RoundTripper
	ctx  context.Context
}

func newContextTransport(base http.RoundTripper) *contextTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &contextTransport{base: base}
}

func (t *contextTransport) bind(ctx context.Context) {
	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()
}

func (t *contextTransport) setBase(base http.RoundTripper) {
	t.mu.Lock()
	t.base = base
	t.mu.Unlock()
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	ctx, base := t.ctx, t.base
	t.mu.Unlock()

	if ctx == nil {
		return base.RoundTrip(req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged, cancel := context.WithCancelCause(req.Context())
	stop := context.AfterFunc(ctx, func() {
		cancel(context.Cause(ctx))
	})
	release := func() {
		stop()
		cancel(nil)
	}

	resp, err := base.RoundTrip(req.WithContext(merged))
	if err != nil {
		release()
		return nil, err
	}
	// The body is read after RoundTrip returns; keep the context alive until
	// the caller closes it.
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

type releasingBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}
