package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"playerhub/internal/domain"
	"playerhub/internal/domain/ports"
	"playerhub/internal/metrics"
)

const DefaultChunkSize = 64 << 10

// HTTPFetcher reads sources with ranged GET requests. One handle maps to
// one request; the body is streamed in fixed-size chunks.
type HTTPFetcher struct {
	client    *http.Client
	chunkSize int
	rateLimit int
	logger    *slog.Logger
}

type Option func(*HTTPFetcher)

func WithClient(client *http.Client) Option {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

func WithChunkSize(n int) Option {
	return func(f *HTTPFetcher) {
		if n > 0 {
			f.chunkSize = n
		}
	}
}

// WithRateLimit caps each fetch at bytesPerSec. Zero disables the cap.
func WithRateLimit(bytesPerSec int) Option {
	return func(f *HTTPFetcher) {
		if bytesPerSec >= 0 {
			f.rateLimit = bytesPerSec
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *HTTPFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func NewHTTPFetcher(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		// No client timeout: bodies are long-lived streams bounded by the
		// handle's context.
		client:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		chunkSize: DefaultChunkSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *HTTPFetcher) Open(ctx context.Context, source string, offset int64) (ports.FetchHandle, error) {
	u, err := url.Parse(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedSource, source)
	}
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &handle{
		offset: offset,
		events: make(chan ports.FetchEvent, 4),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	var limiter *rate.Limiter
	if f.rateLimit > 0 {
		burst := f.rateLimit
		if burst < f.chunkSize {
			burst = f.chunkSize
		}
		limiter = rate.NewLimiter(rate.Limit(f.rateLimit), burst)
	}
	go f.run(h, source, limiter)
	return h, nil
}

func (f *HTTPFetcher) run(h *handle, source string, limiter *rate.Limiter) {
	defer close(h.done)
	defer close(h.events)

	req, err := http.NewRequestWithContext(h.ctx, http.MethodGet, source, nil)
	if err != nil {
		h.fail(fmt.Errorf("%w: %v", domain.ErrNetworkFailure, err))
		return
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", h.offset))

	resp, err := f.client.Do(req)
	if err != nil {
		if h.ctx.Err() != nil {
			return
		}
		h.fail(fmt.Errorf("%w: %v", domain.ErrNetworkFailure, err))
		return
	}
	defer resp.Body.Close()

	info := domain.ContentInfo{
		TotalLength: -1,
		ContentType: resp.Header.Get("Content-Type"),
	}
	start := h.offset

	switch resp.StatusCode {
	case http.StatusPartialContent:
		first, _, total, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			h.fail(fmt.Errorf("%w: %v", domain.ErrNetworkFailure, err))
			return
		}
		start = first
		info.TotalLength = total
		info.AcceptsRanges = true
	case http.StatusOK:
		start = 0
		info.TotalLength = resp.ContentLength
		info.AcceptsRanges = strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")
	case http.StatusRequestedRangeNotSatisfiable:
		// Opened at or past the end: report the length and finish empty.
		_, _, total, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil || total < 0 || h.offset < total {
			h.fail(fmt.Errorf("%w: range not satisfiable at %d", domain.ErrNetworkFailure, h.offset))
			return
		}
		info.TotalLength = total
		info.AcceptsRanges = true
		if h.send(ports.FetchEvent{Kind: ports.FetchResponse, Info: info, Offset: h.offset}) {
			h.send(ports.FetchEvent{Kind: ports.FetchCompleted})
		}
		return
	default:
		h.fail(fmt.Errorf("%w: unexpected status %d", domain.ErrNetworkFailure, resp.StatusCode))
		return
	}

	if !h.send(ports.FetchEvent{Kind: ports.FetchResponse, Info: info, Offset: start}) {
		return
	}

	pos := start
	for {
		buf := make([]byte, f.chunkSize)
		n, readErr := io.ReadFull(resp.Body, buf)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(h.ctx, n); err != nil {
					return
				}
			}
			metrics.FetchBytesTotal.Add(float64(n))
			if !h.send(ports.FetchEvent{Kind: ports.FetchData, Offset: pos, Data: buf[:n]}) {
				return
			}
			pos += int64(n)
		}
		if readErr == nil {
			continue
		}
		if h.ctx.Err() != nil {
			return
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			if info.KnownLength() && pos < info.TotalLength {
				h.fail(fmt.Errorf("%w: body ended at %d of %d", domain.ErrNetworkFailure, pos, info.TotalLength))
				return
			}
			h.send(ports.FetchEvent{Kind: ports.FetchCompleted})
			return
		}
		f.logger.Debug("fetch body read failed",
			slog.String("source", source),
			slog.Int64("offset", pos),
			slog.String("error", readErr.Error()),
		)
		h.fail(fmt.Errorf("%w: %v", domain.ErrNetworkFailure, readErr))
		return
	}
}

// parseContentRange parses "bytes first-last/total". Unknown parts are -1.
func parseContentRange(value string) (first, last, total int64, err error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "bytes ") {
		return 0, 0, 0, fmt.Errorf("invalid content-range %q", value)
	}
	rest := strings.TrimSpace(strings.TrimPrefix(value, "bytes "))
	rangePart, totalPart, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid content-range %q", value)
	}

	total = -1
	if totalPart != "*" {
		total, err = strconv.ParseInt(totalPart, 10, 64)
		if err != nil || total < 0 {
			return 0, 0, 0, fmt.Errorf("invalid content-range total %q", value)
		}
	}
	if rangePart == "*" {
		return -1, -1, total, nil
	}
	a, b, ok := strings.Cut(rangePart, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid content-range %q", value)
	}
	first, err = strconv.ParseInt(a, 10, 64)
	if err != nil || first < 0 {
		return 0, 0, 0, fmt.Errorf("invalid content-range start %q", value)
	}
	last, err = strconv.ParseInt(b, 10, 64)
	if err != nil || last < first {
		return 0, 0, 0, fmt.Errorf("invalid content-range end %q", value)
	}
	return first, last, total, nil
}

type handle struct {
	offset int64
	events chan ports.FetchEvent
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (h *handle) Events() <-chan ports.FetchEvent { return h.events }

func (h *handle) Offset() int64 { return h.offset }

// Cancel aborts the request and waits for the reader goroutine to exit, so
// nothing is sent afterwards.
func (h *handle) Cancel() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
	})
}

func (h *handle) send(ev ports.FetchEvent) bool {
	if h.ctx.Err() != nil {
		return false
	}
	select {
	case h.events <- ev:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *handle) fail(err error) {
	metrics.FetchFailuresTotal.Inc()
	h.send(ports.FetchEvent{Kind: ports.FetchFailed, Err: err})
}

var _ ports.RangeFetcher = (*HTTPFetcher)(nil)
