package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"playerhub/internal/domain"
	"playerhub/internal/domain/ports"
	"playerhub/internal/metrics"
	"playerhub/internal/services/cache/loader"
)

// Proxy routes marked read requests to the loader of their source. It only
// looks loaders up; each loader lives until it is torn down.
type Proxy struct {
	provider ports.StoreProvider
	fetcher  ports.RangeFetcher
	cfg      loader.Config
	logger   *slog.Logger

	mu      sync.Mutex
	loaders map[string]*loader.Loader
}

func New(provider ports.StoreProvider, fetcher ports.RangeFetcher, cfg loader.Config, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		provider: provider,
		fetcher:  fetcher,
		cfg:      cfg,
		logger:   logger,
		loaders:  make(map[string]*loader.Loader),
	}
}

// OnRequest hands r to the loader of the marked URL's source, creating the
// loader on first use.
func (p *Proxy) OnRequest(markedURL string, r *loader.Request) error {
	src, ok := StripScheme(markedURL)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedSource, markedURL)
	}
	for attempt := 0; attempt < 2; attempt++ {
		l, err := p.loaderFor(src)
		if err != nil {
			return err
		}
		err = l.Add(r)
		if !errors.Is(err, domain.ErrClosed) {
			return err
		}
		// Torn down between lookup and Add; a fresh loader takes over.
		p.forget(src, l)
	}
	return domain.ErrClosed
}

// OnCancel removes r from its source's loader. Unknown sources are a no-op.
func (p *Proxy) OnCancel(markedURL string, r *loader.Request) {
	src, ok := StripScheme(markedURL)
	if !ok {
		return
	}
	p.mu.Lock()
	l := p.loaders[src]
	p.mu.Unlock()
	if l != nil {
		l.Remove(r)
	}
}

// Teardown cancels every loader. The next request for any source starts a
// fresh one.
func (p *Proxy) Teardown() {
	p.mu.Lock()
	loaders := p.loaders
	p.loaders = make(map[string]*loader.Loader)
	metrics.LiveLoaders.Set(0)
	p.mu.Unlock()

	for _, l := range loaders {
		l.Cancel()
	}
	if len(loaders) > 0 {
		p.logger.Debug("proxy torn down", slog.Int("loaders", len(loaders)))
	}
}

// TeardownSource cancels the loader of one source, marked or not. It
// reports whether a loader existed.
func (p *Proxy) TeardownSource(source string) bool {
	src, _ := StripScheme(source)
	p.mu.Lock()
	l, ok := p.loaders[src]
	if ok {
		delete(p.loaders, src)
		metrics.LiveLoaders.Set(float64(len(p.loaders)))
	}
	p.mu.Unlock()
	if ok {
		l.Cancel()
	}
	return ok
}

// ContentInfo returns the metadata of a source, reading its first byte
// through the loader when nothing is stored yet.
func (p *Proxy) ContentInfo(ctx context.Context, markedURL string) (domain.ContentInfo, error) {
	src, ok := StripScheme(markedURL)
	if !ok {
		return domain.ContentInfo{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedSource, markedURL)
	}
	store, err := p.provider.Open(src)
	if err != nil {
		return domain.ContentInfo{}, err
	}
	info, ok := store.Metadata()
	if err := store.Close(); err != nil {
		p.logger.Warn("range store close failed",
			slog.String("source", src),
			slog.String("error", err.Error()),
		)
	}
	if ok {
		return info, nil
	}

	first := loader.NewRequest(0, 1)
	if err := p.OnRequest(markedURL, first); err != nil {
		return domain.ContentInfo{}, err
	}
	defer p.OnCancel(markedURL, first)
	for {
		d, err := first.Next(ctx)
		if err != nil {
			return domain.ContentInfo{}, err
		}
		switch d.Kind {
		case loader.DeliveryInfo:
			return d.Info, nil
		case loader.DeliveryError:
			return domain.ContentInfo{}, d.Err
		case loader.DeliveryDone:
			return domain.ContentInfo{}, fmt.Errorf("%w: no metadata for %s", domain.ErrNetworkFailure, src)
		}
	}
}

// Preload warms [0, limit) of a source on its registered loader, creating
// the loader if needed, so routed requests for the same source share its
// single fetch. Calling stop ends the warm-up only; requests routed to the
// loader in the meantime keep being served.
func (p *Proxy) Preload(source string, limit int64) (stop func(), err error) {
	src, _ := StripScheme(source)
	for attempt := 0; attempt < 2; attempt++ {
		var l *loader.Loader
		l, err = p.loaderFor(src)
		if err != nil {
			return nil, err
		}
		err = l.Warm(limit)
		if errors.Is(err, domain.ErrClosed) {
			p.forget(src, l)
			continue
		}
		if err != nil {
			return nil, err
		}
		p.logger.Debug("preload started",
			slog.String("source", src),
			slog.Int64("limit", limit),
		)
		return l.StopWarm, nil
	}
	return nil, domain.ErrClosed
}

// Sources reports the stats of every live loader, ordered by source.
func (p *Proxy) Sources(ctx context.Context) ([]loader.Stats, error) {
	p.mu.Lock()
	loaders := make([]*loader.Loader, 0, len(p.loaders))
	for _, l := range p.loaders {
		loaders = append(loaders, l)
	}
	p.mu.Unlock()

	out := make([]loader.Stats, 0, len(loaders))
	for _, l := range loaders {
		st, err := l.Stats(ctx)
		if errors.Is(err, domain.ErrClosed) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

func (p *Proxy) Close() {
	p.Teardown()
}

func (p *Proxy) loaderFor(src string) (*loader.Loader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.loaders[src]; ok {
		return l, nil
	}
	store, err := p.provider.Open(src)
	if err != nil {
		return nil, err
	}
	l := loader.New(src, store, p.fetcher, p.cfg, p.logger)
	p.loaders[src] = l
	metrics.LiveLoaders.Set(float64(len(p.loaders)))
	return l, nil
}

func (p *Proxy) forget(src string, l *loader.Loader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaders[src] == l {
		delete(p.loaders, src)
		metrics.LiveLoaders.Set(float64(len(p.loaders)))
	}
}
