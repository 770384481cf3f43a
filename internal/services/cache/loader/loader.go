package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"playerhub/internal/domain"
	"playerhub/internal/domain/ports"
	"playerhub/internal/metrics"
)

const (
	// DefaultIdleFetchBytes is how much an unneeded fetch may keep warming
	// the store before it is stopped.
	DefaultIdleFetchBytes int64 = 16 << 20
	// DefaultRideWindow is how far behind a request a running fetch may be
	// and still serve it when no other request needs the bytes in between.
	DefaultRideWindow int64 = 256 << 10
)

const (
	reasonCold        = "cold"
	reasonSeekBack    = "seek_back"
	reasonSeekForward = "seek_forward"
	reasonResume      = "resume"
	reasonWarm        = "warm"
)

// Stats is a snapshot of a loader taken on its own goroutine.
type Stats struct {
	Source        string             `json:"source"`
	Requests      int                `json:"requests"`
	FetchActive   bool               `json:"fetchActive"`
	FetchOffset   int64              `json:"fetchOffset"`
	ResidentBytes int64              `json:"residentBytes"`
	Resident      []domain.Range     `json:"resident"`
	Info          domain.ContentInfo `json:"info"`
	HasInfo       bool               `json:"hasInfo"`
	Warming       bool               `json:"warming"`
}

type Config struct {
	// IdleFetchBytes bounds warming by a fetch no request needs. Zero stops
	// such a fetch at once; negative lets it run to the end.
	IdleFetchBytes int64
	RideWindow     int64
}

type activeFetch struct {
	handle   ports.FetchHandle
	events   <-chan ports.FetchEvent
	start    int64
	pos      int64
	idleLeft int64
}

// Loader owns one source: its tracked read requests, at most one active
// fetch and the range store. All state lives on the run goroutine; the
// exported methods only send it messages.
type Loader struct {
	source  string
	store   ports.RangeStore
	fetcher ports.RangeFetcher
	logger  *slog.Logger
	cfg     Config

	ctx    context.Context
	cancel context.CancelFunc

	add      chan *Request
	remove   chan *Request
	refetch  chan *Request
	warm     chan int64
	stopWarm chan struct{}
	stats    chan chan Stats

	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once

	requests map[string]*Request
	fetch    *activeFetch
	length   int64
	warmTo   int64
	warming  bool
}

func New(source string, store ports.RangeStore, fetcher ports.RangeFetcher, cfg Config, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RideWindow <= 0 {
		cfg.RideWindow = DefaultRideWindow
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		source:   source,
		store:    store,
		fetcher:  fetcher,
		logger:   logger.With(slog.String("source", source)),
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		add:      make(chan *Request),
		remove:   make(chan *Request),
		refetch:  make(chan *Request),
		warm:     make(chan int64),
		stopWarm: make(chan struct{}),
		stats:    make(chan chan Stats),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
		requests: make(map[string]*Request),
		length:   -1,
	}
	go l.run()
	return l
}

func (l *Loader) Source() string { return l.source }

// Add starts tracking r. Deliveries arrive in r's mailbox.
func (l *Loader) Add(r *Request) error {
	if r == nil {
		return errors.New("nil request")
	}
	if !r.attach(l.done, l.refetch) {
		return domain.ErrCancelled
	}
	select {
	case l.add <- r:
		return nil
	case <-l.done:
		return domain.ErrClosed
	}
}

// Remove stops tracking r on behalf of its owner. Nothing is delivered to
// r afterwards. Removing twice, or after r finished, has no effect.
func (l *Loader) Remove(r *Request) {
	if r == nil || !r.cancel() {
		return
	}
	select {
	case l.remove <- r:
	case <-l.done:
	}
}

// Warm fetches from the first missing byte until [0, limit) is resident.
// A limit of zero warms the whole resource.
func (l *Loader) Warm(limit int64) error {
	select {
	case l.warm <- limit:
		return nil
	case <-l.done:
		return domain.ErrClosed
	}
}

// StopWarm ends a warm-up started by Warm. The fetch stops unless a
// tracked request still needs it.
func (l *Loader) StopWarm() {
	select {
	case l.stopWarm <- struct{}{}:
	case <-l.done:
	}
}

func (l *Loader) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case l.stats <- reply:
	case <-l.done:
		return Stats{}, domain.ErrClosed
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// Cancel tears the loader down: the fetch stops and tracked requests are
// dropped without notification. Their owners observe domain.ErrClosed.
// Cancel is terminal and waits for the run goroutine to exit.
func (l *Loader) Cancel() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	<-l.exited
}

// Done is closed once Cancel was called.
func (l *Loader) Done() <-chan struct{} { return l.done }

func (l *Loader) run() {
	defer close(l.exited)
	for {
		var events <-chan ports.FetchEvent
		if l.fetch != nil {
			events = l.fetch.events
		}
		select {
		case <-l.done:
			l.shutdown()
			return
		case r := <-l.add:
			l.handleAdd(r)
		case r := <-l.remove:
			l.handleRemove(r)
		case r := <-l.refetch:
			l.handleRefetch(r)
		case limit := <-l.warm:
			l.handleWarm(limit)
		case <-l.stopWarm:
			l.handleStopWarm()
		case reply := <-l.stats:
			reply <- l.snapshot()
		case ev, ok := <-events:
			if !ok {
				ev = ports.FetchEvent{
					Kind: ports.FetchFailed,
					Err:  fmt.Errorf("%w: fetch ended without a result", domain.ErrNetworkFailure),
				}
			}
			l.handleEvent(ev)
		}
	}
}

func (l *Loader) shutdown() {
	l.stopFetch()
	l.cancel()
	for id := range l.requests {
		delete(l.requests, id)
		metrics.ActiveReadRequests.Dec()
	}
	if err := l.store.Close(); err != nil {
		l.logger.Warn("range store close failed", slog.String("error", err.Error()))
	}
	l.logger.Debug("loader stopped")
}

func (l *Loader) handleAdd(r *Request) {
	if r.inactive() {
		return
	}
	l.requests[r.ID] = r
	metrics.ActiveReadRequests.Inc()

	if info, ok := l.store.Metadata(); ok {
		l.deliverInfo(r, info)
		l.serveResident(r)
		if l.finishIfComplete(r) {
			metrics.CacheHitsTotal.Inc()
			l.logger.Debug("read request served from cache",
				slog.String("requestId", r.ID),
				slog.Int64("offset", r.Offset),
				slog.Int64("length", r.Length),
			)
			return
		}
	}
	metrics.CacheMissesTotal.Inc()
	l.ensureFetch(r)
}

func (l *Loader) handleRemove(r *Request) {
	if !l.tracked(r) {
		return
	}
	l.untrack(r)
	l.checkIdle()
}

// handleRefetch takes back a request whose scheduled cached bytes were
// evicted before its owner read them.
func (l *Loader) handleRefetch(r *Request) {
	if !r.resume() {
		return
	}
	if !l.tracked(r) {
		l.requests[r.ID] = r
		metrics.ActiveReadRequests.Inc()
	}
	l.logger.Debug("cached bytes evicted before delivery",
		slog.String("requestId", r.ID),
		slog.Int64("offset", r.Current()),
	)
	l.serveResident(r)
	if l.finishIfComplete(r) {
		return
	}
	l.ensureFetch(r)
}

func (l *Loader) handleStopWarm() {
	if !l.warming {
		return
	}
	l.warming = false
	if l.pending() == 0 {
		l.stopFetch()
	}
}

func (l *Loader) handleWarm(limit int64) {
	if limit < 0 {
		limit = 0
	}
	l.warming = true
	l.warmTo = limit
	if l.fetch == nil {
		l.continueWarm()
	}
}

// ensureFetch makes sure a fetch will reach r's current offset. A running
// fetch is reused when it is at or before that offset and either close
// enough or still needed by another request for the bytes in between.
func (l *Loader) ensureFetch(r *Request) {
	need := r.Current()
	if f := l.fetch; f != nil {
		if f.pos <= need && (need-f.pos <= l.cfg.RideWindow || l.neededBefore(need, r)) {
			f.idleLeft = l.cfg.IdleFetchBytes
			return
		}
		reason := reasonSeekBack
		if f.pos < need {
			reason = reasonSeekForward
		}
		l.startFetch(need, reason)
		return
	}
	l.startFetch(need, reasonCold)
}

// neededBefore reports whether some other tracked request waits on bytes
// below off.
func (l *Loader) neededBefore(off int64, except *Request) bool {
	for _, r := range l.requests {
		if r != except && !r.Finished() && r.Current() < off {
			return true
		}
	}
	return false
}

func (l *Loader) startFetch(at int64, reason string) {
	l.stopFetch()
	h, err := l.fetcher.Open(l.ctx, l.source, at)
	if err != nil {
		l.logger.Warn("fetch open failed",
			slog.Int64("offset", at),
			slog.String("error", err.Error()),
		)
		metrics.FetchFailuresTotal.Inc()
		l.failWaiting(at, err)
		return
	}
	l.fetch = &activeFetch{
		handle:   h,
		events:   h.Events(),
		start:    at,
		pos:      at,
		idleLeft: l.cfg.IdleFetchBytes,
	}
	metrics.FetchStartsTotal.WithLabelValues(reason).Inc()
	l.logger.Debug("fetch started",
		slog.Int64("offset", at),
		slog.String("reason", reason),
	)
}

func (l *Loader) stopFetch() {
	if l.fetch == nil {
		return
	}
	l.fetch.handle.Cancel()
	l.fetch = nil
}

func (l *Loader) handleEvent(ev ports.FetchEvent) {
	f := l.fetch
	switch ev.Kind {
	case ports.FetchResponse:
		l.store.SetMetadata(ev.Info)
		// Origins that ignore ranges restart at zero.
		f.start, f.pos = ev.Offset, ev.Offset
		info, _ := l.store.Metadata()
		for _, r := range l.requests {
			if l.tracked(r) && !r.hasInfo() {
				l.deliverInfo(r, info)
				l.serveResident(r)
			}
			l.finishIfComplete(r)
		}
	case ports.FetchData:
		l.onData(f, ev)
	case ports.FetchCompleted:
		l.fetch = nil
		if !l.knownLength() {
			l.length = f.pos
		}
		l.settle(f, nil)
	case ports.FetchFailed:
		l.fetch = nil
		err := ev.Err
		if !errors.Is(err, domain.ErrNetworkFailure) {
			err = fmt.Errorf("%w: %v", domain.ErrNetworkFailure, err)
		}
		l.logger.Warn("fetch failed",
			slog.Int64("offset", f.pos),
			slog.String("error", err.Error()),
		)
		l.settle(f, err)
	}
}

func (l *Loader) onData(f *activeFetch, ev ports.FetchEvent) {
	end := ev.Offset + int64(len(ev.Data))
	if err := l.store.Write(ev.Offset, ev.Data); err != nil {
		l.logger.Warn("range store write failed",
			slog.Int64("offset", ev.Offset),
			slog.String("error", err.Error()),
		)
	}
	f.pos = end

	active := 0
	for _, r := range l.requests {
		if l.reap(r) {
			continue
		}
		active++
		cur := r.Current()
		if cur < ev.Offset || cur >= end {
			continue
		}
		to := end
		if r.Bounded() && r.End() < to {
			to = r.End()
		}
		if l.tracked(r) {
			r.pushData(ev.Data[cur-ev.Offset : to-ev.Offset])
		}
		if l.finishIfComplete(r) {
			active--
		}
	}

	if active == 0 {
		if f.idleLeft > 0 {
			f.idleLeft -= int64(len(ev.Data))
		}
		l.checkIdle()
	}
}

// settle handles the end of fetch f. Requests now fully resident are
// served from the store; requests behind f's start get a new fetch. Others
// were served by f and finish with err.
func (l *Loader) settle(f *activeFetch, err error) {
	resume := int64(-1)
	for _, r := range l.requests {
		if l.reap(r) {
			continue
		}
		l.serveResident(r)
		if l.finishIfComplete(r) {
			continue
		}
		if cur := r.Current(); cur < f.start {
			if resume < 0 || cur < resume {
				resume = cur
			}
			continue
		}
		if err != nil {
			l.finish(r, err)
			continue
		}
		// Completed but short of r's end: the resource ended early.
		l.finish(r, nil)
	}
	if resume >= 0 {
		l.startFetch(resume, reasonResume)
		return
	}
	if err != nil {
		l.warming = false
	}
	l.checkIdle()
}

// checkIdle stops or redirects a fetch that no request needs.
func (l *Loader) checkIdle() {
	if l.pending() > 0 {
		return
	}
	if l.warming {
		l.continueWarm()
		return
	}
	f := l.fetch
	if f == nil {
		return
	}
	if l.cfg.IdleFetchBytes >= 0 && f.idleLeft <= 0 {
		l.logger.Debug("idle fetch stopped", slog.Int64("offset", f.pos))
		l.stopFetch()
	}
}

// continueWarm keeps a warm-up fetch positioned at the first missing byte
// below the warm limit and stops it once there is none.
func (l *Loader) continueWarm() {
	gap := l.resident().FirstGap(0)
	limit := l.warmTo
	known := l.knownLength()
	if known && (limit == 0 || limit > l.resourceLength()) {
		limit = l.resourceLength()
	}
	if (known || limit > 0) && gap >= limit {
		l.stopFetch()
		l.warming = false
		l.logger.Debug("warm-up complete", slog.Int64("limit", limit))
		return
	}
	if f := l.fetch; f != nil && f.pos <= gap {
		return
	}
	l.startFetch(gap, reasonWarm)
}

func (l *Loader) pending() int {
	n := 0
	for _, r := range l.requests {
		if !r.Finished() {
			n++
		}
	}
	return n
}

// tracked is re-checked right before every dispatch so a request removed
// moments earlier never receives anything.
func (l *Loader) tracked(r *Request) bool {
	cur, ok := l.requests[r.ID]
	return ok && cur == r
}

func (l *Loader) deliverInfo(r *Request, info domain.ContentInfo) {
	if l.tracked(r) {
		r.pushInfo(info)
	}
}

// serveResident schedules the cached bytes at r's current offset.
func (l *Loader) serveResident(r *Request) {
	if !l.tracked(r) || !r.hasInfo() {
		return
	}
	cur := r.Current()
	n := l.resident().ResidentFrom(cur)
	if r.Bounded() && cur+n > r.End() {
		n = r.End() - cur
	}
	if n > 0 {
		r.pushResident(l.store, n)
	}
}

// finishIfComplete finishes r once it reached its end, or the end of the
// resource when that is known.
func (l *Loader) finishIfComplete(r *Request) bool {
	if l.reap(r) {
		return true
	}
	if !r.hasInfo() {
		return false
	}
	cur := r.Current()
	done := r.Bounded() && cur >= r.End()
	if !done && l.knownLength() && cur >= l.resourceLength() {
		done = true
	}
	if done {
		l.finish(r, nil)
	}
	return done
}

func (l *Loader) finish(r *Request, err error) {
	if !l.tracked(r) {
		return
	}
	r.finish(err)
	l.untrack(r)
}

// reap drops a request that already ended on the consumer side.
func (l *Loader) reap(r *Request) bool {
	if !r.Finished() {
		return false
	}
	if l.tracked(r) {
		l.untrack(r)
	}
	return true
}

func (l *Loader) untrack(r *Request) {
	delete(l.requests, r.ID)
	metrics.ActiveReadRequests.Dec()
}

// failWaiting ends every unfinished request at or after off.
func (l *Loader) failWaiting(off int64, err error) {
	if !errors.Is(err, domain.ErrNetworkFailure) && !errors.Is(err, domain.ErrUnsupportedSource) {
		err = fmt.Errorf("%w: %v", domain.ErrNetworkFailure, err)
	}
	for _, r := range l.requests {
		if !r.Finished() && r.Current() >= off {
			l.finish(r, err)
		}
	}
	l.warming = false
}

func (l *Loader) knownLength() bool {
	return l.resourceLength() >= 0
}

func (l *Loader) resourceLength() int64 {
	if info, ok := l.store.Metadata(); ok && info.KnownLength() {
		return info.TotalLength
	}
	return l.length
}

func (l *Loader) snapshot() Stats {
	st := Stats{
		Source:   l.source,
		Requests: l.pending(),
		Resident: l.store.Resident(),
		Warming:  l.warming,
	}
	for _, sp := range st.Resident {
		st.ResidentBytes += sp.Length
	}
	st.Info, st.HasInfo = l.store.Metadata()
	if l.fetch != nil {
		st.FetchActive = true
		st.FetchOffset = l.fetch.pos
	}
	return st
}

func (l *Loader) resident() *domain.RangeSet {
	return domain.NewRangeSet(l.store.Resident()...)
}
