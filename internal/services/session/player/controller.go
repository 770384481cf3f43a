package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"playerhub/internal/domain"
	"playerhub/internal/domain/ports"
	"playerhub/internal/metrics"
	"playerhub/internal/services/cache/proxy"
)

const (
	DefaultLookahead       = 2 * time.Second
	defaultHistoryInterval = 5 * time.Second
	// Saved positions this close to the end are not resumed.
	resumeTailSeconds = 5.0
	resumeMinSeconds  = 1.0
)

// CacheProxy is the part of the interception proxy the controller drives.
type CacheProxy interface {
	Teardown()
	Preload(source string, limit int64) (stop func(), err error)
}

type Config struct {
	Lookahead       time.Duration
	CacheEnabled    bool
	PreloadBytes    int64
	HistoryInterval time.Duration
	HistoryTimeout  time.Duration
}

type eventKind int

const (
	evSignal eventKind = iota
	evPlay
	evPause
	evSeek
	evReplace
	evStop
	evLifecycle
	evResume
	evObserve
	evSnapshot
)

type event struct {
	kind      eventKind
	signal    Signal
	url       string
	next      string
	position  float64
	lifecycle domain.LifecycleEvent
	gen       uint64
	observer  Observer
	reply     chan Snapshot
}

// Controller owns the playback status of one player. Engine signals,
// user intents and lifecycle events are queued and applied one at a time
// on the controller's goroutine.
type Controller struct {
	engine  ports.PlaybackEngine
	proxy   CacheProxy
	history ports.WatchHistoryRepository
	cfg     Config
	logger  *slog.Logger

	events    chan event
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once

	// Loop-owned state.
	observers   []Observer
	status      domain.PlaybackStatus
	err         error
	inert       bool
	hasItem     bool
	gen         uint64
	source      string
	itemURL     string
	next        string
	toPlay      bool
	itemStatus  domain.ItemStatus
	keepUp      bool
	bufferEmpty bool
	bufferFull  bool
	rate        float64
	position    float64
	duration    float64
	buffered    domain.TimeRange
	resumeAt    float64

	pausedForBackground bool
	pausedForResign     bool

	stopPreload func()
	saveEvery   rate.Sometimes
}

type Option func(*Controller)

func WithHistory(repo ports.WatchHistoryRepository) Option {
	return func(c *Controller) { c.history = repo }
}

func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New starts a controller. proxy may be nil when caching is disabled.
func New(engine ports.PlaybackEngine, cacheProxy CacheProxy, cfg Config, opts ...Option) *Controller {
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = DefaultLookahead
	}
	if cfg.HistoryInterval <= 0 {
		cfg.HistoryInterval = defaultHistoryInterval
	}
	if cfg.HistoryTimeout <= 0 {
		cfg.HistoryTimeout = 5 * time.Second
	}
	if cacheProxy == nil {
		cfg.CacheEnabled = false
	}
	c := &Controller{
		engine:     engine,
		proxy:      cacheProxy,
		cfg:        cfg,
		logger:     slog.Default(),
		events:     make(chan event, 64),
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
		status:     domain.StatusInitial,
		itemStatus: domain.ItemUnknown,
		saveEvery:  rate.Sometimes{Interval: cfg.HistoryInterval},
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.run()
	return c
}

func (c *Controller) send(ev event) error {
	if c.closed() {
		return domain.ErrClosed
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return domain.ErrClosed
	}
}

// Signal queues an engine report.
func (c *Controller) Signal(s Signal) error { return c.send(event{kind: evSignal, signal: s}) }

func (c *Controller) Play() error { return c.send(event{kind: evPlay}) }

func (c *Controller) Pause() error { return c.send(event{kind: evPause}) }

func (c *Controller) Seek(seconds float64) error {
	if seconds < 0 {
		seconds = 0
	}
	return c.send(event{kind: evSeek, position: seconds})
}

// Replace swaps the current item for url and starts warming next, if it
// is known and differs.
func (c *Controller) Replace(url, next string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return errors.New("url is required")
	}
	return c.send(event{kind: evReplace, url: url, next: strings.TrimSpace(next)})
}

func (c *Controller) Stop() error { return c.send(event{kind: evStop}) }

func (c *Controller) Lifecycle(e domain.LifecycleEvent) error {
	switch e {
	case domain.LifecycleBackground, domain.LifecycleForeground,
		domain.LifecycleResignActive, domain.LifecycleBecomeActive:
	default:
		return fmt.Errorf("unknown lifecycle event %q", e)
	}
	return c.send(event{kind: evLifecycle, lifecycle: e})
}

// AddObserver registers o for notifications from now on.
func (c *Controller) AddObserver(o Observer) error {
	if o == nil {
		return nil
	}
	return c.send(event{kind: evObserve, observer: o})
}

// Snapshot returns the state once every previously queued event has been
// applied.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	if c.closed() {
		return Snapshot{}, domain.ErrClosed
	}
	reply := make(chan Snapshot, 1)
	select {
	case c.events <- event{kind: evSnapshot, reply: reply}:
	case <-c.done:
		return Snapshot{}, domain.ErrClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-c.exited:
		return Snapshot{}, domain.ErrClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (c *Controller) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Controller) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	<-c.exited
}

func (c *Controller) run() {
	defer close(c.exited)
	for {
		select {
		case <-c.done:
			c.cancelPreload()
			if c.hasItem {
				c.saveHistory()
			}
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Controller) handle(ev event) {
	switch ev.kind {
	case evSignal:
		c.applySignal(ev.signal)
	case evPlay:
		c.play()
	case evPause:
		c.pausedForBackground = false
		c.pausedForResign = false
		c.pause()
		c.saveHistory()
	case evSeek:
		if c.hasItem {
			c.engine.Seek(ev.position)
		}
	case evReplace:
		c.replace(ev.url, ev.next)
	case evStop:
		c.cancelPreload()
		if c.hasItem {
			c.saveHistory()
		}
		c.stop()
	case evLifecycle:
		c.applyLifecycle(ev.lifecycle)
	case evResume:
		if ev.gen == c.gen {
			c.resumeAt = ev.position
			c.maybeResume()
		}
	case evObserve:
		c.observers = append(c.observers, ev.observer)
	case evSnapshot:
		ev.reply <- c.snapshot()
	}
}

func (c *Controller) applySignal(s Signal) {
	if !c.hasItem {
		return
	}
	if s.Item != "" && s.Item != c.itemURL && s.Item != c.source {
		return
	}

	if s.ItemStatus != "" {
		c.itemStatus = s.ItemStatus
	}
	if s.Error != "" {
		c.err = fmt.Errorf("%w: %s", domain.ErrEngine, s.Error)
	} else if s.ItemStatus == domain.ItemFailed && c.err == nil {
		c.err = fmt.Errorf("%w: item failed", domain.ErrEngine)
	}
	if s.LikelyToKeepUp != nil {
		c.keepUp = *s.LikelyToKeepUp
	}
	if s.BufferEmpty != nil {
		c.bufferEmpty = *s.BufferEmpty
	}
	if s.BufferFull != nil {
		c.bufferFull = *s.BufferFull
	}
	if s.Rate != nil {
		c.rate = *s.Rate
	}

	progressed := false
	if s.Position != nil && *s.Position >= 0 {
		progressed = progressed || c.position != *s.Position
		c.position = *s.Position
	}
	if s.Duration != nil && *s.Duration >= 0 {
		progressed = progressed || c.duration != *s.Duration
		c.duration = *s.Duration
	}
	if progressed && c.duration > 0 {
		for _, o := range c.observers {
			o.ProgressChanged(c.position, c.duration)
		}
		if c.history != nil {
			c.saveEvery.Do(c.saveHistory)
		}
	}

	if s.Loaded != nil {
		c.buffered = *s.Loaded
		for _, o := range c.observers {
			o.BufferedChanged(c.buffered)
		}
		c.preBuffer()
	}

	c.evaluate()
}

// preBuffer resumes a stalled play once enough media is buffered ahead of
// the playhead, or the buffer reaches the end.
func (c *Controller) preBuffer() {
	if c.status != domain.StatusBuffering || c.inert {
		return
	}
	end := c.buffered.End
	atEnd := c.duration > 0 && end >= c.duration
	if atEnd || end >= c.position+c.cfg.Lookahead.Seconds() {
		c.logger.Debug("pre-buffer reached, resuming",
			slog.Float64("position", c.position),
			slog.Float64("bufferedEnd", end),
		)
		c.play()
	}
}

// evaluate recomputes the status from the current inputs.
func (c *Controller) evaluate() {
	if !c.hasItem || c.inert {
		return
	}
	var next domain.PlaybackStatus
	switch {
	case c.err != nil:
		next = domain.StatusFailed
		c.inert = true
	case c.duration > 0 && c.position >= c.duration:
		next = domain.StatusEnded
	case c.toPlay:
		if c.keepUp && c.rate != 0 {
			next = domain.StatusPlaying
		} else {
			next = domain.StatusBuffering
		}
	case c.status == domain.StatusInitial,
		c.status == domain.StatusPrepared && c.position == 0:
		next = domain.StatusPrepared
	default:
		next = domain.StatusPaused
	}
	c.setStatus(next)
	if next == domain.StatusPrepared {
		c.maybeResume()
	}
}

func (c *Controller) setStatus(next domain.PlaybackStatus) {
	if next == c.status {
		return
	}
	prev := c.status
	c.status = next
	metrics.PlayerTransitionsTotal.WithLabelValues(string(prev), string(next)).Inc()

	var err error
	if next == domain.StatusFailed {
		err = c.err
		c.logger.Warn("player item failed",
			slog.String("source", c.source),
			slog.String("error", err.Error()),
		)
	} else {
		c.logger.Debug("player status changed",
			slog.String("from", string(prev)),
			slog.String("to", string(next)),
		)
	}
	for _, o := range c.observers {
		o.StatusChanged(next, err)
	}
}

func (c *Controller) play() {
	if !c.hasItem || c.inert {
		return
	}
	c.toPlay = true
	c.engine.Play()
	c.evaluate()
}

func (c *Controller) pause() {
	if !c.hasItem || c.inert {
		return
	}
	c.toPlay = false
	c.engine.Pause()
	c.evaluate()
}

func (c *Controller) isPlaying() bool {
	return c.toPlay && c.rate != 0
}

// applyLifecycle pauses when the app leaves the foreground or loses focus
// while playing, and resumes once on the matching return. The two pairs
// are tracked separately since either can fire alone.
func (c *Controller) applyLifecycle(e domain.LifecycleEvent) {
	switch e {
	case domain.LifecycleBackground:
		if c.isPlaying() {
			c.pausedForBackground = true
			c.pause()
		}
	case domain.LifecycleForeground:
		if c.pausedForBackground {
			c.pausedForBackground = false
			c.play()
		}
	case domain.LifecycleResignActive:
		if c.isPlaying() {
			c.pausedForResign = true
			c.pause()
		}
	case domain.LifecycleBecomeActive:
		if c.pausedForResign {
			c.pausedForResign = false
			c.play()
		}
	}
}

func (c *Controller) replace(url, next string) {
	c.cancelPreload()
	if c.hasItem {
		c.saveHistory()
		c.stop()
	} else if c.proxy != nil {
		c.proxy.Teardown()
	}

	source, _ := proxy.StripScheme(url)
	itemURL := source
	if c.cfg.CacheEnabled {
		itemURL = proxy.AddScheme(source)
	}

	c.resetItem()
	c.gen++
	c.hasItem = true
	c.source = source
	c.itemURL = itemURL
	c.engine.ReplaceItem(itemURL)
	c.logger.Info("player item replaced",
		slog.String("source", source),
		slog.Bool("cached", itemURL != source),
	)

	if nextSource, _ := proxy.StripScheme(next); c.cfg.CacheEnabled && nextSource != "" && nextSource != source {
		stop, err := c.proxy.Preload(nextSource, c.cfg.PreloadBytes)
		if err != nil {
			c.logger.Warn("preload failed",
				slog.String("source", nextSource),
				slog.String("error", err.Error()),
			)
		} else {
			c.next = nextSource
			c.stopPreload = stop
		}
	}

	if c.history != nil {
		go c.loadResume(c.gen, source)
	}
}

// stop discards the current item and tears the cache down for it.
func (c *Controller) stop() {
	wasItem := c.hasItem
	c.toPlay = false
	c.hasItem = false
	if wasItem {
		c.engine.ReplaceItem("")
	}
	if c.proxy != nil {
		c.proxy.Teardown()
	}
	c.setStatus(domain.StatusInitial)
	c.resetItem()
}

func (c *Controller) resetItem() {
	c.err = nil
	c.inert = false
	c.source = ""
	c.itemURL = ""
	c.toPlay = false
	c.itemStatus = domain.ItemUnknown
	c.keepUp = false
	c.bufferEmpty = false
	c.bufferFull = false
	c.rate = 0
	c.position = 0
	c.duration = 0
	c.buffered = domain.TimeRange{}
	c.resumeAt = 0
	c.pausedForBackground = false
	c.pausedForResign = false
}

func (c *Controller) cancelPreload() {
	if c.stopPreload != nil {
		c.stopPreload()
		c.stopPreload = nil
	}
	c.next = ""
}

func (c *Controller) maybeResume() {
	if c.resumeAt <= 0 || c.status != domain.StatusPrepared {
		return
	}
	at := c.resumeAt
	c.resumeAt = 0
	c.logger.Info("resuming from saved position",
		slog.String("source", c.source),
		slog.Float64("position", at),
	)
	c.engine.Seek(at)
}

func (c *Controller) loadResume(gen uint64, source string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HistoryTimeout)
	defer cancel()
	wp, err := c.history.Get(ctx, source)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn("watch position lookup failed",
				slog.String("source", source),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if wp.Position < resumeMinSeconds {
		return
	}
	if wp.Duration > 0 && wp.Position >= wp.Duration-resumeTailSeconds {
		return
	}
	_ = c.send(event{kind: evResume, gen: gen, position: wp.Position})
}

func (c *Controller) saveHistory() {
	if c.history == nil || !c.hasItem || c.position <= 0 {
		return
	}
	wp := domain.WatchPosition{
		Source:    c.source,
		Position:  c.position,
		Duration:  c.duration,
		UpdatedAt: time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HistoryTimeout)
		defer cancel()
		if err := c.history.Upsert(ctx, wp); err != nil {
			c.logger.Warn("watch position save failed",
				slog.String("source", wp.Source),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (c *Controller) snapshot() Snapshot {
	s := Snapshot{
		Status:     c.status,
		Source:     c.source,
		ItemURL:    c.itemURL,
		Next:       c.next,
		Position:   c.position,
		Duration:   c.duration,
		Buffered:   c.buffered,
		Rate:       c.rate,
		WantsPlay:  c.toPlay,
		Preloading: c.stopPreload != nil,
	}
	if c.err != nil {
		s.Error = c.err.Error()
	}
	return s
}
