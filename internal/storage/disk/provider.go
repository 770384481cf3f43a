package disk

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"playerhub/internal/domain"
	"playerhub/internal/domain/ports"
)

var bucketSources = []byte("sources")

const defaultFlushInterval = time.Second

// sourceRecord is the persisted index entry of one source.
type sourceRecord struct {
	Source    string             `json:"source"`
	Info      domain.ContentInfo `json:"info"`
	HasInfo   bool               `json:"hasInfo"`
	Spans     []domain.Range     `json:"spans"`
	UpdatedAt int64              `json:"updatedAt"`
}

// Provider stores each source as a sparse data file next to a bbolt index
// of resident spans, so cached ranges survive restarts. Anything that does
// not line up on reopen is discarded as a cache miss.
type Provider struct {
	dir    string
	db     *bolt.DB
	logger *slog.Logger

	flushInterval time.Duration

	mu      sync.Mutex
	sources map[string]*store
	closed  bool
}

type ProviderOption func(*Provider)

func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithFlushInterval bounds how often the span index is written back while
// data keeps arriving. Zero flushes on every write.
func WithFlushInterval(d time.Duration) ProviderOption {
	return func(p *Provider) {
		if d >= 0 {
			p.flushInterval = d
		}
	}
}

func NewProvider(dir string, opts ...ProviderOption) (*Provider, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("cache dir is required")
	}
	dir = filepath.Clean(dir)
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(filepath.Join(dir, "index.db"), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSources)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	p := &Provider{
		dir:           dir,
		db:            db,
		logger:        slog.Default(),
		flushInterval: defaultFlushInterval,
		sources:       make(map[string]*store),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func sourceKey(source string) string {
	hash := sha256.Sum256([]byte(source))
	return hex.EncodeToString(hash[:8])
}

func (p *Provider) dataPath(key string) string {
	return filepath.Join(p.dir, key+".data")
}

func (p *Provider) Open(source string) (ports.RangeStore, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, errors.New("empty source")
	}
	key := sourceKey(source)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("provider closed")
	}
	s, ok := p.sources[key]
	if !ok {
		f, err := os.OpenFile(p.dataPath(key), os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, err
		}
		s = &store{
			provider: p,
			key:      key,
			source:   source,
			file:     f,
			set:      &domain.RangeSet{},
		}
		p.restore(s)
		p.sources[key] = s
	}
	s.refs++
	return &storeRef{store: s}, nil
}

// release drops one reference to s. The last one flushes the index and
// closes the data file.
func (p *Provider) release(s *store) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.refs--
	if s.refs > 0 {
		return nil
	}
	if p.sources[s.key] == s {
		delete(p.sources, s.key)
	}
	err := s.flush()
	s.closeFile()
	return err
}

// OpenFiles is the number of sources whose data file is currently open.
func (p *Provider) OpenFiles() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sources)
}

// restore loads the persisted index for s. Spans reaching past the end of
// the data file are dropped.
func (p *Provider) restore(s *store) {
	var rec sourceRecord
	var found bool
	err := p.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSources).Get([]byte(s.key))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		p.logger.Warn("cache index unreadable, starting cold",
			slog.String("source", s.source),
			slog.String("error", err.Error()),
		)
		_ = p.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketSources).Delete([]byte(s.key))
		})
		return
	}
	if !found || rec.Source != s.source {
		return
	}

	s.info, s.hasInfo = rec.Info, rec.HasInfo
	info, err := s.file.Stat()
	if err != nil {
		return
	}
	for _, sp := range rec.Spans {
		if sp.End() > info.Size() {
			continue
		}
		s.set.Add(sp.Off, sp.End())
	}
}

func (p *Provider) persist(rec sourceRecord, key string) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSources).Put([]byte(key), data)
	})
}

// Delete removes the cached bytes and index entry of a source.
func (p *Provider) Delete(source string) error {
	key := sourceKey(strings.TrimSpace(source))
	p.mu.Lock()
	if s, ok := p.sources[key]; ok {
		s.drop()
		delete(p.sources, key)
	}
	p.mu.Unlock()

	if err := os.Remove(p.dataPath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSources).Delete([]byte(key))
	})
}

// CachedSource is an indexed source as last flushed.
type CachedSource struct {
	Source        string
	ResidentBytes int64
	UpdatedAt     time.Time
}

// Cached lists indexed sources, least recently flushed first.
func (p *Provider) Cached() ([]CachedSource, error) {
	var out []CachedSource
	err := p.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSources).ForEach(func(_, v []byte) error {
			var rec sourceRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			cs := CachedSource{Source: rec.Source, UpdatedAt: time.Unix(rec.UpdatedAt, 0).UTC()}
			for _, sp := range rec.Spans {
				cs.ResidentBytes += sp.Length
			}
			out = append(out, cs)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	stores := make([]*store, 0, len(p.sources))
	for _, s := range p.sources {
		stores = append(stores, s)
	}
	p.sources = map[string]*store{}
	p.mu.Unlock()

	for _, s := range stores {
		if err := s.flush(); err != nil {
			p.logger.Warn("cache index flush failed",
				slog.String("source", s.source),
				slog.String("error", err.Error()),
			)
		}
		s.closeFile()
	}
	return p.db.Close()
}

type store struct {
	provider *Provider
	key      string
	source   string

	// refs is guarded by the provider's lock.
	refs int

	mu        sync.RWMutex
	file      *os.File
	set       *domain.RangeSet
	info      domain.ContentInfo
	hasInfo   bool
	dirty     bool
	deleted   bool
	lastFlush time.Time
}

// storeRef is one Open of a store. Closing it releases that reference once.
type storeRef struct {
	*store
	once sync.Once
	err  error
}

func (r *storeRef) Close() error {
	r.once.Do(func() {
		r.err = r.provider.release(r.store)
	})
	return r.err
}

func (s *store) Contains(off, length int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Contains(off, length)
}

func (s *store) Read(off, length int64) ([]byte, error) {
	if length <= 0 {
		return []byte{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.file == nil || !s.set.Contains(off, length) {
		return nil, domain.ErrNotResident
	}
	buf := make([]byte, length)
	if _, err := s.file.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNotResident, err)
	}
	return buf, nil
}

func (s *store) Write(off int64, p []byte) error {
	if off < 0 {
		return errors.New("negative offset")
	}
	if len(p) == 0 {
		return nil
	}
	s.mu.Lock()
	if s.file == nil {
		s.mu.Unlock()
		return errors.New("store closed")
	}
	if _, err := s.file.WriteAt(p, off); err != nil {
		s.mu.Unlock()
		return err
	}
	s.set.Add(off, off+int64(len(p)))
	s.dirty = true
	due := time.Since(s.lastFlush) >= s.provider.flushInterval
	s.mu.Unlock()

	if due {
		return s.flush()
	}
	return nil
}

func (s *store) Metadata() (domain.ContentInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info, s.hasInfo
}

func (s *store) SetMetadata(info domain.ContentInfo) {
	s.mu.Lock()
	if s.hasInfo {
		s.mu.Unlock()
		return
	}
	s.info = info
	s.hasInfo = true
	s.dirty = true
	s.mu.Unlock()

	if err := s.flush(); err != nil {
		s.provider.logger.Warn("cache metadata persist failed",
			slog.String("source", s.source),
			slog.String("error", err.Error()),
		)
	}
}

func (s *store) Resident() []domain.Range {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Spans()
}

func (s *store) flush() error {
	s.mu.Lock()
	if !s.dirty || s.deleted {
		s.mu.Unlock()
		return nil
	}
	if s.file != nil {
		_ = s.file.Sync()
	}
	rec := sourceRecord{
		Source:    s.source,
		Info:      s.info,
		HasInfo:   s.hasInfo,
		Spans:     s.set.Spans(),
		UpdatedAt: time.Now().UTC().Unix(),
	}
	s.dirty = false
	s.lastFlush = time.Now()
	s.mu.Unlock()

	return s.provider.persist(rec, s.key)
}

// drop detaches a deleted source so later flushes do not recreate its
// index entry.
func (s *store) drop() {
	s.mu.Lock()
	s.deleted = true
	s.dirty = false
	s.mu.Unlock()
	s.closeFile()
}

func (s *store) closeFile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
}

var _ ports.StoreProvider = (*Provider)(nil)
var _ ports.RangeStore = (*storeRef)(nil)
