package memory

import (
	"container/list"
	"errors"
	"sort"
	"strings"
	"sync"

	"playerhub/internal/domain"
	"playerhub/internal/domain/ports"
)

// Provider keeps range stores in memory. When a byte budget is configured
// the least recently used sources are dropped first; losing cached bytes is
// only ever a cache miss.
type Provider struct {
	mu      sync.Mutex
	sources map[string]*store
	lru     *list.List

	maxBytes int64
	curBytes int64
}

type ProviderOption func(*Provider)

func WithMaxBytes(max int64) ProviderOption {
	return func(p *Provider) {
		if max > 0 {
			p.maxBytes = max
		}
	}
}

func NewProvider(opts ...ProviderOption) *Provider {
	p := &Provider{
		sources: make(map[string]*store),
		lru:     list.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) MaxBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxBytes
}

func (p *Provider) SetMaxBytes(max int64) {
	if max < 0 {
		max = 0
	}
	p.mu.Lock()
	p.maxBytes = max
	p.evictLocked(nil)
	p.mu.Unlock()
}

// Size is the number of bytes currently held across all sources.
func (p *Provider) Size() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.curBytes
}

func (p *Provider) Open(source string) (ports.RangeStore, error) {
	key := strings.TrimSpace(source)
	if key == "" {
		return nil, errors.New("empty source")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sources[key]
	if !ok {
		s = &store{provider: p, key: key, set: &domain.RangeSet{}}
		s.elem = p.lru.PushFront(key)
		p.sources[key] = s
		return s, nil
	}
	p.lru.MoveToFront(s.elem)
	return s, nil
}

// Delete drops a source and its bytes.
func (p *Provider) Delete(source string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sources[source]
	if !ok {
		return
	}
	p.curBytes -= s.reset()
	p.lru.Remove(s.elem)
	delete(p.sources, source)
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, s := range p.sources {
		s.reset()
		delete(p.sources, key)
	}
	p.lru.Init()
	p.curBytes = 0
	return nil
}

// account applies a size change reported by a store and enforces the
// budget. Called without the store lock held.
func (p *Provider) account(s *store, delta int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sources[s.key] != s {
		return
	}
	p.curBytes += delta
	p.lru.MoveToFront(s.elem)
	p.evictLocked(s)
}

func (p *Provider) touch(s *store) {
	p.mu.Lock()
	if p.sources[s.key] == s {
		p.lru.MoveToFront(s.elem)
	}
	p.mu.Unlock()
}

// evictLocked frees least recently used sources until the budget holds.
// The active store is only trimmed, oldest-offset segments first, once
// every other source is gone.
func (p *Provider) evictLocked(active *store) {
	if p.maxBytes <= 0 {
		return
	}
	for e := p.lru.Back(); e != nil && p.curBytes > p.maxBytes; e = e.Prev() {
		key, _ := e.Value.(string)
		victim := p.sources[key]
		if victim == nil || victim == active {
			continue
		}
		p.curBytes -= victim.reset()
	}
	if p.curBytes > p.maxBytes && active != nil {
		p.curBytes -= active.trim(p.curBytes - p.maxBytes)
	}
}

type segment struct {
	off  int64
	data []byte
}

func (g segment) end() int64 { return g.off + int64(len(g.data)) }

type store struct {
	provider *Provider
	key      string
	elem     *list.Element

	mu       sync.RWMutex
	segments []segment
	set      *domain.RangeSet
	info     domain.ContentInfo
	hasInfo  bool
	size     int64
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
	if !s.set.Contains(off, length) {
		s.mu.RUnlock()
		return nil, domain.ErrNotResident
	}
	i := sort.Search(len(s.segments), func(i int) bool { return s.segments[i].end() > off })
	seg := s.segments[i]
	out := make([]byte, length)
	copy(out, seg.data[off-seg.off:])
	s.mu.RUnlock()
	s.provider.touch(s)
	return out, nil
}

func (s *store) Write(off int64, p []byte) error {
	if off < 0 {
		return errors.New("negative offset")
	}
	if len(p) == 0 {
		return nil
	}
	s.mu.Lock()
	before := s.size
	s.writeLocked(off, p)
	s.set.Add(off, off+int64(len(p)))
	delta := s.size - before
	s.mu.Unlock()

	s.provider.account(s, delta)
	return nil
}

func (s *store) writeLocked(off int64, p []byte) {
	end := off + int64(len(p))
	i := sort.Search(len(s.segments), func(i int) bool { return s.segments[i].end() >= off })
	j := i
	for j < len(s.segments) && s.segments[j].off <= end {
		j++
	}

	if i == j {
		data := make([]byte, len(p))
		copy(data, p)
		s.segments = append(s.segments, segment{})
		copy(s.segments[i+1:], s.segments[i:])
		s.segments[i] = segment{off: off, data: data}
		s.size += int64(len(p))
		return
	}

	// Streaming fast path: the write extends a single segment at its tail.
	if j == i+1 {
		seg := &s.segments[i]
		if seg.off <= off && end >= seg.end() {
			s.size -= int64(len(seg.data))
			seg.data = append(seg.data[:off-seg.off], p...)
			s.size += int64(len(seg.data))
			return
		}
	}

	start := off
	if s.segments[i].off < start {
		start = s.segments[i].off
	}
	if e := s.segments[j-1].end(); e > end {
		end = e
	}
	buf := make([]byte, end-start)
	for _, seg := range s.segments[i:j] {
		copy(buf[seg.off-start:], seg.data)
		s.size -= int64(len(seg.data))
	}
	copy(buf[off-start:], p)
	s.size += int64(len(buf))
	s.segments[i] = segment{off: start, data: buf}
	s.segments = append(s.segments[:i+1], s.segments[j:]...)
}

func (s *store) Metadata() (domain.ContentInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info, s.hasInfo
}

func (s *store) SetMetadata(info domain.ContentInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasInfo {
		return
	}
	s.info = info
	s.hasInfo = true
}

func (s *store) Resident() []domain.Range {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Spans()
}

func (s *store) Close() error { return nil }

// reset drops every cached byte and returns how many were freed. Metadata
// is kept.
func (s *store) reset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	freed := s.size
	s.segments = nil
	s.set = &domain.RangeSet{}
	s.size = 0
	return freed
}

// trim drops segments from the lowest offsets until at least need bytes
// are freed.
func (s *store) trim(need int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var freed int64
	n := 0
	for n < len(s.segments)-1 && freed < need {
		freed += int64(len(s.segments[n].data))
		n++
	}
	if n == 0 {
		return 0
	}
	s.segments = append([]segment(nil), s.segments[n:]...)
	s.set = &domain.RangeSet{}
	for _, seg := range s.segments {
		s.set.Add(seg.off, seg.end())
	}
	s.size -= freed
	return freed
}

var _ ports.StoreProvider = (*Provider)(nil)
var _ ports.RangeStore = (*store)(nil)
