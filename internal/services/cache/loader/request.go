package loader

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"

	"playerhub/internal/domain"
	"playerhub/internal/domain/ports"
)

// residentChunk bounds how much cached data one Next call materializes.
const residentChunk = 1 << 20

type DeliveryKind int

const (
	DeliveryInfo DeliveryKind = iota
	DeliveryData
	DeliveryDone
	DeliveryError
)

var deliveryKindNames = [...]string{"info", "data", "done", "error"}

func (k DeliveryKind) String() string {
	if int(k) < len(deliveryKindNames) {
		return deliveryKindNames[k]
	}
	return "unknown"
}

// Delivery is one message pushed by a loader to a read request.
type Delivery struct {
	Kind   DeliveryKind
	Info   domain.ContentInfo
	Offset int64
	Data   []byte
	Err    error
}

// queued is a mailbox entry. Entries with a store are read from it when
// the consumer gets to them, so large cached spans are not copied into
// memory up front.
type queued struct {
	d      Delivery
	store  ports.RangeStore
	length int64
}

// Request is one consumer's interest in [Offset, Offset+Length) of a
// source. Length 0 means to the end of the resource. The loader pushes
// deliveries into its mailbox; the owner drains them with Next.
type Request struct {
	ID     string
	Offset int64
	Length int64

	mu        sync.Mutex
	queue     []queued
	notify    chan struct{}
	closed    <-chan struct{}
	refetch   chan<- *Request
	current   int64
	infoSent  bool
	finished  bool
	cancelled bool
	drained   bool

	// stalled is set while the loader has not yet picked up a request
	// whose cached bytes vanished before they were read.
	stalled bool
}

func NewRequest(offset, length int64) *Request {
	if offset < 0 {
		offset = 0
	}
	if length < 0 {
		length = 0
	}
	return &Request{
		ID:      uuid.NewString(),
		Offset:  offset,
		Length:  length,
		notify:  make(chan struct{}, 1),
		current: offset,
	}
}

// Bounded reports whether the request has an explicit end.
func (r *Request) Bounded() bool { return r.Length > 0 }

// End is the exclusive end offset of a bounded request.
func (r *Request) End() int64 { return r.Offset + r.Length }

// Current is the next offset not yet handed to the mailbox.
func (r *Request) Current() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Request) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// Next blocks until the next delivery is available. It returns
// domain.ErrCancelled once the owner removed the request, domain.ErrClosed
// when the loader was torn down and io.EOF after the terminal delivery was
// consumed.
func (r *Request) Next(ctx context.Context) (Delivery, error) {
	for {
		r.mu.Lock()
		if r.cancelled {
			r.mu.Unlock()
			return Delivery{}, domain.ErrCancelled
		}
		if len(r.queue) > 0 {
			if r.queue[0].store != nil {
				store, off, n := r.takeResidentLocked()
				r.mu.Unlock()
				d, ok, err := r.readResident(ctx, store, off, n)
				if err != nil {
					return Delivery{}, err
				}
				if ok {
					return d, nil
				}
				continue
			}
			d := r.queue[0].d
			r.queue[0] = queued{}
			r.queue = r.queue[1:]
			if d.Kind == DeliveryDone || d.Kind == DeliveryError {
				r.drained = true
			}
			r.mu.Unlock()
			return d, nil
		}
		if r.drained {
			r.mu.Unlock()
			return Delivery{}, io.EOF
		}
		closed := r.closed
		r.mu.Unlock()

		select {
		case <-r.notify:
		case <-closed:
			r.mu.Lock()
			pending := len(r.queue) > 0
			r.mu.Unlock()
			if !pending {
				return Delivery{}, domain.ErrClosed
			}
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		}
	}
}

// takeResidentLocked claims the next chunk of a cached span. Only the
// owner calls Next, so the read can happen outside the lock.
func (r *Request) takeResidentLocked() (ports.RangeStore, int64, int64) {
	head := &r.queue[0]
	n := head.length
	if n > residentChunk {
		n = residentChunk
	}
	store, off := head.store, head.d.Offset
	head.d.Offset += n
	head.length -= n
	if head.length == 0 {
		r.queue[0] = queued{}
		r.queue = r.queue[1:]
	}
	return store, off, n
}

// readResident reads a claimed chunk of cached data. When the bytes were
// evicted after they were scheduled, the request rewinds to off and asks
// its loader to fetch them again; ok is false in that case.
func (r *Request) readResident(ctx context.Context, store ports.RangeStore, off, n int64) (d Delivery, ok bool, err error) {
	data, err := store.Read(off, n)
	if err == nil {
		return Delivery{Kind: DeliveryData, Offset: off, Data: data}, true, nil
	}
	if !errors.Is(err, domain.ErrNotResident) {
		r.mu.Lock()
		r.queue = nil
		r.finished = true
		r.drained = true
		r.mu.Unlock()
		return Delivery{Kind: DeliveryError, Offset: off, Err: err}, true, nil
	}

	r.mu.Lock()
	r.queue = nil
	r.current = off
	r.finished = false
	r.stalled = true
	refetch, closed := r.refetch, r.closed
	r.mu.Unlock()

	select {
	case refetch <- r:
		return Delivery{}, false, nil
	case <-closed:
		return Delivery{}, false, domain.ErrClosed
	case <-ctx.Done():
		return Delivery{}, false, ctx.Err()
	}
}

// resume clears the stalled state once the loader took the request back.
// It reports false when the owner already removed it.
func (r *Request) resume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return false
	}
	r.stalled = false
	return true
}

func (r *Request) inactive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled || r.finished
}

// attach binds the request to a loader's closed and refetch channels.
func (r *Request) attach(closed <-chan struct{}, refetch chan<- *Request) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled || r.finished {
		return false
	}
	r.closed = closed
	r.refetch = refetch
	return true
}

// cancel marks the request removed by its owner. Pending and racing
// deliveries are discarded. It reports whether this call changed state.
func (r *Request) cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return false
	}
	r.cancelled = true
	r.queue = nil
	r.signal()
	return true
}

func (r *Request) blockedLocked() bool {
	return r.cancelled || r.finished || r.stalled
}

func (r *Request) pushLocked(q queued) {
	if r.blockedLocked() {
		return
	}
	r.queue = append(r.queue, q)
	r.signal()
}

func (r *Request) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *Request) pushInfo(info domain.ContentInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.infoSent {
		return
	}
	r.infoSent = true
	r.pushLocked(queued{d: Delivery{Kind: DeliveryInfo, Info: info}})
}

func (r *Request) hasInfo() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.infoSent
}

// pushData hands over bytes starting at the request's current offset.
func (r *Request) pushData(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.infoSent || len(data) == 0 || r.blockedLocked() {
		return
	}
	r.pushLocked(queued{d: Delivery{Kind: DeliveryData, Offset: r.current, Data: data}})
	r.current += int64(len(data))
}

// pushResident schedules n cached bytes at the current offset to be read
// from store when the consumer reaches them.
func (r *Request) pushResident(store ports.RangeStore, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.infoSent || n <= 0 || r.blockedLocked() {
		return
	}
	r.pushLocked(queued{d: Delivery{Kind: DeliveryData, Offset: r.current}, store: store, length: n})
	r.current += n
}

func (r *Request) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished || r.stalled {
		return
	}
	d := Delivery{Kind: DeliveryDone, Offset: r.current}
	if err != nil {
		d = Delivery{Kind: DeliveryError, Offset: r.current, Err: err}
	}
	r.pushLocked(queued{d: d})
	r.finished = true
}
