// Package playback turns an ordered word sequence into an ordered stream of
// rendered sign frames. A prefetching producer and a rendering consumer are
// joined by a bounded Queue, so at most Capacity word clips are held in
// memory no matter how long the sentence is.
package playback

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/varshagowdavg/signbridge/internal/protocol"
)

// Item is one queue slot: the frames of one word, in playback order.
// Frames is empty when the word could not be resolved or loaded, and Reason
// says why.
type Item struct {
	Index  int
	Word   string
	Frames []protocol.SignFrame
	Reason string
}

type entry struct {
	item     Item
	sentinel bool
}

// Queue is a bounded FIFO of word clips closed by a single terminal sentinel.
//
// A producer calls Reserve before it starts loading a word and Put when the
// clip is ready; the slot is released when the consumer dequeues the item.
// Reserve therefore blocks while Capacity words are loading or waiting to be
// consumed. Putting without a reservation, closing twice and dequeuing past
// the sentinel are programming errors and panic.
type Queue struct {
	capacity int
	slots    chan struct{}
	items    chan entry

	mu       sync.Mutex
	reserved int
	closed   bool

	drained  atomic.Bool
	inFlight atomic.Int64
	peak     atomic.Int64
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		capacity: capacity,
		slots:    make(chan struct{}, capacity),
		items:    make(chan entry, capacity+1),
	}
}

func (q *Queue) Capacity() int {
	return q.capacity
}

// Reserve claims a slot, blocking until one is free or ctx is done.
func (q *Queue) Reserve(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	q.mu.Lock()
	q.reserved++
	q.mu.Unlock()

	n := q.inFlight.Add(1)
	for {
		p := q.peak.Load()
		if n <= p || q.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return nil
}

// Put enqueues an item into a previously reserved slot. It never blocks.
func (q *Queue) Put(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		panic("playback: put on closed queue")
	}
	if q.reserved == 0 {
		panic("playback: put without a reserved slot")
	}
	q.reserved--
	q.items <- entry{item: item}
}

// Close enqueues the terminal sentinel. It must be called exactly once, after
// the last Put.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		panic("playback: queue closed twice")
	}
	q.closed = true
	q.items <- entry{sentinel: true}
}

// Get dequeues the next item. ok is false once the sentinel is reached.
func (q *Queue) Get(ctx context.Context) (item Item, ok bool, err error) {
	if q.drained.Load() {
		panic("playback: get after sentinel")
	}
	if err := ctx.Err(); err != nil {
		return Item{}, false, err
	}
	select {
	case e := <-q.items:
		if e.sentinel {
			q.drained.Store(true)
			return Item{}, false, nil
		}
		q.release()
		return e.item, true, nil
	case <-ctx.Done():
		return Item{}, false, ctx.Err()
	}
}

// Discard drops whatever is still buffered, releasing the slots, and reports
// how many word clips were dropped. Used after cancellation.
func (q *Queue) Discard() int {
	n := 0
	for {
		select {
		case e := <-q.items:
			if e.sentinel {
				q.drained.Store(true)
				continue
			}
			q.release()
			n++
		default:
			return n
		}
	}
}

// Len is the number of items ready to be dequeued, not counting the sentinel.
func (q *Queue) Len() int {
	n := len(q.items)
	if n > 0 && q.isClosed() && !q.drained.Load() {
		n--
	}
	return n
}

// InFlight is the number of reserved slots not yet dequeued.
func (q *Queue) InFlight() int {
	return int(q.inFlight.Load())
}

// Peak is the highest InFlight value observed.
func (q *Queue) Peak() int {
	return int(q.peak.Load())
}

func (q *Queue) release() {
	q.inFlight.Add(-1)
	<-q.slots
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
