package dispatcher

import (
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"
)

const DefaultQueueSize = 16

// Withdrawal is a fully signed release transaction waiting to be broadcast
// on the source chain.
type Withdrawal struct {
	ReleaseHash  common.Hash
	Tx           *wire.MsgTx
	BlockNumber  uint64
	TargetTxHash common.Hash
}

// Queue is a bounded FIFO. Push never blocks; a full queue drops its oldest
// entry.
type Queue struct {
	mu       sync.Mutex
	items    []Withdrawal
	capacity int
	dropped  uint64
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Queue{
		items:    make([]Withdrawal, 0, capacity),
		capacity: capacity,
	}
}

// Push appends w and returns the entry evicted to make room, if any.
func (q *Queue) Push(w Withdrawal) (Withdrawal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var evicted Withdrawal
	full := len(q.items) >= q.capacity
	if full {
		evicted = q.items[0]
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, w)
	return evicted, full
}

// Drain removes and returns everything queued, oldest first.
func (q *Queue) Drain() []Withdrawal {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = make([]Withdrawal, 0, q.capacity)
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue) Capacity() int {
	return q.capacity
}
