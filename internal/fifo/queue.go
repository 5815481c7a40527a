package fifo

import (
	"github.com/shopspring/decimal"

	"journal/internal/domain"
)

// entry is open quantity left from one execution.
type entry struct {
	trade     *domain.Trade
	remaining decimal.Decimal
}

// lotQueue is a FIFO of open entries. Consumed entries are skipped by
// advancing head rather than shifting the slice.
type lotQueue struct {
	entries []entry
	head    int
}

func (q *lotQueue) empty() bool {
	return q.head >= len(q.entries)
}

func (q *lotQueue) front() *entry {
	return &q.entries[q.head]
}

func (q *lotQueue) push(e entry) {
	q.entries = append(q.entries, e)
}

func (q *lotQueue) pop() {
	q.entries[q.head] = entry{}
	q.head++
	if q.empty() {
		q.entries = q.entries[:0]
		q.head = 0
	}
}

func (q *lotQueue) rest() []entry {
	return q.entries[q.head:]
}
