package memory

import (
	"context"
	"time"

	"github.com/dogmatiq/mergedeploy/internal/x/syncx"
	"github.com/dogmatiq/mergedeploy/ledger"
)

// Ledger is an implementation of ledger.Ledger that stores tickets in memory.
//
// The zero-value is ready to use.
type Ledger struct {
	m          syncx.RWMutex
	partitions map[string]*partition
}

var _ ledger.Ledger = (*Ledger)(nil)

// Enqueue appends a ticket to the end of a partition.
func (l *Ledger) Enqueue(
	ctx context.Context,
	part, key, token string,
) (t ledger.Ticket, err error) {
	err = l.m.Do(ctx, func() error {
		p := l.partition(part)

		if i := p.indexOf(key); i != -1 {
			t = *p.tickets[i]
			return nil
		}

		now := time.Now()
		p.seq++

		t = ledger.Ticket{
			Partition:  part,
			Key:        key,
			Token:      token,
			Sequence:   p.seq,
			EnqueuedAt: now,
			VisibleAt:  now,
			Revision:   1,
		}

		clone := t
		p.tickets = append(p.tickets, &clone)

		return nil
	})

	return t, err
}

// Peek returns up to n of the oldest visible tickets in a partition.
func (l *Ledger) Peek(
	ctx context.Context,
	part string,
	n int,
	hold time.Duration,
) (result []ledger.Ticket, err error) {
	err = l.m.Do(ctx, func() error {
		p, ok := l.partitions[part]
		if !ok {
			return nil
		}

		now := time.Now()

		for _, t := range p.tickets {
			if len(result) == n || t.VisibleAt.After(now) {
				break
			}

			if hold > 0 {
				t.VisibleAt = now.Add(hold)
				t.Revision++
			}

			result = append(result, *t)
		}

		return nil
	})

	return result, err
}

// Complete removes a ticket from its partition.
func (l *Ledger) Complete(ctx context.Context, t ledger.Ticket) error {
	return l.m.Do(ctx, func() error {
		p, i, err := l.match("complete", t)
		if err != nil {
			return err
		}

		copy(p.tickets[i:], p.tickets[i+1:])
		p.tickets[len(p.tickets)-1] = nil // prevent memory leak
		p.tickets = p.tickets[:len(p.tickets)-1]

		if len(p.tickets) == 0 {
			// The sequence is retained so that it remains monotonic.
			p.tickets = nil
		}

		return nil
	})
}

// Reveal makes a held ticket visible immediately.
func (l *Ledger) Reveal(ctx context.Context, t ledger.Ticket) error {
	return l.m.Do(ctx, func() error {
		p, i, err := l.match("reveal", t)
		if err != nil {
			return err
		}

		x := p.tickets[i]
		x.VisibleAt = time.Now()
		x.Revision++

		return nil
	})
}

// Find returns the live ticket with the given key in a partition.
func (l *Ledger) Find(
	ctx context.Context,
	part, key string,
) (t ledger.Ticket, ok bool, err error) {
	err = l.m.View(ctx, func() error {
		p, exists := l.partitions[part]
		if !exists {
			return nil
		}

		if i := p.indexOf(key); i != -1 {
			t, ok = *p.tickets[i], true
		}

		return nil
	})

	return t, ok, err
}

// partition returns the partition with the given name, creating it if
// necessary.
func (l *Ledger) partition(name string) *partition {
	if l.partitions == nil {
		l.partitions = map[string]*partition{}
	}

	p, ok := l.partitions[name]
	if !ok {
		p = &partition{}
		l.partitions[name] = p
	}

	return p
}

// match returns the index of the ticket that matches t, including its
// revision.
func (l *Ledger) match(op string, t ledger.Ticket) (*partition, int, error) {
	if p, ok := l.partitions[t.Partition]; ok {
		if i := p.indexOf(t.Key); i != -1 && p.tickets[i].Revision == t.Revision {
			return p, i, nil
		}
	}

	return nil, 0, ledger.ConflictError{
		Operation: op,
		Ticket:    t,
	}
}

// partition is an ordered sequence of tickets.
type partition struct {
	seq     uint64
	tickets []*ledger.Ticket
}

// indexOf returns the index of the ticket with the given key, or -1 if there
// is no such ticket.
func (p *partition) indexOf(key string) int {
	for i, t := range p.tickets {
		if t.Key == key {
			return i
		}
	}

	return -1
}
