package boltdb

import (
	"context"
	"time"

	"github.com/dogmatiq/mergedeploy/internal/x/bboltx"
	"github.com/dogmatiq/mergedeploy/ledger"
	"go.etcd.io/bbolt"
)

var (
	// ledgerBucketKey is the key for the root bucket of the ledger.
	//
	// It contains a child bucket for each partition. The partition bucket's
	// sequence is used to allocate ticket sequence numbers.
	ledgerBucketKey = []byte("ledger")

	// ledgerTicketsBucketKey is the key for a child bucket of each partition
	// that contains its tickets.
	//
	// The keys are the ticket sequence numbers, marshaled using
	// marshalUint64() so that the bucket is ordered FIFO. The values are
	// JSON-encoded ledger.Ticket values.
	ledgerTicketsBucketKey = []byte("tickets")

	// ledgerKeysBucketKey is the key for a child bucket of each partition that
	// indexes live tickets by their deduplication key.
	//
	// The keys are the ticket keys and the values are the marshaled sequence
	// numbers.
	ledgerKeysBucketKey = []byte("keys")
)

// Ledger is an implementation of ledger.Ledger that stores tickets in a
// BoltDB database.
type Ledger struct {
	// DB is the BoltDB database. It may be shared with a DataStore.
	DB *bbolt.DB
}

var _ ledger.Ledger = (*Ledger)(nil)

// Enqueue appends a ticket to the end of a partition.
func (l *Ledger) Enqueue(
	ctx context.Context,
	part, key, token string,
) (t ledger.Ticket, err error) {
	err = bboltx.Update(
		ctx,
		l.DB,
		func(tx *bbolt.Tx) {
			p := bboltx.CreateBucketIfNotExists(tx, ledgerBucketKey, []byte(part))
			tickets := bboltx.CreateBucketIfNotExists(p, ledgerTicketsBucketKey)
			keys := bboltx.CreateBucketIfNotExists(p, ledgerKeysBucketKey)

			if seq := keys.Get([]byte(key)); seq != nil {
				unmarshalRecord(tickets.Get(seq), &t)
				return
			}

			n, err := p.NextSequence()
			bboltx.Must(err)

			now := time.Now()

			t = ledger.Ticket{
				Partition:  part,
				Key:        key,
				Token:      token,
				Sequence:   n,
				EnqueuedAt: now,
				VisibleAt:  now,
				Revision:   1,
			}

			seq := marshalUint64(n)
			bboltx.Put(tickets, seq, marshalRecord(t))
			bboltx.Put(keys, []byte(key), seq)
		},
	)

	return t, err
}

// Peek returns up to n of the oldest visible tickets in a partition.
func (l *Ledger) Peek(
	ctx context.Context,
	part string,
	n int,
	hold time.Duration,
) (result []ledger.Ticket, err error) {
	fn := func(tx *bbolt.Tx) {
		tickets := bboltx.Bucket(tx, ledgerBucketKey, []byte(part), ledgerTicketsBucketKey)
		if tickets == nil {
			return
		}

		now := time.Now()
		cur := tickets.Cursor()

		for k, data := cur.First(); k != nil && len(result) < n; k, data = cur.Next() {
			var t ledger.Ticket
			unmarshalRecord(data, &t)

			if t.VisibleAt.After(now) {
				break
			}

			result = append(result, t)
		}

		if hold <= 0 {
			return
		}

		// The tickets are modified after iteration is complete, as modifying
		// a bucket invalidates its cursors.
		for i := range result {
			t := &result[i]
			t.VisibleAt = now.Add(hold)
			t.Revision++
			bboltx.Put(tickets, marshalUint64(t.Sequence), marshalRecord(*t))
		}
	}

	if hold > 0 {
		err = bboltx.Update(ctx, l.DB, fn)
	} else {
		err = bboltx.View(ctx, l.DB, fn)
	}

	return result, err
}

// Complete removes a ticket from its partition.
func (l *Ledger) Complete(ctx context.Context, t ledger.Ticket) error {
	return bboltx.Update(
		ctx,
		l.DB,
		func(tx *bbolt.Tx) {
			p, seq, _ := match(tx, "complete", t)
			bboltx.Delete(p.Bucket(ledgerTicketsBucketKey), seq)
			bboltx.Delete(p.Bucket(ledgerKeysBucketKey), []byte(t.Key))
		},
	)
}

// Reveal makes a held ticket visible immediately.
func (l *Ledger) Reveal(ctx context.Context, t ledger.Ticket) error {
	return bboltx.Update(
		ctx,
		l.DB,
		func(tx *bbolt.Tx) {
			p, seq, x := match(tx, "reveal", t)
			x.VisibleAt = time.Now()
			x.Revision++
			bboltx.Put(p.Bucket(ledgerTicketsBucketKey), seq, marshalRecord(x))
		},
	)
}

// Find returns the live ticket with the given key in a partition.
func (l *Ledger) Find(
	ctx context.Context,
	part, key string,
) (t ledger.Ticket, ok bool, err error) {
	err = bboltx.View(
		ctx,
		l.DB,
		func(tx *bbolt.Tx) {
			p := bboltx.Bucket(tx, ledgerBucketKey, []byte(part))
			if p == nil {
				return
			}

			seq := p.Bucket(ledgerKeysBucketKey).Get([]byte(key))
			if seq == nil {
				return
			}

			unmarshalRecord(p.Bucket(ledgerTicketsBucketKey).Get(seq), &t)
			ok = true
		},
	)

	return t, ok, err
}

// match loads the persisted ticket that matches t, including its revision.
//
// It panics with a ledger.ConflictError if there is no such ticket.
func match(tx *bbolt.Tx, op string, t ledger.Ticket) (*bbolt.Bucket, []byte, ledger.Ticket) {
	if p := bboltx.Bucket(tx, ledgerBucketKey, []byte(t.Partition)); p != nil {
		if seq := p.Bucket(ledgerKeysBucketKey).Get([]byte(t.Key)); seq != nil {
			seq = append([]byte(nil), seq...)

			var x ledger.Ticket
			unmarshalRecord(p.Bucket(ledgerTicketsBucketKey).Get(seq), &x)

			if x.Revision == t.Revision {
				return p, seq, x
			}
		}
	}

	bboltx.Must(ledger.ConflictError{
		Operation: op,
		Ticket:    t,
	})
	panic("unreachable")
}
