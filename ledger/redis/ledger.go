// Package redis provides a Redis-backed ledger and signaler, for sharing FIFO
// locks between multiple engine processes.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dogmatiq/mergedeploy/ledger"
	redis "github.com/redis/go-redis/v9"
)

// DefaultPrefix is the default prefix applied to all Redis keys.
const DefaultPrefix = "mergedeploy:"

// Ledger is an implementation of ledger.Ledger that stores tickets in Redis.
//
// Each operation is performed atomically by a Lua script. All of the keys
// for a partition share a hash tag, so a partition always resides on a single
// node of a Redis cluster.
type Ledger struct {
	// Client is the Redis client used to access the ledger.
	Client redis.UniversalClient

	// Prefix is prepended to all keys. If it is empty, DefaultPrefix is used.
	Prefix string
}

var _ ledger.Ledger = (*Ledger)(nil)

// Enqueue appends a ticket to the end of a partition.
func (l *Ledger) Enqueue(ctx context.Context, partition, key, token string) (ledger.Ticket, error) {
	k := l.keys(partition)

	raw, err := enqueueScript.Run(
		ctx,
		l.Client,
		[]string{k.order, k.tickets, k.seq},
		key,
		token,
		time.Now().UnixMilli(),
	).Text()
	if err != nil {
		return ledger.Ticket{}, fmt.Errorf("unable to enqueue ticket: %w", err)
	}

	return unmarshalTicket(partition, key, raw)
}

// Peek returns up to n of the oldest visible tickets in a partition.
func (l *Ledger) Peek(
	ctx context.Context,
	partition string,
	n int,
	hold time.Duration,
) ([]ledger.Ticket, error) {
	if n <= 0 {
		return nil, nil
	}

	k := l.keys(partition)

	values, err := peekScript.Run(
		ctx,
		l.Client,
		[]string{k.order, k.tickets},
		n,
		hold.Milliseconds(),
		time.Now().UnixMilli(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("unable to peek at tickets: %w", err)
	}

	var tickets []ledger.Ticket

	for i := 0; i+1 < len(values); i += 2 {
		t, err := unmarshalTicket(partition, values[i], values[i+1])
		if err != nil {
			return nil, err
		}

		tickets = append(tickets, t)
	}

	return tickets, nil
}

// Complete removes a ticket from its partition.
func (l *Ledger) Complete(ctx context.Context, t ledger.Ticket) error {
	k := l.keys(t.Partition)

	ok, err := completeScript.Run(
		ctx,
		l.Client,
		[]string{k.order, k.tickets},
		t.Key,
		t.Revision,
	).Bool()
	if err != nil {
		return fmt.Errorf("unable to complete ticket: %w", err)
	}

	if !ok {
		return ledger.ConflictError{Operation: "complete", Ticket: t}
	}

	return nil
}

// Reveal makes a held ticket visible immediately.
func (l *Ledger) Reveal(ctx context.Context, t ledger.Ticket) error {
	k := l.keys(t.Partition)

	ok, err := revealScript.Run(
		ctx,
		l.Client,
		[]string{k.tickets},
		t.Key,
		t.Revision,
		time.Now().UnixMilli(),
	).Bool()
	if err != nil {
		return fmt.Errorf("unable to reveal ticket: %w", err)
	}

	if !ok {
		return ledger.ConflictError{Operation: "reveal", Ticket: t}
	}

	return nil
}

// Find returns the live ticket with the given key in a partition.
func (l *Ledger) Find(ctx context.Context, partition, key string) (ledger.Ticket, bool, error) {
	raw, err := l.Client.HGet(ctx, l.keys(partition).tickets, key).Result()
	if err == redis.Nil {
		return ledger.Ticket{}, false, nil
	}
	if err != nil {
		return ledger.Ticket{}, false, fmt.Errorf("unable to find ticket: %w", err)
	}

	t, err := unmarshalTicket(partition, key, raw)
	return t, err == nil, err
}

type partitionKeys struct {
	order, tickets, seq string
}

func (l *Ledger) keys(partition string) partitionKeys {
	p := l.Prefix
	if p == "" {
		p = DefaultPrefix
	}

	base := p + "ledger:{" + partition + "}:"

	return partitionKeys{
		order:   base + "order",
		tickets: base + "tickets",
		seq:     base + "seq",
	}
}

// ticketDocument is the JSON representation of a ticket produced by the Lua
// scripts.
type ticketDocument struct {
	Token    string `json:"token"`
	Sequence uint64 `json:"seq"`
	Enqueued int64  `json:"enq"`
	Visible  int64  `json:"vis"`
	Revision uint64 `json:"rev"`
}

func unmarshalTicket(partition, key, raw string) (ledger.Ticket, error) {
	var doc ticketDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return ledger.Ticket{}, fmt.Errorf("unable to unmarshal ticket: %w", err)
	}

	return ledger.Ticket{
		Partition:  partition,
		Key:        key,
		Token:      doc.Token,
		Sequence:   doc.Sequence,
		EnqueuedAt: time.UnixMilli(doc.Enqueued),
		VisibleAt:  time.UnixMilli(doc.Visible),
		Revision:   doc.Revision,
	}, nil
}
