package sql

import (
	"context"
	"time"

	"github.com/dogmatiq/mergedeploy/internal/x/sqlx"
	"github.com/dogmatiq/mergedeploy/ledger"
	jsqlx "github.com/jmoiron/sqlx"
)

// Ledger is an implementation of ledger.Ledger that stores tickets in an SQL
// database.
type Ledger struct {
	// DB is the SQL database. It may be shared with a DataStore.
	DB *jsqlx.DB
}

var _ ledger.Ledger = (*Ledger)(nil)

// ticketRow is the database representation of a ledger.Ticket.
type ticketRow struct {
	Sequence   uint64 `db:"sequence"`
	Partition  string `db:"part"`
	Key        string `db:"ticket_key"`
	Token      string `db:"token"`
	EnqueuedAt int64  `db:"enqueued_at"`
	VisibleAt  int64  `db:"visible_at"`
	Revision   uint64 `db:"revision"`
}

func (r ticketRow) unmarshal() ledger.Ticket {
	return ledger.Ticket{
		Partition:  r.Partition,
		Key:        r.Key,
		Token:      r.Token,
		Sequence:   r.Sequence,
		EnqueuedAt: sqlx.UnmarshalTime(r.EnqueuedAt),
		VisibleAt:  sqlx.UnmarshalTime(r.VisibleAt),
		Revision:   r.Revision,
	}
}

const selectTicket = `SELECT
	sequence,
	part,
	ticket_key,
	token,
	enqueued_at,
	visible_at,
	revision
FROM ledger_ticket`

// Enqueue appends a ticket to the end of a partition.
func (l *Ledger) Enqueue(
	ctx context.Context,
	part, key, token string,
) (t ledger.Ticket, err error) {
	d := dialectOf(l.DB)

	err = sqlx.Update(
		ctx,
		l.DB,
		func(tx *jsqlx.Tx) {
			lockPartition(ctx, tx, d, part)

			now := sqlx.MarshalTime(time.Now())

			sqlx.Exec(
				ctx,
				tx,
				`INSERT INTO ledger_ticket (
					part,
					ticket_key,
					token,
					enqueued_at,
					visible_at,
					revision
				) VALUES (?, ?, ?, ?, ?, 1)
				ON CONFLICT (part, ticket_key) DO NOTHING`,
				part,
				key,
				token,
				now,
				now,
			)

			var row ticketRow
			sqlx.Get(
				ctx,
				tx,
				&row,
				selectTicket+` WHERE part = ? AND ticket_key = ?`,
				part,
				key,
			)

			t = row.unmarshal()
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
	d := dialectOf(l.DB)

	err = sqlx.Update(
		ctx,
		l.DB,
		func(tx *jsqlx.Tx) {
			lockPartition(ctx, tx, d, part)

			var rows []ticketRow

			query := selectTicket + ` WHERE part = ? ORDER BY sequence` + limitClause(n)
			if hold > 0 {
				query += d.lockRows
			}

			sqlx.Select(ctx, tx, &rows, query, part)

			now := time.Now()

			for _, r := range rows {
				t := r.unmarshal()

				if t.VisibleAt.After(now) {
					break
				}

				if hold > 0 {
					t.VisibleAt = now.Add(hold)
					t.Revision++

					sqlx.Exec(
						ctx,
						tx,
						`UPDATE ledger_ticket SET visible_at = ?, revision = ? WHERE sequence = ?`,
						sqlx.MarshalTime(t.VisibleAt),
						t.Revision,
						t.Sequence,
					)
				}

				result = append(result, t)
			}
		},
	)

	return result, err
}

// lockPartition serializes the transactions that enqueue to or read from a
// partition, for those dialects that allocate sequence numbers outside of
// transaction order.
//
// Without it, a ticket with a lower sequence number can become visible after
// a ticket behind it has already been admitted as the head of the queue.
func lockPartition(ctx context.Context, tx *jsqlx.Tx, d *Dialect, part string) {
	if d.lockPartition != "" {
		sqlx.Exec(ctx, tx, d.lockPartition, part)
	}
}

// Complete removes a ticket from its partition.
func (l *Ledger) Complete(ctx context.Context, t ledger.Ticket) error {
	return sqlx.Update(
		ctx,
		l.DB,
		func(tx *jsqlx.Tx) {
			if sqlx.TryExec(
				ctx,
				tx,
				`DELETE FROM ledger_ticket WHERE part = ? AND ticket_key = ? AND revision = ?`,
				t.Partition,
				t.Key,
				t.Revision,
			) == 0 {
				sqlx.Must(ledger.ConflictError{Operation: "complete", Ticket: t})
			}
		},
	)
}

// Reveal makes a held ticket visible immediately.
func (l *Ledger) Reveal(ctx context.Context, t ledger.Ticket) error {
	return sqlx.Update(
		ctx,
		l.DB,
		func(tx *jsqlx.Tx) {
			if sqlx.TryExec(
				ctx,
				tx,
				`UPDATE ledger_ticket SET visible_at = ?, revision = revision + 1 WHERE part = ? AND ticket_key = ? AND revision = ?`,
				sqlx.MarshalTime(time.Now()),
				t.Partition,
				t.Key,
				t.Revision,
			) == 0 {
				sqlx.Must(ledger.ConflictError{Operation: "reveal", Ticket: t})
			}
		},
	)
}

// Find returns the live ticket with the given key in a partition.
func (l *Ledger) Find(
	ctx context.Context,
	part, key string,
) (t ledger.Ticket, ok bool, err error) {
	defer sqlx.Recover(&err)

	var row ticketRow
	if sqlx.Get(
		ctx,
		l.DB,
		&row,
		selectTicket+` WHERE part = ? AND ticket_key = ?`,
		part,
		key,
	) {
		t, ok = row.unmarshal(), true
	}

	return t, ok, nil
}
