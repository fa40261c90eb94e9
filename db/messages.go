package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
)

// Message is a queued actor invocation
type Message struct {
	ID         string
	Actor      string
	Body       []byte
	ETA        time.Time
	EnqueuedAt time.Time
	ClaimedAt  *time.Time
	Consumer   string
	Attempts   int
}

type messageRow struct {
	ID         string         `db:"id"`
	Actor      string         `db:"actor"`
	Body       []byte         `db:"body"`
	ETA        int64          `db:"eta"`
	EnqueuedAt int64          `db:"enqueued_at"`
	ClaimedAt  sql.NullInt64  `db:"claimed_at"`
	Consumer   sql.NullString `db:"consumer"`
	Attempts   int            `db:"attempts"`
}

func (r messageRow) toMessage() Message {
	return Message{
		ID:         r.ID,
		Actor:      r.Actor,
		Body:       r.Body,
		ETA:        fromNanos(r.ETA),
		EnqueuedAt: fromNanos(r.EnqueuedAt),
		ClaimedAt:  fromNullNanos(r.ClaimedAt),
		Consumer:   r.Consumer.String,
		Attempts:   r.Attempts,
	}
}

// InsertMessage stores a message for later delivery
func (q *Queries) InsertMessage(ctx context.Context, m Message) error {
	row := messageRow{
		ID:         m.ID,
		Actor:      m.Actor,
		Body:       m.Body,
		ETA:        toNanos(m.ETA),
		EnqueuedAt: toNanos(m.EnqueuedAt),
	}
	if _, err := q.q.Insert(MessagesTable).Rows(row).Executor().ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to enqueue message %s: %w", m.ID, err)
	}
	return nil
}

// ListMessages returns every queued message in enqueue order
func (q *Queries) ListMessages(ctx context.Context) ([]Message, error) {
	var rows []messageRow
	err := q.q.From(MessagesTable).
		Order(goqu.C("enqueued_at").Asc(), goqu.C("id").Asc()).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	out := make([]Message, len(rows))
	for i, r := range rows {
		out[i] = r.toMessage()
	}
	return out, nil
}

// ClaimMessages claims up to limit due messages for consumer. A message is
// claimable when it has never been claimed or its claim is older than
// visibility. Claims are compare-and-set updates, so concurrent consumers
// never claim the same message twice.
func (q *Queries) ClaimMessages(ctx context.Context, consumer string, now time.Time, visibility time.Duration, limit int) ([]Message, error) {
	nowNanos := toNanos(now)
	staleBefore := toNanos(now.Add(-visibility))

	var candidates []messageRow
	err := q.q.From(MessagesTable).
		Where(
			goqu.C("eta").Lte(nowNanos),
			goqu.Or(
				goqu.C("claimed_at").IsNull(),
				goqu.C("claimed_at").Lte(staleBefore),
			),
		).
		Order(goqu.C("eta").Asc(), goqu.C("id").Asc()).
		Limit(uint(limit)).
		ScanStructsContext(ctx, &candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to poll messages: %w", err)
	}

	claimed := make([]Message, 0, len(candidates))
	for _, row := range candidates {
		claim := goqu.C("claimed_at").IsNull()
		if row.ClaimedAt.Valid {
			claim = goqu.C("claimed_at").Eq(row.ClaimedAt.Int64)
		}

		res, err := q.q.Update(MessagesTable).
			Set(goqu.Record{
				"claimed_at": nowNanos,
				"consumer":   consumer,
				"attempts":   goqu.L("attempts + 1"),
			}).
			Where(goqu.C("id").Eq(row.ID), claim).
			Executor().ExecContext(ctx)
		if err != nil {
			return claimed, fmt.Errorf("failed to claim message %s: %w", row.ID, err)
		}
		if n, err := res.RowsAffected(); err != nil || n != 1 {
			continue
		}

		row.ClaimedAt = sql.NullInt64{Int64: nowNanos, Valid: true}
		row.Consumer = sql.NullString{String: consumer, Valid: true}
		row.Attempts++
		claimed = append(claimed, row.toMessage())
	}

	return claimed, nil
}

// DeleteMessage removes a handled message
func (q *Queries) DeleteMessage(ctx context.Context, id string) error {
	_, err := q.q.Delete(MessagesTable).Where(goqu.Ex{"id": id}).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", id, err)
	}
	return nil
}

// QueueStats counts messages that are due and messages still delayed at now
func (q *Queries) QueueStats(ctx context.Context, now time.Time) (due, delayed int, err error) {
	nowNanos := toNanos(now)

	dueCount, err := q.q.From(MessagesTable).Where(goqu.C("eta").Lte(nowNanos)).CountContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count due messages: %w", err)
	}
	delayedCount, err := q.q.From(MessagesTable).Where(goqu.C("eta").Gt(nowNanos)).CountContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count delayed messages: %w", err)
	}
	return int(dueCount), int(delayedCount), nil
}
