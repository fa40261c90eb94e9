package db

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/edgepub/edgepub/publish"
)

type publishRow struct {
	ID      string `db:"id"`
	Env     string `db:"env"`
	State   string `db:"state"`
	Updated int64  `db:"updated"`
}

func (r publishRow) toPublish() *publish.Publish {
	return &publish.Publish{
		ID:      r.ID,
		Env:     r.Env,
		State:   publish.State(r.State),
		Updated: fromNanos(r.Updated),
	}
}

type itemRow struct {
	PublishID   string `db:"publish_id"`
	WebURI      string `db:"web_uri"`
	ObjectKey   string `db:"object_key"`
	ContentType string `db:"content_type"`
	LinkTo      string `db:"link_to"`
}

// InsertPublish stores a new publish
func (q *Queries) InsertPublish(ctx context.Context, p *publish.Publish) error {
	row := publishRow{
		ID:      p.ID,
		Env:     p.Env,
		State:   string(p.State),
		Updated: toNanos(p.Updated),
	}
	if _, err := q.q.Insert(PublishesTable).Rows(row).Executor().ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to insert publish %s: %w", p.ID, err)
	}
	return nil
}

// GetPublish loads a publish without its items
func (q *Queries) GetPublish(ctx context.Context, id string) (*publish.Publish, error) {
	return q.getPublish(ctx, q.q.From(PublishesTable).Where(goqu.Ex{"id": id}), id)
}

// LockPublish loads a publish and holds a row lock on it until the
// transaction ends. sqlite has no row locks; its transactions are serialized.
func (q *Queries) LockPublish(ctx context.Context, id string) (*publish.Publish, error) {
	ds := q.q.From(PublishesTable).Where(goqu.Ex{"id": id}).ForUpdate(exp.Wait)
	return q.getPublish(ctx, ds, id)
}

func (q *Queries) getPublish(ctx context.Context, ds *goqu.SelectDataset, id string) (*publish.Publish, error) {
	var row publishRow
	found, err := ds.ScanStructContext(ctx, &row)
	if err != nil {
		return nil, fmt.Errorf("failed to load publish %s: %w", id, err)
	}
	if !found {
		return nil, publish.NotFoundf("No publish found for ID %s", id)
	}
	return row.toPublish(), nil
}

// SetPublishState updates the state of a publish
func (q *Queries) SetPublishState(ctx context.Context, id string, state publish.State) error {
	res, err := q.q.Update(PublishesTable).
		Set(goqu.Record{"state": string(state), "updated": toNanos(q.now())}).
		Where(goqu.Ex{"id": id}).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to update publish %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return publish.NotFoundf("No publish found for ID %s", id)
	}
	return nil
}

// ListItems returns the items of a publish ordered by web_uri
func (q *Queries) ListItems(ctx context.Context, publishID string) ([]publish.Item, error) {
	var rows []itemRow
	err := q.q.From(ItemsTable).
		Where(goqu.Ex{"publish_id": publishID}).
		Order(goqu.C("web_uri").Asc()).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to load items of publish %s: %w", publishID, err)
	}

	items := make([]publish.Item, len(rows))
	for i, r := range rows {
		items[i] = publish.Item{
			WebURI:      r.WebURI,
			ObjectKey:   r.ObjectKey,
			ContentType: r.ContentType,
			LinkTo:      r.LinkTo,
		}
	}
	return items, nil
}

// PutItems inserts items into a publish, replacing any existing item with
// the same web_uri. Within items, the last occurrence of a web_uri wins.
func (q *Queries) PutItems(ctx context.Context, publishID string, items []publish.Item) error {
	byURI := make(map[string]int, len(items))
	rows := make([]itemRow, 0, len(items))
	for _, item := range items {
		row := itemRow{
			PublishID:   publishID,
			WebURI:      item.WebURI,
			ObjectKey:   item.ObjectKey,
			ContentType: item.ContentType,
			LinkTo:      item.LinkTo,
		}
		if i, ok := byURI[item.WebURI]; ok {
			rows[i] = row
			continue
		}
		byURI[item.WebURI] = len(rows)
		rows = append(rows, row)
	}

	for _, chunk := range chunks(rows, chunkSize) {
		uris := make([]string, len(chunk))
		for i, r := range chunk {
			uris[i] = r.WebURI
		}

		_, err := q.q.Delete(ItemsTable).
			Where(goqu.Ex{"publish_id": publishID, "web_uri": uris}).
			Executor().ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to replace items of publish %s: %w", publishID, err)
		}

		records := make([]interface{}, len(chunk))
		for i, r := range chunk {
			records[i] = r
		}
		if _, err := q.q.Insert(ItemsTable).Rows(records...).Executor().ExecContext(ctx); err != nil {
			return fmt.Errorf("failed to insert items of publish %s: %w", publishID, err)
		}
	}

	return nil
}
