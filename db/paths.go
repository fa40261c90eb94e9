package db

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/edgepub/edgepub/webpath"
)

type publishedPathRow struct {
	Env     string `db:"env"`
	WebURI  string `db:"web_uri"`
	Updated int64  `db:"updated"`
}

// UpsertPublishedPaths records uris as published in env at updated
func (q *Queries) UpsertPublishedPaths(ctx context.Context, env string, uris []string, updated time.Time) error {
	seen := make(map[string]struct{}, len(uris))
	rows := make([]interface{}, 0, len(uris))
	for _, uri := range uris {
		if _, ok := seen[uri]; ok {
			continue
		}
		seen[uri] = struct{}{}
		rows = append(rows, publishedPathRow{Env: env, WebURI: uri, Updated: toNanos(updated)})
	}

	for _, chunk := range chunks(rows, chunkSize) {
		_, err := q.q.Insert(PublishedPathsTable).
			Rows(chunk...).
			OnConflict(goqu.DoUpdate("env, web_uri", goqu.Record{"updated": toNanos(updated)})).
			Executor().ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to record published paths in %s: %w", env, err)
		}
	}
	return nil
}

// ListPublishedPaths returns the published paths of env that lie under
// prefix, compared component-wise. An empty prefix lists everything.
func (q *Queries) ListPublishedPaths(ctx context.Context, env, prefix string) ([]string, error) {
	ds := q.q.From(PublishedPathsTable).
		Select("web_uri").
		Where(goqu.Ex{"env": env}).
		Order(goqu.C("web_uri").Asc())

	prefix = webpath.Normalize(prefix)
	if prefix != "" && prefix != "/" {
		ds = ds.Where(goqu.Or(
			goqu.C("web_uri").Eq(prefix),
			goqu.C("web_uri").Like(prefix+"/%"),
		))
	}

	var uris []string
	if err := ds.ScanValsContext(ctx, &uris); err != nil {
		return nil, fmt.Errorf("failed to list published paths in %s: %w", env, err)
	}

	// LIKE treats '_' and '%' in the prefix as wildcards
	out := uris[:0]
	for _, uri := range uris {
		if prefix == "" || webpath.Under(uri, prefix) {
			out = append(out, uri)
		}
	}
	return out, nil
}

// FilterPublishedPaths returns the subset of uris already published in env
func (q *Queries) FilterPublishedPaths(ctx context.Context, env string, uris []string) ([]string, error) {
	var out []string
	for _, chunk := range chunks(uris, chunkSize) {
		var found []string
		err := q.q.From(PublishedPathsTable).
			Select("web_uri").
			Where(goqu.Ex{"env": env, "web_uri": chunk}).
			Order(goqu.C("web_uri").Asc()).
			ScanValsContext(ctx, &found)
		if err != nil {
			return nil, fmt.Errorf("failed to look up published paths in %s: %w", env, err)
		}
		out = append(out, found...)
	}
	return out, nil
}
