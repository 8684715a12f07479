package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/DeafMist/news-rag/internal/models"
)

const newsColumns = `id, url, topic, title, status, content, summary, press, journalist, date, is_indexed, revision`

// UpsertNews inserts doc keyed by URL, or updates every non-identity field of
// the existing row in the same statement and bumps its revision. An existing
// is_indexed flag is kept unless resetIndexed is set. The stored row is
// returned.
func (s *Store) UpsertNews(ctx context.Context, doc models.NewsDocument, resetIndexed bool) (models.NewsDocument, error) {
	if doc.URL == "" {
		return models.NewsDocument{}, fmt.Errorf("%w: upsert news: empty url", ErrPersistence)
	}
	if doc.Status == "" {
		doc.Status = models.StatusSuccess
	}
	now := formatTime(s.now())

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO news(url, topic, title, status, content, summary, press, journalist, date, is_indexed, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,0,?,?)
		ON CONFLICT(url) DO UPDATE SET
			topic=excluded.topic,
			title=excluded.title,
			status=excluded.status,
			content=excluded.content,
			summary=excluded.summary,
			press=excluded.press,
			journalist=excluded.journalist,
			date=excluded.date,
			is_indexed=CASE WHEN ? = 1 THEN 0 ELSE news.is_indexed END,
			revision=news.revision+1,
			updated_at=excluded.updated_at
		RETURNING `+newsColumns,
		doc.URL, doc.Topic, doc.Title, doc.Status, doc.Content, doc.Summary, doc.Press, doc.Journalist,
		formatTime(doc.Date), now, now, boolInt(resetIndexed),
	)

	stored, err := scanNews(row)
	if err != nil {
		s.log.Warn("upsert news failed", slog.String("url", doc.URL), slog.Any("err", err))
		return models.NewsDocument{}, fmt.Errorf("%w: upsert news %s: %w", ErrPersistence, doc.URL, err)
	}
	return stored, nil
}

// FetchUnindexed returns every unindexed document that has text to index.
// Rows whose extraction failed or whose content is empty stay unindexed but
// are not returned, so they do not cost every pass a reload.
func (s *Store) FetchUnindexed(ctx context.Context) ([]models.NewsDocument, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+newsColumns+` FROM news
		WHERE is_indexed=0 AND status=? AND TRIM(content)<>''`, models.StatusSuccess)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch unindexed: %w", ErrPersistence, err)
	}
	defer rows.Close()

	var out []models.NewsDocument
	for rows.Next() {
		doc, err := scanNews(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan news: %w", ErrPersistence, err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch unindexed: %w", ErrPersistence, err)
	}
	return out, nil
}

// MarkIndexed sets is_indexed for the document with the given URL, but only
// while the row is still at revision. It reports false when the row was
// upserted after it was fetched; that newer revision stays unindexed for the
// next pass. Repeated calls on an unchanged row report true.
func (s *Store) MarkIndexed(ctx context.Context, url string, revision int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE news SET is_indexed=1 WHERE url=? AND revision=?`, url, revision)
	if err != nil {
		return false, fmt.Errorf("%w: mark indexed %s: %w", ErrPersistence, url, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: mark indexed %s: %w", ErrPersistence, url, err)
	}
	if n > 0 {
		return true, nil
	}

	var current int64
	err = s.db.QueryRowContext(ctx, `SELECT revision FROM news WHERE url=?`, url).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("mark indexed %s: %w", url, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("%w: mark indexed %s: %w", ErrPersistence, url, err)
	}
	s.log.Info("document changed while indexing, leaving it unindexed",
		slog.String("url", url),
		slog.Int64("indexed_revision", revision),
		slog.Int64("current_revision", current),
	)
	return false, nil
}

// CountUnindexed returns how many documents FetchUnindexed would return.
func (s *Store) CountUnindexed(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM news
		WHERE is_indexed=0 AND status=? AND TRIM(content)<>''`, models.StatusSuccess).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count unindexed: %w", ErrPersistence, err)
	}
	return n, nil
}

// ResetIndexed clears is_indexed on every document so the next indexing pass
// rebuilds the vector index from scratch.
func (s *Store) ResetIndexed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE news SET is_indexed=0 WHERE is_indexed=1`)
	if err != nil {
		return 0, fmt.Errorf("%w: reset indexed: %w", ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: reset indexed: %w", ErrPersistence, err)
	}
	return n, nil
}

// NewsByURL loads a single document.
func (s *Store) NewsByURL(ctx context.Context, url string) (models.NewsDocument, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+newsColumns+` FROM news WHERE url=?`, url)
	doc, err := scanNews(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NewsDocument{}, fmt.Errorf("news %s: %w", url, ErrNotFound)
	}
	if err != nil {
		return models.NewsDocument{}, fmt.Errorf("%w: news %s: %w", ErrPersistence, url, err)
	}
	return doc, nil
}

// CountNews returns the number of stored documents.
func (s *Store) CountNews(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM news`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count news: %w", ErrPersistence, err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNews(row scanner) (models.NewsDocument, error) {
	var (
		doc     models.NewsDocument
		date    string
		indexed int
	)
	if err := row.Scan(&doc.ID, &doc.URL, &doc.Topic, &doc.Title, &doc.Status, &doc.Content,
		&doc.Summary, &doc.Press, &doc.Journalist, &date, &indexed, &doc.Revision); err != nil {
		return models.NewsDocument{}, err
	}
	doc.Date = parseTime(date)
	doc.IsIndexed = indexed == 1
	return doc, nil
}
