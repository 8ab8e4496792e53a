package mysql

import (
	"context"
	"database/sql"
	"time"
	"unicode/utf8"

	"github.com/Milesbeckerle/mercado-livre-api/internal/domain"
)

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// Migrate creates the fetch_misses table. Idempotent.
func (r *Repo) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, createFetchMissesSQL)
	return err
}

func (r *Repo) LogMiss(ctx context.Context, itemID string, status int, reason string) error {
	_, err := r.db.ExecContext(ctx, insertMissSQL, itemID, status, truncate(reason, 512))
	return err
}

// truncate cuts s to at most max bytes without splitting a UTF-8 sequence;
// strict-mode utf8mb4 rejects values with a broken trailing rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (r *Repo) ListRecentMisses(ctx context.Context, limit int) ([]domain.FetchMiss, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, listMissesSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FetchMiss
	for rows.Next() {
		var m domain.FetchMiss
		var seen sql.NullTime
		if err := rows.Scan(&m.ItemID, &m.HTTPStatus, &m.Reason, &seen); err != nil {
			return nil, err
		}
		if seen.Valid {
			m.SeenAt = seen.Time.UTC().Format(time.RFC3339)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
