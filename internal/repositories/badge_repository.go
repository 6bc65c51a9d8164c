package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"relay-service/internal/models"
)

// BadgeRepository persists the last-known badge snapshot so client surfaces
// keep displaying a value across restarts until the first successful poll.
type BadgeRepository interface {
	Load(ctx context.Context) (models.BadgeSnapshot, error)
	Save(ctx context.Context, snap models.BadgeSnapshot) error
}

// BadgeRepo is a sqlx-backed single-row snapshot store.
type BadgeRepo struct {
	db *sqlx.DB
}

// NewBadgeRepo constructs a BadgeRepo.
func NewBadgeRepo(db *sqlx.DB) *BadgeRepo {
	return &BadgeRepo{db: db}
}

// Load returns the persisted snapshot, or an empty snapshot when none exists.
func (r *BadgeRepo) Load(ctx context.Context) (models.BadgeSnapshot, error) {
	var row struct {
		Direct    int       `db:"direct_count"`
		Group     int       `db:"group_count"`
		Seq       int64     `db:"seq"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	err := r.db.GetContext(ctx, &row, `SELECT direct_count, group_count, seq, updated_at FROM badge_snapshot WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return models.BadgeSnapshot{}, nil
	}
	if err != nil {
		return models.BadgeSnapshot{}, err
	}
	return models.BadgeSnapshot{
		Counts:    models.BadgeCounts{Direct: row.Direct, Group: row.Group}.Sum(),
		Seq:       row.Seq,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// Save overwrites the snapshot; the newest poll always wins locally.
func (r *BadgeRepo) Save(ctx context.Context, snap models.BadgeSnapshot) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO badge_snapshot (id, direct_count, group_count, seq, updated_at)
        VALUES (1, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET direct_count = excluded.direct_count, group_count = excluded.group_count, seq = excluded.seq, updated_at = excluded.updated_at`,
		snap.Counts.Direct, snap.Counts.Group, snap.Seq, snap.UpdatedAt)
	return err
}
