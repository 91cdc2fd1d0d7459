package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/dbx"
	"github.com/dmitrijs2005/ledgersync/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const recordColumns = `id, user_id, entity_type, COALESCE(origin, ''), payload, updated_at, deleted, created_at`

func scanRecord(row interface{ Scan(dest ...any) error }) (*models.SyncRecord, error) {
	var (
		r       models.SyncRecord
		payload []byte
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.EntityType, &r.Origin, &payload, &r.UpdatedAt, &r.Deleted, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Payload = payload
	return &r, nil
}

func (r *PostgresRepository) SelectSince(ctx context.Context, userID, entityType string, since, upTo int64) ([]models.SyncRecord, error) {
	query :=
		`SELECT ` + recordColumns + ` FROM sync_records
		 WHERE user_id = $1 AND entity_type = $2 AND updated_at > $3 AND updated_at <= $4
		 ORDER BY updated_at
		 `

	rows, err := r.db.QueryContext(ctx, query, userID, entityType, since, upTo)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.SyncRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID, entityType, id string) (*models.SyncRecord, error) {
	query :=
		`SELECT ` + recordColumns + ` FROM sync_records
		 WHERE id = $1 AND user_id = $2 AND entity_type = $3
		 `
	return r.getOne(ctx, query, id, userID, entityType)
}

func (r *PostgresRepository) GetByOrigin(ctx context.Context, userID, entityType, origin string) (*models.SyncRecord, error) {
	query :=
		`SELECT ` + recordColumns + ` FROM sync_records
		 WHERE user_id = $1 AND entity_type = $2 AND origin = $3
		 `
	return r.getOne(ctx, query, userID, entityType, origin)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*models.SyncRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, rec *models.SyncRecord) error {
	query :=
		`INSERT INTO sync_records (id, user_id, entity_type, origin, payload, updated_at, deleted)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		 `

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.EntityType, rec.Origin, []byte(rec.Payload), rec.UpdatedAt, rec.Deleted)
	if err != nil {
		var pg *pgconn.PgError
		if errors.As(err, &pg) && pg.Code == uniqueViolation {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, rec *models.SyncRecord) error {
	query :=
		`UPDATE sync_records SET payload = $1, updated_at = $2, deleted = $3
		 WHERE id = $4 AND user_id = $5
		 `

	res, err := r.db.ExecContext(ctx, query, []byte(rec.Payload), rec.UpdatedAt, rec.Deleted, rec.ID, rec.UserID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
