package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/dbx"
	"github.com/dmitrijs2005/ledgersync/internal/timex"
)

const columns = `local_id, remote_id, payload, updated_at, remote_updated_at, dirty, deleted`

// SQLiteRepository implements Repository over one entity table.
type SQLiteRepository struct {
	db    dbx.DBTX
	table string
	clock *Clock
}

// NewSQLiteRepository binds a repository to db (a *sql.DB or *sql.Tx).
// table must already be validated; Store does that.
func NewSQLiteRepository(db dbx.DBTX, table string, clock *Clock) *SQLiteRepository {
	if clock == nil {
		clock = NewClock(nil)
	}
	return &SQLiteRepository{db: db, table: table, clock: clock}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (models.RawRecord, error) {
	var (
		rec             models.RawRecord
		remoteID        sql.NullString
		payload         string
		updatedAt       int64
		remoteUpdatedAt int64
	)
	if err := s.Scan(&rec.LocalID, &remoteID, &payload, &updatedAt, &remoteUpdatedAt, &rec.Dirty, &rec.Deleted); err != nil {
		return rec, err
	}
	rec.RemoteID = remoteID.String
	rec.Payload = json.RawMessage(payload)
	rec.UpdatedAt = timex.FromMicros(updatedAt)
	rec.RemoteUpdatedAt = timex.FromMicros(remoteUpdatedAt)
	return rec, nil
}

func (r *SQLiteRepository) queryRecords(ctx context.Context, what, query string, args ...any) ([]models.RawRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", what, err)
	}
	defer rows.Close()

	var result []models.RawRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", what, err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", what, err)
	}
	return result, nil
}

func (r *SQLiteRepository) getOne(ctx context.Context, where string, arg any) (models.RawRecord, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s`, columns, r.table, where)
	rec, err := scanRecord(r.db.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return rec, common.ErrorNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("failed to get %s record: %w", r.table, err)
	}
	return rec, nil
}

// exec runs a single-row statement and maps "no row affected" to ErrorNotFound.
func (r *SQLiteRepository) exec(ctx context.Context, op string, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s %s record: %w", op, r.table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s %s record: %w", op, r.table, err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *SQLiteRepository) Create(ctx context.Context, payload json.RawMessage) (models.RawRecord, error) {
	now := r.clock.Now()
	q := fmt.Sprintf(`INSERT INTO %s (payload, updated_at, dirty, deleted) VALUES (?, ?, 1, 0)`, r.table)
	res, err := r.db.ExecContext(ctx, q, string(payload), timex.Micros(now))
	if err != nil {
		return models.RawRecord{}, fmt.Errorf("failed to insert %s record: %w", r.table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.RawRecord{}, fmt.Errorf("failed to insert %s record: %w", r.table, err)
	}
	return models.RawRecord{LocalID: id, Payload: payload, UpdatedAt: now, Dirty: true}, nil
}

func (r *SQLiteRepository) UpdatePayload(ctx context.Context, localID int64, payload json.RawMessage) error {
	q := fmt.Sprintf(`UPDATE %s SET payload = ?, dirty = 1, updated_at = ? WHERE local_id = ? AND deleted = 0`, r.table)
	return r.exec(ctx, "update", q, string(payload), timex.Micros(r.clock.Now()), localID)
}

func (r *SQLiteRepository) Get(ctx context.Context, localID int64) (models.RawRecord, error) {
	return r.getOne(ctx, "local_id = ?", localID)
}

func (r *SQLiteRepository) GetByRemoteID(ctx context.Context, remoteID string) (models.RawRecord, error) {
	return r.getOne(ctx, "remote_id = ?", remoteID)
}

func (r *SQLiteRepository) ListLive(ctx context.Context) ([]models.RawRecord, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE deleted = 0 ORDER BY local_id`, columns, r.table)
	return r.queryRecords(ctx, r.table, q)
}

func (r *SQLiteRepository) ListNeverPushed(ctx context.Context) ([]models.RawRecord, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE remote_id IS NULL AND deleted = 0 ORDER BY local_id`, columns, r.table)
	return r.queryRecords(ctx, r.table, q)
}

func (r *SQLiteRepository) MarkDirty(ctx context.Context, localID int64) error {
	q := fmt.Sprintf(`UPDATE %s SET dirty = 1, updated_at = ? WHERE local_id = ?`, r.table)
	return r.exec(ctx, "mark dirty", q, timex.Micros(r.clock.Now()), localID)
}

func (r *SQLiteRepository) MarkDeleted(ctx context.Context, localID int64) error {
	q := fmt.Sprintf(`UPDATE %s SET deleted = 1, dirty = 1, updated_at = ? WHERE local_id = ?`, r.table)
	return r.exec(ctx, "mark deleted", q, timex.Micros(r.clock.Now()), localID)
}

func (r *SQLiteRepository) PendingChanges(ctx context.Context) ([]models.RawRecord, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE dirty = 1 ORDER BY updated_at ASC, local_id ASC`, columns, r.table)
	return r.queryRecords(ctx, "pending "+r.table, q)
}

func (r *SQLiteRepository) ClearDirty(ctx context.Context, localID int64, remoteID string, remoteUpdatedAt, pushedAt time.Time) error {
	q := fmt.Sprintf(`
		UPDATE %s SET
			dirty = CASE WHEN ? > 0 AND updated_at > ? THEN 1 ELSE 0 END,
			remote_updated_at = ?,
			remote_id = COALESCE(?, remote_id)
		WHERE local_id = ?`, r.table)
	pushed := timex.Micros(pushedAt)
	return r.exec(ctx, "clear dirty", q, pushed, pushed, timex.Micros(remoteUpdatedAt), nullable(remoteID), localID)
}

func (r *SQLiteRepository) ApplyRemote(ctx context.Context, localID int64, remote models.RemoteRecord) error {
	payload := remote.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	q := fmt.Sprintf(`
		UPDATE %s SET
			remote_id = ?, payload = ?, updated_at = ?, remote_updated_at = ?,
			dirty = 0, deleted = ?
		WHERE local_id = ?`, r.table)
	return r.exec(ctx, "apply remote", q,
		remote.RemoteID, string(payload), timex.Micros(r.clock.Now()), timex.Micros(remote.UpdatedAt), remote.Deleted, localID)
}

func (r *SQLiteRepository) InsertRemote(ctx context.Context, remote models.RemoteRecord) (int64, error) {
	payload := remote.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	q := fmt.Sprintf(`
		INSERT INTO %s (remote_id, payload, updated_at, remote_updated_at, dirty, deleted)
		VALUES (?, ?, ?, ?, 0, ?)`, r.table)
	res, err := r.db.ExecContext(ctx, q,
		remote.RemoteID, string(payload), timex.Micros(r.clock.Now()), timex.Micros(remote.UpdatedAt), remote.Deleted)
	if err != nil {
		return 0, fmt.Errorf("failed to insert remote %s record: %w", r.table, err)
	}
	return res.LastInsertId()
}

func (r *SQLiteRepository) Rebaseline(ctx context.Context, localID int64, remoteID string, remoteUpdatedAt time.Time) error {
	q := fmt.Sprintf(`UPDATE %s SET remote_updated_at = ?, remote_id = COALESCE(?, remote_id) WHERE local_id = ?`, r.table)
	return r.exec(ctx, "rebaseline", q, timex.Micros(remoteUpdatedAt), nullable(remoteID), localID)
}

func (r *SQLiteRepository) Purge(ctx context.Context, localID int64) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE local_id = ?`, r.table)
	_, err := r.db.ExecContext(ctx, q, localID)
	if err != nil {
		return fmt.Errorf("failed to purge %s record: %w", r.table, err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, r.table))
	if err != nil {
		return fmt.Errorf("failed to clear %s: %w", r.table, err)
	}
	return nil
}
