package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/subhash199/kaninify-Pos-sub002/internal/config"
	"github.com/subhash199/kaninify-Pos-sub002/internal/database"
	"github.com/subhash199/kaninify-Pos-sub002/internal/logger"
)

var (
	ErrNotFound = errors.New("record not found")

	// ErrSuperseded reports that a completion was abandoned because the row
	// re-entered Pending while its push was in flight. The outbox entry has
	// been requeued; the next cycle ships the newer state.
	ErrSuperseded = errors.New("row changed while in flight")
)

// SQLiteStore implements Store over the till's embedded database.
// Timestamps are stored as unix milliseconds so ordering and retry cutoffs
// are exact regardless of driver-level time formatting.
type SQLiteStore struct {
	db *database.LocalDB
}

func NewSQLiteStore(db *database.LocalDB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, fmt.Errorf("failed to ensure sync schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS unsynced_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		table_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		sync_status TEXT NOT NULL DEFAULT 'Pending',
		operation TEXT NOT NULL,
		created_date INTEGER NOT NULL,
		last_modified INTEGER NOT NULL,
		last_synced_at INTEGER,
		sync_error TEXT,
		sync_retry_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unsynced_live
		ON unsynced_log(table_name, record_id)
		WHERE sync_status IN ('Pending', 'InProgress');
	CREATE INDEX IF NOT EXISTS idx_unsynced_fetch
		ON unsynced_log(table_name, sync_status, created_date);

	CREATE TABLE IF NOT EXISTS synced_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		table_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		sync_status TEXT NOT NULL,
		operation TEXT NOT NULL,
		sync_location TEXT NOT NULL,
		synced_date_time INTEGER NOT NULL,
		last_modified INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_synced_key ON synced_log(table_name, record_id);

	CREATE TABLE IF NOT EXISTS conflicts (
		id TEXT PRIMARY KEY,
		table_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		local_data TEXT NOT NULL,
		remote_data TEXT,
		local_last_modified INTEGER NOT NULL,
		remote_last_modified INTEGER,
		recommended_strategy TEXT NOT NULL,
		conflict_reason TEXT NOT NULL,
		detected_at INTEGER NOT NULL,
		resolved INTEGER NOT NULL DEFAULT 0,
		resolution_strategy TEXT,
		resolved_at INTEGER
	);`

	_, err := s.db.DB.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t sql.NullTime) interface{} {
	if !t.Valid {
		return nil
	}
	return millis(t.Time)
}

// --- Change capture ---

// CaptureChange inserts a pending outbox entry for (tableName, recordID)
// unless a live one already exists. It must run on the same transaction as
// the business-row write; a failure here fails that transaction, because a
// committed mutation without an outbox entry would be silent data loss.
func (s *SQLiteStore) CaptureChange(ctx context.Context, tx *sql.Tx, tableName, recordID string, op Operation, now time.Time) error {
	query := `INSERT INTO unsynced_log (table_name, record_id, sync_status, operation, created_date, last_modified, sync_retry_count)
			  SELECT ?, ?, 'Pending', ?, ?, ?, 0
			  WHERE NOT EXISTS (
				  SELECT 1 FROM unsynced_log
				  WHERE table_name = ? AND record_id = ? AND sync_status IN ('Pending', 'InProgress')
			  )`

	_, err := tx.ExecContext(ctx, query,
		tableName, recordID, string(op), millis(now), millis(now),
		tableName, recordID,
	)
	if err != nil {
		return fmt.Errorf("failed to capture change for %s/%s: %w", tableName, recordID, err)
	}
	return nil
}

// --- Outbox ---

const outboxColumns = `id, table_name, record_id, sync_status, operation, created_date, last_modified, last_synced_at, sync_error, sync_retry_count`

func scanOutboxEntry(row interface{ Scan(...interface{}) error }) (*OutboxEntry, error) {
	var (
		e            OutboxEntry
		created      int64
		modified     int64
		lastSyncedAt sql.NullInt64
	)
	err := row.Scan(
		&e.ID,
		&e.TableName,
		&e.RecordID,
		&e.SyncStatus,
		&e.Operation,
		&created,
		&modified,
		&lastSyncedAt,
		&e.SyncError,
		&e.SyncRetryCount,
	)
	if err != nil {
		return nil, err
	}
	e.CreatedDate = fromMillis(created)
	e.LastModified = fromMillis(modified)
	if lastSyncedAt.Valid {
		e.LastSyncedAt = sql.NullTime{Time: fromMillis(lastSyncedAt.Int64), Valid: true}
	}
	return &e, nil
}

// FetchPending returns up to batchSize dispatchable entries for one table,
// oldest first. Entries that already failed at least once are held back
// until retryCutoff has passed since their last transition. Failed entries
// are parked: they re-enter rotation only through ReopenEntry.
func (s *SQLiteStore) FetchPending(ctx context.Context, tableName string, batchSize, maxRetries int, retryCutoff time.Time) ([]*OutboxEntry, error) {
	query := `SELECT ` + outboxColumns + ` FROM unsynced_log
			  WHERE table_name = ?
			    AND sync_status = 'Pending'
			    AND sync_retry_count < ?
			    AND (sync_retry_count = 0 OR last_modified <= ?)
			  ORDER BY created_date ASC, id ASC
			  LIMIT ?`

	rows, err := s.db.DB.QueryContext(ctx, query, tableName, maxRetries, millis(retryCutoff), batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending entries for %s: %w", tableName, err)
	}
	defer rows.Close()

	var entries []*OutboxEntry
	for rows.Next() {
		e, err := scanOutboxEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClaimEntry conditionally moves an entry to InProgress. The guard on the
// previous status is the at-most-once-in-flight gate: a concurrent cycle that
// loses the race affects zero rows and must skip the entry.
func (s *SQLiteStore) ClaimEntry(ctx context.Context, id int64, now time.Time) (bool, error) {
	query := `UPDATE unsynced_log
			  SET sync_status = 'InProgress', last_modified = ?
			  WHERE id = ? AND sync_status IN ('Pending', 'Failed')`

	res, err := s.db.DB.ExecContext(ctx, query, millis(now), id)
	if err != nil {
		return false, fmt.Errorf("failed to claim entry %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecordFailure increments the retry count and either requeues the entry
// (transient, retries left) or parks it as Failed for operator attention.
func (s *SQLiteStore) RecordFailure(ctx context.Context, id int64, errMsg string, final bool, now time.Time) error {
	status := StatusPending
	if final {
		status = StatusFailed
	}
	query := `UPDATE unsynced_log
			  SET sync_status = ?, sync_error = ?, sync_retry_count = sync_retry_count + 1, last_modified = ?
			  WHERE id = ?`

	_, err := s.db.DB.ExecContext(ctx, query, string(status), errMsg, millis(now), id)
	if err != nil {
		return fmt.Errorf("failed to record failure for entry %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) MarkEntryConflict(ctx context.Context, id int64, now time.Time) error {
	query := `UPDATE unsynced_log SET sync_status = 'Conflict', last_modified = ? WHERE id = ?`
	_, err := s.db.DB.ExecContext(ctx, query, millis(now), id)
	if err != nil {
		return fmt.Errorf("failed to mark entry %d conflicted: %w", id, err)
	}
	return nil
}

// ReopenEntry puts a parked (Conflict or Failed) entry back into dispatch
// rotation with a fresh retry budget. Used by operator-driven resolution.
func (s *SQLiteStore) ReopenEntry(ctx context.Context, tableName, recordID string, now time.Time) error {
	query := `UPDATE unsynced_log
			  SET sync_status = 'Pending', sync_retry_count = 0, sync_error = NULL, last_modified = ?
			  WHERE table_name = ? AND record_id = ? AND sync_status IN ('Conflict', 'Failed')`

	res, err := s.db.DB.ExecContext(ctx, query, millis(now), tableName, recordID)
	if err != nil {
		return fmt.Errorf("failed to reopen entry %s/%s: %w", tableName, recordID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteEntry records a confirmed synchronization: row promotion to Synced,
// ledger append and outbox delete happen in one transaction, so a crash
// between them cannot produce a confirmed transmission without its ledger
// entry or a duplicate ledger entry on retry.
//
// The promotion is guarded on the row still being in flight (or already
// adopted). A business write that committed during the push flips the row back
// to Pending, and its state was not what the push carried; promoting it would
// silently lose the newer write. In that case the entry is requeued with a
// fresh retry budget and ErrSuperseded is returned.
func (s *SQLiteStore) CompleteEntry(ctx context.Context, table config.TableConfig, entry *OutboxEntry, location SyncLocation, now time.Time) error {
	superseded := false
	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		row := fmt.Sprintf(`UPDATE %s SET sync_status = 'Synced', last_synced_at = ? WHERE %s = ? AND sync_status IN ('InProgress', 'Synced')`,
			table.Name, table.PrimaryKey)
		res, err := tx.ExecContext(ctx, row, millis(now), entry.RecordID)
		if err != nil {
			return fmt.Errorf("failed to promote row %s/%s: %w", entry.TableName, entry.RecordID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			superseded = true
			requeue := `UPDATE unsynced_log
						SET sync_status = 'Pending', sync_retry_count = 0, sync_error = NULL, last_modified = ?
						WHERE id = ?`
			if _, err := tx.ExecContext(ctx, requeue, millis(now), entry.ID); err != nil {
				return fmt.Errorf("failed to requeue superseded entry %d: %w", entry.ID, err)
			}
			return nil
		}

		ledger := `INSERT INTO synced_log (table_name, record_id, sync_status, operation, sync_location, synced_date_time, last_modified)
				   VALUES (?, ?, 'Synced', ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, ledger,
			entry.TableName, entry.RecordID, string(entry.Operation), string(location), millis(now), millis(entry.LastModified),
		); err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM unsynced_log WHERE id = ?`, entry.ID); err != nil {
			return fmt.Errorf("failed to clear outbox entry %d: %w", entry.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if superseded {
		return ErrSuperseded
	}
	return nil
}

// ResetInFlight is the startup crash-recovery pass: anything still marked
// InProgress never got a durable confirmation, so it goes back to Pending.
// Never to Synced or Failed.
func (s *SQLiteStore) ResetInFlight(ctx context.Context, tables []config.TableConfig, now time.Time) (int64, error) {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE unsynced_log SET sync_status = 'Pending', last_modified = ? WHERE sync_status = 'InProgress'`,
		millis(now))
	if err != nil {
		return 0, fmt.Errorf("failed to reset in-flight outbox entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	for _, t := range tables {
		query := fmt.Sprintf(`UPDATE %s SET sync_status = 'Pending' WHERE sync_status = 'InProgress'`, t.Name)
		if _, err := s.db.DB.ExecContext(ctx, query); err != nil {
			return n, fmt.Errorf("failed to reset in-flight rows in %s: %w", t.Name, err)
		}
	}

	if n > 0 {
		logger.Log.Info("Reset in-flight entries after restart", zap.Int64("count", n))
	}
	return n, nil
}

func (s *SQLiteStore) GetOutboxEntry(ctx context.Context, id int64) (*OutboxEntry, error) {
	query := `SELECT ` + outboxColumns + ` FROM unsynced_log WHERE id = ?`
	e, err := scanOutboxEntry(s.db.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetLiveEntry returns the single non-terminal entry for a key, regardless of
// which non-terminal state it is in.
func (s *SQLiteStore) GetLiveEntry(ctx context.Context, tableName, recordID string) (*OutboxEntry, error) {
	query := `SELECT ` + outboxColumns + ` FROM unsynced_log
			  WHERE table_name = ? AND record_id = ?
			  ORDER BY id DESC
			  LIMIT 1`
	e, err := scanOutboxEntry(s.db.DB.QueryRowContext(ctx, query, tableName, recordID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// --- Tracked rows ---

// GetTrackedRow loads the full current row as a column→value map. The
// dispatcher always pushes this latest committed state, never a snapshot
// taken at capture time.
func (s *SQLiteStore) GetTrackedRow(ctx context.Context, table config.TableConfig, recordID string) (*TrackedRow, error) {
	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s = ?`, table.Name, table.PrimaryKey)

	rows, err := s.db.DB.QueryContext(ctx, query, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to load row %s/%s: %w", table.Name, recordID, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("failed to scan row %s/%s: %w", table.Name, recordID, err)
	}

	data := make(map[string]interface{}, len(cols))
	for i, c := range cols {
		if b, ok := values[i].([]byte); ok {
			data[c] = string(b)
		} else {
			data[c] = values[i]
		}
	}

	row := &TrackedRow{
		TableName: table.Name,
		RecordID:  recordID,
		Data:      data,
	}
	if v, ok := data["sync_status"].(string); ok {
		row.SyncStatus = SyncStatus(v)
	}
	tsCol := table.TimestampColumn
	if tsCol == "" {
		tsCol = "last_modified"
	}
	if v, ok := data[tsCol].(int64); ok {
		row.LastModified = fromMillis(v)
	}
	return row, nil
}

func (s *SQLiteStore) SetRowStatus(ctx context.Context, table config.TableConfig, recordID string, status SyncStatus) error {
	query := fmt.Sprintf(`UPDATE %s SET sync_status = ? WHERE %s = ?`, table.Name, table.PrimaryKey)
	_, err := s.db.DB.ExecContext(ctx, query, string(status), recordID)
	if err != nil {
		return fmt.Errorf("failed to set row status %s/%s: %w", table.Name, recordID, err)
	}
	return nil
}

// AdoptRemoteRow overwrites the local row with the central store's version
// (RemoteWins). The row's timestamp takes the remote's value so a later
// local edit is ordered after the adopted state.
func (s *SQLiteStore) AdoptRemoteRow(ctx context.Context, table config.TableConfig, recordID string, data map[string]interface{}, remoteLastModified time.Time) error {
	tsCol := table.TimestampColumn
	if tsCol == "" {
		tsCol = "last_modified"
	}

	cols := make([]string, 0, len(data))
	for c := range data {
		if c == table.PrimaryKey || c == "sync_status" || c == tsCol {
			continue
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols)+2)
	args := make([]interface{}, 0, len(cols)+3)
	for _, c := range cols {
		sets = append(sets, c+" = ?")
		args = append(args, data[c])
	}
	sets = append(sets, "sync_status = 'Synced'", tsCol+" = ?")
	args = append(args, millis(remoteLastModified), recordID)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s = ?`,
		table.Name, strings.Join(sets, ", "), table.PrimaryKey)

	res, err := s.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to adopt remote row %s/%s: %w", table.Name, recordID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Synced ledger ---

func (s *SQLiteStore) LastSynced(ctx context.Context, tableName, recordID string) (*LedgerEntry, error) {
	query := `SELECT id, table_name, record_id, sync_status, operation, sync_location, synced_date_time, last_modified
			  FROM synced_log
			  WHERE table_name = ? AND record_id = ?
			  ORDER BY synced_date_time DESC, id DESC
			  LIMIT 1`

	e, err := scanLedgerEntry(s.db.DB.QueryRowContext(ctx, query, tableName, recordID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *SQLiteStore) ListLedger(ctx context.Context, tableName string, limit, offset int) ([]*LedgerEntry, error) {
	query := `SELECT id, table_name, record_id, sync_status, operation, sync_location, synced_date_time, last_modified
			  FROM synced_log`
	args := []interface{}{}
	if tableName != "" {
		query += ` WHERE table_name = ?`
		args = append(args, tableName)
	}
	query += ` ORDER BY synced_date_time DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}
	defer rows.Close()

	var entries []*LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanLedgerEntry(row interface{ Scan(...interface{}) error }) (*LedgerEntry, error) {
	var (
		e        LedgerEntry
		syncedAt int64
		modified int64
	)
	err := row.Scan(&e.ID, &e.TableName, &e.RecordID, &e.SyncStatus, &e.Operation, &e.SyncLocation, &syncedAt, &modified)
	if err != nil {
		return nil, err
	}
	e.SyncedDateTime = fromMillis(syncedAt)
	e.LastModified = fromMillis(modified)
	return &e, nil
}

// --- Conflicts ---

func (s *SQLiteStore) SaveConflict(ctx context.Context, c *ConflictRecord) error {
	query := `INSERT INTO conflicts (id, table_name, record_id, local_data, remote_data, local_last_modified, remote_last_modified, recommended_strategy, conflict_reason, detected_at, resolved)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`

	_, err := s.db.DB.ExecContext(ctx, query,
		c.ID,
		c.TableName,
		c.RecordID,
		string(c.LocalData),
		string(c.RemoteData),
		millis(c.LocalLastModified),
		nullMillis(c.RemoteLastModified),
		c.RecommendedStrategy,
		c.ConflictReason,
		millis(c.DetectedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save conflict %s: %w", c.ID, err)
	}
	return nil
}

const conflictColumns = `id, table_name, record_id, local_data, remote_data, local_last_modified, remote_last_modified, recommended_strategy, conflict_reason, detected_at, resolved, resolution_strategy, resolved_at`

func scanConflict(row interface{ Scan(...interface{}) error }) (*ConflictRecord, error) {
	var (
		c          ConflictRecord
		localData  string
		remoteData sql.NullString
		localMod   int64
		remoteMod  sql.NullInt64
		detectedAt int64
		resolvedAt sql.NullInt64
	)
	err := row.Scan(
		&c.ID, &c.TableName, &c.RecordID,
		&localData, &remoteData,
		&localMod, &remoteMod,
		&c.RecommendedStrategy, &c.ConflictReason,
		&detectedAt, &c.Resolved, &c.ResolutionStrategy, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	c.LocalData = json.RawMessage(localData)
	if remoteData.Valid {
		c.RemoteData = json.RawMessage(remoteData.String)
	}
	c.LocalLastModified = fromMillis(localMod)
	if remoteMod.Valid {
		c.RemoteLastModified = sql.NullTime{Time: fromMillis(remoteMod.Int64), Valid: true}
	}
	c.DetectedAt = fromMillis(detectedAt)
	if resolvedAt.Valid {
		c.ResolvedAt = sql.NullTime{Time: fromMillis(resolvedAt.Int64), Valid: true}
	}
	return &c, nil
}

func (s *SQLiteStore) GetConflict(ctx context.Context, id string) (*ConflictRecord, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE id = ?`
	c, err := scanConflict(s.db.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStore) ListConflicts(ctx context.Context, resolved bool, limit, offset int) ([]*ConflictRecord, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts
			  WHERE resolved = ?
			  ORDER BY detected_at DESC
			  LIMIT ? OFFSET ?`

	rows, err := s.db.DB.QueryContext(ctx, query, resolved, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*ConflictRecord
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

func (s *SQLiteStore) MarkConflictResolved(ctx context.Context, id, strategy string, now time.Time) error {
	query := `UPDATE conflicts
			  SET resolved = 1, resolution_strategy = ?, resolved_at = ?
			  WHERE id = ? AND resolved = 0`

	res, err := s.db.DB.ExecContext(ctx, query, strategy, millis(now), id)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Diagnostics ---

func (s *SQLiteStore) CountByStatus(ctx context.Context) ([]*TableCounts, error) {
	query := `SELECT table_name,
			  SUM(CASE WHEN sync_status = 'Pending' THEN 1 ELSE 0 END),
			  SUM(CASE WHEN sync_status = 'InProgress' THEN 1 ELSE 0 END),
			  SUM(CASE WHEN sync_status = 'Failed' THEN 1 ELSE 0 END),
			  SUM(CASE WHEN sync_status = 'Conflict' THEN 1 ELSE 0 END)
			  FROM unsynced_log
			  GROUP BY table_name
			  ORDER BY table_name`

	rows, err := s.db.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count outbox entries: %w", err)
	}
	defer rows.Close()

	var counts []*TableCounts
	for rows.Next() {
		var c TableCounts
		if err := rows.Scan(&c.TableName, &c.Pending, &c.InProgress, &c.Failed, &c.Conflict); err != nil {
			return nil, err
		}
		counts = append(counts, &c)
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) RecentFailures(ctx context.Context, limit int) ([]*OutboxEntry, error) {
	query := `SELECT ` + outboxColumns + ` FROM unsynced_log
			  WHERE sync_error IS NOT NULL
			  ORDER BY last_modified DESC
			  LIMIT ?`

	rows, err := s.db.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent failures: %w", err)
	}
	defer rows.Close()

	var entries []*OutboxEntry
	for rows.Next() {
		e, err := scanOutboxEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
