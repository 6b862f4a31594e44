package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// SyncStatus is the canonical lifecycle of a tracked row and of its outbox
// entry. Every entity participating in sync carries this single state
// machine; it is never re-derived per table.
type SyncStatus string

const (
	StatusPending    SyncStatus = "Pending"
	StatusInProgress SyncStatus = "InProgress"
	StatusSynced     SyncStatus = "Synced"
	StatusFailed     SyncStatus = "Failed"
	StatusConflict   SyncStatus = "Conflict"
)

// Operation is the kind of change that produced an outbox entry. The
// dispatcher always transmits the current row state, so OpDelete assumes soft
// deletes: a tracked table marks rows deleted rather than removing them. A
// hard-deleted row leaves nothing to push and its entry fails permanently.
type Operation string

const (
	OpInsert      Operation = "Insert"
	OpUpdate      Operation = "Update"
	OpDelete      Operation = "Delete"
	OpUpsert      Operation = "Upsert"
	OpBatchInsert Operation = "BatchInsert"
	OpBatchUpdate Operation = "BatchUpdate"
)

// SyncLocation records which side accepted the data a ledger entry confirms.
type SyncLocation string

const (
	LocationCentral SyncLocation = "Central"
	LocationLocal   SyncLocation = "Local"
)

// OutboxEntry is one unit of pending sync work (`unsynced_log`). At most one
// live (Pending or InProgress) entry exists per (TableName, RecordID).
type OutboxEntry struct {
	ID             int64          `db:"id"`
	TableName      string         `db:"table_name"`
	RecordID       string         `db:"record_id"`
	SyncStatus     SyncStatus     `db:"sync_status"`
	Operation      Operation      `db:"operation"`
	CreatedDate    time.Time      `db:"created_date"`
	LastModified   time.Time      `db:"last_modified"`
	LastSyncedAt   sql.NullTime   `db:"last_synced_at"`
	SyncError      sql.NullString `db:"sync_error"`
	SyncRetryCount int            `db:"sync_retry_count"`
}

// LedgerEntry is one confirmed synchronization (`synced_log`). Append-only.
type LedgerEntry struct {
	ID             int64        `db:"id"`
	TableName      string       `db:"table_name"`
	RecordID       string       `db:"record_id"`
	SyncStatus     SyncStatus   `db:"sync_status"`
	Operation      Operation    `db:"operation"`
	SyncLocation   SyncLocation `db:"sync_location"`
	SyncedDateTime time.Time    `db:"synced_date_time"`
	LastModified   time.Time    `db:"last_modified"`
}

// ConflictRecord is a divergence queued for operator review. Only conflicts
// routed to the Manual strategy are persisted; everything else is resolved
// in-flight.
type ConflictRecord struct {
	ID                  string          `db:"id"`
	TableName           string          `db:"table_name"`
	RecordID            string          `db:"record_id"`
	LocalData           json.RawMessage `db:"local_data"`
	RemoteData          json.RawMessage `db:"remote_data"`
	LocalLastModified   time.Time       `db:"local_last_modified"`
	RemoteLastModified  sql.NullTime    `db:"remote_last_modified"`
	RecommendedStrategy string          `db:"recommended_strategy"`
	ConflictReason      string          `db:"conflict_reason"`
	DetectedAt          time.Time       `db:"detected_at"`
	Resolved            bool            `db:"resolved"`
	ResolutionStrategy  sql.NullString  `db:"resolution_strategy"`
	ResolvedAt          sql.NullTime    `db:"resolved_at"`
}

// TrackedRow is the current state of one business row, loaded by the
// dispatcher right before a push so the remote always receives the latest
// committed data rather than a snapshot from capture time.
type TrackedRow struct {
	TableName    string
	RecordID     string
	SyncStatus   SyncStatus
	LastModified time.Time
	Data         map[string]interface{}
}

// TableCounts is the per-table outbox breakdown used by the diagnostics
// surface.
type TableCounts struct {
	TableName  string `db:"table_name"`
	Pending    int64  `db:"pending"`
	InProgress int64  `db:"in_progress"`
	Failed     int64  `db:"failed"`
	Conflict   int64  `db:"conflict"`
}
