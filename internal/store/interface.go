package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/subhash199/kaninify-Pos-sub002/internal/config"
)

// Store is the persistence boundary for the outbox queue, the synced ledger,
// the durable conflict queue and tracked business rows. All of them share one
// local database so capture and completion can be transactional.
type Store interface {
	// Change capture. CaptureChange runs inside the caller's transaction so
	// that a row mutation and its outbox entry commit or roll back together.
	CaptureChange(ctx context.Context, tx *sql.Tx, tableName, recordID string, op Operation, now time.Time) error

	// Outbox
	FetchPending(ctx context.Context, tableName string, batchSize, maxRetries int, retryCutoff time.Time) ([]*OutboxEntry, error)
	ClaimEntry(ctx context.Context, id int64, now time.Time) (bool, error)
	RecordFailure(ctx context.Context, id int64, errMsg string, final bool, now time.Time) error
	MarkEntryConflict(ctx context.Context, id int64, now time.Time) error
	ReopenEntry(ctx context.Context, tableName, recordID string, now time.Time) error
	// CompleteEntry returns ErrSuperseded when the row re-entered Pending
	// while its push was in flight; the entry is then requeued, not closed.
	CompleteEntry(ctx context.Context, table config.TableConfig, entry *OutboxEntry, location SyncLocation, now time.Time) error
	ResetInFlight(ctx context.Context, tables []config.TableConfig, now time.Time) (int64, error)
	GetOutboxEntry(ctx context.Context, id int64) (*OutboxEntry, error)
	GetLiveEntry(ctx context.Context, tableName, recordID string) (*OutboxEntry, error)

	// Tracked rows
	GetTrackedRow(ctx context.Context, table config.TableConfig, recordID string) (*TrackedRow, error)
	SetRowStatus(ctx context.Context, table config.TableConfig, recordID string, status SyncStatus) error
	AdoptRemoteRow(ctx context.Context, table config.TableConfig, recordID string, data map[string]interface{}, remoteLastModified time.Time) error

	// Synced ledger
	LastSynced(ctx context.Context, tableName, recordID string) (*LedgerEntry, error)
	ListLedger(ctx context.Context, tableName string, limit, offset int) ([]*LedgerEntry, error)

	// Conflicts
	SaveConflict(ctx context.Context, conflict *ConflictRecord) error
	GetConflict(ctx context.Context, id string) (*ConflictRecord, error)
	ListConflicts(ctx context.Context, resolved bool, limit, offset int) ([]*ConflictRecord, error)
	MarkConflictResolved(ctx context.Context, id, strategy string, now time.Time) error

	// Diagnostics
	CountByStatus(ctx context.Context) ([]*TableCounts, error)
	RecentFailures(ctx context.Context, limit int) ([]*OutboxEntry, error)

	// General
	Close() error
}
