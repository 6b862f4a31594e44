package sync

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/subhash199/kaninify-Pos-sub002/internal/config"
	"github.com/subhash199/kaninify-Pos-sub002/internal/database"
	"github.com/subhash199/kaninify-Pos-sub002/internal/logger"
	"github.com/subhash199/kaninify-Pos-sub002/internal/store"
)

// CaptureFunc records one row mutation inside the transaction it was made in.
type CaptureFunc func(tableName, recordID string, op store.Operation) error

// Recorder is the change-capture entry point for the CRUD layer. Whenever a
// business write leaves a row with sync_status = 'Pending', the same
// transaction must also call the capture so that exactly one live outbox
// entry exists for the key. Capture failure fails the whole transaction; a
// committed mutation without an outbox entry would never reach the central
// store.
type Recorder struct {
	db    *database.LocalDB
	store store.Store
	cfg   config.SyncConfig
}

func NewRecorder(db *database.LocalDB, st store.Store, cfg config.SyncConfig) *Recorder {
	return &Recorder{db: db, store: st, cfg: cfg}
}

// RecordChange appends an outbox entry for (tableName, recordID) on the
// caller's transaction. Idempotent: a key with a live entry is left alone,
// because dispatch reads the latest row state anyway, not a capture-time
// snapshot.
func (r *Recorder) RecordChange(ctx context.Context, tx *sql.Tx, tableName, recordID string, op store.Operation) error {
	if _, ok := r.cfg.TableFor(tableName); !ok {
		return fmt.Errorf("table %q is not in the sync allow-list", tableName)
	}

	if err := r.store.CaptureChange(ctx, tx, tableName, recordID, op, time.Now().UTC()); err != nil {
		return err
	}

	logger.Log.Debug("Captured change",
		zap.String("table", tableName),
		zap.String("record", recordID),
		zap.String("operation", string(op)),
	)
	return nil
}

// Mutate runs fn in one local transaction. fn performs its business writes
// through tx and reports each row it flipped to Pending via the capture
// callback, which keeps the row write and the outbox write atomic.
func (r *Recorder) Mutate(ctx context.Context, fn func(tx *sql.Tx, capture CaptureFunc) error) error {
	return r.db.ExecTx(ctx, func(tx *sql.Tx) error {
		return fn(tx, func(tableName, recordID string, op store.Operation) error {
			return r.RecordChange(ctx, tx, tableName, recordID, op)
		})
	})
}
