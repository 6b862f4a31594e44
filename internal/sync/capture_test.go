package sync

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subhash199/kaninify-Pos-sub002/internal/store"
)

func TestMutate_CapturesWithBusinessWrite(t *testing.T) {
	env := newTestEnv(t, nil)

	env.addPendingProduct(t, "42", "Espresso", 2.50, time.Now().UTC())

	entry := env.liveEntry(t, "42")
	assert.Equal(t, store.StatusPending, entry.SyncStatus)
	assert.Equal(t, store.OpInsert, entry.Operation)

	row := env.productRow(t, "42")
	assert.Equal(t, store.StatusPending, row.SyncStatus)
}

func TestMutate_FailureRollsBackBothWrites(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	recorder := NewRecorder(env.db, env.store, env.cfg.Sync)

	boom := errors.New("till printer jammed")
	err := recorder.Mutate(ctx, func(tx *sql.Tx, capture CaptureFunc) error {
		if _, err := tx.Exec(
			`INSERT INTO products (id, name, price, sync_status, last_modified) VALUES ('42', 'Espresso', 2.50, 'Pending', ?)`,
			time.Now().UTC().UnixMilli(),
		); err != nil {
			return err
		}
		if err := capture("products", "42", store.OpInsert); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = env.store.GetLiveEntry(ctx, "products", "42")
	assert.ErrorIs(t, err, store.ErrNotFound, "outbox write must roll back with the row")

	var n int
	require.NoError(t, env.db.DB.QueryRow(`SELECT COUNT(*) FROM products`).Scan(&n))
	assert.Zero(t, n, "business write must roll back with the capture")
}

func TestMutate_RejectsUntrackedTable(t *testing.T) {
	env := newTestEnv(t, nil)
	recorder := NewRecorder(env.db, env.store, env.cfg.Sync)

	err := recorder.Mutate(context.Background(), func(tx *sql.Tx, capture CaptureFunc) error {
		return capture("audit_log", "1", store.OpInsert)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allow-list")
}

func TestMutate_RepeatEditsKeepOneLiveEntry(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	recorder := NewRecorder(env.db, env.store, env.cfg.Sync)

	env.addPendingProduct(t, "42", "Espresso", 2.50, time.Now().UTC())
	first := env.liveEntry(t, "42")

	err := recorder.Mutate(ctx, func(tx *sql.Tx, capture CaptureFunc) error {
		if _, err := tx.Exec(
			`UPDATE products SET price = 2.75, last_modified = ? WHERE id = '42'`,
			time.Now().UTC().UnixMilli(),
		); err != nil {
			return err
		}
		return capture("products", "42", store.OpUpdate)
	})
	require.NoError(t, err)

	var n int
	require.NoError(t, env.db.DB.QueryRow(
		`SELECT COUNT(*) FROM unsynced_log WHERE table_name = 'products' AND record_id = '42'`,
	).Scan(&n))
	assert.Equal(t, 1, n)

	second := env.liveEntry(t, "42")
	assert.Equal(t, first.ID, second.ID, "the existing live entry absorbs further edits")
	assert.Equal(t, store.OpInsert, second.Operation, "dispatch reads current row state, not the capture operation")
}
