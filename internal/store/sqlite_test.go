package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subhash199/kaninify-Pos-sub002/internal/config"
	"github.com/subhash199/kaninify-Pos-sub002/internal/database"
)

var productsTable = config.TableConfig{
	Name:            "products",
	PrimaryKey:      "id",
	TimestampColumn: "last_modified",
}

func newTestStore(t *testing.T) (*SQLiteStore, *database.LocalDB) {
	t.Helper()

	db, err := database.NewLocalDB(config.LocalDatabase{FilePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st, err := NewSQLiteStore(db)
	require.NoError(t, err)

	_, err = db.DB.Exec(`CREATE TABLE products (
		id TEXT PRIMARY KEY,
		name TEXT,
		price REAL,
		sync_status TEXT NOT NULL DEFAULT 'Pending',
		last_modified INTEGER NOT NULL,
		last_synced_at INTEGER
	)`)
	require.NoError(t, err)

	return st, db
}

func insertProduct(t *testing.T, db *database.LocalDB, id, name string, price float64, modified time.Time) {
	t.Helper()
	_, err := db.DB.Exec(
		`INSERT INTO products (id, name, price, sync_status, last_modified) VALUES (?, ?, ?, 'Pending', ?)`,
		id, name, price, modified.UnixMilli(),
	)
	require.NoError(t, err)
}

func captureProduct(t *testing.T, st *SQLiteStore, db *database.LocalDB, id string, op Operation, now time.Time) {
	t.Helper()
	err := db.ExecTx(context.Background(), func(tx *sql.Tx) error {
		return st.CaptureChange(context.Background(), tx, "products", id, op, now)
	})
	require.NoError(t, err)
}

func TestCaptureChange_NoDuplicateLiveEntries(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insertProduct(t, db, "42", "Espresso", 2.50, now)
	captureProduct(t, st, db, "42", OpInsert, now)
	captureProduct(t, st, db, "42", OpUpdate, now.Add(time.Second))
	captureProduct(t, st, db, "42", OpUpdate, now.Add(2*time.Second))

	entries, err := st.FetchPending(ctx, "products", 10, 3, now)
	require.NoError(t, err)
	require.Len(t, entries, 1, "repeated captures for one key must collapse into one live entry")
	assert.Equal(t, "42", entries[0].RecordID)
	assert.Equal(t, OpInsert, entries[0].Operation, "the original entry survives; dispatch reads the latest row state anyway")
	assert.Equal(t, 0, entries[0].SyncRetryCount)
}

func TestCaptureChange_RollsBackWithBusinessWrite(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := db.ExecTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO products (id, name, price, sync_status, last_modified) VALUES ('7', 'Latte', 3.20, 'Pending', ?)`,
			now.UnixMilli(),
		); err != nil {
			return err
		}
		if err := st.CaptureChange(ctx, tx, "products", "7", OpInsert, now); err != nil {
			return err
		}
		return sql.ErrTxDone // force a rollback after both writes
	})
	require.Error(t, err)

	var rows int
	require.NoError(t, db.DB.QueryRow(`SELECT COUNT(*) FROM products`).Scan(&rows))
	assert.Zero(t, rows, "business row must roll back")

	entries, err := st.FetchPending(ctx, "products", 10, 3, now)
	require.NoError(t, err)
	assert.Empty(t, entries, "outbox entry must roll back with it")
}

func TestCaptureChange_NewEntryAfterCompletion(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insertProduct(t, db, "42", "Espresso", 2.50, now)
	captureProduct(t, st, db, "42", OpInsert, now)

	entries, err := st.FetchPending(ctx, "products", 10, 3, now)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	claimed, err := st.ClaimEntry(ctx, entries[0].ID, now)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, st.SetRowStatus(ctx, productsTable, "42", StatusInProgress))
	require.NoError(t, st.CompleteEntry(ctx, productsTable, entries[0], LocationCentral, now))

	// A fresh mutation after completion gets a fresh entry.
	captureProduct(t, st, db, "42", OpUpdate, now.Add(time.Minute))
	entries, err = st.FetchPending(ctx, "products", 10, 3, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, OpUpdate, entries[0].Operation)
}

func TestClaimEntry_Gate(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insertProduct(t, db, "1", "Mocha", 3.80, now)
	captureProduct(t, st, db, "1", OpInsert, now)

	entries, err := st.FetchPending(ctx, "products", 10, 3, now)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	id := entries[0].ID

	claimed, err := st.ClaimEntry(ctx, id, now)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Second claim on an in-flight entry must lose.
	claimed, err = st.ClaimEntry(ctx, id, now)
	require.NoError(t, err)
	assert.False(t, claimed)

	entry, err := st.GetOutboxEntry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, entry.SyncStatus)
}

func TestFetchPending_OrderingAndLimits(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"c", "a", "b"} {
		insertProduct(t, db, id, "P"+id, 1, base)
		captureProduct(t, st, db, id, OpInsert, base.Add(time.Duration(i)*time.Second))
	}

	entries, err := st.FetchPending(ctx, "products", 2, 3, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 2, "batch size caps the fetch")
	assert.Equal(t, "c", entries[0].RecordID, "oldest first")
	assert.Equal(t, "a", entries[1].RecordID)
}

func TestFetchPending_RetryDelayAndExhaustion(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insertProduct(t, db, "9", "Flat White", 3.50, now)
	captureProduct(t, st, db, "9", OpInsert, now)

	entries, err := st.FetchPending(ctx, "products", 10, 3, now)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	id := entries[0].ID

	claimed, err := st.ClaimEntry(ctx, id, now)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, st.RecordFailure(ctx, id, "timeout", false, now))

	// Requeued but inside the retry delay window: held back.
	entries, err = st.FetchPending(ctx, "products", 10, 3, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Window elapsed: eligible again.
	entries, err = st.FetchPending(ctx, "products", 10, 3, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].SyncRetryCount)

	// Exhausted retry budget drops it from selection even while Pending.
	entries, err = st.FetchPending(ctx, "products", 10, 1, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecordFailure_RetryMonotonicityAndParking(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insertProduct(t, db, "5", "Americano", 2.80, now)
	captureProduct(t, st, db, "5", OpInsert, now)
	entries, err := st.FetchPending(ctx, "products", 10, 3, now)
	require.NoError(t, err)
	id := entries[0].ID

	prev := 0
	for i := 0; i < 2; i++ {
		_, err = st.ClaimEntry(ctx, id, now)
		require.NoError(t, err)
		require.NoError(t, st.RecordFailure(ctx, id, "connection refused", false, now))
		entry, err := st.GetOutboxEntry(ctx, id)
		require.NoError(t, err)
		assert.Greater(t, entry.SyncRetryCount, prev, "retry count never decreases")
		assert.Equal(t, StatusPending, entry.SyncStatus)
		prev = entry.SyncRetryCount
	}

	_, err = st.ClaimEntry(ctx, id, now)
	require.NoError(t, err)
	require.NoError(t, st.RecordFailure(ctx, id, "connection refused", true, now))

	entry, err := st.GetOutboxEntry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, entry.SyncStatus)
	assert.Equal(t, 3, entry.SyncRetryCount)
	assert.Equal(t, "connection refused", entry.SyncError.String)

	// Parked entries never come back on their own.
	entries, err = st.FetchPending(ctx, "products", 10, 10, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Operator reset puts it back with a fresh budget.
	require.NoError(t, st.ReopenEntry(ctx, "products", "5", now))
	entry, err = st.GetOutboxEntry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, entry.SyncStatus)
	assert.Equal(t, 0, entry.SyncRetryCount)
	assert.False(t, entry.SyncError.Valid)
}

func TestCompleteEntry_LedgerAndOutboxAtomic(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insertProduct(t, db, "42", "Espresso", 2.50, now)
	captureProduct(t, st, db, "42", OpUpdate, now)
	entries, err := st.FetchPending(ctx, "products", 10, 3, now)
	require.NoError(t, err)
	entry := entries[0]

	_, err = st.ClaimEntry(ctx, entry.ID, now)
	require.NoError(t, err)
	require.NoError(t, st.SetRowStatus(ctx, productsTable, "42", StatusInProgress))
	require.NoError(t, st.CompleteEntry(ctx, productsTable, entry, LocationCentral, now))

	// Exactly one ledger entry.
	ledger, err := st.ListLedger(ctx, "products", 10, 0)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, "42", ledger[0].RecordID)
	assert.Equal(t, OpUpdate, ledger[0].Operation)
	assert.Equal(t, LocationCentral, ledger[0].SyncLocation)

	// Outbox entry closed.
	_, err = st.GetOutboxEntry(ctx, entry.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Row promoted.
	row, err := st.GetTrackedRow(ctx, productsTable, "42")
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, row.SyncStatus)
	assert.NotNil(t, row.Data["last_synced_at"])

	last, err := st.LastSynced(ctx, "products", "42")
	require.NoError(t, err)
	assert.Equal(t, ledger[0].ID, last.ID)
}

func TestCompleteEntry_SupersededByMidFlightWrite(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insertProduct(t, db, "42", "Espresso", 2.50, now)
	captureProduct(t, st, db, "42", OpInsert, now)
	entries, err := st.FetchPending(ctx, "products", 10, 3, now)
	require.NoError(t, err)
	entry := entries[0]

	_, err = st.ClaimEntry(ctx, entry.ID, now)
	require.NoError(t, err)
	require.NoError(t, st.SetRowStatus(ctx, productsTable, "42", StatusInProgress))

	// A second edit commits while the push is in flight: the row flips back to
	// Pending and its state is newer than what the push carried.
	_, err = db.DB.Exec(`UPDATE products SET price = 9.99, sync_status = 'Pending', last_modified = ? WHERE id = '42'`,
		now.Add(time.Second).UnixMilli())
	require.NoError(t, err)

	err = st.CompleteEntry(ctx, productsTable, entry, LocationCentral, now)
	require.ErrorIs(t, err, ErrSuperseded)

	// The entry is requeued with a fresh budget, not closed.
	reloaded, err := st.GetOutboxEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, reloaded.SyncStatus)
	assert.Equal(t, 0, reloaded.SyncRetryCount)

	// Nothing was confirmed; the ledger stays empty and the newer row state
	// stays Pending for the next cycle.
	ledger, err := st.ListLedger(ctx, "products", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, ledger)

	row, err := st.GetTrackedRow(ctx, productsTable, "42")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, row.SyncStatus)
	assert.Equal(t, 9.99, row.Data["price"])
}

func TestResetInFlight_RecoversToPendingOnly(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insertProduct(t, db, "a", "A", 1, now)
	insertProduct(t, db, "b", "B", 1, now)
	captureProduct(t, st, db, "a", OpInsert, now)
	captureProduct(t, st, db, "b", OpInsert, now)

	entries, err := st.FetchPending(ctx, "products", 10, 3, now)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Simulate a crash mid-dispatch: one claimed, its row marked in progress.
	_, err = st.ClaimEntry(ctx, entries[0].ID, now)
	require.NoError(t, err)
	require.NoError(t, st.SetRowStatus(ctx, productsTable, entries[0].RecordID, StatusInProgress))

	tables := []config.TableConfig{productsTable}
	n, err := st.ResetInFlight(ctx, tables, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	for _, e := range entries {
		entry, err := st.GetOutboxEntry(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, entry.SyncStatus, "recovery resets to Pending, never to Synced or Failed")
	}
	row, err := st.GetTrackedRow(ctx, productsTable, entries[0].RecordID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, row.SyncStatus)

	// Replaying recovery is a no-op.
	n, err = st.ResetInFlight(ctx, tables, now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAdoptRemoteRow_OverwritesLocal(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	remoteModified := now.Add(time.Hour)

	insertProduct(t, db, "42", "Espresso", 2.50, now)

	err := st.AdoptRemoteRow(ctx, productsTable, "42", map[string]interface{}{
		"id":    "42",
		"name":  "Espresso Doppio",
		"price": 2.90,
	}, remoteModified)
	require.NoError(t, err)

	row, err := st.GetTrackedRow(ctx, productsTable, "42")
	require.NoError(t, err)
	assert.Equal(t, "Espresso Doppio", row.Data["name"])
	assert.Equal(t, 2.90, row.Data["price"])
	assert.Equal(t, StatusSynced, row.SyncStatus)
	assert.Equal(t, remoteModified.UnixMilli(), row.LastModified.UnixMilli())

	err = st.AdoptRemoteRow(ctx, productsTable, "missing", map[string]interface{}{"name": "x"}, now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConflictQueue_Lifecycle(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := &ConflictRecord{
		ID:                  "c-1",
		TableName:           "products",
		RecordID:            "42",
		LocalData:           []byte(`{"name":"Espresso"}`),
		RemoteData:          []byte(`{"name":"Espresso Doppio"}`),
		LocalLastModified:   now,
		RemoteLastModified:  sql.NullTime{Time: now.Add(time.Minute), Valid: true},
		RecommendedStrategy: "manual",
		ConflictReason:      "central store holds a newer version of this record",
		DetectedAt:          now,
	}
	require.NoError(t, st.SaveConflict(ctx, rec))

	open, err := st.ListConflicts(ctx, false, 10, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "c-1", open[0].ID)
	assert.JSONEq(t, `{"name":"Espresso"}`, string(open[0].LocalData))
	assert.True(t, open[0].RemoteLastModified.Valid)

	require.NoError(t, st.MarkConflictResolved(ctx, "c-1", "remote_wins", now))

	open, err = st.ListConflicts(ctx, false, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, open)

	got, err := st.GetConflict(ctx, "c-1")
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	assert.Equal(t, "remote_wins", got.ResolutionStrategy.String)

	// Already resolved: second resolution attempt is rejected.
	err = st.MarkConflictResolved(ctx, "c-1", "local_wins", now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountByStatus(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"1", "2", "3"} {
		insertProduct(t, db, id, "P"+id, 1, now)
		captureProduct(t, st, db, id, OpInsert, now)
	}
	entries, err := st.FetchPending(ctx, "products", 10, 3, now)
	require.NoError(t, err)
	_, err = st.ClaimEntry(ctx, entries[0].ID, now)
	require.NoError(t, err)
	require.NoError(t, st.MarkEntryConflict(ctx, entries[1].ID, now))

	counts, err := st.CountByStatus(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, "products", counts[0].TableName)
	assert.Equal(t, int64(1), counts[0].Pending)
	assert.Equal(t, int64(1), counts[0].InProgress)
	assert.Equal(t, int64(1), counts[0].Conflict)
	assert.Zero(t, counts[0].Failed)
}
