package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/subhash199/kaninify-Pos-sub002/internal/config"
	"github.com/subhash199/kaninify-Pos-sub002/internal/logger"
	"github.com/subhash199/kaninify-Pos-sub002/internal/remote"
	"github.com/subhash199/kaninify-Pos-sub002/internal/store"
)

// Dispatcher drives pending outbox entries to completion against the central
// store. It is constructed with explicit references to its collaborators;
// there is no ambient wiring.
type Dispatcher struct {
	store    store.Store
	pusher   remote.Pusher
	resolver *Resolver
}

func NewDispatcher(st store.Store, pusher remote.Pusher, resolver *Resolver) *Dispatcher {
	return &Dispatcher{
		store:    st,
		pusher:   pusher,
		resolver: resolver,
	}
}

// RunSyncCycle processes every allow-listed table on a bounded worker pool
// and aggregates the outcomes into one session. A cycle that finds nothing
// eligible is a no-op. Re-invoking while a previous cycle is still running is
// safe: the claim gate makes each entry single-writer.
func (d *Dispatcher) RunSyncCycle(ctx context.Context, cfg config.SyncConfig) (*SyncSession, error) {
	session := NewSyncSession(cfg)

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(cfg.Tables) {
		workers = len(cfg.Tables)
	}

	jobs := make(chan config.TableConfig)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				result := d.syncTable(ctx, cfg, t)
				mu.Lock()
				session.Results = append(session.Results, result)
				mu.Unlock()
			}
		}()
	}

	for _, t := range cfg.Tables {
		jobs <- t
	}
	close(jobs)
	wg.Wait()

	session.EndTime = time.Now().UTC()

	logger.Log.Info("Sync cycle finished",
		zap.String("session", session.ID),
		zap.Int("processed", session.TotalProcessed()),
		zap.Int("succeeded", session.TotalSucceeded()),
		zap.Int("failed", session.TotalFailed()),
		zap.Int("conflicts", session.TotalConflicts()),
		zap.Duration("duration", session.Duration()),
	)
	return session, nil
}

func (d *Dispatcher) syncTable(ctx context.Context, cfg config.SyncConfig, t config.TableConfig) *SyncOperationResult {
	result := newOperationResult("dispatch", t.Name, cfg.RetailerID)
	defer result.finish()

	cutoff := time.Now().UTC().Add(-cfg.GetRetryDelay())
	entries, err := d.store.FetchPending(ctx, t.Name, cfg.BatchSize, cfg.MaxRetryAttempts, cutoff)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", t.Name, err))
		return result
	}

	for _, entry := range entries {
		// On shutdown, unclaimed entries simply stay Pending for the next
		// cycle; claimed ones are reconciled by the startup recovery pass.
		if ctx.Err() != nil {
			break
		}

		claimed, err := d.store.ClaimEntry(ctx, entry.ID, time.Now().UTC())
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s/%s: claim: %v", t.Name, entry.RecordID, err))
			continue
		}
		if !claimed {
			// Lost the race to a concurrent cycle.
			continue
		}

		result.RecordsProcessed++
		d.dispatchEntry(ctx, cfg, t, entry, result)
	}
	return result
}

func (d *Dispatcher) dispatchEntry(ctx context.Context, cfg config.SyncConfig, t config.TableConfig, entry *store.OutboxEntry, result *SyncOperationResult) {
	if err := d.store.SetRowStatus(ctx, t, entry.RecordID, store.StatusInProgress); err != nil {
		logger.Log.Warn("Failed to mark row in progress",
			zap.String("table", t.Name), zap.String("record", entry.RecordID), zap.Error(err))
	}

	row, err := d.store.GetTrackedRow(ctx, t, entry.RecordID)
	if err == store.ErrNotFound {
		// The row vanished between capture and dispatch. There is nothing
		// valid to transmit; retrying cannot change that.
		d.fail(ctx, cfg, t, entry, result, "tracked row no longer exists", true)
		return
	}
	if err != nil {
		d.fail(ctx, cfg, t, entry, result, err.Error(), false)
		return
	}

	pushResult := d.push(ctx, cfg, t, entry.RecordID, row.Data, row.LastModified, false)
	switch pushResult.Outcome {
	case remote.OutcomeAccepted:
		d.complete(ctx, cfg, t, entry, store.LocationCentral, result)
	case remote.OutcomeConflict:
		d.resolveConflict(ctx, cfg, t, entry, row, pushResult, result)
	case remote.OutcomePermanent:
		d.fail(ctx, cfg, t, entry, result, pushResult.Message, true)
	default:
		d.fail(ctx, cfg, t, entry, result, pushResult.Message, false)
	}
}

// push sends one record with the configured timeout. Transport-level errors
// surface as transient outcomes; the caller decides on retry budget.
func (d *Dispatcher) push(ctx context.Context, cfg config.SyncConfig, t config.TableConfig, recordID string, payload map[string]interface{}, lastModified time.Time, force bool) *remote.PushResult {
	pushCtx, cancel := context.WithTimeout(ctx, cfg.GetPushTimeout())
	defer cancel()

	result, err := d.pusher.Push(pushCtx, remote.PushRequest{
		TenantID:        cfg.RetailerID,
		TableName:       cfg.RemoteName(t.Name),
		RecordID:        recordID,
		PrimaryKey:      t.PrimaryKey,
		TimestampColumn: timestampColumn(t),
		Payload:         payload,
		LastModified:    lastModified,
		Force:           force,
	})
	if err != nil {
		return &remote.PushResult{Outcome: remote.OutcomeTransient, Message: err.Error()}
	}
	return result
}

// complete records a confirmed synchronization: ledger append, outbox close
// and row promotion, atomically.
func (d *Dispatcher) complete(ctx context.Context, cfg config.SyncConfig, t config.TableConfig, entry *store.OutboxEntry, location store.SyncLocation, result *SyncOperationResult) {
	if err := d.store.CompleteEntry(ctx, t, entry, location, time.Now().UTC()); err != nil {
		if errors.Is(err, store.ErrSuperseded) {
			// A newer local write landed during the push. The entry is back
			// to Pending; the next cycle ships the latest state.
			logger.Log.Info("Row changed mid-flight, requeued",
				zap.String("table", t.Name), zap.String("record", entry.RecordID))
			return
		}
		// The push was durable but the local bookkeeping was not; requeue so
		// the next cycle re-pushes. The remote upsert is idempotent, so
		// at-least-once here is safe.
		d.fail(ctx, cfg, t, entry, result, fmt.Sprintf("completion: %v", err), false)
		return
	}
	result.RecordsSucceeded++
}

// fail updates local state to reflect the true outcome before anything
// propagates: retry count up, entry requeued or parked, row status matching.
func (d *Dispatcher) fail(ctx context.Context, cfg config.SyncConfig, t config.TableConfig, entry *store.OutboxEntry, result *SyncOperationResult, msg string, permanent bool) {
	now := time.Now().UTC()
	final := permanent || entry.SyncRetryCount+1 >= cfg.MaxRetryAttempts

	if err := d.store.RecordFailure(ctx, entry.ID, msg, final, now); err != nil {
		logger.Log.Error("Failed to record dispatch failure",
			zap.Int64("entry", entry.ID), zap.Error(err))
	}

	rowStatus := store.StatusPending
	if final {
		rowStatus = store.StatusFailed
	}
	if err := d.store.SetRowStatus(ctx, t, entry.RecordID, rowStatus); err != nil {
		logger.Log.Warn("Failed to update row status after failure",
			zap.String("table", t.Name), zap.String("record", entry.RecordID), zap.Error(err))
	}

	result.RecordsFailed++
	result.Errors = append(result.Errors, fmt.Sprintf("%s/%s: %s", t.Name, entry.RecordID, msg))

	logger.Log.Warn("Dispatch failed",
		zap.String("table", t.Name),
		zap.String("record", entry.RecordID),
		zap.Int("retry_count", entry.SyncRetryCount+1),
		zap.Bool("final", final),
		zap.String("error", msg),
	)
}

func (d *Dispatcher) resolveConflict(ctx context.Context, cfg config.SyncConfig, t config.TableConfig, entry *store.OutboxEntry, row *store.TrackedRow, pushResult *remote.PushResult, result *SyncOperationResult) {
	item := &ConflictItem{
		TableName:           t.Name,
		RecordID:            entry.RecordID,
		LocalData:           row.Data,
		RemoteData:          stripTenantColumns(pushResult.RemotePayload),
		LocalLastModified:   row.LastModified,
		RemoteLastModified:  pushResult.RemoteLastModified,
		RecommendedStrategy: tableStrategy(t, cfg),
		ConflictReason:      "central store holds a newer version of this record",
	}
	result.Conflicts = append(result.Conflicts, item)

	// Identical payloads diverge only in bookkeeping; nothing to resolve.
	if sameData(comparablePayload(item.LocalData, t), comparablePayload(item.RemoteData, t)) {
		d.complete(ctx, cfg, t, entry, store.LocationCentral, result)
		return
	}

	outcome, err := d.resolver.Resolve(ctx, entry, item, item.RecommendedStrategy)
	if err != nil {
		d.fail(ctx, cfg, t, entry, result, fmt.Sprintf("conflict resolution: %v", err), false)
		return
	}
	d.applyResolution(ctx, cfg, t, entry, item, outcome, result)
}

// applyResolution transmits or keeps data per the resolver's decision,
// always through the normal success/failure path.
func (d *Dispatcher) applyResolution(ctx context.Context, cfg config.SyncConfig, t config.TableConfig, entry *store.OutboxEntry, item *ConflictItem, outcome *ResolvedOutcome, result *SyncOperationResult) {
	switch outcome.Decision {
	case DecisionManual:
		// The resolver already queued the conflict and parked the entry.
		if err := d.store.SetRowStatus(ctx, t, entry.RecordID, store.StatusConflict); err != nil {
			logger.Log.Warn("Failed to mark row conflicted",
				zap.String("table", t.Name), zap.String("record", entry.RecordID), zap.Error(err))
		}

	case DecisionAdoptRemote:
		if err := d.store.AdoptRemoteRow(ctx, t, entry.RecordID, item.RemoteData, item.RemoteLastModified); err != nil {
			d.fail(ctx, cfg, t, entry, result, fmt.Sprintf("adopt remote: %v", err), false)
			return
		}
		// The local pending write is discarded; the ledger records the
		// inbound adoption instead.
		d.complete(ctx, cfg, t, entry, store.LocationLocal, result)

	case DecisionPushLocal:
		pushResult := d.push(ctx, cfg, t, entry.RecordID, outcome.Payload, item.LocalLastModified, true)
		switch pushResult.Outcome {
		case remote.OutcomeAccepted:
			if outcome.AdoptPayload {
				if err := d.store.AdoptRemoteRow(ctx, t, entry.RecordID, outcome.Payload, time.Now().UTC()); err != nil {
					d.fail(ctx, cfg, t, entry, result, fmt.Sprintf("adopt merged: %v", err), false)
					return
				}
			}
			d.complete(ctx, cfg, t, entry, store.LocationCentral, result)
		case remote.OutcomePermanent:
			d.fail(ctx, cfg, t, entry, result, pushResult.Message, true)
		default:
			d.fail(ctx, cfg, t, entry, result, pushResult.Message, false)
		}
	}
}

// ResolveManually drives one parked conflict through an operator-chosen
// strategy, reusing the normal claim/resolve/transmit machinery.
func (d *Dispatcher) ResolveManually(ctx context.Context, cfg config.SyncConfig, rec *store.ConflictRecord, strategy Strategy) error {
	if strategy == StrategyManual {
		return fmt.Errorf("manual resolution requires a concrete strategy")
	}
	if strategy == StrategyMerge && !d.resolver.HasMergeRule(rec.TableName) {
		// Without a rule the resolver would fail closed to Manual and queue a
		// duplicate of the conflict being resolved.
		return fmt.Errorf("no merge rule registered for table %q", rec.TableName)
	}
	t, ok := cfg.TableFor(rec.TableName)
	if !ok {
		return fmt.Errorf("table %q is not in the sync allow-list", rec.TableName)
	}

	now := time.Now().UTC()
	if err := d.store.ReopenEntry(ctx, rec.TableName, rec.RecordID, now); err != nil {
		return fmt.Errorf("failed to reopen entry for %s/%s: %w", rec.TableName, rec.RecordID, err)
	}
	entry, err := d.store.GetLiveEntry(ctx, rec.TableName, rec.RecordID)
	if err != nil {
		return err
	}
	claimed, err := d.store.ClaimEntry(ctx, entry.ID, now)
	if err != nil {
		return err
	}
	if !claimed {
		return fmt.Errorf("entry for %s/%s is already in flight", rec.TableName, rec.RecordID)
	}
	// The row was parked at Conflict; mark it in flight like a normal dispatch
	// so completion can tell a mid-flight edit apart.
	if err := d.store.SetRowStatus(ctx, t, rec.RecordID, store.StatusInProgress); err != nil {
		logger.Log.Warn("Failed to mark row in progress",
			zap.String("table", t.Name), zap.String("record", rec.RecordID), zap.Error(err))
	}

	result := newOperationResult("manual_resolution", t.Name, cfg.RetailerID)
	defer result.finish()
	result.RecordsProcessed++

	row, err := d.store.GetTrackedRow(ctx, t, rec.RecordID)
	if err != nil {
		d.fail(ctx, cfg, t, entry, result, err.Error(), err == store.ErrNotFound)
		return fmt.Errorf("failed to load row %s/%s: %w", rec.TableName, rec.RecordID, err)
	}

	var remoteData map[string]interface{}
	if len(rec.RemoteData) > 0 {
		if err := json.Unmarshal(rec.RemoteData, &remoteData); err != nil {
			return fmt.Errorf("stored remote data is unreadable: %w", err)
		}
	}
	item := &ConflictItem{
		TableName:           rec.TableName,
		RecordID:            rec.RecordID,
		LocalData:           row.Data,
		RemoteData:          stripTenantColumns(remoteData),
		LocalLastModified:   row.LastModified,
		RecommendedStrategy: strategy,
		ConflictReason:      rec.ConflictReason,
	}
	if rec.RemoteLastModified.Valid {
		item.RemoteLastModified = rec.RemoteLastModified.Time
	}

	outcome, err := d.resolver.Resolve(ctx, entry, item, strategy)
	if err != nil {
		d.fail(ctx, cfg, t, entry, result, err.Error(), false)
		return err
	}
	d.applyResolution(ctx, cfg, t, entry, item, outcome, result)

	if outcome.Decision == DecisionManual {
		return fmt.Errorf("strategy %q could not resolve the conflict automatically", strategy)
	}
	if result.RecordsFailed > 0 {
		// The entry is requeued; the conflict record stays open until a
		// dispatch actually lands.
		return fmt.Errorf("resolution dispatch failed: %v", result.Errors)
	}
	return d.store.MarkConflictResolved(ctx, rec.ID, string(outcome.Applied), time.Now().UTC())
}

// stripTenantColumns removes central-side bookkeeping columns so local and
// remote payloads compare and apply cleanly.
func stripTenantColumns(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if k == "retailer_id" {
			continue
		}
		out[k] = v
	}
	return out
}

// comparablePayload drops the columns that legitimately differ between the
// till and the central store (tenant scope, local sync bookkeeping, the
// timestamp itself), so equality means the business data already converged.
func comparablePayload(data map[string]interface{}, t config.TableConfig) map[string]interface{} {
	if data == nil {
		return nil
	}
	tsCol := timestampColumn(t)
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		switch k {
		case "retailer_id", "sync_status", "last_synced_at", tsCol:
			continue
		}
		out[k] = v
	}
	return out
}
