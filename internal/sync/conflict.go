package sync

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/subhash199/kaninify-Pos-sub002/internal/logger"
	"github.com/subhash199/kaninify-Pos-sub002/internal/store"
)

// Decision is what the resolver tells the dispatcher to transmit or keep.
// The resolver never pushes anything itself; transmission always goes
// through the dispatcher's normal success/failure path.
type Decision string

const (
	DecisionPushLocal   Decision = "push_local"
	DecisionAdoptRemote Decision = "adopt_remote"
	DecisionManual      Decision = "manual"
)

type ResolvedOutcome struct {
	Decision Decision
	// Applied is the effective terminal strategy after MostRecent/Merge have
	// been mapped to a concrete winner.
	Applied Strategy
	// Payload is the data to transmit when Decision is push_local.
	Payload map[string]interface{}
	// AdoptPayload marks a merged payload that must also replace the local
	// row so both sides converge on the same state.
	AdoptPayload bool
}

// MergeRule reconciles one table's local and remote versions field by field.
type MergeRule func(local, remote map[string]interface{}) map[string]interface{}

// Resolver decides which version of a divergent record survives. Given the
// same ConflictItem and strategy it always returns the same outcome.
type Resolver struct {
	store      store.Store
	mergeRules map[string]MergeRule
}

func NewResolver(st store.Store) *Resolver {
	return &Resolver{
		store:      st,
		mergeRules: make(map[string]MergeRule),
	}
}

// RegisterMergeRule installs the field-level reconciliation for one table.
// Tables without a rule fail closed to Manual when the Merge strategy is
// selected.
func (r *Resolver) RegisterMergeRule(tableName string, rule MergeRule) {
	r.mergeRules[tableName] = rule
}

func (r *Resolver) HasMergeRule(tableName string) bool {
	_, ok := r.mergeRules[tableName]
	return ok
}

// Resolve maps one conflict to an outcome. The Manual path durably queues
// the conflict and parks the outbox entry before returning, so a process
// restart cannot lose it.
func (r *Resolver) Resolve(ctx context.Context, entry *store.OutboxEntry, item *ConflictItem, strategy Strategy) (*ResolvedOutcome, error) {
	// A record the central store has never seen has nothing to conflict
	// with; local wins unconditionally.
	if item.RemoteLastModified.IsZero() && item.RemoteData == nil {
		return &ResolvedOutcome{Decision: DecisionPushLocal, Applied: StrategyLocalWins, Payload: item.LocalData}, nil
	}

	switch strategy {
	case StrategyLocalWins:
		return &ResolvedOutcome{Decision: DecisionPushLocal, Applied: StrategyLocalWins, Payload: item.LocalData}, nil

	case StrategyRemoteWins:
		return &ResolvedOutcome{Decision: DecisionAdoptRemote, Applied: StrategyRemoteWins}, nil

	case StrategyMostRecent:
		// Ties favor the central store: it aggregates every site and is
		// treated as the source of truth when timestamps cannot order the
		// writes.
		if item.LocalLastModified.After(item.RemoteLastModified) {
			return &ResolvedOutcome{Decision: DecisionPushLocal, Applied: StrategyLocalWins, Payload: item.LocalData}, nil
		}
		return &ResolvedOutcome{Decision: DecisionAdoptRemote, Applied: StrategyRemoteWins}, nil

	case StrategyMerge:
		rule, ok := r.mergeRules[item.TableName]
		if !ok {
			logger.Log.Warn("No merge rule registered, failing closed to manual",
				zap.String("table", item.TableName))
			return r.parkManual(ctx, entry, item)
		}
		merged := rule(item.LocalData, item.RemoteData)
		return &ResolvedOutcome{
			Decision:     DecisionPushLocal,
			Applied:      StrategyMerge,
			Payload:      merged,
			AdoptPayload: true,
		}, nil

	case StrategyManual:
		return r.parkManual(ctx, entry, item)

	default:
		return nil, fmt.Errorf("unknown conflict resolution strategy %q", strategy)
	}
}

// parkManual durably queues the conflict for operator review and marks the
// outbox entry Conflict so it is excluded from automatic dispatch until an
// operator reopens it.
func (r *Resolver) parkManual(ctx context.Context, entry *store.OutboxEntry, item *ConflictItem) (*ResolvedOutcome, error) {
	now := time.Now().UTC()

	localJSON, err := json.Marshal(item.LocalData)
	if err != nil {
		return nil, fmt.Errorf("failed to encode local data for conflict: %w", err)
	}
	remoteJSON, err := json.Marshal(item.RemoteData)
	if err != nil {
		return nil, fmt.Errorf("failed to encode remote data for conflict: %w", err)
	}

	rec := &store.ConflictRecord{
		ID:                  uuid.New().String(),
		TableName:           item.TableName,
		RecordID:            item.RecordID,
		LocalData:           localJSON,
		RemoteData:          remoteJSON,
		LocalLastModified:   item.LocalLastModified,
		RecommendedStrategy: string(item.RecommendedStrategy),
		ConflictReason:      item.ConflictReason,
		DetectedAt:          now,
	}
	if !item.RemoteLastModified.IsZero() {
		rec.RemoteLastModified.Time = item.RemoteLastModified
		rec.RemoteLastModified.Valid = true
	}

	if err := r.store.SaveConflict(ctx, rec); err != nil {
		return nil, err
	}
	if err := r.store.MarkEntryConflict(ctx, entry.ID, now); err != nil {
		return nil, err
	}

	logger.Log.Info("Conflict queued for manual review",
		zap.String("conflict_id", rec.ID),
		zap.String("table", item.TableName),
		zap.String("record", item.RecordID),
	)
	return &ResolvedOutcome{Decision: DecisionManual, Applied: StrategyManual}, nil
}

// sameData reports whether two payloads are byte-identical once canonically
// encoded. A "conflict" between identical states needs no resolution at all.
func sameData(a, b map[string]interface{}) bool {
	if a == nil || b == nil {
		return false
	}
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return sha256.Sum256(ab) == sha256.Sum256(bb)
}
