package sync

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/subhash199/kaninify-Pos-sub002/internal/config"
)

// Strategy names how a divergent record is reconciled.
type Strategy string

const (
	StrategyLocalWins  Strategy = "local_wins"
	StrategyRemoteWins Strategy = "remote_wins"
	StrategyMostRecent Strategy = "most_recent"
	StrategyManual     Strategy = "manual"
	StrategyMerge      Strategy = "merge"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyLocalWins, StrategyRemoteWins, StrategyMostRecent, StrategyManual, StrategyMerge:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown conflict resolution strategy %q", s)
}

// ConflictItem carries one divergence from detection to resolution. It lives
// in memory for the duration of a dispatch unless the Manual strategy queues
// it durably.
type ConflictItem struct {
	TableName           string                 `json:"table_name"`
	RecordID            string                 `json:"record_id"`
	LocalData           map[string]interface{} `json:"local_data"`
	RemoteData          map[string]interface{} `json:"remote_data"`
	LocalLastModified   time.Time              `json:"local_last_modified"`
	RemoteLastModified  time.Time              `json:"remote_last_modified"`
	RecommendedStrategy Strategy               `json:"recommended_strategy"`
	ConflictReason      string                 `json:"conflict_reason"`
}

// SyncOperationResult aggregates one dispatch batch against one table.
type SyncOperationResult struct {
	OperationID      string          `json:"operation_id"`
	OperationType    string          `json:"operation_type"`
	TableName        string          `json:"table_name"`
	RetailerID       string          `json:"retailer_id"`
	IsSuccess        bool            `json:"is_success"`
	RecordsProcessed int             `json:"records_processed"`
	RecordsSucceeded int             `json:"records_succeeded"`
	RecordsFailed    int             `json:"records_failed"`
	Conflicts        []*ConflictItem `json:"conflicts,omitempty"`
	Errors           []string        `json:"errors,omitempty"`
	StartTime        time.Time       `json:"start_time"`
	EndTime          time.Time       `json:"end_time"`
}

func newOperationResult(operationType, tableName, retailerID string) *SyncOperationResult {
	return &SyncOperationResult{
		OperationID:   uuid.New().String(),
		OperationType: operationType,
		TableName:     tableName,
		RetailerID:    retailerID,
		StartTime:     time.Now().UTC(),
	}
}

func (r *SyncOperationResult) finish() {
	r.EndTime = time.Now().UTC()
	r.IsSuccess = r.RecordsFailed == 0 && len(r.Errors) == 0
}

// SyncSession groups the per-table results of one synchronization run under
// one id and one immutable configuration snapshot. Totals are derived, never
// stored.
type SyncSession struct {
	ID        string                 `json:"id"`
	Config    config.SyncConfig      `json:"-"`
	Results   []*SyncOperationResult `json:"results"`
	StartTime time.Time              `json:"start_time"`
	EndTime   time.Time              `json:"end_time"`
}

func NewSyncSession(cfg config.SyncConfig) *SyncSession {
	return &SyncSession{
		ID:        uuid.New().String(),
		Config:    cfg,
		StartTime: time.Now().UTC(),
	}
}

func (s *SyncSession) TotalProcessed() int {
	n := 0
	for _, r := range s.Results {
		n += r.RecordsProcessed
	}
	return n
}

func (s *SyncSession) TotalSucceeded() int {
	n := 0
	for _, r := range s.Results {
		n += r.RecordsSucceeded
	}
	return n
}

func (s *SyncSession) TotalFailed() int {
	n := 0
	for _, r := range s.Results {
		n += r.RecordsFailed
	}
	return n
}

func (s *SyncSession) TotalConflicts() int {
	n := 0
	for _, r := range s.Results {
		n += len(r.Conflicts)
	}
	return n
}

func (s *SyncSession) HasConflicts() bool {
	return s.TotalConflicts() > 0
}

func (s *SyncSession) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// tableStrategy picks the table's configured strategy, falling back to the
// session default.
func tableStrategy(t config.TableConfig, cfg config.SyncConfig) Strategy {
	if t.ConflictResolution != "" {
		if st, err := ParseStrategy(t.ConflictResolution); err == nil {
			return st
		}
	}
	if st, err := ParseStrategy(cfg.DefaultResolution); err == nil {
		return st
	}
	return StrategyMostRecent
}

// timestampColumn resolves the tracked table's modification column, which
// defaults to last_modified per the tracked-row contract.
func timestampColumn(t config.TableConfig) string {
	if t.TimestampColumn != "" {
		return t.TimestampColumn
	}
	return "last_modified"
}
