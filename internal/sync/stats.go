package sync

import (
	"context"
	"sync"
	"time"

	"github.com/subhash199/kaninify-Pos-sub002/internal/store"
)

const sessionHistorySize = 50

// SessionSummary is the retained view of one completed session. Durable
// state lives in the outbox and ledger; this is operational visibility only.
type SessionSummary struct {
	ID         string        `json:"id"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`
	Processed  int           `json:"processed"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Conflicts  int           `json:"conflicts"`
	Errors     []string      `json:"errors,omitempty"`
}

// StatsReport is the per-tenant diagnostic snapshot served to admin tooling.
type StatsReport struct {
	RetailerID      string               `json:"retailer_id"`
	LastSyncTime    time.Time            `json:"last_sync_time"`
	SessionsRun     int64                `json:"sessions_run"`
	TotalSucceeded  int64                `json:"total_succeeded"`
	TotalFailed     int64                `json:"total_failed"`
	TotalConflicts  int64                `json:"total_conflicts"`
	AverageDuration time.Duration        `json:"average_duration"`
	TableCounts     []*store.TableCounts `json:"table_counts"`
	RecentSessions  []*SessionSummary    `json:"recent_sessions"`
	RecentErrors    []string             `json:"recent_errors,omitempty"`
}

// Tracker aggregates per-run counts for operational visibility. Derived
// state only; it is never consulted for correctness decisions.
type Tracker struct {
	mu         sync.Mutex
	store      store.Store
	retailerID string

	sessions       []*SessionSummary
	sessionsRun    int64
	totalSucceeded int64
	totalFailed    int64
	totalConflicts int64
	totalDuration  time.Duration
	lastSyncTime   time.Time
}

func NewTracker(st store.Store, retailerID string) *Tracker {
	return &Tracker{
		store:      st,
		retailerID: retailerID,
	}
}

// Record folds one finished session into the rolling aggregates.
func (t *Tracker) Record(session *SyncSession) {
	summary := &SessionSummary{
		ID:        session.ID,
		StartTime: session.StartTime,
		EndTime:   session.EndTime,
		Duration:  session.Duration(),
		Processed: session.TotalProcessed(),
		Succeeded: session.TotalSucceeded(),
		Failed:    session.TotalFailed(),
		Conflicts: session.TotalConflicts(),
	}
	for _, r := range session.Results {
		summary.Errors = append(summary.Errors, r.Errors...)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessions = append(t.sessions, summary)
	if len(t.sessions) > sessionHistorySize {
		t.sessions = t.sessions[len(t.sessions)-sessionHistorySize:]
	}
	t.sessionsRun++
	t.totalSucceeded += int64(summary.Succeeded)
	t.totalFailed += int64(summary.Failed)
	t.totalConflicts += int64(summary.Conflicts)
	t.totalDuration += summary.Duration
	t.lastSyncTime = session.EndTime
}

// Snapshot combines the in-memory aggregates with the store's live outbox
// counts and recent failure detail.
func (t *Tracker) Snapshot(ctx context.Context) (*StatsReport, error) {
	counts, err := t.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	failures, err := t.store.RecentFailures(ctx, 10)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	report := &StatsReport{
		RetailerID:     t.retailerID,
		LastSyncTime:   t.lastSyncTime,
		SessionsRun:    t.sessionsRun,
		TotalSucceeded: t.totalSucceeded,
		TotalFailed:    t.totalFailed,
		TotalConflicts: t.totalConflicts,
		TableCounts:    counts,
	}
	if t.sessionsRun > 0 {
		report.AverageDuration = t.totalDuration / time.Duration(t.sessionsRun)
	}
	report.RecentSessions = append(report.RecentSessions, t.sessions...)
	for _, f := range failures {
		if f.SyncError.Valid {
			report.RecentErrors = append(report.RecentErrors,
				f.TableName+"/"+f.RecordID+": "+f.SyncError.String)
		}
	}
	return report, nil
}
