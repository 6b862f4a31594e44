package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/subhash199/kaninify-Pos-sub002/internal/database"
	"github.com/subhash199/kaninify-Pos-sub002/internal/logger"
)

// Columns that only exist on the till side and never travel.
var localOnlyColumns = map[string]bool{
	"sync_status":    true,
	"last_synced_at": true,
}

// MySQLPusher writes records into the retailer's central MySQL store.
// Central tables mirror the local columns plus a retailer_id tenant column;
// timestamps are unix milliseconds on both sides so the conflict guard is an
// integer compare.
type MySQLPusher struct {
	db *database.CentralDB
}

func NewMySQLPusher(db *database.CentralDB) *MySQLPusher {
	return &MySQLPusher{db: db}
}

func (p *MySQLPusher) Push(ctx context.Context, req PushRequest) (*PushResult, error) {
	remote, remoteModified, err := p.fetchRemote(ctx, req)
	if err != nil {
		return classifyError(err), nil
	}

	// A remote version newer than the one this change was based on is a
	// divergence, not something to overwrite. Force (LocalWins) skips the
	// guard.
	if remote != nil && !req.Force && remoteModified.After(req.LastModified) {
		logger.Log.Debug("Central store holds newer version",
			zap.String("table", req.TableName),
			zap.String("record", req.RecordID),
		)
		return &PushResult{
			Outcome:            OutcomeConflict,
			RemotePayload:      remote,
			RemoteLastModified: remoteModified,
		}, nil
	}

	if err := p.upsert(ctx, req); err != nil {
		return classifyError(err), nil
	}

	return &PushResult{Outcome: OutcomeAccepted}, nil
}

func (p *MySQLPusher) fetchRemote(ctx context.Context, req PushRequest) (map[string]interface{}, time.Time, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = ? AND retailer_id = ?", req.TableName, req.PrimaryKey)

	rows, err := p.db.DB.QueryContext(ctx, query, req.RecordID, req.TenantID)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, time.Time{}, err
	}
	if !rows.Next() {
		return nil, time.Time{}, rows.Err()
	}

	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, time.Time{}, err
	}

	data := make(map[string]interface{}, len(cols))
	for i, c := range cols {
		if b, ok := values[i].([]byte); ok {
			data[c] = string(b)
		} else {
			data[c] = values[i]
		}
	}

	var modified time.Time
	if ms, ok := asInt64(data[req.TimestampColumn]); ok {
		modified = time.UnixMilli(ms).UTC()
	}
	return data, modified, nil
}

func (p *MySQLPusher) upsert(ctx context.Context, req PushRequest) error {
	cols := make([]string, 0, len(req.Payload)+1)
	for c := range req.Payload {
		if localOnlyColumns[c] {
			continue
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	names := make([]string, 0, len(cols)+1)
	placeholders := make([]string, 0, len(cols)+1)
	updates := make([]string, 0, len(cols))
	args := make([]interface{}, 0, len(cols)+1)
	for _, c := range cols {
		names = append(names, c)
		placeholders = append(placeholders, "?")
		args = append(args, req.Payload[c])
		if c != req.PrimaryKey {
			updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", c, c))
		}
	}
	names = append(names, "retailer_id")
	placeholders = append(placeholders, "?")
	args = append(args, req.TenantID)

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s`,
		req.TableName,
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	)

	_, err := p.db.DB.ExecContext(ctx, query, args...)
	return err
}

// Permanent MySQL error codes: the payload itself is structurally rejected,
// so retrying the same bytes cannot help.
var permanentMySQLErrors = map[uint16]bool{
	1048: true, // column cannot be null
	1054: true, // unknown column
	1064: true, // syntax error
	1146: true, // table doesn't exist
	1366: true, // incorrect value for column
	1406: true, // data too long
	1452: true, // foreign key constraint fails
}

func classifyError(err error) *PushResult {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && permanentMySQLErrors[myErr.Number] {
		return &PushResult{Outcome: OutcomePermanent, Message: err.Error()}
	}

	// Timeouts, cancellation, dropped connections and everything else are
	// worth retrying; the outbox survives either way.
	return &PushResult{Outcome: OutcomeTransient, Message: err.Error()}
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		var out int64
		if _, err := fmt.Sscanf(n, "%d", &out); err == nil {
			return out, true
		}
	}
	return 0, false
}
