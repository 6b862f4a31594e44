package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
	"go.uber.org/zap"

	"github.com/subhash199/kaninify-Pos-sub002/internal/config"
	"github.com/subhash199/kaninify-Pos-sub002/internal/logger"
)

// LocalDB is the embedded store on the till. Business rows, the outbox queue
// and the synced ledger all live here so that capture can commit in one
// transaction.
type LocalDB struct {
	DB *sql.DB
}

func NewLocalDB(cfg config.LocalDatabase) (*LocalDB, error) {
	db, err := sql.Open("sqlite", cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping local database: %w", err)
	}

	// SQLite allows one writer at a time; the conditional-update claim gate
	// relies on that.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	logger.Log.Info("Opened local database", zap.String("path", cfg.FilePath))

	return &LocalDB{DB: db}, nil
}

func (d *LocalDB) Close() error {
	return d.DB.Close()
}

// ExecTx executes a function within a transaction
func (d *LocalDB) ExecTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
