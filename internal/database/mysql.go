package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/subhash199/kaninify-Pos-sub002/internal/config"
	"github.com/subhash199/kaninify-Pos-sub002/internal/logger"
)

// CentralDB is the connection to the cloud-side MySQL store that aggregates
// every site for a retailer.
type CentralDB struct {
	DB     *sql.DB
	Config config.DatabaseConnection
}

func NewCentralDB(cfg config.DatabaseConnection) (*CentralDB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open central database connection: %w", err)
	}

	// The till may boot while offline; keep trying for a while before giving
	// up, the dispatcher tolerates an unreachable central store anyway.
	maxRetries := 10
	for i := 0; i < maxRetries; i++ {
		err = db.Ping()
		if err == nil {
			break
		}
		logger.Log.Info("Waiting for central DB...", zap.Error(err), zap.Int("attempt", i+1))
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to ping central database after retries: %w", err)
	}

	// Connection pool settings
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	logger.Log.Info("Connected to central database",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)

	return &CentralDB{
		DB:     db,
		Config: cfg,
	}, nil
}

func (d *CentralDB) Close() error {
	return d.DB.Close()
}
