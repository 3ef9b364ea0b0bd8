package database

import (
	"context"
	"fmt"

	driver "github.com/arangodb/go-driver"
	"github.com/arangodb/go-driver/http"
	log "github.com/sirupsen/logrus"

	"github.com/stackconsult/workflowcore/internal/config"
)

// ArangoClient wraps the ArangoDB client and database connection used by
// every Repository in this module.
type ArangoClient struct {
	client   driver.Client
	db       driver.Database
	ctx      context.Context
	cancelFn context.CancelFunc
}

// NewArangoClient opens a connection to ArangoDB and ensures the
// configured database exists.
func NewArangoClient(cfg *config.DatabaseConfig) (*ArangoClient, error) {
	ctx, cancel := context.WithCancel(context.Background())

	conn, err := http.NewConnection(http.ConnectionConfig{
		Endpoints: []string{cfg.Endpoint},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	client, err := driver.NewClient(driver.ClientConfig{
		Connection:     conn,
		Authentication: driver.BasicAuthentication(cfg.Username, cfg.Password),
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	db, err := ensureDatabase(ctx, client, cfg.Database)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to ensure database: %w", err)
	}

	log.WithFields(log.Fields{
		"endpoint": cfg.Endpoint,
		"database": cfg.Database,
	}).Info("connected to ArangoDB")

	return &ArangoClient{client: client, db: db, ctx: ctx, cancelFn: cancel}, nil
}

func ensureDatabase(ctx context.Context, client driver.Client, dbName string) (driver.Database, error) {
	exists, err := client.DatabaseExists(ctx, dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}
	if exists {
		db, err := client.Database(ctx, dbName)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return db, nil
	}

	db, err := client.CreateDatabase(ctx, dbName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	log.WithField("database", dbName).Info("created ArangoDB database")
	return db, nil
}

// Database returns the underlying database handle.
func (ac *ArangoClient) Database() driver.Database {
	return ac.db
}

// Close cancels the client's background context.
func (ac *ArangoClient) Close() error {
	if ac.cancelFn != nil {
		ac.cancelFn()
	}
	return nil
}
