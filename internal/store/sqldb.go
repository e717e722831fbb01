// Copyright (c) 2022 Netskope, Inc. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/netSkope/postexport/internal/config"
)

const (
	dbDriver   = "mysql"
	dbPoolSize = 10
	dbConnLife = 30 * time.Minute
	dbTimeout  = 5
)

var ErrBadHostname = fmt.Errorf("hostname is required")

type SQLClient struct {
	db      *sql.DB
	timeout time.Duration
	name    string
}

func (sc *SQLClient) Name() string {
	if sc == nil {
		return ""
	}
	return sc.name
}

// context bounds one query by the client timeout.
func (sc *SQLClient) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, sc.timeout)
}

func (sc *SQLClient) Close() error {
	if sc.db != nil {
		err := sc.db.Close()
		sc.db = nil
		return err
	}
	return nil
}

func (sc *SQLClient) GetDB() *sql.DB {
	return sc.db
}

func (sc *SQLClient) Ping(ctx context.Context) error {
	ctx, cancel := sc.context(ctx)
	defer cancel()
	return sc.db.PingContext(ctx)
}

// NewSQLClient opens a pooled connection to the WordPress database and pings it.
func NewSQLClient(ctx context.Context, cfg *config.Config) (*SQLClient, error) {
	if cfg.DBHost == "" {
		return nil, ErrBadHostname
	}
	return newSQLClient(ctx, cfg.GetDSN(), cfg.DBTimeout, cfg.DBName)
}

func newSQLClient(ctx context.Context, dsn string, timeout int, name string) (*SQLClient, error) {
	db, err := sql.Open(dbDriver, dsn)
	if err != nil {
		return nil, err
	}

	db.SetConnMaxLifetime(dbConnLife)
	db.SetMaxOpenConns(dbPoolSize)
	db.SetMaxIdleConns(dbPoolSize)

	if timeout < 1 {
		timeout = dbTimeout
	}

	sc := &SQLClient{
		db:      db,
		timeout: time.Duration(timeout) * time.Second,
		name:    name,
	}

	if err = sc.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sc, nil
}
