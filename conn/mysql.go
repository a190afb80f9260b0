package conn

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"dugsi-admin/config"
)

// DSN builds the MySQL data source name from the configuration.
func DSN(cfg config.Database) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	mc.DBName = cfg.Name
	mc.ParseTime = true
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// NewMySQL opens the pool, creating the database first when it does not exist yet.
func NewMySQL(cfg config.Database) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		if err := ensureDatabase(cfg); err != nil {
			return nil, err
		}
	}
	db, err := sqlx.Open("mysql", DSN(cfg))
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "pinging database")
	}
	log.Printf("[DB] connection pool ready host=%s db=%s", cfg.Host, cfg.Name)
	return db, nil
}

func ensureDatabase(cfg config.Database) error {
	admin := cfg
	admin.Name = ""
	adminDB, err := sql.Open("mysql", DSN(admin))
	if err != nil {
		return errors.Wrap(err, "opening admin connection")
	}
	defer adminDB.Close()
	if err := adminDB.Ping(); err != nil {
		return errors.Wrap(err, "pinging admin connection")
	}
	q := "CREATE DATABASE IF NOT EXISTS `" + cfg.Name + "` DEFAULT CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"
	if _, err := adminDB.Exec(q); err != nil {
		return errors.Wrap(err, "creating database")
	}
	return nil
}

// IsDuplicateKey reports whether err is a MySQL unique constraint violation.
func IsDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// TxRunner runs a function inside a database transaction.
type TxRunner struct {
	DB *sqlx.DB
}

// InTx commits when fn returns nil and rolls back otherwise.
func (r TxRunner) InTx(ctx context.Context, fn func(tx sqlx.ExtContext) error) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &CommitError{Err: err}
	}
	return nil
}

// CommitError is returned by InTx when fn succeeded but the commit did not.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string { return "committing transaction: " + e.Err.Error() }

func (e *CommitError) Unwrap() error { return e.Err }
