package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	apperrors "offlinekit/internal/errors"
	"offlinekit/internal/migrations"
	"offlinekit/internal/models"
	"offlinekit/internal/retry"
	"offlinekit/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

const dsnOptions = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// Database is the durable local store. It owns two collections:
// pending_messages (append, list, clear) and insights (upsert, list).
// Every public operation runs in exactly one transaction.
type Database struct {
	db      *sql.DB
	path    string
	backoff *retry.Backoff
	now     func() time.Time
	closed  atomic.Bool
}

// New opens (creating if needed) the store at dbPath and brings its schema up
// to date. Opening an existing store again never duplicates or drops a
// collection. Any failure is reported as STORE_UNAVAILABLE.
func New(dbPath string) (*Database, error) {
	return NewWithContext(context.Background(), dbPath)
}

// NewWithContext is New with a caller supplied context for the schema upgrade
func NewWithContext(ctx context.Context, dbPath string) (*Database, error) {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, apperrors.NewStoreUnavailableError("open", fmt.Errorf("invalid database path: %w", err))
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, apperrors.NewStoreUnavailableError("open", fmt.Errorf("failed to create database directory: %w", err))
		}
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("open", fmt.Errorf("failed to create database file: %w", err))
	}
	if err := file.Close(); err != nil {
		return nil, apperrors.NewStoreUnavailableError("open", fmt.Errorf("failed to close database file: %w", err))
	}

	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("open", fmt.Errorf("failed to open database: %w", err))
	}
	// SQLite serialises writers; a single connection keeps transactions from
	// tripping over each other inside this process
	db.SetMaxOpenConns(1)

	d := &Database{
		db:      db,
		path:    dbPath,
		backoff: defaultDBBackoff(),
		now:     time.Now,
	}

	if err := retryableDBOperationNoReturn(ctx, d.backoff, func() error {
		return db.PingContext(ctx)
	}, "ping database"); err != nil {
		return nil, d.closeWith(fmt.Errorf("failed to ping database: %w", err))
	}

	if _, err := migrations.Apply(ctx, db); err != nil {
		return nil, d.closeWith(apperrors.Wrap(err, apperrors.ErrCodeStoreMigration, "failed to initialize schema"))
	}

	return d, nil
}

func (d *Database) closeWith(err error) error {
	if closeErr := d.db.Close(); closeErr != nil {
		err = fmt.Errorf("%w (close error: %v)", err, closeErr)
	}
	return apperrors.NewStoreUnavailableError("open", err)
}

// Close releases the underlying handle. Later calls fail with STORE_UNAVAILABLE.
func (d *Database) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.db.Close()
}

// Path returns the file the store lives in
func (d *Database) Path() string {
	return d.path
}

// Ping verifies the store is reachable
func (d *Database) Ping(ctx context.Context) error {
	if d.closed.Load() {
		return apperrors.NewStoreUnavailableError("ping", sql.ErrConnDone)
	}
	if err := d.db.PingContext(ctx); err != nil {
		return d.classify("ping", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version
func (d *Database) SchemaVersion(ctx context.Context) (int, error) {
	if d.closed.Load() {
		return 0, apperrors.NewStoreUnavailableError("schema_version", sql.ErrConnDone)
	}
	v, err := migrations.CurrentVersion(ctx, d.db)
	if err != nil {
		return 0, d.classify("schema_version", err)
	}
	return v, nil
}

// withTx runs fn inside one transaction, retrying the whole transaction when
// SQLite reports contention
func (d *Database) withTx(ctx context.Context, operation string, readOnly bool, fn func(tx *sql.Tx) error) error {
	if d.closed.Load() {
		return apperrors.NewStoreUnavailableError(operation, sql.ErrConnDone)
	}

	err := retryableDBOperationNoReturn(ctx, d.backoff, func() error {
		tx, err := d.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	}, operation)
	if err != nil {
		return d.classify(operation, err)
	}
	return nil
}

func (d *Database) classify(operation string, err error) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if d.closed.Load() || isClosedDBError(err) {
		return apperrors.NewStoreUnavailableError(operation, err)
	}
	return apperrors.NewStoreError(operation, err)
}

// AppendPendingMessage adds a record to the end of the outbox and returns its
// store sequence id. A missing ClientID or CreatedAt is filled in.
func (d *Database) AppendPendingMessage(ctx context.Context, msg models.PendingMessage) (int64, error) {
	if msg.ClientID == "" {
		msg.ClientID = models.NewClientID()
	}
	if msg.CreatedAt == "" {
		msg.CreatedAt = models.Timestamp(d.now())
	}
	if msg.Fields == nil {
		msg.Fields = map[string]string{}
	}

	fields, err := json.Marshal(msg.Fields)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "failed to encode pending message fields")
	}

	var id int64
	err = d.withTx(ctx, "append_pending_message", false, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, InsertPendingMessageQuery, msg.ClientID, string(fields), msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert pending message: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read pending message id: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListPendingMessages returns every queued record in insertion order
func (d *Database) ListPendingMessages(ctx context.Context) ([]models.PendingMessage, error) {
	var out []models.PendingMessage
	err := d.withTx(ctx, "list_pending_messages", true, func(tx *sql.Tx) error {
		out = out[:0]
		rows, err := tx.QueryContext(ctx, SelectPendingMessagesQuery)
		if err != nil {
			return fmt.Errorf("failed to query pending messages: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var msg models.PendingMessage
			var fields string
			if err := rows.Scan(&msg.ID, &msg.ClientID, &fields, &msg.CreatedAt); err != nil {
				return fmt.Errorf("failed to scan pending message: %w", err)
			}
			if err := json.Unmarshal([]byte(fields), &msg.Fields); err != nil {
				return fmt.Errorf("failed to decode pending message %d: %w", msg.ID, err)
			}
			out = append(out, msg)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.PendingMessage{}
	}
	return out, nil
}

// CountPendingMessages returns the outbox size
func (d *Database) CountPendingMessages(ctx context.Context) (int, error) {
	var count int
	err := d.withTx(ctx, "count_pending_messages", true, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, CountPendingMessagesQuery).Scan(&count)
	})
	return count, err
}

// ClearPendingMessages removes every queued record
func (d *Database) ClearPendingMessages(ctx context.Context) error {
	return d.withTx(ctx, "clear_pending_messages", false, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, DeletePendingMessagesQuery); err != nil {
			return fmt.Errorf("failed to clear pending messages: %w", err)
		}
		return nil
	})
}

// UpsertInsights inserts or replaces each insight by id. Ids not present in
// the batch are left untouched.
func (d *Database) UpsertInsights(ctx context.Context, insights []models.Insight) error {
	if len(insights) == 0 {
		return nil
	}

	updatedAt := models.Timestamp(d.now())
	return d.withTx(ctx, "upsert_insights", false, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, UpsertInsightQuery)
		if err != nil {
			return fmt.Errorf("failed to prepare insight upsert: %w", err)
		}
		defer stmt.Close()

		for _, insight := range insights {
			if _, err := stmt.ExecContext(ctx, insight.ID, insight.Title, insight.Body, updatedAt); err != nil {
				return fmt.Errorf("failed to upsert insight %d: %w", insight.ID, err)
			}
		}
		return nil
	})
}

// ListInsights returns every mirrored insight ordered by id
func (d *Database) ListInsights(ctx context.Context) ([]models.Insight, error) {
	var out []models.Insight
	err := d.withTx(ctx, "list_insights", true, func(tx *sql.Tx) error {
		out = out[:0]
		rows, err := tx.QueryContext(ctx, SelectInsightsQuery)
		if err != nil {
			return fmt.Errorf("failed to query insights: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var insight models.Insight
			if err := rows.Scan(&insight.ID, &insight.Title, &insight.Body); err != nil {
				return fmt.Errorf("failed to scan insight: %w", err)
			}
			out = append(out, insight)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Insight{}
	}
	return out, nil
}
