// Package index owns the persistent package metadata store: a single
// SQLite file whose schema mirrors the upstream branch state plus an
// optional supplement snapshot. The index writer is the sole mutator of
// every table; readers (the RPC surfaces) only ever observe committed
// batches.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrIndex is returned when the backing store fails.
// This error should only be used with errors.Is() for comparison, not for type assertions.
var ErrIndex = errors.New("index error")

// IndexError provides structured information about a store failure.
type IndexError struct {
	// Op is the operation that failed (e.g. "open", "migrate", "apply").
	Op  string
	Err error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %s: %s", e.Op, e.Err)
}

// Unwrap returns the underlying error, preserving the error chain.
func (e *IndexError) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() compatibility with ErrIndex.
func (e *IndexError) Is(target error) bool {
	return target == ErrIndex
}

// NewIndexError creates a new IndexError for the given operation.
func NewIndexError(op string, err error) *IndexError {
	return &IndexError{Op: op, Err: err}
}

// schemaVersion is stamped into the store's user_version field. A lower
// observed value triggers drop-and-recreate; this is the only migration
// path, forward-only and lossy.
const schemaVersion = 2

// Index is a handle on the metadata store.
type Index struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the index file and migrates the schema if
// needed. When exclusive is set, the store is locked for the lifetime of
// the handle; the sync orchestrator opens it this way.
func Open(path string, exclusive bool) (*Index, error) {
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"
	if exclusive {
		dsn += "&_pragma=locking_mode(EXCLUSIVE)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, NewIndexError("open", err)
	}

	ix := &Index{db: db, path: path}
	if err := ix.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return ix, nil
}

// Close releases the store handle.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// migrate checks the stamped schema version and recreates every table
// when the observed version is lower than the current one.
func (ix *Index) migrate(ctx context.Context) error {
	var version int
	if err := ix.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return NewIndexError("migrate", err)
	}
	if version >= schemaVersion {
		return nil
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return NewIndexError("migrate", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range dropStatements() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return NewIndexError("migrate", err)
		}
	}
	for _, stmt := range createStatements() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return NewIndexError("migrate", err)
		}
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return NewIndexError("migrate", err)
	}

	if err := tx.Commit(); err != nil {
		return NewIndexError("migrate", err)
	}
	return nil
}

// BranchCommits loads the whole branch → commit map.
func (ix *Index) BranchCommits(ctx context.Context) (map[string]string, error) {
	rows, err := ix.db.QueryContext(ctx, "SELECT branch, commit_id FROM branch_commits")
	if err != nil {
		return nil, NewIndexError("branch_commits", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var branch, commit string
		if err := rows.Scan(&branch, &commit); err != nil {
			return nil, NewIndexError("branch_commits", err)
		}
		out[branch] = commit
	}
	if err := rows.Err(); err != nil {
		return nil, NewIndexError("branch_commits", err)
	}
	return out, nil
}

// ResolveBranch returns the stored commit for a branch, or ok=false when
// the branch is not indexed.
func (ix *Index) ResolveBranch(ctx context.Context, branch string) (string, bool, error) {
	var commit string
	err := ix.db.QueryRowContext(ctx, "SELECT commit_id FROM branch_commits WHERE branch = ?", branch).Scan(&commit)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, NewIndexError("resolve_branch", err)
	}
	return commit, true, nil
}
