package index

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aurmirror/aurmeta/srcinfo"
)

// BranchUpdate carries everything the writer needs for one branch: the
// new commit and the package records parsed from its .SRCINFO. A branch
// whose root tree has no .SRCINFO produces an update with no packages;
// its commit is still recorded so an unchanged re-sync skips it.
type BranchUpdate struct {
	Branch   string
	CommitID string
	Packages []*srcinfo.Package
}

// writeAttempts is how many times in all a batch transaction is attempted
// (the first try included) before the failure is returned.
const writeAttempts = 3

// ApplyBatch writes one batch of branches inside a single transaction.
//
// For every branch in updates and removed, all rows across pkg_info, the
// attribute tables and branch_commits are deleted first; new rows and the
// branch_commits upsert follow for updates only. The transaction commits
// atomically: readers observe either the pre-batch or post-batch state.
//
// A failed transaction is rolled back and the whole batch retried, for at
// most writeAttempts attempts in all.
func (ix *Index) ApplyBatch(ctx context.Context, updates []BranchUpdate, removed []string, committedAt int64) error {
	var err error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		if err = ix.applyBatchOnce(ctx, updates, removed, committedAt); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return err
}

func (ix *Index) applyBatchOnce(ctx context.Context, updates []BranchUpdate, removed []string, committedAt int64) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return NewIndexError("apply", err)
	}
	defer tx.Rollback() //nolint:errcheck

	purge := make([]string, 0, len(updates)+len(removed))
	for _, u := range updates {
		purge = append(purge, u.Branch)
	}
	purge = append(purge, removed...)

	for _, branch := range purge {
		if err := deleteBranch(ctx, tx, branch); err != nil {
			return err
		}
	}

	for _, u := range updates {
		for _, pkg := range u.Packages {
			if err := insertPackage(ctx, tx, u, pkg, committedAt); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO branch_commits (branch, commit_id) VALUES (?, ?)
			 ON CONFLICT (branch) DO UPDATE SET commit_id = excluded.commit_id`,
			u.Branch, u.CommitID); err != nil {
			return NewIndexError("apply", fmt.Errorf("upsert branch %s: %w", u.Branch, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return NewIndexError("apply", err)
	}
	return nil
}

func deleteBranch(ctx context.Context, tx *sql.Tx, branch string) error {
	stmts := []string{
		"DELETE FROM pkg_info WHERE branch = ?",
		"DELETE FROM branch_commits WHERE branch = ?",
	}
	for _, t := range attrTables {
		stmts = append(stmts, fmt.Sprintf("DELETE FROM %s WHERE branch = ?", t.name))
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, branch); err != nil {
			return NewIndexError("apply", fmt.Errorf("purge branch %s: %w", branch, err))
		}
	}
	return nil
}

func insertPackage(ctx context.Context, tx *sql.Tx, u BranchUpdate, pkg *srcinfo.Package, committedAt int64) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pkg_info (branch, pkg_name, pkg_desc, version, url, commit_id, is_listed, committed_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
		u.Branch, pkg.Name, pkg.Desc, pkg.Version, pkg.URL, u.CommitID, committedAt); err != nil {
		return NewIndexError("apply", fmt.Errorf("insert %s/%s: %w", u.Branch, pkg.Name, err))
	}

	values := map[string][]string{
		"pkg_depends":       pkg.Depends,
		"pkg_make_depends":  pkg.MakeDepends,
		"pkg_opt_depends":   pkg.OptDepends,
		"pkg_check_depends": pkg.CheckDepends,
		"pkg_provides":      pkg.Provides,
		"pkg_conflicts":     pkg.Conflicts,
		"pkg_replaces":      pkg.Replaces,
		"pkg_groups":        pkg.Groups,
	}
	for table, list := range values {
		for _, value := range list {
			// INSERT OR IGNORE: .SRCINFO lists occasionally repeat a value,
			// and the composite primary key must stay satisfiable.
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf("INSERT OR IGNORE INTO %s (branch, pkg_name, value) VALUES (?, ?, ?)", table),
				u.Branch, pkg.Name, value); err != nil {
				return NewIndexError("apply", fmt.Errorf("insert %s for %s/%s: %w", table, u.Branch, pkg.Name, err))
			}
		}
	}
	return nil
}
