package index

import (
	"context"
	"strings"
)

// SupplementRecord is one row of the optional AUR website dump. Its
// lifecycle is disjoint from pkg_info: the whole table is replaced on
// every refresh.
type SupplementRecord struct {
	Name           string
	Version        string
	Popularity     float64
	NumVotes       int64
	OutOfDate      *int64
	Maintainer     *string
	Submitter      *string
	CoMaintainers  []string
	Keywords       []string
	FirstSubmitted int64
	LastModified   int64
}

// unlistedGrace is the slack subtracted from the newest supplement entry
// before a package missing from the dump is considered delisted. A
// branch pushed after the dump was generated is not penalised for being
// absent from it.
const unlistedGrace = 86400

// ReplaceSupplement swaps the pkg_supplement table wholesale and sweeps
// pkg_info.is_listed, all in one transaction: a package absent from the
// supplement whose row committed before max(last_modified)-86400 flips to
// unlisted; every other row is (re)listed.
func (ix *Index) ReplaceSupplement(ctx context.Context, records []SupplementRecord) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return NewIndexError("supplement", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM pkg_supplement"); err != nil {
		return NewIndexError("supplement", err)
	}

	for _, rec := range records {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO pkg_supplement
			 (pkgname, version, popularity, num_votes, out_of_date, maintainer, submitter,
			  co_maintainers, keywords, first_submitted, last_modified)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.Name, rec.Version, rec.Popularity, rec.NumVotes, rec.OutOfDate,
			rec.Maintainer, rec.Submitter,
			strings.Join(rec.CoMaintainers, " "), strings.Join(rec.Keywords, " "),
			rec.FirstSubmitted, rec.LastModified); err != nil {
			return NewIndexError("supplement", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE pkg_info SET is_listed = CASE
			WHEN pkg_name NOT IN (SELECT pkgname FROM pkg_supplement)
			     AND committed_at < (SELECT COALESCE(MAX(last_modified), 0) - ? FROM pkg_supplement)
			THEN 0 ELSE 1 END`,
		unlistedGrace); err != nil {
		return NewIndexError("supplement", err)
	}

	if err := tx.Commit(); err != nil {
		return NewIndexError("supplement", err)
	}
	return nil
}
