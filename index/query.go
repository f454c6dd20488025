package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PackageInfo is the read-side projection the RPC layer serves: pkg_info
// LEFT JOINed with pkg_supplement, with the supplement's version-gated
// fields already resolved.
type PackageInfo struct {
	Name        string
	PackageBase string
	Version     string
	Description string
	URL         string
	IsListed    bool

	// Unconditional supplement fields.
	NumVotes       int64
	Popularity     float64
	Maintainer     *string
	Submitter      *string
	CoMaintainers  []string
	Keywords       []string
	FirstSubmitted int64

	// Version-gated supplement fields: populated only when the indexed
	// version equals the supplement's version.
	OutOfDate    *int64
	LastModified int64

	// Attribute lists; populated by Info, left empty by Search.
	Depends      []string
	MakeDepends  []string
	OptDepends   []string
	CheckDepends []string
	Provides     []string
	Conflicts    []string
	Replaces     []string
	Groups       []string
}

// searchAttrTables maps the attribute search dimensions to their side
// tables.
var searchAttrTables = map[string]string{
	"depends":      "pkg_depends",
	"makedepends":  "pkg_make_depends",
	"optdepends":   "pkg_opt_depends",
	"checkdepends": "pkg_check_depends",
	"provides":     "pkg_provides",
	"conflicts":    "pkg_conflicts",
	"replaces":     "pkg_replaces",
	"groups":       "pkg_groups",
}

const packageColumns = `
	i.branch, i.pkg_name, i.pkg_desc, i.version, i.url, i.is_listed,
	s.version, s.popularity, s.num_votes, s.out_of_date, s.maintainer, s.submitter,
	s.co_maintainers, s.keywords, s.first_submitted, s.last_modified`

// Search returns listed packages matching the given dimension. Supported
// values of by: "name", "name-desc", "maintainer", and the eight
// attribute dimensions ("depends", "provides", ...).
func (ix *Index) Search(ctx context.Context, by, arg string) ([]PackageInfo, error) {
	var where string
	args := []any{}

	switch by {
	case "", "name-desc":
		where = "(instr(i.pkg_name, ?) > 0 OR instr(i.pkg_desc, ?) > 0)"
		args = append(args, arg, arg)
	case "name":
		where = "instr(i.pkg_name, ?) > 0"
		args = append(args, arg)
	case "maintainer":
		where = "s.maintainer = ?"
		args = append(args, arg)
	default:
		table, ok := searchAttrTables[by]
		if !ok {
			return nil, NewIndexError("search", fmt.Errorf("unsupported search dimension %q", by))
		}
		// Attribute values may carry a version constraint ("foo>=1.2");
		// match the bare name with or without one.
		where = fmt.Sprintf(`EXISTS (
			SELECT 1 FROM %s a
			WHERE a.branch = i.branch AND a.pkg_name = i.pkg_name
			  AND (a.value = ? OR a.value GLOB ? || '[<>=]*')
		)`, table)
		args = append(args, arg, arg)
	}

	query := fmt.Sprintf(`SELECT %s
		FROM pkg_info i LEFT JOIN pkg_supplement s ON s.pkgname = i.pkg_name
		WHERE i.is_listed = 1 AND %s
		ORDER BY i.pkg_name`, packageColumns, where)

	return ix.queryPackages(ctx, "search", query, args...)
}

// Info returns full records (attribute lists included) for the named
// packages. Unlisted packages are returned too; the mirror still carries
// their branches.
func (ix *Index) Info(ctx context.Context, names []string) ([]PackageInfo, error) {
	if len(names) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}

	query := fmt.Sprintf(`SELECT %s
		FROM pkg_info i LEFT JOIN pkg_supplement s ON s.pkgname = i.pkg_name
		WHERE i.pkg_name IN (%s)
		ORDER BY i.pkg_name`, packageColumns, placeholders)

	pkgs, err := ix.queryPackages(ctx, "info", query, args...)
	if err != nil {
		return nil, err
	}

	for i := range pkgs {
		if err := ix.loadAttributes(ctx, &pkgs[i]); err != nil {
			return nil, err
		}
	}
	return pkgs, nil
}

func (ix *Index) queryPackages(ctx context.Context, op, query string, args ...any) ([]PackageInfo, error) {
	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewIndexError(op, err)
	}
	defer rows.Close()

	var out []PackageInfo
	for rows.Next() {
		var p PackageInfo
		var isListed int
		var suppVersion, coMaintainers, keywords sql.NullString
		var popularity sql.NullFloat64
		var numVotes, outOfDate, firstSubmitted, lastModified sql.NullInt64
		var maintainer, submitter sql.NullString

		if err := rows.Scan(
			&p.PackageBase, &p.Name, &p.Description, &p.Version, &p.URL, &isListed,
			&suppVersion, &popularity, &numVotes, &outOfDate, &maintainer, &submitter,
			&coMaintainers, &keywords, &firstSubmitted, &lastModified,
		); err != nil {
			return nil, NewIndexError(op, err)
		}

		p.IsListed = isListed != 0
		p.Popularity = popularity.Float64
		p.NumVotes = numVotes.Int64
		p.FirstSubmitted = firstSubmitted.Int64
		if maintainer.Valid {
			p.Maintainer = &maintainer.String
		}
		if submitter.Valid {
			p.Submitter = &submitter.String
		}
		p.CoMaintainers = strings.Fields(coMaintainers.String)
		p.Keywords = strings.Fields(keywords.String)

		// Version-gated fields surface only when the mirror and the
		// supplement agree on the version.
		if suppVersion.Valid && suppVersion.String == p.Version {
			p.LastModified = lastModified.Int64
			if outOfDate.Valid {
				v := outOfDate.Int64
				p.OutOfDate = &v
			}
		}

		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, NewIndexError(op, err)
	}
	return out, nil
}

func (ix *Index) loadAttributes(ctx context.Context, p *PackageInfo) error {
	targets := map[string]*[]string{
		"pkg_depends":       &p.Depends,
		"pkg_make_depends":  &p.MakeDepends,
		"pkg_opt_depends":   &p.OptDepends,
		"pkg_check_depends": &p.CheckDepends,
		"pkg_provides":      &p.Provides,
		"pkg_conflicts":     &p.Conflicts,
		"pkg_replaces":      &p.Replaces,
		"pkg_groups":        &p.Groups,
	}
	for table, target := range targets {
		rows, err := ix.db.QueryContext(ctx,
			fmt.Sprintf("SELECT value FROM %s WHERE branch = ? AND pkg_name = ? ORDER BY rowid", table),
			p.PackageBase, p.Name)
		if err != nil {
			return NewIndexError("info", err)
		}
		for rows.Next() {
			var value string
			if err := rows.Scan(&value); err != nil {
				rows.Close()
				return NewIndexError("info", err)
			}
			*target = append(*target, value)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return NewIndexError("info", err)
		}
		rows.Close()
	}
	return nil
}
