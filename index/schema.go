package index

import "fmt"

// attrTable describes one multi-value attribute side table. The four
// dependency tables carry an extra index on the value column to answer
// reverse-dependency queries in constant-per-hit time.
type attrTable struct {
	name       string
	valueIndex bool
}

var attrTables = []attrTable{
	{name: "pkg_depends", valueIndex: true},
	{name: "pkg_make_depends", valueIndex: true},
	{name: "pkg_opt_depends", valueIndex: true},
	{name: "pkg_check_depends", valueIndex: true},
	{name: "pkg_provides"},
	{name: "pkg_conflicts"},
	{name: "pkg_replaces"},
	{name: "pkg_groups"},
}

func dropStatements() []string {
	stmts := []string{
		"DROP TABLE IF EXISTS branch_commits",
		"DROP TABLE IF EXISTS pkg_info",
		"DROP TABLE IF EXISTS pkg_supplement",
	}
	for _, t := range attrTables {
		stmts = append(stmts, fmt.Sprintf("DROP TABLE IF EXISTS %s", t.name))
	}
	return stmts
}

func createStatements() []string {
	stmts := []string{
		`CREATE TABLE branch_commits (
			branch    TEXT NOT NULL PRIMARY KEY,
			commit_id TEXT NOT NULL
		)`,
		`CREATE TABLE pkg_info (
			branch       TEXT NOT NULL,
			pkg_name     TEXT NOT NULL,
			pkg_desc     TEXT NOT NULL DEFAULT '',
			version      TEXT NOT NULL,
			url          TEXT NOT NULL DEFAULT '',
			commit_id    TEXT NOT NULL,
			is_listed    INTEGER NOT NULL DEFAULT 1,
			committed_at INTEGER NOT NULL,
			PRIMARY KEY (branch, pkg_name)
		)`,
		"CREATE INDEX pkg_info_name ON pkg_info (pkg_name)",
		"CREATE INDEX pkg_info_branch ON pkg_info (branch)",
		`CREATE TABLE pkg_supplement (
			pkgname         TEXT NOT NULL PRIMARY KEY,
			version         TEXT NOT NULL DEFAULT '',
			popularity      REAL NOT NULL DEFAULT 0,
			num_votes       INTEGER NOT NULL DEFAULT 0,
			out_of_date     INTEGER,
			maintainer      TEXT,
			submitter       TEXT,
			co_maintainers  TEXT NOT NULL DEFAULT '',
			keywords        TEXT NOT NULL DEFAULT '',
			first_submitted INTEGER NOT NULL DEFAULT 0,
			last_modified   INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, t := range attrTables {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE %s (
			branch   TEXT NOT NULL,
			pkg_name TEXT NOT NULL,
			value    TEXT NOT NULL,
			PRIMARY KEY (branch, pkg_name, value)
		)`, t.name))
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s_branch ON %s (branch)", t.name, t.name))
		if t.valueIndex {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s_value ON %s (value)", t.name, t.name))
		}
	}
	return stmts
}
