package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aurmirror/aurmeta/srcinfo"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "aurmeta.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func fooUpdate(commit string) BranchUpdate {
	return BranchUpdate{
		Branch:   "foo",
		CommitID: commit,
		Packages: []*srcinfo.Package{{
			Branch:  "foo",
			Name:    "foo",
			Desc:    "A package",
			Version: "1.0-1",
			URL:     "https://example.com",
			Depends: []string{"a", "b"},
			Groups:  []string{"tools"},
		}},
	}
}

func TestMigration(t *testing.T) {
	t.Run("fresh file is stamped with the schema version", func(t *testing.T) {
		ix := openTestIndex(t)

		var version int
		require.NoError(t, ix.db.QueryRow("PRAGMA user_version").Scan(&version))
		require.Equal(t, schemaVersion, version)
	})

	t.Run("lower version drops and recreates", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "aurmeta.db")

		ix, err := Open(path, false)
		require.NoError(t, err)
		require.NoError(t, ix.ApplyBatch(context.Background(), []BranchUpdate{fooUpdate("c1")}, nil, 1000))

		// Wind the stamp back; reopening must recreate everything.
		_, err = ix.db.Exec("PRAGMA user_version = 1")
		require.NoError(t, err)
		require.NoError(t, ix.Close())

		ix, err = Open(path, false)
		require.NoError(t, err)
		defer ix.Close()

		commits, err := ix.BranchCommits(context.Background())
		require.NoError(t, err)
		require.Empty(t, commits)
	})

	t.Run("current version keeps data", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "aurmeta.db")

		ix, err := Open(path, false)
		require.NoError(t, err)
		require.NoError(t, ix.ApplyBatch(context.Background(), []BranchUpdate{fooUpdate("c1")}, nil, 1000))
		require.NoError(t, ix.Close())

		ix, err = Open(path, false)
		require.NoError(t, err)
		defer ix.Close()

		commits, err := ix.BranchCommits(context.Background())
		require.NoError(t, err)
		require.Equal(t, map[string]string{"foo": "c1"}, commits)
	})
}

func TestApplyBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("insert and read back", func(t *testing.T) {
		ix := openTestIndex(t)
		require.NoError(t, ix.ApplyBatch(ctx, []BranchUpdate{fooUpdate("c1")}, nil, 1000))

		commits, err := ix.BranchCommits(ctx)
		require.NoError(t, err)
		require.Equal(t, map[string]string{"foo": "c1"}, commits)

		pkgs, err := ix.Info(ctx, []string{"foo"})
		require.NoError(t, err)
		require.Len(t, pkgs, 1)
		require.Equal(t, "1.0-1", pkgs[0].Version)
		require.Equal(t, []string{"a", "b"}, pkgs[0].Depends)
		require.Equal(t, []string{"tools"}, pkgs[0].Groups)
		require.True(t, pkgs[0].IsListed)
	})

	t.Run("update replaces all rows of the branch", func(t *testing.T) {
		ix := openTestIndex(t)
		require.NoError(t, ix.ApplyBatch(ctx, []BranchUpdate{fooUpdate("c1")}, nil, 1000))

		update := fooUpdate("c2")
		update.Packages[0].Version = "1.1-1"
		update.Packages[0].Depends = []string{"c"}
		require.NoError(t, ix.ApplyBatch(ctx, []BranchUpdate{update}, nil, 2000))

		commits, err := ix.BranchCommits(ctx)
		require.NoError(t, err)
		require.Equal(t, "c2", commits["foo"])

		pkgs, err := ix.Info(ctx, []string{"foo"})
		require.NoError(t, err)
		require.Len(t, pkgs, 1)
		require.Equal(t, "1.1-1", pkgs[0].Version)
		require.Equal(t, []string{"c"}, pkgs[0].Depends)
	})

	t.Run("removal deletes every table's rows", func(t *testing.T) {
		ix := openTestIndex(t)
		require.NoError(t, ix.ApplyBatch(ctx, []BranchUpdate{fooUpdate("c1")}, nil, 1000))
		require.NoError(t, ix.ApplyBatch(ctx, nil, []string{"foo"}, 2000))

		commits, err := ix.BranchCommits(ctx)
		require.NoError(t, err)
		require.Empty(t, commits)

		pkgs, err := ix.Info(ctx, []string{"foo"})
		require.NoError(t, err)
		require.Empty(t, pkgs)

		var n int
		require.NoError(t, ix.db.QueryRow("SELECT COUNT(*) FROM pkg_depends").Scan(&n))
		require.Zero(t, n)
	})

	t.Run("empty update records the commit without packages", func(t *testing.T) {
		ix := openTestIndex(t)
		require.NoError(t, ix.ApplyBatch(ctx, []BranchUpdate{{Branch: "empty", CommitID: "c9"}}, nil, 1000))

		commits, err := ix.BranchCommits(ctx)
		require.NoError(t, err)
		require.Equal(t, "c9", commits["empty"])

		pkgs, err := ix.Info(ctx, []string{"empty"})
		require.NoError(t, err)
		require.Empty(t, pkgs)
	})

	t.Run("duplicate attribute values are collapsed", func(t *testing.T) {
		ix := openTestIndex(t)
		update := fooUpdate("c1")
		update.Packages[0].Depends = []string{"a", "a", "b"}
		require.NoError(t, ix.ApplyBatch(ctx, []BranchUpdate{update}, nil, 1000))

		pkgs, err := ix.Info(ctx, []string{"foo"})
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b"}, pkgs[0].Depends)
	})

	t.Run("split packages share the branch", func(t *testing.T) {
		ix := openTestIndex(t)
		update := BranchUpdate{
			Branch:   "bar",
			CommitID: "c2",
			Packages: []*srcinfo.Package{
				{Branch: "bar", Name: "bar-lib", Version: "2.3-4"},
				{Branch: "bar", Name: "bar-bin", Version: "2.3-4"},
			},
		}
		require.NoError(t, ix.ApplyBatch(ctx, []BranchUpdate{update}, nil, 1000))

		pkgs, err := ix.Info(ctx, []string{"bar-lib", "bar-bin"})
		require.NoError(t, err)
		require.Len(t, pkgs, 2)
		for _, p := range pkgs {
			require.Equal(t, "bar", p.PackageBase)
			require.Equal(t, "2.3-4", p.Version)
		}
	})
}

func TestResolveBranch(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex(t)
	require.NoError(t, ix.ApplyBatch(ctx, []BranchUpdate{fooUpdate("c1")}, nil, 1000))

	commit, ok, err := ix.ResolveBranch(ctx, "foo")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "c1", commit)

	_, ok, err = ix.ResolveBranch(ctx, "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func strPtr(s string) *string { return &s }
func intPtr(i int64) *int64   { return &i }

func TestSupplement(t *testing.T) {
	ctx := context.Background()

	t.Run("wholesale replace and listed sweep", func(t *testing.T) {
		ix := openTestIndex(t)
		require.NoError(t, ix.ApplyBatch(ctx, []BranchUpdate{fooUpdate("c1")}, nil, 1000))

		old := BranchUpdate{
			Branch:   "stale",
			CommitID: "c8",
			Packages: []*srcinfo.Package{{Branch: "stale", Name: "stale", Version: "0.1-1"}},
		}
		require.NoError(t, ix.ApplyBatch(ctx, []BranchUpdate{old}, nil, 1000))

		fresh := BranchUpdate{
			Branch:   "fresh",
			CommitID: "c7",
			Packages: []*srcinfo.Package{{Branch: "fresh", Name: "fresh", Version: "0.2-1"}},
		}
		require.NoError(t, ix.ApplyBatch(ctx, []BranchUpdate{fresh}, nil, 200000))

		// foo is in the supplement; stale and fresh are not. The cutoff
		// lands at 100000 - 86400 = 13600.
		require.NoError(t, ix.ReplaceSupplement(ctx, []SupplementRecord{{
			Name:         "foo",
			Version:      "1.0-1",
			NumVotes:     12,
			Popularity:   0.5,
			Maintainer:   strPtr("alice"),
			LastModified: 100000,
		}}))

		pkgs, err := ix.Info(ctx, []string{"foo", "stale", "fresh"})
		require.NoError(t, err)
		byName := map[string]PackageInfo{}
		for _, p := range pkgs {
			byName[p.Name] = p
		}

		// foo: listed, supplement merged, versions match so gated fields flow.
		require.True(t, byName["foo"].IsListed)
		require.Equal(t, int64(12), byName["foo"].NumVotes)
		require.Equal(t, "alice", *byName["foo"].Maintainer)
		require.Equal(t, int64(100000), byName["foo"].LastModified)

		// stale: absent from the supplement, committed before the cutoff.
		require.False(t, byName["stale"].IsListed)

		// fresh: absent but committed after the cutoff, keeps listing.
		require.True(t, byName["fresh"].IsListed)
	})

	t.Run("version mismatch gates OutOfDate and LastModified", func(t *testing.T) {
		ix := openTestIndex(t)
		require.NoError(t, ix.ApplyBatch(ctx, []BranchUpdate{fooUpdate("c1")}, nil, 1000))

		require.NoError(t, ix.ReplaceSupplement(ctx, []SupplementRecord{{
			Name:         "foo",
			Version:      "0.9-1",
			NumVotes:     3,
			Maintainer:   strPtr("bob"),
			OutOfDate:    intPtr(12345),
			LastModified: 12345,
		}}))

		pkgs, err := ix.Info(ctx, []string{"foo"})
		require.NoError(t, err)
		require.Len(t, pkgs, 1)

		// Unconditional fields flow regardless of version.
		require.Equal(t, int64(3), pkgs[0].NumVotes)
		require.Equal(t, "bob", *pkgs[0].Maintainer)
		// Version-gated fields do not.
		require.Zero(t, pkgs[0].LastModified)
		require.Nil(t, pkgs[0].OutOfDate)
	})

	t.Run("replace is wholesale", func(t *testing.T) {
		ix := openTestIndex(t)
		require.NoError(t, ix.ReplaceSupplement(ctx, []SupplementRecord{{Name: "a"}, {Name: "b"}}))
		require.NoError(t, ix.ReplaceSupplement(ctx, []SupplementRecord{{Name: "c"}}))

		var n int
		require.NoError(t, ix.db.QueryRow("SELECT COUNT(*) FROM pkg_supplement").Scan(&n))
		require.Equal(t, 1, n)
	})
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex(t)
	require.NoError(t, ix.ApplyBatch(ctx, []BranchUpdate{fooUpdate("c1")}, nil, 1000))

	t.Run("by name", func(t *testing.T) {
		pkgs, err := ix.Search(ctx, "name", "fo")
		require.NoError(t, err)
		require.Len(t, pkgs, 1)
		require.Equal(t, "foo", pkgs[0].Name)
	})

	t.Run("name-desc default", func(t *testing.T) {
		pkgs, err := ix.Search(ctx, "", "A package")
		require.NoError(t, err)
		require.Len(t, pkgs, 1)
	})

	t.Run("by depends", func(t *testing.T) {
		pkgs, err := ix.Search(ctx, "depends", "a")
		require.NoError(t, err)
		require.Len(t, pkgs, 1)

		pkgs, err = ix.Search(ctx, "depends", "zzz")
		require.NoError(t, err)
		require.Empty(t, pkgs)
	})

	t.Run("by depends matches versioned values", func(t *testing.T) {
		update := BranchUpdate{
			Branch:   "ver",
			CommitID: "c3",
			Packages: []*srcinfo.Package{{Branch: "ver", Name: "ver", Version: "1-1", Depends: []string{"glibc>=2.38"}}},
		}
		require.NoError(t, ix.ApplyBatch(ctx, []BranchUpdate{update}, nil, 1000))

		pkgs, err := ix.Search(ctx, "depends", "glibc")
		require.NoError(t, err)
		require.Len(t, pkgs, 1)
		require.Equal(t, "ver", pkgs[0].Name)
	})

	t.Run("unlisted packages are hidden from search", func(t *testing.T) {
		ix := openTestIndex(t)
		old := fooUpdate("c1")
		require.NoError(t, ix.ApplyBatch(ctx, []BranchUpdate{old}, nil, 1000))
		require.NoError(t, ix.ReplaceSupplement(ctx, []SupplementRecord{{Name: "other", LastModified: 1000000}}))

		pkgs, err := ix.Search(ctx, "name", "foo")
		require.NoError(t, err)
		require.Empty(t, pkgs)

		// info still returns them.
		infos, err := ix.Info(ctx, []string{"foo"})
		require.NoError(t, err)
		require.Len(t, infos, 1)
		require.False(t, infos[0].IsListed)
	})

	t.Run("unsupported dimension", func(t *testing.T) {
		_, err := ix.Search(ctx, "flavour", "x")
		require.ErrorIs(t, err, ErrIndex)
	})
}
