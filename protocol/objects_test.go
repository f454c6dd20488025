package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aurmirror/aurmeta/protocol/hash"
	"github.com/aurmirror/aurmeta/protocol/object"
)

func TestParseTree(t *testing.T) {
	srcinfoOID := mustHash(t, object.TypeBlob, []byte("pkgbase = foo\n"))
	pkgbuildOID := mustHash(t, object.TypeBlob, []byte("pkgname=foo\n"))

	body := append([]byte("100644 .SRCINFO\x00"), srcinfoOID...)
	body = append(body, []byte("100644 PKGBUILD\x00")...)
	body = append(body, pkgbuildOID...)

	entries, err := ParseTree(body)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "100644", entries[0].Mode)
	require.Equal(t, ".SRCINFO", entries[0].Name)
	require.True(t, entries[0].OID.Is(srcinfoOID))
	require.Equal(t, "PKGBUILD", entries[1].Name)

	require.NotNil(t, FindTreeEntry(entries, ".SRCINFO"))
	require.Nil(t, FindTreeEntry(entries, ".srcinfo"))
}

func TestParseTreeMalformed(t *testing.T) {
	t.Run("no mode terminator", func(t *testing.T) {
		_, err := ParseTree([]byte("100644.SRCINFO"))
		require.ErrorIs(t, err, ErrPackfileCorrupt)
	})

	t.Run("truncated oid", func(t *testing.T) {
		_, err := ParseTree([]byte("100644 .SRCINFO\x00abc"))
		require.ErrorIs(t, err, ErrPackfileCorrupt)
	})
}

func TestParseCommitHeader(t *testing.T) {
	tree := "93b70a86970d11d7fdbd6694f5e1b343a4cc25a1"
	parent := "0cc81f98b1cbcb4464e10c1f0b7b7f1a90938faf"

	t.Run("tree and parents", func(t *testing.T) {
		body := []byte("tree " + tree + "\n" +
			"parent " + parent + "\n" +
			"author A U Thor <au@example.com> 1700000000 +0000\n" +
			"committer A U Thor <au@example.com> 1700000000 +0000\n" +
			"\n" +
			"upgpkg: foo 1.0-1\n")

		header, err := ParseCommitHeader(body)
		require.NoError(t, err)
		require.Equal(t, tree, header.Tree.String())
		require.Len(t, header.Parents, 1)
		require.Equal(t, parent, header.Parents[0].String())
	})

	t.Run("root commit", func(t *testing.T) {
		body := []byte("tree " + tree + "\n\nmessage\n")
		header, err := ParseCommitHeader(body)
		require.NoError(t, err)
		require.Empty(t, header.Parents)
	})

	t.Run("missing tree line", func(t *testing.T) {
		_, err := ParseCommitHeader([]byte("author nobody\n\nmessage with tree word\n"))
		require.ErrorIs(t, err, ErrPackfileCorrupt)
	})
}

func TestParseRefLine(t *testing.T) {
	oid := "8a156c407b1e69a46b9dbba04e77a7e9b0124d89"

	t.Run("plain ref", func(t *testing.T) {
		ref, err := ParseRefLine([]byte(oid + " refs/heads/foo\n"))
		require.NoError(t, err)
		require.Equal(t, oid, ref.OID.String())
		require.Equal(t, "refs/heads/foo", ref.RefName)
	})

	t.Run("symref and peeled attributes", func(t *testing.T) {
		peeled := "0cc81f98b1cbcb4464e10c1f0b7b7f1a90938faf"
		ref, err := ParseRefLine([]byte(oid + " HEAD symref-target:refs/heads/main peeled:" + peeled + "\n"))
		require.NoError(t, err)
		require.Equal(t, "refs/heads/main", ref.SymrefTarget)
		require.Equal(t, peeled, ref.Peeled.String())
	})

	t.Run("missing name", func(t *testing.T) {
		_, err := ParseRefLine([]byte(oid))
		require.ErrorIs(t, err, ErrProtocolMalformed)
	})

	t.Run("bad oid", func(t *testing.T) {
		_, err := ParseRefLine([]byte("zzzz refs/heads/foo"))
		require.ErrorIs(t, err, ErrProtocolMalformed)
	})
}
