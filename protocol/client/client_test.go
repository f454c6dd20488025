package client

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"

	"github.com/aurmirror/aurmeta/protocol"
	"github.com/aurmirror/aurmeta/protocol/hash"
	"github.com/aurmirror/aurmeta/protocol/object"
)

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) (*RawClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/upstream/aur.git", opts...)
	require.NoError(t, err)
	return c, srv
}

func formatPacks(t *testing.T, packs ...protocol.Pack) []byte {
	t.Helper()
	out, err := protocol.FormatPacks(packs...)
	require.NoError(t, err)
	return out
}

// singleBlobPack builds a pack containing one blob object.
func singleBlobPack(t *testing.T, body []byte) ([]byte, hash.Hash) {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString("PACK")
	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], 2)
	binary.BigEndian.PutUint32(header[4:8], 1)
	buf.Write(header)

	// Single-byte entry header works for bodies under 16 bytes.
	require.Less(t, len(body), 16)
	buf.WriteByte(byte(object.TypeBlob)<<4 | byte(len(body)))

	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(body)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	sum := sha1.Sum(buf.Bytes())
	buf.Write(sum[:])

	oid, err := hash.Object(object.TypeBlob, body)
	require.NoError(t, err)
	return buf.Bytes(), oid
}

func TestNew(t *testing.T) {
	t.Run("rejects empty URL", func(t *testing.T) {
		_, err := New("")
		require.Error(t, err)
	})

	t.Run("rejects non-HTTP schemes", func(t *testing.T) {
		_, err := New("git://example.com/repo.git")
		require.Error(t, err)
	})
}

func TestCapabilities(t *testing.T) {
	t.Run("parses the advertisement", func(t *testing.T) {
		var gotProto, gotAuth string
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/upstream/aur.git/info/refs", r.URL.Path)
			require.Equal(t, "git-upload-pack", r.URL.Query().Get("service"))
			gotProto = r.Header.Get("Git-Protocol")
			gotAuth = r.Header.Get("Authorization")

			w.Header().Set("Content-Type", advertisementContentType)
			w.Write(formatPacks(t, //nolint:errcheck
				protocol.PackLine("# service=git-upload-pack\n"),
				protocol.FlushPacket,
				protocol.PackLine("version 2\n"),
				protocol.PackLine("ls-refs\n"),
				protocol.PackLine("fetch=filter shallow\n"),
				protocol.PackLine("object-format=sha1\n"),
				protocol.FlushPacket,
			))
		}), WithBearerToken("s3cret"))

		caps, err := c.Capabilities(context.Background())
		require.NoError(t, err)
		require.Equal(t, "version=2", gotProto)
		require.Equal(t, "Bearer s3cret", gotAuth)
		require.Contains(t, caps, "ls-refs")
		require.Contains(t, caps, "fetch=filter shallow")
	})

	t.Run("rejects a version 1 server", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", advertisementContentType)
			w.Write(formatPacks(t, //nolint:errcheck
				protocol.PackLine("# service=git-upload-pack\n"),
				protocol.FlushPacket,
				protocol.PackLine("cafebabecafebabecafebabecafebabecafebabe refs/heads/main\n"),
				protocol.FlushPacket,
			))
		}))

		_, err := c.Capabilities(context.Background())
		require.ErrorIs(t, err, protocol.ErrProtocolMalformed)
	})

	t.Run("rejects a wrong content type", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html>")) //nolint:errcheck
		}))

		_, err := c.Capabilities(context.Background())
		require.ErrorIs(t, err, protocol.ErrProtocolMalformed)
	})

	t.Run("maps 401 to ErrUnauthorized", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))

		_, err := c.Capabilities(context.Background())
		require.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestLsRefs(t *testing.T) {
	t.Run("strips the prefix and filters main", func(t *testing.T) {
		var request []byte
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/upstream/aur.git/git-upload-pack", r.URL.Path)
			require.Equal(t, "application/x-git-upload-pack-request", r.Header.Get("Content-Type"))
			request, _ = io.ReadAll(r.Body)

			w.Write(formatPacks(t, //nolint:errcheck
				protocol.PackLine("1111111111111111111111111111111111111111 refs/heads/foo\n"),
				protocol.PackLine("2222222222222222222222222222222222222222 refs/heads/bar\n"),
				protocol.PackLine("3333333333333333333333333333333333333333 refs/heads/main\n"),
				protocol.FlushPacket,
			))
		}))

		refs, err := c.LsRefs(context.Background())
		require.NoError(t, err)

		require.Contains(t, string(request), "command=ls-refs\n")
		require.Contains(t, string(request), "ref-prefix refs/heads/\n")
		require.Contains(t, string(request), "peel\n")
		require.Contains(t, string(request), "symrefs\n")

		require.Len(t, refs, 2)
		require.Equal(t, "1111111111111111111111111111111111111111", refs["foo"].String())
		require.Equal(t, "2222222222222222222222222222222222222222", refs["bar"].String())
		require.NotContains(t, refs, "main")
		for name := range refs {
			require.NotContains(t, name, "refs/heads/")
		}
	})

	t.Run("empty upstream", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(formatPacks(t, //nolint:errcheck
				protocol.PackLine("3333333333333333333333333333333333333333 refs/heads/main\n"),
				protocol.FlushPacket,
			))
		}))

		refs, err := c.LsRefs(context.Background())
		require.NoError(t, err)
		require.Empty(t, refs)
	})
}

func TestFetch(t *testing.T) {
	want := hash.MustFromHex("1111111111111111111111111111111111111111")

	t.Run("demultiplexes the packfile section", func(t *testing.T) {
		pack, blobOID := singleBlobPack(t, []byte("hello"))
		var request []byte

		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			request, _ = io.ReadAll(r.Body)

			w.Write(formatPacks(t, //nolint:errcheck
				protocol.PackLine("packfile\n"),
				protocol.PackLine(append([]byte{0x02}, []byte("Enumerating objects: 1\n")...)),
				protocol.PackLine(append([]byte{0x01}, pack[:10]...)),
				protocol.PackLine(append([]byte{0x01}, pack[10:]...)),
				protocol.FlushPacket,
			))
		}))

		objs, err := c.Fetch(context.Background(), FetchOptions{
			Want:       []hash.Hash{want},
			Filter:     FilterBlobNone,
			NoProgress: true,
			OfsDelta:   true,
		})
		require.NoError(t, err)

		require.Contains(t, string(request), "command=fetch\n")
		require.Contains(t, string(request), "filter blob:none\n")
		require.Contains(t, string(request), "want 1111111111111111111111111111111111111111\n")
		require.Contains(t, string(request), "no-progress\n")
		require.Contains(t, string(request), "ofs-delta\n")
		require.Contains(t, string(request), "done\n")

		require.Len(t, objs, 1)
		require.Equal(t, []byte("hello"), objs[blobOID.String()].Data)
	})

	t.Run("skips the acknowledgments section", func(t *testing.T) {
		pack, blobOID := singleBlobPack(t, []byte("hi"))

		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(formatPacks(t, //nolint:errcheck
				protocol.PackLine("acknowledgments\n"),
				protocol.PackLine("NAK\n"),
				protocol.DelimeterPacket,
				protocol.PackLine("packfile\n"),
				protocol.PackLine(append([]byte{0x01}, pack...)),
				protocol.FlushPacket,
			))
		}))

		objs, err := c.Fetch(context.Background(), FetchOptions{Want: []hash.Hash{want}})
		require.NoError(t, err)
		require.Contains(t, objs, blobOID.String())
	})

	t.Run("sideband fatal surfaces as upstream error", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(formatPacks(t, //nolint:errcheck
				protocol.PackLine("packfile\n"),
				protocol.PackLine(append([]byte{0x03}, []byte("fatal: out of memory\n")...)),
				protocol.FlushPacket,
			))
		}))

		_, err := c.Fetch(context.Background(), FetchOptions{Want: []hash.Hash{want}})
		require.ErrorIs(t, err, ErrUpstream)
	})

	t.Run("missing packfile section is malformed", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(formatPacks(t, //nolint:errcheck
				protocol.PackLine("acknowledgments\n"),
				protocol.PackLine("NAK\n"),
				protocol.FlushPacket,
			))
		}))

		_, err := c.Fetch(context.Background(), FetchOptions{Want: []hash.Hash{want}})
		require.ErrorIs(t, err, protocol.ErrProtocolMalformed)
	})

	t.Run("enforces the want batch bound", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		}))

		wants := make([]hash.Hash, MaxWantsPerFetch+1)
		for i := range wants {
			wants[i] = want
		}
		_, err := c.Fetch(context.Background(), FetchOptions{Want: wants})
		require.Error(t, err)
	})

	t.Run("5xx surfaces as retryable upstream error", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream on fire", http.StatusBadGateway)
		}))

		_, err := c.Fetch(context.Background(), FetchOptions{Want: []hash.Hash{want}})
		require.ErrorIs(t, err, ErrUpstream)

		var upstream *UpstreamError
		require.ErrorAs(t, err, &upstream)
		require.Equal(t, http.StatusBadGateway, upstream.StatusCode)
		require.True(t, upstream.IsRetryable())
		require.Contains(t, upstream.BodyPrefix, "upstream on fire")
	})
}
