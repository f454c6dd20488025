// Package hash provides Git object identifiers and the hashing of objects.
//
// The upstream mirrored by this module is a SHA-1 repository, so only SHA-1
// identifiers are supported. Git objects are hashed with a header followed
// by the content; the header format is "<type> <size>\0" where <type> is the
// lowercase object type name and <size> is the decimal content length.
//
// For example, a blob containing "test" hashes as "blob 4\0test".
//
// See https://git-scm.com/book/en/v2/Git-Internals-Git-Objects
package hash

import (
	//nolint:gosec // Git still uses SHA-1: https://git-scm.com/docs/hash-function-transition
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"slices"
	"strconv"

	"github.com/aurmirror/aurmeta/protocol/object"
)

// Size is the byte length of a SHA-1 object identifier.
const Size = sha1.Size

// Hash is a raw Git object identifier.
type Hash []byte

// Zero is the absent hash. It renders as the empty string.
var Zero Hash

// ErrUnnamedType is returned when hashing an object whose type has no
// header name (deltified or invalid types).
var ErrUnnamedType = errors.New("object type has no header name")

// FromHex parses a hex object identifier. An empty string yields Zero.
func FromHex(hs string) (Hash, error) {
	if len(hs) == 0 {
		return Zero, nil
	}

	b, err := hex.DecodeString(hs)
	if err != nil {
		return Zero, err
	}
	return Hash(b), nil
}

// MustFromHex is like FromHex but panics if the hex string is invalid.
// It is intended for use in tests and other situations where the hex string
// is known to be valid.
func MustFromHex(hs string) Hash {
	h, err := FromHex(hs)
	if err != nil {
		panic(err)
	}
	return h
}

func (h Hash) String() string {
	return hex.EncodeToString(h)
}

func (h Hash) Is(other Hash) bool {
	return slices.Equal(h, other)
}

// Object computes the identifier of a Git object from its type and
// reconstructed body: SHA-1 over "<type> <size>\0<body>".
func Object(t object.Type, data []byte) (Hash, error) {
	name := t.Bytes()
	if name == nil {
		return nil, ErrUnnamedType
	}

	h := sha1.New() //nolint:gosec
	h.Write(name)
	h.Write([]byte{' '})
	h.Write([]byte(strconv.Itoa(len(data))))
	h.Write([]byte{0})
	h.Write(data)
	return h.Sum(nil), nil
}
