package protocol

import (
	"bytes"
	"fmt"

	"github.com/aurmirror/aurmeta/protocol/hash"
)

// CommitHeader carries the header fields of a commit object this module
// cares about. The message and identity lines are not needed to locate a
// branch's files and are not retained.
type CommitHeader struct {
	// Tree is the hash of the root tree object that represents the state
	// of the repository at this commit.
	Tree hash.Hash
	// Parents are the hashes of the parent commits, in header order.
	Parents []hash.Hash
}

// ParseCommitHeader parses the header of a commit object body. The header
// is a sequence of "<key> <value>" lines terminated by a blank line; the
// tree line is mandatory and comes first.
func ParseCommitHeader(data []byte) (*CommitHeader, error) {
	header := &CommitHeader{}
	rest := data
	for len(rest) > 0 {
		nl := bytes.IndexByte(rest, '\n')
		var line []byte
		if nl < 0 {
			line, rest = rest, nil
		} else {
			line, rest = rest[:nl], rest[nl+1:]
		}
		if len(line) == 0 {
			// Blank line ends the header; the message follows.
			break
		}

		key, value, ok := bytes.Cut(line, []byte(" "))
		if !ok {
			continue
		}
		switch string(key) {
		case "tree":
			oid, err := hash.FromHex(string(value))
			if err != nil {
				return nil, NewPackfileCorruptError(-1, fmt.Errorf("commit tree oid: %w", err))
			}
			header.Tree = oid
		case "parent":
			oid, err := hash.FromHex(string(value))
			if err != nil {
				return nil, NewPackfileCorruptError(-1, fmt.Errorf("commit parent oid: %w", err))
			}
			header.Parents = append(header.Parents, oid)
		}
	}

	if len(header.Tree) == 0 {
		return nil, NewPackfileCorruptError(-1, fmt.Errorf("commit object has no tree line"))
	}
	return header, nil
}
