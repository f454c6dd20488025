package protocol

import (
	"bytes"
	"fmt"

	"github.com/aurmirror/aurmeta/protocol/hash"
)

// TreeEntry is one entry of a tree object's body:
//
//	<mode> <name>\0<20-byte oid>
type TreeEntry struct {
	Mode string
	Name string
	OID  hash.Hash
}

// ParseTree parses the body of a tree object into its entries, in the
// order the tree stores them.
func ParseTree(data []byte) ([]TreeEntry, error) {
	var entries []TreeEntry
	rest := data
	for len(rest) > 0 {
		sp := bytes.IndexByte(rest, ' ')
		if sp < 0 {
			return nil, NewPackfileCorruptError(-1, fmt.Errorf("tree entry has no mode terminator"))
		}
		nul := bytes.IndexByte(rest[sp+1:], 0)
		if nul < 0 {
			return nil, NewPackfileCorruptError(-1, fmt.Errorf("tree entry has no name terminator"))
		}
		nameEnd := sp + 1 + nul
		if len(rest) < nameEnd+1+hash.Size {
			return nil, NewPackfileCorruptError(-1, fmt.Errorf("tree entry truncated before oid"))
		}

		entries = append(entries, TreeEntry{
			Mode: string(rest[:sp]),
			Name: string(rest[sp+1 : nameEnd]),
			OID:  hash.Hash(bytes.Clone(rest[nameEnd+1 : nameEnd+1+hash.Size])),
		})
		rest = rest[nameEnd+1+hash.Size:]
	}
	return entries, nil
}

// FindTreeEntry returns the entry with the given name, or nil.
func FindTreeEntry(entries []TreeEntry, name string) *TreeEntry {
	for i := range entries {
		if entries[i].Name == name {
			return &entries[i]
		}
	}
	return nil
}
