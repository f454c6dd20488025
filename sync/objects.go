package sync

import (
	"github.com/aurmirror/aurmeta/protocol"
	"github.com/aurmirror/aurmeta/protocol/hash"
)

// objectStore accumulates the objects of one fetch pass across batches.
// Pass 1 holds commits and their root trees; pass 2 holds .SRCINFO
// blobs. Its lifetime is one sync run.
type objectStore map[string]*protocol.PackfileObject

func newObjectStore() objectStore {
	return make(objectStore)
}

func (s objectStore) Get(key hash.Hash) (*protocol.PackfileObject, bool) {
	obj, ok := s[key.String()]
	return obj, ok
}

func (s objectStore) AddMap(objs map[string]*protocol.PackfileObject) {
	for _, obj := range objs {
		s[obj.Hash.String()] = obj
	}
}

func (s objectStore) Len() int {
	return len(s)
}
