package protocol

import (
	"bytes"
	//nolint:gosec // pack trailers are SHA-1 by definition
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/aurmirror/aurmeta/protocol/hash"
	"github.com/aurmirror/aurmeta/protocol/object"
)

// A packfile is the container Git uses to transfer objects.
// Its wire format is defined here: https://git-scm.com/docs/pack-format
//
// The format goes as such:
//   - 4-byte signature: []byte("PACK")
//   - 4-byte version number (big-endian; this reader supports 2)
//   - 4-byte number of objects contained in the pack (big-endian)
//   - The pre-declared number of object entries.
//   - A 20-byte SHA-1 trailer over all preceding bytes.
//
// Each entry starts with an n-byte type and length header (3-bit type,
// 4+(n-1)*7-bit length). For an undeltified representation the header is
// followed by the zlib-compressed object data. For a deltified
// representation it is followed by a 20-byte base object name (ref-delta)
// or a variable-length negative in-pack offset (ofs-delta), and then the
// zlib-compressed delta instruction stream.

// PackfileObject is one object reconstructed from a pack: deltas are
// already applied, so Type is always a real object type and Hash is the
// object identifier recomputed from the reconstructed body.
type PackfileObject struct {
	Hash hash.Hash
	Type object.Type
	Data []byte
}

// PackfileReader decodes a fully buffered packfile body, yielding objects
// in pack order. Fetch responses are buffered per spec anyway, and keeping
// the raw bytes addressable makes ofs-delta base lookup a map access.
type PackfileReader struct {
	data      []byte
	off       int64
	remaining uint32

	// byOffset caches reconstructed objects keyed by their entry offset so
	// later ofs-deltas can resolve their base. Bases must appear before
	// their deltas in a well-formed pack.
	byOffset map[int64]*PackfileObject

	// onRefDelta, if set, is invoked for ref-deltas whose base is not part
	// of this pack (a thin pack); the entry is skipped and the caller is
	// expected to fetch the base separately. When nil, a ref-delta is
	// reported as corruption: the filtered two-pass flow never produces
	// thin packs.
	onRefDelta func(base hash.Hash)
}

const (
	packHeaderSize  = 12
	packTrailerSize = sha1.Size
)

var packMagic = []byte("PACK")

// NewPackfileReader validates the pack header and trailer and returns a
// reader positioned at the first object entry.
func NewPackfileReader(data []byte) (*PackfileReader, error) {
	if len(data) < packHeaderSize+packTrailerSize {
		return nil, NewPackfileCorruptError(0, fmt.Errorf("pack of %d bytes is shorter than header and trailer", len(data)))
	}
	if !bytes.Equal(data[:4], packMagic) {
		return nil, NewPackfileCorruptError(0, fmt.Errorf("bad signature %q", data[:4]))
	}
	version := binary.BigEndian.Uint32(data[4:8])
	if version != 2 {
		return nil, NewPackfileCorruptError(4, fmt.Errorf("unsupported pack version %d", version))
	}

	sum := sha1.Sum(data[:len(data)-packTrailerSize]) //nolint:gosec
	if !bytes.Equal(sum[:], data[len(data)-packTrailerSize:]) {
		return nil, NewPackfileCorruptError(-1, fmt.Errorf("trailer checksum mismatch"))
	}

	return &PackfileReader{
		data:      data,
		off:       packHeaderSize,
		remaining: binary.BigEndian.Uint32(data[8:12]),
		byOffset:  make(map[int64]*PackfileObject),
	}, nil
}

// OnRefDelta installs the thin-pack callback. See the field doc.
func (r *PackfileReader) OnRefDelta(fn func(base hash.Hash)) {
	r.onRefDelta = fn
}

// Objects returns the object count declared in the pack header.
func (r *PackfileReader) Objects() uint32 {
	return r.remaining
}

// ReadObject decodes the next object entry, applying deltas against
// earlier entries. It returns io.EOF after the declared object count has
// been consumed.
func (r *PackfileReader) ReadObject() (*PackfileObject, error) {
	for {
		if r.remaining == 0 {
			if r.off != int64(len(r.data))-packTrailerSize {
				return nil, NewPackfileCorruptError(r.off, fmt.Errorf("%d trailing bytes after last object", int64(len(r.data))-packTrailerSize-r.off))
			}
			return nil, io.EOF
		}

		start := r.off
		typ, size, err := r.readEntryHeader()
		if err != nil {
			return nil, err
		}

		var obj *PackfileObject
		switch typ {
		case object.TypeCommit, object.TypeTree, object.TypeBlob, object.TypeTag:
			body, err := r.inflate(start, size)
			if err != nil {
				return nil, err
			}
			obj, err = r.finish(start, typ, body)
			if err != nil {
				return nil, err
			}

		case object.TypeOfsDelta:
			dist, err := r.readBaseOffset(start)
			if err != nil {
				return nil, err
			}
			base, ok := r.byOffset[start-dist]
			if !ok {
				return nil, NewPackfileCorruptError(start, fmt.Errorf("ofs-delta base at offset %d not seen", start-dist))
			}
			delta, err := r.inflate(start, size)
			if err != nil {
				return nil, err
			}
			body, err := applyDelta(base.Data, delta)
			if err != nil {
				return nil, NewPackfileCorruptError(start, err)
			}
			obj, err = r.finish(start, base.Type, body)
			if err != nil {
				return nil, err
			}

		case object.TypeRefDelta:
			if r.off+hash.Size > int64(len(r.data)) {
				return nil, NewPackfileCorruptError(start, fmt.Errorf("truncated ref-delta base name"))
			}
			base := hash.Hash(bytes.Clone(r.data[r.off : r.off+hash.Size]))
			r.off += hash.Size
			if r.onRefDelta == nil {
				return nil, NewPackfileCorruptError(start, fmt.Errorf("ref-delta against %s in a non-thin pack", base))
			}
			// Skip the delta stream; the caller fetches the base out of band.
			if _, err := r.inflate(start, size); err != nil {
				return nil, err
			}
			r.onRefDelta(base)
			r.remaining--
			continue

		default:
			return nil, NewPackfileCorruptError(start, fmt.Errorf("undeclared object type %s", typ))
		}

		r.remaining--
		return obj, nil
	}
}

func (r *PackfileReader) finish(start int64, typ object.Type, body []byte) (*PackfileObject, error) {
	oid, err := hash.Object(typ, body)
	if err != nil {
		return nil, NewPackfileCorruptError(start, err)
	}
	obj := &PackfileObject{Hash: oid, Type: typ, Data: body}
	r.byOffset[start] = obj
	return obj, nil
}

func (r *PackfileReader) readByte() (byte, error) {
	if r.off >= int64(len(r.data))-packTrailerSize {
		return 0, NewPackfileCorruptError(r.off, fmt.Errorf("truncated object entry"))
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

// readEntryHeader decodes the variable-length type and size header.
// First byte: MSB continuation, bits 6-4 type, bits 3-0 size low nibble;
// subsequent bytes contribute 7 bits each while the MSB is set.
func (r *PackfileReader) readEntryHeader() (object.Type, uint64, error) {
	b, err := r.readByte()
	if err != nil {
		return object.TypeInvalid, 0, err
	}
	typ := object.Type(b >> 4 & 0b111)
	size := uint64(b & 0x0f)
	shift := uint(4)
	for b&0x80 != 0 {
		if b, err = r.readByte(); err != nil {
			return object.TypeInvalid, 0, err
		}
		size |= uint64(b&0x7f) << shift
		shift += 7
	}
	return typ, size, nil
}

// readBaseOffset decodes the negative in-pack offset of an ofs-delta base.
// Each byte supplies 7 bits; every continuation adds 1<<7 to compensate
// for the encoding jump.
func (r *PackfileReader) readBaseOffset(start int64) (int64, error) {
	b, err := r.readByte()
	if err != nil {
		return 0, err
	}
	dist := int64(b & 0x7f)
	for b&0x80 != 0 {
		if b, err = r.readByte(); err != nil {
			return 0, err
		}
		dist = (dist+1)<<7 | int64(b&0x7f)
	}
	if dist <= 0 || start-dist < packHeaderSize {
		return 0, NewPackfileCorruptError(start, fmt.Errorf("ofs-delta distance %d out of range", dist))
	}
	return dist, nil
}

// inflate decompresses exactly size bytes of zlib stream at the current
// offset and advances past the compressed data.
func (r *PackfileReader) inflate(start int64, size uint64) ([]byte, error) {
	br := bytes.NewReader(r.data[r.off : int64(len(r.data))-packTrailerSize])
	before := br.Len()

	// bytes.Reader is an io.ByteReader, so the inflater reads no more
	// input than the stream actually spans.
	zr, err := zlib.NewReader(br)
	if err != nil {
		return nil, NewPackfileCorruptError(start, fmt.Errorf("zlib stream: %w", err))
	}
	defer zr.Close()

	out := make([]byte, size)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, NewPackfileCorruptError(start, fmt.Errorf("inflating %d bytes: %w", size, err))
	}
	// Drain the end-of-stream marker and checksum; any further payload
	// contradicts the declared size.
	n, err := io.Copy(io.Discard, zr)
	if err != nil {
		return nil, NewPackfileCorruptError(start, fmt.Errorf("zlib stream end: %w", err))
	}
	if n > 0 {
		return nil, NewPackfileCorruptError(start, fmt.Errorf("object larger than declared size %d", size))
	}

	r.off += int64(before - br.Len())
	return out, nil
}

// ParsePackfile decodes every object of a buffered packfile body.
func ParsePackfile(data []byte) ([]*PackfileObject, error) {
	reader, err := NewPackfileReader(data)
	if err != nil {
		return nil, err
	}

	objects := make([]*PackfileObject, 0, reader.Objects())
	for {
		obj, err := reader.ReadObject()
		if err == io.EOF {
			return objects, nil
		}
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
}
