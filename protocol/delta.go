package protocol

import (
	"errors"
	"fmt"
)

// ErrInvalidDelta is returned when a delta instruction stream is not valid
// against its base.
var ErrInvalidDelta = errors.New("the payload given is not a valid delta")

// applyDelta reconstructs an object from its base and a delta instruction
// stream.
//
// The stream starts with two variable-length sizes (base size, result
// size), then alternates two instruction forms:
//
// If the MSB of the command byte is unset, this is an instruction to add
// new data FROM the delta TO the patched result:
//
//	+----------+============+
//	| 0xxxxxxx |    data    |
//	+----------+============+
//
// The x's give the number of literal bytes to come. It must not be zero;
// a 0x00 command byte is reserved.
//
// If the MSB is set, we are instructed to copy data FROM the base TO the
// patched result:
//
//	+----------+---------+---------+---------+---------+-------+-------+-------+
//	| 1xxxxxxx | offset1 | offset2 | offset3 | offset4 | size1 | size2 | size3 |
//	+----------+---------+---------+---------+---------+-------+-------+-------+
//
// The x's define which of the offset and size bytes follow; offset1 is bit
// 0, offset2 bit 1, and so on. Unset bytes contribute zero at their
// position. A reconstructed size of zero means 0x10000.
func applyDelta(base, delta []byte) ([]byte, error) {
	baseSize, delta := deltaHeaderSize(delta)
	if baseSize != uint64(len(base)) {
		return nil, fmt.Errorf("%w: base is %d bytes, delta expects %d", ErrInvalidDelta, len(base), baseSize)
	}
	resultSize, delta := deltaHeaderSize(delta)

	result := make([]byte, 0, resultSize)
	for len(delta) > 0 {
		cmd := delta[0]
		delta = delta[1:]

		switch {
		case cmd == 0:
			return nil, fmt.Errorf("%w: reserved zero command byte", ErrInvalidDelta)

		case cmd&0x80 == 0:
			n := int(cmd & 0x7f)
			if n > len(delta) {
				return nil, fmt.Errorf("%w: insert of %d bytes overruns stream", ErrInvalidDelta, n)
			}
			result = append(result, delta[:n]...)
			delta = delta[n:]

		default:
			var offset, size uint64
			for bit := uint(0); bit < 4; bit++ {
				if cmd&(1<<bit) != 0 {
					if len(delta) == 0 {
						return nil, fmt.Errorf("%w: truncated copy offset", ErrInvalidDelta)
					}
					offset |= uint64(delta[0]) << (bit * 8)
					delta = delta[1:]
				}
			}
			for bit := uint(0); bit < 3; bit++ {
				if cmd&(1<<(bit+4)) != 0 {
					if len(delta) == 0 {
						return nil, fmt.Errorf("%w: truncated copy size", ErrInvalidDelta)
					}
					size |= uint64(delta[0]) << (bit * 8)
					delta = delta[1:]
				}
			}
			if size == 0 {
				size = 0x10000
			}
			if offset+size > uint64(len(base)) {
				return nil, fmt.Errorf("%w: copy [%d,%d) overruns base of %d bytes", ErrInvalidDelta, offset, offset+size, len(base))
			}
			result = append(result, base[offset:offset+size]...)
		}
	}

	if uint64(len(result)) != resultSize {
		return nil, fmt.Errorf("%w: produced %d bytes, expected %d", ErrInvalidDelta, len(result), resultSize)
	}
	return result, nil
}

// deltaHeaderSize decodes one of the LEB128-style sizes at the head of a
// delta stream and returns the remainder.
func deltaHeaderSize(b []byte) (uint64, []byte) {
	var size uint64
	var j uint
	for j < uint(len(b)) {
		cmd := b[j]
		size |= (uint64(cmd) & 0x7f) << (j * 7)
		j++
		if cmd&0x80 == 0 {
			break
		}
	}
	return size, b[j:]
}
