// Package protocol implements the wire formats spoken by Git's Smart HTTP
// protocol version 2: pkt-line framing, the packfile container, and the
// line formats of the ls-refs and fetch commands.
//
// For the framing details, see:
//   - https://git-scm.com/docs/gitprotocol-common
//   - https://git-scm.com/docs/protocol-v2
package protocol

import (
	"bytes"
	"fmt"
	"io"
)

// A non-binary line SHOULD BE terminated by an LF, which if present MUST be
// included in the total length. The trailing LF belongs to the payload; the
// codec never strips it.
const (
	// PktLineLengthSize is the size of the length field in a packet (4 ASCII hex digits).
	// The length field is part of the value, i.e. the data is the value - 4.
	PktLineLengthSize = 4

	// MaxPktLineDataSize is the maximum size of the data field in a packet (65516 bytes).
	MaxPktLineDataSize = 65516

	// MaxPktLineSize is the maximum total size of a packet (65520 bytes),
	// length field included.
	MaxPktLineSize = MaxPktLineDataSize + PktLineLengthSize
)

// Pack is the interface that wraps the Marshal method.
// All packet types must implement this interface to be used with FormatPacks.
type Pack interface {
	// Marshal converts the packet into its wire format.
	Marshal() ([]byte, error)
}

// PackLine represents a regular data packet in Git's protocol.
// It contains arbitrary data that will be prefixed with a length field.
type PackLine []byte

var _ Pack = PackLine{}

// Marshal implements the Pack interface for PackLine.
// It prepends a 4-byte hex length field to the data.
// Returns a ProtocolMalformedError if the data exceeds MaxPktLineDataSize;
// callers must split larger payloads across multiple lines.
func (p PackLine) Marshal() ([]byte, error) {
	if len(p) > MaxPktLineDataSize {
		return nil, NewProtocolMalformedError(nil, fmt.Errorf("data length %d exceeds %d", len(p), MaxPktLineDataSize))
	}
	out := make([]byte, len(p)+PktLineLengthSize)
	copy(out, fmt.Sprintf("%04x", len(p)+PktLineLengthSize))
	copy(out[PktLineLengthSize:], p)
	return out, nil
}

// SpecialPack represents a control packet with a predefined wire form.
type SpecialPack string

var _ Pack = SpecialPack("")

// Marshal implements the Pack interface for SpecialPack.
// The special packets are pre-defined and known to be valid.
func (p SpecialPack) Marshal() ([]byte, error) {
	return []byte(p), nil
}

const (
	// FlushPacket is a packet of length '0000'. It indicates the end of a
	// message or section group.
	FlushPacket = SpecialPack("0000")

	// DelimeterPacket is a packet of length '0001'. Protocol v2 uses it to
	// separate the capability block from the argument block of a command.
	DelimeterPacket = SpecialPack("0001")

	// ResponseEndPacket is a packet of length '0002'. Protocol v2 uses it to
	// indicate the end of a stateless-connect response.
	ResponseEndPacket = SpecialPack("0002")
)

// FormatPacks converts a sequence of packets into their wire format.
// It automatically appends a FlushPacket if none is present in the sequence.
func FormatPacks(packs ...Pack) ([]byte, error) {
	var out bytes.Buffer
	flushed := false
	for _, pl := range packs {
		marshalled, err := pl.Marshal()
		if err != nil {
			return nil, err
		}
		out.Write(marshalled)

		if sp, ok := pl.(SpecialPack); ok && sp == FlushPacket {
			flushed = true
		}
	}
	if !flushed {
		out.Write([]byte(FlushPacket))
	}
	return out.Bytes(), nil
}

// FrameKind classifies a decoded pkt-line frame.
type FrameKind uint8

const (
	// FrameData is a regular data frame. Its payload may be empty ("0004").
	FrameData FrameKind = iota
	// FrameFlush is the flush-pkt "0000".
	FrameFlush
	// FrameDelim is the protocol v2 delimiter "0001".
	FrameDelim
	// FrameResponseEnd is the protocol v2 response-end "0002".
	FrameResponseEnd
)

func (k FrameKind) String() string {
	switch k {
	case FrameData:
		return "data"
	case FrameFlush:
		return "flush"
	case FrameDelim:
		return "delim"
	case FrameResponseEnd:
		return "response-end"
	default:
		return fmt.Sprintf("protocol.FrameKind(%d)", uint8(k))
	}
}

// Frame is a single decoded pkt-line. Data is nil unless Kind is FrameData.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// ReadFrame decodes one pkt-line frame from the reader.
//
// It returns io.EOF only when the stream ends cleanly on a frame boundary.
// A truncated header, a non-hex header, a length below 4 that is not one of
// the special markers, or a payload shorter than declared all yield a
// ProtocolMalformedError.
func ReadFrame(r io.Reader) (Frame, error) {
	var lengthBytes [PktLineLengthSize]byte
	if _, err := io.ReadFull(r, lengthBytes[:]); err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, NewProtocolMalformedError(lengthBytes[:], fmt.Errorf("reading packet length: %w", err))
	}

	length, err := parseHexLength(lengthBytes[:])
	if err != nil {
		return Frame{}, NewProtocolMalformedError(lengthBytes[:], err)
	}

	switch {
	case length == 0:
		return Frame{Kind: FrameFlush}, nil
	case length == 1:
		return Frame{Kind: FrameDelim}, nil
	case length == 2:
		return Frame{Kind: FrameResponseEnd}, nil
	case length == 3:
		return Frame{}, NewProtocolMalformedError(lengthBytes[:], fmt.Errorf("reserved packet length %d", length))
	case length == PktLineLengthSize:
		// Empty data packet ("0004"). Should not be sent but is handled gracefully.
		return Frame{Kind: FrameData, Data: []byte{}}, nil
	default:
		data := make([]byte, length-PktLineLengthSize)
		if _, err := io.ReadFull(r, data); err != nil {
			return Frame{}, NewProtocolMalformedError(lengthBytes[:], fmt.Errorf("line declared %d data bytes: %w", length-PktLineLengthSize, err))
		}
		return Frame{Kind: FrameData, Data: data}, nil
	}
}

// ReadFrames decodes every frame in the stream until EOF.
func ReadFrames(r io.Reader) ([]Frame, error) {
	var frames []Frame
	for {
		frame, err := ReadFrame(r)
		if err == io.EOF {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
	}
}

// parseHexLength parses the 4 lowercase hex digits of a pkt-line header.
// strconv.ParseUint would also accept "+1a2" and similar; the wire format is
// stricter than that.
func parseHexLength(b []byte) (int, error) {
	n := 0
	for _, c := range b {
		var v int
		switch {
		case c >= '0' && c <= '9':
			v = int(c - '0')
		case c >= 'a' && c <= 'f':
			v = int(c-'a') + 10
		default:
			return 0, fmt.Errorf("invalid hex digit %q in packet length", c)
		}
		n = n<<4 | v
	}
	return n, nil
}
