package protocol

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/aurmirror/aurmeta/protocol/hash"
)

// RefLine is one line of an ls-refs response:
//
//	<oid> <refname>[ symref-target:<target>][ peeled:<oid>]
type RefLine struct {
	OID     hash.Hash
	RefName string
	// SymrefTarget is set when the server advertised a symref attribute
	// (requested via the symrefs argument).
	SymrefTarget string
	// Peeled is the fully-peeled object of an annotated tag, when the
	// peel argument was sent.
	Peeled hash.Hash
}

// ParseRefLine parses one ls-refs response line. The trailing LF is
// optional per pkt-line convention.
func ParseRefLine(line []byte) (RefLine, error) {
	trimmed := strings.TrimSuffix(string(line), "\n")
	fields := strings.Split(trimmed, " ")
	if len(fields) < 2 {
		return RefLine{}, NewProtocolMalformedError(line, fmt.Errorf("ref line needs oid and name"))
	}

	oid, err := hash.FromHex(fields[0])
	if err != nil {
		return RefLine{}, NewProtocolMalformedError(line, fmt.Errorf("ref oid: %w", err))
	}

	ref := RefLine{OID: oid, RefName: fields[1]}
	for _, attr := range fields[2:] {
		switch {
		case strings.HasPrefix(attr, "symref-target:"):
			ref.SymrefTarget = strings.TrimPrefix(attr, "symref-target:")
		case strings.HasPrefix(attr, "peeled:"):
			peeled, err := hash.FromHex(strings.TrimPrefix(attr, "peeled:"))
			if err != nil {
				return RefLine{}, NewProtocolMalformedError(line, fmt.Errorf("peeled oid: %w", err))
			}
			ref.Peeled = peeled
		default:
			// Future attributes are advertised, not negotiated; skip them.
		}
	}
	return ref, nil
}

// ParseLsRefsResponse parses a full ls-refs response stream: data frames
// until the terminating flush.
func ParseLsRefsResponse(r io.Reader) ([]RefLine, error) {
	refs := make([]RefLine, 0)
	for {
		frame, err := ReadFrame(r)
		if err == io.EOF {
			return refs, nil
		}
		if err != nil {
			return nil, err
		}

		switch frame.Kind {
		case FrameFlush, FrameResponseEnd:
			return refs, nil
		case FrameDelim:
			continue
		case FrameData:
			if len(bytes.TrimSpace(frame.Data)) == 0 {
				continue
			}
			ref, err := ParseRefLine(frame.Data)
			if err != nil {
				return nil, err
			}
			if ref.RefName != "" {
				refs = append(refs, ref)
			}
		}
	}
}
