package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolMalformed is returned when a pkt-line stream or a protocol
	// v2 response does not follow the wire format.
	// This error should only be used with errors.Is() for comparison, not for type assertions.
	ErrProtocolMalformed = errors.New("protocol malformed")

	// ErrPackfileCorrupt is returned when a packfile body cannot be decoded:
	// bad magic, unsupported version, undeclared object type, failed checksum,
	// or an unresolvable delta.
	// This error should only be used with errors.Is() for comparison, not for type assertions.
	ErrPackfileCorrupt = errors.New("packfile corrupt")
)

// ProtocolMalformedError provides structured information about a pkt-line
// framing or response layout violation.
type ProtocolMalformedError struct {
	// Line is the raw bytes around the violation, if available.
	Line []byte
	// Err is the underlying error.
	Err error
}

func (e *ProtocolMalformedError) Error() string {
	if len(e.Line) > 0 {
		return fmt.Sprintf("malformed protocol data %q: %s", e.Line, e.Err)
	}
	return fmt.Sprintf("malformed protocol data: %s", e.Err)
}

// Unwrap returns the underlying error, preserving the error chain.
func (e *ProtocolMalformedError) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() compatibility with ErrProtocolMalformed.
func (e *ProtocolMalformedError) Is(target error) bool {
	return target == ErrProtocolMalformed
}

// NewProtocolMalformedError creates a new ProtocolMalformedError with the
// offending bytes and underlying error.
func NewProtocolMalformedError(line []byte, err error) *ProtocolMalformedError {
	return &ProtocolMalformedError{Line: line, Err: err}
}

// PackfileCorruptError provides structured information about a packfile
// decoding failure.
type PackfileCorruptError struct {
	// Offset is the byte offset into the packfile at which decoding failed,
	// or -1 when the failure is not tied to a position (e.g. the trailer).
	Offset int64
	// Err is the underlying error.
	Err error
}

func (e *PackfileCorruptError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("corrupt packfile at offset %d: %s", e.Offset, e.Err)
	}
	return fmt.Sprintf("corrupt packfile: %s", e.Err)
}

// Unwrap returns the underlying error, preserving the error chain.
func (e *PackfileCorruptError) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() compatibility with ErrPackfileCorrupt.
func (e *PackfileCorruptError) Is(target error) bool {
	return target == ErrPackfileCorrupt
}

// NewPackfileCorruptError creates a new PackfileCorruptError at the given
// pack offset.
func NewPackfileCorruptError(offset int64, err error) *PackfileCorruptError {
	return &PackfileCorruptError{Offset: offset, Err: err}
}
