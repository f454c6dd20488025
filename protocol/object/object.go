// Package object defines the Git object types as they appear in pack files.
//
// Git stores all content as typed objects. The values below match Git's
// internal representation, where the type is a 3-bit field in the object
// header of a pack entry. Types 6 and 7 are pack-local deltified
// representations, not real object types.
//
// See:
// https://git-scm.com/book/en/v2/Git-Internals-Git-Objects
// https://git-scm.com/docs/pack-format#_object_types
package object

import "fmt"

// Type represents a Git object type as stored in a pack file.
type Type uint8

// The object types. Type 5 is reserved for future use, and 0 is invalid.
const (
	TypeInvalid  Type = 0 // 0b000 - Invalid type
	TypeCommit   Type = 1 // 0b001 - Commit object
	TypeTree     Type = 2 // 0b010 - Tree object
	TypeBlob     Type = 3 // 0b011 - Blob object
	TypeTag      Type = 4 // 0b100 - Tag object
	TypeReserved Type = 5 // 0b101 - Reserved for future use
	TypeOfsDelta Type = 6 // 0b110 - Offset delta in pack file
	TypeRefDelta Type = 7 // 0b111 - Reference delta in pack file
)

// IsValid reports whether the type may appear in a well-formed pack entry.
func (t Type) IsValid() bool {
	return t != TypeInvalid && t != TypeReserved && (t & ^Type(0b111)) == 0
}

// IsDelta reports whether the type is a deltified pack representation.
func (t Type) IsDelta() bool {
	return t == TypeOfsDelta || t == TypeRefDelta
}

// String returns the string representation of the object type.
// This is used for debugging and error messages.
func (t Type) String() string {
	switch t {
	case TypeInvalid:
		return "OBJ_INVALID"
	case TypeCommit:
		return "OBJ_COMMIT"
	case TypeTree:
		return "OBJ_TREE"
	case TypeBlob:
		return "OBJ_BLOB"
	case TypeTag:
		return "OBJ_TAG"
	case TypeReserved:
		return "OBJ_RESERVED"
	case TypeOfsDelta:
		return "OBJ_OFS_DELTA"
	case TypeRefDelta:
		return "OBJ_REF_DELTA"
	default:
		return fmt.Sprintf("object.Type(%d)", uint8(t))
	}
}

// Bytes returns the lowercase ASCII name of the object type as it appears
// in the object header that is hashed, e.g. "commit", "tree", "blob", "tag".
// Deltified and invalid types have no header name.
func (t Type) Bytes() []byte {
	switch t {
	case TypeCommit:
		return []byte("commit")
	case TypeTree:
		return []byte("tree")
	case TypeBlob:
		return []byte("blob")
	case TypeTag:
		return []byte("tag")
	default:
		return nil
	}
}
