// Package protocol defines the wire message vocabulary of the two channels
// a client mediates between: the local IDE (stdio) and the authority (TCP).
package protocol

import (
	ot "github.com/shiv248/operational-transformation-go"
)

// Format selects the offset unit an IDE speaks in.
type Format int

const (
	// FormatChars indexes TextModification offsets in Unicode code points.
	FormatChars Format = iota
	// FormatBytes indexes TextModification offsets in UTF-8 bytes.
	FormatBytes
)

// String implements fmt.Stringer.
func (f Format) String() string {
	switch f {
	case FormatBytes:
		return "bytes"
	default:
		return "chars"
	}
}

// MarshalJSON encodes a Format as its lowercase name.
func (f Format) MarshalJSON() ([]byte, error) {
	return []byte(`"` + f.String() + `"`), nil
}

// UnmarshalJSON decodes a Format from its lowercase name.
func (f *Format) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"bytes"`:
		*f = FormatBytes
	case `"chars"`, `""`:
		*f = FormatChars
	default:
		return &unmarshalFormatError{raw: string(data)}
	}
	return nil
}

type unmarshalFormatError struct{ raw string }

func (e *unmarshalFormatError) Error() string {
	return "protocol: unknown format " + e.raw
}

// TextModification is a single IDE-level edit: remove `Delete` units at
// `Offset`, then insert `Text`. Offset and Delete are expressed in the
// IDE's chosen Format (code points or UTF-8 bytes); within a single Update
// they apply strictly left to right against the document as modified by
// earlier entries in the same list.
type TextModification struct {
	Offset int    `json:"offset"`
	Delete int    `json:"delete"`
	Text   string `json:"text"`
}

// ModifRequest is an edit submitted against a known revision.
type ModifRequest struct {
	Delta  *ot.OperationSeq `json:"delta"`
	RevNum int              `json:"rev_num"`
}
