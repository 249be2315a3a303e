package client

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/otrelay/smartshare/internal/protocol"
)

// codepointByteOffsets returns, for a document of N code points, a slice
// of N+1 byte offsets where entry k is the byte offset of the k-th code
// point boundary (entry N is len(doc)). Used to translate between the
// client's two supported IDE coordinate systems.
func codepointByteOffsets(doc string) []int {
	offsets := make([]int, 0, utf8.RuneCountInString(doc)+1)
	for i := range doc {
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(doc))
	return offsets
}

// byteToCodepoint resolves a byte offset to a code point index, requiring
// the offset to land exactly on a code point boundary.
func byteToCodepoint(offsets []int, byteOffset int) (int, bool) {
	if byteOffset < 0 || byteOffset > offsets[len(offsets)-1] {
		return 0, false
	}
	idx := sort.SearchInts(offsets, byteOffset)
	if idx < len(offsets) && offsets[idx] == byteOffset {
		return idx, true
	}
	return 0, false
}

// resolveOffsetDelete converts a TextModification's Offset/Delete from the
// client's configured Format into code points against doc, validating that
// both boundaries fall on code point boundaries and within range.
func (c *Client) resolveOffsetDelete(doc string, m protocol.TextModification) (cpOffset, cpDelete int, err error) {
	if c.format == protocol.FormatChars {
		runeLen := utf8.RuneCountInString(doc)
		if m.Offset < 0 || m.Offset > runeLen {
			return 0, 0, fmt.Errorf("offset %d out of range (doc has %d code points)", m.Offset, runeLen)
		}
		if m.Delete < 0 || m.Offset+m.Delete > runeLen {
			return 0, 0, fmt.Errorf("delete %d at offset %d exceeds buffer", m.Delete, m.Offset)
		}
		return m.Offset, m.Delete, nil
	}

	offsets := codepointByteOffsets(doc)
	start, ok := byteToCodepoint(offsets, m.Offset)
	if !ok {
		return 0, 0, fmt.Errorf("byte offset %d is not a code point boundary", m.Offset)
	}
	end, ok := byteToCodepoint(offsets, m.Offset+m.Delete)
	if !ok {
		return 0, 0, fmt.Errorf("byte offset %d is not a code point boundary", m.Offset+m.Delete)
	}
	return start, end - start, nil
}

// unitOffset converts a code point offset in doc back into the client's
// configured Format, using the precomputed offsets table for byte mode.
func unitOffset(offsets []int, cp int, format protocol.Format) int {
	if format == protocol.FormatChars {
		return cp
	}
	return offsets[cp]
}

// unitLen converts a code point span length starting at cp into the
// client's configured Format.
func unitLen(offsets []int, cp, n int, format protocol.Format) int {
	if format == protocol.FormatChars {
		return n
	}
	return offsets[cp+n] - offsets[cp]
}
