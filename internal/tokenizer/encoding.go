package tokenizer

import (
	"fmt"

	"github.com/example/go-tokenizers-bridge/internal/engine"
	"github.com/example/go-tokenizers-bridge/internal/hostabi"
)

// Offset is a half-open byte range of the encoded text covered by a token.
type Offset = engine.Offset

// Encoding is the immutable result of one Encode call. Identifiers and the
// attention mask are stored in their native width; the int64 accessors widen
// on every call and hand out fresh slices.
type Encoding struct {
	ids           []uint32
	attentionMask []uint32
	specialMask   []uint32
	tokens        []string
	offsets       []Offset
}

func newEncoding(out engine.Output) (*Encoding, error) {
	n := len(out.IDs)

	if len(out.AttentionMask) != n {
		return nil, fmt.Errorf("engine returned %d ids but %d attention mask values", n, len(out.AttentionMask))
	}

	for i, v := range out.AttentionMask {
		if v > 1 {
			return nil, fmt.Errorf("attention mask value %d at position %d is not 0 or 1", v, i)
		}
	}

	enc := &Encoding{
		ids:           append([]uint32{}, out.IDs...),
		attentionMask: append([]uint32{}, out.AttentionMask...),
	}

	if len(out.SpecialTokensMask) == n {
		enc.specialMask = append([]uint32{}, out.SpecialTokensMask...)
	}

	if len(out.Tokens) == n {
		enc.tokens = append([]string{}, out.Tokens...)
	}

	if len(out.Offsets) == n {
		enc.offsets = append([]Offset{}, out.Offsets...)
	}

	return enc, nil
}

// Len is the number of positions in the encoding.
func (e *Encoding) Len() int { return len(e.ids) }

// InputIDs returns the token identifiers as int64, the element type of the
// host's BigInt64Array.
func (e *Encoding) InputIDs() []int64 { return hostabi.WidenUint32(e.ids) }

// AttentionMask returns the attention mask as int64. Every value is 0 or 1.
func (e *Encoding) AttentionMask() []int64 { return hostabi.WidenUint32(e.attentionMask) }

// IDs returns a copy of the identifiers in their native width, suitable for
// passing straight back to Decode.
func (e *Encoding) IDs() []uint32 { return append([]uint32{}, e.ids...) }

// SpecialTokensMask marks positions holding model-inserted special tokens.
// It is nil when the engine does not report it.
func (e *Encoding) SpecialTokensMask() []int64 {
	if e.specialMask == nil {
		return nil
	}

	return hostabi.WidenUint32(e.specialMask)
}

// Tokens returns the surface form of each position, or nil if unavailable.
func (e *Encoding) Tokens() []string {
	if e.tokens == nil {
		return nil
	}

	return append([]string{}, e.tokens...)
}

// Offsets returns the byte span of each position, or nil if unavailable.
func (e *Encoding) Offsets() []Offset {
	if e.offsets == nil {
		return nil
	}

	return append([]Offset{}, e.offsets...)
}
