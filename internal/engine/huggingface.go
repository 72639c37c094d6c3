package engine

import (
	"bytes"
	"fmt"
	"math"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// HuggingFace wraps a tokenizer.json model loaded by the pure-Go
// github.com/sugarme/tokenizer port, which also builds for js/wasm.
type HuggingFace struct {
	inner *tokenizer.Tokenizer
}

// LoadHuggingFace parses a tokenizer.json document held in memory.
func LoadHuggingFace(config []byte) (*HuggingFace, error) {
	if len(config) == 0 {
		return nil, ErrEmptyConfig
	}

	tk, err := pretrained.FromReader(bytes.NewReader(config))
	if err != nil {
		return nil, fmt.Errorf("load tokenizer.json: %w", err)
	}

	// Encodings are never padded or truncated; the caller sees every id.
	tk.WithPadding(nil)
	tk.WithTruncation(nil)

	if tk.GetVocabSize(true) == 0 {
		return nil, fmt.Errorf("load tokenizer.json: model has an empty vocabulary")
	}

	return &HuggingFace{inner: tk}, nil
}

func (h *HuggingFace) Kind() Kind { return KindHuggingFace }

func (h *HuggingFace) VocabSize() int { return h.inner.GetVocabSize(true) }

func (h *HuggingFace) IDToToken(id uint32) (string, bool) {
	if uint64(id) > math.MaxInt {
		return "", false
	}

	return h.inner.IdToToken(int(id))
}

// Encode runs the full pipeline (normalizer, pre-tokenizer, model,
// post-processor) on a single sequence.
func (h *HuggingFace) Encode(text string, addSpecialTokens bool) (Output, error) {
	if text == "" && !addSpecialTokens {
		return Output{}, nil
	}

	enc, err := h.inner.EncodeSingle(text, addSpecialTokens)
	if err != nil {
		return Output{}, fmt.Errorf("encode: %w", err)
	}

	ids, err := checkedIDs(enc.Ids)
	if err != nil {
		return Output{}, fmt.Errorf("encode ids: %w", err)
	}

	mask, err := checkedIDs(enc.AttentionMask)
	if err != nil {
		return Output{}, fmt.Errorf("encode attention mask: %w", err)
	}

	out := Output{
		IDs:           ids,
		AttentionMask: mask,
		Tokens:        append([]string(nil), enc.Tokens...),
	}

	if len(enc.SpecialTokenMask) == len(ids) {
		out.SpecialTokensMask, err = checkedIDs(enc.SpecialTokenMask)
		if err != nil {
			return Output{}, fmt.Errorf("encode special tokens mask: %w", err)
		}
	}

	if len(enc.Offsets) == len(ids) {
		out.Offsets = make([]Offset, len(enc.Offsets))
		for i, o := range enc.Offsets {
			if len(o) == 2 {
				out.Offsets[i] = Offset{Start: o[0], End: o[1]}
			}
		}
	}

	return out, nil
}

func (h *HuggingFace) Decode(ids []uint32, skipSpecialTokens bool) (string, error) {
	native := make([]int, len(ids))
	for i, id := range ids {
		if uint64(id) > math.MaxInt {
			return "", fmt.Errorf("id %d at position %d exceeds platform int", id, i)
		}
		native[i] = int(id)
	}

	return h.inner.Decode(native, skipSpecialTokens), nil
}

// checkedIDs narrows engine ints to the bridge's identifier width.
func checkedIDs(vals []int) ([]uint32, error) {
	out := make([]uint32, len(vals))
	for i, v := range vals {
		if v < 0 || uint64(v) > math.MaxUint32 {
			return nil, fmt.Errorf("value %d at position %d does not fit uint32", v, i)
		}
		out[i] = uint32(v)
	}

	return out, nil
}
