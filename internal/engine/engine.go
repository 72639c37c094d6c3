// Package engine defines the capability the bridge consumes from a
// tokenization engine and provides the two implementations the bridge ships
// with: HuggingFace tokenizer.json models and SentencePiece protobuf models.
package engine

import (
	"bytes"
	"errors"
	"fmt"
)

// Kind names the engine behind a Model.
type Kind string

const (
	KindHuggingFace   Kind = "huggingface"
	KindSentencePiece Kind = "sentencepiece"
)

var (
	// ErrEmptyConfig is returned when Load receives no configuration bytes.
	ErrEmptyConfig = errors.New("tokenizer configuration must not be empty")
	// ErrUnknownFormat is returned when the configuration is neither a
	// tokenizer.json document nor a SentencePiece model.
	ErrUnknownFormat = errors.New("unrecognised tokenizer configuration format")
)

// Offset is a half-open byte range into the encoded text.
type Offset struct {
	Start int
	End   int
}

// Output is one engine encoding. All non-nil slices have the same length.
type Output struct {
	IDs               []uint32
	AttentionMask     []uint32
	SpecialTokensMask []uint32
	Tokens            []string
	Offsets           []Offset
}

// Model is a loaded, immutable tokenization model.
type Model interface {
	// Encode tokenizes text, inserting model-defined special tokens when
	// addSpecialTokens is set.
	Encode(text string, addSpecialTokens bool) (Output, error)
	// Decode maps ids back to text. Callers validate ids with IDToToken first.
	Decode(ids []uint32, skipSpecialTokens bool) (string, error)
	// IDToToken reports the surface form of id and whether it exists.
	IDToToken(id uint32) (string, bool)
	// VocabSize counts every addressable identifier, added tokens included.
	VocabSize() int
	Kind() Kind
}

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// sentencePieceTag is the protobuf key of ModelProto.pieces (field 1, bytes).
const sentencePieceTag = 0x0a

// DetectFormat inspects config and reports which engine can load it.
func DetectFormat(config []byte) (Kind, error) {
	if len(config) == 0 {
		return "", ErrEmptyConfig
	}

	trimmed := bytes.TrimLeft(bytes.TrimPrefix(config, utf8BOM), " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return KindHuggingFace, nil
	}

	if config[0] == sentencePieceTag {
		return KindSentencePiece, nil
	}

	return "", ErrUnknownFormat
}

// Load builds a Model from a serialized tokenizer definition.
func Load(config []byte) (Model, error) {
	kind, err := DetectFormat(config)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindHuggingFace:
		m, err := LoadHuggingFace(config)
		if err != nil {
			return nil, err
		}
		return m, nil
	case KindSentencePiece:
		m, err := LoadSentencePiece(config)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, kind)
	}
}
