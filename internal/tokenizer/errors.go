package tokenizer

import (
	"errors"
	"fmt"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrConfig = errors.New("tokenizer config error")
	ErrEncode = errors.New("tokenizer encode error")
	ErrDecode = errors.New("tokenizer decode error")
)

// ConfigError reports a configuration document that could not be turned into
// a model. No Tokenizer exists when it is returned.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("load tokenizer: %v", e.Err) }

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// EncodeError reports text the engine could not tokenize.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string { return fmt.Sprintf("encode: %v", e.Err) }

func (e *EncodeError) Unwrap() error { return e.Err }

func (e *EncodeError) Is(target error) bool { return target == ErrEncode }

// DecodeError reports an identifier the model cannot map back to text.
// Position is the index of the first offending identifier, or -1 when the
// failure is not tied to a single identifier.
type DecodeError struct {
	Position int
	ID       uint32
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Position < 0 {
		return fmt.Sprintf("decode: %v", e.Err)
	}

	return fmt.Sprintf("decode: id %d at position %d: %v", e.ID, e.Position, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// errUnknownID is the cause carried by a DecodeError for an id that has no
// vocabulary entry.
var errUnknownID = errors.New("identifier is outside the model vocabulary")

// ErrorKind names the error class of err for host surfaces: "config",
// "encode", "decode", or "" for anything else.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrEncode):
		return "encode"
	case errors.Is(err, ErrDecode):
		return "decode"
	default:
		return ""
	}
}
