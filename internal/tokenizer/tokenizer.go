// Package tokenizer is the bridge between an embedding host and a
// tokenization engine. A Tokenizer is built once from a serialized
// configuration and then encodes text into Encodings and decodes identifier
// sequences back into text. Every failure is returned as a typed error
// (ConfigError, EncodeError, DecodeError); engine panics never escape.
package tokenizer

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/example/go-tokenizers-bridge/internal/engine"
)

// Loader builds an engine model from configuration bytes.
type Loader func(config []byte) (engine.Model, error)

type options struct {
	loader Loader
}

// Option configures New.
type Option func(*options)

// WithLoader replaces the engine loader. The default detects the format and
// dispatches to engine.Load.
func WithLoader(l Loader) Option {
	return func(o *options) { o.loader = l }
}

// Tokenizer owns one loaded model. It is immutable after New returns and safe
// for concurrent use.
type Tokenizer struct {
	model       engine.Model
	fingerprint uint64
}

// New parses config and returns a ready Tokenizer, or a *ConfigError.
func New(config []byte, optFns ...Option) (*Tokenizer, error) {
	opts := options{loader: engine.Load}
	for _, fn := range optFns {
		fn(&opts)
	}

	if len(config) == 0 {
		return nil, &ConfigError{Err: engine.ErrEmptyConfig}
	}

	model, err := loadModel(opts.loader, config)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	if model == nil {
		return nil, &ConfigError{Err: errors.New("engine returned no model")}
	}

	return &Tokenizer{
		model:       model,
		fingerprint: xxhash.Sum64(config),
	}, nil
}

// NewFromString is New for configuration held as text.
func NewFromString(config string, optFns ...Option) (*Tokenizer, error) {
	return New([]byte(config), optFns...)
}

func loadModel(load Loader, config []byte) (model engine.Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			model = nil
			err = fmt.Errorf("engine panicked: %v", r)
		}
	}()

	return load(config)
}

// Kind reports which engine backs the tokenizer.
func (t *Tokenizer) Kind() engine.Kind { return t.model.Kind() }

// VocabSize counts every identifier Decode accepts.
func (t *Tokenizer) VocabSize() int { return t.model.VocabSize() }

// Fingerprint is the xxhash64 of the configuration bytes, in hex.
func (t *Tokenizer) Fingerprint() string { return fmt.Sprintf("%016x", t.fingerprint) }

// Encode tokenizes text. Special tokens defined by the model are inserted when
// addSpecialTokens is set; no padding or truncation is applied.
func (t *Tokenizer) Encode(text string, addSpecialTokens bool) (enc *Encoding, err error) {
	defer func() {
		if r := recover(); r != nil {
			enc = nil
			err = &EncodeError{Err: fmt.Errorf("engine panicked: %v", r)}
		}
	}()

	out, err := t.model.Encode(text, addSpecialTokens)
	if err != nil {
		return nil, &EncodeError{Err: err}
	}

	enc, err = newEncoding(out)
	if err != nil {
		return nil, &EncodeError{Err: err}
	}

	return enc, nil
}

// Decode turns ids back into text. Every id is checked against the
// vocabulary first; the first unknown id fails the whole call.
func (t *Tokenizer) Decode(ids []uint32, skipSpecialTokens bool) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = &DecodeError{Position: -1, Err: fmt.Errorf("engine panicked: %v", r)}
		}
	}()

	for i, id := range ids {
		if _, ok := t.model.IDToToken(id); !ok {
			return "", &DecodeError{Position: i, ID: id, Err: errUnknownID}
		}
	}

	text, err = t.model.Decode(ids, skipSpecialTokens)
	if err != nil {
		return "", &DecodeError{Position: -1, Err: err}
	}

	return text, nil
}
