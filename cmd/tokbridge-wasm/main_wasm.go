//go:build js && wasm

package main

import (
	"errors"
	"fmt"
	"syscall/js"

	"github.com/example/go-tokenizers-bridge/internal/hostabi"
	"github.com/example/go-tokenizers-bridge/internal/tokenizer"
)

const version = "0.1.0-wasm"

var (
	jsObject        = js.Global().Get("Object")
	jsArray         = js.Global().Get("Array")
	jsArrayBuffer   = js.Global().Get("ArrayBuffer")
	jsUint8Array    = js.Global().Get("Uint8Array")
	jsUint32Array   = js.Global().Get("Uint32Array")
	jsBigInt64Array = js.Global().Get("BigInt64Array")
	jsNumber        = js.Global().Get("Number")

	// typeOf reports the JavaScript typeof of a value. js.Value.Type has no
	// case for BigInt.
	typeOf = js.Global().Get("Function").New("v", "return typeof v")
)

func main() {
	api := map[string]any{
		"version":   version,
		"load":      js.FuncOf(guard("config", load)),
		"loadAsync": js.FuncOf(loadAsync),
	}

	js.Global().Set("TokBridge", js.ValueOf(api))
	println("TokBridge ready")
	select {}
}

// guard turns a panic escaping fn into an error result of the given kind.
func guard(kind string, fn func(js.Value, []js.Value) any) func(js.Value, []js.Value) any {
	return func(this js.Value, args []js.Value) (res any) {
		defer func() {
			if r := recover(); r != nil {
				res = errResult(kind, fmt.Sprintf("internal error: %v", r))
			}
		}()

		return fn(this, args)
	}
}

func load(_ js.Value, args []js.Value) any {
	tok, err := newTokenizer(args)
	if err != nil {
		return errResult("config", err.Error())
	}

	return okResult(map[string]any{"tokenizer": wrapTokenizer(tok)})
}

func loadAsync(_ js.Value, args []js.Value) any {
	promiseCtor := js.Global().Get("Promise")
	var handler js.Func
	handler = js.FuncOf(func(_ js.Value, pArgs []js.Value) any {
		defer handler.Release()
		resolve := pArgs[0]
		reject := pArgs[1]

		config, err := configBytes(args)
		if err != nil {
			reject.Invoke(err.Error())
			return nil
		}

		go func() {
			tok, err := tokenizer.New(config)
			if err != nil {
				reject.Invoke(err.Error())
				return
			}
			resolve.Invoke(wrapTokenizer(tok))
		}()

		return nil
	})

	return promiseCtor.New(handler)
}

func newTokenizer(args []js.Value) (*tokenizer.Tokenizer, error) {
	config, err := configBytes(args)
	if err != nil {
		return nil, err
	}

	return tokenizer.New(config)
}

func configBytes(args []js.Value) ([]byte, error) {
	if len(args) < 1 {
		return nil, errors.New("missing tokenizer configuration argument")
	}

	if args[0].Type() == js.TypeString {
		return []byte(args[0].String()), nil
	}

	config, ok := copyJSBytes(args[0])
	if !ok {
		return nil, errors.New("tokenizer configuration must be a string, Uint8Array or ArrayBuffer")
	}

	return config, nil
}

// wrapTokenizer exposes tok as a JS object. Its methods stay callable until
// free() releases them.
func wrapTokenizer(tok *tokenizer.Tokenizer) js.Value {
	var funcs []js.Func
	fn := func(kind string, f func(js.Value, []js.Value) any) js.Func {
		jf := js.FuncOf(guard(kind, f))
		funcs = append(funcs, jf)
		return jf
	}

	obj := js.ValueOf(map[string]any{
		"kind":        string(tok.Kind()),
		"vocabSize":   tok.VocabSize(),
		"fingerprint": tok.Fingerprint(),
	})

	obj.Set("encode", fn("encode", func(_ js.Value, args []js.Value) any {
		return encode(tok, args)
	}))
	obj.Set("decode", fn("decode", func(_ js.Value, args []js.Value) any {
		return decode(tok, args)
	}))
	obj.Set("free", fn("", func(_ js.Value, _ []js.Value) any {
		for _, f := range funcs {
			f.Release()
		}
		funcs = nil
		return nil
	}))

	return obj
}

func encode(tok *tokenizer.Tokenizer, args []js.Value) any {
	if len(args) < 1 || args[0].Type() != js.TypeString {
		return errResult("encode", "text argument must be a string")
	}

	addSpecial := true
	if len(args) > 1 && args[1].Type() == js.TypeBoolean {
		addSpecial = args[1].Bool()
	}

	enc, err := tok.Encode(args[0].String(), addSpecial)
	if err != nil {
		return errResult("encode", err.Error())
	}

	return okResult(map[string]any{"encoding": wrapEncoding(enc)})
}

func decode(tok *tokenizer.Tokenizer, args []js.Value) any {
	if len(args) < 1 {
		return errResult("decode", "missing ids argument")
	}

	ids, err := jsIDs(args[0])
	if err != nil {
		return errResult("decode", err.Error())
	}

	skipSpecial := true
	if len(args) > 1 && args[1].Type() == js.TypeBoolean {
		skipSpecial = args[1].Bool()
	}

	text, err := tok.Decode(ids, skipSpecial)
	if err != nil {
		return errResult("decode", err.Error())
	}

	return okResult(map[string]any{"text": text})
}

// wrapEncoding exposes enc with read-only getters. Each read of inputIds or
// attentionMask allocates a new BigInt64Array.
func wrapEncoding(enc *tokenizer.Encoding) js.Value {
	obj := js.ValueOf(map[string]any{"length": enc.Len()})

	inputIDs := js.FuncOf(func(js.Value, []js.Value) any { return bigInt64Array(enc.InputIDs()) })
	attention := js.FuncOf(func(js.Value, []js.Value) any { return bigInt64Array(enc.AttentionMask()) })
	tokens := js.FuncOf(func(js.Value, []js.Value) any {
		out := make([]any, 0, enc.Len())
		for _, t := range enc.Tokens() {
			out = append(out, t)
		}
		return js.ValueOf(out)
	})

	defineGetter(obj, "inputIds", inputIDs)
	defineGetter(obj, "attentionMask", attention)
	obj.Set("tokens", tokens)

	var free js.Func
	free = js.FuncOf(func(js.Value, []js.Value) any {
		inputIDs.Release()
		attention.Release()
		tokens.Release()
		free.Release()
		return nil
	})
	obj.Set("free", free)

	return obj
}

func defineGetter(obj js.Value, name string, get js.Func) {
	jsObject.Call("defineProperty", obj, name, map[string]any{
		"get":        get,
		"enumerable": true,
	})
}

func bigInt64Array(values []int64) js.Value {
	raw := hostabi.PackInt64LE(values)
	u8 := jsUint8Array.New(len(raw))
	js.CopyBytesToJS(u8, raw)

	return jsBigInt64Array.New(u8.Get("buffer"), 0, len(values))
}

// jsIDs reads decode input from a Uint32Array, or element by element from any
// array-like of numbers or BigInts.
func jsIDs(v js.Value) ([]uint32, error) {
	if v.Type() != js.TypeObject {
		return nil, errors.New("ids must be a Uint32Array or an array of integers")
	}

	if v.InstanceOf(jsUint32Array) {
		view := jsUint8Array.New(v.Get("buffer"), v.Get("byteOffset"), v.Get("byteLength"))
		raw := make([]byte, view.Get("length").Int())
		js.CopyBytesToGo(raw, view)

		return hostabi.UnpackUint32LE(raw)
	}

	if !jsArray.Call("isArray", v).Bool() && !jsArrayBuffer.Call("isView", v).Bool() {
		return nil, errors.New("ids must be a Uint32Array or an array of integers")
	}

	n := v.Get("length").Int()
	ids := make([]uint32, n)

	for i := range n {
		id, err := jsID(v.Index(i))
		if err != nil {
			return nil, fmt.Errorf("ids[%d]: %w", i, err)
		}
		ids[i] = id
	}

	return ids, nil
}

func jsID(v js.Value) (uint32, error) {
	switch typeOf.Invoke(v).String() {
	case "number":
		return hostabi.NarrowFloat(v.Float())
	case "bigint":
		return hostabi.NarrowFloat(jsNumber.Invoke(v).Float())
	default:
		return 0, fmt.Errorf("%w: not a number or BigInt", hostabi.ErrOutOfRange)
	}
}

func copyJSBytes(v js.Value) ([]byte, bool) {
	if v.IsUndefined() || v.IsNull() {
		return nil, false
	}

	if v.InstanceOf(jsUint8Array) {
		buf := make([]byte, v.Get("length").Int())
		n := js.CopyBytesToGo(buf, v)
		return buf[:n], true
	}

	if v.InstanceOf(jsArrayBuffer) {
		wrapped := jsUint8Array.New(v)
		buf := make([]byte, wrapped.Get("length").Int())
		n := js.CopyBytesToGo(buf, wrapped)
		return buf[:n], true
	}

	return nil, false
}

func okResult(payload map[string]any) map[string]any {
	payload["ok"] = true
	return payload
}

func errResult(kind, msg string) map[string]any {
	return map[string]any{
		"ok":    false,
		"kind":  kind,
		"error": msg,
	}
}
