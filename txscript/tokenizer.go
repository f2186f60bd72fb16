package txscript

import "errors"

// ErrTruncatedScript is returned when a push opcode's length prefix runs
// past the end of the script.
var ErrTruncatedScript = errors.New("txscript: truncated script")

// token is one decoded script element: either a plain opcode (Data == nil,
// IsData == false) or a data push (IsData == true).
type token struct {
	Opcode  byte
	Data    []byte
	IsData  bool
}

// tokenizer walks a script one element at a time, matching btcd's
// txscript.ScriptTokenizer shape (as used throughout the corpus for
// strict, allocation-light script decoding) but implemented locally.
type tokenizer struct {
	script []byte
	offset int
	tok    token
	err    error
}

func newTokenizer(script []byte) *tokenizer {
	return &tokenizer{script: script}
}

// Next advances to the next token, returning false at end of script or on
// error.
func (t *tokenizer) Next() bool {
	if t.err != nil || t.offset >= len(t.script) {
		return false
	}

	op := t.script[t.offset]
	switch {
	case op == OP_0:
		t.tok = token{Opcode: op, IsData: true, Data: nil}
		t.offset++
	case op > OP_0 && op < OP_PUSHDATA1:
		n := int(op)
		if t.offset+1+n > len(t.script) {
			t.err = ErrTruncatedScript
			return false
		}
		t.tok = token{Opcode: op, IsData: true, Data: t.script[t.offset+1 : t.offset+1+n]}
		t.offset += 1 + n
	case op == OP_PUSHDATA1:
		if t.offset+2 > len(t.script) {
			t.err = ErrTruncatedScript
			return false
		}
		n := int(t.script[t.offset+1])
		if t.offset+2+n > len(t.script) {
			t.err = ErrTruncatedScript
			return false
		}
		t.tok = token{Opcode: op, IsData: true, Data: t.script[t.offset+2 : t.offset+2+n]}
		t.offset += 2 + n
	case op == OP_PUSHDATA2:
		if t.offset+3 > len(t.script) {
			t.err = ErrTruncatedScript
			return false
		}
		n := int(t.script[t.offset+1]) | int(t.script[t.offset+2])<<8
		if t.offset+3+n > len(t.script) {
			t.err = ErrTruncatedScript
			return false
		}
		t.tok = token{Opcode: op, IsData: true, Data: t.script[t.offset+3 : t.offset+3+n]}
		t.offset += 3 + n
	case op == OP_PUSHDATA4:
		if t.offset+5 > len(t.script) {
			t.err = ErrTruncatedScript
			return false
		}
		n := int(t.script[t.offset+1]) | int(t.script[t.offset+2])<<8 |
			int(t.script[t.offset+3])<<16 | int(t.script[t.offset+4])<<24
		if t.offset+5+n > len(t.script) {
			t.err = ErrTruncatedScript
			return false
		}
		t.tok = token{Opcode: op, IsData: true, Data: t.script[t.offset+5 : t.offset+5+n]}
		t.offset += 5 + n
	default:
		t.tok = token{Opcode: op, IsData: false}
		t.offset++
	}
	return true
}

// Done reports whether the tokenizer reached end-of-script cleanly (no
// trailing garbage, no error).
func (t *tokenizer) Done() bool {
	return t.err == nil && t.offset >= len(t.script)
}

func (t *tokenizer) Err() error { return t.err }

// ExtractDataPushes walks script (e.g. the body of an OP_RETURN output,
// after the OP_RETURN byte itself) and returns every data push it
// contains, in order. It is used by the burn-claim engine to pull
// metadata out of a Bitcoin OP_RETURN output without a second from-scratch
// parser (spec.md §4.3 step 6, §6.2).
func ExtractDataPushes(script []byte) ([][]byte, error) {
	tz := newTokenizer(script)
	var out [][]byte
	for tz.Next() {
		if tz.tok.IsData {
			out = append(out, tz.tok.Data)
		}
	}
	if err := tz.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
