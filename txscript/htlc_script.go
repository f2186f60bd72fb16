package txscript

import "errors"

// HashlockSize is the fixed size of a SHA256 hashlock commitment pushed by
// every HTLC branch-A check (spec.md §4.5.1: "OP_SIZE 32").
const HashlockSize = 32

// HTLC1SecretParams is the decoded parameter set of a 1-secret HTLC redeem
// script (plain or covenant), spec.md §4.5.1/§4.5.2.
type HTLC1SecretParams struct {
	Hashlock    [HashlockSize]byte
	DestA       [20]byte // claim (branch A) P2PKH destination
	DestB       [20]byte // refund (branch B) P2PKH destination
	Timelock    int64
	Covenant    *[32]byte // non-nil for the covenant variant
}

var (
	errScriptShape    = errors.New("txscript: redeem script does not match expected shape")
	errTrailingData   = errors.New("txscript: trailing data after script end")
	errTimelockNotPos = errors.New("txscript: timelock must be strictly positive")
)

// BuildHTLC1SecretScript builds the 1-secret HTLC redeem script (spec.md
// §4.5.1). If covenant is non-nil, the covenant variant (§4.5.2) is built
// instead.
func BuildHTLC1SecretScript(hashlock [HashlockSize]byte, destA, destB [20]byte, timelock int64, covenant *[32]byte) ([]byte, error) {
	if timelock <= 0 {
		return nil, errTimelockNotPos
	}

	b := NewScriptBuilder()
	b.AddOp(OP_IF)
	b.AddOp(OP_SIZE)
	b.AddInt64(HashlockSize)
	b.AddOp(OP_EQUALVERIFY)
	b.AddOp(OP_SHA256)
	b.AddData(hashlock[:])
	b.AddOp(OP_EQUALVERIFY)
	if covenant != nil {
		b.AddData(covenant[:])
		b.AddOp(OP_TEMPLATEVERIFY)
		b.AddOp(OP_DROP)
	}
	b.AddOp(OP_DUP)
	b.AddOp(OP_HASH160)
	b.AddData(destA[:])
	b.AddOp(OP_ELSE)
	b.AddInt64(timelock)
	b.AddOp(OP_CHECKLOCKTIMEVERIFY)
	b.AddOp(OP_DROP)
	b.AddOp(OP_DUP)
	b.AddOp(OP_HASH160)
	b.AddData(destB[:])
	b.AddOp(OP_ENDIF)
	b.AddOp(OP_EQUALVERIFY)
	b.AddOp(OP_CHECKSIG)
	return b.Script()
}

// DecodeHTLC1SecretScript performs the strict token-by-token decode spec.md
// §4.5.1 demands: every token must match the expected sequence exactly,
// and the tokenizer must reach end-of-script with no trailing garbage.
func DecodeHTLC1SecretScript(script []byte) (*HTLC1SecretParams, error) {
	tz := newTokenizer(script)
	p := &HTLC1SecretParams{}

	if !expectOp(tz, OP_IF) {
		return nil, errScriptShape
	}
	if !expectOp(tz, OP_SIZE) {
		return nil, errScriptShape
	}
	n, ok := expectScriptNum(tz)
	if !ok || n != HashlockSize {
		return nil, errScriptShape
	}
	if !expectOp(tz, OP_EQUALVERIFY) || !expectOp(tz, OP_SHA256) {
		return nil, errScriptShape
	}
	h, ok := expectPush(tz, HashlockSize)
	if !ok {
		return nil, errScriptShape
	}
	copy(p.Hashlock[:], h)
	if !expectOp(tz, OP_EQUALVERIFY) {
		return nil, errScriptShape
	}

	// Optional covenant clause.
	if peekIsData(tz, 32) {
		c, ok := expectPush(tz, 32)
		if !ok {
			return nil, errScriptShape
		}
		if !expectOp(tz, OP_TEMPLATEVERIFY) || !expectOp(tz, OP_DROP) {
			return nil, errScriptShape
		}
		var commitment [32]byte
		copy(commitment[:], c)
		p.Covenant = &commitment
	}

	if !expectOp(tz, OP_DUP) || !expectOp(tz, OP_HASH160) {
		return nil, errScriptShape
	}
	destA, ok := expectPush(tz, 20)
	if !ok {
		return nil, errScriptShape
	}
	copy(p.DestA[:], destA)

	if !expectOp(tz, OP_ELSE) {
		return nil, errScriptShape
	}
	timelock, ok := expectScriptNum(tz)
	if !ok || timelock <= 0 {
		return nil, errTimelockNotPos
	}
	p.Timelock = timelock
	if !expectOp(tz, OP_CHECKLOCKTIMEVERIFY) || !expectOp(tz, OP_DROP) {
		return nil, errScriptShape
	}
	if !expectOp(tz, OP_DUP) || !expectOp(tz, OP_HASH160) {
		return nil, errScriptShape
	}
	destB, ok := expectPush(tz, 20)
	if !ok {
		return nil, errScriptShape
	}
	copy(p.DestB[:], destB)

	if !expectOp(tz, OP_ENDIF) || !expectOp(tz, OP_EQUALVERIFY) || !expectOp(tz, OP_CHECKSIG) {
		return nil, errScriptShape
	}

	if !tz.Done() {
		if tz.Err() != nil {
			return nil, tz.Err()
		}
		return nil, errTrailingData
	}
	return p, nil
}

// HTLC3SecretParams is the decoded parameter set of a 3-secret HTLC redeem
// script (spec.md §4.5.3), verifying hashlocks in canonical order
// (H_user, H_lp1, H_lp2).
type HTLC3SecretParams struct {
	HashUser    [HashlockSize]byte
	HashLP1     [HashlockSize]byte
	HashLP2     [HashlockSize]byte
	ClaimDest   [20]byte
	RefundDest  [20]byte
	Timelock    int64
	Covenant    *[32]byte
}

// BuildHTLC3SecretScript builds the 3-secret HTLC redeem script (spec.md
// §4.5.3).
func BuildHTLC3SecretScript(hashUser, hashLP1, hashLP2 [HashlockSize]byte, claimDest, refundDest [20]byte, timelock int64, covenant *[32]byte) ([]byte, error) {
	if timelock <= 0 {
		return nil, errTimelockNotPos
	}

	b := NewScriptBuilder()
	b.AddOp(OP_IF)
	for _, h := range [][HashlockSize]byte{hashUser, hashLP1, hashLP2} {
		b.AddOp(OP_SIZE)
		b.AddInt64(HashlockSize)
		b.AddOp(OP_EQUALVERIFY)
		b.AddOp(OP_SHA256)
		b.AddData(h[:])
		b.AddOp(OP_EQUALVERIFY)
	}
	if covenant != nil {
		b.AddData(covenant[:])
		b.AddOp(OP_TEMPLATEVERIFY)
		b.AddOp(OP_DROP)
	}
	b.AddOp(OP_DUP)
	b.AddOp(OP_HASH160)
	b.AddData(claimDest[:])
	b.AddOp(OP_ELSE)
	b.AddInt64(timelock)
	b.AddOp(OP_CHECKLOCKTIMEVERIFY)
	b.AddOp(OP_DROP)
	b.AddOp(OP_DUP)
	b.AddOp(OP_HASH160)
	b.AddData(refundDest[:])
	b.AddOp(OP_ENDIF)
	b.AddOp(OP_EQUALVERIFY)
	b.AddOp(OP_CHECKSIG)
	return b.Script()
}

// DecodeHTLC3SecretScript strictly decodes a 3-secret HTLC redeem script.
func DecodeHTLC3SecretScript(script []byte) (*HTLC3SecretParams, error) {
	tz := newTokenizer(script)
	p := &HTLC3SecretParams{}

	if !expectOp(tz, OP_IF) {
		return nil, errScriptShape
	}

	hashes := make([][HashlockSize]byte, 0, 3)
	for i := 0; i < 3; i++ {
		if !expectOp(tz, OP_SIZE) {
			return nil, errScriptShape
		}
		n, ok := expectScriptNum(tz)
		if !ok || n != HashlockSize {
			return nil, errScriptShape
		}
		if !expectOp(tz, OP_EQUALVERIFY) || !expectOp(tz, OP_SHA256) {
			return nil, errScriptShape
		}
		h, ok := expectPush(tz, HashlockSize)
		if !ok {
			return nil, errScriptShape
		}
		var hb [HashlockSize]byte
		copy(hb[:], h)
		hashes = append(hashes, hb)
		if !expectOp(tz, OP_EQUALVERIFY) {
			return nil, errScriptShape
		}
	}
	p.HashUser, p.HashLP1, p.HashLP2 = hashes[0], hashes[1], hashes[2]

	if peekIsData(tz, 32) {
		c, ok := expectPush(tz, 32)
		if !ok {
			return nil, errScriptShape
		}
		if !expectOp(tz, OP_TEMPLATEVERIFY) || !expectOp(tz, OP_DROP) {
			return nil, errScriptShape
		}
		var commitment [32]byte
		copy(commitment[:], c)
		p.Covenant = &commitment
	}

	if !expectOp(tz, OP_DUP) || !expectOp(tz, OP_HASH160) {
		return nil, errScriptShape
	}
	claimDest, ok := expectPush(tz, 20)
	if !ok {
		return nil, errScriptShape
	}
	copy(p.ClaimDest[:], claimDest)

	if !expectOp(tz, OP_ELSE) {
		return nil, errScriptShape
	}
	timelock, ok := expectScriptNum(tz)
	if !ok || timelock <= 0 {
		return nil, errTimelockNotPos
	}
	p.Timelock = timelock
	if !expectOp(tz, OP_CHECKLOCKTIMEVERIFY) || !expectOp(tz, OP_DROP) {
		return nil, errScriptShape
	}
	if !expectOp(tz, OP_DUP) || !expectOp(tz, OP_HASH160) {
		return nil, errScriptShape
	}
	refundDest, ok := expectPush(tz, 20)
	if !ok {
		return nil, errScriptShape
	}
	copy(p.RefundDest[:], refundDest)

	if !expectOp(tz, OP_ENDIF) || !expectOp(tz, OP_EQUALVERIFY) || !expectOp(tz, OP_CHECKSIG) {
		return nil, errScriptShape
	}

	if !tz.Done() {
		if tz.Err() != nil {
			return nil, tz.Err()
		}
		return nil, errTrailingData
	}
	return p, nil
}

// BuildHTLC3SecretClaimScriptSig assembles the P2SH scriptSig for branch A
// of a 3-secret HTLC claim (spec.md §4.5.3): preimages are pushed LIFO in
// reverse verification order so the first one the script consumes is
// S_user.
func BuildHTLC3SecretClaimScriptSig(sig, pubKey, sUser, sLP1, sLP2, redeemScript []byte) ([]byte, error) {
	b := NewScriptBuilder()
	b.AddData(sig)
	b.AddData(pubKey)
	b.AddData(sLP2)
	b.AddData(sLP1)
	b.AddData(sUser)
	b.AddOp(OP_1) // OP_TRUE: select branch A
	b.AddData(redeemScript)
	return b.Script()
}

func expectOp(tz *tokenizer, op byte) bool {
	if !tz.Next() {
		return false
	}
	return !tz.tok.IsData && tz.tok.Opcode == op
}

func expectPush(tz *tokenizer, size int) ([]byte, bool) {
	if !tz.Next() {
		return nil, false
	}
	if !tz.tok.IsData || len(tz.tok.Data) != size {
		return nil, false
	}
	return tz.tok.Data, true
}

func expectScriptNum(tz *tokenizer) (int64, bool) {
	if !tz.Next() {
		return 0, false
	}
	if !tz.tok.IsData {
		// Small values 1..16 are pushed as OP_1..OP_16 by AddInt64.
		if tz.tok.Opcode >= OP_1 && tz.tok.Opcode <= OP_16 {
			return int64(tz.tok.Opcode-OP_1) + 1, true
		}
		return 0, false
	}
	n, err := ScriptNumFromBytes(tz.tok.Data)
	if err != nil {
		return 0, false
	}
	return n, true
}

// peekIsData reports whether the next token (without consuming it) is a
// data push of the given size, used to distinguish the covenant variant
// from the plain one.
func peekIsData(tz *tokenizer, size int) bool {
	save := *tz
	defer func() { *tz = save }()
	if !tz.Next() {
		return false
	}
	return tz.tok.IsData && len(tz.tok.Data) == size
}
