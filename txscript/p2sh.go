package txscript

import "github.com/btcsuite/btcd/btcutil"

// P2SHHashSize is the size of a HASH160 script hash.
const P2SHHashSize = 20

// BuildP2SHScript builds the canonical OP_HASH160 <scriptHash> OP_EQUAL
// scriptPubKey (spec.md §4.5.5: the HTLC CREATE output is "a P2SH output
// whose script hash commits to the redeem script"). Grounded on the
// now-retired addresses/shell_addresses.go, which hashed a redeem script
// with btcutil.Hash160 to derive a Shell P2SH address before base58
// encoding it; BATHRON has no address encoding layer, so the scriptPubKey
// bytes are built and matched directly.
func BuildP2SHScript(scriptHash [P2SHHashSize]byte) []byte {
	b := NewScriptBuilder()
	b.AddOp(OP_HASH160)
	b.AddData(scriptHash[:])
	b.AddOp(OP_EQUAL)
	script, _ := b.Script()
	return script
}

// HashRedeemScript returns the HASH160 of a redeem script, the value a
// P2SH-HTLC output's scriptPubKey commits to.
func HashRedeemScript(redeemScript []byte) [P2SHHashSize]byte {
	var h [P2SHHashSize]byte
	copy(h[:], btcutil.Hash160(redeemScript))
	return h
}

// ExtractP2SHHash reports whether script is byte-exactly the canonical
// OP_HASH160 <20 bytes> OP_EQUAL shape, returning the script hash if so.
func ExtractP2SHHash(script []byte) ([P2SHHashSize]byte, bool) {
	var h [P2SHHashSize]byte
	if len(script) != 2+P2SHHashSize+1 {
		return h, false
	}
	if script[0] != OP_HASH160 || script[1] != P2SHHashSize || script[len(script)-1] != OP_EQUAL {
		return h, false
	}
	copy(h[:], script[2:2+P2SHHashSize])
	return h, true
}

// IsP2SHHTLCOutput reports whether out's scriptPubKey commits to
// redeemScript under the P2SH convention above.
func IsP2SHHTLCOutput(pkScript, redeemScript []byte) bool {
	got, ok := ExtractP2SHHash(pkScript)
	if !ok {
		return false
	}
	return got == HashRedeemScript(redeemScript)
}
