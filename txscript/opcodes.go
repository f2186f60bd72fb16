// Copyright (c) 2026 The BATHRON developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txscript implements BATHRON's script engine (spec.md §4.5): the
// HTLC and HTLC3S redeem-script families (plain and covenant variants), the
// CTV-lite template-commitment opcode, and the strict token-by-token
// decoder each lifecycle transition needs to recover a script's parameters.
//
// No library in the retrieved example pack exposes raw Bitcoin Script
// opcode encoding independent of a full chain/mempool stack (the teacher's
// own txscript/ files only post-process already-parsed witness data via
// btcd's txscript, which is not part of this module's dependency set), so
// the opcode table and builder below are written directly against the
// public Bitcoin Script opcode numbering.
package txscript

// Opcode values, matching the standard Bitcoin Script numbering so that
// scripts produced here are byte-compatible with any Bitcoin-family
// verifier.
const (
	OP_0         = 0x00
	OP_PUSHDATA1 = 0x4c
	OP_PUSHDATA2 = 0x4d
	OP_PUSHDATA4 = 0x4e
	OP_1NEGATE   = 0x4f
	OP_1         = 0x51
	OP_TRUE      = OP_1
	OP_16        = 0x60

	OP_IF     = 0x63
	OP_NOTIF  = 0x64
	OP_ELSE   = 0x67
	OP_ENDIF  = 0x68
	OP_VERIFY = 0x69

	OP_DROP = 0x75
	OP_DUP  = 0x76

	OP_EQUAL       = 0x87
	OP_EQUALVERIFY = 0x88

	OP_SIZE = 0x82

	OP_SHA256   = 0xa8
	OP_HASH160  = 0xa9
	OP_HASH256  = 0xaa
	OP_CHECKSIG = 0xac

	OP_CHECKLOCKTIMEVERIFY = 0xb1

	// OP_TEMPLATEVERIFY implements the CTV-lite commitment check of
	// spec.md §4.5.4, reusing BIP119's OP_CHECKTEMPLATEVERIFY opcode slot
	// (formerly OP_NOP4) so it cannot collide with a standard opcode.
	OP_TEMPLATEVERIFY = 0xb3
)

// opcodeName maps opcode values to their names; not exhaustive, only the
// opcodes this package's builders/decoders ever emit or expect.
var opcodeName = map[byte]string{
	OP_0: "OP_0", OP_1: "OP_1", OP_IF: "OP_IF", OP_NOTIF: "OP_NOTIF",
	OP_ELSE: "OP_ELSE", OP_ENDIF: "OP_ENDIF", OP_VERIFY: "OP_VERIFY",
	OP_DROP: "OP_DROP", OP_DUP: "OP_DUP", OP_EQUAL: "OP_EQUAL",
	OP_EQUALVERIFY: "OP_EQUALVERIFY", OP_SIZE: "OP_SIZE", OP_SHA256: "OP_SHA256",
	OP_HASH160: "OP_HASH160", OP_HASH256: "OP_HASH256", OP_CHECKSIG: "OP_CHECKSIG",
	OP_CHECKLOCKTIMEVERIFY: "OP_CHECKLOCKTIMEVERIFY", OP_TEMPLATEVERIFY: "OP_TEMPLATEVERIFY",
}
