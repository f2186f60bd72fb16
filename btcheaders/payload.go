// Copyright (c) 2026 The BATHRON developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcheaders implements C2, the on-chain (consensus-replicated)
// BTC header ledger and the TX_BTC_HEADERS publication transaction (spec.md
// §4.2). Unlike C1 (btcspv), which is a node-local cache fed directly from
// the BTC network, C2 only ever advances through validated TX_BTC_HEADERS
// transactions included in BATHRON blocks, so every full node agrees on the
// same BTC header view.
package btcheaders

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/bathron-chain/bathron/chaincfg"
	"github.com/bathron-chain/bathron/chaincfg/chainhash"
	"github.com/bathron-chain/bathron/wire"
)

// btchdrDomainTag domain-separates the TX_BTC_HEADERS signature hash from
// every other signed message in the system (spec.md §6.3).
var btchdrDomainTag = []byte("BTCHDR")

// PayloadVersion is the only currently accepted BtcHeadersPayload version.
const PayloadVersion uint8 = 1

// Payload is the decoded extra-payload of a TX_BTC_HEADERS transaction
// (spec.md §4.2).
type Payload struct {
	Version            uint8
	PublisherProTxHash chainhash.Hash
	StartHeight        uint32
	Headers            []wire.BtcHeader
	Sig                []byte
}

// Count mirrors the wire field of the same name; it is always
// len(Headers), kept implicit rather than stored separately so the decoder
// cannot construct an inconsistent Payload.
func (p *Payload) Count() uint16 { return uint16(len(p.Headers)) }

// SigningHash computes the domain-separated hash signed by the publisher's
// operator key (spec.md §4.2): HASH("BTCHDR" || version ||
// publisher_pro_tx_hash || start_height || count || headers[0..count]),
// excluding Sig itself.
func (p *Payload) SigningHash() chainhash.Hash {
	var buf bytes.Buffer
	buf.Write(btchdrDomainTag)
	buf.WriteByte(p.Version)
	buf.Write(p.PublisherProTxHash[:])
	var b4 [4]byte
	putLE32(b4[:], p.StartHeight)
	buf.Write(b4[:])
	var b2 [2]byte
	putLE16(b2[:], p.Count())
	buf.Write(b2[:])
	for _, h := range p.Headers {
		buf.Write(h.Bytes())
	}
	return chainhash.HashH(buf.Bytes())
}

// Encode serializes the payload into a TX_BTC_HEADERS ExtraPayload blob.
func (p *Payload) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(p.Version)
	buf.Write(p.PublisherProTxHash[:])
	var b4 [4]byte
	putLE32(b4[:], p.StartHeight)
	buf.Write(b4[:])
	var b2 [2]byte
	putLE16(b2[:], p.Count())
	buf.Write(b2[:])
	for _, h := range p.Headers {
		buf.Write(h.Bytes())
	}
	_ = wire.WriteVarBytes(&buf, p.Sig)
	return buf.Bytes()
}

// ErrPayloadTooShort indicates the raw bytes are too small to even hold a
// trivially-shaped header.
var ErrPayloadTooShort = errors.New("btcheaders: payload too short")

// DecodePayload decodes raw bytes into a Payload, performing no semantic
// (R1-R6) validation — only enough structural parsing to read the fields
// out. It does not bound len(raw) by BTCHEADERS_MAX_PAYLOAD_SIZE (spec.md
// §6.5); that size check belongs to R7 and is made by Ledger.Validate.
func DecodePayload(raw []byte) (*Payload, error) {
	const headerFixedLen = 1 + chainhash.HashSize + 4 + 2
	if len(raw) < headerFixedLen {
		return nil, ErrPayloadTooShort
	}

	p := &Payload{}
	off := 0
	p.Version = raw[off]
	off++
	copy(p.PublisherProTxHash[:], raw[off:off+chainhash.HashSize])
	off += chainhash.HashSize
	p.StartHeight = getLE32(raw[off : off+4])
	off += 4
	count := getLE16(raw[off : off+2])
	off += 2

	needed := off + int(count)*wire.BtcHeaderLen
	if len(raw) < needed {
		return nil, fmt.Errorf("btcheaders: payload truncated, need %d bytes for %d headers", needed, count)
	}

	p.Headers = make([]wire.BtcHeader, count)
	for i := 0; i < int(count); i++ {
		h, err := wire.BtcHeaderFromBytes(raw[off : off+wire.BtcHeaderLen])
		if err != nil {
			return nil, err
		}
		p.Headers[i] = *h
		off += wire.BtcHeaderLen
	}

	r := bytes.NewReader(raw[off:])
	sig, err := wire.ReadVarBytes(r, 128)
	if err != nil {
		return nil, err
	}
	p.Sig = sig
	return p, nil
}

func putLE16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func getLE16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getLE32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// maxCountFor returns the maximum permitted header count for the
// publication, per spec.md §4.2 R7 (the BATHRON genesis block gets a
// larger allowance; the BTC start_height it happens to carry is
// unrelated and must not gate this).
func maxCountFor(isGenesis bool, p *chaincfg.BATHRONParams) uint16 {
	if isGenesis {
		return p.BtcHeadersGenesisMaxCount
	}
	return p.BtcHeadersMaxCount
}
