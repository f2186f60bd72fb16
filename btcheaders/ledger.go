package btcheaders

import (
	"errors"
	"fmt"

	"github.com/bathron-chain/bathron/btcspv"
	"github.com/bathron-chain/bathron/chaincfg"
	"github.com/bathron-chain/bathron/chaincfg/chainhash"
	"github.com/bathron-chain/bathron/log"
	"github.com/bathron-chain/bathron/masternode"
	"github.com/bathron-chain/bathron/store"
	"github.com/bathron-chain/bathron/wire"
)

// Key prefixes for btcheadersdb/ (spec.md §6.4).
const (
	prefixTip        = "t"
	prefixHeightHash = "h"
	prefixHash       = "H"
	prefixBestBlock  = "b"
	prefixPublisher  = "p"
)

// RejectCode enumerates the R1-R7 / cooldown rejection reasons.
type RejectCode string

const (
	RejectNone             RejectCode = ""
	RejectBadShape         RejectCode = "bad-btcheaders-shape"
	RejectUnknownPublisher RejectCode = "bad-btcheaders-publisher"
	RejectBadSignature     RejectCode = "bad-btcheaders-signature"
	RejectBadExtend        RejectCode = "bad-btcheaders-extend"
	RejectBadChain         RejectCode = "bad-btcheaders-internal-chain"
	RejectBadPow           RejectCode = "bad-btcheaders-pow"
	RejectBadDifficulty    RejectCode = "bad-btcheaders-difficulty"
	RejectCooldown         RejectCode = "bad-btcheaders-cooldown"
)

// Reject is returned by Validate when a TX_BTC_HEADERS payload fails one of
// rules R1-R7 or the anti-spam cooldown.
type Reject struct {
	Code   RejectCode
	Reason string
}

func (r *Reject) Error() string { return fmt.Sprintf("%s: %s", r.Code, r.Reason) }

func reject(code RejectCode, format string, args ...interface{}) *Reject {
	return &Reject{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Ledger is C2: the consensus-replicated BTC header chain, advanced only
// through validated TX_BTC_HEADERS transactions (spec.md §4.2).
type Ledger struct {
	params   *chaincfg.BATHRONParams
	db       *store.DB
	spv      *btcspv.Store
	registry *masternode.Registry

	tipHeight int32
	tipHash   chainhash.Hash

	lastPublisher     chainhash.Hash
	lastPublishHeight int32
}

// Open opens (or creates) the on-chain header ledger at datadir.
func Open(datadir string, params *chaincfg.BATHRONParams, spv *btcspv.Store, registry *masternode.Registry) (*Ledger, error) {
	db, err := store.Open(datadir)
	if err != nil {
		return nil, err
	}
	l := &Ledger{params: params, db: db, spv: spv, registry: registry, tipHeight: -1}
	if err := l.loadTip(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) loadTip() error {
	v, ok, err := l.db.Get([]byte(prefixTip))
	if err != nil {
		return err
	}
	if !ok {
		l.tipHeight = -1
		return nil
	}
	if len(v) != 4+chainhash.HashSize {
		return errors.New("btcheaders: corrupt tip record")
	}
	l.tipHeight = int32(getLE32(v[:4]))
	copy(l.tipHash[:], v[4:])

	if pv, ok, err := l.db.Get([]byte(prefixPublisher)); err == nil && ok && len(pv) == chainhash.HashSize+4 {
		copy(l.lastPublisher[:], pv[:chainhash.HashSize])
		l.lastPublishHeight = int32(getLE32(pv[chainhash.HashSize:]))
	}
	return nil
}

// TipHeight returns the current BTC header ledger tip height, or -1 if
// empty.
func (l *Ledger) TipHeight() int32 { return l.tipHeight }

// TipHash returns the current ledger tip hash.
func (l *Ledger) TipHash() chainhash.Hash { return l.tipHash }

func heightKey(height uint32) []byte {
	k := make([]byte, len(prefixHeightHash)+4)
	copy(k, prefixHeightHash)
	putLE32(k[len(prefixHeightHash):], height)
	return k
}

func hashKey(h chainhash.Hash) []byte {
	k := make([]byte, len(prefixHash)+chainhash.HashSize)
	copy(k, prefixHash)
	copy(k[len(prefixHash):], h[:])
	return k
}

// GetHeaderByHeight returns the BTC header recorded in the ledger at the
// given height, if any.
func (l *Ledger) GetHeaderByHeight(height uint32) (*wire.BtcHeader, bool, error) {
	hv, ok, err := l.db.Get(heightKey(height))
	if err != nil || !ok {
		return nil, false, err
	}
	var h chainhash.Hash
	copy(h[:], hv)
	raw, ok, err := l.db.Get(hashKey(h))
	if err != nil || !ok {
		return nil, false, err
	}
	hdr, err := wire.BtcHeaderFromBytes(raw)
	if err != nil {
		return nil, false, err
	}
	return hdr, true, nil
}

// Validate applies rules R1-R5, R7 and the anti-spam cooldown to a decoded
// TX_BTC_HEADERS payload: R7 first so the payload shape is sound before
// any field access, then R1/R2/R3/R4/R5, then the cooldown check. R6
// (difficulty) is not checked: header bits are bounded only by the PoW
// limit and are never compared with a retarget computation. It does not mutate ledger
// state; callers apply via Connect once every consensus rule for the
// enclosing transaction/block has passed.
func (l *Ledger) Validate(p *Payload, rawPayloadLen int, currentSpvTip int32, isGenesis bool) error {
	// R7: trivial shape.
	if p.Version != PayloadVersion {
		return reject(RejectBadShape, "version %d != %d", p.Version, PayloadVersion)
	}
	maxCount := maxCountFor(isGenesis, l.params)
	if p.Count() == 0 || p.Count() > maxCount {
		return reject(RejectBadShape, "count %d out of range [1,%d]", p.Count(), maxCount)
	}
	if int(p.Count()) != len(p.Headers) {
		return reject(RejectBadShape, "count field disagrees with headers length")
	}
	if rawPayloadLen > int(l.params.BtcHeadersMaxPayloadSize) {
		return reject(RejectBadShape, "payload %d bytes exceeds max %d", rawPayloadLen, l.params.BtcHeadersMaxPayloadSize)
	}
	if !isGenesis {
		var zero chainhash.Hash
		if p.PublisherProTxHash == zero || len(p.Sig) == 0 {
			return reject(RejectBadShape, "publisher/signature required outside genesis")
		}
	}

	if !isGenesis {
		// R1/R2: the publisher pro-tx-hash must belong to an active
		// registered masternode (the registry is keyed by pro-tx-hash) and
		// the signature must verify under that operator's key; verifyPublisher
		// checks both together against the same registry record.
		if err := l.verifyPublisher(p); err != nil {
			return err
		}
	}

	// R3: extend tip.
	if l.tipHeight >= 0 {
		if p.StartHeight != uint32(l.tipHeight)+1 || (len(p.Headers) > 0 && p.Headers[0].PrevHash != l.tipHash) {
			// Replay exception: if this exact range already exists with a
			// matching first hash, treat as valid replay.
			existing, ok, err := l.GetHeaderByHeight(p.StartHeight)
			if err != nil {
				return err
			}
			if !ok || len(p.Headers) == 0 || existing.BlockHash() != p.Headers[0].BlockHash() {
				return reject(RejectBadExtend, "start_height %d does not extend tip %d", p.StartHeight, l.tipHeight)
			}
		}
	}

	// R4: internal chain.
	for i := 1; i < len(p.Headers); i++ {
		if p.Headers[i].PrevHash != p.Headers[i-1].BlockHash() {
			return reject(RejectBadChain, "header %d does not chain to header %d", i, i-1)
		}
	}

	// R5: PoW. Each header's target must lie in (0, PowLimit] and its hash
	// must satisfy that target, the same bounds C1 applies. The bits are not
	// compared with the expected retarget value, so R6 is not enforced.
	for i := range p.Headers {
		h := &p.Headers[i]
		target := btcspv.CompactToBig(h.Bits)
		if target.Sign() <= 0 || target.Cmp(l.params.BTC.PowLimit) > 0 {
			return reject(RejectBadPow, "header %d: target out of range", i)
		}
		if btcspv.HashToBig(h.BlockHash()).Cmp(target) > 0 {
			return reject(RejectBadPow, "header %d: hash does not satisfy target", i)
		}
	}

	// Anti-spam cooldown.
	if !isGenesis && l.lastPublisher == p.PublisherProTxHash {
		behindBySPV := currentSpvTip-l.tipHeight > int32(p.Count())
		catchUp := l.tipHeight < 0 || p.StartHeight == uint32(l.tipHeight)+1
		gap := int32(p.StartHeight) - l.lastPublishHeight
		if gap < l.params.BtcHeadersPublisherCooldown && !behindBySPV && !catchUp {
			return reject(RejectCooldown, "publisher cooldown: %d blocks since last publish", gap)
		}
	}

	return nil
}

func (l *Ledger) verifyPublisher(p *Payload) error {
	if l.registry == nil {
		return reject(RejectUnknownPublisher, "no masternode registry configured")
	}
	_, err := l.registry.VerifyBatchSignature(p.PublisherProTxHash, p.SigningHash(), p.Sig)
	if err != nil {
		if errors.Is(err, masternode.ErrUnknownOperator) {
			return reject(RejectUnknownPublisher, "publisher %s not a registered masternode", p.PublisherProTxHash)
		}
		return reject(RejectBadSignature, "%v", err)
	}
	return nil
}

// Connect applies an already-validated payload: writes each new header,
// advances the tip, and records (publisher, height) (spec.md §4.2
// "Effect").
func (l *Ledger) Connect(p *Payload, bathronHeight int32) error {
	b := l.db.NewBatch()
	height := p.StartHeight
	var lastHash chainhash.Hash
	for i := range p.Headers {
		h := &p.Headers[i]
		hash := h.BlockHash()
		b.Put(hashKey(hash), h.Bytes())
		hk := heightKey(height)
		hv := make([]byte, chainhash.HashSize)
		copy(hv, hash[:])
		b.Put(hk, hv)
		lastHash = hash
		height++
	}
	newTipHeight := int32(height - 1)
	tipVal := make([]byte, 4+chainhash.HashSize)
	putLE32(tipVal[:4], uint32(newTipHeight))
	copy(tipVal[4:], lastHash[:])
	b.Put([]byte(prefixTip), tipVal)

	pubVal := make([]byte, chainhash.HashSize+4)
	copy(pubVal[:chainhash.HashSize], p.PublisherProTxHash[:])
	putLE32(pubVal[chainhash.HashSize:], uint32(bathronHeight))
	b.Put([]byte(prefixPublisher), pubVal)

	bestVal := make([]byte, 4)
	putLE32(bestVal, uint32(bathronHeight))
	b.Put([]byte(prefixBestBlock), bestVal)

	if err := b.Commit(); err != nil {
		return err
	}

	l.tipHeight = newTipHeight
	l.tipHash = lastHash
	l.lastPublisher = p.PublisherProTxHash
	l.lastPublishHeight = bathronHeight
	log.LedgerLog.Infof("connected %d BTC headers, tip now %d/%s", len(p.Headers), l.tipHeight, l.tipHash)
	return nil
}

// Disconnect reverses a previously connected payload on BATHRON reorg:
// erases the heights it wrote and restores the tip to start_height-1
// (spec.md §4.2 "Disconnect"). V1 assumes no BTC reorg across the range.
func (l *Ledger) Disconnect(p *Payload) error {
	b := l.db.NewBatch()
	height := p.StartHeight
	for i := range p.Headers {
		h := &p.Headers[i]
		b.Delete(heightKey(height))
		b.Delete(hashKey(h.BlockHash()))
		height++
	}

	newTipHeight := int32(p.StartHeight) - 1
	var newTipHash chainhash.Hash
	if len(p.Headers) > 0 {
		newTipHash = p.Headers[0].PrevHash
	}
	tipVal := make([]byte, 4+chainhash.HashSize)
	putLE32(tipVal[:4], uint32(newTipHeight))
	copy(tipVal[4:], newTipHash[:])
	b.Put([]byte(prefixTip), tipVal)

	if err := b.Commit(); err != nil {
		return err
	}
	l.tipHeight = newTipHeight
	l.tipHash = newTipHash
	log.LedgerLog.Infof("disconnected %d BTC headers, tip now %d/%s", len(p.Headers), l.tipHeight, l.tipHash)
	return nil
}

// CheckStartupConsistency implements spec.md §4.2's "Consistency check at
// startup": if the recorded best_bathron_block is on the active chain
// (equal to or an ancestor of tip), nothing changes. Otherwise the marker
// is updated to currentBathronTip, since BTC headers themselves are
// chain-independent and survive a BATHRON reindex untouched.
func (l *Ledger) CheckStartupConsistency(isOnActiveChain func(height int32) bool, currentBathronTip int32) error {
	v, ok, err := l.db.Get([]byte(prefixBestBlock))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	recorded := int32(getLE32(v))
	if recorded <= currentBathronTip && isOnActiveChain(recorded) {
		return nil
	}
	b := l.db.NewBatch()
	bestVal := make([]byte, 4)
	putLE32(bestVal, uint32(currentBathronTip))
	b.Put([]byte(prefixBestBlock), bestVal)
	return b.Commit()
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error { return l.db.Close() }
