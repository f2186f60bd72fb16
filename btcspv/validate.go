package btcspv

import (
	"math/big"
	"time"

	"github.com/bathron-chain/bathron/chaincfg"
	"github.com/bathron-chain/bathron/chaincfg/chainhash"
	"github.com/bathron-chain/bathron/log"
	"github.com/bathron-chain/bathron/store"
	"github.com/bathron-chain/bathron/wire"
)

// now returns the current time, indirected through a field so tests can
// pin it; defaults to time.Now.
func (s *Store) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// AddHeader validates and, if valid, persists a single Bitcoin header,
// following the eight-step order of spec.md §4.1.
func (s *Store) AddHeader(h *wire.BtcHeader) (AddResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addHeaderLocked(h)
}

func (s *Store) addHeaderLocked(h *wire.BtcHeader) (res AddResult, retErr error) {
	hash := h.BlockHash()

	// Step 1: duplicate.
	existing, err := s.lookup(hash)
	if err != nil {
		s.reportUnavailable(err)
		return Duplicate, err
	}
	if existing != nil {
		if existing.ChainWork.Cmp(s.bestChainWork) > 0 {
			if err := s.activateChain(existing); err != nil {
				return Duplicate, err
			}
		}
		return Duplicate, nil
	}

	// Step 2: parent lookup.
	parent, err := s.lookup(h.PrevHash)
	if err != nil {
		s.reportUnavailable(err)
		return Orphan, err
	}

	var height int32
	var chainWork *big.Int

	if parent == nil {
		// Allowed only as a checkpoint anchor.
		cp, anchored := s.checkpointForHash(hash)
		if !anchored {
			return Orphan, nil
		}
		height = cp.Height
		chainWork = cp.CumulativeWork
		if chainWork == nil {
			chainWork = big.NewInt(0)
		}

		if err := s.persistHeader(h, hash, height, chainWork); err != nil {
			return InvalidPoW, err
		}
		return Valid, nil
	}

	height = parent.Height + 1

	// Step 3: PoW.
	target := CompactToBig(h.Bits)
	if target.Sign() <= 0 || target.Cmp(s.params.PowLimit) > 0 {
		return InvalidPoW, nil
	}
	hashInt := HashToBig(hash)
	if hashInt.Cmp(target) > 0 {
		return InvalidPoW, nil
	}

	// Step 4: timestamp.
	if int64(h.Timestamp) > s.now().Unix()+maxFutureBlockTime {
		return InvalidTimestampFuture, nil
	}
	mtp, err := s.calcMedianTimePast(parent)
	if err != nil {
		s.reportUnavailable(err)
		return InvalidTimestampMtp, err
	}
	if h.Timestamp <= mtp {
		return InvalidTimestampMtp, nil
	}

	// Step 5: retarget.
	retargetOK, err := s.checkRetarget(parent, h, height)
	if err != nil {
		s.reportUnavailable(err)
		return InvalidRetarget, err
	}
	if !retargetOK {
		return InvalidRetarget, nil
	}

	// Step 6: A7 canonical check (immediate reject).
	if a7, ok := s.params.A7CheckpointByHeight(height); ok {
		if hash != a7.ExpectedHash {
			return InvalidCheckpoint, nil
		}
	}

	// Step 7: SPV checkpoint check (immediate reject).
	if cp, ok := s.params.CheckpointByHeight(height); ok {
		if hash != cp.Hash {
			return InvalidCheckpoint, nil
		}
	}

	// Step 8: persist.
	chainWork = new(big.Int).Add(parent.ChainWork, CalcWork(h.Bits))
	if err := s.persistHeader(h, hash, height, chainWork); err != nil {
		return InvalidPoW, err
	}

	return Valid, nil
}

func (s *Store) checkpointForHash(hash chainhash.Hash) (chaincfg.SPVCheckpoint, bool) {
	for _, cp := range s.params.SPVCheckpoints {
		if cp.Hash == hash {
			return cp, true
		}
	}
	return chaincfg.SPVCheckpoint{}, false
}

// checkRetarget implements spec.md §4.1 rule 5. On test networks a
// mismatch is logged but not fatal (ReduceMinDifficulty); the A7/SPV
// checkpoint sets remain the authoritative anchor there.
func (s *Store) checkRetarget(parent *Index, h *wire.BtcHeader, height int32) (bool, error) {
	if height%s.params.RetargetInterval != 0 {
		if h.Bits != parent.Header.Bits {
			if s.params.ReduceMinDifficulty {
				log.BtcSPVLog.Debugf("retarget bits mismatch at height %d ignored on reduced-difficulty network", height)
				return true, nil
			}
			return false, nil
		}
		return true, nil
	}

	firstIdx, err := s.ancestorHeader(parent, s.params.RetargetInterval-1)
	if err != nil {
		return false, err
	}
	if firstIdx == nil {
		// Insufficient history to validate; defer to checkpoints.
		return true, nil
	}

	actual := int64(parent.Header.Timestamp) - int64(firstIdx.Header.Timestamp)
	minSpan := s.params.TargetTimespan / 4
	maxSpan := s.params.TargetTimespan * 4
	if actual < minSpan {
		actual = minSpan
	}
	if actual > maxSpan {
		actual = maxSpan
	}

	oldTarget := CompactToBig(parent.Header.Bits)
	newTarget := new(big.Int).Mul(oldTarget, big.NewInt(actual))
	newTarget.Div(newTarget, big.NewInt(s.params.TargetTimespan))
	if newTarget.Cmp(s.params.PowLimit) > 0 {
		newTarget = s.params.PowLimit
	}
	expectedBits := BigToCompact(newTarget)

	if h.Bits != expectedBits {
		if s.params.ReduceMinDifficulty {
			log.BtcSPVLog.Debugf("retarget mismatch at height %d ignored on reduced-difficulty network", height)
			return true, nil
		}
		return false, nil
	}
	return true, nil
}

func (s *Store) persistHeader(h *wire.BtcHeader, hash chainhash.Hash, height int32, chainWork *big.Int) error {
	idx := &Index{
		Hash:      hash,
		PrevHash:  h.PrevHash,
		Height:    height,
		ChainWork: chainWork,
		Header:    *h,
	}

	b := s.db.NewBatch()
	s.writeIndex(b, idx)
	if err := b.Commit(); err != nil {
		return err
	}
	s.cache.Put(hash, idx)

	if chainWork.Cmp(s.bestChainWork) > 0 {
		return s.activateChain(idx)
	}
	return nil
}

// activateChain implements UpdateBestChain (spec.md §4.1): walk back from
// the new tip collecting (height, hash) pairs until reaching the old
// bestHeight, re-verify every checkpoint between min_supported_height and
// the new tip lies on the path, and only then write height->hash mappings
// and the tip record.
func (s *Store) activateChain(newTip *Index) error {
	type step struct {
		height int32
		hash   chainhash.Hash
	}
	var path []step
	cur := newTip
	for cur != nil {
		path = append(path, step{cur.Height, cur.Hash})
		var zero chainhash.Hash
		if cur.PrevHash == zero && cur.Height == 0 {
			break
		}
		if cur.Height <= s.bestHeight && cur.Height != newTip.Height {
			// We've walked back far enough to splice onto the existing
			// best chain; no need to keep walking to genesis.
			existing, err := s.getByHeightLocked(cur.Height)
			if err != nil {
				return err
			}
			if existing != nil && existing.Hash == cur.Hash {
				break
			}
		}
		parent, err := s.lookup(cur.PrevHash)
		if err != nil {
			return err
		}
		if parent == nil {
			break
		}
		cur = parent
	}

	// Re-verify every required checkpoint between min_supported_height and
	// the new tip lies on this path before activating.
	pathByHeight := make(map[int32]chainhash.Hash, len(path))
	for _, st := range path {
		pathByHeight[st.height] = st.hash
	}
	for _, cp := range s.params.SPVCheckpoints {
		if cp.Height < s.minSupportedHeight || cp.Height > newTip.Height {
			continue
		}
		if h, ok := pathByHeight[cp.Height]; ok && h != cp.Hash {
			return nil // refused: tip remains untouched
		}
	}
	for _, cp := range s.params.A7Checkpoints {
		if cp.Height < s.minSupportedHeight || cp.Height > newTip.Height {
			continue
		}
		if h, ok := pathByHeight[cp.Height]; ok && h != cp.ExpectedHash {
			return nil
		}
	}

	b := s.db.NewBatch()
	for _, st := range path {
		s.writeHeightHash(b, st.height, st.hash)
	}
	s.writeTip(b, newTip.Hash, newTip.Height, newTip.ChainWork)
	if err := b.Commit(); err != nil {
		return err
	}

	s.bestTipHash = newTip.Hash
	s.bestHeight = newTip.Height
	s.bestChainWork = newTip.ChainWork
	return nil
}

// AddHeaders validates a batch of headers in order, stopping at the first
// non-duplicate rejection (spec.md §4.1).
func (s *Store) AddHeaders(headers []*wire.BtcHeader) (accepted, rejected int, firstRejectReason AddResult, newTip chainhash.Hash) {
	for _, h := range headers {
		res, err := s.AddHeader(h)
		if err != nil {
			rejected++
			if accepted == 0 && rejected == 1 {
				firstRejectReason = res
			}
			break
		}
		switch res {
		case Valid, Duplicate:
			accepted++
		default:
			rejected++
			firstRejectReason = res
			return accepted, rejected, firstRejectReason, s.GetTipHash()
		}
	}
	return accepted, rejected, firstRejectReason, s.GetTipHash()
}
