// Package btcspv implements BATHRON's SPV Header Store (C1, spec.md §4.1):
// an independently validated Bitcoin header chain with PoW/retarget/MTP/
// checkpoint rules, persisted so every node agrees on one Bitcoin view
// without trusting an out-of-band source. Grounded on the teacher's
// blockchain/shell_validate.go validation-order style and
// blockchain/merkle.go's merkle-combine algorithm.
package btcspv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/decred/dcrd/lru"

	"github.com/bathron-chain/bathron/chaincfg"
	"github.com/bathron-chain/bathron/chaincfg/chainhash"
	"github.com/bathron-chain/bathron/log"
	"github.com/bathron-chain/bathron/store"
	"github.com/bathron-chain/bathron/wire"
)

// AddResult is the outcome of AddHeader (spec.md §4.1).
type AddResult int

const (
	Valid AddResult = iota
	InvalidPoW
	InvalidPrev
	InvalidTimestampFuture
	InvalidTimestampMtp
	InvalidRetarget
	InvalidCheckpoint
	Duplicate
	Orphan
)

func (r AddResult) String() string {
	switch r {
	case Valid:
		return "Valid"
	case InvalidPoW:
		return "InvalidPoW"
	case InvalidPrev:
		return "InvalidPrev"
	case InvalidTimestampFuture:
		return "InvalidTimestampFuture"
	case InvalidTimestampMtp:
		return "InvalidTimestampMtp"
	case InvalidRetarget:
		return "InvalidRetarget"
	case InvalidCheckpoint:
		return "InvalidCheckpoint"
	case Duplicate:
		return "Duplicate"
	case Orphan:
		return "Orphan"
	default:
		return "Unknown"
	}
}

// medianTimeSpan is the number of ancestor timestamps whose median is MTP
// (spec.md §4.1 rule 4).
const medianTimeSpan = 11

// maxFutureBlockTime is how far into the future a header's timestamp may
// lie (spec.md §4.1 rule 4).
const maxFutureBlockTime = 2 * 60 * 60

// maxCacheEntries bounds the in-memory header cache (spec.md §4.1
// Concurrency: "max 1000 entries").
const maxCacheEntries = 1000

const (
	prefixHashToIndex  = "H"
	prefixHeightToHash = "b"
	prefixTip          = "t"
	prefixMinHeight    = "m"
)

// Index is the persisted record for one header (spec.md §3.1
// BtcHeaderIndex).
type Index struct {
	Hash      chainhash.Hash
	PrevHash  chainhash.Hash
	Height    int32
	ChainWork *big.Int
	Header    wire.BtcHeader
}

// Store is BATHRON's SPV Header Store (C1). All public methods are
// serialized behind a single coarse mutex guarding both the cache and the
// database, per spec.md §4.1 Concurrency.
type Store struct {
	mu sync.Mutex

	params *chaincfg.BTCParams
	datadir string
	db     *store.DB
	cache  *lru.Map[chainhash.Hash, *Index]

	bestTipHash        chainhash.Hash
	bestHeight         int32
	bestChainWork      *big.Int
	minSupportedHeight int32

	unavailable bool

	// Clock overrides time.Now for deterministic tests of the future-
	// timestamp rule (spec.md §4.1 rule 4). Nil means time.Now.
	Clock func() time.Time
}

// Open opens or creates an SPV store at datadir for the given network
// parameters, seeding it with the starting checkpoint if empty.
func Open(datadir string, params *chaincfg.BTCParams) (*Store, error) {
	db, err := store.Open(datadir)
	if err != nil {
		return nil, err
	}

	s := &Store{
		params:             params,
		datadir:            datadir,
		db:                 db,
		cache:              lru.NewMap[chainhash.Hash, *Index](maxCacheEntries),
		bestChainWork:      big.NewInt(0),
		minSupportedHeight: params.MinSupportedHeight(),
	}

	if err := s.loadTip(); err != nil {
		return nil, err
	}
	if s.bestHeight == 0 && s.bestChainWork.Sign() == 0 {
		if err := s.seedStartingCheckpoint(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) seedStartingCheckpoint() error {
	if len(s.params.SPVCheckpoints) == 0 {
		return nil
	}
	start := s.params.SPVCheckpoints[0]
	for _, cp := range s.params.SPVCheckpoints[1:] {
		if cp.Height < start.Height {
			start = cp
		}
	}

	work := start.CumulativeWork
	if work == nil {
		work = big.NewInt(0)
	}
	idx := &Index{
		Hash:      start.Hash,
		Height:    start.Height,
		ChainWork: work,
	}

	b := s.db.NewBatch()
	s.writeIndex(b, idx)
	s.writeHeightHash(b, idx.Height, idx.Hash)
	s.writeTip(b, idx.Hash, idx.Height, idx.ChainWork)
	s.writeMinHeight(b, start.Height)
	if err := b.Commit(); err != nil {
		return err
	}

	s.cache.Put(idx.Hash, idx)
	s.bestTipHash = idx.Hash
	s.bestHeight = idx.Height
	s.bestChainWork = idx.ChainWork
	s.minSupportedHeight = start.Height
	return nil
}

func (s *Store) loadTip() error {
	v, ok, err := s.db.Get([]byte(prefixTip))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if len(v) < chainhash.HashSize+4+2 {
		return fmt.Errorf("corrupt tip record")
	}
	copy(s.bestTipHash[:], v[:chainhash.HashSize])
	off := chainhash.HashSize
	s.bestHeight = int32(binary.BigEndian.Uint32(v[off:]))
	off += 4
	workLen := int(binary.BigEndian.Uint16(v[off:]))
	off += 2
	s.bestChainWork = new(big.Int).SetBytes(v[off : off+workLen])

	mv, ok, err := s.db.Get([]byte(prefixMinHeight))
	if err != nil {
		return err
	}
	if ok && len(mv) == 4 {
		s.minSupportedHeight = int32(binary.BigEndian.Uint32(mv))
	}
	return nil
}

func (s *Store) writeTip(b *store.Batch, hash chainhash.Hash, height int32, work *big.Int) {
	workBytes := work.Bytes()
	buf := make([]byte, chainhash.HashSize+4+2+len(workBytes))
	copy(buf, hash[:])
	off := chainhash.HashSize
	binary.BigEndian.PutUint32(buf[off:], uint32(height))
	off += 4
	binary.BigEndian.PutUint16(buf[off:], uint16(len(workBytes)))
	off += 2
	copy(buf[off:], workBytes)
	b.Put([]byte(prefixTip), buf)
}

func (s *Store) writeMinHeight(b *store.Batch, h int32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(h))
	b.Put([]byte(prefixMinHeight), buf[:])
}

func (s *Store) writeHeightHash(b *store.Batch, height int32, hash chainhash.Hash) {
	key := heightKey(height)
	b.Put(key, hash[:])
}

func heightKey(height int32) []byte {
	key := make([]byte, 1+4)
	key[0] = prefixHeightToHash[0]
	binary.BigEndian.PutUint32(key[1:], uint32(height))
	return key
}

func hashKey(hash chainhash.Hash) []byte {
	key := make([]byte, 1+chainhash.HashSize)
	key[0] = prefixHashToIndex[0]
	copy(key[1:], hash[:])
	return key
}

func (s *Store) writeIndex(b *store.Batch, idx *Index) {
	b.Put(hashKey(idx.Hash), serializeIndex(idx))
}

func serializeIndex(idx *Index) []byte {
	var buf bytes.Buffer
	buf.Write(idx.Header.Bytes())
	var h4 [4]byte
	binary.BigEndian.PutUint32(h4[:], uint32(idx.Height))
	buf.Write(h4[:])
	workBytes := idx.ChainWork.Bytes()
	var wl [2]byte
	binary.BigEndian.PutUint16(wl[:], uint16(len(workBytes)))
	buf.Write(wl[:])
	buf.Write(workBytes)
	return buf.Bytes()
}

func deserializeIndex(hash chainhash.Hash, data []byte) (*Index, error) {
	if len(data) < wire.BtcHeaderLen+4+2 {
		return nil, fmt.Errorf("corrupt header index record")
	}
	hdr, err := wire.BtcHeaderFromBytes(data[:wire.BtcHeaderLen])
	if err != nil {
		return nil, err
	}
	off := wire.BtcHeaderLen
	height := int32(binary.BigEndian.Uint32(data[off:]))
	off += 4
	workLen := int(binary.BigEndian.Uint16(data[off:]))
	off += 2
	work := new(big.Int).SetBytes(data[off : off+workLen])

	return &Index{
		Hash:      hash,
		PrevHash:  hdr.PrevHash,
		Height:    height,
		ChainWork: work,
		Header:    *hdr,
	}, nil
}

// lookup fetches an index record, checking the cache first.
func (s *Store) lookup(hash chainhash.Hash) (*Index, error) {
	if idx, ok := s.cache.Get(hash); ok {
		return idx, nil
	}
	v, ok, err := s.db.Get(hashKey(hash))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	idx, err := deserializeIndex(hash, v)
	if err != nil {
		return nil, err
	}
	s.cache.Put(hash, idx)
	return idx, nil
}

// GetHeaderByHash returns the stored header index for hash, if any.
func (s *Store) GetHeaderByHash(hash chainhash.Hash) (*Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(hash)
}

// GetHeaderByHeight returns the best-chain header index at height, if any.
func (s *Store) GetHeaderByHeight(height int32) (*Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getByHeightLocked(height)
}

func (s *Store) getByHeightLocked(height int32) (*Index, error) {
	v, ok, err := s.db.Get(heightKey(height))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var hash chainhash.Hash
	copy(hash[:], v)
	return s.lookup(hash)
}

// GetTipHash returns the current best-chain tip hash.
func (s *Store) GetTipHash() chainhash.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bestTipHash
}

// GetTipHeight returns the current best-chain tip height.
func (s *Store) GetTipHeight() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bestHeight
}

// GetTipWork returns the current best chain's cumulative work.
func (s *Store) GetTipWork() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.bestChainWork)
}

// GetMinSupportedHeight returns the lowest height this store stores
// headers for (spec.md §3.1).
func (s *Store) GetMinSupportedHeight() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minSupportedHeight
}

// IsInBestChain reports whether hash is on the active best chain.
func (s *Store) IsInBestChain(hash chainhash.Hash) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.lookup(hash)
	if err != nil || idx == nil {
		return false, err
	}
	best, err := s.getByHeightLocked(idx.Height)
	if err != nil || best == nil {
		return false, err
	}
	return best.Hash == hash, nil
}

// GetConfirmations returns the number of confirmations hash has on the
// best chain (1 for the tip itself), or 0 if hash is not on the best
// chain.
func (s *Store) GetConfirmations(hash chainhash.Hash) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.lookup(hash)
	if err != nil || idx == nil {
		return 0, err
	}
	best, err := s.getByHeightLocked(idx.Height)
	if err != nil || best == nil || best.Hash != hash {
		return 0, nil
	}
	return s.bestHeight - idx.Height + 1, nil
}

// ancestorHeader walks n blocks back from start via stored prev_hash
// pointers, returning the nth ancestor (n=0 returns start itself), or nil
// if the walk runs off the end of stored history.
func (s *Store) ancestorHeader(start *Index, n int32) (*Index, error) {
	cur := start
	for i := int32(0); i < n; i++ {
		if cur == nil {
			return nil, nil
		}
		var zero chainhash.Hash
		if cur.PrevHash == zero && cur.Height != 0 {
			return nil, nil
		}
		next, err := s.lookup(cur.PrevHash)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		cur = next
	}
	return cur, nil
}

// calcMedianTimePast computes the MTP of the ancestor chain ending at
// parent (spec.md §4.1 rule 4: median of last 11 ancestor times, stopping
// on a missing parent).
func (s *Store) calcMedianTimePast(parent *Index) (uint32, error) {
	var times []uint32
	cur := parent
	for i := 0; i < medianTimeSpan && cur != nil; i++ {
		times = append(times, cur.Header.Timestamp)
		var zero chainhash.Hash
		if cur.PrevHash == zero && cur.Height != 0 {
			break
		}
		next, err := s.lookup(cur.PrevHash)
		if err != nil {
			return 0, err
		}
		cur = next
	}
	if len(times) == 0 {
		return 0, nil
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	return times[len(times)/2], nil
}

// reportUnavailable marks the store degraded after a fatal internal error
// (spec.md §7: non-consensus failures are logged, the component marks
// itself degraded, and the consensus loop continues).
func (s *Store) reportUnavailable(err error) {
	s.unavailable = true
	log.BtcSPVLog.Errorf("SPV store marked unavailable: %v", err)
}

// Unavailable reports whether the store has been marked degraded.
func (s *Store) Unavailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unavailable
}

// Reload shuts down and re-opens the database at the stored datadir
// (spec.md §4.1 Hot reload). On failure the store is marked unavailable
// until process restart.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		s.reportUnavailable(err)
		return err
	}
	db, err := store.Open(s.datadir)
	if err != nil {
		s.reportUnavailable(err)
		return err
	}
	s.db = db
	s.cache = lru.NewMap[chainhash.Hash, *Index](maxCacheEntries)
	s.unavailable = false
	if err := s.loadTip(); err != nil {
		s.reportUnavailable(err)
		return err
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
