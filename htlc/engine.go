package htlc

import (
	"errors"
	"fmt"

	"github.com/bathron-chain/bathron/chaincfg/chainhash"
	"github.com/bathron-chain/bathron/log"
	"github.com/bathron-chain/bathron/store"
	"github.com/bathron-chain/bathron/txscript"
	"github.com/bathron-chain/bathron/wire"
)

// Key prefixes, spec.md §6.4's htlc/ table:
//
//	H|outpoint -> HTLCRecord              3|outpoint -> HTLC3SRecord
//	L|(H,outpoint) -> marker              {U,P,Q}|(H,outpoint) -> marker
//	C|txid -> create-undo                 Z|txid -> create-undo (3S)
//	D|txid -> resolve-undo                R|txid -> resolve-undo (3S)
const (
	prefixRecord1S       = "H"
	prefixHashlock1S     = "L"
	prefixRecord3S       = "3"
	prefixHashlockUser   = "U"
	prefixHashlockLP1    = "P"
	prefixHashlockLP2    = "Q"
	prefixCreateUndo1S   = "C"
	prefixResolveUndo1S  = "D"
	prefixCreateUndo3S   = "Z"
	prefixResolveUndo3S  = "R"
)

// Engine is C5's HTLC lifecycle store.
type Engine struct {
	db *store.DB
}

// Open opens (or creates) the HTLC database at datadir.
func Open(datadir string) (*Engine, error) {
	db, err := store.Open(datadir)
	if err != nil {
		return nil, err
	}
	return &Engine{db: db}, nil
}

// Close releases the underlying database handle.
func (e *Engine) Close() error { return e.db.Close() }

func recordKey1S(op wire.OutPoint) []byte {
	return append([]byte(prefixRecord1S), encodeOutpoint(op)...)
}

func recordKey3S(op wire.OutPoint) []byte {
	return append([]byte(prefixRecord3S), encodeOutpoint(op)...)
}

func hashlockKey(prefix string, h [32]byte, op wire.OutPoint) []byte {
	k := make([]byte, 0, len(prefix)+32+chainhash.HashSize+4)
	k = append(k, prefix...)
	k = append(k, h[:]...)
	k = append(k, encodeOutpoint(op)...)
	return k
}

func undoKey(prefix string, txid chainhash.Hash) []byte {
	return append([]byte(prefix), txid[:]...)
}

// ErrUnknownHTLC is returned when an operation targets an outpoint with no
// HTLC record.
var ErrUnknownHTLC = errors.New("htlc: no such HTLC outpoint")

// ErrWrongStatus is returned when a lifecycle transition is attempted from
// an incompatible status.
var ErrWrongStatus = errors.New("htlc: wrong status for transition")

// GetRecord1S returns the 1-secret HTLC record at outpoint, if any.
func (e *Engine) GetRecord1S(op wire.OutPoint) (*Record, error) {
	v, ok, err := e.db.Get(recordKey1S(op))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return DecodeRecord(v)
}

// GetRecord3S returns the 3-secret HTLC record at outpoint, if any.
func (e *Engine) GetRecord3S(op wire.OutPoint) (*Record3S, error) {
	v, ok, err := e.db.Get(recordKey3S(op))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return DecodeRecord3S(v)
}

// Create1S processes a CREATE transition for a 1-secret HTLC: the M1
// receipt `originalReceipt` of value `amount` is consumed and a new
// Active record is stored at `htlcOutpoint` (spec.md §4.5.5).
func (e *Engine) Create1S(createTxid chainhash.Hash, createHeight int32, htlcOutpoint, originalReceipt wire.OutPoint, amount int64, params *txscript.HTLC1SecretParams) error {
	rec := &Record{
		Outpoint:     htlcOutpoint,
		Amount:       amount,
		Hashlock:     params.Hashlock,
		DestA:        params.DestA,
		DestB:        params.DestB,
		Timelock:     params.Timelock,
		Covenant:     params.Covenant,
		Status:       StatusActive,
		CreateHeight: createHeight,
		CreateTxid:   createTxid,
	}

	b := e.db.NewBatch()
	b.Put(recordKey1S(htlcOutpoint), rec.Encode())
	b.Put(hashlockKey(prefixHashlock1S, params.Hashlock, htlcOutpoint), []byte{1})

	undo := encodeOutpoint(originalReceipt)
	var amt [8]byte
	putLE64(amt[:], uint64(amount))
	undo = append(undo, amt[:]...)
	var ch [4]byte
	putLE32(ch[:], uint32(createHeight))
	undo = append(undo, ch[:]...)
	b.Put(undoKey(prefixCreateUndo1S, createTxid), undo)

	if err := b.Commit(); err != nil {
		return err
	}
	log.HTLCLog.Debugf("created 1-secret HTLC %s:%d amount=%d", htlcOutpoint.Hash, htlcOutpoint.Index, amount)
	return nil
}

// Create3S processes a CREATE transition for a 3-secret HTLC.
func (e *Engine) Create3S(createTxid chainhash.Hash, createHeight int32, htlcOutpoint, originalReceipt wire.OutPoint, amount int64, params *txscript.HTLC3SecretParams) error {
	rec := &Record3S{
		Outpoint:     htlcOutpoint,
		Amount:       amount,
		HashUser:     params.HashUser,
		HashLP1:      params.HashLP1,
		HashLP2:      params.HashLP2,
		ClaimDest:    params.ClaimDest,
		RefundDest:   params.RefundDest,
		Timelock:     params.Timelock,
		Covenant:     params.Covenant,
		Status:       StatusActive,
		CreateHeight: createHeight,
		CreateTxid:   createTxid,
	}

	b := e.db.NewBatch()
	b.Put(recordKey3S(htlcOutpoint), rec.Encode())
	b.Put(hashlockKey(prefixHashlockUser, params.HashUser, htlcOutpoint), []byte{1})
	b.Put(hashlockKey(prefixHashlockLP1, params.HashLP1, htlcOutpoint), []byte{1})
	b.Put(hashlockKey(prefixHashlockLP2, params.HashLP2, htlcOutpoint), []byte{1})

	undo := encodeOutpoint(originalReceipt)
	var amt [8]byte
	putLE64(amt[:], uint64(amount))
	undo = append(undo, amt[:]...)
	var ch [4]byte
	putLE32(ch[:], uint32(createHeight))
	undo = append(undo, ch[:]...)
	b.Put(undoKey(prefixCreateUndo3S, createTxid), undo)

	if err := b.Commit(); err != nil {
		return err
	}
	log.HTLCLog.Debugf("created 3-secret HTLC %s:%d amount=%d", htlcOutpoint.Hash, htlcOutpoint.Index, amount)
	return nil
}

// Resolve1S processes a CLAIM or REFUND transition for a 1-secret HTLC.
// If the record carries a covenant commitment, callers must have already
// verified txscript.VerifyTemplateCommitment against the resolving
// transaction before calling Resolve1S (spec.md §4.5.5 "Covenant
// binding").
func (e *Engine) Resolve1S(resolveTxid chainhash.Hash, htlcOutpoint wire.OutPoint, toStatus Status) error {
	if toStatus != StatusClaimed && toStatus != StatusRefunded {
		return fmt.Errorf("%w: target status must be claimed or refunded", ErrWrongStatus)
	}

	rec, err := e.GetRecord1S(htlcOutpoint)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrUnknownHTLC
	}
	if rec.Status != StatusActive {
		return fmt.Errorf("%w: record is %s, not active", ErrWrongStatus, rec.Status)
	}

	preResolution := rec.Encode()

	updated := *rec
	updated.Status = toStatus

	b := e.db.NewBatch()
	b.Put(recordKey1S(htlcOutpoint), updated.Encode())
	b.Delete(hashlockKey(prefixHashlock1S, rec.Hashlock, htlcOutpoint))
	b.Put(undoKey(prefixResolveUndo1S, resolveTxid), preResolution)

	if err := b.Commit(); err != nil {
		return err
	}
	log.HTLCLog.Debugf("resolved 1-secret HTLC %s:%d -> %s", htlcOutpoint.Hash, htlcOutpoint.Index, toStatus)
	return nil
}

// Resolve3S processes a CLAIM or REFUND transition for a 3-secret HTLC.
func (e *Engine) Resolve3S(resolveTxid chainhash.Hash, htlcOutpoint wire.OutPoint, toStatus Status) error {
	if toStatus != StatusClaimed && toStatus != StatusRefunded {
		return fmt.Errorf("%w: target status must be claimed or refunded", ErrWrongStatus)
	}

	rec, err := e.GetRecord3S(htlcOutpoint)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrUnknownHTLC
	}
	if rec.Status != StatusActive {
		return fmt.Errorf("%w: record is %s, not active", ErrWrongStatus, rec.Status)
	}

	preResolution := rec.Encode()

	updated := *rec
	updated.Status = toStatus

	b := e.db.NewBatch()
	b.Put(recordKey3S(htlcOutpoint), updated.Encode())
	b.Delete(hashlockKey(prefixHashlockUser, rec.HashUser, htlcOutpoint))
	b.Delete(hashlockKey(prefixHashlockLP1, rec.HashLP1, htlcOutpoint))
	b.Delete(hashlockKey(prefixHashlockLP2, rec.HashLP2, htlcOutpoint))
	b.Put(undoKey(prefixResolveUndo3S, resolveTxid), preResolution)

	if err := b.Commit(); err != nil {
		return err
	}
	log.HTLCLog.Debugf("resolved 3-secret HTLC %s:%d -> %s", htlcOutpoint.Hash, htlcOutpoint.Index, toStatus)
	return nil
}

// UndoCreate1S reverses a CREATE transition on BATHRON reorg: deletes the
// record, erases its hashlock index entry, and returns the original
// receipt outpoint/amount the caller must re-credit (spec.md §4.5.5
// "Reorg").
func (e *Engine) UndoCreate1S(createTxid chainhash.Hash, htlcOutpoint wire.OutPoint) (wire.OutPoint, int64, error) {
	rec, err := e.GetRecord1S(htlcOutpoint)
	if err != nil {
		return wire.OutPoint{}, 0, err
	}
	if rec == nil {
		return wire.OutPoint{}, 0, ErrUnknownHTLC
	}

	undoRaw, ok, err := e.db.Get(undoKey(prefixCreateUndo1S, createTxid))
	if err != nil {
		return wire.OutPoint{}, 0, err
	}
	if !ok {
		return wire.OutPoint{}, 0, errors.New("htlc: no create-undo record for txid")
	}
	originalReceipt, err := decodeOutpoint(undoRaw[:chainhash.HashSize+4])
	if err != nil {
		return wire.OutPoint{}, 0, err
	}
	amount := int64(getLE64(undoRaw[chainhash.HashSize+4 : chainhash.HashSize+12]))

	b := e.db.NewBatch()
	b.Delete(recordKey1S(htlcOutpoint))
	b.Delete(hashlockKey(prefixHashlock1S, rec.Hashlock, htlcOutpoint))
	b.Delete(undoKey(prefixCreateUndo1S, createTxid))
	if err := b.Commit(); err != nil {
		return wire.OutPoint{}, 0, err
	}
	return originalReceipt, amount, nil
}

// UndoResolve1S reverses a CLAIM or REFUND transition on BATHRON reorg:
// restores the record to Active with its hashlock index re-inserted and
// erases the resolve-undo entry (spec.md §4.5.5 "Reorg").
func (e *Engine) UndoResolve1S(resolveTxid chainhash.Hash, htlcOutpoint wire.OutPoint) error {
	undoRaw, ok, err := e.db.Get(undoKey(prefixResolveUndo1S, resolveTxid))
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("htlc: no resolve-undo record for txid")
	}
	rec, err := DecodeRecord(undoRaw)
	if err != nil {
		return err
	}

	b := e.db.NewBatch()
	b.Put(recordKey1S(htlcOutpoint), rec.Encode())
	b.Put(hashlockKey(prefixHashlock1S, rec.Hashlock, htlcOutpoint), []byte{1})
	b.Delete(undoKey(prefixResolveUndo1S, resolveTxid))
	return b.Commit()
}

// UndoCreate3S reverses a CREATE transition for a 3-secret HTLC on
// BATHRON reorg, mirroring UndoCreate1S.
func (e *Engine) UndoCreate3S(createTxid chainhash.Hash, htlcOutpoint wire.OutPoint) (wire.OutPoint, int64, error) {
	rec, err := e.GetRecord3S(htlcOutpoint)
	if err != nil {
		return wire.OutPoint{}, 0, err
	}
	if rec == nil {
		return wire.OutPoint{}, 0, ErrUnknownHTLC
	}

	undoRaw, ok, err := e.db.Get(undoKey(prefixCreateUndo3S, createTxid))
	if err != nil {
		return wire.OutPoint{}, 0, err
	}
	if !ok {
		return wire.OutPoint{}, 0, errors.New("htlc: no create-undo record for txid")
	}
	originalReceipt, err := decodeOutpoint(undoRaw[:chainhash.HashSize+4])
	if err != nil {
		return wire.OutPoint{}, 0, err
	}
	amount := int64(getLE64(undoRaw[chainhash.HashSize+4 : chainhash.HashSize+12]))

	b := e.db.NewBatch()
	b.Delete(recordKey3S(htlcOutpoint))
	b.Delete(hashlockKey(prefixHashlockUser, rec.HashUser, htlcOutpoint))
	b.Delete(hashlockKey(prefixHashlockLP1, rec.HashLP1, htlcOutpoint))
	b.Delete(hashlockKey(prefixHashlockLP2, rec.HashLP2, htlcOutpoint))
	b.Delete(undoKey(prefixCreateUndo3S, createTxid))
	if err := b.Commit(); err != nil {
		return wire.OutPoint{}, 0, err
	}
	return originalReceipt, amount, nil
}

// UndoResolve3S reverses a CLAIM or REFUND transition for a 3-secret
// HTLC on BATHRON reorg, mirroring UndoResolve1S.
func (e *Engine) UndoResolve3S(resolveTxid chainhash.Hash, htlcOutpoint wire.OutPoint) error {
	undoRaw, ok, err := e.db.Get(undoKey(prefixResolveUndo3S, resolveTxid))
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("htlc: no resolve-undo record for txid")
	}
	rec, err := DecodeRecord3S(undoRaw)
	if err != nil {
		return err
	}

	b := e.db.NewBatch()
	b.Put(recordKey3S(htlcOutpoint), rec.Encode())
	b.Put(hashlockKey(prefixHashlockUser, rec.HashUser, htlcOutpoint), []byte{1})
	b.Put(hashlockKey(prefixHashlockLP1, rec.HashLP1, htlcOutpoint), []byte{1})
	b.Put(hashlockKey(prefixHashlockLP2, rec.HashLP2, htlcOutpoint), []byte{1})
	b.Delete(undoKey(prefixResolveUndo3S, resolveTxid))
	return b.Commit()
}

// FindByHashlock1S returns every outpoint whose 1-secret HTLC hashlock
// index matches h (spec.md §4.5.6), used by off-chain swap agents that
// spot a revealed secret on another chain.
func (e *Engine) FindByHashlock1S(h [32]byte) ([]wire.OutPoint, error) {
	var out []wire.OutPoint
	prefix := append([]byte(prefixHashlock1S), h[:]...)
	err := e.db.Iterate(prefix, func(key, _ []byte) bool {
		opBytes := key[len(prefix):]
		if op, derr := decodeOutpoint(opBytes); derr == nil {
			out = append(out, op)
		}
		return true
	})
	return out, err
}

// FindByHashlock3S returns every outpoint indexed under the given hashlock
// in the requested role (user/lp1/lp2).
func (e *Engine) FindByHashlock3S(role string, h [32]byte) ([]wire.OutPoint, error) {
	var prefixStr string
	switch role {
	case "user":
		prefixStr = prefixHashlockUser
	case "lp1":
		prefixStr = prefixHashlockLP1
	case "lp2":
		prefixStr = prefixHashlockLP2
	default:
		return nil, fmt.Errorf("htlc: unknown hashlock role %q", role)
	}

	var out []wire.OutPoint
	prefix := append([]byte(prefixStr), h[:]...)
	err := e.db.Iterate(prefix, func(key, _ []byte) bool {
		opBytes := key[len(prefix):]
		if op, derr := decodeOutpoint(opBytes); derr == nil {
			out = append(out, op)
		}
		return true
	})
	return out, err
}
