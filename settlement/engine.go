// Copyright (c) 2026 The BATHRON developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package settlement implements C4, the M0/M1 settlement state machine
// (spec.md §3.4, §4.4): per-address M0 balances, the M1 receipt UTXO set,
// and the global supply counters (M0_total, M0_vaulted, M1_supply) whose
// I5/I6 invariants every block must preserve. Grounded on
// settlement/claimable/claimable.go's bearer-asset claim state machine and
// settlement/channels/channel.go's balance accounting, generalized from
// Shell's payment channels/claimable balances to BATHRON's lock/unlock/
// transfer model.
package settlement

import (
	"errors"
	"fmt"

	"github.com/bathron-chain/bathron/chaincfg/chainhash"
	"github.com/bathron-chain/bathron/log"
	"github.com/bathron-chain/bathron/store"
	"github.com/bathron-chain/bathron/wire"
)

const (
	prefixBalance      = "B"
	prefixReceipt      = "R"
	prefixSupply       = "S"
	prefixLockUndo     = "L"
	prefixUnlockUndo   = "U"
	prefixTransferUndo = "T"
)

// ErrInsufficientBalance is returned when a LOCK or credit-debit operation
// would drive an M0 balance negative.
var ErrInsufficientBalance = errors.New("settlement: insufficient M0 balance")

// ErrUnknownReceipt is returned when a transaction references an M1
// receipt outpoint that does not exist.
var ErrUnknownReceipt = errors.New("settlement: no such M1 receipt")

// ErrAmountMismatch is returned when an UNLOCK's claimed amount does not
// match the consumed receipt's recorded value (spec.md §4.4.2).
var ErrAmountMismatch = errors.New("settlement: amount does not match consumed receipt")

// ErrValueNotConserved is returned when a TRANSFER_M1's consumed and
// produced receipt totals plus fee do not balance.
var ErrValueNotConserved = errors.New("settlement: transfer inputs do not equal outputs plus fee")

// Engine is C4's settlement database: M0 balances, M1 receipt UTXOs, and
// the three supply counters, all persisted in one goleveldb namespace
// (spec.md §6.4 `settlement/`).
type Engine struct {
	db *store.DB
}

// Open opens (or creates) the settlement database at datadir.
func Open(datadir string) (*Engine, error) {
	db, err := store.Open(datadir)
	if err != nil {
		return nil, err
	}
	return &Engine{db: db}, nil
}

// Close releases the underlying database handle.
func (e *Engine) Close() error { return e.db.Close() }

func balanceKey(dest [20]byte) []byte {
	return append([]byte(prefixBalance), dest[:]...)
}

func receiptKey(op wire.OutPoint) []byte {
	return append([]byte(prefixReceipt), encodeOutpoint(op)...)
}

func lockUndoKey(txid chainhash.Hash) []byte {
	return append([]byte(prefixLockUndo), txid[:]...)
}

func unlockUndoKey(txid chainhash.Hash) []byte {
	return append([]byte(prefixUnlockUndo), txid[:]...)
}

func transferUndoKey(txid chainhash.Hash) []byte {
	return append([]byte(prefixTransferUndo), txid[:]...)
}

// GetBalance returns the M0 balance credited to dest.
func (e *Engine) GetBalance(dest [20]byte) (uint64, error) {
	v, ok, err := e.db.Get(balanceKey(dest))
	if err != nil || !ok {
		return 0, err
	}
	return beUint64(v), nil
}

// GetReceipt returns the M1 receipt at op, if any.
func (e *Engine) GetReceipt(op wire.OutPoint) (*M1Receipt, error) {
	v, ok, err := e.db.Get(receiptKey(op))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return DecodeM1Receipt(v)
}

// Supply returns the three global counters (spec.md §3.4).
func (e *Engine) Supply() (m0Total, m0Vaulted, m1Supply uint64, err error) {
	c, err := e.loadSupply()
	if err != nil {
		return 0, 0, 0, err
	}
	return c.M0Total, c.M0Vaulted, c.M1Supply, nil
}

func (e *Engine) loadSupply() (*supplyCounters, error) {
	v, ok, err := e.db.Get([]byte(prefixSupply))
	if err != nil {
		return nil, err
	}
	if !ok {
		return &supplyCounters{}, nil
	}
	return decodeSupplyCounters(v)
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, by := range b {
		v = v<<8 | uint64(by)
	}
	return v
}

func putBeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// CreditM0 increases dest's M0 balance and M0_total by amount. Used by
// burnclaim on a matured TX_MINT_M0BTC (spec.md §4.3 "Delayed mint",
// invariant I5).
func (e *Engine) CreditM0(dest [20]byte, amount uint64) error {
	bal, err := e.GetBalance(dest)
	if err != nil {
		return err
	}
	counters, err := e.loadSupply()
	if err != nil {
		return err
	}

	b := e.db.NewBatch()
	b.Put(balanceKey(dest), putBeUint64(bal+amount))
	counters.M0Total += amount
	b.Put([]byte(prefixSupply), counters.Encode())
	if err := b.Commit(); err != nil {
		return err
	}
	log.SettleLog.Debugf("credited M0 %d to %x (mint), M0_total=%d", amount, dest, counters.M0Total)
	return nil
}

// DebitM0 reverses CreditM0 on a reorg that disconnects a TX_MINT_M0BTC
// (spec.md §4.3 "Reorg of BATHRON").
func (e *Engine) DebitM0(dest [20]byte, amount uint64) error {
	bal, err := e.GetBalance(dest)
	if err != nil {
		return err
	}
	if bal < amount {
		return fmt.Errorf("%w: disconnect mint of %d to %x, balance only %d", ErrInsufficientBalance, amount, dest, bal)
	}
	counters, err := e.loadSupply()
	if err != nil {
		return err
	}
	if counters.M0Total < amount {
		return fmt.Errorf("settlement: M0_total underflow on mint disconnect")
	}

	b := e.db.NewBatch()
	b.Put(balanceKey(dest), putBeUint64(bal-amount))
	counters.M0Total -= amount
	b.Put([]byte(prefixSupply), counters.Encode())
	if err := b.Commit(); err != nil {
		return err
	}
	log.SettleLog.Debugf("debited M0 %d from %x (mint disconnect), M0_total=%d", amount, dest, counters.M0Total)
	return nil
}

// ApplyLock processes a TX_LOCK (spec.md §4.4 table): consumes `amount`
// of sourceDest's M0 balance and creates an M1 receipt of the same value
// at receiptOutpoint. The vault output itself is not individually
// tracked — spec.md §3.4/§4.4.2's communal bearer-vault model means only
// the aggregate M0_vaulted counter moves.
func (e *Engine) ApplyLock(txid chainhash.Hash, createHeight int32, sourceDest [20]byte, amount int64, receiptOutpoint wire.OutPoint) error {
	if amount <= 0 {
		return fmt.Errorf("settlement: lock amount must be positive")
	}
	bal, err := e.GetBalance(sourceDest)
	if err != nil {
		return err
	}
	if bal < uint64(amount) {
		return fmt.Errorf("%w: lock %d from %x, balance only %d", ErrInsufficientBalance, amount, sourceDest, bal)
	}
	counters, err := e.loadSupply()
	if err != nil {
		return err
	}

	b := e.db.NewBatch()
	b.Put(balanceKey(sourceDest), putBeUint64(bal-uint64(amount)))
	b.Put(receiptKey(receiptOutpoint), (&M1Receipt{Amount: amount, CreateHeight: createHeight}).Encode())
	counters.M0Vaulted += uint64(amount)
	counters.M1Supply += uint64(amount)
	b.Put([]byte(prefixSupply), counters.Encode())

	undo := &lockUndo{Dest: sourceDest, Amount: amount}
	b.Put(lockUndoKey(txid), undo.Encode())

	if err := b.Commit(); err != nil {
		return err
	}
	log.SettleLog.Debugf("applied LOCK %d from %x -> receipt %s:%d", amount, sourceDest, receiptOutpoint.Hash, receiptOutpoint.Index)
	return nil
}

// DisconnectLock reverses ApplyLock on a BATHRON reorg.
func (e *Engine) DisconnectLock(txid chainhash.Hash, receiptOutpoint wire.OutPoint) error {
	v, ok, err := e.db.Get(lockUndoKey(txid))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("settlement: no lock undo record for %s", txid)
	}
	undo, err := decodeLockUndo(v)
	if err != nil {
		return err
	}

	bal, err := e.GetBalance(undo.Dest)
	if err != nil {
		return err
	}
	counters, err := e.loadSupply()
	if err != nil {
		return err
	}
	if counters.M0Vaulted < uint64(undo.Amount) || counters.M1Supply < uint64(undo.Amount) {
		return fmt.Errorf("settlement: supply underflow disconnecting lock %s", txid)
	}

	b := e.db.NewBatch()
	b.Put(balanceKey(undo.Dest), putBeUint64(bal+uint64(undo.Amount)))
	b.Delete(receiptKey(receiptOutpoint))
	counters.M0Vaulted -= uint64(undo.Amount)
	counters.M1Supply -= uint64(undo.Amount)
	b.Put([]byte(prefixSupply), counters.Encode())
	b.Delete(lockUndoKey(txid))

	if err := b.Commit(); err != nil {
		return err
	}
	log.SettleLog.Debugf("disconnected LOCK %s", txid)
	return nil
}

// ApplyUnlock processes a TX_UNLOCK (spec.md §4.4 table, §4.4.2): consumes
// the M1 receipt at consumedReceipt (whose value must equal amount) and
// the communal vault's matching M0, credits (amount-fee) to destDest, and
// shrinks M0_vaulted/M1_supply by the full amount — the fee is neither
// credited nor re-vaulted (spec.md §8 scenario 1).
func (e *Engine) ApplyUnlock(txid chainhash.Hash, consumedReceipt wire.OutPoint, amount, fee int64, destDest [20]byte) error {
	if fee < 0 || fee > amount {
		return fmt.Errorf("settlement: fee %d out of range for unlock amount %d", fee, amount)
	}
	rec, err := e.GetReceipt(consumedReceipt)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrUnknownReceipt
	}
	if rec.Amount != amount {
		return fmt.Errorf("%w: receipt has %d, unlock claims %d", ErrAmountMismatch, rec.Amount, amount)
	}
	counters, err := e.loadSupply()
	if err != nil {
		return err
	}
	if counters.M0Vaulted < uint64(amount) || counters.M1Supply < uint64(amount) {
		return fmt.Errorf("settlement: supply underflow on unlock %s", txid)
	}
	bal, err := e.GetBalance(destDest)
	if err != nil {
		return err
	}

	credited := amount - fee
	b := e.db.NewBatch()
	b.Delete(receiptKey(consumedReceipt))
	b.Put(balanceKey(destDest), putBeUint64(bal+uint64(credited)))
	counters.M0Vaulted -= uint64(amount)
	counters.M1Supply -= uint64(amount)
	b.Put([]byte(prefixSupply), counters.Encode())

	undo := &unlockUndo{Outpoint: consumedReceipt, Receipt: *rec, Dest: destDest, Credited: credited}
	b.Put(unlockUndoKey(txid), undo.Encode())

	if err := b.Commit(); err != nil {
		return err
	}
	log.SettleLog.Debugf("applied UNLOCK %d (fee %d) -> %x", amount, fee, destDest)
	return nil
}

// DisconnectUnlock reverses ApplyUnlock on a BATHRON reorg.
func (e *Engine) DisconnectUnlock(txid chainhash.Hash) error {
	v, ok, err := e.db.Get(unlockUndoKey(txid))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("settlement: no unlock undo record for %s", txid)
	}
	undo, err := decodeUnlockUndo(v)
	if err != nil {
		return err
	}

	bal, err := e.GetBalance(undo.Dest)
	if err != nil {
		return err
	}
	if bal < uint64(undo.Credited) {
		return fmt.Errorf("settlement: balance underflow disconnecting unlock %s", txid)
	}
	counters, err := e.loadSupply()
	if err != nil {
		return err
	}

	b := e.db.NewBatch()
	b.Put(balanceKey(undo.Dest), putBeUint64(bal-uint64(undo.Credited)))
	b.Put(receiptKey(undo.Outpoint), undo.Receipt.Encode())
	counters.M0Vaulted += uint64(undo.Receipt.Amount)
	counters.M1Supply += uint64(undo.Receipt.Amount)
	b.Put([]byte(prefixSupply), counters.Encode())
	b.Delete(unlockUndoKey(txid))

	if err := b.Commit(); err != nil {
		return err
	}
	log.SettleLog.Debugf("disconnected UNLOCK %s", txid)
	return nil
}

// TransferOutput is one new M1 receipt TX_TRANSFER_M1 creates.
type TransferOutput struct {
	Outpoint wire.OutPoint
	Amount   int64
}

// ApplyTransfer processes a TX_TRANSFER_M1 (spec.md §4.4 table): consumes
// one or more receipts and creates one or more new receipts of lesser
// total value by exactly `fee`. The fee is drawn symmetrically from both
// M1_supply and M0_vaulted so invariant I6 holds after every block even
// though TRANSFER_M1 never touches a vault output directly.
func (e *Engine) ApplyTransfer(txid chainhash.Hash, createHeight int32, consumed []wire.OutPoint, outputs []TransferOutput, fee int64) error {
	if fee < 0 {
		return fmt.Errorf("settlement: negative fee")
	}
	if len(consumed) == 0 || len(outputs) == 0 {
		return fmt.Errorf("settlement: transfer needs at least one input and one output receipt")
	}

	var totalIn int64
	entries := make([]transferEntry, 0, len(consumed))
	for _, op := range consumed {
		rec, err := e.GetReceipt(op)
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrUnknownReceipt
		}
		totalIn += rec.Amount
		entries = append(entries, transferEntry{Outpoint: op, Receipt: *rec})
	}

	var totalOut int64
	for _, out := range outputs {
		if out.Amount <= 0 {
			return fmt.Errorf("settlement: transfer output amount must be positive")
		}
		totalOut += out.Amount
	}

	if totalIn != totalOut+fee {
		return fmt.Errorf("%w: in=%d out=%d fee=%d", ErrValueNotConserved, totalIn, totalOut, fee)
	}

	counters, err := e.loadSupply()
	if err != nil {
		return err
	}
	if counters.M1Supply < uint64(fee) || counters.M0Vaulted < uint64(fee) {
		return fmt.Errorf("settlement: supply underflow on transfer %s", txid)
	}

	b := e.db.NewBatch()
	for _, op := range consumed {
		b.Delete(receiptKey(op))
	}
	createdOutpoints := make([]wire.OutPoint, 0, len(outputs))
	for _, out := range outputs {
		b.Put(receiptKey(out.Outpoint), (&M1Receipt{Amount: out.Amount, CreateHeight: createHeight}).Encode())
		createdOutpoints = append(createdOutpoints, out.Outpoint)
	}
	counters.M1Supply -= uint64(fee)
	counters.M0Vaulted -= uint64(fee)
	b.Put([]byte(prefixSupply), counters.Encode())

	undo := &transferUndo{Consumed: entries, Created: createdOutpoints, Fee: fee}
	b.Put(transferUndoKey(txid), undo.Encode())

	if err := b.Commit(); err != nil {
		return err
	}
	log.SettleLog.Debugf("applied TRANSFER_M1 in=%d out=%d fee=%d", totalIn, totalOut, fee)
	return nil
}

// DisconnectTransfer reverses ApplyTransfer on a BATHRON reorg.
func (e *Engine) DisconnectTransfer(txid chainhash.Hash) error {
	v, ok, err := e.db.Get(transferUndoKey(txid))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("settlement: no transfer undo record for %s", txid)
	}
	undo, err := decodeTransferUndo(v)
	if err != nil {
		return err
	}

	counters, err := e.loadSupply()
	if err != nil {
		return err
	}

	b := e.db.NewBatch()
	for _, op := range undo.Created {
		b.Delete(receiptKey(op))
	}
	for _, entry := range undo.Consumed {
		b.Put(receiptKey(entry.Outpoint), entry.Receipt.Encode())
	}
	counters.M1Supply += uint64(undo.Fee)
	counters.M0Vaulted += uint64(undo.Fee)
	b.Put([]byte(prefixSupply), counters.Encode())
	b.Delete(transferUndoKey(txid))

	if err := b.Commit(); err != nil {
		return err
	}
	log.SettleLog.Debugf("disconnected TRANSFER_M1 %s", txid)
	return nil
}
