// Copyright (c) 2026 The BATHRON developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package publisher implements the auxiliary header-publication task of
// spec.md §5: a periodic job (default 60s, clamped 10s-600s) that notices
// when the local SPV store (C1) is ahead of the on-chain header ledger
// (C2), assembles up to 100 headers, signs them with the local operator
// key, and attempts mempool admission. It is cooperative: a tick checks an
// Enabled flag on entry and never retries aggressively on rejection,
// exactly as spec.md's "Auxiliary tasks" section specifies.
//
// This package models only the interface the consensus core needs from the
// publisher/burn-daemon collaborator that spec.md §1 places out of scope
// (no P2P broadcast, no mempool policy) — it is grounded on
// liquidity/attestor.go's periodic-client shape, generalized from HTTP
// polling of market-data attestors to a local-SPV-vs-ledger-tip check plus
// sign-and-submit.
package publisher

import (
	"errors"
	"sync"
	"time"

	"github.com/bathron-chain/bathron/btcheaders"
	"github.com/bathron-chain/bathron/btcspv"
	"github.com/bathron-chain/bathron/chaincfg"
	"github.com/bathron-chain/bathron/chaincfg/chainhash"
	"github.com/bathron-chain/bathron/log"
	"github.com/bathron-chain/bathron/wire"
)

// DefaultInterval, MinInterval and MaxInterval bound the publisher's tick
// period (spec.md §5: "default 60s, clamped 10s-600s").
const (
	DefaultInterval = 60 * time.Second
	MinInterval     = 10 * time.Second
	MaxInterval     = 600 * time.Second

	// MaxHeadersPerTick is the "up to 100 headers" a tick assembles per
	// spec.md §5, independent of the on-chain BTCHEADERS_MAX_COUNT limit.
	MaxHeadersPerTick = 100
)

// Signer produces the ECDSA signature a TX_BTC_HEADERS payload carries,
// over its domain-separated signing hash (spec.md §4.2/§6.3). It is the
// seam between the consensus core and the out-of-scope operator-key
// storage (spec.md §1 Non-goals: "wallet key storage").
type Signer interface {
	Sign(hash chainhash.Hash) ([]byte, error)
}

// Submitter attempts mempool admission of an assembled TX_BTC_HEADERS
// payload. It is the seam between the consensus core and the out-of-scope
// P2P/mempool surface (spec.md §1 Non-goals).
type Submitter interface {
	SubmitHeadersTx(p *btcheaders.Payload) error
}

// clampInterval enforces spec.md §5's publisher interval bounds.
func clampInterval(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	if d > MaxInterval {
		return MaxInterval
	}
	return d
}

// Task is the periodic header-publication job. It holds no consensus
// write rights itself: Submitter is responsible for routing the assembled
// transaction through ordinary mempool/consensus acceptance.
type Task struct {
	mu sync.Mutex

	params    *chaincfg.BATHRONParams
	spv       *btcspv.Store
	ledger    *btcheaders.Ledger
	proTxHash chainhash.Hash
	signer    Signer
	submit    Submitter

	interval time.Duration
	enabled  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a publisher task. interval is clamped to
// [MinInterval, MaxInterval]; pass 0 to use DefaultInterval.
func New(params *chaincfg.BATHRONParams, spv *btcspv.Store, ledger *btcheaders.Ledger, proTxHash chainhash.Hash, signer Signer, submit Submitter, interval time.Duration) *Task {
	if interval == 0 {
		interval = DefaultInterval
	}
	return &Task{
		params:    params,
		spv:       spv,
		ledger:    ledger,
		proTxHash: proTxHash,
		signer:    signer,
		submit:    submit,
		interval:  clampInterval(interval),
		enabled:   true,
	}
}

// Start launches the periodic tick loop in a background goroutine. It is
// a no-op if already started.
func (t *Task) Start() {
	t.mu.Lock()
	if t.stopCh != nil {
		t.mu.Unlock()
		return
	}
	t.stopCh = make(chan struct{})
	t.enabled = true
	stopCh := t.stopCh
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run(stopCh)
}

// Stop halts the tick loop and blocks until the current tick (if any)
// finishes. Cancellation is cooperative: a tick checks Enabled only on
// entry, and a tick already past that check runs to completion (spec.md §5
// "Cancellation and timeouts").
func (t *Task) Stop() {
	t.mu.Lock()
	if t.stopCh == nil {
		t.mu.Unlock()
		return
	}
	close(t.stopCh)
	t.stopCh = nil
	t.enabled = false
	t.mu.Unlock()
	t.wg.Wait()
}

// SetEnabled toggles the cooperative enabled flag without stopping the
// underlying timer; a disabled tick returns immediately without touching
// the SPV store, ledger, or signer.
func (t *Task) SetEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}

func (t *Task) isEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Task) run(stopCh chan struct{}) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if !t.isEnabled() {
				continue
			}
			if err := t.Tick(); err != nil {
				log.PublisherLog.Warnf("header publication tick failed: %v", err)
			}
		}
	}
}

// ErrNothingToPublish is returned by Tick when the SPV tip is not ahead of
// the ledger tip, i.e. there is nothing new to publish.
var ErrNothingToPublish = errors.New("publisher: spv tip not ahead of ledger tip")

// Tick runs one publication cycle: (a) checks whether the SPV tip is ahead
// of the ledger tip by at least one header, (b) assembles up to
// MaxHeadersPerTick headers, (c) signs the payload, (d) attempts mempool
// admission via Submitter, (e) logs and backs off on rejection rather than
// retrying aggressively (spec.md §5).
func (t *Task) Tick() error {
	if !t.isEnabled() {
		return nil
	}

	spvTip := t.spv.GetTipHeight()
	ledgerTip := t.ledger.TipHeight()
	if spvTip <= ledgerTip {
		return ErrNothingToPublish
	}

	startHeight := uint32(ledgerTip + 1)
	// The task only observes the BTC ledger, not the BATHRON block height
	// directly; an empty ledger publishing at height 0 is the bootstrap case.
	isGenesis := ledgerTip < 0 && startHeight == 0
	maxCount := t.params.BtcHeadersMaxCount
	if isGenesis {
		maxCount = t.params.BtcHeadersGenesisMaxCount
	}
	count := spvTip - ledgerTip
	if count > MaxHeadersPerTick {
		count = MaxHeadersPerTick
	}
	if uint16(count) > maxCount {
		count = int32(maxCount)
	}

	headers := make([]wire.BtcHeader, 0, count)
	for h := startHeight; h < startHeight+uint32(count); h++ {
		idx, err := t.spv.GetHeaderByHeight(int32(h))
		if err != nil {
			return err
		}
		headers = append(headers, idx.Header)
	}

	payload := &btcheaders.Payload{
		Version:            btcheaders.PayloadVersion,
		PublisherProTxHash: t.proTxHash,
		StartHeight:        startHeight,
		Headers:            headers,
	}

	if !isGenesis {
		sig, err := t.signer.Sign(payload.SigningHash())
		if err != nil {
			return err
		}
		payload.Sig = sig
	}

	if err := t.submit.SubmitHeadersTx(payload); err != nil {
		// Honest-mistake rejections (another masternode published first,
		// cooldown not yet elapsed) are logged and backed off, never
		// retried within this tick.
		log.PublisherLog.Infof("header batch start=%d count=%d rejected: %v", startHeight, len(payload.Headers), err)
		return err
	}

	log.PublisherLog.Infof("published %d BTC headers starting at %d", len(payload.Headers), startHeight)
	return nil
}
