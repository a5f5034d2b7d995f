package chain

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/rumble/internal/app/domain/round"
	"github.com/R3E-Network/rumble/internal/app/storage"
	"github.com/R3E-Network/rumble/internal/app/system"
	"github.com/R3E-Network/rumble/pkg/logger"
)

// AnchorRecord is the on-chain record of an anchored settlement.
type AnchorRecord struct {
	SettlementID string
	Digest       []byte
	AnchoredAt   uint64
}

// AnchorConfig configures the settlement anchorer.
type AnchorConfig struct {
	RPCURL          string
	NetworkID       uint32
	ContractHash    string
	OperatorAddress string
	Interval        time.Duration
}

// SettlementDigest computes the canonical digest of a settlement that is
// committed on chain. Fields are joined in a fixed order so the digest is
// reproducible from the stored record.
func SettlementDigest(st round.Settlement) []byte {
	fields := []string{
		st.ID,
		st.RoundID,
		strings.Join(st.Winners, ","),
		strconv.FormatUint(st.WinnerShare, 10),
		strconv.FormatUint(st.BurnShare, 10),
		strconv.FormatUint(st.PerWinner, 10),
		strconv.FormatUint(st.Residual, 10),
		strconv.FormatInt(st.SettledAt.UTC().Unix(), 10),
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return sum[:]
}

// Anchorer submits settlement digests to the anchor contract.
type Anchorer struct {
	client       *Client
	contractHash string
	operator     util.Uint160
}

// NewAnchorer validates the configuration and builds an anchorer. The
// operator address must be a valid Neo N3 address; it is converted to a
// script hash and passed to the contract with every anchor.
func NewAnchorer(client *Client, contractHash, operatorAddress string) (*Anchorer, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client required")
	}
	if _, err := util.Uint160DecodeStringLE(strings.TrimPrefix(contractHash, "0x")); err != nil {
		return nil, fmt.Errorf("invalid anchor contract hash %q: %w", contractHash, err)
	}
	operator, err := address.StringToUint160(operatorAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid operator address %q: %w", operatorAddress, err)
	}
	return &Anchorer{
		client:       client,
		contractHash: contractHash,
		operator:     operator,
	}, nil
}

// AnchorSettlement submits one settlement digest and returns the transaction
// hash. It does not wait for block inclusion; callers re-check later runs if
// the transaction is lost.
func (a *Anchorer) AnchorSettlement(ctx context.Context, st round.Settlement) (string, error) {
	params := []ContractParam{
		NewStringParam(st.ID),
		NewByteArrayParam(SettlementDigest(st)),
		NewHash160Param(a.operator.StringLE()),
	}

	result, err := a.client.InvokeFunctionAndWait(ctx, a.contractHash, "anchorSettlement", params, false)
	if err != nil {
		return "", err
	}
	if result.TxHash == "" {
		return "", fmt.Errorf("anchorSettlement returned no transaction hash")
	}
	return result.TxHash, nil
}

// GetAnchor reads back the anchor record for a settlement id.
func (a *Anchorer) GetAnchor(ctx context.Context, settlementID string) (*AnchorRecord, error) {
	result, err := a.client.InvokeFunction(ctx, a.contractHash, "getAnchor", []ContractParam{
		NewStringParam(settlementID),
	})
	if err != nil {
		return nil, err
	}
	if result.State != "HALT" {
		return nil, fmt.Errorf("getAnchor failed: %s", result.Exception)
	}
	if len(result.Stack) == 0 {
		return nil, fmt.Errorf("getAnchor returned empty stack")
	}
	return ParseAnchorRecord(result.Stack[0])
}

// AnchorPoller watches settled rounds and anchors any settlement that has no
// transaction id recorded yet.
type AnchorPoller struct {
	store    storage.RoundStore
	anchorer *Anchorer
	interval time.Duration
	log      *logger.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	nextAttempt map[string]time.Time
}

var _ system.Service = (*AnchorPoller)(nil)

func NewAnchorPoller(store storage.RoundStore, anchorer *Anchorer, interval time.Duration, log *logger.Logger) *AnchorPoller {
	if log == nil {
		log = logger.NewDefault("chain-anchor")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &AnchorPoller{
		store:       store,
		anchorer:    anchorer,
		interval:    interval,
		log:         log,
		nextAttempt: make(map[string]time.Time),
	}
}

func (p *AnchorPoller) Name() string { return "chain-anchor" }

func (p *AnchorPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.tick(runCtx)
			}
		}
	}()

	p.log.Info("settlement anchor poller started")
	return nil
}

func (p *AnchorPoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (p *AnchorPoller) tick(ctx context.Context) {
	settlements, err := p.store.ListUnanchoredSettlements(ctx)
	if err != nil {
		p.log.WithError(err).Warn("list unanchored settlements failed")
		return
	}

	now := time.Now()
	for _, st := range settlements {
		if !p.shouldAttempt(st.ID, now) {
			continue
		}

		txID, err := p.anchorer.AnchorSettlement(ctx, st)
		if err != nil {
			p.log.WithError(err).Warnf("anchor settlement %s failed", st.ID)
			p.scheduleNext(st.ID, 0)
			continue
		}

		if _, err := p.store.MarkSettlementAnchored(ctx, st.ID, txID); err != nil {
			p.log.WithError(err).Warnf("record anchor for settlement %s failed", st.ID)
			p.scheduleNext(st.ID, 0)
			continue
		}

		p.log.WithField("settlement_id", st.ID).
			WithField("tx_id", txID).
			Info("settlement anchored")
		p.clearSchedule(st.ID)
	}
}

func (p *AnchorPoller) shouldAttempt(id string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, ok := p.nextAttempt[id]
	if !ok || now.After(next) {
		return true
	}
	return false
}

func (p *AnchorPoller) scheduleNext(id string, after time.Duration) {
	if after <= 0 {
		after = p.interval
	}
	p.mu.Lock()
	p.nextAttempt[id] = time.Now().Add(after)
	p.mu.Unlock()
}

func (p *AnchorPoller) clearSchedule(id string) {
	p.mu.Lock()
	delete(p.nextAttempt, id)
	p.mu.Unlock()
}
