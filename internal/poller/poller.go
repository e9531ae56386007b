package poller

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/go-errors/errors"
	"github.com/goatnetwork/peg-relayer/internal/bridge"
	"github.com/goatnetwork/peg-relayer/internal/btc"
	"github.com/goatnetwork/peg-relayer/internal/dispatcher"
	"github.com/goatnetwork/peg-relayer/internal/federation"
	"github.com/goatnetwork/peg-relayer/internal/pegin"
	"github.com/goatnetwork/peg-relayer/internal/relay"
	"github.com/goatnetwork/peg-relayer/internal/release"
	"github.com/goatnetwork/peg-relayer/internal/state"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Interval   time.Duration
	StartDelay time.Duration

	HeadersPerBatch        int
	ReceiveHeadersInterval time.Duration

	// Confirmations is the depth a source block needs before its deposits
	// are scanned.
	Confirmations      int64
	CoinMultiple       int64
	MinimumLockTxValue int64

	UpdateCollectionsInterval  time.Duration
	UpdateCollectionsMaxBlocks uint64
}

// PollState holds the cursors carried from one cycle to the next.
type PollState struct {
	LastHeaderRelay       time.Time
	LastCollectionsUpdate time.Time
	LastTargetBlock       uint64
	// ScannedHeight is the highest confirmed source height whose deposits
	// were scanned and registered. Meaningful once ScanAnchored is set.
	ScannedHeight int64
	ScanAnchored  bool
}

type Poller struct {
	source     SourceChain
	bridge     Bridge
	federation *federation.Federation
	whitelist  *federation.Authorizer
	accounts   federation.Accounts
	dispatcher *dispatcher.Dispatcher
	state      *state.State
	cfg        Config

	poll     PollState
	cycles   uint64
	inFlight atomic.Bool
	scanAddr btcutil.Address

	now func() time.Time
}

func New(source SourceChain, bridge Bridge, fed *federation.Federation, whitelist *federation.Authorizer,
	accounts federation.Accounts, d *dispatcher.Dispatcher, st *state.State, cfg Config) *Poller {
	if cfg.CoinMultiple <= 0 {
		cfg.CoinMultiple = 1
	}
	return &Poller{
		source:     source,
		bridge:     bridge,
		federation: fed,
		whitelist:  whitelist,
		accounts:   accounts,
		dispatcher: d,
		state:      st,
		cfg:        cfg,
		now:        time.Now,
	}
}

func (p *Poller) PollState() PollState {
	return p.poll
}

// Start runs a cycle after StartDelay and then every Interval until ctx is
// done. Cycles never overlap: the next delay starts when a cycle returns.
func (p *Poller) Start(ctx context.Context) {
	log.Infof("Poller started, first cycle in %v, interval %v", p.cfg.StartDelay, p.cfg.Interval)
	timer := time.NewTimer(p.cfg.StartDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Poller stopping...")
			return
		case <-timer.C:
			p.RunCycle(ctx)
			timer.Reset(p.cfg.Interval)
		}
	}
}

// RunCycle runs one import and release pass. It returns false without doing
// anything when another cycle is still running.
func (p *Poller) RunCycle(ctx context.Context) bool {
	if !p.inFlight.CompareAndSwap(false, true) {
		log.Warn("Poll cycle still running, skip this tick")
		return false
	}
	defer p.inFlight.Store(false)

	p.cycles++
	snap := state.PollSnapshot{
		CycleID:   uuid.NewString(),
		Cycles:    p.cycles,
		StartedAt: p.now(),
	}
	logger := log.WithFields(log.Fields{"cycle": snap.CycleID})
	logger.Debugf("Poll cycle %d fired", p.cycles)

	defer func() {
		snap.FinishedAt = p.now()
		snap.LastHeaderRelay = p.poll.LastHeaderRelay
		snap.LastCollectionsUpdate = p.poll.LastCollectionsUpdate
		snap.LastTargetBlock = p.poll.LastTargetBlock
		p.state.UpdatePoll(snap)
	}()

	key, err := federation.ResolveLocalSigningKey(p.federation, p.accounts)
	if err != nil {
		logger.Errorf("Skip poll cycle, federator identity: %v", err)
		p.state.Record(state.Activity{Kind: state.IdentityError, CycleID: snap.CycleID, Ref: "federator", Detail: err.Error()})
		snap.Skipped = true
		return true
	}
	snap.LocalFederator = key.Address.Hex()
	signer := p.bridge.Signer(key.ECDSA())

	c := &cycle{Poller: p, id: snap.CycleID, logger: logger, key: key, signer: signer, snap: &snap}
	if err := c.importPhase(ctx); err != nil {
		snap.ImportError = err.Error()
		logPhaseError(logger, "Import", err)
	}
	if err := c.releasePhase(ctx); err != nil {
		snap.ReleaseError = err.Error()
		logPhaseError(logger, "Release", err)
	}
	return true
}

func logPhaseError(logger *log.Entry, phase string, err error) {
	logger.Errorf("%s phase failed: %v", phase, err)
	if logger.Logger.IsLevelEnabled(log.DebugLevel) {
		logger.Debug(errors.Wrap(err, 1).ErrorStack())
	}
}

// scanAddress returns the deposit address the bridge reports, falling back
// to the one derived from the configured federation.
func (p *Poller) scanAddress(ctx context.Context, params *chaincfg.Params) btcutil.Address {
	if p.scanAddr != nil {
		return p.scanAddr
	}
	local := p.federation.Address()
	reported, err := p.bridge.GetFederationAddress(ctx)
	if err != nil {
		log.Warnf("Get federation address from bridge: %v, scanning %s", err, local.EncodeAddress())
		return local
	}
	addr, err := btcutil.DecodeAddress(reported, params)
	if err != nil {
		log.Errorf("Bridge reported invalid federation address %q: %v, scanning %s", reported, err, local.EncodeAddress())
		return local
	}
	if addr.EncodeAddress() != local.EncodeAddress() {
		log.Errorf("Federation address mismatch, bridge %s, configured %s; scanning the bridge address",
			addr.EncodeAddress(), local.EncodeAddress())
	}
	p.scanAddr = addr
	return addr
}

type cycle struct {
	*Poller
	id     string
	logger *log.Entry
	key    *federation.LocalKey
	signer Signer
	snap   *state.PollSnapshot
}

func (c *cycle) record(a state.Activity) {
	a.CycleID = c.id
	c.state.Record(a)
}

func (c *cycle) importPhase(ctx context.Context) error {
	params := c.federation.Params()

	minLock, err := c.bridge.GetMinimumLockTxValue(ctx)
	if err != nil {
		c.logger.Warnf("Get minimum lock value: %v, using %d", err, c.cfg.MinimumLockTxValue)
		minLock = c.cfg.MinimumLockTxValue
	}

	cache := btc.NewBlockCache(c.source)
	scanner := pegin.NewScanner(c.bridge, c.scanAddress(ctx, params), params, c.cfg.Confirmations, c.cfg.CoinMultiple)
	scanner.SetMinimumLockValue(minLock)

	hr := relay.NewHeaderRelay(c.source, c.signer, relay.Config{
		HeadersPerBatch: c.cfg.HeadersPerBatch,
		Interval:        c.cfg.ReceiveHeadersInterval,
	})
	res, err := hr.Run(ctx, c.poll.LastHeaderRelay, cache, scanner)
	if res == nil {
		return fmt.Errorf("header relay: %w", err)
	}
	c.snap.SourceHeight = res.SourceHeight
	c.snap.BridgeHeight = res.BridgeHeight

	var firstErr error
	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
		} else {
			c.logger.Warn(err)
		}
	}
	if err != nil {
		fail(fmt.Errorf("header relay: %w", err))
	} else if res.Triggered {
		c.poll.LastHeaderRelay = c.now()
		c.logger.Infof("Header relay done, bridge %d -> source %d, sent %d, pruned %d, submissions %d",
			res.BridgeHeight, res.SourceHeight, res.HeadersSent, res.HeadersPruned, res.Submissions)
		c.record(state.Activity{
			Kind:   state.HeadersRelayed,
			Ref:    fmt.Sprintf("%d-%d", res.BridgeHeight+1, res.SourceHeight),
			Height: res.SourceHeight,
			Amount: int64(res.HeadersSent),
			Detail: fmt.Sprintf("submissions %d, pruned %d", res.Submissions, res.HeadersPruned),
		})
	}

	// Deposits are registered for every confirmed block the bridge holds a
	// header for, even when the relay stopped half way. The cursor only
	// moves past a block once its deposits are registered, so failed ones
	// are scanned again next cycle.
	top := res.Reached - c.cfg.Confirmations
	settled, err := c.scanConfirmed(ctx, scanner, cache, res.BridgeHeight, top)
	if err != nil {
		fail(err)
	}

	var transfers []pegin.Transfer
	for _, tr := range scanner.Transfers() {
		if tr.Height <= top {
			transfers = append(transfers, tr)
		}
	}
	slices.SortStableFunc(transfers, func(a, b pegin.Transfer) int {
		return cmp.Compare(a.Height, b.Height)
	})
	if len(transfers) > 0 {
		if err := c.authorizeWhitelist(ctx, scanner.Whitelist()); err != nil {
			fail(err)
			settled = min(settled, transfers[0].Height-1)
		} else if failedAt, err := c.registerTransfers(ctx, transfers); err != nil {
			fail(err)
			settled = min(settled, failedAt-1)
		}
	}
	if !c.poll.ScanAnchored || settled > c.poll.ScannedHeight {
		c.poll.ScannedHeight = settled
		c.poll.ScanAnchored = true
	}
	return firstErr
}

// scanConfirmed scans the confirmed blocks above the cursor up to top and
// returns the highest height scanned. A first import starts at the block the
// relay confirms first.
func (c *cycle) scanConfirmed(ctx context.Context, scanner *pegin.Scanner, cache *btc.BlockCache, bridgeHeight, top int64) (int64, error) {
	from := c.poll.ScannedHeight + 1
	if !c.poll.ScanAnchored {
		from = bridgeHeight + 1 - c.cfg.Confirmations
	}
	from = max(from, 1)
	for h := from; h <= top; h++ {
		block, err := cache.Get(h)
		if err != nil {
			return h - 1, fmt.Errorf("fetch confirmed block %d: %w", h, err)
		}
		if err := scanner.ScanBlock(ctx, block); err != nil {
			return h - 1, err
		}
	}
	return max(top, from-1), nil
}

// whitelistSigner prefers a held lock whitelist governance key and falls back
// to the federator key, which the bridge may reject.
func (c *cycle) whitelistSigner() Signer {
	if c.whitelist == nil {
		return c.signer
	}
	key, err := federation.ResolveAuthorizedKey(c.whitelist, c.accounts)
	if err != nil {
		if c.whitelist.IsAuthorized(c.key.Address) {
			c.logger.Debugf("No lock whitelist key held (%v), using federator %s", err, c.key.Address.Hex())
		} else {
			c.logger.Warnf("No lock whitelist key held (%v), federator %s is not one of the %d keys (%d required), the bridge may reject it",
				err, c.key.Address.Hex(), len(c.whitelist.PublicKeys()), c.whitelist.RequiredSignatures())
		}
		return c.signer
	}
	if key.Address == c.key.Address {
		return c.signer
	}
	return c.bridge.Signer(key.ECDSA())
}

func (c *cycle) authorizeWhitelist(ctx context.Context, wl *pegin.Whitelist) error {
	if wl.Len() == 0 {
		return nil
	}
	signer := c.whitelistSigner()
	changed := 0
	for _, addr := range wl.Addresses() {
		ceiling, _ := wl.Ceiling(addr)
		d, _, err := signer.AuthorizeLockWhitelist(ctx, addr, ceiling)
		if err != nil {
			c.logger.Warnf("Lock whitelist %s for %d: %v", addr, ceiling, err)
			continue
		}
		if d.Action == bridge.WhitelistUnchanged {
			continue
		}
		changed++
		c.record(state.Activity{
			Kind:   state.WhitelistAuthorized,
			Ref:    addr,
			Amount: ceiling,
			Detail: fmt.Sprintf("%s, previous %d", d.Action, d.Current),
		})
	}
	if changed == 0 {
		return nil
	}
	if err := signer.Mine(ctx); err != nil {
		return fmt.Errorf("mine after whitelist: %w", err)
	}
	return nil
}

// registerTransfers registers transfers, sorted by height. On failure it
// returns the lowest height that did not register.
func (c *cycle) registerTransfers(ctx context.Context, transfers []pegin.Transfer) (int64, error) {
	failed := 0
	var failedAt int64
	for _, tr := range transfers {
		txHash, err := c.signer.RegisterTransaction(ctx, tr.RawTx, tr.Height, tr.PMT)
		if err != nil {
			c.logger.Errorf("Register deposit %s at %d: %v", tr.TxHash, tr.Height, err)
			if failed == 0 {
				failedAt = tr.Height
			}
			failed++
			continue
		}
		c.logger.Infof("Registered deposit %s at %d, value %d, tx %s", tr.TxHash, tr.Height, tr.Value, txHash.Hex())
		c.record(state.Activity{
			Kind:   state.DepositRegistered,
			Ref:    tr.TxHash.String(),
			Height: tr.Height,
			Amount: tr.Value,
			Detail: txHash.Hex(),
		})
	}
	if failed < len(transfers) {
		if err := c.signer.Mine(ctx); err != nil {
			return transfers[0].Height, fmt.Errorf("mine after register: %w", err)
		}
	}
	if failed > 0 {
		return failedAt, fmt.Errorf("register %d of %d deposits failed", failed, len(transfers))
	}
	return 0, nil
}

// releasePhase keeps going after a failed step so a stuck collections update
// does not hold back signing or broadcasting. The first error is returned.
func (c *cycle) releasePhase(ctx context.Context) error {
	var firstErr error
	fail := func(err error) {
		c.logger.Warn(err)
		if firstErr == nil {
			firstErr = err
		}
	}

	collector := release.NewCollector(c.signer, release.Config{
		UpdateCollectionsInterval:  c.cfg.UpdateCollectionsInterval,
		UpdateCollectionsMaxBlocks: c.cfg.UpdateCollectionsMaxBlocks,
	})

	updated, err := collector.UpdateCollections(ctx, c.poll.LastCollectionsUpdate, c.poll.LastTargetBlock)
	if err != nil {
		fail(err)
	}
	if updated != nil && updated.Updated {
		c.poll.LastCollectionsUpdate = updated.UpdatedAt
		c.poll.LastTargetBlock = updated.TargetBlock
		c.record(state.Activity{Kind: state.CollectionsUpdated, Ref: fmt.Sprintf("%d", updated.TargetBlock), Height: int64(updated.TargetBlock)})
	}

	signed, err := collector.CollectSignatures(ctx, c.key.Private)
	if err != nil {
		fail(err)
	}
	if signed != nil {
		if signed.Pending > 0 {
			c.logger.Infof("Release backlog %d, signed %d, already signed %d, failed %d",
				signed.Pending, signed.Signed, signed.AlreadySigned, signed.Failed)
		}
		if signed.Signed > 0 {
			c.record(state.Activity{Kind: state.SignatureAdded, Ref: c.key.Address.Hex(), Amount: int64(signed.Signed)})
		}
	}

	if c.dispatcher != nil {
		res := c.dispatcher.Dispatch(ctx)
		if res.Drained > 0 {
			c.logger.Infof("Dispatched %d withdrawals, broadcast %d, known %d, failed %d",
				res.Drained, res.Broadcast, res.Known, res.Failed)
		}
	}
	return firstErr
}
