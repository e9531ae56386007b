package dispatcher

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	log "github.com/sirupsen/logrus"
)

// maxBlocksPerPoll bounds how far a single poll catches up in scan mode.
const maxBlocksPerPoll = 100

type TargetChain interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ReleaseFilter is a node side log filter on the bridge release topic.
// *bridge.Client implements it.
type ReleaseFilter interface {
	NewReleaseFilter(ctx context.Context, fromBlock uint64) (string, error)
	ReleaseFilterChanges(ctx context.Context, id string) ([]types.Log, error)
	UninstallFilter(ctx context.Context, id string) (bool, error)
}

type TxReceipt struct {
	Tx      *types.Transaction
	Receipt *types.Receipt
}

// BlockEvent carries the transactions of one confirmed target block that
// were addressed to the bridge.
type BlockEvent struct {
	Number   uint64
	Hash     common.Hash
	Receipts []TxReceipt
}

type EventSource struct {
	chain         TargetChain
	filter        ReleaseFilter
	contract      common.Address
	confirmations uint64
	interval      time.Duration

	started  bool
	next     uint64
	filterID string
	hinted   map[uint64]struct{}
	// backfillTo is the head when the filter was installed. Filter changes
	// only carry logs mined later, so blocks up to it are scanned.
	backfillTo uint64
}

func NewEventSource(chain TargetChain, contract common.Address, confirmations uint64, interval time.Duration) *EventSource {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &EventSource{
		chain:         chain,
		contract:      contract,
		confirmations: confirmations,
		interval:      interval,
		hinted:        make(map[uint64]struct{}),
	}
}

// WithReleaseFilter makes the source fetch only the blocks a release filter
// points at. Any filter error falls back to scanning every block.
func (s *EventSource) WithReleaseFilter(filter ReleaseFilter) *EventSource {
	s.filter = filter
	return s
}

// Start polls until ctx is done. The returned channel is closed on exit.
func (s *EventSource) Start(ctx context.Context) <-chan BlockEvent {
	out := make(chan BlockEvent, 16)
	go func() {
		defer close(out)
		defer s.uninstall()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		log.Infof("EventSource started, contract %s, confirmations %d", s.contract.Hex(), s.confirmations)
		for {
			if err := s.poll(ctx, out); err != nil && ctx.Err() == nil {
				log.Warnf("EventSource poll error: %v", err)
			}
			select {
			case <-ctx.Done():
				log.Info("EventSource stopping...")
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}

func (s *EventSource) poll(ctx context.Context, out chan<- BlockEvent) error {
	head, err := s.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("target block number: %w", err)
	}
	if head < s.confirmations {
		return nil
	}
	target := head - s.confirmations

	if !s.started {
		// only blocks confirmed after start are of interest
		s.started = true
		s.next = target + 1
		s.backfillTo = head
		s.install(ctx)
		return nil
	}

	if s.filterID != "" {
		if end := min(target, s.backfillTo); s.next <= end {
			if err := s.scan(ctx, end, out); err != nil {
				return err
			}
		}
		err := s.pollFilter(ctx, target, out)
		if err == nil || ctx.Err() != nil {
			return err
		}
		log.Warnf("EventSource release filter failed, scanning blocks from %d: %v", s.next, err)
		s.filterID = ""
		clear(s.hinted)
	}

	return s.scan(ctx, min(target, s.next+maxBlocksPerPoll-1), out)
}

// scan emits every block from next up to end.
func (s *EventSource) scan(ctx context.Context, end uint64, out chan<- BlockEvent) error {
	for n := s.next; n <= end; n++ {
		if err := s.emit(ctx, n, out); err != nil {
			return err
		}
		s.next = n + 1
	}
	return nil
}

func (s *EventSource) pollFilter(ctx context.Context, target uint64, out chan<- BlockEvent) error {
	logs, err := s.filter.ReleaseFilterChanges(ctx, s.filterID)
	if err != nil {
		return err
	}
	for _, l := range logs {
		if !l.Removed && l.BlockNumber >= s.next {
			s.hinted[l.BlockNumber] = struct{}{}
		}
	}

	var ready []uint64
	for n := range s.hinted {
		if n <= target {
			ready = append(ready, n)
		}
	}
	slices.Sort(ready)
	for _, n := range ready {
		if err := s.emit(ctx, n, out); err != nil {
			return err
		}
		delete(s.hinted, n)
	}
	if target >= s.next {
		s.next = target + 1
	}
	return nil
}

func (s *EventSource) emit(ctx context.Context, number uint64, out chan<- BlockEvent) error {
	ev, err := s.blockEvent(ctx, number)
	if err != nil {
		return err
	}
	if len(ev.Receipts) == 0 {
		return nil
	}
	select {
	case out <- *ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *EventSource) blockEvent(ctx context.Context, number uint64) (*BlockEvent, error) {
	block, err := s.chain.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, fmt.Errorf("target block %d: %w", number, err)
	}
	ev := &BlockEvent{Number: number, Hash: block.Hash()}
	for _, tx := range block.Transactions() {
		if to := tx.To(); to == nil || *to != s.contract {
			continue
		}
		receipt, err := s.chain.TransactionReceipt(ctx, tx.Hash())
		if err != nil {
			return nil, fmt.Errorf("receipt %s in block %d: %w", tx.Hash().Hex(), number, err)
		}
		ev.Receipts = append(ev.Receipts, TxReceipt{Tx: tx, Receipt: receipt})
	}
	return ev, nil
}

func (s *EventSource) install(ctx context.Context) {
	if s.filter == nil {
		return
	}
	id, err := s.filter.NewReleaseFilter(ctx, s.next)
	if err != nil {
		log.Warnf("EventSource release filter unavailable, scanning blocks: %v", err)
		return
	}
	s.filterID = id
	log.Debugf("EventSource installed release filter %s from block %d", id, s.next)
}

func (s *EventSource) uninstall() {
	if s.filterID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.filter.UninstallFilter(ctx, s.filterID); err != nil {
		log.Debugf("EventSource uninstall filter %s: %v", s.filterID, err)
	}
	s.filterID = ""
}
