package release

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/goatnetwork/peg-relayer/internal/bridge"
	"github.com/goatnetwork/peg-relayer/internal/types"
	log "github.com/sirupsen/logrus"
)

type Bridge interface {
	BlockNumber(ctx context.Context) (uint64, error)
	UpdateCollections(ctx context.Context) (common.Hash, error)
	GetStateForReleaseClient(ctx context.Context) ([]bridge.PendingSignature, error)
	AddSignature(ctx context.Context, pubKey []byte, signatures [][]byte, releaseHash common.Hash) (common.Hash, error)
	Mine(ctx context.Context) error
}

type Config struct {
	UpdateCollectionsInterval  time.Duration
	UpdateCollectionsMaxBlocks uint64
}

// Collector drives collection updates and signs the releases the bridge
// is waiting on.
type Collector struct {
	bridge Bridge
	cfg    Config
	now    func() time.Time
}

func NewCollector(bridge Bridge, cfg Config) *Collector {
	return &Collector{
		bridge: bridge,
		cfg:    cfg,
		now:    time.Now,
	}
}

type CollectionsResult struct {
	Updated     bool
	TargetBlock uint64
	UpdatedAt   time.Time
}

func (c *Collector) shouldUpdate(delta uint64, lastUpdate time.Time) bool {
	if delta >= c.cfg.UpdateCollectionsMaxBlocks {
		return true
	}
	return delta > 0 && c.now().Sub(lastUpdate) > c.cfg.UpdateCollectionsInterval
}

// UpdateCollections sends updateCollections once enough target blocks went
// by since lastBlock, or some did and the interval elapsed since
// lastUpdate.
func (c *Collector) UpdateCollections(ctx context.Context, lastUpdate time.Time, lastBlock uint64) (*CollectionsResult, error) {
	current, err := c.bridge.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("get target block number: %w", err)
	}
	var delta uint64
	if current > lastBlock {
		delta = current - lastBlock
	}

	res := &CollectionsResult{TargetBlock: current}
	if !c.shouldUpdate(delta, lastUpdate) {
		return res, nil
	}

	now := c.now()
	txHash, err := c.bridge.UpdateCollections(ctx)
	if err != nil {
		return res, fmt.Errorf("update collections: %w", err)
	}
	log.Infof("Update collections at target block %d, tx %s", current, txHash)
	if err := c.bridge.Mine(ctx); err != nil {
		return res, fmt.Errorf("mine after update collections: %w", err)
	}
	res.Updated = true
	res.UpdatedAt = now
	return res, nil
}

type SignResult struct {
	Pending       int
	AlreadySigned int
	Signed        int
	Failed        int
}

// CollectSignatures adds this federator's signatures to every release it
// has not signed yet, in backlog order.
func (c *Collector) CollectSignatures(ctx context.Context, key *btcec.PrivateKey) (*SignResult, error) {
	pending, err := c.bridge.GetStateForReleaseClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("get release backlog: %w", err)
	}

	res := &SignResult{Pending: len(pending)}
	pubKey := key.PubKey()
	for _, p := range pending {
		if types.HasSignedInput(p.Tx, pubKey) {
			res.AlreadySigned++
			continue
		}

		sigs, err := types.SignaturesFor(p.Tx, key)
		if err != nil {
			log.Errorf("Sign release %s: %v", p.TxHash, err)
			res.Failed++
			continue
		}
		txHash, err := c.bridge.AddSignature(ctx, pubKey.SerializeCompressed(), sigs, p.TxHash)
		if err != nil {
			log.Errorf("Add signature to release %s: %v", p.TxHash, err)
			res.Failed++
			continue
		}
		res.Signed++
		log.Infof("Signed release %s (%d inputs), tx %s", p.TxHash, len(sigs), txHash)
	}

	if res.Signed > 0 {
		if err := c.bridge.Mine(ctx); err != nil {
			return res, fmt.Errorf("mine after add signature: %w", err)
		}
	}
	return res, nil
}
