package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common"
	"github.com/goatnetwork/peg-relayer/internal/btc"
	log "github.com/sirupsen/logrus"
)

// SourceChain is the source chain node as the relay sees it.
type SourceChain interface {
	GetBlockCount() (int64, error)
}

// Bridge is the part of the bridge client the relay drives.
type Bridge interface {
	GetBestChainHeight(ctx context.Context) (int64, error)
	ProbeReceiveHeaders(ctx context.Context, headers [][]byte) ([]chainhash.Hash, error)
	ReceiveHeaders(ctx context.Context, headers [][]byte) (common.Hash, error)
	Mine(ctx context.Context) error
}

// BlockObserver sees every block the relay fetched, in height order.
type BlockObserver interface {
	ObserveHeader(ctx context.Context, height int64, cache *btc.BlockCache) error
}

type Config struct {
	HeadersPerBatch int
	Interval        time.Duration
}

type Result struct {
	Triggered    bool
	SourceHeight int64
	BridgeHeight int64
	// Reached is the highest height the bridge holds a header for after the
	// run, counting batches submitted before a failure.
	Reached       int64
	Batches       int
	Submissions   int
	HeadersSent   int
	HeadersPruned int
}

type HeaderRelay struct {
	source SourceChain
	bridge Bridge
	cfg    Config
	now    func() time.Time
}

func NewHeaderRelay(source SourceChain, bridge Bridge, cfg Config) *HeaderRelay {
	if cfg.HeadersPerBatch <= 0 {
		cfg.HeadersPerBatch = 1
	}
	return &HeaderRelay{
		source: source,
		bridge: bridge,
		cfg:    cfg,
		now:    time.Now,
	}
}

// ShouldRelay reports whether count pending headers justify a relay given
// the time of the last one.
func (r *HeaderRelay) ShouldRelay(count int64, lastRelay time.Time) bool {
	if count >= int64(r.cfg.HeadersPerBatch) {
		return true
	}
	return count > 0 && r.now().Sub(lastRelay) > r.cfg.Interval
}

type header struct {
	hash chainhash.Hash
	raw  []byte
}

// Run relays the headers the bridge is missing, batch by batch from the
// bridge's best height upward. Every fetched block is handed to observer,
// which may be nil. cache is shared with the observer for the whole run.
func (r *HeaderRelay) Run(ctx context.Context, lastRelay time.Time, cache *btc.BlockCache, observer BlockObserver) (*Result, error) {
	bridgeHeight, err := r.bridge.GetBestChainHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("get bridge best height: %w", err)
	}
	sourceHeight, err := r.source.GetBlockCount()
	if err != nil {
		return nil, fmt.Errorf("get source block count: %w", err)
	}

	res := &Result{SourceHeight: sourceHeight, BridgeHeight: bridgeHeight, Reached: bridgeHeight}
	count := sourceHeight - bridgeHeight
	log.Debugf("Header relay, source height %d, bridge height %d, new blocks %d", sourceHeight, bridgeHeight, count)
	if !r.ShouldRelay(count, lastRelay) {
		return res, nil
	}
	res.Triggered = true

	batchSize := int64(r.cfg.HeadersPerBatch)
	for start := bridgeHeight + 1; start <= sourceHeight; start += batchSize {
		end := min(start+batchSize-1, sourceHeight)

		batch := make([]header, 0, end-start+1)
		for h := start; h <= end; h++ {
			block, err := cache.Get(h)
			if err != nil {
				return res, fmt.Errorf("fetch block %d: %w", h, err)
			}
			batch = append(batch, header{hash: block.Hash, raw: block.Header()})
			if observer != nil {
				if err := observer.ObserveHeader(ctx, h, cache); err != nil {
					return res, err
				}
			}
		}

		if err := r.submit(ctx, batch, res); err != nil {
			return res, err
		}
		res.Reached = end
		res.Batches++
		if err := r.bridge.Mine(ctx); err != nil {
			return res, fmt.Errorf("mine after headers %d-%d: %w", start, end, err)
		}
	}
	return res, nil
}

func rawHeaders(batch []header) [][]byte {
	raws := make([][]byte, len(batch))
	for i, h := range batch {
		raws[i] = h.raw
	}
	return raws
}

// submit probes the batch and sends only the headers the bridge does not
// have yet.
func (r *HeaderRelay) submit(ctx context.Context, batch []header, res *Result) error {
	redundant, err := r.bridge.ProbeReceiveHeaders(ctx, rawHeaders(batch))
	if err != nil {
		return fmt.Errorf("probe receive headers: %w", err)
	}

	if len(redundant) > 0 {
		known := make(map[chainhash.Hash]struct{}, len(redundant))
		for _, h := range redundant {
			known[h] = struct{}{}
		}
		pruned := batch[:0:0]
		for _, h := range batch {
			if _, ok := known[h.hash]; !ok {
				pruned = append(pruned, h)
			}
		}
		res.HeadersPruned += len(batch) - len(pruned)
		log.Infof("Bridge already has %d of %d headers", len(batch)-len(pruned), len(batch))
		if len(pruned) == 0 {
			return nil
		}
		batch = pruned
	}

	txHash, err := r.bridge.ReceiveHeaders(ctx, rawHeaders(batch))
	if err != nil {
		return fmt.Errorf("receive headers: %w", err)
	}
	res.Submissions++
	res.HeadersSent += len(batch)
	log.Infof("Sent %d headers, tx %s", len(batch), txHash)
	return nil
}
