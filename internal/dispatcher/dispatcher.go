package dispatcher

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/goatnetwork/peg-relayer/internal/state"
	log "github.com/sirupsen/logrus"
)

// SourceChain is the broadcast side of the source chain node.
type SourceChain interface {
	SendRawTransaction(tx *wire.MsgTx) (txHash string, exist bool, err error)
	GetRawTransaction(hash *chainhash.Hash) (*btcutil.Tx, error)
}

type Result struct {
	Drained   int
	Broadcast int
	Known     int
	Failed    int
	Requeued  int
}

type Dispatcher struct {
	queue  *Queue
	source SourceChain
	state  *state.State
}

func NewDispatcher(queue *Queue, source SourceChain, state *state.State) *Dispatcher {
	return &Dispatcher{
		queue:  queue,
		source: source,
		state:  state,
	}
}

func (d *Dispatcher) Queue() *Queue {
	return d.queue
}

// Dispatch drains the queue and broadcasts every entry. A failed broadcast
// is logged and does not stop the rest. Entries left when ctx ends are put
// back.
func (d *Dispatcher) Dispatch(ctx context.Context) *Result {
	pending := d.queue.Drain()
	res := &Result{Drained: len(pending)}

	for i, w := range pending {
		if ctx.Err() != nil {
			for _, rest := range pending[i:] {
				d.queue.Push(rest)
			}
			res.Requeued = len(pending) - i
			log.Warnf("Dispatch interrupted, requeued %d withdrawals", res.Requeued)
			break
		}
		d.broadcast(w, res)
	}

	d.state.UpdateQueue(state.QueueStats{
		Depth:    d.queue.Len(),
		Dropped:  d.queue.Dropped(),
		Capacity: d.queue.Capacity(),
	})
	return res
}

func (d *Dispatcher) broadcast(w Withdrawal, res *Result) {
	txid := w.Tx.TxHash()
	detail := "broadcast"

	_, exist, err := d.source.SendRawTransaction(w.Tx)
	switch {
	case err == nil:
		res.Broadcast++
		log.Infof("Withdrawal broadcast, btc tx %s, release %s", txid, w.ReleaseHash.Hex())
	case exist:
		res.Known++
		detail = "already in chain"
		log.Infof("Withdrawal already in chain, btc tx %s", txid)
	default:
		// the node may hold it already, e.g. in its mempool
		if _, lookupErr := d.source.GetRawTransaction(&txid); lookupErr == nil {
			res.Known++
			detail = "already known"
			log.Infof("Withdrawal already known to node, btc tx %s: %v", txid, err)
			break
		}
		res.Failed++
		log.Errorf("Withdrawal broadcast failed, btc tx %s, release %s: %v", txid, w.ReleaseHash.Hex(), err)
		return
	}

	d.state.Record(state.Activity{
		Kind:   state.WithdrawalBroadcast,
		Ref:    txid.String(),
		Height: int64(w.BlockNumber),
		Detail: detail,
	})
}
