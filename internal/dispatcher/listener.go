package dispatcher

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goatnetwork/peg-relayer/internal/bridge"
	"github.com/goatnetwork/peg-relayer/internal/state"
	log "github.com/sirupsen/logrus"
)

// Listener turns bridge release logs into queued withdrawals.
type Listener struct {
	contract common.Address
	queue    *Queue
	state    *state.State
}

func NewListener(contract common.Address, queue *Queue, state *state.State) *Listener {
	return &Listener{
		contract: contract,
		queue:    queue,
		state:    state,
	}
}

// Run consumes events until the channel is closed.
func (l *Listener) Run(events <-chan BlockEvent) {
	for ev := range events {
		l.HandleBlock(ev)
	}
	log.Info("Withdrawal listener stopped")
}

// HandleBlock queues every release carried by ev and returns how many.
func (l *Listener) HandleBlock(ev BlockEvent) int {
	queued := 0
	for _, r := range ev.Receipts {
		if r.Receipt == nil || r.Receipt.Status != types.ReceiptStatusSuccessful {
			continue
		}
		if to := r.Tx.To(); to == nil || *to != l.contract {
			continue
		}
		for _, vLog := range r.Receipt.Logs {
			if !bridge.IsReleaseLog(vLog, l.contract) {
				continue
			}
			releaseHash, tx, err := bridge.DecodeReleaseLog(vLog.Data)
			if err != nil {
				log.Warnf("Skip release log in tx %s, block %d: %v", r.Tx.Hash().Hex(), ev.Number, err)
				continue
			}
			l.push(Withdrawal{
				ReleaseHash:  releaseHash,
				Tx:           tx,
				BlockNumber:  ev.Number,
				TargetTxHash: r.Tx.Hash(),
			})
			queued++
		}
	}
	return queued
}

func (l *Listener) push(w Withdrawal) {
	evicted, dropped := l.queue.Push(w)
	log.Infof("Withdrawal queued, release %s, btc tx %s, target block %d", w.ReleaseHash.Hex(), w.Tx.TxHash(), w.BlockNumber)
	l.state.Record(state.Activity{
		Kind:   state.WithdrawalQueued,
		Ref:    w.Tx.TxHash().String(),
		Height: int64(w.BlockNumber),
		Detail: w.ReleaseHash.Hex(),
	})
	if dropped {
		log.Warnf("Withdrawal queue full, dropped release %s, btc tx %s", evicted.ReleaseHash.Hex(), evicted.Tx.TxHash())
		l.state.Record(state.Activity{
			Kind:   state.WithdrawalDropped,
			Ref:    evicted.Tx.TxHash().String(),
			Height: int64(evicted.BlockNumber),
			Detail: evicted.ReleaseHash.Hex(),
		})
	}
	l.state.UpdateQueue(state.QueueStats{
		Depth:    l.queue.Len(),
		Dropped:  l.queue.Dropped(),
		Capacity: l.queue.Capacity(),
	})
}
