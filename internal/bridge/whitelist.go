package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
)

var ErrInvalidWhitelistAddress = errors.New("bridge rejected whitelist address")

type WhitelistAction int

const (
	WhitelistUnchanged WhitelistAction = iota
	WhitelistAdd
	// WhitelistReplace removes the current entry then adds the larger one,
	// the bridge has no in-place update.
	WhitelistReplace
)

func (a WhitelistAction) String() string {
	switch a {
	case WhitelistAdd:
		return "add"
	case WhitelistReplace:
		return "replace"
	default:
		return "unchanged"
	}
}

// WhitelistDecision is the outcome of probing one address.
type WhitelistDecision struct {
	Address string
	Amount  int64
	Current int64
	Action  WhitelistAction
}

// ProbeLockWhitelist dry-runs addLockWhitelistAddress. The bridge answers 0
// for an unknown address, the current ceiling for a known one and a
// negative code for an address it cannot parse.
func (t *Transactor) ProbeLockWhitelist(ctx context.Context, address string, amount int64) (WhitelistDecision, error) {
	out, err := t.call(ctx, t.from, OpAddLockWhitelistAddress, address, big.NewInt(amount))
	if err != nil {
		return WhitelistDecision{}, err
	}
	current, err := int64Result(OpAddLockWhitelistAddress, out)
	if err != nil {
		return WhitelistDecision{}, err
	}

	d := WhitelistDecision{Address: address, Amount: amount, Current: current}
	switch {
	case current < 0:
		return d, fmt.Errorf("%w: %s (code %d)", ErrInvalidWhitelistAddress, address, current)
	case current == 0:
		d.Action = WhitelistAdd
	case amount > current:
		d.Action = WhitelistReplace
	default:
		d.Action = WhitelistUnchanged
	}
	return d, nil
}

// ApplyLockWhitelist sends the transactions a decision calls for.
func (t *Transactor) ApplyLockWhitelist(ctx context.Context, d WhitelistDecision) ([]common.Hash, error) {
	var sent []common.Hash
	switch d.Action {
	case WhitelistUnchanged:
		log.Debugf("Address %s already whitelisted up to %d", d.Address, d.Current)
		return nil, nil
	case WhitelistReplace:
		h, err := t.RemoveLockWhitelistAddress(ctx, d.Address)
		if err != nil {
			return nil, err
		}
		sent = append(sent, h)
	}
	h, err := t.AddLockWhitelistAddress(ctx, d.Address, d.Amount)
	if err != nil {
		return sent, err
	}
	return append(sent, h), nil
}

// AuthorizeLockWhitelist probes then applies.
func (t *Transactor) AuthorizeLockWhitelist(ctx context.Context, address string, amount int64) (WhitelistDecision, []common.Hash, error) {
	d, err := t.ProbeLockWhitelist(ctx, address, amount)
	if err != nil {
		return d, nil, err
	}
	sent, err := t.ApplyLockWhitelist(ctx, d)
	return d, sent, err
}
