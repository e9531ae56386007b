package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
)

// ReleaseTopic marks the log the bridge emits once a release is fully
// signed.
var ReleaseTopic = common.BytesToHash([]byte("release_btc_topic"))

var ErrNoRawCaller = errors.New("bridge client has no raw rpc connection")

// PendingSignature is a release waiting for federator signatures.
type PendingSignature struct {
	TxHash common.Hash
	Tx     *wire.MsgTx
}

func decodeBtcTx(raw []byte) (*wire.MsgTx, error) {
	tx := new(wire.MsgTx)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}

type releaseState struct {
	Entries [][]byte
}

// DecodeReleaseState decodes the RLP list [[txHash1, rawTx1, txHash2, rawTx2, ...]].
func DecodeReleaseState(data []byte) ([]PendingSignature, error) {
	var state releaseState
	if err := rlp.DecodeBytes(data, &state); err != nil {
		return nil, fmt.Errorf("decode release state: %w", err)
	}
	if len(state.Entries)%2 != 0 {
		return nil, fmt.Errorf("decode release state: odd entry count %d", len(state.Entries))
	}

	pending := make([]PendingSignature, 0, len(state.Entries)/2)
	for i := 0; i < len(state.Entries); i += 2 {
		tx, err := decodeBtcTx(state.Entries[i+1])
		if err != nil {
			return nil, fmt.Errorf("decode release %x: %w", state.Entries[i], err)
		}
		pending = append(pending, PendingSignature{
			TxHash: common.BytesToHash(state.Entries[i]),
			Tx:     tx,
		})
	}
	return pending, nil
}

// EncodeReleaseState is the inverse of DecodeReleaseState.
func EncodeReleaseState(pending []PendingSignature) ([]byte, error) {
	var state releaseState
	for _, p := range pending {
		var buf bytes.Buffer
		if err := p.Tx.Serialize(&buf); err != nil {
			return nil, err
		}
		state.Entries = append(state.Entries, p.TxHash.Bytes(), buf.Bytes())
	}
	return rlp.EncodeToBytes(&state)
}

type releaseLog struct {
	TxHash []byte
	RawTx  []byte
}

// DecodeReleaseLog decodes the RLP list [targetTxHash, rawTx] carried by a
// release log.
func DecodeReleaseLog(data []byte) (common.Hash, *wire.MsgTx, error) {
	var entry releaseLog
	if err := rlp.DecodeBytes(data, &entry); err != nil {
		return common.Hash{}, nil, fmt.Errorf("decode release log: %w", err)
	}
	tx, err := decodeBtcTx(entry.RawTx)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("decode release log tx: %w", err)
	}
	return common.BytesToHash(entry.TxHash), tx, nil
}

func EncodeReleaseLog(txHash common.Hash, tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(&releaseLog{TxHash: txHash.Bytes(), RawTx: buf.Bytes()})
}

// IsReleaseLog reports whether l is a release log emitted by contract.
func IsReleaseLog(l *types.Log, contract common.Address) bool {
	if l.Address != contract {
		return false
	}
	for _, topic := range l.Topics {
		if topic == ReleaseTopic {
			return true
		}
	}
	return false
}

func (c *Client) releaseFilterArg(fromBlock uint64) map[string]any {
	return map[string]any{
		"fromBlock": hexutil.EncodeUint64(fromBlock),
		"address":   c.contract,
		"topics":    [][]common.Hash{{ReleaseTopic}},
	}
}

// NewReleaseFilter installs a node side log filter for release logs.
func (c *Client) NewReleaseFilter(ctx context.Context, fromBlock uint64) (string, error) {
	if c.raw == nil {
		return "", ErrNoRawCaller
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var id string
	if err := c.raw.CallContext(ctx, &id, "eth_newFilter", c.releaseFilterArg(fromBlock)); err != nil {
		return "", fmt.Errorf("install release filter: %w", err)
	}
	return id, nil
}

// ReleaseFilterChanges returns the logs matched since the previous poll.
func (c *Client) ReleaseFilterChanges(ctx context.Context, id string) ([]types.Log, error) {
	if c.raw == nil {
		return nil, ErrNoRawCaller
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var logs []types.Log
	if err := c.raw.CallContext(ctx, &logs, "eth_getFilterChanges", id); err != nil {
		return nil, fmt.Errorf("poll release filter %s: %w", id, err)
	}
	return logs, nil
}

func (c *Client) UninstallFilter(ctx context.Context, id string) (bool, error) {
	if c.raw == nil {
		return false, ErrNoRawCaller
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var ok bool
	if err := c.raw.CallContext(ctx, &ok, "eth_uninstallFilter", id); err != nil {
		return false, fmt.Errorf("uninstall filter %s: %w", id, err)
	}
	return ok, nil
}
