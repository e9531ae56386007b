package bridge

import (
	"context"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common"
)

func int64Result(op Op, out []any) (int64, error) {
	if len(out) != 1 {
		return 0, fmt.Errorf("%s returned %d values", op, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok || !v.IsInt64() {
		return 0, fmt.Errorf("%s returned %v, want int64", op, out[0])
	}
	return v.Int64(), nil
}

func (c *Client) GetFederationAddress(ctx context.Context) (string, error) {
	out, err := c.call(ctx, common.Address{}, OpGetFederationAddress)
	if err != nil {
		return "", err
	}
	addr, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("%s returned %T", OpGetFederationAddress, out[0])
	}
	return addr, nil
}

// GetBestChainHeight returns the height of the best source chain header the
// bridge knows.
func (c *Client) GetBestChainHeight(ctx context.Context) (int64, error) {
	out, err := c.call(ctx, common.Address{}, OpGetBestChainHeight)
	if err != nil {
		return 0, err
	}
	return int64Result(OpGetBestChainHeight, out)
}

func (c *Client) IsTxHashAlreadyProcessed(ctx context.Context, txHash chainhash.Hash) (bool, error) {
	out, err := c.call(ctx, common.Address{}, OpIsTxHashAlreadyProcessed, txHash.String())
	if err != nil {
		return false, err
	}
	processed, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s returned %T", OpIsTxHashAlreadyProcessed, out[0])
	}
	return processed, nil
}

func (c *Client) GetMinimumLockTxValue(ctx context.Context) (int64, error) {
	out, err := c.call(ctx, common.Address{}, OpGetMinimumLockTxValue)
	if err != nil {
		return 0, err
	}
	return int64Result(OpGetMinimumLockTxValue, out)
}

// GetStateForReleaseClient returns the releases still waiting for
// signatures, in the order the bridge lists them.
func (c *Client) GetStateForReleaseClient(ctx context.Context) ([]PendingSignature, error) {
	out, err := c.call(ctx, common.Address{}, OpGetStateForReleaseClient)
	if err != nil {
		return nil, err
	}
	state, ok := out[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("%s returned %T", OpGetStateForReleaseClient, out[0])
	}
	return DecodeReleaseState(state)
}

// ProbeReceiveHeaders dry-runs receiveHeaders and returns the hashes of the
// headers the bridge already has.
func (t *Transactor) ProbeReceiveHeaders(ctx context.Context, headers [][]byte) ([]chainhash.Hash, error) {
	out, err := t.call(ctx, t.from, OpReceiveHeaders, headers)
	if err != nil {
		return nil, err
	}
	strs, ok := out[0].([]string)
	if !ok {
		return nil, fmt.Errorf("%s returned %T", OpReceiveHeaders, out[0])
	}
	hashes := make([]chainhash.Hash, 0, len(strs))
	for _, s := range strs {
		h, err := chainhash.NewHashFromStr(s)
		if err != nil {
			return nil, fmt.Errorf("%s returned bad block hash %q: %w", OpReceiveHeaders, s, err)
		}
		hashes = append(hashes, *h)
	}
	return hashes, nil
}

func (t *Transactor) ReceiveHeaders(ctx context.Context, headers [][]byte) (common.Hash, error) {
	return t.send(ctx, OpReceiveHeaders, headers)
}

// RegisterTransaction submits a peg-in with its inclusion proof.
func (t *Transactor) RegisterTransaction(ctx context.Context, rawTx []byte, height int64, pmt []byte) (common.Hash, error) {
	return t.send(ctx, OpRegisterTransaction, rawTx, big.NewInt(height), pmt)
}

// AddSignature submits one signature per input of the release identified by
// the target chain tx hash.
func (t *Transactor) AddSignature(ctx context.Context, pubKey []byte, signatures [][]byte, releaseHash common.Hash) (common.Hash, error) {
	return t.send(ctx, OpAddSignature, pubKey, signatures, releaseHash.Bytes())
}

func (t *Transactor) UpdateCollections(ctx context.Context) (common.Hash, error) {
	return t.send(ctx, OpUpdateCollections)
}

func (t *Transactor) AddLockWhitelistAddress(ctx context.Context, address string, maxValue int64) (common.Hash, error) {
	return t.send(ctx, OpAddLockWhitelistAddress, address, big.NewInt(maxValue))
}

func (t *Transactor) RemoveLockWhitelistAddress(ctx context.Context, address string) (common.Hash, error) {
	return t.send(ctx, OpRemoveLockWhitelistAddress, address)
}
