package pegin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/goatnetwork/peg-relayer/internal/btc"
	"github.com/goatnetwork/peg-relayer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var params = &chaincfg.RegressionNetParams

type fakeBridge struct {
	processed map[chainhash.Hash]bool
	queried   []chainhash.Hash
	err       error
}

func (f *fakeBridge) IsTxHashAlreadyProcessed(ctx context.Context, txHash chainhash.Hash) (bool, error) {
	f.queried = append(f.queried, txHash)
	if f.err != nil {
		return false, f.err
	}
	return f.processed[txHash], nil
}

type mapSource map[int64]*btc.Block

func (m mapSource) GetBlockAtHeight(height int64) (*btc.Block, error) {
	if b, ok := m[height]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("no block at %d", height)
}

func federationAddress(t *testing.T) (btcutil.Address, []byte) {
	addr, err := btcutil.NewAddressScriptHash([]byte{txscript.OP_1, txscript.OP_CHECKSIG}, params)
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return addr, pkScript
}

// spendFrom builds an input signed in the `<sig> <pubkey>` form.
func spendFrom(t *testing.T, key *btcec.PrivateKey, prev byte) *wire.TxIn {
	script, err := txscript.NewScriptBuilder().
		AddData(bytes.Repeat([]byte{0x30}, 71)).
		AddData(key.PubKey().SerializeCompressed()).
		Script()
	require.NoError(t, err)
	return wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{prev}, 0), script, nil)
}

func coinbase(pkScript []byte) *wire.MsgTx {
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex), []byte{0x01, 0x02}, nil))
	tx.AddTxOut(wire.NewTxOut(50*types.COIN, pkScript))
	return tx
}

func buildBlock(t *testing.T, height int64, txs ...*wire.MsgTx) *btc.Block {
	hashes := make([]*chainhash.Hash, len(txs))
	for i, tx := range txs {
		h := tx.TxHash()
		hashes[i] = &h
	}
	msg := wire.NewMsgBlock(wire.NewBlockHeader(1, &chainhash.Hash{}, types.ComputeMerkleRoot(hashes), 0x207fffff, uint32(height)))
	msg.Header.Timestamp = time.Unix(1700000000+height, 0)
	for _, tx := range txs {
		require.NoError(t, msg.AddTransaction(tx))
	}
	var buf bytes.Buffer
	require.NoError(t, msg.Serialize(&buf))
	block, err := btc.NewBlock(height, buf.Bytes())
	require.NoError(t, err)
	return block
}

func p2pkh(t *testing.T, key *btcec.PrivateKey) string {
	addr, err := types.GenerateP2PKHAddress(key.PubKey().SerializeCompressed(), params)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

func TestScanBlockDeposit(t *testing.T) {
	fedAddr, fedScript := federationAddress(t)
	sender, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	deposit := wire.NewMsgTx(1)
	deposit.AddTxIn(spendFrom(t, sender, 1))
	deposit.AddTxOut(wire.NewTxOut(1_000_000, fedScript))
	deposit.AddTxOut(wire.NewTxOut(2_000_000, fedScript))

	other := wire.NewMsgTx(1)
	other.AddTxIn(spendFrom(t, sender, 2))
	other.AddTxOut(wire.NewTxOut(5_000_000, []byte{txscript.OP_TRUE}))

	block := buildBlock(t, 100, coinbase(fedScript), deposit, other)
	bridge := &fakeBridge{}
	scanner := NewScanner(bridge, fedAddr, params, 10, 1)
	scanner.SetMinimumLockValue(500_000)

	require.NoError(t, scanner.ScanBlock(context.Background(), block))

	// only the deposit reaches the bridge, the coinbase is never checked
	assert.Equal(t, []chainhash.Hash{deposit.TxHash()}, bridge.queried)

	transfers := scanner.Transfers()
	require.Len(t, transfers, 1)
	tr := transfers[0]
	assert.Equal(t, deposit.TxHash(), tr.TxHash)
	assert.Equal(t, int64(100), tr.Height)
	assert.Equal(t, int64(1_000_000), tr.Value)

	var raw bytes.Buffer
	require.NoError(t, deposit.Serialize(&raw))
	assert.Equal(t, raw.Bytes(), tr.RawTx)

	pmt, err := types.ParsePartialMerkleTree(tr.PMT)
	require.NoError(t, err)
	root, matches, err := pmt.ExtractMatches()
	require.NoError(t, err)
	msg, err := block.MsgBlock()
	require.NoError(t, err)
	assert.Equal(t, msg.Header.MerkleRoot, *root)
	assert.Equal(t, []chainhash.Hash{deposit.TxHash()}, matches)

	// a sub-coin deposit whitelists its sender for exactly one coin
	ceiling, ok := scanner.Whitelist().Ceiling(p2pkh(t, sender))
	require.True(t, ok)
	assert.Equal(t, types.COIN, ceiling)
	assert.Equal(t, 1, scanner.Whitelist().Len())

	// scanning the same block again adds nothing
	require.NoError(t, scanner.ScanBlock(context.Background(), block))
	assert.Len(t, scanner.Transfers(), 1)
	assert.Len(t, bridge.queried, 1)
}

func TestScanBlockAlreadyProcessed(t *testing.T) {
	fedAddr, fedScript := federationAddress(t)
	sender, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	deposit := wire.NewMsgTx(1)
	deposit.AddTxIn(spendFrom(t, sender, 3))
	deposit.AddTxOut(wire.NewTxOut(3*types.COIN, fedScript))

	bridge := &fakeBridge{processed: map[chainhash.Hash]bool{deposit.TxHash(): true}}
	scanner := NewScanner(bridge, fedAddr, params, 10, 1)

	require.NoError(t, scanner.ScanBlock(context.Background(), buildBlock(t, 7, coinbase(fedScript), deposit)))
	assert.Empty(t, scanner.Transfers())
	assert.Zero(t, scanner.Whitelist().Len())
}

func TestScanBlockErrors(t *testing.T) {
	fedAddr, fedScript := federationAddress(t)
	sender, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	deposit := wire.NewMsgTx(1)
	deposit.AddTxIn(spendFrom(t, sender, 4))
	deposit.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{5}, 1), []byte{txscript.OP_TRUE}, nil))
	deposit.AddTxOut(wire.NewTxOut(types.COIN, fedScript))
	block := buildBlock(t, 8, coinbase(fedScript), deposit)

	t.Run("bridge unavailable", func(t *testing.T) {
		scanner := NewScanner(&fakeBridge{err: errors.New("timeout")}, fedAddr, params, 10, 1)
		assert.ErrorContains(t, scanner.ScanBlock(context.Background(), block), "timeout")
		assert.Empty(t, scanner.Transfers())
	})

	t.Run("unresolvable input is skipped", func(t *testing.T) {
		scanner := NewScanner(&fakeBridge{}, fedAddr, params, 10, 1)
		require.NoError(t, scanner.ScanBlock(context.Background(), block))
		assert.Len(t, scanner.Transfers(), 1)
		assert.Equal(t, []string{p2pkh(t, sender)}, scanner.Whitelist().Addresses())
	})

	t.Run("truncated block is skipped", func(t *testing.T) {
		truncated, err := btc.NewBlock(9, block.Raw[:btc.HeaderSize+1])
		require.NoError(t, err)
		scanner := NewScanner(&fakeBridge{}, fedAddr, params, 10, 1)
		require.NoError(t, scanner.ScanBlock(context.Background(), truncated))
		assert.Empty(t, scanner.Transfers())
	})
}

func TestObserveHeader(t *testing.T) {
	fedAddr, fedScript := federationAddress(t)
	sender, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	deposit := wire.NewMsgTx(1)
	deposit.AddTxIn(spendFrom(t, sender, 6))
	deposit.AddTxOut(wire.NewTxOut(types.COIN, fedScript))

	source := mapSource{4: buildBlock(t, 4, coinbase(fedScript), deposit)}
	cache := btc.NewBlockCache(source)
	scanner := NewScanner(&fakeBridge{}, fedAddr, params, 6, 1)

	// not deep enough yet
	require.NoError(t, scanner.ObserveHeader(context.Background(), 6, cache))
	assert.Zero(t, cache.Len())

	require.NoError(t, scanner.ObserveHeader(context.Background(), 10, cache))
	require.Len(t, scanner.Transfers(), 1)
	assert.Equal(t, int64(4), scanner.Transfers()[0].Height)

	assert.Error(t, scanner.ObserveHeader(context.Background(), 11, cache))
}

func TestWhitelistMonotonic(t *testing.T) {
	w := NewWhitelist(1)

	assert.Equal(t, types.COIN, w.Observe("x", types.COIN/2))
	assert.Equal(t, 3*types.COIN, w.Observe("x", 5*types.COIN/2))
	assert.Equal(t, 3*types.COIN, w.Observe("x", 1))
	assert.Equal(t, 2*types.COIN, w.Observe("y", 2*types.COIN))

	ceiling, ok := w.Ceiling("x")
	assert.True(t, ok)
	assert.Equal(t, 3*types.COIN, ceiling)
	assert.Equal(t, []string{"x", "y"}, w.Addresses())

	_, ok = w.Ceiling("z")
	assert.False(t, ok)

	tens := NewWhitelist(10)
	assert.Equal(t, 10*types.COIN, tens.Observe("x", 1))
}
