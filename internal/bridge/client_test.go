package bridge

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpTable(t *testing.T) {
	for op := OpGetFederationAddress; op <= OpRemoveLockWhitelistAddress; op++ {
		_, ok := bridgeABI.Methods[op.Method()]
		assert.True(t, ok, "op %d has no abi method", op)
	}

	assert.Equal(t, KindCall, OpGetStateForReleaseClient.Kind())
	assert.Equal(t, KindTransaction, OpAddSignature.Kind())
	assert.Equal(t, KindProbeTransaction, OpReceiveHeaders.Kind())
	assert.Equal(t, KindProbeTransaction, OpAddLockWhitelistAddress.Kind())
	assert.Equal(t, "op(99)", Op(99).String())

	_, err := Op(99).Pack()
	assert.Error(t, err)
}

func TestCalls(t *testing.T) {
	ctx := context.Background()
	client, backend, _ := newTestClient(t)

	backend.on(OpGetBestChainHeight, func(from common.Address, args []any) ([]any, error) {
		return []any{big.NewInt(1200)}, nil
	})
	backend.on(OpGetMinimumLockTxValue, func(from common.Address, args []any) ([]any, error) {
		return []any{big.NewInt(1_000_000)}, nil
	})
	backend.on(OpGetFederationAddress, func(from common.Address, args []any) ([]any, error) {
		return []any{"2NCEo1RdmGDj6MqiipD6DUSerSxKv79FNWX"}, nil
	})
	processed := chaincfg.MainNetParams.GenesisBlock.Transactions[0].TxHash()
	backend.on(OpIsTxHashAlreadyProcessed, func(from common.Address, args []any) ([]any, error) {
		return []any{args[0].(string) == processed.String()}, nil
	})

	height, err := client.GetBestChainHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), height)

	minValue, err := client.GetMinimumLockTxValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), minValue)

	addr, err := client.GetFederationAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2NCEo1RdmGDj6MqiipD6DUSerSxKv79FNWX", addr)

	ok, err := client.IsTxHashAlreadyProcessed(ctx, processed)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = client.IsTxHashAlreadyProcessed(ctx, chainhash.Hash{1})
	require.NoError(t, err)
	assert.False(t, ok)

	backend.on(OpGetBestChainHeight, func(from common.Address, args []any) ([]any, error) {
		return nil, errors.New("node down")
	})
	_, err = client.GetBestChainHeight(ctx)
	assert.ErrorContains(t, err, "node down")
}

func TestProbeReceiveHeaders(t *testing.T) {
	tr, backend, _ := newTestTransactor(t)
	known := *chaincfg.TestNet3Params.GenesisHash

	var probedFrom common.Address
	var probed [][]byte
	backend.on(OpReceiveHeaders, func(from common.Address, args []any) ([]any, error) {
		probedFrom = from
		probed = args[0].([][]byte)
		return []any{[]string{known.String()}}, nil
	})

	headers := [][]byte{make([]byte, 80), append(make([]byte, 79), 1)}
	redundant, err := tr.ProbeReceiveHeaders(context.Background(), headers)
	require.NoError(t, err)
	assert.Equal(t, []chainhash.Hash{known}, redundant)
	assert.Equal(t, tr.From(), probedFrom)
	assert.Equal(t, headers, probed)
	assert.Empty(t, backend.sent)

	backend.on(OpReceiveHeaders, func(from common.Address, args []any) ([]any, error) {
		return []any{[]string{"not a hash"}}, nil
	})
	_, err = tr.ProbeReceiveHeaders(context.Background(), headers)
	assert.Error(t, err)
}

func TestTransactorSend(t *testing.T) {
	ctx := context.Background()
	tr, backend, _ := newTestTransactor(t)
	backend.estimateErrs = 2

	_, err := tr.UpdateCollections(ctx)
	require.NoError(t, err)
	txHash, err := tr.RegisterTransaction(ctx, []byte{0xde, 0xad}, 812, []byte{0x01})
	require.NoError(t, err)

	require.Len(t, backend.sent, 2)
	assert.Equal(t, []Op{OpUpdateCollections, OpRegisterTransaction}, backend.sentOps())

	reg := backend.sent[1]
	assert.Equal(t, txHash, reg.Tx.Hash())
	assert.Equal(t, uint64(1), reg.Tx.Nonce())
	assert.Equal(t, DefaultAddress, *reg.Tx.To())
	assert.Equal(t, uint64(100_000), reg.Tx.Gas())
	assert.Equal(t, []byte{0xde, 0xad}, reg.Args[0])
	assert.Equal(t, big.NewInt(812), reg.Args[1])
	assert.Equal(t, []byte{0x01}, reg.Args[2])

	sender, err := types.Sender(types.LatestSignerForChainID(testChainID), reg.Tx)
	require.NoError(t, err)
	assert.Equal(t, tr.From(), sender)
	assert.Equal(t, testChainID, reg.Tx.ChainId())

	backend.estimateErrs = 3
	_, err = tr.UpdateCollections(ctx)
	assert.ErrorContains(t, err, "estimate gas")
	assert.Len(t, backend.sent, 2)

	backend.sendErr = errors.New("nonce too low")
	_, err = tr.UpdateCollections(ctx)
	assert.ErrorContains(t, err, "nonce too low")
}

func TestAddSignature(t *testing.T) {
	tr, backend, _ := newTestTransactor(t)
	release := common.HexToHash("0x01020304")
	sigs := [][]byte{{0x30, 0x01}, {0x30, 0x02}}

	_, err := tr.AddSignature(context.Background(), []byte{0x02, 0xaa}, sigs, release)
	require.NoError(t, err)

	require.Len(t, backend.sent, 1)
	args := backend.sent[0].Args
	assert.Equal(t, []byte{0x02, 0xaa}, args[0])
	assert.Equal(t, sigs, args[1])
	assert.Equal(t, release.Bytes(), args[2])
}

func TestRetry(t *testing.T) {
	tr, _, _ := newTestTransactor(t)

	calls := 0
	n, err := retry(context.Background(), tr, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection reset")
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsWhenContextDone(t *testing.T) {
	tr, _, _ := newTestTransactor(t, WithRetry(5, time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	start := time.Now()
	_, err := retry(ctx, tr, func() (int, error) {
		calls++
		return 0, errors.New("connection refused")
	})
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Minute)
}
