package poller

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goatnetwork/peg-relayer/internal/bridge"
	"github.com/goatnetwork/peg-relayer/internal/btc"
	"github.com/goatnetwork/peg-relayer/internal/types"
	"github.com/stretchr/testify/require"
)

var params = &chaincfg.RegressionNetParams

func testKey(seed string) *btcec.PrivateKey {
	sum := sha256.Sum256([]byte(seed))
	key, _ := btcec.PrivKeyFromBytes(sum[:])
	return key
}

type fakeSource struct {
	count  int64
	blocks map[int64]*btc.Block
}

func (s *fakeSource) GetBlockCount() (int64, error) {
	return s.count, nil
}

func (s *fakeSource) GetBlockAtHeight(height int64) (*btc.Block, error) {
	if b, ok := s.blocks[height]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("no block at %d", height)
}

type call struct {
	From common.Address
	Op   string
	Args []any
}

// fakeBridge is the whole contract; signers share it and tag their calls.
type fakeBridge struct {
	mu sync.Mutex

	fedAddress    string
	fedAddressErr error
	bestHeight    int64
	bestErr       error
	minLock       int64
	processed     map[chainhash.Hash]bool
	blockNumber   uint64
	pending       []bridge.PendingSignature
	whitelist     map[string]int64
	registerErr   error

	calls []call
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		minLock:   500_000,
		processed: make(map[chainhash.Hash]bool),
		whitelist: make(map[string]int64),
	}
}

func (b *fakeBridge) log(from common.Address, op string, args ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call{From: from, Op: op, Args: args})
}

func (b *fakeBridge) callsOf(op string) []call {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []call
	for _, c := range b.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (b *fakeBridge) GetFederationAddress(ctx context.Context) (string, error) {
	return b.fedAddress, b.fedAddressErr
}

func (b *fakeBridge) GetMinimumLockTxValue(ctx context.Context) (int64, error) {
	return b.minLock, nil
}

func (b *fakeBridge) IsTxHashAlreadyProcessed(ctx context.Context, txHash chainhash.Hash) (bool, error) {
	return b.processed[txHash], nil
}

func (b *fakeBridge) Signer(key *ecdsa.PrivateKey) Signer {
	return &fakeSigner{fakeBridge: b, from: crypto.PubkeyToAddress(key.PublicKey)}
}

type fakeSigner struct {
	*fakeBridge
	from common.Address
}

func (s *fakeSigner) From() common.Address {
	return s.from
}

func (s *fakeSigner) GetBestChainHeight(ctx context.Context) (int64, error) {
	return s.bestHeight, s.bestErr
}

func (s *fakeSigner) ProbeReceiveHeaders(ctx context.Context, headers [][]byte) ([]chainhash.Hash, error) {
	s.log(s.from, "probeHeaders", len(headers))
	return nil, nil
}

func (s *fakeSigner) ReceiveHeaders(ctx context.Context, headers [][]byte) (common.Hash, error) {
	s.log(s.from, "receiveHeaders", len(headers))
	return common.Hash{0x01}, nil
}

func (s *fakeSigner) Mine(ctx context.Context) error {
	s.log(s.from, "mine")
	return nil
}

func (s *fakeSigner) BlockNumber(ctx context.Context) (uint64, error) {
	return s.blockNumber, nil
}

func (s *fakeSigner) UpdateCollections(ctx context.Context) (common.Hash, error) {
	s.log(s.from, "updateCollections")
	return common.Hash{0x02}, nil
}

func (s *fakeSigner) GetStateForReleaseClient(ctx context.Context) ([]bridge.PendingSignature, error) {
	return s.pending, nil
}

func (s *fakeSigner) AddSignature(ctx context.Context, pubKey []byte, sigs [][]byte, releaseHash common.Hash) (common.Hash, error) {
	s.log(s.from, "addSignature", releaseHash)
	return common.Hash{0x03}, nil
}

func (s *fakeSigner) RegisterTransaction(ctx context.Context, rawTx []byte, height int64, pmt []byte) (common.Hash, error) {
	s.log(s.from, "register", height)
	if s.registerErr != nil {
		return common.Hash{}, s.registerErr
	}
	return common.Hash{0x04}, nil
}

func (s *fakeSigner) AuthorizeLockWhitelist(ctx context.Context, address string, amount int64) (bridge.WhitelistDecision, []common.Hash, error) {
	s.log(s.from, "whitelist", address, amount)
	d := bridge.WhitelistDecision{Address: address, Amount: amount, Current: s.whitelist[address]}
	switch {
	case d.Current == 0:
		d.Action = bridge.WhitelistAdd
	case amount > d.Current:
		d.Action = bridge.WhitelistReplace
	default:
		return d, nil, nil
	}
	s.whitelist[address] = amount
	return d, []common.Hash{{0x05}}, nil
}

func coinbase(height int64) *wire.MsgTx {
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex), []byte{byte(height), 0x01}, nil))
	tx.AddTxOut(wire.NewTxOut(50*types.COIN, []byte{txscript.OP_TRUE}))
	return tx
}

func buildBlock(t *testing.T, height int64, txs ...*wire.MsgTx) *btc.Block {
	txs = append([]*wire.MsgTx{coinbase(height)}, txs...)
	hashes := make([]*chainhash.Hash, len(txs))
	for i, tx := range txs {
		h := tx.TxHash()
		hashes[i] = &h
	}
	msg := wire.NewMsgBlock(wire.NewBlockHeader(1, &chainhash.Hash{byte(height)}, types.ComputeMerkleRoot(hashes), 0x207fffff, uint32(height)))
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

// depositTx pays value to pkScript from an input revealing sender's key.
func depositTx(t *testing.T, sender *btcec.PrivateKey, pkScript []byte, value int64) *wire.MsgTx {
	sigScript, err := txscript.NewScriptBuilder().
		AddData(bytes.Repeat([]byte{0x30}, 71)).
		AddData(sender.PubKey().SerializeCompressed()).
		Script()
	require.NoError(t, err)
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{0xee}, 0), sigScript, nil))
	tx.AddTxOut(wire.NewTxOut(value, pkScript))
	return tx
}
