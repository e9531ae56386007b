package dispatcher

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goatnetwork/peg-relayer/internal/bridge"
)

var (
	testContract = bridge.DefaultAddress
	otherAddress = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

func btcTx(seed uint32) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{byte(seed)}, seed), nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(seed)*1000, []byte{0x51}))
	return tx
}

func targetTx(nonce uint64, to common.Address) *types.Transaction {
	return types.NewTx(&types.LegacyTx{Nonce: nonce, To: &to, Gas: 21000, GasPrice: big.NewInt(1)})
}

func releaseLog(releaseHash common.Hash, tx *wire.MsgTx) *types.Log {
	data, err := bridge.EncodeReleaseLog(releaseHash, tx)
	if err != nil {
		panic(err)
	}
	return &types.Log{Address: testContract, Topics: []common.Hash{bridge.ReleaseTopic}, Data: data}
}

type fakeChain struct {
	mu       sync.Mutex
	head     uint64
	blocks   map[uint64]*types.Block
	receipts map[common.Hash]*types.Receipt
	fetched  []uint64
}

func newFakeChain(head uint64) *fakeChain {
	return &fakeChain{
		head:     head,
		blocks:   make(map[uint64]*types.Block),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (c *fakeChain) setHead(head uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = head
}

func (c *fakeChain) addBlock(number uint64, txs []*types.Transaction, receipts ...*types.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	header := &types.Header{Number: new(big.Int).SetUint64(number)}
	c.blocks[number] = types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: txs})
	for i, r := range receipts {
		c.receipts[txs[i].Hash()] = r
	}
}

func (c *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *fakeChain) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := number.Uint64()
	c.fetched = append(c.fetched, n)
	if b, ok := c.blocks[n]; ok {
		return b, nil
	}
	header := &types.Header{Number: new(big.Int).SetUint64(n)}
	return types.NewBlockWithHeader(header), nil
}

func (c *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.receipts[txHash]; ok {
		return r, nil
	}
	return nil, errors.New("not found")
}

func (c *fakeChain) fetchedBlocks() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.fetched...)
}

type fakeFilter struct {
	mu          sync.Mutex
	installed   []uint64
	changes     [][]types.Log
	changesErr  error
	uninstalled []string
}

func (f *fakeFilter) NewReleaseFilter(ctx context.Context, fromBlock uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed = append(f.installed, fromBlock)
	return "0x1", nil
}

func (f *fakeFilter) ReleaseFilterChanges(ctx context.Context, id string) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.changesErr != nil {
		return nil, f.changesErr
	}
	if len(f.changes) == 0 {
		return nil, nil
	}
	next := f.changes[0]
	f.changes = f.changes[1:]
	return next, nil
}

func (f *fakeFilter) UninstallFilter(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uninstalled = append(f.uninstalled, id)
	return true, nil
}

type fakeSource struct {
	sent    []chainhash.Hash
	results map[chainhash.Hash]sendResult
	known   map[chainhash.Hash]bool
}

type sendResult struct {
	exist bool
	err   error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		results: make(map[chainhash.Hash]sendResult),
		known:   make(map[chainhash.Hash]bool),
	}
}

func (s *fakeSource) SendRawTransaction(tx *wire.MsgTx) (string, bool, error) {
	h := tx.TxHash()
	s.sent = append(s.sent, h)
	r := s.results[h]
	return h.String(), r.exist, r.err
}

func (s *fakeSource) GetRawTransaction(hash *chainhash.Hash) (*btcutil.Tx, error) {
	if s.known[*hash] {
		return btcutil.NewTx(wire.NewMsgTx(2)), nil
	}
	return nil, errors.New("No such mempool or blockchain transaction")
}
