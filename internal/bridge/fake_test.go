package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var testChainID = big.NewInt(33)

type sentTx struct {
	Op   Op
	Args []any
	Tx   *types.Transaction
}

type callHandler func(from common.Address, args []any) ([]any, error)

type fakeBackend struct {
	mu           sync.Mutex
	handlers     map[Op]callHandler
	calls        []Op
	sent         []sentTx
	nonce        uint64
	block        uint64
	estimateErrs int
	sendErr      error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{handlers: make(map[Op]callHandler)}
}

func (f *fakeBackend) on(op Op, h callHandler) {
	f.handlers[op] = h
}

func (f *fakeBackend) PendingCallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	op, args, err := unpackArgs(msg.Data)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, op)
	h, ok := f.handlers[op]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no handler for %s", op)
	}
	out, err := h(msg.From, args)
	if err != nil {
		return nil, err
	}
	return bridgeABI.Methods[op.Method()].Outputs.Pack(out...)
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(60_000_000), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.estimateErrs > 0 {
		f.estimateErrs--
		return 0, errors.New("estimate failed")
	}
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	op, args, err := unpackArgs(tx.Data())
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentTx{Op: op, Args: args, Tx: tx})
	f.nonce++
	return nil
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block++
	return f.block, nil
}

func (f *fakeBackend) sentOps() []Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]Op, 0, len(f.sent))
	for _, s := range f.sent {
		ops = append(ops, s.Op)
	}
	return ops
}

type fakeRaw struct {
	mu      sync.Mutex
	methods []string
	args    [][]any
	results map[string]any
	errs    map[string]error
}

func (f *fakeRaw) CallContext(ctx context.Context, result any, method string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.methods = append(f.methods, method)
	f.args = append(f.args, args)
	if err := f.errs[method]; err != nil {
		return err
	}
	v, ok := f.results[method]
	if !ok || result == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, result)
}

func newTestClient(t *testing.T, opts ...Option) (*Client, *fakeBackend, *fakeRaw) {
	backend := newFakeBackend()
	raw := &fakeRaw{results: map[string]any{}, errs: map[string]error{}}
	opts = append([]Option{WithRetry(3, 0)}, opts...)
	return NewClient(backend, raw, DefaultAddress, testChainID, opts...), backend, raw
}

func newTestTransactor(t *testing.T, opts ...Option) (*Transactor, *fakeBackend, *fakeRaw) {
	client, backend, raw := newTestClient(t, opts...)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return client.Transactor(key), backend, raw
}

// unpackArgs decodes call data built with Pack, selector included.
func unpackArgs(data []byte) (Op, []any, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("call data too short: %d bytes", len(data))
	}
	method, err := bridgeABI.MethodById(data[:4])
	if err != nil {
		return 0, nil, err
	}
	for op, entry := range opTable {
		if entry.method == method.Name {
			args, err := method.Inputs.Unpack(data[4:])
			if err != nil {
				return 0, nil, fmt.Errorf("unpack %s args: %w", method.Name, err)
			}
			return op, args, nil
		}
	}
	return 0, nil, fmt.Errorf("method %s is not a bridge op", method.Name)
}
