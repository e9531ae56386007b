package bridge

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ContractBackend is the part of ethclient.Client the bridge client needs.
type ContractBackend interface {
	PendingCallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	BlockNumber(ctx context.Context) (uint64, error)
}

// RawCaller issues JSON-RPC methods ethclient does not wrap, *rpc.Client
// satisfies it.
type RawCaller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

type Option func(*Client)

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

func WithMineMode(mode MineMode, pollInterval time.Duration) Option {
	return func(c *Client) {
		c.mineMode = mode
		c.minePoll = pollInterval
	}
}

func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryDelay = delay
	}
}

// Client speaks to the bridge contract. Calls go through PendingCallContract
// so they observe transactions sent earlier in the same cycle.
type Client struct {
	backend  ContractBackend
	raw      RawCaller
	contract common.Address
	chainID  *big.Int

	timeout    time.Duration
	mineMode   MineMode
	minePoll   time.Duration
	maxRetries int
	retryDelay time.Duration
}

func NewClient(backend ContractBackend, raw RawCaller, contract common.Address, chainID *big.Int, opts ...Option) *Client {
	c := &Client{
		backend:    backend,
		raw:        raw,
		contract:   contract,
		chainID:    chainID,
		timeout:    10 * time.Second,
		mineMode:   MineNone,
		minePoll:   time.Second,
		maxRetries: 3,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Contract() common.Address {
	return c.contract
}

func (c *Client) call(ctx context.Context, from common.Address, op Op, args ...any) ([]any, error) {
	data, err := op.Pack(args...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ret, err := c.backend.PendingCallContract(ctx, ethereum.CallMsg{
		From: from,
		To:   &c.contract,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", op, err)
	}
	return op.Unpack(ret)
}

// BlockNumber returns the target chain's block count.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.backend.BlockNumber(ctx)
}

// Transactor sends bridge transactions signed by one local key.
type Transactor struct {
	*Client
	key  *ecdsa.PrivateKey
	from common.Address
}

func (c *Client) Transactor(key *ecdsa.PrivateKey) *Transactor {
	return &Transactor{
		Client: c,
		key:    key,
		from:   crypto.PubkeyToAddress(key.PublicKey),
	}
}

func (t *Transactor) From() common.Address {
	return t.from
}

// retry calls call up to maxRetries times, waiting retryDelay in between.
// It gives up early once ctx is done.
func retry[T any](ctx context.Context, t *Transactor, call func() (T, error)) (T, error) {
	var val T
	var err error
	attempts := max(t.maxRetries, 1)
	for i := 0; i < attempts; i++ {
		val, err = call()
		if err == nil {
			return val, nil
		}
		if i+1 < attempts {
			select {
			case <-ctx.Done():
				return val, err
			case <-time.After(t.retryDelay):
			}
		}
	}
	return val, err
}

// send signs and submits op. It returns once the node accepted the
// transaction, inclusion is left to Mine and to the next cycle's queries.
func (t *Transactor) send(ctx context.Context, op Op, args ...any) (common.Hash, error) {
	data, err := op.Pack(args...)
	if err != nil {
		return common.Hash{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	nonce, err := retry(ctx, t, func() (uint64, error) {
		return t.backend.PendingNonceAt(ctx, t.from)
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s nonce: %w", op, err)
	}

	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s gas price: %w", op, err)
	}

	msg := ethereum.CallMsg{
		From:     t.from,
		To:       &t.contract,
		GasPrice: gasPrice,
		Data:     data,
	}
	gasLimit, err := retry(ctx, t, func() (uint64, error) {
		return t.backend.EstimateGas(ctx, msg)
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s estimate gas: %w", op, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &t.contract,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(t.chainID), t.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s sign: %w", op, err)
	}
	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("%s send: %w", op, err)
	}
	return signed.Hash(), nil
}
