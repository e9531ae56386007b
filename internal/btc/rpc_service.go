package btc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
)

var ErrRPCTimeout = errors.New("source chain rpc timed out")

// BTCRPCService queries the source chain node. Every call is bounded by a
// timeout since rpcclient in HTTP post mode does not carry one.
type BTCRPCService struct {
	client        *rpcclient.Client
	timeout       time.Duration
	importTimeout time.Duration
}

// NewBTCRPCService creates a new instance of the RPC service. importTimeout
// bounds whole block downloads, timeout every other call.
func NewBTCRPCService(client *rpcclient.Client, timeout, importTimeout time.Duration) *BTCRPCService {
	return &BTCRPCService{
		client:        client,
		timeout:       timeout,
		importTimeout: importTimeout,
	}
}

// NewClient opens an HTTP post mode client, the only mode bitcoind speaks.
func NewClient(host, user, pass string) (*rpcclient.Client, error) {
	connConfig := &rpcclient.ConnConfig{
		Host:         host,
		User:         user,
		Pass:         pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}
	return rpcclient.New(connConfig, nil)
}

func withTimeout[T any](timeout time.Duration, call func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := call()
		done <- result{val, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.val, r.err
	case <-timer.C:
		var zero T
		return zero, fmt.Errorf("%w after %v", ErrRPCTimeout, timeout)
	}
}

// GetBlockCount returns the height of the node's best chain.
func (s *BTCRPCService) GetBlockCount() (int64, error) {
	count, err := withTimeout(s.timeout, s.client.GetBlockCount)
	if err != nil {
		return 0, fmt.Errorf("failed to get block count: %w", err)
	}
	return count, nil
}

func (s *BTCRPCService) GetBlockHash(height int64) (*chainhash.Hash, error) {
	hash, err := withTimeout(s.timeout, func() (*chainhash.Hash, error) {
		return s.client.GetBlockHash(height)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get block hash at height %d: %w", height, err)
	}
	return hash, nil
}

// GetRawBlock fetches the serialized block (getblock verbosity 0).
func (s *BTCRPCService) GetRawBlock(hash *chainhash.Hash) ([]byte, error) {
	params := []json.RawMessage{
		json.RawMessage(fmt.Sprintf("%q", hash.String())),
		json.RawMessage("0"),
	}
	res, err := withTimeout(s.importTimeout, func() (json.RawMessage, error) {
		return s.client.RawRequest("getblock", params)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get block %s: %w", hash, err)
	}

	var blockHex string
	if err := json.Unmarshal(res, &blockHex); err != nil {
		return nil, fmt.Errorf("failed to decode block %s: %w", hash, err)
	}
	raw, err := hex.DecodeString(blockHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode block %s hex: %w", hash, err)
	}
	return raw, nil
}

// GetBlockAtHeight resolves the hash at height and downloads the block.
func (s *BTCRPCService) GetBlockAtHeight(height int64) (*Block, error) {
	hash, err := s.GetBlockHash(height)
	if err != nil {
		return nil, err
	}
	raw, err := s.GetRawBlock(hash)
	if err != nil {
		return nil, err
	}
	block, err := NewBlock(height, raw)
	if err != nil {
		return nil, err
	}
	if block.Hash != *hash {
		return nil, fmt.Errorf("block at height %d hashes to %s, node reported %s", height, block.Hash, hash)
	}
	log.Debugf("RPC fetched block %d %s, %d bytes", height, block.Hash, len(raw))
	return block, nil
}

// SendRawTransaction broadcasts tx. exist reports that the node already
// had it in chain, which callers treat as success.
func (s *BTCRPCService) SendRawTransaction(tx *wire.MsgTx) (txHash string, exist bool, err error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", false, fmt.Errorf("failed to serialize tx: %w", err)
	}
	params := []json.RawMessage{json.RawMessage(fmt.Sprintf("%q", hex.EncodeToString(buf.Bytes())))}

	res, err := withTimeout(s.timeout, func() (json.RawMessage, error) {
		return s.client.RawRequest("sendrawtransaction", params)
	})
	if err != nil {
		var rpcErr *btcjson.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == btcjson.ErrRPCTxAlreadyInChain {
			return tx.TxHash().String(), true, nil
		}
		return "", false, fmt.Errorf("failed to send tx %s: %w", tx.TxHash(), err)
	}

	if err := json.Unmarshal(res, &txHash); err != nil {
		return "", false, fmt.Errorf("failed to decode sent tx hash: %w", err)
	}
	return txHash, false, nil
}

// GetRawTransaction looks a transaction up in the node's mempool or index.
func (s *BTCRPCService) GetRawTransaction(hash *chainhash.Hash) (*btcutil.Tx, error) {
	tx, err := withTimeout(s.timeout, func() (*btcutil.Tx, error) {
		return s.client.GetRawTransaction(hash)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get raw transaction %s: %w", hash, err)
	}
	return tx, nil
}
