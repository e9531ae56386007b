package poller

import (
	"context"
	"crypto/ecdsa"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common"
	"github.com/goatnetwork/peg-relayer/internal/bridge"
	"github.com/goatnetwork/peg-relayer/internal/btc"
	"github.com/goatnetwork/peg-relayer/internal/relay"
	"github.com/goatnetwork/peg-relayer/internal/release"
)

type SourceChain interface {
	GetBlockCount() (int64, error)
	GetBlockAtHeight(height int64) (*btc.Block, error)
}

// Bridge is the read side of the bridge contract plus a way to act on it
// with a given key.
type Bridge interface {
	GetFederationAddress(ctx context.Context) (string, error)
	GetMinimumLockTxValue(ctx context.Context) (int64, error)
	IsTxHashAlreadyProcessed(ctx context.Context, txHash chainhash.Hash) (bool, error)
	Signer(key *ecdsa.PrivateKey) Signer
}

// Signer sends bridge transactions from one account.
type Signer interface {
	relay.Bridge
	release.Bridge
	From() common.Address
	RegisterTransaction(ctx context.Context, rawTx []byte, height int64, pmt []byte) (common.Hash, error)
	AuthorizeLockWhitelist(ctx context.Context, address string, amount int64) (bridge.WhitelistDecision, []common.Hash, error)
}

type clientBridge struct {
	*bridge.Client
}

// FromClient adapts a bridge client to the poller.
func FromClient(c *bridge.Client) Bridge {
	return clientBridge{c}
}

func (c clientBridge) Signer(key *ecdsa.PrivateKey) Signer {
	return c.Client.Transactor(key)
}
