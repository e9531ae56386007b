package federation

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/goatnetwork/peg-relayer/internal/types"
)

// Authorizer is the key set allowed to vote on one kind of governance change
// (federation change, lock whitelist, fee per kb).
type Authorizer struct {
	keys   []*btcec.PublicKey
	quorum types.Quorum
}

func NewAuthorizer(keys []*btcec.PublicKey, quorum types.Quorum) *Authorizer {
	return &Authorizer{keys: keys, quorum: quorum}
}

func AuthorizerFromHex(hexKeys []string, quorum types.Quorum) (*Authorizer, error) {
	keys, err := ParsePublicKeys(hexKeys)
	if err != nil {
		return nil, err
	}
	return NewAuthorizer(keys, quorum), nil
}

func (a *Authorizer) RequiredSignatures() int {
	return a.quorum.MinimumRequired(len(a.keys))
}

func (a *Authorizer) IsAuthorized(address common.Address) bool {
	for _, key := range a.keys {
		if types.TargetAddressFromPubKey(key) == address {
			return true
		}
	}
	return false
}

func (a *Authorizer) PublicKeys() []*btcec.PublicKey {
	return a.keys
}
