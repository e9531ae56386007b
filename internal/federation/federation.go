package federation

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/ethereum/go-ethereum/common"
	"github.com/goatnetwork/peg-relayer/internal/types"
)

// Federation is the immutable set of signers behind the bridge's multisig
// address on the source chain.
type Federation struct {
	keys      []*btcec.PublicKey
	quorum    types.Quorum
	createdAt time.Time
	net       *chaincfg.Params

	redeemScript []byte
	address      *btcutil.AddressScriptHash
}

// New sorts keys by their compressed encoding and derives the P2SH address of
// the M-of-N redeem script, M being quorum.MinimumRequired(N).
func New(keys []*btcec.PublicKey, quorum types.Quorum, createdAt time.Time, net *chaincfg.Params) (*Federation, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("federation without members")
	}
	sorted := make([]*btcec.PublicKey, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].SerializeCompressed(), sorted[j].SerializeCompressed()) < 0
	})

	pubs := make([]*btcutil.AddressPubKey, 0, len(sorted))
	for i, key := range sorted {
		if i > 0 && key.IsEqual(sorted[i-1]) {
			return nil, fmt.Errorf("duplicate federation member %x", key.SerializeCompressed())
		}
		pub, err := btcutil.NewAddressPubKey(key.SerializeCompressed(), net)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, pub)
	}

	redeemScript, err := txscript.MultiSigScript(pubs, quorum.MinimumRequired(len(pubs)))
	if err != nil {
		return nil, fmt.Errorf("build redeem script: %w", err)
	}
	address, err := btcutil.NewAddressScriptHash(redeemScript, net)
	if err != nil {
		return nil, fmt.Errorf("derive federation address: %w", err)
	}

	return &Federation{
		keys:         sorted,
		quorum:       quorum,
		createdAt:    createdAt,
		net:          net,
		redeemScript: redeemScript,
		address:      address,
	}, nil
}

// FromHex parses hex-encoded (compressed or uncompressed) member keys.
func FromHex(hexKeys []string, quorum types.Quorum, createdAt time.Time, net *chaincfg.Params) (*Federation, error) {
	keys, err := ParsePublicKeys(hexKeys)
	if err != nil {
		return nil, err
	}
	return New(keys, quorum, createdAt, net)
}

func ParsePublicKeys(hexKeys []string) ([]*btcec.PublicKey, error) {
	keys := make([]*btcec.PublicKey, 0, len(hexKeys))
	for _, s := range hexKeys {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return nil, fmt.Errorf("decode member key %q: %w", s, err)
		}
		key, err := btcec.ParsePubKey(raw)
		if err != nil {
			return nil, fmt.Errorf("parse member key %q: %w", s, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (f *Federation) Size() int {
	return len(f.keys)
}

func (f *Federation) MinimumRequired() int {
	return f.quorum.MinimumRequired(len(f.keys))
}

func (f *Federation) Quorum() types.Quorum {
	return f.quorum
}

func (f *Federation) CreatedAt() time.Time {
	return f.createdAt
}

func (f *Federation) Params() *chaincfg.Params {
	return f.net
}

// PublicKeys returns the members in federation order.
func (f *Federation) PublicKeys() []*btcec.PublicKey {
	keys := make([]*btcec.PublicKey, len(f.keys))
	copy(keys, f.keys)
	return keys
}

func (f *Federation) RedeemScript() []byte {
	return f.redeemScript
}

func (f *Federation) Address() *btcutil.AddressScriptHash {
	return f.address
}

// IsMember reports whether address is the target-chain account of one of the
// members.
func (f *Federation) IsMember(address common.Address) bool {
	return f.MemberFor(address) != nil
}

// MemberFor returns the member key controlling address, or nil.
func (f *Federation) MemberFor(address common.Address) *btcec.PublicKey {
	for _, key := range f.keys {
		if types.TargetAddressFromPubKey(key) == address {
			return key
		}
	}
	return nil
}
