package federation

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-errors/errors"
	"github.com/goatnetwork/peg-relayer/internal/types"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNoLocalKey        = errors.New("no local federator key")
	ErrAmbiguousLocalKey = errors.New("federator key must be unique per node")
)

// Accounts is the set of private keys this node holds, indexed by target-chain
// address.
type Accounts interface {
	Get(address common.Address) (*btcec.PrivateKey, bool)
}

// LocalKey is a private key held by this node together with its target-chain
// account.
type LocalKey struct {
	Address common.Address
	Private *btcec.PrivateKey
}

func (k *LocalKey) PublicKey() *btcec.PublicKey {
	return k.Private.PubKey()
}

func (k *LocalKey) ECDSA() *ecdsa.PrivateKey {
	return k.Private.ToECDSA()
}

type Keyring struct {
	mu   sync.RWMutex
	keys map[common.Address]*btcec.PrivateKey
}

func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[common.Address]*btcec.PrivateKey)}
}

func (k *Keyring) Add(priv *btcec.PrivateKey) common.Address {
	addr := types.TargetAddressFromPubKey(priv.PubKey())
	k.mu.Lock()
	k.keys[addr] = priv
	k.mu.Unlock()
	return addr
}

func (k *Keyring) AddHex(privateKeyHex string) (common.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != btcec.PrivKeyBytesLen {
		return common.Address{}, fmt.Errorf("private key must be %d bytes, got %d", btcec.PrivKeyBytesLen, len(raw))
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return k.Add(priv), nil
}

// LoadKeystore decrypts every key file in a go-ethereum keystore directory.
// Files that do not decrypt with password are skipped with a warning.
func (k *Keyring) LoadKeystore(dir, password string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read keystore dir: %w", err)
	}
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		keyJSON, err := os.ReadFile(path)
		if err != nil {
			log.Warnf("Skip keystore file %s: %v", path, err)
			continue
		}
		key, err := keystore.DecryptKey(keyJSON, password)
		if err != nil {
			log.Warnf("Skip keystore file %s: %v", path, err)
			continue
		}
		priv, _ := btcec.PrivKeyFromBytes(crypto.FromECDSA(key.PrivateKey))
		addr := k.Add(priv)
		log.Debugf("Loaded keystore account %s", addr.Hex())
		loaded++
	}
	return loaded, nil
}

func (k *Keyring) Get(address common.Address) (*btcec.PrivateKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	priv, ok := k.keys[address]
	return priv, ok
}

// Accounts lists the held addresses in ascending order.
func (k *Keyring) Accounts() []common.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()
	addrs := make([]common.Address, 0, len(k.keys))
	for addr := range k.keys {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].Cmp(addrs[j]) < 0
	})
	return addrs
}

func resolveHeldKey(keys []*btcec.PublicKey, accounts Accounts) (*LocalKey, error) {
	var found []*LocalKey
	for _, pub := range keys {
		addr := types.TargetAddressFromPubKey(pub)
		if priv, ok := accounts.Get(addr); ok {
			found = append(found, &LocalKey{Address: addr, Private: priv})
		}
	}
	switch len(found) {
	case 0:
		return nil, ErrNoLocalKey
	case 1:
		return found[0], nil
	default:
		addrs := make([]string, 0, len(found))
		for _, f := range found {
			addrs = append(addrs, f.Address.Hex())
		}
		return nil, fmt.Errorf("%w: node holds %s", ErrAmbiguousLocalKey, strings.Join(addrs, ", "))
	}
}

// ResolveLocalSigningKey returns the single federation member whose private
// key this node holds. Holding none or more than one is an error.
func ResolveLocalSigningKey(fed *Federation, accounts Accounts) (*LocalKey, error) {
	return resolveHeldKey(fed.PublicKeys(), accounts)
}

// ResolveAuthorizedKey applies the same rule to a governance key set.
func ResolveAuthorizedKey(auth *Authorizer, accounts Accounts) (*LocalKey, error) {
	return resolveHeldKey(auth.PublicKeys(), accounts)
}
