package types

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrNoInputPubKey = errors.New("input does not reveal a public key")

func GetBTCNetwork(networkType string) *chaincfg.Params {
	switch networkType {
	case "", "mainnet":
		return &chaincfg.MainNetParams
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	case "signet":
		return &chaincfg.SigNetParams
	case "simnet":
		return &chaincfg.SimNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// TargetAddressFromPubKey derives the target-chain account controlled by pub.
func TargetAddressFromPubKey(pub *btcec.PublicKey) common.Address {
	return crypto.PubkeyToAddress(*pub.ToECDSA())
}

func GenerateP2PKHAddress(pubKey []byte, net *chaincfg.Params) (*btcutil.AddressPubKeyHash, error) {
	return btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubKey), net)
}

// InputSourceAddress resolves the P2PKH address of the key spending in. The
// key is taken from a `<sig> <pubkey>` script or a two-item witness.
func InputSourceAddress(in *wire.TxIn, net *chaincfg.Params) (*btcutil.AddressPubKeyHash, error) {
	var pubKey []byte
	chunks, err := ScriptChunks(in.SignatureScript)
	if err != nil {
		return nil, err
	}
	switch {
	case len(chunks) == 2:
		pubKey = chunks[1]
	case len(chunks) == 0 && len(in.Witness) == 2:
		pubKey = in.Witness[1]
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoInputPubKey, in.PreviousOutPoint)
	}
	if _, err := btcec.ParsePubKey(pubKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoInputPubKey, err)
	}
	return GenerateP2PKHAddress(pubKey, net)
}

// ScriptHashAddress returns the P2SH address an output pays, if any.
func ScriptHashAddress(pkScript []byte, net *chaincfg.Params) (btcutil.Address, bool) {
	class, addresses, _, err := txscript.ExtractPkScriptAddrs(pkScript, net)
	if err != nil || class != txscript.ScriptHashTy || len(addresses) != 1 {
		return nil, false
	}
	return addresses[0], true
}
