package bridge

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultAddress is where the bridge lives on every target network.
var DefaultAddress = common.HexToAddress("0x0000000000000000000000000000000001000006")

const BridgeABI = `[
	{"type":"function","name":"getFederationAddress","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"getBtcBlockchainBestChainHeight","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"int256"}]},
	{"type":"function","name":"isBtcTxHashAlreadyProcessed","stateMutability":"view","inputs":[{"name":"hash","type":"string"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"getMinimumLockTxValue","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"int256"}]},
	{"type":"function","name":"getStateForBtcReleaseClient","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes"}]},
	{"type":"function","name":"receiveHeaders","stateMutability":"nonpayable","inputs":[{"name":"blocks","type":"bytes[]"}],"outputs":[{"name":"","type":"string[]"}]},
	{"type":"function","name":"registerBtcTransaction","stateMutability":"nonpayable","inputs":[{"name":"tx","type":"bytes"},{"name":"height","type":"int256"},{"name":"pmt","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"addSignature","stateMutability":"nonpayable","inputs":[{"name":"pubkey","type":"bytes"},{"name":"signatures","type":"bytes[]"},{"name":"txhash","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"updateCollections","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"addLockWhitelistAddress","stateMutability":"nonpayable","inputs":[{"name":"address","type":"string"},{"name":"maxTransferValue","type":"int256"}],"outputs":[{"name":"","type":"int256"}]},
	{"type":"function","name":"removeLockWhitelistAddress","stateMutability":"nonpayable","inputs":[{"name":"address","type":"string"}],"outputs":[{"name":"","type":"int256"}]}
]`

var bridgeABI = mustParseABI(BridgeABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid bridge abi: %v", err))
	}
	return parsed
}

// Kind tells whether an operation only reads pending state or must be
// signed and mined.
type Kind int

const (
	KindCall Kind = iota
	KindTransaction
	// KindProbeTransaction ops are dry-run as a call first, the result
	// decides whether the transaction is sent.
	KindProbeTransaction
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindTransaction:
		return "transaction"
	case KindProbeTransaction:
		return "probe+transaction"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type Op int

const (
	OpGetFederationAddress Op = iota
	OpGetBestChainHeight
	OpIsTxHashAlreadyProcessed
	OpGetMinimumLockTxValue
	OpGetStateForReleaseClient
	OpReceiveHeaders
	OpRegisterTransaction
	OpAddSignature
	OpUpdateCollections
	OpAddLockWhitelistAddress
	OpRemoveLockWhitelistAddress
)

var opTable = map[Op]struct {
	method string
	kind   Kind
}{
	OpGetFederationAddress:       {"getFederationAddress", KindCall},
	OpGetBestChainHeight:         {"getBtcBlockchainBestChainHeight", KindCall},
	OpIsTxHashAlreadyProcessed:   {"isBtcTxHashAlreadyProcessed", KindCall},
	OpGetMinimumLockTxValue:      {"getMinimumLockTxValue", KindCall},
	OpGetStateForReleaseClient:   {"getStateForBtcReleaseClient", KindCall},
	OpReceiveHeaders:             {"receiveHeaders", KindProbeTransaction},
	OpRegisterTransaction:        {"registerBtcTransaction", KindTransaction},
	OpAddSignature:               {"addSignature", KindTransaction},
	OpUpdateCollections:          {"updateCollections", KindTransaction},
	OpAddLockWhitelistAddress:    {"addLockWhitelistAddress", KindProbeTransaction},
	OpRemoveLockWhitelistAddress: {"removeLockWhitelistAddress", KindTransaction},
}

func (op Op) Method() string {
	return opTable[op].method
}

func (op Op) Kind() Kind {
	return opTable[op].kind
}

func (op Op) String() string {
	if m := op.Method(); m != "" {
		return m
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Pack encodes the call data of op.
func (op Op) Pack(args ...any) ([]byte, error) {
	if op.Method() == "" {
		return nil, fmt.Errorf("unknown bridge op %d", int(op))
	}
	data, err := bridgeABI.Pack(op.Method(), args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", op, err)
	}
	return data, nil
}

// Unpack decodes the return data of op.
func (op Op) Unpack(data []byte) ([]any, error) {
	out, err := bridgeABI.Unpack(op.Method(), data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", op, err)
	}
	return out, nil
}
