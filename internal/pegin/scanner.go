package pegin

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/goatnetwork/peg-relayer/internal/btc"
	"github.com/goatnetwork/peg-relayer/internal/types"
	log "github.com/sirupsen/logrus"
)

// Bridge answers whether a deposit was already registered.
type Bridge interface {
	IsTxHashAlreadyProcessed(ctx context.Context, txHash chainhash.Hash) (bool, error)
}

// Transfer is a deposit ready for registerBtcTransaction.
type Transfer struct {
	TxHash chainhash.Hash
	RawTx  []byte
	Height int64
	PMT    []byte
	Value  int64
}

// Scanner collects the deposits to the federation address found in
// confirmed blocks during one import run.
type Scanner struct {
	bridge        Bridge
	address       btcutil.Address
	params        *chaincfg.Params
	confirmations int64
	minLockValue  int64

	whitelist *Whitelist
	transfers []Transfer
	seen      map[chainhash.Hash]struct{}
	scanned   map[int64]struct{}
}

func NewScanner(bridge Bridge, federationAddress btcutil.Address, params *chaincfg.Params, confirmations, coinMultiple int64) *Scanner {
	return &Scanner{
		bridge:        bridge,
		address:       federationAddress,
		params:        params,
		confirmations: confirmations,
		whitelist:     NewWhitelist(coinMultiple),
		seen:          make(map[chainhash.Hash]struct{}),
		scanned:       make(map[int64]struct{}),
	}
}

// SetMinimumLockValue sets the value below which deposits are reported as
// likely to be rejected by the bridge.
func (s *Scanner) SetMinimumLockValue(value int64) {
	s.minLockValue = value
}

func (s *Scanner) Whitelist() *Whitelist {
	return s.whitelist
}

func (s *Scanner) Transfers() []Transfer {
	return s.transfers
}

// ObserveHeader is called for every header the relay fetched. The block
// that reached the confirmation depth with that header is scanned.
func (s *Scanner) ObserveHeader(ctx context.Context, height int64, cache *btc.BlockCache) error {
	confirmed := height - s.confirmations
	if confirmed <= 0 {
		return nil
	}
	block, err := cache.Get(confirmed)
	if err != nil {
		return fmt.Errorf("fetch confirmed block %d: %w", confirmed, err)
	}
	return s.ScanBlock(ctx, block)
}

// ScanBlock records the deposits of block. A block that fails to parse is
// logged and skipped.
func (s *Scanner) ScanBlock(ctx context.Context, block *btc.Block) error {
	if _, ok := s.scanned[block.Height]; ok {
		return nil
	}

	msg, err := block.MsgBlock()
	if err != nil {
		log.Errorf("Skip block %d: %v", block.Height, err)
		s.scanned[block.Height] = struct{}{}
		return nil
	}
	txHashes, err := msg.TxHashes()
	if err != nil {
		log.Errorf("Skip block %d: %v", block.Height, err)
		s.scanned[block.Height] = struct{}{}
		return nil
	}

	for i, tx := range msg.Transactions {
		if i == 0 {
			// coinbase
			continue
		}
		if err := s.scanTx(ctx, tx, txHashes, block.Height); err != nil {
			return err
		}
	}
	s.scanned[block.Height] = struct{}{}
	return nil
}

func (s *Scanner) depositValue(tx *wire.MsgTx) (int64, bool) {
	for _, out := range tx.TxOut {
		addr, ok := types.ScriptHashAddress(out.PkScript, s.params)
		if ok && addr.EncodeAddress() == s.address.EncodeAddress() {
			return out.Value, true
		}
	}
	return 0, false
}

func (s *Scanner) scanTx(ctx context.Context, tx *wire.MsgTx, txHashes []chainhash.Hash, height int64) error {
	value, ok := s.depositValue(tx)
	if !ok {
		return nil
	}
	txHash := tx.TxHash()
	if _, dup := s.seen[txHash]; dup {
		return nil
	}

	processed, err := s.bridge.IsTxHashAlreadyProcessed(ctx, txHash)
	if err != nil {
		return fmt.Errorf("check deposit %s: %w", txHash, err)
	}
	s.seen[txHash] = struct{}{}
	if processed {
		log.Debugf("Deposit %s at %d already processed", txHash, height)
		return nil
	}

	if value < s.minLockValue {
		log.Warnf("Deposit %s value %d below minimum lock value %d", txHash, value, s.minLockValue)
	}

	pmt, err := types.BuildPartialMerkleTree(txHash, txHashes)
	if err != nil {
		log.Errorf("Skip deposit %s: %v", txHash, err)
		return nil
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		log.Errorf("Skip deposit %s: %v", txHash, err)
		return nil
	}

	for _, in := range tx.TxIn {
		addr, err := types.InputSourceAddress(in, s.params)
		if err != nil {
			log.Warnf("Deposit %s input %s: %v", txHash, in.PreviousOutPoint, err)
			continue
		}
		ceiling := s.whitelist.Observe(addr.EncodeAddress(), value)
		log.Debugf("Whitelist %s up to %d", addr.EncodeAddress(), ceiling)
	}

	s.transfers = append(s.transfers, Transfer{
		TxHash: txHash,
		RawTx:  buf.Bytes(),
		Height: height,
		PMT:    pmt.Serialize(),
		Value:  value,
	})
	log.Infof("Found deposit %s at height %d, value %d", txHash, height, value)
	return nil
}
