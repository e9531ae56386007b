package types

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
)

var (
	ErrMalformedSignature = errors.New("malformed signature")
	ErrNoRedeemScript     = errors.New("signature script carries no redeem script")
)

// ScriptChunks splits a signature script into its pushes. Opcodes that push
// nothing (OP_0 placeholders included) yield an empty chunk.
func ScriptChunks(script []byte) ([][]byte, error) {
	var chunks [][]byte
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		chunks = append(chunks, tokenizer.Data())
	}
	if err := tokenizer.Err(); err != nil {
		return nil, fmt.Errorf("tokenize script: %w", err)
	}
	return chunks, nil
}

// RedeemScriptOf returns the last chunk of a partially signed multisig input.
func RedeemScriptOf(chunks [][]byte) ([]byte, error) {
	if len(chunks) == 0 || len(chunks[len(chunks)-1]) == 0 {
		return nil, ErrNoRedeemScript
	}
	return chunks[len(chunks)-1], nil
}

// SighashFor computes the legacy SIGHASH_ALL digest of input idx against
// redeemScript.
func SighashFor(tx *wire.MsgTx, idx int, redeemScript []byte) ([]byte, error) {
	if idx < 0 || idx >= len(tx.TxIn) {
		return nil, fmt.Errorf("input index %d out of range [0,%d)", idx, len(tx.TxIn))
	}
	return txscript.CalcSignatureHash(redeemScript, txscript.SigHashAll, tx, idx)
}

func inputSighash(tx *wire.MsgTx, idx int) ([]byte, [][]byte, error) {
	chunks, err := ScriptChunks(tx.TxIn[idx].SignatureScript)
	if err != nil {
		return nil, nil, err
	}
	redeemScript, err := RedeemScriptOf(chunks)
	if err != nil {
		return nil, nil, err
	}
	sighash, err := SighashFor(tx, idx, redeemScript)
	if err != nil {
		return nil, nil, err
	}
	return sighash, chunks, nil
}

// SignaturesFor signs every input of tx with key, in input order. The
// signatures are plain DER, without the sighash type byte.
func SignaturesFor(tx *wire.MsgTx, key *btcec.PrivateKey) ([][]byte, error) {
	sigs := make([][]byte, 0, len(tx.TxIn))
	for i := range tx.TxIn {
		sighash, _, err := inputSighash(tx, i)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		sigs = append(sigs, ecdsa.Sign(key, sighash).Serialize())
	}
	return sigs, nil
}

// HasSignature reports whether one of the signature chunks (everything
// between the leading OP_0 and the trailing redeem script) was made by pub.
// Chunks that do not decode are reported through ErrMalformedSignature once
// the remaining chunks have been checked.
func HasSignature(pub *btcec.PublicKey, sighash []byte, chunks [][]byte) (bool, error) {
	var malformed error
	for j := 1; j < len(chunks)-1; j++ {
		chunk := chunks[j]
		if len(chunk) == 0 {
			continue
		}
		if len(chunk) < 2 {
			malformed = fmt.Errorf("%w: chunk %d too short", ErrMalformedSignature, j)
			continue
		}
		// last byte is the sighash type
		sig, err := ecdsa.ParseDERSignature(chunk[:len(chunk)-1])
		if err != nil {
			malformed = fmt.Errorf("%w: chunk %d: %v", ErrMalformedSignature, j, err)
			continue
		}
		if sig.Verify(sighash, pub) {
			return true, nil
		}
	}
	return false, malformed
}

// HasSignedInput reports whether any input of tx already carries a signature
// by pub. An input whose script cannot be read counts as unsigned.
func HasSignedInput(tx *wire.MsgTx, pub *btcec.PublicKey) bool {
	for i := range tx.TxIn {
		sighash, chunks, err := inputSighash(tx, i)
		if err != nil {
			log.Debugf("Skip input %d of %s: %v", i, tx.TxHash(), err)
			continue
		}
		signed, err := HasSignature(pub, sighash, chunks)
		if signed {
			return true
		}
		if err != nil {
			log.Warnf("Input %d of %s treated as unsigned: %v", i, tx.TxHash(), err)
		}
	}
	return false
}

// MultisigSignatureScript builds `OP_0 <sig|OP_0>... <redeemScript>`, the
// scriptSig layout of a partially signed P2SH multisig input. A nil entry in
// sigs leaves its slot as an OP_0 placeholder.
func MultisigSignatureScript(sigs [][]byte, redeemScript []byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder().AddOp(txscript.OP_0)
	for _, sig := range sigs {
		if len(sig) == 0 {
			builder.AddOp(txscript.OP_0)
			continue
		}
		builder.AddData(sig)
	}
	return builder.AddData(redeemScript).Script()
}
