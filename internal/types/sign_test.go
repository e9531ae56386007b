package types

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(seed string) *btcec.PrivateKey {
	sum := sha256.Sum256([]byte(seed))
	key, _ := btcec.PrivKeyFromBytes(sum[:])
	return key
}

func multisigRedeemScript(t *testing.T, keys []*btcec.PrivateKey, required int) []byte {
	pubs := make([]*btcutil.AddressPubKey, 0, len(keys))
	for _, k := range keys {
		pub, err := btcutil.NewAddressPubKey(k.PubKey().SerializeCompressed(), &chaincfg.RegressionNetParams)
		require.NoError(t, err)
		pubs = append(pubs, pub)
	}
	script, err := txscript.MultiSigScript(pubs, required)
	require.NoError(t, err)
	return script
}

// unsignedRelease spends two federation outputs with empty signature slots.
func unsignedRelease(t *testing.T, redeemScript []byte, required int) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	for i := 0; i < 2; i++ {
		script, err := MultisigSignatureScript(make([][]byte, required), redeemScript)
		require.NoError(t, err)
		prev := wire.NewOutPoint(&chainhash.Hash{byte(i + 1)}, uint32(i))
		tx.AddTxIn(wire.NewTxIn(prev, script, nil))
	}
	tx.AddTxOut(wire.NewTxOut(150_000_000, []byte{txscript.OP_TRUE}))
	return tx
}

func placeSignature(t *testing.T, tx *wire.MsgTx, input, slot int, sig []byte) {
	chunks, err := ScriptChunks(tx.TxIn[input].SignatureScript)
	require.NoError(t, err)
	sigs := chunks[1 : len(chunks)-1]
	sigs[slot-1] = append(append([]byte{}, sig...), byte(txscript.SigHashAll))
	script, err := MultisigSignatureScript(sigs, chunks[len(chunks)-1])
	require.NoError(t, err)
	tx.TxIn[input].SignatureScript = script
}

func TestScriptChunksOfPlaceholderScript(t *testing.T) {
	keys := []*btcec.PrivateKey{testKey("a"), testKey("b"), testKey("c")}
	redeem := multisigRedeemScript(t, keys, 2)
	tx := unsignedRelease(t, redeem, 2)

	chunks, err := ScriptChunks(tx.TxIn[0].SignatureScript)
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	assert.Empty(t, chunks[0])
	assert.Empty(t, chunks[1])
	assert.Empty(t, chunks[2])
	assert.Equal(t, redeem, chunks[3])

	got, err := RedeemScriptOf(chunks)
	require.NoError(t, err)
	assert.Equal(t, redeem, got)

	_, err = RedeemScriptOf(nil)
	assert.ErrorIs(t, err, ErrNoRedeemScript)
}

func TestHasSignedInputAfterSigning(t *testing.T) {
	keys := []*btcec.PrivateKey{testKey("fed-0"), testKey("fed-1"), testKey("fed-2")}
	redeem := multisigRedeemScript(t, keys, 2)
	tx := unsignedRelease(t, redeem, 2)

	assert.False(t, HasSignedInput(tx, keys[0].PubKey()))

	sigs, err := SignaturesFor(tx, keys[0])
	require.NoError(t, err)
	require.Len(t, sigs, len(tx.TxIn))

	for i, sig := range sigs {
		placeSignature(t, tx, i, 1, sig)
	}

	assert.True(t, HasSignedInput(tx, keys[0].PubKey()))
	assert.False(t, HasSignedInput(tx, keys[1].PubKey()))

	// the other federator's signatures are still valid after ours went in
	otherSigs, err := SignaturesFor(tx, keys[1])
	require.NoError(t, err)
	for i, sig := range otherSigs {
		placeSignature(t, tx, i, 2, sig)
	}
	assert.True(t, HasSignedInput(tx, keys[0].PubKey()))
	assert.True(t, HasSignedInput(tx, keys[1].PubKey()))
	assert.False(t, HasSignedInput(tx, keys[2].PubKey()))
}

func TestHasSignatureMalformedChunk(t *testing.T) {
	keys := []*btcec.PrivateKey{testKey("m-0"), testKey("m-1"), testKey("m-2")}
	redeem := multisigRedeemScript(t, keys, 2)
	tx := unsignedRelease(t, redeem, 2)

	garbage := []byte{0x30, 0x01, 0x02, 0x03, 0x04, 0x01}
	placeSignature(t, tx, 0, 1, garbage[:len(garbage)-1])

	sighash, err := SighashFor(tx, 0, redeem)
	require.NoError(t, err)
	chunks, err := ScriptChunks(tx.TxIn[0].SignatureScript)
	require.NoError(t, err)

	signed, err := HasSignature(keys[0].PubKey(), sighash, chunks)
	assert.False(t, signed)
	assert.ErrorIs(t, err, ErrMalformedSignature)

	// a malformed first input does not hide a valid signature on the second
	sigs, err := SignaturesFor(tx, keys[0])
	require.NoError(t, err)
	placeSignature(t, tx, 1, 2, sigs[1])
	assert.True(t, HasSignedInput(tx, keys[0].PubKey()))
}

func TestSighashForRejectsBadIndex(t *testing.T) {
	tx := wire.NewMsgTx(wire.TxVersion)
	_, err := SighashFor(tx, 0, []byte{txscript.OP_TRUE})
	assert.Error(t, err)
}
