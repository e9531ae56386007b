package btc

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const HeaderSize = 80

var ErrShortBlock = errors.New("serialized block shorter than a header")

// Block is a source chain block as the node serialized it. The full
// transaction list is only parsed when a caller asks for it.
type Block struct {
	Height int64
	Hash   chainhash.Hash
	Raw    []byte

	once sync.Once
	msg  *wire.MsgBlock
	err  error
}

func NewBlock(height int64, raw []byte) (*Block, error) {
	if len(raw) < HeaderSize {
		return nil, fmt.Errorf("%w: height %d, %d bytes", ErrShortBlock, height, len(raw))
	}
	return &Block{
		Height: height,
		Hash:   chainhash.DoubleHashH(raw[:HeaderSize]),
		Raw:    raw,
	}, nil
}

// Header returns the 80 byte serialized header.
func (b *Block) Header() []byte {
	return b.Raw[:HeaderSize]
}

func (b *Block) MsgBlock() (*wire.MsgBlock, error) {
	b.once.Do(func() {
		msg := new(wire.MsgBlock)
		if err := msg.Deserialize(bytes.NewReader(b.Raw)); err != nil {
			b.err = fmt.Errorf("failed to deserialize block %d %s: %w", b.Height, b.Hash, err)
			return
		}
		b.msg = msg
	})
	return b.msg, b.err
}

// TxHashes returns the txids in block order.
func (b *Block) TxHashes() ([]chainhash.Hash, error) {
	msg, err := b.MsgBlock()
	if err != nil {
		return nil, err
	}
	return msg.TxHashes()
}
