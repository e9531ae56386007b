package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"
	"slices"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/kelindar/bitmap"
)

var (
	ErrTxNotInBlock        = errors.New("transaction not found in block")
	ErrEmptyBlock          = errors.New("block has no transactions")
	ErrMalformedMerkleTree = errors.New("malformed partial merkle tree")
)

var sha256Pool = &sync.Pool{
	New: func() any {
		return sha256.New()
	},
}

func DoubleSHA256Sum(data []byte) []byte {
	h := sha256Pool.Get().(hash.Hash)
	defer sha256Pool.Put(h)

	h.Reset()
	_, _ = h.Write(data)

	buf := make([]byte, 0, 32)
	first := h.Sum(buf)

	h.Reset()
	_, _ = h.Write(first)
	return h.Sum(buf)
}

func ComputeParentNode(left, right *chainhash.Hash) *chainhash.Hash {
	combined := slices.Concat(left[:], right[:])

	parent := new(chainhash.Hash)
	copy(parent[:], DoubleSHA256Sum(combined))
	return parent
}

// ComputeMerkleRoot returns the block merkle root of txhs, duplicating the
// last node of odd levels.
func ComputeMerkleRoot(txhs []*chainhash.Hash) *chainhash.Hash {
	if len(txhs) == 0 {
		return nil
	}

	if len(txhs) == 1 {
		res := new(chainhash.Hash)
		copy(res[:], txhs[0][:])
		return res
	}

	if len(txhs)%2 != 0 {
		padding := new(chainhash.Hash)
		_ = padding.SetBytes(txhs[len(txhs)-1][:])
		txhs = append(txhs, padding)
	}

	parents := make([]*chainhash.Hash, 0, len(txhs)/2)
	for i := 0; i < len(txhs); i += 2 {
		parents = append(parents, ComputeParentNode(txhs[i], txhs[i+1]))
	}

	return ComputeMerkleRoot(parents)
}

// PartialMerkleTree is the compact inclusion proof used by SPV clients and
// the bridge contract: total tx count, the hashes needed to rebuild the root
// and one flag bit per visited node.
type PartialMerkleTree struct {
	Transactions uint32
	Hashes       []chainhash.Hash
	Flags        []byte
}

type pmtBuilder struct {
	leaves  []chainhash.Hash
	matches bitmap.Bitmap
	flags   bitmap.Bitmap
	nflags  uint32
	hashes  []chainhash.Hash
}

func treeWidth(leaves int, height uint) int {
	return (leaves + (1 << height) - 1) >> height
}

func (b *pmtBuilder) hash(height uint, pos int) chainhash.Hash {
	if height == 0 {
		return b.leaves[pos]
	}
	left := b.hash(height-1, pos*2)
	right := left
	if pos*2+1 < treeWidth(len(b.leaves), height-1) {
		right = b.hash(height-1, pos*2+1)
	}
	return *ComputeParentNode(&left, &right)
}

func (b *pmtBuilder) traverse(height uint, pos int) {
	parentOfMatch := false
	for p := pos << height; p < (pos+1)<<height && p < len(b.leaves); p++ {
		if b.matches.Contains(uint32(p)) {
			parentOfMatch = true
			break
		}
	}
	if parentOfMatch {
		b.flags.Set(b.nflags)
	}
	b.nflags++

	if height == 0 || !parentOfMatch {
		b.hashes = append(b.hashes, b.hash(height, pos))
		return
	}
	b.traverse(height-1, pos*2)
	if pos*2+1 < treeWidth(len(b.leaves), height-1) {
		b.traverse(height-1, pos*2+1)
	}
}

// packFlags lays the bitmap out as little-endian bytes, bit i in byte i/8.
func packFlags(bm bitmap.Bitmap, n uint32) []byte {
	out := make([]byte, (n+7)/8)
	for i, word := range bm {
		for j := 0; j < 8; j++ {
			idx := i*8 + j
			if idx >= len(out) {
				return out
			}
			out[idx] = byte(word >> (8 * j))
		}
	}
	return out
}

// NewPartialMerkleTree builds the tree over all leaves, marking the leaves
// whose index is set in matches.
func NewPartialMerkleTree(leaves []chainhash.Hash, matches bitmap.Bitmap) *PartialMerkleTree {
	b := &pmtBuilder{leaves: leaves, matches: matches}
	var height uint
	for treeWidth(len(leaves), height) > 1 {
		height++
	}
	b.traverse(height, 0)

	return &PartialMerkleTree{
		Transactions: uint32(len(leaves)),
		Hashes:       b.hashes,
		Flags:        packFlags(b.flags, b.nflags),
	}
}

// BuildPartialMerkleTree proves inclusion of target among the block's
// transaction hashes.
func BuildPartialMerkleTree(target chainhash.Hash, txHashes []chainhash.Hash) (*PartialMerkleTree, error) {
	if len(txHashes) == 0 {
		return nil, ErrEmptyBlock
	}
	var matches bitmap.Bitmap
	found := false
	for i, h := range txHashes {
		if h == target {
			matches.Set(uint32(i))
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrTxNotInBlock, target)
	}
	return NewPartialMerkleTree(txHashes, matches), nil
}

func (t *PartialMerkleTree) Serialize() []byte {
	var buf bytes.Buffer
	var total [4]byte
	binary.LittleEndian.PutUint32(total[:], t.Transactions)
	buf.Write(total[:])

	_ = wire.WriteVarInt(&buf, 0, uint64(len(t.Hashes)))
	for _, h := range t.Hashes {
		buf.Write(h[:])
	}
	_ = wire.WriteVarInt(&buf, 0, uint64(len(t.Flags)))
	buf.Write(t.Flags)
	return buf.Bytes()
}

func ParsePartialMerkleTree(data []byte) (*PartialMerkleTree, error) {
	r := bytes.NewReader(data)
	var total [4]byte
	if _, err := io.ReadFull(r, total[:]); err != nil {
		return nil, fmt.Errorf("%w: read tx count: %v", ErrMalformedMerkleTree, err)
	}
	t := &PartialMerkleTree{Transactions: binary.LittleEndian.Uint32(total[:])}

	nhashes, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: read hash count: %v", ErrMalformedMerkleTree, err)
	}
	if nhashes > uint64(t.Transactions) {
		return nil, fmt.Errorf("%w: %d hashes for %d transactions", ErrMalformedMerkleTree, nhashes, t.Transactions)
	}
	t.Hashes = make([]chainhash.Hash, nhashes)
	for i := range t.Hashes {
		if _, err := io.ReadFull(r, t.Hashes[i][:]); err != nil {
			return nil, fmt.Errorf("%w: read hash %d: %v", ErrMalformedMerkleTree, i, err)
		}
	}

	nflags, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: read flag count: %v", ErrMalformedMerkleTree, err)
	}
	if nflags > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: truncated flags", ErrMalformedMerkleTree)
	}
	t.Flags = make([]byte, nflags)
	if _, err := io.ReadFull(r, t.Flags); err != nil {
		return nil, fmt.Errorf("%w: read flags: %v", ErrMalformedMerkleTree, err)
	}
	return t, nil
}

type pmtExtractor struct {
	tree     *PartialMerkleTree
	bitsUsed int
	hashUsed int
	matches  []chainhash.Hash
}

func (e *pmtExtractor) extract(height uint, pos int) (chainhash.Hash, error) {
	if e.bitsUsed >= len(e.tree.Flags)*8 {
		return chainhash.Hash{}, fmt.Errorf("%w: ran out of flag bits", ErrMalformedMerkleTree)
	}
	flag := e.tree.Flags[e.bitsUsed/8]>>(e.bitsUsed%8)&1 == 1
	e.bitsUsed++

	if height == 0 || !flag {
		if e.hashUsed >= len(e.tree.Hashes) {
			return chainhash.Hash{}, fmt.Errorf("%w: ran out of hashes", ErrMalformedMerkleTree)
		}
		h := e.tree.Hashes[e.hashUsed]
		e.hashUsed++
		if height == 0 && flag {
			e.matches = append(e.matches, h)
		}
		return h, nil
	}

	left, err := e.extract(height-1, pos*2)
	if err != nil {
		return chainhash.Hash{}, err
	}
	right := left
	if pos*2+1 < treeWidth(int(e.tree.Transactions), height-1) {
		right, err = e.extract(height-1, pos*2+1)
		if err != nil {
			return chainhash.Hash{}, err
		}
		if right == left {
			return chainhash.Hash{}, fmt.Errorf("%w: duplicate sibling hash", ErrMalformedMerkleTree)
		}
	}
	return *ComputeParentNode(&left, &right), nil
}

// ExtractMatches recomputes the merkle root and returns the matched leaves.
func (t *PartialMerkleTree) ExtractMatches() (*chainhash.Hash, []chainhash.Hash, error) {
	if t.Transactions == 0 {
		return nil, nil, fmt.Errorf("%w: no transactions", ErrMalformedMerkleTree)
	}
	if len(t.Hashes) > int(t.Transactions) || len(t.Flags)*8 < len(t.Hashes) {
		return nil, nil, fmt.Errorf("%w: inconsistent sizes", ErrMalformedMerkleTree)
	}

	var height uint
	for treeWidth(int(t.Transactions), height) > 1 {
		height++
	}
	e := &pmtExtractor{tree: t}
	root, err := e.extract(height, 0)
	if err != nil {
		return nil, nil, err
	}
	if (e.bitsUsed+7)/8 != len(t.Flags) || e.hashUsed != len(t.Hashes) {
		return nil, nil, fmt.Errorf("%w: unused proof data", ErrMalformedMerkleTree)
	}
	return &root, e.matches, nil
}
