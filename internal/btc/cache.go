package btc

type BlockSource interface {
	GetBlockAtHeight(height int64) (*Block, error)
}

// BlockCache keeps the blocks fetched during one import run so the header
// relay and the peg-in scan download each block at most once.
type BlockCache struct {
	source BlockSource
	blocks map[int64]*Block
}

func NewBlockCache(source BlockSource) *BlockCache {
	return &BlockCache{
		source: source,
		blocks: make(map[int64]*Block),
	}
}

// Get returns the cached block at height, fetching it on a miss.
func (c *BlockCache) Get(height int64) (*Block, error) {
	if block, ok := c.blocks[height]; ok {
		return block, nil
	}
	block, err := c.source.GetBlockAtHeight(height)
	if err != nil {
		return nil, err
	}
	c.blocks[height] = block
	return block, nil
}

func (c *BlockCache) Put(block *Block) {
	c.blocks[block.Height] = block
}

func (c *BlockCache) Len() int {
	return len(c.blocks)
}
