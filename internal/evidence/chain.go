package evidence

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Chain is the ordered, hash-linked sequence of evidence blocks. It owns
// the in-memory head pointer; the Index is its durable mirror and the
// ContentStore holds the payload bytes each block's hash commits to.
//
// Appends are strictly serialized under a single mutex: sequence numbers
// must be contiguous and each block must link to the head that was current
// when it was written, so there is nothing to parallelize on this path.
// Reads go against the durable index and run freely alongside an append.
type Chain struct {
	mu    sync.Mutex
	store *ContentStore
	index *Index
	head  *Block // nil until the first append; recovered from the index on open
}

// NewChain wires a chain over its store and index, recovering the head
// block from the index so the chain continues correctly after a restart.
func NewChain(store *ContentStore, index *Index) (*Chain, error) {
	head, err := index.Head()
	if err != nil {
		return nil, fmt.Errorf("recovering chain head: %w", err)
	}

	c := &Chain{store: store, index: index, head: head}
	if head != nil {
		slog.Info("evidence chain recovered", "length", head.Sequence+1, "head_hash", head.ContentHash)
	} else {
		slog.Info("evidence chain empty, awaiting genesis block")
	}
	return c, nil
}

// Append creates the next block in the chain from payload. The id may be
// empty, in which case a fresh incident id is generated.
//
// The append is one logical unit: persist payload bytes, insert the index
// row, then advance the head. If the index insert fails the head does not
// move and the block is unobservable — an orphaned payload file may remain,
// which is harmless under content addressing. Sequence numbers therefore
// never skip: the next successful append reuses the same number.
func (c *Chain) Append(id, blockType string, payload map[string]any) (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	if id == "" {
		id = NewIncidentID(now)
	}

	var seq uint64
	prev := GenesisHash
	if c.head != nil {
		seq = c.head.Sequence + 1
		prev = c.head.ContentHash
	}

	hash, _, err := c.store.Save(blockType, payload)
	if err != nil {
		return nil, fmt.Errorf("persisting evidence payload: %w", err)
	}

	block := &Block{
		ID:           id,
		Sequence:     seq,
		Timestamp:    now.Format(time.RFC3339Nano),
		Type:         blockType,
		ContentHash:  hash,
		PreviousHash: prev,
		Verified:     true,
	}

	if err := c.index.Insert(block); err != nil {
		// Head stays where it was: the failed block never becomes
		// observable and seq is reused by the next append.
		return nil, fmt.Errorf("recording chain of custody: %w", err)
	}

	c.head = block
	slog.Info("evidence block appended",
		"id", block.ID, "seq", block.Sequence, "type", block.Type, "hash", block.ContentHash)
	return block, nil
}

// Head returns a copy of the latest block, or nil for an empty chain.
func (c *Chain) Head() *Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.head == nil {
		return nil
	}
	head := *c.head
	return &head
}

// Length returns the number of blocks in the chain.
func (c *Chain) Length() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.head == nil {
		return 0
	}
	return c.head.Sequence + 1
}

// Store returns the content store backing the chain.
func (c *Chain) Store() *ContentStore {
	return c.store
}

// ByID looks up a block by its incident id.
func (c *Chain) ByID(id string) (*Block, error) {
	return c.index.FindByID(id)
}

// ByHash looks up a block by its content hash.
func (c *Chain) ByHash(hash string) (*Block, error) {
	return c.index.FindByHash(hash)
}

// BySequence looks up a block by its position in the chain.
func (c *Chain) BySequence(seq uint64) (*Block, error) {
	return c.index.FindBySequence(seq)
}

// Payload loads the stored payload for a block.
func (c *Chain) Payload(b *Block) (map[string]any, error) {
	return c.store.Load(b.ContentHash)
}

// walkBatch is how many index rows Walk fetches per query.
const walkBatch = 256

// Walk calls fn for every block in ascending sequence order, paging
// through the durable index so an arbitrarily long chain never loads into
// memory at once. Walking again yields the same prefix plus any blocks
// appended since; fn returning an error stops the walk and propagates it.
func (c *Chain) Walk(fn func(Block) error) error {
	var from uint64
	for {
		batch, err := c.index.ListAscending(from, walkBatch)
		if err != nil {
			return fmt.Errorf("walking chain: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}
		for _, b := range batch {
			if err := fn(b); err != nil {
				return err
			}
		}
		from = batch[len(batch)-1].Sequence + 1
	}
}
