package evidence

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/glebarez/go-sqlite"
)

// Index is the durable chain-of-custody row store: one row per block,
// keyed by block id with a unique constraint on the sequence number.
// Payload bytes live in the ContentStore; the index holds only the block
// metadata needed for O(1) lookup and for rebuilding the in-memory head
// after a restart.
//
// WAL mode is used so API reads can run concurrently with an in-flight
// append. Reads always observe committed rows, never pre-commit state.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (or creates) the SQLite index at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening custody index %s: %w", path, err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS blocks (
			id            TEXT PRIMARY KEY,
			seq           INTEGER NOT NULL UNIQUE,
			ts            TEXT NOT NULL,
			type          TEXT NOT NULL DEFAULT '',
			content_hash  TEXT NOT NULL,
			previous_hash TEXT NOT NULL,
			verified      INTEGER NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS idx_blocks_hash ON blocks(content_hash);
		CREATE INDEX IF NOT EXISTS idx_blocks_ts ON blocks(ts);
		CREATE INDEX IF NOT EXISTS idx_blocks_type ON blocks(type);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating custody schema: %w", err)
	}

	return &Index{db: db}, nil
}

// Insert adds a block row. A collision on id or sequence number returns
// ErrDuplicate — with the append lock held that should be unreachable, so
// callers treat it as a fatal integrity bug rather than retrying.
func (ix *Index) Insert(b *Block) error {
	verified := 0
	if b.Verified {
		verified = 1
	}
	_, err := ix.db.Exec(
		`INSERT INTO blocks (id, seq, ts, type, content_hash, previous_hash, verified)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Sequence, b.Timestamp, b.Type, b.ContentHash, b.PreviousHash, verified,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: id=%s seq=%d", ErrDuplicate, b.ID, b.Sequence)
		}
		return fmt.Errorf("%w: inserting block %s: %v", ErrStorageFailure, b.ID, err)
	}
	return nil
}

// FindByID returns the block with the given id, or ErrNotFound.
func (ix *Index) FindByID(id string) (*Block, error) {
	return ix.findOne(`WHERE id = ?`, id)
}

// FindByHash returns the block with the given content hash, or ErrNotFound.
// Content addressing means duplicate payloads share a hash; the earliest
// block wins, which matches how the chain was built.
func (ix *Index) FindByHash(hash string) (*Block, error) {
	return ix.findOne(`WHERE content_hash = ? ORDER BY seq ASC`, hash)
}

// FindBySequence returns the block at position seq, or ErrNotFound.
func (ix *Index) FindBySequence(seq uint64) (*Block, error) {
	return ix.findOne(`WHERE seq = ?`, seq)
}

// Head returns the block with the highest sequence number, or nil if the
// index is empty.
func (ix *Index) Head() (*Block, error) {
	b, err := ix.findOne(`ORDER BY seq DESC`)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return b, nil
}

// ListRecent returns up to limit blocks, newest first.
func (ix *Index) ListRecent(limit int) ([]Block, error) {
	return ix.list(`SELECT `+blockColumns+` FROM blocks ORDER BY seq DESC LIMIT ?`, limit)
}

// ListByDateRange returns blocks whose timestamp falls in [start, end],
// ascending. Empty bounds are open-ended.
func (ix *Index) ListByDateRange(start, end string, limit int) ([]Block, error) {
	query := `SELECT ` + blockColumns + ` FROM blocks WHERE 1=1`
	var args []any
	if start != "" {
		query += ` AND ts >= ?`
		args = append(args, start)
	}
	if end != "" {
		query += ` AND ts <= ?`
		args = append(args, end)
	}
	query += ` ORDER BY seq ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return ix.list(query, args...)
}

// ListAscending returns up to limit blocks with seq >= from, in ascending
// sequence order. The chain walk pages through the ledger with this.
func (ix *Index) ListAscending(from uint64, limit int) ([]Block, error) {
	return ix.list(
		`SELECT `+blockColumns+` FROM blocks WHERE seq >= ? ORDER BY seq ASC LIMIT ?`,
		from, limit,
	)
}

// SetVerified updates a block's verified flag. The one permitted mutation:
// flipping it false records that tampering was detected.
func (ix *Index) SetVerified(id string, verified bool) error {
	v := 0
	if verified {
		v = 1
	}
	res, err := ix.db.Exec(`UPDATE blocks SET verified = ? WHERE id = ?`, v, id)
	if err != nil {
		return fmt.Errorf("%w: updating verified flag for %s: %v", ErrStorageFailure, id, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("%w: block %s", ErrNotFound, id)
	}
	return nil
}

// CountVerified returns (verified, total) block counts for integrity scoring.
func (ix *Index) CountVerified() (verified, total int64, err error) {
	row := ix.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(verified), 0) FROM blocks`)
	if err := row.Scan(&total, &verified); err != nil {
		return 0, 0, fmt.Errorf("counting blocks: %w", err)
	}
	return verified, total, nil
}

// Close closes the underlying database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

const blockColumns = `id, seq, ts, type, content_hash, previous_hash, verified`

func (ix *Index) findOne(where string, args ...any) (*Block, error) {
	query := `SELECT ` + blockColumns + ` FROM blocks ` + where + ` LIMIT 1`
	row := ix.db.QueryRow(query, args...)

	var b Block
	var verified int
	err := row.Scan(&b.ID, &b.Sequence, &b.Timestamp, &b.Type,
		&b.ContentHash, &b.PreviousHash, &verified)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: no matching block", ErrNotFound)
		}
		return nil, fmt.Errorf("querying custody index: %w", err)
	}
	b.Verified = verified != 0
	return &b, nil
}

func (ix *Index) list(query string, args ...any) ([]Block, error) {
	rows, err := ix.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying custody index: %w", err)
	}
	defer rows.Close()

	var blocks []Block
	for rows.Next() {
		var b Block
		var verified int
		if err := rows.Scan(&b.ID, &b.Sequence, &b.Timestamp, &b.Type,
			&b.ContentHash, &b.PreviousHash, &verified); err != nil {
			return nil, fmt.Errorf("scanning block row: %w", err)
		}
		b.Verified = verified != 0
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}
