package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/klauspost/compress/zstd"

	"github.com/voxelgo/server/internal/geom"
)

// BlockRepo stores block payloads zstd-compressed. One repo is shared
// by all emerge workers; EncodeAll/DecodeAll are safe for concurrent
// use.
type BlockRepo struct {
	db  *DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func NewBlockRepo(db *DB) (*BlockRepo, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &BlockRepo{db: db, enc: enc, dec: dec}, nil
}

// LoadBlock returns the decompressed payload and generated flag, or
// (nil, false, nil) when no row exists.
func (r *BlockRepo) LoadBlock(ctx context.Context, pos geom.BlockPos) ([]byte, bool, error) {
	var compressed []byte
	var generated bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT data, generated FROM blocks
		 WHERE posx = $1 AND posy = $2 AND posz = $3`,
		pos.X, pos.Y, pos.Z,
	).Scan(&compressed, &generated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	raw, err := r.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, false, fmt.Errorf("decompress block %v: %w", pos, err)
	}
	return raw, generated, nil
}

func (r *BlockRepo) SaveBlock(ctx context.Context, pos geom.BlockPos, blockData []byte, generated bool) error {
	compressed := r.enc.EncodeAll(blockData, nil)
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO blocks (posx, posy, posz, data, generated, modified_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (posx, posy, posz)
		 DO UPDATE SET data = $4, generated = $5, modified_at = NOW()`,
		pos.X, pos.Y, pos.Z, compressed, generated,
	)
	return err
}

func (r *BlockRepo) CountBlocks(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM blocks`).Scan(&n)
	return n, err
}

// EachBlock streams every stored block through fn in position order,
// decompressing payloads as it goes. fn returning an error stops the
// scan.
func (r *BlockRepo) EachBlock(ctx context.Context, fn func(pos geom.BlockPos, blockData []byte, generated bool) error) error {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT posx, posy, posz, data, generated FROM blocks
		 ORDER BY posx, posy, posz`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var pos geom.BlockPos
		var compressed []byte
		var generated bool
		if err := rows.Scan(&pos.X, &pos.Y, &pos.Z, &compressed, &generated); err != nil {
			return err
		}
		raw, err := r.dec.DecodeAll(compressed, nil)
		if err != nil {
			return fmt.Errorf("decompress block %v: %w", pos, err)
		}
		if err := fn(pos, raw, generated); err != nil {
			return err
		}
	}
	return rows.Err()
}

// BlockStats reports how many blocks are stored and how many of those
// finished generation.
func (r *BlockRepo) BlockStats(ctx context.Context) (total, generated int64, err error) {
	err = r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE generated) FROM blocks`,
	).Scan(&total, &generated)
	return total, generated, err
}
