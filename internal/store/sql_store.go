package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/rollupscan/batch-indexer/internal/common"
	"github.com/rollupscan/batch-indexer/internal/logger"
	"github.com/rollupscan/batch-indexer/internal/metrics"
	"github.com/russross/meddler"
)

var _ Storage = (*SQLStore)(nil)

// SQLStore is the committing Storage implementation backed by SQLite.
type SQLStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewSQLStore creates a committing store on an open database.
func NewSQLStore(db *sql.DB, log *logger.Logger) *SQLStore {
	return &SQLStore{
		db:  db,
		log: log.WithComponent(common.ComponentStore),
	}
}

// insert saves one row, treating a primary-key conflict as an already
// delivered duplicate.
func (s *SQLStore) insert(table string, row any) error {
	metrics.DBQueryInc("insert_" + table)

	if err := meddler.Insert(s.db, table, row); err != nil {
		if isDuplicate(err) {
			s.log.Debugf("duplicate row ignored: table=%s", table)
			return nil
		}
		metrics.DBErrorInc("insert_" + table)
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return nil
}

func (s *SQLStore) InsertL1Head(ctx context.Context, row *L1HeadRow) error {
	return s.insert("l1_heads", row)
}

func (s *SQLStore) InsertL2Head(ctx context.Context, row *L2HeadRow) error {
	return s.insert("l2_heads", row)
}

func (s *SQLStore) InsertBatch(ctx context.Context, row *BatchRow) error {
	return s.insert("batches", row)
}

func (s *SQLStore) InsertProvedBatch(ctx context.Context, row *ProvedBatchRow) error {
	return s.insert("proved_batches", row)
}

func (s *SQLStore) InsertVerifiedBatch(ctx context.Context, row *VerifiedBatchRow) error {
	return s.insert("verified_batches", row)
}

func (s *SQLStore) InsertForcedInclusion(ctx context.Context, row *ForcedInclusionRow) error {
	metrics.DBQueryInc("insert_forced_inclusions")

	// forced_inclusions carries a DEFAULT column, so list the inserted
	// column explicitly instead of going through meddler.
	_, err := s.db.Exec(
		"INSERT INTO forced_inclusions (blob_hash) VALUES (?)",
		row.BlobHash.Hex(),
	)
	if err != nil {
		if isDuplicate(err) {
			s.log.Debugf("duplicate forced inclusion ignored: blob_hash=%s", row.BlobHash.Hex())
			return nil
		}
		metrics.DBErrorInc("insert_forced_inclusions")
		return fmt.Errorf("failed to insert forced inclusion: %w", err)
	}
	return nil
}

func (s *SQLStore) InsertBatchCost(ctx context.Context, row *BatchCostRow) error {
	return s.insert("batch_costs", row)
}

func (s *SQLStore) InsertL2Reorg(ctx context.Context, row *L2ReorgRow) error {
	metrics.DBQueryInc("insert_l2_reorgs")

	var orphaned any
	if row.OrphanedHash != nil {
		orphaned = row.OrphanedHash.Hex()
	}

	_, err := s.db.Exec(
		"INSERT INTO l2_reorgs (block_number, depth, orphaned_hash) VALUES (?, ?, ?)",
		row.BlockNumber, row.Depth, orphaned,
	)
	if err != nil {
		metrics.DBErrorInc("insert_l2_reorgs")
		return fmt.Errorf("failed to insert l2 reorg: %w", err)
	}
	return nil
}

func (s *SQLStore) GetLatestL1Block(ctx context.Context) (uint64, error) {
	return s.latestBlock("l1_heads")
}

func (s *SQLStore) GetLatestL2Block(ctx context.Context) (uint64, error) {
	return s.latestBlock("l2_heads")
}

func (s *SQLStore) latestBlock(table string) (uint64, error) {
	metrics.DBQueryInc("latest_" + table)

	var latest sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(block_number) FROM " + table).Scan(&latest) //nolint:gosec
	if err != nil {
		if isSchemaMissing(err) {
			return 0, ErrSchemaMissing
		}
		metrics.DBErrorInc("latest_" + table)
		return 0, fmt.Errorf("failed to query latest block from %s: %w", table, err)
	}
	if !latest.Valid {
		return 0, ErrNotFound
	}
	return uint64(latest.Int64), nil
}

func (s *SQLStore) FindMissingL1Blocks(ctx context.Context, start, end uint64) ([]uint64, error) {
	return s.findMissing("l1_heads", start, end)
}

func (s *SQLStore) FindMissingL2Blocks(ctx context.Context, start, end uint64) ([]uint64, error) {
	return s.findMissing("l2_heads", start, end)
}

// findMissing queries the stored block numbers in [start, end] and returns
// the complement of that set within the range.
func (s *SQLStore) findMissing(table string, start, end uint64) ([]uint64, error) {
	if start > end {
		return nil, nil
	}

	metrics.DBQueryInc("find_missing_" + table)

	rows, err := s.db.Query(
		"SELECT block_number FROM "+table+ //nolint:gosec
			" WHERE block_number BETWEEN ? AND ? ORDER BY block_number ASC",
		start, end,
	)
	if err != nil {
		if isSchemaMissing(err) {
			return nil, ErrSchemaMissing
		}
		metrics.DBErrorInc("find_missing_" + table)
		return nil, fmt.Errorf("failed to query stored blocks from %s: %w", table, err)
	}
	defer rows.Close()

	present := make(map[uint64]struct{}, end-start+1)
	for rows.Next() {
		var num uint64
		if err := rows.Scan(&num); err != nil {
			return nil, fmt.Errorf("failed to scan block number: %w", err)
		}
		present[num] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stored blocks: %w", err)
	}

	var missing []uint64
	for num := start; num <= end; num++ {
		if _, ok := present[num]; !ok {
			missing = append(missing, num)
		}
	}
	return missing, nil
}

func (s *SQLStore) GetLatestHashesForBlocks(ctx context.Context, blockNums []uint64) ([]BlockHashPair, error) {
	if len(blockNums) == 0 {
		return nil, nil
	}

	metrics.DBQueryInc("latest_hashes")

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(blockNums)), ",")
	args := make([]any, len(blockNums))
	for i, num := range blockNums {
		args[i] = num
	}

	var pairs []*BlockHashPair
	err := meddler.QueryAll(s.db, &pairs,
		"SELECT block_number, block_hash FROM l2_heads WHERE block_number IN ("+placeholders+
			") ORDER BY block_number ASC", args...)
	if err != nil {
		if isSchemaMissing(err) {
			return nil, ErrSchemaMissing
		}
		metrics.DBErrorInc("latest_hashes")
		return nil, fmt.Errorf("failed to query block hashes: %w", err)
	}

	result := make([]BlockHashPair, len(pairs))
	for i, p := range pairs {
		result[i] = *p
	}
	return result, nil
}

// isDuplicate reports whether err is a primary-key or unique constraint
// violation. Other constraint classes (NOT NULL, CHECK, FK) are real errors
// and must not be swallowed as already-delivered rows.
func isDuplicate(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// isSchemaMissing reports whether err means a required table does not exist.
func isSchemaMissing(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
