package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/kozaktomas/smart-locker/internal/database"
	"github.com/kozaktomas/smart-locker/internal/logging"
	"github.com/pgvector/pgvector-go"
)

// storeLockKey is the advisory lock guarding the identity store. Readers
// take it shared, writers exclusive, mirroring the flock on the file backend.
const storeLockKey int64 = 0x736c6f7473

// SlotEmbeddingRepository stores slot records in PostgreSQL using pgvector
type SlotEmbeddingRepository struct {
	pool      *Pool
	slotCount int
	dim       int
	logger    *slog.Logger
}

// NewSlotEmbeddingRepository creates a repository for N slots. A dim of 0
// accepts whatever length the first stored vector has.
func NewSlotEmbeddingRepository(pool *Pool, slotCount, dim int, logger *slog.Logger) *SlotEmbeddingRepository {
	return &SlotEmbeddingRepository{
		pool:      pool,
		slotCount: slotCount,
		dim:       dim,
		logger:    logging.OrDefault(logger),
	}
}

var _ database.EmbeddingWriter = (*SlotEmbeddingRepository)(nil)

func (r *SlotEmbeddingRepository) Load(ctx context.Context) (database.Embeddings, error) {
	store, err := r.LoadRaw(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.Validate(r.slotCount, r.dim); err != nil {
		return nil, err
	}
	return store, nil
}

func (r *SlotEmbeddingRepository) LoadRaw(ctx context.Context) (database.Embeddings, error) {
	tx, err := r.begin(ctx, false)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	store, err := readStore(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit read: %w", err)
	}
	return store, nil
}

func (r *SlotEmbeddingRepository) Get(ctx context.Context, slotID int) ([]database.Vector, error) {
	store, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}
	vecs, ok := store[slotID]
	if !ok {
		return []database.Vector{}, nil
	}
	return vecs, nil
}

// Save replaces every slot record in one transaction.
func (r *SlotEmbeddingRepository) Save(ctx context.Context, store database.Embeddings) error {
	if err := store.Validate(r.slotCount, r.dim); err != nil {
		return err
	}

	tx, err := r.begin(ctx, true)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM slot_records`); err != nil {
		return fmt.Errorf("delete slot records: %w", err)
	}
	for _, id := range store.SlotIDs() {
		if err := insertRecord(ctx, tx, id, store[id]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit store: %w", err)
	}
	return nil
}

// Put replaces the record of one slot. The rest of the store is validated
// inside the same transaction so a corrupt store is never extended.
func (r *SlotEmbeddingRepository) Put(ctx context.Context, slotID int, vectors []database.Vector) error {
	tx, err := r.begin(ctx, true)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := readStore(ctx, tx)
	if err != nil {
		return err
	}
	if err := current.Validate(r.slotCount, r.dim); err != nil {
		return fmt.Errorf("cannot update slot %d: %w", slotID, err)
	}
	if err := database.CheckPut(current, slotID, vectors, r.slotCount, r.dim); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM slot_records WHERE slot_id = $1`, slotID); err != nil {
		return fmt.Errorf("delete slot %d: %w", slotID, err)
	}
	if err := insertRecord(ctx, tx, slotID, vectors); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit slot %d: %w", slotID, err)
	}
	r.logger.Info("slot record replaced", "slot", slotID, "vectors", len(vectors), "backend", "postgres")
	return nil
}

// Clear deletes every slot record. The removed entries name the slots that
// were dropped.
func (r *SlotEmbeddingRepository) Clear(ctx context.Context) ([]string, error) {
	tx, err := r.begin(ctx, true)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `DELETE FROM slot_records RETURNING slot_id`)
	if err != nil {
		return nil, fmt.Errorf("delete slot records: %w", err)
	}
	var removed []string
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan deleted slot: %w", err)
		}
		removed = append(removed, "slot_records/"+strconv.Itoa(id))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted slots: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit clear: %w", err)
	}
	return removed, nil
}

// begin opens a transaction holding the store advisory lock until it ends.
func (r *SlotEmbeddingRepository) begin(ctx context.Context, exclusive bool) (*sql.Tx, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: !exclusive})
	if err != nil {
		return nil, err
	}
	lockQuery := `SELECT pg_advisory_xact_lock_shared($1)`
	if exclusive {
		lockQuery = `SELECT pg_advisory_xact_lock($1)`
	}
	if _, err := tx.ExecContext(ctx, lockQuery, storeLockKey); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("lock store: %w", err)
	}
	return tx, nil
}

func readStore(ctx context.Context, tx *sql.Tx) (database.Embeddings, error) {
	store := make(database.Embeddings)

	ids, err := tx.QueryContext(ctx, `SELECT slot_id FROM slot_records`)
	if err != nil {
		return nil, fmt.Errorf("query slot records: %w", err)
	}
	for ids.Next() {
		var id int
		if err := ids.Scan(&id); err != nil {
			ids.Close()
			return nil, fmt.Errorf("scan slot record: %w", err)
		}
		store[id] = []database.Vector{}
	}
	ids.Close()
	if err := ids.Err(); err != nil {
		return nil, fmt.Errorf("iterate slot records: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT slot_id, embedding FROM slot_embeddings
		ORDER BY slot_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("query slot embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int
		var vec pgvector.Vector
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, fmt.Errorf("scan slot embedding: %w", err)
		}
		store[id] = append(store[id], database.Vector(vec.Slice()))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slot embeddings: %w", err)
	}
	return store, nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, slotID int, vectors []database.Vector) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO slot_records (slot_id) VALUES ($1)`, slotID); err != nil {
		return fmt.Errorf("insert slot %d: %w", slotID, err)
	}
	for i, v := range vectors {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO slot_embeddings (slot_id, position, embedding, dim)
			VALUES ($1, $2, $3::vector, $4)
		`, slotID, i, pgvector.NewVector(v), len(v))
		if err != nil {
			return fmt.Errorf("insert embedding %d of slot %d: %w", i, slotID, err)
		}
	}
	return nil
}
