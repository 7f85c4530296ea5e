package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/archivekeep/funcadmin/pkg/contracts"
)

// SQLStore keeps each contract as a JSON body in a single table. The same
// statements run on PostgreSQL (lib/pq) and SQLite (modernc.org/sqlite).
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the contracts table and its unique identifier index.
func (s *SQLStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS contracts (
			id         TEXT PRIMARY KEY,
			tenant     INTEGER NOT NULL,
			collection TEXT NOT NULL,
			identifier TEXT NOT NULL,
			body       TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS contracts_identifier
			ON contracts (tenant, collection, identifier)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) InsertBatch(ctx context.Context, tenant int, coll contracts.Collection, docs []contracts.Document) (err error) {
	if err := checkBatch(coll, docs); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, d := range docs {
		body, encErr := json.Marshal(d)
		if encErr != nil {
			return fmt.Errorf("store: encode %s: %w", d.Identifier(), encErr)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO contracts (id, tenant, collection, identifier, body) VALUES ($1, $2, $3, $4, $5)`,
			d.ID(), tenant, string(coll), d.Identifier(), string(body))
		if err != nil {
			if isUniqueViolation(err) {
				return &DuplicateError{Identifier: d.Identifier()}
			}
			return fmt.Errorf("store: insert %s: %w", d.Identifier(), err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (s *SQLStore) FindByIdentifier(ctx context.Context, tenant int, coll contracts.Collection, identifier string) (contracts.Document, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM contracts WHERE tenant = $1 AND collection = $2 AND identifier = $3`,
		tenant, string(coll), identifier).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find %s: %w", identifier, err)
	}
	return decode([]byte(body))
}

func (s *SQLStore) FindByIdentifiers(ctx context.Context, tenant int, coll contracts.Collection, identifiers []string) ([]contracts.Document, error) {
	if len(identifiers) == 0 {
		return nil, nil
	}
	args := []any{tenant, string(coll)}
	placeholders := make([]string, len(identifiers))
	for i, id := range identifiers {
		args = append(args, id)
		placeholders[i] = fmt.Sprintf("$%d", i+3)
	}
	query := `SELECT body FROM contracts WHERE tenant = $1 AND collection = $2 AND identifier IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY identifier`
	return s.query(ctx, query, args...)
}

func (s *SQLStore) List(ctx context.Context, tenant int, coll contracts.Collection) ([]contracts.Document, error) {
	return s.query(ctx,
		`SELECT body FROM contracts WHERE tenant = $1 AND collection = $2 ORDER BY identifier`,
		tenant, string(coll))
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) ([]contracts.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	var out []contracts.Document
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		d, err := decode([]byte(body))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Update reads, patches and writes the document in one transaction. The
// write is conditional on the body read, so a concurrent writer yields
// ErrConflict instead of a lost update.
func (s *SQLStore) Update(ctx context.Context, tenant int, coll contracts.Collection, id string, updates []contracts.FieldUpdate) (_ *UpdateResult, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var body string
	err = tx.QueryRowContext(ctx,
		`SELECT body FROM contracts WHERE id = $1 AND tenant = $2 AND collection = $3`,
		id, tenant, string(coll)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", id, err)
	}

	before, err := decode([]byte(body))
	if err != nil {
		return nil, err
	}
	res, err := applyUpdate(coll, before, updates)
	if err != nil {
		return nil, err
	}
	next, err := json.Marshal(res.After)
	if err != nil {
		return nil, fmt.Errorf("store: encode %s: %w", id, err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE contracts SET body = $1 WHERE id = $2 AND body = $3`,
		string(next), id, body)
	if err != nil {
		return nil, fmt.Errorf("store: update %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("store: update %s: %w", id, err)
	}
	if n != 1 {
		return nil, ErrConflict
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return res, nil
}

func (s *SQLStore) Count(ctx context.Context, tenant int, coll contracts.Collection) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contracts WHERE tenant = $1 AND collection = $2`,
		tenant, string(coll)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
