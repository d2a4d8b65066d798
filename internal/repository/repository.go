// Package repository provides data access interfaces and implementations
// for the search outbox.
//
// # Overview
//
// This package defines repository interfaces and their PostgreSQL
// implementations following the repository pattern:
//
//   - EventRepository: outbox events (insert, drain, retry bookkeeping, admin)
//   - AgentRepository: cluster membership records and shard assignments
//
// # Thread Safety
//
// All repository implementations are safe for concurrent use by multiple goroutines.
// The underlying pgxpool handles connection pooling and synchronization.
//
// # Error Handling
//
// All methods return domain-specific errors from the domain package.
// Database errors are wrapped with context using fmt.Errorf with %w verb.
//
//   - domain.ErrNotFound: Resource does not exist
//   - domain.ErrAlreadyExists: Unique constraint violation
//   - domain.ErrInvalidInput: Invalid parameters provided
//   - domain.ErrInvalidTransition: Agent state change not allowed
//
// # Transactions
//
// Use the DBTX interface to support both pool and transaction contexts.
// Emitting an event inside a business transaction:
//
//	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    if err := saveBook(ctx, tx, book); err != nil {
//	        return err
//	    }
//	    return repository.NewPgEventRepository(tx).Insert(ctx, event)
//	})
package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/search-outbox/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// PostgreSQL error codes used for constraint violation detection.
const (
	pgUniqueViolation = "23505" // unique_violation
)

// isPgUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// nullString returns a pointer to the string if non-empty, otherwise nil.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
