package ledger

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/dukaan-erp/dukaan-erp/internal/shared"
)

func TestMapPgErrorConflictAtCommit(t *testing.T) {
	// Serialization failures can surface when the transaction commits,
	// wrapped by the transaction helper. They must still map to a
	// retryable conflict rather than leak as a raw driver error.
	commitErr := fmt.Errorf("platform/db: commit tx: %w", &pgconn.PgError{Code: "40001"})
	require.ErrorIs(t, mapPgError(commitErr), shared.ErrConflict)

	lockErr := fmt.Errorf("platform/db: commit tx: %w", &pgconn.PgError{Code: "55P03"})
	require.ErrorIs(t, mapPgError(lockErr), shared.ErrConflict)
}

func TestMapPgErrorDuplicateAccount(t *testing.T) {
	err := mapPgError(&pgconn.PgError{Code: "23505", Detail: "Key (code)=(1000) already exists."})
	require.ErrorIs(t, err, ErrDuplicateAccount)
}

func TestMapPgErrorPassthrough(t *testing.T) {
	plain := fmt.Errorf("boom")
	require.Equal(t, plain, mapPgError(plain))
	require.NoError(t, mapPgError(nil))
}
