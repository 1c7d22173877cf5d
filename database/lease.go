package database

import (
	"context"
	"time"

	"github.com/saldo-finance/saldo/internal/apierror"
)

// AcquireLease claims the named lease for owner until now+ttl. The claim
// succeeds only when no row exists or the held lease has expired: the same
// compare-and-swap pattern as the per-resource processing lock, made durable
// so it holds across service instances.
func (d Datasource) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	expiresAt := time.Now().Add(ttl)

	result, err := d.Conn.ExecContext(ctx, `
		INSERT INTO scheduler_leases (lease_name, owner, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (lease_name)
		DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE scheduler_leases.expires_at < NOW()
	`, name, owner, expiresAt)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to acquire scheduler lease", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rowsAffected == 1, nil
}

// ReleaseLease expires the lease immediately, but only for its current owner.
func (d Datasource) ReleaseLease(ctx context.Context, name, owner string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE scheduler_leases
		SET expires_at = NOW()
		WHERE lease_name = $1 AND owner = $2
	`, name, owner)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to release scheduler lease", err)
	}
	return nil
}
