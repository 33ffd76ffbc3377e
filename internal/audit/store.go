package audit

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"trustpipe/internal/constants"
	"trustpipe/internal/logger"
	"trustpipe/internal/verification"
	"trustpipe/pkg/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// RunMigrations brings the audit schema up to date. Migrations ship inside
// the binary so the schema can never drift from the code that writes to it.
func RunMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Store persists verification verdicts to PostgreSQL. Entries carry only
// hashed recipient identifiers; the claimed address itself never reaches
// this table.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

func NewStore(db *sql.DB, log logger.Logger) *Store {
	return &Store{db: db, logger: log}
}

func (s *Store) Record(ctx context.Context, entry verification.AuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, constants.AuditWriteTimeout)
	defer cancel()

	chainJSON, err := json.Marshal(entry.Chain)
	if err != nil {
		return errors.Permanent("AUDIT_ENCODING", "failed to encode judgment chain").WithCause(err)
	}

	flags := entry.AnomalyFlags
	if flags == nil {
		flags = []string{}
	}
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return errors.Permanent("AUDIT_ENCODING", "failed to encode anomaly flags").WithCause(err)
	}

	query := `
		INSERT INTO verification_audit (chain_id, event_id, lease_id, claimed_hash, authorized, alert, chain, anomaly_flags, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.db.ExecContext(ctx, query,
		entry.ChainID, entry.EventID, entry.LeaseID, entry.ClaimedHash,
		entry.Authorized, entry.Alert, chainJSON, flagsJSON, entry.OccurredAt,
	)
	if err != nil {
		return errors.Retriable("AUDIT_WRITE", "failed to persist audit entry").WithCause(err)
	}

	return nil
}

// AlertCount returns how many alert-flagged entries exist for a lease,
// used by operators when triaging a suspected harvesting attempt.
func (s *Store) AlertCount(ctx context.Context, leaseID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.AuditWriteTimeout)
	defer cancel()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM verification_audit WHERE lease_id = $1 AND alert`,
		leaseID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Retriable("AUDIT_READ", "failed to count alert entries").WithCause(err)
	}

	return count, nil
}
