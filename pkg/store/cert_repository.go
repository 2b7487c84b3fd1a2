package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CertRecord is one row of cert_entities: an issued certificate together
// with the metadata the store indexes and filters on.
type CertRecord struct {
	Serial         []byte
	Subject        string
	PublicKey      []byte
	PEM            string
	Role           string
	NotValidBefore time.Time
	NotValidAfter  time.Time
	RevokedAt      *time.Time
}

// CertRepository is the cert_entities repository.
type CertRepository struct{}

func NewCertRepository() *CertRepository { return &CertRepository{} }

// Insert bulk-inserts records as a single statement, so it either fully
// succeeds or fails atomically if any serial collides with an existing
// row — it never partially inserts a batch.
func (r *CertRepository) Insert(ctx context.Context, q Querier, records []CertRecord) error {
	if len(records) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO cert_entities (sn, name, public_key, pem_serialized, role, not_valid_before, not_valid_after, revoked_at) VALUES ")
	args := make([]any, 0, len(records)*8)
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 8
		sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		args = append(args, hex.EncodeToString(rec.Serial), rec.Subject, rec.PublicKey, rec.PEM, rec.Role,
			rec.NotValidBefore.UTC(), rec.NotValidAfter.UTC(), rec.RevokedAt)
	}
	if _, err := q.ExecContext(ctx, sb.String(), args...); err != nil {
		if isUniqueViolation(err) {
			return ErrSerialConflict
		}
		return fmt.Errorf("store: insert cert_entities: %w", err)
	}
	return nil
}

const validityFilter = "not_valid_after > $%d AND revoked_at IS NULL"

// GetByPublicKey returns the PEM of the unique non-revoked, currently
// valid certificate for pub, if any.
func (r *CertRepository) GetByPublicKey(ctx context.Context, q Querier, pub []byte, now time.Time) (string, error) {
	query := "SELECT pem_serialized FROM cert_entities WHERE public_key = $1 AND " + fmt.Sprintf(validityFilter, 2)
	var pem string
	err := q.QueryRowContext(ctx, query, pub, now.UTC()).Scan(&pem)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get cert by public key: %w", err)
	}
	return pem, nil
}

// GetBySubject is GetByPublicKey's counterpart keyed by subject name.
func (r *CertRepository) GetBySubject(ctx context.Context, q Querier, subject string, now time.Time) (string, error) {
	query := "SELECT pem_serialized FROM cert_entities WHERE name = $1 AND " + fmt.Sprintf(validityFilter, 2)
	var pem string
	err := q.QueryRowContext(ctx, query, subject, now.UTC()).Scan(&pem)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get cert by subject: %w", err)
	}
	return pem, nil
}

// ListByRole returns currently-valid certificates for role, in insertion
// order, paginated by limit/offset.
func (r *CertRepository) ListByRole(ctx context.Context, q Querier, role string, limit, offset int, now time.Time) ([]CertRecord, error) {
	query := "SELECT sn, name, public_key, pem_serialized, role, not_valid_before, not_valid_after, revoked_at " +
		"FROM cert_entities WHERE role = $1 AND " + fmt.Sprintf(validityFilter, 2) +
		" ORDER BY created_at ASC LIMIT $3 OFFSET $4"
	rows, err := q.QueryContext(ctx, query, role, now.UTC(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list certs by role: %w", err)
	}
	defer rows.Close()

	var out []CertRecord
	for rows.Next() {
		var rec CertRecord
		var sn string
		var revokedAt sql.NullTime
		if err := rows.Scan(&sn, &rec.Subject, &rec.PublicKey, &rec.PEM, &rec.Role, &rec.NotValidBefore, &rec.NotValidAfter, &revokedAt); err != nil {
			return nil, fmt.Errorf("store: scan cert row: %w", err)
		}
		serial, err := hex.DecodeString(sn)
		if err != nil {
			return nil, fmt.Errorf("store: decode serial %q: %w", sn, err)
		}
		rec.Serial = serial
		if revokedAt.Valid {
			t := revokedAt.Time
			rec.RevokedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
