package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"sanamind.org/internal/dossier"
)

// FindDossier loads a dossier and its recommended therapist profile ids in list order.
func (s *Store) FindDossier(ctx context.Context, id string) (*dossier.Dossier, error) {
	var (
		d        dossier.Dossier
		redFlags []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, client_id, triage_session_id, risk_level, red_flags, version,
		       created_at, expires_at, encrypted_payload, encryption_key_id
		from dossiers where id = $1
	`, id).Scan(&d.ID, &d.ClientID, &d.TriageSessionID, &d.RiskLevel, &redFlags, &d.Version,
		&d.CreatedAt, &d.ExpiresAt, &d.EncryptedPayload, &d.EncryptionKeyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dossier.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(redFlags) > 0 {
		if err := json.Unmarshal(redFlags, &d.RedFlags); err != nil {
			return nil, fmt.Errorf("decode red flags: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		select therapist_profile_id from dossier_recommended_therapists
		where dossier_id = $1
		order by position asc
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var pid string
		if err := rows.Scan(&pid); err != nil {
			return nil, err
		}
		d.RecommendedTherapistProfileIDs = append(d.RecommendedTherapistProfileIDs, pid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &d, nil
}

// InsertDossier persists a sealed dossier together with its recommendation list.
func (s *Store) InsertDossier(ctx context.Context, d dossier.Dossier) error {
	if strings.TrimSpace(d.ID) == "" || strings.TrimSpace(d.ClientID) == "" {
		return fmt.Errorf("%w: id and client id are required", dossier.ErrInvalidInput)
	}
	if d.RedFlags == nil {
		d.RedFlags = []string{}
	}
	flags, err := json.Marshal(d.RedFlags)
	if err != nil {
		return fmt.Errorf("encode red flags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into dossiers (id, client_id, triage_session_id, risk_level, red_flags, version,
		                      created_at, expires_at, encrypted_payload, encryption_key_id)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, d.ID, d.ClientID, d.TriageSessionID, d.RiskLevel, flags, d.Version,
		d.CreatedAt.UTC(), d.ExpiresAt.UTC(), d.EncryptedPayload, d.EncryptionKeyID); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return fmt.Errorf("%w: dossier %s already exists", dossier.ErrInvalidInput, d.ID)
			case pgErrForeignKeyViolation:
				return fmt.Errorf("%w: unknown client %s", dossier.ErrInvalidInput, d.ClientID)
			}
		}
		return err
	}
	for i, pid := range d.RecommendedTherapistProfileIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into dossier_recommended_therapists (dossier_id, therapist_profile_id, position)
			values ($1,$2,$3)
		`, d.ID, pid, i); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: unknown therapist profile %s", dossier.ErrInvalidInput, pid)
			}
			return err
		}
	}
	return tx.Commit()
}

// FindUser loads the identity and role of a user.
func (s *Store) FindUser(ctx context.Context, id string) (*dossier.Actor, error) {
	var (
		a    dossier.Actor
		role string
	)
	err := s.db.QueryRowContext(ctx, `select id, email, role from users where id = $1`, id).
		Scan(&a.ID, &a.Email, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dossier.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	// Unknown role strings leave the actor roleless, which authorization denies.
	a.Role = dossier.ParseRole(role)
	return &a, nil
}

// FindTherapistProfileByUser loads the therapist profile owned by userID.
func (s *Store) FindTherapistProfileByUser(ctx context.Context, userID string) (*dossier.TherapistProfile, error) {
	var p dossier.TherapistProfile
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, status from therapist_profiles where user_id = $1
	`, userID).Scan(&p.ID, &p.UserID, &p.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dossier.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
