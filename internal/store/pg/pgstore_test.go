package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"sanamind.org/internal/audit"
	"sanamind.org/internal/dossier"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestFindDossier(t *testing.T) {
	s, mock := newMock(t)
	created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	expires := created.Add(90 * 24 * time.Hour)

	mock.ExpectQuery("select id, client_id, triage_session_id.*from dossiers where id").
		WithArgs("d-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "client_id", "triage_session_id", "risk_level", "red_flags", "version",
			"created_at", "expires_at", "encrypted_payload", "encryption_key_id",
		}).AddRow("d-1", "client-1", "triage-1", "high", []byte(`["self-harm ideation"]`), 2,
			created, expires, []byte{1, 2, 3}, "k1"))
	mock.ExpectQuery("select therapist_profile_id from dossier_recommended_therapists").
		WithArgs("d-1").
		WillReturnRows(sqlmock.NewRows([]string{"therapist_profile_id"}).AddRow("profile-b").AddRow("profile-a"))

	d, err := s.FindDossier(context.Background(), "d-1")
	if err != nil {
		t.Fatalf("FindDossier: %v", err)
	}
	if d.ClientID != "client-1" || d.EncryptionKeyID != "k1" || !d.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected dossier: %+v", d)
	}
	if len(d.RedFlags) != 1 || d.RedFlags[0] != "self-harm ideation" {
		t.Fatalf("unexpected red flags: %v", d.RedFlags)
	}
	if len(d.RecommendedTherapistProfileIDs) != 2 || d.RecommendedTherapistProfileIDs[0] != "profile-b" {
		t.Fatalf("recommendation order lost: %v", d.RecommendedTherapistProfileIDs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindDossierNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from dossiers where id").WithArgs("nope").WillReturnError(sql.ErrNoRows)

	if _, err := s.FindDossier(context.Background(), "nope"); !errors.Is(err, dossier.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertDossier(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	d := dossier.Dossier{
		ID:                             "d-1",
		ClientID:                       "client-1",
		TriageSessionID:                "triage-1",
		RecommendedTherapistProfileIDs: []string{"profile-a", "profile-b"},
		RiskLevel:                      "low",
		Version:                        2,
		CreatedAt:                      now,
		ExpiresAt:                      now.Add(time.Hour),
		EncryptedPayload:               []byte{9},
		EncryptionKeyID:                "k1",
	}

	mock.ExpectBegin()
	mock.ExpectExec("insert into dossiers").
		WithArgs("d-1", "client-1", "triage-1", "low", []byte("[]"), 2, now, now.Add(time.Hour), []byte{9}, "k1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into dossier_recommended_therapists").WithArgs("d-1", "profile-a", 0).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into dossier_recommended_therapists").WithArgs("d-1", "profile-b", 1).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := s.InsertDossier(context.Background(), d); err != nil {
		t.Fatalf("InsertDossier: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertDossierDuplicate(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("insert into dossiers").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	err := s.InsertDossier(context.Background(), dossier.Dossier{ID: "d-1", ClientID: "client-1"})
	if !errors.Is(err, dossier.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindUser(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select id, email, role from users").WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "role"}).AddRow("u-1", "t@example.com", "therapist"))
	mock.ExpectQuery("select id, email, role from users").WithArgs("u-2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "role"}).AddRow("u-2", "x@example.com", "SUPPORT"))
	mock.ExpectQuery("select id, email, role from users").WithArgs("u-3").WillReturnError(sql.ErrNoRows)

	a, err := s.FindUser(context.Background(), "u-1")
	if err != nil || a.Role != dossier.RoleTherapist {
		t.Fatalf("FindUser = %+v, %v", a, err)
	}
	a, err = s.FindUser(context.Background(), "u-2")
	if err != nil || a.Role != "" {
		t.Fatalf("unknown role must map to no role: %+v, %v", a, err)
	}
	if _, err := s.FindUser(context.Background(), "u-3"); !errors.Is(err, dossier.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindTherapistProfileByUser(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from therapist_profiles where user_id").WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status"}).AddRow("profile-a", "u-1", "VERIFIED"))
	mock.ExpectQuery("from therapist_profiles where user_id").WithArgs("u-2").WillReturnError(sql.ErrNoRows)

	p, err := s.FindTherapistProfileByUser(context.Background(), "u-1")
	if err != nil || p.ID != "profile-a" || p.Status != dossier.ProfileVerified {
		t.Fatalf("FindTherapistProfileByUser = %+v, %v", p, err)
	}
	if _, err := s.FindTherapistProfileByUser(context.Background(), "u-2"); !errors.Is(err, dossier.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendAccessLog(t *testing.T) {
	s, mock := newMock(t)
	ts := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("insert into access_logs").
		WithArgs("01J0000000000000000000000", "d-1", sqlmock.AnyArg(), "capability_link", "abc", "ua",
			"DENIED", "not recommended", "req-1", ts).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.AppendAccessLog(context.Background(), audit.Entry{
		ID:          "01J0000000000000000000000",
		DossierID:   "d-1",
		RequesterID: "u-1",
		Channel:     "capability_link",
		IPHash:      "abc",
		UserAgent:   "ua",
		Status:      audit.StatusDenied,
		Reason:      "not recommended",
		RequestID:   "req-1",
		Timestamp:   ts,
	})
	if err != nil {
		t.Fatalf("AppendAccessLog: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
