package pg

import (
	"context"
	"errors"

	"sanamind.org/internal/audit"
	"sanamind.org/internal/ids"
)

// AppendAccessLog inserts one access-log row. The table is append-only; no
// update or delete path exists.
func (s *Store) AppendAccessLog(ctx context.Context, e audit.Entry) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	if e.ID == "" {
		e.ID = ids.NewAt(e.Timestamp)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into access_logs (id, dossier_id, requester_id, channel, ip_hash, user_agent,
		                         status, reason, request_id, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, e.ID, e.DossierID, nullIfEmpty(e.RequesterID), e.Channel, e.IPHash, e.UserAgent,
		string(e.Status), e.Reason, e.RequestID, e.Timestamp.UTC())
	return err
}
