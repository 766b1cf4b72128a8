package audit

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"sanamind.org/internal/ids"
	"sanamind.org/internal/obs"
)

// Status is the recorded outcome of an access attempt.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusDenied  Status = "DENIED"
	StatusExpired Status = "EXPIRED"
	// StatusError marks an allowed request that failed afterwards (decryption,
	// artifact or lookup failures). No content was delivered.
	StatusError Status = "ERROR"
)

const (
	defaultWriteTimeout = 5 * time.Second
	maxUserAgentLen     = 512
	ipHashContext       = "sanamind.org 2026 access-log ip hash v1"
)

// Event is an access decision as seen by the orchestrator. IP is raw here
// and is hashed before anything is persisted.
type Event struct {
	DossierID   string
	RequesterID string
	Channel     string
	IP          string
	UserAgent   string
	Status      Status
	Reason      string
	RequestID   string
	OccurredAt  time.Time
}

// Entry is one immutable row of the access log.
type Entry struct {
	ID          string
	DossierID   string
	RequesterID string
	Channel     string
	IPHash      string
	UserAgent   string
	Status      Status
	Reason      string
	RequestID   string
	Timestamp   time.Time
}

// EntryStore appends access log rows. Implementations never update or delete.
type EntryStore interface {
	AppendAccessLog(ctx context.Context, entry Entry) error
}

// Auditor records access decisions without blocking the caller. Failed
// writes are logged and counted, never returned.
type Auditor struct {
	store   EntryStore
	ipKey   []byte
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithWriteTimeout bounds each background write.
func WithWriteTimeout(d time.Duration) Option {
	return func(a *Auditor) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithClock overrides the time source used when an event has no timestamp.
func WithClock(fn func() time.Time) Option {
	return func(a *Auditor) {
		if fn != nil {
			a.now = fn
		}
	}
}

// WithLogger sets the logger used for write failures.
func WithLogger(l *zap.Logger) Option {
	return func(a *Auditor) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAuditor builds an Auditor. hashSecret keys the IP hash so hashes cannot be
// reversed by enumerating the IPv4 space.
func NewAuditor(store EntryStore, hashSecret []byte, opts ...Option) (*Auditor, error) {
	if store == nil {
		return nil, errors.New("audit: entry store is required")
	}
	if len(hashSecret) == 0 {
		return nil, errors.New("audit: ip hash secret is required")
	}
	key := make([]byte, 32)
	blake3.DeriveKey(ipHashContext, hashSecret, key)
	a := &Auditor{
		store:   store,
		ipKey:   key,
		timeout: defaultWriteTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Record persists ev in the background and returns immediately.
func (a *Auditor) Record(ctx context.Context, ev Event) {
	entry := a.entryFor(ev)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.fail(entry, fmt.Errorf("panic: %v", r))
			}
		}()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.store.AppendAccessLog(wctx, entry); err != nil {
			a.fail(entry, err)
		}
	}()
}

// Wait blocks until all writes started by Record have finished.
func (a *Auditor) Wait() {
	a.wg.Wait()
}

// HashIP returns the keyed one-way hash stored in place of an address.
func (a *Auditor) HashIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ""
	}
	h, err := blake3.NewKeyed(a.ipKey)
	if err != nil {
		// key length is fixed at 32 above
		panic(err)
	}
	_, _ = h.WriteString(ip)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *Auditor) entryFor(ev Event) Entry {
	ts := ev.OccurredAt
	if ts.IsZero() {
		ts = a.now()
	}
	ts = ts.UTC()
	ua := truncateUTF8(cleanText(ev.UserAgent), maxUserAgentLen)
	return Entry{
		ID:          ids.NewAt(ts),
		DossierID:   ev.DossierID,
		RequesterID: ev.RequesterID,
		Channel:     ev.Channel,
		IPHash:      a.HashIP(ev.IP),
		UserAgent:   ua,
		Status:      ev.Status,
		Reason:      cleanText(ev.Reason),
		RequestID:   cleanText(ev.RequestID),
		Timestamp:   ts,
	}
}

// cleanText replaces invalid UTF-8 so text columns accept the row.
func cleanText(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (a *Auditor) fail(entry Entry, err error) {
	obs.AuditWriteFailures.Inc()
	l := a.logger
	if l == nil {
		l = obs.Logger()
	}
	l.Error("access log write failed",
		zap.Error(err),
		zap.String("dossier_id", entry.DossierID),
		zap.String("status", string(entry.Status)),
		zap.String("request_id", entry.RequestID),
	)
}
