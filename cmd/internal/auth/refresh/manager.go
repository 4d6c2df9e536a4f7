package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"postboard/cmd/identity/ids"
)

// maxFamilyWalk bounds the RotatedTo chain walk during family revocation.
const maxFamilyWalk = 1024

// Manager implements the refresh-token lifecycle: issue, verify, rotate and revoke.
//
// It is safe for concurrent use; atomicity of rotation is delegated to the Store.
type Manager struct {
	cfg     Config
	store   Store
	digest  Digester
	now     func() time.Time
	metrics *Metrics
	log     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMetrics attaches Prometheus counters.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithLogger sets the logger used for store-side failures during family revocation.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager constructs a Manager. cfg is validated.
func NewManager(cfg Config, store Store, digest Digester, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || digest == nil {
		return nil, ErrConfig
	}

	m := &Manager{
		cfg:    cfg,
		store:  store,
		digest: digest,
		now:    func() time.Time { return time.Now().UTC() },
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the manager configuration.
func (m *Manager) Config() Config { return m.cfg }

// Issue creates a new refresh token for subjectID.
//
// A subject may hold any number of concurrently valid tokens.
func (m *Manager) Issue(ctx context.Context, subjectID string) (Issued, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return Issued{}, ErrInvalidSubject
	}

	now := m.now()
	plain, rec, err := m.newRecord(subjectID, now)
	if err != nil {
		return Issued{}, err
	}

	if err := m.store.Create(ctx, rec); err != nil {
		return Issued{}, fmt.Errorf("refresh: create: %w", err)
	}

	m.metrics.issued()
	return issuedFrom(plain, rec), nil
}

// Verify resolves token to its record without side effects.
//
// Checks run in order: ErrNotFound, ErrRevoked (including rotated records), ErrExpired.
func (m *Manager) Verify(ctx context.Context, token string) (Verified, error) {
	digest, ok := m.digestOf(token)
	if !ok {
		m.metrics.verifyFailed(ErrNotFound)
		return Verified{}, ErrNotFound
	}

	rec, err := m.store.GetByDigest(ctx, digest)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.metrics.verifyFailed(ErrNotFound)
			return Verified{}, ErrNotFound
		}
		return Verified{}, fmt.Errorf("refresh: lookup: %w", err)
	}

	if !rec.Current(m.now()) {
		reason := ErrExpired
		if rec.Revoked || rec.RotatedTo != "" {
			reason = ErrRevoked
		}
		m.metrics.verifyFailed(reason)
		return Verified{}, reason
	}

	return Verified{ID: rec.ID, SubjectID: rec.SubjectID, ExpiresAt: rec.ExpiresAt}, nil
}

// Rotate exchanges oldToken for a successor.
//
// The presented record is revoked and linked to the successor in one store
// step. If it had already been rotated, Rotation.Reused is set. Under
// ReuseRevokeFamily a reuse instead revokes every descendant plus the new
// successor and returns ErrReuseDetected together with a Rotation carrying
// only PreviousID and SubjectID, so the event can be attributed.
func (m *Manager) Rotate(ctx context.Context, oldToken string) (Rotation, error) {
	digest, ok := m.digestOf(oldToken)
	if !ok {
		m.metrics.rotated(rotationRejected)
		return Rotation{}, ErrNotFound
	}

	now := m.now()
	// Subject is filled in by the store from the presented record.
	plain, next, err := m.newRecord("", now)
	if err != nil {
		return Rotation{}, err
	}

	prev, err := m.store.Rotate(ctx, digest, next, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) || errors.Is(err, ErrRevoked) {
			m.metrics.rotated(rotationRejected)
			return Rotation{}, err
		}
		return Rotation{}, fmt.Errorf("refresh: rotate: %w", err)
	}
	next.SubjectID = prev.SubjectID

	reused := prev.RotatedTo != ""
	if reused && m.cfg.ReusePolicy == ReuseRevokeFamily {
		m.revokeFamily(ctx, prev.RotatedTo, now)
		if _, err := m.store.Revoke(ctx, next.ID, now, ReasonReuseDetected); err != nil {
			m.log.Error("refresh.family_revoke.fail", "record_id", next.ID, "err", err)
		}
		m.metrics.rotated(rotationReused)
		return Rotation{PreviousID: prev.ID, SubjectID: prev.SubjectID}, ErrReuseDetected
	}

	if reused {
		m.metrics.rotated(rotationReused)
	} else {
		m.metrics.rotated(rotationOK)
	}

	return Rotation{
		Next:       issuedFrom(plain, next),
		Reused:     reused,
		PreviousID: prev.ID,
		SubjectID:  prev.SubjectID,
	}, nil
}

// RevokeByID revokes the record with id. Unknown or empty IDs are a no-op.
func (m *Manager) RevokeByID(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	changed, err := m.store.Revoke(ctx, id, m.now(), ReasonLogout)
	if err != nil {
		return fmt.Errorf("refresh: revoke: %w", err)
	}
	if changed {
		m.metrics.revoked()
	}
	return nil
}

// revokeFamily revokes the chain of successors starting at id. Failures are
// logged and the walk stops; the presented record is already revoked.
//
// Each record is revoked before its RotatedTo is read. Once revoked without a
// successor it can no longer rotate, so a rotation racing the walk is either
// refused or already visible in the read.
func (m *Manager) revokeFamily(ctx context.Context, id string, now time.Time) {
	seen := make(map[string]struct{})
	for hops := 0; id != "" && hops < maxFamilyWalk; hops++ {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}

		if _, err := m.store.Revoke(ctx, id, now, ReasonReuseDetected); err != nil {
			m.log.Error("refresh.family_revoke.fail", "record_id", id, "err", err)
			return
		}
		rec, err := m.store.GetByID(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				m.log.Error("refresh.family_revoke.fail", "record_id", id, "err", err)
			}
			return
		}
		id = rec.RotatedTo
	}
}

// digestOf hashes the token exactly as presented.
func (m *Manager) digestOf(token string) (string, bool) {
	// Basic sanity bounds to avoid pathological inputs.
	if token == "" || len(token) > maxTokenLen {
		return "", false
	}
	return m.digest.Digest(token), true
}

func (m *Manager) newRecord(subjectID string, now time.Time) (string, Record, error) {
	plain, err := newOpaqueToken(m.cfg.TokenBytes)
	if err != nil {
		return "", Record{}, fmt.Errorf("refresh: generate token: %w", err)
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return "", Record{}, fmt.Errorf("refresh: generate id: %w", err)
	}

	return plain, Record{
		ID:          id,
		SubjectID:   subjectID,
		TokenDigest: m.digest.Digest(plain),
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.cfg.TTL),
	}, nil
}

func issuedFrom(plain string, rec Record) Issued {
	return Issued{
		Token:     plain,
		ID:        rec.ID,
		SubjectID: rec.SubjectID,
		ExpiresAt: rec.ExpiresAt,
	}
}
