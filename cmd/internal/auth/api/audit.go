package authapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEvent is one security-relevant auth event. It never carries tokens.
type AuditEvent struct {
	Action    string
	UserID    string
	RecordID  string
	IP        net.IP
	UserAgent string
	Meta      map[string]any
}

// Auditor records auth events. Implementations must not fail the request.
type Auditor interface {
	Audit(ctx context.Context, ev AuditEvent)
}

// LogAuditor writes audit events to a structured logger.
type LogAuditor struct {
	Log *slog.Logger
}

func (a LogAuditor) Audit(ctx context.Context, ev AuditEvent) {
	log := a.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"action", ev.Action, "ip", ipKey(ev.IP)}
	if ev.UserID != "" {
		attrs = append(attrs, "user_id", ev.UserID)
	}
	if ev.RecordID != "" {
		attrs = append(attrs, "record_id", ev.RecordID)
	}
	if len(ev.Meta) > 0 {
		attrs = append(attrs, "meta", ev.Meta)
	}
	log.InfoContext(ctx, "auth.audit", attrs...)
}

// PostgresAuditor inserts audit events into audit_log.
type PostgresAuditor struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgresAuditor constructs a PostgresAuditor; insert failures are logged.
func NewPostgresAuditor(pool *pgxpool.Pool, log *slog.Logger) *PostgresAuditor {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresAuditor{pool: pool, log: log}
}

func (a *PostgresAuditor) Audit(ctx context.Context, ev AuditEvent) {
	if a == nil || a.pool == nil {
		return
	}

	action := strings.TrimSpace(ev.Action)
	if action == "" {
		return
	}

	var ipVal any
	if ev.IP != nil {
		ipVal = ev.IP.String()
	}

	var metaVal *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO audit_log (
			user_id, record_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, now(), $4, $5, $6::jsonb)
	`, trimOrNil(ev.UserID), trimOrNil(ev.RecordID), action, ipVal, trimOrNil(ev.UserAgent), metaVal)
	if err != nil {
		a.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

// MultiAuditor fans out to every non-nil Auditor.
type MultiAuditor []Auditor

func (m MultiAuditor) Audit(ctx context.Context, ev AuditEvent) {
	for _, a := range m {
		if a != nil {
			a.Audit(ctx, ev)
		}
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID, recordID, provider string, ip net.IP, ua string) {
	h.audit.Audit(ctx, AuditEvent{
		Action: "auth.login.success", UserID: userID, RecordID: recordID, IP: ip, UserAgent: ua,
		Meta: map[string]any{"provider": provider},
	})
}

func (h *Handler) auditLoginFailed(ctx context.Context, provider, reason string, ip net.IP, ua string) {
	h.audit.Audit(ctx, AuditEvent{
		Action: "auth.login.failed", IP: ip, UserAgent: ua,
		Meta: map[string]any{"provider": provider, "reason": reason},
	})
}

func (h *Handler) auditRateLimited(ctx context.Context, route string, ip net.IP, ua string) {
	h.audit.Audit(ctx, AuditEvent{
		Action: "auth.rate_limited", IP: ip, UserAgent: ua,
		Meta: map[string]any{"route": route},
	})
}

func (h *Handler) auditBootstrap(ctx context.Context, userID, recordID string, ip net.IP, ua string) {
	h.audit.Audit(ctx, AuditEvent{Action: "auth.bootstrap", UserID: userID, RecordID: recordID, IP: ip, UserAgent: ua})
}

func (h *Handler) auditRefreshSuccess(ctx context.Context, userID, recordID string, ip net.IP, ua string) {
	h.audit.Audit(ctx, AuditEvent{Action: "auth.refresh.success", UserID: userID, RecordID: recordID, IP: ip, UserAgent: ua})
}

func (h *Handler) auditRefreshReuse(ctx context.Context, userID, previousID string, ip net.IP, ua string) {
	h.audit.Audit(ctx, AuditEvent{
		Action: "auth.refresh.reuse_detected", UserID: userID, RecordID: previousID, IP: ip, UserAgent: ua,
	})
}

func (h *Handler) auditLogout(ctx context.Context, userID, recordID string, ip net.IP, ua string) {
	h.audit.Audit(ctx, AuditEvent{Action: "auth.logout", UserID: userID, RecordID: recordID, IP: ip, UserAgent: ua})
}
