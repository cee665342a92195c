// Package audit records security events emitted by the session engine.
//
// Sinks are best-effort from the engine's perspective: a failed Record is
// logged and counted but never changes an accept/reject decision.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gogotex/gogotex/backend/auth-sessions/pkg/logger"
)

type EventType string

const (
	EventTokenIssued     EventType = "token_issued"
	EventTokenRefreshed  EventType = "token_refreshed"
	EventRefreshFailed   EventType = "token_refresh_failed"
	EventRefreshRaceLost EventType = "token_refresh_race_lost"
	EventLogout          EventType = "logout"
	EventLogoutAll       EventType = "logout_all"
	EventAccessRevoked   EventType = "access_token_revoked"
	EventSessionsCleanup EventType = "session_cleanup"
)

// Event is a single structured security record.
type Event struct {
	ID        string         `bson:"_id" json:"id"`
	Timestamp time.Time      `bson:"timestamp" json:"timestamp"`
	Type      EventType      `bson:"type" json:"type"`
	UserID    string         `bson:"userId,omitempty" json:"userId,omitempty"`
	TokenID   string         `bson:"tokenId,omitempty" json:"tokenId,omitempty"`
	IP        string         `bson:"ip,omitempty" json:"ip,omitempty"`
	UserAgent string         `bson:"userAgent,omitempty" json:"userAgent,omitempty"`
	Success   bool           `bson:"success" json:"success"`
	Detail    string         `bson:"detail,omitempty" json:"detail,omitempty"`
	Metadata  map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// NewEvent stamps an id and timestamp.
func NewEvent(t EventType, success bool, detail string) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      t,
		Success:   success,
		Detail:    detail,
	}
}

// Sink receives audit events.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

// NoopSink drops events.
type NoopSink struct{}

func (NoopSink) Record(context.Context, Event) error { return nil }

// LogSink writes events to the service log.
type LogSink struct{}

func (LogSink) Record(ctx context.Context, e Event) error {
	lv := slog.LevelInfo
	if !e.Success {
		lv = slog.LevelWarn
	}
	args := []any{"type", string(e.Type), "success", e.Success}
	if e.UserID != "" {
		args = append(args, "userId", e.UserID)
	}
	if e.TokenID != "" {
		args = append(args, "tokenId", e.TokenID)
	}
	if e.IP != "" {
		args = append(args, "ip", e.IP)
	}
	if e.Detail != "" {
		args = append(args, "detail", e.Detail)
	}
	logger.Event(ctx, lv, "audit", args...)
	return nil
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
