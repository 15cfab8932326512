// Package notify delivers account notifications such as verification and
// password reset links.
package notify

import (
	"context"
	"log/slog"
	"time"

	"housegen/internal/auth"
)

// Event is the wire form of an auth.Notification.
type Event struct {
	Type       string    `json:"type"`
	UserID     string    `json:"userId"`
	Email      string    `json:"email"`
	Name       string    `json:"name,omitempty"`
	Token      string    `json:"token,omitempty"`
	Link       string    `json:"link,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt,omitzero"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Links builds the frontend URLs embedded in events.
type Links struct {
	FrontendURL string
}

func (l Links) forNotification(n auth.Notification) string {
	if n.Token == "" || l.FrontendURL == "" {
		return ""
	}
	switch n.Kind {
	case auth.NotifyEmailVerification:
		return l.FrontendURL + "/verify-email?token=" + n.Token
	case auth.NotifyPasswordReset:
		return l.FrontendURL + "/reset-password?token=" + n.Token
	}
	return ""
}

// NewEvent converts a notification into its wire form.
func NewEvent(n auth.Notification, links Links, now time.Time) Event {
	return Event{
		Type:       string(n.Kind),
		UserID:     n.UserID.String(),
		Email:      n.Email,
		Name:       n.Name,
		Token:      n.Token,
		Link:       links.forNotification(n),
		ExpiresAt:  n.ExpiresAt,
		OccurredAt: now.UTC(),
	}
}

// LogNotifier writes notifications to the log. It is meant for development,
// where the link in the log stands in for the email.
type LogNotifier struct {
	logger *slog.Logger
	links  Links
}

func NewLogNotifier(logger *slog.Logger, links Links) *LogNotifier {
	return &LogNotifier{logger: logger, links: links}
}

func (n *LogNotifier) Notify(_ context.Context, msg auth.Notification) error {
	ev := NewEvent(msg, n.links, time.Now())
	n.logger.Info("notification",
		"type", ev.Type,
		"user_id", ev.UserID,
		"email", ev.Email,
		"link", ev.Link,
	)
	return nil
}
