// Package notifier
package notifier

import "context"

// Notifier interface for sending notifications (e.g., Telegram, email).
type Notifier interface {
	Send(ctx context.Context, msg string) error
	SendWithRetry(ctx context.Context, msg string) error
}

// Nop drops every message.
type Nop struct{}

func (Nop) Send(context.Context, string) error { return nil }

func (Nop) SendWithRetry(context.Context, string) error { return nil }
