package alert

import "context"

// alertHandlerInterface is the delivery channel behind the dispatcher. SMTP
// and webhook delivery both implement it.
type alertHandlerInterface interface {
	SendMessageTo(ctx context.Context, recipients []string, subject, body string) error
}
