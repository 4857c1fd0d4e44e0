// Package email sends plain-text mail to the security team's mailbox.
package email

import "context"

// Sender delivers a plain-text message to one or more recipients.
type Sender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}
