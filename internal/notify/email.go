package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmerrifield20/secpipeline/internal/email"
	"github.com/jmerrifield20/secpipeline/internal/metrics"
	"github.com/jmerrifield20/secpipeline/internal/responder"
	"go.uber.org/zap"
)

// EmailSink mails notifications to a fixed recipient list. Sends run in the
// background; Close waits for in-flight ones.
type EmailSink struct {
	sender email.Sender
	to     []string
	logger *zap.Logger
	now    func() time.Time

	wg sync.WaitGroup
}

// NewEmailSink creates an EmailSink.
func NewEmailSink(sender email.Sender, to []string, logger *zap.Logger) *EmailSink {
	return &EmailSink{sender: sender, to: to, logger: logger, now: time.Now}
}

// Notify implements Sink.
func (s *EmailSink) Notify(ctx context.Context, res *responder.ActionResult) {
	typ := TypeFor(res)
	if typ == "" {
		return
	}
	n := Notification{Type: typ, Timestamp: s.now().UTC(), Result: res}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.sender.Send(context.WithoutCancel(ctx), s.to, Subject(n), Body(n))
		metrics.RecordNotification(err == nil)
		if err != nil {
			s.logger.Error("email: send failed",
				zap.String("event_id", res.EventID),
				zap.Error(err),
			)
		}
	}()
}

// Close waits for in-flight sends.
func (s *EmailSink) Close() {
	s.wg.Wait()
}

// Subject renders the mail subject for n.
func Subject(n Notification) string {
	r := n.Result
	return fmt.Sprintf("[secpipeline] %s: %s for %s (risk %d)", n.Type, r.Playbook, r.EntityID, r.RiskScore)
}

// Body renders the plain-text mail body for n.
func Body(n Notification) string {
	r := n.Result
	var b strings.Builder
	fmt.Fprintf(&b, "Status:     %s\n", r.Status)
	fmt.Fprintf(&b, "Playbook:   %s\n", r.Playbook)
	fmt.Fprintf(&b, "Event:      %s\n", r.EventID)
	fmt.Fprintf(&b, "Entity:     %s\n", r.EntityID)
	if r.ResourceID != "" {
		fmt.Fprintf(&b, "Resource:   %s\n", r.ResourceID)
	}
	fmt.Fprintf(&b, "Risk score: %d\n", r.RiskScore)
	if r.TicketID != "" {
		fmt.Fprintf(&b, "Ticket:     %s\n", r.TicketID)
	}
	if len(r.Actions) > 0 {
		b.WriteString("\nActions taken:\n")
		for _, a := range r.Actions {
			fmt.Fprintf(&b, "  - %s\n", a)
		}
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "\nError: %s\n", r.Error)
	}
	fmt.Fprintf(&b, "\nSent at %s\n", n.Timestamp.Format(time.RFC3339))
	return b.String()
}

// Multi fans a notification out to several sinks.
type Multi []Sink

// Notify implements Sink.
func (m Multi) Notify(ctx context.Context, res *responder.ActionResult) {
	for _, s := range m {
		s.Notify(ctx, res)
	}
}
