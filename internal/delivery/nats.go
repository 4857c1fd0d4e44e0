package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Default subjects.
const (
	DefaultNATSSubject    = "events.raw"
	DefaultNATSDeadLetter = "events.deadletter"
	DefaultNATSQueue      = "secpipeline"
)

// NATSConfig configures a NATS source or publisher.
type NATSConfig struct {
	URL               string
	Subject           string
	Queue             string
	DeadLetterSubject string
	Buffer            int
}

func (c *NATSConfig) withDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Subject == "" {
		c.Subject = DefaultNATSSubject
	}
	if c.Queue == "" {
		c.Queue = DefaultNATSQueue
	}
	if c.DeadLetterSubject == "" {
		c.DeadLetterSubject = DefaultNATSDeadLetter
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
}

func connectNATS(url, name string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return nc, nil
}

// NATSSource consumes a subject through a queue group so that instances
// share the stream. Core NATS has no redelivery, so Ack is a no-op and
// Reject republishes to the dead-letter subject.
type NATSSource struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	ch     chan *nats.Msg
	cfg    NATSConfig
	logger *zap.Logger
}

// NewNATSSource connects and subscribes.
func NewNATSSource(cfg NATSConfig, logger *zap.Logger) (*NATSSource, error) {
	cfg.withDefaults()
	nc, err := connectNATS(cfg.URL, "secpipeline-consumer", logger)
	if err != nil {
		return nil, err
	}

	ch := make(chan *nats.Msg, cfg.Buffer)
	sub, err := nc.ChanQueueSubscribe(cfg.Subject, cfg.Queue, ch)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Subject, err)
	}

	logger.Info("nats source subscribed",
		zap.String("subject", cfg.Subject),
		zap.String("queue", cfg.Queue),
	)
	return &NATSSource{nc: nc, sub: sub, ch: ch, cfg: cfg, logger: logger}, nil
}

// Receive implements Source. The Nats-Msg-Id header, when present, is the
// message ID; otherwise the ID is derived from the payload.
func (s *NATSSource) Receive(ctx context.Context) (*Message, error) {
	select {
	case m, ok := <-s.ch:
		if !ok {
			return nil, ErrClosed
		}
		id := m.Header.Get(nats.MsgIdHdr)
		if id == "" {
			id = ContentID(m.Data)
		}
		return &Message{ID: id, Data: m.Data, raw: m}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack implements Source.
func (s *NATSSource) Ack(context.Context, *Message) error { return nil }

// Reject implements Source.
func (s *NATSSource) Reject(_ context.Context, msg *Message, reason string) error {
	dl := nats.NewMsg(s.cfg.DeadLetterSubject)
	dl.Data = msg.Data
	dl.Header.Set("Secpipeline-Reject-Reason", reason)
	dl.Header.Set(nats.MsgIdHdr, msg.ID)
	if err := s.nc.PublishMsg(dl); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

// Close implements Source. Buffered messages are drained first.
func (s *NATSSource) Close() error {
	if err := s.sub.Drain(); err != nil {
		s.logger.Warn("nats drain", zap.Error(err))
	}
	s.nc.Close()
	return nil
}

// NATSPublisher publishes raw records to a subject.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher connects a publisher.
func NewNATSPublisher(cfg NATSConfig, logger *zap.Logger) (*NATSPublisher, error) {
	cfg.withDefaults()
	nc, err := connectNATS(cfg.URL, "secpipeline-publisher", logger)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc, subject: cfg.Subject}, nil
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(_ context.Context, data []byte) error {
	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, ContentID(data))
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}

// Close implements Publisher.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
