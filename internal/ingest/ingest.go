// Package ingest consumes experience envelopes from NATS and records them
// through the episodic engine. It is the asynchronous sibling of the HTTP
// experiences endpoint: automation that cannot wait on a synchronous call
// publishes to the experiences subject and moves on.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/episodic"
	"github.com/fyrsmithlabs/recalld/internal/logging"
)

// Envelope is the wire format published to the experiences subject. The
// signal id correlates daemon logs with the publisher; a missing or malformed
// id is replaced rather than rejected.
type Envelope struct {
	SignalID string `json:"signal_id,omitempty"`
	episodic.RecordRequest
}

// Config controls the NATS connection and subscription.
type Config struct {
	// URL is the NATS server URL, e.g. "nats://127.0.0.1:4222".
	URL string

	// Subject is the subscription subject, normally "experiences.>".
	Subject string

	// Token is an optional connection token.
	Token string

	// Name identifies the connection to the server.
	Name string
}

// Subscriber owns one NATS subscription feeding the engine.
type Subscriber struct {
	conn    *nats.Conn
	svc     *episodic.Service
	logger  *zap.Logger
	metrics *Metrics
	subject string
	sub     *nats.Subscription

	// ownsConn is set when the subscriber dialed the connection itself and
	// is therefore responsible for closing it.
	ownsConn bool
}

// Connect dials NATS and returns a subscriber over a fresh connection.
func Connect(cfg *Config, svc *episodic.Service, logger *zap.Logger) (*Subscriber, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("ingest URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", cfg.URL, err)
	}

	sub, err := NewSubscriber(nc, cfg.Subject, svc, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	sub.ownsConn = true
	return sub, nil
}

// NewSubscriber builds a subscriber over an existing connection. The caller
// keeps ownership of the connection.
func NewSubscriber(nc *nats.Conn, subject string, svc *episodic.Service, logger *zap.Logger) (*Subscriber, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if subject == "" {
		return nil, fmt.Errorf("ingest subject is required")
	}
	if svc == nil {
		return nil, fmt.Errorf("episodic service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Subscriber{
		conn:    nc,
		svc:     svc,
		logger:  logger,
		metrics: NewMetrics(logger),
		subject: subject,
	}, nil
}

// Start subscribes to the experiences subject. Messages are handled on the
// connection's delivery goroutine; the engine call is short so no worker
// pool sits in between.
func (s *Subscriber) Start(ctx context.Context) error {
	sub, err := s.conn.Subscribe(s.subject, func(msg *nats.Msg) {
		s.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.subject, err)
	}
	s.sub = sub
	s.logger.Info("ingest subscriber started", zap.String("subject", s.subject))
	return nil
}

func (s *Subscriber) handle(ctx context.Context, msg *nats.Msg) {
	s.metrics.RecordReceived(ctx)

	var envelope Envelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		// Malformed envelopes are logged and dropped; there is no dead
		// letter subject.
		s.metrics.RecordDecodeError(ctx)
		s.logger.Warn("dropping undecodable experience",
			zap.String("subject", msg.Subject),
			zap.Int("bytes", len(msg.Data)),
			zap.Error(err))
		return
	}

	ctx = logging.WithSignalID(ctx, normalizeSignalID(envelope.SignalID))
	logger := s.logger.With(logging.ContextFields(ctx)...)

	result, err := s.svc.RecordExperience(ctx, &envelope.RecordRequest)
	if err != nil {
		s.metrics.RecordFailure(ctx)
		logger.Warn("dropping unrecordable experience",
			zap.String("subject", msg.Subject),
			zap.String("operation_type", envelope.OperationType),
			zap.Error(err))
		return
	}

	s.metrics.RecordStored(ctx)
	logger.Debug("experience ingested",
		zap.Int64("episode_id", result.EpisodeID),
		zap.String("operation_type", envelope.OperationType),
		zap.Float64("utility", result.UtilityScore))
}

// signalIDPattern mirrors the id rules the logging package enforces.
var signalIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// normalizeSignalID returns the publisher's signal id when it is usable as a
// log correlation id, otherwise a fresh UUID.
func normalizeSignalID(id string) string {
	if id == "" || len(id) > 128 || !signalIDPattern.MatchString(id) {
		return uuid.New().String()
	}
	return id
}

// Stop drains the subscription so in-flight messages finish, then closes the
// connection if this subscriber opened it.
func (s *Subscriber) Stop() error {
	var err error
	if s.sub != nil {
		err = s.sub.Drain()
		s.sub = nil
	}
	if s.ownsConn {
		s.conn.Close()
	}
	return err
}
