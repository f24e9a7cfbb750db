package telemetry

import (
	"context"

	"github.com/salernoelia/haptic-hand-controller-prototype/errors"
)

// DefaultSubject is where mirrored telemetry lines are published
const DefaultSubject = "hapticbridge.telemetry.gyro"

// Publisher is the subset of natsclient.Client the NATS sink uses
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// NATSSinkConfig selects the subject and delivery mode
type NATSSinkConfig struct {
	Subject   string
	JetStream bool // publish through JetStream and wait for the ack
}

// NATSSink mirrors telemetry lines onto a NATS subject
type NATSSink struct {
	publisher Publisher
	subject   string
	jetstream bool
}

// NewNATSSink creates a sink publishing through p
func NewNATSSink(p Publisher, cfg NATSSinkConfig) *NATSSink {
	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSink{publisher: p, subject: subject, jetstream: cfg.JetStream}
}

// Name identifies the sink in logs and metrics
func (s *NATSSink) Name() string { return "nats:" + s.subject }

// Subject returns the publish subject
func (s *NATSSink) Subject() string { return s.subject }

// Append publishes line as one message
func (s *NATSSink) Append(ctx context.Context, line []byte) error {
	var err error
	if s.jetstream {
		err = s.publisher.PublishToStream(ctx, s.subject, line)
	} else {
		err = s.publisher.Publish(ctx, s.subject, line)
	}
	if err != nil {
		return errors.WrapTransient(err, "NATSSink", "Append", "publish telemetry")
	}
	return nil
}
