package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ventoline/smartac-core/internal/codec"
	"github.com/ventoline/smartac-core/internal/device"
	"github.com/ventoline/smartac-core/internal/infrastructure/mqtt"
)

// Subscriber is the narrow transport surface the reconciler needs.
// *mqtt.Client satisfies it; tests use a fake.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Registry is the device store surface the reconciler mutates through.
type Registry interface {
	Get(ctx context.Context, externalID string) (*device.Device, error)
	Discover(ctx context.Context, externalID, nameHint string, brandHint device.Brand, seenAt time.Time) (*device.Device, error)
	ApplyObserved(ctx context.Context, externalID string, u device.ObservedUpdate) (*device.Device, error)
}

// StateSink receives every device snapshot the reconciler accepts.
// Sinks must not block; slow consumers buffer internally.
type StateSink interface {
	ObservedState(d *device.Device, at time.Time)
}

// Logger is the logging interface used by the service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Service drives inbound reconciliation: it owns the state and
// discovery subscriptions and folds every classified message into the
// registry. One instance runs per controller process.
//
// All handler paths are idempotent. The transport redelivers at least
// once; a replayed message converges to the same record.
type Service struct {
	subscriber Subscriber
	registry   Registry
	codec      codec.Codec
	topics     mqtt.Topics
	qos        byte
	sinks      []StateSink
	logger     Logger

	mu      sync.Mutex
	started bool
}

// New creates a reconciliation service for one topic namespace.
func New(subscriber Subscriber, registry Registry, namespace string, qos byte) *Service {
	return &Service{
		subscriber: subscriber,
		registry:   registry,
		codec:      codec.New(namespace),
		topics:     mqtt.Topics{Namespace: namespace},
		qos:        qos,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// AddSink registers a consumer of accepted state snapshots.
// Must be called before Start.
func (s *Service) AddSink(sink StateSink) {
	s.sinks = append(s.sinks, sink)
}

// Start subscribes to the state wildcard and the discovery topic.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("reconciler: already started")
	}

	if err := s.subscriber.Subscribe(s.topics.AllStates(), s.qos, s.handleMessage); err != nil {
		return fmt.Errorf("subscribing to state topics: %w", err)
	}
	if err := s.subscriber.Subscribe(s.topics.Discovery(), s.qos, s.handleMessage); err != nil {
		return fmt.Errorf("subscribing to discovery topic: %w", err)
	}

	s.started = true
	s.logger.Info("reconciler started",
		"state_topic", s.topics.AllStates(),
		"discovery_topic", s.topics.Discovery(),
	)
	return nil
}

// Stop removes the subscriptions.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	var errs []error
	if err := s.subscriber.Unsubscribe(s.topics.AllStates()); err != nil {
		errs = append(errs, err)
	}
	if err := s.subscriber.Unsubscribe(s.topics.Discovery()); err != nil {
		errs = append(errs, err)
	}

	s.started = false
	s.logger.Info("reconciler stopped")
	return errors.Join(errs...)
}

// handleMessage is the single entry point for both subscriptions.
// Every return path consumes the message; processing failures are
// logged and rely on transport redelivery plus idempotence, never on a
// local retry queue.
func (s *Service) handleMessage(topic string, payload []byte) error {
	msg := s.codec.Classify(topic, payload)

	switch msg.Kind {
	case codec.KindMalformed:
		s.logger.Warn("dropping malformed message",
			"topic", topic,
			"reason", msg.Reason,
		)
		return nil

	case codec.KindCommand, codec.KindConfig:
		// Echo of our own outbound traffic; nothing to reconcile.
		return nil
	}

	ctx := context.Background()
	d, err := s.reconcile(ctx, msg)
	if err != nil {
		s.logger.Error("reconciliation failed",
			"topic", topic,
			"external_id", msg.ExternalID,
			"kind", msg.Kind.String(),
			"error", err,
		)
		return err
	}

	now := time.Now().UTC()
	for _, sink := range s.sinks {
		sink.ObservedState(d, now)
	}
	return nil
}

// reconcile folds one discovery or status message into the registry.
func (s *Service) reconcile(ctx context.Context, msg codec.InboundMessage) (*device.Device, error) {
	now := time.Now().UTC()
	brandHint := hintBrand(msg.Brand)

	_, err := s.registry.Get(ctx, msg.ExternalID)
	if errors.Is(err, device.ErrDeviceNotFound) {
		// Discovery path. A status report from an unknown unit is
		// promoted: create the record first, then fold the report in,
		// so the fleet self-heals after a wiped database.
		created, derr := s.registry.Discover(ctx, msg.ExternalID, msg.Name, brandHint, now)
		if derr != nil {
			return nil, derr
		}
		if msg.Kind != codec.KindStatus {
			return created, nil
		}
	} else if err != nil {
		return nil, err
	}

	update := device.ObservedUpdate{
		Name:   msg.Name,
		Brand:  brandHint,
		SeenAt: now,
	}

	// Refresh announcements never touch the triad; only status reports
	// carry observed state.
	if msg.Kind == codec.KindStatus {
		update.Power = msg.Power
		update.Temperature = msg.Temperature
		update.Mode = observedMode(msg.Mode, s.logger, msg.ExternalID)
	}

	return s.registry.ApplyObserved(ctx, msg.ExternalID, update)
}

// hintBrand maps a wire brand string to a catalogue brand, or returns
// empty when no hint was carried at all.
func hintBrand(raw string) device.Brand {
	if raw == "" {
		return ""
	}
	return device.NormalizeBrand(raw)
}

// observedMode validates a reported mode. A unit reporting a mode the
// catalogue does not know keeps its other fields; only the bad field is
// dropped.
func observedMode(raw *string, logger Logger, externalID string) *device.Mode {
	if raw == nil {
		return nil
	}
	m := device.Mode(*raw)
	if err := device.ValidateMode(m); err != nil {
		logger.Warn("dropping unrecognised mode from report",
			"external_id", externalID,
			"mode", *raw,
		)
		return nil
	}
	return &m
}
