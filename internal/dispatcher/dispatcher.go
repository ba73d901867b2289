package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ventoline/smartac-core/internal/codec"
	"github.com/ventoline/smartac-core/internal/device"
	"github.com/ventoline/smartac-core/internal/infrastructure/config"
	"github.com/ventoline/smartac-core/internal/infrastructure/mqtt"
)

// Publisher is the narrow transport surface the dispatcher needs.
// *mqtt.Client satisfies it; tests use a fake.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
}

// Registry is the device store surface the dispatcher mutates through.
type Registry interface {
	Get(ctx context.Context, externalID string) (*device.Device, error)
	Register(ctx context.Context, d *device.Device) error
	ApplyDesired(ctx context.Context, externalID string, u device.DesiredUpdate) (*device.Device, error)
	MarkProvisioned(ctx context.Context, externalID string) error
}

// Logger is the logging interface used by the dispatcher.
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

// CommandRequest is operator intent for one unit. Nil fields keep the
// current desired value; the outbound payload always carries the full
// triad regardless.
type CommandRequest struct {
	Power       *bool   `json:"power"`
	Temperature *int    `json:"temperature"`
	Mode        *string `json:"mode"`
}

// Dispatcher turns operator intent into registry writes and outbound
// MQTT traffic: full-state commands on the command topic, credential
// payloads on the config topic.
type Dispatcher struct {
	publisher Publisher
	registry  Registry
	topics    mqtt.Topics
	qos       byte
	cfg       config.DispatchConfig
	logger    Logger
}

// New creates a dispatcher for one topic namespace.
func New(publisher Publisher, registry Registry, namespace string, qos byte, cfg config.DispatchConfig) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		registry:  registry,
		topics:    mqtt.Topics{Namespace: namespace},
		qos:       qos,
		cfg:       cfg,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Dispatch validates a command, records it as desired state and
// publishes the unit's full state on its command topic.
//
// Validation failures surface as ErrValidation before anything is
// written. A publish failure after the registry write surfaces as
// ErrTransportUnavailable, with the returned device reflecting the
// recorded intent: the desired state is kept so a later dispatch or a
// reconnect resynchronizes the unit.
func (d *Dispatcher) Dispatch(ctx context.Context, externalID string, req CommandRequest) (*device.Device, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	updated, err := d.registry.ApplyDesired(ctx, externalID, device.DesiredUpdate{
		Power:       req.Power,
		Temperature: req.Temperature,
		Mode:        (*device.Mode)(req.Mode),
		CommandAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	payload, err := codec.BuildCommandPayload(updated)
	if err != nil {
		return nil, err
	}

	topic := d.topics.Command(externalID)
	if err := d.publishWithRetry(ctx, topic, payload); err != nil {
		d.logger.Warn("command publish failed, desired state kept",
			"external_id", externalID,
			"error", err,
		)
		return updated, fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}

	d.logger.Info("command dispatched",
		"external_id", externalID,
		"power", updated.Power,
		"temperature", updated.Temperature,
		"mode", updated.Mode,
	)
	return updated, nil
}

// Register creates a device from operator input. When credentials are
// supplied the provisioning sub-flow runs immediately; a transport
// failure there still leaves the registered record in place.
func (d *Dispatcher) Register(ctx context.Context, dev *device.Device) (*device.Device, error) {
	if err := d.registry.Register(ctx, dev); err != nil {
		if errors.Is(err, device.ErrInvalidDevice) ||
			errors.Is(err, device.ErrInvalidMode) ||
			errors.Is(err, device.ErrInvalidTemperature) ||
			errors.Is(err, device.ErrInvalidExternalID) ||
			errors.Is(err, device.ErrInvalidName) {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return nil, err
	}

	if dev.WifiSSID != "" {
		if err := d.Provision(ctx, dev.ExternalID); err != nil {
			return dev, err
		}
	}

	return dev, nil
}

// Provision sends the unit its Wi-Fi credentials on the config topic.
//
// The payload goes out twice with a pause, deliberate redundancy for a
// message that must not be lost. The unit is marked provisioned on the
// first successful publish; broker acceptance is a best-effort signal,
// which is why Reconfigure exists.
func (d *Dispatcher) Provision(ctx context.Context, externalID string) error {
	dev, err := d.registry.Get(ctx, externalID)
	if err != nil {
		return err
	}

	payload, err := codec.BuildConfigPayload(dev)
	if err != nil {
		if errors.Is(err, codec.ErrMissingCredentials) {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return err
	}

	topic := d.topics.Config(externalID)
	if err := d.publishWithRetry(ctx, topic, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}

	if err := d.registry.MarkProvisioned(ctx, externalID); err != nil {
		return err
	}

	if err := d.pause(ctx, d.cfg.GetProvisionResendDelay()); err != nil {
		return nil
	}
	if err := d.publishWithRetry(ctx, topic, payload); err != nil {
		// First delivery already succeeded; the resend is insurance.
		d.logger.Warn("provisioning resend failed",
			"external_id", externalID,
			"error", err,
		)
	}

	d.logger.Info("device credentials sent", "external_id", externalID)
	return nil
}

// Reconfigure replays the provisioning payload on demand, for units
// that never applied it or were factory reset.
func (d *Dispatcher) Reconfigure(ctx context.Context, externalID string) error {
	return d.Provision(ctx, externalID)
}

// publishWithRetry publishes with bounded retries and a fixed pause.
func (d *Dispatcher) publishWithRetry(ctx context.Context, topic string, payload []byte) error {
	attempts := 1 + d.cfg.PublishRetries

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := d.pause(ctx, d.cfg.GetRetryDelay()); err != nil {
				return err
			}
			d.logger.Debug("retrying publish", "topic", topic, "attempt", i+1)
		}

		lastErr = d.publisher.Publish(ctx, topic, payload, d.qos, false)
		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("publish failed after %d attempts: %w", attempts, lastErr)
}

// pause sleeps for the given duration unless the context ends first.
func (d *Dispatcher) pause(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// validateRequest checks operator input before any mutation.
func validateRequest(req CommandRequest) error {
	if req.Temperature != nil {
		if err := device.ValidateTemperature(*req.Temperature); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	if req.Mode != nil {
		if err := device.ValidateMode(device.Mode(*req.Mode)); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	return nil
}
