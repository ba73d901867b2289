package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups
// plus per-device write serialization: concurrent mutations to the same
// external ID queue behind a key mutex, while operations on different
// devices proceed in parallel.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by the mutating operations. All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device // Cached devices by external ID
	cacheMu sync.RWMutex       // Protects cache

	keyLocks map[string]*sync.Mutex // Per-device write locks
	keysMu   sync.Mutex             // Protects keyLocks

	logger Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching
// and write serialization.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:     repo,
		cache:    make(map[string]*Device),
		keyLocks: make(map[string]*sync.Mutex),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// lockKey acquires the write lock for one external ID and returns the
// unlock function. Lock entries are never removed; the fleet is small
// and bounded, so the map stays tiny.
func (r *Registry) lockKey(externalID string) func() {
	r.keysMu.Lock()
	m, ok := r.keyLocks[externalID]
	if !ok {
		m = &sync.Mutex{}
		r.keyLocks[externalID] = m
	}
	r.keysMu.Unlock()

	m.Lock()
	return m.Unlock
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.ExternalID] = d.Clone()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Get retrieves a device by external ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a copy; callers can safely modify it.
func (r *Registry) Get(ctx context.Context, externalID string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[externalID]
	r.cacheMu.RUnlock()

	if ok {
		return cached.Clone(), nil
	}

	// Fall back to repository (might be a new device not yet cached)
	device, err := r.repo.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[externalID] = device.Clone()
	r.cacheMu.Unlock()

	return device, nil
}

// List retrieves all devices.
// The returned devices are copies; callers can safely modify them.
func (r *Registry) List(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			devices = append(devices, *d.Clone())
		}
		return devices, nil
	}

	return r.repo.List(ctx)
}

// ListByOnline retrieves devices filtered by online state.
func (r *Registry) ListByOnline(ctx context.Context, online bool) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		var devices []Device
		for _, d := range r.cache {
			if d.IsOnline == online {
				devices = append(devices, *d.Clone())
			}
		}
		return devices, nil
	}

	return r.repo.ListByOnline(ctx, online)
}

// ListByRegistered retrieves devices filtered by registration state.
func (r *Registry) ListByRegistered(ctx context.Context, registered bool) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		var devices []Device
		for _, d := range r.cache {
			if d.IsRegistered == registered {
				devices = append(devices, *d.Clone())
			}
		}
		return devices, nil
	}

	return r.repo.ListByRegistered(ctx, registered)
}

// Register creates a device from explicit operator input.
// The device is marked registered immediately; validation runs before
// any persistence.
func (r *Registry) Register(ctx context.Context, device *Device) error {
	if device == nil {
		return ErrInvalidDevice
	}

	unlock := r.lockKey(device.ExternalID)
	defer unlock()

	if device.Name == "" {
		device.Name = PlaceholderName(device.ExternalID)
	}
	if device.Brand == "" {
		device.Brand = BrandGeneric
	}
	if device.Mode == "" {
		device.Mode = ModeCool
	}
	if device.Temperature == 0 {
		device.Temperature = DefaultTemperature
	}
	device.IsRegistered = true

	if err := ValidateDevice(device); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[device.ExternalID] = device.Clone()
	r.cacheMu.Unlock()

	r.logger.Info("device registered", "external_id", device.ExternalID, "name", device.Name)
	return nil
}

// Discover creates the record for a unit that announced itself before
// any operator registered it. Idempotent: if the record already exists
// (including a concurrent discovery losing the race), the existing
// device is returned untouched.
func (r *Registry) Discover(ctx context.Context, externalID, nameHint string, brandHint Brand, seenAt time.Time) (*Device, error) {
	if err := ValidateExternalID(externalID); err != nil {
		return nil, err
	}

	unlock := r.lockKey(externalID)
	defer unlock()

	device := NewDiscovered(externalID, nameHint, brandHint, seenAt)
	err := r.repo.Create(ctx, device)
	if errors.Is(err, ErrDeviceExists) {
		return r.refreshCacheEntry(ctx, externalID)
	}
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[externalID] = device.Clone()
	r.cacheMu.Unlock()

	r.logger.Info("device discovered",
		"external_id", externalID,
		"name", device.Name,
		"brand", device.Brand,
	)
	return device.Clone(), nil
}

// ApplyObserved merges a device report and returns the updated record.
// Reported temperatures are clamped, not rejected.
// Returns ErrDeviceNotFound for unknown external IDs; promotion to
// discovery is the caller's decision.
func (r *Registry) ApplyObserved(ctx context.Context, externalID string, u ObservedUpdate) (*Device, error) {
	unlock := r.lockKey(externalID)
	defer unlock()

	if u.Temperature != nil {
		clamped := ClampTemperature(*u.Temperature)
		u.Temperature = &clamped
	}
	if u.Mode != nil {
		if err := ValidateMode(*u.Mode); err != nil {
			return nil, err
		}
	}

	if err := r.repo.ApplyObservedUpdate(ctx, externalID, u); err != nil {
		return nil, err
	}

	device, err := r.refreshCacheEntry(ctx, externalID)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("observed state applied", "external_id", externalID)
	return device, nil
}

// ApplyDesired merges operator intent and returns the updated record.
// Unlike device reports, operator input is validated strictly.
func (r *Registry) ApplyDesired(ctx context.Context, externalID string, u DesiredUpdate) (*Device, error) {
	unlock := r.lockKey(externalID)
	defer unlock()

	if u.Temperature != nil {
		if err := ValidateTemperature(*u.Temperature); err != nil {
			return nil, err
		}
	}
	if u.Mode != nil {
		if err := ValidateMode(*u.Mode); err != nil {
			return nil, err
		}
	}

	if err := r.repo.ApplyDesiredUpdate(ctx, externalID, u); err != nil {
		return nil, err
	}

	device, err := r.refreshCacheEntry(ctx, externalID)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("desired state applied", "external_id", externalID)
	return device, nil
}

// MarkProvisioned records that credentials were delivered.
func (r *Registry) MarkProvisioned(ctx context.Context, externalID string) error {
	unlock := r.lockKey(externalID)
	defer unlock()

	if err := r.repo.MarkProvisioned(ctx, externalID, time.Now().UTC()); err != nil {
		return err
	}

	if _, err := r.refreshCacheEntry(ctx, externalID); err != nil {
		return err
	}

	r.logger.Info("device provisioned", "external_id", externalID)
	return nil
}

// Update replaces a device record from the admin surface.
func (r *Registry) Update(ctx context.Context, device *Device) error {
	if device == nil {
		return ErrInvalidDevice
	}

	unlock := r.lockKey(device.ExternalID)
	defer unlock()

	if err := ValidateDevice(device); err != nil {
		return err
	}

	if err := r.repo.Update(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[device.ExternalID] = device.Clone()
	r.cacheMu.Unlock()

	r.logger.Info("device updated", "external_id", device.ExternalID, "name", device.Name)
	return nil
}

// Delete removes a device.
func (r *Registry) Delete(ctx context.Context, externalID string) error {
	unlock := r.lockKey(externalID)
	defer unlock()

	if err := r.repo.Delete(ctx, externalID); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, externalID)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "external_id", externalID)
	return nil
}

// Count returns the number of cached devices.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// refreshCacheEntry reloads one device from the repository into the
// cache and returns a copy. Callers must hold the device's key lock.
func (r *Registry) refreshCacheEntry(ctx context.Context, externalID string) (*Device, error) {
	device, err := r.repo.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[externalID] = device.Clone()
	r.cacheMu.Unlock()

	return device, nil
}
