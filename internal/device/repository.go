package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByExternalID retrieves a device by its hardware identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByExternalID(ctx context.Context, externalID string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// ListByOnline retrieves devices filtered by online state.
	ListByOnline(ctx context.Context, online bool) ([]Device, error)

	// ListByRegistered retrieves devices filtered by registration state.
	ListByRegistered(ctx context.Context, registered bool) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if the external ID is already taken.
	Create(ctx context.Context, device *Device) error

	// Update replaces an existing device record. Admin surface only;
	// the reconciliation paths use the Apply methods below.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device by external ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, externalID string) error

	// ApplyObservedUpdate merges a device report into the record.
	// Only the triad, online flag, last-seen timestamp and the
	// fill-once Name/Brand hints are touched; operator fields never are.
	ApplyObservedUpdate(ctx context.Context, externalID string, u ObservedUpdate) error

	// ApplyDesiredUpdate merges operator intent into the record,
	// advancing the last-command timestamp.
	ApplyDesiredUpdate(ctx context.Context, externalID string, u DesiredUpdate) error

	// MarkProvisioned records that credentials were sent to the device.
	// Provisioning implies registration.
	MarkProvisioned(ctx context.Context, externalID string, at time.Time) error
}

// deviceColumns is the column list shared by every SELECT.
const deviceColumns = `external_id, name, room, brand, model,
		wifi_ssid, wifi_password,
		is_registered, is_provisioned, is_online,
		power, temperature, mode,
		last_seen_at, last_command_at, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByExternalID retrieves a device by its hardware identifier.
func (r *SQLiteRepository) GetByExternalID(ctx context.Context, externalID string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE external_id = ?`

	row := r.db.QueryRowContext(ctx, query, externalID)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by external id: %w", err)
	}
	return device, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY name, external_id`
	return r.queryDevices(ctx, query)
}

// ListByOnline retrieves devices filtered by online state.
func (r *SQLiteRepository) ListByOnline(ctx context.Context, online bool) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE is_online = ? ORDER BY name, external_id`
	return r.queryDevices(ctx, query, boolToInt(online))
}

// ListByRegistered retrieves devices filtered by registration state.
func (r *SQLiteRepository) ListByRegistered(ctx context.Context, registered bool) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE is_registered = ? ORDER BY name, external_id`
	return r.queryDevices(ctx, query, boolToInt(registered))
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (` + deviceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		device.ExternalID,
		device.Name,
		device.Room,
		string(device.Brand),
		device.Model,
		device.WifiSSID,
		device.WifiPassword,
		boolToInt(device.IsRegistered),
		boolToInt(device.IsProvisioned),
		boolToInt(device.IsOnline),
		boolToInt(device.Power),
		device.Temperature,
		string(device.Mode),
		nullableTime(device.LastSeenAt),
		nullableTime(device.LastCommandAt),
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Update replaces an existing device record.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	device.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			name = ?, room = ?, brand = ?, model = ?,
			wifi_ssid = ?, wifi_password = ?,
			is_registered = ?, is_provisioned = ?, is_online = ?,
			power = ?, temperature = ?, mode = ?,
			last_seen_at = ?, last_command_at = ?, updated_at = ?
		WHERE external_id = ?`

	result, err := r.db.ExecContext(ctx, query,
		device.Name,
		device.Room,
		string(device.Brand),
		device.Model,
		device.WifiSSID,
		device.WifiPassword,
		boolToInt(device.IsRegistered),
		boolToInt(device.IsProvisioned),
		boolToInt(device.IsOnline),
		boolToInt(device.Power),
		device.Temperature,
		string(device.Mode),
		nullableTime(device.LastSeenAt),
		nullableTime(device.LastCommandAt),
		device.UpdatedAt.Format(time.RFC3339),
		device.ExternalID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	return requireRowsAffected(result)
}

// Delete removes a device by external ID.
func (r *SQLiteRepository) Delete(ctx context.Context, externalID string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE external_id = ?", externalID)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRowsAffected(result)
}

// ApplyObservedUpdate merges a device report into the record.
//
// Triad columns only change when the report carried them (COALESCE on
// NULL-able parameters). Name fills only while blank; brand fills only
// while blank or still 'generic'. The brand column is NOT NULL with a
// 'generic' default, so discovery-created records never hold a blank
// brand: 'generic' is the unfilled placeholder here, not an operator
// commitment, and a unit reporting its real brand may replace it.
// last_seen_at uses MAX over RFC3339 strings, which compare
// lexicographically in time order, so a redelivered stale report can
// never move it backwards.
func (r *SQLiteRepository) ApplyObservedUpdate(ctx context.Context, externalID string, u ObservedUpdate) error {
	now := time.Now().UTC()
	seenAt := u.SeenAt
	if seenAt.IsZero() {
		seenAt = now
	}

	query := `
		UPDATE devices SET
			power = COALESCE(?, power),
			temperature = COALESCE(?, temperature),
			mode = COALESCE(?, mode),
			name = CASE WHEN name = '' THEN COALESCE(?, name) ELSE name END,
			brand = CASE WHEN brand = '' OR brand = 'generic'
				THEN COALESCE(?, brand) ELSE brand END,
			is_online = 1,
			last_seen_at = MAX(COALESCE(last_seen_at, ''), ?),
			updated_at = ?
		WHERE external_id = ?`

	result, err := r.db.ExecContext(ctx, query,
		nullableBool(u.Power),
		nullableInt(u.Temperature),
		nullableMode(u.Mode),
		nullableNonEmpty(u.Name),
		nullableNonEmpty(string(u.Brand)),
		seenAt.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
		externalID,
	)
	if err != nil {
		return fmt.Errorf("applying observed update: %w", err)
	}

	return requireRowsAffected(result)
}

// ApplyDesiredUpdate merges operator intent into the record.
func (r *SQLiteRepository) ApplyDesiredUpdate(ctx context.Context, externalID string, u DesiredUpdate) error {
	now := time.Now().UTC()
	commandAt := u.CommandAt
	if commandAt.IsZero() {
		commandAt = now
	}

	query := `
		UPDATE devices SET
			power = COALESCE(?, power),
			temperature = COALESCE(?, temperature),
			mode = COALESCE(?, mode),
			last_command_at = MAX(COALESCE(last_command_at, ''), ?),
			updated_at = ?
		WHERE external_id = ?`

	result, err := r.db.ExecContext(ctx, query,
		nullableBool(u.Power),
		nullableInt(u.Temperature),
		nullableMode(u.Mode),
		commandAt.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
		externalID,
	)
	if err != nil {
		return fmt.Errorf("applying desired update: %w", err)
	}

	return requireRowsAffected(result)
}

// MarkProvisioned records that credentials were sent to the device.
func (r *SQLiteRepository) MarkProvisioned(ctx context.Context, externalID string, at time.Time) error {
	query := `
		UPDATE devices SET
			is_provisioned = 1,
			is_registered = 1,
			updated_at = ?
		WHERE external_id = ?`

	result, err := r.db.ExecContext(ctx, query,
		at.UTC().Format(time.RFC3339),
		externalID,
	)
	if err != nil {
		return fmt.Errorf("marking device provisioned: %w", err)
	}

	return requireRowsAffected(result)
}

// queryDevices executes a query and returns a slice of devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDevice scans a row or rows result into a Device.
func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var brand, mode string
	var isRegistered, isProvisioned, isOnline, power int
	var lastSeenAt, lastCommandAt sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ExternalID,
		&d.Name,
		&d.Room,
		&brand,
		&d.Model,
		&d.WifiSSID,
		&d.WifiPassword,
		&isRegistered,
		&isProvisioned,
		&isOnline,
		&power,
		&d.Temperature,
		&mode,
		&lastSeenAt,
		&lastCommandAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Brand = Brand(brand)
	d.Mode = Mode(mode)
	d.IsRegistered = isRegistered != 0
	d.IsProvisioned = isProvisioned != 0
	d.IsOnline = isOnline != 0
	d.Power = power != 0

	if lastSeenAt.Valid && lastSeenAt.String != "" {
		if t, err := time.Parse(time.RFC3339, lastSeenAt.String); err == nil {
			d.LastSeenAt = &t
		}
	}
	if lastCommandAt.Valid && lastCommandAt.String != "" {
		if t, err := time.Parse(time.RFC3339, lastCommandAt.String); err == nil {
			d.LastCommandAt = &t
		}
	}

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &d, nil
}

// requireRowsAffected converts a zero-row UPDATE/DELETE into ErrDeviceNotFound.
func requireRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// nullableBool returns a NULL parameter when b is nil, else 0/1.
func nullableBool(b *bool) sql.NullInt64 {
	if b == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(boolToInt(*b)), Valid: true}
}

// nullableInt returns a NULL parameter when i is nil.
func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

// nullableMode returns a NULL parameter when m is nil.
func nullableMode(m *Mode) sql.NullString {
	if m == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*m), Valid: true}
}

// nullableNonEmpty returns a NULL parameter for empty strings.
func nullableNonEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullableTime returns a NULL parameter for nil time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
