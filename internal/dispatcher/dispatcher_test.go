package dispatcher

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ventoline/smartac-core/internal/device"
	"github.com/ventoline/smartac-core/internal/infrastructure/config"
)

// fakePublisher records publishes and can fail a set number of times.
type fakePublisher struct {
	mu        sync.Mutex
	published []publishCall
	failures  int
}

type publishCall struct {
	topic   string
	payload string
	qos     byte
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload []byte, qos byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures > 0 {
		f.failures--
		return errors.New("broker unreachable")
	}
	f.published = append(f.published, publishCall{topic: topic, payload: string(payload), qos: qos})
	return nil
}

func (f *fakePublisher) calls() []publishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishCall(nil), f.published...)
}

func setupTestRegistry(t *testing.T) *device.Registry {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE devices (
			external_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			room TEXT NOT NULL DEFAULT '',
			brand TEXT NOT NULL DEFAULT 'generic',
			model TEXT NOT NULL DEFAULT '',
			wifi_ssid TEXT NOT NULL DEFAULT '',
			wifi_password TEXT NOT NULL DEFAULT '',
			is_registered INTEGER NOT NULL DEFAULT 0,
			is_provisioned INTEGER NOT NULL DEFAULT 0,
			is_online INTEGER NOT NULL DEFAULT 0,
			power INTEGER NOT NULL DEFAULT 0,
			temperature INTEGER NOT NULL DEFAULT 24,
			mode TEXT NOT NULL DEFAULT 'cool',
			last_seen_at TEXT,
			last_command_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to create test schema: %v", err)
	}

	return device.NewRegistry(device.NewSQLiteRepository(db))
}

func testConfig() config.DispatchConfig {
	// Zero delays keep the retry and resend paths fast under test.
	return config.DispatchConfig{PublishRetries: 2, RetryDelay: 0, ProvisionResendDelay: 0}
}

func setupDispatcher(t *testing.T) (*Dispatcher, *fakePublisher, *device.Registry) {
	t.Helper()
	pub := &fakePublisher{}
	reg := setupTestRegistry(t)
	return New(pub, reg, "smart_ac", 1, testConfig()), pub, reg
}

func registerTestDevice(t *testing.T, reg *device.Registry, externalID string) {
	t.Helper()
	d := &device.Device{
		ExternalID: externalID,
		Name:       "Test Unit",
		Brand:      device.BrandMidea,
	}
	if err := reg.Register(context.Background(), d); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
}

func TestDispatch_PublishesFullState(t *testing.T) {
	disp, pub, reg := setupDispatcher(t)
	ctx := context.Background()
	registerTestDevice(t, reg, "AA:BB")

	updated, err := disp.Dispatch(ctx, "AA:BB", CommandRequest{
		Power:       ptrBool(true),
		Temperature: ptrInt(22),
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !updated.Power || updated.Temperature != 22 {
		t.Errorf("desired = (%v, %d), want (true, 22)", updated.Power, updated.Temperature)
	}

	calls := pub.calls()
	if len(calls) != 1 {
		t.Fatalf("published %d messages, want 1", len(calls))
	}
	if calls[0].topic != "smart_ac/AA:BB/command" {
		t.Errorf("topic = %q, want smart_ac/AA:BB/command", calls[0].topic)
	}
	if calls[0].qos != 1 {
		t.Errorf("qos = %d, want 1", calls[0].qos)
	}

	// Full state, not a diff: mode and brand ride along even though the
	// request did not carry them.
	want := `{"power":true,"temperature":22,"mode":"cool","brand":"midea"}`
	if calls[0].payload != want {
		t.Errorf("payload = %s, want %s", calls[0].payload, want)
	}
}

func TestDispatch_ValidationRejectsBeforeWrite(t *testing.T) {
	disp, pub, reg := setupDispatcher(t)
	ctx := context.Background()
	registerTestDevice(t, reg, "AA:BB")

	tests := []struct {
		name string
		req  CommandRequest
	}{
		{"temperature too low", CommandRequest{Temperature: ptrInt(10)}},
		{"temperature too high", CommandRequest{Temperature: ptrInt(35)}},
		{"unknown mode", CommandRequest{Mode: ptrString("turbo")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := disp.Dispatch(ctx, "AA:BB", tt.req)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("Dispatch() error = %v, want ErrValidation", err)
			}
		})
	}

	if len(pub.calls()) != 0 {
		t.Error("rejected commands still published")
	}

	got, _ := reg.Get(ctx, "AA:BB")
	if got.Temperature != device.DefaultTemperature || got.Power {
		t.Errorf("registry mutated by rejected command: (%v, %d)", got.Power, got.Temperature)
	}
	if got.LastCommandAt != nil {
		t.Error("LastCommandAt set by rejected command")
	}
}

func TestDispatch_UnknownDevice(t *testing.T) {
	disp, _, _ := setupDispatcher(t)

	_, err := disp.Dispatch(context.Background(), "FF:FF", CommandRequest{Power: ptrBool(true)})
	if !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Dispatch() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestDispatch_IntentSurvivesPublishFailure(t *testing.T) {
	disp, pub, reg := setupDispatcher(t)
	ctx := context.Background()
	registerTestDevice(t, reg, "AA:BB")

	// More failures than 1 + retries, so every attempt fails.
	pub.failures = 10

	updated, err := disp.Dispatch(ctx, "AA:BB", CommandRequest{Power: ptrBool(true)})
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("Dispatch() error = %v, want ErrTransportUnavailable", err)
	}
	if updated == nil || !updated.Power {
		t.Fatal("returned device does not reflect recorded intent")
	}

	got, _ := reg.Get(ctx, "AA:BB")
	if !got.Power {
		t.Error("desired state rolled back on publish failure")
	}
	if got.LastCommandAt == nil {
		t.Error("LastCommandAt missing after failed publish")
	}
}

func TestDispatch_RetriesTransientFailure(t *testing.T) {
	disp, pub, reg := setupDispatcher(t)
	ctx := context.Background()
	registerTestDevice(t, reg, "AA:BB")

	// Two failures, third attempt (1 + 2 retries) succeeds.
	pub.failures = 2

	if _, err := disp.Dispatch(ctx, "AA:BB", CommandRequest{Power: ptrBool(true)}); err != nil {
		t.Fatalf("Dispatch() error = %v, want retry to succeed", err)
	}
	if len(pub.calls()) != 1 {
		t.Errorf("published %d messages, want 1", len(pub.calls()))
	}
}

func TestProvision_DoubleSendAndMark(t *testing.T) {
	disp, pub, reg := setupDispatcher(t)
	ctx := context.Background()

	d := &device.Device{
		ExternalID:   "AA:BB",
		Name:         "Sala",
		Brand:        device.BrandGree,
		WifiSSID:     "home-net",
		WifiPassword: "hunter2",
	}
	if err := reg.Register(ctx, d); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := disp.Provision(ctx, "AA:BB"); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	calls := pub.calls()
	if len(calls) != 2 {
		t.Fatalf("published %d messages, want the deliberate double send", len(calls))
	}
	for i, call := range calls {
		if call.topic != "smart_ac/AA:BB/config" {
			t.Errorf("call %d topic = %q, want smart_ac/AA:BB/config", i, call.topic)
		}
		if !strings.Contains(call.payload, `"type":"wifi_config"`) {
			t.Errorf("call %d payload = %s, want wifi_config", i, call.payload)
		}
		if !strings.Contains(call.payload, `"ssid":"home-net"`) {
			t.Errorf("call %d payload missing credentials: %s", i, call.payload)
		}
	}
	if calls[0].payload != calls[1].payload {
		t.Error("resend payload differs from the first send")
	}

	got, _ := reg.Get(ctx, "AA:BB")
	if !got.IsProvisioned {
		t.Error("IsProvisioned = false after successful publish")
	}
}

func TestProvision_NoCredentials(t *testing.T) {
	disp, pub, reg := setupDispatcher(t)
	ctx := context.Background()
	registerTestDevice(t, reg, "AA:BB")

	err := disp.Provision(ctx, "AA:BB")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Provision() error = %v, want ErrValidation", err)
	}
	if len(pub.calls()) != 0 {
		t.Error("published despite missing credentials")
	}
}

func TestProvision_TransportFailureLeavesUnprovisioned(t *testing.T) {
	disp, pub, reg := setupDispatcher(t)
	ctx := context.Background()

	d := &device.Device{
		ExternalID: "AA:BB",
		Name:       "Sala",
		WifiSSID:   "home-net",
	}
	if err := reg.Register(ctx, d); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	pub.failures = 10
	err := disp.Provision(ctx, "AA:BB")
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("Provision() error = %v, want ErrTransportUnavailable", err)
	}

	got, _ := reg.Get(ctx, "AA:BB")
	if got.IsProvisioned {
		t.Error("IsProvisioned = true despite failed delivery")
	}
}

func TestRegister_WithCredentialsProvisions(t *testing.T) {
	disp, pub, reg := setupDispatcher(t)
	ctx := context.Background()

	created, err := disp.Register(ctx, &device.Device{
		ExternalID:   "AA:BB",
		Name:         "Quarto",
		WifiSSID:     "home-net",
		WifiPassword: "hunter2",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !created.IsRegistered {
		t.Error("IsRegistered = false")
	}

	if len(pub.calls()) != 2 {
		t.Errorf("published %d messages, want provisioning double send", len(pub.calls()))
	}

	got, _ := reg.Get(ctx, "AA:BB")
	if !got.IsProvisioned {
		t.Error("IsProvisioned = false after registration with credentials")
	}
}

func TestRegister_InvalidInput(t *testing.T) {
	disp, _, _ := setupDispatcher(t)

	_, err := disp.Register(context.Background(), &device.Device{
		ExternalID:  "AA:BB",
		Name:        "Bad Setpoint",
		Temperature: 40,
		Mode:        device.ModeCool,
		Brand:       device.BrandGeneric,
	})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Register() error = %v, want ErrValidation", err)
	}
}

func TestReconfigure_ReplaysPayload(t *testing.T) {
	disp, pub, reg := setupDispatcher(t)
	ctx := context.Background()

	d := &device.Device{
		ExternalID: "AA:BB",
		Name:       "Sala",
		WifiSSID:   "home-net",
	}
	if err := reg.Register(ctx, d); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := disp.Provision(ctx, "AA:BB"); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	before := len(pub.calls())
	if err := disp.Reconfigure(ctx, "AA:BB"); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}
	if len(pub.calls()) != before+2 {
		t.Errorf("Reconfigure published %d messages, want 2", len(pub.calls())-before)
	}
}

func ptrBool(b bool) *bool       { return &b }
func ptrInt(i int) *int          { return &i }
func ptrString(s string) *string { return &s }
