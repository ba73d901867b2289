package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func setupTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db := setupTestDB(t)
	return NewRegistry(NewSQLiteRepository(db))
}

func TestRegistry_Register(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	t.Run("fills defaults and marks registered", func(t *testing.T) {
		device := &Device{ExternalID: "AA:BB:CC:DD:EE:01", Room: "Bedroom"}

		if err := reg.Register(ctx, device); err != nil {
			t.Fatalf("Register() error = %v", err)
		}

		got, err := reg.Get(ctx, "AA:BB:CC:DD:EE:01")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !got.IsRegistered {
			t.Error("IsRegistered = false, want true")
		}
		if got.Name != "AC-EE01" {
			t.Errorf("Name = %q, want placeholder AC-EE01", got.Name)
		}
		if got.Brand != BrandGeneric || got.Mode != ModeCool || got.Temperature != DefaultTemperature {
			t.Errorf("defaults = (%q, %q, %d), want (generic, cool, 24)",
				got.Brand, got.Mode, got.Temperature)
		}
	})

	t.Run("rejects invalid temperature", func(t *testing.T) {
		device := &Device{ExternalID: "AA:BB:CC:DD:EE:02", Temperature: 35, Mode: ModeCool, Brand: BrandGeneric, Name: "Too Hot"}
		err := reg.Register(ctx, device)
		if !errors.Is(err, ErrInvalidTemperature) {
			t.Errorf("Register() error = %v, want ErrInvalidTemperature", err)
		}
	})

	t.Run("rejects duplicate", func(t *testing.T) {
		device := &Device{ExternalID: "AA:BB:CC:DD:EE:01"}
		err := reg.Register(ctx, device)
		if !errors.Is(err, ErrDeviceExists) {
			t.Errorf("Register() error = %v, want ErrDeviceExists", err)
		}
	})
}

func TestRegistry_Discover(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	t.Run("creates unregistered online record", func(t *testing.T) {
		got, err := reg.Discover(ctx, "AA:BB:CC:DD:EE:FF", "", "", time.Now())
		if err != nil {
			t.Fatalf("Discover() error = %v", err)
		}
		if got.IsRegistered {
			t.Error("discovered device must not be registered")
		}
		if !got.IsOnline {
			t.Error("discovered device must be online")
		}
		if got.Name != "AC-EEFF" {
			t.Errorf("Name = %q, want AC-EEFF", got.Name)
		}
		if got.Power || got.Temperature != DefaultTemperature || got.Mode != ModeCool {
			t.Errorf("triad = (%v, %d, %q), want defaults (false, 24, cool)",
				got.Power, got.Temperature, got.Mode)
		}
	})

	t.Run("idempotent for known device", func(t *testing.T) {
		first, err := reg.Discover(ctx, "AA:BB:CC:DD:EE:FF", "Other Name", BrandLG, time.Now())
		if err != nil {
			t.Fatalf("second Discover() error = %v", err)
		}
		if first.Name != "AC-EEFF" {
			t.Errorf("Name = %q, rediscovery replaced the record", first.Name)
		}
	})

	t.Run("uses hints when present", func(t *testing.T) {
		got, err := reg.Discover(ctx, "11:22:33:44:55:66", "Varanda", BrandGree, time.Now())
		if err != nil {
			t.Fatalf("Discover() error = %v", err)
		}
		if got.Name != "Varanda" || got.Brand != BrandGree {
			t.Errorf("hints = (%q, %q), want (Varanda, gree)", got.Name, got.Brand)
		}
	})

	t.Run("rejects blank external id", func(t *testing.T) {
		_, err := reg.Discover(ctx, "   ", "", "", time.Now())
		if !errors.Is(err, ErrInvalidExternalID) {
			t.Errorf("Discover() error = %v, want ErrInvalidExternalID", err)
		}
	})
}

func TestRegistry_ApplyObserved(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.Discover(ctx, "AA:00:00:00:00:01", "", "", time.Now()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	t.Run("clamps reported temperature", func(t *testing.T) {
		got, err := reg.ApplyObserved(ctx, "AA:00:00:00:00:01", ObservedUpdate{
			Temperature: ptrInt(99),
			SeenAt:      time.Now(),
		})
		if err != nil {
			t.Fatalf("ApplyObserved() error = %v", err)
		}
		if got.Temperature != MaxTemperature {
			t.Errorf("Temperature = %d, want clamped %d", got.Temperature, MaxTemperature)
		}
	})

	t.Run("rejects unknown mode", func(t *testing.T) {
		_, err := reg.ApplyObserved(ctx, "AA:00:00:00:00:01", ObservedUpdate{
			Mode:   ptrMode("turbo"),
			SeenAt: time.Now(),
		})
		if !errors.Is(err, ErrInvalidMode) {
			t.Errorf("ApplyObserved() error = %v, want ErrInvalidMode", err)
		}
	})

	t.Run("unknown device surfaces not found", func(t *testing.T) {
		_, err := reg.ApplyObserved(ctx, "FF:FF:FF:FF:FF:FF", ObservedUpdate{SeenAt: time.Now()})
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("ApplyObserved() error = %v, want ErrDeviceNotFound", err)
		}
	})

	t.Run("cache reflects the update", func(t *testing.T) {
		if _, err := reg.ApplyObserved(ctx, "AA:00:00:00:00:01", ObservedUpdate{
			Power:  ptrBool(true),
			SeenAt: time.Now(),
		}); err != nil {
			t.Fatalf("ApplyObserved() error = %v", err)
		}

		got, err := reg.Get(ctx, "AA:00:00:00:00:01")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !got.Power {
			t.Error("cached Power = false, want true after observed update")
		}
	})
}

func TestRegistry_ApplyDesired(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	device := &Device{ExternalID: "BB:00:00:00:00:01", Name: "Suite AC"}
	if err := reg.Register(ctx, device); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	t.Run("rejects out-of-range setpoint before persisting", func(t *testing.T) {
		_, err := reg.ApplyDesired(ctx, "BB:00:00:00:00:01", DesiredUpdate{
			Temperature: ptrInt(12),
		})
		if !errors.Is(err, ErrInvalidTemperature) {
			t.Fatalf("ApplyDesired() error = %v, want ErrInvalidTemperature", err)
		}

		got, _ := reg.Get(ctx, "BB:00:00:00:00:01")
		if got.Temperature != DefaultTemperature {
			t.Errorf("Temperature = %d, rejected update still mutated the record", got.Temperature)
		}
	})

	t.Run("applies valid intent", func(t *testing.T) {
		got, err := reg.ApplyDesired(ctx, "BB:00:00:00:00:01", DesiredUpdate{
			Power:       ptrBool(true),
			Temperature: ptrInt(21),
			Mode:        ptrMode(ModeHeat),
		})
		if err != nil {
			t.Fatalf("ApplyDesired() error = %v", err)
		}
		if !got.Power || got.Temperature != 21 || got.Mode != ModeHeat {
			t.Errorf("triad = (%v, %d, %q), want (true, 21, heat)", got.Power, got.Temperature, got.Mode)
		}
		if got.LastCommandAt == nil {
			t.Error("LastCommandAt not set")
		}
	})
}

func TestRegistry_ConcurrentSameDevice(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.Discover(ctx, "CC:00:00:00:00:01", "", "", time.Now()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	// Hammer one external ID from many goroutines; the per-key lock must
	// keep every merge intact and the run race-free.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			temp := MinTemperature + n%(MaxTemperature-MinTemperature)
			_, err := reg.ApplyObserved(ctx, "CC:00:00:00:00:01", ObservedUpdate{
				Temperature: &temp,
				SeenAt:      time.Now(),
			})
			if err != nil {
				t.Errorf("ApplyObserved() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := reg.Get(ctx, "CC:00:00:00:00:01")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Temperature < MinTemperature || got.Temperature > MaxTemperature {
		t.Errorf("Temperature = %d, outside valid range after concurrent updates", got.Temperature)
	}
}

func TestRegistry_RefreshCache(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	for _, id := range []string{"DD:00:00:00:00:01", "DD:00:00:00:00:02"} {
		if err := repo.Create(ctx, testDevice(id, "Unit "+id)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	reg := NewRegistry(repo)
	if reg.Count() != 0 {
		t.Fatalf("Count() = %d before refresh, want 0", reg.Count())
	}

	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	if reg.Count() != 2 {
		t.Errorf("Count() = %d, want 2", reg.Count())
	}
}

func TestRegistry_CloneIsolation(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	if err := reg.Register(ctx, &Device{ExternalID: "EE:00:00:00:00:01", Name: "Original"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, err := reg.Get(ctx, "EE:00:00:00:00:01")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got.Name = "Mutated Copy"

	again, err := reg.Get(ctx, "EE:00:00:00:00:01")
	if err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
	if again.Name != "Original" {
		t.Errorf("Name = %q, caller mutation leaked into the cache", again.Name)
	}
}
