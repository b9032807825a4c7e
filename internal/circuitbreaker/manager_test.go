package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

func TestDisabledPassesThrough(t *testing.T) {
	m := NewManager(Config{Enabled: false})

	out, err := m.Execute(ServiceFacilitator, func() (any, error) { return 42, nil })
	if err != nil || out != 42 {
		t.Errorf("pass-through: got %v, %v", out, err)
	}
	if m.State(ServiceFacilitator) != "disabled" {
		t.Errorf("state = %q, want disabled", m.State(ServiceFacilitator))
	}
}

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Facilitator.ConsecutiveFailures = 3
	cfg.Facilitator.Timeout = time.Hour
	m := NewManager(cfg)

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		if _, err := m.Execute(ServiceFacilitator, func() (any, error) { return nil, boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}

	if m.State(ServiceFacilitator) != "open" {
		t.Fatalf("state = %q, want open", m.State(ServiceFacilitator))
	}

	called := false
	_, err := m.Execute(ServiceFacilitator, func() (any, error) { called = true; return nil, nil })
	if err == nil {
		t.Error("open breaker should reject")
	}
	if called {
		t.Error("open breaker must not invoke the function")
	}
}

func TestServicesIsolated(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Facilitator.ConsecutiveFailures = 1
	m := NewManager(cfg)

	m.Execute(ServiceFacilitator, func() (any, error) { return nil, errors.New("down") })
	if m.State(ServiceFacilitator) != "open" {
		t.Fatal("facilitator breaker should be open")
	}

	// Probe breaker is unaffected.
	if _, err := m.Execute(ServiceProbe, func() (any, error) { return "ok", nil }); err != nil {
		t.Errorf("probe breaker tripped by facilitator failures: %v", err)
	}
}
