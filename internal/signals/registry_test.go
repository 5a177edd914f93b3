package signals

import (
	"errors"
	"testing"

	"github.com/matthewbaird/signalintel/internal/types"
)

func TestNewRegistry_Default(t *testing.T) {
	if len(testRegistry.All()) != len(DefaultRegistrations) {
		t.Fatalf("All() = %d registrations, want %d", len(testRegistry.All()), len(DefaultRegistrations))
	}
	v, ok := testRegistry.Valence("payment_received")
	if !ok || v != types.ValencePositive {
		t.Errorf("payment_received valence = %d, %v", v, ok)
	}
	if len(testRegistry.Lookup("MessageReceived")) != 3 {
		t.Errorf("MessageReceived registrations = %d, want 3", len(testRegistry.Lookup("MessageReceived")))
	}
	for _, id := range testRegistry.TypesWithValence(types.ValenceNegative) {
		reg, _ := testRegistry.Get(id)
		if reg.Valence != types.ValenceNegative {
			t.Errorf("%s listed as negative", id)
		}
	}
}

func TestNewRegistry_RejectsDuplicates(t *testing.T) {
	regs := []types.SignalRegistration{
		{ID: "a", DefaultSeverity: types.SeverityWatch},
		{ID: "a", DefaultSeverity: types.SeverityWatch},
	}
	_, err := NewRegistry(regs)
	var cfgErr *types.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
}

func TestNewRegistry_RejectsBadSeverity(t *testing.T) {
	_, err := NewRegistry([]types.SignalRegistration{{ID: "a", DefaultSeverity: "loud"}})
	if err == nil {
		t.Fatal("expected error for unknown severity")
	}
}

func TestIsAtLeastSeverity(t *testing.T) {
	if !IsAtLeastSeverity(types.SeverityCritical, types.SeverityWarning) {
		t.Error("critical should be at least warning")
	}
	if IsAtLeastSeverity(types.SeverityWatch, types.SeverityWarning) {
		t.Error("watch should not be at least warning")
	}
}
