// Package detection runs pluggable detectors, dedups their candidate signals
// against the store and persists the rest. One detector failing never stops
// the others.
package detection

import (
	"context"
	"fmt"
	"sync"

	"github.com/matthewbaird/signalintel/internal/store"
	"github.com/matthewbaird/signalintel/internal/types"
)

// Detector produces candidate signals from one data source.
type Detector interface {
	ID() string
	Version() string
	// SignalTypes lists the signal types this detector may emit.
	SignalTypes() []string
	Detect(ctx context.Context) ([]types.Signal, error)
	// SignalExists reports whether an active signal already covers
	// (signalType, entityID).
	SignalExists(ctx context.Context, signalType, entityID string) (bool, error)
	// LoadExistingSignals warms the dedup cache before Detect.
	LoadExistingSignals(ctx context.Context) error
}

// Base implements the dedup half of Detector on a signal store. Detectors
// embed it and supply ID, Version and Detect.
type Base struct {
	store       store.SignalStore
	signalTypes []string

	mu       sync.RWMutex
	existing map[string]struct{}
}

// NewBase returns a Base that dedups signalTypes against st.
func NewBase(st store.SignalStore, signalTypes ...string) *Base {
	return &Base{store: st, signalTypes: signalTypes}
}

func dedupKey(signalType, entityID string) string {
	return signalType + "|" + entityID
}

// SignalTypes returns the types passed to NewBase.
func (b *Base) SignalTypes() []string {
	return append([]string(nil), b.signalTypes...)
}

// LoadExistingSignals caches the active signals of the base's types.
func (b *Base) LoadExistingSignals(ctx context.Context) error {
	sigs, err := b.store.ListSignals(ctx, store.ActiveSignals(b.signalTypes...))
	if err != nil {
		return fmt.Errorf("load existing signals: %w", err)
	}
	existing := make(map[string]struct{}, len(sigs))
	for _, s := range sigs {
		existing[dedupKey(s.SignalType, s.EntityID)] = struct{}{}
	}
	b.mu.Lock()
	b.existing = existing
	b.mu.Unlock()
	return nil
}

// SignalExists consults the warmed cache first, then the store.
func (b *Base) SignalExists(ctx context.Context, signalType, entityID string) (bool, error) {
	b.mu.RLock()
	_, cached := b.existing[dedupKey(signalType, entityID)]
	b.mu.RUnlock()
	if cached {
		return true, nil
	}
	return b.store.SignalExists(ctx, signalType, entityID)
}
