package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/matthewbaird/signalintel/internal/signals"
	"github.com/matthewbaird/signalintel/internal/store"
	"github.com/matthewbaird/signalintel/internal/types"
)

// Suppressions reports the dismissal state of a signal key: whether it is
// inside an active suppression window, and whether it has been dismissed
// often enough that its severity should be capped.
type Suppressions interface {
	IsSuppressed(ctx context.Context, key string) (bool, error)
	ShouldDeprioritize(ctx context.Context, key string) (bool, error)
}

// observationFile is the YAML layout read by FileDetector.
type observationFile struct {
	Observations []fileObservation `yaml:"observations"`
}

type fileObservation struct {
	ID         string         `yaml:"id"`
	EventType  string         `yaml:"event_type"`
	EntityType string         `yaml:"entity_type"`
	EntityID   string         `yaml:"entity_id"`
	ObservedAt time.Time      `yaml:"observed_at"`
	Scope      fileScope      `yaml:"scope"`
	Payload    map[string]any `yaml:"payload"`
}

type fileScope struct {
	ClientID   string `yaml:"client_id"`
	BrandID    string `yaml:"brand_id"`
	ProjectID  string `yaml:"project_id"`
	RetainerID string `yaml:"retainer_id"`
	TaskID     string `yaml:"task_id"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s fileScope) scope() types.Scope {
	return types.Scope{
		ClientID:   optional(s.ClientID),
		BrandID:    optional(s.BrandID),
		ProjectID:  optional(s.ProjectID),
		RetainerID: optional(s.RetainerID),
		TaskID:     optional(s.TaskID),
	}
}

// FileDetector classifies observations read from YAML files in a directory.
// Files are read in name order on every Detect call.
type FileDetector struct {
	*Base
	id            string
	dir           string
	registry     *signals.Registry
	suppressions Suppressions
	logger       *zap.Logger
}

// NewFileDetector returns a detector over dir. Observations whose key is
// suppressed are skipped. suppressions may be nil.
func NewFileDetector(id, dir string, reg *signals.Registry, st store.SignalStore, suppressions Suppressions, logger *zap.Logger) *FileDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	var signalTypes []string
	for _, r := range reg.All() {
		signalTypes = append(signalTypes, r.ID)
	}
	return &FileDetector{
		Base:         NewBase(st, signalTypes...),
		id:           id,
		dir:          dir,
		registry:     reg,
		suppressions: suppressions,
		logger:       logger.Named("file_detector").With(zap.String("detector_id", id)),
	}
}

func (d *FileDetector) ID() string      { return d.id }
func (d *FileDetector) Version() string { return "1" }

// Detect reads every *.yaml and *.yml file in the directory. A file that
// cannot be read or parsed fails the whole call. Observations matching no
// registration, or whose signal key is suppressed, are skipped.
func (d *FileDetector) Detect(ctx context.Context) ([]types.Signal, error) {
	files, err := d.files()
	if err != nil {
		return nil, err
	}
	var out []types.Signal
	for _, path := range files {
		obs, err := readObservations(path)
		if err != nil {
			return nil, err
		}
		for _, o := range obs {
			sig, ok, err := d.classify(ctx, o)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
			if !ok {
				continue
			}
			out = append(out, sig)
		}
	}
	return out, nil
}

func (d *FileDetector) files() ([]string, error) {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := filepath.Glob(filepath.Join(d.dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("list observation files: %w", err)
		}
		files = append(files, m...)
	}
	sort.Strings(files)
	return files, nil
}

func readObservations(path string) ([]fileObservation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read observations: %w", err)
	}
	var f observationFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return f.Observations, nil
}

func (d *FileDetector) classify(ctx context.Context, o fileObservation) (types.Signal, bool, error) {
	var payload json.RawMessage
	if len(o.Payload) > 0 {
		b, err := json.Marshal(o.Payload)
		if err != nil {
			return types.Signal{}, false, fmt.Errorf("observation %s payload: %w", o.ID, err)
		}
		payload = b
	}
	sig, ok := d.registry.ClassifyObservation(signals.Observation{
		ObservationID: o.ID,
		EventType:     o.EventType,
		EntityType:    o.EntityType,
		EntityID:      o.EntityID,
		Scope:         o.Scope.scope(),
		ObservedAt:    o.ObservedAt,
		Payload:       payload,
	}, d.id)
	if !ok {
		d.logger.Debug("unclassified observation",
			zap.String("event_type", o.EventType), zap.String("entity_id", o.EntityID))
		return types.Signal{}, false, nil
	}
	if d.suppressions == nil {
		return sig, true, nil
	}
	suppressed, err := d.suppressions.IsSuppressed(ctx, sig.Key())
	if err != nil {
		return types.Signal{}, false, err
	}
	if suppressed {
		d.logger.Debug("suppressed signal skipped", zap.String("signal_key", sig.Key()))
		return types.Signal{}, false, nil
	}
	if sig.Severity != types.LowestSeverity {
		capped, err := d.suppressions.ShouldDeprioritize(ctx, sig.Key())
		if err != nil {
			return types.Signal{}, false, err
		}
		if capped {
			d.logger.Info("severity capped for deprioritized signal",
				zap.String("signal_key", sig.Key()), zap.String("from", string(sig.Severity)))
			sig.Severity = types.LowestSeverity
		}
	}
	return sig, true, nil
}
