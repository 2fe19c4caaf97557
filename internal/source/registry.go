package source

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/tianwen8/puzzlerank.pro-sub000/internal/storage/models"
	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/config"
	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/logger"
)

// ewmaAlpha controls how fast the rolling success rate reacts.
const ewmaAlpha = 0.2

// Registry holds the configured verification sources. Readers get a
// copied snapshot, so a Reload never mutates a list mid-iteration.
type Registry struct {
	mu      sync.RWMutex
	sources []models.VerificationSource
}

func NewRegistry(configs []config.SourceConfig) (*Registry, error) {
	sources, err := fromConfig(configs)
	if err != nil {
		return nil, err
	}

	r := &Registry{sources: sources}
	logger.Info("Source registry initialized",
		zap.Int("sources", len(sources)),
		zap.Int("active", len(r.ActiveSources())),
	)
	return r, nil
}

// ActiveSources returns the active sources ordered by descending
// weight, ties broken by name for a stable order.
func (r *Registry) ActiveSources() []models.VerificationSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]models.VerificationSource, 0, len(r.sources))
	for _, s := range r.sources {
		if s.IsActive {
			active = append(active, s)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Weight != active[j].Weight {
			return active[i].Weight > active[j].Weight
		}
		return active[i].Name < active[j].Name
	})
	return active
}

// All returns every configured source, active or not.
func (r *Registry) All() []models.VerificationSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.VerificationSource, len(r.sources))
	copy(out, r.sources)
	return out
}

// WeightFor returns the voting weight for a source name. Unknown or
// inactive sources get weight 0.
func (r *Registry) WeightFor(name string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sources {
		if s.Name == name && s.IsActive {
			return s.Weight
		}
	}
	return 0
}

// Reload swaps in a fresh source list from the loader. On loader
// failure the previous list stays intact.
func (r *Registry) Reload(loader func() ([]models.VerificationSource, error)) error {
	fresh, err := loader()
	if err != nil {
		logger.Warn("Source registry reload failed, keeping previous list", zap.Error(err))
		return fmt.Errorf("reload sources: %w", err)
	}

	r.mu.Lock()
	r.sources = fresh
	r.mu.Unlock()

	logger.Info("Source registry reloaded", zap.Int("sources", len(fresh)))
	return nil
}

// RecordOutcome folds one collection attempt into the rolling success
// rate. Informational only; never consulted for voting.
func (r *Registry) RecordOutcome(name string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.sources {
		if r.sources[i].Name != name {
			continue
		}
		observed := 0.0
		if success {
			observed = 1.0
		}
		r.sources[i].SuccessRate = r.sources[i].SuccessRate*(1-ewmaAlpha) + observed*ewmaAlpha
		return
	}
}

func fromConfig(configs []config.SourceConfig) ([]models.VerificationSource, error) {
	sources := make([]models.VerificationSource, 0, len(configs))
	seen := make(map[string]bool, len(configs))
	for _, c := range configs {
		if c.Name == "" {
			return nil, fmt.Errorf("source with empty name")
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate source name %q", c.Name)
		}
		if c.Weight <= 0 {
			return nil, fmt.Errorf("source %q: weight must be positive", c.Name)
		}
		seen[c.Name] = true
		sources = append(sources, models.VerificationSource{
			Name:        c.Name,
			URLTemplate: c.URLTemplate,
			Weight:      c.Weight,
			IsActive:    c.IsActive,
		})
	}
	return sources, nil
}
