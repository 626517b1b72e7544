package pipeline

import (
	"fmt"

	"github.com/hakim/seceval/internal/models"
)

// Preset defines the defaults a scan kind applies to a config.
type Preset struct {
	Kind        models.ScanKind
	Description string
	MaxDepth    int             // 0 means unlimited
	MinSeverity models.Severity // empty admits every severity
}

// builtinPresets is the registry of all known scan kinds.
var builtinPresets = map[models.ScanKind]Preset{
	models.ScanQuick: {
		Kind:        models.ScanQuick,
		Description: "Shallow pass: three directory levels, critical and high rules only",
		MaxDepth:    3,
		MinSeverity: models.SeverityHigh,
	},
	models.ScanFull: {
		Kind:        models.ScanFull,
		Description: "Every enabled rule over the whole tree",
	},
	models.ScanCustom: {
		Kind:        models.ScanCustom,
		Description: "Depth, severity and rules exactly as configured",
	},
}

// BuiltinPresets returns the available scan kinds.
func BuiltinPresets() map[models.ScanKind]Preset {
	// Return a copy so callers cannot mutate the registry.
	out := make(map[models.ScanKind]Preset, len(builtinPresets))
	for k, v := range builtinPresets {
		out[k] = v
	}
	return out
}

// GetPreset returns a preset by kind, or an error if not found.
func GetPreset(kind models.ScanKind) (*Preset, error) {
	p, ok := builtinPresets[kind]
	if !ok {
		return nil, fmt.Errorf("unknown scan kind %q, available: quick, full, custom", kind)
	}
	cp := p
	return &cp, nil
}

// ApplyPreset fills cfg from its kind. An empty kind is treated as custom.
// A quick scan never goes deeper than its preset depth; a full scan clears
// any depth and severity limits.
func ApplyPreset(cfg models.ScanConfig) (models.ScanConfig, error) {
	if cfg.Kind == "" {
		cfg.Kind = models.ScanCustom
	}
	p, err := GetPreset(cfg.Kind)
	if err != nil {
		return cfg, models.NewValidationError("scan config", []string{err.Error()})
	}

	switch p.Kind {
	case models.ScanQuick:
		if cfg.MaxDepth <= 0 || cfg.MaxDepth > p.MaxDepth {
			cfg.MaxDepth = p.MaxDepth
		}
		if cfg.MinSeverity.Rank() < p.MinSeverity.Rank() {
			cfg.MinSeverity = p.MinSeverity
		}
	case models.ScanFull:
		cfg.MaxDepth = 0
		cfg.MinSeverity = ""
	}
	return cfg, nil
}
