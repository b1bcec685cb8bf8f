// Package settings holds the user-adjustable settings and feature flags,
// notifies subscribers when they change, and persists them through a Store.
package settings

import (
	"fmt"
	"maps"
)

// Feature flags.
const (
	FeatureDebug       = "debug"
	FeatureRichEmbeds  = "richEmbeds"
	FeatureLiveRefresh = "liveRefresh"
)

// General settings.
const (
	KeyReRenderDelay       = "reRenderDelay"
	KeySettingsVersion     = "settingsVersion"
	KeyConsoleLogRetention = "consoleLogRetention"
	KeyRenderFormat        = "renderFormat"
	KeyPostRenderStrategy  = "postRenderStrategy"
)

// CurrentVersion is written to settingsVersion.
const CurrentVersion = 1

// State is the complete settings document.
type State struct {
	Features        map[string]bool `yaml:"features"`
	GeneralSettings map[string]any  `yaml:"generalSettings"`
	HeadingOpened   map[string]bool `yaml:"headingOpened"`
	LoggingOptions  LoggingOptions  `yaml:"loggingOptions"`
}

type LoggingOptions struct {
	// MinLevels maps a logger component (or "default") to a level name.
	MinLevels map[string]string `yaml:"minLevels"`
}

// Partial is an update applied with UpdateSettings. Nil fields are left
// untouched.
type Partial struct {
	Features        map[string]bool
	GeneralSettings map[string]any
	HeadingOpened   map[string]bool
	LoggingOptions  *LoggingOptions
}

// Defaults returns the built-in settings. Every valid key and flag appears
// here.
func Defaults() State {
	return State{
		Features: map[string]bool{
			FeatureDebug:       false,
			FeatureRichEmbeds:  false,
			FeatureLiveRefresh: true,
		},
		GeneralSettings: map[string]any{
			KeyReRenderDelay:       float64(500),
			KeySettingsVersion:     float64(CurrentVersion),
			KeyConsoleLogRetention: float64(200),
			KeyRenderFormat:        "json",
			KeyPostRenderStrategy:  "text",
		},
		HeadingOpened: map[string]bool{},
		LoggingOptions: LoggingOptions{
			MinLevels: map[string]string{"default": "info"},
		},
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	return State{
		Features:        cloneMap(s.Features),
		GeneralSettings: cloneMap(s.GeneralSettings),
		HeadingOpened:   cloneMap(s.HeadingOpened),
		LoggingOptions:  LoggingOptions{MinLevels: cloneMap(s.LoggingOptions.MinLevels)},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	maps.Copy(out, m)
	return out
}

// KeyError reports an unknown setting or feature name.
type KeyError struct {
	Kind string // "setting" or "feature"
	Name string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Name)
}

// normalize maps a value onto one of the three stored kinds: string, bool
// or float64. ok is false for anything else.
func normalize(v any) (any, bool) {
	switch val := v.(type) {
	case string, bool, float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return nil, false
	}
}

func kindName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case float64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// coerce normalizes v and checks it has the same kind as the default.
func coerce(name string, def, v any) (any, error) {
	norm, ok := normalize(v)
	if !ok || kindName(norm) != kindName(def) {
		return nil, fmt.Errorf("setting %q: want %s, got %T", name, kindName(def), v)
	}
	return norm, nil
}
