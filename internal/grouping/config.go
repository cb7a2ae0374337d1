// Package grouping defines the acquisition-parameter grouping configuration:
// which sidecar fields are retained per modality, how numeric values are
// rounded and clustered, and which columns drive variant rename suggestions.
package grouping

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FieldRule controls how one sidecar or derived field participates in grouping
type FieldRule struct {
	// Precision is the number of decimal places the value is rounded to
	// before grouping; nil means no rounding.
	Precision *int `yaml:"precision,omitempty" json:"precision,omitempty" toml:"precision,omitempty"`

	// Tolerance is the complete-linkage clustering distance threshold;
	// nil means exact matching on the (rounded) value.
	Tolerance *float64 `yaml:"tolerance,omitempty" json:"tolerance,omitempty" toml:"tolerance,omitempty"`

	// SuggestVariantRename marks the field as a difference the variant
	// namer reports in rename suggestions.
	SuggestVariantRename bool `yaml:"suggest_variant_rename,omitempty" json:"suggest_variant_rename,omitempty" toml:"suggest_variant_rename,omitempty"`

	// Expand marks a list-valued field for expansion into indexed scalar
	// columns (FieldNNN); the list column itself is dropped.
	Expand bool `yaml:"expand,omitempty" json:"expand,omitempty" toml:"expand,omitempty"`
}

// RelationalRule controls how a fieldmap/IntendedFor relation is displayed
type RelationalRule struct {
	// DisplayMode is "bool" (single boolean column) or "columns"
	// (one indexed column per referenced entity set).
	DisplayMode string `yaml:"display_mode" json:"display_mode" toml:"display_mode"`

	SuggestVariantRename bool `yaml:"suggest_variant_rename,omitempty" json:"suggest_variant_rename,omitempty" toml:"suggest_variant_rename,omitempty"`
}

// Config is the full grouping configuration
type Config struct {
	// SidecarParams maps modality -> field name -> rule for fields read
	// directly from sidecar JSON.
	SidecarParams map[string]map[string]FieldRule `yaml:"sidecar_params" json:"sidecar_params" toml:"sidecar_params"`

	// DerivedParams maps modality -> field name -> rule for fields computed
	// from sidecar contents (e.g. NSliceTimes = len(SliceTiming)).
	DerivedParams map[string]map[string]FieldRule `yaml:"derived_params" json:"derived_params" toml:"derived_params"`

	// RelationalParams holds the FieldmapKey and IntendedForKey relations.
	RelationalParams map[string]RelationalRule `yaml:"relational_params" json:"relational_params" toml:"relational_params"`
}

// Relation column family names
const (
	FieldmapKey    = "FieldmapKey"
	IntendedForKey = "IntendedForKey"

	// Boolean-mode relational column names
	HasFieldmapColumn    = "HasFieldmap"
	UsedAsFieldmapColumn = "UsedAsFieldmap"
)

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

// Default returns the built-in grouping configuration
func Default() *Config {
	common := map[string]FieldRule{
		"EchoTime":                       {Precision: intp(6), SuggestVariantRename: true},
		"RepetitionTime":                 {Precision: intp(6), SuggestVariantRename: true},
		"FlipAngle":                      {SuggestVariantRename: true},
		"PartialFourier":                 {SuggestVariantRename: true},
		"PhaseEncodingDirection":         {SuggestVariantRename: true},
		"EffectiveEchoSpacing":           {Precision: intp(6), Tolerance: floatp(0.000001)},
		"TotalReadoutTime":               {Tolerance: floatp(0.0001)},
		"ParallelReductionFactorInPlane": {},
		"MultibandAccelerationFactor":    {SuggestVariantRename: true},
	}
	withCommon := func(extra map[string]FieldRule) map[string]FieldRule {
		out := map[string]FieldRule{}
		for k, v := range common {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}

	sliceTiming := FieldRule{Precision: intp(3), Tolerance: floatp(0.001), Expand: true}

	return &Config{
		SidecarParams: map[string]map[string]FieldRule{
			"anat": withCommon(map[string]FieldRule{
				"InversionTime": {Precision: intp(6), SuggestVariantRename: true},
			}),
			"func": withCommon(map[string]FieldRule{
				"SliceTiming": sliceTiming,
				"TaskName":    {},
			}),
			"dwi": withCommon(map[string]FieldRule{
				"SliceTiming": sliceTiming,
			}),
			"fmap": withCommon(map[string]FieldRule{
				"EchoTime1": {Precision: intp(6), SuggestVariantRename: true},
				"EchoTime2": {Precision: intp(6), SuggestVariantRename: true},
				"Units":     {},
			}),
			"perf": withCommon(map[string]FieldRule{
				"SliceTiming":           sliceTiming,
				"LabelingDuration":      {Precision: intp(6), SuggestVariantRename: true},
				"PostLabelingDelay":     {Precision: intp(6), SuggestVariantRename: true},
				"BackgroundSuppression": {},
			}),
			"other": common,
		},
		DerivedParams: map[string]map[string]FieldRule{
			"func": {"NSliceTimes": {SuggestVariantRename: true}},
			"dwi":  {"NSliceTimes": {SuggestVariantRename: true}},
			"perf": {"NSliceTimes": {SuggestVariantRename: true}},
		},
		RelationalParams: map[string]RelationalRule{
			FieldmapKey:    {DisplayMode: "bool", SuggestVariantRename: true},
			IntendedForKey: {DisplayMode: "bool", SuggestVariantRename: true},
		},
	}
}

// Load reads a grouping configuration from a YAML, JSON, or TOML file,
// selected by extension. An empty path returns the built-in default.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read grouping config: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML grouping config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON grouping config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML grouping config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported grouping config extension: %s", filepath.Ext(path))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration as YAML, the format users typically edit
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks structural constraints on the configuration
func (c *Config) Validate() error {
	for name, rule := range c.RelationalParams {
		if name != FieldmapKey && name != IntendedForKey {
			return fmt.Errorf("unknown relational param %q", name)
		}
		if rule.DisplayMode != "bool" && rule.DisplayMode != "columns" {
			return fmt.Errorf("relational param %s: display_mode must be \"bool\" or \"columns\"", name)
		}
	}
	for modality, fields := range c.SidecarParams {
		for field, rule := range fields {
			if rule.Precision != nil && *rule.Precision < 0 {
				return fmt.Errorf("%s.%s: precision must be >= 0", modality, field)
			}
			if rule.Tolerance != nil && *rule.Tolerance < 0 {
				return fmt.Errorf("%s.%s: tolerance must be >= 0", modality, field)
			}
		}
	}
	return nil
}

// RulesFor returns the sidecar field rules for a modality, falling back to
// the "other" modality when the modality is not configured.
func (c *Config) RulesFor(modality string) map[string]FieldRule {
	if rules, ok := c.SidecarParams[modality]; ok {
		return rules
	}
	return c.SidecarParams["other"]
}

// DerivedFor returns the derived field rules for a modality (possibly nil)
func (c *Config) DerivedFor(modality string) map[string]FieldRule {
	return c.DerivedParams[modality]
}

// VariantColumns returns the sorted column names that participate in variant
// rename suggestions for a modality, including boolean relational columns.
func (c *Config) VariantColumns(modality string) []string {
	var cols []string
	for field, rule := range c.RulesFor(modality) {
		if rule.SuggestVariantRename {
			cols = append(cols, field)
		}
	}
	for field, rule := range c.DerivedFor(modality) {
		if rule.SuggestVariantRename {
			cols = append(cols, field)
		}
	}
	if rule, ok := c.RelationalParams[FieldmapKey]; ok && rule.SuggestVariantRename && rule.DisplayMode == "bool" {
		cols = append(cols, HasFieldmapColumn)
	}
	if rule, ok := c.RelationalParams[IntendedForKey]; ok && rule.SuggestVariantRename && rule.DisplayMode == "bool" {
		cols = append(cols, UsedAsFieldmapColumn)
	}
	sort.Strings(cols)
	return cols
}
