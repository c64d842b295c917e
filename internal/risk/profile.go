package risk

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is a named RiskConfig in the YAML risk profile file.
type Profile struct {
	Name       string `yaml:"name"`
	RiskConfig `yaml:",inline"`
}

// ProfileFile represents the top-level YAML structure.
type ProfileFile struct {
	Default  string    `yaml:"default"`
	Profiles []Profile `yaml:"profiles"`
}

// LoadProfiles reads risk profiles from a YAML file and returns them by
// name together with the default profile. Missing fields fall back to
// DefaultConfig.
func LoadProfiles(path string) (map[string]RiskConfig, RiskConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, DefaultConfig(), err
	}

	var file ProfileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, DefaultConfig(), fmt.Errorf("parse risk profiles: %w", err)
	}

	out := make(map[string]RiskConfig, len(file.Profiles))
	for _, p := range file.Profiles {
		cfg := DefaultConfig()
		if p.RiskPercent > 0 {
			cfg.RiskPercent = p.RiskPercent
		}
		if p.RewardToRiskRatio > 0 {
			cfg.RewardToRiskRatio = p.RewardToRiskRatio
		}
		cfg.PartialClose = p.PartialClose
		if p.CloseRatio > 0 {
			cfg.CloseRatio = p.CloseRatio
		}
		out[p.Name] = cfg
	}

	def := DefaultConfig()
	if file.Default != "" {
		cfg, ok := out[file.Default]
		if !ok {
			return out, def, fmt.Errorf("default risk profile %q not defined", file.Default)
		}
		def = cfg
	}
	return out, def, nil
}
