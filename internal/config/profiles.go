package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProfileOverride overrides the restart parameters of one platform profile.
// Zero values keep the built-in default.
type ProfileOverride struct {
	BaseDelayMs         int `yaml:"base_delay_ms"`
	MaxDelayMs          int `yaml:"max_delay_ms"`
	RapidEndThresholdMs int `yaml:"rapid_end_threshold_ms"`
	MaxAttempts         int `yaml:"max_attempts"`
}

// ProfilesFile is the on-disk shape of DICTATION_PROFILES_FILE:
//
//	profiles:
//	  android:
//	    base_delay_ms: 1000
//	    max_attempts: 3
//	  desktop:
//	    max_attempts: 6
type ProfilesFile struct {
	Profiles map[string]ProfileOverride `yaml:"profiles"`
}

var knownPlatforms = map[string]bool{
	"android": true,
	"ios":     true,
	"safari":  true,
	"desktop": true,
}

// LoadProfilesFile reads and validates a profile override file
func LoadProfilesFile(path string) (*ProfilesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}
	return ParseProfiles(data)
}

// ParseProfiles decodes profile overrides from YAML
func ParseProfiles(data []byte) (*ProfilesFile, error) {
	var pf ProfilesFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file: %w", err)
	}

	for name, p := range pf.Profiles {
		if !knownPlatforms[name] {
			return nil, fmt.Errorf("unknown platform profile %q", name)
		}
		if p.BaseDelayMs < 0 || p.MaxDelayMs < 0 || p.RapidEndThresholdMs < 0 || p.MaxAttempts < 0 {
			return nil, fmt.Errorf("profile %q: values must not be negative", name)
		}
		if p.MaxDelayMs > 0 && p.BaseDelayMs > p.MaxDelayMs {
			return nil, fmt.Errorf("profile %q: base_delay_ms exceeds max_delay_ms", name)
		}
	}

	return &pf, nil
}

// Override returns the override for a platform name, if any
func (pf *ProfilesFile) Override(platform string) (ProfileOverride, bool) {
	if pf == nil {
		return ProfileOverride{}, false
	}
	p, ok := pf.Profiles[platform]
	return p, ok
}
