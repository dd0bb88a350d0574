package voice

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is the YAML document named by voice.profile_file. It seeds the
// base voice and overrides the keyword lists used by classification and
// trigger detection.
type Profile struct {
	Voice    Voice               `yaml:"voice"`
	Keywords Keywords            `yaml:"keywords"`
	Triggers map[string][]string `yaml:"triggers"`
}

// Keywords are the rule phrases checked before any model call.
type Keywords struct {
	Spam []string `yaml:"spam"`
	Lead []string `yaml:"lead"`
}

// LoadProfileFile reads a profile from path.
func LoadProfileFile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("reading profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	return p, nil
}
