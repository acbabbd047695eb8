package ticket

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seeds are the three ordered seed sets of one ticket key rotation
// generation. "Current" seeds encrypt new tickets; "old" and "new" seeds
// only stay valid for decryption during the rotation overlap window.
type Seeds struct {
	Old     []string `yaml:"old"`
	Current []string `yaml:"current"`
	New     []string `yaml:"new"`
}

// ParseSeedsFile parses a seed file at the given path.
func ParseSeedsFile(path string) (*Seeds, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ticket: parse seeds: read: %s", err)
	}

	var s Seeds
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("ticket: parse seeds: unmarshal: %s", err)
	}

	if len(s.Current) == 0 {
		return nil, fmt.Errorf("ticket: parse seeds: no current seeds in %s", path)
	}
	return &s, nil
}
