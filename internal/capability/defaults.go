// ABOUTME: Loader for the optional provider-enablement defaults file (TOML).
// ABOUTME: Produces the initial enablement snapshot handed to the supervisor at startup.

package capability

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// defaultsFile mirrors the capabilities.toml layout:
//
//	[capabilities]
//	utilities = true
//	reminders = false
type defaultsFile struct {
	Capabilities map[string]bool `toml:"capabilities"`
}

// LoadDefaults reads a provider-enablement snapshot from a TOML file.
// A missing file is not an error; it returns an empty map so every provider
// falls back to its built-in default.
func LoadDefaults(path string) (map[string]bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading capability defaults: %w", err)
	}

	var f defaultsFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing capability defaults: %w", err)
	}
	if f.Capabilities == nil {
		return map[string]bool{}, nil
	}
	return f.Capabilities, nil
}
