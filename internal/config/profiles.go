package config

import (
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/raphaelgruber/textsieve/internal/filter"
	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var builtinProfiles []byte

// DefaultProfile is used when no profile is named.
const DefaultProfile = "default"

// ErrUnknownProfile is returned for a profile name no file defines.
var ErrUnknownProfile = errors.New("unknown profile")

// Profile is a named filter configuration.
type Profile struct {
	Name        string        `yaml:"-"`
	Description string        `yaml:"description,omitempty"`
	Workers     int           `yaml:"workers,omitempty"`
	Filter      filter.Config `yaml:"filter"`
}

// profileDoc keeps the filter section raw so it can be decoded on top of
// filter.DefaultConfig and only override the fields it names.
type profileDoc struct {
	Description string    `yaml:"description"`
	Workers     int       `yaml:"workers"`
	Filter      yaml.Node `yaml:"filter"`
}

func parseProfiles(data []byte) (map[string]profileDoc, error) {
	docs := make(map[string]profileDoc)
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// ProfileNames lists the built-in profiles, sorted.
func ProfileNames() []string {
	docs, err := parseProfiles(builtinProfiles)
	if err != nil {
		panic(fmt.Sprintf("config: embedded profiles: %v", err))
	}
	return slices.Sorted(maps.Keys(docs))
}

// ListProfiles lists the built-in profiles plus those defined in file,
// sorted and without duplicates.
func ListProfiles(file string) ([]string, error) {
	names := ProfileNames()
	if file == "" {
		return names, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("profile file: %w", err)
	}
	custom, err := parseProfiles(data)
	if err != nil {
		return nil, fmt.Errorf("profile file %s: %w", file, err)
	}
	names = append(names, slices.Collect(maps.Keys(custom))...)
	slices.Sort(names)
	return slices.Compact(names), nil
}

// LoadProfile resolves name against file, if given, and then the built-in
// profiles. An empty name selects DefaultProfile.
func LoadProfile(name, file string) (Profile, error) {
	if name == "" {
		name = DefaultProfile
	}

	builtin, err := parseProfiles(builtinProfiles)
	if err != nil {
		return Profile{}, fmt.Errorf("embedded profiles: %w", err)
	}

	doc, ok := profileDoc{}, false
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return Profile{}, fmt.Errorf("profile file: %w", err)
		}
		custom, err := parseProfiles(data)
		if err != nil {
			return Profile{}, fmt.Errorf("profile file %s: %w", file, err)
		}
		doc, ok = custom[name]
	}
	if !ok {
		doc, ok = builtin[name]
	}
	if !ok {
		return Profile{}, fmt.Errorf("%w %q (available: %s)", ErrUnknownProfile, name, strings.Join(ProfileNames(), ", "))
	}

	p := Profile{
		Name:        name,
		Description: doc.Description,
		Workers:     doc.Workers,
		Filter:      filter.DefaultConfig(),
	}
	if doc.Filter.Kind != 0 {
		if err := doc.Filter.Decode(&p.Filter); err != nil {
			return Profile{}, fmt.Errorf("profile %q: %w", name, err)
		}
	}
	if p.Workers < 0 {
		return Profile{}, fmt.Errorf("profile %q: workers must be >= 0 (got %d)", name, p.Workers)
	}
	if err := p.Filter.Validate(); err != nil {
		return Profile{}, fmt.Errorf("profile %q: %w", name, err)
	}
	return p, nil
}

// YAML renders the profile the way profile files spell it.
func (p Profile) YAML() ([]byte, error) {
	return yaml.Marshal(map[string]Profile{p.Name: p})
}
