package devserver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SkinEntry is one selectable appearance.
type SkinEntry struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

type skinFile struct {
	Skins []SkinEntry `yaml:"skins"`
}

// SkinCatalog is the set of skins clients may choose from.
type SkinCatalog struct {
	skins []SkinEntry
	byID  map[string]SkinEntry
}

// LoadSkinCatalog reads every .yaml file in dir and merges their skin lists.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns a catalog with unique skin ids, or an error naming
// the offending file.
func LoadSkinCatalog(dir string) (*SkinCatalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading skin directory %s: %w", dir, err)
	}

	catalog := &SkinCatalog{byID: make(map[string]SkinEntry)}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		var f skinFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		for _, s := range f.Skins {
			if s.ID == "" {
				return nil, fmt.Errorf("%s: skin with empty id", path)
			}
			if _, dup := catalog.byID[s.ID]; dup {
				return nil, fmt.Errorf("%s: duplicate skin id %q", path, s.ID)
			}
			catalog.byID[s.ID] = s
			catalog.skins = append(catalog.skins, s)
		}
	}
	return catalog, nil
}

// Has reports whether the catalog contains the given skin id.
func (c *SkinCatalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// List returns every skin in file order.
func (c *SkinCatalog) List() []SkinEntry {
	return append([]SkinEntry(nil), c.skins...)
}

// RoomDef is one room described by the rooms file.
type RoomDef struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	IconURL string   `yaml:"icon_url"`
	Private bool     `yaml:"private"`
	Members []string `yaml:"members"`
}

type roomsFile struct {
	Rooms []RoomDef `yaml:"rooms"`
}

// LoadRooms reads the room definitions from a YAML file.
func LoadRooms(path string) ([]RoomDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rooms file %s: %w", path, err)
	}
	var f roomsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rooms file %s: %w", path, err)
	}
	seen := make(map[string]bool, len(f.Rooms))
	for _, r := range f.Rooms {
		if r.ID == "" {
			return nil, fmt.Errorf("%s: room with empty id", path)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("%s: duplicate room id %q", path, r.ID)
		}
		seen[r.ID] = true
	}
	return f.Rooms, nil
}
