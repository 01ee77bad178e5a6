package data

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Reserved content IDs. Blocks are serialized as arrays of these; the
// upper range is kept free for the reserved entries so definition files
// cannot collide with them.
const (
	ContentUnknown uint16 = 125
	ContentAir     uint16 = 126
	ContentIgnore  uint16 = 127
)

// NodeDef holds one node definition, loaded from nodes.yaml.
type NodeDef struct {
	ID          uint16 `yaml:"id"`
	Name        string `yaml:"name"`
	Solid       bool   `yaml:"solid"`
	LightSource uint8  `yaml:"light_source"`
	Liquid      bool   `yaml:"liquid"`
}

// NodeTable provides node definition lookups by ID and by name.
type NodeTable struct {
	byID   map[uint16]*NodeDef
	byName map[string]*NodeDef
}

type nodeListFile struct {
	Nodes []NodeDef `yaml:"nodes"`
}

// LoadNodes loads node definitions from YAML. The reserved air and
// ignore entries are always present and need not appear in the file.
func LoadNodes(path string) (*NodeTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read node defs %s: %w", path, err)
	}
	var file nodeListFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse node defs: %w", err)
	}

	table := &NodeTable{
		byID:   make(map[uint16]*NodeDef, len(file.Nodes)+2),
		byName: make(map[string]*NodeDef, len(file.Nodes)+2),
	}
	table.register(&NodeDef{ID: ContentAir, Name: "air"})
	table.register(&NodeDef{ID: ContentIgnore, Name: "ignore"})

	for i := range file.Nodes {
		def := &file.Nodes[i]
		if def.ID >= ContentUnknown {
			return nil, fmt.Errorf("node %q: id %d collides with reserved range", def.Name, def.ID)
		}
		if prev := table.byID[def.ID]; prev != nil {
			return nil, fmt.Errorf("node %q: id %d already used by %q", def.Name, def.ID, prev.Name)
		}
		if table.byName[def.Name] != nil {
			return nil, fmt.Errorf("node %q: duplicate name", def.Name)
		}
		table.register(def)
	}

	return table, nil
}

func (t *NodeTable) register(def *NodeDef) {
	t.byID[def.ID] = def
	t.byName[def.Name] = def
}

// Count returns the number of definitions, including the reserved ones.
func (t *NodeTable) Count() int {
	return len(t.byID)
}

// ByID returns the definition for a content ID, or nil if not found.
func (t *NodeTable) ByID(id uint16) *NodeDef {
	return t.byID[id]
}

// ByName returns the definition for a node name, or nil if not found.
func (t *NodeTable) ByName(name string) *NodeDef {
	return t.byName[name]
}

// IDByName resolves a node name to its content ID, falling back to
// ContentUnknown for names with no definition.
func (t *NodeTable) IDByName(name string) uint16 {
	if def := t.byName[name]; def != nil {
		return def.ID
	}
	return ContentUnknown
}

// All returns every definition ordered by content ID. The order is
// stable so serialized definition sets are reproducible.
func (t *NodeTable) All() []*NodeDef {
	defs := make([]*NodeDef, 0, len(t.byID))
	for _, def := range t.byID {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}
