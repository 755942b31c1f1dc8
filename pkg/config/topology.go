package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/orchis-io/orchis/pkg/engine"
)

// LoadTopology reads a topology document from a YAML file. Structural
// validation (names, kinds, dependency references) happens in the
// compiler; this only checks the document shape.
func LoadTopology(path string) (*engine.Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology file: %w", err)
	}
	return ParseTopology(data)
}

// ParseTopology builds a topology from YAML bytes.
func ParseTopology(data []byte) (*engine.Topology, error) {
	var topo engine.Topology
	if err := yaml.Unmarshal(data, &topo); err != nil {
		return nil, fmt.Errorf("parsing topology document: %w", err)
	}
	if topo.Name == "" {
		return nil, fmt.Errorf("topology has no name")
	}
	if len(topo.Nodes) == 0 {
		return nil, fmt.Errorf("topology %s has no nodes", topo.Name)
	}
	return &topo, nil
}
