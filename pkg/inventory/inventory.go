// Package inventory models the backend target inventory the placement
// solver assigns tasks onto. Snapshots are immutable: a solve reads exactly
// one snapshot, and concurrent solves for different plans may read
// independently refreshed snapshots without any cross-plan lock.
package inventory

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Target is one backend placement target (a host, an availability zone, a
// storage pool) as seen by the solver.
type Target struct {
	// ID is the unique target identifier.
	ID string `json:"id" yaml:"id"`

	// Kinds lists the resource kinds this target can host. Empty means all.
	Kinds []string `json:"kinds,omitempty" yaml:"kinds,omitempty"`

	// Capacity is the total schedulable capacity of the target.
	Capacity int64 `json:"capacity" yaml:"capacity"`

	// UnitCost is the cost per unit of demand placed on the target, the
	// coefficient of the solver's linear objective.
	UnitCost float64 `json:"unit_cost" yaml:"unit_cost"`

	// Tags are labels a task's placement tags are matched against.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Supports reports whether the target can host the given resource kind.
func (t *Target) Supports(kind string) bool {
	if len(t.Kinds) == 0 {
		return true
	}
	for _, k := range t.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// HasTags reports whether the target carries every tag in the list.
func (t *Target) HasTags(tags []string) bool {
	for _, want := range tags {
		found := false
		for _, have := range t.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Snapshot is an immutable view of the inventory at one point in time.
type Snapshot struct {
	// Targets are the available targets, sorted by id.
	Targets []Target `json:"targets" yaml:"targets"`

	// TakenAt is when the snapshot was captured.
	TakenAt time.Time `json:"taken_at" yaml:"taken_at,omitempty"`

	byID map[string]*Target
}

// NewSnapshot creates a snapshot from targets, sorting them by id so that
// iteration order is deterministic.
func NewSnapshot(targets []Target) (*Snapshot, error) {
	sorted := append([]Target(nil), targets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	byID := make(map[string]*Target, len(sorted))
	for i := range sorted {
		t := &sorted[i]
		if t.ID == "" {
			return nil, fmt.Errorf("inventory target has empty id")
		}
		if _, dup := byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate inventory target id: %s", t.ID)
		}
		if t.Capacity <= 0 {
			return nil, fmt.Errorf("target %s has non-positive capacity", t.ID)
		}
		byID[t.ID] = t
	}

	return &Snapshot{
		Targets: sorted,
		TakenAt: time.Now().UTC(),
		byID:    byID,
	}, nil
}

// Target returns the target with the given id, or nil.
func (s *Snapshot) Target(id string) *Target {
	return s.byID[id]
}

// inventoryDoc is the on-disk inventory document shape.
type inventoryDoc struct {
	Targets []Target `yaml:"targets"`
}

// Load reads an inventory document from a YAML file.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory file: %w", err)
	}
	return Parse(data)
}

// Parse builds a snapshot from YAML bytes.
func Parse(data []byte) (*Snapshot, error) {
	var doc inventoryDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing inventory document: %w", err)
	}
	if len(doc.Targets) == 0 {
		return nil, fmt.Errorf("inventory document has no targets")
	}
	return NewSnapshot(doc.Targets)
}
