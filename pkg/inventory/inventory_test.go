package inventory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseSortsAndIndexes(t *testing.T) {
	snap, err := Parse([]byte(`
targets:
  - id: host-b
    capacity: 8
    unit_cost: 2.0
  - id: host-a
    capacity: 16
    unit_cost: 1.5
    kinds: [vm, volume]
    tags: [ssd]
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(snap.Targets) != 2 {
		t.Fatalf("len(Targets) = %d, want 2", len(snap.Targets))
	}
	if snap.Targets[0].ID != "host-a" || snap.Targets[1].ID != "host-b" {
		t.Errorf("targets not sorted by id: %s, %s", snap.Targets[0].ID, snap.Targets[1].ID)
	}
	if got := snap.Target("host-a"); got == nil || got.Capacity != 16 {
		t.Errorf("Target(host-a) = %+v, want capacity 16", got)
	}
	if snap.Target("host-z") != nil {
		t.Errorf("Target(host-z) should be nil")
	}
}

func TestParseRejectsBadDocuments(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"no targets", `targets: []`},
		{"empty id", "targets:\n  - capacity: 4\n    unit_cost: 1.0"},
		{"duplicate id", "targets:\n  - id: a\n    capacity: 4\n  - id: a\n    capacity: 4"},
		{"zero capacity", "targets:\n  - id: a\n    capacity: 0"},
		{"not yaml", `{{{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.doc)); err == nil {
				t.Errorf("Parse() succeeded, want error")
			}
		})
	}
}

func TestTargetSupports(t *testing.T) {
	anyKind := &Target{ID: "a", Capacity: 1}
	if !anyKind.Supports("vm") || !anyKind.Supports("volume") {
		t.Errorf("target with no kinds should support everything")
	}

	vmOnly := &Target{ID: "b", Capacity: 1, Kinds: []string{"vm"}}
	if !vmOnly.Supports("vm") {
		t.Errorf("Supports(vm) = false, want true")
	}
	if vmOnly.Supports("network") {
		t.Errorf("Supports(network) = true, want false")
	}
}

func TestTargetHasTags(t *testing.T) {
	target := &Target{ID: "a", Capacity: 1, Tags: []string{"ssd", "zone-1"}}
	if !target.HasTags(nil) {
		t.Errorf("HasTags(nil) = false, want true")
	}
	if !target.HasTags([]string{"ssd"}) {
		t.Errorf("HasTags([ssd]) = false, want true")
	}
	if target.HasTags([]string{"ssd", "gpu"}) {
		t.Errorf("HasTags([ssd gpu]) = true, want false")
	}
}

func writeInventory(t *testing.T, path, body string) {
	t.Helper()
	// Rename-and-replace, the way config pushers update files.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	writeInventory(t, path, "targets:\n  - id: host-a\n    capacity: 4\n    unit_cost: 1.0\n")

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	if got := len(w.Current().Targets); got != 1 {
		t.Fatalf("initial targets = %d, want 1", got)
	}

	writeInventory(t, path,
		"targets:\n  - id: host-a\n    capacity: 4\n    unit_cost: 1.0\n  - id: host-b\n    capacity: 8\n    unit_cost: 2.0\n")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(w.Current().Targets) == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("snapshot never refreshed, targets = %d", len(w.Current().Targets))
}

func TestWatcherKeepsSnapshotOnBadReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	writeInventory(t, path, "targets:\n  - id: host-a\n    capacity: 4\n    unit_cost: 1.0\n")

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	writeInventory(t, path, "targets: []\n")
	time.Sleep(200 * time.Millisecond)

	if got := len(w.Current().Targets); got != 1 {
		t.Errorf("targets after bad reload = %d, want previous snapshot with 1", got)
	}
}
