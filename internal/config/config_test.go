package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFilename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write yaml: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `version: 1
arch: amd64
heap:
  capacityMB: 16
  spaces:
    - name: image
      sizeKB: 256
    - name: main
      sizeKB: 4096
gc:
  markStackCapacity: 1024
  clearSoftReferences: true
`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Arch != "amd64" || c.Heap.CapacityMB != 16 {
		t.Errorf("unexpected config: %+v", c)
	}
	if len(c.Heap.Spaces) != 2 || c.Heap.Spaces[1].Name != "main" {
		t.Errorf("unexpected spaces: %+v", c.Heap.Spaces)
	}
	if c.GC.MarkStackCapacity != 1024 || !c.GC.ClearSoftReferences {
		t.Errorf("unexpected gc config: %+v", c.GC)
	}
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Version != 1 {
		t.Errorf("version = %d, want 1", c.Version)
	}
	if c.Arch != runtime.GOARCH {
		t.Errorf("arch = %q, want host default", c.Arch)
	}
	if c.Heap.CapacityMB == 0 || len(c.Heap.Spaces) == 0 {
		t.Errorf("heap defaults missing: %+v", c.Heap)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, content := range map[string]string{
		"bad version":   "version: 2\n",
		"unnamed space": "heap:\n  spaces:\n    - sizeKB: 64\n",
		"zero space":    "heap:\n  spaces:\n    - name: main\n      sizeKB: 0\n",
		"oversubscribed": `heap:
  capacityMB: 1
  spaces:
    - name: main
      sizeKB: 4096
`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatal("expected an error")
			} else if !strings.Contains(err.Error(), "invalid") {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFilename)
	c := Default()
	c.Heap.CapacityMB = 8
	c.Heap.Spaces = []SpaceConfig{{Name: "main", SizeKB: 512}}
	if err := Write(path, c); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Heap.CapacityMB != 8 || got.Heap.Spaces[0].SizeKB != 512 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}
