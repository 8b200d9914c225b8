package maps

import (
	"os"
	"path/filepath"
	"testing"
)

const testMap = `
height: 5
width: 7
layers:
  ground:
    grass: [[0, 0], [0, 1], [1, 0]]
  solid:
    rock: [[2, 3], [2, 4]]
  roof:
    thatch: [[4, 6]]
`

func TestParseIndexesSolidLayer(t *testing.T) {
	m, err := Parse([]byte(testMap))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Height != 5 || m.Width != 7 {
		t.Fatalf("dimensions = %dx%d, want 5x7", m.Height, m.Width)
	}
	if !m.IsSolid(2, 3) || !m.IsSolid(2, 4) {
		t.Fatal("rock cells should be solid")
	}
	if m.IsSolid(0, 0) {
		t.Fatal("grass cell should not be solid")
	}
	if !m.InBounds(4, 6) {
		t.Fatal("(4,6) should be in bounds")
	}
	if m.InBounds(5, 0) || m.InBounds(0, 7) || m.InBounds(-1, 0) {
		t.Fatal("out-of-range coordinates reported in bounds")
	}
}

func TestParseRejectsUnknownLayer(t *testing.T) {
	_, err := Parse([]byte("height: 2\nwidth: 2\nlayers:\n  lava:\n    hot: [[0, 0]]\n"))
	if err == nil {
		t.Fatal("Parse accepted an unknown layer")
	}
}

func TestParseRejectsOutOfRangeCoordinate(t *testing.T) {
	_, err := Parse([]byte("height: 2\nwidth: 2\nlayers:\n  solid:\n    rock: [[2, 0]]\n"))
	if err == nil {
		t.Fatal("Parse accepted a coordinate outside the map")
	}
}

func TestProviderCachesLoads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forest.yml")
	if err := os.WriteFile(path, []byte(testMap), 0o644); err != nil {
		t.Fatalf("write map: %v", err)
	}

	p := NewProvider(dir)
	first, err := p.Load("forest")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Corrupt the file; a cached provider must not re-read it.
	if err := os.WriteFile(path, []byte("height: -1"), 0o644); err != nil {
		t.Fatalf("rewrite map: %v", err)
	}
	second, err := p.Load("forest")
	if err != nil {
		t.Fatalf("Load (cached): %v", err)
	}
	if first != second {
		t.Fatal("provider re-loaded a cached map")
	}

	if _, err := p.Load("missing"); err == nil {
		t.Fatal("Load of a missing map succeeded")
	}
}
