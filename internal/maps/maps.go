// Package maps loads the static terrain of a room: three YAML-described
// layers (ground, solid, roof) mapping terrain tags to coordinates, plus the
// solidity lookup the movement rules depend on.
package maps

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"Moonveil/internal/wire"
)

// Map is the immutable terrain of one room.
type Map struct {
	Height int
	Width  int
	Ground wire.Layer
	Solid  wire.Layer
	Roof   wire.Layer

	solid map[[2]int]string
}

type mapFile struct {
	Height int                `yaml:"height"`
	Width  int                `yaml:"width"`
	Layers map[string]rawTags `yaml:"layers"`
}

type rawTags map[string][][2]int

// Provider loads and caches room maps from a directory of YAML files.
type Provider struct {
	dir string

	mu    sync.Mutex
	cache map[string]*Map
}

// NewProvider returns a provider rooted at dir.
func NewProvider(dir string) *Provider {
	return &Provider{dir: dir, cache: make(map[string]*Map)}
}

// Load returns the map stored as <name>.yml under the provider directory.
func (p *Provider) Load(name string) (*Map, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.cache[name]; ok {
		return m, nil
	}

	data, err := os.ReadFile(filepath.Join(p.dir, name+".yml"))
	if err != nil {
		return nil, fmt.Errorf("load map %q: %w", name, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load map %q: %w", name, err)
	}
	p.cache[name] = m
	return m, nil
}

// Parse decodes a YAML map document and indexes its solid layer.
func Parse(data []byte) (*Map, error) {
	var file mapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if file.Height <= 0 || file.Width <= 0 {
		return nil, fmt.Errorf("bad dimensions %dx%d", file.Height, file.Width)
	}

	m := &Map{
		Height: file.Height,
		Width:  file.Width,
		Ground: wire.Layer{},
		Solid:  wire.Layer{},
		Roof:   wire.Layer{},
		solid:  make(map[[2]int]string),
	}
	for layerName, tags := range file.Layers {
		var dst wire.Layer
		switch layerName {
		case "ground":
			dst = m.Ground
		case "solid":
			dst = m.Solid
		case "roof":
			dst = m.Roof
		default:
			return nil, fmt.Errorf("unknown layer %q", layerName)
		}
		for tag, coords := range tags {
			for _, c := range coords {
				if c[0] < 0 || c[0] >= file.Height || c[1] < 0 || c[1] >= file.Width {
					return nil, fmt.Errorf("layer %s tag %s: coordinate (%d,%d) outside %dx%d",
						layerName, tag, c[0], c[1], file.Height, file.Width)
				}
			}
			dst[tag] = coords
		}
	}
	for tag, coords := range m.Solid {
		for _, c := range coords {
			m.solid[c] = tag
		}
	}
	return m, nil
}

// InBounds reports whether (y, x) lies inside the map.
func (m *Map) InBounds(y, x int) bool {
	return y >= 0 && y < m.Height && x >= 0 && x < m.Width
}

// IsSolid reports whether (y, x) is blocked by the solid layer.
func (m *Map) IsSolid(y, x int) bool {
	_, ok := m.solid[[2]int{y, x}]
	return ok
}
