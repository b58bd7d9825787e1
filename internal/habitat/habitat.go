// Package habitat provides raster lookup of habitat regions for
// position coordinates. The sampler only ever asks "which region is
// this point in?", so the package exposes a small Map interface with a
// grid-backed implementation and a single-region fallback for runs
// without habitat data.
package habitat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Map resolves a position to a habitat region identifier in [0, Regions).
type Map interface {
	Region(x, y float64) int
	Regions() int
}

// Single is a Map with exactly one region. Used when no raster is
// configured so rate models degenerate to habitat-independent rates.
type Single struct{}

func (Single) Region(x, y float64) int { return 0 }
func (Single) Regions() int            { return 1 }

// Raster is a rectangular grid of region identifiers in row-major
// order. Coordinates outside the grid resolve to Default.
type Raster struct {
	OriginX  float64 `json:"origin_x"`
	OriginY  float64 `json:"origin_y"`
	CellSize float64 `json:"cell_size"`
	Cols     int     `json:"cols"`
	Rows     int     `json:"rows"`
	Cells    []int   `json:"cells"`
	Default  int     `json:"default"`

	regions int
}

// Load reads a Raster from a JSON file and validates its shape.
func Load(path string) (*Raster, error) {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read habitat raster: %w", err)
	}
	var r Raster
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse habitat raster: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks grid dimensions and region identifiers. It also
// caches the region count, so it must be called before Region/Regions.
func (r *Raster) Validate() error {
	if r.CellSize <= 0 {
		return fmt.Errorf("habitat raster: cell_size must be positive, got %g", r.CellSize)
	}
	if r.Cols <= 0 || r.Rows <= 0 {
		return fmt.Errorf("habitat raster: grid must be non-empty, got %dx%d", r.Cols, r.Rows)
	}
	if len(r.Cells) != r.Cols*r.Rows {
		return fmt.Errorf("habitat raster: expected %d cells, got %d", r.Cols*r.Rows, len(r.Cells))
	}
	if r.Default < 0 {
		return fmt.Errorf("habitat raster: default region must be non-negative, got %d", r.Default)
	}
	max := r.Default
	for i, c := range r.Cells {
		if c < 0 {
			return fmt.Errorf("habitat raster: cell %d has negative region %d", i, c)
		}
		if c > max {
			max = c
		}
	}
	r.regions = max + 1
	return nil
}

// Region returns the region identifier for the cell containing (x, y),
// or Default when the point lies outside the grid.
func (r *Raster) Region(x, y float64) int {
	col := int((x - r.OriginX) / r.CellSize)
	row := int((y - r.OriginY) / r.CellSize)
	if x < r.OriginX || y < r.OriginY || col >= r.Cols || row >= r.Rows {
		return r.Default
	}
	return r.Cells[row*r.Cols+col]
}

// Regions returns the number of distinct region identifiers, counting
// contiguously from zero.
func (r *Raster) Regions() int {
	if r.regions == 0 {
		// Validate not called; derive lazily.
		if err := r.Validate(); err != nil {
			return 1
		}
	}
	return r.regions
}
