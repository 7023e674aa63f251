// Package imagediff scores the pixel difference between two raster images.
package imagediff

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register decoder
	"image/png"

	_ "golang.org/x/image/webp" // register decoder
)

// Severity grades a changed region.
type Severity string

const (
	SeverityMinor Severity = "minor"
	SeverityMajor Severity = "major"
)

// Region is one changed area of the compared images.
type Region struct {
	Area          string   `json:"area"`
	Severity      Severity `json:"severity"`
	PixelsChanged int      `json:"pixelsChanged"`
}

// Comparison is the outcome of comparing a baseline with a current capture.
type Comparison struct {
	Passed          bool
	DifferenceRatio float64
	DiffImage       []byte
	Differences     []Region
}

// Comparator compares two encoded images.
type Comparator interface {
	Compare(baseline, current []byte, threshold float64) (*Comparison, error)
}

// Defaults for PixelComparator
const (
	DefaultTolerance      = 16
	DefaultGridSize       = 8
	DefaultMajorCellRatio = 0.25
	DefaultMaxPixels      = 50_000_000
)

// ErrTooLarge is returned when an image, or the canvas both images span,
// exceeds the comparator's pixel limit.
var ErrTooLarge = errors.New("image exceeds pixel limit")

// PixelComparator counts pixels whose channels differ by more than Tolerance
// (8-bit scale). Pixels present in only one image count as changed. Changes
// are grouped on a GridSize×GridSize grid; a cell is major when at least
// MajorCellRatio of its pixels changed. Dimensions are read from the headers
// before decoding, and inputs spanning more than MaxPixels are refused.
type PixelComparator struct {
	Tolerance      uint8
	GridSize       int
	MajorCellRatio float64
	MaxPixels      int
}

// NewPixelComparator returns a comparator with default settings.
func NewPixelComparator() *PixelComparator {
	return &PixelComparator{
		Tolerance:      DefaultTolerance,
		GridSize:       DefaultGridSize,
		MajorCellRatio: DefaultMajorCellRatio,
		MaxPixels:      DefaultMaxPixels,
	}
}

var _ Comparator = (*PixelComparator)(nil)

// Compare decodes both images and scores their difference.
func (c *PixelComparator) Compare(baseline, current []byte, threshold float64) (*Comparison, error) {
	if err := c.checkSize(baseline, current); err != nil {
		return nil, err
	}

	base, _, err := image.Decode(bytes.NewReader(baseline))
	if err != nil {
		return nil, fmt.Errorf("failed to decode baseline image: %w", err)
	}
	cur, _, err := image.Decode(bytes.NewReader(current))
	if err != nil {
		return nil, fmt.Errorf("failed to decode current image: %w", err)
	}

	bb, cb := base.Bounds(), cur.Bounds()
	width := max(bb.Dx(), cb.Dx())
	height := max(bb.Dy(), cb.Dy())
	if width == 0 || height == 0 {
		return &Comparison{Passed: true, Differences: []Region{}}, nil
	}

	grid := c.GridSize
	if grid <= 0 {
		grid = DefaultGridSize
	}
	cellW := (width + grid - 1) / grid
	cellH := (height + grid - 1) / grid
	cells := make([]int, grid*grid)

	diff := image.NewNRGBA(image.Rect(0, 0, width, height))
	changed := 0

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			bp := image.Point{X: bb.Min.X + x, Y: bb.Min.Y + y}
			cp := image.Point{X: cb.Min.X + x, Y: cb.Min.Y + y}
			inBase, inCur := bp.In(bb), cp.In(cb)

			var different bool
			var shade color.NRGBA
			switch {
			case inBase && inCur:
				bc := color.NRGBAModel.Convert(base.At(bp.X, bp.Y)).(color.NRGBA)
				cc := color.NRGBAModel.Convert(cur.At(cp.X, cp.Y)).(color.NRGBA)
				different = c.differs(bc, cc)
				shade = faded(cc)
			default:
				different = true
			}

			if different {
				changed++
				cells[(y/cellH)*grid+(x/cellW)]++
				diff.SetNRGBA(x, y, color.NRGBA{R: 255, A: 255})
			} else {
				diff.SetNRGBA(x, y, shade)
			}
		}
	}

	var encoded bytes.Buffer
	if err := png.Encode(&encoded, diff); err != nil {
		return nil, fmt.Errorf("failed to encode diff image: %w", err)
	}

	ratio := float64(changed) / float64(width*height)
	return &Comparison{
		Passed:          ratio <= threshold,
		DifferenceRatio: ratio,
		DiffImage:       encoded.Bytes(),
		Differences:     c.regions(cells, grid, cellW, cellH, width, height),
	}, nil
}

// checkSize reads both image headers and refuses inputs whose pixel count, or
// the count of the canvas covering both, exceeds MaxPixels.
func (c *PixelComparator) checkSize(baseline, current []byte) error {
	limit := c.MaxPixels
	if limit <= 0 {
		limit = DefaultMaxPixels
	}

	bc, _, err := image.DecodeConfig(bytes.NewReader(baseline))
	if err != nil {
		return fmt.Errorf("failed to decode baseline image: %w", err)
	}
	cc, _, err := image.DecodeConfig(bytes.NewReader(current))
	if err != nil {
		return fmt.Errorf("failed to decode current image: %w", err)
	}

	for _, dims := range []struct {
		name string
		w, h int
	}{
		{"baseline", bc.Width, bc.Height},
		{"current", cc.Width, cc.Height},
		{"combined", max(bc.Width, cc.Width), max(bc.Height, cc.Height)},
	} {
		if int64(dims.w)*int64(dims.h) > int64(limit) {
			return fmt.Errorf("%s image is %dx%d: %w (%d)", dims.name, dims.w, dims.h, ErrTooLarge, limit)
		}
	}
	return nil
}

func (c *PixelComparator) differs(a, b color.NRGBA) bool {
	tol := int(c.Tolerance)
	return absDiff(a.R, b.R) > tol || absDiff(a.G, b.G) > tol ||
		absDiff(a.B, b.B) > tol || absDiff(a.A, b.A) > tol
}

// regions lists changed cells in row-major order.
func (c *PixelComparator) regions(cells []int, grid, cellW, cellH, width, height int) []Region {
	majorRatio := c.MajorCellRatio
	if majorRatio <= 0 {
		majorRatio = DefaultMajorCellRatio
	}

	regions := []Region{}
	for row := 0; row < grid; row++ {
		for col := 0; col < grid; col++ {
			n := cells[row*grid+col]
			if n == 0 {
				continue
			}
			x, y := col*cellW, row*cellH
			w := min(cellW, width-x)
			h := min(cellH, height-y)

			severity := SeverityMinor
			if float64(n)/float64(w*h) >= majorRatio {
				severity = SeverityMajor
			}
			regions = append(regions, Region{
				Area:          fmt.Sprintf("x=%d,y=%d,w=%d,h=%d", x, y, w, h),
				Severity:      severity,
				PixelsChanged: n,
			})
		}
	}
	return regions
}

// faded renders an unchanged pixel as light grey so changes stand out.
func faded(c color.NRGBA) color.NRGBA {
	luma := (299*int(c.R) + 587*int(c.G) + 114*int(c.B)) / 1000
	v := uint8(170 + luma/3)
	return color.NRGBA{R: v, G: v, B: v, A: 255}
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
