// Package imfcs reads the saved output artifacts of an ImagingFCS
// acquisition: the Excel workbook with correlation functions, fit results and
// acquisition parameters, and the average-intensity TIFF.
package imfcs

import (
	"fmt"
	"math"
)

// Plane is a dense height x width matrix stored row-major.
type Plane struct {
	Height int
	Width  int
	data   []float64
}

// NewPlane allocates a zero-filled plane.
func NewPlane(height, width int) *Plane {
	return &Plane{
		Height: height,
		Width:  width,
		data:   make([]float64, height*width),
	}
}

// At returns the value at row y, column x.
func (p *Plane) At(y, x int) float64 {
	return p.data[y*p.Width+x]
}

// Set stores v at row y, column x.
func (p *Plane) Set(y, x int, v float64) {
	p.data[y*p.Width+x] = v
}

// Fill sets every element to v.
func (p *Plane) Fill(v float64) {
	for i := range p.data {
		p.data[i] = v
	}
}

// Values returns the backing slice in row-major order.
func (p *Plane) Values() []float64 {
	return p.data
}

// Scale multiplies every element by factor.
func (p *Plane) Scale(factor float64) {
	for i := range p.data {
		p.data[i] *= factor
	}
}

// ValidValues returns the non-NaN elements in row-major order.
func (p *Plane) ValidValues() []float64 {
	out := make([]float64, 0, len(p.data))
	for _, v := range p.data {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// Cube is a dense height x width x depth array stored row-major with the
// depth axis innermost, so the per-pixel series is contiguous.
type Cube struct {
	Height int
	Width  int
	Depth  int
	data   []float64
}

// NewCube allocates a zero-filled cube.
func NewCube(height, width, depth int) *Cube {
	return &Cube{
		Height: height,
		Width:  width,
		Depth:  depth,
		data:   make([]float64, height*width*depth),
	}
}

// At returns the value at row y, column x, depth index k.
func (c *Cube) At(y, x, k int) float64 {
	return c.data[(y*c.Width+x)*c.Depth+k]
}

// Set stores v at row y, column x, depth index k.
func (c *Cube) Set(y, x, k int, v float64) {
	c.data[(y*c.Width+x)*c.Depth+k] = v
}

// Series returns the depth vector of pixel (y, x). The slice aliases the
// cube's storage.
func (c *Cube) Series(y, x int) []float64 {
	off := (y*c.Width + x) * c.Depth
	return c.data[off : off+c.Depth]
}

// PlaneAt copies depth index k into a new plane.
func (c *Cube) PlaneAt(k int) *Plane {
	p := NewPlane(c.Height, c.Width)
	for y := 0; y < c.Height; y++ {
		for x := 0; x < c.Width; x++ {
			p.Set(y, x, c.At(y, x, k))
		}
	}
	return p
}

// ScaleDepth multiplies depth index k of every pixel by factor.
func (c *Cube) ScaleDepth(k int, factor float64) {
	for y := 0; y < c.Height; y++ {
		for x := 0; x < c.Width; x++ {
			c.Set(y, x, k, c.At(y, x, k)*factor)
		}
	}
}

// SameShape reports whether both cubes have identical dimensions.
func (c *Cube) SameShape(o *Cube) bool {
	return o != nil && c.Height == o.Height && c.Width == o.Width && c.Depth == o.Depth
}

// ShapeString renders the dimensions for error messages.
func (c *Cube) ShapeString() string {
	return fmt.Sprintf("%dx%dx%d", c.Height, c.Width, c.Depth)
}
