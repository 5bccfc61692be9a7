package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
)

// Employee is one row of the employees fixture.
type Employee struct {
	Name       string
	Department string
	Age        int
	Salary     float64
}

// Employees backs CreateEmployees.
var Employees = []Employee{
	{"Alice", "Engineering", 34, 5200.5},
	{"Bob", "Sales", 25, 4100},
	{"Carol", "Engineering", 41, 6100.25},
	{"Dave", "Support", 30, 4500},
	{"Erin", "Sales", 52, 7000},
}

// ProductsCSV is a small CSV upload with messy headers.
const ProductsCSV = `Product Name,Unit-Price,In Stock,Notes
Widget,2.50,10,
Gadget,10,0,fragile
Gizmo,7.25,3,"comma, inside"
`

// UsersJSON is a JSON upload with nested objects and arrays.
const UsersJSON = `[
  {"id": 1, "name": "Ann", "address": {"city": "Oslo", "zip": "0150"}, "tags": ["admin", "ops"], "active": true},
  {"id": 2, "name": "Ben", "address": {"city": "Bergen"}, "tags": ["dev"], "active": false},
  {"id": 3, "name": "Cy", "address": null, "score": 4.5}
]`

// EventsJSONL is a JSON Lines upload.
const EventsJSONL = `{"event": "login", "user": "ann", "ms": 120}
{"event": "logout", "user": "ann", "ms": 15}

{"event": "login", "user": "ben", "ms": 98}
`

// PNG encodes a w by h grayscale pattern. Different seeds give visually
// different images; equal seeds give identical bytes at any size.
func PNG(t *testing.T, w, h int, seed uint8) []byte {
	t.Helper()
	return TintedPNG(t, w, h, seed, 0)
}

// TintedPNG is PNG brightened by delta on every pixel.
func TintedPNG(t *testing.T, w, h int, seed, delta uint8) []byte {
	t.Helper()

	a := 0.7 + 0.3*float64(seed%3)
	b := 0.6 + 0.4*float64(seed%2)
	p := float64(seed) * 1.3

	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			u, v := float64(x)/float64(w), float64(y)/float64(h)
			g := 128 + 70*math.Sin(2*math.Pi*a*u+p)*math.Cos(2*math.Pi*b*v+p/2) +
				20*math.Sin(2*math.Pi*(u+v)+p/3)
			img.SetGray(x, y, color.Gray{Y: uint8(g) + delta})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}
