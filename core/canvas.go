package core

import (
	"context"
	"encoding/json"
)

type (
	// Point is a position in screen or page coordinates.
	Point struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}

	// Box is an axis-aligned rectangle.
	Box struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		W float64 `json:"w"`
		H float64 `json:"h"`
	}

	// File is a typed byte payload handed to the canvas for import.
	File struct {
		Name     string `json:"name"`
		MimeType string `json:"type"`
		Data     []byte `json:"data"`
	}

	// Shape is a canvas shape primitive.
	Shape struct {
		Type  string         `json:"type"`
		X     float64        `json:"x"`
		Y     float64        `json:"y"`
		Props map[string]any `json:"props"`
	}

	// Canvas is the live canvas editor of one user.
	Canvas interface {
		ScreenToPage(p Point) Point
		ViewportScreenBounds() Box
		PutExternalContent(ctx context.Context, point Point, files []File) error
		CreateShape(ctx context.Context, shape Shape) error
		// LoadSnapshot replaces the whole document. Unsaved edits are lost.
		LoadSnapshot(ctx context.Context, payload json.RawMessage) error
	}
)

// Center returns the middle of the box.
func (b Box) Center() Point {
	return Point{X: b.X + b.W/2, Y: b.Y + b.H/2}
}
