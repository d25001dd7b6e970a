// Package location supplies the coordinates recorded with a punch.
package location

import (
	"context"

	"github.com/Tiliavir/offline-time-tracker/internal/model"
)

// Provider resolves the device's current position. A nil result with a nil
// error means no position is available.
type Provider interface {
	Current(ctx context.Context) (*model.Coords, error)
}

// Static always reports the same configured position.
type Static struct {
	Coords model.Coords
}

func (s Static) Current(context.Context) (*model.Coords, error) {
	c := s.Coords
	return &c, nil
}

// None never has a position.
type None struct{}

func (None) Current(context.Context) (*model.Coords, error) { return nil, nil }

// FromConfig returns Static when both coordinates are set and None otherwise.
func FromConfig(lat, lon *float64) Provider {
	if lat == nil || lon == nil {
		return None{}
	}
	return Static{Coords: model.Coords{Latitude: *lat, Longitude: *lon}}
}
