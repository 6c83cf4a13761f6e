package queries

import (
	"testing"

	"github.com/NERVsystems/osmscene/pkg/geo"
)

func TestMapBuilder(t *testing.T) {
	tests := []struct {
		name string
		base string
		want string
	}{
		{"plain", "https://api.openstreetmap.org/api/0.6", "https://api.openstreetmap.org/api/0.6/map?bbox=8.0000000,47.0000000,8.1000000,47.1000000"},
		{"trailing slash", "http://localhost:8080/api/0.6/", "http://localhost:8080/api/0.6/map?bbox=8.0000000,47.0000000,8.1000000,47.1000000"},
	}

	box := geo.BoundingBox{MinLat: 47, MinLon: 8, MaxLat: 47.1, MaxLon: 8.1}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewMapBuilder(tt.base).Map(box); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMapBuilderCapabilitiesAndHost(t *testing.T) {
	b := NewMapBuilder("https://api.openstreetmap.org/api/0.6")
	if got := b.Capabilities(); got != "https://api.openstreetmap.org/api/0.6/capabilities" {
		t.Errorf("unexpected capabilities URL %s", got)
	}
	if got := b.Host(); got != "api.openstreetmap.org" {
		t.Errorf("unexpected host %s", got)
	}
}
