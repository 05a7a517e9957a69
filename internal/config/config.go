// Package config loads the set of monitored locations.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/lox/dustwatch/internal/models"
)

// DefaultLocations are the UAE cities monitored when no locations file is
// given.
var DefaultLocations = []models.Location{
	{ID: "dubai", Name: "Dubai", Latitude: 25.2048, Longitude: 55.2708, Icon: "🏙️", Population: 3500000, Airports: []string{"OMDB", "OMDW"}},
	{ID: "abu_dhabi", Name: "Abu Dhabi", Latitude: 24.4539, Longitude: 54.3773, Icon: "🕌", Population: 1500000, Airports: []string{"OMAA"}},
	{ID: "sharjah", Name: "Sharjah", Latitude: 25.3573, Longitude: 55.4033, Icon: "🏛️", Population: 1800000, Airports: []string{"OMSJ"}},
	{ID: "al_ain", Name: "Al Ain", Latitude: 24.2075, Longitude: 55.7447, Icon: "🌴", Population: 800000, Airports: []string{"OMAL"}},
	{ID: "ajman", Name: "Ajman", Latitude: 25.4052, Longitude: 55.5136, Icon: "⛵", Population: 500000},
	{ID: "ras_al_khaimah", Name: "Ras Al Khaimah", Latitude: 25.7895, Longitude: 55.9432, Icon: "🏔️", Population: 400000, Airports: []string{"OMRK"}},
	{ID: "fujairah", Name: "Fujairah", Latitude: 25.1288, Longitude: 56.3265, Icon: "🌊", Population: 250000, Airports: []string{"OMFJ"}},
	{ID: "umm_al_quwain", Name: "Umm Al Quwain", Latitude: 25.5647, Longitude: 55.5532, Icon: "🐚", Population: 80000},
}

type file struct {
	Locations []models.Location `yaml:"locations"`
}

// LoadLocations returns DefaultLocations when path is empty, otherwise the
// locations listed in the YAML file at path.
func LoadLocations(path string) ([]models.Location, error) {
	if path == "" {
		out := make([]models.Location, len(DefaultLocations))
		copy(out, DefaultLocations)
		return out, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locations: %w", err)
	}
	return ParseLocations(data)
}

// ParseLocations decodes and validates a YAML locations document.
func ParseLocations(data []byte) ([]models.Location, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse locations: %w", err)
	}
	if err := Validate(f.Locations); err != nil {
		return nil, err
	}
	return f.Locations, nil
}

// Validate rejects empty lists, duplicate or missing ids and coordinates
// outside the valid range.
func Validate(locations []models.Location) error {
	if len(locations) == 0 {
		return errors.New("no locations configured")
	}
	seen := make(map[string]bool, len(locations))
	for i, loc := range locations {
		if loc.ID == "" {
			return fmt.Errorf("location %d: missing id", i)
		}
		if seen[loc.ID] {
			return fmt.Errorf("location %s: duplicate id", loc.ID)
		}
		seen[loc.ID] = true
		if math.IsNaN(loc.Latitude) || loc.Latitude < -90 || loc.Latitude > 90 {
			return fmt.Errorf("location %s: latitude %v out of range", loc.ID, loc.Latitude)
		}
		if math.IsNaN(loc.Longitude) || loc.Longitude < -180 || loc.Longitude > 180 {
			return fmt.Errorf("location %s: longitude %v out of range", loc.ID, loc.Longitude)
		}
	}
	return nil
}
