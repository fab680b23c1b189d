// Package records loads location lists from YAML or GeoJSON files.
package records

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gopkg.in/yaml.v3"

	"github.com/1F47E/geo-overlay/pkg/models"
)

var ErrUnsupportedFormat = errors.New("unsupported location file format")

// File is the YAML layout of a location list.
type File struct {
	Locations []models.LocationRecord `yaml:"locations"`
}

// Load reads a location list, choosing the decoder by file extension.
func Load(path string) ([]models.LocationRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locations: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".geojson", ".json":
		return ParseGeoJSON(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// ParseYAML decodes either a {locations: [...]} document or a bare list.
func ParseYAML(data []byte) ([]models.LocationRecord, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err == nil && f.Locations != nil {
		return f.Locations, nil
	}

	var list []models.LocationRecord
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse yaml locations: %w", err)
	}
	return list, nil
}

// ParseGeoJSON decodes a FeatureCollection of Point features. The feature id
// (or an "id" property) becomes the record id; name, address, price_range and
// features properties fill the display fields. Non-point features are
// rejected.
func ParseGeoJSON(data []byte) ([]models.LocationRecord, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse geojson locations: %w", err)
	}

	out := make([]models.LocationRecord, 0, len(fc.Features))
	for i, f := range fc.Features {
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			return nil, fmt.Errorf("feature %d: geometry is not a point", i)
		}
		loc := models.Location{Lat: pt.Lat(), Lon: pt.Lon()}

		rec := models.LocationRecord{
			ID:         featureID(f),
			Location:   &loc,
			Name:       stringProp(f.Properties, "name"),
			Address:    stringProp(f.Properties, "address"),
			PriceRange: stringProp(f.Properties, "price_range"),
			Features:   featureFlags(f.Properties["features"]),
		}
		out = append(out, rec)
	}
	return out, nil
}

func featureID(f *geojson.Feature) string {
	switch id := f.ID.(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%g", id)
	}
	return stringProp(f.Properties, "id")
}

func stringProp(p geojson.Properties, key string) string {
	s, _ := p[key].(string)
	return s
}

// featureFlags accepts {"wifi": true} or ["wifi"].
func featureFlags(v interface{}) map[string]bool {
	switch fs := v.(type) {
	case map[string]interface{}:
		out := make(map[string]bool, len(fs))
		for k, on := range fs {
			b, _ := on.(bool)
			out[k] = b
		}
		return out
	case []interface{}:
		out := make(map[string]bool, len(fs))
		for _, name := range fs {
			if s, ok := name.(string); ok {
				out[s] = true
			}
		}
		return out
	}
	return nil
}

// FeatureCollection converts records to GeoJSON points. Records without a
// location are left out.
func FeatureCollection(recs []models.LocationRecord) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, rec := range recs {
		if rec.Location == nil {
			continue
		}
		f := geojson.NewFeature(orb.Point{rec.Location.Lon, rec.Location.Lat})
		f.ID = rec.ID
		if rec.Name != "" {
			f.Properties["name"] = rec.Name
		}
		if rec.Address != "" {
			f.Properties["address"] = rec.Address
		}
		if rec.PriceRange != "" {
			f.Properties["price_range"] = rec.PriceRange
		}
		if len(rec.Features) > 0 {
			names := make([]string, 0, len(rec.Features))
			for name, on := range rec.Features {
				if on {
					names = append(names, name)
				}
			}
			sort.Strings(names)
			f.Properties["features"] = names
		}
		fc.Append(f)
	}
	return fc
}
