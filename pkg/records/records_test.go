package records

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1F47E/geo-overlay/pkg/models"
)

const yamlDoc = `
locations:
  - id: cafe-1
    location: {lat: 40.7128, lon: -74.006}
    name: Corner Cafe
    address: 1 Main St
    price_range: $$
    features:
      wifi: true
      parking: false
  - id: broken
    location: {lat: 999, lon: 0}
`

const geojsonDoc = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "cafe-1",
     "geometry": {"type": "Point", "coordinates": [-74.006, 40.7128]},
     "properties": {"name": "Corner Cafe", "price_range": "$$", "features": ["wifi", "outdoor"]}},
    {"type": "Feature", "id": 7,
     "geometry": {"type": "Point", "coordinates": [2.35, 48.85]},
     "properties": {"features": {"wifi": false}}},
    {"type": "Feature",
     "geometry": {"type": "Point", "coordinates": [13.4, 52.5]},
     "properties": {"id": "berlin"}}
  ]
}`

func TestParseYAML(t *testing.T) {
	recs, err := ParseYAML([]byte(yamlDoc))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "cafe-1", recs[0].ID)
	require.NotNil(t, recs[0].Location)
	assert.Equal(t, 40.7128, recs[0].Location.Lat)
	assert.Equal(t, "Corner Cafe", recs[0].Name)
	assert.Equal(t, "$$", recs[0].PriceRange)
	assert.Equal(t, map[string]bool{"wifi": true, "parking": false}, recs[0].Features)

	// Validation is left to the renderer
	assert.Equal(t, 999.0, recs[1].Location.Lat)
}

func TestParseYAMLBareList(t *testing.T) {
	recs, err := ParseYAML([]byte("- id: a\n  location: {lat: 1, lon: 2}\n"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].ID)
}

func TestParseYAMLInvalid(t *testing.T) {
	_, err := ParseYAML([]byte("locations: [\n"))
	assert.Error(t, err)
}

func TestParseGeoJSON(t *testing.T) {
	recs, err := ParseGeoJSON([]byte(geojsonDoc))
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "cafe-1", recs[0].ID)
	assert.Equal(t, models.Location{Lat: 40.7128, Lon: -74.006}, *recs[0].Location)
	assert.Equal(t, "Corner Cafe", recs[0].Name)
	assert.Equal(t, map[string]bool{"wifi": true, "outdoor": true}, recs[0].Features)

	assert.Equal(t, "7", recs[1].ID)
	assert.Equal(t, map[string]bool{"wifi": false}, recs[1].Features)

	assert.Equal(t, "berlin", recs[2].ID)
	assert.Nil(t, recs[2].Features)
}

func TestParseGeoJSONRejectsNonPoints(t *testing.T) {
	doc := `{"type": "FeatureCollection", "features": [
	  {"type": "Feature", "geometry": {"type": "LineString", "coordinates": [[0, 0], [1, 1]]}, "properties": {}}
	]}`
	_, err := ParseGeoJSON([]byte(doc))
	assert.ErrorContains(t, err, "not a point")
}

func TestFeatureCollectionRoundTrip(t *testing.T) {
	in, err := ParseYAML([]byte(yamlDoc))
	require.NoError(t, err)
	in = append(in, models.LocationRecord{ID: "no-location"})

	data, err := FeatureCollection(in).MarshalJSON()
	require.NoError(t, err)

	out, err := ParseGeoJSON(data)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "cafe-1", out[0].ID)
	assert.Equal(t, *in[0].Location, *out[0].Location)
	assert.Equal(t, map[string]bool{"wifi": true}, out[0].Features)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "places.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlDoc), 0o644))
	recs, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	geoPath := filepath.Join(dir, "places.geojson")
	require.NoError(t, os.WriteFile(geoPath, []byte(geojsonDoc), 0o644))
	recs, err = Load(geoPath)
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	csvPath := filepath.Join(dir, "places.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("id,lat,lon"), 0o644))
	_, err = Load(csvPath)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
