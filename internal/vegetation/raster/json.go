package raster

import (
	"encoding/json"
	"fmt"
	"io"
)

// gridJSON is the fixture layout used by the command line tools.
type gridJSON struct {
	Width  int        `json:"width"`
	Height int        `json:"height"`
	Nodata *float64   `json:"nodata,omitempty"`
	Values []*float64 `json:"values"`
}

// ReadJSON decodes a grid from r. Null values and a missing nodata field
// are both mapped to DefaultNodata.
func ReadJSON(r io.Reader) (*Grid, error) {
	var doc gridJSON
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse grid JSON: %w", err)
	}

	nodata := DefaultNodata
	if doc.Nodata != nil {
		nodata = *doc.Nodata
	}
	values := make([]float64, len(doc.Values))
	for i, v := range doc.Values {
		if v == nil {
			values[i] = nodata
			continue
		}
		values[i] = *v
	}
	return NewGridFromValues(doc.Width, doc.Height, nodata, values)
}

// WriteJSON encodes g to w, writing empty cells as null.
func WriteJSON(w io.Writer, g *Grid) error {
	nodata := g.Nodata()
	doc := gridJSON{
		Width:  g.Width(),
		Height: g.Height(),
		Nodata: &nodata,
		Values: make([]*float64, 0, g.Width()*g.Height()),
	}
	for y := 0; y < g.Height(); y++ {
		for x := 0; x < g.Width(); x++ {
			if !g.HasData(x, y) {
				doc.Values = append(doc.Values, nil)
				continue
			}
			v := g.Data(x, y)
			doc.Values = append(doc.Values, &v)
		}
	}
	return json.NewEncoder(w).Encode(doc)
}
