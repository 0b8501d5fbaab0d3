package model

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// StoreRecord is a lottery retailer returned by the store search endpoint.
// Records are immutable once fetched and replaced wholesale on refresh.
type StoreRecord struct {
	ID          int64   `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Phone       string  `json:"tel" yaml:"tel"`
	Address     string  `json:"address" yaml:"address"`
	Latitude    float64 `json:"lat" yaml:"lat"`
	Longitude   float64 `json:"lon" yaml:"lon"`
	FirstPlace  int     `json:"firstPlace" yaml:"first_place"`
	SecondPlace int     `json:"secondPlace" yaml:"second_place"`
	Score       float64 `json:"score" yaml:"score"`
}

// Position returns the record's coordinate pair.
func (r StoreRecord) Position() LatLng {
	return LatLng{Lat: r.Latitude, Lon: r.Longitude}
}

// storeRecordWire mirrors the endpoint payload, where coordinates arrive as
// stringified decimals and the phone field has two spellings.
type storeRecordWire struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Tel         string      `json:"tel"`
	Phone       string      `json:"phone"`
	Address     string      `json:"address"`
	Lat         flexDecimal `json:"lat"`
	Lon         flexDecimal `json:"lon"`
	FirstPlace  int         `json:"firstPlace"`
	SecondPlace int         `json:"secondPlace"`
	Score       float64     `json:"score"`
}

// MarshalJSON writes coordinates as stringified decimals, matching the endpoint.
func (r StoreRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID          int64   `json:"id"`
		Name        string  `json:"name"`
		Tel         string  `json:"tel"`
		Address     string  `json:"address"`
		Lat         string  `json:"lat"`
		Lon         string  `json:"lon"`
		FirstPlace  int     `json:"firstPlace"`
		SecondPlace int     `json:"secondPlace"`
		Score       float64 `json:"score"`
	}{
		ID:          r.ID,
		Name:        r.Name,
		Tel:         r.Phone,
		Address:     r.Address,
		Lat:         strconv.FormatFloat(r.Latitude, 'f', -1, 64),
		Lon:         strconv.FormatFloat(r.Longitude, 'f', -1, 64),
		FirstPlace:  r.FirstPlace,
		SecondPlace: r.SecondPlace,
		Score:       r.Score,
	})
}

// UnmarshalJSON accepts coordinates as strings or numbers and "tel" or "phone".
func (r *StoreRecord) UnmarshalJSON(data []byte) error {
	var w storeRecordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return eris.Wrap(err, "model: decode store record")
	}

	phone := w.Tel
	if phone == "" {
		phone = w.Phone
	}

	*r = StoreRecord{
		ID:          w.ID,
		Name:        w.Name,
		Phone:       phone,
		Address:     w.Address,
		Latitude:    float64(w.Lat),
		Longitude:   float64(w.Lon),
		FirstPlace:  w.FirstPlace,
		SecondPlace: w.SecondPlace,
		Score:       w.Score,
	}
	return nil
}

// flexDecimal decodes a JSON number or a quoted decimal string.
type flexDecimal float64

func (d *flexDecimal) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*d = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return eris.Wrapf(err, "model: parse decimal %q", s)
	}
	*d = flexDecimal(v)
	return nil
}
