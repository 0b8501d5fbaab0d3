package model

import "fmt"

// PermissionState tracks the outcome of the location permission request.
type PermissionState int

const (
	PermissionUnresolved PermissionState = iota
	PermissionGranted
	PermissionDenied
)

func (s PermissionState) String() string {
	switch s {
	case PermissionUnresolved:
		return "unresolved"
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return fmt.Sprintf("permission(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON and YAML output.
func (s PermissionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FormFactor classifies the display the page runs on.
type FormFactor int

const (
	FormFactorWide FormFactor = iota
	FormFactorNarrow
)

// NarrowBreakpoint is the first width (in CSS pixels) treated as wide.
const NarrowBreakpoint = 769

// ClassifyWidth maps a viewport width to a FormFactor.
func ClassifyWidth(px int) FormFactor {
	if px >= NarrowBreakpoint {
		return FormFactorWide
	}
	return FormFactorNarrow
}

func (f FormFactor) String() string {
	if f == FormFactorNarrow {
		return "narrow"
	}
	return "wide"
}

// ScriptResource is an external script the map SDK needs before use.
type ScriptResource struct {
	URL  string `json:"url" yaml:"url"`
	Type string `json:"type" yaml:"type"`
}

const (
	// MapScriptType is the script MIME type used for every map SDK resource.
	MapScriptType = "text/javascript"

	mapScriptBase = "https://openapi.map.naver.com/openapi/v3/"
)

// DefaultMapScripts returns the primary map script plus the four feature
// scripts (panorama, drawing, visualization, geocoder).
func DefaultMapScripts(clientID string) []ScriptResource {
	return []ScriptResource{
		{URL: mapScriptBase + "maps.js?ncpClientId=" + clientID, Type: MapScriptType},
		{URL: mapScriptBase + "maps-panorama.js", Type: MapScriptType},
		{URL: mapScriptBase + "maps-drawing.js", Type: MapScriptType},
		{URL: mapScriptBase + "maps-visualization.js", Type: MapScriptType},
		{URL: mapScriptBase + "maps-geocoder.js", Type: MapScriptType},
	}
}
