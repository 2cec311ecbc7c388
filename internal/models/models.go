package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// GeoPoint represents a geographic point
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks that the point lies within WGS84 bounds
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90,90]", p.Lat)
	}
	if math.IsNaN(p.Lon) || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("longitude %v out of range [-180,180]", p.Lon)
	}
	return nil
}

// Rounded returns the point with both coordinates rounded to the given decimal places
func (p GeoPoint) Rounded(places int) GeoPoint {
	return GeoPoint{Lat: RoundCoordinate(p.Lat, places), Lon: RoundCoordinate(p.Lon, places)}
}

// KeyString formats the point for use in cache keys
func (p GeoPoint) KeyString(places int) string {
	r := p.Rounded(places)
	return fmt.Sprintf("%.*f,%.*f", places, r.Lat, places, r.Lon)
}

// RoundCoordinate rounds a coordinate to the given number of decimal places
func RoundCoordinate(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

// TravelMode selects the transport profile used by providers
type TravelMode string

const (
	TravelModeDrive      TravelMode = "DRIVE"
	TravelModeWalk       TravelMode = "WALK"
	TravelModeBicycle    TravelMode = "BICYCLE"
	TravelModeTwoWheeler TravelMode = "TWO_WHEELER"
	TravelModeTransit    TravelMode = "TRANSIT"
)

// ParseTravelMode normalizes user input; anything unrecognized becomes DRIVE
func ParseTravelMode(s string) TravelMode {
	switch TravelMode(strings.ToUpper(strings.TrimSpace(s))) {
	case TravelModeWalk:
		return TravelModeWalk
	case TravelModeBicycle:
		return TravelModeBicycle
	case TravelModeTwoWheeler:
		return TravelModeTwoWheeler
	case TravelModeTransit:
		return TravelModeTransit
	default:
		return TravelModeDrive
	}
}

// AvoidTerm is a soft routing constraint
type AvoidTerm string

const (
	AvoidTolls    AvoidTerm = "tolls"
	AvoidFerries  AvoidTerm = "ferries"
	AvoidHighways AvoidTerm = "highways"
)

// AvoidSet is a canonical (deduplicated, sorted) list of avoid terms
type AvoidSet []AvoidTerm

// ParseAvoid drops unknown terms, removes duplicates and sorts the result
func ParseAvoid(terms []string) AvoidSet {
	seen := make(map[AvoidTerm]bool)
	set := AvoidSet{}
	for _, t := range terms {
		term := AvoidTerm(strings.ToLower(strings.TrimSpace(t)))
		switch term {
		case AvoidTolls, AvoidFerries, AvoidHighways:
		default:
			continue
		}
		if seen[term] {
			continue
		}
		seen[term] = true
		set = append(set, term)
	}
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	return set
}

// Key returns the canonical string form used in cache keys
func (a AvoidSet) Key() string {
	parts := make([]string, len(a))
	for i, t := range a {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

// Has reports whether the set contains the term
func (a AvoidSet) Has(term AvoidTerm) bool {
	for _, t := range a {
		if t == term {
			return true
		}
	}
	return false
}

// RouteRequest is the input to route computation
type RouteRequest struct {
	Stops []GeoPoint `json:"stops"`
	Mode  TravelMode `json:"mode"`
	Avoid AvoidSet   `json:"avoid,omitempty"`
}

// RouteResult is the normalized output of any routing provider
type RouteResult struct {
	DistanceM         int    `json:"distance_m"`
	DurationS         int    `json:"duration_s"`
	Geometry          string `json:"geometry"`
	ProviderUsed      string `json:"provider_used"`
	ConstraintRelaxed bool   `json:"constraint_relaxed"`
}

// MatrixResult holds square duration/distance matrices over an ordered point list.
// Unreachable cells are +Inf.
type MatrixResult struct {
	Points    []GeoPoint  `json:"points"`
	DurationS [][]float64 `json:"duration_s"`
	DistanceM [][]float64 `json:"distance_m"`
}

// NewMatrixResult allocates matrices for n points with zero diagonal and +Inf elsewhere
func NewMatrixResult(points []GeoPoint) *MatrixResult {
	n := len(points)
	m := &MatrixResult{
		Points:    append([]GeoPoint(nil), points...),
		DurationS: make([][]float64, n),
		DistanceM: make([][]float64, n),
	}
	for i := 0; i < n; i++ {
		m.DurationS[i] = make([]float64, n)
		m.DistanceM[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i != j {
				m.DurationS[i][j] = math.Inf(1)
				m.DistanceM[i][j] = math.Inf(1)
			}
		}
	}
	return m
}

// Reachable reports whether both cells for (i,j) are finite
func (m *MatrixResult) Reachable(i, j int) bool {
	return !math.IsInf(m.DurationS[i][j], 0) && !math.IsInf(m.DistanceM[i][j], 0)
}

// MarshalJSON writes infinite cells as null, since JSON has no Infinity literal
func (m MatrixResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Points    []GeoPoint   `json:"points"`
		DurationS [][]*float64 `json:"duration_s"`
		DistanceM [][]*float64 `json:"distance_m"`
	}{
		Points:    m.Points,
		DurationS: nullableGrid(m.DurationS),
		DistanceM: nullableGrid(m.DistanceM),
	})
}

func nullableGrid(grid [][]float64) [][]*float64 {
	out := make([][]*float64, len(grid))
	for i, row := range grid {
		out[i] = make([]*float64, len(row))
		for j, v := range row {
			if math.IsInf(v, 0) || math.IsNaN(v) {
				continue
			}
			v := v
			out[i][j] = &v
		}
	}
	return out
}

// PlaceDetails holds descriptive fields fetched by a secondary lookup
type PlaceDetails struct {
	Address string   `json:"address,omitempty"`
	Website string   `json:"website,omitempty"`
	Phone   string   `json:"phone,omitempty"`
	Hours   []string `json:"hours,omitempty"`
}

// POICandidate is a point of interest returned by places search
type POICandidate struct {
	PlaceID     string        `json:"place_id"`
	Name        string        `json:"name"`
	Rating      float64       `json:"rating"`
	ReviewCount int           `json:"review_count"`
	Location    GeoPoint      `json:"location"`
	Types       []string      `json:"types,omitempty"`
	DetourMin   *int          `json:"detour_min,omitempty"`
	DetourS     *float64      `json:"detour_s,omitempty"`
	Details     *PlaceDetails `json:"details,omitempty"`
}

// Score ranks candidates by rating weighted with review volume
func (c POICandidate) Score() float64 {
	return c.Rating * math.Log1p(float64(c.ReviewCount))
}

// PlanMode distinguishes round trips from point-to-point plans
type PlanMode string

const (
	PlanModeNearby PlanMode = "NEARBY"
	PlanModeA2B    PlanMode = "A2B"
)

// PointSource records how a plan endpoint was resolved
type PointSource string

const (
	SourceCurrent PointSource = "current"
	SourceHotel   PointSource = "hotel"
	SourceQuery   PointSource = "query"
	SourceOrigin  PointSource = "origin"
)

// ResolvedPoint is an origin or destination after resolution
type ResolvedPoint struct {
	Location GeoPoint    `json:"location"`
	Source   PointSource `json:"source"`
	Name     string      `json:"name,omitempty"`
	PlaceID  string      `json:"place_id,omitempty"`
}

// StopKind tags a plan stop
type StopKind string

const (
	StopOrigin      StopKind = "origin"
	StopDestination StopKind = "destination"
	StopPOI         StopKind = "poi"
)

// PlanStop is one node of the ordered day plan
type PlanStop struct {
	Kind     StopKind      `json:"kind"`
	Location GeoPoint      `json:"location"`
	Name     string        `json:"name,omitempty"`
	PlaceID  string        `json:"place_id,omitempty"`
	POI      *POICandidate `json:"poi,omitempty"`
}

// Leg connects two consecutive plan stops. LegSeconds is nil when unreachable.
type Leg struct {
	From                 PlanStop `json:"from"`
	To                   PlanStop `json:"to"`
	LegSeconds           *int     `json:"leg_seconds"`
	CumulativeETASeconds int      `json:"cumulative_eta_seconds"`
}

// Plan is the assembled day plan
type Plan struct {
	OK          bool           `json:"ok"`
	Mode        PlanMode       `json:"mode"`
	Origin      ResolvedPoint  `json:"origin"`
	Destination ResolvedPoint  `json:"destination"`
	Count       int            `json:"count"`
	Order       []PlanStop     `json:"order"`
	Timeline    []Leg          `json:"timeline"`
	AlongRoute  []POICandidate `json:"along_route,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`
}
