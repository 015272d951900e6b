// Package reconcile plans and applies station bulk imports. An incoming
// manifest is the authoritative station list for a group: existing
// stations it names are moved if their coordinates changed, stations it
// omits are retired, and new names are created.
package reconcile

// StationSpec is one station entry in an incoming manifest
type StationSpec struct {
	Name string  `json:"name" yaml:"name"`
	Lat  float64 `json:"lat" yaml:"lat"`
	Lng  float64 `json:"lng" yaml:"lng"`
}

// Station is an existing station row as the planner sees it
type Station struct {
	ID      int64
	Name    string
	Lat     float64
	Lng     float64
	Retired bool
}

// CoordinateUpdate moves an existing station
type CoordinateUpdate struct {
	StationID int64
	Name      string
	Lat       float64
	Lng       float64
}

// Plan is the set of changes that brings a group's stations in line
// with an incoming manifest
type Plan struct {
	ToCreate []StationSpec
	ToUpdate []CoordinateUpdate
	ToRetire []Station
}

// Empty reports whether the plan changes nothing
func (p Plan) Empty() bool {
	return len(p.ToCreate) == 0 && len(p.ToUpdate) == 0 && len(p.ToRetire) == 0
}

// BuildPlan diffs the current stations against an incoming manifest,
// keyed by name. Stations present in both sets produce a coordinate
// update only when they moved. Already retired rows are ignored on both
// sides.
func BuildPlan(current []Station, incoming []StationSpec) Plan {
	byName := make(map[string]Station, len(current))
	for _, station := range current {
		if station.Retired {
			continue
		}
		byName[station.Name] = station
	}

	var plan Plan
	seen := make(map[string]bool, len(incoming))
	for _, spec := range incoming {
		seen[spec.Name] = true
		existing, ok := byName[spec.Name]
		if !ok {
			plan.ToCreate = append(plan.ToCreate, spec)
			continue
		}
		if existing.Lat != spec.Lat || existing.Lng != spec.Lng {
			plan.ToUpdate = append(plan.ToUpdate, CoordinateUpdate{
				StationID: existing.ID,
				Name:      spec.Name,
				Lat:       spec.Lat,
				Lng:       spec.Lng,
			})
		}
	}

	for _, station := range current {
		if station.Retired || seen[station.Name] {
			continue
		}
		plan.ToRetire = append(plan.ToRetire, station)
	}

	return plan
}
