package capability

import (
	"slices"
	"strings"
)

// Device family names used to group the static catalog.
const (
	FamilyCleaning = "cleaning"
	FamilyDelivery = "delivery"
	FamilyPatrol   = "patrol"
	FamilyDrone    = "drone"
	FamilyRobotDog = "robotdog"
)

var (
	paramRoute    = Param{Type: ParamString, Required: true, Description: "patrol route identifier"}
	paramPickup   = Param{Type: ParamString, Required: true, Description: "pickup location"}
	paramDropoff  = Param{Type: ParamString, Required: true, Description: "dropoff location"}
	paramZone     = Param{Type: ParamString, Required: true, Description: "zone identifier"}
	paramPriority = Param{Type: ParamString, Description: "urgency hint"}
)

// Catalog returns the static capability definitions per device family.
// It builds a fresh copy on every call; callers may keep what they get.
func Catalog() map[string][]Capability {
	return map[string][]Capability{
		FamilyCleaning: {
			{
				ID: "cleaning.floor.standard", Name: "Standard floor cleaning", Category: "cleaning", Action: "clean",
				Parameters:  map[string]Param{"zone_id": paramZone, "mode": {Type: ParamString, Description: "sweep | mop | vacuum"}},
				Constraints: map[string]any{"max_area_sqm": 2000},
				Description: "Routine floor cleaning of a mapped zone",
			},
			{
				ID: "cleaning.floor.deep", Name: "Deep floor cleaning", Category: "cleaning", Action: "clean",
				Parameters:  map[string]Param{"zone_id": paramZone, "passes": {Type: ParamNumber}},
				Description: "Multi-pass scrubbing for heavy soiling",
			},
			{
				ID: "cleaning.spill.response", Name: "Spill response", Category: "cleaning", Action: "clean",
				Parameters:  map[string]Param{"location": {Type: ParamString, Required: true}, "priority": paramPriority},
				Description: "Targeted cleanup of a reported spill",
			},
		},
		FamilyDelivery: {
			{
				ID: "delivery.indoor.standard", Name: "Indoor delivery", Category: "logistics", Action: "deliver",
				Parameters: map[string]Param{
					"pickup_location":  paramPickup,
					"dropoff_location": paramDropoff,
					"item_id":          {Type: ParamString, Required: true},
				},
				Constraints: map[string]any{"max_payload_kg": 30},
				Description: "Point-to-point indoor item delivery",
			},
		},
		FamilyPatrol: {
			{
				ID: "patrol.indoor.routine", Name: "Indoor routine patrol", Category: "security", Action: "patrol",
				Parameters:  map[string]Param{"route_id": paramRoute},
				Description: "Wheeled robot following a fixed indoor route",
			},
		},
		FamilyDrone: {
			{
				ID: "drone.patrol.aerial", Name: "Aerial patrol", Category: "security", Action: "patrol",
				Parameters: map[string]Param{
					"route_id": paramRoute,
					"altitude": {Type: ParamNumber, Description: "meters above ground"},
				},
				Constraints: map[string]any{"max_wind_mps": 10, "max_altitude_m": 120},
				Description: "Perimeter patrol from the air",
			},
			{
				ID: "drone.inspection.facade", Name: "Facade inspection", Category: "inspection", Action: "inspect",
				Parameters:  map[string]Param{"building_id": {Type: ParamString, Required: true}, "faces": {Type: ParamArray}},
				Description: "Visual inspection of building facades",
			},
			{
				ID: "drone.delivery.aerial", Name: "Aerial delivery", Category: "logistics", Action: "deliver",
				Parameters: map[string]Param{
					"pickup_location":  paramPickup,
					"dropoff_location": paramDropoff,
					"payload_kg":       {Type: ParamNumber},
				},
				Constraints: map[string]any{"max_payload_kg": 2.5},
				Description: "Small-parcel delivery by air",
			},
		},
		FamilyRobotDog: {
			{
				ID: "robotdog.patrol.rough", Name: "Rough terrain patrol", Category: "security", Action: "patrol",
				Parameters:  map[string]Param{"route_id": paramRoute},
				Description: "Legged patrol over stairs and uneven ground",
			},
			{
				ID: "robotdog.escort.security", Name: "Security escort", Category: "security", Action: "escort",
				Parameters: map[string]Param{
					"start_location": {Type: ParamString, Required: true},
					"end_location":   {Type: ParamString, Required: true},
					"person_id":      {Type: ParamString, Required: true},
				},
				Description: "Accompany a person between two locations",
			},
			{
				ID: "robotdog.inspection.equipment", Name: "Equipment inspection", Category: "inspection", Action: "inspect",
				Parameters:  map[string]Param{"equipment_id": {Type: ParamString, Required: true}},
				Description: "Close-range gauge and thermal readings",
			},
		},
	}
}

// All returns every catalog capability sorted by id.
func All() []Capability {
	var out []Capability
	for _, caps := range Catalog() {
		out = append(out, caps...)
	}
	slices.SortFunc(out, func(a, b Capability) int { return strings.Compare(a.ID, b.ID) })
	return out
}
