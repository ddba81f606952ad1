package station

import "strings"

// Station is a physical kitchen post handling one course type.
type Station struct {
	Name string
}

func (s Station) Code() string {
	return s.Name
}

func (s Station) Label() string {
	// Capitalize first letter
	if len(s.Name) == 0 {
		return ""
	}
	return strings.ToUpper(s.Name[:1]) + s.Name[1:]
}

type Enum struct {
	Grill   Station
	Fry     Station
	Saute   Station
	Cold    Station
	Dessert Station
	Bar     Station
}

var Stations = Enum{
	Grill:   Station{Name: "grill"},
	Fry:     Station{Name: "fry"},
	Saute:   Station{Name: "saute"},
	Cold:    Station{Name: "cold"},
	Dessert: Station{Name: "dessert"},
	Bar:     Station{Name: "bar"},
}

var All = []Station{
	Stations.Grill,
	Stations.Fry,
	Stations.Saute,
	Stations.Cold,
	Stations.Dessert,
	Stations.Bar,
}

// ByName returns the station for a given name, or nil if not found
func ByName(name string) *Station {
	for _, s := range All {
		if s.Name == name {
			return &s
		}
	}
	return nil
}
