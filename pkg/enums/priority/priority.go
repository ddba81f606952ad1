package priority

import "strings"

// Level is the urgency classification derived from how long an item has waited.
type Level struct {
	Name string
}

func (l Level) Code() string {
	return l.Name
}

func (l Level) Label() string {
	if len(l.Name) == 0 {
		return ""
	}
	return strings.ToUpper(l.Name[:1]) + l.Name[1:]
}

func (l Level) String() string {
	return l.Name
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.Name), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	l.Name = string(text)
	return nil
}

type Enum struct {
	Normal   Level
	Warning  Level
	Critical Level
}

var Levels = Enum{
	Normal:   Level{Name: "normal"},
	Warning:  Level{Name: "warning"},
	Critical: Level{Name: "critical"},
}

var All = []Level{
	Levels.Normal,
	Levels.Warning,
	Levels.Critical,
}

// ByName returns the level for a given name, or nil if not found
func ByName(name string) *Level {
	for _, l := range All {
		if l.Name == name {
			return &l
		}
	}
	return nil
}
