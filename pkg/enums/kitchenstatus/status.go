package kitchenstatus

import (
	"strings"
)

type Status struct {
	Name string
}

func (s Status) Code() string {
	return s.Name
}

func (s Status) Label() string {
	parts := strings.Split(s.Name, "-")
	for i := range parts {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, " ")
}

func (s Status) String() string {
	return s.Name
}

// IsZero reports whether the status was never set.
func (s Status) IsZero() bool {
	return s.Name == ""
}

// IsActive reports whether an item in this status still needs station work.
func (s Status) IsActive() bool {
	return s == Statuses.Pending || s == Statuses.Cooking
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.Name), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	s.Name = string(text)
	return nil
}

type Enum struct {
	Pending Status
	Cooking Status
	Done    Status
}

var Statuses = Enum{
	Pending: Status{Name: "pending"},
	Cooking: Status{Name: "cooking"},
	Done:    Status{Name: "done"},
}

var All = []Status{
	Statuses.Pending,
	Statuses.Cooking,
	Statuses.Done,
}

// ByName returns the status for a given name, or nil if not found
func ByName(name string) *Status {
	for _, s := range All {
		if s.Name == name {
			return &s
		}
	}
	return nil
}
