package trip

import (
	"encoding/json"
	"fmt"
	"html"
	"os"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// Role is the part a member plays on the trip
type Role string

const (
	RoleLeader      Role = "leader"
	RoleDriver      Role = "driver"
	RoleCamera      Role = "camera"
	RoleAccountant  Role = "accountant"
	RoleNavigator   Role = "navigator"
	RoleReservation Role = "reservation"
)

var roleLabels = map[Role]string{
	RoleLeader:      "リーダー",
	RoleDriver:      "運転",
	RoleCamera:      "カメラ",
	RoleAccountant:  "会計",
	RoleNavigator:   "ナビ",
	RoleReservation: "予約",
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	_, ok := roleLabels[r]
	return ok
}

// Label returns the display label of the role
func (r Role) Label() string {
	return roleLabels[r]
}

// Member is one participant of the trip
type Member struct {
	Name    string `json:"name"`
	Role    Role   `json:"role,omitempty"`
	Episode string `json:"episode,omitempty"`
}

// Fields is the trip information entered alongside the photos. Dates are
// nil until chosen.
type Fields struct {
	Purpose   string
	Members   []Member
	Hotels    []string
	StartDate *time.Time
	EndDate   *time.Time
	DayTrip   bool
}

// SetDayTrip toggles the day trip flag. A day trip ends on its start date.
func (f *Fields) SetDayTrip(on bool) {
	f.DayTrip = on
	if on {
		f.EndDate = copyTime(f.StartDate)
	}
}

// SetDates sets the trip range. For a day trip the end follows the start.
func (f *Fields) SetDates(start, end *time.Time) {
	f.StartDate = copyTime(start)
	if f.DayTrip {
		f.EndDate = copyTime(start)
		return
	}
	f.EndDate = copyTime(end)
}

// Normalized returns a cleaned copy of the fields. Free text is stripped of
// markup, blank hotels and unnamed members are dropped and unknown roles are
// cleared.
func (f Fields) Normalized() Fields {
	p := bluemonday.StrictPolicy()

	out := Fields{
		Purpose:   sanitize(p, f.Purpose),
		StartDate: copyTime(f.StartDate),
		EndDate:   copyTime(f.EndDate),
		DayTrip:   f.DayTrip,
		Members:   []Member{},
		Hotels:    []string{},
	}
	if out.DayTrip {
		out.EndDate = copyTime(out.StartDate)
	}

	for _, m := range f.Members {
		name := sanitize(p, m.Name)
		if name == "" {
			continue
		}
		role := m.Role
		if !role.Valid() {
			role = ""
		}
		out.Members = append(out.Members, Member{Name: name, Role: role, Episode: sanitize(p, m.Episode)})
	}
	for _, h := range f.Hotels {
		if h = sanitize(p, h); h != "" {
			out.Hotels = append(out.Hotels, h)
		}
	}
	return out
}

// SanitizeText strips markup from a single user-entered value
func SanitizeText(s string) string {
	return sanitize(bluemonday.StrictPolicy(), s)
}

func sanitize(p *bluemonday.Policy, s string) string {
	// StrictPolicy escapes what it keeps; the values are not HTML
	return strings.TrimSpace(html.UnescapeString(p.Sanitize(s)))
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// fileFields is the on-disk form of Fields
type fileFields struct {
	Purpose   string   `json:"purpose"`
	Members   []Member `json:"members"`
	Hotels    []string `json:"hotels"`
	StartDate string   `json:"startDate"`
	EndDate   string   `json:"endDate"`
	DayTrip   bool     `json:"dayTrip"`
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02",
	"2006/01/02",
}

// Load reads trip fields from a JSON file. Dates may be RFC 3339 timestamps
// or plain dates, which are read in the given location.
func Load(path string, loc *time.Location) (Fields, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fields{}, fmt.Errorf("reading trip file: %w", err)
	}
	return Parse(data, loc)
}

// Parse decodes trip fields from JSON
func Parse(data []byte, loc *time.Location) (Fields, error) {
	if loc == nil {
		loc = time.Local
	}

	var raw fileFields
	if err := json.Unmarshal(data, &raw); err != nil {
		return Fields{}, fmt.Errorf("decoding trip file: %w", err)
	}

	start, err := parseDate(raw.StartDate, loc)
	if err != nil {
		return Fields{}, fmt.Errorf("parsing start date: %w", err)
	}
	end, err := parseDate(raw.EndDate, loc)
	if err != nil {
		return Fields{}, fmt.Errorf("parsing end date: %w", err)
	}

	f := Fields{
		Purpose: raw.Purpose,
		Members: raw.Members,
		Hotels:  raw.Hotels,
		DayTrip: raw.DayTrip,
	}
	f.SetDates(start, end)
	return f, nil
}

func parseDate(s string, loc *time.Location) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognised date %q", s)
}
