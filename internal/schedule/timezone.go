package schedule

import (
	"bytes"
	_ "embed"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Zone is a selectable timezone with a fixed UTC offset in hours.
type Zone struct {
	Name   string  `yaml:"name" json:"name"`
	Label  string  `yaml:"label" json:"label"`
	Offset float64 `yaml:"offset" json:"offset"`
}

// Zones is the fixed-offset table used to convert schedule windows to UTC.
type Zones struct {
	list   []Zone
	byName map[string]Zone
}

//go:embed timezones.yaml
var defaultZonesYAML []byte

var (
	defaultZonesOnce sync.Once
	defaultZones     *Zones
)

// DefaultZones returns the embedded zone table.
func DefaultZones() *Zones {
	defaultZonesOnce.Do(func() {
		z, err := ParseZones(defaultZonesYAML)
		if err != nil {
			panic(fmt.Sprintf("schedule: embedded timezones.yaml is invalid: %v", err))
		}
		defaultZones = z
	})
	return defaultZones
}

// ParseZones decodes a zone table. Offsets must be whole minutes within [-12, +14] hours.
func ParseZones(data []byte) (*Zones, error) {
	var doc struct {
		Zones []Zone `yaml:"zones"`
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode zones: %w", err)
	}
	z := &Zones{byName: make(map[string]Zone, len(doc.Zones))}
	for _, zone := range doc.Zones {
		name := strings.TrimSpace(zone.Name)
		if name == "" {
			return nil, fmt.Errorf("zone with empty name")
		}
		if zone.Offset < -12 || zone.Offset > 14 {
			return nil, fmt.Errorf("zone %s: offset %v out of range", name, zone.Offset)
		}
		mins := zone.Offset * 60
		if math.Abs(mins-math.Round(mins)) > 1e-9 {
			return nil, fmt.Errorf("zone %s: offset %v is not a whole number of minutes", name, zone.Offset)
		}
		if _, dup := z.byName[name]; dup {
			return nil, fmt.Errorf("zone %s defined twice", name)
		}
		zone.Name = name
		z.byName[name] = zone
		z.list = append(z.list, zone)
	}
	return z, nil
}

func (z *Zones) Lookup(name string) (Zone, bool) {
	if z == nil {
		z = DefaultZones()
	}
	zone, ok := z.byName[strings.TrimSpace(name)]
	return zone, ok
}

// List returns the zones in table order.
func (z *Zones) List() []Zone {
	if z == nil {
		z = DefaultZones()
	}
	out := make([]Zone, len(z.list))
	copy(out, z.list)
	return out
}

// ToUTC converts a local HH:MM in timezone to a UTC HH:MM.
func (z *Zones) ToUTC(local, timezone string) (string, error) {
	zone, ok := z.Lookup(timezone)
	if !ok {
		return "", &InvalidFieldError{Field: "timezone", Reason: fmt.Sprintf("unsupported timezone %q", timezone)}
	}
	h, m, err := ParseClock(local)
	if err != nil {
		return "", err
	}
	h, m = shiftClock(h, m, zone.Offset)
	return FormatClock(h, m), nil
}

// FromUTC is the inverse of ToUTC: it renders a stored UTC HH:MM in timezone.
func (z *Zones) FromUTC(utc, timezone string) (string, error) {
	zone, ok := z.Lookup(timezone)
	if !ok {
		return "", &InvalidFieldError{Field: "timezone", Reason: fmt.Sprintf("unsupported timezone %q", timezone)}
	}
	h, m, err := ParseClock(utc)
	if err != nil {
		return "", err
	}
	h, m = shiftClock(h, m, -zone.Offset)
	return FormatClock(h, m), nil
}

// shiftClock subtracts offset hours from h:m. The fractional part of the offset is applied to the
// minutes first, borrowing from or carrying into the hour; the hour then wraps modulo 24. There is
// no date, so midnight crossings simply wrap.
func shiftClock(h, m int, offset float64) (int, int) {
	whole := math.Trunc(offset)
	fracMinutes := int(math.Round((offset - whole) * 60))

	m -= fracMinutes
	carry := 0
	if m < 0 {
		m += 60
		carry = -1
	} else if m >= 60 {
		m -= 60
		carry = 1
	}

	h = h - int(whole) + carry
	h = ((h % 24) + 24) % 24
	return h, m
}

// ParseClock parses a 24-hour "HH:MM" time of day.
func ParseClock(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, &InvalidFieldError{Field: "time", Reason: fmt.Sprintf("%q is not a HH:MM time", s)}
	}
	return t.Hour(), t.Minute(), nil
}

func FormatClock(h, m int) string {
	return fmt.Sprintf("%02d:%02d", h, m)
}

// ToUTC converts using the default zone table.
func ToUTC(local, timezone string) (string, error) {
	return DefaultZones().ToUTC(local, timezone)
}

// FromUTC converts using the default zone table.
func FromUTC(utc, timezone string) (string, error) {
	return DefaultZones().FromUTC(utc, timezone)
}
