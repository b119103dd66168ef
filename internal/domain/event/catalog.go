package event

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// Fold normalizes a name for catalogue keys and member de-duplication.
func Fold(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// Catalog is the read-only set of event definitions, loaded once at
// startup. Lookup is casefolded exact-or-alias only; fuzzy tolerance for
// the external notifier lives outside this package.
type Catalog struct {
	defs    []Def
	byName  map[string]int
	byAlias map[string]string
}

// NewCatalog validates defs and builds the lookup index.
func NewCatalog(defs []Def) (*Catalog, error) {
	c := &Catalog{
		byName:  make(map[string]int, len(defs)),
		byAlias: make(map[string]string),
	}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("%w: empty name", ErrInvalidDef)
		}
		if (d.Interval > 0) == (len(d.Schedule) > 0) {
			return nil, fmt.Errorf("%w: %s needs exactly one of interval or schedule", ErrInvalidDef, d.Name)
		}
		for _, slot := range d.Schedule {
			if slot.Hour < 0 || slot.Hour > 23 || slot.Minute < 0 || slot.Minute > 59 {
				return nil, fmt.Errorf("%w: %s has slot %02d:%02d out of range", ErrInvalidDef, d.Name, slot.Hour, slot.Minute)
			}
		}
		key := Fold(d.Name)
		if _, dup := c.byName[key]; dup {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidDef, d.Name)
		}
		c.byName[key] = len(c.defs)
		c.defs = append(c.defs, d)
		for _, alias := range d.Aliases {
			ak := Fold(alias)
			if prev, dup := c.byAlias[ak]; dup && prev != key {
				return nil, fmt.Errorf("%w: alias %q claimed by %q and %q", ErrInvalidDef, alias, prev, d.Name)
			}
			c.byAlias[ak] = key
		}
	}
	return c, nil
}

// Resolve returns the definition for a name or alias.
func (c *Catalog) Resolve(name string) (Def, error) {
	key := Fold(name)
	if canonical, ok := c.byAlias[key]; ok {
		key = canonical
	}
	idx, ok := c.byName[key]
	if !ok {
		return Def{}, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	return c.defs[idx], nil
}

// Defs returns all definitions sorted by name.
func (c *Catalog) Defs() []Def {
	out := make([]Def, len(c.defs))
	copy(out, c.defs)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IntervalDefs returns the interval-based definitions sorted by name.
func (c *Catalog) IntervalDefs() []Def {
	var out []Def
	for _, d := range c.Defs() {
		if d.IntervalBased() {
			out = append(out, d)
		}
	}
	return out
}

// ScheduleDefs returns the schedule-based definitions sorted by name.
func (c *Catalog) ScheduleDefs() []Def {
	var out []Def
	for _, d := range c.Defs() {
		if !d.IntervalBased() {
			out = append(out, d)
		}
	}
	return out
}

// Names returns every canonical name and alias, canonical names first.
// The notifier adapter uses this as its fuzzy-match corpus.
func (c *Catalog) Names() []string {
	var out []string
	for _, d := range c.Defs() {
		out = append(out, d.Name)
	}
	for _, d := range c.Defs() {
		out = append(out, d.Aliases...)
	}
	return out
}

type rawSlot struct {
	Weekday string `yaml:"weekday"`
	Time    string `yaml:"time"`
}

type rawDef struct {
	Name     string    `yaml:"name"`
	Points   int       `yaml:"points"`
	Aliases  []string  `yaml:"aliases"`
	Interval string    `yaml:"interval"`
	Schedule []rawSlot `yaml:"schedule"`
}

type rawCatalog struct {
	Events []rawDef `yaml:"events"`
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

// Load reads the event catalogue from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event catalogue: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML event catalogue.
func Parse(data []byte) (*Catalog, error) {
	var raw rawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse event catalogue: %w", err)
	}

	defs := make([]Def, 0, len(raw.Events))
	for _, r := range raw.Events {
		d := Def{Name: r.Name, Points: r.Points, Aliases: r.Aliases}
		if r.Interval != "" {
			interval, err := time.ParseDuration(r.Interval)
			if err != nil {
				return nil, fmt.Errorf("%w: %s interval %q", ErrInvalidDef, r.Name, r.Interval)
			}
			d.Interval = interval
		}
		for _, rs := range r.Schedule {
			wd, ok := weekdays[strings.ToLower(rs.Weekday)]
			if !ok {
				return nil, fmt.Errorf("%w: %s weekday %q", ErrInvalidDef, r.Name, rs.Weekday)
			}
			var hour, minute int
			if _, err := fmt.Sscanf(rs.Time, "%d:%d", &hour, &minute); err != nil {
				return nil, fmt.Errorf("%w: %s slot time %q", ErrInvalidDef, r.Name, rs.Time)
			}
			d.Schedule = append(d.Schedule, Slot{Weekday: wd, Hour: hour, Minute: minute})
		}
		defs = append(defs, d)
	}
	return NewCatalog(defs)
}
