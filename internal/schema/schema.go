// Package schema turns the remote contact property groups into the buckets
// the feed settings are built from, and caches the result.
package schema

import (
	"slices"
	"strings"

	"github.com/pysugar/hubspot-bridge/internal/config"
	"github.com/pysugar/hubspot-bridge/internal/hubspot"
)

// OwnerProperty is set through owner rules, never through mapping.
const OwnerProperty = "hubspot_owner_id"

var (
	basicNames     = []string{"firstname", "lastname", "email"}
	supportedTypes = []string{"string", "number", "date", "enumeration"}
	ignoredNames   = []string{OwnerProperty}
)

// Property is a contact property as offered for mapping.
type Property struct {
	Name         string           `json:"name"`
	Label        string           `json:"label"`
	Type         string           `json:"type"`
	FieldType    string           `json:"field_type"`
	Required     bool             `json:"required,omitempty"`
	DefaultValue string           `json:"default_value,omitempty"`
	Tooltip      string           `json:"tooltip,omitempty"`
	Choices      []hubspot.Option `json:"choices,omitempty"`
}

// Group lists the additional properties of one remote display group.
type Group struct {
	Label   string     `json:"label"`
	Choices []Property `json:"choices"`
}

// Properties is the bucketed contact schema.
type Properties struct {
	Basic      []Property `json:"basic"`
	Selection  []Property `json:"selection"`
	Additional []Property `json:"additional"`
	Grouped    []Group    `json:"grouped"`
}

// Empty reports whether no property is available.
func (p Properties) Empty() bool {
	return len(p.Basic) == 0 && len(p.Selection) == 0 && len(p.Additional) == 0
}

// Find looks a property up by name or label across basic, additional and
// selection properties, in that order.
func (p Properties) Find(nameOrLabel string) (Property, bool) {
	for _, bucket := range [][]Property{p.Basic, p.Additional, p.Selection} {
		for _, prop := range bucket {
			if prop.Name == nameOrLabel || prop.Label == nameOrLabel {
				return prop, true
			}
		}
	}
	return Property{}, false
}

// IsSelection reports whether name is a selection property.
func (p Properties) IsSelection(name string) bool {
	for _, prop := range p.Selection {
		if prop.Name == name {
			return true
		}
	}
	return false
}

// Build buckets the property groups. Every bucket and the choices of each
// group are sorted by label in byte order.
func Build(groups []hubspot.PropertyGroup, selection map[string]config.SelectionProperty) Properties {
	props := Properties{
		Basic:      []Property{},
		Selection:  []Property{},
		Additional: []Property{},
		Grouped:    []Group{{Label: "Select a Contact Property"}},
	}

	for _, g := range groups {
		group := Group{Label: g.DisplayName}
		for _, rp := range g.Properties {
			prop := Property{
				Name:      rp.Name,
				Label:     rp.Label,
				Type:      rp.Type,
				FieldType: rp.FieldType,
				Required:  rp.Name == "email",
			}

			sel, isSelection := selection[rp.Name]
			switch {
			case slices.Contains(basicNames, rp.Name):
				props.Basic = append(props.Basic, prop)
			case isSelection:
				prop.DefaultValue = sel.DefaultValue
				prop.Tooltip = sel.Tooltip
				if sel.AllowsBlank {
					prop.Choices = append(prop.Choices,
						hubspot.Option{Label: "Select an Option", Value: ""},
						hubspot.Option{Label: "", Value: " "},
					)
				}
				prop.Choices = append(prop.Choices, rp.Options...)
				props.Selection = append(props.Selection, prop)
			case supportsMapping(rp):
				props.Additional = append(props.Additional, prop)
				group.Choices = append(group.Choices, prop)
			}
		}
		if len(group.Choices) > 0 {
			sortByLabel(group.Choices)
			props.Grouped = append(props.Grouped, group)
		}
	}

	sortByLabel(props.Basic)
	sortByLabel(props.Selection)
	sortByLabel(props.Additional)
	return props
}

func supportsMapping(p hubspot.Property) bool {
	return !p.ReadOnlyValue &&
		!slices.Contains(ignoredNames, p.Name) &&
		slices.Contains(supportedTypes, p.Type)
}

func sortByLabel(props []Property) {
	slices.SortStableFunc(props, func(a, b Property) int {
		return strings.Compare(a.Label, b.Label)
	})
}
