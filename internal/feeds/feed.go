// Package feeds stores feed configurations: which form fields map to which
// contact properties, and the remote form each feed is mirrored to.
package feeds

import "time"

// Owner assignment modes.
const (
	OwnerNone        = "none"
	OwnerSelect      = "select"
	OwnerConditional = "conditional"
)

// Mapping binds a contact property to a source. For basic properties the
// source is a form field id; for selection properties it is the literal
// value to send.
type Mapping struct {
	Property string `json:"property"`
	Source   string `json:"source"`
	// CustomProperty overrides Property for additional mappings when set.
	CustomProperty string `json:"custom_property,omitempty"`
}

// EffectiveProperty is CustomProperty when set, else Property.
func (m Mapping) EffectiveProperty() string {
	if m.CustomProperty != "" {
		return m.CustomProperty
	}
	return m.Property
}

// Rule compares a source value against Value.
type Rule struct {
	Source   string `json:"source"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// OwnerRule decides which owner a contact gets.
type OwnerRule struct {
	Mode    string       `json:"mode"`
	OwnerID string       `json:"owner_id,omitempty"`
	Rules   []OwnerMatch `json:"rules,omitempty"`
}

// OwnerMatch assigns Owner when Rule matches.
type OwnerMatch struct {
	Rule
	Owner string `json:"owner"`
}

// Condition gates processing of a feed. Logic is "all" or "any".
type Condition struct {
	Enabled bool   `json:"enabled"`
	Logic   string `json:"logic,omitempty"`
	Rules   []Rule `json:"rules,omitempty"`
}

// Feed is one form-to-CRM mapping.
type Feed struct {
	ID       uint   `json:"id"`
	FormID   int    `json:"form_id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`

	// RemoteFormName is the declared remote form name without the system suffix.
	RemoteFormName  string `json:"remote_form_name"`
	RemoteFormGUID  string `json:"remote_form_guid,omitempty"`
	RemoteAccountID string `json:"remote_account_id,omitempty"`

	Mappings   []Mapping `json:"mappings"`
	Additional []Mapping `json:"additional,omitempty"`
	Owner      OwnerRule `json:"owner"`
	Condition  Condition `json:"condition"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
