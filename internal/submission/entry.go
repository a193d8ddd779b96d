// Package submission turns a form entry into a remote form submission:
// field values are prepared per remote field type, the contact owner is
// resolved from the feed's rules, and the visitor tracking cookie is carried
// over from the request or from entry meta.
package submission

import (
	"encoding/json"
	"strings"
)

// Field types with special value handling.
const (
	TypeAddress     = "address"
	TypeCheckbox    = "checkbox"
	TypeMultiSelect = "multiselect"
	TypeRadio       = "radio"
	TypeSelect      = "select"
	TypeConsent     = "consent"
)

// Field describes one field of the submitting form. Multi-input fields list
// their input ids, such as "3.1" and "3.2".
type Field struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Label       string   `json:"label,omitempty"`
	EnablePrice bool     `json:"enable_price,omitempty"`
	Inputs      []string `json:"inputs,omitempty"`
}

// Form is the submitting form.
type Form struct {
	ID        int     `json:"id"`
	Title     string  `json:"title"`
	PreventIP bool    `json:"prevent_ip,omitempty"`
	Fields    []Field `json:"fields"`
}

// Entry is one submission of a Form. Values are keyed by field or input id;
// Meta holds entry properties such as created_by or payment_status that
// rules may test.
type Entry struct {
	ID        int               `json:"id"`
	FormID    int               `json:"form_id"`
	SourceURL string            `json:"source_url"`
	IP        string            `json:"ip"`
	Values    map[string]string `json:"values"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// field returns the field an id or input id belongs to.
func (f *Form) field(id string) (Field, bool) {
	base, _, _ := strings.Cut(id, ".")
	for _, fld := range f.Fields {
		if fld.ID == base {
			return fld, true
		}
	}
	return Field{}, false
}

// fieldValue is the plain text value of a field or input. A whole
// multi-input field joins its non-blank inputs. Street address line 1 gets
// line 2 appended.
func fieldValue(form *Form, entry *Entry, id string) string {
	fld, ok := form.field(id)
	if !ok {
		return entry.Values[id]
	}
	if id == fld.ID && len(fld.Inputs) > 0 {
		sep := " "
		if fld.Type == TypeCheckbox {
			sep = ", "
		}
		return strings.Join(inputValues(fld, entry), sep)
	}
	value := entry.Values[id]
	if fld.Type == TypeAddress && id == fld.ID+".1" {
		value = strings.TrimSpace(value + " " + entry.Values[fld.ID+".2"])
	}
	return value
}

func inputValues(fld Field, entry *Entry) []string {
	var out []string
	for _, in := range fld.Inputs {
		if v := entry.Values[in]; strings.TrimSpace(v) != "" {
			out = append(out, stripPrice(fld, v))
		}
	}
	return out
}

// stripPrice drops the "|price" suffix of priced choices.
func stripPrice(fld Field, v string) string {
	if !fld.EnablePrice {
		return v
	}
	item, _, _ := strings.Cut(v, "|")
	return item
}

// toList splits a stored multi-select value. Values are stored as a JSON
// array, or comma separated by older entries.
func toList(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if strings.HasPrefix(v, "[") {
		var items []string
		if err := json.Unmarshal([]byte(v), &items); err == nil {
			return items
		}
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
