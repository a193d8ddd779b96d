package submission

import "strings"

// Preparer formats an entry value for one kind of remote field.
type Preparer interface {
	Prepare(form *Form, entry *Entry, fieldID string) string
}

// Boolean sends "true" unless the value is empty, "0", "false" or an
// unchecked consent.
type Boolean struct{}

// MultiValue sends the selected choices joined with ";".
type MultiValue struct{}

// SingleChoice sends the selected choice without its price.
type SingleChoice struct{}

// PlainText sends the field value as is.
type PlainText struct{}

// preparers maps remote field types to their preparation. Every other type
// is PlainText.
var preparers = map[string]Preparer{
	"booleancheckbox": Boolean{},
	"checkbox":        MultiValue{},
	"radio":           SingleChoice{},
	"select":          SingleChoice{},
}

// PreparerFor returns the Preparer of a remote field type.
func PreparerFor(remoteFieldType string) Preparer {
	if p, ok := preparers[remoteFieldType]; ok {
		return p
	}
	return PlainText{}
}

const consentNotChecked = "Not Checked"

func (Boolean) Prepare(form *Form, entry *Entry, id string) string {
	value := fieldValue(form, entry, id)
	if fld, ok := form.field(id); ok && fld.Type == TypeConsent && value == consentNotChecked {
		return "false"
	}
	if value == "" || value == "0" || strings.EqualFold(value, "false") {
		return "false"
	}
	return "true"
}

func (MultiValue) Prepare(form *Form, entry *Entry, id string) string {
	fld, ok := form.field(id)
	if !ok {
		return fieldValue(form, entry, id)
	}
	switch fld.Type {
	case TypeCheckbox:
		return strings.Join(inputValues(fld, entry), ";")
	case TypeMultiSelect:
		return strings.Join(toList(entry.Values[id]), ";")
	}
	return fieldValue(form, entry, id)
}

func (SingleChoice) Prepare(form *Form, entry *Entry, id string) string {
	fld, ok := form.field(id)
	if !ok || (fld.Type != TypeRadio && fld.Type != TypeSelect) {
		return fieldValue(form, entry, id)
	}
	value := entry.Values[id]
	if strings.TrimSpace(value) == "" {
		return value
	}
	return stripPrice(fld, value)
}

func (PlainText) Prepare(form *Form, entry *Entry, id string) string {
	return fieldValue(form, entry, id)
}
