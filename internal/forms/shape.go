// Package forms mirrors feed configurations to remote forms: it builds the
// desired form shape and creates, updates, self-heals and deletes the remote
// resource identified by the feed's guid.
package forms

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pysugar/hubspot-bridge/internal/feeds"
	"github.com/pysugar/hubspot-bridge/internal/hubspot"
	"github.com/pysugar/hubspot-bridge/internal/schema"
)

// NameSuffix marks a remote form as managed by the bridge.
const NameSuffix = " ( Do not delete or edit )"

const (
	pipelineReference = "PIPELINE_STAGE"
	contactObjectType = "0-1"
	companyObjectType = "0-2"
)

// OwnerField is the hidden field owner rules write to.
var OwnerField = hubspot.Field{
	Name:      schema.OwnerProperty,
	Label:     "Contact Owner",
	Type:      "enumeration",
	FieldType: "hidden",
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithTokenFunc replaces the generator of uniqueness tokens.
func WithTokenFunc(fn func() string) Option {
	return func(r *Reconciler) { r.token = fn }
}

// Reconciler builds and syncs remote forms.
type Reconciler struct {
	pipeline map[string]bool
	token    func() string
}

// New creates a Reconciler. pipelineStages names the properties the remote
// side models as pipeline stages rather than as form fields.
func New(pipelineStages []string, opts ...Option) *Reconciler {
	r := &Reconciler{pipeline: make(map[string]bool, len(pipelineStages)), token: uniqueToken}
	for _, p := range pipelineStages {
		r.pipeline[p] = true
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BuildShape translates feed into the remote form definition. Mappings whose
// property is unknown to props, or whose source is empty, are skipped.
func (r *Reconciler) BuildShape(feed *feeds.Feed, props schema.Properties) *hubspot.Form {
	form := &hubspot.Form{Name: DisplayName(feed.RemoteFormName)}
	fields := []hubspot.Field{}

	for _, m := range feed.Mappings {
		if m.Source == "" {
			continue
		}
		prop, ok := props.Find(m.Property)
		if !ok || prop.Name == schema.OwnerProperty {
			continue
		}
		if r.pipeline[prop.Name] {
			opt := hubspot.ExternalOption{
				ReferenceType: pipelineReference,
				ObjectTypeID:  contactObjectType,
				PropertyName:  prop.Name,
				ID:            m.Source,
			}
			form.SelectedExternalOptions = append(form.SelectedExternalOptions, opt)
			opt.ObjectTypeID = companyObjectType
			form.SelectedExternalOptions = append(form.SelectedExternalOptions, opt)
			continue
		}
		field := hubspot.Field{
			Name:      prop.Name,
			Label:     prop.Label,
			Type:      prop.Type,
			FieldType: prop.FieldType,
		}
		if len(prop.Choices) > 0 {
			field.Options = prop.Choices
			field.SelectedOptions = []string{m.Source}
		}
		fields = append(fields, field)
	}

	fields = append(fields, OwnerField)

	for _, m := range feed.Additional {
		prop, ok := props.Find(m.EffectiveProperty())
		if !ok || prop.Name == schema.OwnerProperty {
			continue
		}
		label := prop.Label
		// A file field labelled like its property loses the uploaded URL remotely.
		if prop.FieldType == "file" {
			label += " - " + r.token()
		}
		fields = append(fields, hubspot.Field{
			Name:      prop.Name,
			Label:     label,
			Type:      prop.Type,
			FieldType: prop.FieldType,
		})
	}

	form.FormFieldGroups = []hubspot.FieldGroup{{Fields: fields}}
	return form
}

// DisplayName appends NameSuffix to a declared form name.
func DisplayName(declared string) string {
	return declared + NameSuffix
}

// DeclaredName removes NameSuffix from a remote form name.
func DeclaredName(remote string) string {
	return strings.ReplaceAll(remote, NameSuffix, "")
}

func uniqueToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:13]
}
