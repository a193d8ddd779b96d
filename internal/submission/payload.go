package submission

import (
	"strings"

	"github.com/pysugar/hubspot-bridge/internal/feeds"
	"github.com/pysugar/hubspot-bridge/internal/hubspot"
	"github.com/pysugar/hubspot-bridge/internal/schema"
)

// Build assembles the submission of entry for feed. It returns false when
// the contact schema is empty, in which case nothing must be sent.
func Build(feed *feeds.Feed, form *Form, entry *Entry, props schema.Properties, hutk string) (*hubspot.Submission, bool) {
	if props.Empty() {
		return nil, false
	}
	sub := &hubspot.Submission{Fields: []hubspot.SubmissionField{}}

	for _, m := range feed.Mappings {
		if m.Source == "" || m.Property == "" {
			continue
		}
		value := strings.TrimSpace(m.Source)
		if !props.IsSelection(m.Property) {
			value = PlainText{}.Prepare(form, entry, m.Source)
		}
		sub.Fields = append(sub.Fields, hubspot.SubmissionField{Name: m.Property, Value: value})
	}

	if owner := Owner(feed.Owner, form, entry); owner != "" {
		sub.Fields = append(sub.Fields, hubspot.SubmissionField{Name: schema.OwnerProperty, Value: owner})
	}

	for _, m := range feed.Additional {
		if m.Source == "" {
			continue
		}
		prop, ok := props.Find(m.EffectiveProperty())
		if !ok {
			continue
		}
		sub.Fields = append(sub.Fields, hubspot.SubmissionField{
			Name:  prop.Name,
			Value: PreparerFor(prop.FieldType).Prepare(form, entry, m.Source),
		})
	}

	sub.Context = hubspot.SubmissionContext{
		PageURI:  entry.SourceURL,
		PageName: form.Title,
		Hutk:     hutk,
	}
	if !form.PreventIP {
		sub.Context.IPAddress = entry.IP
	}
	return sub, true
}
