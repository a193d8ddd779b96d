package bridge

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pysugar/hubspot-bridge/internal/errs"
	"github.com/pysugar/hubspot-bridge/internal/logging"
	"github.com/pysugar/hubspot-bridge/internal/schema"
)

// Choice is a label/value pair offered in settings.
type Choice struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// SchemaView is the contact schema offered in feed settings. When the
// schema cannot be fetched the buckets are empty and Warning says why.
type SchemaView struct {
	schema.Properties
	Warning string `json:"warning,omitempty"`
	Kind    string `json:"warning_kind,omitempty"`
}

// Properties returns the bucketed contact schema, from cache when fresh.
// A failed fetch is not an error: settings fall back to an empty schema.
func (s *Service) Properties(ctx context.Context) (SchemaView, error) {
	ctx = logging.StartOperation(ctx, "properties")
	props, err := s.begin(true).properties(ctx)
	if err != nil {
		logging.From(ctx).Warn().Err(err).Msg("⚠️ Contact properties unavailable, offering an empty schema")
		return SchemaView{
			Properties: schema.Build(nil, nil),
			Warning:    errs.MessageOf(err),
			Kind:       errs.KindOf(err).String(),
		}, nil
	}
	return SchemaView{Properties: props}, nil
}

// ClearSchemaCache drops the cached schema and returns the clear time.
func (s *Service) ClearSchemaCache(ctx context.Context) (time.Time, error) {
	ctx = logging.StartOperation(ctx, "cache_clear")
	return s.schema.Clear(ctx)
}

// Owners lists the CRM owners contacts can be assigned to, sorted by label.
func (s *Service) Owners(ctx context.Context) ([]Choice, error) {
	ctx = logging.StartOperation(ctx, "owners")
	client, err := s.begin(true).client(ctx)
	if err != nil {
		return nil, err
	}
	owners, err := client.ListOwners(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Choice, 0, len(owners))
	for _, o := range owners {
		if o.ID == "" {
			continue
		}
		label := strings.TrimSpace(o.FirstName + " " + o.LastName)
		if o.FirstName == "" || o.LastName == "" {
			label = o.Email
		}
		if label == "" {
			label = "No Name"
		}
		out = append(out, Choice{Label: label, Value: o.ID})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}
