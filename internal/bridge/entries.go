package bridge

import (
	"context"

	"github.com/pysugar/hubspot-bridge/internal/errs"
	"github.com/pysugar/hubspot-bridge/internal/logging"
	"github.com/pysugar/hubspot-bridge/internal/submission"
)

// EntryResult is the outcome of one feed for a processed entry.
type EntryResult struct {
	FeedID  uint               `json:"feed_id"`
	Outcome submission.Outcome `json:"outcome,omitempty"`
	Error   string             `json:"error,omitempty"`
	Kind    string             `json:"kind,omitempty"`
}

// DeferEntry keeps the tracking cookie of an entry whose processing is
// delayed to a later request.
func (s *Service) DeferEntry(ctx context.Context, entry *submission.Entry, cookieHutk string) error {
	ctx = logging.StartOperation(ctx, "defer_entry")
	return s.dispatcher.Defer(ctx, entry, cookieHutk)
}

// ProcessEntry sends an entry through every feed of its form. Submissions
// never refresh the token; an expired token is used as is. Fetching the
// contact schema on a cache miss does refresh. Per-feed failures are
// reported in the results; a missing connection fails the whole call.
func (s *Service) ProcessEntry(ctx context.Context, form *submission.Form, entry *submission.Entry, cookieHutk string) ([]EntryResult, error) {
	ctx = logging.StartOperation(ctx, "process_entry")
	if entry.FormID == 0 {
		entry.FormID = form.ID
	}
	list, err := s.feeds.ListByForm(ctx, entry.FormID)
	if err != nil {
		return nil, err
	}
	results := make([]EntryResult, 0, len(list))
	if len(list) == 0 {
		return results, nil
	}

	// A schema miss may refresh the token; the submit itself never does.
	props, err := s.begin(true).properties(ctx)
	if err != nil {
		logging.From(ctx).Error().Err(err).Msg("❌ Contact properties unavailable")
	}
	client, err := s.begin(false).client(ctx)
	if err != nil {
		return nil, err
	}

	for _, f := range list {
		out, err := s.dispatcher.Process(ctx, client, f, form, entry, props, cookieHutk)
		r := EntryResult{FeedID: f.ID, Outcome: out}
		if err != nil {
			r.Error = errs.MessageOf(err)
			r.Kind = errs.KindOf(err).String()
		}
		results = append(results, r)
	}
	return results, nil
}
