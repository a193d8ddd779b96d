package submission

import (
	"context"
	"errors"
	"fmt"

	"github.com/pysugar/hubspot-bridge/internal/db/models"
	"github.com/pysugar/hubspot-bridge/internal/errs"
	"github.com/pysugar/hubspot-bridge/internal/feeds"
	"github.com/pysugar/hubspot-bridge/internal/hubspot"
	"github.com/pysugar/hubspot-bridge/internal/logging"
	"github.com/pysugar/hubspot-bridge/internal/metrics"
	"github.com/pysugar/hubspot-bridge/internal/schema"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// HutkMetaKey is the entry meta key the tracking cookie is deferred under.
const HutkMetaKey = "hubspotutk_cookie"

// Outcome of processing one feed for one entry.
type Outcome string

const (
	Sent            Outcome = "sent"
	SkippedInactive Outcome = "inactive"
	SkippedByRule   Outcome = "condition_not_met"
)

// Submitter posts a submission to a remote form.
type Submitter interface {
	SubmitForm(ctx context.Context, portalID, guid string, sub hubspot.Submission) (*hubspot.SubmitResult, error)
}

// Dispatcher sends entries to the remote forms of their feeds.
type Dispatcher struct {
	db *gorm.DB
}

// NewDispatcher creates a Dispatcher keeping entry meta in db.
func NewDispatcher(db *gorm.DB) *Dispatcher {
	return &Dispatcher{db: db}
}

// Defer keeps the tracking cookie of the submitting request so the entry
// can be processed later, outside that request.
func (d *Dispatcher) Defer(ctx context.Context, entry *Entry, cookieHutk string) error {
	if cookieHutk == "" || entry.ID <= 0 || entry.FormID <= 0 {
		return nil
	}
	row := models.EntryMeta{EntryID: entry.ID, FormID: entry.FormID, Key: HutkMetaKey, Value: cookieHutk}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
	if err != nil {
		return errs.Wrap(errs.Unknown, "submission.Defer", err)
	}
	logging.From(ctx).Debug().Int("entry_id", entry.ID).Msg("💾 Tracking cookie deferred")
	return nil
}

// Hutk returns the tracking cookie of the request, else the one deferred
// for the entry.
func (d *Dispatcher) Hutk(ctx context.Context, entryID int, cookieHutk string) (string, error) {
	if cookieHutk != "" || entryID <= 0 {
		return cookieHutk, nil
	}
	var row models.EntryMeta
	err := d.db.WithContext(ctx).Where(&models.EntryMeta{EntryID: entryID, Key: HutkMetaKey}).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errs.Wrap(errs.Unknown, "submission.Hutk", err)
	}
	return row.Value, nil
}

// Process sends entry through feed. Inactive feeds and entries failing the
// feed condition are skipped without error.
func (d *Dispatcher) Process(ctx context.Context, api Submitter, feed *feeds.Feed, form *Form, entry *Entry, props schema.Properties, cookieHutk string) (Outcome, error) {
	const op = "submission.Process"
	log := logging.From(ctx).With().Uint("feed_id", feed.ID).Int("entry_id", entry.ID).Logger()

	if !feed.IsActive {
		metrics.Submission(string(SkippedInactive))
		return SkippedInactive, nil
	}
	if !ConditionMet(feed.Condition, form, entry) {
		log.Debug().Msg("⏭️ Feed condition not met")
		metrics.Submission(string(SkippedByRule))
		return SkippedByRule, nil
	}
	if feed.RemoteFormGUID == "" {
		metrics.Submission("invalid")
		return "", errs.E(errs.Validation, op, "Feed was not processed because it is not linked to a HubSpot form.")
	}

	hutk, err := d.Hutk(ctx, entry.ID, cookieHutk)
	if err != nil {
		return "", err
	}
	sub, ok := Build(feed, form, entry, props, hutk)
	if !ok {
		log.Warn().Msg("⚠️ No contact properties, submission aborted")
		metrics.Submission("empty")
		return "", errs.E(errs.Validation, op, "Feed was not processed because the submission object was empty.")
	}

	if _, err := api.SubmitForm(ctx, feed.RemoteAccountID, feed.RemoteFormGUID, *sub); err != nil {
		log.Error().Err(err).Str("guid", feed.RemoteFormGUID).Int("status", errs.StatusOf(err)).
			Str("message", errs.MessageOf(err)).Msg("❌ Unable to create the contact")
		metrics.Submission("failed")
		e := errs.Wrap(errs.SubmissionFailed, op, err)
		e.Message = fmt.Sprintf("There was an error when creating the contact in HubSpot. %s", errs.MessageOf(err))
		return "", e
	}
	log.Info().Str("guid", feed.RemoteFormGUID).Int("fields", len(sub.Fields)).Msg("✅ Entry submitted")
	metrics.Submission(string(Sent))
	return Sent, nil
}
