package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pysugar/hubspot-bridge/internal/errs"
	"github.com/pysugar/hubspot-bridge/internal/feeds"
	"github.com/pysugar/hubspot-bridge/internal/forms"
	"github.com/pysugar/hubspot-bridge/internal/logging"
)

// ListFeeds returns all feeds, or those of one form when formID > 0.
func (s *Service) ListFeeds(ctx context.Context, formID int) ([]*feeds.Feed, error) {
	if formID > 0 {
		return s.feeds.ListByForm(ctx, formID)
	}
	return s.feeds.List(ctx)
}

// GetFeed loads one feed.
func (s *Service) GetFeed(ctx context.Context, id uint) (*feeds.Feed, error) {
	return s.feeds.Get(ctx, id)
}

// SaveFeed reconciles the remote form of f and then stores f with the
// resulting guid. When reconciliation fails nothing is stored. Saves of the
// same existing feed are serialized by a lease; a concurrent save fails fast.
func (s *Service) SaveFeed(ctx context.Context, f *feeds.Feed) (*feeds.Feed, error) {
	const op = "bridge.SaveFeed"
	ctx = logging.StartOperation(ctx, "save_feed")
	log := logging.From(ctx)

	if err := validateFeed(f); err != nil {
		return nil, err
	}

	if f.ID != 0 {
		stored, err := s.feeds.Get(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		f.RemoteFormGUID = stored.RemoteFormGUID
		f.RemoteAccountID = stored.RemoteAccountID

		lock := fmt.Sprintf("%s_feed_%d", s.cfg.Installation, f.ID)
		owner := uuid.NewString()
		ok, err := s.store.TryAcquire(ctx, lock, owner, s.cfg.RefreshLockTTL)
		if err != nil {
			return nil, errs.Wrap(errs.TemporarilyUnavailable, op, err)
		}
		if !ok {
			log.Warn().Uint("feed_id", f.ID).Msg("⏳ Feed is being saved by another request")
			return nil, errs.E(errs.TemporarilyUnavailable, op, "This feed is being saved by another request. Try again shortly.")
		}
		defer func() {
			if err := s.store.Release(context.WithoutCancel(ctx), lock, owner); err != nil {
				log.Error().Err(err).Str("lock", lock).Msg("failed to release feed lock")
			}
		}()
	}

	o := s.begin(true)
	client, err := o.client(ctx)
	if err != nil {
		return nil, err
	}
	props, err := o.properties(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.forms.Reconcile(ctx, client, props, f)
	if err != nil {
		return nil, err
	}
	f.RemoteFormGUID = res.GUID
	f.RemoteAccountID = res.AccountID
	if res.Name != "" {
		f.RemoteFormName = res.Name
	}

	if f.ID == 0 {
		err = s.feeds.Create(ctx, f)
	} else {
		err = s.feeds.Update(ctx, f)
	}
	if err != nil {
		return nil, err
	}
	log.Info().Uint("feed_id", f.ID).Str("guid", f.RemoteFormGUID).Msg("💾 Feed saved")
	return f, nil
}

// DeleteFeed removes a feed. Its remote form is deleted on a best-effort
// basis; the local delete happens regardless.
func (s *Service) DeleteFeed(ctx context.Context, id uint) error {
	ctx = logging.StartOperation(ctx, "delete_feed")
	f, err := s.feeds.Get(ctx, id)
	if err != nil {
		return err
	}
	if f.RemoteFormGUID != "" {
		if client, err := s.begin(true).client(ctx); err != nil {
			logging.From(ctx).Warn().Err(err).Uint("feed_id", id).Msg("⚠️ Remote form left in place, no usable token")
		} else {
			_ = s.forms.Delete(ctx, client, f)
		}
	}
	return s.feeds.Delete(ctx, id)
}

// ReconcileAllMissing recreates the remote forms that no longer exist.
func (s *Service) ReconcileAllMissing(ctx context.Context) (forms.SweepResult, error) {
	ctx = logging.StartOperation(ctx, "sync")
	return s.sweep(ctx, s.begin(true))
}

func (s *Service) sweep(ctx context.Context, o *operation) (forms.SweepResult, error) {
	client, err := o.client(ctx)
	if err != nil {
		return forms.SweepResult{}, err
	}
	props, err := o.properties(ctx)
	if err != nil {
		return forms.SweepResult{}, err
	}
	all, err := s.feeds.List(ctx)
	if err != nil {
		return forms.SweepResult{}, err
	}
	return s.forms.ReconcileAllMissing(ctx, client, props, all, s.feeds)
}

func validateFeed(f *feeds.Feed) error {
	var details []errs.Detail
	if strings.TrimSpace(f.Name) == "" {
		details = append(details, errs.Detail{Field: "name", Message: "This field is required.", Code: "required"})
	}
	if strings.TrimSpace(f.RemoteFormName) == "" {
		details = append(details, errs.Detail{Field: "remote_form_name", Message: "This field is required.", Code: "required"})
	}
	if f.FormID <= 0 {
		details = append(details, errs.Detail{Field: "form_id", Message: "A form must be selected.", Code: "required"})
	}
	hasEmail := false
	for _, m := range f.Mappings {
		if m.Property == "email" && m.Source != "" {
			hasEmail = true
		}
	}
	if !hasEmail {
		details = append(details, errs.Detail{Field: "mappings.email", Message: "Email must be mapped.", Code: "required"})
	}
	switch f.Owner.Mode {
	case "", feeds.OwnerNone, feeds.OwnerConditional:
	case feeds.OwnerSelect:
		if f.Owner.OwnerID == "" {
			details = append(details, errs.Detail{Field: "owner.owner_id", Message: "An owner must be selected.", Code: "required"})
		}
	default:
		details = append(details, errs.Detail{Field: "owner.mode", Message: "Unknown owner mode.", Code: "invalid"})
	}
	if len(details) == 0 {
		return nil
	}
	e := errs.E(errs.Validation, "bridge.validateFeed", "The feed settings are invalid.")
	e.Details = details
	return e
}
