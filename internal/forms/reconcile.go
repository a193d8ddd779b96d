package forms

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/pysugar/hubspot-bridge/internal/errs"
	"github.com/pysugar/hubspot-bridge/internal/feeds"
	"github.com/pysugar/hubspot-bridge/internal/hubspot"
	"github.com/pysugar/hubspot-bridge/internal/logging"
	"github.com/pysugar/hubspot-bridge/internal/metrics"
	"github.com/pysugar/hubspot-bridge/internal/schema"
)

// API is the subset of the remote client the reconciler uses.
type API interface {
	ListForms(ctx context.Context) ([]hubspot.Form, error)
	GetForm(ctx context.Context, guid string) (*hubspot.Form, error)
	CreateForm(ctx context.Context, form *hubspot.Form) (*hubspot.Form, error)
	UpdateForm(ctx context.Context, guid string, form *hubspot.Form) (*hubspot.Form, error)
	DeleteForm(ctx context.Context, guid string) error
}

// RemoteUpdater persists the outcome of a reconciliation.
type RemoteUpdater interface {
	UpdateRemote(ctx context.Context, id uint, name, guid, accountID string, resetOwner bool) error
}

// Result identifies the remote form a feed is mirrored to. Name is the
// declared name, without NameSuffix.
type Result struct {
	GUID      string
	Name      string
	AccountID string
	Created   bool
}

// SweepResult summarizes ReconcileAllMissing.
type SweepResult struct {
	Checked int
	Created int
	Failed  map[uint]error
}

// Reconcile makes the remote form of feed match its configuration. A feed
// without a guid, or whose form was deleted remotely, gets a new form.
// Local state is never touched; the caller persists the Result.
func (r *Reconciler) Reconcile(ctx context.Context, api API, props schema.Properties, feed *feeds.Feed) (Result, error) {
	const op = "forms.Reconcile"
	log := logging.From(ctx)

	existing, err := api.ListForms(ctx)
	if err != nil {
		log.Error().Err(err).Uint("feed_id", feed.ID).Msg("❌ Failed to list remote forms")
		return Result{}, errs.Wrap(errs.ReconcileFailed, op, err)
	}
	shape := r.BuildShape(feed, props)
	if err := checkUnique(shape.Name, feed.RemoteFormGUID, existing); err != nil {
		return Result{}, err
	}

	if feed.RemoteFormGUID == "" {
		return r.create(ctx, api, shape, feed)
	}

	if _, err := api.GetForm(ctx, feed.RemoteFormGUID); err != nil {
		if errors.Is(err, errs.NotFound) {
			log.Warn().Str("guid", feed.RemoteFormGUID).Uint("feed_id", feed.ID).Msg("⚠️ Remote form is gone, creating a new one")
			return r.create(ctx, api, shape, feed)
		}
		log.Error().Err(err).Str("guid", feed.RemoteFormGUID).Int("status", errs.StatusOf(err)).Msg("❌ Failed to fetch remote form")
		metrics.Reconcile("get", err)
		return Result{}, errs.Wrap(errs.ReconcileFailed, op, err)
	}

	updated, err := api.UpdateForm(ctx, feed.RemoteFormGUID, shape)
	metrics.Reconcile("update", err)
	if err != nil {
		log.Error().Err(err).Str("guid", feed.RemoteFormGUID).Int("status", errs.StatusOf(err)).
			Str("message", errs.MessageOf(err)).Msg("❌ Failed to update remote form")
		return Result{}, errs.Wrap(errs.ReconcileFailed, op, err)
	}
	log.Info().Str("guid", feed.RemoteFormGUID).Uint("feed_id", feed.ID).Msg("✅ Remote form updated")
	return resultOf(updated, feed.RemoteFormGUID, false), nil
}

// create posts shape, retrying once under a token-suffixed name.
func (r *Reconciler) create(ctx context.Context, api API, shape *hubspot.Form, feed *feeds.Feed) (Result, error) {
	const op = "forms.create"
	log := logging.From(ctx)

	created, err := api.CreateForm(ctx, shape)
	metrics.Reconcile("create", err)
	if err != nil {
		log.Warn().Err(err).Uint("feed_id", feed.ID).Int("status", errs.StatusOf(err)).Msg("⚠️ Form create failed, retrying with a unique name")
		retry := *shape
		retry.Name = DisplayName(feed.RemoteFormName + "." + r.token())
		created, err = api.CreateForm(ctx, &retry)
		metrics.Reconcile("create", err)
		if err != nil {
			log.Error().Err(err).Uint("feed_id", feed.ID).Int("status", errs.StatusOf(err)).
				Str("message", errs.MessageOf(err)).Msg("❌ Failed to create remote form")
			return Result{}, errs.Wrap(errs.ReconcileFailed, op, err)
		}
	}
	log.Info().Str("guid", created.GUID).Uint("feed_id", feed.ID).Msg("✅ Remote form created")
	return resultOf(created, "", true), nil
}

// ReconcileAllMissing recreates the remote form of every feed whose guid is
// not among the remote forms, and persists the new guid with the owner rule
// reset. Feeds whose form exists are left untouched. A failure to list the
// remote forms aborts the sweep; per-feed failures are collected.
func (r *Reconciler) ReconcileAllMissing(ctx context.Context, api API, props schema.Properties, all []*feeds.Feed, saver RemoteUpdater) (SweepResult, error) {
	const op = "forms.ReconcileAllMissing"
	log := logging.From(ctx)
	res := SweepResult{Failed: map[uint]error{}}

	existing, err := api.ListForms(ctx)
	if err != nil {
		log.Error().Err(err).Msg("❌ Failed to list remote forms, sweep aborted")
		return res, errs.Wrap(errs.ReconcileFailed, op, err)
	}
	present := make(map[string]bool, len(existing))
	for _, f := range existing {
		present[f.GUID] = true
	}

	for _, feed := range all {
		res.Checked++
		if feed.RemoteFormGUID != "" && present[feed.RemoteFormGUID] {
			continue
		}
		shape := r.BuildShape(feed, props)
		if err := checkUnique(shape.Name, feed.RemoteFormGUID, existing); err != nil {
			res.Failed[feed.ID] = err
			continue
		}
		out, err := r.create(ctx, api, shape, feed)
		if err != nil {
			res.Failed[feed.ID] = err
			continue
		}
		if err := saver.UpdateRemote(ctx, feed.ID, out.Name, out.GUID, out.AccountID, true); err != nil {
			log.Error().Err(err).Uint("feed_id", feed.ID).Str("guid", out.GUID).Msg("❌ Failed to persist recreated form")
			res.Failed[feed.ID] = err
			continue
		}
		res.Created++
	}
	log.Info().Int("checked", res.Checked).Int("created", res.Created).Int("failed", len(res.Failed)).Msg("🔄 Form sweep finished")
	return res, nil
}

// Delete removes the remote form of feed. Failures are logged and returned
// for information only.
func (r *Reconciler) Delete(ctx context.Context, api API, feed *feeds.Feed) error {
	if feed.RemoteFormGUID == "" {
		return nil
	}
	err := api.DeleteForm(ctx, feed.RemoteFormGUID)
	metrics.Reconcile("delete", err)
	if err != nil {
		logging.From(ctx).Warn().Err(err).Str("guid", feed.RemoteFormGUID).Int("status", errs.StatusOf(err)).Msg("⚠️ Failed to delete remote form")
		return err
	}
	logging.From(ctx).Info().Str("guid", feed.RemoteFormGUID).Msg("🗑️ Remote form deleted")
	return nil
}

func checkUnique(name, guid string, existing []hubspot.Form) error {
	for _, f := range existing {
		if f.Name == name && f.GUID != guid {
			e := errs.E(errs.Validation, "forms.checkUnique", fmt.Sprintf("A form named %q already exists. Choose a different name.", DeclaredName(name)))
			e.Details = []errs.Detail{{Field: "remote_form_name", Message: "Form name must be unique.", Code: "duplicate"}}
			return e
		}
	}
	return nil
}

func resultOf(f *hubspot.Form, fallbackGUID string, created bool) Result {
	res := Result{GUID: f.GUID, Name: DeclaredName(f.Name), Created: created}
	if res.GUID == "" {
		res.GUID = fallbackGUID
	}
	if f.PortalID != 0 {
		res.AccountID = strconv.FormatInt(f.PortalID, 10)
	}
	return res
}
