package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/pysugar/hubspot-bridge/internal/errs"
	"github.com/pysugar/hubspot-bridge/internal/logging"
	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the HubSpot connection status",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			st, err := svc.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "State:     %s\n", st.State)
			fmt.Fprintf(out, "Connected: %t\n", st.Connected)
			if st.Message != "" {
				fmt.Fprintf(out, "Message:   %s\n", st.Message)
			}
			if st.SupportURL != "" {
				fmt.Fprintf(out, "Support:   %s\n", st.SupportURL)
			}
			if st.CacheClearedAt != nil {
				fmt.Fprintf(out, "Cache cleared at: %s\n", st.CacheClearedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Recreate the HubSpot forms of feeds whose form is missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			ctx := logging.StartOperation(cmd.Context(), "cli_sync")
			res, err := svc.ReconcileAllMissing(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Checked %d feeds, created %d forms, %d failed\n", res.Checked, res.Created, len(res.Failed))

			ids := make([]uint, 0, len(res.Failed))
			for id := range res.Failed {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			for _, id := range ids {
				fmt.Fprintf(out, "  feed %d: %s\n", id, errs.MessageOf(res.Failed[id]))
			}
			if len(ids) > 0 {
				return fmt.Errorf("%d feeds could not be reconciled", len(ids))
			}
			return nil
		},
	}
}

func newCacheCmd(a *app) *cobra.Command {
	cache := &cobra.Command{
		Use:   "cache",
		Short: "Manage the contact properties cache",
	}
	cache.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop the cached contact properties",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			at, err := svc.ClearSchemaCache(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cache cleared at %s\n", at.Format(time.RFC3339))
			return nil
		},
	})
	return cache
}

func newFeedsCmd(a *app) *cobra.Command {
	var formID int
	feeds := &cobra.Command{
		Use:   "feeds",
		Short: "Inspect feeds",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			all, err := svc.ListFeeds(cmd.Context(), formID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(all) == 0 {
				fmt.Fprintln(out, "No feeds.")
				return nil
			}
			for _, f := range all {
				active := "inactive"
				if f.IsActive {
					active = "active"
				}
				guid := f.RemoteFormGUID
				if guid == "" {
					guid = "-"
				}
				fmt.Fprintf(out, "%d\tform=%d\t%s\t%s\t%q\tguid=%s\n", f.ID, f.FormID, active, f.Name, f.RemoteFormName, guid)
			}
			return nil
		},
	}
	list.Flags().IntVar(&formID, "form", 0, "Only list the feeds of this form")
	feeds.AddCommand(list)
	return feeds
}
