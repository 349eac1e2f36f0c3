package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/didicogs/pkg/didi/cogs/apod"
	"github.com/jholhewres/didicogs/pkg/didi/scheduler"
	"github.com/jholhewres/didicogs/pkg/didi/settings"
)

// newScheduleCmd creates the `didi schedule` command group.
func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect daily APOD schedules",
		Long: `Inspect the daily APOD post schedules stored in the settings backend.

Examples:
  didi schedule list
  didi schedule next 09:00`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List guilds with a daily APOD channel",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := resolveConfig(cmd)
				if err != nil {
					return err
				}
				store, err := settings.Open(cfg.Settings, newLogger(cmd, cfg))
				if err != nil {
					return err
				}
				defer store.Close()
				return listSchedules(cmd.Context(), store.Namespace(apod.Namespace), cmd.OutOrStdout(), time.Now())
			},
		},
		&cobra.Command{
			Use:   "next <HH:MM>",
			Short: "Show when a daily post at HH:MM (UTC) fires next",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				t, err := scheduler.ParseTimeOfDay(args[0])
				if err != nil {
					return err
				}
				now := time.Now().UTC()
				next := scheduler.NextOccurrence(now, t)
				fmt.Fprintf(cmd.OutOrStdout(), "%s (in %s)\n",
					next.Format(time.RFC3339), next.Sub(now).Round(time.Minute))
				return nil
			},
		},
	)
	return cmd
}

// listSchedules prints one row per guild with a configured APOD channel.
func listSchedules(ctx context.Context, ns *settings.Namespace, w io.Writer, now time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}
	channelsByGuild, err := ns.Scan(ctx, settings.ScopeGuild, apod.KeyChannel)
	if err != nil {
		return err
	}
	if len(channelsByGuild) == 0 {
		fmt.Fprintln(w, "No guild has a daily APOD channel.")
		return nil
	}

	guildIDs := make([]string, 0, len(channelsByGuild))
	for id := range channelsByGuild {
		guildIDs = append(guildIDs, id)
	}
	sort.Strings(guildIDs)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GUILD\tCHANNEL\tTIME (UTC)\tNEXT")
	for _, guildID := range guildIDs {
		var channelID string
		if err := json.Unmarshal(channelsByGuild[guildID], &channelID); err != nil || channelID == "" {
			continue
		}
		raw, err := ns.Guild(guildID).GetString(ctx, apod.KeyPostTime, apod.DefaultPostTime)
		if err != nil {
			return err
		}
		next := "invalid time"
		if t, err := scheduler.ParseTimeOfDay(raw); err == nil {
			next = scheduler.NextOccurrence(now, t).Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", guildID, channelID, raw, next)
	}
	return tw.Flush()
}
