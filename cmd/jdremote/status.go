package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/italolelis/jdownloader_remote/internal/session"
	"github.com/italolelis/jdownloader_remote/internal/upstream"
)

func newStatusCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Connect once and print the devices and the download queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cfg, flushLogs, err := bootstrap(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer flushLogs()

			client, err := buildUpstreamClient(cfg)
			if err != nil {
				return fmt.Errorf("failed to build upstream client: %w", err)
			}

			manager := session.NewManager(client, credentials(cfg), session.Options{
				PreferredDevice: cfg.PreferredDevice,
			})

			return printStatus(ctx, cmd.OutOrStdout(), manager, client)
		},
	}
}

func printStatus(ctx context.Context, out io.Writer, manager *session.Manager, client upstream.Client) error {
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
		defer cancel()

		manager.Disconnect(ctx)
	}()

	var links []upstream.Link

	err := manager.WithSession(ctx, func(ctx context.Context, deviceID string) error {
		var err error
		links, err = client.QueryLinks(ctx, deviceID)

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to query downloads: %w", err)
	}

	snapshot := manager.Snapshot()

	fmt.Fprintln(out, "Devices:")

	for _, d := range snapshot.Devices {
		marker := " "
		if d.ID == snapshot.TargetDeviceID {
			marker = "*"
		}

		fmt.Fprintf(out, " %s %s (%s)\n", marker, d.Name, d.ID)
	}

	target, _ := snapshot.Target()
	fmt.Fprintf(out, "\nTarget: %s\n\n", target.Name)

	writeDownloads(out, links)

	return nil
}

// writeDownloads prints a summary line and the links, newest first.
func writeDownloads(out io.Writer, links []upstream.Link) {
	links = upstream.SortByAddedDate(links)
	loaded, total := upstream.Totals(links)

	finished := 0

	for _, l := range links {
		if l.Finished {
			finished++
		}
	}

	fmt.Fprintf(out, "Downloads: %d (%d finished), %s of %s\n",
		len(links), finished, humanize.Bytes(loaded), humanize.Bytes(total))

	if len(links) == 0 {
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tSIZE\tADDED")

	for _, l := range links {
		status := l.Status
		if l.Finished {
			status = "finished"
		}

		added := "-"
		if l.AddedDate > 0 {
			added = humanize.Time(time.UnixMilli(l.AddedDate))
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", l.Name, status, humanize.Bytes(l.Size()), added)
	}

	_ = w.Flush()
}
