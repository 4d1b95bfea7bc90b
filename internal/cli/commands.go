package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xelth-com/rentsync/internal/models"
	syncer "github.com/xelth-com/rentsync/internal/sync"
)

// withClient opens the client for the duration of fn
func withClient(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, c *client) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := openClient(ctx, opts)
	if err != nil {
		return err
	}
	defer c.close()
	return fn(ctx, c)
}

// NewAddCommand queues one record change.
func NewAddCommand(opts *RootOptions) *cobra.Command {
	var (
		action  string
		data    string
		version int64
	)

	cmd := &cobra.Command{
		Use:   "add <entity> <id>",
		Short: "Queue a change to one record",
		Long: `Apply a change to the local copy of a record and queue it for sync.

--version is the version of the local copy being edited; the queued change
carries version+1. When the server is reachable the change is pushed
right away.`,
		Example: `  syncclient add properties p1 --data '{"name":"Villa"}'
  syncclient add leases l7 --action delete --version 3`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := buildRecord(args[1], version, data)
			if err != nil {
				return err
			}
			return withClient(cmd, opts, func(ctx context.Context, c *client) error {
				c.probe(ctx)
				change, err := c.coordinator.AddPendingChange(ctx, args[0], models.Action(action), rec)
				if err != nil {
					return err
				}
				// let the triggered sync finish before the process exits
				c.coordinator.Wait()

				state := c.coordinator.Snapshot()
				result := map[string]interface{}{"change": change, "state": state}
				return output(cmd.OutOrStdout(), opts.Format, result, func(w io.Writer) {
					if change == nil {
						fmt.Fprintln(w, "sync is disabled: change applied locally only")
					} else {
						fmt.Fprintf(w, "queued %s %s/%s at version %d\n", change.Action, change.Entity, change.Data.ID, change.Data.Version)
					}
					printState(w, state)
				})
			})
		},
	}

	cmd.Flags().StringVarP(&action, "action", "a", string(models.ActionCreate), "create|update|delete")
	cmd.Flags().StringVarP(&data, "data", "d", "{}", "record fields as a JSON object")
	cmd.Flags().Int64Var(&version, "version", 0, "version of the local copy being changed")
	return cmd
}

func buildRecord(id string, version int64, data string) (models.Record, error) {
	fields := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return models.Record{}, fmt.Errorf("--data must be a JSON object: %w", err)
	}

	rec := models.Record{ID: id, Version: version}
	for k, v := range fields {
		rec.Set(k, v)
	}
	return rec, nil
}

// NewSyncCommand pushes queued changes and pulls the tenant dataset.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "sync",
		Short:        "Push queued changes, then pull the full dataset",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *client) error {
				c.probe(ctx)
				return reportRun(cmd, opts, c, c.coordinator.SyncNow(ctx, ""))
			})
		},
	}
}

// NewPullCommand refreshes the local copy without pushing.
func NewPullCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "pull",
		Short:        "Refresh the local dataset from the server",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *client) error {
				c.probe(ctx)
				return reportRun(cmd, opts, c, c.coordinator.PullFromServer(ctx, ""))
			})
		},
	}
}

// reportRun prints the state after a run. Disabled and offline are reported,
// not treated as failures.
func reportRun(cmd *cobra.Command, opts *RootOptions, c *client, runErr error) error {
	state := c.coordinator.Snapshot()
	if err := output(cmd.OutOrStdout(), opts.Format, state, func(w io.Writer) {
		switch {
		case errors.Is(runErr, syncer.ErrSyncDisabled):
			fmt.Fprintln(w, "sync is disabled")
		case errors.Is(runErr, syncer.ErrOffline):
			fmt.Fprintln(w, "server unreachable, changes stay queued")
		}
		printState(w, state)
	}); err != nil {
		return err
	}

	if errors.Is(runErr, syncer.ErrSyncDisabled) || errors.Is(runErr, syncer.ErrOffline) {
		return nil
	}
	return runErr
}

// NewStatusCommand prints the client state.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	var noProbe bool
	cmd := &cobra.Command{
		Use:          "status",
		Short:        "Show queue length, last sync time and connectivity",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *client) error {
				if !noProbe {
					c.probe(ctx)
				}
				state := c.coordinator.Snapshot()
				return output(cmd.OutOrStdout(), opts.Format, map[string]interface{}{
					"state":    state,
					"clientId": c.clientID,
					"server":   c.cfg.Sync.ServerURL,
				}, func(w io.Writer) {
					fmt.Fprintf(w, "server:          %s\n", c.cfg.Sync.ServerURL)
					fmt.Fprintf(w, "client id:       %s\n", c.clientID)
					printState(w, state)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&noProbe, "no-probe", false, "do not contact the server")
	return cmd
}

// NewEnableCommand builds "enable" or "disable".
func NewEnableCommand(opts *RootOptions, enable bool) *cobra.Command {
	use, short := "enable", "Turn sync on"
	if !enable {
		use, short = "disable", "Turn sync off; later changes apply locally only"
	}
	return &cobra.Command{
		Use:          use,
		Short:        short,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *client) error {
				if err := c.coordinator.SetSyncEnabled(ctx, enable); err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), opts.Format, map[string]bool{"syncEnabled": enable}, func(w io.Writer) {
					fmt.Fprintf(w, "sync enabled: %t\n", enable)
				})
			})
		},
	}
}

// NewDiscardCommand drops the pending queue.
func NewDiscardCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:          "discard",
		Short:        "Drop every queued change",
		Long:         "Drop every queued change without pushing it. Use when the server keeps refusing a batch.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to discard queued changes without --yes")
			}
			return withClient(cmd, opts, func(ctx context.Context, c *client) error {
				n := c.coordinator.PendingChangesCount()
				if err := c.coordinator.DiscardPending(ctx); err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), opts.Format, map[string]int{"discarded": n}, func(w io.Writer) {
					fmt.Fprintf(w, "discarded %d change(s)\n", n)
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm")
	return cmd
}

// NewListCommand prints the locally cached records of one table.
func NewListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "list <entity>",
		Short:        "List the cached records of a table",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !models.IsSyncableEntity(args[0]) {
				return fmt.Errorf("unknown entity %q", args[0])
			}
			return withClient(cmd, opts, func(ctx context.Context, c *client) error {
				recs, err := c.coordinator.Records(ctx, args[0])
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), opts.Format, recs, func(w io.Writer) {
					printRecords(w, recs)
				})
			})
		},
	}
}
