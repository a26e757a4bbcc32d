package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haelod/conductr/internal/config"
	"github.com/haelod/conductr/pkg/client"
)

// remoteClient builds a control API client pointed at the listen address
// of the daemon that the same config file describes.
func remoteClient(gf *GlobalFlags) (*client.Client, error) {
	cfg, err := config.Load(gf.ConfigPath)
	if err != nil {
		return nil, err
	}
	return client.New(client.Config{BaseURL: "http://" + cfg.Server.Listen}), nil
}

// runVerb dispatches one lifecycle verb: against a single service when a
// name is given, against every service otherwise.
func runVerb(gf *GlobalFlags, args []string,
	one func(ctx context.Context, c *client.Client, name string) error,
	all func(ctx context.Context, c *client.Client) error,
) error {
	c, err := remoteClient(gf)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if !c.IsReachable(ctx) {
		return fmt.Errorf("no running conductr instance reachable (is `conductr up` running?)")
	}
	if len(args) > 0 {
		return one(ctx, c, args[0])
	}
	return all(ctx, c)
}

func newStartCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start [service]",
		Short: "Start one service, or all services in tier order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runVerb(gf, args,
				func(ctx context.Context, c *client.Client, name string) error {
					return c.StartService(ctx, name)
				},
				func(ctx context.Context, c *client.Client) error {
					return c.StartAll(ctx)
				})
		},
	}
}

func newStopCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop [service]",
		Short: "Stop one service, or all services in reverse tier order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runVerb(gf, args,
				func(ctx context.Context, c *client.Client, name string) error {
					return c.StopService(ctx, name)
				},
				func(ctx context.Context, c *client.Client) error {
					return c.StopAll(ctx)
				})
		},
	}
}

func newRestartCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restart [service]",
		Short: "Restart one service (clears its crash budget), or all services",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runVerb(gf, args,
				func(ctx context.Context, c *client.Client, name string) error {
					return c.RestartService(ctx, name)
				},
				func(ctx context.Context, c *client.Client) error {
					for _, verb := range []func(context.Context) error{c.StopAll, c.StartAll} {
						if err := verb(ctx); err != nil {
							return err
						}
					}
					return nil
				})
		},
	}
}

func newStatusCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status [service]",
		Short: "Show service status from the running instance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remoteClient(gf)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if !c.IsReachable(ctx) {
				return fmt.Errorf("no running conductr instance reachable (is `conductr up` running?)")
			}
			var sts []client.ServiceStatus
			if len(args) > 0 {
				st, err := c.ServiceStatus(ctx, args[0])
				if err != nil {
					return err
				}
				sts = []client.ServiceStatus{st}
			} else {
				if sts, err = c.Status(ctx); err != nil {
					return err
				}
			}
			printStatusTable(cmd.OutOrStdout(), sts)
			return nil
		},
	}
}

func printStatusTable(w io.Writer, sts []client.ServiceStatus) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tTIER\tSTATE\tPID\tUPTIME\tRESTARTS")
	now := time.Now()
	for _, st := range sts {
		pid := "-"
		if st.Running && st.PID > 0 {
			pid = fmt.Sprintf("%d", st.PID)
		}
		uptime := "-"
		if st.Running && !st.StartedAt.IsZero() {
			uptime = now.Sub(st.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%d\n",
			st.Name, st.Tier, st.State, pid, uptime, st.RestartCount)
	}
	_ = tw.Flush()
}
