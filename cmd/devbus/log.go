package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/devbus/devbus-go/cmd/devbus/commands"
)

func newLogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect protocol capture files",
		Long: `Inspect protocol capture files written with --capture.

  view     Print events in human-readable form
  stats    Summarize a capture
  export   Export events as JSONL or CSV
  filter   Write the matching events to a new capture`,
	}
	cmd.AddCommand(newLogViewCommand(), newLogStatsCommand(), newLogExportCommand(), newLogFilterCommand())
	return cmd
}

func addViewFilterFlags(cmd *cobra.Command, f *commands.ViewFilter) {
	fs := cmd.Flags()
	fs.StringVar(&f.Conn, "conn", "", "connection id or prefix")
	fs.StringVar(&f.Dir, "dir", "", "direction (in, out)")
	fs.StringVar(&f.Layer, "layer", "", "layer (transport, session, channel)")
	fs.StringVar(&f.Kind, "kind", "", "event kind (traffic, control, state, fault)")
	fs.StringVar(&f.Protocol, "protocol", "", "protocol name or number")
	fs.StringVar(&f.Code, "code", "", "message code number or name (syn, rst, keepalive, ...)")
	fs.StringVar(&f.Client, "client", "", "client id (prefix:local), as capturing client or frame end")
	fs.StringVar(&f.Session, "session", "", "session id of frames and session states")
	fs.StringVar(&f.Since, "since", "", "keep events at or after this RFC 3339 time")
	fs.StringVar(&f.Until, "until", "", "keep events before this RFC 3339 time")
}

func newLogViewCommand() *cobra.Command {
	var vf commands.ViewFilter
	cmd := &cobra.Command{
		Use:   "view [flags] <file.dlog>",
		Short: "Print a capture one event per line",
		Example: `  devbus log view driver.dlog
  devbus log view --session 5 --kind traffic driver.dlog
  devbus log view --code keepalive --dir out driver.dlog`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := vf.Build()
			if err != nil {
				return err
			}
			return commands.RunView(args[0], filter, cmd.OutOrStdout())
		},
	}
	addViewFilterFlags(cmd, &vf)
	return cmd
}

func newLogStatsCommand() *cobra.Command {
	var vf commands.ViewFilter
	cmd := &cobra.Command{
		Use:   "stats [flags] <file.dlog>",
		Short: "Summarize traffic, sessions and faults in a capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := vf.Build()
			if err != nil {
				return err
			}
			return commands.RunStats(args[0], filter, cmd.OutOrStdout())
		},
	}
	addViewFilterFlags(cmd, &vf)
	return cmd
}

func newLogExportCommand() *cobra.Command {
	var (
		vf     commands.ViewFilter
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export [flags] <file.dlog>",
		Short: "Export a capture to JSONL or CSV",
		Example: `  devbus log export driver.dlog
  devbus log export --format csv -o driver.csv driver.dlog`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := vf.Build()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return commands.RunExport(args[0], format, filter, w)
		},
	}
	cmd.Flags().StringVar(&format, "format", commands.FormatJSONL, "output format (jsonl, csv)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	addViewFilterFlags(cmd, &vf)
	return cmd
}

func newLogFilterCommand() *cobra.Command {
	var (
		vf     commands.ViewFilter
		output string
	)
	cmd := &cobra.Command{
		Use:   "filter [flags] -o <out.dlog> <file.dlog>",
		Short: "Append the selected events to another capture",
		Example: `  devbus log filter --conn 3f2a -o conn.dlog driver.dlog
  devbus log filter --since 2026-01-02T15:04:05Z -o late.dlog driver.dlog`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return errors.New("output file required (-o)")
			}
			filter, err := vf.Build()
			if err != nil {
				return err
			}
			n, err := commands.RunFilter(args[0], output, filter)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d events to %s\n", n, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output capture (required)")
	addViewFilterFlags(cmd, &vf)
	return cmd
}
