package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/devbus/devbus-go/cmd/devbus/interactive"
	"github.com/devbus/devbus-go/pkg/wire"
)

func newConsoleCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive console for driving a driver over the bus",
		Example: `  devbus console
  devbus console --discover --transport ws`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, a.runConsole)
		},
	}
	addClientFlags(cmd, a)
	return cmd
}

func (a *app) runConsole(ctx context.Context) error {
	if a.cfg.Client.Description == "" {
		a.cfg.Client.Description = "devbus console"
	}
	ch, err := a.openChannel(ctx, wire.ComponentTool, 0, true)
	if err != nil {
		return err
	}
	defer ch.Unregister()

	console, err := interactive.New(ch, a.cfg.Client.RequestTimeout)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	console.Run(ctx, cancel)
	return nil
}
