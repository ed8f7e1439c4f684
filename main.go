// entry point of the application
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)

	stop()

	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "ourtube",
		Short:        "OurTube media download backend",
		Version:      version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		// serving is the default
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}

	cmd.AddCommand(newServeCmd(), newFetchCmd())

	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the WebSocket channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func newFetchCmd() *cobra.Command {
	var format, quality string

	cmd := &cobra.Command{
		Use:   "fetch URL [--format FORMAT] [--quality QUALITY]",
		Short: "Download one URL into the public directory and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fetch(cmd.Context(), args[0], format, quality)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "mp4, any, mkv, thumbnail, mp3, m4a, opus, wav or flac")
	cmd.Flags().StringVarP(&quality, "quality", "q", "", "best, best_ios, worst or a height such as 720p")

	return cmd
}
