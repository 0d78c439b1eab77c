package main

import (
	"github.com/spf13/cobra"

	"github.com/MimeLyc/bazarr-autotranslate/internal/service"
	"github.com/MimeLyc/bazarr-autotranslate/pkg/log"
)

const rootLong = `Runs one translation cycle against Bazarr: every movie and episode still missing
FIRST_LANG subtitles gets its SECOND_LANG subtitle translated once that subtitle is
older than 48 hours.

A completed cycle writes HEARTBEAT_FILE. While that heartbeat is younger than
HEARTBEAT_MAX_AGE (3h by default) further invocations skip and exit 0, so an hourly
external scheduler runs a cycle every third call. Set HEARTBEAT_FILE to an empty
value to run on every invocation. Cycles that are interrupted or cannot reach
Bazarr leave the heartbeat untouched and are retried on the next call.`

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "bazarr-autotranslate",
		Short:         "Translate Bazarr subtitles that stayed missing for too long",
		Long:          rootLong,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.svc.RunOnce(cmd.Context())
			if err != nil {
				service.NewDefaultErrorHandler().Handle(err)
			}
			if report.Skipped() {
				log.Info("Cycle skipped: %s", report.SkipReason)
			}
			return nil
		},
	}

	rootCmd.AddCommand(newDaemonCommand())
	rootCmd.AddCommand(newHealthcheckCommand())

	return rootCmd
}
