package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/bazarr-autotranslate/internal/service"
)

func newHealthcheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Exit non-zero when HEARTBEAT_FILE is missing or stale",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			hb := service.NewHeartbeat(cfg.Heartbeat.File, cfg.Heartbeat.MaxAge)
			if !hb.Enabled() {
				return fmt.Errorf("HEARTBEAT_FILE is not set")
			}
			if err := hb.Check(time.Now()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
