package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fieldops/fsd/app"
	"github.com/fieldops/fsd/config"
	"github.com/fieldops/fsd/core/scheduler"
)

var preferredResource string

var scheduleCmd = &cobra.Command{
	Use:   "schedule [appointment-id...]",
	Short: "Auto-schedule appointments from the command line",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSchedule,
}

func init() {
	scheduleCmd.Flags().StringVar(&preferredResource, "resource", "", "preferred resource id")
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if len(args) == 1 {
		res, err := svc.Scheduler.ScheduleAppointment(ctx, scheduler.Request{
			AppointmentID:       args[0],
			PreferredResourceID: preferredResource,
		})
		if err != nil {
			return err
		}
		return enc.Encode(res)
	}

	out, err := svc.Scheduler.ScheduleBatch(ctx, args)
	if err != nil {
		return err
	}
	return enc.Encode(out)
}
