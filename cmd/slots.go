package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldops/fsd/app"
	"github.com/fieldops/fsd/config"
	"github.com/fieldops/fsd/core/calendar"
	"github.com/fieldops/fsd/core/slot"
	"github.com/fieldops/fsd/infra/logger"
)

var (
	slotDuration  int
	slotResources []string
	slotFrom      string
	slotDays      int
)

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "List open appointment slots",
	RunE:  runSlots,
}

func init() {
	slotsCmd.Flags().IntVar(&slotDuration, "duration", 60, "appointment duration in minutes")
	slotsCmd.Flags().StringSliceVar(&slotResources, "resources", nil, "restrict to resource ids")
	slotsCmd.Flags().StringVar(&slotFrom, "from", "", "first day to search (YYYY-MM-DD, default today)")
	slotsCmd.Flags().IntVar(&slotDays, "days", 7, "number of days to search")
	rootCmd.AddCommand(slotsCmd)
}

func runSlots(cmd *cobra.Command, args []string) error {
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

	from := time.Now()
	if slotFrom != "" {
		from, err = time.Parse("2006-01-02", slotFrom)
		if err != nil {
			return fmt.Errorf("parse --from: %w", err)
		}
	}

	merger := calendar.NewMerger(svc.Store, nil, logger.New("slots"))
	finder := slot.NewFinder(svc.Store, merger, logger.New("slots"))
	found, err := finder.FindSlots(ctx, slot.Request{
		DurationMinutes: slotDuration,
		ResourceIDs:     slotResources,
		From:            from,
		To:              from.AddDate(0, 0, slotDays-1),
		RespectHours:    true,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(found)
}
