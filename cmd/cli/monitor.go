package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/himanishpuri/StationDNA/pkg/models"
	"github.com/spf13/cobra"
)

func monitorCommand(a *app) *cobra.Command {
	var every time.Duration

	cmd := &cobra.Command{
		Use:   "monitor <station_id>",
		Short: "Monitor a station until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sessionID, err := svc.StartMonitoring(ctx, args[0], nil)
			if err != nil {
				return fmt.Errorf("starting monitoring: %w", err)
			}
			fmt.Printf("📡 Monitoring station %s (session %s). Press Ctrl+C to stop.\n", args[0], sessionID)

			ticker := time.NewTicker(every)
			defer ticker.Stop()

		loop:
			for {
				select {
				case <-ctx.Done():
					break loop
				case <-ticker.C:
					m, err := svc.GetSessionMetrics(sessionID)
					if err != nil {
						return err
					}
					printMetrics(m)
					if m.Status.Terminal() {
						return fmt.Errorf("session ended: %s", orDash(m.LastError))
					}
				}
			}

			fmt.Println("\n🛑 Stopping session...")
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := svc.StopMonitoring(stopCtx, sessionID); err != nil {
				return fmt.Errorf("stopping session: %w", err)
			}
			if m, err := svc.GetSessionMetrics(sessionID); err == nil {
				printMetrics(m)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&every, "every", 30*time.Second, "How often to print session metrics")
	return cmd
}

func printMetrics(m models.SessionMetrics) {
	last := "never"
	if m.LastCaptureAt != nil {
		last = humanize.Time(*m.LastCaptureAt)
	}
	fmt.Printf("[%s] %s | captures %d (%.1f%% ok) | matches %d (%.1f%%) | last capture %s\n",
		m.Status, humanize.Time(m.StartedAt), m.TotalCaptures, m.SuccessRate(), m.MatchesFound, m.MatchRate(), last)
	if m.LastError != "" {
		fmt.Printf("   last error: %s\n", m.LastError)
	}
}

func detectionsCommand(a *app) *cobra.Command {
	var stationID string
	var limit int

	cmd := &cobra.Command{
		Use:   "detections",
		Short: "Show recent detection records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			defer a.close()

			recs, err := svc.ListDetections(cmd.Context(), stationID, limit)
			if err != nil {
				return fmt.Errorf("listing detections: %w", err)
			}
			if len(recs) == 0 {
				fmt.Println("📭 No detections recorded")
				return nil
			}
			for _, r := range recs {
				what := "no match"
				if r.DetectionSource != models.SourceNone {
					what = fmt.Sprintf("\"%s\" by %s", r.DetectedTitle, r.DetectedArtist)
				}
				fmt.Printf("%s  %-8s %5.1f%%  %s  (station %s)\n",
					humanize.Time(r.AudioTimestamp), r.DetectionSource, r.ConfidenceScore*100, what, r.StationID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stationID, "station", "", "Only show detections for this station ID")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of records")
	return cmd
}
