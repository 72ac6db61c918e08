package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func trackCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Manage the reference catalog",
	}
	cmd.AddCommand(trackAddCommand(a), trackListCommand(a), trackDeleteCommand(a))
	return cmd
}

func trackAddCommand(a *app) *cobra.Command {
	var title, artist, isrc, pro string

	cmd := &cobra.Command{
		Use:   "add <audio_file>",
		Short: "Fingerprint an audio file and add it to the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			defer a.close()

			fmt.Println("🎵 Processing audio file...")
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			id, err := svc.AddTrack(ctx, args[0], title, artist, isrc, pro)
			if err != nil {
				return fmt.Errorf("adding track: %w", err)
			}
			t, err := svc.GetTrack(ctx, id)
			if err != nil {
				return err
			}

			fmt.Println("\n✅ Successfully added track to catalog!")
			fmt.Printf("   ID:       %s\n", t.ID)
			fmt.Printf("   Title:    %s\n", t.Title)
			fmt.Printf("   Artist:   %s\n", t.Artist)
			if t.ISRC != "" {
				fmt.Printf("   ISRC:     %s\n", t.ISRC)
			}
			fmt.Printf("   Duration: %s\n", formatDuration(t.DurationMs))
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Track title (read from tags when omitted)")
	cmd.Flags().StringVar(&artist, "artist", "", "Artist name (read from tags when omitted)")
	cmd.Flags().StringVar(&isrc, "isrc", "", "International Standard Recording Code")
	cmd.Flags().StringVar(&pro, "pro", "", "Performing rights organization")
	return cmd
}

func trackListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List catalog tracks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			defer a.close()

			tracks, err := svc.ListTracks(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing tracks: %w", err)
			}
			if len(tracks) == 0 {
				fmt.Println("📭 No tracks in catalog")
				return nil
			}

			fmt.Printf("📚 Found %s track(s):\n\n", humanize.Comma(int64(len(tracks))))
			for i, t := range tracks {
				fmt.Printf("%d. \"%s\" by %s (ID: %s)\n", i+1, t.Title, t.Artist, t.ID)
				if t.ISRC != "" || t.ProAffiliation != "" {
					fmt.Printf("   ISRC: %s | PRO: %s\n", orDash(t.ISRC), orDash(t.ProAffiliation))
				}
				if t.DurationMs > 0 {
					fmt.Printf("   Duration: %s\n", formatDuration(t.DurationMs))
				}
			}
			return nil
		},
	}
}

func trackDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <track_id>",
		Short: "Remove a track and its fingerprints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			defer a.close()

			t, err := svc.GetTrack(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("track %s: %w", args[0], err)
			}
			if err := svc.DeleteTrack(cmd.Context(), t.ID); err != nil {
				return fmt.Errorf("deleting track: %w", err)
			}
			fmt.Printf("✅ Deleted \"%s\" by %s (ID: %s)\n", t.Title, t.Artist, t.ID)
			return nil
		},
	}
}

func formatDuration(ms int) string {
	secs := ms / 1000
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
