package main

import (
	"context"
	"fmt"
	"time"

	"github.com/himanishpuri/StationDNA/pkg/stationdna"
	"github.com/himanishpuri/StationDNA/pkg/utils"
	"github.com/spf13/cobra"
)

func identifyCommand(a *app) *cobra.Command {
	var territory string

	cmd := &cobra.Command{
		Use:   "identify <audio_file|stream_url>",
		Short: "Identify a recording or a live stream sample",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			var id *stationdna.Identification
			if kind, uerr := utils.ClassifyStreamURL(args[0]); uerr == nil && kind != utils.StreamFile {
				fmt.Println("📡 Sampling stream...")
				id, err = svc.IdentifyStream(ctx, args[0], territory)
			} else {
				fmt.Println("🔍 Analyzing audio file...")
				id, err = svc.IdentifyFile(ctx, args[0], territory)
			}
			if err != nil {
				return fmt.Errorf("identifying: %w", err)
			}
			printIdentification(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&territory, "territory", "", "Territory used for PRO routing of cloud matches")
	return cmd
}

func printIdentification(id *stationdna.Identification) {
	if !id.Matched {
		fmt.Printf("\n❌ No match (%s)\n", orDash(id.Reason))
		fmt.Printf("   Local: %.1f%% over %d hashes\n", id.LocalConfidence*100, id.LocalHashes)
		if id.CloudError != "" {
			fmt.Printf("   Cloud: %s\n", id.CloudError)
		}
		return
	}

	fmt.Printf("\n✅ \"%s\" by %s\n", id.Title, id.Artist)
	fmt.Printf("   Source: %s | Confidence: %.1f%% | Took: %s\n", id.Source, id.Confidence*100, id.ProcessingTime.Round(time.Millisecond))
	if id.TrackID != "" {
		fmt.Printf("   Track ID: %s\n", id.TrackID)
	}
	if id.ISRC != "" || id.ProAffiliation != "" {
		fmt.Printf("   ISRC: %s | PRO: %s\n", orDash(id.ISRC), orDash(id.ProAffiliation))
	}
}
