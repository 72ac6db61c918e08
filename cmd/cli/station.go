package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func stationCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "station",
		Short: "Manage monitored stations",
	}

	var territory string
	add := &cobra.Command{
		Use:   "add <name> <stream_url>",
		Short: "Register a broadcast stream",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			defer a.close()

			id, err := svc.AddStation(cmd.Context(), args[0], args[1], territory)
			if err != nil {
				return fmt.Errorf("adding station: %w", err)
			}
			fmt.Printf("✅ Added station %s (ID: %s)\n", args[0], id)
			return nil
		},
	}
	add.Flags().StringVar(&territory, "territory", "", "ISO 3166-1 alpha-2 territory used for PRO routing")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered stations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			defer a.close()

			stations, err := svc.ListStations(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing stations: %w", err)
			}
			if len(stations) == 0 {
				fmt.Println("📭 No stations registered")
				return nil
			}
			for i, st := range stations {
				fmt.Printf("%d. %s [%s] (ID: %s)\n   %s\n", i+1, st.Name, orDash(st.Territory), st.ID, st.StreamURL)
			}
			return nil
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}
