package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"driveguard/internal/analysis"
)

func newScoreCommand() *cobra.Command {
	var m analysis.Metrics
	var jsonOut bool
	cmd := &cobra.Command{
		Use:         "score",
		Short:       "Compute driving scores from event counts",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if m.CloseEncounters < 0 || m.TrafficViolations < 0 || m.BusLaneViolations < 0 || m.LaneChanges < 0 {
				return errors.New("counts must not be negative")
			}
			ds := analysis.Score(m)
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), ds)
			}
			rows := [][]string{
				{"Overall", strconv.Itoa(ds.Overall)},
				{"Safety", strconv.Itoa(ds.Safety)},
				{"Compliance", strconv.Itoa(ds.Compliance)},
				{"Efficiency", strconv.Itoa(ds.Efficiency)},
				{"Category", ds.Category},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Score", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
			fmt.Fprintln(cmd.OutOrStdout(), ds.CategoryDescription)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&m.CloseEncounters, "close-encounters", 0, "Number of close-encounter events")
	flags.IntVar(&m.TrafficViolations, "traffic-violations", 0, "Number of traffic-signal violations")
	flags.IntVar(&m.BusLaneViolations, "bus-lane-violations", 0, "Number of bus-lane violations")
	flags.IntVar(&m.LaneChanges, "lane-changes", 0, "Number of lane changes")
	flags.BoolVar(&jsonOut, "json", false, "Print the scores as JSON")
	return cmd
}
