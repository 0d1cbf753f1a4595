package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"driveguard/internal/analysis"
	"driveguard/internal/model"
	"driveguard/internal/pipeline"
	"driveguard/internal/results"
	"driveguard/internal/store"
)

func newBackfillCommand(ctx *commandContext) *cobra.Command {
	var orgID, orgName string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Import the merged analysis index into the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (orgID == "") == (orgName == "") {
				return errors.New("exactly one of --org-id or --org-name is required")
			}
			cfg := ctx.configValue()
			res := results.New(cfg.Paths.OutputDir)
			merged, err := res.ReadMerged()
			if err != nil {
				return err
			}
			if len(merged) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Nothing to import from %s\n", res.MergedPath())
				return nil
			}

			st, err := store.Open(cmd.Context(), cfg.Storage, ctx.log())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			org, err := resolveOrganization(cmd, st, orgID, orgName, dryRun)
			if err != nil {
				return err
			}
			p := &pipeline.Pipeline{Store: st, Results: res, Logger: ctx.log()}

			names := make([]string, 0, len(merged))
			for name := range merged {
				names = append(names, name)
			}
			sort.Strings(names)

			rows := make([][]string, 0, len(names))
			imported := 0
			for _, name := range names {
				raw := merged[name]
				if isFailure(raw) {
					rows = append(rows, []string{name, "skipped", "-", "recorded failure"})
					continue
				}
				r, err := analysis.DecodeResult(raw)
				if err != nil {
					rows = append(rows, []string{name, "error", "-", err.Error()})
					continue
				}
				if dryRun {
					rows = append(rows, []string{name, "would import", strconv.Itoa(r.DrivingScores.Overall), ""})
					continue
				}
				video, err := p.Import(cmd.Context(), org.ID, name, r)
				if err != nil {
					ctx.log().Warn("backfill import failed", zap.String("filename", name), zap.Error(err))
					rows = append(rows, []string{name, "error", "-", err.Error()})
					continue
				}
				imported++
				rows = append(rows, []string{name, "imported", strconv.Itoa(r.DrivingScores.Overall), video.ID})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Video", "Result", "Score", "Detail"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
			fmt.Fprintf(out, "%d of %d entries imported into organization %s\n", imported, len(names), org.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org-id", "", "Organization ID that owns the imported videos")
	cmd.Flags().StringVar(&orgName, "org-name", "", "Organization name; created when missing")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be imported without writing")
	return cmd
}

func resolveOrganization(cmd *cobra.Command, st store.Store, id, name string, dryRun bool) (model.Organization, error) {
	ctx := cmd.Context()
	if id != "" {
		return st.GetOrganization(ctx, id)
	}
	name = strings.TrimSpace(name)
	org, err := st.GetOrganizationByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		if dryRun {
			return model.Organization{Name: name}, nil
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Creating organization %q\n", name)
		return st.CreateOrganization(ctx, name)
	}
	return org, err
}

// isFailure recognizes the {"error", "status":"failed"} entries batch runs record.
func isFailure(raw json.RawMessage) bool {
	var f results.Failure
	if err := json.Unmarshal(raw, &f); err != nil {
		return false
	}
	return f.Status == "failed"
}
