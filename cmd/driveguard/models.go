package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"driveguard/internal/detector"
)

const defaultModelDir = "analysis/models"

func newModelsCommand(ctx *commandContext) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List, download and select detector weights",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "Directory holding weights (default: directory of the configured model)")

	modelDir := func() string {
		if strings.TrimSpace(dir) != "" {
			return dir
		}
		if current := ctx.configValue().Analysis.DetectorModel; strings.ContainsRune(current, filepath.Separator) {
			return filepath.Dir(current)
		}
		return defaultModelDir
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show the known models and which one is active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			current := currentModel(ctx)
			d := modelDir()
			rows := [][]string{}
			for _, m := range detector.Catalog() {
				marker := ""
				if m.File == current {
					marker = "*"
				}
				rows = append(rows, []string{
					marker,
					m.File,
					m.Name,
					humanize.IBytes(uint64(m.SizeMB * (1 << 20))),
					m.Speed,
					fmt.Sprintf("%s (mAP %.1f)", m.Accuracy, m.MAP),
					yesNo(detector.Installed(d, m)),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"", "File", "Name", "Size", "Speed", "Accuracy", "Installed"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
			))
			fmt.Fprintf(out, "Active model: %s (weights in %s)\n", current, d)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "download <model>",
		Short: "Download model weights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := detector.Lookup(args[0])
			if err != nil {
				return err
			}
			errOut := cmd.ErrOrStderr()
			path, err := detector.NewDownloader().Download(cmd.Context(), modelDir(), m, func(done, total int64) {
				if total > 0 {
					fmt.Fprintf(errOut, "\r  %s / %s", humanize.IBytes(uint64(done)), humanize.IBytes(uint64(total)))
				} else {
					fmt.Fprintf(errOut, "\r  %s", humanize.IBytes(uint64(done)))
				}
			})
			fmt.Fprintln(errOut)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %s to %s\nActivate it with: driveguard models use %s\n", m.File, path, m.File)
			return nil
		},
	})

	var force bool
	use := &cobra.Command{
		Use:   "use <model>",
		Short: "Set the active model in the configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := detector.Lookup(args[0])
			if err != nil {
				return err
			}
			d := modelDir()
			if !force && !detector.Installed(d, m) {
				return fmt.Errorf("model %s not found in %s; run `driveguard models download %s` first", m.File, d, m.File)
			}
			cfg := ctx.configValue()
			cfg.Analysis.DetectorModel = filepath.Join(d, m.File)
			if err := cfg.Save(""); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Active model set to %s (saved to %s)\n", m.File, cfg.Path())
			return nil
		},
	}
	use.Flags().BoolVar(&force, "force", false, "Select the model even when its weights are not installed")
	cmd.AddCommand(use)

	return cmd
}

func currentModel(ctx *commandContext) string {
	current := filepath.Base(ctx.configValue().Analysis.DetectorModel)
	if current == "" || current == "." {
		return detector.DefaultModel
	}
	return current
}
