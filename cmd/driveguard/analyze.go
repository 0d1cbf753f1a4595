package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"driveguard/internal/analysis"
	"driveguard/internal/media"
	"driveguard/internal/model"
	"driveguard/internal/pipeline"
	"driveguard/internal/store"
)

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "analyze <video>",
		Short: "Analyze one video and write its result documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ctx.newPipeline(store.NewMemory())
			if err != nil {
				return err
			}
			res, err := analyzeFile(cmd, p, args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderResult(res))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result document as JSON")
	return cmd
}

func newBatchCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [dir]",
		Short: "Analyze every video in a directory and update the merged index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ctx.configValue().Paths.VideosDir
			if len(args) == 1 {
				dir = args[0]
			}
			videos, err := media.ListVideos(dir)
			if err != nil {
				return fmt.Errorf("list videos: %w", err)
			}
			if len(videos) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No videos found in %s\n", dir)
				return nil
			}
			p, err := ctx.newPipeline(store.NewMemory())
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(videos))
			failed := 0
			for i, path := range videos {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "[%d/%d] %s\n", i+1, len(videos), filepath.Base(path))
				start := time.Now()
				res, err := analyzeFile(cmd, p, path)
				size := fileSize(path)
				if err != nil {
					failed++
					rows = append(rows, []string{filepath.Base(path), size, "failed", "-", "-", err.Error()})
					continue
				}
				rows = append(rows, []string{
					filepath.Base(path),
					size,
					"ok",
					strconv.Itoa(res.DrivingScores.Overall),
					res.DrivingScores.Category,
					time.Since(start).Round(time.Second).String(),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Video", "Size", "Status", "Score", "Category", "Detail"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignLeft, alignLeft},
			))
			fmt.Fprintf(out, "%d analyzed, %d failed; merged index at %s\n", len(videos)-failed, failed, p.Results.MergedPath())
			if failed == len(videos) {
				return errors.New("every video failed")
			}
			return nil
		},
	}
	return cmd
}

// analyzeFile runs the pipeline for one file; failures land in the merged index.
func analyzeFile(cmd *cobra.Command, p *pipeline.Pipeline, path string) (analysis.Result, error) {
	if !media.IsVideoFile(path) {
		return analysis.Result{}, fmt.Errorf("%s: unsupported file type", path)
	}
	if _, err := os.Stat(path); err != nil {
		return analysis.Result{}, err
	}
	job := model.Job{ID: uuid.NewString(), Filename: filepath.Base(path), VideoPath: path}
	errOut := cmd.ErrOrStderr()
	live := isTerminal(errOut)
	last, lastStage := -1, ""
	report := func(stage string, progress int) {
		switch {
		case live && progress != last:
			fmt.Fprintf(errOut, "\r  %-10s %3d%%", stage, progress)
		case !live && stage != lastStage:
			fmt.Fprintf(errOut, "  %-10s %3d%%\n", stage, progress)
		}
		last, lastStage = progress, stage
	}
	_, err := p.Run(cmd.Context(), job, report)
	if live {
		fmt.Fprintln(errOut)
	}
	if err != nil {
		return analysis.Result{}, err
	}
	raw, err := p.Results.ReadResult(job.Filename)
	if err != nil {
		return analysis.Result{}, err
	}
	return analysis.DecodeResult(raw)
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func renderResult(res analysis.Result) string {
	ds := res.DrivingScores
	meta := res.VideoMetadata
	rows := [][]string{
		{"Video", res.VideoFilename},
		{"Duration", fmt.Sprintf("%.1fs", meta.DurationSeconds)},
		{"Resolution", fmt.Sprintf("%dx%d @ %.2f fps", meta.Resolution.Width, meta.Resolution.Height, meta.FPS)},
		{"Average speed", fmt.Sprintf("%.1f km/h", res.AverageSpeedKmph)},
		{"Close encounters", strconv.Itoa(res.CloseEncounters.EventCount)},
		{"Traffic violation", yesNo(res.TrafficSignals.Violation)},
		{"Bus lane violation", yesNo(res.BusLane.ViolationDetected)},
		{"Lane changes", strconv.Itoa(res.LaneChanges.TurnCount)},
		{"Turns", fmt.Sprintf("%d (left %d, right %d)", res.Turns.TurnCount, res.Turns.Left, res.Turns.Right)},
		{"Overall", fmt.Sprintf("%d (%s)", ds.Overall, ds.Category)},
		{"Safety / Compliance / Efficiency", fmt.Sprintf("%d / %d / %d", ds.Safety, ds.Compliance, ds.Efficiency)},
	}
	return renderTable([]string{"Field", "Value"}, rows, nil)
}

func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "-"
	}
	return humanize.IBytes(uint64(info.Size()))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
