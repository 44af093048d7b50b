package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/alvesdmateus/repo-provisioner/internal/state"
	"github.com/alvesdmateus/repo-provisioner/pkg/config"
	"github.com/alvesdmateus/repo-provisioner/pkg/database"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded reconciliation runs",
		Long: `History lists recorded runs, newest first. --run shows a single run and
--latest the most recent run of --name, both with their operations.`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}

	cmd.Flags().String("name", "", "only show runs for this repository")
	cmd.Flags().Int("limit", state.DefaultListLimit, "maximum number of runs to show")
	cmd.Flags().Bool("operations", false, "show the operations of each run")
	cmd.Flags().String("run", "", "show the run with this ID")
	cmd.Flags().Bool("latest", false, "show the most recent run of --name")
	cmd.MarkFlagsMutuallyExclusive("run", "latest")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	name, _ := cmd.Flags().GetString("name")
	limit, _ := cmd.Flags().GetInt("limit")
	showOps, _ := cmd.Flags().GetBool("operations")
	runID, _ := cmd.Flags().GetString("run")
	latest, _ := cmd.Flags().GetBool("latest")

	var id uuid.UUID
	if runID != "" {
		if id, err = uuid.Parse(runID); err != nil {
			return fmt.Errorf("invalid run ID %q: %w", runID, err)
		}
	}
	if latest && name == "" {
		return errors.New("--latest requires --name")
	}

	db, repo, err := openHistory(cfg.History)
	if err != nil {
		return err
	}
	defer database.Close(db)

	ctx := cmd.Context()
	var runs []state.Run
	switch {
	case runID != "":
		run, err := repo.GetRun(ctx, id)
		if err != nil {
			return err
		}
		runs, showOps = []state.Run{*run}, true
	case latest:
		run, err := repo.LatestRun(ctx, name)
		if err != nil {
			return err
		}
		if run != nil {
			runs, showOps = []state.Run{*run}, true
		}
	default:
		if runs, err = repo.ListRuns(ctx, name, limit); err != nil {
			return err
		}
	}

	return printRuns(cmd.OutOrStdout(), runs, showOps)
}

func printRuns(out io.Writer, runs []state.Run, showOps bool) error {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tREPOSITORY\tOUTCOME\tCREATED\tSTARTED\tDURATION")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
			run.ID,
			run.Repository,
			run.Outcome,
			run.Created,
			run.StartedAt.Format(time.RFC3339),
			time.Duration(run.DurationMs)*time.Millisecond,
		)
		if showOps {
			for _, op := range run.Operations {
				line := fmt.Sprintf("  %s\t%s", op.Operation, op.Status)
				if op.Error != "" {
					line += "\t" + strings.ReplaceAll(op.Error, "\n", " ")
				}
				fmt.Fprintln(w, line)
			}
		}
	}
	return w.Flush()
}

// newHistoryRecorder records runs with the registry coordinates of cfg
func newHistoryRecorder(repo *state.Repository, cfg *config.Config) *state.Recorder {
	return state.NewRecorder(repo, cfg.Registry.Type, cfg.Registry.Region)
}

// pruneHistory removes runs older than the retention window. Zero keeps everything.
func pruneHistory(ctx context.Context, repo *state.Repository, retention time.Duration) {
	if retention <= 0 {
		return
	}
	deleted, err := repo.DeleteRunsBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		// Don't fail the run, just log the error
		log.Warn().Err(err).Msg("Failed to prune run history")
		return
	}
	if deleted > 0 {
		log.Debug().Int64("deleted", deleted).Dur("retention", retention).Msg("Pruned run history")
	}
}
