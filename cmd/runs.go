/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/wenyan/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored translation runs",
	Long:  `List runs, show chapter progress for a run, and list its failed chunks.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		runs, err := db.ListRuns(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tINPUT\tPROVIDER\tMODEL\tLAST CHAPTER\tLAST CHUNK\tUPDATED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
				r.ID, r.Status, r.InputPath, r.Provider, r.Model,
				r.LastChapter, r.LastChunk, r.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show chapter progress of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		ctx := context.Background()
		run, err := db.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		chapters, err := db.ListChapters(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("failed to list chapters: %w", err)
		}

		fmt.Printf("Run:        %s\n", run.ID)
		fmt.Printf("Status:     %s\n", run.Status)
		fmt.Printf("Input:      %s\n", run.InputPath)
		fmt.Printf("Provider:   %s (%s)\n", run.Provider, run.Model)
		fmt.Printf("Max tokens: %d\n", run.MaxTokens)
		fmt.Printf("Started:    %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))

		if len(chapters) == 0 {
			fmt.Println("No chapters written yet.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CHAPTER\tTITLE\tSTATUS\tLOCATION")
		for _, c := range chapters {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", c.Chapter, c.Title, c.Status, c.Location)
		}
		return w.Flush()
	},
}

var runsFailuresCmd = &cobra.Command{
	Use:   "failures <id>",
	Short: "List chunks of a run that were not translated",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		failures, err := db.ListFailures(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to list failures: %w", err)
		}
		if len(failures) == 0 {
			fmt.Println("No failed chunks.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CHAPTER\tCHUNK\tSTATUS\tKIND\tATTEMPTS\tREASON")
		for _, f := range failures {
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%d\t%s\n", f.Chapter, f.Chunk, f.Status, f.Kind, f.Attempts, f.Reason)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsFailuresCmd)
}
