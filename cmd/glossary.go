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
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/wenyan/internal/store"
)

var (
	glossarySource string
	glossaryTarget string
	glossaryUnused bool
)

var glossaryCmd = &cobra.Command{
	Use:   "glossary",
	Short: "Manage fixed renderings of names and titles",
	Long: `Classical novels refer to one person by surname, courtesy name and
title in turn. The glossary pins each form to one English rendering; every
entry is sent with every translation request.`,
}

// withStore opens the run database for a glossary subcommand.
func withStore(fn func(ctx context.Context, db *store.Store) error) error {
	db, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	return fn(context.Background(), db)
}

var glossaryListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show glossary entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			entries, err := db.ListGlossaryTerms(ctx, glossarySource, glossaryTarget)
			if err != nil {
				return fmt.Errorf("failed to list glossary: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("No glossary entries.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TERM\tRENDERING\tPAIR\tID")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s→%s\t%s\n", e.SourceTerm, e.TargetTerm, e.SourceLang, e.TargetLang, e.ID)
			}
			return w.Flush()
		})
	},
}

var glossaryAddCmd = &cobra.Command{
	Use:     "add <term> <rendering>",
	Short:   "Pin one term to a rendering",
	Example: `  wenyan glossary add 玄德 "Xuande"`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			if err := db.AddGlossaryTerm(ctx, glossarySource, glossaryTarget, args[0], args[1]); err != nil {
				return fmt.Errorf("failed to add %s: %w", args[0], err)
			}
			fmt.Printf("%s → %s\n", args[0], args[1])
			return nil
		})
	},
}

var glossaryImportCmd = &cobra.Command{
	Use:   "import <name-list>",
	Short: "Load a name list into the glossary",
	Long: `Load a name list, one term per line, separated from its rendering by a
tab or "=". Lines starting with # are ignored. A malformed line rejects the
whole file.`,
	Example: `  # sanguo-names.txt
  劉備	Liu Bei
  玄德 = Xuande
  諸葛亮 = Zhuge Liang

  wenyan glossary import sanguo-names.txt`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open name list: %w", err)
		}
		defer f.Close()

		entries, err := store.ParseNameList(f)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		return withStore(func(ctx context.Context, db *store.Store) error {
			n, err := db.ImportGlossary(ctx, glossarySource, glossaryTarget, entries)
			if err != nil {
				return fmt.Errorf("failed to import %s: %w", args[0], err)
			}
			appLog.Info("name list imported", "file", args[0], "entries", n)
			fmt.Printf("Imported %d entries from %s\n", n, args[0])
			return nil
		})
	},
}

var glossaryCheckCmd = &cobra.Command{
	Use:   "check <input>",
	Short: "Count glossary terms in a source text",
	Long: `Count how often each glossary term occurs in a source text, most frequent
first. Terms that never occur usually point at a variant character in the
name list.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		return withStore(func(ctx context.Context, db *store.Store) error {
			entries, err := db.ListGlossaryTerms(ctx, glossarySource, glossaryTarget)
			if err != nil {
				return fmt.Errorf("failed to list glossary: %w", err)
			}
			usage := store.TermUsage(string(data), entries)
			sort.SliceStable(entries, func(i, j int) bool {
				return usage[entries[i].SourceTerm] > usage[entries[j].SourceTerm]
			})

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TERM\tRENDERING\tOCCURRENCES")
			for _, e := range entries {
				n := usage[e.SourceTerm]
				if glossaryUnused && n > 0 {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%d\n", e.SourceTerm, e.TargetTerm, n)
			}
			return w.Flush()
		})
	},
}

var glossaryDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a glossary entry",
	Long:  `Remove a glossary entry by the ID shown in "wenyan glossary list".`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			if err := db.DeleteGlossaryTerm(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete %s: %w", args[0], err)
			}
			fmt.Printf("Removed %s\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(glossaryCmd)

	glossaryCmd.PersistentFlags().StringVar(&glossarySource, "source", store.SourceLang, "source language code")
	glossaryCmd.PersistentFlags().StringVar(&glossaryTarget, "target", store.TargetLang, "target language code")
	glossaryCheckCmd.Flags().BoolVar(&glossaryUnused, "unused", false, "show only terms that never occur")

	glossaryCmd.AddCommand(glossaryListCmd, glossaryAddCmd, glossaryImportCmd, glossaryCheckCmd, glossaryDeleteCmd)
}
