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
	"fmt"
	"os"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/valpere/wenyan/internal/chunker"
	"github.com/valpere/wenyan/internal/splitter"
	"github.com/valpere/wenyan/internal/tokenizer"
)

var (
	splitInput     string
	splitModel     string
	splitMaxTokens int
	splitChunks    bool
)

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Show how a document would be split, without translating",
	Long: `Split a document into chapters and chunks and print the plan with token
counts. No API calls are made. Use it to tune the heading patterns and the
token budget before a real run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(splitInput)
		if err != nil {
			return fmt.Errorf("failed to read input file: %w", err)
		}
		doc := string(data)

		model := cfg.Service.Model
		if cmd.Flags().Changed("model") {
			model = splitModel
		}
		maxTokens := cfg.MaxTokens
		if cmd.Flags().Changed("max-tokens") {
			maxTokens = splitMaxTokens
		}

		counter := tokenizer.New(model)
		if counter.Degraded() {
			fmt.Fprintf(os.Stderr, "Warning: %s; token counts are estimated\n", counter.Reason())
		}
		if !splitter.Normalized(doc) {
			fmt.Fprintf(os.Stderr, "Warning: input is not in Unicode NFC\n")
		}

		det, err := splitter.NewRegexDetector(cfg.Patterns...)
		if err != nil {
			return err
		}
		chapters, err := splitter.New(det).Split(doc)
		if err != nil {
			return err
		}
		ck, err := chunker.New(counter, maxTokens)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CHAPTER\tCHUNK\tTITLE\tRUNES\tTOKENS\tOVERSIZED")
		var totalChunks, oversized int
		for _, ch := range chapters {
			chunks, err := ck.Chunk(ch)
			if err != nil {
				return err
			}
			totalChunks += len(chunks)

			title := ch.Title
			if ch.Preamble {
				title = "(preamble)"
			}
			fmt.Fprintf(w, "%d\t%d chunks\t%s\t%d\t%d\t\n", ch.Index, len(chunks), title, utf8.RuneCountInString(ch.Text), counter.Count(ch.Text))
			for _, c := range chunks {
				if c.Oversized {
					oversized++
				}
				if splitChunks || c.Oversized {
					fmt.Fprintf(w, "\t%d\t\t%d\t%d\t%v\n", c.Index, utf8.RuneCountInString(c.Text), c.Tokens, c.Oversized)
				}
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Printf("%d chapter(s), %d chunk(s), budget %d tokens (%s)\n", len(chapters), totalChunks, maxTokens, counter.Encoding())
		if oversized > 0 {
			fmt.Printf("%d oversized chunk(s) exceed the budget and will be sent whole\n", oversized)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(splitCmd)

	splitCmd.Flags().StringVarP(&splitInput, "input", "i", "", "Input file (required)")
	splitCmd.Flags().StringVarP(&splitModel, "model", "m", "", "Model whose tokenizer is used")
	splitCmd.Flags().IntVar(&splitMaxTokens, "max-tokens", 6000, "Token budget per chunk")
	splitCmd.Flags().BoolVar(&splitChunks, "chunks", false, "List every chunk, not only oversized ones")

	splitCmd.MarkFlagRequired("input")
}
