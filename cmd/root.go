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
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/valpere/wenyan/internal/config"
	"github.com/valpere/wenyan/internal/logger"
)

var version = "0.1.0"

// errPartial marks a run that finished with untranslated chunks.
var errPartial = errors.New("translation finished with untranslated chunks")

var (
	cfgFile string
	v       = viper.New()
	cfg     *config.Config
	appLog  *slog.Logger
	logFile *os.File
)

var rootCmd = &cobra.Command{
	Use:   "wenyan",
	Short: "Translate long Classical Chinese texts with an LLM",
	Long: `A CLI application that translates long Classical Chinese texts into English
chapter by chapter. The document is split on chapter headings (第…回 by
default), each chapter is cut into token-bounded chunks, and every chunk is
translated, validated for completeness and retried when needed.

Supported providers: openai, openrouter, ollama, vertex

Use "wenyan translate --help" for translation options.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
		}
	},
}

// Execute exits with 1 on error and 2 when a run completed only partially.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errPartial) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	config.SetDefaults(v)
	config.BindEnv(v)
	if err := config.ReadFile(v, cfgFile); err != nil {
		return err
	}

	c, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = c

	lc := logger.Config{
		Writer: os.Stderr,
		Format: cfg.Log.Format,
		Level:  logger.ParseLevel(cfg.Log.Level),
	}
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logFile = f
		lc.File = f
	}
	appLog = logger.New(lc)
	return nil
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func bindPersistentFlag(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default ./wenyan.yaml if present)")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "text", "Log format on stderr (text, json)")
	pf.String("log-file", "", "Also write JSON logs to this file")
	pf.String("db", "wenyan.db", "SQLite database for run progress and the glossary")

	bindPersistentFlag("log.level", "log-level")
	bindPersistentFlag("log.format", "log-format")
	bindPersistentFlag("log.file", "log-file")
	bindPersistentFlag("db", "db")
}
