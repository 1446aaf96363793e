package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/lspbridge/internal/config"
)

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string
	logFormat  string
	caretLine  int
	caretCol   int
	writeBack  bool

	cfg    *config.Config
	logger *slog.Logger

	rootCmd = &cobra.Command{
		Use:   "lspbridge",
		Short: "Drive language servers from the command line",
		Long: `lspbridge starts the language server configured for a file,
opens the file in it and prints what the server reports.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				loaded.Log.Level = logLevel
			}
			if logFormat != "" {
				loaded.Log.Format = logFormat
			}
			level, err := config.ParseLevel(loaded.Log.Level)
			if err != nil {
				return err
			}
			cfg = loaded
			logger = newLogger(os.Stderr, level, loaded.Log.Format)
			slog.SetDefault(logger)
			return nil
		},
	}

	// --- Document queries ---
	diagnoseCmd = &cobra.Command{
		Use:   "diagnose <file>",
		Short: "Print the diagnostics the server publishes for a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runDiagnose,
	}
	completeCmd = &cobra.Command{
		Use:   "complete <file>",
		Short: "List completions at --line/--col",
		Args:  cobra.ExactArgs(1),
		RunE:  runComplete,
	}
	hoverCmd = &cobra.Command{
		Use:   "hover <file>",
		Short: "Show hover information at --line/--col",
		Args:  cobra.ExactArgs(1),
		RunE:  runHover,
	}
	definitionCmd = &cobra.Command{
		Use:     "definition <file>",
		Short:   "Print the definition location of the symbol at --line/--col",
		Aliases: []string{"def"},
		Args:    cobra.ExactArgs(1),
		RunE:    runDefinition,
	}
	signatureCmd = &cobra.Command{
		Use:   "signature <file>",
		Short: "Show signature help for the call around --line/--col",
		Args:  cobra.ExactArgs(1),
		RunE:  runSignature,
	}
	symbolsCmd = &cobra.Command{
		Use:   "symbols <file>",
		Short: "Print the document outline",
		Args:  cobra.ExactArgs(1),
		RunE:  runSymbols,
	}

	// --- Edits ---
	formatCmd = &cobra.Command{
		Use:   "format <file>",
		Short: "Format a file with its language server",
		Args:  cobra.ExactArgs(1),
		RunE:  runFormat,
	}
	renameCmd = &cobra.Command{
		Use:   "rename <file> <new-name>",
		Short: "Rename the symbol at --line/--col across the project",
		Args:  cobra.ExactArgs(2),
		RunE:  runRename,
	}

	// --- Long running ---
	watchCmd = &cobra.Command{
		Use:   "watch <file>",
		Short: "Keep a file open and print diagnostics whenever it changes on disk",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}
	serversCmd = &cobra.Command{
		Use:   "servers",
		Short: "List configured language servers and whether they are installed",
		Args:  cobra.NoArgs,
		RunE:  runServers,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML or YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")

	for _, c := range []*cobra.Command{completeCmd, hoverCmd, definitionCmd, signatureCmd, renameCmd} {
		c.Flags().IntVarP(&caretLine, "line", "l", 1, "1-based line of the caret")
		c.Flags().IntVarP(&caretCol, "col", "k", 1, "1-based UTF-16 column of the caret")
	}
	for _, c := range []*cobra.Command{formatCmd, renameCmd} {
		c.Flags().BoolVarP(&writeBack, "write", "w", false, "Write the result back to the file instead of stdout")
	}

	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(hoverCmd)
	rootCmd.AddCommand(definitionCmd)
	rootCmd.AddCommand(signatureCmd)
	rootCmd.AddCommand(symbolsCmd)
	rootCmd.AddCommand(formatCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serversCmd)
}
