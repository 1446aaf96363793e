package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func runDiagnose(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	b := newBridge(cfg, logger, cmd.OutOrStdout())
	defer b.shutdown()

	d, err := b.open(ctx, args[0], 0, 0)
	if err != nil {
		return err
	}

	wait, cancel := context.WithTimeout(ctx, cfg.LSP.ReadyTimeout.Std())
	defer cancel()
	select {
	case <-d.ui.diagnosed:
	case <-wait.Done():
		return fmt.Errorf("no diagnostics for %s: %w", args[0], wait.Err())
	}
	// Let the fixes for the published diagnostics arrive.
	if err := b.settle(wait, d); err != nil {
		logger.Debug("code actions incomplete", "error", err)
	}
	if err := b.closeDocument(ctx, d); err != nil {
		return err
	}
	d.ui.printDiagnostics()
	return nil
}

func runComplete(cmd *cobra.Command, args []string) error {
	d, err := query(cmd.Context(), cmd.OutOrStdout(), args[0], caretLine, caretCol, func(d *document) {
		d.session.RequestCompletion(d.buf.CaretOffset())
	})
	return reportEmpty(d, err, "no completions")
}

func runHover(cmd *cobra.Command, args []string) error {
	d, err := query(cmd.Context(), cmd.OutOrStdout(), args[0], caretLine, caretCol, func(d *document) {
		d.session.Hover()
	})
	return reportEmpty(d, err, "no hover information")
}

func runDefinition(cmd *cobra.Command, args []string) error {
	d, err := query(cmd.Context(), cmd.OutOrStdout(), args[0], caretLine, caretCol, func(d *document) {
		d.session.GoToDefinition()
	})
	return reportEmpty(d, err, "no definition found")
}

func runSignature(cmd *cobra.Command, args []string) error {
	d, err := query(cmd.Context(), cmd.OutOrStdout(), args[0], caretLine, caretCol, func(d *document) {
		d.session.SignatureHelp()
	})
	return reportEmpty(d, err, "no signature help")
}

func runSymbols(cmd *cobra.Command, args []string) error {
	d, err := query(cmd.Context(), cmd.OutOrStdout(), args[0], 0, 0, func(d *document) {
		d.session.DocumentSymbols()
	})
	return reportEmpty(d, err, "no symbols")
}

func runFormat(cmd *cobra.Command, args []string) error {
	d, err := query(cmd.Context(), cmd.OutOrStdout(), args[0], 0, 0, func(d *document) {
		d.session.Format()
	})
	if err != nil {
		return err
	}
	return emit(cmd, d)
}

func runRename(cmd *cobra.Command, args []string) error {
	d, err := query(cmd.Context(), cmd.OutOrStdout(), args[0], caretLine, caretCol, func(d *document) {
		d.session.Rename(args[1])
	})
	if err != nil {
		return err
	}
	return emit(cmd, d)
}

// emit writes the edited document to its file with --write, otherwise to
// stdout.
func emit(cmd *cobra.Command, d *document) error {
	text := d.buf.Text()
	if !writeBack {
		_, err := fmt.Fprint(cmd.OutOrStdout(), text)
		return err
	}
	info, err := os.Stat(d.path)
	if err != nil {
		return err
	}
	if d.buf.Revision() == 0 {
		logger.Info("no changes", "path", d.path)
		return nil
	}
	return os.WriteFile(d.path, []byte(text), info.Mode().Perm())
}

// reportEmpty notes on stderr when the server answered with nothing.
func reportEmpty(d *document, err error, msg string) error {
	if err != nil {
		return err
	}
	if d.ui.shown == 0 {
		fmt.Fprintln(os.Stderr, msg)
	}
	return nil
}
