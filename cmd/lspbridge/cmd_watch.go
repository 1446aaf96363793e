package main

import (
	"context"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/dshills/lspbridge/internal/config"
	"github.com/dshills/lspbridge/internal/lsp"
)

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	b := newBridge(cfg, logger, cmd.OutOrStdout())
	defer b.shutdown()

	d, err := b.open(ctx, args[0], 0, 0)
	if err != nil {
		return err
	}
	err = b.loop.Call(ctx, func() {
		d.ui.stream = true
		if d.ui.diags != nil {
			d.ui.printDiagnostics()
		}
	})
	if err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	if err := fsw.Add(filepath.Dir(d.path)); err != nil {
		return err
	}

	if configPath != "" {
		cw, err := config.NewWatcher(configPath, func(next *config.Config, err error) {
			if err == nil {
				b.manager.ApplyConfig(lsp.AvailableConfigs(next.ServerConfigs()...))
			}
		}, config.WithWatcherLogger(logger))
		if err != nil {
			return err
		}
		defer cw.Close()
		go func() { _ = cw.Run(ctx) }()
	}

	logger.Info("watching", "path", d.path)
	for {
		select {
		case <-ctx.Done():
			closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return b.closeDocument(closeCtx, d)

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != d.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			data, err := os.ReadFile(d.path)
			if err != nil {
				logger.Warn("reading watched file", "path", d.path, "error", err)
				continue
			}
			b.loop.Post(func() { d.replaceText(string(data)) })

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("file watcher error", "error", err)
		}
	}
}

// replaceText brings the buffer in line with text, reporting only the span
// that differs. Must run on the loop.
func (d *document) replaceText(text string) {
	old := d.buf.Text()
	start, oldEnd, newEnd := diffSpan(old, text)
	if start == oldEnd && start == newEnd {
		return
	}
	d.session.Edit(start, oldEnd, text[start:newEnd])
	d.buf.ApplyEdit(start, oldEnd, text[start:newEnd])
}

// diffSpan returns the smallest rune-aligned span that differs between a
// and b: a[start:aEnd] is replaced by b[start:bEnd].
func diffSpan(a, b string) (start, aEnd, bEnd int) {
	n := min(len(a), len(b))
	for start < n && a[start] == b[start] {
		start++
	}
	for start > 0 && (!runeStart(a, start) || !runeStart(b, start)) {
		start--
	}

	suffix := 0
	for suffix < n-start && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}
	for suffix > 0 && !utf8.RuneStart(a[len(a)-suffix]) {
		suffix--
	}
	return start, len(a) - suffix, len(b) - suffix
}

func runeStart(s string, i int) bool {
	return i >= len(s) || utf8.RuneStart(s[i])
}
