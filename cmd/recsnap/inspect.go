package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/recsnap/keeper"
	"github.com/hazyhaar/recsnap/render"
)

// openKeeper opens the configured store for a one-shot command.
func openKeeper(logger *slog.Logger) (*keeper.Keeper, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return keeper.New(cfg, logger)
}

func colorOption(mode string) ([]render.Option, error) {
	switch mode {
	case "auto":
		return nil, nil
	case "always":
		return []render.Option{render.WithColor(true)}, nil
	case "never":
		return []render.Option{render.WithColor(false)}, nil
	}
	return nil, fmt.Errorf("color: want auto, always or never, got %q", mode)
}

func cmdDiff(args []string, out io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("diff", flag.ContinueOnError)
	format := fs.String("format", "text", "output: text, json or json_patch")
	colorMode := fs.String("color", "auto", "color: auto, always or never")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("diff: want <from> <to>, got %d arguments", fs.NArg())
	}
	from, to := fs.Arg(0), fs.Arg(1)
	opts, err := colorOption(*colorMode)
	if err != nil {
		return err
	}

	k, err := openKeeper(logger)
	if err != nil {
		return err
	}
	defer k.Close()
	ctx := context.Background()

	switch *format {
	case "text":
		d, err := k.Service().Diff(ctx, from, to)
		if err != nil {
			return err
		}
		return render.New(out, opts...).Diff(from, to, d)
	case "json":
		d, err := k.Service().Diff(ctx, from, to)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	case "json_patch":
		patch, err := k.Service().Patch(ctx, from, to)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s\n", patch)
		return err
	}
	return fmt.Errorf("diff: unknown format %q", *format)
}

func cmdList(args []string, out io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	recordType := fs.String("type", "", "only snapshots of this record type")
	recordID := fs.String("id", "", "only snapshots of this record id")
	colorMode := fs.String("color", "auto", "color: auto, always or never")
	if err := fs.Parse(args); err != nil {
		return err
	}
	opts, err := colorOption(*colorMode)
	if err != nil {
		return err
	}

	k, err := openKeeper(logger)
	if err != nil {
		return err
	}
	defer k.Close()

	list, err := k.Service().History(context.Background(), *recordType, *recordID)
	if err != nil {
		return err
	}
	return render.New(out, opts...).Summaries(list)
}
