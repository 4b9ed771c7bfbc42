// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bep/metaplan"
	"github.com/bep/metaplan/internal/config"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const appName = "metaplan"

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: appName + " - resolve metadata parsing plans and walk image metadata",
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "JSONC or YAML file with the raw options")
	rootCmd.PersistentFlags().Bool("all", false, "enable all blocks except the thumbnail (ignores --config)")
	rootCmd.PersistentFlags().String("env", "", "environment for chunk size defaults: node, browser or unknown (default: detect)")
	rootCmd.PersistentFlags().String("log-level", "INFO", "log level: DEBUG, INFO, WARN or ERROR")

	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newWalkCommand())

	return rootCmd
}

func newPlanCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "plan",
		Short:        "Print the resolved parsing plan",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := resolveOptions(cmd)
			if err != nil {
				return err
			}
			printOptions(cmd.OutOrStdout(), opts)
			return nil
		},
	}
}

func newWalkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "walk <file>",
		Short:        "Walk the metadata segments and tags of an image file (- reads stdin)",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         runWalk,
	}
	cmd.Flags().Bool("values", false, "print ASCII tag values")
	return cmd
}

func runWalk(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)

	opts, err := resolveOptions(cmd)
	if err != nil {
		return err
	}
	printValues, _ := cmd.Flags().GetBool("values")

	var src metaplan.ByteSource
	if args[0] == "-" {
		src = metaplan.NewStreamSource(io.NopCloser(os.Stdin))
	} else {
		src, err = metaplan.OpenFile(args[0])
		if err != nil {
			return err
		}
	}

	ctx := context.Background()
	r, err := metaplan.Open(ctx, src, opts.Reader)
	if err != nil {
		return err
	}
	defer r.Close()

	logger.Debug("opened", "source", r.Kind(), "chunked", r.Chunked(), "byteLength", r.ByteLength())

	out := cmd.OutOrStdout()
	err = metaplan.Walk(ctx, r, metaplan.WalkOptions{
		Options: opts,
		HandleSegment: func(seg metaplan.Segment) error {
			fmt.Fprintf(out, "segment %-9s offset=%d length=%d\n", seg.Block, seg.Offset, seg.Length)
			return nil
		},
		HandleTag: func(e metaplan.Entry) error {
			fmt.Fprintf(out, "tag     %-9s 0x%04X type=%d count=%d", e.Block, e.Tag, e.Type, e.Count)
			if printValues && e.Type == 2 {
				fmt.Fprintf(out, " %q", e.Text())
			}
			fmt.Fprintln(out)
			return nil
		},
		Warnf: func(format string, args ...any) {
			logger.Warn(fmt.Sprintf(format, args...))
		},
	})
	if err != nil {
		return err
	}

	loaded := humanize.Bytes(uint64(r.LoadedBytes()))
	if size, found := r.Size(); found {
		logger.Debug("done", "chunked", r.Chunked(), "loaded", loaded, "size", humanize.Bytes(uint64(size)))
	} else {
		logger.Debug("done", "chunked", r.Chunked(), "loaded", loaded)
	}

	return nil
}

func resolveOptions(cmd *cobra.Command) (metaplan.Options, error) {
	env, err := parseEnvironment(cmd)
	if err != nil {
		return metaplan.Options{}, err
	}

	if all, _ := cmd.Flags().GetBool("all"); all {
		return metaplan.Resolve(true, env), nil
	}

	var input any
	if filename, _ := cmd.Flags().GetString("config"); filename != "" {
		input, err = config.Load(filename)
		if err != nil {
			return metaplan.Options{}, err
		}
	}

	return metaplan.Resolve(input, env), nil
}

func parseEnvironment(cmd *cobra.Command) (metaplan.Environment, error) {
	s, _ := cmd.Flags().GetString("env")
	switch strings.ToLower(s) {
	case "":
		return metaplan.DetectEnvironment(), nil
	case "node":
		return metaplan.Environment{Kind: metaplan.EnvNode}, nil
	case "browser":
		return metaplan.Environment{Kind: metaplan.EnvBrowser}, nil
	case "unknown":
		return metaplan.Environment{Kind: metaplan.EnvUnknown}, nil
	default:
		return metaplan.Environment{}, fmt.Errorf("unknown environment %q", s)
	}
}

func printOptions(w io.Writer, opts metaplan.Options) {
	fmt.Fprint(w, opts.Plan)
	fmt.Fprintf(w, "reader    mode=%s firstChunkSize=%d chunkSize=%d chunkLimit=%d\n",
		opts.Reader.Mode, opts.Reader.FirstChunkSize, opts.Reader.ChunkSize, opts.Reader.ChunkLimit)
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	levelStr, _ := cmd.Flags().GetString("log-level")
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	}))
}
