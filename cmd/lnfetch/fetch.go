package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/use-agent/lnfetch/models"
)

var (
	outputFormat string
	download     bool
)

var novelCmd = &cobra.Command{
	Use:   "novel <url>",
	Short: "Build a novel's chapter listing and optionally download every chapter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		listing, err := a.crawler.Listing(ctx, args[0])
		if err != nil && !errors.Is(err, models.ErrEmptyListing) {
			return err
		}
		out := models.NovelStatusResponse{Status: "completed", Listing: listing}
		if listing != nil {
			out.Total = len(listing.Chapters)
			out.Completed = out.Total
		}
		switch {
		case err != nil:
			out.Status = "failed"
			out.Error = models.DetailFor(err)
		case download:
			out.Bodies = a.crawler.Chapters(ctx, listing.Chapters, outputFormat, nil)
		}
		if out.Status != "failed" && (listing.Partial() || hasFailures(out.Bodies)) {
			out.Status = "partial"
		}
		if err := writeJSON(out); err != nil {
			return err
		}
		if out.Status == "failed" {
			return err
		}
		return nil
	},
}

var chapterCmd = &cobra.Command{
	Use:   "chapter <url>",
	Short: "Fetch and extract a single chapter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return fetchChapter(ctx, a, args[0])
	},
}

func fetchChapter(ctx context.Context, a *app, url string) error {
	out := a.orchestrator.Fetch(ctx, url)
	if !out.OK() {
		return out.Err()
	}
	base := out.FinalURL()
	if base == "" {
		base = url
	}
	ch, err := a.cleaner.Chapter(out.HTML(), base, outputFormat)
	if err != nil {
		return err
	}
	return writeJSON(models.ChapterResponse{
		Success:  true,
		FinalURL: base,
		Title:    ch.Title,
		Content:  ch.Content,
	})
}

func hasFailures(bodies []models.ChapterBody) bool {
	for _, b := range bodies {
		if b.Error != nil {
			return true
		}
	}
	return false
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{novelCmd, chapterCmd} {
		c.Flags().StringVar(&outputFormat, "format", "markdown", "chapter body format: markdown, html or text")
	}
	novelCmd.Flags().BoolVar(&download, "download", false, "download every chapter body after the listing")
}
