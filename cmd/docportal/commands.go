package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/tmc/langchaingo/memory"

	"github.com/xhad/docportal/internal/app"
	"github.com/xhad/docportal/internal/models"
	"github.com/xhad/docportal/pkg/config"
	"github.com/xhad/docportal/pkg/errs"
	"github.com/xhad/docportal/pkg/logger"
	"github.com/xhad/docportal/pkg/session"
	"github.com/xhad/docportal/pkg/store"
)

func readUploads(paths []string) ([]models.Upload, error) {
	uploads := make([]models.Upload, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		uploads = append(uploads, models.Upload{Name: filepath.Base(p), Data: data})
	}
	return uploads, nil
}

func runAnalyze(ctx context.Context, a *app.App, args []string) error {
	if len(args) != 1 {
		return errors.New("analyze takes exactly one PDF")
	}
	uploads, err := readUploads(args)
	if err != nil {
		return err
	}

	spinner := getSpinner("Analyzing document...")
	res, err := a.Analyze(ctx, uploads[0])
	spinner.Finish()
	fmt.Print("\r")
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(res.Analysis, "", "  ")
	if err != nil {
		return err
	}
	color.Green("✓ Analysis complete (session %s)\n", res.SessionID)
	fmt.Println(string(out))
	return nil
}

func runCompare(ctx context.Context, a *app.App, args []string) error {
	if len(args) != 2 {
		return errors.New("compare takes a reference and an actual PDF")
	}
	uploads, err := readUploads(args)
	if err != nil {
		return err
	}

	spinner := getSpinner("Comparing documents...")
	res, err := a.Compare(ctx, uploads[0], uploads[1])
	spinner.Finish()
	fmt.Print("\r")
	if err != nil {
		return err
	}

	color.Green("✓ Comparison complete (session %s)\n", res.SessionID)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PAGE\tCHANGES")
	for _, row := range res.Rows {
		fmt.Fprintf(tw, "%s\t%s\n", row.Page, row.Changes)
	}
	return tw.Flush()
}

func runIndex(ctx context.Context, a *app.App, args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("index takes one or more PDFs")
	}
	uploads, err := readUploads(args)
	if err != nil {
		return "", err
	}

	color.Blue("\nIndexing %d documents\n", len(uploads))
	var bar *progressbar.ProgressBar
	res, err := a.Index(ctx, uploads, func(done, total int) {
		if bar == nil {
			bar = getProgressBar(total, "Embedding passages...")
		}
		bar.Set(done)
	})
	if err != nil {
		return "", err
	}

	color.Green("\n✓ Indexed %d documents into %d passages\n", res.Documents, res.Chunks)
	color.Cyan("Session: %s\n", res.SessionID)
	return res.SessionID, nil
}

func runChat(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	sessionID := fs.String("session", "", "Existing chat session id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *sessionID == "" {
		id, err := runIndex(ctx, a, fs.Args())
		if err != nil {
			return err
		}
		*sessionID = id
	}

	pipeline, err := a.Pipeline(ctx, *sessionID)
	if err != nil {
		return err
	}

	color.Cyan("\nChat with your documents (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()
	history := memory.NewChatMessageHistory()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if strings.ToLower(query) == "exit" {
			break
		}
		if query == "" {
			continue
		}

		turns, err := history.Messages(ctx)
		if err != nil {
			return err
		}

		responseSpinner := getSpinner("Generating response...")
		answer, err := pipeline.Invoke(ctx, query, turns)
		responseSpinner.Finish()
		fmt.Print("\r")

		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}
		assistantPrompt("Assistant: %s\n", answer)

		if err := history.AddUserMessage(ctx, query); err != nil {
			return err
		}
		if err := history.AddAIMessage(ctx, answer); err != nil {
			return err
		}
	}

	return scanner.Err()
}

func runSweep(ctx context.Context, cfg *config.Config, log logger.Logger, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	flow := fs.String("flow", "all", "Session tree to sweep: analysis, compare, chat or all")
	keep := fs.Int("keep", cfg.Storage.KeepLatest, "Number of most recent sessions to keep")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dirs := map[string]string{
		string(app.FlowAnalysis): cfg.Storage.AnalysisDir,
		string(app.FlowCompare):  cfg.Storage.CompareDir,
		string(app.FlowChat):     cfg.Storage.ChatDir,
	}

	var names []string
	if *flow == "all" {
		names = []string{string(app.FlowAnalysis), string(app.FlowCompare), string(app.FlowChat)}
	} else if _, ok := dirs[*flow]; ok {
		names = []string{*flow}
	} else {
		return fmt.Errorf("unknown flow %q", *flow)
	}

	for _, name := range names {
		var onRemove func(string)
		if name == string(app.FlowChat) {
			drop, closeIndex, err := dropChatIndex(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer closeIndex()
			onRemove = drop
		}

		err := session.SweepFunc(dirs[name], *keep, log, onRemove)
		switch {
		case err == nil:
			color.Green("✓ Swept %s sessions, kept %d\n", name, *keep)
		case errors.Is(err, errs.ErrNotFound) && *flow == "all":
			color.Yellow("- No %s sessions\n", name)
		default:
			return err
		}
	}
	return nil
}

// dropChatIndex returns a callback that deletes the vectors indexed for a
// removed chat session.
func dropChatIndex(ctx context.Context, cfg *config.Config, log logger.Logger) (func(string), func(), error) {
	if cfg.Index.Backend != config.BackendPgvector {
		return func(id string) {
			path := filepath.Join(cfg.Index.Dir, id)
			if err := os.RemoveAll(path); err != nil {
				log.Warn("failed to delete session index", "path", path, "error", err)
			}
		}, func() {}, nil
	}

	vs, err := store.NewWithConfig(ctx, cfg.Database, nil)
	if err != nil {
		return nil, nil, err
	}
	return func(id string) {
		if err := vs.DeleteNamespace(ctx, id); err != nil {
			log.Warn("failed to delete session vectors", "namespace", id, "error", err)
		}
	}, vs.Close, nil
}
