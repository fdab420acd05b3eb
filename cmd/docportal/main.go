package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/xhad/docportal/internal/app"
	"github.com/xhad/docportal/pkg/config"
	"github.com/xhad/docportal/pkg/logger"
)

const usage = `Usage: docportal [-config path] <command> [arguments]

Commands:
  analyze <file.pdf>                  extract metadata and a summary
  compare <reference.pdf> <actual.pdf>  list page level changes
  index <file.pdf>...                 build a chat session index
  chat -session <id> | <file.pdf>...  chat with indexed documents
  sweep [-flow name] [-keep n]        remove old sessions
`

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, flag.Arg(0), flag.Args()[1:]); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, command string, args []string) error {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	if command == "sweep" {
		return runSweep(ctx, cfg, log, args)
	}

	spinner := getSpinner("Loading models...")
	a, err := app.Load(ctx, cfg, log)
	spinner.Finish()
	fmt.Print("\r")
	if err != nil {
		return err
	}
	defer a.Close()

	switch command {
	case "analyze":
		return runAnalyze(ctx, a, args)
	case "compare":
		return runCompare(ctx, a, args)
	case "index":
		_, err := runIndex(ctx, a, args)
		return err
	case "chat":
		return runChat(ctx, a, args)
	default:
		return fmt.Errorf("unknown command %q\n\n%s", command, usage)
	}
}
