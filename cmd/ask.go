package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/formatter"
	"github.com/kyleking/sqlrag/internal/logging"
	"github.com/kyleking/sqlrag/internal/pipeline"
	"github.com/kyleking/sqlrag/internal/repair"
)

func AskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Generate validated SQL for a natural-language question",
		ArgsUsage: " <question>",
		Description: `Refresh the schema index if needed, retrieve the relevant tables, and ask the
configured model for a query. Invalid queries are sent back with the parse or
schema error until one validates or the attempt cap is reached.

Examples:
  sqlrag ask "total sales by customer"
  sqlrag ask --format long "which products never sold"
  sqlrag ask --template explain --top-k 8 "monthly revenue by region"`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "template", Aliases: []string{"t"}, Usage: "Prompt template (sql-only, explain, no-comments)"},
			&cli.IntFlag{Name: "top-k", Aliases: []string{"k"}, Usage: "Number of schema units to retrieve"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "short", Usage: "Output format: short, long or json"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Hide the progress spinner"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
			if question == "" {
				return errors.New(errors.ErrTypeValidation, "a question is required").
					WithSuggestion(`Try: sqlrag ask "total sales by customer"`)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			built, err := pipeline.FromConfig(ctx, cfg)
			if err != nil {
				return err
			}
			defer built.Close()

			opts := pipeline.AskOptions{
				Template: cmd.String("template"),
				TopK:     int(cmd.Int("top-k")),
			}
			if opts.Template == "" {
				opts.Template = cfg.Prompt.Template
			}

			return runAsk(ctx, built.Pipeline, question, opts, askOutput{
				w:       output(cmd),
				format:  formatter.ParseFormat(cmd.String("format")),
				spinner: !cmd.Bool("quiet") && !cfg.Debug.Verbose,
			})
		},
	}
}

type askOutput struct {
	w       io.Writer
	format  formatter.OutputFormat
	spinner bool
}

// runAsk refreshes when no snapshot is loaded yet, then answers the question
func runAsk(ctx context.Context, p *pipeline.Pipeline, question string, opts pipeline.AskOptions, out askOutput) error {
	prog := newProgress(out.spinner)

	if p.Snapshot() == nil {
		prog.Step("Indexing schema...")

		res, err := p.Refresh(ctx)
		if err != nil {
			prog.Stop()
			return err
		}

		logging.WithFields(map[string]any{
			"tables": res.Tables,
			"source": res.Source,
		}).Debug("Index ready")
	}

	prog.Step("Generating SQL...")

	answer, err := p.AskWithRetry(ctx, question, opts)

	prog.Stop()

	f := formatter.NewFormatter()

	if err != nil {
		var rejection *repair.Rejection
		if errors.As(err, &rejection) {
			fmt.Fprintln(out.w, f.FormatRejection(rejection, out.format))
		}

		return err
	}

	fmt.Fprintln(out.w, f.FormatAnswer(answer, out.format))

	return nil
}

// progress is a spinner on stderr, or nothing when disabled
type progress struct {
	s *spinner.Spinner
}

func newProgress(enabled bool) *progress {
	if !enabled {
		return &progress{}
	}

	return &progress{s: spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))}
}

func (p *progress) Step(suffix string) {
	if p.s == nil {
		return
	}

	p.s.Suffix = " " + suffix
	if !p.s.Active() {
		p.s.Start()
	}
}

func (p *progress) Stop() {
	if p.s != nil {
		p.s.Stop()
	}
}
