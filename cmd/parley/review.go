package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/parley/pkg/models"
	"github.com/pario-ai/parley/pkg/orchestrator"
	"github.com/pario-ai/parley/pkg/pricing"
)

// errNoAnswers makes the command exit non-zero when every provider failed.
var errNoAnswers = errors.New("no provider answered")

// requestFlags are the review inputs shared by review and cost.
type requestFlags struct {
	providers    []string
	focus        string
	model        string
	systemPrompt string
	maxTokens    int
	temperature  float64
	file         string
	noCache      bool
	cacheTTL     time.Duration
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.providers, "providers", "p", nil, `providers or aliases, comma separated, or "all" (default from config)`)
	cmd.Flags().StringVar(&f.focus, "focus", "general", "review focus: general, security, performance or architecture")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "override every provider's model")
	cmd.Flags().StringVar(&f.systemPrompt, "system", "", "replace the focus system prompt")
	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "maximum output tokens per provider")
	cmd.Flags().Float64Var(&f.temperature, "temperature", 0, "sampling temperature")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", `read the prompt from a file ("-" for stdin)`)
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "ignore cached answers; fresh answers are still cached")
	cmd.Flags().DurationVar(&f.cacheTTL, "cache-ttl", 0, "lifetime of answers cached by this request (default from config)")
}

func (f *requestFlags) request(cmd *cobra.Command, args []string) (orchestrator.Request, error) {
	focus, err := models.ParseFocus(f.focus)
	if err != nil {
		return orchestrator.Request{}, err
	}
	prompt, err := readPrompt(cmd.InOrStdin(), args, f.file)
	if err != nil {
		return orchestrator.Request{}, err
	}
	return orchestrator.Request{
		Prompt:    prompt,
		Providers: f.providers,
		NoCache:   f.noCache,
		CacheTTL:  f.cacheTTL,
		Options: models.Options{
			Focus:        focus,
			Model:        f.model,
			SystemPrompt: f.systemPrompt,
			MaxTokens:    f.maxTokens,
			Temperature:  f.temperature,
		},
	}, nil
}

// readPrompt takes the prompt from file, then args, then piped stdin.
func readPrompt(stdin io.Reader, args []string, file string) (string, error) {
	switch {
	case file == "-":
		return readAll(stdin)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		return string(data), nil
	case len(args) > 0:
		return strings.Join(args, " "), nil
	}
	if f, ok := stdin.(*os.File); ok {
		if fi, err := f.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			return "", errors.New("no prompt: pass it as arguments, with --file, or on stdin")
		}
	}
	return readAll(stdin)
}

func readAll(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	return string(data), nil
}

// sendOptions control how review and plan send a request.
type sendOptions struct {
	deadline time.Duration
	maxCost  float64
	asJSON   bool
}

func (s *sendOptions) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&s.deadline, "deadline", 0, "overall deadline (default from config)")
	cmd.Flags().Float64Var(&s.maxCost, "max-cost", 0, "refuse to run when the estimate exceeds this many USD")
	cmd.Flags().BoolVar(&s.asJSON, "json", false, "print the full result as JSON")
}

func newReviewCmd(opts *globalOptions) *cobra.Command {
	var (
		flags requestFlags
		send  sendOptions
	)

	cmd := &cobra.Command{
		Use:   "review [prompt...]",
		Short: "Send a prompt to several providers concurrently and print every answer",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd, args)
			if err != nil {
				return err
			}
			return runRequest(cmd, opts, send, req, false)
		},
	}

	flags.register(cmd)
	send.register(cmd)
	return cmd
}

func newPlanCmd(opts *globalOptions) *cobra.Command {
	var (
		flags requestFlags
		send  sendOptions
	)

	cmd := &cobra.Command{
		Use:   "plan [goal...]",
		Short: "Ask for a step-by-step implementation plan",
		Long: "Ask for a step-by-step implementation plan of a goal. Plans use an architect\n" +
			"system prompt and go to review.plan_providers unless --providers is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd, args)
			if err != nil {
				return err
			}
			return runRequest(cmd, opts, send, req, true)
		},
	}

	flags.register(cmd)
	send.register(cmd)
	return cmd
}

// runRequest quotes req, enforces --max-cost, sends it and prints the result.
func runRequest(cmd *cobra.Command, opts *globalOptions, send sendOptions, req orchestrator.Request, plan bool) error {
	if send.deadline > 0 {
		req.Deadline = time.Now().Add(send.deadline)
	}

	deps, err := opts.dependencies()
	if err != nil {
		return err
	}
	defer func() { _ = deps.Close() }()

	if plan {
		req = deps.Orchestrator.PlanRequest(req)
	}

	quotes, err := deps.Orchestrator.Quote(req)
	if err != nil {
		return err
	}
	var estimate float64
	for _, q := range quotes {
		estimate += q.EstimatedCost
	}
	if send.maxCost > 0 && estimate > send.maxCost {
		return fmt.Errorf("estimated cost $%.4f exceeds --max-cost $%.4f", estimate, send.maxCost)
	}
	if pricing.ShouldWarn(estimate, deps.Config.Review.CostWarnThreshold) {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: estimated cost $%.4f\n", estimate)
	}

	res, err := deps.Orchestrator.Review(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if send.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printReview(out, res)
	}
	if len(res.Succeeded()) == 0 {
		return errNoAnswers
	}
	return nil
}

func printReview(w io.Writer, res *orchestrator.Result) {
	for _, id := range res.Succeeded() {
		pr := res.Providers[id]
		fmt.Fprintf(w, "=== %s (%s", id, pr.Model)
		if pr.Status == orchestrator.StatusCached {
			fmt.Fprint(w, ", cached")
		}
		fmt.Fprintln(w, ") ===")
		fmt.Fprintln(w, strings.TrimSpace(pr.Completion.Text))
		fmt.Fprintln(w)
	}
	for _, id := range res.IDs() {
		pr := res.Providers[id]
		if !pr.OK() {
			fmt.Fprintf(w, "=== %s: %s (%s) ===\n%s\n\n", id, pr.Status, pr.ErrorKind, pr.Error)
		}
	}
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	fmt.Fprintf(w, "%d/%d providers answered in %s, estimated cost $%.4f\n",
		len(res.Succeeded()), len(res.Providers),
		(time.Duration(res.LatencyMs) * time.Millisecond).String(), res.EstimatedCost)
}

func newCostCmd(opts *globalOptions) *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "cost [prompt...]",
		Short: "Estimate what a review would cost without sending it",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd, args)
			if err != nil {
				return err
			}
			deps, err := opts.dependencies()
			if err != nil {
				return err
			}
			defer func() { _ = deps.Close() }()

			quotes, err := deps.Orchestrator.Quote(req)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODEL\tINPUT\tOUTPUT\tCOST")
			var total float64
			for _, q := range quotes {
				cost := fmt.Sprintf("$%.4f", q.EstimatedCost)
				switch {
				case q.Cached:
					cost = "cached"
				case q.CostUnknown:
					cost = "unknown"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", q.ProviderID, q.Model,
					humanize.Comma(q.InputTokens), humanize.Comma(q.OutputTokens), cost)
				total += q.EstimatedCost
			}
			fmt.Fprintf(w, "TOTAL\t\t\t\t$%.4f\n", total)
			return w.Flush()
		},
	}
	flags.register(cmd)
	return cmd
}
