package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscrape-engine/internal/admission"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
	"github.com/JakeFAU/webscrape-engine/internal/server"
)

type submitFlags struct {
	opts     scrape.Options
	identity string
	plan     string
	timeout  time.Duration
}

func newSubmitCmd() *cobra.Command {
	var f submitFlags
	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Admit one job in-process, wait for it to finish and print its status as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			return runSubmit(cmd, rt, args[0], f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.opts.WaitForSelector, "wait-for", "", "CSS selector to wait for before extraction")
	flags.DurationVar(&f.opts.HydrationDelay, "hydration-delay", 0, "extra settle time after navigation")
	flags.IntVar(&f.opts.MaxContentLength, "max-content-length", 0, "cap on extracted content characters")
	flags.IntVar(&f.opts.MaxLinks, "max-links", 0, "cap on extracted links")
	flags.StringVar(&f.opts.Proxy, "proxy", "", "fixed egress proxy for this job")
	flags.StringVar(&f.opts.UserAgent, "user-agent", "", "user agent override")
	flags.BoolVar(&f.opts.Mobile, "mobile", false, "emulate a mobile device")
	flags.BoolVar(&f.opts.Recursive, "recursive", false, "follow links into child jobs")
	flags.IntVar(&f.opts.MaxDepth, "max-depth", 0, "recursion depth limit")
	flags.IntVar(&f.opts.MaxPages, "max-pages", 0, "recursion page budget")
	flags.BoolVar(&f.opts.IgnoreRobotsTxt, "ignore-robots", false, "skip robots.txt checks")
	flags.StringVar(&f.opts.Webhook, "webhook", "", "URL to POST the result to")
	flags.StringVar(&f.opts.WebhookSecret, "webhook-secret", "", "HMAC secret for the webhook signature")
	flags.BoolVar(&f.opts.UseAI, "use-ai", false, "enrich the result with an LLM answer")
	flags.BoolVar(&f.opts.LLMOnly, "llm-only", false, "route the job to the LLM strategy")
	flags.StringVar(&f.opts.AIPrompt, "prompt", "", "LLM prompt")
	flags.StringVar(&f.opts.LLMProvider, "llm-provider", "", "LLM provider (openai, groq, ollama)")
	flags.StringVar(&f.opts.LLMModel, "llm-model", "", "LLM model override")
	flags.StringVar(&f.opts.LLMEndpoint, "llm-endpoint", "", "LLM endpoint override")
	flags.StringVar(&f.identity, "identity", "", "account id to charge; empty runs anonymously")
	flags.StringVar(&f.plan, "plan", "", "plan name for the account")
	flags.DurationVar(&f.timeout, "timeout", 5*time.Minute, "how long to wait for the job")
	return cmd
}

func runSubmit(cmd *cobra.Command, rt appEnv, rawURL string, f submitFlags) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
	defer cancel()

	app, err := server.Build(ctx, rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	defer func() { _ = app.Close(context.WithoutCancel(ctx)) }()

	poolCtx, stopPool := context.WithCancel(ctx)
	poolDone := make(chan error, 1)
	go func() { poolDone <- app.RunPool(poolCtx) }()
	defer func() {
		stopPool()
		if perr := <-poolDone; perr != nil {
			rt.logger.Warn("pool stopped with error", zap.Error(perr))
		}
	}()

	h, err := app.Submit(ctx, admission.Request{
		URL:      rawURL,
		Options:  f.opts,
		Identity: admission.Identity{ID: f.identity, Plan: f.plan, IP: "127.0.0.1"},
	})
	if err != nil {
		return err
	}
	rt.logger.Info("job admitted", zap.String("job_id", h.JobID), zap.Bool("existing", h.Existing))

	st, err := app.Await(ctx, h.JobID, 250*time.Millisecond)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	if st.State == scrape.JobStateFailed {
		return fmt.Errorf("job %s failed", h.JobID)
	}
	return nil
}
