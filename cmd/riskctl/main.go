// riskctl - command line client for the RiskOps scoring service
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/treloxai/riskops/internal/client"
	"github.com/treloxai/riskops/internal/config"
	"github.com/treloxai/riskops/internal/logging"
	"github.com/treloxai/riskops/internal/report"
	"github.com/treloxai/riskops/internal/risk"
	"github.com/treloxai/riskops/internal/security"
)

// Version is set by ldflags
var Version = "dev"

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

// globalOptions are shared by every subcommand.
type globalOptions struct {
	apiURL   string
	currency string
	timeout  time.Duration
	jsonOut  bool
	local    bool
}

// backend scores requests either in process or through the service.
type backend interface {
	Analyze(ctx context.Context, req risk.AnalyzeRequest) (*risk.RiskResult, error)
	Report(ctx context.Context, req risk.AnalyzeRequest) ([]byte, error)
}

// localBackend runs the engine and renderer without a server.
type localBackend struct {
	engine   *risk.Engine
	renderer *report.Renderer
}

func (b localBackend) Analyze(_ context.Context, req risk.AnalyzeRequest) (*risk.RiskResult, error) {
	if errs := req.Validate(); len(errs) > 0 {
		return nil, errs
	}
	detections, site := req.Domain()
	result := b.engine.Analyze(req.ImageID, detections, site)
	return &result, nil
}

func (b localBackend) Report(ctx context.Context, req risk.AnalyzeRequest) ([]byte, error) {
	result, err := b.Analyze(ctx, req)
	if err != nil {
		return nil, err
	}
	return b.renderer.Render(result)
}

func (o *globalOptions) backend() (backend, error) {
	if o.local {
		return localBackend{
			engine:   risk.NewEngine(o.currency),
			renderer: report.NewRenderer(report.DefaultTitle),
		}, nil
	}
	if err := security.ValidateBaseURL(o.apiURL); err != nil {
		return nil, fmt.Errorf("--api-url: %w", err)
	}
	return client.New(client.Config{
		BaseURL: o.apiURL,
		Timeout: o.timeout,
		Logger:  logging.Discard(),
	}), nil
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:          "riskctl",
		Short:        "Score industrial spill incidents against a RiskOps service",
		Version:      Version,
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	apiURL := os.Getenv("RISKOPS_API_URL")
	if apiURL == "" {
		apiURL = config.DefaultAPIURL
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.apiURL, "api-url", apiURL, "Base URL of the scoring service (env RISKOPS_API_URL)")
	pf.StringVar(&opts.currency, "currency", risk.DefaultCurrency, "Currency for --local cost estimates")
	pf.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Per-request timeout")
	pf.BoolVar(&opts.jsonOut, "json", false, "Print raw JSON results")
	pf.BoolVar(&opts.local, "local", false, "Score in process instead of calling the service")

	root.AddCommand(
		newAnalyzeCmd(opts),
		newAdaptCmd(opts),
		newScenarioCmd(opts),
		newDemoCmd(opts),
		newReportCmd(opts),
	)

	return root
}
