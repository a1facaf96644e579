package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/treloxai/riskops/internal/history"
	"github.com/treloxai/riskops/internal/risk"
	"github.com/treloxai/riskops/internal/scenario"
)

// bindContextFlags registers site context flags on cmd.
func bindContextFlags(cmd *cobra.Command, p *scenario.Params) {
	f := cmd.Flags()
	f.StringVar(&p.ImageID, "image-id", p.ImageID, "Image identifier")
	f.StringVar(&p.SiteID, "site-id", p.SiteID, "Site identifier")
	f.StringVar(&p.ZoneID, "zone-id", p.ZoneID, "Zone identifier")
	f.StringVar(&p.ZoneType, "zone-type", p.ZoneType, "Zone type (production, storage, corridor, electrical_room)")
	f.StringVar(&p.Proximity, "proximity", p.Proximity, "Proximity to machines (far, near_machine, critical_machine)")
	f.StringVar(&p.FloorType, "floor-type", p.FloorType, "Floor type (absorbent, non_absorbent)")
	f.Float64Var(&p.ProductionValuePerHour, "production-value", p.ProductionValuePerHour, "Production value per hour")
}

// bindDetectionFlags registers flags for the single detection.
func bindDetectionFlags(cmd *cobra.Command, p *scenario.Params) {
	f := cmd.Flags()
	f.StringVar(&p.Substance, "substance", p.Substance, "Predicted substance (water, oil, chemical, unknown)")
	f.Float64Var(&p.Confidence, "confidence", p.Confidence, "Detection confidence in [0,1]")
	f.Float64Var(&p.AreaRatio, "area-ratio", p.AreaRatio, "Spill area as a fraction of the image in [0,1]")
}

func newAnalyzeCmd(opts *globalOptions) *cobra.Command {
	p := scenario.DefaultParams()

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Score one spill detection",
		Example: `  riskctl analyze --substance chemical --zone-type electrical_room --proximity critical_machine
  riskctl analyze --local --json --confidence 0.6 --area-ratio 0.05`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalyze(cmd, opts, scenario.BuildDemoPayload(p))
		},
	}
	bindContextFlags(cmd, &p)
	bindDetectionFlags(cmd, &p)
	return cmd
}

func newAdaptCmd(opts *globalOptions) *cobra.Command {
	p := scenario.DefaultParams()
	p.ImageID = ""
	var modelOutput string

	cmd := &cobra.Command{
		Use:   "adapt",
		Short: "Score raw segmentation model output",
		Long: `Reads the JSON output of the spill segmentation model
({"spills":[{"id":1,"class":"spill","substance":"oil","confidence":0.9,"area_ratio":0.3}]}),
maps every spill to a detection and scores them against the site context.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(modelOutput)
			if err != nil {
				return err
			}
			out, err := scenario.ParseModelOutput(data)
			if err != nil {
				return err
			}
			imageID := p.ImageID
			if imageID == "" {
				imageID = newImageID()
			}
			req := risk.NewAnalyzeRequest(imageID, scenario.DetectionsFromModelOutput(out), p.Context())
			return runAnalyze(cmd, opts, req)
		},
	}
	cmd.Flags().StringVar(&modelOutput, "model-output", "", "Path to the model output JSON file")
	_ = cmd.MarkFlagRequired("model-output")
	bindContextFlags(cmd, &p)
	return cmd
}

func newScenarioCmd(opts *globalOptions) *cobra.Command {
	catalog := scenario.Default()

	cmd := &cobra.Command{
		Use:       "scenario [name]",
		Short:     "Run a demo preset, or list presets when no name is given",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: catalog.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return listScenarios(cmd.OutOrStdout(), catalog.All())
			}
			s, ok := catalog.Lookup(args[0])
			if !ok {
				return fmt.Errorf("unknown scenario %q (available: %s)", args[0], strings.Join(catalog.Names(), ", "))
			}
			if !opts.jsonOut {
				fmt.Fprintf(cmd.OutOrStdout(), "Scenario %s: %s\n\n", s.Name, s.Description)
			}
			return runAnalyze(cmd, opts, scenario.BuildDemoPayload(s.Params()))
		},
	}
	return cmd
}

func newDemoCmd(opts *globalOptions) *cobra.Command {
	var parallel int

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run every preset and print the session history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := opts.backend()
			if err != nil {
				return err
			}
			session, err := runDemo(cmd.Context(), b, scenario.Default().All(), parallel)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"entries": session.Entries(),
					"summary": session.Summary(),
				})
			}
			return printHistory(cmd.OutOrStdout(), session)
		},
	}
	cmd.Flags().IntVar(&parallel, "parallel", 4, "Maximum concurrent requests")
	return cmd
}

// runDemo scores the presets concurrently and records them in catalog
// order.
func runDemo(ctx context.Context, b backend, presets []scenario.Scenario, parallel int) (*history.Session, error) {
	results := make([]*risk.RiskResult, len(presets))

	g, gctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, s := range presets {
		g.Go(func() error {
			p := s.Params()
			p.ImageID = "img_" + s.Name
			res, err := b.Analyze(gctx, scenario.BuildDemoPayload(p))
			if err != nil {
				return fmt.Errorf("scenario %s: %w", s.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	session := history.NewSession()
	for i, res := range results {
		session.RecordLabeled(presets[i].Name, res)
	}
	return session, nil
}

func newReportCmd(opts *globalOptions) *cobra.Command {
	p := scenario.DefaultParams()
	var output, preset string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write a PDF incident report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params := p
			if preset != "" {
				s, ok := scenario.Default().Lookup(preset)
				if !ok {
					return fmt.Errorf("unknown scenario %q", preset)
				}
				params = s.Params()
			}
			b, err := opts.backend()
			if err != nil {
				return err
			}
			pdf, err := b.Report(cmd.Context(), scenario.BuildDemoPayload(params))
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, pdf, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", output, len(pdf))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "incident_report.pdf", "Output file")
	cmd.Flags().StringVar(&preset, "scenario", "", "Use a demo preset instead of the detection flags")
	bindContextFlags(cmd, &p)
	bindDetectionFlags(cmd, &p)
	return cmd
}

func runAnalyze(cmd *cobra.Command, opts *globalOptions, req risk.AnalyzeRequest) error {
	b, err := opts.backend()
	if err != nil {
		return err
	}
	result, err := b.Analyze(cmd.Context(), req)
	if err != nil {
		return err
	}
	if opts.jsonOut {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	return printResult(cmd.OutOrStdout(), result)
}

func newImageID() string {
	return "img_" + uuid.NewString()[:8]
}
