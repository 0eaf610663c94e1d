package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/klubi/scout/internal/agent"
	"github.com/klubi/scout/internal/config"
	"github.com/klubi/scout/internal/model"
	"github.com/klubi/scout/internal/runner"
	"github.com/klubi/scout/internal/tools"
	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
	"github.com/klubi/scout/pkg/manifest"
)

// scanOptions holds the flags of the root command.
type scanOptions struct {
	quick        bool
	deep         bool
	iterations   int
	saveLog      bool
	profile      string
	profileName  string
	instructions string
	provider     string
	model        string
	endpoint     string
	noStream     bool
}

func (o *scanOptions) addFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVar(&o.quick, "quick", false, "Quick mode: 3 rounds")
	f.BoolVar(&o.deep, "deep", false, "Deep mode: 20 rounds")
	f.IntVar(&o.iterations, "iterations", 0, "Custom round budget")
	f.BoolVar(&o.saveLog, "save-log", false, "Save the run record to the local database")
	f.StringVar(&o.profile, "profile", "", "ScanProfile manifest for a custom run")
	f.StringVar(&o.profileName, "profile-name", "", "Profile to use when the manifest holds several")
	f.StringVar(&o.instructions, "instructions", "", "Extra operator instructions for the model")
	f.StringVar(&o.provider, "provider", "", "Model provider: ollama|openai|googleai (overrides config)")
	f.StringVar(&o.model, "model", "", "Model name (overrides config)")
	f.StringVar(&o.endpoint, "endpoint", "", "Model server URL (overrides config)")
	f.BoolVar(&o.noStream, "no-stream", false, "Do not stream tool output while it runs")

	cmd.MarkFlagsMutuallyExclusive("quick", "deep", "iterations")
}

// newModel builds the model client for cfg. Tests replace it.
var newModel = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (agent.Model, error) {
	llm, err := model.NewLLM(ctx, cfg.Model)
	if err != nil {
		return nil, err
	}
	return model.New(llm, logger, model.WithTimeout(cfg.RequestTimeout())), nil
}

func runScan(cmd *cobra.Command, target string, o *scanOptions) error {
	// 1. Build configuration with CLI overrides.
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if o.provider != "" {
		cfg.Model.Provider = o.provider
	}
	if o.model != "" {
		cfg.Model.Name = o.model
	}
	if o.endpoint != "" {
		cfg.Model.Endpoint = o.endpoint
	}
	if o.noStream {
		cfg.Agent.Stream = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// 2. Create logger.
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	// 3. Resolve the run configuration.
	var profile *v1alpha1.ScanProfile
	if o.profile != "" {
		profile, err = manifest.LoadProfile(o.profile, o.profileName)
		if err != nil {
			return err
		}
	}
	spec, err := o.runSpec(target, cfg, profile)
	if err != nil {
		return err
	}

	// 4. Build the tool registry and dispatcher.
	reg, err := tools.DefaultRegistry(cfg.Tools.Binaries)
	if err != nil {
		return err
	}
	outputLimit := cfg.Tools.OutputLimit
	timeouts := cfg.ToolTimeouts()
	if profile != nil {
		if reg, err = reg.Subset(profile.Spec.Tools); err != nil {
			return fmt.Errorf("profile %s: %w", profile.Metadata.Name, err)
		}
		if profile.Spec.OutputLimit > 0 {
			outputLimit = profile.Spec.OutputLimit
		}
		for name, secs := range profile.Spec.ToolTimeouts {
			timeouts[name] = time.Duration(secs) * time.Second
		}
	}

	out := cmd.OutOrStdout()
	con := newConsole(out)

	var runnerOpts []runner.Option
	if cfg.Agent.Stream {
		runnerOpts = append(runnerOpts, runner.WithObserver(con))
	}
	dispatcher := tools.NewDispatcher(reg, runner.New(logger, runnerOpts...), logger,
		tools.WithOutputLimit(outputLimit),
		tools.WithStreaming(cfg.Agent.Stream),
		tools.WithTimeouts(timeouts),
	)

	// 5. Create the model client. Interrupts cancel the run.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mdl, err := newModel(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// 6. Create the loop, journaling to the store with --save-log.
	loopOpts := []agent.LoopOption{agent.WithObserver(con)}
	if spec.SaveLog {
		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()
		loopOpts = append(loopOpts, agent.WithJournal(agent.NewStoreJournal(s)))
	}
	loop := agent.NewLoop(mdl, dispatcher, reg.Schemas(), logger, loopOpts...)

	// 7. Run.
	record := agent.NewRun(spec)
	id := record.Metadata.Name

	banner := color.New(color.FgCyan, color.Bold)
	banner.Fprintln(out, "scout")
	fmt.Fprintf(out, "   Target: %s\n", spec.Target)
	fmt.Fprintf(out, "   Mode:   %s (%d rounds)\n", spec.Mode, spec.MaxIterations)
	fmt.Fprintf(out, "   Model:  %s\n", spec.Model)
	fmt.Fprintf(out, "   Tools:  %s\n", strings.Join(reg.Names(), ", "))

	_, err = loop.Run(ctx, record)

	if spec.SaveLog {
		fmt.Fprintf(out, "\nRun saved as %s (scout show %s)\n", id, id)
	}
	if err != nil {
		return fmt.Errorf("run %s aborted: %w", id, err)
	}
	return nil
}

// runSpec derives the RunSpec from the flags, the config and an optional
// profile. --iterations wins over the profile's budget, which wins over
// the default mode; either explicit budget makes the run custom.
func (o *scanOptions) runSpec(target string, cfg *config.Config, profile *v1alpha1.ScanProfile) (v1alpha1.RunSpec, error) {
	if o.iterations < 0 {
		return v1alpha1.RunSpec{}, fmt.Errorf("--iterations must be > 0, got %d", o.iterations)
	}

	mode, err := v1alpha1.ParseMode(cfg.Agent.DefaultMode)
	if err != nil {
		return v1alpha1.RunSpec{}, err
	}
	override := 0
	switch {
	case o.iterations > 0:
		mode, override = v1alpha1.ModeCustom, o.iterations
	case o.quick:
		mode = v1alpha1.ModeQuick
	case o.deep:
		mode = v1alpha1.ModeDeep
	case profile != nil && profile.Spec.MaxIterations > 0:
		mode, override = v1alpha1.ModeCustom, profile.Spec.MaxIterations
	case mode == v1alpha1.ModeCustom:
		return v1alpha1.RunSpec{}, fmt.Errorf("default mode custom needs --iterations or a profile budget")
	}

	spec, err := v1alpha1.NewRunSpec(target, mode, override)
	if err != nil {
		return v1alpha1.RunSpec{}, err
	}
	spec.Model = cfg.Model.Provider + "/" + cfg.Model.Name
	spec.SaveLog = o.saveLog

	var notes []string
	if profile != nil {
		spec.Profile = profile.Metadata.Name
		notes = append(notes, strings.TrimSpace(profile.Spec.Instructions))
	}
	notes = append(notes, strings.TrimSpace(o.instructions))
	if cfg.Tools.Wordlist != "" {
		notes = append(notes, fmt.Sprintf("Use %s as the gobuster wordlist unless the results call for another.", cfg.Tools.Wordlist))
	}
	spec.Instructions = joinNonEmpty(notes, "\n")

	return spec, nil
}

func joinNonEmpty(parts []string, sep string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
