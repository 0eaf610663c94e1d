package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/klubi/scout/internal/config"
	"github.com/klubi/scout/internal/store"
	"github.com/klubi/scout/internal/tui"
	"github.com/klubi/scout/pkg/client"
)

var (
	configPath string
	logLevel   string
	serverAddr string
)

// NewRootCmd creates the top-level scout command. Run with a target it
// performs a reconnaissance run; the subcommands manage saved runs and the
// API server.
func NewRootCmd() *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scout <target>",
		Short: "LLM-driven reconnaissance of a single target",
		Long: `Scout lets a language model drive nmap, gobuster, whatweb, nikto and
sqlmap against one target. Each round the model picks the next tools to run,
reads their output and decides whether it has seen enough.

Only scan hosts you are authorised to test.`,
		Example: `  scout 10.10.10.5
  scout 10.10.10.5 --quick
  scout scanme.example --iterations 6 --save-log
  scout 10.10.10.5 --profile web.yaml --provider openai --model gpt-4o-mini`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, args[0], opts)
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.scout/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table|json|yaml")

	opts.addFlags(cmd)

	cmd.AddCommand(
		newRunsCmd(),
		newShowCmd(),
		newDeleteCmd(),
		newToolsCmd(),
		newInitCmd(),
		newServeCmd(),
		newUICmd(),
	)

	return cmd
}

// loadConfig loads the configuration named by --config and applies the
// global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openStore opens the run database.
func openStore(cfg *config.Config) (*store.BoltStore, error) {
	s, err := store.NewBoltStore(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("opening store at %s (is scout serve running? use --server): %w", cfg.DBPath(), err)
	}
	return s, nil
}

// addServerFlag registers --server on commands that can read runs from a
// running API server instead of the local database.
func addServerFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serverAddr, "server", "", "Read runs from this scout API server instead of the local database")
}

// openSource returns where saved runs are read from: the API server named
// by --server, or the local database. The returned func releases it.
func openSource() (tui.Source, string, func() error, error) {
	if serverAddr != "" {
		return client.New(serverAddr), serverAddr, func() error { return nil }, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", nil, err
	}
	s, err := openStore(cfg)
	if err != nil {
		return nil, "", nil, err
	}
	return tui.StoreSource{Store: s}, cfg.DBPath(), s.Close, nil
}
