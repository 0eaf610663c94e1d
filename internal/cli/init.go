package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/klubi/scout/internal/config"
)

const configTemplate = `# scout configuration. Environment variables override these values:
# SCOUT_MODEL_PROVIDER, SCOUT_MODEL, SCOUT_LOG_LEVEL, SCOUT_DATA_DIR,
# SCOUT_OUTPUT_LIMIT, OLLAMA_HOST, OPENAI_API_KEY, GEMINI_API_KEY.

model:
  provider: %s          # ollama | openai | googleai
  name: %s
  # endpoint: http://localhost:11434
  # apiKey: ""              # empty uses OPENAI_API_KEY / GEMINI_API_KEY
  requestTimeout: 300       # seconds per model call

store:
  dataDir: %s

tools:
  outputLimit: 4000         # bytes of each tool's output shown to the model
  # wordlist: /usr/share/wordlists/dirb/common.txt
  # binaries:
  #   nmap: /usr/local/bin/nmap
  # timeouts:               # seconds
  #   nikto: 600

agent:
  defaultMode: normal       # quick | normal | deep
  stream: true

server:
  host: 127.0.0.1
  port: 7118

log:
  level: info               # debug | info | warn | error
  format: console           # console | json
`

const profileTemplate = `apiVersion: scout.dev/v1alpha1
kind: ScanProfile
metadata:
  name: web
spec:
  maxIterations: 8
  tools: [nmap, whatweb, gobuster, nikto]
  toolTimeouts:
    nikto: 600
  outputLimit: 6000
  instructions: |
    Focus on the web services. Skip UDP.
`

func newInitCmd() *cobra.Command {
	var (
		path    string
		force   bool
		profile bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented config file",
		Long: `Write a config file with every option and its default, ready to edit.
With --profile, also write an example ScanProfile to web-profile.yaml in the
current directory.`,
		Example: `  scout init
  scout init --path ./scout.yaml --force
  scout init --profile`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = config.DefaultPath()
			}
			defaults := config.DefaultConfig()

			// Check if file already exists.
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("file %s already exists. Use --force to overwrite", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return fmt.Errorf("creating config directory: %w", err)
			}
			content := fmt.Sprintf(configTemplate, defaults.Model.Provider, defaults.Model.Name, defaults.Store.DataDir)
			if err := os.WriteFile(path, []byte(content), 0600); err != nil {
				return fmt.Errorf("writing config file: %w", err)
			}

			profilePath := ""
			if profile {
				profilePath = "web-profile.yaml"
				if _, err := os.Stat(profilePath); err == nil && !force {
					return fmt.Errorf("file %s already exists. Use --force to overwrite", profilePath)
				}
				if err := os.WriteFile(profilePath, []byte(profileTemplate), 0644); err != nil {
					return fmt.Errorf("writing profile: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			bold := color.New(color.FgCyan, color.Bold)
			bold.Fprintln(out, "scout configured!")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Config:  %s\n", path)
			if profilePath != "" {
				fmt.Fprintf(out, "  Profile: %s\n", profilePath)
			}
			fmt.Fprintln(out)

			color.New(color.Bold).Fprintln(out, "Next steps:")
			fmt.Fprintln(out, "  1. Pick a model and make sure it is reachable:")
			fmt.Fprintf(out, "     vi %s\n", path)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "  2. Check which scanners scout will run:")
			fmt.Fprintln(out, "     scout tools")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "  3. Scan a host you are authorised to test:")
			fmt.Fprintln(out, "     scout 10.10.10.5 --quick --save-log")
			if profilePath != "" {
				fmt.Fprintf(out, "     scout 10.10.10.5 --profile %s\n", profilePath)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "Where to write the config (default: ~/.scout/config.yaml)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")
	cmd.Flags().BoolVar(&profile, "profile", false, "Also write an example ScanProfile")

	return cmd
}
