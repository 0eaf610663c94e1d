package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/klubi/scout/internal/tools"
)

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools the model can call",
		Long: `List the registered tools with the binary each one runs, its timeout
and its parameters (* marks required ones). Binaries and timeouts reflect
the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, err := tools.DefaultRegistry(cfg.Tools.Binaries)
			if err != nil {
				return err
			}
			overrides := cfg.ToolTimeouts()

			rows := make([][]string, 0, len(reg.Names()))
			for _, spec := range reg.All() {
				timeout := spec.Timeout
				if t, ok := overrides[spec.Name]; ok {
					timeout = t
				}
				params := make([]string, 0, len(spec.Params))
				for _, p := range spec.Params {
					name := p.Name
					if p.Required {
						name += "*"
					}
					params = append(params, fmt.Sprintf("%s:%s", name, p.Type))
				}
				rows = append(rows, []string{spec.Name, spec.Binary, timeout.String(), strings.Join(params, " ")})
			}

			return printOutput(cmd.OutOrStdout(), reg.Schemas(),
				[]string{"NAME", "BINARY", "TIMEOUT", "PARAMETERS"}, rows)
		},
	}

	return cmd
}
