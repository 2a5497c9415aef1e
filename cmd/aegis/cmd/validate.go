package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aegisrun/aegis/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate an agent config file without starting a session",
	Long: `Validate reads the config file, checks every struct-tag constraint,
and enforces the cross-agent invariants (no duplicate agent names, no
dangling handoff.can_delegate_to reference, verification.mode=never
never paired with bash/write_file) without connecting to any provider
or MCP server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("validate: %w", err)
		}
		fmt.Printf("config OK: %d agent(s) defined\n", len(cfg.Agents))
		for _, a := range cfg.Agents {
			fmt.Printf("  - %s (model=%s, verification=%s, builtins=%v)\n", a.Name, a.Model, a.Verification.Mode, a.Tools.Builtin)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
