package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/registry"
	"github.com/kunhuang12345/atwf/internal/workerctl"
)

var registerCmd = &cobra.Command{
	Use:   "register <base> <role>",
	Short: "Start a new top-level worker session and record it in the team registry",
	Args:  cobra.ExactArgs(2),
	RunE:  runRegister,
}

func init() {
	rootCmd.AddCommand(registerCmd)
	registerCmd.Flags().String("scope", "", "free-text scope note for this worker")
}

func runRegister(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	base, role := args[0], args[1]
	if !a.Policy.IsRoleEnabled(role) {
		return fmt.Errorf("role %s is not enabled", role)
	}
	scope, _ := cmd.Flags().GetString("scope")

	full, stateFile, err := a.Ctl.Start(cmd.Context(), base, workerctl.Opts{Role: role, Scope: scope})
	if err != nil {
		return err
	}

	now := a.Clock.Now()
	if err := a.Registry.Mutate(func(reg *domain.Registry) error {
		registry.EnsureMember(reg, now, full, base, role, scope, "", stateFile)
		return nil
	}); err != nil {
		return err
	}

	fmt.Printf("registered %s (role=%s)\n", full, role)
	return nil
}
