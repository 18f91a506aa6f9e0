package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/registry"
	"github.com/kunhuang12345/atwf/internal/workerctl"
)

var hireCmd = &cobra.Command{
	Use:   "hire <parent_full> <base> <role>",
	Short: "Spawn a child worker reporting to an existing parent worker",
	Args:  cobra.ExactArgs(3),
	RunE:  runHire,
}

func init() {
	rootCmd.AddCommand(hireCmd)
	hireCmd.Flags().String("scope", "", "free-text scope note for this worker")
}

func runHire(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	parentFull, base, role := args[0], args[1], args[2]
	scope, _ := cmd.Flags().GetString("scope")

	reg, err := a.Registry.Load()
	if err != nil {
		return err
	}
	parent := registry.Resolve(reg, parentFull)
	if parent == nil {
		return fmt.Errorf("parent %s not found", parentFull)
	}
	if !a.Policy.CanHire(parent.Role, role) {
		return fmt.Errorf("role %s may not hire role %s", parent.Role, role)
	}

	full, stateFile, err := a.Ctl.Spawn(cmd.Context(), parentFull, base, workerctl.Opts{Role: role, Scope: scope})
	if err != nil {
		return err
	}

	now := a.Clock.Now()
	if err := a.Registry.Mutate(func(reg *domain.Registry) error {
		registry.EnsureMember(reg, now, full, base, role, scope, parentFull, stateFile)
		registry.AddChild(reg, parentFull, full)
		return nil
	}); err != nil {
		return err
	}

	fmt.Printf("hired %s (role=%s) under %s\n", full, role, parentFull)
	return nil
}
