package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/registry"
)

var handoffCmd = &cobra.Command{
	Use:   "handoff <created_by_full> <a> <b>",
	Short: "Grant a temporary direct-communication permit between two worker bases",
	Args:  cobra.ExactArgs(3),
	RunE:  runHandoff,
}

func init() {
	rootCmd.AddCommand(handoffCmd)
	handoffCmd.Flags().String("reason", "", "why this handoff is being created")
	handoffCmd.Flags().Duration("ttl", time.Hour, "how long the permit lasts")
}

func runHandoff(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	createdByFull, base1, base2 := args[0], args[1], args[2]
	reason, _ := cmd.Flags().GetString("reason")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	reg, err := a.Registry.Load()
	if err != nil {
		return err
	}
	creator := registry.Resolve(reg, createdByFull)
	if creator == nil {
		return fmt.Errorf("creator %s not found", createdByFull)
	}
	if !a.Policy.HandoffCreator(creator.Role) {
		return fmt.Errorf("role %s may not create handoffs", creator.Role)
	}

	now := a.Clock.Now()
	var permitID string
	if err := a.Registry.Mutate(func(reg *domain.Registry) error {
		p := registry.AddPermit(reg, now, base1, base2, createdByFull, creator.Role, reason, ttl)
		permitID = p.ID
		return nil
	}); err != nil {
		return err
	}

	fmt.Printf("handoff %s granted between %s and %s\n", permitID, base1, base2)
	return nil
}
