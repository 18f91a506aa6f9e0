package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/registry"
)

var stateSetSelfCmd = &cobra.Command{
	Use:   "state-set-self <full> <status>",
	Short: "Transition your own agent status: working, draining, or idle",
	Long:  "idle is only reachable from draining, and only when your inbox is empty",
	Args:  cobra.ExactArgs(2),
	RunE:  runStateSetSelf,
}

var stateSetCmd = &cobra.Command{
	Use:   "state-set <full> <status>",
	Short: "Force another worker's agent status, bypassing normal self-transition rules",
	Long:  "draining and idle targets require --force",
	Args:  cobra.ExactArgs(2),
	RunE:  runStateSet,
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the watcher: no drive nudges, wake scheduling, or stale-inbox alerts will fire",
	Args:  cobra.NoArgs,
	RunE:  runPause,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the watcher after a pause",
	Args:  cobra.NoArgs,
	RunE:  runResume,
}

func init() {
	rootCmd.AddCommand(stateSetSelfCmd, stateSetCmd, pauseCmd, resumeCmd)
	stateSetCmd.Flags().Bool("force", false, "required to force a draining or idle target")
}

func runStateSetSelf(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	full := args[0]
	target := domain.NormalizeAgentStatus(args[1])

	reg, err := a.Registry.Load()
	if err != nil {
		return err
	}
	mem := registry.Resolve(reg, full)
	if mem == nil {
		return fmt.Errorf("%s not found", full)
	}

	st, err := a.Agent.SetSelf(full, mem.Base, target, a.Clock.Now())
	if err != nil {
		return err
	}
	fmt.Printf("%s status is now %s\n", full, st.Status)
	return nil
}

func runStateSet(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	full := args[0]
	target := domain.NormalizeAgentStatus(args[1])
	force, _ := cmd.Flags().GetBool("force")

	if !force && (target == domain.StatusDraining || target == domain.StatusIdle) {
		return domain.StateConflictf("state-set %s requires --force", target)
	}

	st, err := a.Agent.SetForce(full, target)
	if err != nil {
		return err
	}
	fmt.Printf("%s status forced to %s\n", full, st.Status)
	return nil
}

func runPause(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	pausedPath := filepath.Join(a.Cfg.TeamDir, ".paused")
	if err := os.WriteFile(pausedPath, []byte(a.Clock.Now().UTC().Format("2006-01-02T15:04:05Z")), 0o644); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	fmt.Println("watcher paused")
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	pausedPath := filepath.Join(a.Cfg.TeamDir, ".paused")
	if err := os.Remove(pausedPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("resume: %w", err)
	}
	fmt.Println("watcher resumed")
	return nil
}
