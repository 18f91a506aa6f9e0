package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var gatherCmd = &cobra.Command{
	Use:   "gather <actor_full> <topic> <message> <targets>",
	Short: "Open a reply-needed request asking one or more workers to respond by a deadline",
	Long:  "targets is a comma-separated list of base names, e.g. dev-C,dev-D",
	Args:  cobra.ExactArgs(4),
	RunE:  runGather,
}

var respondCmd = &cobra.Command{
	Use:   "respond <request_id> <actor_base> <body>",
	Short: "Respond to an open reply-needed request, either with a reply or a blocked snooze",
	Args:  cobra.ExactArgs(3),
	RunE:  runRespond,
}

func init() {
	rootCmd.AddCommand(gatherCmd, respondCmd)
	gatherCmd.Flags().Int("deadline-seconds", 300, "deadline in seconds, clamped to [60, 86400]")
	respondCmd.Flags().Bool("blocked", false, "snooze instead of finalizing this target's reply")
	respondCmd.Flags().Int("snooze-seconds", 0, "snooze duration when blocked, clamped to [30, 86400]")
	respondCmd.Flags().String("waiting-on", "", "what this target is blocked waiting on, if blocked")
}

func runGather(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	actorFull, topic, message, targetsArg := args[0], args[1], args[2], args[3]
	deadlineS, _ := cmd.Flags().GetInt("deadline-seconds")

	var targets []string
	for _, t := range strings.Split(targetsArg, ",") {
		if t = strings.TrimSpace(t); t != "" {
			targets = append(targets, t)
		}
	}
	if len(targets) == 0 {
		return fmt.Errorf("targets is required")
	}

	now := a.Clock.Now()
	reg, err := a.Registry.Load()
	if err != nil {
		return err
	}
	meta, err := a.Requests.Gather(now, reg, a.Policy, actorFull, topic, message, deadlineS, targets)
	if err != nil {
		return err
	}

	fmt.Printf("request %s opened, waiting on %d target(s)\n", meta.ID, len(meta.Targets))
	return nil
}

func runRespond(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	requestID, actorBase, body := args[0], args[1], args[2]
	blocked, _ := cmd.Flags().GetBool("blocked")
	snoozeS, _ := cmd.Flags().GetInt("snooze-seconds")
	waitingOn, _ := cmd.Flags().GetString("waiting-on")

	now := a.Clock.Now()
	meta, err := a.Requests.Respond(now, requestID, actorBase, body, blocked, snoozeS, body, waitingOn)
	if err != nil {
		return err
	}

	status := "recorded"
	if meta.FinalizedAt != nil {
		status = fmt.Sprintf("finalized (%s)", meta.Status)
	}
	fmt.Printf("response to %s %s\n", requestID, status)
	return nil
}
