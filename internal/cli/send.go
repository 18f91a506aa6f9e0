package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kunhuang12345/atwf/internal/commgate"
	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/inbox"
	"github.com/kunhuang12345/atwf/internal/registry"
)

var sendCmd = &cobra.Command{
	Use:   "send <from_full> <to_full> <summary> <body>",
	Short: "Send a direct message from one worker to another, subject to the team's comm policy",
	Args:  cobra.ExactArgs(4),
	RunE:  runSend,
}

var broadcastCmd = &cobra.Command{
	Use:   "broadcast <from_full> <summary> <body>",
	Short: "Broadcast a message to every recipient the sender's role is allowed to reach",
	Args:  cobra.ExactArgs(3),
	RunE:  runBroadcast,
}

func init() {
	rootCmd.AddCommand(sendCmd, broadcastCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	fromFull, toFull, summary, body := args[0], args[1], args[2], args[3]

	now := a.Clock.Now()
	reg, err := a.Registry.Load()
	if err != nil {
		return err
	}
	if ok, reason := commgate.Allowed(reg, a.Policy, now, fromFull, toFull); !ok {
		return fmt.Errorf("comm denied: %s", reason)
	}
	from := registry.Resolve(reg, fromFull)
	to := registry.Resolve(reg, toFull)
	if from == nil || to == nil {
		return fmt.Errorf("sender or recipient not found")
	}

	msg, err := a.Inbox.WriteMessage(now, domain.KindDirect, fromFull, from.Base, toFull, to.Base, summary, body, a.Cfg.MaxUnreadPerThread)
	if err != nil {
		return err
	}

	env := inbox.Envelope(msg.MessageHeader, to.Role, body)
	if err := a.Ctl.Send(cmd.Context(), toFull, env); err != nil {
		a.Logger.Printf("send: injection into %s failed: %v", toFull, err)
	}

	fmt.Printf("message %s delivered to %s\n", msg.ID, toFull)
	return nil
}

func runBroadcast(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	fromFull, summary, body := args[0], args[1], args[2]

	reg, err := a.Registry.Load()
	if err != nil {
		return err
	}
	from := registry.Resolve(reg, fromFull)
	if from == nil {
		return fmt.Errorf("sender %s not found", fromFull)
	}
	if !commgate.BroadcastAllowed(a.Policy, from.Role) {
		return fmt.Errorf("role %s may not broadcast", from.Role)
	}

	targets := commgate.BroadcastRecipients(reg, a.Policy, fromFull)
	recipients := make([]inbox.Recipient, 0, len(targets))
	for _, m := range targets {
		recipients = append(recipients, inbox.Recipient{Full: m.Full, Base: m.Base, Role: m.Role, StateFile: m.StateFile})
	}

	now := a.Clock.Now()
	results, err := a.Inbox.Broadcast(cmd.Context(), now, domain.KindBroadcast, fromFull, from.Base, recipients, summary, body, a.Cfg.MaxUnreadPerThread, a.Ctl)
	if err != nil {
		return err
	}

	fmt.Printf("broadcast delivered to %d recipient(s)\n", len(results))
	return nil
}
