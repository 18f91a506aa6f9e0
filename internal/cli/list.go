package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kunhuang12345/atwf/internal/inbox"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered workers, requests, and drive state",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().Bool("requests", false, "list requests instead of workers")
	listCmd.Flags().Bool("drive", false, "show drive state instead of workers")
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	showRequests, _ := cmd.Flags().GetBool("requests")
	showDrive, _ := cmd.Flags().GetBool("drive")

	switch {
	case showRequests:
		return listRequests(a)
	case showDrive:
		return listDrive(a)
	default:
		return listWorkers(a)
	}
}

func listWorkers(a *App) error {
	reg, err := a.Registry.Load()
	if err != nil {
		return err
	}
	if len(reg.Members) == 0 {
		fmt.Println("no workers registered")
		return nil
	}
	for _, m := range reg.Members {
		parent := m.Parent
		if parent == "" {
			parent = "(none)"
		}
		unread, overflow, _, err := inbox.ListUnread(a.Cfg.TeamDir, m.Base)
		if err != nil {
			unread, overflow = 0, 0
		}
		fmt.Printf("%-32s role=%-8s parent=%-24s children=%d unread=%d overflow=%d created=%s\n",
			m.Full, m.Role, parent, len(m.Children), unread, overflow, humanize.Time(m.CreatedAt))
	}
	return nil
}

func listRequests(a *App) error {
	all, err := a.Requests.ListAll()
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Println("no requests")
		return nil
	}
	for _, m := range all {
		replied := 0
		for _, t := range m.Targets {
			if t.Status == "replied" {
				replied++
			}
		}
		fmt.Printf("%-16s status=%-10s topic=%-24q from=%-16s replies=%d/%d opened=%s\n",
			m.ID, m.Status, m.Topic, m.From.Base, replied, len(m.Targets), humanize.Time(m.CreatedAt))
	}
	return nil
}

func listDrive(a *App) error {
	d, err := a.Drive.LoadDrive()
	if err != nil {
		return err
	}
	fmt.Printf("mode=%s paused=%v\n", d.Mode, a.Drive.Paused())
	if d.LastTriggeredAt != nil {
		fmt.Printf("last triggered %s: %s\n", humanize.Time(*d.LastTriggeredAt), d.LastReason)
	} else {
		fmt.Println("never triggered")
	}
	return nil
}
