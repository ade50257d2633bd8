package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agent-command/tgbridge/internal/proc"
	"github.com/agent-command/tgbridge/internal/tmux"
)

var sessionsJSON bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List the Claude sessions the listener would see",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

func init() {
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "output in JSON format")
	rootCmd.AddCommand(sessionsCmd)
}

type sessionInfo struct {
	Window  string `json:"wid"`
	PaneID  string `json:"pane_id"`
	Target  string `json:"tmux_target"`
	Project string `json:"project"`
	Branch  string `json:"branch,omitempty"`
	CWD     string `json:"cwd"`
}

func runSessions(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	scanner := tmux.NewScanner(tmux.NewClient(&cfg.Tmux), cfg.Tmux.AgentCommand,
		func() proc.Tree { return proc.TakeSnapshot() },
		tmux.NewGitCache(gitCacheTTL))
	res, err := scanner.Scan(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list panes: %w", err)
	}

	infos := make([]sessionInfo, 0, len(res.Sessions))
	for _, w := range res.Windows() {
		s := res.Sessions[w]
		infos = append(infos, sessionInfo{
			Window:  s.ID(),
			PaneID:  s.Pane.PaneID,
			Target:  s.Pane.Target(),
			Project: s.Project,
			Branch:  s.Branch,
			CWD:     s.Pane.CurrentPath,
		})
	}

	out := cmd.OutOrStdout()
	if sessionsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}
	if len(infos) == 0 {
		fmt.Fprintln(out, "No Claude sessions found.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WINDOW\tPANE\tTARGET\tPROJECT\tBRANCH")
	for _, s := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Window, s.PaneID, s.Target, s.Project, s.Branch)
	}
	return tw.Flush()
}
