// Command dshell is the attach client: an interactive REPL plus a couple
// of standalone subcommands (list, history) that don't require attaching.
package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/inshell/internal/audit"
	"github.com/ehrlich-b/inshell/internal/client"
	"github.com/ehrlich-b/inshell/internal/config"
	"github.com/ehrlich-b/inshell/internal/discover"
)

func main() {
	root := &cobra.Command{
		Use:   "dshell",
		Short: "dshell attach client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell()
		},
	}

	root.AddCommand(listCmd())
	root.AddCommand(historyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runShell() error {
	sh := client.NewShell(os.Stdin, os.Stdout)
	defer sh.Close()
	return sh.Run()
}

// listCmd is the supplemental `dshell list`: runs the discovery provider
// directly, independent of attach.
func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list live dshelld targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := discover.Scan()
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				fmt.Println("no targets found")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PID\tNAME")
			for _, t := range targets {
				name := t.Name
				if name == "" {
					name = "?"
				}
				fmt.Fprintf(w, "%d\t%s\n", t.PID, name)
			}
			return w.Flush()
		},
	}
}

// historyCmd is the supplemental `dshell history <pid>`: prints the
// audit log for a target.
func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <pid>",
		Short: "show the recorded dispatch history for a target pid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid pid %q: %w", args[0], err)
			}

			cfgDir, err := config.Dir()
			if err != nil {
				return err
			}
			cfg, err := config.Load(cfgDir)
			if err != nil {
				return err
			}

			auditLog, err := audit.Open(cfg.AuditDBPath(cfgDir))
			if err != nil {
				return fmt.Errorf("open audit log: %w", err)
			}
			defer auditLog.Close()

			entries, err := auditLog.ListByPID(pid)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Printf("no recorded dispatches for pid %d\n", pid)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "AT\tLINE\tDURATION\tERROR")
			for _, e := range entries {
				errText := e.Error
				if errText == "" {
					errText = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.At.Format(time.RFC3339), e.Line, e.Duration, errText)
			}
			return w.Flush()
		},
	}
}
