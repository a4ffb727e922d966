// Command enginectl is the operator CLI: pause/unpause, inspect the tool
// allowlist, tail the turn stream, and list past runs — all against an
// already-running engined over HTTP, the same separation the teacher
// keeps between its CLI and its gateway process.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vizloop/enginecore/internal/domain/entity"
	"github.com/vizloop/enginecore/internal/interfaces/cli"
)

const cliName = "enginectl"

func main() {
	var addr string

	rootCmd := &cobra.Command{
		Use:   cliName,
		Short: "operator CLI for the visual-loop engine daemon",
	}
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://127.0.0.1:8080", "engined base URL")

	rootCmd.AddCommand(
		pauseCmd(&addr),
		unpauseCmd(&addr),
		statusCmd(&addr),
		toolsCmd(&addr),
		tailCmd(&addr),
		runsCmd(&addr),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func pauseCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "pause the engine at the next turn boundary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.NewClient(*addr).Pause()
		},
	}
}

func unpauseCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "unpause",
		Short: "resume a paused engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.NewClient(*addr).Unpause()
		},
	}
}

func statusCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print /health",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := cli.NewClient(*addr).Health()
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(h, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func toolsCmd(addr *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "inspect or replace the tool allowlist",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "print the current allowlist",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := cli.NewClient(*addr).GetAllowedTools()
			if err != nil {
				return err
			}
			fmt.Println(strings.Join(names, ", "))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [name...]",
		Short: "atomically replace the allowlist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.NewClient(*addr).SetAllowedTools(args)
		},
	})

	return cmd
}

func tailCmd(addr *string) *cobra.Command {
	var replay int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "stream turns as they happen, markdown-rendered",
		RunE: func(cmd *cobra.Command, args []string) error {
			renderer := cli.NewRenderer(100)
			return cli.NewClient(*addr).TailEvents(replay, func(t *entity.Turn) bool {
				fmt.Println(renderer.RenderTurn(t))
				return true
			})
		},
	}
	cmd.Flags().IntVar(&replay, "replay", 20, "number of past turns to replay before following live")
	return cmd
}

func runsCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "list past and current runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := cli.NewClient(*addr).Runs()
			if err != nil {
				return err
			}
			for _, r := range runs {
				fmt.Printf("%s  %-10s  seq=%-5d  %s\n", r.RunID, r.Status, r.LastSeq, r.RunDir)
			}
			return nil
		},
	}
}
