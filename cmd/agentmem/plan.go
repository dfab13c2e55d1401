package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/oceanbase/agentmem-go/pkg/core"
	"github.com/oceanbase/agentmem-go/pkg/planner"
)

func newPlanCmd(a *app) *cobra.Command {
	var roster []string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Draft plans and approve or revise them across invocations",
	}
	cmd.PersistentFlags().StringSliceVar(&roster, "agent", nil, "agents plans may assign tasks to")

	run := func(fn func(ctx context.Context, p *planner.Planner, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			p, closeFn, err := a.planner(roster)
			if err != nil {
				return err
			}
			defer closeFn()
			return fn(cmd.Context(), p, cmd, args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "propose <thread-id> <task>",
			Short: "Draft a plan and wait for approval",
			Args:  cobra.ExactArgs(2),
			RunE: run(func(ctx context.Context, p *planner.Planner, cmd *cobra.Command, args []string) error {
				cp, err := p.Propose(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				printCheckpoint(cmd.OutOrStdout(), cp)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "resume <thread-id> <reply>",
			Short: "Approve the pending plan or give feedback for a revision",
			Args:  cobra.ExactArgs(2),
			RunE: run(func(ctx context.Context, p *planner.Planner, cmd *cobra.Command, args []string) error {
				cp, err := p.Resume(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				printCheckpoint(cmd.OutOrStdout(), cp)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "show <thread-id>",
			Short: "Print a thread's plan",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(ctx context.Context, p *planner.Planner, cmd *cobra.Command, args []string) error {
				cp, err := p.Checkpoint(ctx, args[0])
				if err != nil {
					return err
				}
				printCheckpoint(cmd.OutOrStdout(), cp)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "pending",
			Short: "List threads awaiting approval",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, p *planner.Planner, cmd *cobra.Command, _ []string) error {
				cps, err := p.Pending(ctx)
				if err != nil {
					return err
				}
				for _, cp := range cps {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\trevision %d\t%s\n", cp.ThreadID, cp.Revision, cp.Task)
				}
				return nil
			}),
		},
	)
	return cmd
}

func (a *app) planner(roster []string) (*planner.Planner, func(), error) {
	client, err := a.client()
	if err != nil {
		return nil, nil, err
	}
	if client.LLM() == nil {
		_ = client.Close()
		return nil, nil, errors.New("plan: an LLM provider is required (set LLM_PROVIDER)")
	}
	checkpoints, err := planner.NewCheckpointStore(a.cfg.Planner)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	ns := planner.DefaultNamespace
	if len(a.cfg.Planner.Namespace) > 0 {
		ns = core.NewNamespace(a.cfg.Planner.Namespace...)
	}
	p, err := planner.New(client.LLM(), checkpoints, client, ns,
		planner.WithRoster(roster...), planner.WithLogger(a.logger))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return p, func() {
		if c, ok := checkpoints.(io.Closer); ok {
			_ = c.Close()
		}
		_ = client.Close()
	}, nil
}

func printCheckpoint(w io.Writer, cp *planner.Checkpoint) {
	fmt.Fprintf(w, "thread:   %s\nphase:    %s\nrevision: %d\ntask:     %s\n\n%s\n", cp.ThreadID, cp.Phase, cp.Revision, cp.Task, cp.Plan)
}
