package gce

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/eniac111/computectl/internal/compute"
	"github.com/eniac111/computectl/internal/script"
	"github.com/eniac111/computectl/internal/ssh"
	"github.com/eniac111/computectl/internal/types"
)

// maxParallelSessions bounds the SSH sessions open at once.
const maxParallelSessions = 10

// defaultTaskName names init scripts run without a task name.
const defaultTaskName = "computectl-script"

type scriptRunner interface {
	Run(ctx context.Context, node types.Node, body string, opts compute.RunOptions) (types.ExecResponse, error)
}

func (s *Service) RunScriptOnNodesMatching(ctx context.Context, filter compute.NodePredicate, body string, opts compute.RunOptions) ([]compute.ExecResult, error) {
	const op = "run script"

	if opts.Login == nil {
		return nil, compute.NewError(compute.ExecutionFailure, op, errors.New("no login credentials given"))
	}

	nodes, err := s.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	matched := compute.Filter(nodes, compute.And(compute.Running(), filter))

	results := make([]compute.ExecResult, len(matched))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelSessions)
	for i, n := range matched {
		g.Go(func() error {
			s.log.WithField("node", n.ID).Debug("running script")
			resp, err := s.runner.Run(gctx, n, body, opts)
			results[i] = compute.ExecResult{Node: n, Response: resp, Err: err}
			// per-node failures are reported in the results
			return nil
		})
	}
	_ = g.Wait()

	var (
		failed []string
		errs   []error
	)
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r.Node.ID)
			errs = append(errs, fmt.Errorf("%s: %w", r.Node.ID, r.Err))
		}
	}
	if len(errs) > 0 {
		return results, &compute.Error{
			Kind:  compute.ExecutionFailure,
			Op:    op,
			Nodes: failed,
			Err:   errors.Join(errs...),
		}
	}
	return results, nil
}

// sshRunner runs scripts over SSH with the login from the run options.
type sshRunner struct {
	dialer     *ssh.Dialer
	knownHosts string
}

func (r *sshRunner) Run(ctx context.Context, node types.Node, body string, opts compute.RunOptions) (types.ExecResponse, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	host := ssh.HostFor(node, *opts.Login, r.knownHosts)
	if host.Name == "" {
		return types.ExecResponse{ExitStatus: -1}, errors.New("node has no address")
	}

	client, err := r.dialer.Connect(ctx, host)
	if err != nil {
		return types.ExecResponse{ExitStatus: -1}, err
	}
	defer client.Close()

	if opts.WrapInInitScript {
		name := opts.TaskName
		if name == "" {
			name = defaultTaskName
		}
		return ssh.RunInitScript(ctx, client, script.InitScript{Name: name, Body: body}, opts.RunAsRoot)
	}

	cmd := script.Exec(body)
	if opts.RunAsRoot {
		cmd = script.Sudo(cmd)
	}
	return ssh.RunCommand(client, cmd)
}
