// Package dispatch maps a parsed invocation to one call on a compute
// service and reports the result.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eniac111/computectl/internal/compute"
	"github.com/eniac111/computectl/internal/config"
	"github.com/eniac111/computectl/internal/invocation"
	"github.com/eniac111/computectl/internal/script"
	"github.com/eniac111/computectl/internal/ssh"
	"github.com/eniac111/computectl/internal/types"
)

// Dispatcher runs a single action against Compute.
type Dispatcher struct {
	Compute compute.Service
	// Login is required by ADD, EXEC and RUN.
	Login *types.LoginCredentials
	Log   logrus.FieldLogger
	// Out receives listings and script results rendered in Output.
	Out    io.Writer
	Output string
	// Zone, Image and MachineType are used by ADD. An empty MachineType
	// picks the fastest one in Zone.
	Zone        string
	Image       string
	MachineType string
	// NodeTimeout bounds EXEC and RUN on each node. Zero means no limit.
	NodeTimeout time.Duration

	ReadFile func(name string) ([]byte, error)
}

// Run performs inv and closes Compute. A failed action is logged by
// failure kind and returned.
func (d *Dispatcher) Run(ctx context.Context, inv invocation.Invocation) error {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.Out == nil {
		d.Out = os.Stdout
	}
	if d.Output == "" {
		d.Output = config.OutputText
	}
	if d.ReadFile == nil {
		d.ReadFile = os.ReadFile
	}

	defer func() {
		if err := d.Compute.Close(); err != nil {
			d.Log.WithError(err).Warn("failed to close compute service")
		}
	}()

	var err error
	switch inv.Action {
	case invocation.ActionAdd:
		err = d.add(ctx, inv.Group)
	case invocation.ActionExec:
		err = d.exec(ctx, inv.Group, inv.Command)
	case invocation.ActionRun:
		err = d.run(ctx, inv.Group, inv.FilePath)
	case invocation.ActionDestroy:
		err = d.destroy(ctx, inv.Group, inv.NodeID)
	case invocation.ActionListImages:
		err = d.listImages(ctx)
	case invocation.ActionListNodes:
		err = d.listNodes(ctx)
	default:
		err = fmt.Errorf("unsupported action %s", inv.Action)
	}

	if err != nil {
		d.logFailure(inv, err)
	}
	return err
}

func (d *Dispatcher) logFailure(inv invocation.Invocation, err error) {
	log := d.Log.WithError(err)
	switch compute.KindOf(err) {
	case compute.ProvisionFailure:
		log.Errorf("error adding node to group %s", inv.Group)
	case compute.ExecutionFailure:
		command := inv.Command
		if command == "" {
			command = inv.FilePath
		}
		log.Errorf("error executing %s on group %s", command, inv.Group)
	default:
		log.Error("error")
	}
}

func (d *Dispatcher) login(kind compute.Kind, op string) (types.LoginCredentials, error) {
	if d.Login == nil {
		return types.LoginCredentials{}, compute.NewError(kind, op, errors.New("no login credentials"))
	}
	return *d.Login, nil
}

func (d *Dispatcher) add(ctx context.Context, group string) error {
	const op = "add node"

	d.Log.Infof(">> adding node to group %s", group)

	login, err := d.login(compute.ProvisionFailure, op)
	if err != nil {
		return err
	}
	authorizedKey, err := ssh.AuthorizedKey(login)
	if err != nil {
		return compute.NewError(compute.ProvisionFailure, op, err)
	}

	builder := compute.NewTemplateBuilder(d.Compute).
		ImageID(d.Image).
		LocationID(d.Zone).
		Fastest()
	if d.MachineType != "" {
		builder = builder.HardwareID(d.MachineType)
	}
	// creates a user named like the local one, reachable with the local key
	tmpl, err := builder.
		Options(compute.TemplateOptions{
			BootScript: script.AdminAccess(login.User, authorizedKey),
			Login:      &login,
		}).
		Build(ctx)
	if err != nil {
		return err
	}

	nodes, err := d.Compute.CreateNodesInGroup(ctx, group, 1, tmpl)
	if err != nil {
		return err
	}
	if len(nodes) != 1 {
		return compute.NewError(compute.ProvisionFailure, op, fmt.Errorf("expected one node, got %d", len(nodes)))
	}

	node := nodes[0]
	d.Log.Infof("<< node %s: %s", node.ID, addressList(node.Addresses()))
	return nil
}

func (d *Dispatcher) exec(ctx context.Context, group, command string) error {
	login, err := d.login(compute.ExecutionFailure, "run script")
	if err != nil {
		return err
	}

	d.Log.Infof(">> running %s on group %s as %s", command, group, login.User)

	opts := compute.OverrideLoginCredentials(login).
		WithRunAsRoot(false).
		WithInitScript(false).
		WithTimeout(d.NodeTimeout)
	results, err := d.Compute.RunScriptOnNodesMatching(ctx, compute.InGroup(group), script.Exec(command), opts)
	return d.report(results, err)
}

func (d *Dispatcher) run(ctx context.Context, group, file string) error {
	login, err := d.login(compute.ExecutionFailure, "run script")
	if err != nil {
		return err
	}

	body, err := d.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}

	d.Log.Infof(">> running %s on group %s as %s", file, group, login.User)

	// the task name differs from the file name so status files don't clash
	opts := compute.OverrideLoginCredentials(login).
		WithRunAsRoot(false).
		NameTask(script.TaskName(file)).
		WithTimeout(d.NodeTimeout)
	results, err := d.Compute.RunScriptOnNodesMatching(ctx, compute.InGroup(group), string(body), opts)
	return d.report(results, err)
}

// report logs and renders script results. Partial results of a failed
// run are reported before err is returned.
func (d *Dispatcher) report(results []compute.ExecResult, err error) error {
	for _, r := range results {
		d.Log.Infof("<< node %s: %s", r.Node.ID, addressList(r.Node.Addresses()))
		if r.Err != nil {
			d.Log.WithError(r.Err).Warn("<<     failed")
			continue
		}
		d.Log.Infof("<<     %s", r.Response)
	}
	if len(results) > 0 {
		if ferr := FormatExecResults(d.Out, d.Output, results); ferr != nil && err == nil {
			err = ferr
		}
	}
	return err
}

func (d *Dispatcher) destroy(ctx context.Context, group, nodeID string) error {
	d.Log.Infof(">> destroying node [%s] in group [%s]", nodeID, group)

	destroyed, err := d.Compute.DestroyNodesMatching(ctx, compute.And(
		compute.Not(compute.Terminated()),
		compute.InGroup(group),
		compute.WithIDs(nodeID),
	))
	if err != nil {
		return err
	}
	d.Log.Infof("<< destroyed nodes %v", destroyed)
	return nil
}

func (d *Dispatcher) listImages(ctx context.Context) error {
	images, err := d.Compute.ListImages(ctx)
	if err != nil {
		return err
	}
	d.Log.Infof(">> No of images %d", len(images))
	for _, img := range images {
		d.Log.Debugf(">>>>  %s", img)
	}
	return FormatImages(d.Out, d.Output, images)
}

func (d *Dispatcher) listNodes(ctx context.Context) error {
	nodes, err := d.Compute.ListNodes(ctx)
	if err != nil {
		return err
	}
	d.Log.Infof(">> No of nodes/instances %d", len(nodes))
	for _, n := range nodes {
		d.Log.Debugf(">>>> %s", n)
	}
	return FormatNodes(d.Out, d.Output, nodes)
}

func addressList(addrs []string) string {
	return "[" + strings.Join(addrs, ", ") + "]"
}
