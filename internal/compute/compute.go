// Package compute defines the provider independent contract computectl
// uses to manage nodes: the Service interface, node predicates, template
// resolution, run options and the failure kinds surfaced to callers.
package compute

import (
	"context"
	"time"

	"github.com/eniac111/computectl/internal/types"
)

// Service is a handle on a compute provider.
type Service interface {
	// CreateNodesInGroup provisions count nodes from t, all tagged with group.
	CreateNodesInGroup(ctx context.Context, group string, count int, t *Template) ([]types.Node, error)

	// RunScriptOnNodesMatching runs script on every running node accepted
	// by filter. Results are ordered by node id. When any node fails the
	// results are still returned together with an ExecutionFailure.
	RunScriptOnNodesMatching(ctx context.Context, filter NodePredicate, script string, opts RunOptions) ([]ExecResult, error)

	// DestroyNodesMatching destroys every node accepted by filter and
	// returns what was destroyed.
	DestroyNodesMatching(ctx context.Context, filter NodePredicate) ([]types.Node, error)

	ListImages(ctx context.Context) ([]types.Image, error)
	ListNodes(ctx context.Context) ([]types.Node, error)

	// GetImage returns nil without error when no image has that id.
	GetImage(ctx context.Context, id string) (*types.Image, error)

	// ListHardware returns the instance sizes offered at location.
	ListHardware(ctx context.Context, location string) ([]types.Hardware, error)

	Close() error
}

// ExecResult pairs a node with the response of a script run on it.
type ExecResult struct {
	Node     types.Node
	Response types.ExecResponse
	Err      error
}

// RunOptions controls how a script is executed on nodes.
type RunOptions struct {
	Login            *types.LoginCredentials
	RunAsRoot        bool
	WrapInInitScript bool
	TaskName         string
	// Timeout bounds the run on a single node. Zero means no limit.
	Timeout time.Duration
}

// DefaultRunOptions runs as root inside an init script.
func DefaultRunOptions() RunOptions {
	return RunOptions{RunAsRoot: true, WrapInInitScript: true}
}

// OverrideLoginCredentials returns the default options using login
// instead of the provider's credentials.
func OverrideLoginCredentials(login types.LoginCredentials) RunOptions {
	o := DefaultRunOptions()
	o.Login = &login
	return o
}

func (o RunOptions) WithRunAsRoot(v bool) RunOptions {
	o.RunAsRoot = v
	return o
}

func (o RunOptions) WithInitScript(v bool) RunOptions {
	o.WrapInInitScript = v
	return o
}

// NameTask sets the task name and implies an init script.
func (o RunOptions) NameTask(name string) RunOptions {
	o.TaskName = name
	o.WrapInInitScript = true
	return o
}

func (o RunOptions) WithTimeout(d time.Duration) RunOptions {
	o.Timeout = d
	return o
}
