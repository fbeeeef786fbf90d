package types

import (
	"fmt"
	"strings"
)

// Host represents one machine reachable over SSH.
type Host struct {
	Name       string `yaml:"name"`
	User       string `yaml:"user"`
	Port       int    `yaml:"port,omitempty"`
	KeyPath    string `yaml:"key_path,omitempty"`
	PrivateKey string `yaml:"-"` // PEM text, takes precedence over KeyPath
	KnownHosts string `yaml:"known_hosts,omitempty"`
}

// LoginCredentials is the SSH identity used to run commands on nodes.
type LoginCredentials struct {
	User       string `json:"user" yaml:"user"`
	PrivateKey string `json:"-" yaml:"-"`
	KeyPath    string `json:"key_path,omitempty" yaml:"key_path,omitempty"`
}

// NodeStatus is the provider independent state of a node.
type NodeStatus string

const (
	NodeStatusPending      NodeStatus = "PENDING"
	NodeStatusRunning      NodeStatus = "RUNNING"
	NodeStatusSuspended    NodeStatus = "SUSPENDED"
	NodeStatusTerminated   NodeStatus = "TERMINATED"
	NodeStatusError        NodeStatus = "ERROR"
	NodeStatusUnrecognized NodeStatus = "UNRECOGNIZED"
)

// Node is a single provisioned compute instance.
type Node struct {
	ID               string            `json:"id" yaml:"id"`
	Name             string            `json:"name" yaml:"name"`
	Group            string            `json:"group,omitempty" yaml:"group,omitempty"`
	Status           NodeStatus        `json:"status" yaml:"status"`
	Location         string            `json:"location" yaml:"location"`
	HardwareID       string            `json:"hardware,omitempty" yaml:"hardware,omitempty"`
	ImageID          string            `json:"image,omitempty" yaml:"image,omitempty"`
	PrivateAddresses []string          `json:"private_addresses,omitempty" yaml:"private_addresses,omitempty"`
	PublicAddresses  []string          `json:"public_addresses,omitempty" yaml:"public_addresses,omitempty"`
	Labels           map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Addresses returns the private addresses followed by the public ones.
func (n Node) Addresses() []string {
	out := make([]string, 0, len(n.PrivateAddresses)+len(n.PublicAddresses))
	out = append(out, n.PrivateAddresses...)
	return append(out, n.PublicAddresses...)
}

// SSHAddress picks the address used to reach the node, preferring a
// public one.
func (n Node) SSHAddress() string {
	if len(n.PublicAddresses) > 0 {
		return n.PublicAddresses[0]
	}
	if len(n.PrivateAddresses) > 0 {
		return n.PrivateAddresses[0]
	}
	return ""
}

func (n Node) String() string {
	return fmt.Sprintf("{id=%s, name=%s, group=%s, status=%s, location=%s, hardware=%s, image=%s, privateAddresses=[%s], publicAddresses=[%s]}",
		n.ID, n.Name, n.Group, n.Status, n.Location, n.HardwareID, n.ImageID,
		strings.Join(n.PrivateAddresses, ", "), strings.Join(n.PublicAddresses, ", "))
}

// Image describes a bootable image.
type Image struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Project     string `json:"project" yaml:"project"`
	Family      string `json:"family,omitempty" yaml:"family,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Status      string `json:"status,omitempty" yaml:"status,omitempty"`
	SelfLink    string `json:"-" yaml:"-"`
}

func (i Image) String() string {
	return fmt.Sprintf("{id=%s, name=%s, project=%s, family=%s, status=%s, description=%s}",
		i.ID, i.Name, i.Project, i.Family, i.Status, i.Description)
}

// Hardware is an instance size offered at a location.
type Hardware struct {
	ID       string `json:"id" yaml:"id"`
	Location string `json:"location" yaml:"location"`
	Cores    int64  `json:"cores" yaml:"cores"`
	MemoryMB int64  `json:"memory_mb" yaml:"memory_mb"`
}

// ExecResponse is what a remote command returns.
type ExecResponse struct {
	Output     string `json:"output" yaml:"output"`
	Error      string `json:"error" yaml:"error"`
	ExitStatus int    `json:"exit_status" yaml:"exit_status"`
}

func (r ExecResponse) String() string {
	return fmt.Sprintf("{output=%s, error=%s, exitStatus=%d}", r.Output, r.Error, r.ExitStatus)
}
