package gce

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	computeapi "google.golang.org/api/compute/v1"

	"github.com/eniac111/computectl/internal/compute"
	"github.com/eniac111/computectl/internal/script"
	"github.com/eniac111/computectl/internal/ssh"
	"github.com/eniac111/computectl/internal/types"
)

// Group names become label values and instance name prefixes.
var groupPattern = regexp.MustCompile(`^[a-z]([-a-z0-9]{0,38}[a-z0-9])?$`)

func (s *Service) ListNodes(ctx context.Context) ([]types.Node, error) {
	var nodes []types.Node
	err := s.api.Instances.AggregatedList(s.project).Context(ctx).Pages(ctx, func(page *computeapi.InstanceAggregatedList) error {
		for _, scoped := range page.Items {
			for _, inst := range scoped.Instances {
				nodes = append(nodes, toNode(inst))
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify(compute.Unknown, "list nodes", err)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

func (s *Service) CreateNodesInGroup(ctx context.Context, group string, count int, t *compute.Template) ([]types.Node, error) {
	const op = "create nodes"

	if !groupPattern.MatchString(group) {
		hint := strings.ReplaceAll(script.Slugify(group), "_", "-")
		return nil, compute.NewError(compute.ProvisionFailure, op,
			fmt.Errorf("invalid group name %q, use lowercase letters, digits and dashes (e.g. %q)", group, hint))
	}
	if t == nil {
		return nil, compute.NewError(compute.ProvisionFailure, op, errors.New("no template given"))
	}

	metadata, err := instanceMetadata(t.Options)
	if err != nil {
		return nil, compute.NewError(compute.ProvisionFailure, op, err)
	}

	var (
		created []types.Node
		failed  []string
		errs    []error
	)
	for i := 0; i < count; i++ {
		name := instanceName(group)
		node, err := s.createInstance(ctx, name, group, t, metadata)
		if err != nil {
			failed = append(failed, t.Location+"/"+name)
			errs = append(errs, err)
			continue
		}
		s.log.WithField("node", node.ID).Debug("node created")
		created = append(created, node)
	}
	if len(errs) > 0 {
		err := classify(compute.ProvisionFailure, op, errors.Join(errs...))
		var ce *compute.Error
		if errors.As(err, &ce) {
			ce.Nodes = failed
		}
		return created, err
	}
	return created, nil
}

func (s *Service) createInstance(ctx context.Context, name, group string, t *compute.Template, metadata *computeapi.Metadata) (types.Node, error) {
	labels := map[string]string{groupLabel: group}
	for k, v := range t.Options.Labels {
		labels[k] = v
	}
	if v := labelValue(t.Image.Name); v != "" {
		labels[imageLabel] = v
	}
	if v := labelValue(t.Image.Project); v != "" {
		labels[imageProjectLabel] = v
	}

	sourceImage := t.Image.SelfLink
	if sourceImage == "" {
		sourceImage = fmt.Sprintf("projects/%s/global/images/%s", t.Image.Project, t.Image.Name)
	}

	inst := &computeapi.Instance{
		Name:        name,
		MachineType: fmt.Sprintf("zones/%s/machineTypes/%s", t.Location, t.Hardware.ID),
		Labels:      labels,
		Metadata:    metadata,
		Tags:        &computeapi.Tags{Items: []string{group}},
		Disks: []*computeapi.AttachedDisk{{
			Boot:       true,
			AutoDelete: true,
			InitializeParams: &computeapi.AttachedDiskInitializeParams{
				DiskSizeGb:  defaultDiskGB,
				SourceImage: sourceImage,
			},
		}},
		NetworkInterfaces: []*computeapi.NetworkInterface{{
			Network: defaultNetwork,
			AccessConfigs: []*computeapi.AccessConfig{{
				Name: "External NAT",
				Type: "ONE_TO_ONE_NAT",
			}},
		}},
	}

	op, err := s.api.Instances.Insert(s.project, t.Location, inst).Context(ctx).Do()
	if err != nil {
		return types.Node{}, fmt.Errorf("failed to insert instance %s: %w", name, err)
	}
	if err := s.waitZoneOperation(ctx, t.Location, op.Name); err != nil {
		return types.Node{}, fmt.Errorf("failed waiting for instance %s: %w", name, err)
	}

	got, err := s.api.Instances.Get(s.project, t.Location, name).Context(ctx).Do()
	if err != nil {
		return types.Node{}, fmt.Errorf("failed to get instance %s: %w", name, err)
	}
	return toNode(got), nil
}

func (s *Service) DestroyNodesMatching(ctx context.Context, filter compute.NodePredicate) ([]types.Node, error) {
	nodes, err := s.ListNodes(ctx)
	if err != nil {
		return nil, err
	}

	var (
		destroyed []types.Node
		errs      []error
	)
	for _, n := range compute.Filter(nodes, filter) {
		op, err := s.api.Instances.Delete(s.project, n.Location, n.Name).Context(ctx).Do()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", n.ID, err))
			continue
		}
		if err := s.waitZoneOperation(ctx, n.Location, op.Name); err != nil {
			errs = append(errs, fmt.Errorf("failed waiting for deletion of %s: %w", n.ID, err))
			continue
		}
		n.Status = types.NodeStatusTerminated
		destroyed = append(destroyed, n)
	}
	if len(errs) > 0 {
		return destroyed, classify(compute.Unknown, "destroy nodes", errors.Join(errs...))
	}
	return destroyed, nil
}

func instanceMetadata(o compute.TemplateOptions) (*computeapi.Metadata, error) {
	md := &computeapi.Metadata{}
	if o.Login != nil {
		key, err := ssh.AuthorizedKey(*o.Login)
		if err != nil {
			return nil, err
		}
		v := o.Login.User + ":" + key
		md.Items = append(md.Items, &computeapi.MetadataItems{Key: "ssh-keys", Value: &v})
	}
	if o.BootScript != "" {
		v := o.BootScript
		md.Items = append(md.Items, &computeapi.MetadataItems{Key: "startup-script", Value: &v})
	}
	return md, nil
}

// instanceName is the group with underscores turned into dashes plus a
// random suffix.
func instanceName(group string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return strings.ReplaceAll(group, "_", "-") + "-" + suffix
}

// labelValue fits s into the GCE label value charset, or returns "".
func labelValue(s string) string {
	v := script.Slugify(s)
	if len(v) > 63 {
		v = v[:63]
	}
	return v
}

func toNode(inst *computeapi.Instance) types.Node {
	zone := lastSegment(inst.Zone)
	n := types.Node{
		ID:         zone + "/" + inst.Name,
		Name:       inst.Name,
		Group:      inst.Labels[groupLabel],
		Status:     nodeStatus(inst.Status),
		Location:   zone,
		HardwareID: lastSegment(inst.MachineType),
		ImageID:    imageID(inst.Labels),
		Labels:     inst.Labels,
	}
	for _, ifc := range inst.NetworkInterfaces {
		if ifc.NetworkIP != "" {
			n.PrivateAddresses = append(n.PrivateAddresses, ifc.NetworkIP)
		}
		for _, ac := range ifc.AccessConfigs {
			if ac.NatIP != "" {
				n.PublicAddresses = append(n.PublicAddresses, ac.NatIP)
			}
		}
	}
	return n
}

// imageID rebuilds the <project>/<name> id of the image an instance was
// created from. Instances labelled without a project keep the bare name.
func imageID(labels map[string]string) string {
	name := labels[imageLabel]
	if name == "" {
		return ""
	}
	if project := labels[imageProjectLabel]; project != "" {
		return project + "/" + name
	}
	return name
}

func nodeStatus(status string) types.NodeStatus {
	switch status {
	case "PROVISIONING", "STAGING":
		return types.NodeStatusPending
	case "RUNNING":
		return types.NodeStatusRunning
	case "STOPPING", "SUSPENDING", "SUSPENDED":
		return types.NodeStatusSuspended
	case "TERMINATED", "STOPPED":
		return types.NodeStatusTerminated
	case "REPAIRING":
		return types.NodeStatusError
	default:
		return types.NodeStatusUnrecognized
	}
}
