package compute

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/eniac111/computectl/internal/types"
)

// HardwarePolicy chooses among the sizes offered at a location. Templates
// use Smallest unless Fastest is asked for.
type HardwarePolicy int

const (
	// Smallest picks the fewest cores, then the least memory.
	Smallest HardwarePolicy = iota
	// Fastest picks the most cores, then the most memory.
	Fastest
)

// TemplateOptions are applied to nodes created from a template.
type TemplateOptions struct {
	// BootScript runs once when the node first starts.
	BootScript string
	// Login is authorized for SSH on the node.
	Login  *types.LoginCredentials
	Labels map[string]string
}

// Template is a fully resolved node description.
type Template struct {
	Image    types.Image
	Location string
	Hardware types.Hardware
	Options  TemplateOptions
}

type templateSource interface {
	GetImage(ctx context.Context, id string) (*types.Image, error)
	ListHardware(ctx context.Context, location string) ([]types.Hardware, error)
}

// TemplateBuilder collects template criteria and resolves them against a
// Service.
type TemplateBuilder struct {
	src        templateSource
	imageID    string
	location   string
	hardwareID string
	policy     HardwarePolicy
	options    TemplateOptions
}

func NewTemplateBuilder(src templateSource) *TemplateBuilder {
	return &TemplateBuilder{src: src}
}

func (b *TemplateBuilder) ImageID(id string) *TemplateBuilder {
	b.imageID = id
	return b
}

func (b *TemplateBuilder) LocationID(location string) *TemplateBuilder {
	b.location = location
	return b
}

// HardwareID pins the size and overrides the policy.
func (b *TemplateBuilder) HardwareID(id string) *TemplateBuilder {
	b.hardwareID = id
	return b
}

func (b *TemplateBuilder) Fastest() *TemplateBuilder {
	b.policy = Fastest
	return b
}

func (b *TemplateBuilder) Options(o TemplateOptions) *TemplateBuilder {
	b.options = o
	return b
}

// Build resolves image and hardware. Every failure is a ProvisionFailure.
func (b *TemplateBuilder) Build(ctx context.Context) (*Template, error) {
	const op = "build template"

	if b.location == "" {
		return nil, NewError(ProvisionFailure, op, errors.New("no location given"))
	}

	if b.imageID == "" {
		return nil, NewError(ProvisionFailure, op, errors.New("no image given"))
	}
	img, err := b.src.GetImage(ctx, b.imageID)
	if err != nil {
		return nil, NewError(ProvisionFailure, op, fmt.Errorf("failed to get image %q: %w", b.imageID, err))
	}
	if img == nil {
		return nil, NewError(ProvisionFailure, op, fmt.Errorf("image %q not found", b.imageID))
	}

	hardware, err := b.src.ListHardware(ctx, b.location)
	if err != nil {
		return nil, NewError(ProvisionFailure, op, fmt.Errorf("failed to list hardware in %s: %w", b.location, err))
	}
	hw, err := b.pickHardware(hardware)
	if err != nil {
		return nil, NewError(ProvisionFailure, op, err)
	}

	return &Template{
		Image:    *img,
		Location: b.location,
		Hardware: hw,
		Options:  b.options,
	}, nil
}

func (b *TemplateBuilder) pickHardware(hardware []types.Hardware) (types.Hardware, error) {
	if len(hardware) == 0 {
		return types.Hardware{}, fmt.Errorf("no hardware available in %s", b.location)
	}

	if b.hardwareID != "" {
		for _, hw := range hardware {
			if hw.ID == b.hardwareID {
				return hw, nil
			}
		}
		return types.Hardware{}, fmt.Errorf("hardware %q not available in %s", b.hardwareID, b.location)
	}

	sorted := make([]types.Hardware, len(hardware))
	copy(sorted, hardware)
	sort.Slice(sorted, func(i, j int) bool {
		a, c := sorted[i], sorted[j]
		if a.Cores != c.Cores {
			return a.Cores < c.Cores
		}
		if a.MemoryMB != c.MemoryMB {
			return a.MemoryMB < c.MemoryMB
		}
		return a.ID < c.ID
	})

	if b.policy == Fastest {
		best := sorted[len(sorted)-1]
		// keep the lowest id among equally fast sizes
		for _, hw := range sorted {
			if hw.Cores == best.Cores && hw.MemoryMB == best.MemoryMB {
				return hw, nil
			}
		}
	}
	return sorted[0], nil
}
