package gce

import (
	"context"
	"fmt"
	"strings"

	computeapi "google.golang.org/api/compute/v1"

	"github.com/eniac111/computectl/internal/compute"
	"github.com/eniac111/computectl/internal/types"
)

// ListImages lists the images of the project and of the public image
// projects.
func (s *Service) ListImages(ctx context.Context) ([]types.Image, error) {
	var images []types.Image
	for _, project := range s.searchProjects() {
		err := s.api.Images.List(project).Context(ctx).Pages(ctx, func(page *computeapi.ImageList) error {
			for _, img := range page.Items {
				images = append(images, toImage(project, img))
			}
			return nil
		})
		if err != nil {
			return nil, classify(compute.Unknown, "list images", fmt.Errorf("project %s: %w", project, err))
		}
	}
	return images, nil
}

// GetImage looks id up in every searched project. An id of the form
// project/name only searches that project.
func (s *Service) GetImage(ctx context.Context, id string) (*types.Image, error) {
	projects, name := s.searchProjects(), id
	if p, n, ok := strings.Cut(id, "/"); ok {
		projects, name = []string{p}, n
	}

	for _, project := range projects {
		img, err := s.api.Images.Get(project, name).Context(ctx).Do()
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return nil, classify(compute.Unknown, "get image", fmt.Errorf("project %s: %w", project, err))
		}
		found := toImage(project, img)
		return &found, nil
	}
	return nil, nil
}

// ListHardware lists the machine types of a zone.
func (s *Service) ListHardware(ctx context.Context, location string) ([]types.Hardware, error) {
	var hardware []types.Hardware
	err := s.api.MachineTypes.List(s.project, location).Context(ctx).Pages(ctx, func(page *computeapi.MachineTypeList) error {
		for _, mt := range page.Items {
			if mt.Deprecated != nil && mt.Deprecated.State != "" {
				continue
			}
			hardware = append(hardware, types.Hardware{
				ID:       mt.Name,
				Location: location,
				Cores:    mt.GuestCpus,
				MemoryMB: mt.MemoryMb,
			})
		}
		return nil
	})
	if err != nil {
		return nil, classify(compute.Unknown, "list hardware", err)
	}
	return hardware, nil
}

func (s *Service) searchProjects() []string {
	projects := []string{s.project}
	for _, p := range s.imageProjects {
		if p != s.project {
			projects = append(projects, p)
		}
	}
	return projects
}

func toImage(project string, img *computeapi.Image) types.Image {
	return types.Image{
		ID:          project + "/" + img.Name,
		Name:        img.Name,
		Project:     project,
		Family:      img.Family,
		Description: img.Description,
		Status:      img.Status,
		SelfLink:    img.SelfLink,
	}
}
