// Package fake provides an in-memory compute.Service for tests.
package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/eniac111/computectl/internal/compute"
	"github.com/eniac111/computectl/internal/types"
)

// Call records one invocation on the Service.
type Call struct {
	Method   string
	Group    string
	Count    int
	Template *compute.Template
	Script   string
	Options  compute.RunOptions
}

// Service keeps nodes in memory. Err, when set for a method name, is
// returned instead of performing the operation.
type Service struct {
	mu sync.Mutex

	Nodes    []types.Node
	Images   []types.Image
	Hardware []types.Hardware
	// Responses maps node ids to the response a script run returns.
	Responses map[string]types.ExecResponse
	Err       map[string]error

	Calls  []Call
	Closed bool

	nextID int
}

var _ compute.Service = &Service{}

func (s *Service) record(c Call) error {
	s.Calls = append(s.Calls, c)
	return s.Err[c.Method]
}

func (s *Service) CreateNodesInGroup(_ context.Context, group string, count int, t *compute.Template) ([]types.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Method: "CreateNodesInGroup", Group: group, Count: count, Template: t}); err != nil {
		return nil, err
	}
	var created []types.Node
	for i := 0; i < count; i++ {
		s.nextID++
		n := types.Node{
			ID:               fmt.Sprintf("%s/%s-%d", t.Location, group, s.nextID),
			Name:             fmt.Sprintf("%s-%d", group, s.nextID),
			Group:            group,
			Status:           types.NodeStatusRunning,
			Location:         t.Location,
			HardwareID:       t.Hardware.ID,
			ImageID:          t.Image.ID,
			PrivateAddresses: []string{fmt.Sprintf("10.0.0.%d", s.nextID)},
			PublicAddresses:  []string{fmt.Sprintf("203.0.113.%d", s.nextID)},
		}
		s.Nodes = append(s.Nodes, n)
		created = append(created, n)
	}
	return created, nil
}

func (s *Service) RunScriptOnNodesMatching(_ context.Context, filter compute.NodePredicate, script string, opts compute.RunOptions) ([]compute.ExecResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Method: "RunScriptOnNodesMatching", Script: script, Options: opts}); err != nil {
		return nil, err
	}
	var results []compute.ExecResult
	for _, n := range compute.Filter(s.Nodes, compute.And(compute.Running(), filter)) {
		results = append(results, compute.ExecResult{Node: n, Response: s.Responses[n.ID]})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Node.ID < results[j].Node.ID })
	return results, nil
}

func (s *Service) DestroyNodesMatching(_ context.Context, filter compute.NodePredicate) ([]types.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Method: "DestroyNodesMatching"}); err != nil {
		return nil, err
	}
	var destroyed []types.Node
	for i, n := range s.Nodes {
		if filter(n) {
			s.Nodes[i].Status = types.NodeStatusTerminated
			destroyed = append(destroyed, s.Nodes[i])
		}
	}
	return destroyed, nil
}

func (s *Service) ListImages(context.Context) ([]types.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Method: "ListImages"}); err != nil {
		return nil, err
	}
	return s.Images, nil
}

func (s *Service) ListNodes(context.Context) ([]types.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Method: "ListNodes"}); err != nil {
		return nil, err
	}
	return s.Nodes, nil
}

func (s *Service) GetImage(_ context.Context, id string) (*types.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Method: "GetImage"}); err != nil {
		return nil, err
	}
	for _, img := range s.Images {
		if img.ID == id || img.Name == id {
			img := img
			return &img, nil
		}
	}
	return nil, nil
}

func (s *Service) ListHardware(_ context.Context, location string) ([]types.Hardware, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Method: "ListHardware"}); err != nil {
		return nil, err
	}
	var out []types.Hardware
	for _, hw := range s.Hardware {
		if hw.Location == "" || hw.Location == location {
			out = append(out, hw)
		}
	}
	return out, nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// Methods returns the names of the recorded calls in order.
func (s *Service) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.Calls))
	for _, c := range s.Calls {
		out = append(out, c.Method)
	}
	return out
}
