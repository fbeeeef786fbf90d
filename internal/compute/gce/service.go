// Package gce implements compute.Service on Google Compute Engine.
package gce

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	computeapi "google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/eniac111/computectl/internal/compute"
	"github.com/eniac111/computectl/internal/ssh"
)

// Interval and timeout for polling operations.
var (
	pollInterval = 5 * time.Second
	pollTimeout  = 5 * time.Minute
)

// Google compute operation status.
const (
	statusDone = "DONE"
)

const (
	defaultNetwork = "global/networks/default"
	defaultDiskGB  = 10

	// groupLabel tags instances with the group they were created in.
	groupLabel = "computectl-group"
	// imageLabel and imageProjectLabel remember the image an instance
	// was created from.
	imageLabel        = "computectl-image"
	imageProjectLabel = "computectl-image-project"
)

// Service wraps a GCE compute service.
type Service struct {
	api           *computeapi.Service
	httpClient    *http.Client
	project       string
	imageProjects []string
	log           logrus.FieldLogger
	runner        scriptRunner
}

var _ compute.Service = &Service{}

// New establishes a service connection to Compute Engine.
func New(ctx context.Context, cfg Config) (*Service, error) {
	const op = "connect to Compute Engine"

	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	httpClient, project := cfg.HTTPClient, ""
	if httpClient == nil {
		var err error
		httpClient, project, err = cfg.httpClient(ctx)
		if err != nil {
			return nil, compute.NewError(compute.AuthFailure, op, err)
		}
	}
	if cfg.Project != "" {
		project = cfg.Project
	}
	if project == "" {
		return nil, compute.NewError(compute.AuthFailure, op,
			fmt.Errorf("cannot determine project from account %q, set one explicitly", cfg.Account))
	}

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	api, err := computeapi.NewService(ctx, opts...)
	if err != nil {
		return nil, compute.NewError(compute.AuthFailure, op, fmt.Errorf("cannot connect to Google Cloud: %w", err))
	}

	imageProjects := cfg.ImageProjects
	if imageProjects == nil {
		imageProjects = defaultImageProjects
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = ssh.NewDialer(log)
	}

	log.WithField("project", project).Debug("connected to Compute Engine")

	return &Service{
		api:           api,
		httpClient:    httpClient,
		project:       project,
		imageProjects: imageProjects,
		log:           log,
		runner:        &sshRunner{dialer: dialer, knownHosts: cfg.KnownHosts},
	}, nil
}

// Close releases idle connections. The API client holds no other state.
func (s *Service) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// waitZoneOperation waits for a GCE operation in a zone to be completed or timed out.
func (s *Service) waitZoneOperation(ctx context.Context, zone, opName string) error {
	return s.waitOperation(ctx, func(ctx context.Context) (*computeapi.Operation, error) {
		return s.api.ZoneOperations.Get(s.project, zone, opName).Context(ctx).Do()
	})
}

// waitOperation waits for a GCE operation to be completed or timed out.
func (s *Service) waitOperation(ctx context.Context, refreshOperation func(context.Context) (*computeapi.Operation, error)) error {
	return wait.PollUntilContextTimeout(ctx, pollInterval, pollTimeout, true, func(ctx context.Context) (bool, error) {
		op, err := refreshOperation(ctx)
		if err != nil {
			return false, err
		}
		// Check if done (successfully).
		if op.Status == statusDone {
			if op.Error != nil && len(op.Error.Errors) > 0 {
				return false, fmt.Errorf("GCE operation failed: %s", op.Error.Errors[0].Message)
			}
			return true, nil
		}
		return false, nil
	})
}

// classify tags err with kind, except for token failures which are
// always authentication problems.
func classify(kind compute.Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		kind = compute.AuthFailure
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden) {
		kind = compute.AuthFailure
	}
	return compute.NewError(kind, op, err)
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// lastSegment returns the name at the end of a resource URL.
func lastSegment(url string) string {
	if url == "" {
		return ""
	}
	return path.Base(url)
}
