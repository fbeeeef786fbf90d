package gce

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	computeapi "google.golang.org/api/compute/v1"

	"github.com/eniac111/computectl/internal/ssh"
)

// defaultImageProjects are the public projects searched for images next
// to the account's own project.
var defaultImageProjects = []string{"debian-cloud", "ubuntu-os-cloud", "centos-cloud", "cos-cloud"}

// Config describes how to reach Compute Engine.
type Config struct {
	// Account is the service account email.
	Account string
	// PrivateKey is the PEM private key of Account, or the content of a
	// JSON key file.
	PrivateKey string
	// Project defaults to the one named by Account or the JSON key.
	Project string
	// Endpoint overrides the API base URL.
	Endpoint string
	// HTTPClient replaces the authenticated client.
	HTTPClient    *http.Client
	ImageProjects []string
	// KnownHosts, when set, is used to verify node host keys.
	KnownHosts string
	Log        logrus.FieldLogger
	Dialer     *ssh.Dialer
}

// httpClient returns an authenticated client and the project id the
// credentials belong to.
func (cfg *Config) httpClient(ctx context.Context) (*http.Client, string, error) {
	key := strings.TrimSpace(cfg.PrivateKey)

	if strings.HasPrefix(key, "{") {
		conf, err := google.JWTConfigFromJSON([]byte(key), computeapi.ComputeScope)
		if err != nil {
			return nil, "", fmt.Errorf("failed preparing JWT: %w", err)
		}
		var sa struct {
			ProjectID string `json:"project_id"`
		}
		if err := json.Unmarshal([]byte(key), &sa); err != nil {
			return nil, "", fmt.Errorf("failed unmarshalling service account: %w", err)
		}
		return conf.Client(ctx), sa.ProjectID, nil
	}

	if cfg.Account == "" {
		return nil, "", errors.New("no service account given")
	}
	if err := checkPrivateKey([]byte(key)); err != nil {
		return nil, "", err
	}
	conf := &jwt.Config{
		Email:      cfg.Account,
		PrivateKey: []byte(key),
		Scopes:     []string{computeapi.ComputeScope},
		TokenURL:   google.JWTTokenURL,
	}
	return conf.Client(ctx), projectFromAccount(cfg.Account), nil
}

// checkPrivateKey fails early on keys the JWT signer would reject at the
// first API call.
func checkPrivateKey(key []byte) error {
	block, _ := pem.Decode(key)
	if block == nil {
		return errors.New("private key is not PEM encoded")
	}
	if _, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return nil
	}
	if _, err := x509.ParsePKCS1PrivateKey(block.Bytes); err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}
	return nil
}

// projectFromAccount derives the project from a service account email:
// name@<project>.iam.gserviceaccount.com or
// <number>-xxx@developer.gserviceaccount.com.
func projectFromAccount(account string) string {
	at := strings.LastIndex(account, "@")
	if at < 0 {
		return ""
	}
	local, domain := account[:at], account[at+1:]

	switch {
	case strings.HasSuffix(domain, ".iam.gserviceaccount.com"):
		return strings.TrimSuffix(domain, ".iam.gserviceaccount.com")
	case domain == "developer.gserviceaccount.com":
		if i := strings.Index(local, "-"); i > 0 {
			return local[:i]
		}
		return local
	}
	return ""
}
