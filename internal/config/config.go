// Package config merges command line flags, COMPUTECTL_ environment
// variables and an optional YAML config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultAccount = "your-project-service-account-email@developer.gserviceaccount.com"
	DefaultPKPath  = "/path/to/private-key.pem"
	DefaultZone    = "europe-west1-a"
	DefaultImage   = "debian-7-wheezy-v20140408"
	DefaultTimeout = 15 * time.Minute
	// DefaultNodeTimeout bounds a script run on a single node.
	DefaultNodeTimeout = 10 * time.Minute

	envPrefix = "COMPUTECTL"
)

// Output formats for listings and script results.
const (
	OutputText = "text"
	OutputYAML = "yaml"
	OutputJSON = "json"
)

// Config is the resolved configuration of one run.
type Config struct {
	Account     string
	PKPath      string
	Project     string
	Zone        string
	Image       string
	MachineType string
	SSHKey      string
	SSHUser     string
	KnownHosts  string
	Output      string
	LogLevel    logrus.Level
	Timeout     time.Duration
	NodeTimeout time.Duration
	File        string
}

// AddFlags registers every configuration flag on fs.
func AddFlags(fs *pflag.FlagSet) {
	fs.String("account", DefaultAccount, "Project service account email")
	fs.String("pk", DefaultPKPath, "Private key path (PEM or JSON key file)")
	fs.String("project", "", "Project id (defaults to the one of the service account)")
	fs.String("zone", DefaultZone, "Zone new nodes are created in")
	fs.String("image", DefaultImage, "Image new nodes are created from")
	fs.String("machine-type", "", "Machine type of new nodes (default the fastest in the zone)")
	fs.String("ssh-key", "", "SSH private key used to log into nodes (default ~/.ssh/id_rsa)")
	fs.String("ssh-user", "", "SSH user (default the current user)")
	fs.String("known-hosts", "", "known_hosts file used to verify nodes (default accept any host key)")
	fs.StringP("output", "o", OutputText, "Output format: text, yaml or json")
	fs.String("log-level", logrus.InfoLevel.String(), "Log level")
	fs.Duration("timeout", DefaultTimeout, "Time limit for the whole action")
	fs.Duration("node-timeout", DefaultNodeTimeout, "Time limit for running a script on one node")
	fs.String("config", "", "YAML config file")
}

// Load resolves the configuration. Flags given on the command line win
// over the environment, which wins over the config file and the defaults.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("failed to bind flags: %w", err)
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	level, err := logrus.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Account:     v.GetString("account"),
		PKPath:      v.GetString("pk"),
		Project:     v.GetString("project"),
		Zone:        v.GetString("zone"),
		Image:       v.GetString("image"),
		MachineType: v.GetString("machine-type"),
		SSHKey:      v.GetString("ssh-key"),
		SSHUser:     v.GetString("ssh-user"),
		KnownHosts:  v.GetString("known-hosts"),
		Output:      strings.ToLower(v.GetString("output")),
		LogLevel:    level,
		Timeout:     v.GetDuration("timeout"),
		NodeTimeout: v.GetDuration("node-timeout"),
		File:        v.GetString("config"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values that have a fixed set of choices.
func (c Config) Validate() error {
	switch c.Output {
	case OutputText, OutputYAML, OutputJSON:
	default:
		return fmt.Errorf("unknown output format %q", c.Output)
	}
	if c.Zone == "" {
		return errors.New("no zone given")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("negative timeout %s", c.Timeout)
	}
	if c.NodeTimeout < 0 {
		return fmt.Errorf("negative node timeout %s", c.NodeTimeout)
	}
	return nil
}

// ReadPrivateKey returns the content of the service account key file.
func (c Config) ReadPrivateKey() (string, error) {
	data, err := os.ReadFile(c.PKPath)
	if err != nil {
		return "", fmt.Errorf("failed to read private key from %s: %w", c.PKPath, err)
	}
	return string(data), nil
}
