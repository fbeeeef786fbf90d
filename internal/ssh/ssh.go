package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/eniac111/computectl/internal/types"
)

const defaultPort = 22

// Dialer opens SSH connections to hosts. Fresh instances only accept
// connections once booted, so dialing is retried.
type Dialer struct {
	Log      logrus.FieldLogger
	Timeout  time.Duration
	Attempts uint
	Delay    time.Duration
}

// NewDialer returns a Dialer with a 15s connection timeout and three
// attempts spaced 5s apart.
func NewDialer(log logrus.FieldLogger) *Dialer {
	return &Dialer{
		Log:      log,
		Timeout:  15 * time.Second,
		Attempts: 3,
		Delay:    5 * time.Second,
	}
}

// Connect opens an SSH connection using the host's key, the default
// ~/.ssh/id_rsa when none is given, and the SSH agent when available.
func (d *Dialer) Connect(ctx context.Context, host types.Host) (*ssh.Client, error) {
	authMethods, closeAgent, err := d.authMethods(host)
	if err != nil {
		return nil, err
	}
	defer closeAgent()

	hostKeyCallback := ssh.InsecureIgnoreHostKey() // new nodes are never in known_hosts
	if host.KnownHosts != "" {
		hostKeyCallback, err = knownhosts.New(host.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	}

	config := &ssh.ClientConfig{
		User:            host.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         d.Timeout,
	}

	port := host.Port
	if port == 0 {
		port = defaultPort
	}
	addr := net.JoinHostPort(host.Name, strconv.Itoa(port))

	attempts := d.Attempts
	if attempts == 0 {
		attempts = 1
	}

	var client *ssh.Client
	err = retry.Do(
		func() error {
			c, err := d.dial(ctx, addr, config)
			if err != nil {
				return err
			}
			client = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(d.Delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
		retry.OnRetry(func(n uint, err error) {
			d.Log.WithField("addr", addr).Debugf("ssh dial attempt %d failed: %v", n+1, err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial SSH %s: %w", addr, err)
	}
	return client, nil
}

func (d *Dialer) dial(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// authMethods collects the host's key and the SSH agent. An encrypted key
// is skipped in favour of the agent. The returned func closes the agent
// connection and must be called once the handshake is over.
func (d *Dialer) authMethods(host types.Host) ([]ssh.AuthMethod, func(), error) {
	var (
		authMethods []ssh.AuthMethod
		encrypted   string
	)

	switch {
	case host.PrivateKey != "":
		signer, err := ssh.ParsePrivateKey([]byte(host.PrivateKey))
		if err != nil && !isEncrypted(err) {
			return nil, nil, fmt.Errorf("failed to parse SSH key: %w", err)
		}
		if err != nil {
			encrypted = keyName(host.KeyPath)
			d.Log.Debugf("Skipping encrypted SSH key %s", encrypted)
		} else {
			authMethods = append(authMethods, ssh.PublicKeys(signer))
		}

	case host.KeyPath != "":
		signer, err := loadSigner(host.KeyPath)
		if err != nil && !isEncrypted(err) {
			return nil, nil, err
		}
		if err != nil {
			encrypted = host.KeyPath
			d.Log.Debugf("Skipping encrypted SSH key %s", encrypted)
		} else {
			authMethods = append(authMethods, ssh.PublicKeys(signer))
		}

	default:
		defaultKeyPath, err := defaultKeyPath()
		if err != nil {
			return nil, nil, err
		}
		if signer, err := loadSigner(defaultKeyPath); err == nil {
			authMethods = append(authMethods, ssh.PublicKeys(signer))
			d.Log.Debugf("Using default SSH key: %s", defaultKeyPath)
		} else {
			d.Log.Debugf("Failed to load default SSH key: %v", err)
		}
	}

	closeAgent := func() {}
	switch sshAgent, conn, err := dialAgent(); {
	case err == nil:
		authMethods = append(authMethods, ssh.PublicKeysCallback(sshAgent.Signers))
		closeAgent = func() { _ = conn.Close() }
		d.Log.Debug("Using SSH agent")
	case !errors.Is(err, errNoAgent):
		d.Log.Debugf("Failed to connect to SSH agent: %v", err)
	}

	if len(authMethods) == 0 {
		if encrypted != "" {
			return nil, nil, fmt.Errorf("SSH key %s is encrypted; load it into ssh-agent instead", encrypted)
		}
		return nil, nil, errors.New("no authentication methods available")
	}
	return authMethods, closeAgent, nil
}

var errNoAgent = errors.New("SSH_AUTH_SOCK is not set")

// dialAgent connects to the agent listening on SSH_AUTH_SOCK.
func dialAgent() (agent.ExtendedAgent, io.Closer, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, nil, errNoAgent
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, nil, err
	}
	return agent.NewClient(conn), conn, nil
}

func isEncrypted(err error) bool {
	var missing *ssh.PassphraseMissingError
	return errors.As(err, &missing)
}

func keyName(path string) string {
	if path == "" {
		return "(inline)"
	}
	return path
}

func loadSigner(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH key %s: %w", path, err)
	}
	return signer, nil
}

func defaultKeyPath() (string, error) {
	usr, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("failed to get current user: %w", err)
	}
	return filepath.Join(usr.HomeDir, ".ssh", "id_rsa"), nil
}

// RunCommand executes a command on the remote host. A non-zero exit is
// reported in the response, not as an error.
func RunCommand(sshClient *ssh.Client, cmd string) (types.ExecResponse, error) {
	session, err := sshClient.NewSession()
	if err != nil {
		return types.ExecResponse{ExitStatus: -1}, err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = session.Run(cmd)
	resp := types.ExecResponse{Output: stdout.String(), Error: stderr.String()}

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		return resp, nil
	case errors.As(err, &exitErr):
		resp.ExitStatus = exitErr.ExitStatus()
		return resp, nil
	default:
		resp.ExitStatus = -1
		return resp, err
	}
}
