package ssh

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/eniac111/computectl/internal/types"
)

// LocalLogin builds login credentials for the current OS user. An empty
// username or key path falls back to the current user and ~/.ssh/id_rsa.
func LocalLogin(username, keyPath string) (types.LoginCredentials, error) {
	if username == "" || keyPath == "" {
		usr, err := user.Current()
		if err != nil {
			return types.LoginCredentials{}, fmt.Errorf("failed to get current user: %w", err)
		}
		if username == "" {
			username = usr.Username
		}
		if keyPath == "" {
			keyPath = filepath.Join(usr.HomeDir, ".ssh", "id_rsa")
		}
	}

	key, err := os.ReadFile(keyPath)
	if err != nil {
		return types.LoginCredentials{}, fmt.Errorf("failed to read SSH key %s: %w", keyPath, err)
	}
	return types.LoginCredentials{User: username, PrivateKey: string(key), KeyPath: keyPath}, nil
}

// AuthorizedKey returns the authorized_keys line for the login's key,
// commented with the login user.
func AuthorizedKey(login types.LoginCredentials) (string, error) {
	pub, err := publicKey(login)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub)))
	return line + " " + login.User, nil
}

// publicKey returns the public half of the login's key. For an encrypted
// key it is taken from the key file itself, the .pub file next to it or
// the first key held by the SSH agent.
func publicKey(login types.LoginCredentials) (ssh.PublicKey, error) {
	signer, err := ssh.ParsePrivateKey([]byte(login.PrivateKey))
	if err == nil {
		return signer.PublicKey(), nil
	}
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("failed to parse SSH key: %w", err)
	}
	if missing.PublicKey != nil {
		return missing.PublicKey, nil
	}

	if login.KeyPath != "" {
		if b, err := os.ReadFile(login.KeyPath + ".pub"); err == nil {
			if pub, _, _, _, err := ssh.ParseAuthorizedKey(b); err == nil {
				return pub, nil
			}
		}
	}
	if sshAgent, conn, err := dialAgent(); err == nil {
		defer conn.Close()
		if keys, err := sshAgent.List(); err == nil && len(keys) > 0 {
			return keys[0], nil
		}
	}
	return nil, fmt.Errorf("SSH key %s is encrypted and no public key was found for it", keyName(login.KeyPath))
}

// HostFor returns the SSH endpoint of node for login.
func HostFor(node types.Node, login types.LoginCredentials, knownHosts string) types.Host {
	return types.Host{
		Name:       node.SSHAddress(),
		User:       login.User,
		PrivateKey: login.PrivateKey,
		KeyPath:    login.KeyPath,
		KnownHosts: knownHosts,
	}
}
