package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/eniac111/computectl/internal/script"
	"github.com/eniac111/computectl/internal/types"
)

// InitScriptPollInterval is how often a background task is checked for
// completion.
var InitScriptPollInterval = 2 * time.Second

// uploadBytes copies in-memory bytes to a remote file, creating its
// parent directories.
func uploadBytes(sftpClient *sftp.Client, data []byte, remotePath string, mode os.FileMode) error {
	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("failed to create %s: %w", path.Dir(remotePath), err)
	}

	dstFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	if _, err := dstFile.Write(data); err != nil {
		return err
	}
	return sftpClient.Chmod(remotePath, mode)
}

func readRemote(sftpClient *sftp.Client, remotePath string) (string, error) {
	f, err := sftpClient.Open(remotePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// RunInitScript uploads s, starts it in the background and waits until it
// has written its exit status. Output and error output are collected from
// the files the task leaves in its directory.
func RunInitScript(ctx context.Context, sshClient *ssh.Client, s script.InitScript, runAsRoot bool) (types.ExecResponse, error) {
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return types.ExecResponse{ExitStatus: -1}, fmt.Errorf("failed to start sftp: %w", err)
	}
	defer sftpClient.Close()

	if err := uploadBytes(sftpClient, []byte(s.Body), s.Path(), 0o755); err != nil {
		return types.ExecResponse{ExitStatus: -1}, fmt.Errorf("failed to upload %s: %w", s.Path(), err)
	}

	launch, err := RunCommand(sshClient, s.LaunchCommand(runAsRoot))
	if err != nil {
		return launch, fmt.Errorf("failed to launch %s: %w", s.Name, err)
	}
	if launch.ExitStatus != 0 {
		return launch, fmt.Errorf("failed to launch %s: exit status %d", s.Name, launch.ExitStatus)
	}

	err = wait.PollUntilContextCancel(ctx, InitScriptPollInterval, true, func(context.Context) (bool, error) {
		fi, err := sftpClient.Stat(s.ExitStatusPath())
		if err == nil {
			// the file exists before the shell has written to it
			return fi.Size() > 0, nil
		}
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	})
	if err != nil {
		return types.ExecResponse{ExitStatus: -1}, fmt.Errorf("failed waiting for %s: %w", s.Name, err)
	}

	var resp types.ExecResponse
	status, err := readRemote(sftpClient, s.ExitStatusPath())
	if err != nil {
		return types.ExecResponse{ExitStatus: -1}, err
	}
	if resp.ExitStatus, err = strconv.Atoi(strings.TrimSpace(status)); err != nil {
		return types.ExecResponse{ExitStatus: -1}, fmt.Errorf("invalid exit status %q: %w", status, err)
	}
	if resp.Output, err = readRemote(sftpClient, s.StdoutPath()); err != nil {
		return resp, err
	}
	if resp.Error, err = readRemote(sftpClient, s.StderrPath()); err != nil {
		return resp, err
	}
	return resp, nil
}
