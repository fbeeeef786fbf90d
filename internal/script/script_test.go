package script

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote(t *testing.T) {
	require.Equal(t, "simple", Quote("simple"))
	require.Equal(t, "''", Quote(""))
	require.Equal(t, "'two words'", Quote("two words"))
	require.Equal(t, `'a'\''b'`, Quote("a'b"))
	require.Equal(t, "/path/ok", Quote("/path/ok"))
	require.Equal(t, "'$HOME'", Quote("$HOME"))
}

func TestTaskName(t *testing.T) {
	tests := map[string]string{
		"setup.sh":              "_setup",
		"/tmp/scripts/a.tar.gz": "_a",
		"noext":                 "_noext",
		"dir/.hidden":           "_",
	}
	for in, want := range tests {
		assert.Equal(t, want, TaskName(in), in)
	}
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "my-group", Slugify("My Group"))
	assert.Equal(t, "web_01", Slugify("--web_01--"))
	assert.Equal(t, "a-b", Slugify("a!!!b"))
}

func TestSudo(t *testing.T) {
	require.Equal(t, `sudo -n sh -c 'echo hi'`, Sudo("echo hi"))
}

func TestInitScriptPaths(t *testing.T) {
	s := InitScript{Name: "_setup", Body: "echo ok\n"}
	require.Equal(t, "/tmp/_setup", s.Dir())
	require.Equal(t, "/tmp/_setup/_setup.sh", s.Path())
	require.Equal(t, "/tmp/_setup/stdout", s.StdoutPath())
	require.Equal(t, "/tmp/_setup/stderr", s.StderrPath())
	require.Equal(t, "/tmp/_setup/exitstatus", s.ExitStatusPath())
}

func TestInitScriptLaunchCommand(t *testing.T) {
	s := InitScript{Name: "_setup"}

	cmd := s.LaunchCommand(false)
	require.True(t, strings.HasPrefix(cmd, "rm -f /tmp/_setup/exitstatus; cd /tmp/_setup && nohup sh -c "))
	require.True(t, strings.HasSuffix(cmd, "&"))
	require.Contains(t, cmd, "echo $? > /tmp/_setup/exitstatus")
	require.NotContains(t, cmd, "sudo")

	require.Contains(t, s.LaunchCommand(true), "nohup sudo -n sh -c ")
}

func TestAdminAccess(t *testing.T) {
	out := AdminAccess("alice", "ssh-ed25519 AAAA alice@host")
	require.True(t, strings.HasPrefix(out, "#!/bin/sh\n"))
	require.Contains(t, out, "useradd -m -s /bin/sh alice")
	require.Contains(t, out, "'ssh-ed25519 AAAA alice@host'")
	require.Contains(t, out, "/home/alice/.ssh/authorized_keys")
	require.Contains(t, out, "'alice ALL=(ALL) NOPASSWD:ALL'")
}
