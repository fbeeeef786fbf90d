// Package script builds the shell statements computectl sends to nodes.
package script

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// initScriptRoot is where background tasks keep their files on a node.
const initScriptRoot = "/tmp"

// Exec returns the literal command. It exists so call sites read like the
// statement they send.
func Exec(cmd string) string {
	return cmd
}

// Sudo wraps a statement so that it runs as root without prompting.
func Sudo(stmt string) string {
	return "sudo -n sh -c " + Quote(stmt)
}

// AdminAccess returns a boot script that creates user, authorizes key for
// it and grants passwordless sudo. It is idempotent.
func AdminAccess(user, authorizedKey string) string {
	home := path.Join("/home", user)
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("set -e\n")
	fmt.Fprintf(&b, "id -u %s >/dev/null 2>&1 || useradd -m -s /bin/sh %s\n", Quote(user), Quote(user))
	fmt.Fprintf(&b, "mkdir -p %s\n", Quote(home+"/.ssh"))
	fmt.Fprintf(&b, "grep -qxF %s %s 2>/dev/null || echo %s >> %s\n",
		Quote(authorizedKey), Quote(home+"/.ssh/authorized_keys"),
		Quote(authorizedKey), Quote(home+"/.ssh/authorized_keys"))
	fmt.Fprintf(&b, "chmod 700 %s\n", Quote(home+"/.ssh"))
	fmt.Fprintf(&b, "chmod 600 %s\n", Quote(home+"/.ssh/authorized_keys"))
	fmt.Fprintf(&b, "chown -R %s %s\n", Quote(user), Quote(home+"/.ssh"))
	fmt.Fprintf(&b, "echo %s > %s\n", Quote(user+" ALL=(ALL) NOPASSWD:ALL"), Quote("/etc/sudoers.d/"+user))
	fmt.Fprintf(&b, "chmod 440 %s\n", Quote("/etc/sudoers.d/"+user))
	return b.String()
}

// TaskName derives a background task name from a script file path: an
// underscore followed by the base name cut at its first dot. The prefix
// keeps the task name distinct from the file name.
func TaskName(file string) string {
	base := filepath.Base(file)
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	return "_" + base
}

// InitScript is a script run on a node as a named background task.
type InitScript struct {
	Name string
	Body string
}

// Dir is the working directory of the task on the node.
func (s InitScript) Dir() string {
	return path.Join(initScriptRoot, s.Name)
}

// Path is where the script body is uploaded.
func (s InitScript) Path() string {
	return path.Join(s.Dir(), s.Name+".sh")
}

func (s InitScript) StdoutPath() string { return path.Join(s.Dir(), "stdout") }
func (s InitScript) StderrPath() string { return path.Join(s.Dir(), "stderr") }

// ExitStatusPath only exists once the task finished.
func (s InitScript) ExitStatusPath() string { return path.Join(s.Dir(), "exitstatus") }

// LaunchCommand starts the uploaded script detached from the session.
func (s InitScript) LaunchCommand(runAsRoot bool) string {
	run := fmt.Sprintf("sh %s > %s 2> %s; echo $? > %s",
		Quote(s.Path()), Quote(s.StdoutPath()), Quote(s.StderrPath()), Quote(s.ExitStatusPath()))
	shell := "sh -c " + Quote(run)
	if runAsRoot {
		shell = "sudo -n " + shell
	}
	return fmt.Sprintf("rm -f %s; cd %s && nohup %s > /dev/null 2>&1 < /dev/null &",
		Quote(s.ExitStatusPath()), Quote(s.Dir()), shell)
}

// Quote minimally quotes an argument for a POSIX shell.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return false
		}
		switch r {
		case '-', '_', '.', '/', '@', ':', ',', '+', '=':
			return false
		}
		return true
	}) == -1 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Slugify lowercases s and collapses every run of characters outside
// [a-z0-9_] into a single dash.
func Slugify(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	prevDash := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			prevDash = false
		} else if !prevDash {
			b.WriteRune('-')
			prevDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
