// Package remote talks to the anysyncd-helper binary on peer hosts. The
// actual remote-command transport (ssh or otherwise) is explicitly out of
// spec scope: spec.md assumes it is "available on the host and ... an
// external tool", so the production Transport shells out to the system
// ssh binary via os/exec rather than embedding an SSH client.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

var stampsLineRe = regexp.MustCompile(`^[0-9]{0,10}:[0-9]{0,10}$`)

// Transport executes a command on host and returns its captured stdout.
// A non-nil error means the command could not be run or exited non-zero;
// callers classify that as ErrPeerTransport.
type Transport interface {
	Run(ctx context.Context, host string, args ...string) ([]byte, error)
}

// SSHTransport shells out to the system ssh binary. prefixCommand, when
// non-empty, is split and prepended to the ssh invocation itself (for
// example a wrapper that selects an identity file or a jump host), matching
// the remote_prefix_command configuration key.
type SSHTransport struct {
	PrefixCommand string
}

// Run executes `ssh host <args...>` (optionally prefixed), returning
// stdout. Stderr is captured into the returned error for diagnostics.
func (t SSHTransport) Run(ctx context.Context, host string, args ...string) ([]byte, error) {
	full := append([]string{"ssh", host}, args...)
	if t.PrefixCommand != "" {
		full = append(strings.Fields(t.PrefixCommand), full...)
	}

	cmd := exec.CommandContext(ctx, full[0], full[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("remote: running %q on %s: %w: %s", strings.Join(args, " "), host, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// Client is a thin RPC facade over Transport implementing the two helper
// subcommands anysyncd-helper exposes: "stamps" and "commit".
type Client struct {
	Transport Transport
}

// New returns a Client using the default SSH-based transport.
func New(prefixCommand string) *Client {
	return &Client{Transport: SSHTransport{PrefixCommand: prefixCommand}}
}

// Stamps queries host for its success and lastchange epoch timestamps for
// the named syncer, per spec.md §4.4's freshness check. An empty string
// for either value means "no stamp recorded" and must not veto
// replication (spec.md explicitly calls this out).
func (c *Client) Stamps(ctx context.Context, host, syncerName, stateDir string) (success, lastChange string, err error) {
	out, err := c.Transport.Run(ctx, host, "anysyncd-helper", "stamps", "--name", syncerName, "--state-dir", stateDir)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrPeerTransport, err)
	}
	return ParseStampsLine(string(out))
}

// ParseStampsLine parses the wire format `"<success>:<lastchange>"`
// produced by `anysyncd-helper stamps`, per spec.md §4.4/§6. Each field
// may be empty; after surrounding whitespace (such as the trailing
// newline) is trimmed, a line not matching `^[0-9]{0,10}:[0-9]{0,10}$` is
// rejected as malformed.
func ParseStampsLine(line string) (success, lastChange string, err error) {
	line = strings.TrimSpace(line)
	success, lastChange, ok := strings.Cut(line, ":")
	if !ok || !stampsLineRe.MatchString(line) {
		return "", "", fmt.Errorf("remote: malformed stamps response %q", line)
	}
	return strings.TrimSpace(success), strings.TrimSpace(lastChange), nil
}

// Commit tells host to atomically swap its staging tree into production
// for the named syncer, per spec.md §4.5.
func (c *Client) Commit(ctx context.Context, host, syncerName string) error {
	_, err := c.Transport.Run(ctx, host, "anysyncd-helper", "commit", "--name", syncerName)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrCommitFailed, err)
	}
	return nil
}
