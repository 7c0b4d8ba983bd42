package services

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"domainpilot/internal/models"

	"golang.org/x/crypto/ssh"
)

// Executor runs a shell command on the deployment target.
type Executor interface {
	Run(ctx context.Context, command string) (string, error)
}

// ExecutionMode is the tagged variant Remote | Simulated. It is resolved once
// per pipeline call and passed down, never inferred again inside a component.
type ExecutionMode struct {
	Remote Executor // nil selects simulated mode
}

func (m ExecutionMode) Simulated() bool { return m.Remote == nil }

func (m ExecutionMode) String() string {
	if m.Simulated() {
		return "simulated"
	}
	return "remote"
}

// ResolveExecutionMode selects remote execution when SSH credentials are
// present in the deployment config, simulated otherwise.
func ResolveExecutionMode(cfg models.DeploymentConfig) (ExecutionMode, error) {
	if cfg.SSHUser == "" || cfg.SSHKeyPath == "" || cfg.ServerAddress == "" {
		return ExecutionMode{}, nil
	}
	exec, err := NewSSHExecutor(cfg.ServerAddress, cfg.SSHUser, cfg.SSHKeyPath)
	if err != nil {
		return ExecutionMode{}, err
	}
	return ExecutionMode{Remote: exec}, nil
}

// SSHExecutor runs commands on the target server over SSH. A fresh session is
// opened per command; the client connection is dialed lazily per call so a
// dead target surfaces as a step failure, not a construction failure.
type SSHExecutor struct {
	addr   string
	config *ssh.ClientConfig
}

func NewSSHExecutor(host, user, keyPath string) (*SSHExecutor, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}

	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, "22")
	}

	return &SSHExecutor{
		addr: addr,
		config: &ssh.ClientConfig{
			User:            user,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         10 * time.Second,
		},
	}, nil
}

func (e *SSHExecutor) Run(ctx context.Context, command string) (string, error) {
	conn, err := net.DialTimeout("tcp", e.addr, e.config.Timeout)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", e.addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, e.addr, e.config)
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("ssh handshake with %s: %w", e.addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(command)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		client.Close() // tears down the in-flight session
		return "", ctx.Err()
	case res := <-done:
		if res.err != nil {
			return string(res.out), fmt.Errorf("run %q: %w", command, res.err)
		}
		return string(res.out), nil
	}
}
