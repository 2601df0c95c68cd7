package sshexec

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/bkowalski/fleetcore/internal/core/ports"
	xssh "golang.org/x/crypto/ssh"
)

// Runner executes commands on POSIX hosts over SSH using one process-wide
// signer. The 30s deadline covers connect plus exec; a command that outlives
// it comes back as a transport failure, not a hang.
type Runner struct {
	signer      xssh.Signer
	defaultUser string
	timeout     time.Duration
}

var _ ports.ShellRunner = (*Runner)(nil)

// NewRunner loads the private key at keyPath and returns a runner bound to
// it. Missing or unparsable key material is a startup error; callers that
// can live without the Linux transport should treat it as absent instead.
func NewRunner(keyPath string, defaultUser string) (*Runner, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := xssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Runner{signer: signer, defaultUser: defaultUser, timeout: 30 * time.Second}, nil
}

func (r *Runner) Run(ctx context.Context, host string, port int, user string, command string) (string, string, int, error) {
	if user == "" {
		user = r.defaultUser
	}
	cfg := &xssh.ClientConfig{
		User:            user,
		Auth:            []xssh.AuthMethod{xssh.PublicKeys(r.signer)},
		HostKeyCallback: xssh.InsecureIgnoreHostKey(),
		Timeout:         r.timeout,
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cli, err := dial(ctx, net.JoinHostPort(host, strconv.Itoa(port)), cfg)
	if err != nil {
		return "", "", -1, fmt.Errorf("dial %s: %w", host, err)
	}
	defer cli.Close()

	session, err := cli.NewSession()
	if err != nil {
		return "", "", -1, fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		return stdout.String(), stderr.String(), -1, ctx.Err()
	case err = <-done:
	}

	if err != nil {
		if exitErr, ok := err.(*xssh.ExitError); ok {
			return stdout.String(), stderr.String(), exitErr.ExitStatus(), nil
		}
		return stdout.String(), stderr.String(), -1, fmt.Errorf("run command: %w", err)
	}
	return stdout.String(), stderr.String(), 0, nil
}

// dial respects ctx cancellation around the blocking SSH handshake.
func dial(ctx context.Context, addr string, cfg *xssh.ClientConfig) (*xssh.Client, error) {
	type res struct {
		cli *xssh.Client
		err error
	}
	ch := make(chan res, 1)
	go func() {
		cli, err := xssh.Dial("tcp", addr, cfg)
		ch <- res{cli: cli, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.cli, r.err
	}
}
