// Package remote is the SSH/SFTP gateway to training and inference
// hosts. Operations connect lazily and release the transport when they
// return; streaming calls hold it until drained or stopped.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/crypto/ssh"

	"github.com/ternarybob/forge/internal/interfaces"
	"github.com/ternarybob/forge/internal/models"
)

const (
	dialTimeout        = 10 * time.Second
	defaultExecTimeout = 30 * time.Second
	tailWindow         = 300 * time.Second
)

// Machine is the concrete gateway for one host
type Machine struct {
	machine *models.Machine
	logger  arbor.ILogger

	mu     sync.Mutex
	client *ssh.Client
}

// NewMachine builds a gateway for a machine snapshot
func NewMachine(machine *models.Machine, logger arbor.ILogger) interfaces.RemoteMachine {
	return &Machine{
		machine: machine,
		logger:  logger.WithPrefix("remote"),
	}
}

// Connector adapts NewMachine to the connector contract
func Connector(logger arbor.ILogger) interfaces.MachineConnector {
	return func(machine *models.Machine) interfaces.RemoteMachine {
		return NewMachine(machine, logger)
	}
}

func (m *Machine) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if m.machine.SSHPrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(m.machine.SSHPrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if m.machine.SSHPassword != "" {
		methods = append(methods, ssh.Password(m.machine.SSHPassword))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("machine %s has no ssh credentials", m.machine.ID)
	}
	return methods, nil
}

// connect ensures the transport is up, dialing if needed
func (m *Machine) connect() (*ssh.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client, nil
	}

	methods, err := m.authMethods()
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            m.machine.SSHUser,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	addr := net.JoinHostPort(m.machine.IP, fmt.Sprintf("%d", m.machine.SSHPort))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	m.client = client
	return client, nil
}

// Close tears down the transport if open
func (m *Machine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	return err
}

// TestConnection opens a session, runs a trivial command, and closes
func (m *Machine) TestConnection(ctx context.Context) error {
	defer m.Close()
	result, err := m.ExecuteCommand(ctx, "echo ok", defaultExecTimeout)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("connection test exited %d: %s", result.ExitCode, result.Stderr)
	}
	return nil
}

// ExecuteCommand runs a one-shot command, returning both output streams
// and the exit code. A non-zero exit is reported in the result, not as
// an error.
func (m *Machine) ExecuteCommand(ctx context.Context, cmd string, timeout time.Duration) (*interfaces.ExecResult, error) {
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	defer m.Close()

	client, err := m.connect()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err = <-done:
	case <-timer.C:
		session.Close()
		return nil, fmt.Errorf("command timed out after %s: %s", timeout, cmd)
	case <-ctx.Done():
		session.Close()
		return nil, ctx.Err()
	}

	result := &interfaces.ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *ssh.ExitError
		if ok := asExitError(err, &exitErr); ok {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return nil, fmt.Errorf("command failed: %w", err)
	}
	return result, nil
}

func asExitError(err error, target **ssh.ExitError) bool {
	if e, ok := err.(*ssh.ExitError); ok {
		*target = e
		return true
	}
	return false
}

// TailLog follows a remote file with tail -n 1000 -f. Complete lines are
// delivered with their terminal newline; a partial tail is buffered until
// its newline arrives. The returned stop function ends the stream and
// releases the transport.
func (m *Machine) TailLog(ctx context.Context, path string) (<-chan string, func(), error) {
	client, err := m.connect()
	if err != nil {
		return nil, nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		m.Close()
		return nil, nil, fmt.Errorf("failed to open session: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		m.Close()
		return nil, nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := session.Start(fmt.Sprintf("tail -n 1000 -f %s", path)); err != nil {
		session.Close()
		m.Close()
		return nil, nil, fmt.Errorf("failed to start tail: %w", err)
	}

	lines := make(chan string, 64)
	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			session.Close()
			m.Close()
		})
	}

	go func() {
		defer close(lines)
		defer stop()
		pumpLines(ctx, stdout, lines)
	}()

	return lines, stop, nil
}

// pumpLines splits a byte stream into newline-terminated lines. Complete
// lines keep their terminal newline; a partial tail stays buffered until
// its newline arrives, and the last unterminated fragment is flushed
// when the stream ends.
func pumpLines(ctx context.Context, r io.Reader, lines chan<- string) {
	buf := make([]byte, 4096)
	var pending []byte
	for {
		if ctx.Err() != nil {
			return
		}
		n, readErr := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				idx := bytes.IndexByte(pending, '\n')
				if idx < 0 {
					break
				}
				line := string(pending[:idx+1])
				pending = pending[idx+1:]
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
		}
		if readErr != nil {
			if len(pending) > 0 {
				select {
				case lines <- string(pending):
				case <-ctx.Done():
				}
			}
			return
		}
	}
}

// GetLargeFile streams a remote file through cat. The deadline resets
// whenever a chunk arrives.
func (m *Machine) GetLargeFile(ctx context.Context, path string, chunkSize int, timeout time.Duration) (<-chan []byte, func(), error) {
	if chunkSize <= 0 {
		chunkSize = 64 * 1024
	}
	if timeout <= 0 {
		timeout = tailWindow
	}

	client, err := m.connect()
	if err != nil {
		return nil, nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		m.Close()
		return nil, nil, fmt.Errorf("failed to open session: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		m.Close()
		return nil, nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := session.Start(fmt.Sprintf("cat %s", path)); err != nil {
		session.Close()
		m.Close()
		return nil, nil, fmt.Errorf("failed to start cat: %w", err)
	}

	chunks := make(chan []byte, 8)
	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			session.Close()
			m.Close()
		})
	}

	go func() {
		defer close(chunks)
		defer stop()
		pumpChunks(ctx, stdout, chunkSize, timeout, chunks)
	}()

	return chunks, stop, nil
}

// pumpChunks forwards a byte stream in chunkSize reads. The inactivity
// deadline resets whenever a chunk arrives and ends the stream when the
// receiver stalls past it.
func pumpChunks(ctx context.Context, r io.Reader, chunkSize int, timeout time.Duration, chunks chan<- []byte) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		buf := make([]byte, chunkSize)
		n, readErr := r.Read(buf)
		if n > 0 {
			if !deadline.Stop() {
				select {
				case <-deadline.C:
				default:
				}
			}
			deadline.Reset(timeout)
			select {
			case chunks <- buf[:n]:
			case <-deadline.C:
				return
			case <-ctx.Done():
				return
			}
		}
		if readErr != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// FindAvailablePort scans netstat output for the first unused port in
// [start, end].
func (m *Machine) FindAvailablePort(ctx context.Context, start, end int) (int, error) {
	if start <= 0 {
		start = 30000
	}
	if end <= start {
		end = 40000
	}

	result, err := m.ExecuteCommand(ctx, "netstat -tuln", defaultExecTimeout)
	if err != nil {
		return 0, err
	}

	used := parseListeningPorts(result.Stdout)
	for port := start; port <= end; port++ {
		if !used[port] {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available port in range %d-%d", start, end)
}

func parseListeningPorts(output string) map[int]bool {
	used := make(map[int]bool)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		local := fields[3]
		idx := strings.LastIndexByte(local, ':')
		if idx < 0 {
			continue
		}
		var port int
		if _, err := fmt.Sscanf(local[idx+1:], "%d", &port); err == nil {
			used[port] = true
		}
	}
	return used
}

// MonitorServiceStatus probes systemctl status and interprets the
// Active line.
func (m *Machine) MonitorServiceStatus(ctx context.Context, name string) (interfaces.ServiceState, string, error) {
	result, err := m.ExecuteCommand(ctx, fmt.Sprintf("systemctl status %s.service", name), defaultExecTimeout)
	if err != nil {
		return interfaces.ServiceStateError, "", err
	}

	output := result.Stdout + result.Stderr
	return classifyServiceStatus(output), output, nil
}

// classifyServiceStatus maps systemctl status output onto the service
// state. A finished one-shot unit reports inactive (dead), which counts
// as success.
func classifyServiceStatus(output string) interfaces.ServiceState {
	switch {
	case strings.Contains(output, "Active: active (running)"):
		return interfaces.ServiceStateStarting
	case strings.Contains(output, "Active: inactive (dead)"):
		return interfaces.ServiceStateSuccess
	case strings.Contains(output, "Active: failed"):
		return interfaces.ServiceStateFailed
	case strings.Contains(output, "could not be found"):
		return interfaces.ServiceStateError
	default:
		return interfaces.ServiceStateError
	}
}
