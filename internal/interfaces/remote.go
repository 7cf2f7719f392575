package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/forge/internal/models"
)

// ServiceState is the interpreted result of probing a systemd unit
type ServiceState string

const (
	ServiceStateStarting ServiceState = "Starting"
	ServiceStateSuccess  ServiceState = "Success"
	ServiceStateFailed   ServiceState = "Failed"
	ServiceStateError    ServiceState = "Error"
)

// ExecResult is the outcome of a one-shot remote command
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// RemoteMachine is the gateway to one SSH-addressable host. Operations
// connect lazily and release the transport on exit; streaming calls hold
// it until the stream is drained or the cancel function fires.
type RemoteMachine interface {
	TestConnection(ctx context.Context) error
	ExecuteCommand(ctx context.Context, cmd string, timeout time.Duration) (*ExecResult, error)
	TailLog(ctx context.Context, path string) (<-chan string, func(), error)
	GetLargeFile(ctx context.Context, path string, chunkSize int, timeout time.Duration) (<-chan []byte, func(), error)
	DownloadFile(ctx context.Context, remotePath, localPath string) error
	UploadFileWithDirs(ctx context.Context, localPath, remotePath string, overwrite bool) error
	FindAvailablePort(ctx context.Context, start, end int) (int, error)
	AddCrontabEntry(ctx context.Context, line, comment string) error
	AddRebootTask(ctx context.Context, command, name string) error
	RemoveRebootTaskByName(ctx context.Context, name string) error
	MonitorServiceStatus(ctx context.Context, name string) (ServiceState, string, error)
	Close() error
}

// MachineConnector builds a gateway for a machine snapshot. Services
// hold a connector rather than concrete gateways so tests can substitute
// scripted hosts.
type MachineConnector func(machine *models.Machine) RemoteMachine
