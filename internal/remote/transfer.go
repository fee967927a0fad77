package remote

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/clipforge/clipforge/internal/logger"
)

// Remote staging layout on the GPU host
const (
	remoteInboxDir  = "/app/inbox"
	remoteOutboxDir = "/app/outbox"
)

// Transfer moves files between local storage and the GPU host over scp.
// Uploads are staged to a temp path, validated, and atomically renamed so a
// partial or corrupt copy is never visible under the final input path.
type Transfer struct {
	manager *Manager
	// runner is swappable in tests; defaults to exec-backed ssh/scp
	runner CommandRunner
}

// CommandRunner executes a command and returns its combined output
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- command arguments are constructed from validated inputs
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NewTransfer creates a Transfer bound to the lifecycle manager so every
// remote interaction counts as activity
func NewTransfer(manager *Manager) *Transfer {
	return &Transfer{manager: manager, runner: execRunner{}}
}

// NewTransferWithRunner creates a Transfer with a custom command runner
func NewTransferWithRunner(manager *Manager, runner CommandRunner) *Transfer {
	return &Transfer{manager: manager, runner: runner}
}

func sshTarget(inst *InstanceDetails) (string, string) {
	user := inst.SSHUser
	if user == "" {
		user = "root"
	}
	return fmt.Sprintf("%s@%s", user, inst.SSHHost), strconv.Itoa(inst.SSHPort)
}

func (t *Transfer) ssh(ctx context.Context, inst *InstanceDetails, command string) ([]byte, error) {
	target, port := sshTarget(inst)
	args := []string{
		"-p", port,
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "ConnectTimeout=10",
		target,
		command,
	}
	t.manager.Touch()
	return t.runner.Run(ctx, "ssh", args...)
}

// Upload copies localPath to the instance inbox and returns the planned
// remote input and output paths. The copy lands on a ".part" path first; the
// final input path only appears after the byte count matches and the remote
// tool can open the media stream.
func (t *Transfer) Upload(ctx context.Context, inst *InstanceDetails, localPath string) (string, string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", "", &APIError{Class: Permanent, Message: fmt.Sprintf("local file missing: %s", localPath), Err: err}
	}

	filename := filepath.Base(localPath)
	remoteIn := remoteInboxDir + "/" + filename
	remoteOut := remoteOutboxDir + "/" + filename
	staged := remoteIn + ".part"

	if _, err := t.ssh(ctx, inst, fmt.Sprintf("mkdir -p %s %s", remoteInboxDir, remoteOutboxDir)); err != nil {
		return "", "", &APIError{Class: Transient, Message: "failed to prepare remote directories", Err: err}
	}

	target, port := sshTarget(inst)
	t.manager.Touch()
	out, err := t.runner.Run(ctx, "scp",
		"-P", port,
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		localPath,
		fmt.Sprintf("%s:%s", target, staged),
	)
	if err != nil {
		t.cleanupStaged(ctx, inst, staged)
		return "", "", &APIError{Class: Transient, Message: fmt.Sprintf("scp upload failed: %s", strings.TrimSpace(string(out))), Err: err}
	}

	if err := t.verifyStaged(ctx, inst, staged, info.Size()); err != nil {
		t.cleanupStaged(ctx, inst, staged)
		return "", "", err
	}

	if _, err := t.ssh(ctx, inst, fmt.Sprintf("mv %s %s", staged, remoteIn)); err != nil {
		t.cleanupStaged(ctx, inst, staged)
		return "", "", &APIError{Class: Transient, Message: "failed to finalize remote upload", Err: err}
	}

	logger.Infof("uploaded %s to %s (%d bytes)", filename, remoteIn, info.Size())
	return remoteIn, remoteOut, nil
}

// verifyStaged guards against partial or corrupt transfers being picked up
// downstream: the staged size must match and ffprobe must open the stream.
func (t *Transfer) verifyStaged(ctx context.Context, inst *InstanceDetails, staged string, wantSize int64) error {
	out, err := t.ssh(ctx, inst, fmt.Sprintf("stat -c %%s %s", staged))
	if err != nil {
		return &APIError{Class: Transient, Message: "failed to stat staged upload", Err: err}
	}
	gotSize, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return &APIError{Class: Transient, Message: fmt.Sprintf("unreadable staged size: %q", strings.TrimSpace(string(out))), Err: err}
	}
	if gotSize != wantSize {
		return &APIError{
			Class:   Transient,
			Message: fmt.Sprintf("staged upload size mismatch: got %d, want %d", gotSize, wantSize),
		}
	}

	if out, err := t.ssh(ctx, inst, fmt.Sprintf("ffprobe -v error %s", staged)); err != nil {
		return &APIError{Class: Transient, Message: fmt.Sprintf("staged upload failed media check: %s", strings.TrimSpace(string(out))), Err: err}
	}
	return nil
}

func (t *Transfer) cleanupStaged(ctx context.Context, inst *InstanceDetails, staged string) {
	if _, err := t.ssh(ctx, inst, fmt.Sprintf("rm -f %s", staged)); err != nil {
		logger.Debugf("failed to remove staged upload %s: %v", staged, err)
	}
}

// Download copies remotePath from the instance into localDir and returns the
// local path
func (t *Transfer) Download(ctx context.Context, inst *InstanceDetails, remotePath, localDir string) (string, error) {
	if err := os.MkdirAll(localDir, 0o750); err != nil {
		return "", &APIError{Class: Permanent, Message: "failed to create local directory", Err: err}
	}
	localPath := filepath.Join(localDir, filepath.Base(remotePath))

	target, port := sshTarget(inst)
	t.manager.Touch()
	out, err := t.runner.Run(ctx, "scp",
		"-P", port,
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		fmt.Sprintf("%s:%s", target, remotePath),
		localPath,
	)
	if err != nil {
		return "", &APIError{Class: Transient, Message: fmt.Sprintf("scp download failed: %s", strings.TrimSpace(string(out))), Err: err}
	}
	return localPath, nil
}
