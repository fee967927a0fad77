package remote

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeRunner records executed commands and scripts their outputs
type fakeRunner struct {
	commands []string
	// statSize is returned for remote stat calls
	statSize string
	// failScp makes the scp invocation fail
	failScp bool
	// failProbe makes the remote ffprobe check fail
	failProbe bool
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	cmd := name + " " + strings.Join(args, " ")
	f.commands = append(f.commands, cmd)

	switch {
	case name == "scp" && f.failScp:
		return []byte("connection reset"), fmt.Errorf("exit status 1")
	case strings.Contains(cmd, "stat -c"):
		return []byte(f.statSize + "\n"), nil
	case strings.Contains(cmd, "ffprobe") && f.failProbe:
		return []byte("invalid data found"), fmt.Errorf("exit status 1")
	}
	return nil, nil
}

func (f *fakeRunner) ran(fragment string) bool {
	for _, cmd := range f.commands {
		if strings.Contains(cmd, fragment) {
			return true
		}
	}
	return false
}

func transferFixture(t *testing.T, runner *fakeRunner) (*Transfer, *InstanceDetails, string) {
	t.Helper()

	fleet := newFakeFleet("running")
	srv := httptest.NewServer(fleet.handler())
	t.Cleanup(srv.Close)

	m := testManager(t, srv.URL, ManagerOptions{})
	tr := NewTransferWithRunner(m, runner)

	local := filepath.Join(t.TempDir(), "input.mp4")
	require.NoError(t, os.WriteFile(local, []byte("0123456789"), 0o600))

	inst := &InstanceDetails{
		ID:      "gpu-1",
		SSHHost: "10.0.0.5",
		SSHPort: 22,
		SSHUser: "root",
	}
	return tr, inst, local
}

func TestUploadSuccess(t *testing.T) {
	runner := &fakeRunner{statSize: "10"}
	tr, inst, local := transferFixture(t, runner)

	remoteIn, remoteOut, err := tr.Upload(context.Background(), inst, local)
	require.NoError(t, err)
	require.Equal(t, "/app/inbox/input.mp4", remoteIn)
	require.Equal(t, "/app/outbox/input.mp4", remoteOut)

	// Staged copy, verified, then renamed into place
	require.True(t, runner.ran("input.mp4.part"))
	require.True(t, runner.ran("ffprobe -v error /app/inbox/input.mp4.part"))
	require.True(t, runner.ran("mv /app/inbox/input.mp4.part /app/inbox/input.mp4"))
}

func TestUploadSizeMismatchNeverRenames(t *testing.T) {
	runner := &fakeRunner{statSize: "7"}
	tr, inst, local := transferFixture(t, runner)

	_, _, err := tr.Upload(context.Background(), inst, local)
	require.Error(t, err)
	require.True(t, IsTransient(err))
	require.Contains(t, err.Error(), "size mismatch")

	// The incomplete copy is removed, never renamed into the input path
	require.False(t, runner.ran("mv "))
	require.True(t, runner.ran("rm -f /app/inbox/input.mp4.part"))
}

func TestUploadProbeFailureNeverRenames(t *testing.T) {
	runner := &fakeRunner{statSize: "10", failProbe: true}
	tr, inst, local := transferFixture(t, runner)

	_, _, err := tr.Upload(context.Background(), inst, local)
	require.Error(t, err)
	require.True(t, IsTransient(err))

	require.False(t, runner.ran("mv "))
	require.True(t, runner.ran("rm -f /app/inbox/input.mp4.part"))
}

func TestUploadScpFailureCleansUp(t *testing.T) {
	runner := &fakeRunner{statSize: "10", failScp: true}
	tr, inst, local := transferFixture(t, runner)

	_, _, err := tr.Upload(context.Background(), inst, local)
	require.Error(t, err)
	require.True(t, IsTransient(err))
	require.True(t, runner.ran("rm -f /app/inbox/input.mp4.part"))
}

func TestUploadMissingLocalFile(t *testing.T) {
	runner := &fakeRunner{statSize: "10"}
	tr, inst, _ := transferFixture(t, runner)

	_, _, err := tr.Upload(context.Background(), inst, "/does/not/exist.mp4")
	require.Error(t, err)
	require.False(t, IsTransient(err))
}

func TestDownload(t *testing.T) {
	runner := &fakeRunner{}
	tr, inst, _ := transferFixture(t, runner)

	dir := t.TempDir()
	local, err := tr.Download(context.Background(), inst, "/app/outbox/result.mp4", dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "result.mp4"), local)
	require.True(t, runner.ran("root@10.0.0.5:/app/outbox/result.mp4"))
}
