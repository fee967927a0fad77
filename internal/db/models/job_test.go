package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobValidate(t *testing.T) {
	cut := &Job{UUID: "u1", Kind: JobKindCut, URL: "https://example.com/v", Mode: CutModeSimple}
	require.NoError(t, cut.Validate())

	cut.URL = ""
	require.Error(t, cut.Validate())

	up := &Job{UUID: "u2", Kind: JobKindUpscale, FilePath: "/tmp/in.mp4"}
	require.NoError(t, up.Validate())

	up.FilePath = ""
	require.Error(t, up.Validate())

	require.Error(t, (&Job{UUID: "u3", Kind: "transcode"}).Validate())
	require.Error(t, (&Job{Kind: JobKindCut, URL: "x", Mode: CutModeSimple}).Validate())
}

func TestJobFirstStage(t *testing.T) {
	require.Equal(t, StageQueuedDownload, (&Job{Kind: JobKindCut}).FirstStage())
	require.Equal(t, StageQueued, (&Job{Kind: JobKindUpscale}).FirstStage())
}

func TestJobStatusTerminal(t *testing.T) {
	for status, terminal := range map[JobStatus]bool{
		JobStatusQueued:   false,
		JobStatusRunning:  false,
		JobStatusDone:     true,
		JobStatusError:    true,
		JobStatusCanceled: true,
	} {
		require.Equal(t, terminal, status.IsTerminal(), "status %s", status)
	}
}

func TestJobRemoteRefs(t *testing.T) {
	job := &Job{RemoteInputPath: "/app/inbox/a.mp4", RemoteJobID: "rj-1"}
	require.True(t, job.HasRemoteRefs())

	job.ClearRemoteRefs()
	require.False(t, job.HasRemoteRefs())
	require.Empty(t, job.RemoteInputPath)
	require.Empty(t, job.RemoteJobID)
}

func TestParseJobStatusAndKind(t *testing.T) {
	status, err := ParseJobStatus("queued")
	require.NoError(t, err)
	require.Equal(t, JobStatusQueued, status)

	_, err = ParseJobStatus("sleeping")
	require.Error(t, err)

	kind, err := ParseJobKind("upscale")
	require.NoError(t, err)
	require.Equal(t, JobKindUpscale, kind)

	_, err = ParseJobKind("transcode")
	require.Error(t, err)
}
