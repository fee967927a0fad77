package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// GPU host job states
const (
	// GPUJobCompleted is the only remote terminal state mapped to success
	GPUJobCompleted = "completed"
	// GPUJobFailed is the remote failure state
	GPUJobFailed = "failed"
)

// GPUHost talks to the processing server on the rented instance
type GPUHost struct {
	manager    *Manager
	httpClient *http.Client
	port       int
}

// NewGPUHost creates a client for the instance's processing API
func NewGPUHost(manager *Manager) *GPUHost {
	return NewGPUHostWithPort(manager, 5000)
}

// NewGPUHostWithPort creates a client against a non-default processing port
func NewGPUHostWithPort(manager *Manager, port int) *GPUHost {
	return &GPUHost{
		manager:    manager,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		port:       port,
	}
}

type submitRequest struct {
	InputPath  string `json:"input_path"`
	OutputPath string `json:"output_path"`
	Archive    bool   `json:"archive,omitempty"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (g *GPUHost) baseURL(inst *InstanceDetails) (string, error) {
	if inst.PublicIP == "" {
		return "", &APIError{Class: Transient, Message: "instance public IP not known yet"}
	}
	return fmt.Sprintf("http://%s:%d", inst.PublicIP, g.port), nil
}

func (g *GPUHost) post(ctx context.Context, url string, req submitRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", &APIError{Class: Permanent, Message: "error marshaling job request", Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &APIError{Class: Permanent, Message: "error creating job request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	g.manager.Touch()
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", &APIError{Class: Transient, Message: "gpu host unreachable", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", &APIError{
			Class:      Transient,
			StatusCode: resp.StatusCode,
			Message:    "gpu host rejected job submission",
		}
	}
	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", &APIError{Class: Transient, Message: "error decoding job submission response", Err: err}
	}
	if sr.JobID == "" {
		return "", &APIError{Class: Transient, Message: "gpu host returned no job id"}
	}
	return sr.JobID, nil
}

// SubmitUpscale submits an upscale request and returns the remote job handle
func (g *GPUHost) SubmitUpscale(ctx context.Context, inst *InstanceDetails, remoteIn, remoteOut string) (string, error) {
	base, err := g.baseURL(inst)
	if err != nil {
		return "", err
	}
	return g.post(ctx, base+"/upscale", submitRequest{InputPath: remoteIn, OutputPath: remoteOut})
}

// SubmitCut submits a clip-cutting request whose output is an archive of clips
func (g *GPUHost) SubmitCut(ctx context.Context, inst *InstanceDetails, remoteIn, remoteOut string) (string, error) {
	base, err := g.baseURL(inst)
	if err != nil {
		return "", err
	}
	return g.post(ctx, base+"/cut", submitRequest{InputPath: remoteIn, OutputPath: remoteOut, Archive: true})
}

// JobStatus returns the remote job's state. Transport failures map to
// "failed" the way the original host client does; the poller treats any
// non-completed terminal state as fatal.
func (g *GPUHost) JobStatus(ctx context.Context, inst *InstanceDetails, jobID string) (string, error) {
	base, err := g.baseURL(inst)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/job/%s", base, jobID), nil)
	if err != nil {
		return "", &APIError{Class: Permanent, Message: "error creating status request", Err: err}
	}

	g.manager.Touch()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", &APIError{Class: Transient, Message: "gpu host unreachable", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return GPUJobFailed, nil
	}
	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", &APIError{Class: Transient, Message: "error decoding job status", Err: err}
	}
	if sr.Status == "" {
		return GPUJobFailed, nil
	}
	return sr.Status, nil
}
