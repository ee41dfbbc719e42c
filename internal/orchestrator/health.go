package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const healthPollInterval = 200 * time.Millisecond

// Health is the daemon's /health response.
type Health struct {
	OK             bool         `json:"ok"`
	Daemon         *DaemonState `json:"daemon,omitempty"`
	Engine         *EngineState `json:"opencode,omitempty"`
	CLIVersion     string       `json:"cliVersion,omitempty"`
	ActiveID       string       `json:"activeId,omitempty"`
	WorkspaceCount int          `json:"workspaceCount,omitempty"`
}

// WorkspaceList is the daemon's /workspaces response.
type WorkspaceList struct {
	ActiveID   string      `json:"activeId,omitempty"`
	Workspaces []Workspace `json:"workspaces,omitempty"`
}

func fetchJSON(client *http.Client, url string, out any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("orchestrator returned HTTP %d for %s", resp.StatusCode, url)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// FetchHealth queries {baseURL}/health.
func FetchHealth(client *http.Client, baseURL string) (*Health, error) {
	var health Health
	url := strings.TrimRight(baseURL, "/") + "/health"
	if err := fetchJSON(client, url, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// FetchWorkspaces queries {baseURL}/workspaces.
func FetchWorkspaces(client *http.Client, baseURL string) (*WorkspaceList, error) {
	var list WorkspaceList
	url := strings.TrimRight(baseURL, "/") + "/workspaces"
	if err := fetchJSON(client, url, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// WaitForHealthy polls /health every 200ms until the daemon reports ok, the
// timeout elapses, or ctx is canceled. On timeout the last observed probe
// error is returned so the caller sees why the daemon never came up.
func WaitForHealthy(ctx context.Context, client *http.Client, baseURL string, timeout time.Duration) (*Health, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	deadline := time.Now().Add(timeout)
	var lastErr error

	for time.Now().Before(deadline) {
		health, err := FetchHealth(client, baseURL)
		switch {
		case err == nil && health.OK:
			return health, nil
		case err == nil:
			lastErr = errors.New("orchestrator reported unhealthy")
		default:
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(healthPollInterval):
		}
	}

	if lastErr == nil {
		lastErr = errors.New("timed out waiting for orchestrator")
	}
	return nil, lastErr
}
