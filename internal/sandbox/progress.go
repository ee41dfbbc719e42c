package sandbox

import (
	"time"
)

// Stage labels one step of the detached sandbox startup sequence.
type Stage string

const (
	StageInit         Stage = "init"
	StageDockerConfig Stage = "docker.config"
	StageSpawned      Stage = "spawned"
	StageContainer    Stage = "docker.container"
	StageInspect      Stage = "docker.inspect"
	StageWaiting      Stage = "openwork.waiting"
	StageHealthy      Stage = "openwork.healthy"
	StageError        Stage = "error"
	StageComplete     Stage = "complete"
)

// Event is one progress observation during sandbox creation. Payload keys
// vary by stage (container state, probe errors, elapsed milliseconds).
type Event struct {
	RunID   string         `json:"runId"`
	Stage   Stage          `json:"stage"`
	Message string         `json:"message"`
	At      int64          `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Emitter receives progress events; typically it forwards them to the UI.
type Emitter func(Event)

func (c *Controller) emit(runID string, stage Stage, message string, payload map[string]any) {
	ev := Event{
		RunID:   runID,
		Stage:   stage,
		Message: message,
		At:      time.Now().UnixMilli(),
		Payload: payload,
	}
	c.log.Debug("sandbox progress", "runId", runID, "stage", string(stage), "message", message)
	if c.emitter != nil {
		c.emitter(ev)
	}
}
