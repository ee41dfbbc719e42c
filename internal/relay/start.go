package relay

import (
	"context"
	"log/slog"

	"github.com/openwork/desktop-core/internal/procchild"
)

// StartOptions configures Start.
type StartOptions struct {
	WorkspacePaths   []string
	EngineBaseURL    string
	EngineUsername   string
	EnginePassword   string
	BridgeHealthPort int
	Logger           *slog.Logger
}

// Start brings up the relay server: any previous relay is stopped first,
// then a port is resolved (preferring 8787), fresh client and host tokens
// are minted, and the new child is installed in the registry with its
// advertised URLs. The returned snapshot includes the tokens the UI needs
// for the connect flow.
func Start(ctx context.Context, m *Manager, o StartOptions) (Info, error) {
	m.Stop()

	port, err := ResolvePort()
	if err != nil {
		return Info{}, err
	}
	clientToken := GenerateToken()
	hostToken := GenerateToken()
	host := "0.0.0.0"

	engineDirectory := ""
	if len(o.WorkspacePaths) > 0 {
		engineDirectory = o.WorkspacePaths[0]
	}

	child, err := Spawn(ctx, SpawnOptions{
		Host:             host,
		Port:             port,
		WorkspacePaths:   o.WorkspacePaths,
		Token:            clientToken,
		HostToken:        hostToken,
		EngineBaseURL:    o.EngineBaseURL,
		EngineDirectory:  engineDirectory,
		EngineUsername:   o.EngineUsername,
		EnginePassword:   o.EnginePassword,
		BridgeHealthPort: o.BridgeHealthPort,
		Logger:           o.Logger,
	})
	if err != nil {
		return Info{}, err
	}

	m.Start(StartState{
		Child:       child,
		Host:        host,
		Port:        port,
		URLs:        BuildURLs(port),
		ClientToken: clientToken,
		HostToken:   hostToken,
	})
	procchild.Consume(child, m)

	return m.Snapshot(), nil
}
