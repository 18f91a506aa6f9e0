package mcp

import (
	"github.com/mark3labs/mcp-go/server"
)

// Register wires every orchestrator tool into s. Each registration below is
// a pure adapter over the already-built core packages: no handler keeps any
// state of its own beyond what Deps already holds.
func Register(s *server.MCPServer, d *Deps) {
	// Registry tools.
	registerRegisterWorker(s, d)
	registerHireWorker(s, d)
	registerListWorkers(s, d)
	registerCreateHandoff(s, d)

	// Messaging tools.
	registerSendMessage(s, d)
	registerBroadcastMessage(s, d)

	// Reply-needed request tools.
	registerGatherRequest(s, d)
	registerRespondRequest(s, d)

	// Agent state tools.
	registerStateSetSelf(s, d)
	registerStateSet(s, d)
	registerPauseResume(s, d)

	// Search tool (optional).
	registerSearch(s, d)
}
