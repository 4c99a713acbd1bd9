package server

import (
	"encoding/json"

	"scanopy-mcp/internal/models"
)

// handleInitialize handles the MCP initialize method. The client's protocol
// version is echoed back when present.
func (s *MCPServer) handleInitialize(message *models.MCPMessage) *models.MCPMessage {
	protocolVersion := DefaultProtocolVersion

	if len(message.Params) > 0 {
		var params models.MCPInitializeParams
		if err := json.Unmarshal(message.Params, &params); err == nil && params.ProtocolVersion != "" {
			protocolVersion = params.ProtocolVersion
		}
		if params.ClientInfo.Name != "" {
			s.logger.WithContext("client_name", params.ClientInfo.Name).
				WithContext("client_version", params.ClientInfo.Version).
				Info("Client connected")
		}
	}

	result := models.MCPInitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    s.capabilities,
		ServerInfo:      s.serverInfo,
	}

	return &models.MCPMessage{
		JSONRPC: "2.0",
		ID:      message.ID,
		Result:  result,
	}
}

// handleInitialized handles the notifications/initialized method
func (s *MCPServer) handleInitialized(message *models.MCPMessage) *models.MCPMessage {
	s.initialized.Store(true)
	s.logger.Info("MCP session initialized")
	return nil
}

// handlePing answers the liveness check with an empty result
func (s *MCPServer) handlePing(message *models.MCPMessage) *models.MCPMessage {
	return &models.MCPMessage{
		JSONRPC: "2.0",
		ID:      message.ID,
		Result:  map[string]interface{}{},
	}
}

// IsInitialized reports whether the client completed the handshake
func (s *MCPServer) IsInitialized() bool {
	return s.initialized.Load()
}
