package server

import (
	"runtime"
	"time"

	"scanopy-mcp/internal/models"
	"scanopy-mcp/pkg/errors"
)

// handlePerformanceMetrics handles requests for server performance metrics
func (s *MCPServer) handlePerformanceMetrics(message *models.MCPMessage) *models.MCPMessage {
	serverMetrics := map[string]interface{}{
		"server_info":     s.serverInfo,
		"initialized":     s.initialized.Load(),
		"requests":        s.requests.Load(),
		"failed_requests": s.failures.Load(),
		"logging":         s.loggingManager.GetStats(),
		"goroutines":      runtime.NumGoroutine(),
		"memory_stats":    getMemoryStats(),
		"timestamp":       time.Now().Format(time.RFC3339),
	}
	if s.loader != nil {
		serverMetrics["document_metrics"] = s.loader.GetPerformanceMetrics()
	}
	if s.manager != nil {
		serverMetrics["tool_metrics"] = s.manager.GetPerformanceMetrics()
	}

	return &models.MCPMessage{
		JSONRPC: "2.0",
		ID:      message.ID,
		Result:  serverMetrics,
	}
}

// createErrorResponse creates an MCP error response
func (s *MCPServer) createErrorResponse(id interface{}, code int, message string) *models.MCPMessage {
	return &models.MCPMessage{
		JSONRPC: "2.0",
		ID:      id,
		Error: &models.MCPError{
			Code:    code,
			Message: message,
		},
	}
}

// createStructuredErrorResponse creates an MCP error response from a structured error
func (s *MCPServer) createStructuredErrorResponse(id interface{}, structuredErr *errors.StructuredError) *models.MCPMessage {
	return &models.MCPMessage{
		JSONRPC: "2.0",
		ID:      id,
		Error:   structuredErr.ToMCPError(),
	}
}

// getMemoryStats returns current memory statistics
func getMemoryStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"alloc_bytes":       m.Alloc,
		"total_alloc_bytes": m.TotalAlloc,
		"sys_bytes":         m.Sys,
		"num_gc":            m.NumGC,
		"gc_cpu_fraction":   m.GCCPUFraction,
	}
}
