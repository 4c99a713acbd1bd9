package server

import (
	"context"
	"encoding/json"

	"scanopy-mcp/internal/models"
	"scanopy-mcp/pkg/errors"
	"scanopy-mcp/pkg/tools"
)

// Control fields taken out of tools/call arguments before dispatch
const (
	argConfirm = tools.ConfirmField
	argDryRun  = "dry_run"
)

// handleToolsList handles the tools/list method
func (s *MCPServer) handleToolsList(ctx context.Context, message *models.MCPMessage) *models.MCPMessage {
	if s.manager == nil {
		return s.createStructuredErrorResponse(message.ID, errors.NewSystemError(errors.ErrCodeInitializationFailed,
			"Tools system not initialized", nil))
	}

	definitions, err := s.manager.ListTools(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list tools")
		return s.createStructuredErrorResponse(message.ID, errors.From(err))
	}

	mcpTools := make([]models.MCPTool, 0, len(definitions))
	for _, def := range definitions {
		mcpTools = append(mcpTools, models.MCPTool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}

	return &models.MCPMessage{
		JSONRPC: "2.0",
		ID:      message.ID,
		Result:  models.MCPToolsListResult{Tools: mcpTools},
	}
}

// handleToolsCall handles the tools/call method
func (s *MCPServer) handleToolsCall(ctx context.Context, message *models.MCPMessage) *models.MCPMessage {
	if s.dispatcher == nil {
		return s.createStructuredErrorResponse(message.ID, errors.NewSystemError(errors.ErrCodeInitializationFailed,
			"Tools system not initialized", nil))
	}

	var params models.MCPToolsCallParams
	if len(message.Params) > 0 {
		if err := json.Unmarshal(message.Params, &params); err != nil {
			return s.createStructuredErrorResponse(message.ID, errors.NewValidationError(errors.ErrCodeInvalidParams,
				"Invalid parameters format", err))
		}
	}

	if params.Name == "" {
		return s.createStructuredErrorResponse(message.ID, errors.NewValidationError(errors.ErrCodeInvalidParams,
			"Missing 'name' in request", nil))
	}

	args, opts := splitCallArguments(params.Arguments)

	result, err := s.dispatcher.Call(ctx, params.Name, args, opts)
	if err != nil {
		return s.createStructuredErrorResponse(message.ID, errors.From(err))
	}

	text, err := json.Marshal(result)
	if err != nil {
		return s.createStructuredErrorResponse(message.ID, errors.NewSystemError(errors.ErrCodeInternal,
			"Failed to serialize tool result", err).WithContext("tool", params.Name))
	}

	return &models.MCPMessage{
		JSONRPC: "2.0",
		ID:      message.ID,
		Result: models.MCPToolsCallResult{
			Content: []models.MCPToolContent{{Type: "text", Text: string(text)}},
		},
	}
}

// splitCallArguments copies the tool arguments without the confirm and
// dry_run control fields. The caller's map is left untouched.
func splitCallArguments(in map[string]interface{}) (map[string]interface{}, tools.CallOptions) {
	var opts tools.CallOptions
	args := make(map[string]interface{}, len(in))
	for k, v := range in {
		switch k {
		case argConfirm:
			opts.Confirm, _ = v.(string)
		case argDryRun:
			opts.DryRun, _ = v.(bool)
		default:
			args[k] = v
		}
	}
	return args, opts
}
