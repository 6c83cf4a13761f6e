package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/osmscene/pkg/core"
)

// ErrorResponse builds an error result the client can show to the user.
func ErrorResponse(msg string) *mcp.CallToolResult {
	return mcp.NewToolResultError(msg)
}

// InputParser decodes request arguments into a typed struct.
func InputParser[T any](req mcp.CallToolRequest) (T, *mcp.CallToolResult, error) {
	var input T

	raw, err := json.Marshal(req.Params.Arguments)
	if err != nil {
		return input, ErrorResponse(fmt.Sprintf("Invalid input format: %v", err)), err
	}
	if err := json.Unmarshal(raw, &input); err != nil {
		return input, ErrorResponse(fmt.Sprintf("Failed to parse input: %v", err)), err
	}
	return input, nil, nil
}

// WithParsedInput adapts a typed handler to an MCP tool handler. Handler
// errors become error results carrying the error text (and guidance for
// classified errors); the result is returned as JSON text.
func WithParsedInput[T any](
	handlerName string,
	logger *slog.Logger,
	handler func(ctx context.Context, input T, logger *slog.Logger) (any, error),
) func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("tool", handlerName)

	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, errResult, err := InputParser[T](req)
		if err != nil {
			logger.Error("failed to parse input", "error", err)
			return errResult, nil
		}

		result, err := handler(ctx, input, logger)
		if err != nil {
			if core.IsFatal(err) {
				logger.Error("handler error", "error", err)
			} else {
				logger.Warn("request rejected", "error", err)
			}
			return ErrorResponse(err.Error()), nil
		}

		out, err := json.Marshal(result)
		if err != nil {
			logger.Error("failed to marshal result", "error", err)
			return ErrorResponse("Failed to generate result"), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}
