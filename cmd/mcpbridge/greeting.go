package main

import (
	"context"
	"fmt"

	"github.com/vinayprograms/mcpbridge/logging"
	"github.com/vinayprograms/mcpbridge/mcp"
)

func greetingTool() mcp.Tool {
	return mcp.Tool{
		Name:        "update_greeting",
		Description: "Update the greeting shown to the user",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"greeting": map[string]interface{}{
					"type":        "string",
					"description": "Greeting word, e.g. Hello",
				},
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Who to greet",
				},
			},
			"required": []string{"greeting", "name"},
		},
	}
}

// greetingHandler renders the greeting into the log.
func greetingHandler(logger *logging.Logger) mcp.ToolHandler {
	return func(ctx context.Context, args map[string]interface{}) (*mcp.ToolCallResult, error) {
		greeting, err := mcp.StringArg(args, "greeting")
		if err != nil {
			return nil, err
		}
		name, err := mcp.StringArg(args, "name")
		if err != nil {
			return nil, err
		}

		text := fmt.Sprintf("%s, %s!", greeting, name)
		logger.Info("greeting", map[string]interface{}{"text": text})
		return mcp.TextResult("Greeting updated to: " + text), nil
	}
}
