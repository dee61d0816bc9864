package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/loomhq/loom/internal/a2a"
	"github.com/loomhq/loom/internal/ids"
)

// TransformError indicates a tool result that cannot become an
// artifact.
type TransformError struct {
	ToolName string
	Reason   string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: %s", e.ToolName, e.Reason)
}

// TransformInput carries one tool result into artifact assembly.
type TransformInput struct {
	ToolName       string
	Result         *CallToolResult
	Schema         json.RawMessage
	ContextID      ids.ContextID
	TaskID         ids.TaskID
	ExecutionIndex int // position in the planner's tool call batch
}

// Transform builds an artifact from a tool result. A JSON object in
// structuredContent becomes a single DataPart; otherwise the content
// array is mapped item by item (unknown types skipped). A result
// yielding no parts is an error.
func Transform(in TransformInput) (a2a.Artifact, error) {
	var parts []a2a.Part

	if len(in.Result.StructuredContent) > 0 {
		var obj map[string]any
		if err := json.Unmarshal(in.Result.StructuredContent, &obj); err == nil {
			parts = append(parts, a2a.DataPart{Data: obj})
		}
	}

	if len(parts) == 0 {
		for _, item := range in.Result.Content {
			switch item.Type {
			case "text":
				parts = append(parts, a2a.TextPart{Text: item.Text})
			case "image":
				parts = append(parts, a2a.FilePart{File: a2a.FileContent{
					Bytes:    item.Data,
					MimeType: item.MimeType,
				}})
			case "resource":
				if item.Resource == nil {
					continue
				}
				parts = append(parts, a2a.FilePart{File: a2a.FileContent{
					Name:     item.Resource.URI,
					MimeType: item.Resource.MimeType,
				}})
			}
		}
	}

	if len(parts) == 0 {
		return a2a.Artifact{}, &TransformError{
			ToolName: in.ToolName,
			Reason:   "Artifact must be an object or contain a 'content' array",
		}
	}

	return a2a.Artifact{
		ArtifactID: ids.NewArtifactID(),
		Name:       in.ToolName,
		Parts:      parts,
		Metadata: a2a.ArtifactMetadata{
			ArtifactType:   in.ToolName,
			Source:         "mcp_tool",
			ToolName:       in.ToolName,
			McpExecutionID: ids.McpExecutionID(in.Result.Meta.McpExecutionID),
			ExecutionIndex: in.ExecutionIndex,
			McpSchema:      in.Schema,
		},
	}, nil
}
