package canvastools

import (
	"context"
	"errors"
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/rakha/easel/pkg/toolengine"
)

// RegisterCanvasTools registers the canvas editing tools. The engine's
// backend must implement Canvas.
func RegisterCanvasTools(engine *toolengine.Engine) error {
	if engine == nil {
		return errors.New("tool engine is required")
	}

	tools := []toolengine.Definition{
		addElementTool(),
		updateElementTool(),
		removeElementTool(),
		readCanvasTool(),
	}

	for _, tool := range tools {
		if err := engine.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func canvasFromContext(tc *toolengine.ToolContext) (Canvas, error) {
	canvas, ok := tc.Backend.(Canvas)
	if !ok || canvas == nil {
		return nil, fmt.Errorf("canvas backend is required")
	}
	return canvas, nil
}

func addElementTool() toolengine.Definition {
	return toolengine.Definition{
		Name:        "canvas_add_element",
		Description: "Add an element to the canvas.",
		Mutating:    true,
		Parameters: []toolengine.Param{
			{Name: "kind", Type: "string", Description: "Element kind, e.g. rectangle, text, frame", Required: true},
			{Name: "x", Type: "number", Description: "Left position", Required: false},
			{Name: "y", Type: "number", Description: "Top position", Required: false},
			{Name: "w", Type: "number", Description: "Width", Required: false},
			{Name: "h", Type: "number", Description: "Height", Required: false},
			{Name: "text", Type: "string", Description: "Text content", Required: false},
			{Name: "style", Type: "object", Description: "Style properties", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, tc *toolengine.ToolContext) (interface{}, error) {
			canvas, err := canvasFromContext(tc)
			if err != nil {
				return nil, err
			}

			kind, _ := params["kind"].(string)
			el := Element{
				Kind: kind,
				X:    toFloat(params["x"], 0),
				Y:    toFloat(params["y"], 0),
				W:    toFloat(params["w"], 0),
				H:    toFloat(params["h"], 0),
			}
			if text, ok := params["text"].(string); ok {
				el.Text = text
			}
			if style, ok := params["style"].(map[string]interface{}); ok {
				el.Style = style
			}

			created, err := canvas.AddElement(el)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"id":   created.ID,
				"kind": created.Kind,
			}, nil
		},
	}
}

func updateElementTool() toolengine.Definition {
	return toolengine.Definition{
		Name:        "canvas_update_element",
		Description: "Update an existing canvas element. Returns a patch of any text change.",
		Mutating:    true,
		Parameters: []toolengine.Param{
			{Name: "id", Type: "string", Description: "Element ID", Required: true},
			{Name: "changes", Type: "object", Description: "Field changes (x, y, w, h, text, style)", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, tc *toolengine.ToolContext) (interface{}, error) {
			canvas, err := canvasFromContext(tc)
			if err != nil {
				return nil, err
			}

			id, _ := params["id"].(string)
			changes, _ := params["changes"].(map[string]interface{})
			if len(changes) == 0 {
				return nil, fmt.Errorf("changes cannot be empty")
			}

			before, after, err := canvas.UpdateElement(id, changes)
			if err != nil {
				return nil, err
			}

			result := map[string]interface{}{"id": after.ID}
			if before.Text != after.Text {
				dmp := diffmatchpatch.New()
				patches := dmp.PatchMake(before.Text, after.Text)
				result["text_patch"] = dmp.PatchToText(patches)
			}
			return result, nil
		},
	}
}

func removeElementTool() toolengine.Definition {
	return toolengine.Definition{
		Name:        "canvas_remove_element",
		Description: "Remove an element from the canvas.",
		Mutating:    true,
		Parameters: []toolengine.Param{
			{Name: "id", Type: "string", Description: "Element ID", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, tc *toolengine.ToolContext) (interface{}, error) {
			canvas, err := canvasFromContext(tc)
			if err != nil {
				return nil, err
			}

			id, _ := params["id"].(string)
			if err := canvas.RemoveElement(id); err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": id, "removed": true}, nil
		},
	}
}

func readCanvasTool() toolengine.Definition {
	return toolengine.Definition{
		Name:        "canvas_read",
		Description: "Read the current canvas contents.",
		Parameters: []toolengine.Param{
			{Name: "id", Type: "string", Description: "Read a single element by ID", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, tc *toolengine.ToolContext) (interface{}, error) {
			canvas, err := canvasFromContext(tc)
			if err != nil {
				return nil, err
			}

			if id, ok := params["id"].(string); ok && id != "" {
				el, found := canvas.GetElement(id)
				if !found {
					return nil, fmt.Errorf("element not found: %s", id)
				}
				return map[string]interface{}{"element": el}, nil
			}

			elements := canvas.ListElements()
			ids := make([]string, len(elements))
			for i, el := range elements {
				ids[i] = el.ID
			}
			return map[string]interface{}{
				"elements":    elements,
				"element_ids": ids,
				"count":       len(elements),
			}, nil
		},
	}
}
