package canvastools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Element is one object on the canvas.
type Element struct {
	ID    string                 `json:"id"`
	Kind  string                 `json:"kind"`
	X     float64                `json:"x"`
	Y     float64                `json:"y"`
	W     float64                `json:"w"`
	H     float64                `json:"h"`
	Text  string                 `json:"text,omitempty"`
	Style map[string]interface{} `json:"style,omitempty"`
}

// Canvas is the backend the canvas tools operate on.
type Canvas interface {
	AddElement(el Element) (Element, error)
	UpdateElement(id string, changes map[string]interface{}) (Element, Element, error)
	RemoveElement(id string) error
	GetElement(id string) (Element, bool)
	ListElements() []Element
}

// MemoryCanvas is an in-process Canvas for tests and offline runs.
type MemoryCanvas struct {
	mu       sync.RWMutex
	elements map[string]Element
}

// NewMemoryCanvas creates an empty canvas.
func NewMemoryCanvas() *MemoryCanvas {
	return &MemoryCanvas{elements: make(map[string]Element)}
}

// AddElement stores the element under a fresh ID.
func (c *MemoryCanvas) AddElement(el Element) (Element, error) {
	if el.Kind == "" {
		return Element{}, fmt.Errorf("element kind is required")
	}
	el.ID = uuid.New().String()

	c.mu.Lock()
	c.elements[el.ID] = el
	c.mu.Unlock()
	return el, nil
}

// UpdateElement applies changes and returns the element before and after.
func (c *MemoryCanvas) UpdateElement(id string, changes map[string]interface{}) (Element, Element, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	before, exists := c.elements[id]
	if !exists {
		return Element{}, Element{}, fmt.Errorf("element not found: %s", id)
	}

	after := before
	for key, value := range changes {
		switch key {
		case "x":
			after.X = toFloat(value, after.X)
		case "y":
			after.Y = toFloat(value, after.Y)
		case "w":
			after.W = toFloat(value, after.W)
		case "h":
			after.H = toFloat(value, after.H)
		case "text":
			if s, ok := value.(string); ok {
				after.Text = s
			}
		case "style":
			if style, ok := value.(map[string]interface{}); ok {
				if after.Style == nil {
					after.Style = make(map[string]interface{})
				} else {
					merged := make(map[string]interface{}, len(after.Style))
					for k, v := range after.Style {
						merged[k] = v
					}
					after.Style = merged
				}
				for k, v := range style {
					after.Style[k] = v
				}
			}
		default:
			return Element{}, Element{}, fmt.Errorf("unknown element field: %s", key)
		}
	}

	c.elements[id] = after
	return before, after, nil
}

// RemoveElement deletes the element.
func (c *MemoryCanvas) RemoveElement(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.elements[id]; !exists {
		return fmt.Errorf("element not found: %s", id)
	}
	delete(c.elements, id)
	return nil
}

// GetElement looks up one element.
func (c *MemoryCanvas) GetElement(id string) (Element, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	el, ok := c.elements[id]
	return el, ok
}

// ListElements returns elements sorted by ID for a stable order.
func (c *MemoryCanvas) ListElements() []Element {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Element, 0, len(c.elements))
	for _, el := range c.elements {
		out = append(out, el)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func toFloat(value interface{}, fallback float64) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}
