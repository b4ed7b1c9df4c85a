package ai

// ToolCall is a structured request from the model to run a named capability.
type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult answers exactly one ToolCall.
type ToolResult struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// Part is one piece of a turn. Exactly one field is set.
type Part struct {
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// Content is one turn of a tool-calling conversation.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

func TextContent(role, text string) Content {
	return Content{Role: role, Parts: []Part{{Text: text}}}
}

func ToolCallContent(call ToolCall) Content {
	c := call
	return Content{Role: RoleModel, Parts: []Part{{ToolCall: &c}}}
}

func ToolResultContent(res ToolResult) Content {
	r := res
	return Content{Role: RoleUser, Parts: []Part{{ToolResult: &r}}}
}

// Reply is what a ToolProvider returns for one generation step.
type Reply struct {
	Text      string
	ToolCalls []ToolCall
}

// Schema describes tool parameters using JSON Schema conventions.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
}

// FunctionDeclaration is a tool schema advertised to the model.
type FunctionDeclaration struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  *Schema `json:"parameters,omitempty"`
}

// ToMap renders the schema in the shape OpenAI-compatible APIs expect.
func (s *Schema) ToMap() map[string]any {
	m := map[string]any{"type": s.Type}
	if s.Description != "" {
		m["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for k, v := range s.Properties {
			props[k] = v.ToMap()
		}
		m["properties"] = props
	}
	if len(s.Required) > 0 {
		m["required"] = s.Required
	}
	if len(s.Enum) > 0 {
		m["enum"] = s.Enum
	}
	if s.Items != nil {
		m["items"] = s.Items.ToMap()
	}
	return m
}
