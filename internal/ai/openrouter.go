package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenRouterProvider speaks the OpenAI chat-completions protocol, including
// function calling, against OpenRouter or any compatible base URL.
type OpenRouterProvider struct {
	BaseURL     string
	APIKey      string
	Model       string
	SiteURL     string
	AppName     string
	Temperature float32
	Client      *http.Client
}

type openRouterMsg struct {
	Role       string               `json:"role"`
	Content    string               `json:"content"`
	ToolCalls  []openRouterToolCall `json:"tool_calls,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
}

type openRouterToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openRouterChatReq struct {
	Model       string          `json:"model"`
	Messages    []openRouterMsg `json:"messages"`
	Tools       []any           `json:"tools,omitempty"`
	Temperature float32         `json:"temperature"`
	Stream      bool            `json:"stream"`
}

type openRouterChatResp struct {
	Choices []struct {
		Message openRouterMsg `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		Model:       model,
		SiteURL:     siteURL,
		AppName:     appName,
		Temperature: 0.1,
		Client:      &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *OpenRouterProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	msgs := make([]openRouterMsg, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openRouterMsg{Role: openAIRole(m.Role), Content: m.Content})
	}
	decoded, err := p.complete(ctx, msgs, nil)
	if err != nil {
		return "", err
	}
	return decoded.Content, nil
}

func (p *OpenRouterProvider) Generate(ctx context.Context, contents []Content, tools []FunctionDeclaration) (*Reply, error) {
	toolsAny := make([]any, 0, len(tools))
	for _, t := range tools {
		fn := map[string]any{
			"name":        t.Name,
			"description": t.Description,
		}
		if t.Parameters != nil {
			fn["parameters"] = t.Parameters.ToMap()
		}
		toolsAny = append(toolsAny, map[string]any{"type": "function", "function": fn})
	}

	msg, err := p.complete(ctx, toOpenRouterMessages(contents), toolsAny)
	if err != nil {
		return nil, err
	}

	reply := &Reply{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		var args map[string]any
		if strings.TrimSpace(tc.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				// keep the call so the loop can report the bad arguments back
				args = map[string]any{"_raw_arguments": tc.Function.Arguments}
			}
		}
		reply.ToolCalls = append(reply.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	return reply, nil
}

func (p *OpenRouterProvider) complete(ctx context.Context, msgs []openRouterMsg, tools []any) (*openRouterMsg, error) {
	if p.Client == nil {
		return nil, errors.New("openrouter: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, errors.New("openrouter: api key is required")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return nil, errors.New("openrouter: model is required")
	}

	b, err := json.Marshal(openRouterChatReq{
		Model:       model,
		Messages:    msgs,
		Tools:       tools,
		Temperature: p.Temperature,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	if p.SiteURL != "" {
		req.Header.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		req.Header.Set("X-Title", p.AppName)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("openrouter: %s", msg)
	}

	var decoded openRouterChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return nil, errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("openrouter: empty response")
	}
	return &decoded.Choices[0].Message, nil
}

// toOpenRouterMessages flattens part-based contents into chat-completions
// messages. Tool results become role "tool" messages keyed by call id.
func toOpenRouterMessages(contents []Content) []openRouterMsg {
	var out []openRouterMsg
	for _, c := range contents {
		msg := openRouterMsg{Role: openAIRole(c.Role)}
		hasMsg := false
		for _, part := range c.Parts {
			switch {
			case part.ToolResult != nil:
				body, _ := json.Marshal(part.ToolResult.Response)
				out = append(out, openRouterMsg{
					Role:       "tool",
					Content:    string(body),
					ToolCallID: part.ToolResult.ID,
				})
			case part.ToolCall != nil:
				args, _ := json.Marshal(part.ToolCall.Args)
				tc := openRouterToolCall{ID: part.ToolCall.ID, Type: "function"}
				tc.Function.Name = part.ToolCall.Name
				tc.Function.Arguments = string(args)
				msg.ToolCalls = append(msg.ToolCalls, tc)
				hasMsg = true
			case part.Text != "":
				if msg.Content != "" {
					msg.Content += "\n"
				}
				msg.Content += part.Text
				hasMsg = true
			}
		}
		if hasMsg {
			out = append(out, msg)
		}
	}
	return out
}
