// Package gemini is the Google Gemini generation provider.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/whytv-ai/whytv-backend/internal/llm"
	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
)

const ProviderName = "gemini"

type Config struct {
	APIKey      string
	Model       string
	Temperature float32
}

type Client struct {
	log    *logger.Logger
	client *genai.Client
	model  string
	temp   float32
}

var _ llm.Provider = (*Client)(nil)

func NewClient(ctx context.Context, log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini new client: %w", err)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &Client{
		log:    log.With("service", "GeminiClient"),
		client: client,
		model:  model,
		temp:   cfg.Temperature,
	}, nil
}

func (c *Client) Name() string { return ProviderName }

func (c *Client) Close() error { return c.client.Close() }

// Generate asks for application/json constrained by the request schema. Gemini returns the
// object as text, so Structured is whatever that text decodes to.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Result, error) {
	name := strings.TrimSpace(req.Model)
	if name == "" {
		name = c.model
	}
	model := c.client.GenerativeModel(name)
	if c.temp > 0 {
		model.SetTemperature(c.temp)
	}
	if s := strings.TrimSpace(req.System); s != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(s)}}
	}
	if req.Schema != nil {
		model.ResponseMIMEType = "application/json"
		model.ResponseSchema = toSchema(req.Schema)
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.User))
	if err != nil {
		return llm.Result{}, fmt.Errorf("gemini generate failed: %w", err)
	}
	text := responseText(resp)
	if strings.TrimSpace(text) == "" {
		c.log.Warn("Gemini returned no text", "model", name, "schema", req.SchemaName)
	}
	out := llm.Result{RawText: text}
	var obj map[string]any
	if req.Schema != nil && json.Unmarshal([]byte(text), &obj) == nil {
		out.Structured = obj
	}
	return out, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

// toSchema converts the JSON Schema subset the prompt catalog uses.
func toSchema(js map[string]any) *genai.Schema {
	if js == nil {
		return nil
	}
	s := &genai.Schema{}
	switch js["type"] {
	case "object":
		s.Type = genai.TypeObject
	case "array":
		s.Type = genai.TypeArray
	case "integer":
		s.Type = genai.TypeInteger
	case "number":
		s.Type = genai.TypeNumber
	case "boolean":
		s.Type = genai.TypeBoolean
	default:
		s.Type = genai.TypeString
	}
	if desc, ok := js["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := js["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for k, v := range props {
			if m, ok := v.(map[string]any); ok {
				s.Properties[k] = toSchema(m)
			}
		}
	}
	switch req := js["required"].(type) {
	case []string:
		s.Required = append([]string(nil), req...)
	case []any:
		for _, r := range req {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := js["items"].(map[string]any); ok {
		s.Items = toSchema(items)
	}
	if enum, ok := js["enum"].([]any); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}
	return s
}
