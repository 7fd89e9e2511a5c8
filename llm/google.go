package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GoogleProvider implements Provider with the Google Gemini SDK.
type GoogleProvider struct {
	client    *genai.Client
	modelName string
	maxTokens int
	retry     RetryConfig
}

// NewGoogleProvider creates a new Google Gemini provider.
func NewGoogleProvider(cfg Config) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for google")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required for google")
	}
	if cfg.MaxTokens == 0 {
		return nil, fmt.Errorf("max_tokens is required for google")
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &GoogleProvider{
		client:    client,
		modelName: cfg.Model,
		maxTokens: cfg.MaxTokens,
		retry:     cfg.Retry,
	}, nil
}

// Close closes the underlying client.
func (p *GoogleProvider) Close() error {
	return p.client.Close()
}

// Chat implements the Provider interface. Each call builds its own model
// handle so concurrent tasks never share system instructions or tools.
func (p *GoogleProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := p.client.GenerativeModel(p.modelName)
	maxTokens := int32(p.maxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int32(req.MaxTokens)
	}
	model.MaxOutputTokens = &maxTokens

	for _, m := range req.Messages {
		if m.Role == "system" {
			model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(m.Content)}}
			break
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  convertToGeminiSchema(t.Parameters),
			})
		}
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	cs := model.StartChat()
	cs.History = geminiHistory(req.Messages)

	// The last content goes out as the prompt; everything before it is history.
	var prompt []genai.Part
	if n := len(cs.History); n > 0 && cs.History[n-1].Role == "user" {
		prompt = cs.History[n-1].Parts
		cs.History = cs.History[:n-1]
	}
	if len(prompt) == 0 {
		prompt = []genai.Part{genai.Text("")}
	}

	result := &ChatResponse{Model: p.modelName}
	err := retry(ctx, p.retry, "google", func() (bool, error) {
		*result = ChatResponse{Model: p.modelName}
		if req.OnToken == nil {
			resp, err := cs.SendMessage(ctx, prompt...)
			if err != nil {
				return false, err
			}
			mergeGeminiResponse(result, resp, nil)
			return false, nil
		}

		iter := cs.SendMessageStream(ctx, prompt...)
		delivered := false
		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				return delivered, nil
			}
			if err != nil {
				return delivered, err
			}
			if mergeGeminiResponse(result, resp, req.OnToken) {
				delivered = true
			}
		}
	})
	if err != nil {
		return nil, err
	}
	for i := range result.ToolCalls {
		result.ToolCalls[i].ID = fmt.Sprintf("call_%s_%d", result.ToolCalls[i].Name, i)
	}
	return result, nil
}

func geminiHistory(messages []Message) []*genai.Content {
	var history []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case "user":
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		case "assistant":
			content := &genai.Content{Role: "model"}
			if m.Content != "" {
				content.Parts = append(content.Parts, genai.Text(m.Content))
			}
			for _, tc := range m.ToolCalls {
				content.Parts = append(content.Parts, genai.FunctionCall{Name: tc.Name, Args: tc.Args})
			}
			if len(content.Parts) > 0 {
				history = append(history, content)
			}
		case "tool":
			name := m.Name
			if name == "" {
				name = m.ToolCallID
			}
			part := genai.FunctionResponse{Name: name, Response: map[string]interface{}{"result": m.Content}}
			// consecutive tool results travel in one user turn
			if n := len(history); n > 0 && history[n-1].Role == "user" && isFunctionResponse(history[n-1]) {
				history[n-1].Parts = append(history[n-1].Parts, part)
				continue
			}
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{part}})
		}
	}
	return history
}

func isFunctionResponse(c *genai.Content) bool {
	if len(c.Parts) == 0 {
		return false
	}
	_, ok := c.Parts[0].(genai.FunctionResponse)
	return ok
}

// mergeGeminiResponse folds one (possibly partial) response into result
// and reports whether any text was forwarded to onToken.
func mergeGeminiResponse(result *ChatResponse, resp *genai.GenerateContentResponse, onToken func(string)) bool {
	delivered := false
	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		if candidate.FinishReason != 0 {
			result.StopReason = candidate.FinishReason.String()
		}
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				switch v := part.(type) {
				case genai.Text:
					result.Content += string(v)
					if onToken != nil && v != "" {
						onToken(string(v))
						delivered = true
					}
				case genai.FunctionCall:
					result.ToolCalls = append(result.ToolCalls, ToolCall{Name: v.Name, Args: v.Args})
				}
			}
		}
	}
	if resp.UsageMetadata != nil {
		result.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return delivered
}

// convertToGeminiSchema converts a JSON Schema map to Gemini's Schema type.
func convertToGeminiSchema(params map[string]interface{}) *genai.Schema {
	schema := convertPropertyToSchema(params)
	schema.Type = genai.TypeObject
	return schema
}

func convertPropertyToSchema(prop map[string]interface{}) *genai.Schema {
	schema := &genai.Schema{}

	switch prop["type"] {
	case "string":
		schema.Type = genai.TypeString
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
		if items, ok := prop["items"].(map[string]interface{}); ok {
			schema.Items = convertPropertyToSchema(items)
		}
	case "object":
		schema.Type = genai.TypeObject
	}

	if props, ok := prop["properties"].(map[string]interface{}); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if propMap, ok := p.(map[string]interface{}); ok {
				schema.Properties[name] = convertPropertyToSchema(propMap)
			}
		}
	}
	if desc, ok := prop["description"].(string); ok {
		schema.Description = desc
	}
	schema.Required = requiredFields(prop)
	schema.Enum = stringList(prop["enum"])
	return schema
}

func stringList(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, e := range list {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
