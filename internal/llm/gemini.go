package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/conversation"
	"google.golang.org/genai"
)

// Gemini talks to the Gemini API with function calling.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, cfg config.LLMConfig) (*Gemini, error) {
	apiKey := config.APIKey(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not set (%s)", cfg.APIKeyEnv)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model}, nil
}

func (g *Gemini) Complete(ctx context.Context, req Request) (Completion, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, toGeminiContents(req.Messages), g.buildConfig(req))
	if err != nil {
		return Completion{}, wrapGeminiError(err)
	}
	if len(resp.Candidates) == 0 {
		return Completion{}, ErrNoChoices
	}
	out := Completion{Content: resp.Text(), FinishReason: string(resp.Candidates[0].FinishReason)}
	for _, call := range resp.FunctionCalls() {
		args, err := json.Marshal(call.Args)
		if err != nil {
			return Completion{}, &StatusError{Code: 400, Err: fmt.Errorf("encode function args: %w", err)}
		}
		id := call.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		out.ToolCalls = append(out.ToolCalls, conversation.ToolCall{ID: id, Name: call.Name, Arguments: args})
	}
	return out, nil
}

func (g *Gemini) Stream(ctx context.Context, req Request, consumer func(Delta) error) error {
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, toGeminiContents(req.Messages), g.buildConfig(req)) {
		if err != nil {
			return wrapGeminiError(err)
		}
		if err := consumer(Delta{Content: resp.Text()}); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gemini) buildConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		TopP:            genai.Ptr(float32(req.TopP)),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, def := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 def.Name,
				Description:          def.Description,
				ParametersJsonSchema: def.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
		mode := genai.FunctionCallingConfigModeAuto
		if req.ToolChoice == "none" {
			mode = genai.FunctionCallingConfigModeNone
		}
		cfg.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode}}
	}
	return cfg
}

func toGeminiContents(msgs []conversation.Message) []*genai.Content {
	var contents []*genai.Content
	for _, m := range normalize(msgs) {
		switch m.Role {
		case conversation.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case conversation.RoleSystem:
			contents = append(contents, genai.NewContentFromText("[note] "+m.Content, genai.RoleUser))
		case conversation.RoleAssistant:
			content := &genai.Content{Role: genai.RoleModel}
			if m.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
			}
			for _, c := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(c.Arguments, &args)
				content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: c.ID, Name: c.Name, Args: args}})
			}
			contents = append(contents, content)
		case conversation.RoleTool:
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					ID:       m.ToolCallID,
					Name:     m.Name,
					Response: map[string]any{"output": m.Content},
				}}},
			})
		}
	}
	return contents
}

func wrapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return &StatusError{Code: apiErr.Code, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr.Code != 0 {
		return &StatusError{Code: apiErrPtr.Code, Err: err}
	}
	if strings.Contains(err.Error(), "INVALID_ARGUMENT") {
		return &StatusError{Code: 400, Err: err}
	}
	return fmt.Errorf("gemini: %w", err)
}
