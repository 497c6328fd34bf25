package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/conversation"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint (Groq, OpenAI, Ollama).
type OpenAI struct {
	client *openai.Client
	model  string
}

func NewOpenAI(cfg config.LLMConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(config.APIKey(cfg.APIKeyEnv))
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	return &OpenAI{client: openai.NewClientWithConfig(clientCfg), model: cfg.Model}
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (Completion, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(req, false))
	if err != nil {
		return Completion{}, wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, ErrNoChoices
	}
	choice := resp.Choices[0]
	out := Completion{Content: choice.Message.Content, FinishReason: string(choice.FinishReason)}
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, conversation.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		})
	}
	return out, nil
}

func (o *OpenAI) Stream(ctx context.Context, req Request, consumer func(Delta) error) error {
	stream, err := o.client.CreateChatCompletionStream(ctx, o.buildRequest(req, true))
	if err != nil {
		return wrapOpenAIError(err)
	}
	defer stream.Close()
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return wrapOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if err := consumer(Delta{Content: resp.Choices[0].Delta.Content}); err != nil {
			return err
		}
	}
}

func (o *OpenAI) buildRequest(req Request, stream bool) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:               o.model,
		Messages:            toOpenAIMessages(req.System, req.Messages),
		Temperature:         float32(req.Temperature),
		TopP:                float32(req.TopP),
		MaxCompletionTokens: req.MaxTokens,
		Stream:              stream,
	}
	for _, def := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	if len(out.Tools) > 0 && req.ToolChoice != "" {
		out.ToolChoice = req.ToolChoice
	}
	return out
}

func toOpenAIMessages(system string, msgs []conversation.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range normalize(msgs) {
		msg := openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
		switch m.Role {
		case conversation.RoleTool:
			msg.ToolCallID = m.ToolCallID
			msg.Name = m.Name
		case conversation.RoleAssistant:
			for _, c := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:       c.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: c.Name, Arguments: string(c.Arguments)},
				})
			}
		}
		out = append(out, msg)
	}
	return out
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &StatusError{Code: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &StatusError{Code: reqErr.HTTPStatusCode, Err: err}
	}
	return fmt.Errorf("openai: %w", err)
}
