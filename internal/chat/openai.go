package chat

import (
	"context"
	"iter"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is the chat model the overlay uses.
const DefaultModel = openai.ChatModelGPT4oMini

// OpenAIBackend streams chat completions from the OpenAI API.
type OpenAIBackend struct {
	model openai.ChatModel
	opts  []option.RequestOption
}

// NewOpenAIBackend returns a backend for DefaultModel. opts are applied
// after the API key, so tests can point it at another base URL.
func NewOpenAIBackend(opts ...option.RequestOption) *OpenAIBackend {
	return &OpenAIBackend{model: DefaultModel, opts: opts}
}

func (b *OpenAIBackend) Complete(ctx context.Context, apiKey string, history []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		opts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, b.opts...)
		client := openai.NewClient(opts...)

		stream := client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
			Model:    b.model,
			Messages: toParams(history),
		})
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				if !yield(delta, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield("", err)
		}
	}
}

func toParams(history []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
