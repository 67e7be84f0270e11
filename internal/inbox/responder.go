package inbox

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/talkincode/wagateway/config"
	"github.com/talkincode/wagateway/internal/domain"
	"go.uber.org/zap"
)

// Turn roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of the history handed to a Responder.
type Turn struct {
	Role    string
	Content string
}

// Responder produces an automatic reply for a conversation. An empty reply
// means no message is sent.
type Responder interface {
	Respond(ctx context.Context, history []Turn) (string, error)
}

// TurnsFromMessages maps stored messages to responder turns.
func TurnsFromMessages(msgs []domain.Message) []Turn {
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := RoleAssistant
		if m.Sender == domain.SenderUser {
			role = RoleUser
		}
		turns = append(turns, Turn{Role: role, Content: m.Content})
	}
	return turns
}

func lastUserTurn(history []Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return history[i].Content
		}
	}
	return ""
}

// KeywordResponder answers with the reply of the first rule whose keyword is
// contained in the latest user message, or with the fallback.
type KeywordResponder struct {
	rules    []config.KeywordRule
	fallback string
}

func NewKeywordResponder(rules []config.KeywordRule, fallback string) *KeywordResponder {
	normalized := make([]config.KeywordRule, 0, len(rules))
	for _, r := range rules {
		kws := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kws = append(kws, k)
			}
		}
		if len(kws) == 0 || strings.TrimSpace(r.Reply) == "" {
			continue
		}
		normalized = append(normalized, config.KeywordRule{Keywords: kws, Reply: r.Reply})
	}
	return &KeywordResponder{rules: normalized, fallback: fallback}
}

func (k *KeywordResponder) Respond(_ context.Context, history []Turn) (string, error) {
	text := strings.ToLower(lastUserTurn(history))
	if text == "" {
		return "", nil
	}
	for _, r := range k.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(text, kw) {
				return r.Reply, nil
			}
		}
	}
	return k.fallback, nil
}

// OpenAIResponder asks an OpenAI compatible chat completion endpoint.
type OpenAIResponder struct {
	client       openai.Client
	model        string
	systemPrompt string
}

func NewOpenAIResponder(apiKey, baseURL, model, systemPrompt string) *OpenAIResponder {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIResponder{
		client:       openai.NewClient(opts...),
		model:        model,
		systemPrompt: systemPrompt,
	}
}

func (o *OpenAIResponder) Respond(ctx context.Context, history []Turn) (string, error) {
	if lastUserTurn(history) == "" {
		return "", nil
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if o.systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(o.systemPrompt))
	}
	for _, t := range history {
		if t.Role == RoleUser {
			messages = append(messages, openai.UserMessage(t.Content))
		} else {
			messages = append(messages, openai.AssistantMessage(t.Content))
		}
	}
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// NewResponder builds the responder selected by cfg, or nil when disabled.
func NewResponder(cfg config.ResponderConfig) Responder {
	switch cfg.Mode {
	case "keyword":
		return NewKeywordResponder(cfg.Keywords, cfg.Fallback)
	case "openai":
		if cfg.OpenAIKey == "" {
			zap.L().Warn("inbox: openai responder selected without api key, auto reply disabled")
			return nil
		}
		return NewOpenAIResponder(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.SystemPrompt)
	default:
		return nil
	}
}
