package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/repokb-go/internal/config"
	"github.com/raphaelgruber/repokb-go/internal/models"
)

// Model wraps langchaingo LLM for text generation.
type Model struct {
	llm       llms.Model
	modelName string
}

// NewModel creates an LLM model for the configured provider.
func NewModel(cfg config.Config) (*Model, error) {
	model, err := newProviderModel(cfg)
	if err != nil {
		return nil, err
	}
	return &Model{
		llm:       model,
		modelName: cfg.LLMModel,
	}, nil
}

func newProviderModel(cfg config.Config) (llms.Model, error) {
	switch cfg.LLMProvider {
	case config.ProviderOllama:
		return ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		return openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		return anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}
}

// Generate generates text based on a prompt.
func (m *Model) Generate(ctx context.Context, prompt string) (string, error) {
	response, err := llms.GenerateFromSinglePrompt(ctx, m.llm, prompt)
	if err != nil {
		return "", wrapFatalError(fmt.Errorf("generate: %w", err))
	}
	return response, nil
}

// GenerateWithSystem generates text with a system prompt.
func (m *Model) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	response, err := m.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", wrapFatalError(fmt.Errorf("generate with system: %w", err))
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}

	return response.Choices[0].Content, nil
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

const answerSystemPrompt = `You are a repository knowledge assistant. Answer the user's question based ONLY on the provided context from the repository's code, commits, issues and pull requests.
If the context doesn't contain enough information to answer the question, say so.
Be concise and cite specific sources (file paths, commit hashes, issue numbers) where relevant.`

// SynthesizeAnswer generates an answer from retrieved context and the
// user's query.
func (m *Model) SynthesizeAnswer(ctx context.Context, query string, searchContext string) (string, error) {
	userPrompt := fmt.Sprintf(`Context:
%s

Question: %s

Answer:`, searchContext, query)

	return m.GenerateWithSystem(ctx, answerSystemPrompt, userPrompt)
}

// SynthesizeAnswerStream generates an answer, delivering it in deltas
// through onToken. Returning an error from onToken aborts generation.
func (m *Model) SynthesizeAnswerStream(ctx context.Context, query string, searchContext string, onToken func(token string) error) error {
	userPrompt := fmt.Sprintf(`Context:
%s

Question: %s

Answer:`, searchContext, query)

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, answerSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	_, err := m.llm.GenerateContent(ctx, messages, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		return onToken(string(chunk))
	}))
	if err != nil {
		return wrapFatalError(fmt.Errorf("generate stream: %w", err))
	}
	return nil
}

const explainSystemPrompt = `You are a senior engineer explaining a commit to a teammate. Analyze the commit and respond with JSON only, no prose around it, using exactly these keys:
{
  "summary": "one-sentence summary of the change",
  "what_changed": "what was modified, added or removed",
  "why_important": "why this change matters",
  "technical_details": "notable implementation details",
  "business_impact": "user-visible or business effect, empty string if none"
}`

// ExplainCommit produces a structured explanation of a commit from its
// message and diff. If the model ignores the JSON contract, the raw
// response is preserved as the summary.
func (m *Model) ExplainCommit(ctx context.Context, detail models.CommitDetail, diff string) (models.CommitExplanation, error) {
	userPrompt := fmt.Sprintf(`Commit %s by %s
Message: %s

Diff:
%s`, detail.SHA, detail.Author, strings.TrimSpace(detail.Message), diff)

	raw, err := m.GenerateWithSystem(ctx, explainSystemPrompt, userPrompt)
	if err != nil {
		return models.CommitExplanation{}, err
	}

	var explanation models.CommitExplanation
	if jsonErr := json.Unmarshal([]byte(stripCodeFences(raw)), &explanation); jsonErr != nil {
		// Model answered in prose; keep it rather than failing.
		return models.CommitExplanation{Summary: strings.TrimSpace(raw)}, nil
	}
	return explanation, nil
}

const commitChatSystemPrompt = `You are a repository assistant discussing one specific commit. Use the commit's message and diff below as the ground truth. Answer follow-up questions about this commit concisely.

%s`

// CommitChat continues a caller-owned conversation about one commit.
// The full history travels with every call; nothing is kept on this
// side.
func (m *Model) CommitChat(ctx context.Context, detail models.CommitDetail, diff string, history []models.ChatTurn, message string) (string, error) {
	commitContext := fmt.Sprintf(`Commit %s by %s
Message: %s

Diff:
%s`, detail.SHA, detail.Author, strings.TrimSpace(detail.Message), diff)

	messages := make([]llms.MessageContent, 0, len(history)+2)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, fmt.Sprintf(commitChatSystemPrompt, commitContext)))
	for _, turn := range history {
		role := llms.ChatMessageTypeHuman
		if turn.Role == "assistant" {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, turn.Content))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, message))

	response, err := m.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", wrapFatalError(fmt.Errorf("commit chat: %w", err))
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	return response.Choices[0].Content, nil
}

// stripCodeFences removes a surrounding markdown code fence, if any.
func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
