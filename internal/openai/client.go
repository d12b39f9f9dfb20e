package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Client wraps the OpenAI SDK for intent classification.
type Client struct {
	client  *openai.Client
	model   openai.ChatModel
	timeout time.Duration
}

// ErrClientNotInitialised is returned when attempting to call the API without a configured client.
var ErrClientNotInitialised = errors.New("openai client not initialised")

var errNoCompletion = errors.New("no completion received")

// Intent represents the high-level action inferred from a user message.
type Intent string

const (
	IntentUnknown Intent = "unknown"
	// IntentDoseTaken reports that a dose was taken.
	IntentDoseTaken Intent = "dose_taken"
	// IntentListMissed asks which doses were missed today.
	IntentListMissed Intent = "list_missed"
	// IntentListOverdue asks which doses are late but still inside the grace period.
	IntentListOverdue Intent = "list_overdue"
	// IntentRecoveryCheck asks whether a missed dose can still be taken.
	IntentRecoveryCheck Intent = "recovery_check"
	IntentHelp          Intent = "help"
)

var knownIntents = map[Intent]bool{
	IntentDoseTaken:     true,
	IntentListMissed:    true,
	IntentListOverdue:   true,
	IntentRecoveryCheck: true,
	IntentHelp:          true,
}

const classifyPrompt = "Classify the user's message for a medication reminder assistant. " +
	"Reply with exactly one label: dose_taken, list_missed, list_overdue, recovery_check, help, or unknown."

// New returns a client. Without an API key the client is disabled and ClassifyIntent
// returns ErrClientNotInitialised.
func New(apiKey string) *Client {
	if apiKey == "" {
		return &Client{}
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{
		client:  &client,
		model:   openai.ChatModelGPT4oMini,
		timeout: 10 * time.Second,
	}
}

// Enabled reports whether an API key was configured.
func (c *Client) Enabled() bool {
	return c != nil && c.client != nil
}

// ClassifyIntent asks the model for one intent label. Labels outside the known set map to
// IntentUnknown.
func (c *Client) ClassifyIntent(ctx context.Context, content string) (Intent, error) {
	if strings.TrimSpace(content) == "" {
		return IntentUnknown, fmt.Errorf("content cannot be empty")
	}
	if !c.Enabled() {
		return IntentUnknown, ErrClientNotInitialised
	}

	label, err := c.complete(ctx, classifyPrompt, content, 8)
	if err != nil {
		return IntentUnknown, fmt.Errorf("classify intent: %w", err)
	}
	return ParseIntent(label), nil
}

// complete runs a deterministic single-turn chat completion bounded by c.timeout.
func (c *Client) complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			{OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{OfString: openai.String(system)},
			}},
			{OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{OfString: openai.String(user)},
			}},
		},
		Temperature:         openai.Float(0),
		MaxCompletionTokens: openai.Int(maxTokens),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errNoCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

// ParseIntent maps a model label onto an Intent; anything unexpected is IntentUnknown.
func ParseIntent(label string) Intent {
	intent := Intent(strings.ToLower(strings.Trim(strings.TrimSpace(label), ".\"'`")))
	if knownIntents[intent] {
		return intent
	}
	return IntentUnknown
}
