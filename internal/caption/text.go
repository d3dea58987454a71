package caption

import (
	"context"
	"fmt"
	"strings"

	"github.com/dongyingyibadao/data-dealer-auto/internal/segment"
	"github.com/dongyingyibadao/data-dealer-auto/internal/services/llm"
)

const textSystemPrompt = "You generate robot task descriptions. Given the original task and the gripper action, reply with one concise task description."

// Text asks an OpenAI-compatible chat endpoint (DashScope, DeepSeek,
// OpenRouter) for a label.
type Text struct {
	Client *llm.Client
}

// NewText wraps client.
func NewText(client *llm.Client) *Text {
	return &Text{Client: client}
}

// Describe implements Describer.
func (t *Text) Describe(ctx context.Context, req Request) (string, error) {
	if t == nil || t.Client == nil {
		return "", fmt.Errorf("text describer: no client configured")
	}
	label, err := t.Client.CompleteText(ctx, textSystemPrompt, textPrompt(req))
	if err != nil {
		return "", err
	}
	label = strings.Trim(label, "\"' ")
	if label == "" {
		return "", fmt.Errorf("text describer: empty label")
	}
	return label, nil
}

// HealthCheck implements HealthChecker.
func (t *Text) HealthCheck(ctx context.Context) error {
	return t.Client.HealthCheck(ctx)
}

func textPrompt(req Request) string {
	action := "gripper opens (place)"
	if req.Kind == segment.KindGrasp {
		action = "gripper closes (pick)"
	}
	var b strings.Builder
	b.WriteString("Write a concise robot task description from the information below.\n\n")
	fmt.Fprintf(&b, "Original task: %s\n", req.TaskLabel)
	fmt.Fprintf(&b, "Action: %s\n\n", action)
	b.WriteString("Requirements:\n")
	b.WriteString("1. Keep the key object and location from the original task.\n")
	b.WriteString("2. Use \"pick up\" or \"grab\" for pick actions and \"put\" or \"place\" for place actions.\n")
	b.WriteString("3. Use at most 20 words.\n")
	b.WriteString("4. Reply with the description only.\n")
	return b.String()
}
