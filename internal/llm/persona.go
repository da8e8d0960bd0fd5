package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/p-blackswan/persona-curator/internal/session"
	"github.com/p-blackswan/persona-curator/internal/storage"
)

const offerInstruction = `When you are not sure a fact is right, do not guess. Say what you think and ask "Want me to look that up?"`

const factualPrompt = "Answer the question accurately and briefly, in plain language. If it is not knowable, say so."

const rephraseInstruction = "Here is a factual answer to a question you were just asked. Retell it in your own voice, keeping every fact:\n\n"

// Persona answers turns as the agent described by the prompt document. The
// prompt is re-read on every call so merged growth takes effect immediately.
type Persona struct {
	provider   Provider
	fsys       storage.FS
	promptPath string
}

// NewPersona creates a Persona over provider.
func NewPersona(provider Provider, fsys storage.FS, promptPath string) *Persona {
	if fsys == nil {
		fsys = storage.OS{}
	}
	return &Persona{provider: provider, fsys: fsys, promptPath: promptPath}
}

func (p *Persona) systemPrompt() (string, error) {
	data, _, err := storage.ReadOptional(p.fsys, p.promptPath)
	if err != nil {
		return "", fmt.Errorf("persona prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return offerInstruction, nil
	}
	return prompt + "\n\n" + offerInstruction, nil
}

// Respond implements session.Responder.
func (p *Persona) Respond(ctx context.Context, _ string, history []session.Message) (session.Generation, error) {
	system, err := p.systemPrompt()
	if err != nil {
		return session.Generation{}, err
	}
	msgs := make([]Message, 0, len(history))
	for _, m := range history {
		role := RoleUser
		if m.Role == session.RoleAssistant {
			role = RoleAssistant
		}
		msgs = append(msgs, Message{Role: role, Content: m.Text})
	}
	resp, err := p.provider.Complete(ctx, CompletionRequest{SystemPrompt: system, Messages: msgs})
	if err != nil {
		return session.Generation{}, fmt.Errorf("persona respond: %w", err)
	}
	return generation(resp, p.provider), nil
}

// Lookup implements session.LookupRouter: a factual answer, then the same
// answer in the persona's voice.
func (p *Persona) Lookup(ctx context.Context, _ string, question string) (session.Generation, error) {
	facts, err := p.provider.Complete(ctx, CompletionRequest{
		SystemPrompt: factualPrompt,
		Messages:     []Message{{Role: RoleUser, Content: question}},
	})
	if err != nil {
		return session.Generation{}, fmt.Errorf("lookup answer: %w", err)
	}

	system, err := p.systemPrompt()
	if err != nil {
		return session.Generation{}, err
	}
	voiced, err := p.provider.Complete(ctx, CompletionRequest{
		SystemPrompt: system,
		Messages: []Message{{
			Role:    RoleUser,
			Content: question + "\n\n" + rephraseInstruction + facts.Text,
		}},
	})
	if err != nil {
		return session.Generation{}, fmt.Errorf("lookup rephrase: %w", err)
	}

	g := generation(voiced, p.provider)
	g.PromptTokens += facts.InputTokens
	g.CompletionTokens += facts.OutputTokens
	return g, nil
}

func generation(resp *CompletionResponse, provider Provider) session.Generation {
	model := resp.Model
	if model == "" {
		model = provider.ModelID()
	}
	return session.Generation{
		Text:             strings.TrimSpace(resp.Text),
		Model:            model,
		PromptTokens:     resp.InputTokens,
		CompletionTokens: resp.OutputTokens,
	}
}
