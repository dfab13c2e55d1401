package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oceanbase/agentmem-go/pkg/core"
	"github.com/oceanbase/agentmem-go/pkg/llm"
	"github.com/oceanbase/agentmem-go/pkg/session"
)

// Mutation is one change proposed by an Extractor.
type Mutation struct {
	Action  core.Action
	Key     string
	Content string
}

// Extractor turns a transcript into memory mutations, given the memories
// already stored.
type Extractor interface {
	Extract(ctx context.Context, transcript session.Transcript, existing []*core.Memory) ([]Mutation, error)
}

// ContentKey derives a stable key from content, so that extracting the same
// fact twice updates one entry instead of creating two.
func ContentKey(content string) string {
	return core.ContentKey(content)
}

// LLMExtractor asks a model which memories to create, update or delete.
//
// Existing memories are shown to the model under short temporary ids and
// mapped back to their keys afterwards, so the model cannot invent keys.
type LLMExtractor struct {
	llm    llm.Provider
	prompt string
}

// NewLLMExtractor returns an extractor using the built-in prompt.
func NewLLMExtractor(p llm.Provider) *LLMExtractor {
	return &LLMExtractor{llm: p}
}

// NewLLMExtractorWithPrompt replaces the instructions part of the prompt.
// Existing memories and the conversation are still appended.
func NewLLMExtractorWithPrompt(p llm.Provider, prompt string) *LLMExtractor {
	return &LLMExtractor{llm: p, prompt: prompt}
}

type proposal struct {
	Memories []struct {
		Action  string `json:"action"`
		ID      string `json:"id"`
		Content string `json:"content"`
	} `json:"memories"`
}

type shownMemory struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Extract implements Extractor.
func (e *LLMExtractor) Extract(ctx context.Context, transcript session.Transcript, existing []*core.Memory) ([]Mutation, error) {
	if len(transcript.Turns) == 0 {
		return nil, nil
	}

	shown := make([]shownMemory, 0, len(existing))
	keys := make(map[string]string, len(existing))
	for i, m := range existing {
		id := strconv.Itoa(i)
		keys[id] = m.Key
		shown = append(shown, shownMemory{ID: id, Content: m.Content.EmbeddingText()})
	}
	existingJSON, err := json.Marshal(shown)
	if err != nil {
		return nil, err
	}

	user := fmt.Sprintf("# Existing memories\n%s\n\n# Conversation\n%s", existingJSON, transcript.String())
	response, err := llm.Prompt(ctx, e.llm, e.systemPrompt(), user, llm.WithJSON(), llm.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("failed to extract memories: %w", err)
	}

	var out proposal
	if err := llm.DecodeJSON(response, &out); err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}

	mutations := make([]Mutation, 0, len(out.Memories))
	for _, p := range out.Memories {
		action := strings.ToLower(strings.TrimSpace(p.Action))
		content := strings.TrimSpace(p.Content)
		switch action {
		case string(core.ActionCreate), "add":
			if content == "" {
				continue
			}
			mutations = append(mutations, Mutation{Action: core.ActionCreate, Key: ContentKey(content), Content: content})
		case string(core.ActionUpdate):
			key, ok := keys[p.ID]
			if !ok || content == "" {
				continue
			}
			mutations = append(mutations, Mutation{Action: core.ActionUpdate, Key: key, Content: content})
		case string(core.ActionDelete):
			key, ok := keys[p.ID]
			if !ok {
				continue
			}
			mutations = append(mutations, Mutation{Action: core.ActionDelete, Key: key})
		}
	}
	return mutations, nil
}

func (e *LLMExtractor) systemPrompt() string {
	if e.prompt != "" {
		return e.prompt
	}
	today := time.Now().Format("2006-01-02")
	return fmt.Sprintf(`You maintain long-term memories distilled from conversations. Compare the conversation with the existing memories and decide what to store.

Actions:
- "create": a new, self-contained fact not covered by any existing memory
- "update": an existing memory that the conversation extends or corrects; give its "id" and the full merged content
- "delete": an existing memory the conversation shows to be wrong or obsolete; give its "id"
- "none": nothing to do for this fact

Rules:
- Keep time references ("yesterday", "in May 2023") inside the fact.
- One fact per memory. Skip greetings and small talk.
- For update and delete, "id" must be one of the existing memory ids.
- Preserve the conversation's language.
- Today: %s

Return JSON only:
{"memories": [{"action": "create", "content": "..."}, {"action": "update", "id": "0", "content": "..."}, {"action": "delete", "id": "1"}]}
If there is nothing to store, return {"memories": []}.`, today)
}
