package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/oceanbase/agentmem-go/pkg/llm"
	"github.com/oceanbase/agentmem-go/pkg/session"
	"github.com/oceanbase/agentmem-go/pkg/tools"
)

// WorkerInfo describes a worker to the classifier.
type WorkerInfo struct {
	Name        string
	Description string
}

// Attempt is one delegation within a turn.
type Attempt struct {
	Agent    string
	Output   string
	Complete bool
}

// Request is everything a classifier sees.
type Request struct {
	Transcript session.Transcript
	Workers    []WorkerInfo

	// Memories are routing memories recalled from the supervisor namespace.
	Memories []tools.MemoryView

	// Attempts are the earlier delegations of this turn.
	Attempts []Attempt
}

// Decision names the worker to delegate to.
type Decision struct {
	Agent  string `json:"agent"`
	Reason string `json:"reason,omitempty"`
}

// Classifier picks a worker for a turn.
type Classifier interface {
	Classify(ctx context.Context, req Request) (Decision, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, req Request) (Decision, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}

// LLMClassifier asks a model to pick the worker.
type LLMClassifier struct {
	llm llm.Provider
}

// NewLLMClassifier returns a model-backed classifier.
func NewLLMClassifier(p llm.Provider) *LLMClassifier {
	return &LLMClassifier{llm: p}
}

// Classify implements Classifier. A reply that is not JSON is accepted when
// it mentions exactly one worker name.
func (c *LLMClassifier) Classify(ctx context.Context, req Request) (Decision, error) {
	response, err := llm.Prompt(ctx, c.llm, classifierPrompt(req), req.Transcript.String(), llm.WithJSON(), llm.WithTemperature(0))
	if err != nil {
		return Decision{}, fmt.Errorf("classify: %w", err)
	}

	var d Decision
	if err := llm.DecodeJSON(response, &d); err == nil && d.Agent != "" {
		d.Agent = strings.TrimSpace(d.Agent)
		return d, nil
	}

	var match string
	lower := strings.ToLower(response)
	for _, w := range req.Workers {
		if strings.Contains(lower, strings.ToLower(w.Name)) {
			if match != "" {
				match = ""
				break
			}
			match = w.Name
		}
	}
	if match == "" {
		return Decision{}, fmt.Errorf("classify: no worker named in response %q", response)
	}
	return Decision{Agent: match}, nil
}

func classifierPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are a supervisor routing each user request to the best worker.\n\n## Workers\n")
	for _, w := range req.Workers {
		fmt.Fprintf(&b, "- %s: %s\n", w.Name, w.Description)
	}

	if len(req.Memories) > 0 {
		b.WriteString("\n## Past routing\n")
		for _, m := range req.Memories {
			fmt.Fprintf(&b, "- %s\n", m.Content)
		}
	}

	if len(req.Attempts) > 0 {
		b.WriteString("\n## Already tried this turn (did not finish)\n")
		for _, a := range req.Attempts {
			fmt.Fprintf(&b, "- %s: %s\n", a.Agent, a.Output)
		}
		b.WriteString("Prefer a different worker unless the earlier one is clearly the only fit.\n")
	}

	b.WriteString("\nReply with only {\"agent\": \"<worker name>\", \"reason\": \"<short reason>\"}.\n")
	return b.String()
}
