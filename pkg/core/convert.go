package core

import (
	"github.com/oceanbase/agentmem-go/pkg/storage"
)

// toStorageMemory converts a core Memory to storage Memory.
func toStorageMemory(m *Memory) *storage.Memory {
	if m == nil {
		return nil
	}
	return &storage.Memory{
		Namespace:  []string(m.Namespace.Clone()),
		Key:        m.Key,
		Text:       m.Content.Text,
		Fields:     copyFields(m.Content.Fields),
		Embedding:  m.Embedding,
		Provenance: m.Provenance,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
		Score:      m.Score,
	}
}

// fromStorageMemory converts a storage Memory to core Memory.
func fromStorageMemory(m *storage.Memory) *Memory {
	if m == nil {
		return nil
	}
	return &Memory{
		Namespace:  NewNamespace(m.Namespace...),
		Key:        m.Key,
		Content:    Content{Text: m.Text, Fields: copyFields(m.Fields)},
		Embedding:  m.Embedding,
		Provenance: m.Provenance,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
		Score:      m.Score,
	}
}

// fromStorageMemories converts a slice of storage memories.
func fromStorageMemories(ms []*storage.Memory) []*Memory {
	out := make([]*Memory, 0, len(ms))
	for _, m := range ms {
		out = append(out, fromStorageMemory(m))
	}
	return out
}

func copyFields(f map[string]interface{}) map[string]interface{} {
	if f == nil {
		return nil
	}
	out := make(map[string]interface{}, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
