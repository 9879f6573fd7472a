package agent

import (
	"fmt"
	"sort"
)

// Registry maps task types to their single owning agent.
//
// Invariant: no two chat-enabled agents declare the same task type. A
// violation is a configuration error and registration fails; callers treat
// that as fatal at startup.
type Registry struct {
	byTaskType map[string]Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byTaskType: make(map[string]Agent)}
}

// Register adds an agent, enforcing task-type ownership.
func (r *Registry) Register(a Agent) error {
	caps := a.Capabilities()
	if caps.TaskType == "" {
		return fmt.Errorf("agent %q declares no task type", caps.Name)
	}
	if existing, ok := r.byTaskType[caps.TaskType]; ok {
		if caps.ChatEnabled || existing.Capabilities().ChatEnabled {
			return fmt.Errorf("chat task type overlap: %q claimed by both %q and %q",
				caps.TaskType, existing.Capabilities().Name, caps.Name)
		}
		return fmt.Errorf("task type %q already registered by %q",
			caps.TaskType, existing.Capabilities().Name)
	}
	r.byTaskType[caps.TaskType] = a
	return nil
}

// Route returns the single agent owning the task type.
func (r *Registry) Route(taskType string) (Agent, error) {
	a, ok := r.byTaskType[taskType]
	if !ok {
		return nil, fmt.Errorf("no agent registered for task type %q", taskType)
	}
	return a, nil
}

// Agents returns all registered agents ordered by priority, then name.
func (r *Registry) Agents() []Agent {
	out := make([]Agent, 0, len(r.byTaskType))
	for _, a := range r.byTaskType {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := out[i].Capabilities(), out[j].Capabilities()
		if ci.Priority != cj.Priority {
			return ci.Priority < cj.Priority
		}
		return ci.Name < cj.Name
	})
	return out
}
