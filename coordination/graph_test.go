package coordination

import "testing"

func TestHasCycle(t *testing.T) {
	tests := []struct {
		name  string
		edges map[string][]string
		want  bool
	}{
		{
			name:  "empty graph",
			edges: map[string][]string{},
			want:  false,
		},
		{
			name:  "linear chain",
			edges: map[string][]string{"a": nil, "b": {"a"}, "c": {"b"}},
			want:  false,
		},
		{
			name:  "diamond",
			edges: map[string][]string{"a": nil, "b": {"a"}, "c": {"a"}, "d": {"b", "c"}},
			want:  false,
		},
		{
			name:  "self loop",
			edges: map[string][]string{"a": {"a"}},
			want:  true,
		},
		{
			name:  "two node cycle",
			edges: map[string][]string{"a": {"b"}, "b": {"a"}},
			want:  true,
		},
		{
			name:  "cycle behind a chain",
			edges: map[string][]string{"a": nil, "b": {"a", "d"}, "c": {"b"}, "d": {"c"}},
			want:  true,
		},
		{
			name:  "dependency on absent task",
			edges: map[string][]string{"a": {"ghost"}},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasCycle(tt.edges); got != tt.want {
				t.Errorf("hasCycle() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDependenciesCompleted(t *testing.T) {
	tasks := map[string]*Task{
		"done":    {TaskID: "done", Status: TaskCompleted},
		"pending": {TaskID: "pending", Status: TaskPending},
	}

	if !dependenciesCompleted(tasks, &Task{Dependencies: []string{"done"}}) {
		t.Error("expected completed dependency to satisfy")
	}
	if dependenciesCompleted(tasks, &Task{Dependencies: []string{"pending"}}) {
		t.Error("expected pending dependency to block")
	}
	if dependenciesCompleted(tasks, &Task{Dependencies: []string{"missing"}}) {
		t.Error("expected missing dependency to block")
	}
	if !dependenciesCompleted(tasks, &Task{}) {
		t.Error("expected no dependencies to satisfy")
	}
}
