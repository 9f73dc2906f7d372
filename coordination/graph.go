package coordination

// hasCycle reports whether the dependency edges contain a cycle, using DFS
// with a recursion stack. edges maps task id -> dependency task ids; a
// dependency on a task that has not been added yet participates in the
// walk like any other node.
func hasCycle(edges map[string][]string) bool {
	visited := make(map[string]bool, len(edges))
	recStack := make(map[string]bool, len(edges))

	for id := range edges {
		if !visited[id] {
			if cycleDFS(id, edges, visited, recStack) {
				return true
			}
		}
	}
	return false
}

// cycleDFS walks one task's dependency chain looking for a back edge.
func cycleDFS(id string, edges map[string][]string, visited, recStack map[string]bool) bool {
	visited[id] = true
	recStack[id] = true

	for _, dep := range edges[id] {
		if !visited[dep] {
			if cycleDFS(dep, edges, visited, recStack) {
				return true
			}
		} else if recStack[dep] {
			return true
		}
	}

	recStack[id] = false
	return false
}

// wouldCreateCycle reports whether adding taskID with the given
// dependencies to the session's existing graph closes a cycle. The
// existing edges are not mutated.
func wouldCreateCycle(tasks map[string]*Task, taskID string, dependencies []string) bool {
	edges := make(map[string][]string, len(tasks)+1)
	for id, task := range tasks {
		edges[id] = task.Dependencies
	}
	edges[taskID] = dependencies
	return hasCycle(edges)
}

// dependenciesCompleted reports whether every dependency of the task is
// present and Completed. A dependency that has not been added to the
// session yet counts as incomplete.
func dependenciesCompleted(tasks map[string]*Task, task *Task) bool {
	for _, dep := range task.Dependencies {
		depTask, ok := tasks[dep]
		if !ok || depTask.Status != TaskCompleted {
			return false
		}
	}
	return true
}
