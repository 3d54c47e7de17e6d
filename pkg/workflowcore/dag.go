// Package workflowcore builds and validates the execution plan for a
// workflow: topological levels, cycle detection, and the critical
// path, ported from original_source's dag.py.
package workflowcore

import (
	"fmt"
	"sort"
)

// StepDef is one step of a parsed workflow, keyed by name in
// WorkflowDefinition.Steps.
type StepDef struct {
	Type            string
	DependsOn       []string
	Config          map[string]any
	Function        *string
	ContinueOnError bool
}

// Priority returns the step's configured scheduling priority, lower
// values running first; steps without one default to 100.
func (s StepDef) Priority() int {
	if s.Config == nil {
		return defaultPriority
	}
	switch v := s.Config["priority"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return defaultPriority
	}
}

const defaultPriority = 100

// ExecutionPlan is the compiled form of a workflow's step graph.
type ExecutionPlan struct {
	Levels        [][]string
	TotalSteps    int
	Parallelizable bool
	CriticalPath  []string
}

// CycleDetectedError reports a dependency cycle found while building
// a plan. Cycle lists the steps in order, with the first step
// repeated at the end to show where the loop closes.
type CycleDetectedError struct {
	Cycle []string
}

func (e *CycleDetectedError) Error() string {
	msg := "cycle detected:"
	for i, name := range e.Cycle {
		if i > 0 {
			msg += " ->"
		}
		msg += " " + name
	}
	return msg
}

// BuildDAG validates steps for cycles and compiles an ExecutionPlan:
// steps grouped into levels where level N depends only on levels <
// N, plus the longest dependency chain as the critical path.
func BuildDAG(steps map[string]StepDef) (*ExecutionPlan, error) {
	if len(steps) == 0 {
		return &ExecutionPlan{}, nil
	}

	if cycle := detectCycle(steps); cycle != nil {
		return nil, &CycleDetectedError{Cycle: cycle}
	}

	levels := computeLevels(steps)
	criticalPath := computeCriticalPath(steps, levels)

	parallelizable := false
	for _, level := range levels {
		if len(level) > 1 {
			parallelizable = true
			break
		}
	}

	return &ExecutionPlan{
		Levels:         levels,
		TotalSteps:     len(steps),
		Parallelizable: parallelizable,
		CriticalPath:   criticalPath,
	}, nil
}

const (
	colorWhite = 0
	colorGray  = 1
	colorBlack = 2
)

// detectCycle runs a three-color DFS over steps, visiting step names
// in sorted order so the reported cycle is deterministic.
func detectCycle(steps map[string]StepDef) []string {
	color := make(map[string]int, len(steps))
	for name := range steps {
		color[name] = colorWhite
	}

	names := sortedKeys(steps)

	var dfs func(node string, path []string) []string
	dfs = func(node string, path []string) []string {
		color[node] = colorGray
		path = append(path, node)

		for _, dep := range steps[node].DependsOn {
			if _, ok := steps[dep]; !ok {
				continue // missing dependency: caller's parser validates this separately
			}
			if color[dep] == colorGray {
				start := indexOf(path, dep)
				return append(append([]string{}, path[start:]...), dep)
			}
			if color[dep] == colorWhite {
				if cycle := dfs(dep, path); cycle != nil {
					return cycle
				}
			}
		}

		color[node] = colorBlack
		return nil
	}

	for _, name := range names {
		if color[name] == colorWhite {
			if cycle := dfs(name, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// computeLevels assigns each step the level one past its deepest
// dependency, then sorts each level by (priority, name).
func computeLevels(steps map[string]StepDef) [][]string {
	stepLevel := make(map[string]int, len(steps))

	var getLevel func(name string) int
	getLevel = func(name string) int {
		if lvl, ok := stepLevel[name]; ok {
			return lvl
		}
		validDeps := validDependencies(steps, name)
		if len(validDeps) == 0 {
			stepLevel[name] = 0
			return 0
		}
		maxDepLevel := 0
		for _, dep := range validDeps {
			if l := getLevel(dep); l > maxDepLevel {
				maxDepLevel = l
			}
		}
		stepLevel[name] = maxDepLevel + 1
		return stepLevel[name]
	}

	for name := range steps {
		getLevel(name)
	}

	maxLevel := 0
	for _, lvl := range stepLevel {
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}

	levels := make([][]string, maxLevel+1)
	for name, lvl := range stepLevel {
		levels[lvl] = append(levels[lvl], name)
	}

	for _, level := range levels {
		sortByPriorityThenName(level, steps)
	}
	return levels
}

// computeCriticalPath runs a longest-path DP over levels in
// topological order, breaking ties by lower priority then
// alphabetical name, matching the level sort's tie-break exactly.
func computeCriticalPath(steps map[string]StepDef, levels [][]string) []string {
	if len(steps) == 0 || len(levels) == 0 {
		return nil
	}

	pathLength := make(map[string]int, len(steps))
	predecessor := make(map[string]string, len(steps))
	hasPredecessor := make(map[string]bool, len(steps))

	for _, level := range levels {
		for _, name := range level {
			validDeps := validDependencies(steps, name)
			if len(validDeps) == 0 {
				pathLength[name] = 1
				continue
			}
			best := validDeps[0]
			for _, dep := range validDeps[1:] {
				if betterDependency(dep, best, pathLength, steps) {
					best = dep
				}
			}
			pathLength[name] = pathLength[best] + 1
			predecessor[name] = best
			hasPredecessor[name] = true
		}
	}

	var endStep string
	var found bool
	for name := range steps {
		if !found || betterEnd(name, endStep, pathLength, steps) {
			endStep = name
			found = true
		}
	}

	var path []string
	current, ok := endStep, found
	for ok {
		path = append(path, current)
		next := predecessor[current]
		ok = hasPredecessor[current]
		current = next
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// betterDependency reports whether candidate should replace current
// as the chosen predecessor: longer path wins, then lower priority,
// then alphabetically earlier name.
func betterDependency(candidate, current string, pathLength map[string]int, steps map[string]StepDef) bool {
	if pathLength[candidate] != pathLength[current] {
		return pathLength[candidate] > pathLength[current]
	}
	cp, curp := steps[candidate].Priority(), steps[current].Priority()
	if cp != curp {
		return cp < curp
	}
	return candidate < current
}

func betterEnd(candidate, current string, pathLength map[string]int, steps map[string]StepDef) bool {
	return betterDependency(candidate, current, pathLength, steps)
}

func validDependencies(steps map[string]StepDef, name string) []string {
	deps := steps[name].DependsOn
	valid := make([]string, 0, len(deps))
	for _, dep := range deps {
		if _, ok := steps[dep]; ok {
			valid = append(valid, dep)
		}
	}
	return valid
}

func sortByPriorityThenName(level []string, steps map[string]StepDef) {
	sort.Slice(level, func(i, j int) bool {
		pi, pj := steps[level[i]].Priority(), steps[level[j]].Priority()
		if pi != pj {
			return pi < pj
		}
		return level[i] < level[j]
	})
}

func sortedKeys(steps map[string]StepDef) []string {
	names := make([]string, 0, len(steps))
	for name := range steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func indexOf(path []string, name string) int {
	for i, n := range path {
		if n == name {
			return i
		}
	}
	panic(fmt.Sprintf("workflowcore: %q not found in path during cycle reconstruction", name))
}
