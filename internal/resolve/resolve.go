// Package resolve implements post-parse mission validation (C13):
// checking that every name a mission references — source, store,
// schema, action — was actually declared, before the executor ever
// runs a step and discovers the problem mid-flight. Grounded on the
// teacher's converter.go validation pass (flat field-presence checks
// over a parsed flow document), generalized here to a typed walk over
// the resolved mission.Step tree.
package resolve

import (
	"fmt"
	"strings"

	"github.com/reqon/reqon/internal/mission"
)

// Error collects every broken reference a mission contains. A mission
// with a non-empty Error should not be run.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("resolve: %d problem(s):\n  %s", len(e.Problems), strings.Join(e.Problems, "\n  "))
}

func (e *Error) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Mission validates every cross-reference m contains: pipeline stage
// action names, schedule sanity, and (recursively) every action's step
// tree. Returns nil if the mission is internally consistent.
func Mission(m *mission.Mission) error {
	r := &Error{}

	for name := range m.Actions {
		action := m.Actions[name]
		walkSteps(r, m, action.Steps)
		walkSteps(r, m, action.OnError)
		walkSteps(r, m, action.Compensation)
	}

	for i, stage := range m.Pipeline {
		for _, name := range stage.Actions {
			if _, ok := m.Actions[name]; !ok {
				r.add("pipeline stage %d references unknown action %q", i, name)
			}
		}
	}

	if m.Schedule != nil {
		validateSchedule(r, m.Schedule)
	}

	if len(r.Problems) == 0 {
		return nil
	}
	return r
}

func validateSchedule(r *Error, s *mission.SchedulePolicy) {
	set := 0
	if s.Cron != "" {
		set++
	}
	if s.Interval > 0 {
		set++
	}
	if s.At != nil {
		set++
	}
	if set == 0 {
		r.add("schedule declares none of cron/interval/at")
	}
	if set > 1 {
		r.add("schedule declares more than one of cron/interval/at")
	}
}

func walkSteps(r *Error, m *mission.Mission, steps []mission.Step) {
	for _, s := range steps {
		walkStep(r, m, s)
	}
}

func walkStep(r *Error, m *mission.Mission, s mission.Step) {
	switch st := s.(type) {
	case *mission.FetchStep:
		requireSource(r, m, st.Source)
	case *mission.CallStep:
		if requireSource(r, m, st.Source) {
			src := m.Sources[st.Source]
			if _, ok := src.Operations[st.OperationID]; !ok {
				r.add("call step references unknown operationId %q on source %q", st.OperationID, st.Source)
			}
		}
	case *mission.ForStep:
		if st.Store != "" {
			requireStore(r, m, st.Store)
		}
		walkSteps(r, m, st.Body)
	case *mission.MapStep:
		if st.Schema != "" {
			requireSchema(r, m, st.Schema)
		}
	case *mission.StoreStep:
		requireStore(r, m, st.Store)
	case *mission.QueueStep:
		requireStore(r, m, st.Store)
	case *mission.MatchStep:
		for _, arm := range st.Arms {
			if arm.SchemaName != "_" {
				requireSchema(r, m, arm.SchemaName)
			}
			walkSteps(r, m, arm.Body)
		}
	case *mission.JumpStep:
		if _, ok := m.Actions[st.Action]; !ok {
			r.add("jump step references unknown action %q", st.Action)
		}
	}
}

func requireSource(r *Error, m *mission.Mission, name string) bool {
	if _, ok := m.Sources[name]; ok {
		return true
	}
	r.add("references unknown source %q", name)
	return false
}

func requireStore(r *Error, m *mission.Mission, name string) bool {
	if _, ok := m.Stores[name]; ok {
		return true
	}
	r.add("references unknown store %q", name)
	return false
}

func requireSchema(r *Error, m *mission.Mission, name string) bool {
	if _, ok := m.Schemas[name]; ok {
		return true
	}
	r.add("references unknown schema %q", name)
	return false
}
