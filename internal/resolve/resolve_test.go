package resolve

import (
	"testing"

	"github.com/reqon/reqon/internal/mission"
)

func baseMission() *mission.Mission {
	return &mission.Mission{
		Name:    "test",
		Sources: map[string]*mission.Source{"api": {Name: "api"}},
		Stores:  map[string]*mission.StoreDef{"cache": {Name: "cache", Kind: mission.StoreMemory}},
		Schemas: map[string]*mission.Schema{"record": {Name: "record"}},
		Actions: map[string]*mission.Action{
			"sync": {Name: "sync", Steps: []mission.Step{&mission.FetchStep{Source: "api"}}},
		},
	}
}

func TestMissionResolvesCleanMission(t *testing.T) {
	if err := Mission(baseMission()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMissionCatchesUnknownSource(t *testing.T) {
	m := baseMission()
	m.Actions["sync"].Steps = []mission.Step{&mission.FetchStep{Source: "missing"}}

	err := Mission(m)
	if err == nil {
		t.Fatal("expected an error for an unknown source reference")
	}
}

func TestMissionCatchesUnknownStoreAndSchema(t *testing.T) {
	m := baseMission()
	m.Actions["sync"].Steps = []mission.Step{
		&mission.StoreStep{Store: "missing-store"},
		&mission.MapStep{Schema: "missing-schema"},
	}

	err := Mission(m)
	if err == nil {
		t.Fatal("expected errors for unknown store and schema references")
	}
	re, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if len(re.Problems) != 2 {
		t.Fatalf("expected 2 problems, got %d: %v", len(re.Problems), re.Problems)
	}
}

func TestMissionCatchesUnknownPipelineAction(t *testing.T) {
	m := baseMission()
	m.Pipeline = []mission.Stage{{Actions: []string{"nonexistent"}}}

	if err := Mission(m); err == nil {
		t.Fatal("expected an error for an unknown pipeline action")
	}
}

func TestMissionCatchesUnknownJumpTarget(t *testing.T) {
	m := baseMission()
	m.Actions["sync"].Steps = []mission.Step{&mission.JumpStep{Action: "ghost"}}

	if err := Mission(m); err == nil {
		t.Fatal("expected an error for an unknown jump target")
	}
}

func TestMissionCatchesBadSchedule(t *testing.T) {
	m := baseMission()
	m.Schedule = &mission.SchedulePolicy{}

	if err := Mission(m); err == nil {
		t.Fatal("expected an error for a schedule with no cron/interval/at")
	}
}
