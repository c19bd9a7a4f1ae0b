package model

import "testing"

func TestImportStage_Terminal(t *testing.T) {
	for _, s := range []ImportStage{StageInitializing, StageSyncingIdentifiers, StageImportingSongs, StageImportingShows, StageCreatingSetlists} {
		if s.Terminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
	if !StageCompleted.Terminal() || !StageFailed.Terminal() {
		t.Error("completed and failed must be terminal")
	}
}

func TestImportStage_Rank(t *testing.T) {
	if StageImportingSongs.Rank() != StageImportingShows.Rank() {
		t.Error("concurrent phase stages must share a rank")
	}
	if StageCompleted.Rank() != StageFailed.Rank() {
		t.Error("terminal stages must share the highest rank")
	}
	order := []ImportStage{StageInitializing, StageSyncingIdentifiers, StageImportingShows, StageCreatingSetlists, StageCompleted}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("%s must rank above %s", order[i], order[i-1])
		}
	}
	if ImportStage("bogus").Rank() != -1 {
		t.Error("unknown stages must rank -1")
	}
}
