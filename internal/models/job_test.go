package models

import (
	"encoding/json"
	"testing"
)

func TestStageStatus(t *testing.T) {
	tests := []struct {
		stage Stage
		want  string
	}{
		{StagePending, "pending"},
		{StageCloning, "running"},
		{StageExtractCode, "running"},
		{StageProcessing, "running"},
		{StageUploading, "running"},
		{StageCleaningUp, "running"},
		{StageCompleted, "completed"},
		{StageFailed, "failed"},
	}
	for _, tt := range tests {
		if got := tt.stage.Status(); got != tt.want {
			t.Errorf("Status(%s) = %q, want %q", tt.stage, got, tt.want)
		}
	}
}

func TestJobSnapshotSerializesStageAndStatus(t *testing.T) {
	snap := JobSnapshot{
		ID:     "abcd1234",
		Status: StageUploading.Status(),
		Stage:  StageUploading,
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatal(err)
	}
	if fields["status"] != "running" {
		t.Errorf("status = %v, want running", fields["status"])
	}
	if fields["stage"] != string(StageUploading) {
		t.Errorf("stage = %v, want %s", fields["stage"], StageUploading)
	}
}
