package service

import (
	"errors"
	"testing"

	"github.com/stemsi/exstem-engine/internal/model"
)

func TestCheckRecord(t *testing.T) {
	valid := func() *model.ResultRecord {
		return &model.ResultRecord{
			ID:          model.ResultID("cand-1", "sess-1"),
			CandidateID: "cand-1",
			SessionID:   "sess-1",
			Status:      model.ResultStatusInProgress,
		}
	}

	tests := []struct {
		name   string
		mutate func(r *model.ResultRecord)
		want   error
	}{
		{"in progress snapshot", func(*model.ResultRecord) {}, nil},
		{"final completed", func(r *model.ResultRecord) {
			r.Final = true
			r.Status = model.ResultStatusCompleted
		}, nil},
		{"other candidate", func(r *model.ResultRecord) { r.CandidateID = "cand-2" }, ErrResultIDMismatch},
		{"forged id", func(r *model.ResultRecord) { r.ID = model.ResultID("cand-2", "sess-1") }, ErrResultIDMismatch},
		{"unknown status", func(r *model.ResultRecord) { r.Status = "paused" }, ErrInvalidRecord},
		{"final still in progress", func(r *model.ResultRecord) { r.Final = true }, ErrInvalidRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := valid()
			tt.mutate(rec)
			err := CheckRecord(rec, "cand-1", "sess-1")
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
