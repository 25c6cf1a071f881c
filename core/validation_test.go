package core

import (
	"errors"
	"testing"
	"time"
)

func TestValidatePod(t *testing.T) {
	tests := []struct {
		name    string
		pod     *Pod
		wantErr error
	}{
		{
			name:    "valid pod",
			pod:     &Pod{Name: "notes", OwnerUserID: "user-1"},
			wantErr: nil,
		},
		{
			name:    "nil pod",
			pod:     nil,
			wantErr: ErrInvalidPod,
		},
		{
			name:    "empty name",
			pod:     &Pod{OwnerUserID: "user-1"},
			wantErr: ErrEmptyName,
		},
		{
			name:    "empty owner",
			pod:     &Pod{Name: "notes"},
			wantErr: ErrEmptyOwner,
		},
		{
			name:    "supplied id",
			pod:     &Pod{ID: "pod-1", Name: "notes", OwnerUserID: "user-1"},
			wantErr: nil,
		},
		{
			name:    "id with separator",
			pod:     &Pod{ID: "a:b", Name: "notes", OwnerUserID: "user-1"},
			wantErr: ErrInvalidID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePod(tt.pod)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidatePod() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidatePod() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDataItem(t *testing.T) {
	validTime := time.Now().Add(-1 * time.Hour)
	futureTime := time.Now().Add(1 * time.Hour)

	tests := []struct {
		name    string
		item    *DataItem
		wantErr error
	}{
		{
			name:    "valid item",
			item:    &DataItem{Content: "hello", CreatedAt: validTime},
			wantErr: nil,
		},
		{
			name:    "zero timestamp is allowed",
			item:    &DataItem{Content: "hello"},
			wantErr: nil,
		},
		{
			name:    "nil item",
			item:    nil,
			wantErr: ErrInvalidDataItem,
		},
		{
			name:    "empty content",
			item:    &DataItem{CreatedAt: validTime},
			wantErr: ErrEmptyContent,
		},
		{
			name:    "future timestamp",
			item:    &DataItem{Content: "hello", CreatedAt: futureTime},
			wantErr: ErrInvalidTimestamp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDataItem(tt.item)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateDataItem() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDataItem() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidDataItem) {
				t.Errorf("ValidateDataItem() error should wrap ErrInvalidDataItem, got %v", err)
			}
		})
	}
}

func TestValidateJobTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobStatusPending, JobStatusRunning, true},
		{JobStatusPending, JobStatusFailed, true},
		{JobStatusRunning, JobStatusCompleted, true},
		{JobStatusRunning, JobStatusFailed, true},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusRunning, JobStatusPending, false},
		{JobStatusRunning, JobStatusRunning, false},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusFailed, JobStatusRunning, false},
		{JobStatusCompleted, JobStatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			err := ValidateJobTransition(tt.from, tt.to)
			if tt.ok && err != nil {
				t.Errorf("ValidateJobTransition() unexpected error = %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("ValidateJobTransition() error = %v, want ErrInvalidTransition", err)
			}
		})
	}
}

func TestIsValidTimestamp(t *testing.T) {
	if !IsValidTimestamp(time.Now().Add(-time.Second)) {
		t.Error("past timestamp should be valid")
	}
	if IsValidTimestamp(time.Now().Add(time.Hour)) {
		t.Error("future timestamp should be invalid")
	}
}
