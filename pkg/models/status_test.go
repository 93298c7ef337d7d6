package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatus_String(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   string
	}{
		{RunStatusUnset, "unset"},
		{RunStatusRunning, "running"},
		{RunStatusSuccess, "success"},
		{RunStatusPartial, "partial"},
		{RunStatusFailure, "failure"},
		{RunStatusNotFound, "not_found"},
		{RunStatusDBError, "db_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestRunStatus_IsValid(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   bool
	}{
		{RunStatusRunning, true},
		{RunStatusSuccess, true},
		{RunStatusPartial, true},
		{RunStatusFailure, true},
		{RunStatusUnset, false},
		{RunStatusNotFound, false},
		{RunStatusDBError, false},
		{RunStatus("arbitrary"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.IsValid(), "RunStatus(%q).IsValid()", string(tt.status))
	}
}
