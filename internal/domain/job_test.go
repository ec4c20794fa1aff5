package domain

import "testing"

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name   string
		job    Job
		counts StatusCounts
		want   JobStatus
	}{
		{
			name:   "processing wins over everything",
			job:    Job{Status: JobStatusProcessing},
			counts: StatusCounts{Total: 10, Errored: 3},
			want:   JobStatusProcessing,
		},
		{
			name:   "errored rows drag the job into error",
			job:    Job{Status: JobStatusCompleted},
			counts: StatusCounts{Total: 10, Completed: 9, Errored: 1},
			want:   JobStatusError,
		},
		{
			name:   "job level error without row errors",
			job:    Job{Status: JobStatusError},
			counts: StatusCounts{Total: 10, Completed: 10},
			want:   JobStatusError,
		},
		{
			name:   "clean completion",
			job:    Job{Status: JobStatusCompleted},
			counts: StatusCounts{Total: 10, Completed: 10},
			want:   JobStatusCompleted,
		},
		{
			name:   "finalized sticks",
			job:    Job{Status: JobStatusFinalized},
			counts: StatusCounts{Total: 10, Completed: 10},
			want:   JobStatusFinalized,
		},
		{
			name:   "draft reads as in progress",
			job:    Job{Status: JobStatusDraft},
			counts: StatusCounts{Total: 10, Pending: 10},
			want:   JobStatusInProgress,
		},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := DeriveStatus(&testCase.job, testCase.counts); got != testCase.want {
				t.Fatalf("expected %s, got %s", testCase.want, got)
			}
		})
	}
}

func TestCompletionPercentRounds(t *testing.T) {
	cases := []struct {
		name   string
		counts StatusCounts
		want   int
	}{
		{name: "empty job", counts: StatusCounts{}, want: 0},
		{name: "one third", counts: StatusCounts{Total: 3, Completed: 1}, want: 33},
		{name: "two thirds rounds up", counts: StatusCounts{Total: 3, Completed: 2}, want: 67},
		{name: "complete", counts: StatusCounts{Total: 4, Completed: 4}, want: 100},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.counts.CompletionPercent(); got != testCase.want {
				t.Fatalf("expected %d%%, got %d%%", testCase.want, got)
			}
		})
	}
}

func TestEditableStatuses(t *testing.T) {
	editable := map[JobStatus]bool{
		JobStatusDraft:      true,
		JobStatusInProgress: true,
		JobStatusProcessing: false,
		JobStatusCompleted:  false,
		JobStatusError:      false,
		JobStatusFinalized:  false,
	}
	for status, want := range editable {
		if got := status.Editable(); got != want {
			t.Fatalf("expected Editable()=%v for %s, got %v", want, status, got)
		}
	}
}
