package status_test

import (
	"testing"
	"time"

	"taxline/internal/status"
)

func strp(s string) *string { return &s }
func fp(v float64) *float64 { return &v }

func TestVocabularyValid(t *testing.T) {
	if len(status.Vocabulary) != 12 {
		t.Fatalf("expected 12 statuses, got %d", len(status.Vocabulary))
	}
	for _, v := range status.Vocabulary {
		if !status.Valid(v) {
			t.Fatalf("vocabulary entry %q not valid", v)
		}
	}
	for _, bad := range []string{"completed", "Done", "", "To do"} {
		if status.Valid(bad) {
			t.Fatalf("%q should not be valid", bad)
		}
	}
}

func TestNoteBearing(t *testing.T) {
	if !status.NoteBearing(status.ToDo) || !status.NoteBearing(status.StaffToUpdate) {
		t.Fatalf("To Do and staff to update must bear notes")
	}
	for _, v := range status.Vocabulary {
		if v == status.ToDo || v == status.StaffToUpdate {
			continue
		}
		if status.NoteBearing(v) {
			t.Fatalf("%q should not bear a note", v)
		}
	}
}

func TestBucketClassifiesLegacyText(t *testing.T) {
	cases := map[string]string{
		"COMPLETED":                      status.Completed,
		"work in progress (wip) - extra": status.WIP,
		"to do":                          status.ToDo,
		"something else entirely":        status.DefaultBucket,
		"":                               status.DefaultBucket,
	}
	for in, want := range cases {
		if got := status.Bucket(in); got != want {
			t.Errorf("Bucket(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDerivePriorityOrder(t *testing.T) {
	cases := []struct {
		name string
		in   status.DeriveInputs
		want status.Display
	}{
		{
			name: "archived dominates everything",
			in: status.DeriveInputs{
				ArchivedAt:     strp("2024-01-01"),
				Status:         "Work in progress (WIP)",
				ClientStatus:   "Pending",
				PreparerStatus: "Working",
				ReviewerStatus: "Rejected",
			},
			want: status.DisplayCompleted,
		},
		{
			name: "manual completed dominates client status",
			in: status.DeriveInputs{
				Status:       "Completed",
				ClientStatus: "Pending",
			},
			want: status.DisplayCompleted,
		},
		{
			name: "waiting for client beats reviewer approval",
			in: status.DeriveInputs{
				Status:         "Work in progress (WIP)",
				ClientStatus:   "Pending",
				PreparerStatus: "Completed",
				ReviewerStatus: "Approved",
			},
			want: status.DisplayWaitingForClient,
		},
		{
			name: "empty client status waits for client",
			in:   status.DeriveInputs{},
			want: status.DisplayWaitingForClient,
		},
		{
			name: "preparer working means in progress",
			in: status.DeriveInputs{
				ClientStatus:   "Completed",
				PreparerStatus: "Working",
			},
			want: status.DisplayInProgress,
		},
		{
			name: "sent to reviewer means ready for review",
			in: status.DeriveInputs{
				ClientStatus:   "completed",
				PreparerStatus: "Sent to Reviewer",
			},
			want: status.DisplayReadyForReview,
		},
		{
			name: "approved review",
			in: status.DeriveInputs{
				ClientStatus:   "Completed",
				PreparerStatus: "Completed",
				ReviewerStatus: "Approved",
			},
			want: status.DisplayReviewed,
		},
		{
			name: "default not started",
			in: status.DeriveInputs{
				ClientStatus:   "Completed",
				PreparerStatus: "Completed",
				ReviewerStatus: "Pending",
			},
			want: status.DisplayNotStarted,
		},
	}
	for _, tc := range cases {
		if got := status.Derive(tc.in); got != tc.want {
			t.Errorf("%s: Derive = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestDeriveArchivedForAllCombinations(t *testing.T) {
	clientVals := []string{"", "Completed", "Pending"}
	preparerVals := []string{"", "Completed", "Sent to reviewer", "Working"}
	reviewerVals := []string{"", "Approved", "Rejected"}
	for _, c := range clientVals {
		for _, p := range preparerVals {
			for _, r := range reviewerVals {
				in := status.DeriveInputs{
					ArchivedAt:     strp("2024-06-30"),
					Status:         "To Do",
					ClientStatus:   c,
					PreparerStatus: p,
					ReviewerStatus: r,
				}
				if got := status.Derive(in); got != status.DisplayCompleted {
					t.Fatalf("archived project derived %q for %q/%q/%q", got, c, p, r)
				}
			}
		}
	}
}

func TestDeriveLowerPriorityChangeIsInert(t *testing.T) {
	// Once client status locks in Waiting for Client, flipping reviewer
	// status must not change the outcome.
	base := status.DeriveInputs{
		Status:         "Work in progress (WIP)",
		ClientStatus:   "Pending",
		PreparerStatus: "Completed",
	}
	before := status.Derive(base)
	base.ReviewerStatus = "Approved"
	if after := status.Derive(base); after != before {
		t.Fatalf("lower-priority field changed outcome: %q -> %q", before, after)
	}
}

func TestOutstandingBalance(t *testing.T) {
	if got := status.OutstandingBalance(nil, nil, nil, nil); got != 0 {
		t.Fatalf("all unset: got %v, want 0", got)
	}
	if got := status.OutstandingBalance(fp(42.5), fp(1000), fp(130), fp(500)); got != 42.5 {
		t.Fatalf("explicit outstanding wins: got %v", got)
	}
	if got := status.OutstandingBalance(nil, fp(1000), fp(130), fp(500)); got != 630 {
		t.Fatalf("derived balance: got %v, want 630", got)
	}
	if got := status.OutstandingBalance(nil, fp(100), nil, fp(250)); got != -150 {
		t.Fatalf("derived balance may go negative: got %v", got)
	}
}

func TestProgress(t *testing.T) {
	today := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	if got := status.Progress(nil, strp("2024-06-30"), today); got != 0 {
		t.Fatalf("missing date_in: got %v", got)
	}
	if got := status.Progress(strp("2024-06-01"), nil, today); got != 0 {
		t.Fatalf("missing due_date: got %v", got)
	}
	if got := status.Progress(strp("not-a-date"), strp("2024-06-30"), today); got != 0 {
		t.Fatalf("garbage date: got %v", got)
	}
	got := status.Progress(strp("2024-06-01"), strp("2024-06-30"), today)
	if got <= 0 || got >= 100 {
		t.Fatalf("mid-window progress out of range: %v", got)
	}
	if got := status.Progress(strp("2024-01-01"), strp("2024-02-01"), today); got != 100 {
		t.Fatalf("past window should clamp to 100: got %v", got)
	}
	if got := status.Progress(strp("2024-07-01"), strp("2024-08-01"), today); got != 0 {
		t.Fatalf("future window should clamp to 0: got %v", got)
	}
	// due date equal to date_in: no division, 100 once started
	if got := status.Progress(strp("2024-06-01"), strp("2024-06-01"), today); got != 100 {
		t.Fatalf("zero-length window after start: got %v", got)
	}
	if got := status.Progress(strp("2024-07-01"), strp("2024-07-01"), today); got != 0 {
		t.Fatalf("zero-length window before start: got %v", got)
	}
}
