// Package status holds the manual status vocabulary and the pure derivation
// rules for a project's display status. Nothing here touches the database.
package status

import (
	"strings"
	"time"
)

// Canonical manual status values, in workflow order. Writes must use one of
// these exactly; legacy rows may carry other free text and are classified on
// read via Bucket.
const (
	ClientToSign    = "Client to sign engagement and pay deposit"
	NotStart        = "Not start—info to come"
	ToDo            = "To Do"
	WIP             = "Work in progress (WIP)"
	ReadyForReview  = "Ready for reviewer/partner to review"
	Reviewed        = "Reviewed"
	StaffToUpdate   = "staff to update"
	ReadyForFinal   = "Ready for final review"
	ClientApproval  = "For client review & approval"
	ClientSignature = "For client signature"
	ToEfile         = "To efile & prepare invoice (client signed)"
	Completed       = "Completed"
)

// Vocabulary lists the accepted manual statuses in workflow order.
var Vocabulary = []string{
	ClientToSign,
	NotStart,
	ToDo,
	WIP,
	ReadyForReview,
	Reviewed,
	StaffToUpdate,
	ReadyForFinal,
	ClientApproval,
	ClientSignature,
	ToEfile,
	Completed,
}

// DefaultBucket is the read-path classification for free text that matches no
// vocabulary entry.
const DefaultBucket = "Other"

// Valid reports whether s is one of the canonical vocabulary values.
func Valid(s string) bool {
	for _, v := range Vocabulary {
		if s == v {
			return true
		}
	}
	return false
}

// NoteBearing reports whether status s carries a to_do_or_update note.
// Any transition away from these two values clears the note.
func NoteBearing(s string) bool {
	return s == ToDo || s == StaffToUpdate
}

// Bucket classifies a stored status (possibly legacy free text) into a display
// bucket: the first vocabulary entry that is a case-insensitive substring of
// s, or DefaultBucket.
func Bucket(s string) string {
	lowered := strings.ToLower(s)
	for _, v := range Vocabulary {
		if strings.Contains(lowered, strings.ToLower(v)) {
			return v
		}
	}
	return DefaultBucket
}

// Display is the derived dashboard status.
type Display string

const (
	DisplayNotStarted       Display = "Not Started"
	DisplayInProgress       Display = "In Progress"
	DisplayWaitingForClient Display = "Waiting for Client"
	DisplayReadyForReview   Display = "Ready for Review"
	DisplayReviewed         Display = "Reviewed"
	DisplayCompleted        Display = "Completed"
)

// DeriveInputs are the raw fields the display status is computed from.
type DeriveInputs struct {
	ArchivedAt     *string
	Status         string
	ClientStatus   string
	PreparerStatus string
	ReviewerStatus string
}

// Derive computes the display status from the stored fields. Strict priority
// order, first match wins; archival dominates everything. The result is
// re-derived on every read and never stored.
func Derive(in DeriveInputs) Display {
	manual := strings.ToLower(in.Status)
	if in.ArchivedAt != nil && *in.ArchivedAt != "" || manual == "completed" {
		return DisplayCompleted
	}
	if strings.ToLower(in.ClientStatus) != "completed" {
		return DisplayWaitingForClient
	}
	preparer := strings.ToLower(in.PreparerStatus)
	if preparer != "sent to reviewer" && preparer != "completed" {
		return DisplayInProgress
	}
	if preparer == "sent to reviewer" {
		return DisplayReadyForReview
	}
	if strings.ToLower(in.ReviewerStatus) == "approved" {
		return DisplayReviewed
	}
	if manual == "completed" {
		return DisplayCompleted
	}
	return DisplayNotStarted
}

// OutstandingBalance returns the explicit outstanding amount when set, else
// amount + hst - received. All-nil inputs yield 0.
func OutstandingBalance(outstanding, amount, hst, received *float64) float64 {
	if outstanding != nil {
		return *outstanding
	}
	return f(amount) + f(hst) - f(received)
}

func f(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// DateLayout is the storage format for date-only fields.
const DateLayout = "2006-01-02"

// Progress returns the elapsed percentage of the date_in..due_date window,
// clamped to [0,100]. Missing or unparseable dates yield 0, and a window of
// zero or negative length never divides: before date_in is 0, after is 100.
func Progress(dateIn, dueDate *string, today time.Time) float64 {
	if dateIn == nil || dueDate == nil {
		return 0
	}
	start, err := time.Parse(DateLayout, *dateIn)
	if err != nil {
		return 0
	}
	end, err := time.Parse(DateLayout, *dueDate)
	if err != nil {
		return 0
	}
	total := end.Sub(start).Hours() / 24
	elapsed := today.Sub(start).Hours() / 24
	if total <= 0 {
		if elapsed < 0 {
			return 0
		}
		return 100
	}
	pct := elapsed / total * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
