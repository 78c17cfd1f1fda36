package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"taxline/internal/config"
	"taxline/internal/db"
	"taxline/internal/domain"
	"taxline/internal/migrate"
	"taxline/internal/notify"
	"taxline/internal/repo"
	"taxline/internal/status"
)

func repoPatchStatus(s string) repo.ProjectPatch {
	return repo.ProjectPatch{Status: &s}
}

func newTestEnv(t *testing.T) Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := New(conn, config.Default("Test Firm"))
	e.Now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	return e
}

type recorderNotifier struct {
	calls  [][]domain.Profile
	titles []string
	err    error
}

func (r *recorderNotifier) Name() string { return "recorder" }

func (r *recorderNotifier) Notify(ctx context.Context, recipients []domain.Profile, title, message string) error {
	r.calls = append(r.calls, recipients)
	r.titles = append(r.titles, title)
	return r.err
}

func seedProfile(t *testing.T, e Engine, id, email string) {
	t.Helper()
	now := e.nowRFC()
	err := e.Repo.UpsertProfile(context.Background(), domain.Profile{
		ID: id, Email: email, Role: "Staff", CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed profile %s: %v", id, err)
	}
}

func seedProject(t *testing.T, e Engine, opts ProjectCreateOptions) domain.Project {
	t.Helper()
	if opts.ProjectName == "" {
		opts.ProjectName = "ACME 2024 T2"
	}
	p, err := e.CreateProject(context.Background(), opts, Actor{ID: "setup"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func TestSetStatusPersistsAndClearsNote(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := seedProject(t, e, ProjectCreateOptions{})

	note := "chase missing T4s"
	got, err := e.SetStatus(ctx, p.ProjectID, status.ToDo, &note, Actor{ID: "u1"})
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if got.Status != status.ToDo {
		t.Fatalf("status = %q, want %q", got.Status, status.ToDo)
	}
	if got.ToDoOrUpdate == nil || *got.ToDoOrUpdate != note {
		t.Fatalf("note not stored: %v", got.ToDoOrUpdate)
	}

	got, err = e.SetStatus(ctx, p.ProjectID, status.WIP, nil, Actor{ID: "u1"})
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if got.ToDoOrUpdate != nil {
		t.Fatalf("note should be cleared on non-note-bearing status, got %q", *got.ToDoOrUpdate)
	}
	stored, err := e.Repo.GetProject(ctx, p.ProjectID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != status.WIP || stored.ToDoOrUpdate != nil {
		t.Fatalf("stored row mismatch: %+v", stored)
	}
}

func TestAuditEventsUseEngineClock(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := seedProject(t, e, ProjectCreateOptions{})

	if _, err := e.SetStatus(ctx, p.ProjectID, status.WIP, nil, Actor{ID: "u1"}); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	events, err := e.Repo.ListEvents(ctx, p.ProjectID, "project.status.set", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	want := e.Now().UTC().Format(time.RFC3339)
	if events[0].TS != want {
		t.Fatalf("event ts = %q, want %q", events[0].TS, want)
	}
	stored, err := e.Repo.GetProject(ctx, p.ProjectID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.UpdatedAt != want {
		t.Fatalf("updated_at = %q, want %q", stored.UpdatedAt, want)
	}
}

func TestSetStatusEqualValueIsNoOp(t *testing.T) {
	e := newTestEnv(t)
	rec := &recorderNotifier{}
	e.Notifier = rec
	ctx := context.Background()
	seedProfile(t, e, "bob", "bob@firm.test")
	p := seedProject(t, e, ProjectCreateOptions{Preparer: []string{"bob"}})

	if _, err := e.SetStatus(ctx, p.ProjectID, status.WIP, nil, Actor{ID: "u1"}); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	before, err := e.Repo.ListEvents(ctx, p.ProjectID, "", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	notifies := len(rec.calls)

	if _, err := e.SetStatus(ctx, p.ProjectID, status.WIP, nil, Actor{ID: "u1"}); err != nil {
		t.Fatalf("SetStatus no-op: %v", err)
	}
	after, err := e.Repo.ListEvents(ctx, p.ProjectID, "", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("no-op wrote %d extra events", len(after)-len(before))
	}
	if len(rec.calls) != notifies {
		t.Fatalf("no-op sent %d extra notifications", len(rec.calls)-notifies)
	}
}

func TestSetStatusRejectsUnknownValue(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := seedProject(t, e, ProjectCreateOptions{})

	_, err := e.SetStatus(ctx, p.ProjectID, "Donezo", nil, Actor{ID: "u1"})
	var ve ValidationError
	if !errors.As(err, &ve) || ve.Field != "status" {
		t.Fatalf("want status ValidationError, got %v", err)
	}
	evts, err := e.Repo.ListEvents(ctx, p.ProjectID, "project.status.set", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(evts) != 0 {
		t.Fatalf("rejected status wrote %d events", len(evts))
	}
}

func TestLockedProjectRejectsMutations(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := seedProject(t, e, ProjectCreateOptions{})
	if _, err := e.ToggleLock(ctx, p.ProjectID, Actor{ID: "u1"}); err != nil {
		t.Fatalf("lock: %v", err)
	}

	actor := Actor{ID: "u1"}
	ops := map[string]func() error{
		"SetStatus": func() error {
			_, err := e.SetStatus(ctx, p.ProjectID, status.WIP, nil, actor)
			return err
		},
		"StartProject": func() error {
			_, err := e.StartProject(ctx, p.ProjectID, actor)
			return err
		},
		"FinishProject": func() error {
			_, err := e.FinishProject(ctx, p.ProjectID, actor)
			return err
		},
		"ArchiveProject": func() error {
			_, err := e.ArchiveProject(ctx, p.ProjectID, actor)
			return err
		},
		"SetSubStatus": func() error {
			_, err := e.SetSubStatus(ctx, p.ProjectID, SubStatusClient, "Completed", actor)
			return err
		},
		"UpdateInvoice": func() error {
			amt := 100.0
			_, err := e.UpdateInvoice(ctx, p.ProjectID, InvoicePatch{Amount: &amt}, actor)
			return err
		},
		"AddComment": func() error {
			_, err := e.AddComment(ctx, p.ProjectID, "hello", actor)
			return err
		},
		"AttachDocument": func() error {
			_, err := e.AttachDocument(ctx, p.ProjectID, DocumentMeta{FileName: "t4.pdf", ObjectKey: "k"}, actor)
			return err
		},
	}
	for name, op := range ops {
		if err := op(); !IsLockedError(err) {
			t.Errorf("%s on locked project: want locked error, got %v", name, err)
		}
	}

	// The unlock path itself must still work.
	got, err := e.ToggleLock(ctx, p.ProjectID, actor)
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if got.IsLocked {
		t.Fatal("project still locked after toggle")
	}
}

func TestArchiveProjectSinglePatch(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	note := "waiting on client"
	p := seedProject(t, e, ProjectCreateOptions{Status: status.ToDo})
	if _, err := e.SetStatus(ctx, p.ProjectID, status.StaffToUpdate, &note, Actor{ID: "u1"}); err != nil {
		t.Fatalf("set note: %v", err)
	}

	got, err := e.ArchiveProject(ctx, p.ProjectID, Actor{ID: "u1"})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if got.Status != status.Completed || got.ClientStatus != status.Completed || got.PreparerStatus != status.Completed {
		t.Fatalf("statuses not terminal: %+v", got)
	}
	if got.ReviewerStatus != "Approved" {
		t.Fatalf("reviewer_status = %q, want Approved", got.ReviewerStatus)
	}
	today := "2025-03-10"
	if got.ArchivedAt == nil || *got.ArchivedAt != today {
		t.Fatalf("archived_at = %v, want %s", got.ArchivedAt, today)
	}
	if got.DateCompleted == nil || *got.DateCompleted != today {
		t.Fatalf("date_completed = %v, want %s", got.DateCompleted, today)
	}
	if got.ToDoOrUpdate != nil {
		t.Fatalf("note survived archive: %q", *got.ToDoOrUpdate)
	}

	d, err := e.ProjectDetails(ctx, p.ProjectID)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if d.DisplayStatus != status.DisplayCompleted {
		t.Fatalf("display status = %q, want Completed", d.DisplayStatus)
	}
}

func TestStartAndFinishStampDatesOnly(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := seedProject(t, e, ProjectCreateOptions{Status: status.WIP})

	got, err := e.StartProject(ctx, p.ProjectID, Actor{ID: "u1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.DateIn == nil || *got.DateIn != "2025-03-10" {
		t.Fatalf("date_in = %v", got.DateIn)
	}

	got, err = e.FinishProject(ctx, p.ProjectID, Actor{ID: "u1"})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if got.DateCompleted == nil || *got.DateCompleted != "2025-03-10" {
		t.Fatalf("date_completed = %v", got.DateCompleted)
	}
	if got.Status != status.WIP {
		t.Fatalf("finish must not touch status, got %q", got.Status)
	}
	if got.ArchivedAt != nil {
		t.Fatalf("finish must not archive, got %v", *got.ArchivedAt)
	}
}

func TestNotifyStakeholdersExcludesActorAndSkipsUnknown(t *testing.T) {
	e := newTestEnv(t)
	rec := &recorderNotifier{}
	e.Notifier = rec
	ctx := context.Background()
	seedProfile(t, e, "alice", "alice@firm.test")
	seedProfile(t, e, "bob", "bob@firm.test")
	reviewer := "bob"
	p := seedProject(t, e, ProjectCreateOptions{
		Preparer: []string{"alice", "ghost"},
		Reviewer: &reviewer,
	})

	if _, err := e.SetStatus(ctx, p.ProjectID, status.WIP, nil, Actor{ID: "alice"}); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("want 1 fan-out, got %d", len(rec.calls))
	}
	got := rec.calls[0]
	if len(got) != 1 || got[0].ID != "bob" {
		t.Fatalf("recipients = %+v, want just bob", got)
	}
}

func TestNotifierFailureDoesNotFailWrite(t *testing.T) {
	e := newTestEnv(t)
	e.Notifier = &recorderNotifier{err: errors.New("smtp down")}
	ctx := context.Background()
	seedProfile(t, e, "bob", "bob@firm.test")
	p := seedProject(t, e, ProjectCreateOptions{Preparer: []string{"bob"}})

	got, err := e.SetStatus(ctx, p.ProjectID, status.Reviewed, nil, Actor{ID: "u1"})
	if err != nil {
		t.Fatalf("SetStatus must not surface notifier failure: %v", err)
	}
	if got.Status != status.Reviewed {
		t.Fatalf("status = %q", got.Status)
	}
	stored, err := e.Repo.GetProject(ctx, p.ProjectID)
	if err != nil || stored.Status != status.Reviewed {
		t.Fatalf("write not committed: %v %+v", err, stored)
	}
}

func TestInboxNotifierWritesRows(t *testing.T) {
	e := newTestEnv(t)
	e.Notifier = notify.InboxNotifier{Repo: e.Repo, Now: e.Now}
	ctx := context.Background()
	seedProfile(t, e, "bob", "bob@firm.test")
	p := seedProject(t, e, ProjectCreateOptions{Preparer: []string{"bob"}})

	if _, err := e.SetStatus(ctx, p.ProjectID, status.WIP, nil, Actor{ID: "u1", DisplayName: "Uma"}); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	inbox, err := e.Repo.ListNotifications(ctx, "bob", false, 0)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(inbox) != 1 {
		t.Fatalf("want 1 inbox row, got %d", len(inbox))
	}
	if inbox[0].Title != "Status updated" || inbox[0].IsRead {
		t.Fatalf("inbox row = %+v", inbox[0])
	}
	if err := e.Repo.MarkNotificationRead(ctx, inbox[0].ID, "bob"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	n, err := e.Repo.CountUnreadNotifications(ctx, "bob")
	if err != nil || n != 0 {
		t.Fatalf("unread = %d err = %v", n, err)
	}
}

func TestSetSubStatus(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := seedProject(t, e, ProjectCreateOptions{})

	got, err := e.SetSubStatus(ctx, p.ProjectID, SubStatusClient, "Completed", Actor{ID: "u1"})
	if err != nil {
		t.Fatalf("SetSubStatus: %v", err)
	}
	if got.ClientStatus != "Completed" {
		t.Fatalf("client_status = %q", got.ClientStatus)
	}
	if _, err := e.SetSubStatus(ctx, p.ProjectID, "partner", "x", Actor{ID: "u1"}); err == nil {
		t.Fatal("unknown sub-status kind accepted")
	}
}

func TestUpdateInvoiceAndOutstandingBalance(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := seedProject(t, e, ProjectCreateOptions{})

	amt, hst, recv := 1000.0, 130.0, 400.0
	if _, err := e.UpdateInvoice(ctx, p.ProjectID, InvoicePatch{Amount: &amt, HSTAmount: &hst, AmountReceived: &recv}, Actor{ID: "u1"}); err != nil {
		t.Fatalf("UpdateInvoice: %v", err)
	}
	d, err := e.ProjectDetails(ctx, p.ProjectID)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if d.OutstandingBalance != 730.0 {
		t.Fatalf("outstanding = %v, want 730", d.OutstandingBalance)
	}

	// An explicit outstanding figure wins over the derived one.
	explicit := 50.0
	if _, err := e.UpdateInvoice(ctx, p.ProjectID, InvoicePatch{Outstanding: &explicit}, Actor{ID: "u1"}); err != nil {
		t.Fatalf("UpdateInvoice: %v", err)
	}
	d, err = e.ProjectDetails(ctx, p.ProjectID)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if d.OutstandingBalance != 50.0 {
		t.Fatalf("outstanding = %v, want 50", d.OutstandingBalance)
	}
}

func TestAddCommentAppendsInOrder(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := seedProject(t, e, ProjectCreateOptions{})

	if _, err := e.AddComment(ctx, p.ProjectID, "first", Actor{ID: "u1", DisplayName: "Uma"}); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if _, err := e.AddComment(ctx, p.ProjectID, "second", Actor{ID: "u2"}); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if _, err := e.AddComment(ctx, p.ProjectID, "   ", Actor{ID: "u1"}); err == nil {
		t.Fatal("blank comment accepted")
	}
	comments, err := e.Repo.ListComments(ctx, p.ProjectID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(comments) != 2 || comments[0].Body != "first" || comments[1].Body != "second" {
		t.Fatalf("comments = %+v", comments)
	}
	if comments[0].AuthorName != "Uma" {
		t.Fatalf("author name = %q", comments[0].AuthorName)
	}
}

func TestAttachDocumentVersionsPerFileName(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := seedProject(t, e, ProjectCreateOptions{})

	d1, err := e.AttachDocument(ctx, p.ProjectID, DocumentMeta{FileName: "t4.pdf", ObjectKey: "k1"}, Actor{ID: "u1"})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	d2, err := e.AttachDocument(ctx, p.ProjectID, DocumentMeta{FileName: "t4.pdf", ObjectKey: "k2"}, Actor{ID: "u1"})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	other, err := e.AttachDocument(ctx, p.ProjectID, DocumentMeta{FileName: "noa.pdf", ObjectKey: "k3"}, Actor{ID: "u1"})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if d1.Version != 1 || d2.Version != 2 || other.Version != 1 {
		t.Fatalf("versions = %d %d %d", d1.Version, d2.Version, other.Version)
	}
}

func TestProjectDetailsBucketsLegacyStatus(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	p := seedProject(t, e, ProjectCreateOptions{})

	// Legacy rows carry free text that predates the fixed vocabulary.
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	legacy := "work in progress (wip) - waiting on slips"
	if err := e.Repo.UpdateProjectTx(ctx, tx, p.ProjectID, repoPatchStatus(legacy), e.nowRFC(), "migrator"); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	d, err := e.ProjectDetails(ctx, p.ProjectID)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if d.StatusBucket != status.WIP {
		t.Fatalf("bucket = %q, want %q", d.StatusBucket, status.WIP)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	if _, err := e.CreateProject(ctx, ProjectCreateOptions{}, Actor{ID: "u1"}); err == nil {
		t.Fatal("empty name accepted")
	}
	if _, err := e.CreateProject(ctx, ProjectCreateOptions{ProjectName: "X", Status: "bogus"}, Actor{ID: "u1"}); err == nil {
		t.Fatal("bogus status accepted")
	}
}
