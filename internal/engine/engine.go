// Package engine coordinates workflow transitions: validation, the
// one-transaction-per-operation write path, audit events, and the
// post-commit notification fan-out.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"taxline/internal/blob"
	"taxline/internal/config"
	"taxline/internal/domain"
	"taxline/internal/events"
	"taxline/internal/notify"
	"taxline/internal/repo"
	"taxline/internal/status"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Notifier notify.Notifier
	Blob     blob.Store
	Now      func() time.Time
	Logger   *log.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

// Actor identifies who performs an operation. There is no ambient
// session state; every mutating call carries its actor explicitly.
type Actor struct {
	ID          string
	DisplayName string
}

func (a Actor) name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.ID
}

// ValidationError rejects an operation before any write happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IsLockedError reports whether err is the locked-project rejection.
func IsLockedError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve) && ve.Field == "is_locked"
}

func errLocked(projectID int64) error {
	return ValidationError{Field: "is_locked", Reason: fmt.Sprintf("project %d is locked", projectID)}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC() string { return e.now().UTC().Format(time.RFC3339) }

// eventWriter shares the engine clock so audit timestamps line up with
// the row timestamps written in the same transaction.
func (e Engine) eventWriter() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}
func (e Engine) today() string { return e.now().UTC().Format(status.DateLayout) }
func (e Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	ProjectName    string
	ClientID       *int64
	ClientName     string
	EngagementType string
	YearEnd        string
	Services       []string
	DateIn         *string
	DueDate        *string
	Preparer       []string
	Reviewer       *string
	Status         string
	Notes          string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions, actor Actor) (domain.Project, error) {
	if strings.TrimSpace(opts.ProjectName) == "" {
		return domain.Project{}, ValidationError{Field: "project_name", Reason: "required"}
	}
	if opts.Status != "" && !status.Valid(opts.Status) {
		return domain.Project{}, ValidationError{Field: "status", Reason: fmt.Sprintf("%q is not a recognized status", opts.Status)}
	}
	if opts.ClientID != nil && opts.ClientName == "" {
		c, err := e.Repo.GetClient(ctx, *opts.ClientID)
		if err != nil {
			return domain.Project{}, fmt.Errorf("resolve client %d: %w", *opts.ClientID, err)
		}
		opts.ClientName = c.FullName()
	}
	now := e.nowRFC()
	p := domain.Project{
		ProjectName:    strings.TrimSpace(opts.ProjectName),
		ClientID:       opts.ClientID,
		ClientName:     opts.ClientName,
		EngagementType: opts.EngagementType,
		YearEnd:        opts.YearEnd,
		Services:       opts.Services,
		DateIn:         opts.DateIn,
		DueDate:        opts.DueDate,
		Preparer:       opts.Preparer,
		Reviewer:       opts.Reviewer,
		Status:         opts.Status,
		Notes:          opts.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
		CreatedBy:      actor.ID,
		LastModifiedBy: actor.ID,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	id, err := e.Repo.InsertProjectTx(ctx, tx, p)
	if err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	p.ProjectID = id
	if err := e.eventWriter().Append(ctx, tx, "project.created", id, "project", fmt.Sprint(id), actor.ID, events.EventPayload{"project_name": p.ProjectName}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// UpdateProject applies a general field patch outside the workflow
// transitions. Workflow fields (status, lock, archive) have their own
// operations and are ignored here.
func (e Engine) UpdateProject(ctx context.Context, projectID int64, patch repo.ProjectPatch, actor Actor) (domain.Project, error) {
	patch.Status = nil
	patch.IsLocked = nil
	patch.ArchivedAt = nil
	patch.ToDoOrUpdate = nil
	patch.ClearNote = false
	return e.patchProject(ctx, projectID, "project.updated", nil, actor, func(p domain.Project) (repo.ProjectPatch, error) {
		return patch, nil
	})
}

// SetStatus moves a project to a new manual status. Equal-status calls
// are a no-op: nothing is persisted and nobody is notified. The note is
// stored only for the two note-bearing statuses and cleared otherwise.
func (e Engine) SetStatus(ctx context.Context, projectID int64, newStatus string, note *string, actor Actor) (domain.Project, error) {
	if !status.Valid(newStatus) {
		return domain.Project{}, ValidationError{Field: "status", Reason: fmt.Sprintf("%q is not a recognized status", newStatus)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.IsLocked {
		return domain.Project{}, errLocked(projectID)
	}
	if p.Status == newStatus {
		return p, nil
	}
	old := p.Status
	patch := repo.ProjectPatch{Status: &newStatus}
	if status.NoteBearing(newStatus) {
		if note != nil {
			patch.ToDoOrUpdate = note
		}
	} else {
		patch.ClearNote = true
	}
	now := e.nowRFC()
	if err := e.Repo.UpdateProjectTx(ctx, tx, projectID, patch, now, actor.ID); err != nil {
		return domain.Project{}, fmt.Errorf("update project: %w", err)
	}
	if err := e.eventWriter().Append(ctx, tx, "project.status.set", projectID, "project", fmt.Sprint(projectID), actor.ID,
		events.EventPayload{"old": old, "new": newStatus}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	p.Status = newStatus
	if status.NoteBearing(newStatus) {
		if note != nil {
			p.ToDoOrUpdate = note
		}
	} else {
		p.ToDoOrUpdate = nil
	}
	p.UpdatedAt = now
	p.LastModifiedBy = actor.ID
	e.notifyStakeholders(ctx, p, actor.ID, "Status updated",
		fmt.Sprintf("%s set %s to %q", actor.name(), p.ProjectName, newStatus))
	return p, nil
}

// ToggleLock flips the lock flag. There is no locked precondition; this
// is also the unlock path. Who may lock is the caller's concern.
func (e Engine) ToggleLock(ctx context.Context, projectID int64, actor Actor) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	next := !p.IsLocked
	now := e.nowRFC()
	if err := e.Repo.UpdateProjectTx(ctx, tx, projectID, repo.ProjectPatch{IsLocked: &next}, now, actor.ID); err != nil {
		return domain.Project{}, fmt.Errorf("update project: %w", err)
	}
	evtType := "project.locked"
	if !next {
		evtType = "project.unlocked"
	}
	if err := e.eventWriter().Append(ctx, tx, evtType, projectID, "project", fmt.Sprint(projectID), actor.ID, nil); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	p.IsLocked = next
	p.UpdatedAt = now
	p.LastModifiedBy = actor.ID
	verb := "locked"
	if !next {
		verb = "unlocked"
	}
	e.notifyStakeholders(ctx, p, actor.ID, "Project "+verb,
		fmt.Sprintf("%s %s %s", actor.name(), verb, p.ProjectName))
	return p, nil
}

// StartProject stamps date_in with today.
func (e Engine) StartProject(ctx context.Context, projectID int64, actor Actor) (domain.Project, error) {
	today := e.today()
	return e.patchProject(ctx, projectID, "project.started", nil, actor, func(p domain.Project) (repo.ProjectPatch, error) {
		return repo.ProjectPatch{DateIn: &today}, nil
	})
}

// FinishProject stamps date_completed with today. It does not touch the
// manual status; completion of the record is a separate SetStatus call.
func (e Engine) FinishProject(ctx context.Context, projectID int64, actor Actor) (domain.Project, error) {
	today := e.today()
	return e.patchProject(ctx, projectID, "project.finished", nil, actor, func(p domain.Project) (repo.ProjectPatch, error) {
		return repo.ProjectPatch{DateCompleted: &today}, nil
	})
}

// ArchiveProject closes out a project in one atomic patch: all statuses
// forced to their terminal values, archived_at and date_completed set.
func (e Engine) ArchiveProject(ctx context.Context, projectID int64, actor Actor) (domain.Project, error) {
	today := e.today()
	completed := status.Completed
	approved := "Approved"
	p, err := e.patchProject(ctx, projectID, "project.archived", nil, actor, func(p domain.Project) (repo.ProjectPatch, error) {
		return repo.ProjectPatch{
			Status:         &completed,
			ClientStatus:   &completed,
			PreparerStatus: &completed,
			ReviewerStatus: &approved,
			ArchivedAt:     &today,
			DateCompleted:  &today,
			ClearNote:      true,
		}, nil
	})
	if err != nil {
		return domain.Project{}, err
	}
	e.notifyStakeholders(ctx, p, actor.ID, "Project archived",
		fmt.Sprintf("%s archived %s", actor.name(), p.ProjectName))
	return p, nil
}

// SubStatusKinds are the per-role status dropdowns.
const (
	SubStatusClient   = "client"
	SubStatusPreparer = "preparer"
	SubStatusReviewer = "reviewer"
)

// SetSubStatus updates one of the client/preparer/reviewer sub-statuses.
// Sub-status values are free text; only the manual status has a fixed
// vocabulary.
func (e Engine) SetSubStatus(ctx context.Context, projectID int64, which, value string, actor Actor) (domain.Project, error) {
	var patch repo.ProjectPatch
	switch which {
	case SubStatusClient:
		patch.ClientStatus = &value
	case SubStatusPreparer:
		patch.PreparerStatus = &value
	case SubStatusReviewer:
		patch.ReviewerStatus = &value
	default:
		return domain.Project{}, ValidationError{Field: "sub_status", Reason: fmt.Sprintf("%q is not one of client, preparer, reviewer", which)}
	}
	p, err := e.patchProject(ctx, projectID, "project.substatus.set",
		events.EventPayload{"which": which, "value": value}, actor, func(p domain.Project) (repo.ProjectPatch, error) {
			return patch, nil
		})
	if err != nil {
		return domain.Project{}, err
	}
	e.notifyStakeholders(ctx, p, actor.ID, "Status updated",
		fmt.Sprintf("%s set %s status of %s to %q", actor.name(), which, p.ProjectName, value))
	return p, nil
}

// InvoicePatch carries billing fields; nil means keep.
type InvoicePatch struct {
	InvoiceNumber  *string
	Amount         *float64
	HSTAmount      *float64
	AmountReceived *float64
	Outstanding    *float64
	TimeUsed       *float64
	DateOfEfile    *string
}

func (e Engine) UpdateInvoice(ctx context.Context, projectID int64, inv InvoicePatch, actor Actor) (domain.Project, error) {
	return e.patchProject(ctx, projectID, "project.invoice.updated", nil, actor, func(p domain.Project) (repo.ProjectPatch, error) {
		return repo.ProjectPatch{
			InvoiceNumber:  inv.InvoiceNumber,
			Amount:         inv.Amount,
			HSTAmount:      inv.HSTAmount,
			AmountReceived: inv.AmountReceived,
			Outstanding:    inv.Outstanding,
			TimeUsed:       inv.TimeUsed,
			DateOfEfile:    inv.DateOfEfile,
		}, nil
	})
}

// AddComment appends a project comment. Comments are never edited.
func (e Engine) AddComment(ctx context.Context, projectID int64, body string, actor Actor) (domain.Comment, error) {
	if strings.TrimSpace(body) == "" {
		return domain.Comment{}, ValidationError{Field: "body", Reason: "required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Comment{}, err
	}
	if p.IsLocked {
		return domain.Comment{}, errLocked(projectID)
	}
	c := domain.Comment{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		AuthorID:   actor.ID,
		AuthorName: actor.name(),
		Body:       body,
		CreatedAt:  e.nowRFC(),
	}
	if err := e.Repo.InsertCommentTx(ctx, tx, c); err != nil {
		return domain.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	if err := e.eventWriter().Append(ctx, tx, "project.comment.added", projectID, "comment", c.ID, actor.ID, nil); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	e.notifyStakeholders(ctx, p, actor.ID, "New comment",
		fmt.Sprintf("%s commented on %s", actor.name(), p.ProjectName))
	return c, nil
}

// DocumentMeta describes an uploaded file whose bytes are already in
// the object store.
type DocumentMeta struct {
	FileName    string
	Category    string
	SizeBytes   int64
	ObjectKey   string
	ContentType string
}

// AttachDocument records document metadata. Versions count up per file
// name within a project.
func (e Engine) AttachDocument(ctx context.Context, projectID int64, meta DocumentMeta, actor Actor) (domain.Document, error) {
	if strings.TrimSpace(meta.FileName) == "" {
		return domain.Document{}, ValidationError{Field: "file_name", Reason: "required"}
	}
	if strings.TrimSpace(meta.ObjectKey) == "" {
		return domain.Document{}, ValidationError{Field: "object_key", Reason: "required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Document{}, err
	}
	if p.IsLocked {
		return domain.Document{}, errLocked(projectID)
	}
	version, err := e.Repo.NextDocumentVersion(ctx, tx, projectID, meta.FileName)
	if err != nil {
		return domain.Document{}, err
	}
	d := domain.Document{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		FileName:    meta.FileName,
		Category:    meta.Category,
		SizeBytes:   meta.SizeBytes,
		Version:     version,
		ObjectKey:   meta.ObjectKey,
		ContentType: meta.ContentType,
		UploadedBy:  actor.ID,
		UploadedAt:  e.nowRFC(),
	}
	if err := e.Repo.InsertDocumentTx(ctx, tx, d); err != nil {
		return domain.Document{}, fmt.Errorf("insert document: %w", err)
	}
	if err := e.eventWriter().Append(ctx, tx, "project.document.attached", projectID, "document", d.ID, actor.ID,
		events.EventPayload{"file_name": d.FileName, "version": d.Version}); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	e.notifyStakeholders(ctx, p, actor.ID, "Document uploaded",
		fmt.Sprintf("%s uploaded %s to %s", actor.name(), d.FileName, p.ProjectName))
	return d, nil
}

// Details is the assembled read model for one project.
type Details struct {
	Project            domain.Project
	DisplayStatus      status.Display
	StatusBucket       string
	OutstandingBalance float64
	ProgressPercent    float64
}

// ProjectDetails assembles the raw row with the derived display status,
// outstanding balance, and schedule progress. Legacy free-text statuses
// are tolerated via the bucket classifier.
func (e Engine) ProjectDetails(ctx context.Context, projectID int64) (Details, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return Details{}, err
	}
	return e.Describe(p), nil
}

// Describe derives the read model for an already loaded row.
func (e Engine) Describe(p domain.Project) Details {
	return Details{
		Project: p,
		DisplayStatus: status.Derive(status.DeriveInputs{
			ArchivedAt:     p.ArchivedAt,
			Status:         p.Status,
			ClientStatus:   p.ClientStatus,
			PreparerStatus: p.PreparerStatus,
			ReviewerStatus: p.ReviewerStatus,
		}),
		StatusBucket:       status.Bucket(p.Status),
		OutstandingBalance: status.OutstandingBalance(p.Outstanding, p.Amount, p.HSTAmount, p.AmountReceived),
		ProgressPercent:    status.Progress(p.DateIn, p.DueDate, e.now()),
	}
}

// ListProjectDetails is the dashboard read path.
func (e Engine) ListProjectDetails(ctx context.Context, f repo.ProjectFilter) ([]Details, error) {
	projects, err := e.Repo.ListProjects(ctx, f)
	if err != nil {
		return nil, err
	}
	res := make([]Details, 0, len(projects))
	for _, p := range projects {
		res = append(res, e.Describe(p))
	}
	return res, nil
}

// patchProject is the shared write path: one transaction, locked
// precondition, conditional patch, audit event, commit.
func (e Engine) patchProject(ctx context.Context, projectID int64, evtType string, payload events.EventPayload, actor Actor, build func(domain.Project) (repo.ProjectPatch, error)) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.IsLocked {
		return domain.Project{}, errLocked(projectID)
	}
	patch, err := build(p)
	if err != nil {
		return domain.Project{}, err
	}
	now := e.nowRFC()
	if err := e.Repo.UpdateProjectTx(ctx, tx, projectID, patch, now, actor.ID); err != nil {
		return domain.Project{}, fmt.Errorf("update project: %w", err)
	}
	if err := e.eventWriter().Append(ctx, tx, evtType, projectID, "project", fmt.Sprint(projectID), actor.ID, payload); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	updated, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	return updated, nil
}

// notifyStakeholders fans one notification out to preparer ∪ {reviewer}
// minus the acting user. Unknown profile ids are skipped. Failures are
// logged and never unwind the committed write.
func (e Engine) notifyStakeholders(ctx context.Context, p domain.Project, excludeActorID, title, message string) {
	if e.Notifier == nil {
		return
	}
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if id == "" || id == excludeActorID {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, id := range p.Preparer {
		add(id)
	}
	if p.Reviewer != nil {
		add(*p.Reviewer)
	}
	if len(ids) == 0 {
		return
	}
	profiles, err := e.Repo.GetProfiles(ctx, ids)
	if err != nil {
		e.logf("notify: resolve recipients for project %d: %v", p.ProjectID, err)
		return
	}
	if len(profiles) == 0 {
		return
	}
	if err := e.Notifier.Notify(ctx, profiles, title, message); err != nil {
		e.logf("notify: project %d: %v", p.ProjectID, err)
	}
}
