package server

import (
	"encoding/json"

	"taxline/internal/domain"
	"taxline/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	ProjectName    string   `json:"project_name"`
	ClientID       *int64   `json:"client_id,omitempty"`
	ClientName     string   `json:"client_name,omitempty"`
	EngagementType string   `json:"engagement_type,omitempty"`
	YearEnd        string   `json:"year_end,omitempty"`
	Services       []string `json:"services_required,omitempty"`
	DateIn         *string  `json:"date_in,omitempty" format:"date"`
	DueDate        *string  `json:"due_date,omitempty" format:"date"`
	Preparer       []string `json:"preparer,omitempty"`
	Reviewer       *string  `json:"reviewer,omitempty"`
	Status         string   `json:"status,omitempty"`
	Notes          string   `json:"notes,omitempty"`
}

type UpdateProjectRequest struct {
	ProjectName    *string   `json:"project_name,omitempty"`
	ClientID       *int64    `json:"client_id,omitempty"`
	ClientName     *string   `json:"client_name,omitempty"`
	EngagementType *string   `json:"engagement_type,omitempty"`
	YearEnd        *string   `json:"year_end,omitempty"`
	Services       *[]string `json:"services_required,omitempty"`
	DateIn         *string   `json:"date_in,omitempty" format:"date"`
	DueDate        *string   `json:"due_date,omitempty" format:"date"`
	Preparer       *[]string `json:"preparer,omitempty"`
	Reviewer       *string   `json:"reviewer,omitempty"`
	Notes          *string   `json:"notes,omitempty"`
}

type SetStatusRequest struct {
	Status string  `json:"status"`
	Note   *string `json:"note,omitempty"`
}

type SetSubStatusRequest struct {
	Value string `json:"value"`
}

type UpdateInvoiceRequest struct {
	InvoiceNumber  *string  `json:"invoice_number,omitempty"`
	Amount         *float64 `json:"amount,omitempty"`
	HSTAmount      *float64 `json:"hst_amount,omitempty"`
	AmountReceived *float64 `json:"amount_received,omitempty"`
	Outstanding    *float64 `json:"outstanding,omitempty"`
	TimeUsed       *float64 `json:"approximated_actual_time_used,omitempty"`
	DateOfEfile    *string  `json:"date_of_efile_mail,omitempty" format:"date"`
}

type AddCommentRequest struct {
	Body string `json:"body"`
}

type UploadDocumentRequest struct {
	FileName    string `json:"file_name"`
	Category    string `json:"category,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Content     []byte `json:"content"`
}

type ClientRequest struct {
	Title       string `json:"title,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	MiddleName  string `json:"middle_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Company     string `json:"company,omitempty"`
	Phone       string `json:"phone_numbers,omitempty"`
	Mobile      string `json:"mobile,omitempty"`
	Email       string `json:"email,omitempty"`
	BillAddress string `json:"bill_address,omitempty"`
	ShipAddress string `json:"ship_address,omitempty"`
	Status      string `json:"status,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

type UpsertProfileRequest struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email"`
	Role      string `json:"role" enum:"Partner,Manager,Senior,Staff,Admin,Dev"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Name        string   `json:"name,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

// ProjectResponse is the stored row plus the derived read-model fields.
type ProjectResponse struct {
	domain.Project
	DisplayStatus      string  `json:"display_status"`
	StatusBucket       string  `json:"status_bucket"`
	OutstandingBalance float64 `json:"outstanding_balance"`
	ProgressPercent    float64 `json:"progress_percent"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  int64          `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	// Key is only populated on creation; it is never stored in clear.
	Key string `json:"key,omitempty"`
}

type DocumentResponse struct {
	domain.Document
	DownloadURL string `json:"download_url,omitempty"`
}

type MeResponse struct {
	ActorID     string   `json:"actor_id"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

// Conversion helpers

func projectResponse(d engine.Details) ProjectResponse {
	return ProjectResponse{
		Project:            d.Project,
		DisplayStatus:      string(d.DisplayStatus),
		StatusBucket:       d.StatusBucket,
		OutstandingBalance: d.OutstandingBalance,
		ProgressPercent:    d.ProgressPercent,
	}
}

func mapProjects(items []engine.Details) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, d := range items {
		res = append(res, projectResponse(d))
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}
