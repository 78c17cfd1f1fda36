package domain

// Project is the workflow-relevant engagement record. Date fields are stored
// as YYYY-MM-DD strings; timestamps as RFC3339.
type Project struct {
	ProjectID      int64    `json:"project_id"`
	ProjectName    string   `json:"project_name"`
	ClientID       *int64   `json:"client_id,omitempty"`
	ClientName     string   `json:"client_name,omitempty"`
	EngagementType string   `json:"engagement_type,omitempty"`
	YearEnd        string   `json:"year_end,omitempty"`
	Services       []string `json:"services_required,omitempty"`

	DateIn        *string `json:"date_in,omitempty" format:"date"`
	DateCompleted *string `json:"date_completed,omitempty" format:"date"`
	DueDate       *string `json:"due_date,omitempty" format:"date"`

	Preparer []string `json:"preparer,omitempty"`
	Reviewer *string  `json:"reviewer,omitempty"`

	Status         string  `json:"status,omitempty"`
	ClientStatus   string  `json:"client_status,omitempty"`
	PreparerStatus string  `json:"preparer_status,omitempty"`
	ReviewerStatus string  `json:"reviewer_status,omitempty"`
	ToDoOrUpdate   *string `json:"to_do_or_update,omitempty"`
	IsLocked       bool    `json:"is_locked"`
	ArchivedAt     *string `json:"archived_at,omitempty" format:"date"`

	InvoiceNumber  *string  `json:"invoice_number,omitempty"`
	Amount         *float64 `json:"amount,omitempty"`
	HSTAmount      *float64 `json:"hst_amount,omitempty"`
	AmountReceived *float64 `json:"amount_received,omitempty"`
	Outstanding    *float64 `json:"outstanding,omitempty"`
	TimeUsed       *float64 `json:"approximated_actual_time_used,omitempty"`
	DateOfEfile    *string  `json:"date_of_efile_mail,omitempty"`

	Notes          string `json:"notes,omitempty"`
	CreatedAt      string `json:"created_at" format:"date-time"`
	UpdatedAt      string `json:"updated_at" format:"date-time"`
	CreatedBy      string `json:"created_by,omitempty"`
	LastModifiedBy string `json:"last_modified_by,omitempty"`
}

// Client is a contact record in the firm's client book.
type Client struct {
	ID          int64  `json:"id"`
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
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// FullName joins the name parts, falling back to the company name.
func (c Client) FullName() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{c.Title, c.FirstName, c.MiddleName, c.LastName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		if c.Company != "" {
			return c.Company
		}
		return "Unknown Client"
	}
	name := parts[0]
	for _, p := range parts[1:] {
		name += " " + p
	}
	return name
}

// Profile is a staff directory entry.
type Profile struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email"`
	Role      string `json:"role,omitempty" enum:"Partner,Manager,Senior,Staff,Admin,Dev"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// DisplayName prefers "First Last", falling back to email.
func (p Profile) DisplayName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	default:
		return p.Email
	}
}

// Notification is an in-app inbox entry.
type Notification struct {
	ID        int64  `json:"id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	IsRead    bool   `json:"is_read"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Comment is an append-only project note.
type Comment struct {
	ID         string `json:"id"`
	ProjectID  int64  `json:"project_id"`
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name,omitempty"`
	Body       string `json:"body"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// Document is uploaded-file metadata; the bytes live in the object store.
type Document struct {
	ID          string `json:"id"`
	ProjectID   int64  `json:"project_id"`
	FileName    string `json:"file_name"`
	Category    string `json:"category,omitempty"`
	SizeBytes   int64  `json:"size_bytes"`
	Version     int    `json:"version"`
	ObjectKey   string `json:"object_key"`
	ContentType string `json:"content_type,omitempty"`
	UploadedBy  string `json:"uploaded_by"`
	UploadedAt  string `json:"uploaded_at" format:"date-time"`
}

// Event is an audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  int64  `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload,omitempty"`
}

// APIKey authenticates API callers; only the hash is stored.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
