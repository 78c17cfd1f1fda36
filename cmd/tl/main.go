package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taxline/internal/app"
	"taxline/internal/blob"
	"taxline/internal/config"
	"taxline/internal/db"
	"taxline/internal/domain"
	"taxline/internal/engine"
	"taxline/internal/migrate"
	"taxline/internal/notify"
	"taxline/internal/repo"
	"taxline/internal/server"
	"taxline/internal/status"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Taxline CLI",
	Long: `Taxline tracks an accounting firm's client engagements from intake to efile.
Core concepts:
- Workspace: the .taxline directory holding the database; firm config lives in
  taxline.yml and is mirrored into the DB on every run.
- Project: one engagement (a T1, an NTR, an estate) with a manual status from a
  fixed vocabulary, per-role sub-statuses, billing fields, and a lock flag.
- Display status: derived on every read from the stored fields, never stored.
- Lock: a locked project rejects every mutation except unlock.
- Notifications: status changes, comments, and uploads fan out to the preparer
  and reviewer named on the project; see 'tl notify list'.
- Event log: audit diary of every change, view with 'tl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TAXLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(statusCommand())
	rootCmd.AddCommand(lockCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(finishCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(substatusCmd())
	rootCmd.AddCommand(invoiceCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(staffCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(firmCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var (
		name, clientName, engagementType, yearEnd string
		services, preparer                        []string
		dateIn, dueDate, reviewer, stat, notes    string
		clientID                                  int64
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var cid *int64
				if clientID != 0 {
					cid = &clientID
				}
				p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
					ProjectName:    name,
					ClientID:       cid,
					ClientName:     clientName,
					EngagementType: engagementType,
					YearEnd:        yearEnd,
					Services:       services,
					DateIn:         optionalString(dateIn),
					DueDate:        optionalString(dueDate),
					Preparer:       preparer,
					Reviewer:       optionalString(reviewer),
					Status:         stat,
					Notes:          notes,
				}, currentActor(ctx, e.Repo))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().Int64Var(&clientID, "client-id", 0, "client id")
	cmd.Flags().StringVar(&clientName, "client-name", "", "client display name")
	cmd.Flags().StringVar(&engagementType, "type", "", "engagement type (T1, T2, NTR, ...)")
	cmd.Flags().StringVar(&yearEnd, "year-end", "", "fiscal year end")
	cmd.Flags().StringSliceVar(&services, "service", nil, "required service (repeatable)")
	cmd.Flags().StringVar(&dateIn, "date-in", "", "date work came in (YYYY-MM-DD)")
	cmd.Flags().StringVar(&dueDate, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&preparer, "preparer", nil, "preparer profile id (repeatable)")
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer profile id")
	cmd.Flags().StringVar(&stat, "status", "", "initial manual status")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilter
	var archived, active bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			if archived {
				f.Archived = &archived
			} else if active {
				no := false
				f.Archived = &no
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjectDetails(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Client", "Status", "Display", "Due", "Owing"})
				for _, d := range items {
					due := ""
					if d.Project.DueDate != nil {
						due = *d.Project.DueDate
					}
					tw.AppendRow(table.Row{
						d.Project.ProjectID, d.Project.ProjectName, d.Project.ClientName,
						d.Project.Status, d.DisplayStatus, due,
						fmt.Sprintf("%.2f", d.OutstandingBalance),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&archived, "archived", false, "only archived projects")
	cmd.Flags().BoolVar(&active, "active", false, "only active projects")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().Int64Var(&f.ClientID, "client-id", 0, "client filter")
	cmd.Flags().StringVar(&f.Preparer, "preparer", "", "preparer filter")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project with its derived status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.ProjectDetails(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var (
		name, clientName, engagementType, yearEnd string
		dateIn, dueDate, reviewer, notes          string
		services, preparer                        []string
		clientID                                  int64
	)
	cmd := &cobra.Command{
		Use:   "update <project-id>",
		Short: "Update project fields",
		Long:  "Updates descriptive fields only; status, lock, and archive have their own commands.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			var patch repo.ProjectPatch
			set := func(flag string, dst **string, v *string) {
				if cmd.Flags().Changed(flag) {
					*dst = v
				}
			}
			set("name", &patch.ProjectName, &name)
			set("client-name", &patch.ClientName, &clientName)
			set("type", &patch.EngagementType, &engagementType)
			set("year-end", &patch.YearEnd, &yearEnd)
			set("date-in", &patch.DateIn, &dateIn)
			set("due", &patch.DueDate, &dueDate)
			set("reviewer", &patch.Reviewer, &reviewer)
			set("notes", &patch.Notes, &notes)
			if cmd.Flags().Changed("client-id") {
				patch.ClientID = &clientID
			}
			if cmd.Flags().Changed("service") {
				patch.Services = &services
			}
			if cmd.Flags().Changed("preparer") {
				patch.Preparer = &preparer
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpdateProject(ctx, id, patch, currentActor(ctx, e.Repo))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().Int64Var(&clientID, "client-id", 0, "client id")
	cmd.Flags().StringVar(&clientName, "client-name", "", "client display name")
	cmd.Flags().StringVar(&engagementType, "type", "", "engagement type")
	cmd.Flags().StringVar(&yearEnd, "year-end", "", "fiscal year end")
	cmd.Flags().StringSliceVar(&services, "service", nil, "required service (repeatable)")
	cmd.Flags().StringVar(&dateIn, "date-in", "", "date work came in")
	cmd.Flags().StringVar(&dueDate, "due", "", "due date")
	cmd.Flags().StringSliceVar(&preparer, "preparer", nil, "preparer profile id (repeatable)")
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer profile id")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteProject(ctx, id)
			})
		},
	}
	return cmd
}

func statusCommand() *cobra.Command {
	st := &cobra.Command{Use: "status", Short: "Manual status"}
	st.AddCommand(statusSetCmd())
	st.AddCommand(statusValuesCmd())
	return st
}

func statusSetCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "set <project-id> <status>",
		Short: "Set the manual status",
		Long:  "The status must be one of the fixed vocabulary values; see 'tl status values'. A --note is kept only for the note-bearing statuses.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			var notePtr *string
			if cmd.Flags().Changed("note") {
				notePtr = &note
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetStatus(ctx, id, args[1], notePtr, currentActor(ctx, e.Repo))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "to-do note (kept for note-bearing statuses)")
	return cmd
}

func statusValuesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "values",
		Short: "List the accepted manual status values",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetBool("json") {
				return printJSON(status.Vocabulary)
			}
			for _, v := range status.Vocabulary {
				fmt.Println(v)
			}
			return nil
		},
	}
}

func lockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock <project-id>",
		Short: "Toggle the project lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ToggleLock(ctx, id, currentActor(ctx, e.Repo))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				state := "unlocked"
				if p.IsLocked {
					state = "locked"
				}
				fmt.Printf("Project %d is now %s\n", p.ProjectID, state)
				return nil
			})
		},
	}
	return cmd
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <project-id>",
		Short: "Stamp date_in with today",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.StartProject(ctx, id, currentActor(ctx, e.Repo))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func finishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finish <project-id>",
		Short: "Stamp date_completed with today",
		Long:  "Marks the work finished without touching the manual status; close out the record with 'tl archive' or 'tl status set'.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.FinishProject(ctx, id, currentActor(ctx, e.Repo))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func archiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <project-id>",
		Short: "Archive and close out a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ArchiveProject(ctx, id, currentActor(ctx, e.Repo))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func substatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "substatus <project-id> <client|preparer|reviewer> <value>",
		Short: "Set a per-role sub-status",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetSubStatus(ctx, id, args[1], args[2], currentActor(ctx, e.Repo))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func invoiceCmd() *cobra.Command {
	var (
		number, efileDate                  string
		amount, hst, received, outstanding float64
		timeUsed                           float64
	)
	cmd := &cobra.Command{
		Use:   "invoice <project-id>",
		Short: "Update billing fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			var inv engine.InvoicePatch
			if cmd.Flags().Changed("number") {
				inv.InvoiceNumber = &number
			}
			if cmd.Flags().Changed("amount") {
				inv.Amount = &amount
			}
			if cmd.Flags().Changed("hst") {
				inv.HSTAmount = &hst
			}
			if cmd.Flags().Changed("received") {
				inv.AmountReceived = &received
			}
			if cmd.Flags().Changed("outstanding") {
				inv.Outstanding = &outstanding
			}
			if cmd.Flags().Changed("time-used") {
				inv.TimeUsed = &timeUsed
			}
			if cmd.Flags().Changed("efile-date") {
				inv.DateOfEfile = &efileDate
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpdateInvoice(ctx, id, inv, currentActor(ctx, e.Repo))
				if err != nil {
					return err
				}
				d := e.Describe(p)
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("Project %d outstanding balance: %.2f\n", p.ProjectID, d.OutstandingBalance)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&number, "number", "", "invoice number")
	cmd.Flags().Float64Var(&amount, "amount", 0, "invoice amount")
	cmd.Flags().Float64Var(&hst, "hst", 0, "HST amount")
	cmd.Flags().Float64Var(&received, "received", 0, "amount received")
	cmd.Flags().Float64Var(&outstanding, "outstanding", 0, "explicit outstanding override")
	cmd.Flags().Float64Var(&timeUsed, "time-used", 0, "approximate hours used")
	cmd.Flags().StringVar(&efileDate, "efile-date", "", "date of efile/mail")
	return cmd
}

func commentCmd() *cobra.Command {
	c := &cobra.Command{Use: "comment", Short: "Project comments"}
	c.AddCommand(&cobra.Command{
		Use:   "add <project-id> <body>",
		Short: "Add a comment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				comment, err := e.AddComment(ctx, id, args[1], currentActor(ctx, e.Repo))
				if err != nil {
					return err
				}
				return printJSONOrTable(comment)
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "list <project-id>",
		Short: "List comments oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListComments(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				for _, c := range items {
					author := c.AuthorName
					if author == "" {
						author = c.AuthorID
					}
					fmt.Printf("[%s] %s: %s\n", c.CreatedAt, author, c.Body)
				}
				return nil
			})
		},
	})
	return c
}

func docCmd() *cobra.Command {
	d := &cobra.Command{Use: "doc", Short: "Project documents"}
	d.AddCommand(docAttachCmd())
	d.AddCommand(docListCmd())
	return d
}

func docAttachCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "attach <project-id> <file>",
		Short: "Upload a file to the object store and attach its metadata",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			fileName := filepathBase(args[1])
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if e.Blob == nil {
					return fmt.Errorf("object storage is not configured; set storage in taxline.yml")
				}
				key := fmt.Sprintf("projects/%d/%d/%s", id, time.Now().UnixNano(), fileName)
				if err := e.Blob.Put(ctx, key, bytes.NewReader(data), int64(len(data)), ""); err != nil {
					return err
				}
				doc, err := e.AttachDocument(ctx, id, engine.DocumentMeta{
					FileName:  fileName,
					Category:  category,
					SizeBytes: int64(len(data)),
					ObjectKey: key,
				}, currentActor(ctx, e.Repo))
				if err != nil {
					return err
				}
				return printJSONOrTable(doc)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "document category")
	return cmd
}

func docListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListDocuments(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "File", "Version", "Size", "Uploaded By", "Uploaded At"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.FileName, d.Version, d.SizeBytes, d.UploadedBy, d.UploadedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func clientCmd() *cobra.Command {
	c := &cobra.Command{Use: "client", Short: "Manage the client book"}
	c.AddCommand(clientAddCmd())
	c.AddCommand(clientListCmd())
	c.AddCommand(clientShowCmd())
	c.AddCommand(clientDeleteCmd())
	return c
}

func clientAddCmd() *cobra.Command {
	var first, last, company, email, phone string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			if first == "" && last == "" && company == "" {
				return fmt.Errorf("--first/--last or --company is required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				now := time.Now().UTC().Format(time.RFC3339)
				c := domain.Client{
					FirstName: first,
					LastName:  last,
					Company:   company,
					Email:     email,
					Phone:     phone,
					Status:    "Active",
					CreatedAt: now,
					UpdatedAt: now,
				}
				id, err := r.InsertClient(ctx, c)
				if err != nil {
					return err
				}
				c.ID = id
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&first, "first", "", "first name")
	cmd.Flags().StringVar(&last, "last", "", "last name")
	cmd.Flags().StringVar(&company, "company", "", "company name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&phone, "phone", "", "phone numbers")
	return cmd
}

func clientListCmd() *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListClients(ctx, search)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Company", "Email", "Status"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.FullName(), c.Company, c.Email, c.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "name, company, or email filter")
	return cmd
}

func clientShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <client-id>",
		Short: "Show a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid client id %q", args[0])
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				c, err := r.GetClient(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func clientDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <client-id>",
		Short: "Delete a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid client id %q", args[0])
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteClient(ctx, id)
			})
		},
	}
}

func notifyCmd() *cobra.Command {
	n := &cobra.Command{Use: "notify", Short: "Notification inbox"}
	n.AddCommand(notifyListCmd())
	n.AddCommand(notifyReadCmd())
	return n
}

func notifyListCmd() *cobra.Command {
	var unread bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your notifications, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListNotifications(ctx, viper.GetString("actor-id"), unread, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				for _, item := range items {
					marker := " "
					if !item.IsRead {
						marker = "*"
					}
					fmt.Printf("%s [%d] %s — %s\n", marker, item.ID, item.Title, item.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread")
	cmd.Flags().IntVar(&limit, "n", 50, "number of notifications")
	return cmd
}

func notifyReadCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "read [notification-id]",
		Short: "Mark notifications read",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID := viper.GetString("actor-id")
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if all {
					return r.MarkAllNotificationsRead(ctx, actorID)
				}
				if len(args) == 0 {
					return fmt.Errorf("a notification id or --all is required")
				}
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid notification id %q", args[0])
				}
				return r.MarkNotificationRead(ctx, id, actorID)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "mark everything read")
	return cmd
}

func staffCmd() *cobra.Command {
	s := &cobra.Command{Use: "staff", Short: "Staff directory"}
	s.AddCommand(staffAddCmd())
	s.AddCommand(staffListCmd())
	s.AddCommand(staffDeleteCmd())
	return s
}

func staffAddCmd() *cobra.Command {
	var id, first, last, email, role string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create or update a staff profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" || email == "" {
				return fmt.Errorf("--id and --email are required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				now := time.Now().UTC().Format(time.RFC3339)
				p := domain.Profile{
					ID:        id,
					FirstName: first,
					LastName:  last,
					Email:     strings.ToLower(strings.TrimSpace(email)),
					Role:      role,
					CreatedAt: now,
					UpdatedAt: now,
				}
				if err := r.UpsertProfile(ctx, p); err != nil {
					return err
				}
				stored, err := r.GetProfile(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(stored)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "profile id")
	cmd.Flags().StringVar(&first, "first", "", "first name")
	cmd.Flags().StringVar(&last, "last", "", "last name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&role, "role", "Staff", "role (Partner, Manager, Senior, Staff, Admin, Dev)")
	return cmd
}

func staffListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List staff profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProfiles(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Role"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.DisplayName(), p.Email, p.Role})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func staffDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <profile-id>",
		Short: "Delete a staff profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteProfile(ctx, args[0])
			})
		},
	}
}

func apikeyCmd() *cobra.Command {
	a := &cobra.Command{Use: "apikey", Short: "API keys"}
	a.AddCommand(apikeyCreateCmd())
	a.AddCommand(apikeyListCmd())
	a.AddCommand(apikeyDeleteCmd())
	return a
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the clear key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetProfile(ctx, actorID); err != nil {
					return err
				}
				clearKey, key := newAPIKey(actorID, name)
				if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "actor_id": key.ActorID, "key": clearKey})
				}
				fmt.Printf("API key %s for %s (store it now, it is not kept):\n%s\n", key.ID, key.ActorID, clearKey)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor-id", "", "actor the key authenticates as (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor-id", "", "filter by actor")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func firmCmd() *cobra.Command {
	f := &cobra.Command{Use: "firm", Short: "Firm configuration"}
	cfg := &cobra.Command{Use: "config", Short: "Manage firm config"}
	cfg.AddCommand(firmConfigInitCmd())
	cfg.AddCommand(firmConfigShowCmd())
	cfg.AddCommand(firmConfigImportCmd())
	f.AddCommand(cfg)
	return f
}

func firmConfigInitCmd() *cobra.Command {
	var firmName string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default taxline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(firmName)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&firmName, "firm-name", "Local Firm", "firm display name")
	return cmd
}

func firmConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved firm config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
}

func firmConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import firm config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertFirmConfig(ctx, cfg); err != nil {
					return err
				}
				if err := r.SeedRBAC(ctx, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	var projectID int64
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.ListEvents(ctx, projectID, evtType, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				for _, evt := range events {
					fmt.Printf("%s %-28s project=%d actor=%s %s\n", evt.TS, evt.Type, evt.ProjectID, evt.ActorID, evt.Payload)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().Int64Var(&projectID, "project-id", 0, "project filter (0 = firm-wide)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			cfg, err := app.ResolveFirmConfig(cmd.Context(), workspace, viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			wireChannels(cmd.Context(), &e, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("TAXLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyActor,
			}
			if authCfg.JWTSecret == "" && !allowLegacyActor {
				return fmt.Errorf("TAXLINE_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor-header)")
			}
			handler, err := server.New(cmd.Context(), server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Taxline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyActor, "allow-legacy-actor-header", false, "trust the X-Actor-Id header (local use only)")
	return cmd
}

// --- helpers ---

// wireChannels attaches the notification channels and object store the
// firm config asks for. Mail is only wired when a host is set; an
// unreachable object store degrades to metadata-only documents.
func wireChannels(ctx context.Context, e *engine.Engine, cfg *config.Config) {
	channels := notify.Multi{notify.InboxNotifier{Repo: e.Repo}}
	if mail := notify.NewMailNotifier(cfg.Notifications.Mail); mail != nil {
		channels = append(channels, mail)
	}
	e.Notifier = channels
	if cfg.Storage.Endpoint != "" {
		store, err := blob.NewMinioStore(ctx, blob.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			fmt.Printf("warning: object store unavailable: %v\n", err)
		} else {
			e.Blob = store
		}
	}
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	cfg, err := app.ResolveFirmConfig(ctx, workspace, viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	wireChannels(ctx, &e, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func currentActor(ctx context.Context, r repo.Repo) engine.Actor {
	id := viper.GetString("actor-id")
	actor := engine.Actor{ID: id}
	if p, err := r.GetProfile(ctx, id); err == nil {
		actor.DisplayName = p.DisplayName()
	}
	return actor
}

func parseProjectID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid project id %q", arg)
	}
	return id, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAPIKey(actorID, name string) (string, domain.APIKey) {
	clearKey := "tlk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(clearKey),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	return clearKey, key
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func filepathBase(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}
