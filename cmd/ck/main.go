package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caretaker/internal/app"
	"caretaker/internal/config"
	"caretaker/internal/db"
	"caretaker/internal/domain"
	"caretaker/internal/engine"
	"caretaker/internal/migrate"
	"caretaker/internal/notify"
	"caretaker/internal/repo"
	"caretaker/internal/server"
	"caretaker/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "ck",
	Short: "Caretaker CLI",
	Long: `Caretaker runs the workflows of a managed residential building.
- Workspace: your .caretaker directory holding the database; per-building config lives in the DB.
- Tickets: occupant issues that move New Ticket -> Manager Review -> Quote Management -> Work Order -> Complete (Closed exits from anywhere).
- Work orders: contractor jobs going Triage -> Quoting -> Awaiting User Feedback -> Scheduled -> Resolved -> Closed.
- Events: calendar entries for visits and inspections.
- Charges: service charge demands with payments, late penalties, and reminders.
- Activity log: the append-only diary of every change, view with 'ck log tail'.`,
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CARETAKER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("building", "", "building id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("building", rootCmd.PersistentFlags().Lookup("building"))
}

func registerCommands() {
	rootCmd.AddCommand(buildingCmd())
	rootCmd.AddCommand(flatCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(ticketCmd())
	rootCmd.AddCommand(workOrderCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(chargeCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func buildingCmd() *cobra.Command {
	b := &cobra.Command{Use: "building", Short: "Manage buildings"}
	b.AddCommand(buildingCreateCmd())
	b.AddCommand(buildingListCmd())
	b.AddCommand(buildingShowCmd())
	return b
}

func buildingCreateCmd() *cobra.Command {
	var id, name, address string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a building",
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
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			b, err := e.InitBuilding(cmd.Context(), id, name, address, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(b)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "building id")
	cmd.Flags().StringVar(&name, "name", "", "building name")
	cmd.Flags().StringVar(&address, "address", "", "postal address")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func buildingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List buildings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListBuildings(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func buildingShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active building",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.Repo.GetBuilding(ctx, e.Config.Building.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
}

func flatCmd() *cobra.Command {
	f := &cobra.Command{Use: "flat", Short: "Manage flats"}

	var label, occupant string
	var floor int
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a flat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				flat := domain.Flat{
					BuildingID: e.Config.Building.ID,
					Label:      label,
					OccupantID: optionalString(occupant),
				}
				if cmd.Flags().Changed("floor") {
					flat.Floor = &floor
				}
				out, err := e.CreateFlat(ctx, flat, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	add.Flags().StringVar(&label, "label", "", "flat label, e.g. 3B")
	add.Flags().IntVar(&floor, "floor", 0, "floor number")
	add.Flags().StringVar(&occupant, "occupant", "", "occupant user id")
	_ = add.MarkFlagRequired("label")
	f.AddCommand(add)

	f.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List flats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListFlats(ctx, e.Config.Building.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	return f
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Building dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				buildingID := e.Config.Building.ID
				tickets, err := e.Repo.CountTicketsByStatus(ctx, buildingID)
				if err != nil {
					return err
				}
				workOrders, err := e.Repo.CountWorkOrdersByStatus(ctx, buildingID)
				if err != nil {
					return err
				}
				outstanding, err := e.Repo.ListOutstandingDemands(ctx, buildingID)
				if err != nil {
					return err
				}
				var owed int64
				for _, d := range outstanding {
					owed += d.Outstanding
				}
				return printJSONOrTable(map[string]any{
					"building_id":         buildingID,
					"ticket_counts":       tickets,
					"work_order_counts":   workOrders,
					"unpaid_demands":      len(outstanding),
					"outstanding_charges": owed,
				})
			})
		},
	}
}

func ticketCmd() *cobra.Command {
	t := &cobra.Command{Use: "ticket", Short: "Manage tickets"}
	t.AddCommand(ticketCreateCmd())
	t.AddCommand(ticketListCmd())
	t.AddCommand(ticketShowCmd())
	t.AddCommand(ticketMoveCmd())
	t.AddCommand(ticketActionsCmd())
	t.AddCommand(ticketAssignCmd())
	t.AddCommand(ticketQuoteCmd())
	t.AddCommand(ticketCommentCmd())
	return t
}

func ticketCreateCmd() *cobra.Command {
	var title, description, location, urgency, requester string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a ticket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tk, err := e.CreateTicket(ctx, domain.Ticket{
					BuildingID:  e.Config.Building.ID,
					Title:       title,
					Description: description,
					Location:    location,
					Urgency:     urgency,
					RequesterID: requester,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(tk)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "ticket title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&location, "location", "", "location within the building")
	cmd.Flags().StringVar(&urgency, "urgency", "Medium", "Low, Medium, High or Critical")
	cmd.Flags().StringVar(&requester, "requester", "", "requesting user id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func ticketListCmd() *cobra.Command {
	var status, urgency string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTickets(ctx, repo.TicketFilters{
					BuildingID: e.Config.Building.ID,
					Status:     status,
					Urgency:    urgency,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Urgency", "Status", "Requester"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Urgency, t.Status, t.RequesterID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&urgency, "urgency", "", "urgency filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func ticketShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tk, err := e.Repo.GetTicket(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(tk)
			})
		},
	}
	return cmd
}

func ticketMoveCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Transition a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tk, err := e.TransitionTicket(ctx, args[0], to, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(tk)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target status")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func ticketActionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actions <id>",
		Short: "Show available transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tk, err := e.Repo.GetTicket(ctx, args[0])
				if err != nil {
					return err
				}
				actions := workflow.TicketActions(workflow.TicketStatus(tk.Status))
				if viper.GetBool("json") {
					return printJSON(actions)
				}
				if len(actions) == 0 {
					fmt.Printf("%s is terminal\n", tk.Status)
					return nil
				}
				for _, a := range actions {
					fmt.Printf("%-20s -> %s\n", a.Label, a.Target)
				}
				return nil
			})
		},
	}
}

func ticketAssignCmd() *cobra.Command {
	var assignee string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tk, err := e.AssignTicket(ctx, args[0], optionalString(assignee), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(tk)
			})
		},
	}
	cmd.Flags().StringVar(&assignee, "to", "", "assignee id (empty to unassign)")
	return cmd
}

func ticketQuoteCmd() *cobra.Command {
	q := &cobra.Command{Use: "quote", Short: "Manage ticket quotes"}

	var supplier, description string
	var amount int64
	add := &cobra.Command{
		Use:   "add <ticket-id>",
		Short: "Submit a quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.AddQuote(ctx, domain.Quote{
					ParentKind:  "ticket",
					ParentID:    args[0],
					SupplierID:  supplier,
					Amount:      amount,
					Description: description,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	add.Flags().StringVar(&supplier, "supplier", "", "supplier id")
	add.Flags().Int64Var(&amount, "amount", 0, "amount in pence")
	add.Flags().StringVar(&description, "description", "", "description")
	_ = add.MarkFlagRequired("supplier")
	_ = add.MarkFlagRequired("amount")
	q.AddCommand(add)

	q.AddCommand(&cobra.Command{
		Use:   "accept <quote-id>",
		Short: "Accept a quote (rejects siblings)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.AcceptQuote(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	})

	q.AddCommand(&cobra.Command{
		Use:   "list <ticket-id>",
		Short: "List quotes for a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListQuotes(ctx, "ticket", args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	return q
}

func ticketCommentCmd() *cobra.Command {
	var body string
	cmd := &cobra.Command{
		Use:   "comment <id>",
		Short: "Comment on a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddComment(ctx, args[0], body, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "comment body")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func workOrderCmd() *cobra.Command {
	w := &cobra.Command{Use: "workorder", Short: "Manage work orders"}
	w.AddCommand(workOrderCreateCmd())
	w.AddCommand(workOrderListCmd())
	w.AddCommand(workOrderMoveCmd())
	w.AddCommand(workOrderFeedbackCmd())
	w.AddCommand(workOrderResolveCmd())
	w.AddCommand(workOrderScheduleCmd())
	return w
}

func workOrderCreateCmd() *cobra.Command {
	var title, description, priority, ticketID, flatID, supplier string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a work order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wo, err := e.CreateWorkOrder(ctx, domain.WorkOrder{
					BuildingID:  e.Config.Building.ID,
					Title:       title,
					Description: description,
					Priority:    priority,
					TicketID:    optionalString(ticketID),
					FlatID:      optionalString(flatID),
					SupplierID:  optionalString(supplier),
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(wo)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "work order title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "Low, Medium, High or Urgent (derived from ticket urgency when omitted)")
	cmd.Flags().StringVar(&ticketID, "ticket", "", "originating ticket id")
	cmd.Flags().StringVar(&flatID, "flat", "", "flat id")
	cmd.Flags().StringVar(&supplier, "supplier", "", "supplier id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func workOrderListCmd() *cobra.Command {
	var status, priority string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListWorkOrders(ctx, repo.WorkOrderFilters{
					BuildingID: e.Config.Building.ID,
					Status:     status,
					Priority:   priority,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Priority", "Status", "Supplier"})
				for _, w := range items {
					supplier := ""
					if w.SupplierID != nil {
						supplier = *w.SupplierID
					}
					tw.AppendRow(table.Row{w.ID, w.Title, w.Priority, w.Status, supplier})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&priority, "priority", "", "priority filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func workOrderMoveCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Transition a work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wo, err := e.TransitionWorkOrder(ctx, args[0], to, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(wo)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target status")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func workOrderFeedbackCmd() *cobra.Command {
	var rating int
	var comment string
	cmd := &cobra.Command{
		Use:   "feedback <id>",
		Short: "Record occupant feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wo, err := e.RecordFeedback(ctx, args[0], rating, comment, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(wo)
			})
		},
	}
	cmd.Flags().IntVar(&rating, "rating", 0, "rating 1..5")
	cmd.Flags().StringVar(&comment, "comment", "", "feedback comment")
	_ = cmd.MarkFlagRequired("rating")
	return cmd
}

func workOrderResolveCmd() *cobra.Command {
	var notes string
	var cost int64
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve a work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var costPtr *int64
				if cmd.Flags().Changed("cost") {
					costPtr = &cost
				}
				wo, err := e.ResolveWorkOrder(ctx, args[0], notes, costPtr, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(wo)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "resolution notes")
	cmd.Flags().Int64Var(&cost, "cost", 0, "resolution cost in pence")
	return cmd
}

func workOrderScheduleCmd() *cobra.Command {
	var startsAt, endsAt string
	cmd := &cobra.Command{
		Use:   "schedule <id>",
		Short: "Schedule a visit for a work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ev, err := e.ScheduleEventForWorkOrder(ctx, args[0], "", startsAt, endsAt, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
	cmd.Flags().StringVar(&startsAt, "from", "", "visit start (RFC3339)")
	cmd.Flags().StringVar(&endsAt, "to", "", "visit end (RFC3339)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func eventCmd() *cobra.Command {
	ev := &cobra.Command{Use: "event", Short: "Manage calendar events"}

	var title, startsAt, endsAt, location, ticketID string
	create := &cobra.Command{
		Use:   "create",
		Short: "Schedule an event",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.CreateEvent(ctx, domain.Event{
					BuildingID: e.Config.Building.ID,
					Title:      title,
					Location:   location,
					StartsAt:   startsAt,
					EndsAt:     endsAt,
					TicketID:   optionalString(ticketID),
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	create.Flags().StringVar(&title, "title", "", "event title")
	create.Flags().StringVar(&startsAt, "from", "", "start (RFC3339)")
	create.Flags().StringVar(&endsAt, "to", "", "end (RFC3339)")
	create.Flags().StringVar(&location, "location", "", "location")
	create.Flags().StringVar(&ticketID, "ticket", "", "linked ticket id")
	_ = create.MarkFlagRequired("title")
	_ = create.MarkFlagRequired("from")
	_ = create.MarkFlagRequired("to")
	ev.AddCommand(create)

	var status, from, to string
	list := &cobra.Command{
		Use:   "list",
		Short: "List events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListEvents(ctx, repo.EventFilters{
					BuildingID: e.Config.Building.ID,
					Status:     status,
					From:       from,
					To:         to,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "status filter")
	list.Flags().StringVar(&from, "from", "", "window start (RFC3339)")
	list.Flags().StringVar(&to, "to", "", "window end (RFC3339)")
	ev.AddCommand(list)

	var target string
	move := &cobra.Command{
		Use:   "move <id>",
		Short: "Transition an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.TransitionEvent(ctx, args[0], target, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	move.Flags().StringVar(&target, "to", "", "target status")
	_ = move.MarkFlagRequired("to")
	ev.AddCommand(move)

	var newStart, newEnd string
	reschedule := &cobra.Command{
		Use:   "reschedule <id>",
		Short: "Move an event window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.UpdateEventSchedule(ctx, args[0], newStart, newEnd, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	reschedule.Flags().StringVar(&newStart, "from", "", "new start (RFC3339)")
	reschedule.Flags().StringVar(&newEnd, "to", "", "new end (RFC3339)")
	_ = reschedule.MarkFlagRequired("from")
	_ = reschedule.MarkFlagRequired("to")
	ev.AddCommand(reschedule)

	return ev
}

func chargeCmd() *cobra.Command {
	c := &cobra.Command{Use: "charge", Short: "Service charge demands"}
	c.AddCommand(chargeIssueCmd())
	c.AddCommand(chargeListCmd())
	c.AddCommand(chargePayCmd())
	c.AddCommand(chargePenaltyRunCmd())
	c.AddCommand(chargeRemindCmd())
	return c
}

func chargeIssueCmd() *cobra.Command {
	var flatID, period, dueDate string
	var base, groundRent int64
	var rate float64
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a demand",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.IssueDemand(ctx, domain.ServiceChargeDemand{
					FlatID:           flatID,
					Period:           period,
					BaseAmount:       base,
					GroundRentAmount: groundRent,
					Rate:             rate,
					DueDate:          dueDate,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&flatID, "flat", "", "flat id")
	cmd.Flags().StringVar(&period, "period", "", "billing period, e.g. 2024-H1")
	cmd.Flags().Int64Var(&base, "amount", 0, "base amount in pence")
	cmd.Flags().Int64Var(&groundRent, "ground-rent", 0, "ground rent in pence")
	cmd.Flags().Float64Var(&rate, "rate", 0, "apportionment rate for the flat")
	cmd.Flags().StringVar(&dueDate, "due", "", "due date (RFC3339)")
	_ = cmd.MarkFlagRequired("flat")
	_ = cmd.MarkFlagRequired("period")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("due")
	return cmd
}

func chargeListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List demands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListDemands(ctx, repo.DemandFilters{
					BuildingID: e.Config.Building.ID,
					Status:     status,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Flat", "Period", "Due", "Paid", "Outstanding", "Status", "Reminders"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.FlatID, d.Period, d.TotalDue, d.AmountPaid, d.Outstanding, d.Status, d.RemindersSent})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func chargePayCmd() *cobra.Command {
	var amount int64
	var reference string
	cmd := &cobra.Command{
		Use:   "pay <demand-id>",
		Short: "Record a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.RecordPayment(ctx, args[0], amount, reference, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount in pence")
	cmd.Flags().StringVar(&reference, "reference", "", "payment reference")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func chargePenaltyRunCmd() *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "penalty-run",
		Short: "Apply late penalties to overdue demands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				when := time.Now().UTC()
				if asOf != "" {
					parsed, err := time.Parse(time.RFC3339, asOf)
					if err != nil {
						return fmt.Errorf("invalid --as-of: %w", err)
					}
					when = parsed
				}
				applied, err := e.CheckAndApplyPenalties(ctx, e.Config.Building.ID, when, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Println("no penalties applied")
					return nil
				}
				return printJSONOrTable(applied)
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "evaluate lateness as of this time (RFC3339)")
	return cmd
}

func chargeRemindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remind <demand-id>",
		Short: "Send a payment reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.SendReminder(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Activity log",
		Long:  "The append-only diary of every change: transitions, payments, penalties, reminders.",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var action, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail activity entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Repo.ListActivity(ctx, n, 0, e.Config.Building.ID, action, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Action", "Entity", "By", "Description"})
				for _, entry := range entries {
					tw.AppendRow(table.Row{entry.TS, entry.Action, entry.EntityKind + "/" + entry.EntityID, entry.PerformedBy, entry.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&action, "action", "", "action filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Building configuration"}

	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show active config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default caretaker.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			buildingID := viper.GetString("building")
			if buildingID == "" {
				buildingID = "my-building"
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(buildingID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "import",
		Short: "Import caretaker.yml into the building config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.FromFile(config.Path(workspace))
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				buildingID, _, err := app.ResolveBuildingAndConfig(ctx, viper.GetString("building"), r)
				if err != nil {
					return err
				}
				cfg.Building.ID = buildingID
				if err := r.UpsertBuildingConfig(ctx, buildingID, cfg); err != nil {
					return err
				}
				fmt.Println("imported config for", buildingID)
				return nil
			})
		},
	})
	return c
}

func apiKeyCmd() *cobra.Command {
	c := &cobra.Command{Use: "apikey", Short: "API keys for the HTTP server"}

	var actor, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw, err := generateAPIKey()
				if err != nil {
					return err
				}
				key := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: actor,
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": raw})
				}
				fmt.Println("id: ", key.ID)
				fmt.Println("key:", raw)
				fmt.Println("The key is stored hashed and cannot be shown again.")
				return nil
			})
		},
	}
	create.Flags().StringVar(&actor, "actor", "", "actor id the key authenticates as")
	create.Flags().StringVar(&name, "name", "", "label, e.g. ci")
	_ = create.MarkFlagRequired("actor")
	c.AddCommand(create)

	var filterActor string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, filterActor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&filterActor, "actor", "", "actor filter")
	c.AddCommand(list)

	c.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	})
	return c
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "ck_" + hex.EncodeToString(buf), nil
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var withWebhooks bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			buildingID, cfg, err := app.ResolveBuildingAndConfig(cmd.Context(), viper.GetString("building"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			e.Notifier = notify.OutboxNotifier{Repo: r, BuildingID: buildingID}
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("CARETAKER_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("CARETAKER_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			if withWebhooks {
				notify.StartDispatcher(r, cfg)
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Caretaker API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&withWebhooks, "webhooks", true, "run the webhook dispatcher")
	return cmd
}

// --- helpers ---

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
	_, cfg, err := app.ResolveBuildingAndConfig(ctx, viper.GetString("building"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
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

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
