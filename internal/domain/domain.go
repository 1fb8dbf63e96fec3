package domain

type Building struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address,omitempty"`
	Status    string `json:"status" enum:"active,archived"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Flat struct {
	ID         string  `json:"id"`
	BuildingID string  `json:"building_id"`
	Label      string  `json:"label"`
	Floor      *int    `json:"floor,omitempty"`
	OccupantID *string `json:"occupant_id,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type Ticket struct {
	ID            string   `json:"id"`
	BuildingID    string   `json:"building_id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Location      string   `json:"location,omitempty"`
	Urgency       string   `json:"urgency" enum:"Low,Medium,High,Critical"`
	Status        string   `json:"status" enum:"New Ticket,Manager Review,Quote Management,Work Order,Complete,Closed"`
	RequesterID   string   `json:"requester_id"`
	AssigneeID    *string  `json:"assignee_id,omitempty"`
	Attachments   []string `json:"attachments,omitempty"`
	ScheduledDate *string  `json:"scheduled_date,omitempty" format:"date-time"`
	CompletedDate *string  `json:"completed_date,omitempty" format:"date-time"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
	UpdatedAt     string   `json:"updated_at" format:"date-time"`
}

type WorkOrder struct {
	ID              string  `json:"id"`
	BuildingID      string  `json:"building_id"`
	FlatID          *string `json:"flat_id,omitempty"`
	TicketID        *string `json:"ticket_id,omitempty"`
	Title           string  `json:"title"`
	Description     string  `json:"description,omitempty"`
	Priority        string  `json:"priority" enum:"Low,Medium,High,Urgent"`
	Status          string  `json:"status" enum:"Triage,Quoting,Awaiting User Feedback,Scheduled,Resolved,Closed,Cancelled"`
	ScheduledDate   *string `json:"scheduled_date,omitempty" format:"date-time"`
	SupplierID      *string `json:"supplier_id,omitempty"`
	FeedbackRating  *int    `json:"feedback_rating,omitempty"`
	FeedbackComment *string `json:"feedback_comment,omitempty"`
	ResolutionNotes *string `json:"resolution_notes,omitempty"`
	ResolutionCost  *int64  `json:"resolution_cost,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

// Quote belongs to either a ticket or a work order (ParentKind + ParentID).
// Amount is in minor currency units.
type Quote struct {
	ID          string `json:"id"`
	ParentKind  string `json:"parent_kind" enum:"ticket,workorder"`
	ParentID    string `json:"parent_id"`
	SupplierID  string `json:"supplier_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" enum:"submitted,accepted,rejected"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Comment struct {
	ID        string `json:"id"`
	TicketID  string `json:"ticket_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID          string   `json:"id"`
	BuildingID  string   `json:"building_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Location    string   `json:"location,omitempty"`
	StartsAt    string   `json:"starts_at" format:"date-time"`
	EndsAt      string   `json:"ends_at" format:"date-time"`
	TicketID    *string  `json:"ticket_id,omitempty"`
	Assignees   []string `json:"assignees,omitempty"`
	Status      string   `json:"status" enum:"scheduled,in-progress,completed,cancelled"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

// PenaltyConfig describes how a late demand accrues a penalty. Amounts are in
// minor currency units; Percent applies to the outstanding balance.
type PenaltyConfig struct {
	FlatAmount int64   `json:"flat_amount,omitempty"`
	Percent    float64 `json:"percent,omitempty"`
	GraceDays  int     `json:"grace_days"`
	MaxAmount  int64   `json:"max_amount,omitempty"`
}

type ServiceChargeDemand struct {
	ID               string        `json:"id"`
	BuildingID       string        `json:"building_id"`
	FlatID           string        `json:"flat_id"`
	Period           string        `json:"period"`
	Rate             float64       `json:"rate,omitempty"`
	BaseAmount       int64         `json:"base_amount"`
	GroundRentAmount int64         `json:"ground_rent_amount,omitempty"`
	PenaltyAmount    int64         `json:"penalty_amount"`
	TotalDue         int64         `json:"total_due"`
	AmountPaid       int64         `json:"amount_paid"`
	Outstanding      int64         `json:"outstanding"`
	DueDate          string        `json:"due_date" format:"date-time"`
	Status           string        `json:"status" enum:"Issued,Partially Paid,Paid,Overdue"`
	RemindersSent    int           `json:"reminders_sent"`
	Penalty          PenaltyConfig `json:"penalty"`
	PenaltyAppliedAt *string       `json:"penalty_applied_at,omitempty" format:"date-time"`
	CreatedAt        string        `json:"created_at" format:"date-time"`
	UpdatedAt        string        `json:"updated_at" format:"date-time"`
}

// ActivityEntry is one append-only audit record. Payload carries structured
// detail keyed by action; entries are never edited or removed.
type ActivityEntry struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
	BuildingID  string `json:"building_id,omitempty"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	PerformedBy string `json:"performed_by"`
	Payload     string `json:"payload_json"`
}

type Notification struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Title       string  `json:"title"`
	Message     string  `json:"message"`
	Kind        string  `json:"kind"`
	BuildingID  string  `json:"building_id,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	DeliveredAt *string `json:"delivered_at,omitempty" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
