package model

import (
	"strings"
	"time"
)

// EntityKind distinguishes people from companies in the queue.
type EntityKind string

const (
	KindPerson  EntityKind = "person"
	KindCompany EntityKind = "company"
)

// Action is the latest recorded activity on an entity.
type Action struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NormalizedType folds case, spaces and hyphens so "No action taken" and
// "no_action_taken" compare equal.
func (a Action) NormalizedType() string {
	t := strings.ToLower(strings.TrimSpace(a.Type))
	t = strings.NewReplacer(" ", "_", "-", "_").Replace(t)
	return t
}

// Company is a workspace account.
type Company struct {
	ID            string     `json:"id" db:"id"`
	WorkspaceID   string     `json:"workspace_id" db:"workspace_id"`
	Name          string     `json:"name" db:"name"`
	Domain        string     `json:"domain,omitempty" db:"domain"`
	EmployeeCount *int       `json:"employee_count,omitempty" db:"employee_count"`
	FlaggedLarge  bool       `json:"flagged_large,omitempty" db:"flagged_large"`
	Revenue       *float64   `json:"revenue,omitempty" db:"revenue"`
	Stage         string     `json:"stage,omitempty" db:"stage"`
	DealValue     *float64   `json:"deal_value,omitempty" db:"deal_value"`
	Status        string     `json:"status,omitempty" db:"status"`
	LastAction    *Action    `json:"last_action,omitempty"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// Person is a workspace contact, optionally linked to a company.
type Person struct {
	ID          string    `json:"id" db:"id"`
	WorkspaceID string    `json:"workspace_id" db:"workspace_id"`
	CompanyID   string    `json:"company_id,omitempty" db:"company_id"`
	ExternalID  string    `json:"external_id,omitempty" db:"external_id"`
	FullName    string    `json:"full_name" db:"full_name"`
	Title       string    `json:"title,omitempty" db:"title"`
	Email       string    `json:"email,omitempty" db:"email"`
	Phone       string    `json:"phone,omitempty" db:"phone"`
	Status      string    `json:"status,omitempty" db:"status"`
	LastAction  *Action   `json:"last_action,omitempty"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// QueueState is the lifecycle position of an entity relative to the queue.
type QueueState string

const (
	StatePending  QueueState = "pending"
	StateExcluded QueueState = "excluded"
)

// EntityScore is a transient projection computed on every rebuild.
type EntityScore struct {
	EntityID        string     `json:"entity_id"`
	Kind            EntityKind `json:"entity_kind"`
	CompanyID       string     `json:"company_id,omitempty"`
	Score           float64    `json:"score"`
	CompanyScore    float64    `json:"company_score"`
	IndividualScore float64    `json:"individual_score,omitempty"`
	Eligible        bool       `json:"eligible_for_queue"`
	State           QueueState `json:"state"`
	Reason          string     `json:"reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ComputedAt      time.Time  `json:"last_computed_at"`
}
