package domain

import "time"

// ClientStatus tracks where a visa application currently stands.
type ClientStatus string

const (
	ClientStatusPending    ClientStatus = "pending"
	ClientStatusInProgress ClientStatus = "in_progress"
	ClientStatusUnderReview ClientStatus = "under_review"
	ClientStatusApproved   ClientStatus = "approved"
	ClientStatusRejected   ClientStatus = "rejected"
	ClientStatusCompleted  ClientStatus = "completed"
)

// Client is a visa applicant managed by an agency.
type Client struct {
	ID        int64        `json:"id"`
	AgencyID  string       `json:"agencyId"`
	Name      string       `json:"name"`
	Email     string       `json:"email"`
	Phone     string       `json:"phone,omitempty"`
	VisaType  string       `json:"visaType"`
	Status    ClientStatus `json:"status"`
	Notes     string       `json:"notes,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// ClientStats is the per-agency applicant breakdown pushed to dashboards.
type ClientStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Approved   int `json:"approved"`
	Rejected   int `json:"rejected"`
}
