package models

import "time"

type ReportStatus string

const (
	ReportOpen      ReportStatus = "open"
	ReportResolved  ReportStatus = "resolved"
	ReportDismissed ReportStatus = "dismissed"
)

type ReportTarget string

const (
	TargetThread ReportTarget = "thread"
	TargetPost   ReportTarget = "post"
	TargetUser   ReportTarget = "user"
)

func (t ReportTarget) Valid() bool {
	return t == TargetThread || t == TargetPost || t == TargetUser
}

type Report struct {
	ID             int          `gorm:"primaryKey" json:"id"`
	ReporterID     int          `gorm:"index;not null" json:"reporter_id"`
	Reporter       User         `gorm:"foreignKey:ReporterID" json:"-"`
	TargetType     ReportTarget `gorm:"size:16;not null;index:idx_report_target" json:"target_type"`
	TargetID       int          `gorm:"not null;index:idx_report_target" json:"target_id"`
	Reason         string       `gorm:"size:500;not null" json:"reason"`
	Status         ReportStatus `gorm:"size:16;not null;default:open;index" json:"status"`
	ResolverID     *int         `json:"resolver_id,omitempty"`
	ResolutionNote string       `gorm:"size:1000" json:"resolution_note,omitempty"`
	ResolvedAt     *time.Time   `json:"resolved_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}
