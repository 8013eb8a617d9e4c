package domain

import (
	"encoding/json"
	"time"
)

// Queue names for background jobs. Each queue carries its own retry policy.
const (
	QueueEmail       = "email"
	QueueAnalytics   = "analytics"
	QueueExports     = "exports"
	QueueBackup      = "backup"
	QueueMaintenance = "maintenance"
)

// JobType identifies the handler for a job payload.
type JobType string

const (
	JobNotifySubmitted    JobType = "notify_submitted"
	JobNotifyAssigned     JobType = "notify_assigned"
	JobNotifyStatusChange JobType = "notify_status_change"
	JobNotifyBreach       JobType = "notify_breach"
	JobSLASweep           JobType = "sla_sweep"
	JobExportRequests     JobType = "export_requests"
	JobBackupDatabase     JobType = "backup_database"
	JobRetentionCleanup   JobType = "retention_cleanup"
)

// Job is a queued unit of background work. Attempts is incremented when a
// worker claims the job; NextRunAt doubles as the visibility lease deadline
// while an attempt is in flight.
type Job struct {
	ID          string
	Queue       string
	Type        JobType
	Payload     json.RawMessage
	Attempts    int
	MaxAttempts int
	NextRunAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DeadLetter is the terminal record for a job that exhausted its retry
// budget. Dead letters are never resurrected automatically.
type DeadLetter struct {
	ID        string
	JobID     string
	Queue     string
	Type      JobType
	Payload   json.RawMessage
	Attempts  int
	LastError string
	CreatedAt time.Time
}
