package domain

import (
	"context"
	"time"
)

type ScheduleRepository interface {
	FindDue(ctx context.Context, now time.Time) ([]ScheduleConfig, error)
	UpdateRun(ctx context.Context, id string, lastRun, nextRun time.Time) error
}

type RuleRepository interface {
	GetRule(ctx context.Context, id string) (*Rule, error)
	GetTemplate(ctx context.Context, id string) (*Template, error)
}

type JobRepository interface {
	InsertJobs(ctx context.Context, jobs []Job) error
	FindProcessable(ctx context.Context, now, staleBefore time.Time, limit uint) ([]Job, error)
	Claim(ctx context.Context, id, token string, now, staleBefore time.Time) (bool, error)
	MarkSent(ctx context.Context, id, token, gatewayMessageID string, processedAt time.Time) error
	MarkFailed(ctx context.Context, id, token, detail string, retries int) error
	FindAwaitingAck(ctx context.Context, limit uint) ([]Job, error)
	FindByGatewayMessageID(ctx context.Context, gatewayMessageID string) (*Job, error)
	MarkDelivered(ctx context.Context, id string) (bool, error)
	MarkAcknowledged(ctx context.Context, id string, at time.Time) (bool, error)
	MarkFailedByGateway(ctx context.Context, id, detail string) error
	ListByStatus(ctx context.Context, status string, limit, offset uint) ([]Job, error)
}

type LogRepository interface {
	Append(ctx context.Context, entry LogEntry) error
	ListByJob(ctx context.Context, jobID string) ([]LogEntry, error)
}

// Directory is the read-only view over members, events and ministries.
type Directory interface {
	EventRegistrants(ctx context.Context, eventID string) ([]string, error)
	EventsByType(ctx context.Context, eventTypes []string) ([]string, error)
	MinistryMembers(ctx context.Context, ministryID string) ([]string, error)
	MemberPhones(ctx context.Context, memberIDs []string) (map[string]string, error)

	Member(ctx context.Context, id string) (*Member, error)
	Event(ctx context.Context, id string) (*Event, error)
	Ministry(ctx context.Context, id string) (*Ministry, error)
	FirstMinistryForEvent(ctx context.Context, eventID string) (*Ministry, error)
	Church(ctx context.Context) (*Church, error)
	EventMaterialURL(ctx context.Context, eventID string) (string, error)
}

type SettingsRepository interface {
	IntegrationSettings(ctx context.Context, provider string) (*IntegrationSettings, error)
}
