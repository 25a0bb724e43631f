package rest

import (
	"encoding/json"
	"time"

	"github.com/muratdemir0/gopulse-dispatch/internal/domain"
)

type JobResponse struct {
	ID               string          `json:"id"`
	RuleID           string          `json:"ruleId"`
	TemplateID       *string         `json:"templateId,omitempty"`
	TargetType       string          `json:"targetType"`
	TargetID         *string         `json:"targetId,omitempty"`
	RecipientPhone   string          `json:"recipientPhone"`
	Status           string          `json:"status"`
	Retries          int             `json:"retries"`
	ScheduledAt      string          `json:"scheduledAt"`
	ProcessedAt      *string         `json:"processedAt,omitempty"`
	AckReceived      bool            `json:"ackReceived"`
	AckReceivedAt    *string         `json:"ackReceivedAt,omitempty"`
	LastError        *string         `json:"lastError,omitempty"`
	GatewayMessageID *string         `json:"gatewayMessageId,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	CreatedAt        string          `json:"createdAt"`
}

type JobsListResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Count int           `json:"count"`
}

type LogEntryResponse struct {
	ID        int64           `json:"id"`
	Action    string          `json:"action"`
	Status    string          `json:"status"`
	Detail    string          `json:"detail"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt string          `json:"createdAt"`
}

type JobLogsResponse struct {
	JobID   string             `json:"jobId"`
	Entries []LogEntryResponse `json:"entries"`
}

func ToJobResponse(job domain.Job) JobResponse {
	resp := JobResponse{
		ID:             job.ID,
		RuleID:         job.RuleID,
		TargetType:     string(job.TargetType),
		RecipientPhone: job.RecipientPhone,
		Status:         string(job.Status),
		Retries:        job.Retries,
		ScheduledAt:    job.ScheduledAt.Format(time.RFC3339),
		AckReceived:    job.AckReceived,
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
	}

	if job.TemplateID.Valid {
		resp.TemplateID = &job.TemplateID.String
	}
	if job.TargetID.Valid {
		resp.TargetID = &job.TargetID.String
	}
	if job.ProcessedAt.Valid {
		processedAt := job.ProcessedAt.Time.Format(time.RFC3339)
		resp.ProcessedAt = &processedAt
	}
	if job.AckReceivedAt.Valid {
		ackAt := job.AckReceivedAt.Time.Format(time.RFC3339)
		resp.AckReceivedAt = &ackAt
	}
	if job.LastError.Valid {
		resp.LastError = &job.LastError.String
	}
	if job.GatewayMessageID.Valid {
		resp.GatewayMessageID = &job.GatewayMessageID.String
	}
	if payload, err := json.Marshal(job.Payload); err == nil {
		resp.Payload = payload
	}

	return resp
}

func ToJobResponses(jobs []domain.Job) []JobResponse {
	responses := make([]JobResponse, len(jobs))
	for i, job := range jobs {
		responses[i] = ToJobResponse(job)
	}
	return responses
}

func ToLogEntryResponses(entries []domain.LogEntry) []LogEntryResponse {
	responses := make([]LogEntryResponse, len(entries))
	for i, e := range entries {
		responses[i] = LogEntryResponse{
			ID:        e.ID,
			Action:    e.Action,
			Status:    string(e.Status),
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
		if len(e.Payload) > 0 {
			responses[i].Payload = json.RawMessage(e.Payload)
		}
	}
	return responses
}
