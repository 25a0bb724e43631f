package domain

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx/types"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSent       JobStatus = "sent"
	JobStatusDelivered  JobStatus = "delivered"
	JobStatusFailed     JobStatus = "failed"
)

type TargetType string

const (
	TargetTypeAll      TargetType = "all"
	TargetTypeEvent    TargetType = "event"
	TargetTypeMinistry TargetType = "ministry"
)

// Targeting scopes accepted in a rule config.
const (
	ScopeAll       = "all"
	ScopeEvent     = "event"
	ScopeEventType = "event_type"
	ScopeMinistry  = "ministry"
)

// Recipient modes accepted in a rule config.
const (
	RecipientModeSingle = "single"
	RecipientModeGroup  = "group"
	RecipientModeMulti  = "multi"
)

// Placeholder recipient ids for numbers that do not belong to a member.
const (
	RecipientSingle = "single"
	RecipientGroup  = "group"
	RecipientManual = "manual"
)

// Log actions written to dispatch_log.
const (
	LogActionProcessing = "processing"
	LogActionSent       = "sent"
	LogActionError      = "error"
	LogActionDelivered  = "delivered"
	LogActionAck        = "ack"
)

// StringList decodes a JSON array whose elements may be strings, numbers or
// booleans, keeping every element as its string form. Nulls and empty strings
// are dropped.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		// anything that is not an array is treated as absent
		*l = nil
		return nil
	}

	out := make(StringList, 0, len(raw))
	for _, v := range raw {
		s := scalarString(v)
		if s != "" {
			out = append(out, s)
		}
	}
	*l = out
	return nil
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// RuleConfig is the targeting configuration of a dispatch rule.
type RuleConfig struct {
	TargetScope     string     `json:"target_scope,omitempty"`
	TargetIDs       StringList `json:"target_ids,omitempty"`
	EventTypes      StringList `json:"event_types,omitempty"`
	RecipientMode   string     `json:"recipient_mode,omitempty"`
	SinglePhone     string     `json:"single_phone,omitempty"`
	GroupPhone      string     `json:"group_phone,omitempty"`
	GroupMinistryID string     `json:"group_ministry_id,omitempty"`
	ManualNumbers   StringList `json:"manual_numbers,omitempty"`
}

// Scope returns the configured scope, defaulting to "all".
func (c RuleConfig) Scope() string {
	if c.TargetScope == "" {
		return ScopeAll
	}
	return c.TargetScope
}

// Mode returns the configured recipient mode, defaulting to "multi".
func (c RuleConfig) Mode() string {
	if c.RecipientMode == "" {
		return RecipientModeMulti
	}
	return c.RecipientMode
}

func (c RuleConfig) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *RuleConfig) Scan(src any) error {
	return scanJSON(src, c)
}

type Rule struct {
	ID         string         `db:"id"`
	Type       string         `db:"type"`
	TemplateID sql.NullString `db:"template_id"`
	Config     types.JSONText `db:"config"`
}

// DecodeConfig parses the rule's stored configuration.
func (r Rule) DecodeConfig() (RuleConfig, error) {
	var cfg RuleConfig
	if len(r.Config) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(r.Config, &cfg); err != nil {
		return RuleConfig{}, fmt.Errorf("decode config of rule %s: %w", r.ID, err)
	}
	return cfg, nil
}

type ScheduleConfig struct {
	ID             string       `db:"id"`
	DispatchRuleID string       `db:"dispatch_rule_id"`
	SendTime       string       `db:"send_time"`
	Timezone       string       `db:"timezone"`
	Active         bool         `db:"active"`
	LastRun        sql.NullTime `db:"last_run"`
	NextRun        sql.NullTime `db:"next_run"`
}

// JobPayload is the snapshot captured when a job is expanded. It is never
// rewritten after insert.
type JobPayload struct {
	RuleType        string     `json:"rule_type"`
	Config          RuleConfig `json:"config"`
	RecipientUserID string     `json:"recipient_user_id"`
	RecipientPhone  string     `json:"recipient_phone"`
	EventID         *string    `json:"event_id"`
	MinistryID      string     `json:"ministry_id,omitempty"`
	PaymentDate     string     `json:"payment_date,omitempty"`
	DueDate         string     `json:"due_date,omitempty"`
}

func (p JobPayload) Value() (driver.Value, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *JobPayload) Scan(src any) error {
	return scanJSON(src, p)
}

type Job struct {
	ID               string         `db:"id"`
	RuleID           string         `db:"rule_id"`
	TemplateID       sql.NullString `db:"template_id"`
	TargetType       TargetType     `db:"target_type"`
	TargetID         sql.NullString `db:"target_id"`
	RecipientPhone   string         `db:"recipient_phone"`
	Payload          JobPayload     `db:"payload"`
	Status           JobStatus      `db:"status"`
	Retries          int            `db:"retries"`
	ScheduledAt      time.Time      `db:"scheduled_at"`
	ProcessedAt      sql.NullTime   `db:"processed_at"`
	RequiresAck      bool           `db:"requires_ack"`
	AckReceived      bool           `db:"ack_received"`
	AckReceivedAt    sql.NullTime   `db:"ack_received_at"`
	LastError        sql.NullString `db:"last_error"`
	GatewayMessageID sql.NullString `db:"gateway_message_id"`
	ClaimToken       sql.NullString `db:"claim_token"`
	ClaimedAt        sql.NullTime   `db:"claimed_at"`
	CreatedAt        time.Time      `db:"created_at"`
}

type LogEntry struct {
	ID        int64          `db:"id"`
	JobID     string         `db:"job_id"`
	Action    string         `db:"action"`
	Status    JobStatus      `db:"status"`
	Detail    string         `db:"detail"`
	Payload   types.JSONText `db:"payload"`
	CreatedAt time.Time      `db:"created_at"`
}

type Template struct {
	ID      string `db:"id"`
	Name    string `db:"name"`
	Content string `db:"content"`
}

func scanJSON(src any, dest any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported json source type %T", src)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dest)
}
