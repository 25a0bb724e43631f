package domain

import "database/sql"

// Member is a church member account (table user_account).
type Member struct {
	ID        string         `db:"id"`
	FirstName sql.NullString `db:"first_name"`
	LastName  sql.NullString `db:"last_name"`
	Nickname  sql.NullString `db:"nickname"`
	Phone     sql.NullString `db:"phone"`
	Birthdate sql.NullTime   `db:"birthdate"`
}

type Event struct {
	ID        string         `db:"id"`
	Name      sql.NullString `db:"name"`
	EventType sql.NullString `db:"event_type"`
	StartDate sql.NullTime   `db:"start_date"`
	Location  sql.NullString `db:"location"`
}

type Ministry struct {
	ID                  string         `db:"id"`
	Name                sql.NullString `db:"name"`
	WhatsappGroupNumber sql.NullString `db:"whatsapp_group_number"`
}

type Church struct {
	Name    sql.NullString `db:"name"`
	Address sql.NullString `db:"address"`
}

// IntegrationSettings is the stored gateway configuration for a provider.
type IntegrationSettings struct {
	Provider      string         `db:"provider"`
	BaseURL       sql.NullString `db:"base_url"`
	InstanceToken sql.NullString `db:"instance_token"`
	SendPath      sql.NullString `db:"send_path"`
	StatusPath    sql.NullString `db:"status_path"`
	WebhookSecret sql.NullString `db:"webhook_secret"`
	APIToken      sql.NullString `db:"api_token"`
}
