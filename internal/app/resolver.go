package app

import (
	"context"
	"fmt"

	"github.com/muratdemir0/gopulse-dispatch/internal/domain"
)

type Recipient struct {
	// ID is a member id, or one of the placeholder ids for numbers without a member.
	ID    string
	Phone string
}

// Audience is a set of recipients that share the same job target.
type Audience struct {
	TargetType domain.TargetType
	TargetID   string
	Recipients []Recipient
}

type RecipientResolver struct {
	directory domain.Directory
}

func NewRecipientResolver(directory domain.Directory) *RecipientResolver {
	return &RecipientResolver{directory: directory}
}

// Resolve expands a rule configuration into audiences. A recipient reached
// through several targets is kept only in the first audience, and audiences
// left without a usable phone number are omitted.
func (r *RecipientResolver) Resolve(ctx context.Context, cfg domain.RuleConfig) ([]Audience, error) {
	var (
		audiences []Audience
		err       error
	)

	switch cfg.Scope() {
	case domain.ScopeEvent:
		audiences, err = r.eventAudiences(ctx, cfg.TargetIDs)
	case domain.ScopeEventType:
		audiences, err = r.eventTypeAudiences(ctx, cfg.EventTypes)
	case domain.ScopeMinistry:
		audiences, err = r.ministryAudiences(ctx, cfg)
	default:
		audiences = staticAudiences(cfg)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[Recipient]struct{})
	out := audiences[:0]
	for _, a := range audiences {
		recipients := make([]Recipient, 0, len(a.Recipients))
		for _, rc := range a.Recipients {
			if _, ok := seen[rc]; ok {
				continue
			}
			seen[rc] = struct{}{}
			recipients = append(recipients, rc)
		}
		if len(recipients) > 0 {
			a.Recipients = recipients
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *RecipientResolver) eventTypeAudiences(ctx context.Context, eventTypes []string) ([]Audience, error) {
	if len(eventTypes) == 0 {
		return nil, nil
	}
	eventIDs, err := r.directory.EventsByType(ctx, eventTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to find events by type: %w", err)
	}
	return r.eventAudiences(ctx, eventIDs)
}

func (r *RecipientResolver) eventAudiences(ctx context.Context, eventIDs []string) ([]Audience, error) {
	var audiences []Audience
	for _, eventID := range distinct(eventIDs) {
		memberIDs, err := r.directory.EventRegistrants(ctx, eventID)
		if err != nil {
			return nil, fmt.Errorf("failed to find registrants of event %s: %w", eventID, err)
		}
		recipients, err := r.memberRecipients(ctx, memberIDs)
		if err != nil {
			return nil, err
		}
		audiences = append(audiences, Audience{
			TargetType: domain.TargetTypeEvent,
			TargetID:   eventID,
			Recipients: recipients,
		})
	}
	return audiences, nil
}

func (r *RecipientResolver) ministryAudiences(ctx context.Context, cfg domain.RuleConfig) ([]Audience, error) {
	var audiences []Audience
	for _, ministryID := range distinct(cfg.TargetIDs) {
		memberIDs, err := r.directory.MinistryMembers(ctx, ministryID)
		if err != nil {
			return nil, fmt.Errorf("failed to find members of ministry %s: %w", ministryID, err)
		}
		recipients, err := r.memberRecipients(ctx, memberIDs)
		if err != nil {
			return nil, err
		}
		audiences = append(audiences, Audience{
			TargetType: domain.TargetTypeMinistry,
			TargetID:   ministryID,
			Recipients: recipients,
		})
	}

	if cfg.Mode() != domain.RecipientModeGroup {
		return audiences, nil
	}

	groupPhone := cfg.GroupPhone
	if groupPhone == "" && cfg.GroupMinistryID != "" {
		ministry, err := r.directory.Ministry(ctx, cfg.GroupMinistryID)
		if err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("failed to load group ministry %s: %w", cfg.GroupMinistryID, err)
		}
		if ministry != nil {
			groupPhone = ministry.WhatsappGroupNumber.String
		}
	}

	audiences = append(audiences, Audience{
		TargetType: domain.TargetTypeMinistry,
		TargetID:   cfg.GroupMinistryID,
		Recipients: sanitizeRecipients([]Recipient{{ID: domain.RecipientGroup, Phone: groupPhone}}),
	})
	return audiences, nil
}

func staticAudiences(cfg domain.RuleConfig) []Audience {
	var recipients []Recipient
	switch cfg.Mode() {
	case domain.RecipientModeSingle:
		recipients = []Recipient{{ID: domain.RecipientSingle, Phone: cfg.SinglePhone}}
	case domain.RecipientModeGroup:
		recipients = []Recipient{{ID: domain.RecipientGroup, Phone: cfg.GroupPhone}}
	case domain.RecipientModeMulti:
		for _, number := range cfg.ManualNumbers {
			recipients = append(recipients, Recipient{ID: domain.RecipientManual, Phone: number})
		}
	}

	return []Audience{{
		TargetType: domain.TargetTypeAll,
		Recipients: sanitizeRecipients(recipients),
	}}
}

func (r *RecipientResolver) memberRecipients(ctx context.Context, memberIDs []string) ([]Recipient, error) {
	memberIDs = distinct(memberIDs)
	if len(memberIDs) == 0 {
		return nil, nil
	}

	phones, err := r.directory.MemberPhones(ctx, memberIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load member phones: %w", err)
	}

	recipients := make([]Recipient, 0, len(memberIDs))
	for _, id := range memberIDs {
		recipients = append(recipients, Recipient{ID: id, Phone: phones[id]})
	}
	return sanitizeRecipients(recipients), nil
}

// sanitizeRecipients normalizes phones, drops empty ones and removes (id, phone) duplicates.
func sanitizeRecipients(recipients []Recipient) []Recipient {
	seen := make(map[Recipient]struct{}, len(recipients))
	out := make([]Recipient, 0, len(recipients))
	for _, rc := range recipients {
		rc.Phone = SanitizePhone(rc.Phone)
		if rc.Phone == "" {
			continue
		}
		if _, ok := seen[rc]; ok {
			continue
		}
		seen[rc] = struct{}{}
		out = append(out, rc)
	}
	return out
}

func distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
