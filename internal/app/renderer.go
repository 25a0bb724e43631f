package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/muratdemir0/gopulse-dispatch/internal/domain"
)

var tokenPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

const (
	dateLayout     = "02/01/2006"
	timeLayout     = "15:04"
	birthdayLayout = "02/01"
	isoDateLayout  = "2006-01-02"
)

// TemplateRenderer substitutes {placeholder} tokens with directory data for a job.
type TemplateRenderer struct {
	directory domain.Directory
	location  *time.Location
}

func NewTemplateRenderer(directory domain.Directory, location *time.Location) *TemplateRenderer {
	if location == nil {
		location = time.UTC
	}
	return &TemplateRenderer{directory: directory, location: location}
}

// Render resolves every distinct token once and replaces all of its occurrences.
// Unknown tokens and missing rows render as an empty string.
func (r *TemplateRenderer) Render(ctx context.Context, content string, job domain.Job) (string, error) {
	matches := tokenPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return content, nil
	}

	scope := &renderScope{renderer: r, job: job}
	values := make(map[string]string, len(matches))
	for _, m := range matches {
		name := m[1]
		if _, ok := values[name]; ok {
			continue
		}
		value, err := scope.resolve(ctx, name)
		if err != nil {
			return "", fmt.Errorf("failed to resolve {%s}: %w", name, err)
		}
		values[name] = value
	}

	return tokenPattern.ReplaceAllStringFunc(content, func(token string) string {
		return values[token[1:len(token)-1]]
	}), nil
}

// renderScope memoizes directory lookups for a single render.
type renderScope struct {
	renderer *TemplateRenderer
	job      domain.Job

	member     *domain.Member
	memberDone bool
	event      *domain.Event
	eventDone  bool
	church     *domain.Church
	churchDone bool
	link       *string
}

func (s *renderScope) resolve(ctx context.Context, name string) (string, error) {
	switch name {
	case "member_full_name":
		m, err := s.loadMember(ctx)
		if err != nil || m == nil {
			return "", err
		}
		return strings.TrimSpace(strings.Join(nonEmpty(m.FirstName.String, m.LastName.String), " ")), nil
	case "member_nickname":
		m, err := s.loadMember(ctx)
		if err != nil || m == nil {
			return "", err
		}
		return m.Nickname.String, nil
	case "member_phone":
		if s.job.Payload.RecipientPhone != "" {
			return s.job.Payload.RecipientPhone, nil
		}
		m, err := s.loadMember(ctx)
		if err != nil || m == nil {
			return "", err
		}
		return m.Phone.String, nil
	case "event_name":
		ev, err := s.loadEvent(ctx)
		if err != nil || ev == nil {
			return "", err
		}
		return ev.Name.String, nil
	case "event_date", "event_time":
		ev, err := s.loadEvent(ctx)
		if err != nil || ev == nil || !ev.StartDate.Valid {
			return "", err
		}
		local := ev.StartDate.Time.In(s.renderer.location)
		if name == "event_date" {
			return local.Format(dateLayout), nil
		}
		return local.Format(timeLayout), nil
	case "event_location_address":
		ev, err := s.loadEvent(ctx)
		if err != nil || ev == nil {
			return "", err
		}
		return ev.Location.String, nil
	case "event_link":
		return s.loadEventLink(ctx)
	case "ministry_name":
		return s.ministryName(ctx)
	case "church_name":
		c, err := s.loadChurch(ctx)
		if err != nil || c == nil {
			return "", err
		}
		return c.Name.String, nil
	case "church_address":
		c, err := s.loadChurch(ctx)
		if err != nil || c == nil {
			return "", err
		}
		return c.Address.String, nil
	case "birthday_date":
		m, err := s.loadMember(ctx)
		if err != nil || m == nil || !m.Birthdate.Valid {
			return "", err
		}
		// stored as a calendar date, never shifted
		return m.Birthdate.Time.UTC().Format(birthdayLayout), nil
	case "payment_date":
		return s.renderer.formatPayloadDate(s.job.Payload.PaymentDate), nil
	case "due_date":
		return s.renderer.formatPayloadDate(s.job.Payload.DueDate), nil
	default:
		return "", nil
	}
}

func (s *renderScope) targetID() string {
	if s.job.TargetID.Valid && s.job.TargetID.String != "" {
		return s.job.TargetID.String
	}
	if s.job.Payload.EventID != nil {
		return *s.job.Payload.EventID
	}
	return ""
}

func (s *renderScope) loadMember(ctx context.Context) (*domain.Member, error) {
	if s.memberDone {
		return s.member, nil
	}
	id := s.job.Payload.RecipientUserID
	if id == "" || isPlaceholderRecipient(id) {
		s.memberDone = true
		return nil, nil
	}
	m, err := s.renderer.directory.Member(ctx, id)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	s.member, s.memberDone = m, true
	return s.member, nil
}

func (s *renderScope) loadEvent(ctx context.Context) (*domain.Event, error) {
	if s.eventDone {
		return s.event, nil
	}
	id := s.targetID()
	if id == "" {
		s.eventDone = true
		return nil, nil
	}
	ev, err := s.renderer.directory.Event(ctx, id)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	s.event, s.eventDone = ev, true
	return s.event, nil
}

func (s *renderScope) loadChurch(ctx context.Context) (*domain.Church, error) {
	if s.churchDone {
		return s.church, nil
	}
	c, err := s.renderer.directory.Church(ctx)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	s.church, s.churchDone = c, true
	return s.church, nil
}

func (s *renderScope) loadEventLink(ctx context.Context) (string, error) {
	if s.link != nil {
		return *s.link, nil
	}
	var link string
	if id := s.targetID(); id != "" {
		found, err := s.renderer.directory.EventMaterialURL(ctx, id)
		if err != nil && !isNotFound(err) {
			return "", err
		}
		link = found
	}
	s.link = &link
	return link, nil
}

// ministryName walks the fallback chain and stops at the first source that has an id,
// even when that ministry turns out to have no name.
func (s *renderScope) ministryName(ctx context.Context) (string, error) {
	payload := s.job.Payload

	ministryID := payload.MinistryID
	if ministryID == "" && s.job.TargetType == domain.TargetTypeMinistry {
		ministryID = s.job.TargetID.String
	}
	if ministryID == "" {
		ministryID = payload.Config.GroupMinistryID
	}

	var (
		ministry *domain.Ministry
		err      error
	)
	switch {
	case ministryID != "":
		ministry, err = s.renderer.directory.Ministry(ctx, ministryID)
	case s.targetID() != "":
		ministry, err = s.renderer.directory.FirstMinistryForEvent(ctx, s.targetID())
	default:
		return "", nil
	}
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}
	if ministry == nil {
		return "", nil
	}
	return ministry.Name.String, nil
}

// formatPayloadDate renders a plain date as-is and converts full timestamps to the display timezone.
func (r *TemplateRenderer) formatPayloadDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if d, err := time.Parse(isoDateLayout, value); err == nil {
		return d.Format(dateLayout)
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.In(r.location).Format(dateLayout)
	}
	return ""
}

func isPlaceholderRecipient(id string) bool {
	switch id {
	case domain.RecipientSingle, domain.RecipientGroup, domain.RecipientManual:
		return true
	}
	return false
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
