//go:build unit

package app_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/muratdemir0/gopulse-dispatch/internal/app"
	"github.com/muratdemir0/gopulse-dispatch/internal/domain"
)

var errStore = errors.New("store unavailable")

type memDirectory struct {
	registrants    map[string][]string
	eventsByType   map[string][]string
	ministryUsers  map[string][]string
	members        map[string]domain.Member
	events         map[string]domain.Event
	ministries     map[string]domain.Ministry
	eventMinistry  map[string]string
	church         *domain.Church
	materials      map[string]string
	memberErr      error
	memberLookups  int
	eventLookups   int
	ministryLookup []string
}

func newDirectory() *memDirectory {
	return &memDirectory{
		registrants:   map[string][]string{},
		eventsByType:  map[string][]string{},
		ministryUsers: map[string][]string{},
		members:       map[string]domain.Member{},
		events:        map[string]domain.Event{},
		ministries:    map[string]domain.Ministry{},
		eventMinistry: map[string]string{},
		materials:     map[string]string{},
	}
}

func (d *memDirectory) addMember(id, first, last, phone string) {
	d.members[id] = domain.Member{
		ID:        id,
		FirstName: nullString(first),
		LastName:  nullString(last),
		Phone:     nullString(phone),
	}
}

func (d *memDirectory) EventRegistrants(ctx context.Context, eventID string) ([]string, error) {
	return d.registrants[eventID], nil
}

func (d *memDirectory) EventsByType(ctx context.Context, eventTypes []string) ([]string, error) {
	var ids []string
	for _, t := range eventTypes {
		ids = append(ids, d.eventsByType[t]...)
	}
	return ids, nil
}

func (d *memDirectory) MinistryMembers(ctx context.Context, ministryID string) ([]string, error) {
	return d.ministryUsers[ministryID], nil
}

func (d *memDirectory) MemberPhones(ctx context.Context, memberIDs []string) (map[string]string, error) {
	out := map[string]string{}
	for _, id := range memberIDs {
		if m, ok := d.members[id]; ok && m.Phone.Valid {
			out[id] = m.Phone.String
		}
	}
	return out, nil
}

func (d *memDirectory) Member(ctx context.Context, id string) (*domain.Member, error) {
	d.memberLookups++
	if d.memberErr != nil {
		return nil, d.memberErr
	}
	m, ok := d.members[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &m, nil
}

func (d *memDirectory) Event(ctx context.Context, id string) (*domain.Event, error) {
	d.eventLookups++
	ev, ok := d.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &ev, nil
}

func (d *memDirectory) Ministry(ctx context.Context, id string) (*domain.Ministry, error) {
	d.ministryLookup = append(d.ministryLookup, id)
	m, ok := d.ministries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &m, nil
}

func (d *memDirectory) FirstMinistryForEvent(ctx context.Context, eventID string) (*domain.Ministry, error) {
	id, ok := d.eventMinistry[eventID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d.Ministry(ctx, id)
}

func (d *memDirectory) Church(ctx context.Context) (*domain.Church, error) {
	if d.church == nil {
		return nil, domain.ErrNotFound
	}
	return d.church, nil
}

func (d *memDirectory) EventMaterialURL(ctx context.Context, eventID string) (string, error) {
	url, ok := d.materials[eventID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return url, nil
}

type memRules struct {
	rules     map[string]domain.Rule
	templates map[string]domain.Template
}

func newRules() *memRules {
	return &memRules{rules: map[string]domain.Rule{}, templates: map[string]domain.Template{}}
}

func (r *memRules) GetRule(ctx context.Context, id string) (*domain.Rule, error) {
	rule, ok := r.rules[id]
	if !ok {
		return nil, domain.ErrRuleNotFound
	}
	return &rule, nil
}

func (r *memRules) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	tpl, ok := r.templates[id]
	if !ok {
		return nil, domain.ErrTemplateNotFound
	}
	return &tpl, nil
}

type scheduleRun struct {
	lastRun time.Time
	nextRun time.Time
}

type memSchedules struct {
	configs []domain.ScheduleConfig
	runs    map[string]scheduleRun
}

func (s *memSchedules) FindDue(ctx context.Context, now time.Time) ([]domain.ScheduleConfig, error) {
	var due []domain.ScheduleConfig
	for _, c := range s.configs {
		if c.Active && c.NextRun.Valid && !c.NextRun.Time.After(now) {
			due = append(due, c)
		}
	}
	return due, nil
}

func (s *memSchedules) UpdateRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	if s.runs == nil {
		s.runs = map[string]scheduleRun{}
	}
	s.runs[id] = scheduleRun{lastRun: lastRun, nextRun: nextRun}
	for i := range s.configs {
		if s.configs[i].ID == id {
			s.configs[i].LastRun = sql.NullTime{Time: lastRun, Valid: true}
			s.configs[i].NextRun = sql.NullTime{Time: nextRun, Valid: true}
		}
	}
	return nil
}

// memJobs mirrors the conditional updates of the postgres job repository.
type memJobs struct {
	mu        sync.Mutex
	jobs      map[string]*domain.Job
	order     []string
	insertErr error
}

func newJobs(jobs ...domain.Job) *memJobs {
	m := &memJobs{jobs: map[string]*domain.Job{}}
	for _, j := range jobs {
		m.put(j)
	}
	return m
}

func (m *memJobs) put(j domain.Job) {
	job := j
	m.jobs[j.ID] = &job
	m.order = append(m.order, j.ID)
}

func (m *memJobs) get(id string) domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

// reclaim hands the job to another claim token, as a concurrent worker would after a stale claim.
func (m *memJobs) reclaim(id, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].ClaimToken = nullString(token)
}

func (m *memJobs) all() []domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Job, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.jobs[id])
	}
	return out
}

func (m *memJobs) InsertJobs(ctx context.Context, jobs []domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	for _, j := range jobs {
		if _, dup := m.jobs[j.ID]; dup {
			return fmt.Errorf("duplicate job id %s", j.ID)
		}
		m.put(j)
	}
	return nil
}

func (m *memJobs) claimable(j *domain.Job, staleBefore time.Time) bool {
	switch j.Status {
	case domain.JobStatusPending, domain.JobStatusFailed:
		return true
	case domain.JobStatusProcessing:
		return !j.ClaimedAt.Valid || j.ClaimedAt.Time.Before(staleBefore)
	}
	return false
}

func (m *memJobs) FindProcessable(ctx context.Context, now, staleBefore time.Time, limit uint) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, id := range m.order {
		j := m.jobs[id]
		if m.claimable(j, staleBefore) && app.Eligible(j.ScheduledAt, j.Retries, now) {
			out = append(out, *j)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Retries != out[b].Retries {
			return out[a].Retries < out[b].Retries
		}
		return out[a].ScheduledAt.Add(app.Backoff(out[a].Retries)).Before(out[b].ScheduledAt.Add(app.Backoff(out[b].Retries)))
	})
	if uint(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobs) Claim(ctx context.Context, id, token string, now, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || !m.claimable(j, staleBefore) {
		return false, nil
	}
	j.Status = domain.JobStatusProcessing
	j.ClaimToken = nullString(token)
	j.ClaimedAt = sql.NullTime{Time: now, Valid: true}
	return true, nil
}

func (m *memJobs) owned(id, token string) (*domain.Job, error) {
	j, ok := m.jobs[id]
	if !ok || j.Status != domain.JobStatusProcessing || j.ClaimToken.String != token {
		return nil, domain.ErrClaimLost
	}
	return j, nil
}

func (m *memJobs) MarkSent(ctx context.Context, id, token, gatewayMessageID string, processedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.owned(id, token)
	if err != nil {
		return err
	}
	j.Status = domain.JobStatusSent
	j.GatewayMessageID = nullString(gatewayMessageID)
	j.ProcessedAt = sql.NullTime{Time: processedAt, Valid: true}
	j.LastError = sql.NullString{}
	j.ClaimToken = sql.NullString{}
	return nil
}

func (m *memJobs) MarkFailed(ctx context.Context, id, token, detail string, retries int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.owned(id, token)
	if err != nil {
		return err
	}
	j.Status = domain.JobStatusFailed
	j.LastError = nullString(detail)
	j.Retries = retries
	j.ClaimToken = sql.NullString{}
	return nil
}

func (m *memJobs) FindAwaitingAck(ctx context.Context, limit uint) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, id := range m.order {
		j := m.jobs[id]
		inFlight := j.Status == domain.JobStatusSent || j.Status == domain.JobStatusDelivered
		if inFlight && j.GatewayMessageID.String != "" && (j.Status != domain.JobStatusDelivered || !j.AckReceived) {
			out = append(out, *j)
		}
	}
	if uint(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobs) FindByGatewayMessageID(ctx context.Context, gatewayMessageID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		if j := m.jobs[id]; j.GatewayMessageID.String == gatewayMessageID {
			job := *j
			return &job, nil
		}
	}
	return nil, domain.ErrJobNotFound
}

func (m *memJobs) MarkDelivered(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status == domain.JobStatusDelivered {
		return false, nil
	}
	j.Status = domain.JobStatusDelivered
	return true, nil
}

func (m *memJobs) MarkAcknowledged(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.AckReceived {
		return false, nil
	}
	j.AckReceived = true
	j.AckReceivedAt = sql.NullTime{Time: at, Valid: true}
	return true, nil
}

func (m *memJobs) MarkFailedByGateway(ctx context.Context, id, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	j.Status = domain.JobStatusFailed
	j.LastError = nullString(detail)
	return nil
}

func (m *memJobs) ListByStatus(ctx context.Context, status string, limit, offset uint) ([]domain.Job, error) {
	var out []domain.Job
	for _, j := range m.all() {
		if status == "" || string(j.Status) == status {
			out = append(out, j)
		}
	}
	if offset >= uint(len(out)) {
		return nil, nil
	}
	out = out[offset:]
	if uint(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memLogs struct {
	mu      sync.Mutex
	entries []domain.LogEntry
}

func (l *memLogs) Append(ctx context.Context, entry domain.LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.ID = int64(len(l.entries) + 1)
	l.entries = append(l.entries, entry)
	return nil
}

func (l *memLogs) ListByJob(ctx context.Context, jobID string) ([]domain.LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.LogEntry
	for _, e := range l.entries {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *memLogs) actions(jobID string) []string {
	entries, _ := l.ListByJob(context.Background(), jobID)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

type memSettings struct {
	settings *domain.IntegrationSettings
	err      error
	calls    int
}

func (s *memSettings) IntegrationSettings(ctx context.Context, provider string) (*domain.IntegrationSettings, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.settings == nil || s.settings.Provider != provider {
		return nil, domain.ErrSettingsNotFound
	}
	return s.settings, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}
