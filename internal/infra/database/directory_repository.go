package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/muratdemir0/gopulse-dispatch/internal/adapters/db"
	"github.com/muratdemir0/gopulse-dispatch/internal/domain"
)

// DirectoryRepository reads members, events, ministries and church data. It never writes.
type DirectoryRepository struct {
	db *db.Client
}

func NewDirectoryRepository(db *db.Client) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

func (r *DirectoryRepository) EventRegistrants(ctx context.Context, eventID string) ([]string, error) {
	ds := goqu.From(registrationTable).
		Select("user_id").
		Distinct().
		Where(goqu.Ex{"event_id": eventID}).
		Order(goqu.C("user_id").Asc())

	var ids []string
	if err := r.db.Select(ctx, &ids, ds); err != nil {
		return nil, fmt.Errorf("error listing registrants of event %s: %w", eventID, err)
	}
	return ids, nil
}

func (r *DirectoryRepository) EventsByType(ctx context.Context, eventTypes []string) ([]string, error) {
	if len(eventTypes) == 0 {
		return nil, nil
	}

	ds := goqu.From(eventTable).
		Select("id").
		Where(goqu.C("event_type").In(eventTypes)).
		Order(goqu.C("start_date").Asc())

	var ids []string
	if err := r.db.Select(ctx, &ids, ds); err != nil {
		return nil, fmt.Errorf("error listing events by type: %w", err)
	}
	return ids, nil
}

func (r *DirectoryRepository) MinistryMembers(ctx context.Context, ministryID string) ([]string, error) {
	ds := goqu.From(ministryMemberTable).
		Select("user_id").
		Distinct().
		Where(goqu.Ex{"ministry_id": ministryID}).
		Order(goqu.C("user_id").Asc())

	var ids []string
	if err := r.db.Select(ctx, &ids, ds); err != nil {
		return nil, fmt.Errorf("error listing members of ministry %s: %w", ministryID, err)
	}
	return ids, nil
}

type memberPhone struct {
	ID    string         `db:"id"`
	Phone sql.NullString `db:"phone"`
}

func (r *DirectoryRepository) MemberPhones(ctx context.Context, memberIDs []string) (map[string]string, error) {
	phones := make(map[string]string, len(memberIDs))
	if len(memberIDs) == 0 {
		return phones, nil
	}

	ds := goqu.From(memberTable).
		Select("id", "phone").
		Where(goqu.C("id").In(memberIDs))

	var rows []memberPhone
	if err := r.db.Select(ctx, &rows, ds); err != nil {
		return nil, fmt.Errorf("error loading member phones: %w", err)
	}
	for _, row := range rows {
		if row.Phone.Valid {
			phones[row.ID] = row.Phone.String
		}
	}
	return phones, nil
}

func (r *DirectoryRepository) Member(ctx context.Context, id string) (*domain.Member, error) {
	ds := goqu.From(memberTable).
		Select("id", "first_name", "last_name", "nickname", "phone", "birthdate").
		Where(goqu.Ex{"id": id}).
		Limit(1)

	var member domain.Member
	if err := r.queryOne(ctx, &member, ds, "member "+id); err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *DirectoryRepository) Event(ctx context.Context, id string) (*domain.Event, error) {
	ds := goqu.From(eventTable).
		Select("id", "name", "event_type", "start_date", "location").
		Where(goqu.Ex{"id": id}).
		Limit(1)

	var event domain.Event
	if err := r.queryOne(ctx, &event, ds, "event "+id); err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *DirectoryRepository) Ministry(ctx context.Context, id string) (*domain.Ministry, error) {
	ds := goqu.From(ministryTable).
		Select("id", "name", "whatsapp_group_number").
		Where(goqu.Ex{"id": id}).
		Limit(1)

	var ministry domain.Ministry
	if err := r.queryOne(ctx, &ministry, ds, "ministry "+id); err != nil {
		return nil, err
	}
	return &ministry, nil
}

// FirstMinistryForEvent returns the scheduled ministry with the lowest id for the event.
func (r *DirectoryRepository) FirstMinistryForEvent(ctx context.Context, eventID string) (*domain.Ministry, error) {
	ds := goqu.From(goqu.T(ministryScheduleTable).As("ms")).
		Join(goqu.T(ministryTable).As("m"), goqu.On(goqu.I("m.id").Eq(goqu.I("ms.ministry_id")))).
		Select(goqu.I("m.id"), goqu.I("m.name"), goqu.I("m.whatsapp_group_number")).
		Where(goqu.I("ms.event_id").Eq(eventID)).
		Order(goqu.I("ms.ministry_id").Asc()).
		Limit(1)

	var ministry domain.Ministry
	if err := r.queryOne(ctx, &ministry, ds, "ministry for event "+eventID); err != nil {
		return nil, err
	}
	return &ministry, nil
}

func (r *DirectoryRepository) Church(ctx context.Context) (*domain.Church, error) {
	ds := goqu.From(churchTable).
		Select("name", "address").
		Limit(1)

	var church domain.Church
	if err := r.queryOne(ctx, &church, ds, "church info"); err != nil {
		return nil, err
	}
	return &church, nil
}

type materialModule struct {
	VideoURL sql.NullString `db:"video_url"`
	FileURL  sql.NullString `db:"file_url"`
}

// EventMaterialURL returns the first video url, else file url, of the support
// material modules linked to the event, in module order.
func (r *DirectoryRepository) EventMaterialURL(ctx context.Context, eventID string) (string, error) {
	materials := goqu.From(materialLinkTable).
		Select("material_id").
		Where(goqu.Ex{
			"link_type":        "event",
			"linked_entity_id": eventID,
		})

	ds := goqu.From(materialModuleTable).
		Select("video_url", "file_url").
		Where(goqu.C("material_id").In(materials)).
		Order(goqu.C("order_index").Asc())

	var modules []materialModule
	if err := r.db.Select(ctx, &modules, ds); err != nil {
		return "", fmt.Errorf("error loading material of event %s: %w", eventID, err)
	}

	for _, m := range modules {
		if m.VideoURL.String != "" {
			return m.VideoURL.String, nil
		}
		if m.FileURL.String != "" {
			return m.FileURL.String, nil
		}
	}
	return "", nil
}

func (r *DirectoryRepository) queryOne(ctx context.Context, dest any, ds *goqu.SelectDataset, what string) error {
	if err := r.db.QueryRow(ctx, dest, ds); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return fmt.Errorf("%s %w", what, domain.ErrNotFound)
		}
		return fmt.Errorf("error loading %s: %w", what, err)
	}
	return nil
}
