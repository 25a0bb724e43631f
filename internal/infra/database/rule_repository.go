package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/muratdemir0/gopulse-dispatch/internal/adapters/db"
	"github.com/muratdemir0/gopulse-dispatch/internal/domain"
)

type RuleRepository struct {
	db *db.Client
}

func NewRuleRepository(db *db.Client) *RuleRepository {
	return &RuleRepository{db: db}
}

func (r *RuleRepository) GetRule(ctx context.Context, id string) (*domain.Rule, error) {
	ds := goqu.From(ruleTable).
		Select("id", "type", "template_id", "config").
		Where(goqu.Ex{"id": id}).
		Limit(1)

	var rule domain.Rule
	if err := r.db.QueryRow(ctx, &rule, ds); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, domain.ErrRuleNotFound
		}
		return nil, fmt.Errorf("error getting rule %s: %w", id, err)
	}
	return &rule, nil
}

func (r *RuleRepository) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	ds := goqu.From(templateTable).
		Select("id", "name", "content").
		Where(goqu.Ex{"id": id}).
		Limit(1)

	var tmpl domain.Template
	if err := r.db.QueryRow(ctx, &tmpl, ds); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, domain.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("error getting template %s: %w", id, err)
	}
	return &tmpl, nil
}
