package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"

	"prayerflow/internal/entity"
)

const ruleColumns = "id, tenant_id, name, position, is_active, kind, conditions, config, created_at"

type RuleRepository struct {
	base
}

func NewRuleRepository(db pgxdriver.QueryExecuter) *RuleRepository {
	return &RuleRepository{base{db: db}}
}

func (r *RuleRepository) Create(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	rule entity.Rule,
) error {
	const op = "repository.rule.Create"

	conditions := rule.Conditions
	if conditions == nil {
		conditions = []entity.Condition{}
	}
	condJSON, err := json.Marshal(conditions)
	if err != nil {
		return fmt.Errorf("%s: marshal conditions: %w", op, err)
	}
	cfgJSON, err := json.Marshal(rule.Action)
	if err != nil {
		return fmt.Errorf("%s: marshal config: %w", op, err)
	}

	sql, args, err := psql.Insert("automation_rules").
		Columns("id", "tenant_id", "name", "position", "is_active", "kind", "conditions", "config", "created_at").
		Values(rule.ID, rule.TenantID, rule.Name, rule.Position, rule.IsActive,
			rule.Action.Kind(), condJSON, cfgJSON, rule.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: insert query: %w", op, err)
	}

	if _, err = r.exec(qe).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func rulesQuery(tenantID uuid.UUID, activeOnly bool) squirrel.SelectBuilder {
	where := squirrel.Eq{"tenant_id": tenantID}
	if activeOnly {
		where["is_active"] = true
	}
	return psql.Select(ruleColumns).
		From("automation_rules").
		Where(where).
		OrderBy("position ASC", "created_at ASC")
}

// List returns the tenant's rules in evaluation order.
func (r *RuleRepository) List(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID uuid.UUID,
	activeOnly bool,
) ([]entity.Rule, error) {
	const op = "repository.rule.List"

	sql, args, err := rulesQuery(tenantID, activeOnly).ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: select query: %w", op, err)
	}

	rows, err := r.exec(qe).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	rules := make([]entity.Rule, 0)
	for rows.Next() {
		var (
			rule     entity.Rule
			kind     entity.RuleKind
			condJSON []byte
			cfgJSON  []byte
		)
		err = rows.Scan(&rule.ID, &rule.TenantID, &rule.Name, &rule.Position, &rule.IsActive,
			&kind, &condJSON, &cfgJSON, &rule.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", op, err)
		}
		if err = json.Unmarshal(condJSON, &rule.Conditions); err != nil {
			return nil, fmt.Errorf("%s: rule %s conditions: %w", op, rule.ID, err)
		}
		if rule.Action, err = entity.DecodeAction(kind, cfgJSON); err != nil {
			return nil, fmt.Errorf("%s: rule %s config: %w", op, rule.ID, err)
		}
		rules = append(rules, rule)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}

	return rules, nil
}
