package repository

import (
	"context"

	"github.com/smallbiznis/provenance/internal/compliance/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertRule(ctx context.Context, db *gorm.DB, rule *domain.Rule) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO compliance_rules (code, name, product_type, requirement, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (code) DO NOTHING`,
		rule.Code,
		rule.Name,
		rule.ProductType,
		rule.Requirement,
		rule.Active,
		rule.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindRule(ctx context.Context, db *gorm.DB, code string) (*domain.Rule, error) {
	var rule domain.Rule
	err := db.WithContext(ctx).Raw(
		`SELECT code, name, product_type, requirement, active, created_at
		 FROM compliance_rules WHERE code = ?`,
		code,
	).Scan(&rule).Error
	if err != nil {
		return nil, err
	}
	if rule.Code == "" {
		return nil, nil
	}
	return &rule, nil
}

func (r *repo) ListRulesByProductType(ctx context.Context, db *gorm.DB, productType string, activeOnly bool) ([]domain.Rule, error) {
	query := `SELECT code, name, product_type, requirement, active, created_at
	 FROM compliance_rules WHERE product_type = ?`
	if activeOnly {
		query += ` AND active = true`
	}
	query += ` ORDER BY code ASC`

	var rules []domain.Rule
	if err := db.WithContext(ctx).Raw(query, productType).Scan(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *repo) SetRuleActive(ctx context.Context, db *gorm.DB, code string, active bool) error {
	return db.WithContext(ctx).Exec(
		`UPDATE compliance_rules SET active = ? WHERE code = ?`,
		active,
		code,
	).Error
}

func (r *repo) InsertCheck(ctx context.Context, db *gorm.DB, check *domain.Check) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO compliance_checks (id, product_id, rule_code, passed, evidence, auditor, checked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		check.ID,
		check.ProductID,
		check.RuleCode,
		check.Passed,
		check.Evidence,
		check.Auditor,
		check.CheckedAt,
	).Error
}

func (r *repo) ListChecks(ctx context.Context, db *gorm.DB, productID int64) ([]domain.Check, error) {
	var checks []domain.Check
	err := db.WithContext(ctx).Raw(
		`SELECT id, product_id, rule_code, passed, evidence, auditor, checked_at
		 FROM compliance_checks WHERE product_id = ? ORDER BY id ASC`,
		productID,
	).Scan(&checks).Error
	if err != nil {
		return nil, err
	}
	return checks, nil
}

// LatestCheckPerRule returns the verdict of the newest check per rule code.
// Newest by id, since ids are snowflakes and monotonic per node.
func (r *repo) LatestCheckPerRule(ctx context.Context, db *gorm.DB, productID int64) (map[string]bool, error) {
	type row struct {
		RuleCode string
		Passed   bool
	}
	var rows []row
	err := db.WithContext(ctx).Raw(
		`SELECT c.rule_code, c.passed
		 FROM compliance_checks c
		 JOIN (
			SELECT rule_code, MAX(id) AS max_id
			FROM compliance_checks
			WHERE product_id = ?
			GROUP BY rule_code
		 ) latest ON latest.max_id = c.id`,
		productID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	verdicts := make(map[string]bool, len(rows))
	for _, row := range rows {
		verdicts[row.RuleCode] = row.Passed
	}
	return verdicts, nil
}

func (r *repo) FindStatus(ctx context.Context, db *gorm.DB, productID int64) (*domain.Status, error) {
	var status domain.Status
	err := db.WithContext(ctx).Raw(
		`SELECT product_id, compliant, evaluated_at FROM compliance_status WHERE product_id = ?`,
		productID,
	).Scan(&status).Error
	if err != nil {
		return nil, err
	}
	if status.ProductID == 0 {
		return nil, nil
	}
	return &status, nil
}

func (r *repo) UpsertStatus(ctx context.Context, db *gorm.DB, status *domain.Status) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO compliance_status (product_id, compliant, evaluated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (product_id) DO UPDATE SET compliant = excluded.compliant, evaluated_at = excluded.evaluated_at`,
		status.ProductID,
		status.Compliant,
		status.EvaluatedAt,
	).Error
}
