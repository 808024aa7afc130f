package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/voltaudit/voltaudit/pkg/models"
)

// ListFilter narrows and orders an analysis listing. Page is 1-indexed.
type ListFilter struct {
	OwnerID   uuid.UUID
	Verdict   *models.Verdict
	DateFrom  *time.Time
	DateTo    *time.Time
	SortBy    string // "created_at" or "compliance_score"
	SortOrder string // "asc" or "desc"
	Page      int
	PerPage   int
}

// Page is one page of a listing plus the totals the API reports.
type Page struct {
	Items      []models.Analysis
	Total      int
	Page       int
	PerPage    int
	TotalPages int
}

// AnalysisRepository persists analyses. The authoritative navigation
// direction is Analysis -> Task; reverse lookups go through queries.
type AnalysisRepository struct {
	db *sqlx.DB
}

const analysisColumns = `a.id, a.task_id, a.test_type, a.equipment_type, a.equipment_tag,
	a.compliance_score, a.confidence, a.verdict, a.rejection_reason,
	a.extraction_data, a.validation_data, a.created_at, a.updated_at`

// Create inserts a new analysis inside the given transaction.
func (r *AnalysisRepository) Create(ctx context.Context, tx *sqlx.Tx, analysis *models.Analysis) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO analyses (id, task_id, test_type, equipment_type, equipment_tag,
		     compliance_score, confidence, verdict, rejection_reason,
		     extraction_data, validation_data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		analysis.ID, analysis.TaskID, analysis.TestType, analysis.EquipmentType,
		analysis.EquipmentTag, analysis.ComplianceScore, analysis.Confidence,
		analysis.Verdict, analysis.RejectionReason, analysis.ExtractionData,
		analysis.ValidationData, analysis.CreatedAt, analysis.UpdatedAt,
	)
	if err != nil {
		return models.Wrap(models.KindInternal, "VALD_500", "failed to create analysis", err)
	}
	return nil
}

// GetByID fetches an analysis by identifier.
func (r *AnalysisRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	var analysis models.Analysis
	err := r.db.GetContext(ctx, &analysis,
		`SELECT `+analysisColumns+` FROM analyses a WHERE a.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.E(models.KindNotFound, "VALD_404", "analysis not found")
	}
	if err != nil {
		return nil, models.Wrap(models.KindInternal, "VALD_500", "failed to load analysis", err)
	}
	return &analysis, nil
}

// GetByTaskID fetches the analysis attached to a task, if any.
func (r *AnalysisRepository) GetByTaskID(ctx context.Context, taskID uuid.UUID) (*models.Analysis, error) {
	var analysis models.Analysis
	err := r.db.GetContext(ctx, &analysis,
		`SELECT `+analysisColumns+` FROM analyses a WHERE a.task_id = $1`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.E(models.KindNotFound, "VALD_404", "analysis not found")
	}
	if err != nil {
		return nil, models.Wrap(models.KindInternal, "VALD_500", "failed to load analysis", err)
	}
	return &analysis, nil
}

// UpdateResult stores the score, verdict and validation payload computed by
// the pipeline.
func (r *AnalysisRepository) UpdateResult(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, score float64, verdict models.Verdict, validationData []byte) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE analyses SET compliance_score = $1, verdict = $2, validation_data = $3, updated_at = $4
		 WHERE id = $5`,
		score, verdict, validationData, time.Now().UTC(), id,
	)
	if err != nil {
		return models.Wrap(models.KindInternal, "VALD_500", "failed to update analysis result", err)
	}
	return nil
}

// SetVerdict applies a human review decision. The WHERE clause restricts the
// transition to non-terminal verdicts; zero rows means the review was already
// closed and the caller reports InvalidState.
func (r *AnalysisRepository) SetVerdict(ctx context.Context, id uuid.UUID, verdict models.Verdict, reason *string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE analyses SET verdict = $1, rejection_reason = $2, updated_at = $3
		 WHERE id = $4 AND (verdict IS NULL OR verdict = $5)`,
		verdict, reason, time.Now().UTC(), id, models.VerdictReview,
	)
	if err != nil {
		return false, models.Wrap(models.KindInternal, "VALD_500", "failed to set verdict", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, models.Wrap(models.KindInternal, "VALD_500", "failed to read verdict result", err)
	}
	return n == 1, nil
}

// List returns one page of the owner's analyses. Filtering and the total
// count share a single predicate so pagination sums are exact.
func (r *AnalysisRepository) List(ctx context.Context, filter ListFilter) (*Page, error) {
	where, args := buildListPredicate(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM analyses a JOIN tasks t ON t.id = a.task_id ` + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, models.Wrap(models.KindInternal, "VALD_500", "failed to count analyses", err)
	}

	orderBy, err := buildOrderBy(filter.SortBy, filter.SortOrder)
	if err != nil {
		return nil, err
	}

	offset := (filter.Page - 1) * filter.PerPage
	listQuery := fmt.Sprintf(
		`SELECT %s FROM analyses a JOIN tasks t ON t.id = a.task_id %s %s LIMIT %d OFFSET %d`,
		analysisColumns, where, orderBy, filter.PerPage, offset,
	)

	items := []models.Analysis{}
	if err := r.db.SelectContext(ctx, &items, listQuery, args...); err != nil {
		return nil, models.Wrap(models.KindInternal, "VALD_500", "failed to list analyses", err)
	}

	totalPages := (total + filter.PerPage - 1) / filter.PerPage
	return &Page{
		Items:      items,
		Total:      total,
		Page:       filter.Page,
		PerPage:    filter.PerPage,
		TotalPages: totalPages,
	}, nil
}

// OwnerOf resolves the owning user of an analysis through its task.
func (r *AnalysisRepository) OwnerOf(ctx context.Context, analysisID uuid.UUID) (uuid.UUID, error) {
	var ownerID uuid.UUID
	err := r.db.GetContext(ctx, &ownerID,
		`SELECT t.user_id FROM analyses a JOIN tasks t ON t.id = a.task_id WHERE a.id = $1`,
		analysisID)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, models.E(models.KindNotFound, "VALD_404", "analysis not found")
	}
	if err != nil {
		return uuid.Nil, models.Wrap(models.KindInternal, "VALD_500", "failed to resolve analysis owner", err)
	}
	return ownerID, nil
}

func buildListPredicate(filter ListFilter) (string, []interface{}) {
	clauses := []string{"t.user_id = $1"}
	args := []interface{}{filter.OwnerID}

	if filter.Verdict != nil {
		args = append(args, *filter.Verdict)
		clauses = append(clauses, fmt.Sprintf("a.verdict = $%d", len(args)))
	}
	if filter.DateFrom != nil {
		args = append(args, *filter.DateFrom)
		clauses = append(clauses, fmt.Sprintf("a.created_at >= $%d", len(args)))
	}
	if filter.DateTo != nil {
		args = append(args, *filter.DateTo)
		clauses = append(clauses, fmt.Sprintf("a.created_at <= $%d", len(args)))
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func buildOrderBy(sortBy, sortOrder string) (string, error) {
	var column string
	switch sortBy {
	case "", "created_at":
		column = "a.created_at"
	case "compliance_score":
		column = "a.compliance_score"
	default:
		return "", models.E(models.KindInvalidInput, "VALD_400", "invalid sort_by")
	}

	switch sortOrder {
	case "", "desc":
		// NULLS FIRST on descending per the listing contract.
		return fmt.Sprintf("ORDER BY %s DESC NULLS FIRST", column), nil
	case "asc":
		return fmt.Sprintf("ORDER BY %s ASC NULLS LAST", column), nil
	default:
		return "", models.E(models.KindInvalidInput, "VALD_400", "invalid sort_order")
	}
}
