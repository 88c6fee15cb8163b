package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/sentinel"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists counsel requests in PostgreSQL.
// This store is pure I/O; transition rules live in models and the service.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed counsel store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `
	id, child_id, guardian_id, child_name, center_name, care_type, status,
	matched_institution_id, matched_counselor_id, form_data, source,
	request_date, created_at, updated_at, version`

func (s *PostgresStore) Create(ctx context.Context, req models.CounselRequest, entry models.StatusHistoryEntry) (*models.CounselRequest, error) {
	req.Version = 1
	err := tx.Run(ctx, s.db, func(ctx context.Context, exec tx.Executor) error {
		_, err := exec.ExecContext(ctx, `
			INSERT INTO counsel_requests (`+requestColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			uuid.UUID(req.ID),
			uuid.UUID(req.ChildID),
			nullableUUID(req.GuardianID),
			req.ChildName,
			req.CenterName,
			req.CareType,
			string(req.Status),
			nullableUUID(req.MatchedInstitutionID),
			nullableUUID(req.MatchedCounselorID),
			nullableJSON(req.FormData),
			req.Source,
			req.RequestDate,
			req.CreatedAt,
			req.UpdatedAt,
			req.Version,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return sentinel.ErrConflict
			}
			return fmt.Errorf("insert counsel request: %w", err)
		}
		return insertHistory(ctx, exec, entry)
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, requestID id.CounselRequestID) (*models.CounselRequest, error) {
	exec := executor(ctx, s.db)
	row := exec.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM counsel_requests WHERE id = $1`, uuid.UUID(requestID))
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find counsel request: %w", err)
	}
	return req, nil
}

// Commit applies change with a compare-and-set on version. A zero-row update
// means the request is gone or another writer got there first.
func (s *PostgresStore) Commit(ctx context.Context, change models.Change) (*models.CounselRequest, error) {
	next := change.Request
	next.Version = change.ExpectedVersion + 1

	err := tx.Run(ctx, s.db, func(ctx context.Context, exec tx.Executor) error {
		result, err := exec.ExecContext(ctx, `
			UPDATE counsel_requests
			SET status = $3,
			    matched_institution_id = $4,
			    matched_counselor_id = $5,
			    updated_at = $6,
			    version = version + 1
			WHERE id = $1 AND version = $2`,
			uuid.UUID(next.ID),
			change.ExpectedVersion,
			string(next.Status),
			nullableUUID(next.MatchedInstitutionID),
			nullableUUID(next.MatchedCounselorID),
			next.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update counsel request: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("update counsel request rows affected: %w", err)
		}
		if rows == 0 {
			return missingOrConflict(ctx, exec, next.ID)
		}

		if err := insertHistory(ctx, exec, change.History); err != nil {
			return err
		}
		switch {
		case change.ReplaceRecommendations:
			return replaceRecommendations(ctx, exec, next.ID, change.Recommendations)
		case change.Recommendations != nil:
			return updateSelection(ctx, exec, next.ID, change.Recommendations)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &next, nil
}

// Delete removes a request and, by cascade, its recommendations. History is kept.
func (s *PostgresStore) Delete(ctx context.Context, requestID id.CounselRequestID, expectedVersion int64) error {
	return tx.Run(ctx, s.db, func(ctx context.Context, exec tx.Executor) error {
		result, err := exec.ExecContext(ctx,
			`DELETE FROM counsel_requests WHERE id = $1 AND version = $2`,
			uuid.UUID(requestID), expectedVersion)
		if err != nil {
			return fmt.Errorf("delete counsel request: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete counsel request rows affected: %w", err)
		}
		if rows == 0 {
			return missingOrConflict(ctx, exec, requestID)
		}
		return nil
	})
}

func (s *PostgresStore) ListRecommendations(ctx context.Context, requestID id.CounselRequestID) ([]models.Recommendation, error) {
	rows, err := executor(ctx, s.db).QueryContext(ctx, `
		SELECT id, counsel_request_id, institution_id, score, reason, rank, selected, is_high_score, created_at
		FROM counsel_recommendations
		WHERE counsel_request_id = $1
		ORDER BY rank`, uuid.UUID(requestID))
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()

	var out []models.Recommendation
	for rows.Next() {
		var (
			rec                         models.Recommendation
			recID, reqID, institutionID uuid.UUID
		)
		if err := rows.Scan(&recID, &reqID, &institutionID, &rec.Score, &rec.Reason, &rec.Rank,
			&rec.Selected, &rec.IsHighScore, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		rec.ID = id.RecommendationID(recID)
		rec.CounselRequestID = id.CounselRequestID(reqID)
		rec.InstitutionID = id.InstitutionID(institutionID)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recommendations: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListHistory(ctx context.Context, requestID id.CounselRequestID) ([]models.StatusHistoryEntry, error) {
	return s.queryHistory(ctx, `
		SELECT id, counsel_request_id, from_status, to_status, reason, changed_by, actor_kind, changed_at
		FROM counsel_status_history
		WHERE counsel_request_id = $1
		ORDER BY changed_at, id`, uuid.UUID(requestID))
}

// List builds the admin listing query from the filter. Only placeholders
// carry user input.
func (s *PostgresStore) List(ctx context.Context, filter models.ListFilter) (models.ListResult, error) {
	where, args := listConditions(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM counsel_requests` + where
	if err := executor(ctx, s.db).QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return models.ListResult{}, fmt.Errorf("count counsel requests: %w", err)
	}

	query := `SELECT ` + requestColumns + ` FROM counsel_requests` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset())

	items, err := s.queryRequests(ctx, query, args...)
	if err != nil {
		return models.ListResult{}, err
	}
	if items == nil {
		items = []models.CounselRequest{}
	}
	return models.ListResult{Items: items, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

func (s *PostgresStore) RequestsCreatedIn(ctx context.Context, rng models.DateRange) ([]models.CounselRequest, error) {
	where, args := rangeConditions("created_at", rng, nil, nil)
	return s.queryRequests(ctx, `SELECT `+requestColumns+` FROM counsel_requests`+where+` ORDER BY created_at DESC`, args...)
}

func (s *PostgresStore) HistoryForRequestsCreatedIn(ctx context.Context, rng models.DateRange) ([]models.StatusHistoryEntry, error) {
	where, args := rangeConditions("r.created_at", rng, nil, nil)
	return s.queryHistory(ctx, `
		SELECT h.id, h.counsel_request_id, h.from_status, h.to_status, h.reason, h.changed_by, h.actor_kind, h.changed_at
		FROM counsel_status_history h
		JOIN counsel_requests r ON r.id = h.counsel_request_id`+where+`
		ORDER BY h.changed_at`, args...)
}

func (s *PostgresStore) queryRequests(ctx context.Context, query string, args ...any) ([]models.CounselRequest, error) {
	rows, err := executor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query counsel requests: %w", err)
	}
	defer rows.Close()

	var out []models.CounselRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan counsel request: %w", err)
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counsel requests: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) queryHistory(ctx context.Context, query string, args ...any) ([]models.StatusHistoryEntry, error) {
	rows, err := executor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	var out []models.StatusHistoryEntry
	for rows.Next() {
		var (
			e              models.StatusHistoryEntry
			entryID, reqID uuid.UUID
			from           sql.NullString
			to, kind       string
		)
		if err := rows.Scan(&entryID, &reqID, &from, &to, &e.Reason, &e.ChangedBy, &kind, &e.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		e.ID = id.HistoryEntryID(entryID)
		e.CounselRequestID = id.CounselRequestID(reqID)
		e.FromStatus = models.Status(from.String)
		e.ToStatus = models.Status(to)
		e.ActorKind = models.ActorKind(kind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status history: %w", err)
	}
	return out, nil
}

func insertHistory(ctx context.Context, exec tx.Executor, e models.StatusHistoryEntry) error {
	var from sql.NullString
	if e.FromStatus != "" {
		from = sql.NullString{String: string(e.FromStatus), Valid: true}
	}
	_, err := exec.ExecContext(ctx, `
		INSERT INTO counsel_status_history
			(id, counsel_request_id, from_status, to_status, reason, changed_by, actor_kind, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.UUID(e.ID),
		uuid.UUID(e.CounselRequestID),
		from,
		string(e.ToStatus),
		e.Reason,
		e.ChangedBy,
		string(e.ActorKind),
		e.ChangedAt,
	)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

// replaceRecommendations swaps the whole set in one statement using unnest
// over parallel arrays.
func replaceRecommendations(ctx context.Context, exec tx.Executor, requestID id.CounselRequestID, recs []models.Recommendation) error {
	if _, err := exec.ExecContext(ctx,
		`DELETE FROM counsel_recommendations WHERE counsel_request_id = $1`, uuid.UUID(requestID)); err != nil {
		return fmt.Errorf("clear recommendations: %w", err)
	}
	if len(recs) == 0 {
		return nil
	}

	var (
		ids          = make([]string, len(recs))
		institutions = make([]string, len(recs))
		scores       = make([]float64, len(recs))
		reasons      = make([]string, len(recs))
		ranks        = make([]int64, len(recs))
		selected     = make([]bool, len(recs))
		highScore    = make([]bool, len(recs))
		createdAt    time.Time
	)
	for i, rec := range recs {
		ids[i] = rec.ID.String()
		institutions[i] = rec.InstitutionID.String()
		scores[i] = rec.Score
		reasons[i] = rec.Reason
		ranks[i] = int64(rec.Rank)
		selected[i] = rec.Selected
		highScore[i] = rec.IsHighScore
		createdAt = rec.CreatedAt
	}

	_, err := exec.ExecContext(ctx, `
		INSERT INTO counsel_recommendations
			(id, counsel_request_id, institution_id, score, reason, rank, selected, is_high_score, created_at)
		SELECT u.id, $1::uuid, u.institution_id, u.score, u.reason, u.rank, u.selected, u.is_high_score, $9::timestamptz
		FROM unnest($2::uuid[], $3::uuid[], $4::float8[], $5::text[], $6::int[], $7::bool[], $8::bool[])
			AS u(id, institution_id, score, reason, rank, selected, is_high_score)`,
		uuid.UUID(requestID),
		pq.Array(ids),
		pq.Array(institutions),
		pq.Array(scores),
		pq.Array(reasons),
		pq.Array(ranks),
		pq.Array(selected),
		pq.Array(highScore),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert recommendations: %w", err)
	}
	return nil
}

// updateSelection rewrites the selected flag for the whole set so the
// one-selected index never sees two rows at once.
func updateSelection(ctx context.Context, exec tx.Executor, requestID id.CounselRequestID, recs []models.Recommendation) error {
	chosen := make([]string, 0, 1)
	for _, rec := range recs {
		if rec.Selected {
			chosen = append(chosen, rec.ID.String())
		}
	}
	if _, err := exec.ExecContext(ctx, `
		UPDATE counsel_recommendations SET selected = FALSE
		WHERE counsel_request_id = $1 AND selected`, uuid.UUID(requestID)); err != nil {
		return fmt.Errorf("clear selection: %w", err)
	}
	if len(chosen) == 0 {
		return nil
	}
	if _, err := exec.ExecContext(ctx, `
		UPDATE counsel_recommendations SET selected = TRUE
		WHERE counsel_request_id = $1 AND id = ANY($2::uuid[])`,
		uuid.UUID(requestID), pq.Array(chosen)); err != nil {
		return fmt.Errorf("set selection: %w", err)
	}
	return nil
}

func missingOrConflict(ctx context.Context, exec tx.Executor, requestID id.CounselRequestID) error {
	var exists bool
	err := exec.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM counsel_requests WHERE id = $1)`, uuid.UUID(requestID)).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check counsel request: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrConflict
}

func listConditions(f models.ListFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.CareType != "" {
		add("LOWER(care_type) = LOWER($%d)", f.CareType)
	}
	if f.InstitutionID != nil {
		add("matched_institution_id = $%d", uuid.UUID(*f.InstitutionID))
	}
	if f.CounselorID != nil {
		add("matched_counselor_id = $%d", uuid.UUID(*f.CounselorID))
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(center_name ILIKE $%d OR child_name ILIKE $%d)", n, n))
	}
	return rangeConditions("created_at", models.DateRange{From: f.From, To: f.To}, clauses, args)
}

func rangeConditions(column string, rng models.DateRange, clauses []string, args []any) (string, []any) {
	if rng.From != nil {
		args = append(args, *rng.From)
		clauses = append(clauses, fmt.Sprintf("%s >= $%d", column, len(args)))
	}
	if rng.To != nil {
		args = append(args, *rng.To)
		clauses = append(clauses, fmt.Sprintf("%s <= $%d", column, len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.CounselRequest, error) {
	var (
		req                       models.CounselRequest
		reqID, childID            uuid.UUID
		guardianID, institutionID uuid.NullUUID
		counselorID               uuid.NullUUID
		status                    string
		formData                  []byte
	)
	err := row.Scan(
		&reqID, &childID, &guardianID, &req.ChildName, &req.CenterName, &req.CareType, &status,
		&institutionID, &counselorID, &formData, &req.Source,
		&req.RequestDate, &req.CreatedAt, &req.UpdatedAt, &req.Version,
	)
	if err != nil {
		return nil, err
	}
	req.ID = id.CounselRequestID(reqID)
	req.ChildID = id.ChildID(childID)
	req.Status = models.Status(status)
	if guardianID.Valid {
		g := id.GuardianID(guardianID.UUID)
		req.GuardianID = &g
	}
	if institutionID.Valid {
		inst := id.InstitutionID(institutionID.UUID)
		req.MatchedInstitutionID = &inst
	}
	if counselorID.Valid {
		c := id.CounselorID(counselorID.UUID)
		req.MatchedCounselorID = &c
	}
	if len(formData) > 0 {
		req.FormData = json.RawMessage(formData)
	}
	return &req, nil
}

func executor(ctx context.Context, db *sql.DB) tx.Executor {
	if existing, ok := tx.From(ctx); ok {
		return existing
	}
	return db
}

// nullableUUID maps optional typed ids to uuid.NullUUID for the driver.
func nullableUUID[T ~[16]byte](v *T) uuid.NullUUID {
	if v == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*v), Valid: true}
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
