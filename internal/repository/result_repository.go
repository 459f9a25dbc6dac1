package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ResultRepository stores the per-candidate result records pushed by devices.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// upsertResultSQL never touches extra_time_minutes, never lifts a block and
// never replaces a final record or a newer snapshot.
const upsertResultSQL = `
	INSERT INTO exam_results (
		id, session_id, candidate_id, package_id, candidate_name, candidate_number,
		status, closing_status, final, answered, total_questions, correct,
		score, max_score, final_grade, passed, violation_count, record, scored_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	ON CONFLICT (id) DO UPDATE SET
		package_id       = EXCLUDED.package_id,
		candidate_name   = EXCLUDED.candidate_name,
		candidate_number = EXCLUDED.candidate_number,
		status           = CASE WHEN exam_results.status = 'blocked'
		                        THEN exam_results.status ELSE EXCLUDED.status END,
		closing_status   = EXCLUDED.closing_status,
		final            = EXCLUDED.final,
		answered         = EXCLUDED.answered,
		total_questions  = EXCLUDED.total_questions,
		correct          = EXCLUDED.correct,
		score            = EXCLUDED.score,
		max_score        = EXCLUDED.max_score,
		final_grade      = EXCLUDED.final_grade,
		passed           = EXCLUDED.passed,
		violation_count  = EXCLUDED.violation_count,
		record           = EXCLUDED.record,
		scored_at        = EXCLUDED.scored_at,
		updated_at       = NOW()
	WHERE NOT exam_results.final
	  AND (exam_results.scored_at IS NULL OR exam_results.scored_at <= EXCLUDED.scored_at)
	RETURNING status, extra_time_minutes`

func upsertArgs(rec *model.ResultRecord) ([]any, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	return []any{
		rec.ID, rec.SessionID, rec.CandidateID, rec.PackageID, rec.CandidateName, rec.CandidateNumber,
		rec.Status, rec.ClosingStatus, rec.Final, rec.Totals.Answered, rec.Totals.Total, rec.Totals.Correct,
		rec.Totals.Score, rec.Totals.MaxScore, rec.Totals.FinalGrade, rec.Totals.Passed, rec.ViolationCount,
		raw, rec.ScoredAt,
	}, nil
}

// Upsert writes one record and returns the authority-side status. A push
// that lost to a final or newer record still reports the stored status.
func (r *ResultRepository) Upsert(ctx context.Context, rec *model.ResultRecord) (model.CandidateStatusRecord, error) {
	args, err := upsertArgs(rec)
	if err != nil {
		return model.CandidateStatusRecord{}, err
	}

	st := model.CandidateStatusRecord{ResultID: rec.ID}
	err = r.pool.QueryRow(ctx, upsertResultSQL, args...).Scan(&st.Status, &st.ExtraTimeMinutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.GetStatus(ctx, rec.ID)
	}
	if err != nil {
		return model.CandidateStatusRecord{}, err
	}
	return st, nil
}

// UpsertBatch writes many records in one round trip.
func (r *ResultRepository) UpsertBatch(ctx context.Context, recs []*model.ResultRecord) error {
	batch := &pgx.Batch{}
	for _, rec := range recs {
		args, err := upsertArgs(rec)
		if err != nil {
			return err
		}
		batch.Queue(upsertResultSQL, args...)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range recs {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return br.Close()
}

// GetStatus returns the status and extra time of one record.
func (r *ResultRepository) GetStatus(ctx context.Context, resultID string) (model.CandidateStatusRecord, error) {
	st := model.CandidateStatusRecord{ResultID: resultID}
	err := r.pool.QueryRow(ctx,
		`SELECT status, extra_time_minutes FROM exam_results WHERE id = $1`, resultID,
	).Scan(&st.Status, &st.ExtraTimeMinutes)
	if err != nil {
		return model.CandidateStatusRecord{}, err
	}
	return st, nil
}

// Block marks the candidate blocked, creating the row if the device has not
// pushed yet.
func (r *ResultRepository) Block(ctx context.Context, resultID, sessionID, candidateID string) (model.CandidateStatusRecord, error) {
	st := model.CandidateStatusRecord{ResultID: resultID}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exam_results (id, session_id, candidate_id, status)
		 VALUES ($1, $2, $3, 'blocked')
		 ON CONFLICT (id) DO UPDATE SET status = 'blocked', updated_at = NOW()
		 RETURNING status, extra_time_minutes`,
		resultID, sessionID, candidateID,
	).Scan(&st.Status, &st.ExtraTimeMinutes)
	if err != nil {
		return model.CandidateStatusRecord{}, err
	}
	return st, nil
}

// AddExtraTime adds minutes to the candidate's allowance and returns the new
// total.
func (r *ResultRepository) AddExtraTime(ctx context.Context, resultID, sessionID, candidateID string, minutes int) (model.CandidateStatusRecord, error) {
	st := model.CandidateStatusRecord{ResultID: resultID}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exam_results (id, session_id, candidate_id, extra_time_minutes)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET extra_time_minutes = exam_results.extra_time_minutes + EXCLUDED.extra_time_minutes,
		     updated_at = NOW()
		 RETURNING status, extra_time_minutes`,
		resultID, sessionID, candidateID, minutes,
	).Scan(&st.Status, &st.ExtraTimeMinutes)
	if err != nil {
		return model.CandidateStatusRecord{}, err
	}
	return st, nil
}

// ListBySession returns every candidate row of a session ordered by number.
func (r *ResultRepository) ListBySession(ctx context.Context, sessionID string) ([]model.ResultSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, candidate_id, candidate_name, candidate_number, status, final,
		        answered, total_questions, final_grade, passed, violation_count,
		        extra_time_minutes, updated_at
		 FROM exam_results
		 WHERE session_id = $1
		 ORDER BY candidate_number, candidate_id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]model.ResultSummary, 0)
	for rows.Next() {
		var s model.ResultSummary
		if err := rows.Scan(
			&s.ResultID, &s.CandidateID, &s.CandidateName, &s.CandidateNumber, &s.Status, &s.Final,
			&s.Answered, &s.TotalQuestions, &s.FinalGrade, &s.Passed, &s.ViolationCount,
			&s.ExtraTimeMinutes, &s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		results = append(results, s)
	}
	return results, rows.Err()
}

// GetRecord returns the last stored record pushed by the device.
func (r *ResultRepository) GetRecord(ctx context.Context, resultID string) (*model.ResultRecord, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT record FROM exam_results WHERE id = $1`, resultID,
	).Scan(&raw)
	if err != nil {
		return nil, err
	}

	rec := &model.ResultRecord{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", resultID, err)
	}
	return rec, nil
}
