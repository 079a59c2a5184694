package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-papers/internal/classify"
	"github.com/p-n-ai/pai-papers/internal/curriculum"
)

const dbTimeout = 5 * time.Second

const (
	sqlStateInvalidText = "22P02"
	sqlStateForeignKey  = "23503"
)

// PostgresStore is a PostgreSQL-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

const batchColumns = `id::text, paper_code, year, session, paper_number, subject_level,
	question_text, markscheme_text, status, error_message,
	extracted_questions, paired_questions, topics_mapped, logs,
	uploaded_by, attempt, question_digest, markscheme_digest,
	created_at, updated_at, completed_at`

const batchSummaryColumns = `id::text, paper_code, year, session, paper_number, subject_level,
	'' AS question_text, '' AS markscheme_text, status, error_message,
	extracted_questions, paired_questions, topics_mapped, '[]'::jsonb AS logs,
	uploaded_by, attempt, question_digest, markscheme_digest,
	created_at, updated_at, completed_at`

func (s *PostgresStore) CreateBatch(ctx context.Context, b *Batch) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if b.ID == "" {
		b.ID = newID()
	}
	if b.Logs == nil {
		b.Logs = []LogEntry{}
	}
	logs, err := json.Marshal(b.Logs)
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO batches (id, paper_code, year, session, paper_number, subject_level,
		     question_text, markscheme_text, status, error_message,
		     extracted_questions, paired_questions, topics_mapped, logs,
		     uploaded_by, attempt, question_digest, markscheme_digest, completed_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::jsonb, $15, $16, $17, $18, $19)
		 RETURNING created_at, updated_at`,
		b.ID, b.PaperCode, b.Year, b.Session, b.PaperNumber, string(b.SubjectLevel),
		b.QuestionText, b.MarkschemeText, string(b.Status), b.ErrorMessage,
		b.ExtractedQuestions, b.PairedQuestions, b.TopicsMapped, string(logs),
		b.UploadedBy, b.Attempt, b.QuestionDigest, b.MarkschemeDigest, b.CompletedAt,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBatch(ctx context.Context, id string) (*Batch, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = $1::uuid`,
		id,
	)
	b, err := scanBatch(row)
	if err != nil {
		return nil, storeErr("get batch", err)
	}
	return b, nil
}

func (s *PostgresStore) ListBatches(ctx context.Context, f BatchFilter) ([]Batch, int, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var where []string
	var args []any
	if f.Level != "" {
		args = append(args, string(f.Level))
		where = append(where, fmt.Sprintf("subject_level = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := whereClause(where)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM batches`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count batches: %w", err)
	}

	p := f.Pagination.Normalize()
	args = append(args, p.Limit, p.Offset())
	rows, err := s.pool.Query(ctx,
		`SELECT `+batchSummaryColumns+` FROM batches`+clause+
			fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	out := []Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate batches: %w", err)
	}
	return out, total, nil
}

func (s *PostgresStore) UpdateBatch(ctx context.Context, b *Batch) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	logs, err := json.Marshal(b.Logs)
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`UPDATE batches SET
		     question_text = $2, markscheme_text = $3, status = $4, error_message = $5,
		     extracted_questions = $6, paired_questions = $7, topics_mapped = $8,
		     logs = $9::jsonb, attempt = $10, completed_at = $11, updated_at = NOW()
		 WHERE id = $1::uuid
		 RETURNING updated_at`,
		b.ID, b.QuestionText, b.MarkschemeText, string(b.Status), b.ErrorMessage,
		b.ExtractedQuestions, b.PairedQuestions, b.TopicsMapped,
		string(logs), b.Attempt, b.CompletedAt,
	).Scan(&b.UpdatedAt)
	if err != nil {
		return storeErr("update batch", err)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, message string, entry LogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	logs, err := json.Marshal([]LogEntry{entry})
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}

	cmd, err := s.pool.Exec(ctx,
		`UPDATE batches SET status = $2, error_message = $3, logs = logs || $4::jsonb, updated_at = NOW()
		 WHERE id = $1::uuid`,
		id, string(StatusFailed), message, string(logs),
	)
	if err != nil {
		return storeErr("mark batch failed", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteBatch(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	// Documents and questions go with the batch via ON DELETE CASCADE.
	cmd, err := s.pool.Exec(ctx, `DELETE FROM batches WHERE id = $1::uuid`, id)
	if err != nil {
		return storeErr("delete batch", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PutDocument(ctx context.Context, batchID string, kind DocumentKind, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cmd, err := s.pool.Exec(ctx,
		`INSERT INTO batch_documents (batch_id, kind, content)
		 SELECT id, $2, $3 FROM batches WHERE id = $1::uuid
		 ON CONFLICT (batch_id, kind) DO UPDATE SET content = EXCLUDED.content`,
		batchID, string(kind), data,
	)
	if err != nil {
		return storeErr("put document", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, batchID string, kind DocumentKind) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT content FROM batch_documents WHERE batch_id = $1::uuid AND kind = $2`,
		batchID, string(kind),
	).Scan(&data)
	if err != nil {
		return nil, storeErr("get document", err)
	}
	return data, nil
}

const questionColumns = `id::text, batch_id::text, paper_code, year, session, subject_level,
	topics, lesson_id, question_number, question_text, subparts, answer, solution_steps,
	total_marks, difficulty, requires_graph, requires_diagram, image_description,
	verified, verified_by, created_at, updated_at`

func (s *PostgresStore) CreateQuestion(ctx context.Context, q *Question) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if q.ID == "" {
		q.ID = newID()
	}
	subparts, steps, err := marshalQuestionJSON(q)
	if err != nil {
		return err
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO questions (id, batch_id, paper_code, year, session, subject_level,
		     topics, lesson_id, question_number, question_text, subparts, answer, solution_steps,
		     total_marks, difficulty, requires_graph, requires_diagram, image_description,
		     verified, verified_by)
		 VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12, $13::jsonb,
		     $14, $15, $16, $17, $18, $19, $20)
		 RETURNING created_at, updated_at`,
		q.ID, q.BatchID, q.PaperCode, q.Year, q.Session, string(q.SubjectLevel),
		nonNil(q.Topics), nullIfEmpty(q.LessonID), q.QuestionNumber, q.QuestionText,
		subparts, q.Answer, steps,
		q.TotalMarks, string(q.Difficulty), q.RequiresGraph, q.RequiresDiagram, q.ImageDescription,
		q.Verified, nullIfEmpty(q.VerifiedBy),
	).Scan(&q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return storeErr("create question", err)
	}
	return nil
}

func (s *PostgresStore) GetQuestion(ctx context.Context, id string) (*Question, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	q, err := scanQuestion(s.pool.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = $1::uuid`,
		id,
	))
	if err != nil {
		return nil, storeErr("get question", err)
	}
	return q, nil
}

func (s *PostgresStore) ListQuestions(ctx context.Context, f QuestionFilter) ([]Question, int, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var where []string
	var args []any
	if f.Level != "" {
		args = append(args, string(f.Level))
		where = append(where, fmt.Sprintf("subject_level = $%d", len(args)))
	}
	if f.LessonID != "" {
		args = append(args, f.LessonID)
		where = append(where, fmt.Sprintf("lesson_id = $%d", len(args)))
	}
	if f.Topic != "" {
		args = append(args, "%"+escapeLike(f.Topic)+"%")
		where = append(where, fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(topics) AS t WHERE t ILIKE $%d)", len(args)))
	}
	if f.Verified != nil {
		args = append(args, *f.Verified)
		where = append(where, fmt.Sprintf("verified = $%d", len(args)))
	}
	if f.BatchID != "" {
		if _, err := uuid.Parse(f.BatchID); err != nil {
			return []Question{}, 0, nil
		}
		args = append(args, f.BatchID)
		where = append(where, fmt.Sprintf("batch_id = $%d::uuid", len(args)))
	}
	clause := whereClause(where)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM questions`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count questions: %w", err)
	}

	p := f.Pagination.Normalize()
	args = append(args, p.Limit, p.Offset())
	rows, err := s.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions`+clause+
			fmt.Sprintf(` ORDER BY seq LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	out := []Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate questions: %w", err)
	}
	return out, total, nil
}

func (s *PostgresStore) UpdateQuestion(ctx context.Context, q *Question) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	subparts, steps, err := marshalQuestionJSON(q)
	if err != nil {
		return err
	}

	err = s.pool.QueryRow(ctx,
		`UPDATE questions SET
		     topics = $2, lesson_id = $3, question_number = $4, question_text = $5,
		     subparts = $6::jsonb, answer = $7, solution_steps = $8::jsonb,
		     total_marks = $9, difficulty = $10, requires_graph = $11, requires_diagram = $12,
		     image_description = $13, verified = $14, verified_by = $15, updated_at = NOW()
		 WHERE id = $1::uuid
		 RETURNING created_at, updated_at`,
		q.ID, nonNil(q.Topics), nullIfEmpty(q.LessonID), q.QuestionNumber, q.QuestionText,
		subparts, q.Answer, steps,
		q.TotalMarks, string(q.Difficulty), q.RequiresGraph, q.RequiresDiagram,
		q.ImageDescription, q.Verified, nullIfEmpty(q.VerifiedBy),
	).Scan(&q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return storeErr("update question", err)
	}
	return nil
}

func (s *PostgresStore) DeleteQuestion(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cmd, err := s.pool.Exec(ctx, `DELETE FROM questions WHERE id = $1::uuid`, id)
	if err != nil {
		return storeErr("delete question", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteQuestionsByBatch(ctx context.Context, batchID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cmd, err := s.pool.Exec(ctx, `DELETE FROM questions WHERE batch_id = $1::uuid`, batchID)
	if err != nil {
		return 0, storeErr("delete batch questions", err)
	}
	return int(cmd.RowsAffected()), nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	st := Stats{BatchesByStatus: make(map[Status]int)}

	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM batches GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("batch stats: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return Stats{}, fmt.Errorf("scan batch stats: %w", err)
		}
		st.BatchesByStatus[Status(status)] = n
		st.TotalBatches += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate batch stats: %w", err)
	}

	levels := make(map[curriculum.Level]*LevelStats)
	for _, level := range curriculum.Levels() {
		levels[level] = &LevelStats{Level: level, Topics: []TopicCount{}}
	}

	rows, err = s.pool.Query(ctx,
		`SELECT subject_level, count(*), COALESCE(SUM(total_marks), 0),
		        count(*) FILTER (WHERE verified),
		        count(DISTINCT (paper_code, year, session))
		 FROM questions
		 GROUP BY subject_level`)
	if err != nil {
		return Stats{}, fmt.Errorf("question stats: %w", err)
	}
	for rows.Next() {
		var level string
		var ls LevelStats
		if err := rows.Scan(&level, &ls.TotalQuestions, &ls.TotalMarks, &ls.Verified, &ls.DistinctPapers); err != nil {
			rows.Close()
			return Stats{}, fmt.Errorf("scan question stats: %w", err)
		}
		st.TotalQuestions += ls.TotalQuestions
		if dst, ok := levels[curriculum.Level(level)]; ok {
			ls.Level = dst.Level
			ls.Topics = dst.Topics
			if ls.TotalQuestions > 0 {
				ls.AverageMarks = roundAverage(float64(ls.TotalMarks) / float64(ls.TotalQuestions))
			}
			*dst = ls
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate question stats: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT subject_level, t, count(*)
		 FROM questions, unnest(topics) AS t
		 GROUP BY subject_level, t`)
	if err != nil {
		return Stats{}, fmt.Errorf("topic stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var level string
		var tc TopicCount
		if err := rows.Scan(&level, &tc.Topic, &tc.Count); err != nil {
			return Stats{}, fmt.Errorf("scan topic stats: %w", err)
		}
		if ls, ok := levels[curriculum.Level(level)]; ok {
			ls.Topics = append(ls.Topics, tc)
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate topic stats: %w", err)
	}

	for _, level := range curriculum.Levels() {
		ls := levels[level]
		sortTopicCounts(ls.Topics)
		st.Levels = append(st.Levels, *ls)
	}
	return st, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	return s.pool.Ping(ctx)
}

func scanBatch(row pgx.Row) (*Batch, error) {
	var b Batch
	var level, status string
	var logs []byte
	if err := row.Scan(
		&b.ID, &b.PaperCode, &b.Year, &b.Session, &b.PaperNumber, &level,
		&b.QuestionText, &b.MarkschemeText, &status, &b.ErrorMessage,
		&b.ExtractedQuestions, &b.PairedQuestions, &b.TopicsMapped, &logs,
		&b.UploadedBy, &b.Attempt, &b.QuestionDigest, &b.MarkschemeDigest,
		&b.CreatedAt, &b.UpdatedAt, &b.CompletedAt,
	); err != nil {
		return nil, err
	}
	b.SubjectLevel = curriculum.Level(level)
	b.Status = Status(status)
	b.Logs = []LogEntry{}
	if len(logs) > 0 {
		if err := json.Unmarshal(logs, &b.Logs); err != nil {
			return nil, fmt.Errorf("decode logs: %w", err)
		}
	}
	return &b, nil
}

func scanQuestion(row pgx.Row) (*Question, error) {
	var q Question
	var level, difficulty string
	var lessonID, verifiedBy *string
	var subparts, steps []byte
	if err := row.Scan(
		&q.ID, &q.BatchID, &q.PaperCode, &q.Year, &q.Session, &level,
		&q.Topics, &lessonID, &q.QuestionNumber, &q.QuestionText, &subparts, &q.Answer, &steps,
		&q.TotalMarks, &difficulty, &q.RequiresGraph, &q.RequiresDiagram, &q.ImageDescription,
		&q.Verified, &verifiedBy, &q.CreatedAt, &q.UpdatedAt,
	); err != nil {
		return nil, err
	}
	q.SubjectLevel = curriculum.Level(level)
	q.Difficulty = classify.Difficulty(difficulty)
	if lessonID != nil {
		q.LessonID = *lessonID
	}
	if verifiedBy != nil {
		q.VerifiedBy = *verifiedBy
	}
	if q.Topics == nil {
		q.Topics = []string{}
	}
	if err := json.Unmarshal(subparts, &q.Subparts); err != nil {
		return nil, fmt.Errorf("decode subparts: %w", err)
	}
	if err := json.Unmarshal(steps, &q.SolutionSteps); err != nil {
		return nil, fmt.Errorf("decode solution steps: %w", err)
	}
	return &q, nil
}

func marshalQuestionJSON(q *Question) (string, string, error) {
	subparts := q.Subparts
	if subparts == nil {
		subparts = []Subpart{}
	}
	sb, err := json.Marshal(subparts)
	if err != nil {
		return "", "", fmt.Errorf("marshal subparts: %w", err)
	}
	steps, err := json.Marshal(nonNil(q.SolutionSteps))
	if err != nil {
		return "", "", fmt.Errorf("marshal solution steps: %w", err)
	}
	return string(sb), string(steps), nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// storeErr maps missing rows, malformed IDs and dangling batch references
// to ErrNotFound.
func storeErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateInvalidText, sqlStateForeignKey:
			return ErrNotFound
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
