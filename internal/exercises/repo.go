package exercises

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/letitbeat/fitracker/internal/telemetry/tracing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
)

type ExerciseParams struct {
	UserID      int
	Type        ExerciseType
	Description string
	From        *time.Time // inclusive
	To          *time.Time // exclusive
}

type ListParams struct {
	ExerciseParams
	Page int
	Size int
}

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

func (r *Repo) Add(ctx context.Context, exercise Exercise) (_ *Exercise, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.exercises.add")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := r.db.Query(
		ctx,
		`INSERT INTO exercise
				(user_id, type, description, start_time, duration, distance, calories)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id;`,
		exercise.UserID, exercise.Type, exercise.Description,
		exercise.StartTime, exercise.Duration, exercise.Distance, exercise.Calories,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !rows.Next() {
		return nil, errors.New("unexpected error [no rows next]")
	}

	var id int
	if err := rows.Scan(&id); err != nil {
		return nil, fmt.Errorf("rows scan: %w", err)
	}

	span.SetAttributes(attribute.Int("exercise.id", id))

	exercise.ID = id
	return &exercise, nil
}

func (r *Repo) Update(ctx context.Context, exercise *Exercise) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.exercises.update")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("id", exercise.ID))

	tag, err := r.db.Exec(
		ctx,
		`UPDATE exercise
			SET user_id = $1, type = $2, description = $3, start_time = $4,
				duration = $5, distance = $6, calories = $7
			WHERE id = $8;`,
		exercise.UserID, exercise.Type, exercise.Description, exercise.StartTime,
		exercise.Duration, exercise.Distance, exercise.Calories, exercise.ID,
	)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return ErrExerciseNotFound
	}

	return nil
}

func (r *Repo) Delete(ctx context.Context, id int) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.exercises.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("id", id))

	tag, err := r.db.Exec(
		ctx,
		`DELETE FROM exercise WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrExerciseNotFound
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id int) (_ *Exercise, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.exercises.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("id", id))

	rows, err := r.db.Query(
		ctx,
		`SELECT id, user_id, type, description, start_time, duration, distance, calories
			FROM exercise
			WHERE id = $1;`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	found, err := r.rows2exercises(rows)
	if err != nil {
		return nil, err
	}

	if len(found) != 1 {
		return nil, ErrExerciseNotFound
	}

	return &found[0], nil
}

// ListAll returns all exercises matching the given params, newest first.
// The From bound is inclusive, the To bound exclusive; either can be nil.
// Description matching is case-insensitive.
func (r *Repo) ListAll(ctx context.Context, params ExerciseParams) (_ []Exercise, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.exercises.listall")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("user_id", params.UserID))
	span.SetAttributes(attribute.String("type", string(params.Type)))
	if params.From != nil {
		span.SetAttributes(attribute.String("from", params.From.String()))
	}
	if params.To != nil {
		span.SetAttributes(attribute.String("to", params.To.String()))
	}

	rows, err := r.db.Query(
		ctx,
		`SELECT id, user_id, type, description, start_time, duration, distance, calories
			FROM exercise
				WHERE ($1::integer = 0 OR user_id = $1)
				AND ($2::text = '' OR type = $2)
				AND ($3::text = '' OR LOWER(description) = LOWER($3))
				AND ($4::timestamp IS NULL OR start_time >= $4)
				AND ($5::timestamp IS NULL OR start_time < $5)
			ORDER BY start_time DESC;`,
		params.UserID, params.Type, params.Description,
		params.From, params.To,
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	found, err := r.rows2exercises(rows)
	if err != nil {
		return nil, fmt.Errorf("rows2exercises: %w", err)
	}
	return found, nil
}

// List is like ListAll but returns one page, together with the total count.
func (r *Repo) List(ctx context.Context, params ListParams) (_ []Exercise, total int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.exercises.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("page", params.Page))
	span.SetAttributes(attribute.Int("size", params.Size))

	if params.Page < 1 {
		return nil, -1, errors.New("page must be greater than 0")
	}
	if params.Size < 1 {
		return nil, -1, errors.New("size must be greater than 0")
	}

	countAll, err := r.Count(ctx, params)
	if err != nil {
		return nil, -1, err
	}

	limit := params.Size
	offset := (params.Page - 1) * params.Size
	if offset > countAll {
		offset = countAll
	}

	rows, err := r.db.Query(
		ctx,
		`SELECT id, user_id, type, description, start_time, duration, distance, calories
			FROM exercise
				WHERE ($1::integer = 0 OR user_id = $1)
				AND ($2::text = '' OR type = $2)
				AND ($3::text = '' OR LOWER(description) = LOWER($3))
			ORDER BY start_time DESC
			LIMIT $4
			OFFSET $5;`,
		params.UserID, params.Type, params.Description,
		limit, offset,
	)
	if err != nil {
		return nil, -1, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, -1, err
	}

	found, err := r.rows2exercises(rows)
	if err != nil {
		return nil, -1, err
	}
	return found, countAll, nil
}

func (r *Repo) Count(ctx context.Context, params ListParams) (_ int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.exercises.count")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := r.db.Query(ctx, `
		SELECT COUNT(*) FROM exercise
			WHERE ($1::integer = 0 OR user_id = $1)
			AND ($2::text = '' OR type = $2)
			AND ($3::text = '' OR LOWER(description) = LOWER($3))
			AND ($4::timestamp IS NULL OR start_time >= $4)
			AND ($5::timestamp IS NULL OR start_time < $5);
	`,
		params.UserID, params.Type, params.Description,
		params.From, params.To,
	)
	if err != nil {
		return -1, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return -1, err
	}

	if rows.Next() {
		var count int
		if err := rows.Scan(&count); err == nil {
			return count, nil
		}
	}

	return -1, errors.New("unexpected error, failed to get exercises count")
}

func (r *Repo) rows2exercises(rows pgx.Rows) ([]Exercise, error) {
	var found []Exercise
	for rows.Next() {
		var e Exercise
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Type, &e.Description,
			&e.StartTime, &e.Duration, &e.Distance, &e.Calories,
		); err != nil {
			return nil, err
		}
		found = append(found, e)
	}

	if found == nil {
		found = make([]Exercise, 0)
	}

	return found, nil
}
