package exercises

import (
	"context"
	"regexp"
	"time"

	"github.com/letitbeat/fitracker/internal/telemetry/tracing"

	"go.opentelemetry.io/otel/attribute"
)

// letters and spaces only, no digits, no punctuation, no multi-byte letters
var descriptionRe = regexp.MustCompile(`^[a-zA-Z ]*$`)

type Validator struct {
	repo exercisesRepo
}

func NewValidator(repo exercisesRepo) *Validator {
	return &Validator{
		repo: repo,
	}
}

// ValidateInput checks that every required field is present, in a fixed
// order so that the reported field is deterministic, and then that the
// description holds only letters and spaces.
func (v *Validator) ValidateInput(in ExerciseInput) error {
	switch {
	case in.UserID == nil:
		return &ValidationError{Field: "userId", Reason: "must not be null"}
	case in.Calories == nil:
		return &ValidationError{Field: "calories", Reason: "must not be null"}
	case in.Distance == nil:
		return &ValidationError{Field: "distance", Reason: "must not be null"}
	case in.Duration == nil:
		return &ValidationError{Field: "duration", Reason: "must not be null"}
	case in.StartTime == nil:
		return &ValidationError{Field: "startTime", Reason: "must not be null"}
	case in.Type == nil:
		return &ValidationError{Field: "type", Reason: "must not be null"}
	case in.Description == nil:
		return &ValidationError{Field: "description", Reason: "must not be null"}
	}

	if !in.Type.Known() {
		return &ValidationError{Field: "type", Reason: "unknown exercise type"}
	}

	if !descriptionRe.MatchString(*in.Description) {
		return &ValidationError{Field: "description", Reason: "only letters and spaces allowed"}
	}

	return nil
}

// ValidateTimespan fails with ConflictError when the candidate start time
// equals the start of, or falls strictly inside, another exercise of the
// same user on the same calendar day. Only the candidate's start is tested;
// an existing start inside the candidate's interval is not a conflict.
func (v *Validator) ValidateTimespan(ctx context.Context, exercise Exercise) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "validator.exercises.timespan")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("user.id", exercise.UserID))

	dayStart := exercise.StartTime.Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)
	sameDay, err := v.repo.ListAll(ctx, ExerciseParams{
		UserID: exercise.UserID,
		From:   &dayStart,
		To:     &dayEnd,
	})
	if err != nil {
		return err
	}

	for _, stored := range sameDay {
		if exercise.ID != 0 && stored.ID == exercise.ID {
			// update: a record never conflicts with its own stored interval
			continue
		}
		if exercise.StartTime.Equal(stored.StartTime) ||
			(exercise.StartTime.After(stored.StartTime) && exercise.StartTime.Before(stored.EndTime())) {
			return &ConflictError{StartTime: exercise.StartTime}
		}
	}

	return nil
}
