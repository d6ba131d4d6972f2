package exercises

import (
	"context"
	"sort"
	"time"

	"github.com/letitbeat/fitracker/internal/telemetry/tracing"

	"go.opentelemetry.io/otel/attribute"
)

// scoreWindowDays is the trailing window both scoring and stats look at.
const scoreWindowDays = 30

// repeatDecayStep is how much the per-type weight drops with every further
// occurrence of the same type, newest first. No floor, the weight can go
// negative when a type is repeated often enough.
const repeatDecayStep = 0.1

type Analyzer struct {
	repo exercisesRepo
}

func NewAnalyzer(repo exercisesRepo) *Analyzer {
	return &Analyzer{
		repo: repo,
	}
}

// UserScore computes the user's points over the trailing 30 days.
//
// Every exercise is worth its duration in minutes (integer division) plus
// the burnt calories, times the type multiplier. Repeating the same type
// within the window is worth 10% less per repetition, applied in recency
// order, so the newest occurrence of a type always carries full weight.
// The result can be zero or negative, the ranking filters those out.
func (a *Analyzer) UserScore(ctx context.Context, userID int, now time.Time) (_ float64, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "analyzer.exercises.userscore")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("user.id", userID))

	from := now.AddDate(0, 0, -scoreWindowDays)
	userExercises, err := a.repo.ListAll(ctx, ExerciseParams{
		UserID: userID,
		From:   &from,
	})
	if err != nil {
		return 0, err
	}

	// newest first, the decay below depends on this order
	sort.Slice(userExercises, func(i, j int) bool {
		return userExercises[i].StartTime.After(userExercises[j].StartTime)
	})

	weights := make(map[ExerciseType]float64)
	var score float64
	for _, e := range userExercises {
		points := float64(e.Duration/60 + e.Calories)
		weight, seen := weights[e.Type]
		if !seen {
			weight = 1.0
		}
		weights[e.Type] = weight - repeatDecayStep
		score += points * float64(e.Type.Multiplier()) * weight
	}

	return score, nil
}

// Ranking orders the given users by their score, highest first. Users with
// a score of zero or less are left out. Duplicated ids are counted once.
// Ties order by ascending user id.
func (a *Analyzer) Ranking(ctx context.Context, userIDs []int, now time.Time) (_ []int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "analyzer.exercises.ranking")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("users", len(userIDs)))

	scoreByUser := make(map[int]float64, len(userIDs))
	for _, userID := range userIDs {
		if _, ok := scoreByUser[userID]; ok {
			continue
		}
		score, err := a.UserScore(ctx, userID, now)
		if err != nil {
			return nil, err
		}
		if score > 0 {
			scoreByUser[userID] = score
		}
	}

	ranked := make([]int, 0, len(scoreByUser))
	for userID := range scoreByUser {
		ranked = append(ranked, userID)
	}
	sort.Slice(ranked, func(i, j int) bool {
		si, sj := scoreByUser[ranked[i]], scoreByUser[ranked[j]]
		if si == sj {
			return ranked[i] < ranked[j]
		}
		return si > sj
	})

	return ranked, nil
}

// UserStats counts the user's exercises of the trailing 30 days per type.
// Types never performed are present with a zero count, so the result always
// has exactly one entry per exercise type.
func (a *Analyzer) UserStats(ctx context.Context, userID int, now time.Time) (_ map[ExerciseType]int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "analyzer.exercises.userstats")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("user.id", userID))

	from := now.AddDate(0, 0, -scoreWindowDays)
	userExercises, err := a.repo.ListAll(ctx, ExerciseParams{
		UserID: userID,
		From:   &from,
	})
	if err != nil {
		return nil, err
	}

	stats := make(map[ExerciseType]int, len(typeMultipliers))
	for _, e := range userExercises {
		stats[e.Type]++
	}
	for _, t := range AllTypes() {
		if _, ok := stats[t]; !ok {
			stats[t] = 0
		}
	}

	return stats, nil
}
