package exercises

import "time"

// ExerciseType is the closed set of supported exercise kinds. Each type
// carries a fixed multiplication factor used by the score calculation.
type ExerciseType string

const (
	TypeRunning          ExerciseType = "RUNNING"
	TypeCycling          ExerciseType = "CYCLING"
	TypeSwimming         ExerciseType = "SWIMMING"
	TypeRowing           ExerciseType = "ROWING"
	TypeWalking          ExerciseType = "WALKING"
	TypeCircuitTraining  ExerciseType = "CIRCUIT_TRAINING"
	TypeStrengthTraining ExerciseType = "STRENGTH_TRAINING"
	TypeFitnessCourse    ExerciseType = "FITNESS_COURSE"
	TypeSports           ExerciseType = "SPORTS"
	TypeOther            ExerciseType = "OTHER"
)

var typeMultipliers = map[ExerciseType]int{
	TypeRunning:          2,
	TypeCycling:          2,
	TypeSwimming:         3,
	TypeRowing:           2,
	TypeWalking:          1,
	TypeCircuitTraining:  4,
	TypeStrengthTraining: 3,
	TypeFitnessCourse:    2,
	TypeSports:           3,
	TypeOther:            1,
}

// AllTypes returns every exercise type, in a fixed order.
func AllTypes() []ExerciseType {
	return []ExerciseType{
		TypeRunning, TypeCycling, TypeSwimming, TypeRowing, TypeWalking,
		TypeCircuitTraining, TypeStrengthTraining, TypeFitnessCourse,
		TypeSports, TypeOther,
	}
}

func (t ExerciseType) Known() bool {
	_, ok := typeMultipliers[t]
	return ok
}

func (t ExerciseType) Multiplier() int {
	return typeMultipliers[t]
}

// Exercise is one performed exercise instance.
type Exercise struct {
	ID          int          `json:"id"`
	UserID      int          `json:"userId"`
	Type        ExerciseType `json:"type"`
	Description string       `json:"description"`
	StartTime   time.Time    `json:"startTime"`
	Duration    int          `json:"duration"` // seconds
	Distance    int          `json:"distance"`
	Calories    int          `json:"calories"`
}

// EndTime is the instant the exercise finished.
func (e Exercise) EndTime() time.Time {
	return e.StartTime.Add(time.Duration(e.Duration) * time.Second)
}

// ExerciseInput is the wire form of an exercise on create/update. Fields
// are pointers so that an absent field can be told apart from a zero value
// when validating the input.
type ExerciseInput struct {
	ID          *int          `json:"id,omitempty"`
	UserID      *int          `json:"userId"`
	Type        *ExerciseType `json:"type"`
	Description *string       `json:"description"`
	StartTime   *time.Time    `json:"startTime"`
	Duration    *int          `json:"duration"`
	Distance    *int          `json:"distance"`
	Calories    *int          `json:"calories"`
}

// Exercise converts a validated input into an entity. Must be called only
// after ValidateInput has passed, all non-id fields are dereferenced.
func (in ExerciseInput) Exercise() Exercise {
	e := Exercise{
		UserID:      *in.UserID,
		Type:        *in.Type,
		Description: *in.Description,
		StartTime:   *in.StartTime,
		Duration:    *in.Duration,
		Distance:    *in.Distance,
		Calories:    *in.Calories,
	}
	if in.ID != nil {
		e.ID = *in.ID
	}
	return e
}
