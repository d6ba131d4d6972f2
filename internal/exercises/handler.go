package exercises

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coocood/freecache"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/letitbeat/fitracker/internal/telemetry/metrics"
	"github.com/letitbeat/fitracker/internal/telemetry/tracing"
	"github.com/letitbeat/fitracker/pkg"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=exercises_test

type exercisesRepo interface {
	Add(ctx context.Context, exercise Exercise) (*Exercise, error)
	Get(ctx context.Context, id int) (*Exercise, error)
	Update(ctx context.Context, exercise *Exercise) error
	Delete(ctx context.Context, id int) error
	ListAll(ctx context.Context, params ExerciseParams) (_ []Exercise, err error)
	List(ctx context.Context, params ListParams) (_ []Exercise, total int, err error)
	Count(ctx context.Context, params ListParams) (int, error)
}

// responseCacheTTL bounds how often ranking/stats get recomputed, both are
// pure functions of storage content and "now" so short staleness is fine.
const responseCacheTTL = 60 // seconds

const responseCacheSize = 1024 * 1024

type DeleteExerciseResponse struct {
	DeletedID int `json:"deletedId"`
}

type UpdateExerciseResponse struct {
	UpdatedID int `json:"updatedId"`
}

type ListResponse struct {
	Exercises []Exercise `json:"exercises"`
	Total     int        `json:"total"`
}

type RankingResponse struct {
	Ranking []int `json:"ranking"`
}

type TypeInfo struct {
	Type       ExerciseType `json:"type"`
	Multiplier int          `json:"multiplier"`
}

type Handler struct {
	repo      exercisesRepo
	validator *Validator
	analyzer  *Analyzer
	cache     *freecache.Cache
	metrics   *metrics.Manager
}

func NewHandler(repo exercisesRepo, metricsManager *metrics.Manager) *Handler {
	return &Handler{
		repo:      repo,
		validator: NewValidator(repo),
		analyzer:  NewAnalyzer(repo),
		cache:     freecache.NewCache(responseCacheSize),
		metrics:   metricsManager,
	}
}

// SetupRoutes registers all exercise routes on the given router. The
// rankingMiddleware (rate limiting, optional) wraps the ranking endpoint only.
func (handler *Handler) SetupRoutes(r *mux.Router, rankingMiddleware func(http.Handler) http.Handler) {
	r.HandleFunc("/exercise", handler.HandleAdd).Methods("POST", "OPTIONS").Name("new-exercise")
	r.HandleFunc("/exercise", handler.HandleListByDescription).Methods("GET", "OPTIONS").Name("exercises-by-description")
	r.HandleFunc("/exercise", handler.HandleUpdate).Methods("PUT", "OPTIONS").Name("update-exercise")
	r.HandleFunc("/exercise/types", handler.HandleTypes).Methods("GET", "OPTIONS").Name("exercise-types")
	r.HandleFunc("/exercise/list/page/{page}/size/{size}", handler.HandleList).Methods("GET", "OPTIONS").Name("list-exercises")
	r.HandleFunc("/exercise/user/{userId}", handler.HandleUserExercises).Methods("GET", "OPTIONS").Name("user-exercises")
	r.HandleFunc("/exercise/{id}", handler.HandleGet).Methods("GET", "OPTIONS").Name("get-exercise")
	r.HandleFunc("/exercise/{id}", handler.HandleDelete).Methods("DELETE", "OPTIONS").Name("delete-exercise")

	rankingHandler := http.Handler(http.HandlerFunc(handler.HandleRanking))
	if rankingMiddleware != nil {
		rankingHandler = rankingMiddleware(rankingHandler)
	}
	r.Handle("/ranking", rankingHandler).Methods("GET", "OPTIONS").Name("ranking")

	r.HandleFunc("/stats/user/{userId}", handler.HandleStats).Methods("GET", "OPTIONS").Name("user-stats")
}

func (handler *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.exercises.new")
	defer span.End()

	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "invalid content type", http.StatusBadRequest)
		return
	}

	var input ExerciseInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		log.Tracef("new exercise, unmarshal json params: %s", err)
		http.Error(w, "add exercise failed", http.StatusBadRequest)
		return
	}

	if err := handler.validator.ValidateInput(input); err != nil {
		handler.metrics.CounterValidationFailures.Inc()
		handler.writeError(w, err)
		return
	}

	exercise := input.Exercise()
	exercise.ID = 0 // id is storage-assigned

	if err := handler.validator.ValidateTimespan(ctx, exercise); err != nil {
		handler.writeError(w, err)
		return
	}

	addedExercise, err := handler.repo.Add(ctx, exercise)
	if err != nil {
		log.Errorf("failed to add new exercise for user %d: %s", exercise.UserID, err)
		http.Error(w, "error, failed to add new exercise", http.StatusInternalServerError)
		return
	}

	addedExJson, err := json.Marshal(addedExercise)
	if err != nil {
		log.Errorf("failed to marshal new exercise: %s", err)
		http.Error(w, "error, failed to add new exercise", http.StatusInternalServerError)
		return
	}

	handler.metrics.CounterExercisesAdded.Inc()
	log.Debugf("new exercise added: %s", addedExJson)
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, addedExJson, http.StatusCreated)
}

func (handler *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.exercises.get")
	defer span.End()

	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	e, err := handler.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrExerciseNotFound) {
			http.Error(w, "exercise not found", http.StatusNotFound)
			return
		}
		log.Errorf("failed to get exercise %d: %s", id, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	exJson, err := json.Marshal(e)
	if err != nil {
		log.Errorf("failed to marshal exercise: %s", err)
		http.Error(w, "failed to marshal exercise", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, exJson, http.StatusOK)
}

func (handler *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.exercises.update")
	defer span.End()

	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "invalid content type", http.StatusBadRequest)
		return
	}

	var input ExerciseInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		log.Errorf("update exercise, unmarshal json params: %s", err)
		http.Error(w, "update exercise failed", http.StatusBadRequest)
		return
	}

	if input.ID == nil || *input.ID == 0 {
		http.Error(w, "error, exercise id empty", http.StatusBadRequest)
		return
	}

	if err := handler.validator.ValidateInput(input); err != nil {
		handler.metrics.CounterValidationFailures.Inc()
		handler.writeError(w, err)
		return
	}

	exercise := input.Exercise()

	currentExercise, err := handler.repo.Get(ctx, exercise.ID)
	if err != nil {
		if errors.Is(err, ErrExerciseNotFound) {
			log.Debugf("exercise %d not found", exercise.ID)
			http.Error(w, "exercise not found", http.StatusNotFound)
			return
		}
		log.Errorf("failed to get exercise %d: %s", exercise.ID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// the exercise type is immutable once created
	if exercise.Type != currentExercise.Type {
		handler.metrics.CounterValidationFailures.Inc()
		handler.writeError(w, &ValidationError{
			Field:  "type",
			Reason: "exercise type cannot be changed, expected " + string(currentExercise.Type),
		})
		return
	}

	if err := handler.validator.ValidateTimespan(ctx, exercise); err != nil {
		handler.writeError(w, err)
		return
	}

	if err := handler.repo.Update(ctx, &exercise); err != nil {
		log.Errorf("failed to update exercise %d: %s", exercise.ID, err)
		handler.writeError(w, err)
		return
	}

	updateRespJson, err := json.Marshal(UpdateExerciseResponse{
		UpdatedID: exercise.ID,
	})
	if err != nil {
		log.Errorf("failed to marshal update response: %s", err)
		http.Error(w, "failed to marshal update response", http.StatusInternalServerError)
		return
	}

	handler.metrics.CounterExercisesUpdated.Inc()
	log.Debugf("exercise updated: user [%d]: %d", exercise.UserID, exercise.ID)
	pkg.WriteJSONResponseOK(w, string(updateRespJson))
}

func (handler *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.exercises.delete")
	defer span.End()

	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := handler.repo.Get(ctx, id); err != nil {
		if errors.Is(err, ErrExerciseNotFound) {
			log.Debugf("exercise %d not found", id)
			http.Error(w, "exercise not found", http.StatusNotFound)
			return
		}
		log.Errorf("failed to get exercise %d: %s", id, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := handler.repo.Delete(ctx, id); err != nil {
		log.Errorf("failed to delete exercise %d: %s", id, err)
		http.Error(w, "exercise not deleted", http.StatusInternalServerError)
		return
	}

	deleteRespJson, err := json.Marshal(DeleteExerciseResponse{
		DeletedID: id,
	})
	if err != nil {
		log.Errorf("failed to marshal delete response: %s", err)
		http.Error(w, "failed to marshal delete response", http.StatusInternalServerError)
		return
	}

	handler.metrics.CounterExercisesDeleted.Inc()
	pkg.WriteJSONResponseOK(w, string(deleteRespJson))
}

// HandleListByDescription returns the exercises whose description equals the
// given one, case-insensitive. An empty description yields an empty list.
func (handler *Handler) HandleListByDescription(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.exercises.bydescription")
	defer span.End()

	description := r.URL.Query().Get("description")
	if description == "" {
		pkg.WriteJSONResponseOK(w, "[]")
		return
	}

	found, err := handler.repo.ListAll(ctx, ExerciseParams{Description: description})
	if err != nil {
		log.Errorf("list exercises by description: %s", err)
		http.Error(w, "failed to get exercises", http.StatusInternalServerError)
		return
	}

	foundJson, err := json.Marshal(found)
	if err != nil {
		log.Errorf("marshal exercises error: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, foundJson, http.StatusOK)
}

// HandleUserExercises returns the exercises of one user, optionally filtered
// by type and by calendar day (date in yyyy-MM-dd form).
func (handler *Handler) HandleUserExercises(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.exercises.userexercises")
	defer span.End()

	userID, err := pathID(r, "userId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	params := ExerciseParams{UserID: userID}

	if typeStr := r.URL.Query().Get("type"); typeStr != "" {
		exType := ExerciseType(typeStr)
		if !exType.Known() {
			http.Error(w, "unknown exercise type: "+pkg.SanitizeLogOutput(typeStr), http.StatusBadRequest)
			return
		}
		params.Type = exType
	}

	if dateStr := r.URL.Query().Get("date"); dateStr != "" {
		day, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			http.Error(w, "date must be in the format yyyy-MM-dd", http.StatusBadRequest)
			return
		}
		nextDay := day.Add(24 * time.Hour)
		params.From = &day
		params.To = &nextDay
	}

	found, err := handler.repo.ListAll(ctx, params)
	if err != nil {
		log.Errorf("list exercises for user %d: %s", userID, err)
		http.Error(w, "failed to get exercises", http.StatusInternalServerError)
		return
	}

	foundJson, err := json.Marshal(found)
	if err != nil {
		log.Errorf("marshal exercises error: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, foundJson, http.StatusOK)
}

func (handler *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.exercises.list")
	defer span.End()

	vars := mux.Vars(r)
	page, err := strconv.Atoi(vars["page"])
	if err != nil {
		log.Tracef("handle list exercises, <page> param: %s", err)
		http.Error(w, "parse form error, parameter <page>", http.StatusBadRequest)
		return
	}
	size, err := strconv.Atoi(vars["size"])
	if err != nil {
		log.Tracef("handle list exercises, <size> param: %s", err)
		http.Error(w, "parse form error, parameter <size>", http.StatusBadRequest)
		return
	}

	if page < 1 {
		http.Error(w, "invalid page (has to be non-zero value)", http.StatusBadRequest)
		return
	}
	if size < 1 {
		http.Error(w, "invalid size (has to be non-zero value)", http.StatusBadRequest)
		return
	}

	listParams := ListParams{
		Page: page,
		Size: size,
	}
	if userIDStr := r.URL.Query().Get("userId"); userIDStr != "" {
		userID, err := strconv.Atoi(userIDStr)
		if err != nil {
			http.Error(w, "failed to parse userId param", http.StatusBadRequest)
			return
		}
		listParams.UserID = userID
	}

	found, total, err := handler.repo.List(ctx, listParams)
	if err != nil {
		log.Errorf("list exercises error: %s", err)
		http.Error(w, "failed to get exercises", http.StatusInternalServerError)
		return
	}

	listRespJson, err := json.Marshal(ListResponse{
		Exercises: found,
		Total:     total,
	})
	if err != nil {
		log.Errorf("marshal exercises error: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, listRespJson, http.StatusOK)
}

// HandleRanking orders the requested users by score, best first. Users
// without a positive score are left out of the result.
func (handler *Handler) HandleRanking(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.exercises.ranking")
	defer span.End()

	userIDsParam := r.URL.Query().Get("userIds")
	if userIDsParam == "" {
		rankingJson, _ := json.Marshal(RankingResponse{Ranking: []int{}})
		pkg.WriteResponseBytes(w, pkg.ContentType.JSON, rankingJson, http.StatusOK)
		return
	}

	var userIDs []int
	for _, idStr := range strings.Split(userIDsParam, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(idStr))
		if err != nil {
			http.Error(w, "failed to parse userIds param", http.StatusBadRequest)
			return
		}
		userIDs = append(userIDs, id)
	}

	cacheKey := []byte("ranking:" + userIDsParam)
	if cached, err := handler.cache.Get(cacheKey); err == nil {
		pkg.WriteResponseBytes(w, pkg.ContentType.JSON, cached, http.StatusOK)
		return
	}

	ranked, err := handler.analyzer.Ranking(ctx, userIDs, time.Now())
	if err != nil {
		log.Errorf("failed to get ranking for users %v: %s", userIDs, err)
		http.Error(w, "failed to get ranking", http.StatusInternalServerError)
		return
	}

	rankingJson, err := json.Marshal(RankingResponse{Ranking: ranked})
	if err != nil {
		log.Errorf("failed to marshal ranking response: %s", err)
		http.Error(w, "failed to marshal ranking response", http.StatusInternalServerError)
		return
	}

	if err := handler.cache.Set(cacheKey, rankingJson, responseCacheTTL); err != nil {
		log.Tracef("failed to cache ranking response: %s", err)
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, rankingJson, http.StatusOK)
}

// HandleStats returns, for one user, how often each exercise type was
// performed in the past 30 days. Every type is present, unperformed ones
// with a zero count.
func (handler *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.exercises.stats")
	defer span.End()

	userID, err := pathID(r, "userId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cacheKey := []byte("stats:" + strconv.Itoa(userID))
	if cached, err := handler.cache.Get(cacheKey); err == nil {
		pkg.WriteResponseBytes(w, pkg.ContentType.JSON, cached, http.StatusOK)
		return
	}

	stats, err := handler.analyzer.UserStats(ctx, userID, time.Now())
	if err != nil {
		log.Errorf("failed to get stats for user %d: %s", userID, err)
		http.Error(w, "failed to get user stats", http.StatusInternalServerError)
		return
	}

	statsJson, err := json.Marshal(stats)
	if err != nil {
		log.Errorf("failed to marshal stats response: %s", err)
		http.Error(w, "failed to marshal stats response", http.StatusInternalServerError)
		return
	}

	if err := handler.cache.Set(cacheKey, statsJson, responseCacheTTL); err != nil {
		log.Tracef("failed to cache stats response: %s", err)
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, statsJson, http.StatusOK)
}

// HandleTypes lists the closed exercise type enumeration with multipliers.
func (handler *Handler) HandleTypes(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.exercises.types")
	defer span.End()

	types := make([]TypeInfo, 0, len(typeMultipliers))
	for _, t := range AllTypes() {
		types = append(types, TypeInfo{Type: t, Multiplier: t.Multiplier()})
	}

	typesJson, err := json.Marshal(types)
	if err != nil {
		log.Errorf("failed to marshal exercise types: %s", err)
		http.Error(w, "failed to marshal exercise types", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, typesJson, http.StatusOK)
}

func (handler *Handler) writeError(w http.ResponseWriter, err error) {
	var validationErr *ValidationError
	var conflictErr *ConflictError
	switch {
	case errors.As(err, &validationErr):
		http.Error(w, validationErr.Error(), http.StatusBadRequest)
	case errors.As(err, &conflictErr):
		handler.metrics.CounterExerciseConflicts.Inc()
		http.Error(w, conflictErr.Error(), http.StatusConflict)
	case errors.Is(err, ErrExerciseNotFound):
		http.Error(w, "exercise not found", http.StatusNotFound)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func pathID(r *http.Request, name string) (int, error) {
	idStr := mux.Vars(r)[name]
	if idStr == "" {
		return 0, errors.New("error, " + name + " empty")
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return 0, errors.New("error, " + name + " NaN")
	}
	return id, nil
}
