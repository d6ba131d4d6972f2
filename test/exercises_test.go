package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letitbeat/fitracker/internal/exercises"
)

func (s *IntegrationTestSuite) deleteAllExercises(ctx context.Context) {
	_, err := s.dbPool.Exec(ctx, "DELETE FROM exercise")
	require.NoError(s.T(), err)
}

type exercisePayload struct {
	ID          int    `json:"id,omitempty"`
	UserID      int    `json:"userId"`
	Type        string `json:"type"`
	Description string `json:"description"`
	StartTime   string `json:"startTime"`
	Duration    int    `json:"duration"`
	Distance    int    `json:"distance"`
	Calories    int    `json:"calories"`
}

func (s *IntegrationTestSuite) sendExercise(
	ctx context.Context,
	method string,
	payload exercisePayload,
) *http.Response {
	payloadJson, err := json.Marshal(payload)
	require.NoError(s.T(), err)

	req, err := http.NewRequestWithContext(
		ctx,
		method, fmt.Sprintf("%s/exercise", serverEndpoint),
		bytes.NewReader(payloadJson),
	)
	require.NoError(s.T(), err)
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	require.NoError(s.T(), err)
	return resp
}

func (s *IntegrationTestSuite) newExerciseRequest(
	ctx context.Context,
	payload exercisePayload,
) exercises.Exercise {
	resp := s.sendExercise(ctx, "POST", payload)
	defer resp.Body.Close()
	require.Equal(s.T(), http.StatusCreated, resp.StatusCode)

	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(s.T(), err)

	var addedExercise exercises.Exercise
	require.NoError(s.T(), json.Unmarshal(respBytes, &addedExercise))
	return addedExercise
}

func (s *IntegrationTestSuite) getJSON(ctx context.Context, path string, target any) int {
	req, err := http.NewRequestWithContext(
		ctx,
		"GET", serverEndpoint+path,
		nil,
	)
	require.NoError(s.T(), err)
	req.Header.Set("User-Agent", "test-agent")

	resp, err := s.httpClient.Do(req)
	require.NoError(s.T(), err)
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && target != nil {
		respBytes, err := io.ReadAll(resp.Body)
		require.NoError(s.T(), err)
		require.NoError(s.T(), json.Unmarshal(respBytes, target))
	}
	return resp.StatusCode
}

func (s *IntegrationTestSuite) TestExercises_CRUD() {
	ctx := context.Background()
	s.deleteAllExercises(ctx)

	payload := exercisePayload{
		UserID:      1,
		Type:        "RUNNING",
		Description: "morning run",
		StartTime:   "2026-02-01T10:00:00Z",
		Duration:    1800,
		Distance:    5000,
		Calories:    300,
	}

	added := s.newExerciseRequest(ctx, payload)
	assert.NotZero(s.T(), added.ID)
	assert.Equal(s.T(), 1, added.UserID)
	assert.Equal(s.T(), exercises.TypeRunning, added.Type)

	// same start time conflicts
	resp := s.sendExercise(ctx, "POST", payload)
	assert.Equal(s.T(), http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	// a start inside the stored interval conflicts too
	overlapping := payload
	overlapping.StartTime = "2026-02-01T10:10:00Z"
	resp = s.sendExercise(ctx, "POST", overlapping)
	assert.Equal(s.T(), http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	// right at the end of the stored interval is fine
	afterwards := payload
	afterwards.StartTime = "2026-02-01T10:30:00Z"
	resp = s.sendExercise(ctx, "POST", afterwards)
	assert.Equal(s.T(), http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	var fetched exercises.Exercise
	status := s.getJSON(ctx, fmt.Sprintf("/exercise/%d", added.ID), &fetched)
	require.Equal(s.T(), http.StatusOK, status)
	assert.Equal(s.T(), added.ID, fetched.ID)
	assert.Equal(s.T(), "morning run", fetched.Description)

	// type is immutable
	typeChange := payload
	typeChange.ID = added.ID
	typeChange.Type = "CYCLING"
	resp = s.sendExercise(ctx, "PUT", typeChange)
	assert.Equal(s.T(), http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	// regular update is fine, conflict check skips the record itself
	update := payload
	update.ID = added.ID
	update.Duration = 2400
	resp = s.sendExercise(ctx, "PUT", update)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	status = s.getJSON(ctx, fmt.Sprintf("/exercise/%d", added.ID), &fetched)
	require.Equal(s.T(), http.StatusOK, status)
	assert.Equal(s.T(), 2400, fetched.Duration)

	// delete, then the exercise is gone
	req, err := http.NewRequestWithContext(
		ctx,
		"DELETE", fmt.Sprintf("%s/exercise/%d", serverEndpoint, added.ID),
		nil,
	)
	require.NoError(s.T(), err)
	req.Header.Set("User-Agent", "test-agent")
	deleteResp, err := s.httpClient.Do(req)
	require.NoError(s.T(), err)
	require.Equal(s.T(), http.StatusOK, deleteResp.StatusCode)
	_ = deleteResp.Body.Close()

	status = s.getJSON(ctx, fmt.Sprintf("/exercise/%d", added.ID), nil)
	assert.Equal(s.T(), http.StatusNotFound, status)
}

func (s *IntegrationTestSuite) TestExercises_ValidationOrder() {
	ctx := context.Background()

	resp := s.sendExercise(ctx, "POST", exercisePayload{
		UserID:      3,
		Type:        "RUNNING",
		Description: "run around the block 5 times",
		StartTime:   "2026-02-02T10:00:00Z",
		Duration:    600,
		Calories:    100,
	})
	defer resp.Body.Close()
	require.Equal(s.T(), http.StatusBadRequest, resp.StatusCode)

	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(s.T(), err)
	assert.Contains(s.T(), string(respBytes), "description")
}

func (s *IntegrationTestSuite) TestExercises_UserFilterAndQueries() {
	ctx := context.Background()
	s.deleteAllExercises(ctx)

	s.newExerciseRequest(ctx, exercisePayload{
		UserID: 5, Type: "RUNNING", Description: "morning run",
		StartTime: "2026-03-01T08:00:00Z", Duration: 1800, Distance: 5000, Calories: 300,
	})
	s.newExerciseRequest(ctx, exercisePayload{
		UserID: 5, Type: "SWIMMING", Description: "pool laps",
		StartTime: "2026-03-01T18:00:00Z", Duration: 1200, Distance: 1000, Calories: 250,
	})
	s.newExerciseRequest(ctx, exercisePayload{
		UserID: 5, Type: "RUNNING", Description: "evening run",
		StartTime: "2026-03-02T19:00:00Z", Duration: 1800, Distance: 5000, Calories: 300,
	})

	var found []exercises.Exercise
	status := s.getJSON(ctx, "/exercise/user/5", &found)
	require.Equal(s.T(), http.StatusOK, status)
	assert.Len(s.T(), found, 3)

	status = s.getJSON(ctx, "/exercise/user/5?type=RUNNING", &found)
	require.Equal(s.T(), http.StatusOK, status)
	assert.Len(s.T(), found, 2)

	status = s.getJSON(ctx, "/exercise/user/5?date=2026-03-01", &found)
	require.Equal(s.T(), http.StatusOK, status)
	assert.Len(s.T(), found, 2)

	status = s.getJSON(ctx, "/exercise/user/5?type=RUNNING&date=2026-03-01", &found)
	require.Equal(s.T(), http.StatusOK, status)
	assert.Len(s.T(), found, 1)

	status = s.getJSON(ctx, "/exercise?description=POOL+LAPS", &found)
	require.Equal(s.T(), http.StatusOK, status)
	require.Len(s.T(), found, 1)
	assert.Equal(s.T(), "pool laps", found[0].Description)

	var listResp exercises.ListResponse
	status = s.getJSON(ctx, "/exercise/list/page/1/size/2", &listResp)
	require.Equal(s.T(), http.StatusOK, status)
	assert.Equal(s.T(), 3, listResp.Total)
	assert.Len(s.T(), listResp.Exercises, 2)

	var types []exercises.TypeInfo
	status = s.getJSON(ctx, "/exercise/types", &types)
	require.Equal(s.T(), http.StatusOK, status)
	assert.Len(s.T(), types, 10)
}

func (s *IntegrationTestSuite) TestExercises_RankingAndStats() {
	ctx := context.Background()
	s.deleteAllExercises(ctx)

	now := time.Now().UTC()
	recent := func(daysAgo int) string {
		return now.AddDate(0, 0, -daysAgo).Format(time.RFC3339)
	}

	// user 8 runs a lot, user 9 walks once, user 10 does nothing
	s.newExerciseRequest(ctx, exercisePayload{
		UserID: 8, Type: "RUNNING", Description: "long run",
		StartTime: recent(1), Duration: 3600, Distance: 10000, Calories: 700,
	})
	s.newExerciseRequest(ctx, exercisePayload{
		UserID: 8, Type: "RUNNING", Description: "short run",
		StartTime: recent(2), Duration: 1800, Distance: 5000, Calories: 300,
	})
	s.newExerciseRequest(ctx, exercisePayload{
		UserID: 9, Type: "WALKING", Description: "short walk",
		StartTime: recent(1), Duration: 600, Distance: 800, Calories: 40,
	})

	var rankingResp exercises.RankingResponse
	status := s.getJSON(ctx, "/ranking?userIds=8,9,10", &rankingResp)
	require.Equal(s.T(), http.StatusOK, status)
	assert.Equal(s.T(), []int{8, 9}, rankingResp.Ranking)

	var stats map[exercises.ExerciseType]int
	status = s.getJSON(ctx, "/stats/user/8", &stats)
	require.Equal(s.T(), http.StatusOK, status)
	require.Len(s.T(), stats, 10)
	assert.Equal(s.T(), 2, stats[exercises.TypeRunning])
	assert.Equal(s.T(), 0, stats[exercises.TypeWalking])

	status = s.getJSON(ctx, "/stats/user/10", &stats)
	require.Equal(s.T(), http.StatusOK, status)
	require.Len(s.T(), stats, 10)
	assert.Equal(s.T(), 0, stats[exercises.TypeRunning])
}
