package test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2beens/stridewatch/internal/api"
	"github.com/2beens/stridewatch/internal/eventlog"
	"github.com/2beens/stridewatch/internal/notify"
	"github.com/2beens/stridewatch/internal/workout"
)

// latitude step of roughly 1.5 m
const latStep = 0.0000135

// every test posts a higher step total, the pedometer never counts backwards
var stepTotal = 1000

func (s *IntegrationTestSuite) doRequest(ctx context.Context, method, path string, body any) (int, []byte) {
	t := s.T()

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = strings.NewReader(string(payload))
	}

	req, err := http.NewRequestWithContext(ctx, method, serverEndpoint+path, reqBody)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("X-Device-Secret", testDeviceSecret)

	resp, err := s.httpClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, respBytes
}

func (s *IntegrationTestSuite) status(ctx context.Context) api.WorkoutStatusResponse {
	code, body := s.doRequest(ctx, http.MethodGet, "/workout", nil)
	require.Equal(s.T(), http.StatusOK, code)

	var resp api.WorkoutStatusResponse
	require.NoError(s.T(), json.Unmarshal(body, &resp))
	return resp
}

func (s *IntegrationTestSuite) postSamples(ctx context.Context, from time.Time, n int) {
	samples := make([]workout.LocationSample, n)
	for i := range samples {
		samples[i] = workout.LocationSample{
			Latitude:           5.6037 + float64(i)*latStep,
			Longitude:          -0.1870,
			Altitude:           61 + float64(i)*0.2,
			HorizontalAccuracy: 5,
			Speed:              1.5,
			Course:             0,
			Timestamp:          from.Add(time.Duration(i) * time.Second),
		}
	}
	code, _ := s.doRequest(ctx, http.MethodPost, "/device/locations", api.LocationsRequest{Samples: samples})
	require.Equal(s.T(), http.StatusAccepted, code)
}

func (s *IntegrationTestSuite) postSteps(ctx context.Context, increment int) {
	stepTotal += increment
	code, _ := s.doRequest(ctx, http.MethodPost, "/device/steps", api.StepsRequest{Total: &stepTotal})
	require.Equal(s.T(), http.StatusAccepted, code)
}

// stopAndWaitForSummary stops the running workout and waits until it is saved.
func (s *IntegrationTestSuite) stopAndWaitForSummary(ctx context.Context) workout.Summary {
	t := s.T()

	code, _ := s.doRequest(ctx, http.MethodPost, "/workout/stop", nil)
	require.Equal(t, http.StatusOK, code)

	var summary workout.Summary
	require.Eventually(t, func() bool {
		if s.status(ctx).Workout.SavingInProgress {
			return false
		}
		code, body := s.doRequest(ctx, http.MethodGet, "/workout/summary", nil)
		if code != http.StatusOK {
			return false
		}
		require.NoError(t, json.Unmarshal(body, &summary))
		// a forced summary carries no id, the committed one replaces it
		return summary.FullySaved && summary.WorkoutID != ""
	}, 20*time.Second, 200*time.Millisecond)

	return summary
}

func (s *IntegrationTestSuite) route(ctx context.Context, workoutID string) []workout.LocationSample {
	code, body := s.doRequest(ctx, http.MethodGet, fmt.Sprintf("/workouts/%s/route", workoutID), nil)
	require.Equal(s.T(), http.StatusOK, code)

	var samples []workout.LocationSample
	require.NoError(s.T(), json.Unmarshal(body, &samples))
	return samples
}

func (s *IntegrationTestSuite) TestManualWorkout() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	t := s.T()

	code, _ := s.doRequest(ctx, http.MethodPost, "/workout/start", nil)
	require.Equal(t, http.StatusCreated, code)

	code, _ = s.doRequest(ctx, http.MethodPost, "/workout/start", nil)
	assert.Equal(t, http.StatusConflict, code)

	s.postSamples(ctx, time.Now(), 5)
	s.postSteps(ctx, 150)

	require.Eventually(t, func() bool {
		st := s.status(ctx).Workout
		return st.DistanceMeters > 0 && st.StepCount > 0
	}, 5*time.Second, 100*time.Millisecond)

	st := s.status(ctx).Workout
	assert.Equal(t, workout.StateRunning, st.State)
	assert.Equal(t, workout.ActivityWalking, st.ActivityKind)
	assert.False(t, st.DrivingPrompt)

	code, _ = s.doRequest(ctx, http.MethodPost, "/workout/pause", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, workout.StatePaused, s.status(ctx).Workout.State)
	code, _ = s.doRequest(ctx, http.MethodPost, "/workout/resume", nil)
	require.Equal(t, http.StatusOK, code)

	summary := s.stopAndWaitForSummary(ctx)
	require.NotEmpty(t, summary.WorkoutID)
	assert.Greater(t, summary.DistanceMeters, 0.0)
	assert.NotEmpty(t, summary.Metadata[workout.MetaDistance])
	assert.NotEmpty(t, summary.Metadata[workout.MetaDuration])

	code, body := s.doRequest(ctx, http.MethodGet, "/workouts", nil)
	require.Equal(t, http.StatusOK, code)
	var workouts []workout.CommittedWorkout
	require.NoError(t, json.Unmarshal(body, &workouts))

	var saved *workout.CommittedWorkout
	for i := range workouts {
		if workouts[i].ID == summary.WorkoutID {
			saved = &workouts[i]
		}
	}
	require.NotNil(t, saved, "workout %s not in history", summary.WorkoutID)
	assert.Equal(t, workout.ActivityWalking, saved.ActivityKind)
	assert.Equal(t, 5, saved.RoutePoints)
	assert.Equal(t, summary.Metadata[workout.MetaDistance], saved.Metadata[workout.MetaDistance])

	assert.Len(t, s.route(ctx, summary.WorkoutID), 5)

	code, _ = s.doRequest(ctx, http.MethodPost, "/workout/stop", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func (s *IntegrationTestSuite) TestDetectedWorkoutConfirmed() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	t := s.T()

	pubsub := s.rdb.Subscribe(ctx, notify.NotificationsChannel)
	defer pubsub.Close()
	_, err := pubsub.Receive(ctx)
	require.NoError(t, err)

	// a stationary signal opens a new activity episode
	code, _ := s.doRequest(ctx, http.MethodPost, "/device/motion", workout.ActivitySignal{Stationary: true})
	require.Equal(t, http.StatusAccepted, code)
	code, _ = s.doRequest(ctx, http.MethodPost, "/device/motion", workout.ActivitySignal{Walking: true})
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "buffering", s.status(ctx).Trigger.State)

	s.postSamples(ctx, time.Now(), 3)

	require.Eventually(t, func() bool {
		return s.status(ctx).Trigger.State == "prompting"
	}, 10*time.Second, 100*time.Millisecond)

	trigger := s.status(ctx).Trigger
	require.NotNil(t, trigger.Prompt)
	assert.Equal(t, 3, trigger.BufferedSamples)
	assert.Equal(t, []string{workout.PromptActionStart, workout.PromptActionIgnore}, trigger.Prompt.Actions)

	select {
	case msg := <-pubsub.Channel():
		var event notify.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
		assert.Equal(t, notify.EventPromptScheduled, event.Type)
		assert.Equal(t, trigger.Prompt.ID, event.PromptID)
	case <-time.After(5 * time.Second):
		t.Fatal("prompt notification not published")
	}

	code, _ = s.doRequest(ctx, http.MethodPost, "/workout/confirm", nil)
	require.Equal(t, http.StatusCreated, code)

	resp := s.status(ctx)
	assert.Equal(t, workout.StateRunning, resp.Workout.State)
	assert.Equal(t, "idle", resp.Trigger.State)
	assert.Nil(t, resp.Trigger.Prompt)

	// nothing pending any more
	code, _ = s.doRequest(ctx, http.MethodPost, "/workout/confirm", nil)
	assert.Equal(t, http.StatusConflict, code)

	s.postSamples(ctx, time.Now().Add(5*time.Second), 2)

	summary := s.stopAndWaitForSummary(ctx)
	require.NotEmpty(t, summary.WorkoutID)
	assert.Len(t, s.route(ctx, summary.WorkoutID), 5)
}

func (s *IntegrationTestSuite) TestTriggerToggle() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	t := s.T()

	disabled := false
	code, body := s.doRequest(ctx, http.MethodPut, "/workout/trigger", map[string]*bool{"enabled": &disabled})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"enabled":false`)

	code, _ = s.doRequest(ctx, http.MethodPost, "/device/motion", workout.ActivitySignal{Stationary: true})
	require.Equal(t, http.StatusAccepted, code)
	code, _ = s.doRequest(ctx, http.MethodPost, "/device/motion", workout.ActivitySignal{Running: true})
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "idle", s.status(ctx).Trigger.State)

	enabled := true
	code, _ = s.doRequest(ctx, http.MethodPut, "/workout/trigger", map[string]*bool{"enabled": &enabled})
	require.Equal(t, http.StatusOK, code)
	assert.True(t, s.status(ctx).Trigger.Enabled)
}

func (s *IntegrationTestSuite) TestEventLog() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	t := s.T()

	logrus.AddHook(eventlog.NewHook(eventlog.NewLog(s.rdb, "stridewatch:test:log", 50)))
	logrus.Infoln("integration: event log probe")

	code, body := s.doRequest(ctx, http.MethodGet, "/log", nil)
	require.Equal(t, http.StatusOK, code)

	var entries []string
	require.NoError(t, json.Unmarshal(body, &entries))
	require.NotEmpty(t, entries)

	found := false
	for _, entry := range entries {
		if strings.Contains(entry, "[INFO] integration: event log probe") {
			found = true
		}
	}
	assert.True(t, found, "probe entry missing from %v", entries)
}

func (s *IntegrationTestSuite) TestDeviceSecretRequired() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverEndpoint+"/workout", nil)
	require.NoError(s.T(), err)
	req.Header.Set("User-Agent", "test-agent")

	resp, err := s.httpClient.Do(req)
	require.NoError(s.T(), err)
	defer resp.Body.Close()
	assert.Equal(s.T(), http.StatusUnauthorized, resp.StatusCode)
}
