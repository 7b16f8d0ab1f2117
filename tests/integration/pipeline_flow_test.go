package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apppipeline "github.com/apiflow/backend/internal/application/pipeline"
	"github.com/apiflow/backend/internal/domain/extraction"
	"github.com/apiflow/backend/internal/domain/pipeline"
	"github.com/apiflow/backend/internal/infrastructure/apiclient"
	"github.com/apiflow/backend/internal/infrastructure/auth"
	"github.com/apiflow/backend/internal/infrastructure/cache"
	"github.com/apiflow/backend/internal/infrastructure/config"
	"github.com/apiflow/backend/internal/infrastructure/persistence"
	"github.com/apiflow/backend/internal/infrastructure/scheduler"
)

// fakeAPI serves a token endpoint and an items endpoint that requires the
// issued token.
type fakeAPI struct {
	*httptest.Server
	tokenCalls atomic.Int32
	items      []map[string]any
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		api.tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-123", "expires_in": 3600})
	})
	mux.HandleFunc("/v1/items", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": api.items})
	})
	api.Server = httptest.NewServer(mux)
	t.Cleanup(api.Close)
	return api
}

type pipelineEnv struct {
	db       *TestDB
	store    *persistence.GormDefinitionStore
	service  *apppipeline.ExecutionService
	clock    *clockwork.FakeClock
	schedule *pipeline.Schedule
}

func newPipelineEnv(t *testing.T, api *fakeAPI) *pipelineEnv {
	t.Helper()
	ctx := context.Background()
	tdb := NewTestDB(t)
	store := persistence.NewGormDefinitionStore(tdb.DB)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	tokenCfg := &pipeline.TokenConfig{
		ID:            uuid.New(),
		Endpoint:      api.URL + "/oauth/token",
		Method:        http.MethodPost,
		Body:          map[string]any{"grant_type": "client_credentials"},
		TokenPath:     "access_token",
		ExpiresInPath: "expires_in",
	}
	require.NoError(t, store.SaveTokenConfig(ctx, tokenCfg))

	source := &pipeline.Source{
		ID:            uuid.New(),
		Name:          "fake",
		BaseURL:       api.URL,
		AuthType:      pipeline.AuthTypeToken,
		TokenConfigID: &tokenCfg.ID,
	}
	require.NoError(t, store.SaveSource(ctx, source))

	request := &pipeline.Request{
		ID:          uuid.New(),
		SourceID:    source.ID,
		Method:      http.MethodGet,
		Path:        "/v1/items",
		QueryParams: []pipeline.NameValue{{Name: "limit", Value: "50"}},
	}
	require.NoError(t, store.SaveRequest(ctx, request))

	extract := &pipeline.Extract{
		ID:            uuid.New(),
		RequestID:     request.ID,
		RootArrayPath: "data",
		ExtractionPaths: []pipeline.ExtractionPath{
			{Name: "id", Path: "id", DataType: pipeline.DataTypeNumber, Required: true},
			{Name: "name", Path: "attributes.name", DataType: pipeline.DataTypeString},
			{Name: "active", Path: "active", DataType: pipeline.DataTypeBoolean},
		},
		NullValueHandling: pipeline.NullKeep,
	}
	require.NoError(t, store.SaveExtract(ctx, extract))

	dest := &pipeline.Destination{
		ID:        uuid.New(),
		Name:      "items",
		TableName: "ingested_items",
		Columns: []pipeline.Column{
			{Name: "id", Type: pipeline.ColumnBigInt, IsPrimaryKey: true},
			{Name: "name", Type: pipeline.ColumnString, Nullable: true},
			{Name: "active", Type: pipeline.ColumnBoolean, Nullable: true},
		},
		IncludeIngestedAt: true,
	}
	require.NoError(t, store.SaveDestination(ctx, dest))

	schedule := &pipeline.Schedule{
		ID:             uuid.New(),
		Name:           "items every five minutes",
		ScheduleType:   pipeline.ScheduleCron,
		Enabled:        true,
		CronExpression: "*/5 * * * *",
		Timezone:       "UTC",
		Status:         pipeline.ScheduleActive,
		SourceID:       &source.ID,
		RequestID:      &request.ID,
		ExtractID:      &extract.ID,
		DestinationID:  &dest.ID,
	}
	require.NoError(t, store.SaveSchedule(ctx, schedule))

	destCfg := config.DestinationConfig{AutoCreateTables: true}
	sender := apiclient.NewRestySender(config.HTTPClientConfig{Timeout: 5 * time.Second, MaxResponseBytes: 1 << 20}, log)
	broker := auth.NewTokenBroker(sender, cache.NewInMemoryTokenCache(clock, 0),
		auth.WithClock(clock),
		auth.WithUsageRecorder(store),
		auth.WithLogger(log),
	)
	planner, err := scheduler.NewCronPlanner("UTC", log)
	require.NoError(t, err)

	service := apppipeline.NewExecutionService(
		store,
		apiclient.NewRequestBuilder(broker, store, config.TokenFailureAbort, 5*time.Second, log),
		sender,
		extraction.NewExtractor(extraction.NewCoercer(clock, time.UTC), extraction.NewTransformRegistry(), log),
		persistence.NewTableWriter(tdb.DB, destCfg, clock, log),
		planner,
		apppipeline.WithSchemaEnsurer(persistence.NewSchemaBuilder(tdb.DB, destCfg, log)),
		apppipeline.WithClock(clock),
		apppipeline.WithLogger(log),
	)

	return &pipelineEnv{db: tdb, store: store, service: service, clock: clock, schedule: schedule}
}

func TestPipeline_EndToEnd(t *testing.T) {
	api := newFakeAPI(t)
	api.items = []map[string]any{
		{"id": 1, "attributes": map[string]any{"name": "alpha"}, "active": true},
		{"id": 2, "attributes": map[string]any{"name": "beta"}, "active": "false"},
		{"attributes": map[string]any{"name": "missing id"}},
	}
	env := newPipelineEnv(t, api)
	ctx := context.Background()

	res := env.service.Execute(ctx, env.schedule.ID, pipeline.TriggerManual)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, pipeline.StageCompleted, res.Stage)
	require.NotNil(t, res.Data)
	assert.Equal(t, http.StatusOK, res.Data.StatusCode)
	assert.Equal(t, 3, res.Data.RecordsExtracted)
	require.NotNil(t, res.Data.Write)
	assert.Equal(t, 2, res.Data.Write.Inserted)
	assert.Equal(t, 1, res.Data.Write.Skipped, "a record without a key is not written")
	assert.Equal(t, int64(2), env.db.CountRows(t, "ingested_items"))

	var row struct {
		Name   string
		Active bool
	}
	require.NoError(t, env.db.DB.Table("ingested_items").Select("name, active").Where("id = ?", 2).Scan(&row).Error)
	assert.Equal(t, "beta", row.Name)
	assert.False(t, row.Active)

	dest, err := env.store.GetDestination(ctx, *env.schedule.DestinationID)
	require.NoError(t, err)
	assert.True(t, dest.UniqueKeyEnforced)

	sched, err := env.store.GetSchedule(ctx, env.schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sched.ExecutionCount)
	assert.Equal(t, 0, sched.FailureCount)
	require.NotNil(t, sched.NextExecutionAt)
	assert.True(t, sched.NextExecutionAt.Equal(time.Date(2024, 5, 1, 8, 5, 0, 0, time.UTC)), sched.NextExecutionAt)

	req, err := env.store.GetRequest(ctx, *env.schedule.RequestID)
	require.NoError(t, err)
	assert.NotNil(t, req.LastExecutedAt)

	// Second run updates existing keys and reuses the cached token.
	api.items = []map[string]any{
		{"id": 1, "attributes": map[string]any{"name": "alpha v2"}, "active": true},
		{"id": 3, "attributes": map[string]any{"name": "gamma"}, "active": true},
	}
	res = env.service.Execute(ctx, env.schedule.ID, pipeline.TriggerCron)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 1, res.Data.Write.Inserted)
	assert.Equal(t, 1, res.Data.Write.Updated)
	assert.Equal(t, int64(3), env.db.CountRows(t, "ingested_items"))
	assert.Equal(t, int32(1), api.tokenCalls.Load())

	sched, err = env.store.GetSchedule(ctx, env.schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, sched.ExecutionCount)
}

func TestPipeline_APIFailureCountsAgainstSchedule(t *testing.T) {
	api := newFakeAPI(t)
	env := newPipelineEnv(t, api)
	ctx := context.Background()

	source, err := env.store.GetSource(ctx, *env.schedule.SourceID)
	require.NoError(t, err)
	source.AuthType = pipeline.AuthTypeNone
	source.TokenConfigID = nil
	require.NoError(t, env.store.SaveSource(ctx, source))

	res := env.service.Execute(ctx, env.schedule.ID, pipeline.TriggerManual)
	require.False(t, res.Success)
	assert.Equal(t, pipeline.StageAPICall, res.Stage)
	assert.Contains(t, res.Message, "401")

	sched, err := env.store.GetSchedule(ctx, env.schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sched.ExecutionCount)
	assert.Equal(t, 1, sched.FailureCount)
	assert.False(t, env.db.DB.Migrator().HasTable("ingested_items"))
}

func TestDueScheduleRunner_RunDue(t *testing.T) {
	api := newFakeAPI(t)
	api.items = []map[string]any{{"id": 7, "attributes": map[string]any{"name": "seven"}}}
	env := newPipelineEnv(t, api)
	ctx := context.Background()

	paused := &pipeline.Schedule{
		ID:             uuid.New(),
		ScheduleType:   pipeline.ScheduleCron,
		Enabled:        true,
		CronExpression: "* * * * *",
		Status:         pipeline.SchedulePaused,
		RequestID:      env.schedule.RequestID,
	}
	require.NoError(t, env.store.SaveSchedule(ctx, paused))

	due, err := env.store.ListDueSchedules(ctx, env.clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, env.schedule.ID, due[0].ID)

	runner := scheduler.NewDueScheduleRunner(config.SchedulerConfig{MaxConcurrent: 2}, env.store, env.service, env.clock, zap.NewNop())
	summary, err := runner.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Due)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, int64(1), env.db.CountRows(t, "ingested_items"))

	// The schedule is planned into the future and no longer due.
	due, err = env.store.ListDueSchedules(ctx, env.clock.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}
