package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/pipeline"
	"TradePipe/internal/service/ratelimit"
	pkghttp "TradePipe/pkg/http"
	"TradePipe/pkg/logger"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func action() models.Action {
	return models.NewAction("echo_strategy", models.ActionEcho, models.PriceData{
		Source: models.SourceBinance,
		Price:  models.Some(37000.5),
		RSI:    models.Some(51.2),
		NATR:   models.Some(0.42),
	}, "binance: Price: 37000.5")
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, a *models.Action) error {
	return m.Called(ctx, a).Error(0)
}

func (m *MockPublisher) Close() error { return m.Called().Error(0) }

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Init(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *MockStore) Store(ctx context.Context, a *models.Action) error {
	return m.Called(ctx, a).Error(0)
}

func (m *MockStore) Health(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *MockStore) Close() error                     { return m.Called().Error(0) }

func TestLogWritesAction(t *testing.T) {
	var buf bytes.Buffer
	e := NewLog(logger.FromZerolog(zerolog.New(&buf)))
	a := action()

	require.NoError(t, e.Execute(context.Background(), a))

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, LogName, out["component"])
	assert.Equal(t, a.Message, out["message"])
	assert.Equal(t, "binance", out["source"])
	assert.Equal(t, 37000.5, out["price"])
	assert.Equal(t, a.ID.String(), out["id"])
}

func TestPublishExecutor(t *testing.T) {
	a := action()
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(got *models.Action) bool { return got.ID == a.ID })).
		Return(nil).Once()

	e := NewPublish("kafka_executor", pub)
	assert.Equal(t, "kafka_executor", e.Name())
	require.NoError(t, e.Execute(context.Background(), a))
	pub.AssertExpectations(t)
}

func TestPublishExecutorWrapsFailure(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("no leader"))

	err := NewPublish("redis_executor", pub).Execute(context.Background(), action())
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrExecution)
	assert.Contains(t, err.Error(), "redis_executor")
	assert.Contains(t, err.Error(), "no leader")
}

func TestStoreExecutor(t *testing.T) {
	ctx := context.Background()
	st := new(MockStore)
	st.On("Init", ctx).Return(nil).Once()
	st.On("Store", mock.Anything, mock.Anything).Return(nil).Once()
	st.On("Store", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()

	e, err := NewStore(ctx, "clickhouse_executor", st)
	require.NoError(t, err)
	require.NoError(t, e.Execute(ctx, action()))
	assert.ErrorIs(t, e.Execute(ctx, action()), pipeline.ErrExecution)
	st.AssertExpectations(t)
}

func TestStoreExecutorInitFailure(t *testing.T) {
	st := new(MockStore)
	st.On("Init", mock.Anything).Return(errors.New("permission denied"))

	_, err := NewStore(context.Background(), "postgres_executor", st)
	assert.ErrorContains(t, err, "permission denied")
	st.AssertNotCalled(t, "Store", mock.Anything, mock.Anything)
}

func TestWebhookPostsAction(t *testing.T) {
	var got models.Action
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	e, err := NewWebhook(WebhookConfig{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer t"}}, nil, nil)
	require.NoError(t, err)
	a := action()
	require.NoError(t, e.Execute(context.Background(), a))

	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.Strategy, got.Strategy)
	assert.Equal(t, "application/json", header.Get("Content-Type"))
	assert.Equal(t, "Bearer t", header.Get("Authorization"))
	assert.Equal(t, "echo", header.Get("X-Action-Kind"))
}

func TestWebhookStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e, err := NewWebhook(WebhookConfig{URL: srv.URL}, nil, nil)
	require.NoError(t, err)
	err = e.Execute(context.Background(), action())
	require.ErrorIs(t, err, pipeline.ErrExecution)
	assert.Contains(t, err.Error(), "429")
}

func TestWebhookRateLimited(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	now := time.Unix(0, 0)
	limiter := ratelimit.NewWithClock(func() time.Time { return now })
	e, err := NewWebhook(WebhookConfig{URL: srv.URL, Burst: 2, RatePerSec: 1}, pkghttp.NewClient(), limiter)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Execute(ctx, action()))
	require.NoError(t, e.Execute(ctx, action()))
	err = e.Execute(ctx, action())
	assert.ErrorIs(t, err, pipeline.ErrExecution)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(2), hits.Load())

	now = now.Add(time.Second)
	require.NoError(t, e.Execute(ctx, action()))
	assert.Equal(t, int32(3), hits.Load())
}

func TestWebhookRequiresURL(t *testing.T) {
	_, err := NewWebhook(WebhookConfig{}, nil, nil)
	assert.Error(t, err)
}
