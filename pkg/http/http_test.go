package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routes struct{}

type echoQuery struct {
	Name  string `query:"name" validate:"required"`
	Limit int    `query:"limit" default:"10" validate:"gte=1,lte=100"`
}

func (routes) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/echo", func(c echo.Context) error {
		var q echoQuery
		if errs := ReadAndValidateRequest(c, &q); errs != nil {
			return BadRequestResponse(c, errs)
		}
		return SuccessResponse(c, q)
	})
	e.GET("/api/missing/:id", func(c echo.Context) error {
		return NotFoundErrorf("item %s not found", c.Param("id"))
	})
	e.GET("/api/panic", func(c echo.Context) error {
		panic("boom")
	})
}

func do(t *testing.T, s *Server, target string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body APIResponse
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestServerRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewServer(routes{}, WithRegistry(reg), WithPort(0))

	rec, body := do(t, s, "/api/echo?name=x")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"Name": "x", "Limit": float64(10)}, body.Data)

	rec, body = do(t, s, "/api/echo?limit=500")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errs, ok := body.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, errs, 2)
	fields := []interface{}{errs[0].(map[string]interface{})["field"], errs[1].(map[string]interface{})["field"]}
	assert.ElementsMatch(t, []interface{}{"name", "limit"}, fields)
	assert.Contains(t, rec.Body.String(), "limit must be less than or equal to 100")

	rec, body = do(t, s, "/api/missing/7")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "item 7 not found")
	assert.Equal(t, 404, body.Status)

	rec, _ = do(t, s, "/api/panic")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec, _ = do(t, s, "/nowhere")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tradepipe_http_requests_total{method="GET",route="/api/echo",status="200"} 1`)
	assert.Contains(t, rec.Body.String(), `route="/api/missing/:id",status="404"`)
}

func TestServerWithoutRegistryHasNoMetrics(t *testing.T) {
	s := NewServer(nil)
	rec, _ := do(t, s, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "0.0.0.0:8080", s.Addr())
}

func TestServerStartStop(t *testing.T) {
	s := NewServer(nil, WithHost("127.0.0.1"), WithPort(0))
	require.NoError(t, s.Start())
	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, s.Stop(context.Background()))
}

func TestClientSendAndParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "2", r.URL.Query().Get("page"))
			var in map[string]int
			_ = json.NewDecoder(r.Body).Decode(&in)
			_ = json.NewEncoder(w).Encode(map[string]int{"sum": in["a"] + in["b"]})
		default:
			http.Error(w, "nope", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := NewClient(WithTimeout(time.Second))
	var out struct {
		Sum int `json:"sum"`
	}
	err := c.SendAndParse(context.Background(), &RequestOptions{
		Method:      MethodPost,
		URL:         srv.URL + "/ok",
		QueryParams: map[string][]string{"page": {"2"}},
		Body:        map[string]int{"a": 2, "b": 3},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 5, out.Sum)

	err = c.SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL + "/bad"}, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.True(t, se.Retryable())
	assert.Contains(t, se.Body, "nope")
}

func TestClientFormBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		_, _ = w.Write([]byte(r.PostForm.Get("k")))
	}))
	defer srv.Close()

	var raw []byte
	err := NewClient().SendAndParse(context.Background(), &RequestOptions{
		Method:  MethodPost,
		URL:     srv.URL,
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:    map[string]string{"k": "v"},
	}, &raw)
	require.NoError(t, err)
	assert.Equal(t, "v", string(raw))
}
