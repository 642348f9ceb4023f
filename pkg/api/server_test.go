package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"stagerun/pkg/api"
	"stagerun/pkg/command"
	"stagerun/pkg/executor"
	"stagerun/pkg/models"
	"stagerun/pkg/resource"
	"stagerun/pkg/storage"
	"stagerun/pkg/storage/memory"
	"stagerun/pkg/task"
)

type StatusAPISuite struct {
	suite.Suite
	server *api.Server
	engine *executor.Engine
	store  *memory.Store
	okID   uuid.UUID
	failID uuid.UUID
}

func TestStatusAPISuite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	suite.Run(t, new(StatusAPISuite))
}

func (s *StatusAPISuite) SetupSuite() {
	res, err := resource.Open(resource.Config{Label: "local", WorkingDir: s.T().TempDir(), Slots: 2})
	s.Require().NoError(err)
	pool, err := resource.NewPool(res)
	s.Require().NoError(err)

	logs, err := storage.NewLocalLogStore(s.T().TempDir())
	s.Require().NoError(err)
	s.store = memory.NewStore()
	s.engine = executor.NewEngine(pool, executor.WithStore(s.store), executor.WithLogStore(logs))

	s.okID = s.submit("ok_task", "echo fine")
	s.failID = s.submit("bad_task", "exit 9")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.Require().NoError(s.engine.Drain(ctx))

	s.server = api.NewServer(api.Config{Engine: s.engine, Store: s.store, Logs: logs})
}

func (s *StatusAPISuite) submit(name, cmd string) uuid.UUID {
	tk, err := task.New(task.Spec{Name: name, Template: command.MustParse(cmd), Resource: "local"})
	s.Require().NoError(err)
	_, err = s.engine.Submit(context.Background(), tk)
	s.Require().NoError(err)
	return tk.ID()
}

func (s *StatusAPISuite) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func (s *StatusAPISuite) decode(w *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), v))
}

func (s *StatusAPISuite) TestHealth() {
	w := s.get("/health")
	s.Equal(http.StatusOK, w.Code)

	var body struct {
		Status    string         `json:"status"`
		Resources int            `json:"resources"`
		Tasks     map[string]int `json:"tasks"`
	}
	s.decode(w, &body)
	s.Equal("healthy", body.Status)
	s.Equal(1, body.Resources)
	s.Equal(1, body.Tasks["SUCCEEDED"])
	s.Equal(1, body.Tasks["FAILED"])
	s.NotEmpty(w.Header().Get("X-Request-ID"))
}

func (s *StatusAPISuite) TestResources() {
	w := s.get("/api/v1/resources")
	s.Equal(http.StatusOK, w.Code)

	var body struct {
		Resources []api.ResourceResponse `json:"resources"`
	}
	s.decode(w, &body)
	s.Require().Len(body.Resources, 1)
	s.Equal("local", body.Resources[0].Label)
	s.Equal("local", body.Resources[0].Kind)
}

func (s *StatusAPISuite) TestListTasksWithFilter() {
	var all struct {
		Tasks []api.TaskResponse `json:"tasks"`
		Count int                `json:"count"`
	}
	s.decode(s.get("/api/v1/tasks"), &all)
	s.Equal(2, all.Count)
	s.Equal("ok_task", all.Tasks[0].Name)

	var failed struct {
		Tasks []api.TaskResponse `json:"tasks"`
	}
	s.decode(s.get("/api/v1/tasks?status=FAILED"), &failed)
	s.Require().Len(failed.Tasks, 1)
	s.Equal(s.failID, failed.Tasks[0].ID)
	s.Equal(9, failed.Tasks[0].ExitCode)
	s.Contains(failed.Tasks[0].Error, "exit code 9")
}

func (s *StatusAPISuite) TestGetTask() {
	w := s.get("/api/v1/tasks/" + s.okID.String())
	s.Equal(http.StatusOK, w.Code)

	var resp api.TaskResponse
	s.decode(w, &resp)
	s.Equal(models.TaskSucceeded, resp.Status)
	s.Equal("echo fine", resp.Command)
	s.NotNil(resp.CompletedAt)
	s.Empty(resp.Error)

	s.Equal(http.StatusBadRequest, s.get("/api/v1/tasks/not-a-uuid").Code)
	s.Equal(http.StatusNotFound, s.get("/api/v1/tasks/"+uuid.NewString()).Code)
}

func (s *StatusAPISuite) TestTaskLogs() {
	w := s.get("/api/v1/tasks/" + s.okID.String() + "/logs")
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "fine")
}

func (s *StatusAPISuite) TestExecutions() {
	w := s.get("/api/v1/executions?limit=10")
	s.Equal(http.StatusOK, w.Code)

	var body struct {
		Executions []models.Execution `json:"executions"`
		Count      int                `json:"count"`
	}
	s.decode(w, &body)
	s.Equal(2, body.Count)

	w = s.get("/api/v1/executions/" + s.failID.String())
	s.Equal(http.StatusOK, w.Code)
	var exec models.Execution
	s.decode(w, &exec)
	s.Equal(models.TaskFailed, exec.Status)
	s.Equal(9, exec.ExitCode)

	s.Equal(http.StatusNotFound, s.get("/api/v1/executions/"+uuid.NewString()).Code)
	s.Equal(http.StatusBadRequest, s.get("/api/v1/executions?limit=abc").Code)
}

func (s *StatusAPISuite) TestMetricsEndpoint() {
	w := s.get("/metrics")
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "stagerun_tasks_submitted_total")
}

func TestServer_OptionalBackendsDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	res, err := resource.Open(resource.Config{Label: "local", WorkingDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	pool, err := resource.NewPool(res)
	if err != nil {
		t.Fatal(err)
	}
	srv := api.NewServer(api.Config{Engine: executor.NewEngine(pool)})

	for _, path := range []string{"/api/v1/executions", "/api/v1/tasks/" + uuid.NewString() + "/logs"} {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, w.Code)
		}
	}
}
