package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"stagerun/pkg/executor"
	"stagerun/pkg/models"
	"stagerun/pkg/storage"
)

// --- Response DTOs ---

type ResourceResponse struct {
	Label      string `json:"label"`
	Kind       string `json:"kind"`
	WorkingDir string `json:"working_dir"`
	Host       string `json:"host,omitempty"`
	Slots      int    `json:"slots,omitempty"`
}

type TaskResponse struct {
	ID          uuid.UUID              `json:"id"`
	Name        string                 `json:"name"`
	Resource    string                 `json:"resource"`
	Command     string                 `json:"command"`
	Status      models.TaskStatus      `json:"status"`
	ExitCode    int                    `json:"exit_code"`
	Stdout      string                 `json:"stdout"`
	Stderr      string                 `json:"stderr"`
	Inputs      []models.FileReference `json:"inputs"`
	Outputs     []models.FileReference `json:"outputs"`
	LogURI      string                 `json:"log_uri,omitempty"`
	Error       string                 `json:"error,omitempty"`
	SubmittedAt time.Time              `json:"submitted_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

func taskToResponse(h *executor.Handle) TaskResponse {
	r := h.Snapshot()
	resp := TaskResponse{
		ID:          r.TaskID,
		Name:        r.Name,
		Resource:    r.Resource,
		Command:     r.Command,
		Status:      r.Status,
		ExitCode:    r.ExitCode,
		Stdout:      r.Stdout,
		Stderr:      r.Stderr,
		Inputs:      h.Task().Inputs(),
		Outputs:     h.Task().Outputs(),
		LogURI:      r.LogURI,
		SubmittedAt: r.SubmittedAt,
	}
	if !r.StartedAt.IsZero() {
		resp.StartedAt = &r.StartedAt
	}
	if !r.CompletedAt.IsZero() {
		resp.CompletedAt = &r.CompletedAt
	}
	if _, err := h.Poll(); err != nil && !errors.Is(err, executor.ErrPending) {
		resp.Error = err.Error()
	}
	return resp
}

// --- Handlers ---

// healthCheck reports task counts by status.
func (s *Server) healthCheck(c *gin.Context) {
	counts := map[models.TaskStatus]int{}
	for _, h := range s.engine.Handles() {
		counts[h.Status()]++
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"resources": s.engine.Pool().Len(),
		"tasks":     counts,
		"history":   s.store != nil,
		"timestamp": time.Now().UTC(),
	})
}

// listResources handles GET /api/v1/resources
func (s *Server) listResources(c *gin.Context) {
	pool := s.engine.Pool()
	out := make([]ResourceResponse, 0, pool.Len())
	for _, label := range pool.Labels() {
		r, _ := pool.Get(label)
		out = append(out, ResourceResponse{
			Label:      r.Config.Label,
			Kind:       string(r.Config.Kind),
			WorkingDir: r.Config.WorkingDir,
			Host:       r.Config.Host,
			Slots:      r.Config.Slots,
		})
	}
	c.JSON(http.StatusOK, gin.H{"resources": out, "count": len(out)})
}

// listTasks handles GET /api/v1/tasks?status=RUNNING
func (s *Server) listTasks(c *gin.Context) {
	filter := models.TaskStatus(c.Query("status"))
	out := make([]TaskResponse, 0)
	for _, h := range s.engine.Handles() {
		if filter != "" && h.Status() != filter {
			continue
		}
		out = append(out, taskToResponse(h))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out, "count": len(out)})
}

func (s *Server) lookupTask(c *gin.Context) (*executor.Handle, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task ID"})
		return nil, false
	}
	h, ok := s.engine.Lookup(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return nil, false
	}
	return h, true
}

// getTask handles GET /api/v1/tasks/:id
func (s *Server) getTask(c *gin.Context) {
	h, ok := s.lookupTask(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, taskToResponse(h))
}

// getTaskLogs handles GET /api/v1/tasks/:id/logs
func (s *Server) getTaskLogs(c *gin.Context) {
	if s.logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "log archive not configured"})
		return
	}
	h, ok := s.lookupTask(c)
	if !ok {
		return
	}
	uri := h.Snapshot().LogURI
	if uri == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no logs archived for task"})
		return
	}
	data, err := s.logs.Retrieve(c.Request.Context(), uri)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve logs"})
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}

// listExecutions handles GET /api/v1/executions?limit=50
func (s *Server) listExecutions(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution history not configured"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	execs, err := s.store.ListExecutions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list executions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs, "count": len(execs)})
}

// getExecution handles GET /api/v1/executions/:id
func (s *Server) getExecution(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution history not configured"})
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid execution ID"})
		return
	}
	exec, err := s.store.GetExecution(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get execution"})
		return
	}
	c.JSON(http.StatusOK, exec)
}
