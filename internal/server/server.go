// Package server is the HTTP facade over a running agent home: task and
// memory management, belief and skill administration, logs, and control
// actions. All endpoints speak JSON; state lives on disk, so the facade
// tolerates reads that race the agent loop.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tooey/internal/agent"
	"tooey/internal/beliefs"
	"tooey/internal/shared/logging"
	"tooey/internal/task"
)

// Server exposes the agent over HTTP.
type Server struct {
	agent  *agent.Agent
	svc    *agent.Services
	logger logging.Logger
	engine *gin.Engine
}

// New builds the router. The agent's services back every handler directly;
// there is no separate state.
func New(a *agent.Agent, svc *agent.Services) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		agent:  a,
		svc:    svc,
		logger: logging.NewComponentLogger("web"),
	}
	s.engine = s.buildRouter()
	return s
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), cors.Default())

	if s.svc.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.svc.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/health", s.handleHealth)

		api.GET("/tasks", s.handleTasksList)
		api.POST("/tasks", s.handleTaskCreate)

		api.GET("/cycles", s.handleCyclesIndex)
		api.GET("/cycles/:task_id", s.handleCyclesForTask)

		api.GET("/curiosity", s.handleCuriosity)
		api.GET("/events", s.handleEvents)

		api.GET("/memory", s.handleMemory)
		api.PUT("/memory/:name", s.handleMemoryUpdate)

		api.GET("/beliefs", s.handleBeliefsList)
		api.POST("/beliefs", s.handleBeliefAdd)
		api.POST("/beliefs/:id/contest", s.handleBeliefContest)

		api.GET("/skills", s.handleSkillsList)
		api.POST("/skills/draft", s.handleSkillDraft)
		api.POST("/skills/:name/promote", s.handleSkillPromote)

		control := api.Group("/control")
		{
			control.POST("/tick", s.handleTick)
			control.POST("/maintenance", s.handleMaintenance)
			control.POST("/snapshot", s.handleSnapshot)
			control.POST("/restore", s.handleRestore)
			control.POST("/coherence-check", s.handleCoherenceCheck)
			control.POST("/clear-working", s.handleClearWorking)
		}
	}
	return r
}

// Run serves until ctx is cancelled, then drains with a short grace period.
func (s *Server) Run(ctx context.Context, host string, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web facade listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleStatus(c *gin.Context) {
	active, err := s.svc.Tasks.Active()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	pending, err := s.svc.Tasks.Pending()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	health := s.agent.HealthCheck()
	healthOK := true
	for _, check := range health {
		if !check.OK {
			healthOK = false
			break
		}
	}

	activeID := ""
	cycleCount := 0
	if active != nil {
		activeID = active.TaskID
		if n, err := s.svc.Cycles.Count(active.TaskID); err == nil {
			cycleCount = n
		}
	}

	s.svc.Budgets.Load()
	c.JSON(http.StatusOK, gin.H{
		"active_task":   activeID,
		"pending_count": len(pending),
		"health_ok":     healthOK,
		"cycle_count":   cycleCount,
		"budget_status": s.svc.Budgets.Status(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.agent.HealthCheck())
}

func taskJSON(t task.Task) gin.H {
	out := gin.H{
		"task_id":          t.TaskID,
		"priority":         t.Priority,
		"origin":           string(t.Origin),
		"description":      t.Description,
		"success_criteria": t.SuccessCriteria,
	}
	if t.Deadline != nil {
		out["deadline"] = t.Deadline.Format(time.RFC3339)
	}
	if t.ParentTaskID != "" {
		out["parent_task"] = t.ParentTaskID
		out["curiosity_depth"] = t.CuriosityDepth
	}
	return out
}

// reportFiles lists the most recent markdown reports in a directory with a
// short content preview.
func reportFiles(dir string, limit int) []gin.H {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if len(names) > limit {
		names = names[:limit]
	}

	var out []gin.H
	for _, name := range names {
		preview := ""
		if raw, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
			preview = string(raw)
			if len(preview) > 200 {
				preview = preview[:200]
			}
		}
		out = append(out, gin.H{"id": strings.TrimSuffix(name, ".md"), "preview": preview})
	}
	return out
}

func (s *Server) handleTasksList(c *gin.Context) {
	pending, err := s.svc.Tasks.Pending()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	active, err := s.svc.Tasks.Active()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	pendingOut := make([]gin.H, 0, len(pending))
	for _, t := range pending {
		pendingOut = append(pendingOut, taskJSON(t))
	}
	var activeOut gin.H
	if active != nil {
		activeOut = taskJSON(*active)
	}

	home := s.svc.Config.AgentHome
	c.JSON(http.StatusOK, gin.H{
		"pending":   pendingOut,
		"active":    activeOut,
		"completed": reportFiles(filepath.Join(home, "tasks", "completed"), 20),
		"blocked":   reportFiles(filepath.Join(home, "tasks", "blocked"), 10),
	})
}

type createTaskRequest struct {
	Description     string   `json:"description" binding:"required"`
	Priority        string   `json:"priority"`
	Context         string   `json:"context"`
	SuccessCriteria []string `json:"success_criteria"`
	Deadline        string   `json:"deadline"`
}

func (s *Server) handleTaskCreate(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := task.CreateOptions{
		Priority:        req.Priority,
		Context:         req.Context,
		SuccessCriteria: req.SuccessCriteria,
	}
	if req.Deadline != "" {
		deadline, err := time.Parse(time.RFC3339, req.Deadline)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "deadline must be RFC3339"})
			return
		}
		opts.Deadline = &deadline
	}

	created, err := s.svc.Tasks.Create(req.Description, task.OriginUser, opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, taskJSON(*created))
}

func (s *Server) handleCyclesIndex(c *gin.Context) {
	historyDir := filepath.Join(s.svc.Config.AgentHome, "tasks", "history")
	entries, err := os.ReadDir(historyDir)
	if err != nil && !os.IsNotExist(err) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".jsonl") {
			names = append(names, strings.TrimSuffix(e.Name(), ".jsonl"))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if len(names) > 20 {
		names = names[:20]
	}

	out := make([]gin.H, 0, len(names))
	for _, taskID := range names {
		count, _ := s.svc.Cycles.Count(taskID)
		out = append(out, gin.H{"task_id": taskID, "cycles": count})
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

func (s *Server) handleCyclesForTask(c *gin.Context) {
	taskID := c.Param("task_id")
	history, err := s.svc.Cycles.Load(taskID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	cycles := make([]gin.H, 0, len(history))
	for _, cycle := range history {
		entry := gin.H{
			"cycle_id":  cycle.CycleID,
			"phase":     string(cycle.Phase),
			"decision":  string(cycle.Decision),
			"timestamp": cycle.Timestamp.Format("15:04:05"),
		}
		if cycle.Action != nil {
			entry["action_type"] = string(cycle.Action.Type)
		}
		if cycle.Observation != nil {
			entry["success"] = cycle.Observation.Success
		}
		if cycle.Reflection != nil {
			entry["progress"] = cycle.Reflection.ProgressMade
		}
		cycles = append(cycles, entry)
	}

	s.svc.Budgets.Load()
	c.JSON(http.StatusOK, gin.H{
		"task_id":       taskID,
		"cycles":        cycles,
		"budget_status": s.svc.Budgets.Status(),
	})
}

func (s *Server) handleCuriosity(c *gin.Context) {
	pending, err := s.svc.Tasks.Pending()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	var curiosityTasks []gin.H
	for _, t := range pending {
		if t.Origin == task.OriginCuriosity {
			curiosityTasks = append(curiosityTasks, taskJSON(t))
		}
	}

	// Tail of the audit log, newest first. Lines are opaque JSON here;
	// the client gets them as written.
	var logEntries []string
	logPath := filepath.Join(s.svc.Config.AgentHome, "logs", "curiosity.jsonl")
	if raw, err := os.ReadFile(logPath); err == nil {
		lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
		if len(lines) > 50 {
			lines = lines[len(lines)-50:]
		}
		for i := len(lines) - 1; i >= 0 && len(logEntries) < 20; i-- {
			if strings.TrimSpace(lines[i]) != "" {
				logEntries = append(logEntries, lines[i])
			}
		}
	}

	s.svc.Budgets.Load()
	cfg := s.svc.Config.Curiosity
	c.JSON(http.StatusOK, gin.H{
		"today":       s.svc.Budgets.Counters.CuriosityTasksToday,
		"log_entries": logEntries,
		"tasks":       curiosityTasks,
		"config": gin.H{
			"enabled":     cfg.Enabled,
			"max_per_day": cfg.MaxTasksPerDay,
			"max_depth":   cfg.MaxDepth,
			"min_value":   cfg.MinValueThreshold,
		},
	})
}

func (s *Server) handleEvents(c *gin.Context) {
	level := c.Query("level")
	eventType := c.Query("type")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	var out []gin.H
	for i := 0; i < 7; i++ {
		date := time.Now().UTC().AddDate(0, 0, -i).Format("2006-01-02")
		evs, err := s.svc.Events.Read(date)
		if err != nil {
			continue
		}
		for j := len(evs) - 1; j >= 0; j-- {
			ev := evs[j]
			if level != "" && ev.Level != level {
				continue
			}
			if eventType != "" && ev.EventType != eventType {
				continue
			}
			out = append(out, gin.H{
				"timestamp":  ev.Timestamp,
				"event_type": ev.EventType,
				"level":      ev.Level,
				"context":    ev.Context,
				"outcomes":   ev.Outcomes,
			})
			if len(out) >= limit {
				break
			}
		}
		if len(out) >= limit {
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

var memoryFiles = map[string]string{
	"working":   "working.md",
	"long_term": "long_term.md",
}

func (s *Server) handleMemory(c *gin.Context) {
	home := s.svc.Config.AgentHome
	read := func(name string) string {
		raw, _ := os.ReadFile(filepath.Join(home, "memory", name))
		return string(raw)
	}
	c.JSON(http.StatusOK, gin.H{
		"working":   read("working.md"),
		"long_term": read("long_term.md"),
		"beliefs":   s.svc.Beliefs.ContextBlock(),
	})
}

func (s *Server) handleMemoryUpdate(c *gin.Context) {
	file, ok := memoryFiles[c.Param("name")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown memory file"})
		return
	}
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	path := filepath.Join(s.svc.Config.AgentHome, "memory", file)
	if err := os.WriteFile(path, []byte(req.Content), 0o644); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": file})
}

func beliefJSON(b *beliefs.Belief) gin.H {
	return gin.H{
		"id":             b.ID,
		"claim":          b.Claim,
		"confidence":     b.Confidence,
		"status":         b.Status,
		"type":           b.Type,
		"last_validated": b.LastValidated,
		"contradictions": b.Contradictions,
		"notes":          b.Notes,
	}
}

func (s *Server) handleBeliefsList(c *gin.Context) {
	byStatus := gin.H{}
	for _, status := range []string{"active", "contested", "deprecated"} {
		group := s.svc.Beliefs.All(status)
		out := make([]gin.H, 0, len(group))
		for _, b := range group {
			out = append(out, beliefJSON(b))
		}
		byStatus[status] = out
	}
	c.JSON(http.StatusOK, byStatus)
}

func (s *Server) handleBeliefAdd(c *gin.Context) {
	var req struct {
		Claim      string  `json:"claim" binding:"required"`
		Confidence float64 `json:"confidence"`
		Type       string  `json:"type"`
		Source     string  `json:"source"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Type == "" {
		req.Type = "external"
	}
	if req.Source == "" {
		req.Source = "web"
	}
	belief, err := s.svc.Beliefs.Add(req.Claim, beliefs.AddOptions{
		Confidence: req.Confidence,
		Type:       req.Type,
		Source:     req.Source,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, beliefJSON(belief))
}

func (s *Server) handleBeliefContest(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	belief, err := s.svc.Beliefs.Contest(c.Param("id"), req.Reason, "")
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, beliefJSON(belief))
}

func (s *Server) handleSkillsList(c *gin.Context) {
	all := s.svc.Skills.LoadAll()
	byStatus := map[string][]gin.H{}
	var promotable []string
	for _, skill := range all {
		stats := s.svc.Skills.GetStats(skill.Name)
		entry := gin.H{
			"name":    skill.Name,
			"version": skill.Version,
			"status":  skill.Status,
			"purpose": skill.Purpose,
			"stats":   stats,
		}
		byStatus[skill.Status] = append(byStatus[skill.Status], entry)
		if stats != nil && stats.ReadyForPromotion {
			promotable = append(promotable, skill.Name)
		}
	}
	sort.Strings(promotable)
	c.JSON(http.StatusOK, gin.H{"by_status": byStatus, "promotable": promotable})
}

func (s *Server) handleSkillDraft(c *gin.Context) {
	var req struct {
		Name      string `json:"name" binding:"required"`
		Purpose   string `json:"purpose" binding:"required"`
		Triggers  string `json:"triggers"`
		Procedure string `json:"procedure" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	path, err := s.svc.Skills.Draft(req.Name, req.Purpose, req.Procedure, req.Triggers)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"path": path})
}

func (s *Server) handleSkillPromote(c *gin.Context) {
	name := c.Param("name")
	if err := s.svc.Skills.Promote(name); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"promoted": name})
}

func (s *Server) handleTick(c *gin.Context) {
	result := s.agent.Tick(c.Request.Context())
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleMaintenance(c *gin.Context) {
	result := s.svc.Maintenance.RunDaily()
	c.JSON(http.StatusOK, gin.H{
		"success":      result.Success,
		"summary_path": result.SummaryPath,
		"promoted":     len(result.Promotion.Promoted),
		"snapshot":     result.Snapshot,
	})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual"
	}
	c.JSON(http.StatusOK, s.svc.Maintenance.CreateSnapshot(req.Reason))
}

func (s *Server) handleRestore(c *gin.Context) {
	var req struct {
		Ref string `json:"ref" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.svc.Maintenance.RestoreSnapshot(req.Ref); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"restored_to": req.Ref})
}

func (s *Server) handleCoherenceCheck(c *gin.Context) {
	report, err := s.svc.Beliefs.RunCoherenceCheck(c.Request.Context(), s.svc.LLM)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_beliefs":  report.TotalBeliefs,
		"active":         report.Active,
		"contested":      report.Contested,
		"low_confidence": len(report.LowConfidence),
		"contradictions": len(report.Contradictions),
		"report_path":    report.ReportPath,
	})
}

func (s *Server) handleClearWorking(c *gin.Context) {
	path := filepath.Join(s.svc.Config.AgentHome, "memory", "working.md")
	if err := os.WriteFile(path, []byte("# Working Memory\n\n*Cleared*\n"), 0o644); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}
