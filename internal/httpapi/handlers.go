package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stackconsult/workflowcore/internal/chain"
	"github.com/stackconsult/workflowcore/internal/execution"
	"github.com/stackconsult/workflowcore/internal/workflow"
)

// Handler exposes the orchestration core's operations as JSON endpoints.
// It contains no auth or rate-limiting: the HTTP surface itself is outside
// this module's scope, this is wiring for a runnable binary only.
type Handler struct {
	workflows  *workflow.Service
	executions *execution.Service
	chains     *chain.Manager
}

// NewHandler builds a Handler over the three core services.
func NewHandler(workflows *workflow.Service, executions *execution.Service, chains *chain.Manager) *Handler {
	return &Handler{workflows: workflows, executions: executions, chains: chains}
}

// Register mounts every route onto router.
func (h *Handler) Register(router *gin.Engine) {
	router.GET("/healthz", h.health)

	workflows := router.Group("/workflows")
	workflows.POST("", h.createWorkflow)
	workflows.GET("", h.listWorkflows)
	workflows.GET("/:id", h.getWorkflow)
	workflows.PUT("/:id", h.updateWorkflow)
	workflows.DELETE("/:id", h.deleteWorkflow)
	workflows.POST("/:id/executions", h.triggerExecution)
	workflows.POST("/:id/chain", h.executeChain)

	executions := router.Group("/executions")
	executions.GET("/:id", h.getExecution)
	executions.GET("/:id/log", h.getExecutionLog)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) createWorkflow(c *gin.Context) {
	var wf workflow.Workflow
	if err := c.ShouldBindJSON(&wf); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.workflows.Create(c.Request.Context(), &wf); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, wf)
}

func (h *Handler) listWorkflows(c *gin.Context) {
	wfs, err := h.workflows.List(c.Request.Context(), c.Query("owner_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, wfs)
}

func (h *Handler) getWorkflow(c *gin.Context) {
	wf, err := h.workflows.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (h *Handler) updateWorkflow(c *gin.Context) {
	var wf workflow.Workflow
	if err := c.ShouldBindJSON(&wf); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wf.ID = c.Param("id")
	if err := h.workflows.Update(c.Request.Context(), &wf); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (h *Handler) deleteWorkflow(c *gin.Context) {
	if err := h.workflows.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type triggerRequest struct {
	Variables map[string]interface{} `json:"variables"`
}

func (h *Handler) triggerExecution(c *gin.Context) {
	var req triggerRequest
	_ = c.ShouldBindJSON(&req)

	exec, err := h.executions.Trigger(c.Request.Context(), c.Param("id"), req.Variables, workflow.TriggerManual, "api")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, exec)
}

func (h *Handler) getExecution(c *gin.Context) {
	exec, err := h.executions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, exec)
}

func (h *Handler) getExecutionLog(c *gin.Context) {
	log, err := h.executions.Log(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, log)
}

func (h *Handler) executeChain(c *gin.Context) {
	var req triggerRequest
	_ = c.ShouldBindJSON(&req)

	wf, err := h.workflows.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if !wf.IsChain() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workflow is not a chain"})
		return
	}
	def, err := wf.DecodeDefinition()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	result, err := h.chains.Execute(c.Request.Context(), wf, def, req.Variables, "api")
	if err != nil && result == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
