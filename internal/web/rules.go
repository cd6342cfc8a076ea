package web

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/IvanSnezhok/ecoflow-dashboard/internal/engine"
	"github.com/IvanSnezhok/ecoflow-dashboard/internal/models"
)

func (s *Server) handleListRules(c *gin.Context) {
	rules, err := s.store.ListRules(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch rules"})
		return
	}
	if rules == nil {
		rules = []models.Rule{}
	}
	c.JSON(http.StatusOK, rules)
}

func (s *Server) handleGetRule(c *gin.Context) {
	rule, err := s.store.GetRuleByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch rule"})
		return
	}
	if rule == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) handleCreateRule(c *gin.Context) {
	var rule models.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule payload"})
		return
	}
	if err := engine.ValidateRule(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.CreateRule(c.Request.Context(), &rule); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create rule"})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(c *gin.Context) {
	var rule models.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule payload"})
		return
	}
	rule.ID = c.Param("id")
	if err := engine.ValidateRule(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.UpdateRule(c.Request.Context(), &rule); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(c *gin.Context) {
	id := c.Param("id")
	if err := s.store.DeleteRule(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete rule"})
		return
	}
	s.processor.ClearCooldown(id)
	c.Status(http.StatusNoContent)
}

// handleTestRule dry-runs a rule against a snapshot: either the cached
// latest metrics for the rule's device or a snapshot supplied in the body.
func (s *Server) handleTestRule(c *gin.Context) {
	var m models.DeviceMetrics
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&m); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid metrics payload"})
			return
		}
	} else {
		sn := c.Query("device_sn")
		cached, err := s.cache.GetDeviceMetrics(c.Request.Context(), sn)
		if err != nil || cached == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no cached metrics for device, supply a snapshot"})
			return
		}
		m = *cached
	}

	result, err := s.processor.TestRule(c.Request.Context(), c.Param("id"), m)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleClearCooldown(c *gin.Context) {
	s.processor.ClearCooldown(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	logs, err := s.store.ListExecutionLogs(c.Request.Context(), c.Query("rule_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch logs"})
		return
	}
	if logs == nil {
		logs = []models.ExecutionLog{}
	}
	c.JSON(http.StatusOK, logs)
}

func (s *Server) handleDeviceState(c *gin.Context) {
	m, err := s.cache.GetDeviceMetrics(c.Request.Context(), c.Param("sn"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read state"})
		return
	}
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no state for device"})
		return
	}
	c.JSON(http.StatusOK, m)
}
