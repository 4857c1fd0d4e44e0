package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/secpipeline/internal/reporter"
	"go.uber.org/zap"
)

// ReportHandler serves on-demand reports.
type ReportHandler struct {
	reporter *reporter.Reporter
	logger   *zap.Logger
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(r *reporter.Reporter, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{reporter: r, logger: logger}
}

// Register mounts the report routes on the given router group.
func (h *ReportHandler) Register(rg *gin.RouterGroup) {
	r := rg.Group("/reports")
	{
		r.GET("", h.All)
		r.GET("/compliance", h.Compliance)
		r.GET("/iam", h.IAMPosture)
		r.GET("/incidents", h.Incidents)
	}
}

// All handles GET /reports and generates every report in one bundle.
func (h *ReportHandler) All(c *gin.Context) {
	b, err := h.reporter.Generate(c.Request.Context())
	if err != nil {
		h.fail(c, "generate reports", err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// Compliance handles GET /reports/compliance.
func (h *ReportHandler) Compliance(c *gin.Context) {
	rep, err := h.reporter.ComplianceReport(c.Request.Context())
	if err != nil {
		h.fail(c, "compliance report", err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// IAMPosture handles GET /reports/iam.
func (h *ReportHandler) IAMPosture(c *gin.Context) {
	rep, err := h.reporter.IAMPostureReport(c.Request.Context())
	if err != nil {
		h.fail(c, "iam posture report", err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// Incidents handles GET /reports/incidents.
func (h *ReportHandler) Incidents(c *gin.Context) {
	rep, err := h.reporter.IncidentSummary(c.Request.Context())
	if err != nil {
		h.fail(c, "incident summary", err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *ReportHandler) fail(c *gin.Context, what string, err error) {
	h.logger.Error(what, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build report"})
}
