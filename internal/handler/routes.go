package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/middleware"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/response"
)

// RegisterTimetableRoutes mounts the timetable endpoints on an authenticated group.
// When generation is false the generate endpoint answers 503 and the rest stay available.
func RegisterTimetableRoutes(rg *gin.RouterGroup, h *TimetableHandler, logger *zap.Logger, generation bool) {
	timetables := rg.Group("/timetables")
	if generation {
		timetables.POST("/generate", middleware.Audit(logger, "timetable.generate"), h.Generate)
	} else {
		timetables.POST("/generate", generationDisabled)
	}
	timetables.GET("/jobs", h.ListJobs)
	timetables.GET("/jobs/:id", h.JobStatus)
	timetables.GET("/jobs/:id/result", h.JobResult)
	timetables.POST("/jobs/:id/apply", middleware.Audit(logger, "timetable.apply"), h.Apply)
	timetables.POST("/validate", h.Validate)
	timetables.POST("/validate/entry", h.ValidateEntry)
}

func generationDisabled(c *gin.Context) {
	response.Error(c, appErrors.Clone(appErrors.ErrServiceUnavailable, "timetable generation is disabled"))
}
