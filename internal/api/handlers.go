package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"framediff-server/internal/analysis"
	"framediff-server/internal/models"
	"framediff-server/internal/storage"
)

func (s *Server) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()

	dbHealth := "ok"
	if err := s.repo.Health(ctx); err != nil {
		dbHealth = "error: " + err.Error()
	}

	response := gin.H{
		"status":    "ok",
		"service":   serviceName,
		"version":   serviceVersion,
		"database":  dbHealth,
		"queue":     s.queue != nil,
		"timestamp": time.Now().UTC(),
	}

	if stats, err := s.repo.GetStats(ctx); err == nil {
		response["stats"] = stats
	}

	c.JSON(http.StatusOK, response)
}

func (s *Server) analyzeVideo(c *gin.Context) {
	ctx := c.Request.Context()

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file part"})
		return
	}
	if file.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No selected file"})
		return
	}
	if !s.store.AllowedFile(file.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file type"})
		return
	}

	async, _ := strconv.ParseBool(c.DefaultQuery("async", "false"))
	if async && s.queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Background analysis is not available"})
		return
	}

	src, err := file.Open()
	if err != nil {
		s.fail(c, "Failed to read upload", err)
		return
	}
	defer src.Close()

	videoID := storage.NewVideoID()
	path, err := s.store.SaveUpload(videoID, file.Filename, src)
	if err != nil {
		s.fail(c, "Failed to save upload", err)
		return
	}

	video := &models.Video{
		UUID:     videoID,
		Filename: storage.SecureFilename(file.Filename),
		Filepath: path,
		Status:   models.VideoStatusPending,
	}
	if err := s.repo.CreateVideo(ctx, video); err != nil {
		s.fail(c, "Failed to create video", err)
		return
	}

	if async {
		s.enqueueAnalysis(c, video)
		return
	}

	record, err := s.processor.Process(ctx, video)
	if err != nil {
		if errors.Is(err, analysis.ErrNoFrames) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": analysis.ErrNoFrames.Error()})
			return
		}
		s.fail(c, "Analysis failed", err)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (s *Server) enqueueAnalysis(c *gin.Context, video *models.Video) {
	ctx := c.Request.Context()

	job, err := s.queue.Enqueue(ctx, models.JobTypeVideoAnalysis, map[string]interface{}{
		"video_id": video.UUID,
	})
	if err != nil {
		s.fail(c, "Failed to enqueue analysis", err)
		return
	}

	record := &models.ProcessingJob{
		UUID:    job.ID,
		VideoID: &video.ID,
		JobType: models.JobTypeVideoAnalysis,
		Status:  models.JobStatusPending,
	}
	if err := s.repo.CreateProcessingJob(ctx, record); err != nil {
		s.logger.Warn("failed to record processing job", "job_id", job.ID, "error", err)
	}

	c.JSON(http.StatusAccepted, gin.H{
		"video_id": video.UUID,
		"job":      job,
	})
}

func (s *Server) updateTimestamps(c *gin.Context) {
	var req models.UpdateTimestampsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Missing video_id or significant_frames",
			"details": err.Error(),
		})
		return
	}

	record, err := s.processor.UpdateTimestamps(c.Request.Context(), req)
	if err != nil {
		s.fail(c, "Failed to update significant frames", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Significant frames updated successfully",
		"analysis_data": record,
	})
}

func (s *Server) saveLabels(c *gin.Context) {
	var req models.SaveLabelsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Missing video_id or labels",
			"details": err.Error(),
		})
		return
	}

	record, err := s.processor.SaveLabels(c.Request.Context(), req)
	if err != nil {
		s.fail(c, "Failed to save labels", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Labels saved successfully",
		"analysis_data": record,
	})
}

func (s *Server) serveResult(c *gin.Context) {
	path, err := s.store.ResultPath(c.Param("video_id"), c.Param("filename"))
	if err != nil {
		s.fail(c, "File not found", err)
		return
	}
	c.File(path)
}

func (s *Server) listAnalyses(c *gin.Context) {
	limit, offset := pagination(c)
	ease := c.Query("ease")

	analyses, total, err := s.repo.ListAnalyses(c.Request.Context(), ease, limit, offset)
	if err != nil {
		s.fail(c, "Failed to fetch analyses", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"analyses": analyses,
		"pagination": gin.H{
			"total":  total,
			"limit":  limit,
			"offset": offset,
			"count":  len(analyses),
		},
	})
}

func (s *Server) getAnalysis(c *gin.Context) {
	record, err := s.repo.GetAnalysisByVideoUUID(c.Request.Context(), c.Param("video_id"))
	if err != nil {
		s.fail(c, "Analysis not found", err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) similarAnalyses(c *gin.Context) {
	limit, _ := pagination(c)

	similar, err := s.repo.SimilarAnalyses(c.Request.Context(), c.Param("video_id"), limit)
	if err != nil {
		s.fail(c, "Failed to search similar analyses", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"video_id": c.Param("video_id"),
		"similar":  similar,
	})
}

func (s *Server) reanalyze(c *gin.Context) {
	var req models.ReanalyzeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid thresholds",
				"details": err.Error(),
			})
			return
		}
	}

	record, err := s.processor.Reanalyze(c.Request.Context(), c.Param("video_id"), req)
	if err != nil {
		s.fail(c, "Re-analysis failed", err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) getStats(c *gin.Context) {
	stats, err := s.repo.GetStats(c.Request.Context())
	if err != nil {
		s.fail(c, "Failed to get statistics", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":     stats,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) listJobs(c *gin.Context) {
	if s.queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Job queue is not available"})
		return
	}

	limit, _ := pagination(c)
	jobs, err := s.queue.ListJobs(c.Request.Context(), models.JobType(c.Query("type")), limit)
	if err != nil {
		s.fail(c, "Failed to list jobs", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (s *Server) getJob(c *gin.Context) {
	if s.queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Job queue is not available"})
		return
	}

	job, err := s.queue.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "Job not found", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

// pagination parses limit and offset, capping limit at 100
func pagination(c *gin.Context) (int, int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
