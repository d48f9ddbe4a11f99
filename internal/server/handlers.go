package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mcdonaldj/sitedrop/internal/deploy"
	"github.com/mcdonaldj/sitedrop/internal/deployerr"
	"github.com/mcdonaldj/sitedrop/internal/history"
)

const (
	formArchive  = "zip_file"
	formAPIKey   = "api_key"
	headerAPIKey = "X-API-Key"

	defaultRecent = 20
	maxRecent     = 100
)

type successResponse struct {
	Success bool `json:"success"`
	deploy.Result
}

type errorResponse struct {
	Success bool `json:"success"`
	deployerr.Payload
}

// statusFor maps an error category to an HTTP status.
func statusFor(c deployerr.Category) int {
	switch c {
	case deployerr.CategoryInput, deployerr.CategoryExtraction:
		return http.StatusBadRequest
	case deployerr.CategoryAuth:
		return http.StatusUnauthorized
	case deployerr.CategoryRemote, deployerr.CategoryUpload:
		return http.StatusBadGateway
	case deployerr.CategoryConfig:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	p := deployerr.ToPayload(err)
	c.JSON(statusFor(p.Category), errorResponse{Success: false, Payload: p})
}

// handleDeploy handles POST /deploy.
func (s *Server) handleDeploy(c *gin.Context) {
	if s.opts.MaxArchiveBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxArchiveBytes+multipartSlack)
	}

	header, err := c.FormFile(formArchive)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.fail(c, deployerr.New(deployerr.ArchiveTooLarge, "request body exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			s.fail(c, deployerr.New(deployerr.MissingArchive, "no zip_file in request"))
		default:
			s.fail(c, deployerr.Wrap(deployerr.InvalidArchive, err, "invalid multipart form"))
		}
		return
	}
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".zip") {
		s.fail(c, deployerr.New(deployerr.InvalidArchive, "file must be a .zip archive"))
		return
	}

	file, err := header.Open()
	if err != nil {
		s.fail(c, deployerr.Wrap(deployerr.InvalidArchive, err, "reading upload"))
		return
	}
	data, err := io.ReadAll(file)
	file.Close()
	if err != nil {
		s.fail(c, deployerr.Wrap(deployerr.InvalidArchive, err, "reading upload"))
		return
	}

	// A non-empty form field wins over the header.
	key := c.PostForm(formAPIKey)
	if key == "" {
		key = c.GetHeader(headerAPIKey)
	}

	res, err := s.deployer.Deploy(c.Request.Context(), deploy.Request{
		Archive:     data,
		APIKey:      key,
		KeySupplied: key != "",
	})
	if err != nil {
		s.logger.Warn("deployment failed",
			"request_id", c.GetString(ctxRequestID),
			"filename", header.Filename,
			"code", deployerr.CodeOf(err),
			"error", err,
		)
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse{Success: true, Result: *res})
}

// handleLookup handles GET /api/v1/deploys/:id.
func (s *Server) handleLookup(c *gin.Context) {
	id := c.Param("id")
	rec, err := s.deployer.Lookup(c.Request.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "deployment not found", "id": id})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to load deployment",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// handleRecent handles GET /api/v1/deploys.
func (s *Server) handleRecent(c *gin.Context) {
	limit := defaultRecent
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRecent)
	}

	recs, err := s.deployer.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to load deployments",
			"details": err.Error(),
		})
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"deploys": recs})
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "sitedrop",
	})
}
