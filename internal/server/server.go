package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"imgcompress/internal/engine"
	"imgcompress/internal/models"
	"imgcompress/internal/session"
	"imgcompress/internal/storage"
)

// Blobs serves transient resources by handle.
type Blobs interface {
	Open(h storage.Handle) (*storage.Blob, error)
}

type Server struct {
	cfg      *models.Config
	router   *gin.Engine
	sessions *session.Manager
	blobs    Blobs
	formats  engine.FormatChecker
	log      zerolog.Logger
	http     *http.Server
}

func NewServer(cfg *models.Config, sessions *session.Manager, blobs Blobs, formats engine.FormatChecker, log zerolog.Logger) *Server {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))
	r.MaxMultipartMemory = cfg.MaxUploadBytes()

	s := &Server{cfg: cfg, router: r, sessions: sessions, blobs: blobs, formats: formats, log: log}

	r.GET("/formats", s.handleFormats)
	r.POST("/images", s.handleUpload)
	r.GET("/images", s.handleList)
	r.GET("/images/:id", s.handleGetImage)
	r.PUT("/images/:id/settings", s.handleSettings)
	r.GET("/images/:id/download", s.handleDownload)
	r.DELETE("/images/:id", s.handleDeleteImage)
	r.GET("/blobs/:handle", s.handleBlob)

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              s.cfg.ServerAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", s.cfg.ServerAddr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

type formatInfo struct {
	Format    models.Format `json:"format"`
	Supported bool          `json:"supported"`
}

func (s *Server) handleFormats(c *gin.Context) {
	out := make([]formatInfo, 0, len(models.Formats))
	for _, f := range models.Formats {
		out = append(out, formatInfo{Format: f, Supported: s.formats.Supports(f)})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleUpload(c *gin.Context) {
	const op = "server.handleUpload"

	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if file.Size > s.cfg.MaxUploadBytes() {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file exceeds %d MB", s.cfg.MaxUploadMB)})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	defer src.Close()

	content, err := io.ReadAll(io.LimitReader(src, s.cfg.MaxUploadBytes()+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	ctl, err := s.sessions.Add(file.Filename, content)
	if err != nil {
		if errors.Is(err, session.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": ctl.Asset().ID.String()})
}

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessions.List())
}

func (s *Server) handleGetImage(c *gin.Context) {
	ctl, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ctl.Snapshot())
}

type settingsRequest struct {
	Format  string `json:"format"`
	Quality int    `json:"quality"`
}

func (s *Server) handleSettings(c *gin.Context) {
	ctl, ok := s.lookup(c)
	if !ok {
		return
	}

	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f, err := models.ParseFormat(req.Format)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := ctl.OnSettingsChanged(models.Settings{Format: f, Quality: req.Quality}); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, session.ErrClosed) {
			status = http.StatusGone
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, ctl.Snapshot())
}

func (s *Server) handleDownload(c *gin.Context) {
	ctl, ok := s.lookup(c)
	if !ok {
		return
	}

	dl, err := ctl.Download()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.FileName}))
	c.Data(http.StatusOK, dl.MimeType, dl.Content)
}

func (s *Server) handleDeleteImage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.sessions.Remove(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleBlob(c *gin.Context) {
	h, err := storage.ParseHandle(c.Param("handle"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	blob, err := s.blobs.Open(h)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, blob.MimeType, blob.Content)
}

func (s *Server) lookup(c *gin.Context) (*session.Controller, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	ctl, err := s.sessions.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return ctl, true
}
