// Package server provides the HTTP API for mask detection on uploaded frames.
package server

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nvr-ai/go-facemask/controller"
	"github.com/nvr-ai/go-facemask/event"
	"github.com/nvr-ai/go-facemask/images"
	"github.com/nvr-ai/go-facemask/inference"
	"github.com/nvr-ai/go-facemask/profiler"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = event.Log

// MaxFrameBytes limits the size of an uploaded frame.
const MaxFrameBytes = 32 << 20

// Config holds the server configuration.
type Config struct {
	// Controller runs the detections. Required.
	Controller *controller.Controller
	// Profiler is reported by the stats endpoint, may be nil.
	Profiler *profiler.Profiler
}

// Server serves the detection API.
type Server struct {
	config Config
	router *gin.Engine
	start  time.Time
	frames atomic.Int64
}

// DetectResponse is the body of a successful detect request.
type DetectResponse struct {
	RequestID  string                     `json:"request_id"`
	Width      int                        `json:"width"`
	Height     int                        `json:"height"`
	Detections []inference.FrameDetection `json:"detections"`
	LatencyMs  float64                    `json:"latency_ms"`
}

// StatsResponse is the body of the stats endpoint.
type StatsResponse struct {
	Processed  int64                     `json:"processed"`
	Dropped    int64                     `json:"dropped"`
	Failed     int64                     `json:"failed"`
	Operations []profiler.OperationStats `json:"operations,omitempty"`
	Metrics    []profiler.MetricStats    `json:"metrics,omitempty"`
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		router: gin.New(),
		start:  time.Now(),
	}
	s.router.Use(gin.Recovery(), requestLogger())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.POST("/detect", s.handleDetect)
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Infof("server: listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server shutdown failed")
	}
	log.Info("server: stopped")
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.start).Truncate(time.Second).String(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	var resp StatsResponse
	resp.Processed, resp.Dropped, resp.Failed = s.config.Controller.Stats()
	if s.config.Profiler != nil {
		resp.Operations = s.config.Profiler.Operations()
		resp.Metrics = s.config.Profiler.Metrics()
	}
	c.JSON(http.StatusOK, resp)
}

// handleDetect accepts a frame as the raw request body or as the "file" field
// of a multipart form.
func (s *Server) handleDetect(c *gin.Context) {
	requestID := uuid.New().String()

	data, err := readFrame(c)
	if err != nil {
		log.WithError(err).WithField("request", requestID).Debug("server: unreadable upload")
		c.JSON(http.StatusBadRequest, gin.H{"request_id": requestID, "error": err.Error()})
		return
	}

	img, _, err := images.Decode(data)
	if err != nil {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"request_id": requestID, "error": err.Error()})
		return
	}

	frame := controller.Frame{ID: int(s.frames.Add(1)), Image: img, Timestamp: time.Now()}
	result, ok := s.config.Controller.Process(c.Request.Context(), frame)
	if !ok {
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"request_id": requestID, "error": "detector busy"})
		return
	}
	if result.Err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"request_id": requestID, "error": result.Err.Error()})
		return
	}

	b := img.Bounds()
	c.JSON(http.StatusOK, DetectResponse{
		RequestID:  requestID,
		Width:      b.Dx(),
		Height:     b.Dy(),
		Detections: result.Detections,
		LatencyMs:  float64(result.Latency.Microseconds()) / 1000,
	})
}

func readFrame(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxFrameBytes)

	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		file, err := c.FormFile("file")
		if err != nil {
			return nil, errors.Wrap(err, "missing file field")
		}
		f, err := file.Open()
		if err != nil {
			return nil, errors.Wrap(err, "open upload")
		}
		defer f.Close()
		return io.ReadAll(f)
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if len(data) == 0 {
		return nil, errors.New("empty request body")
	}
	return data, nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		}).Debug("server: request")
	}
}
