package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Brownie44l1/imagenet-api/internal/classifier"
	"github.com/Brownie44l1/imagenet-api/internal/inference"
	"github.com/Brownie44l1/imagenet-api/internal/model"
	"github.com/Brownie44l1/imagenet-api/internal/preprocess"
	"github.com/Brownie44l1/imagenet-api/internal/ranking"
	"github.com/Brownie44l1/imagenet-api/internal/repository"
)

// MaxUploadSize is the default request body limit.
const MaxUploadSize = 5 << 20

// Service is the classification use case the handlers forward to.
type Service interface {
	Classify(ctx context.Context, image []byte) (*classifier.Classification, error)
	GetResult(ctx context.Context, requestID string) (*classifier.Classification, error)
	Stats(ctx context.Context) (*classifier.Summary, error)
}

// Options tunes request handling.
type Options struct {
	RequestTimeout time.Duration
	MaxUploadBytes int64
}

type Handler struct {
	svc       Service
	info      model.Info
	logger    *zap.Logger
	timeout   time.Duration
	maxUpload int64
}

func NewHandler(svc Service, info model.Info, logger *zap.Logger, opts Options) *Handler {
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = MaxUploadSize
	}
	return &Handler{
		svc:       svc,
		info:      info,
		logger:    logger.Named("http"),
		timeout:   opts.RequestTimeout,
		maxUpload: maxUpload,
	}
}

type classifyResponse struct {
	RequestID string           `json:"request_id"`
	Cached    bool             `json:"cached"`
	Results   []ranking.Result `json:"results"`
	Text      string           `json:"text"`
	LatencyMs float64          `json:"latency_ms"`
	CreatedAt time.Time        `json:"created_at"`
}

func newClassifyResponse(r *classifier.Classification) classifyResponse {
	return classifyResponse{
		RequestID: r.RequestID,
		Cached:    r.Cached,
		Results:   r.Results,
		Text:      r.Text(),
		LatencyMs: r.LatencyMs,
		CreatedAt: r.CreatedAt,
	}
}

// Register wires the routes. Middlewares in protect guard every route except
// the index and health check.
func (h *Handler) Register(router gin.IRouter, protect ...gin.HandlerFunc) {
	router.GET("/", h.Index)
	router.GET("/health", h.Health)

	api := router.Group("/", protect...)
	api.POST("/classify", h.ClassifyRaw)
	api.POST("/inference", h.ClassifyRaw)
	api.POST("/upload", h.Upload)
	api.GET("/result/:id", h.Result)
	api.GET("/stats", h.Stats)
}

func (h *Handler) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"backend": h.info.Backend,
		"inputs":  h.info.InputNames,
		"outputs": h.info.OutputNames,
	})
}

// ClassifyRaw treats the whole request body as the encoded image.
func (h *Handler) ClassifyRaw(c *gin.Context) {
	if h.tooLarge(c) {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.rejectTooLarge(c)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must contain an image"})
		return
	}
	h.classify(c, body)
}

// Upload reads the image from multipart field "image".
func (h *Handler) Upload(c *gin.Context) {
	if h.tooLarge(c) {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)

	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.rejectTooLarge(c)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image file provided. Use 'image' as the form field name"})
		return
	}
	if ct := file.Header.Get("Content-Type"); ct != "" && !acceptedContentType(ct) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": fmt.Sprintf("unsupported content type %q", ct)})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return
	}

	h.logger.Debug("received upload", zap.String("filename", file.Filename), zap.Int64("size", file.Size))
	h.classify(c, data)
}

func (h *Handler) Result(c *gin.Context) {
	result, err := h.svc.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newClassifyResponse(result))
}

func (h *Handler) Stats(c *gin.Context) {
	summary, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) classify(c *gin.Context, data []byte) {
	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	result, err := h.svc.Classify(ctx, data)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newClassifyResponse(result))
}

func (h *Handler) tooLarge(c *gin.Context) bool {
	if c.Request.ContentLength > h.maxUpload {
		h.rejectTooLarge(c)
		return true
	}
	return false
}

func (h *Handler) rejectTooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{
		"error": fmt.Sprintf("image exceeds %d bytes", h.maxUpload),
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err), zap.Int("status", status))
	}
	c.JSON(status, gin.H{"error": message})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, preprocess.ErrDecode):
		return http.StatusBadRequest, "Invalid image format. Supported: JPEG, PNG, GIF, WebP"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "result not found"
	case errors.Is(err, classifier.ErrStatsUnavailable):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	case errors.Is(err, context.Canceled):
		return 499, "request canceled"
	case errors.Is(err, model.ErrRuntime):
		return http.StatusBadGateway, "Prediction failed"
	case errors.Is(err, inference.ErrInvariant):
		return http.StatusInternalServerError, "internal error"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func acceptedContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	return strings.HasPrefix(ct, "image/") || strings.HasPrefix(ct, "application/octet-stream")
}

const indexHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>ImageNet classifier</title>
</head>
<body>
  <h1>To classify an image try one of the options below:</h1>
  <ol>
    <li><p>POST the raw image: <code>curl http://localhost:8080/classify -X POST --data-binary '@grace_hopper.jpg'</code></p></li>
    <li><p>Upload a form field named <code>image</code>: <code>curl -F "image=@grace_hopper.jpg" http://localhost:8080/upload</code></p></li>
  </ol>
  <form action="/upload" method="post" enctype="multipart/form-data">
    <input type="file" name="image" accept="image/*">
    <button type="submit">Classify</button>
  </form>
</body>
</html>
`
