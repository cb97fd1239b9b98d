package api

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/haengmina/JNU-Research-Accel/internal/assets"
	"github.com/haengmina/JNU-Research-Accel/internal/inference"
	"github.com/haengmina/JNU-Research-Accel/internal/logger"
	"github.com/haengmina/JNU-Research-Accel/internal/version"
	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"
)

const (
	mimeBMP = "image/bmp"

	// DefaultMaxBodyBytes bounds classify request bodies.
	DefaultMaxBodyBytes = 8 << 20
)

type Options struct {
	// RateLimit is classify requests per second; <= 0 disables limiting.
	RateLimit float64
	// Burst defaults to 1 when limiting is enabled.
	Burst        int
	MaxBodyBytes int64
}

type Server struct {
	engine  inference.Engine
	info    inference.ModelInfo
	limiter *rate.Limiter
	maxBody int64
}

func NewServer(engine inference.Engine, opts Options) *Server {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(opts.Burst, 1))
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Server{
		engine:  engine,
		info:    engine.Describe(),
		limiter: limiter,
		maxBody: maxBody,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/classify", s.handleClassify)
	e.GET("/v1/model", s.handleModel)
	e.GET("/healthz", s.handleHealth)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: version.String()})
}

func (s *Server) handleModel(c *echo.Context) error {
	return c.JSON(http.StatusOK, ModelResponse{
		Object:   "model",
		Name:     s.info.Name,
		Input:    s.info.Input,
		Classes:  s.info.Classes,
		Blocks:   s.info.Blocks,
		Layers:   layerInfos(s.info.Layers),
		Cost:     s.info.Cost,
		Memory:   s.info.Memory,
		Replicas: s.info.Replicas,
	})
}

func (s *Server) handleClassify(c *echo.Context) error {
	if !s.limiter.Allow() {
		return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded")
	}

	req, err := s.decodeClassify(c)
	if err != nil {
		return writeClassifyError(c, err)
	}

	ctx := c.Request().Context()
	res, err := s.engine.Classify(ctx, req)
	if err != nil {
		logger.FromContext(ctx).Warn("classify failed", "error", err)
		return writeClassifyError(c, err)
	}

	timings := make(map[string]int64, len(res.Timings))
	for _, st := range res.Timings {
		timings[st.Label()] = st.Duration.Microseconds()
	}
	return c.JSON(http.StatusOK, ClassifyResponse{
		ID:        res.ID,
		Object:    "classification",
		Model:     s.info.Name,
		Top:       res.Top,
		TimingsUS: timings,
		TotalUS:   res.Total.Microseconds(),
	})
}

func (s *Server) decodeClassify(c *echo.Context) (*inference.Request, error) {
	r := c.Request()
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > s.maxBody {
		return nil, newInvalidRequest(fmt.Sprintf("request body exceeds %d bytes", s.maxBody))
	}

	topK := 0
	if q := c.QueryParam("top_k"); q != "" {
		topK, err = strconv.Atoi(q)
		if err != nil || topK < 0 {
			return nil, newInvalidRequest("top_k must be a non-negative integer")
		}
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get(echo.HeaderContentType))
	switch mediaType {
	case mimeBMP:
		in := s.info.Input
		img, err := assets.DecodeBMP(bytes.NewReader(body), assets.Size{Width: in.Width, Height: in.Height})
		if err != nil {
			return nil, err
		}
		return &inference.Request{Pixels: img.Pix, TopK: topK}, nil
	case echo.MIMEApplicationJSON, "":
		var cr ClassifyRequest
		if err := json.Unmarshal(body, &cr); err != nil {
			return nil, newInvalidRequest("invalid JSON: " + err.Error())
		}
		if len(cr.Pixels) == 0 {
			return nil, newInvalidRequest("pixels is required")
		}
		if cr.TopK < 0 {
			return nil, newInvalidRequest("top_k must be non-negative")
		}
		if topK == 0 {
			topK = cr.TopK
		}
		return &inference.Request{Pixels: cr.Pixels, TopK: topK}, nil
	default:
		return nil, newInvalidRequest(fmt.Sprintf("unsupported content type %q", mediaType))
	}
}
