// Package api provides the REST API server for mml2mp3
package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/james-see/mml2mp3/pkg/converter"
	"github.com/james-see/mml2mp3/pkg/pipeline"
)

// @title MML2MP3 API
// @version 1.0
// @description API for rendering MML and MIDI files to MP3 through a SoundFont
// @host localhost:8080
// @BasePath /api/v1

// Options configures the API server
type Options struct {
	// SoundFont is used for every conversion
	SoundFont string
	// TempRoot holds the per-request work directories, os.TempDir() when empty
	TempRoot string
	// Effects are the defaults when a request does not set reverb or chorus
	Effects converter.Effects
	Logger  log.Interface
	// New builds the controller for one request
	New pipeline.Factory
}

type server struct {
	opts   Options
	logger log.Interface
}

// NewRouter returns the gin engine serving the API
func NewRouter(opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = log.Log
	}
	if opts.TempRoot == "" {
		opts.TempRoot = os.TempDir()
	}
	s := &server{opts: opts, logger: opts.Logger}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	// CORS middleware
	r.Use(corsMiddleware())

	r.GET("/health", healthCheck)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", healthCheck)
		v1.GET("/formats", listFormats)
		v1.GET("/instruments", listInstruments)
		v1.POST("/convert", s.handleConvert)
	}

	// Swagger docs
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}

// StartServer starts the API server on the specified port
func StartServer(port int, opts Options) error {
	return NewRouter(opts).Run(fmt.Sprintf(":%d", port))
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func requestLogger(logger log.Interface) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.WithFields(log.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		}).Debug("Handled request")
	}
}

// healthCheck godoc
// @Summary Health check endpoint
// @Description Returns the health status of the API
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "mml2mp3",
	})
}

// listFormats godoc
// @Summary List supported formats
// @Description Returns the accepted input extensions and the fixed output format
// @Tags info
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/formats [get]
func listFormats(c *gin.Context) {
	f := converter.StandardFormat
	c.JSON(http.StatusOK, gin.H{
		"inputs": converter.SupportedExtensions(),
		"output": gin.H{
			"format":      "mp3",
			"sample_rate": f.SampleRate,
			"channels":    f.Channels,
			"bit_depth":   f.BitDepth,
			"bitrate":     f.BitrateKbps,
		},
	})
}

// listInstruments godoc
// @Summary List General MIDI instruments
// @Description Returns the 128 General MIDI program numbers and names
// @Tags info
// @Produce json
// @Success 200 {object} map[string][]converter.Instrument
// @Router /api/v1/instruments [get]
func listInstruments(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"instruments": converter.Instruments()})
}

// handleConvert godoc
// @Summary Convert MML or MIDI to MP3
// @Description Upload a .mml, .mid or .midi file and receive an MP3 rendering
// @Tags convert
// @Accept multipart/form-data
// @Produce audio/mpeg
// @Param file formData file true "MML or MIDI file to convert"
// @Param instrument query int false "General MIDI program 0-127 (default: 0)"
// @Param reverb query bool false "Enable reverb (default: true)"
// @Param chorus query bool false "Enable chorus (default: true)"
// @Success 200 {file} binary
// @Failure 400 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /api/v1/convert [post]
func (s *server) handleConvert(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}

	program, err := strconv.Atoi(c.DefaultQuery("instrument", "0"))
	if err != nil {
		respondError(c, converter.InputError(err, "instrument must be an integer"))
		return
	}
	fx := s.opts.Effects
	if fx.Reverb, err = queryBool(c, "reverb", fx.Reverb); err != nil {
		respondError(c, err)
		return
	}
	if fx.Chorus, err = queryBool(c, "chorus", fx.Chorus); err != nil {
		respondError(c, err)
		return
	}

	dir, err := os.MkdirTemp(s.opts.TempRoot, "mml2mp3-request-")
	if err != nil {
		respondError(c, converter.ArtifactError(err, "create request directory"))
		return
	}
	defer func() { _ = os.RemoveAll(dir) }()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	input := filepath.Join(dir, "input"+ext)
	if err := c.SaveUploadedFile(header, input); err != nil {
		respondError(c, converter.InputError(err, "store upload"))
		return
	}

	cfg := converter.DefaultConfig()
	cfg.WorkDir = dir
	cfg.Effects = fx
	cfg.Logger = s.logger.WithField("upload", header.Filename)
	ctrl := s.opts.New(cfg)
	defer func() { _ = ctrl.Close() }()

	if err := ctrl.LoadSoundFont(s.opts.SoundFont); err != nil {
		s.logger.WithError(err).Error("Configured soundfont is unusable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "soundfont unavailable"})
		return
	}
	if err := ctrl.SetInstrument(program); err != nil {
		respondError(c, err)
		return
	}

	output := filepath.Join(dir, "output.mp3")
	if _, err := ctrl.Convert(input, output); err != nil {
		respondError(c, err)
		return
	}

	data, err := os.ReadFile(output)
	if err != nil {
		respondError(c, converter.EncodingError(err, "read output"))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", outputName(header.Filename)))
	c.Data(http.StatusOK, "audio/mpeg", data)
}

func queryBool(c *gin.Context, key string, def bool) (bool, error) {
	v, ok := c.GetQuery(key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, converter.InputError(err, key+" must be a boolean")
	}
	return b, nil
}

func outputName(upload string) string {
	base := strings.TrimSuffix(filepath.Base(upload), filepath.Ext(upload))
	if base == "" || base == "." {
		base = "converted"
	}
	return base + ".mp3"
}

// statusFor maps an error class to the HTTP status reported to clients
func statusFor(err error) int {
	switch converter.Classify(err) {
	case converter.ErrInput, converter.ErrRange, converter.ErrNotation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"error": err.Error(),
		"stage": string(converter.StageOf(err)),
	})
}
