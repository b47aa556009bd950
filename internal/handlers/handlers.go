package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/face-gateway/internal/faceerr"
	"github.com/example/face-gateway/internal/facerecognition"
	"github.com/example/face-gateway/internal/usecase"
)

// FaceService is the use case surface the routes depend on.
type FaceService interface {
	Verify(ctx context.Context, in usecase.VerifyInput) (facerecognition.VerificationResult, error)
	Detect(ctx context.Context, requestID, photo string) (*facerecognition.Face, error)
	GetStatsSummary() usecase.StatsSummary
}

// VerifyRequest accepts the candidate as either "image" or "photo"; "image_url"
// is only used when neither is present, so it is validated by the fetch
// itself rather than at binding time.
type VerifyRequest struct {
	Reference string `json:"reference" binding:"required"`
	Image     string `json:"image"`
	Photo     string `json:"photo"`
	ImageURL  string `json:"image_url"`
}

func (r VerifyRequest) candidate() string {
	if r.Image != "" {
		return r.Image
	}
	return r.Photo
}

type DetectRequest struct {
	Photo string `json:"photo" binding:"required"`
}

// DetectResponse is the data of a successful /detect call.
type DetectResponse struct {
	FacialArea facerecognition.FacialArea `json:"facial_area"`
	Confidence float64                    `json:"confidence"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router gin.IRoutes, svc FaceService) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.GetStatsSummary())
	})

	router.POST("/verify", func(c *gin.Context) {
		var req VerifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, "handlers.verify", invalidRequest(err))
			return
		}

		result, err := svc.Verify(c.Request.Context(), usecase.VerifyInput{
			RequestID:    requestIDFrom(c),
			Reference:    req.Reference,
			Candidate:    req.candidate(),
			CandidateURL: req.ImageURL,
		})
		if err != nil {
			respondError(c, "handlers.verify", err)
			return
		}
		respondSuccess(c, result)
	})

	router.POST("/detect", func(c *gin.Context) {
		var req DetectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, "handlers.detect", invalidRequest(err))
			return
		}

		face, err := svc.Detect(c.Request.Context(), requestIDFrom(c), req.Photo)
		if err != nil {
			respondError(c, "handlers.detect", err)
			return
		}
		respondSuccess(c, DetectResponse{FacialArea: face.FacialArea, Confidence: face.Confidence})
	})
}

func invalidRequest(err error) error {
	return faceerr.Wrap(faceerr.KindDecode, "invalid request body: "+err.Error(), err)
}

type RouterOptions struct {
	Logger         *zap.Logger
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

// NewRouter builds the engine with the gateway middleware stack.
func NewRouter(svc FaceService, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(
		RequestID(),
		AccessLog(opts.Logger),
		Recovery(opts.Logger),
		BodyLimit(opts.MaxBodyBytes),
		Timeout(opts.RequestTimeout),
	)
	RegisterRoutes(router, svc)
	return router
}
