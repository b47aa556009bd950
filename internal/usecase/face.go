package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-gateway/internal/faceerr"
	"github.com/example/face-gateway/internal/facerecognition"
	"github.com/example/face-gateway/internal/imagefile"
	"github.com/example/face-gateway/internal/logging"
)

// ErrMissingCandidate is returned when a verification carries no candidate image.
var ErrMissingCandidate = errors.New("candidate image is required (image, photo or image_url)")

// Options are the per-process settings injected at startup.
type Options struct {
	Threshold       *float64
	ModelName       string
	DetectorBackend string
	CacheTTL        time.Duration
}

// FaceUseCase runs verification and detection requests against the
// face-recognition backend. Every temporary file it creates is removed
// before the call returns.
type FaceUseCase struct {
	client         facerecognition.Client
	images         *imagefile.Store
	cache          Cache
	opts           Options
	logger         *zap.Logger
	verifyStats    operationStats
	detectStats    operationStats
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewFaceUseCase constructs the use case. cache may be nil to disable
// result caching.
func NewFaceUseCase(client facerecognition.Client, images *imagefile.Store, cache Cache, opts Options, logger *zap.Logger) *FaceUseCase {
	return &FaceUseCase{
		client:         client,
		images:         images,
		cache:          cache,
		opts:           opts,
		logger:         logger.Named("face_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// VerifyInput carries the two images of a verification. Candidate wins over
// CandidateURL when both are set.
type VerifyInput struct {
	RequestID    string
	Reference    string
	Candidate    string
	CandidateURL string
}

// Verify asks the backend whether both images show the same person and
// returns its result untouched.
func (uc *FaceUseCase) Verify(ctx context.Context, in VerifyInput) (result facerecognition.VerificationResult, err error) {
	defer uc.verifyStats.track(time.Now(), &err)

	opLogger := logging.WithOperation(uc.logger, "usecase.verify", in.RequestID)
	if in.Candidate == "" && in.CandidateURL == "" {
		return nil, faceerr.Wrap(faceerr.KindDecode, ErrMissingCandidate.Error(), ErrMissingCandidate)
	}

	matchOpts := facerecognition.MatchOptions{Threshold: uc.opts.Threshold, ModelName: uc.opts.ModelName}

	var cacheKey string
	if in.Candidate != "" {
		cacheKey = verificationCacheKey(in.Reference, in.Candidate, matchOpts)
		if cached := uc.cachedVerification(ctx, in.RequestID, cacheKey); cached != nil {
			opLogger.Debug("verification served from cache")
			return cached, nil
		}
	}

	scope := uc.images.NewScope()
	defer uc.release(scope, opLogger)

	referencePath, err := scope.FromBase64(in.Reference, imagefile.DefaultExt)
	if err != nil {
		opLogger.Info("reference image rejected", zap.Error(err))
		return nil, err
	}

	var candidatePath string
	if in.Candidate != "" {
		candidatePath, err = scope.FromBase64(in.Candidate, imagefile.DefaultExt)
	} else {
		candidatePath, err = scope.FromURL(ctx, in.CandidateURL)
	}
	if err != nil {
		opLogger.Info("candidate image rejected", zap.Error(err))
		return nil, err
	}

	result, err = uc.client.Match(ctx, referencePath, candidatePath, matchOpts)
	if err != nil {
		err = classifyCapabilityError(err)
		opLogger.Warn("face match failed", zap.Error(logging.NewOperationError("usecase.verify", in.RequestID, err)))
		return nil, err
	}

	if verified, ok := result.Verified(); ok {
		opLogger.Debug("verification completed", zap.Bool("verified", verified))
	} else {
		opLogger.Warn("verification result carries no verified flag")
	}
	uc.storeVerification(ctx, in.RequestID, cacheKey, result)
	return result, nil
}

// Detect returns the first face the backend finds in photo. Detection is
// never enforced by the backend; an empty result is reported here as
// faceerr.KindNoFaceDetected.
func (uc *FaceUseCase) Detect(ctx context.Context, requestID, photo string) (face *facerecognition.Face, err error) {
	defer uc.detectStats.track(time.Now(), &err)

	opLogger := logging.WithOperation(uc.logger, "usecase.detect", requestID)

	scope := uc.images.NewScope()
	defer uc.release(scope, opLogger)

	path, err := scope.FromBase64(photo, imagefile.DefaultExt)
	if err != nil {
		opLogger.Info("photo rejected", zap.Error(err))
		return nil, err
	}

	faces, err := uc.client.DetectFaces(ctx, path, facerecognition.DetectOptions{
		Backend:          uc.opts.DetectorBackend,
		EnforceDetection: false,
	})
	if err != nil {
		err = classifyCapabilityError(err)
		opLogger.Warn("face detection failed", zap.Error(logging.NewOperationError("usecase.detect", requestID, err)))
		return nil, err
	}
	if len(faces) == 0 {
		return nil, faceerr.NoFaceDetected()
	}
	if len(faces) > 1 {
		opLogger.Debug("multiple faces detected, keeping the first", zap.Int("faces", len(faces)))
	}

	first := faces[0]
	return &first, nil
}

func (uc *FaceUseCase) release(scope *imagefile.Scope, opLogger *zap.Logger) {
	if err := scope.Close(); err != nil {
		opLogger.Error("failed to remove temporary images", zap.Error(err))
	}
}

// classifyCapabilityError keeps kinds assigned by the client and files
// everything else, context expiry included, under KindCapability.
func classifyCapabilityError(err error) error {
	if faceerr.KindOf(err) != faceerr.KindUnknown {
		return err
	}
	return faceerr.Capability(err)
}
