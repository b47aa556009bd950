package grpcclient

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/face-gateway/internal/faceerr"
	"github.com/example/face-gateway/internal/facerecognition"
	"github.com/example/face-gateway/internal/logging"
)

// The sidecar exchanges google.protobuf.Struct messages, so no generated
// stubs are required on either side.
const (
	ServiceName        = "faceservice.FaceRecognition"
	VerifyMethod       = "/" + ServiceName + "/Verify"
	ExtractFacesMethod = "/" + ServiceName + "/ExtractFaces"
)

// DialFaceService returns a ready-to-use client for the face-recognition sidecar.
func DialFaceService(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (*FaceService, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_face_service", "", err)
		logger.Error("failed to dial face service", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return New(conn, logger), conn, nil
}

// FaceService implements facerecognition.Client over gRPC.
type FaceService struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

var _ facerecognition.Client = (*FaceService)(nil)

// New wraps an existing connection.
func New(conn grpc.ClientConnInterface, logger *zap.Logger) *FaceService {
	return &FaceService{conn: conn, logger: logger.Named("grpcclient")}
}

func (g *FaceService) Match(ctx context.Context, referencePath, candidatePath string, opts facerecognition.MatchOptions) (facerecognition.VerificationResult, error) {
	fields := map[string]any{
		"img1_path": referencePath,
		"img2_path": candidatePath,
	}
	if opts.Threshold != nil {
		fields["threshold"] = *opts.Threshold
	}
	if opts.ModelName != "" {
		fields["model_name"] = opts.ModelName
	}

	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.verify", "", err)
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, VerifyMethod, req, resp); err != nil {
		return nil, g.remoteError("grpcclient.verify", err)
	}
	return facerecognition.VerificationResult(resp.AsMap()), nil
}

func (g *FaceService) DetectFaces(ctx context.Context, imagePath string, opts facerecognition.DetectOptions) ([]facerecognition.Face, error) {
	req, err := structpb.NewStruct(map[string]any{
		"img_path":          imagePath,
		"detector_backend":  opts.Backend,
		"enforce_detection": opts.EnforceDetection,
	})
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.extract_faces", "", err)
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, ExtractFacesMethod, req, resp); err != nil {
		return nil, g.remoteError("grpcclient.extract_faces", err)
	}

	faces, err := parseFaces(resp)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.extract_faces", "", err)
		g.logger.Error("malformed face service response", zap.Error(wrapped))
		return nil, faceerr.Capability(wrapped)
	}
	return faces, nil
}

// remoteError surfaces only the remote status message to clients.
func (g *FaceService) remoteError(operation string, err error) error {
	wrapped := logging.NewOperationError(operation, "", err)
	st := status.Convert(err)
	g.logger.Error("face service call failed",
		zap.Error(wrapped),
		zap.String("code", st.Code().String()),
	)
	return faceerr.Wrap(faceerr.KindCapability, st.Message(), wrapped)
}

func parseFaces(resp *structpb.Struct) ([]facerecognition.Face, error) {
	values := resp.GetFields()["faces"].GetListValue().GetValues()
	faces := make([]facerecognition.Face, 0, len(values))
	for i, value := range values {
		obj := value.GetStructValue()
		if obj == nil {
			return nil, fmt.Errorf("face %d: expected object", i)
		}
		fields := obj.GetFields()

		area, err := parseFacialArea(fields["facial_area"].GetStructValue())
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		confidence, err := toFloat(fields["confidence"])
		if err != nil {
			return nil, fmt.Errorf("face %d: confidence: %w", i, err)
		}
		faces = append(faces, facerecognition.Face{FacialArea: area, Confidence: confidence})
	}
	return faces, nil
}

func parseFacialArea(area *structpb.Struct) (facerecognition.FacialArea, error) {
	var out facerecognition.FacialArea
	if area == nil {
		return out, fmt.Errorf("missing facial_area")
	}
	fields := area.GetFields()
	for key, dst := range map[string]*int{"x": &out.X, "y": &out.Y, "w": &out.W, "h": &out.H} {
		v, err := toFloat(fields[key])
		if err != nil {
			return out, fmt.Errorf("facial_area.%s: %w", key, err)
		}
		*dst = int(math.Round(v))
	}
	out.LeftEye = toPoint(fields["left_eye"])
	out.RightEye = toPoint(fields["right_eye"])
	return out, nil
}

// toFloat coerces numbers, numeric strings and booleans. Missing or null
// values read as zero.
func toFloat(v *structpb.Value) (float64, error) {
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return kind.NumberValue, nil
	case *structpb.Value_StringValue:
		return strconv.ParseFloat(strings.TrimSpace(kind.StringValue), 64)
	case *structpb.Value_BoolValue:
		if kind.BoolValue {
			return 1, nil
		}
		return 0, nil
	case nil, *structpb.Value_NullValue:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected value type %T", kind)
	}
}

func toPoint(v *structpb.Value) []int {
	values := v.GetListValue().GetValues()
	if len(values) == 0 {
		return nil
	}
	point := make([]int, 0, len(values))
	for _, item := range values {
		point = append(point, int(math.Round(item.GetNumberValue())))
	}
	return point
}
