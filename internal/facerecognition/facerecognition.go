package facerecognition

import "context"

// VerificationResult is the backend's verdict, passed to clients untouched
// (verified, distance, threshold, model, ...).
type VerificationResult map[string]any

// Verified reports the backend's match flag, if present.
func (r VerificationResult) Verified() (bool, bool) {
	v, ok := r["verified"].(bool)
	return v, ok
}

// FacialArea is a detected face's bounding box in pixels.
type FacialArea struct {
	X        int   `json:"x"`
	Y        int   `json:"y"`
	W        int   `json:"w"`
	H        int   `json:"h"`
	LeftEye  []int `json:"left_eye,omitempty"`
	RightEye []int `json:"right_eye,omitempty"`
}

// Face is a single detection.
type Face struct {
	FacialArea FacialArea `json:"facial_area"`
	Confidence float64    `json:"confidence"`
}

// MatchOptions tunes a verification call. A nil Threshold leaves the
// backend default in place; an empty ModelName does the same.
type MatchOptions struct {
	Threshold *float64
	ModelName string
}

// DetectOptions tunes a detection call.
type DetectOptions struct {
	Backend          string
	EnforceDetection bool
}

// Client is the face-recognition capability the gateway proxies to. Paths
// refer to image files readable by the backend.
type Client interface {
	Match(ctx context.Context, referencePath, candidatePath string, opts MatchOptions) (VerificationResult, error)
	DetectFaces(ctx context.Context, imagePath string, opts DetectOptions) ([]Face, error)
}
