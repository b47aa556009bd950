// Package faceerr defines the closed set of failure causes reported by the gateway.
package faceerr

import "errors"

// Kind classifies why a request failed.
type Kind int

const (
	KindUnknown Kind = iota
	// KindDecode covers malformed base64 payloads and malformed request bodies.
	KindDecode
	// KindFetch covers remote image downloads.
	KindFetch
	// KindCapability covers failures raised by the face-recognition backend.
	KindCapability
	// KindNoFaceDetected is raised when detection succeeded but found nothing.
	KindNoFaceDetected
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode_error"
	case KindFetch:
		return "fetch_error"
	case KindCapability:
		return "capability_error"
	case KindNoFaceDetected:
		return "no_face_detected"
	default:
		return "unknown_error"
	}
}

// ErrNoFaceDetected is the cause carried by NoFaceDetected errors.
var ErrNoFaceDetected = errors.New("no face detected")

// Error is a classified failure. Message is what clients see; Err keeps the
// underlying cause for errors.Is/As.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap classifies err under kind. The message defaults to err's text.
func Wrap(kind Kind, message string, err error) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Decode reports a payload that could not be decoded.
func Decode(err error) error {
	return &Error{Kind: KindDecode, Message: "failed to decode base64 image: " + err.Error(), Err: err}
}

// Fetch reports a remote image that could not be retrieved.
func Fetch(err error) error {
	return &Error{Kind: KindFetch, Message: "failed to fetch image: " + err.Error(), Err: err}
}

// Capability reports a failure of the face-recognition backend.
func Capability(err error) error {
	return &Error{Kind: KindCapability, Err: err}
}

// NoFaceDetected reports an empty detection result.
func NoFaceDetected() error {
	return &Error{Kind: KindNoFaceDetected, Err: ErrNoFaceDetected}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindUnknown
}
