package usecase

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/face-gateway/internal/faceerr"
)

var trackedKinds = [...]faceerr.Kind{
	faceerr.KindUnknown,
	faceerr.KindDecode,
	faceerr.KindFetch,
	faceerr.KindCapability,
	faceerr.KindNoFaceDetected,
}

type operationStats struct {
	total        atomic.Int64
	successful   atomic.Int64
	latencyNanos atomic.Int64
	failures     [len(trackedKinds)]atomic.Int64
}

func (s *operationStats) record(err error, elapsed time.Duration) {
	s.total.Add(1)
	s.latencyNanos.Add(int64(elapsed))
	if err == nil {
		s.successful.Add(1)
		return
	}
	kind := faceerr.KindOf(err)
	if int(kind) < 0 || int(kind) >= len(s.failures) {
		kind = faceerr.KindUnknown
	}
	s.failures[kind].Add(1)
}

// track is deferred by each operation with its named error result. A panic
// is counted as an unknown failure and then re-raised.
func (s *operationStats) track(start time.Time, err *error) {
	if recovered := recover(); recovered != nil {
		s.record(fmt.Errorf("panic: %v", recovered), time.Since(start))
		panic(recovered)
	}
	s.record(*err, time.Since(start))
}

// OperationSummary aggregates outcomes of one gateway operation.
type OperationSummary struct {
	TotalRequests              int64            `json:"total_requests"`
	SuccessfulRequests         int64            `json:"successful_requests"`
	SuccessRate                float64          `json:"success_rate"`
	AverageProcessingLatencyMs float64          `json:"average_processing_latency_ms"`
	FailuresByKind             map[string]int64 `json:"failures_by_kind"`
}

// StatsSummary is the process-local view exposed on /stats. It resets on restart.
type StatsSummary struct {
	Verify OperationSummary `json:"verify"`
	Detect OperationSummary `json:"detect"`
}

func (s *operationStats) summary() OperationSummary {
	summary := OperationSummary{
		TotalRequests:      s.total.Load(),
		SuccessfulRequests: s.successful.Load(),
		FailuresByKind:     make(map[string]int64, len(trackedKinds)),
	}
	for _, kind := range trackedKinds {
		if n := s.failures[kind].Load(); n > 0 {
			summary.FailuresByKind[kind.String()] = n
		}
	}
	if summary.TotalRequests > 0 {
		summary.SuccessRate = float64(summary.SuccessfulRequests) / float64(summary.TotalRequests)
		avg := time.Duration(s.latencyNanos.Load() / summary.TotalRequests)
		summary.AverageProcessingLatencyMs = float64(avg) / float64(time.Millisecond)
	}
	return summary
}

// GetStatsSummary reports request counters since process start.
func (uc *FaceUseCase) GetStatsSummary() StatsSummary {
	return StatsSummary{
		Verify: uc.verifyStats.summary(),
		Detect: uc.detectStats.summary(),
	}
}
