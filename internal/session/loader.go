package session

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/penaltyvision/overlay-server/internal/backend"
	"github.com/penaltyvision/overlay-server/internal/logger"
	"github.com/penaltyvision/overlay-server/internal/metrics"
	"github.com/penaltyvision/overlay-server/internal/posture"
)

// Source is the part of the backend the loader reads from.
type Source interface {
	Penalty(ctx context.Context, id string) (backend.Penalty, error)
	Postures(ctx context.Context, id string) (*posture.Sequence, error)
	VideoURL(ctx context.Context, id string) (string, error)
}

// Step names a stage of the load sequence.
type Step string

const (
	StepPenalty  Step = "penalty"
	StepPostures Step = "postures"
	StepVideo    Step = "video"
)

// LoadError reports which stage failed, with a message fit for the user.
type LoadError struct {
	Step      Step
	Message   string
	Err       error
	Retryable bool
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %s: %v", e.Step, e.Message, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Loaded is everything the player view needs for one penalty.
type Loaded struct {
	PenaltyID string            `json:"penalty_id"`
	Penalty   backend.Penalty   `json:"penalty"`
	Postures  *posture.Sequence `json:"-"`
	VideoURL  string            `json:"video_url"`
	FromCache bool              `json:"postures_cached"`
}

// Loader fetches penalty details, postures and the video URL in that order.
// The first failure aborts the load.
type Loader struct {
	src     Source
	cache   PostureCache
	metrics *metrics.Metrics
}

// NewLoader builds a loader. cache may be nil.
func NewLoader(src Source, cache PostureCache, m *metrics.Metrics) *Loader {
	if m == nil {
		m = metrics.New()
	}
	return &Loader{src: src, cache: cache, metrics: m}
}

// Load runs the load sequence for penaltyID.
func (l *Loader) Load(ctx context.Context, penaltyID string) (*Loaded, error) {
	out := &Loaded{PenaltyID: penaltyID}

	p, err := l.src.Penalty(ctx, penaltyID)
	if err != nil {
		return nil, l.fail(StepPenalty, "could not load penalty information", err)
	}
	out.Penalty = p
	logger.Debug("Loader", "Penalty %s info loaded", penaltyID)

	seq, cached, err := l.postures(ctx, penaltyID)
	if err != nil {
		return nil, l.fail(StepPostures, "could not load postures", err)
	}
	out.Postures = seq
	out.FromCache = cached
	logger.Debug("Loader", "Penalty %s postures loaded: %d frames (cached=%v)", penaltyID, seq.Len(), cached)

	videoURL, err := l.src.VideoURL(ctx, penaltyID)
	if err != nil {
		msg := "could not resolve the video URL"
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return nil, l.fail(StepVideo, msg, err)
	}
	out.VideoURL = videoURL
	return out, nil
}

func (l *Loader) postures(ctx context.Context, penaltyID string) (*posture.Sequence, bool, error) {
	if l.cache != nil {
		seq, ok, err := l.cache.Get(ctx, penaltyID)
		switch {
		case err != nil:
			l.metrics.CacheErrors.Add(1)
			logger.Warn("Loader", "Posture cache read failed, fetching from backend: %v", err)
		case ok:
			l.metrics.CacheHits.Add(1)
			return seq, true, nil
		default:
			l.metrics.CacheMisses.Add(1)
		}
	}

	seq, err := l.src.Postures(ctx, penaltyID)
	if err != nil {
		return nil, false, err
	}
	if l.cache != nil {
		if err := l.cache.Set(ctx, penaltyID, seq); err != nil {
			l.metrics.CacheErrors.Add(1)
			logger.Warn("Loader", "Posture cache write failed: %v", err)
		}
	}
	return seq, false, nil
}

func (l *Loader) fail(step Step, msg string, err error) *LoadError {
	l.metrics.LoadErrors.Add(1)
	return &LoadError{Step: step, Message: msg, Err: err, Retryable: retryable(err)}
}

func retryable(err error) bool {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
