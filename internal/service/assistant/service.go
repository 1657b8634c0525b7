// Package assistant coordinates scene analysis and contextual question
// answering on top of the session store. All operations for one client
// are committed in the order they were submitted; different clients never
// wait on each other.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	sessionmodel "github.com/bujji-ai/vision-assistant/internal/model/session"
	"github.com/bujji-ai/vision-assistant/internal/model/vision"
	sessionservice "github.com/bujji-ai/vision-assistant/internal/service/session"
)

var (
	ErrInvalidImage      = errors.New("invalid image data")
	ErrNoSceneContext    = errors.New("no recent scene analysis available")
	ErrVisionUnavailable = errors.New("vision ai not available")
	ErrUpstream          = errors.New("upstream ai request failed")
)

// SceneInstruction is the prompt sent with every scene frame.
const SceneInstruction = "What do you see in this image? Describe it naturally in 1-2 sentences."

// The vision backend reports no confidence score; callers still expect
// the field.
const sceneConfidence = 0.85

// VisionDescriber produces a natural-language description of an image.
type VisionDescriber interface {
	Describe(ctx context.Context, image []byte, mimeType, instruction string) (string, error)
}

// QuestionAnswerer answers a question grounded in a prior scene description.
type QuestionAnswerer interface {
	Answer(ctx context.Context, sceneContext, question string) (string, error)
}

// Service sequences per-client requests against the AI collaborators and
// commits their results to the session store.
type Service struct {
	store   *sessionservice.Service
	vision  VisionDescriber
	qa      QuestionAnswerer
	timeout time.Duration
	slots   sync.Map // clientID -> *semaphore.Weighted
}

// NewService wires the coordinator. describer and answerer may be nil when
// the AI backend is not configured; the corresponding operations then fail
// with ErrVisionUnavailable. timeout bounds every collaborator call.
func NewService(store *sessionservice.Service, describer VisionDescriber, answerer QuestionAnswerer, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		store:   store,
		vision:  describer,
		qa:      answerer,
		timeout: timeout,
	}
}

// VisionEnabled reports whether the AI collaborators are configured.
func (s *Service) VisionEnabled() bool {
	return s != nil && s.vision != nil
}

// AnalyzeScene validates the image, obtains a description from the vision
// collaborator and stores it as the client's current scene context. On any
// failure the stored context is left untouched.
func (s *Service) AnalyzeScene(ctx context.Context, clientID string, image []byte) (*vision.AnalysisResult, error) {
	if s.vision == nil {
		return nil, ErrVisionUnavailable
	}

	kind, err := imageKind(image)
	if err != nil {
		return nil, err
	}

	slot := s.clientSlot(clientID)
	if err := slot.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer slot.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	description, err := s.vision.Describe(callCtx, image, kind.MIME.Value, SceneInstruction)
	if err != nil {
		return nil, fmt.Errorf("%w: describe scene: %v", ErrUpstream, err)
	}

	description = strings.TrimSpace(description)
	s.store.SetSceneDescription(ctx, clientID, description)

	log.Ctx(ctx).Info().
		Str("client_id", clientID).
		Int("description_length", len(description)).
		Msg("scene analysis completed")

	return &vision.AnalysisResult{
		Description: description,
		Timestamp:   time.Now().UTC(),
		Confidence:  sceneConfidence,
	}, nil
}

// AnswerQuestion answers a question about the client's current scene
// context and appends the turn to the client's history. Without a prior
// successful scene analysis it fails with ErrNoSceneContext and never
// reaches the collaborator.
func (s *Service) AnswerQuestion(ctx context.Context, clientID, question string) (*vision.Answer, error) {
	if s.qa == nil {
		return nil, ErrVisionUnavailable
	}

	slot := s.clientSlot(clientID)
	if err := slot.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer slot.Release(1)

	sceneContext, ok := s.store.SceneDescription(ctx, clientID)
	if !ok || sceneContext == "" {
		return nil, ErrNoSceneContext
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	answer, err := s.qa.Answer(callCtx, sceneContext, question)
	if err != nil {
		return nil, fmt.Errorf("%w: answer question: %v", ErrUpstream, err)
	}

	answer = strings.TrimSpace(answer)
	s.store.AppendHistory(ctx, sessionmodel.Entry{
		ClientID:     clientID,
		Question:     question,
		Answer:       answer,
		SceneContext: sceneContext,
	})

	log.Ctx(ctx).Info().
		Str("client_id", clientID).
		Int("answer_length", len(answer)).
		Msg("question answered")

	return &vision.Answer{
		Answer:       answer,
		SceneContext: sceneContext,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// clientSlot returns the client's ordering slot, creating it on first use.
// semaphore.Weighted wakes waiters in FIFO order, which keeps one client's
// requests in submission order while leaving other clients untouched.
func (s *Service) clientSlot(clientID string) *semaphore.Weighted {
	if slot, ok := s.slots.Load(clientID); ok {
		return slot.(*semaphore.Weighted)
	}

	slot, _ := s.slots.LoadOrStore(clientID, semaphore.NewWeighted(1))
	return slot.(*semaphore.Weighted)
}

// imageKind sniffs the payload and accepts only known image encodings.
func imageKind(image []byte) (types.Type, error) {
	kind, err := filetype.Match(image)
	if err != nil {
		return types.Unknown, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if kind == filetype.Unknown || kind.MIME.Type != "image" {
		return types.Unknown, ErrInvalidImage
	}
	return kind, nil
}
