package assistant_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bujji-ai/vision-assistant/internal/service/assistant"
	sessionservice "github.com/bujji-ai/vision-assistant/internal/service/session"
)

func jpegFixture() []byte {
	return []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
}

func pngFixture() []byte {
	return []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00}
}

type stubVision struct {
	mu          sync.Mutex
	response    string
	err         error
	mimeTypes   []string
	instruction string
}

func (v *stubVision) Describe(_ context.Context, _ []byte, mimeType, instruction string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mimeTypes = append(v.mimeTypes, mimeType)
	v.instruction = instruction
	if v.err != nil {
		return "", v.err
	}
	return v.response, nil
}

type stubQA struct {
	mu       sync.Mutex
	response string
	err      error
	called   bool
	scene    string
	question string
}

func (q *stubQA) Answer(_ context.Context, sceneContext, question string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.called = true
	q.scene = sceneContext
	q.question = question
	if q.err != nil {
		return "", q.err
	}
	return q.response, nil
}

func TestAnalyzeSceneStoresDescription(t *testing.T) {
	store := sessionservice.NewService()
	visionStub := &stubVision{response: " a red chair \n"}
	svc := assistant.NewService(store, visionStub, nil, time.Second)

	result, err := svc.AnalyzeScene(context.Background(), "client-1", jpegFixture())
	if err != nil {
		t.Fatalf("AnalyzeScene err: %v", err)
	}

	if result.Description != "a red chair" {
		t.Fatalf("unexpected description: %q", result.Description)
	}
	if result.Confidence != 0.85 {
		t.Fatalf("unexpected confidence: %v", result.Confidence)
	}
	if result.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set")
	}

	desc, ok := store.SceneDescription(context.Background(), "client-1")
	if !ok || desc != "a red chair" {
		t.Fatalf("expected stored description, got %q ok=%v", desc, ok)
	}

	if len(visionStub.mimeTypes) != 1 || visionStub.mimeTypes[0] != "image/jpeg" {
		t.Fatalf("unexpected mime types: %v", visionStub.mimeTypes)
	}
	if visionStub.instruction == "" {
		t.Fatal("expected instruction prompt to be passed through")
	}
}

func TestAnalyzeSceneAcceptsPNG(t *testing.T) {
	store := sessionservice.NewService()
	visionStub := &stubVision{response: "an empty desk"}
	svc := assistant.NewService(store, visionStub, nil, time.Second)

	if _, err := svc.AnalyzeScene(context.Background(), "client-1", pngFixture()); err != nil {
		t.Fatalf("AnalyzeScene err: %v", err)
	}
	if visionStub.mimeTypes[0] != "image/png" {
		t.Fatalf("unexpected mime type: %s", visionStub.mimeTypes[0])
	}
}

func TestAnalyzeSceneRejectsNonImage(t *testing.T) {
	store := sessionservice.NewService()
	visionStub := &stubVision{response: "never used"}
	svc := assistant.NewService(store, visionStub, nil, time.Second)

	_, err := svc.AnalyzeScene(context.Background(), "client-1", []byte("definitely not an image"))
	if !errors.Is(err, assistant.ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}

	if _, ok := store.SceneDescription(context.Background(), "client-1"); ok {
		t.Fatal("rejected payload must not create session state")
	}
	if len(visionStub.mimeTypes) != 0 {
		t.Fatal("rejected payload must not reach the vision backend")
	}
}

func TestAnalyzeSceneUpstreamFailureKeepsPriorContext(t *testing.T) {
	store := sessionservice.NewService()
	visionStub := &stubVision{response: "a red chair"}
	svc := assistant.NewService(store, visionStub, nil, time.Second)

	if _, err := svc.AnalyzeScene(context.Background(), "client-1", jpegFixture()); err != nil {
		t.Fatalf("AnalyzeScene err: %v", err)
	}

	visionStub.err = errors.New("model overloaded")
	_, err := svc.AnalyzeScene(context.Background(), "client-1", jpegFixture())
	if !errors.Is(err, assistant.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}

	desc, ok := store.SceneDescription(context.Background(), "client-1")
	if !ok || desc != "a red chair" {
		t.Fatalf("expected prior description preserved, got %q ok=%v", desc, ok)
	}
}

func TestAnalyzeSceneUnavailableWithoutBackend(t *testing.T) {
	store := sessionservice.NewService()
	svc := assistant.NewService(store, nil, nil, time.Second)

	if _, err := svc.AnalyzeScene(context.Background(), "client-1", jpegFixture()); !errors.Is(err, assistant.ErrVisionUnavailable) {
		t.Fatalf("expected ErrVisionUnavailable, got %v", err)
	}
	if _, err := svc.AnswerQuestion(context.Background(), "client-1", "what?"); !errors.Is(err, assistant.ErrVisionUnavailable) {
		t.Fatalf("expected ErrVisionUnavailable, got %v", err)
	}
}

func TestAnswerQuestionWithoutContext(t *testing.T) {
	store := sessionservice.NewService()
	qa := &stubQA{response: "never used"}
	svc := assistant.NewService(store, nil, qa, time.Second)

	_, err := svc.AnswerQuestion(context.Background(), "client-1", "what do you see?")
	if !errors.Is(err, assistant.ErrNoSceneContext) {
		t.Fatalf("expected ErrNoSceneContext, got %v", err)
	}

	// A freshly reset session has a session entry but no description yet.
	store.Reset(context.Background(), "client-1")
	_, err = svc.AnswerQuestion(context.Background(), "client-1", "what do you see?")
	if !errors.Is(err, assistant.ErrNoSceneContext) {
		t.Fatalf("expected ErrNoSceneContext after reset, got %v", err)
	}

	if qa.called {
		t.Fatal("question must not reach the backend without scene context")
	}
}

func TestAnswerQuestionAppendsHistory(t *testing.T) {
	ctx := context.Background()
	store := sessionservice.NewService()
	qa := &stubQA{response: " it is red "}
	svc := assistant.NewService(store, nil, qa, time.Second)

	store.SetSceneDescription(ctx, "client-1", "a red chair")

	answer, err := svc.AnswerQuestion(ctx, "client-1", "what color is the chair?")
	if err != nil {
		t.Fatalf("AnswerQuestion err: %v", err)
	}

	if answer.Answer != "it is red" {
		t.Fatalf("unexpected answer: %q", answer.Answer)
	}
	if answer.SceneContext != "a red chair" {
		t.Fatalf("unexpected scene context: %q", answer.SceneContext)
	}
	if qa.scene != "a red chair" || qa.question != "what color is the chair?" {
		t.Fatalf("backend saw scene=%q question=%q", qa.scene, qa.question)
	}

	history, err := store.History(ctx, "client-1")
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
	if history[0].Question != "what color is the chair?" || history[0].Answer != "it is red" {
		t.Fatalf("unexpected history entry: %+v", history[0])
	}
	if history[0].SceneContext != "a red chair" {
		t.Fatalf("unexpected history scene context: %q", history[0].SceneContext)
	}
}

func TestAnswerQuestionUpstreamFailure(t *testing.T) {
	ctx := context.Background()
	store := sessionservice.NewService()
	qa := &stubQA{err: errors.New("model overloaded")}
	svc := assistant.NewService(store, nil, qa, time.Second)

	store.SetSceneDescription(ctx, "client-1", "a red chair")

	_, err := svc.AnswerQuestion(ctx, "client-1", "what color?")
	if !errors.Is(err, assistant.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}

	history, err := store.History(ctx, "client-1")
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("failed answer must not be recorded, got %d entries", len(history))
	}
}

type slowQA struct {
	delay time.Duration
}

func (q *slowQA) Answer(ctx context.Context, _, _ string) (string, error) {
	select {
	case <-time.After(q.delay):
		return "late", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestAnswerQuestionTimesOut(t *testing.T) {
	ctx := context.Background()
	store := sessionservice.NewService()
	svc := assistant.NewService(store, nil, &slowQA{delay: time.Second}, 20*time.Millisecond)

	store.SetSceneDescription(ctx, "client-1", "a red chair")

	_, err := svc.AnswerQuestion(ctx, "client-1", "what color?")
	if !errors.Is(err, assistant.ErrUpstream) {
		t.Fatalf("expected ErrUpstream on timeout, got %v", err)
	}
}

// gatedVision blocks its first call until released so tests can observe
// a second request queued behind it.
type gatedVision struct {
	mu      sync.Mutex
	order   []byte
	started chan struct{}
	release chan struct{}
}

func (v *gatedVision) Describe(_ context.Context, image []byte, _, _ string) (string, error) {
	tag := image[len(image)-1]

	v.mu.Lock()
	first := len(v.order) == 0
	v.order = append(v.order, tag)
	v.mu.Unlock()

	if first {
		close(v.started)
		<-v.release
	}
	return "described " + string(tag), nil
}

func TestPerClientSubmissionOrder(t *testing.T) {
	store := sessionservice.NewService()
	gate := &gatedVision{started: make(chan struct{}), release: make(chan struct{})}
	svc := assistant.NewService(store, gate, nil, time.Second)

	imgA := append(jpegFixture(), 'A')
	imgB := append(jpegFixture(), 'B')

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := svc.AnalyzeScene(context.Background(), "client-1", imgA); err != nil {
			t.Errorf("first AnalyzeScene err: %v", err)
		}
	}()

	<-gate.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := svc.AnalyzeScene(context.Background(), "client-1", imgB); err != nil {
			t.Errorf("second AnalyzeScene err: %v", err)
		}
	}()

	// Let the second request queue up behind the client slot before the
	// first one is released.
	time.Sleep(50 * time.Millisecond)
	close(gate.release)
	wg.Wait()

	gate.mu.Lock()
	order := string(gate.order)
	gate.mu.Unlock()
	if order != "AB" {
		t.Fatalf("expected submission order AB, got %q", order)
	}

	desc, ok := store.SceneDescription(context.Background(), "client-1")
	if !ok || !strings.HasSuffix(desc, "B") {
		t.Fatalf("expected final description from second request, got %q ok=%v", desc, ok)
	}
}

func TestDistinctClientsDoNotSerialize(t *testing.T) {
	store := sessionservice.NewService()
	gate := &gatedVision{started: make(chan struct{}), release: make(chan struct{})}
	svc := assistant.NewService(store, gate, nil, time.Second)

	go func() {
		_, _ = svc.AnalyzeScene(context.Background(), "client-1", append(jpegFixture(), 'A'))
	}()
	<-gate.started

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := svc.AnalyzeScene(context.Background(), "client-2", append(jpegFixture(), 'B')); err != nil {
			t.Errorf("client-2 AnalyzeScene err: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("client-2 request blocked behind client-1")
	}

	close(gate.release)
}
