package caption

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dongyingyibadao/data-dealer-auto/internal/config"
	"github.com/dongyingyibadao/data-dealer-auto/internal/dataset"
	"github.com/dongyingyibadao/data-dealer-auto/internal/logging"
	"github.com/dongyingyibadao/data-dealer-auto/internal/segment"
)

func TestLocalLabel(t *testing.T) {
	cases := []struct {
		kind segment.Kind
		task string
		want string
	}{
		{segment.KindGrasp, "put the bowl on the plate", "pick up the bowl"},
		{segment.KindRelease, "put the bowl on the plate", "put the bowl on the plate"},
		{segment.KindRelease, "open the drawer", "put the drawer"},
		{segment.KindGrasp, "put both moka pots on the stove", "pick up the both moka pots"},
		{segment.KindRelease, "Put the red mug in the sink.", "put the red mug on the sink"},
		{segment.KindGrasp, "", "pick up the object"},
		{segment.KindRelease, "put on", "put the object"},
	}
	for _, tc := range cases {
		if got := LocalLabel(tc.kind, tc.task); got != tc.want {
			t.Fatalf("LocalLabel(%s, %q) = %q, want %q", tc.kind, tc.task, got, tc.want)
		}
	}
}

func TestFallbackLabel(t *testing.T) {
	if got := FallbackLabel(Request{Kind: segment.KindRelease}); got != "place object" {
		t.Fatalf("FallbackLabel = %q", got)
	}
}

func TestTextDescriberPrompt(t *testing.T) {
	var body struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": "pick up the red mug\n"}}},
		})
	}))
	defer server.Close()

	provider, err := NewProvider(config.Caption{
		Provider: config.ProviderQwen,
		APIKey:   "test",
		BaseURL:  server.URL,
		Model:    "qwen-turbo",
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if !provider.Remote() {
		t.Fatal("qwen provider should be remote")
	}
	label, err := provider.Describer.Describe(context.Background(), Request{Kind: segment.KindGrasp, TaskLabel: "put the red mug in the sink"})
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if label != "pick up the red mug" {
		t.Fatalf("label = %q", label)
	}
	if len(body.Messages) != 2 || !strings.Contains(body.Messages[1].Content, "put the red mug in the sink") {
		t.Fatalf("unexpected messages %+v", body.Messages)
	}
	if !strings.Contains(body.Messages[1].Content, "gripper closes (pick)") {
		t.Fatalf("prompt does not name the action: %s", body.Messages[1].Content)
	}
}

func TestVisionFastModeSendsTwoFrames(t *testing.T) {
	var req openai.ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl",
			"object":  "chat.completion",
			"choices": []any{map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": "pick the white mug"}}},
		})
	}))
	defer server.Close()

	v := NewVision(VisionConfig{APIKey: "k", BaseURL: server.URL + "/v1", Model: "gpt-4o", FastMode: true})
	label, err := v.Describe(context.Background(), Request{
		Kind:      segment.KindGrasp,
		TaskLabel: "put the white mug on the plate",
		Images:    &ImageContext{FirstCam1: []byte("a"), LastCam1: []byte("b"), KeyCam1: []byte("c"), Ext: "png"},
	})
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if label != "pick the white mug" {
		t.Fatalf("label = %q", label)
	}
	if len(req.Messages) != 1 {
		t.Fatalf("expected one message, got %d", len(req.Messages))
	}
	images := 0
	for _, part := range req.Messages[0].MultiContent {
		if part.Type == openai.ChatMessagePartTypeImageURL {
			images++
			if !strings.HasPrefix(part.ImageURL.URL, "data:image/png;base64,") {
				t.Fatalf("unexpected image url %q", part.ImageURL.URL)
			}
		}
	}
	if images != 2 {
		t.Fatalf("fast mode sent %d images", images)
	}
}

func TestVisionRequiresKeyframeOutsideFastMode(t *testing.T) {
	v := NewVision(VisionConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1/v1"})
	_, err := v.Describe(context.Background(), Request{
		Kind:   segment.KindGrasp,
		Images: &ImageContext{FirstCam1: []byte("a"), LastCam1: []byte("b")},
	})
	if !errors.Is(err, ErrMissingImages) {
		t.Fatalf("expected ErrMissingImages, got %v", err)
	}
}

type scriptedDescriber struct {
	calls  []Request
	fail   bool
	images bool
}

func (s *scriptedDescriber) Describe(_ context.Context, req Request) (string, error) {
	s.calls = append(s.calls, req)
	if s.fail {
		return "", errors.New("provider down")
	}
	return req.Kind.ActionVerb() + " from provider", nil
}

func (s *scriptedDescriber) UsesImages() bool { return s.images }

func labelWindows() []segment.Window {
	return []segment.Window{
		{Keyframe: 3, Kind: segment.KindGrasp, Start: 0, End: 6, TaskLabel: "put the cup on the plate"},
		{Keyframe: 9, Kind: segment.KindRelease, Start: 6, End: 12, TaskLabel: "put the cup on the plate"},
		{Keyframe: 15, Kind: segment.KindGrasp, Start: 12, End: 18, TaskLabel: "put the cup on the plate"},
	}
}

func TestLabelerCachesByKindAndTask(t *testing.T) {
	d := &scriptedDescriber{}
	l := &Labeler{Describer: d, Logger: logging.NewNop()}
	out, stats, err := l.Label(context.Background(), labelWindows(), "")
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	if len(d.calls) != 2 || stats.CacheHits != 1 || stats.Described != 2 {
		t.Fatalf("unexpected calls=%d stats=%+v", len(d.calls), stats)
	}
	if out[2].NewTaskLabel != "pick from provider" || out[1].NewTaskLabel != "place from provider" {
		t.Fatalf("unexpected labels %+v", out)
	}
	if labelWindows()[0].NewTaskLabel != "" {
		t.Fatal("input windows must not be modified")
	}
}

func TestLabelerImageProvidersCachePerKeyframe(t *testing.T) {
	frames := make([]dataset.Frame, 18)
	for i := range frames {
		frames[i] = dataset.Frame{Action: []float32{0}, Image1: []byte{byte(i)}, Image2: []byte{byte(i + 100)}, ImageExt: "jpg"}
	}
	d := &scriptedDescriber{images: true}
	l := &Labeler{Describer: d, Source: dataset.NewMemorySource(frames), Logger: logging.NewNop()}
	if _, _, err := l.Label(context.Background(), labelWindows(), ""); err != nil {
		t.Fatalf("Label: %v", err)
	}
	if len(d.calls) != 3 {
		t.Fatalf("expected one call per keyframe, got %d", len(d.calls))
	}
	ic := d.calls[1].Images
	if ic == nil || ic.FirstCam1[0] != 6 || ic.KeyCam1[0] != 9 || ic.LastCam1[0] != 11 || ic.KeyCam2[0] != 109 || ic.Ext != "jpg" {
		t.Fatalf("unexpected image context %+v", ic)
	}
}

func TestLabelerFallback(t *testing.T) {
	d := &scriptedDescriber{fail: true}
	var fallbacks int
	l := &Labeler{
		Describer:  d,
		Fallback:   func(req Request) string { return LocalLabel(req.Kind, req.TaskLabel) },
		Logger:     logging.NewNop(),
		OnFallback: func(Request, error) { fallbacks++ },
	}
	out, stats, err := l.Label(context.Background(), labelWindows(), "")
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	if stats.Fallbacks != 2 || fallbacks != 2 {
		t.Fatalf("expected 2 fallbacks, got %d/%d", stats.Fallbacks, fallbacks)
	}
	if out[0].NewTaskLabel != "pick up the cup" || out[1].NewTaskLabel != "put the cup on the plate" {
		t.Fatalf("unexpected fallback labels %q %q", out[0].NewTaskLabel, out[1].NewTaskLabel)
	}
}

func TestLabelerCheckpointAndResume(t *testing.T) {
	dir := t.TempDir()
	first := &Labeler{Describer: &scriptedDescriber{}, CheckpointDir: dir, CheckpointInterval: 2, Logger: logging.NewNop()}
	if _, _, err := first.Label(context.Background(), labelWindows(), ""); err != nil {
		t.Fatalf("Label: %v", err)
	}
	path := filepath.Join(dir, CheckpointFile)
	cp, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if cp.LastIndex != 2 || len(cp.CompletedRanges) != 3 {
		t.Fatalf("unexpected checkpoint %+v", cp)
	}

	cp.CompletedRanges = cp.CompletedRanges[:2]
	cp.CompletedRanges[0].NewTaskLabel = "from checkpoint"
	cp.LastIndex = 1
	if err := SaveCheckpoint(dir, cp); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	d := &scriptedDescriber{}
	second := &Labeler{Describer: d, Logger: logging.NewNop()}
	out, stats, err := second.Label(context.Background(), labelWindows(), path)
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	if stats.Resumed != 2 || len(d.calls) != 0 || stats.CacheHits != 1 {
		t.Fatalf("unexpected resume stats=%+v calls=%d", stats, len(d.calls))
	}
	if out[0].NewTaskLabel != "from checkpoint" || out[2].NewTaskLabel != "from checkpoint" {
		t.Fatalf("resumed labels not reused: %+v", out)
	}
}

func TestLabelerIgnoresMismatchedCheckpoint(t *testing.T) {
	dir := t.TempDir()
	if err := SaveCheckpoint(dir, Checkpoint{LastIndex: 5}); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	d := &scriptedDescriber{}
	l := &Labeler{Describer: d, Logger: logging.NewNop()}
	_, stats, err := l.Label(context.Background(), labelWindows(), filepath.Join(dir, CheckpointFile))
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	if stats.Resumed != 0 || len(d.calls) != 2 {
		t.Fatalf("expected a fresh start, stats=%+v", stats)
	}
}

func TestLabelerHonoursLimiterCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	l := &Labeler{Describer: &scriptedDescriber{}, Limiter: NewLimiter(1), Logger: logging.NewNop()}
	if _, _, err := l.Label(ctx, labelWindows(), ""); err == nil {
		t.Fatal("expected the limiter to give up before the deadline")
	}
}

func TestNewProviderLocalAndUnknown(t *testing.T) {
	p, err := NewProvider(config.Caption{Provider: config.ProviderLocal})
	if err != nil || p.Remote() {
		t.Fatalf("local provider: %+v %v", p, err)
	}
	if _, err := NewProvider(config.Caption{Provider: "bard"}); err == nil {
		t.Fatal("expected unknown provider error")
	}
	if NewLimiter(0) != nil {
		t.Fatal("zero budget should disable the limiter")
	}
}
