package caption

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dongyingyibadao/data-dealer-auto/internal/services/llm"
)

// ErrMissingImages reports a vision request without the frames it needs.
var ErrMissingImages = errors.New("vision request is missing frames")

// VisionConfig configures the vision describer.
type VisionConfig struct {
	APIKey  string
	BaseURL string
	// APIVersion selects the Azure OpenAI flavour when set.
	APIVersion string
	Model      string
	// FastMode sends the first and last cam1 frames instead of six frames.
	FastMode  bool
	MaxTokens int
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient openai.HTTPDoer
}

// Vision asks a multimodal chat model to name the manipulated object.
type Vision struct {
	client *openai.Client
	cfg    VisionConfig
}

// NewVision builds an OpenAI or Azure OpenAI client from cfg.
func NewVision(cfg VisionConfig) *Vision {
	var clientCfg openai.ClientConfig
	if strings.TrimSpace(cfg.APIVersion) != "" {
		clientCfg = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
		clientCfg.APIVersion = cfg.APIVersion
	} else {
		clientCfg = openai.DefaultConfig(cfg.APIKey)
		if strings.TrimSpace(cfg.BaseURL) != "" {
			clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
		}
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 50
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	return &Vision{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}
}

// UsesImages implements ImageDescriber.
func (v *Vision) UsesImages() bool { return true }

// Describe implements Describer.
func (v *Vision) Describe(ctx context.Context, req Request) (string, error) {
	images, err := v.selectImages(req.Images)
	if err != nil {
		return "", err
	}
	parts := make([]openai.ChatMessagePart, 0, len(images)+1)
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: visionPrompt(req, v.cfg.FastMode, len(images) == 6),
	})
	mediaType := mediaTypeFor(req.Images.Ext)
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(img),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}

	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     v.cfg.Model,
		MaxTokens: v.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	})
	if err != nil {
		return "", fmt.Errorf("vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("vision completion returned no choices")
	}
	label := llm.FirstLine(resp.Choices[0].Message.Content)
	if label == "" {
		return "", errors.New("vision completion returned empty content")
	}
	return label, nil
}

// HealthCheck implements HealthChecker.
func (v *Vision) HealthCheck(ctx context.Context) error {
	if _, err := v.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func (v *Vision) selectImages(ic *ImageContext) ([][]byte, error) {
	if ic == nil {
		return nil, ErrMissingImages
	}
	if v.cfg.FastMode {
		if len(ic.FirstCam1) == 0 || len(ic.LastCam1) == 0 {
			return nil, ErrMissingImages
		}
		return [][]byte{ic.FirstCam1, ic.LastCam1}, nil
	}
	if len(ic.FirstCam1) == 0 || len(ic.KeyCam1) == 0 || len(ic.LastCam1) == 0 {
		return nil, ErrMissingImages
	}
	images := [][]byte{ic.FirstCam1, ic.KeyCam1, ic.LastCam1}
	if len(ic.FirstCam2) > 0 && len(ic.KeyCam2) > 0 && len(ic.LastCam2) > 0 {
		images = append(images, ic.FirstCam2, ic.KeyCam2, ic.LastCam2)
	}
	return images, nil
}

func mediaTypeFor(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func visionPrompt(req Request, fast, twoCameras bool) string {
	verb := req.Kind.ActionVerb()
	var b strings.Builder
	fmt.Fprintf(&b, "Original task: %q\n", req.TaskLabel)
	fmt.Fprintf(&b, "Action type: %q (pick = grasp an object, place = put an object down)\n\n", verb)
	switch {
	case fast:
		b.WriteString("Images: 1. first frame (before the action) 2. last frame (after the action).\n\n")
	case twoCameras:
		b.WriteString("Images 1-3 come from camera 1 (scene view): first, key (moment of the action), last.\n")
		b.WriteString("Images 4-6 come from camera 2 (close-up view): first, key, last.\n\n")
	default:
		b.WriteString("Images: 1. first frame 2. key frame (moment of the action) 3. last frame.\n\n")
	}
	b.WriteString("Rules:\n")
	b.WriteString("1. Each clip manipulates exactly one object.\n")
	b.WriteString("2. Compare the frames and find the object whose position changed.\n")
	b.WriteString("3. Describe that object completely, including colour and shape (\"yellow and white mug\" is one mug).\n\n")
	b.WriteString("Reply with one line of the form \"pick [object]\" or \"place [object] [location]\" and nothing else.\n\n")
	b.WriteString("Example:\nOriginal task: \"put the yellow and white mug on the plate\"\nAction type: \"pick\"\nAnswer: pick the yellow and white mug\n")
	return b.String()
}
