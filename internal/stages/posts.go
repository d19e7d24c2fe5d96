package stages

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"postforge/internal/logging"
	"postforge/internal/objectstore"
	"postforge/internal/services"
	"postforge/internal/services/imagegen"
	"postforge/internal/stage"
)

// DraftVariant identifies the draft payload shape.
type DraftVariant int

const (
	// DraftNested wraps the post fields in a "post" object.
	DraftNested DraftVariant = iota
	// DraftFlat carries caption and prompt at the top level.
	DraftFlat
)

func (v DraftVariant) String() string {
	if v == DraftFlat {
		return "flat"
	}
	return "nested"
}

// Draft is the canonical next_posts record.
type Draft struct {
	Caption      string
	Hashtags     []string
	CallToAction string
	VisualPrompt string
	Campaign     bool
	Variant      DraftVariant
}

// ParseDraft validates a draft payload in either shape.
func ParseDraft(p objectstore.Payload) (Draft, error) {
	var draft Draft
	if post, ok := p.Object("post"); ok {
		draft = Draft{
			Caption:      firstOf(post.String("caption"), post.String("content")),
			Hashtags:     stringList(post["hashtags"]),
			CallToAction: post.String("call_to_action"),
			VisualPrompt: firstOf(post.String("visual_prompt"), post.String("image_prompt")),
			Variant:      DraftNested,
		}
	} else {
		draft = Draft{
			Caption:      firstOf(p.String("caption"), p.String("content")),
			Hashtags:     stringList(p["hashtags"]),
			CallToAction: p.String("call_to_action"),
			VisualPrompt: firstOf(p.String("visual_prompt"), p.String("image_prompt")),
			Variant:      DraftFlat,
		}
	}
	if flag, ok := p["campaign"].(bool); ok {
		draft.Campaign = flag
	}
	if strings.TrimSpace(draft.Caption) == "" {
		return Draft{}, services.Wrap(services.ErrValidation, "posts", "parse", "draft has no caption", nil)
	}
	if strings.TrimSpace(draft.VisualPrompt) == "" {
		return Draft{}, services.Wrap(services.ErrValidation, "posts", "parse", "draft has no visual prompt", nil)
	}
	return draft, nil
}

// ImageGenerator renders one image per prompt; *imagegen.Client satisfies it.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (imagegen.Image, error)
}

// PostsHandler renders the draft's image and publishes the ready post.
type PostsHandler struct {
	images      ImageGenerator
	readyPrefix string
	now         func() time.Time
	logger      *slog.Logger
}

// NewPostsHandler builds the posts stage handler.
func NewPostsHandler(images ImageGenerator, readyPrefix string, now func() time.Time, logger *slog.Logger) *PostsHandler {
	if now == nil {
		now = time.Now
	}
	return &PostsHandler{
		images:      images,
		readyPrefix: readyPrefix,
		now:         now,
		logger:      logging.NewComponentLogger(logger, "posts"),
	}
}

// SetLogger implements stage.LoggerAware.
func (h *PostsHandler) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logger
	}
}

func (h *PostsHandler) Prepare(_ context.Context, item *stage.Item) error {
	draft, err := ParseDraft(item.Payload)
	if err != nil {
		return err
	}
	if isCampaign(item.Key) {
		draft.Campaign = true
	}
	item.Input = draft
	return nil
}

func (h *PostsHandler) Execute(ctx context.Context, item *stage.Item) (stage.Output, error) {
	if h.images == nil {
		return stage.Output{}, services.Wrap(services.ErrConfiguration, "posts", "execute", "image generator not configured", nil)
	}
	draft, ok := item.Input.(Draft)
	if !ok {
		return stage.Output{}, services.Wrap(services.ErrValidation, "posts", "execute", "item was not prepared", nil)
	}

	img, err := h.images.Generate(ctx, draft.VisualPrompt)
	if err != nil {
		return stage.Output{}, err
	}
	if len(img.Data) == 0 {
		return stage.Output{}, services.Wrap(services.ErrTransient, "posts", "image", "image job returned no data", nil)
	}

	imageFile := item.Key.Base() + imageExtension(img.ContentType)
	imageKey := item.Key.WithPrefix(h.readyPrefix).WithFile(imageFile).String()
	payload := objectstore.Payload{
		"post": map[string]any{
			"caption":        draft.Caption,
			"hashtags":       draft.Hashtags,
			"call_to_action": draft.CallToAction,
			"visual_prompt":  draft.VisualPrompt,
			"image_key":      imageKey,
		},
		"status":       objectstore.StatusPending,
		"source_key":   item.Key.String(),
		"generated_at": h.now().UTC().Format(time.RFC3339),
		"image_job":    img.JobID,
		"campaign":     draft.Campaign,
	}

	h.logger.Info("post image rendered",
		logging.String("image_key", imageKey),
		logging.String("job_id", img.JobID),
		logging.Int("polls", img.Polls),
		logging.Int("bytes", len(img.Data)),
		logging.String(logging.FieldEventType, "post_image_rendered"),
	)
	return stage.Output{
		Payload: payload,
		Attachments: []stage.Attachment{{
			File:        imageFile,
			Data:        img.Data,
			ContentType: contentTypeOr(img.ContentType),
		}},
	}, nil
}

// MarkSource is only used when the draft cannot be deleted.
func (h *PostsHandler) MarkSource(item *stage.Item, _ stage.Output, now time.Time) objectstore.Payload {
	marked := item.Payload.Clone()
	marked.MarkProcessed(now)
	return marked
}

func (h *PostsHandler) HealthCheck(context.Context) stage.Health {
	if h.images == nil {
		return stage.Unhealthy("posts", "image generator not configured")
	}
	return stage.Healthy("posts")
}

func imageExtension(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func contentTypeOr(contentType string) string {
	if strings.TrimSpace(contentType) == "" {
		return "image/jpeg"
	}
	return contentType
}

