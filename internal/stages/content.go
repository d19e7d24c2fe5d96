package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"postforge/internal/logging"
	"postforge/internal/naming"
	"postforge/internal/objectstore"
	"postforge/internal/services"
	"postforge/internal/stage"
)

const defaultTimelineHours = 24

// PlannedPost is one Post_N entry of a posts plan.
type PlannedPost struct {
	Field        string
	Number       int
	Content      string
	Hashtags     []string
	VisualPrompt string
	CallToAction string
	Status       string
	ReleasedAt   time.Time
}

// PostsPlan is the canonical generated_content record.
type PostsPlan struct {
	Posts         []PlannedPost
	TimelineHours int
	Campaign      bool
	GeneratedAt   time.Time
}

// ParsePostsPlan validates a posts plan. Timeline may be a string or number
// of hours and defaults to 24 when absent.
func ParsePostsPlan(p objectstore.Payload) (PostsPlan, error) {
	plan := PostsPlan{TimelineHours: defaultTimelineHours}
	for field, value := range p {
		n, ok := postNumber(field)
		if !ok {
			continue
		}
		obj, ok := value.(map[string]any)
		if !ok {
			return PostsPlan{}, services.Wrap(services.ErrValidation, "content", "parse", field+" is not an object", nil)
		}
		post := objectstore.Payload(obj)
		planned := PlannedPost{
			Field:        field,
			Number:       n,
			Content:      firstOf(post.String("content"), post.String("caption")),
			Hashtags:     stringList(post["hashtags"]),
			VisualPrompt: firstOf(post.String("visual_prompt"), post.String("image_prompt")),
			CallToAction: post.String("call_to_action"),
			Status:       post.Status(),
		}
		if ts, err := time.Parse(time.RFC3339, post.String("released_at")); err == nil {
			planned.ReleasedAt = ts
		}
		plan.Posts = append(plan.Posts, planned)
	}
	if len(plan.Posts) == 0 {
		return PostsPlan{}, services.Wrap(services.ErrValidation, "content", "parse", "plan has no Post_N entries", nil)
	}
	sort.Slice(plan.Posts, func(i, j int) bool { return plan.Posts[i].Number < plan.Posts[j].Number })

	switch v := p["Timeline"].(type) {
	case nil:
	case string:
		hours, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "h")))
		if err != nil || hours < 1 {
			return PostsPlan{}, services.Wrap(services.ErrValidation, "content", "parse", fmt.Sprintf("Timeline %q is not a number of hours", v), nil)
		}
		plan.TimelineHours = hours
	case json.Number:
		hours, err := wholeDays(v.String())
		if err != nil || hours < 1 {
			return PostsPlan{}, services.Wrap(services.ErrValidation, "content", "parse", "Timeline is not a positive number", nil)
		}
		plan.TimelineHours = hours
	default:
		return PostsPlan{}, services.Wrap(services.ErrValidation, "content", "parse", fmt.Sprintf("Timeline has unsupported type %T", v), nil)
	}

	if flag, ok := p["campaign"].(bool); ok {
		plan.Campaign = flag
	}
	if ts, err := time.Parse(time.RFC3339, p.String("generated_at")); err == nil {
		plan.GeneratedAt = ts
	}
	return plan, nil
}

// NextPending returns the lowest-numbered post still pending.
func (p PostsPlan) NextPending() (PlannedPost, bool) {
	for _, post := range p.Posts {
		if post.Status == objectstore.StatusPending || post.Status == objectstore.StatusError {
			return post, true
		}
	}
	return PlannedPost{}, false
}

// LastRelease is the most recent release time across the plan.
func (p PostsPlan) LastRelease() time.Time {
	var last time.Time
	for _, post := range p.Posts {
		if post.ReleasedAt.After(last) {
			last = post.ReleasedAt
		}
	}
	return last
}

type releaseState struct {
	Field     string
	DraftKey  string
	Remaining int
	NotDue    bool
}

// ContentHandler releases plan posts as drafts, one per Timeline interval.
type ContentHandler struct {
	draftsPrefix string
	now          func() time.Time
	logger       *slog.Logger
}

// NewContentHandler builds the content stage handler.
func NewContentHandler(draftsPrefix string, now func() time.Time, logger *slog.Logger) *ContentHandler {
	if now == nil {
		now = time.Now
	}
	return &ContentHandler{
		draftsPrefix: draftsPrefix,
		now:          now,
		logger:       logging.NewComponentLogger(logger, "content"),
	}
}

// SetLogger implements stage.LoggerAware.
func (h *ContentHandler) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logger
	}
}

func (h *ContentHandler) Prepare(_ context.Context, item *stage.Item) error {
	plan, err := ParsePostsPlan(item.Payload)
	if err != nil {
		return err
	}
	item.Input = plan
	return nil
}

// Execute is deterministic for a given plan: the draft name derives from the
// plan's generated_at and the post number, so a repeated release overwrites
// the same draft.
func (h *ContentHandler) Execute(_ context.Context, item *stage.Item) (stage.Output, error) {
	plan, ok := item.Input.(PostsPlan)
	if !ok {
		return stage.Output{}, services.Wrap(services.ErrValidation, "content", "execute", "item was not prepared", nil)
	}
	next, ok := plan.NextPending()
	if !ok {
		return stage.Output{}, nil
	}
	now := h.now()
	interval := time.Duration(plan.TimelineHours) * time.Hour
	if last := plan.LastRelease(); !last.IsZero() && now.Before(last.Add(interval)) {
		h.logger.Debug("next post not due",
			logging.String("post", next.Field),
			logging.Time("due_at", last.Add(interval)),
		)
		return stage.Output{State: releaseState{Field: next.Field, NotDue: true}}, nil
	}

	tag := naming.TagRegular
	if plan.Campaign {
		tag = naming.TagCampaign
	}
	id := naming.NewID(now)
	if !plan.GeneratedAt.IsZero() {
		id = fmt.Sprintf("%d-%02d", plan.GeneratedAt.UnixMilli(), next.Number)
	}
	file := naming.HandoffFile(tag, id)

	visual := next.VisualPrompt
	if visual == "" {
		visual = fmt.Sprintf("Eye-catching %s post image: %s", item.Key.Platform, firstSentence(next.Content))
	}
	remaining := 0
	for _, post := range plan.Posts {
		if post.Field != next.Field && (post.Status == objectstore.StatusPending || post.Status == objectstore.StatusError) {
			remaining++
		}
	}
	draft := objectstore.Payload{
		"post": map[string]any{
			"caption":        next.Content,
			"hashtags":       next.Hashtags,
			"call_to_action": next.CallToAction,
			"visual_prompt":  visual,
		},
		"schedule_offset_hours": (next.Number - 1) * plan.TimelineHours,
		"post_id":               next.Field,
		"source_key":            item.Key.String(),
		"campaign":              plan.Campaign,
		"status":                objectstore.StatusPending,
	}
	return stage.Output{
		File:    file,
		Payload: draft,
		State: releaseState{
			Field:     next.Field,
			DraftKey:  item.Key.WithPrefix(h.draftsPrefix).WithFile(file).String(),
			Remaining: remaining,
		},
	}, nil
}

// MarkSource flips the released post. The plan itself becomes processed once
// nothing is pending. A post that is not due yet leaves the plan untouched.
func (h *ContentHandler) MarkSource(item *stage.Item, out stage.Output, now time.Time) objectstore.Payload {
	state, _ := out.State.(releaseState)
	if state.NotDue {
		return nil
	}
	marked := item.Payload.Clone()
	if out.Payload == nil {
		marked.MarkProcessed(now)
		return marked
	}
	if post, ok := marked[state.Field].(map[string]any); ok {
		post["status"] = objectstore.StatusProcessed
		post["released_at"] = now.UTC().Format(time.RFC3339)
		post["draft_key"] = state.DraftKey
	}
	if state.Remaining == 0 {
		marked.MarkProcessed(now)
	}
	return marked
}

// Settled implements stage.Settler. A post is marked released only after its
// draft is written, so a processed plan with nothing pending has nothing to
// re-release even after its drafts have been published and consumed.
func (h *ContentHandler) Settled(payload objectstore.Payload) bool {
	plan, err := ParsePostsPlan(payload)
	if err != nil {
		return false
	}
	_, pending := plan.NextPending()
	return !pending
}

func (h *ContentHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("content")
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case []string:
		return list
	case string:
		return strings.Fields(list)
	default:
		return nil
	}
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexAny(text, ".!?"); idx > 0 {
		return text[:idx+1]
	}
	return truncate(text, 160)
}
