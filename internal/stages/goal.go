package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"postforge/internal/logging"
	"postforge/internal/naming"
	"postforge/internal/objectstore"
	"postforge/internal/services"
	"postforge/internal/services/llm"
	"postforge/internal/stage"
)

// GoalVariant identifies which goal payload shape was parsed.
type GoalVariant int

const (
	// GoalV1 carries timeline as a JSON number of days.
	GoalV1 GoalVariant = iota
	// GoalLegacy carries timeline as a numeric string.
	GoalLegacy
)

func (v GoalVariant) String() string {
	if v == GoalLegacy {
		return "legacy"
	}
	return "v1"
}

const maxTimelineDays = 365

// Goal is the canonical goal record.
type Goal struct {
	Text         string
	TimelineDays int
	Persona      string
	Instructions string
	Campaign     bool
	Variant      GoalVariant
}

// ParseGoal validates a goal payload.
func ParseGoal(key naming.Key, p objectstore.Payload) (Goal, error) {
	goal := Goal{
		Text:         p.String("goal"),
		Persona:      p.String("persona"),
		Instructions: p.String("instructions"),
		Campaign:     key.Tag() == naming.TagCampaign,
	}
	if flag, ok := p["campaign"].(bool); ok && flag {
		goal.Campaign = true
	}
	if goal.Text == "" {
		return Goal{}, services.Wrap(services.ErrValidation, "goal", "parse", "goal text is required", nil)
	}

	switch v := p["timeline"].(type) {
	case json.Number:
		days, err := wholeDays(v.String())
		if err != nil {
			return Goal{}, services.Wrap(services.ErrValidation, "goal", "parse", "timeline is not a number of days", err)
		}
		goal.TimelineDays, goal.Variant = days, GoalV1
	case float64:
		goal.TimelineDays, goal.Variant = int(math.Round(v)), GoalV1
	case string:
		days, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return Goal{}, services.Wrap(services.ErrValidation, "goal", "parse", fmt.Sprintf("timeline %q is not numeric", v), nil)
		}
		goal.TimelineDays, goal.Variant = days, GoalLegacy
	case nil:
		return Goal{}, services.Wrap(services.ErrValidation, "goal", "parse", "timeline is required", nil)
	default:
		return Goal{}, services.Wrap(services.ErrValidation, "goal", "parse", fmt.Sprintf("timeline has unsupported type %T", v), nil)
	}
	if goal.TimelineDays < 1 || goal.TimelineDays > maxTimelineDays {
		return Goal{}, services.Wrap(services.ErrValidation, "goal", "parse",
			fmt.Sprintf("timeline must be between 1 and %d days, got %d", maxTimelineDays, goal.TimelineDays), nil)
	}
	return goal, nil
}

func wholeDays(raw string) (int, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	return int(math.Round(f)), nil
}

// Completer is the LLM surface the goal stage needs; *llm.Client satisfies it.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type goalAux struct {
	Profile *Profile
	Rules   objectstore.Payload
}

type goalResult struct {
	Method string
}

// GoalHandler turns goal records into a posts plan.
type GoalHandler struct {
	store         objectstore.Gateway
	llm           Completer
	profilePrefix string
	rulesPrefix   string
	now           func() time.Time
	logger        *slog.Logger
}

// NewGoalHandler builds the goal stage handler.
func NewGoalHandler(store objectstore.Gateway, llm Completer, profilePrefix, rulesPrefix string, now func() time.Time, logger *slog.Logger) *GoalHandler {
	if now == nil {
		now = time.Now
	}
	return &GoalHandler{
		store:         store,
		llm:           llm,
		profilePrefix: profilePrefix,
		rulesPrefix:   rulesPrefix,
		now:           now,
		logger:        logging.NewComponentLogger(logger, "goal"),
	}
}

// SetLogger implements stage.LoggerAware.
func (h *GoalHandler) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logger
	}
}

func (h *GoalHandler) Prepare(ctx context.Context, item *stage.Item) error {
	goal, err := ParseGoal(item.Key, item.Payload)
	if err != nil {
		return err
	}
	profile, err := loadProfile(ctx, h.store, h.profilePrefix, item.Key, h.logger)
	if err != nil {
		return err
	}
	rules, err := loadRules(ctx, h.store, h.rulesPrefix, item.Key, h.logger)
	if err != nil {
		return err
	}
	item.Input = goal
	item.Aux = goalAux{Profile: profile, Rules: rules}
	return nil
}

func (h *GoalHandler) Execute(ctx context.Context, item *stage.Item) (stage.Output, error) {
	if h.llm == nil {
		return stage.Output{}, services.Wrap(services.ErrConfiguration, "goal", "execute", "llm client not configured", nil)
	}
	goal, ok := item.Input.(Goal)
	if !ok {
		return stage.Output{}, services.Wrap(services.ErrValidation, "goal", "execute", "item was not prepared", nil)
	}
	aux, _ := item.Aux.(goalAux)

	plan := EstimatePosts(goal, aux.Profile)
	content, err := h.llm.CompleteJSON(ctx, goalSystemPrompt, buildGoalPrompt(item.Key, goal, aux, plan.Posts))
	if err != nil {
		return stage.Output{}, err
	}
	posts, err := parseGeneratedPosts(content, plan.Posts)
	if err != nil {
		return stage.Output{}, services.Wrap(services.ErrTransient, "goal", "llm", "unusable completion", err)
	}

	hours := TimelineHours(goal.TimelineDays, len(posts))
	payload := objectstore.Payload{
		"Timeline":     strconv.Itoa(hours),
		"Summary":      planSummary(goal, plan, len(posts), hours),
		"goal_key":     item.Key.String(),
		"generated_at": h.now().UTC().Format(time.RFC3339),
		"campaign":     goal.Campaign,
		"estimation":   plan.Basis,
		"status":       objectstore.StatusPending,
	}
	fallbackTags := GoalHashtags(goal, item.Key.Platform)
	for i, post := range posts {
		tags := normalizeHashtags(post.Hashtags)
		if len(tags) == 0 {
			tags = fallbackTags
		}
		payload[fmt.Sprintf("Post_%d", i+1)] = map[string]any{
			"content":        post.Content,
			"hashtags":       tags,
			"visual_prompt":  post.VisualPrompt,
			"call_to_action": post.CallToAction,
			"status":         objectstore.StatusPending,
		}
	}

	h.logger.Info("posts plan generated",
		logging.Int("posts", len(posts)),
		logging.Int("requested", plan.Posts),
		logging.Int("timeline_hours", hours),
		logging.String("estimation", plan.Basis),
		logging.String(logging.FieldEventType, "goal_plan_generated"),
	)
	method := "no_profile"
	if aux.Profile != nil {
		method = "profile"
	}
	return stage.Output{File: naming.PostsFile, Payload: payload, State: goalResult{Method: method}}, nil
}

func (h *GoalHandler) MarkSource(item *stage.Item, out stage.Output, now time.Time) objectstore.Payload {
	marked := item.Payload.Clone()
	marked.MarkProcessed(now)
	if res, ok := out.State.(goalResult); ok {
		marked["processing_method"] = res.Method
	}
	return marked
}

func (h *GoalHandler) HealthCheck(context.Context) stage.Health {
	if h.llm == nil {
		return stage.Unhealthy("goal", "llm client not configured")
	}
	return stage.Healthy("goal")
}

const goalSystemPrompt = `You plan social media campaigns. Respond with JSON only, shaped as
{"posts":[{"content":"three sentences","hashtags":["#Tag"],"visual_prompt":"image description","call_to_action":"short phrase"}]}.
The first sentence introduces the topic and value, the second gives a specific insight or question,
the third describes the visual and invites action. Never include commentary outside the JSON.`

func buildGoalPrompt(key naming.Key, goal Goal, aux goalAux, posts int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write %d posts for the %s account %q.\n\n", posts, key.Platform, key.Identity)
	fmt.Fprintf(&b, "GOAL: %s\n", goal.Text)
	fmt.Fprintf(&b, "TIMELINE: %d days\n", goal.TimelineDays)
	fmt.Fprintf(&b, "PERSONA: %s\n", orDefault(goal.Persona, "authentic brand voice"))
	fmt.Fprintf(&b, "INSTRUCTIONS: %s\n", orDefault(goal.Instructions, "maintain brand consistency"))
	if goal.Campaign {
		b.WriteString("CAMPAIGN: this is a time-boxed campaign; keep a consistent theme across posts.\n")
	}

	b.WriteString("\nACCOUNT CONTEXT:\n")
	if aux.Profile == nil {
		b.WriteString("- New or private account with no history; focus on establishing voice and presence.\n")
	} else {
		p := aux.Profile
		if p.Bio != "" {
			fmt.Fprintf(&b, "- Bio: %s\n", p.Bio)
		}
		fmt.Fprintf(&b, "- Followers: %d\n", p.Followers)
		if themes := p.TopHashtags(5); len(themes) > 0 {
			fmt.Fprintf(&b, "- Recurring hashtags: %s\n", strings.Join(themes, " "))
		}
		if best := p.BestCaption(); best != "" {
			fmt.Fprintf(&b, "- Best performing caption: %s\n", truncate(best, 280))
		}
	}

	if len(aux.Rules) > 0 {
		rules, err := json.Marshal(map[string]any(aux.Rules))
		if err == nil {
			fmt.Fprintf(&b, "\nBRAND RULES (must be respected):\n%s\n", rules)
		}
	}
	return b.String()
}

type generatedPost struct {
	Content      string   `json:"content"`
	Hashtags     []string `json:"hashtags"`
	VisualPrompt string   `json:"visual_prompt"`
	CallToAction string   `json:"call_to_action"`
}

// parseGeneratedPosts accepts {"posts":[...]}, a bare array, or the
// Post_N map the plan itself uses.
func parseGeneratedPosts(content string, limit int) ([]generatedPost, error) {
	var wrapped struct {
		Posts []generatedPost `json:"posts"`
	}
	var posts []generatedPost
	if err := llm.DecodeLLMJSON(content, &wrapped); err == nil && len(wrapped.Posts) > 0 {
		posts = wrapped.Posts
	} else if err := llm.DecodeLLMJSON(content, &posts); err != nil || len(posts) == 0 {
		var numbered map[string]json.RawMessage
		if err := llm.DecodeLLMJSON(content, &numbered); err != nil {
			return nil, err
		}
		posts = numberedPosts(numbered)
	}

	kept := posts[:0]
	for _, post := range posts {
		post.Content = strings.TrimSpace(post.Content)
		if post.Content == "" {
			continue
		}
		post.VisualPrompt = strings.TrimSpace(post.VisualPrompt)
		post.CallToAction = strings.TrimSpace(post.CallToAction)
		kept = append(kept, post)
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("completion contained no posts")
	}
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept, nil
}

func numberedPosts(raw map[string]json.RawMessage) []generatedPost {
	type numbered struct {
		n    int
		post generatedPost
	}
	var found []numbered
	for key, value := range raw {
		n, ok := postNumber(key)
		if !ok {
			continue
		}
		var post generatedPost
		if err := json.Unmarshal(value, &post); err == nil {
			found = append(found, numbered{n: n, post: post})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })
	out := make([]generatedPost, 0, len(found))
	for _, f := range found {
		out = append(out, f.post)
	}
	return out
}

func planSummary(goal Goal, plan PostPlan, posts, hours int) string {
	return fmt.Sprintf("%d posts over %d days, one every %d hours (%s estimate, %.2f posts/day).",
		posts, goal.TimelineDays, hours, plan.Basis, plan.Rate)
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func truncate(s string, limit int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit]) + "..."
}
