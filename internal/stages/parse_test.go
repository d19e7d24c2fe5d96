package stages_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"postforge/internal/naming"
	"postforge/internal/objectstore"
	"postforge/internal/services"
	"postforge/internal/stages"
)

func mustKey(t *testing.T, raw string) naming.Key {
	t.Helper()
	key, err := naming.Parse(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return key
}

func TestParseGoal(t *testing.T) {
	regular := mustKey(t, "goal/instagram/acme/goal_1.json")
	campaign := mustKey(t, "goal/instagram/acme/campaign_goal_1.json")

	tests := []struct {
		name     string
		key      naming.Key
		payload  objectstore.Payload
		days     int
		variant  stages.GoalVariant
		campaign bool
		invalid  bool
	}{
		{"number", regular, objectstore.Payload{"goal": "grow", "timeline": json.Number("7")}, 7, stages.GoalV1, false, false},
		{"float", regular, objectstore.Payload{"goal": "grow", "timeline": 6.6}, 7, stages.GoalV1, false, false},
		{"numeric string", regular, objectstore.Payload{"goal": "grow", "timeline": " 14 "}, 14, stages.GoalLegacy, false, false},
		{"campaign key", campaign, objectstore.Payload{"goal": "launch", "timeline": json.Number("3")}, 3, stages.GoalV1, true, false},
		{"campaign flag", regular, objectstore.Payload{"goal": "launch", "timeline": json.Number("3"), "campaign": true}, 3, stages.GoalV1, true, false},
		{"missing goal", regular, objectstore.Payload{"timeline": json.Number("7")}, 0, 0, false, true},
		{"missing timeline", regular, objectstore.Payload{"goal": "grow"}, 0, 0, false, true},
		{"word timeline", regular, objectstore.Payload{"goal": "grow", "timeline": "a week"}, 0, 0, false, true},
		{"zero days", regular, objectstore.Payload{"goal": "grow", "timeline": json.Number("0")}, 0, 0, false, true},
		{"too long", regular, objectstore.Payload{"goal": "grow", "timeline": json.Number("400")}, 0, 0, false, true},
		{"list timeline", regular, objectstore.Payload{"goal": "grow", "timeline": []any{7}}, 0, 0, false, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			goal, err := stages.ParseGoal(tc.key, tc.payload)
			if tc.invalid {
				if !errors.Is(err, services.ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseGoal: %v", err)
			}
			if goal.TimelineDays != tc.days || goal.Variant != tc.variant || goal.Campaign != tc.campaign {
				t.Fatalf("unexpected goal %+v", goal)
			}
		})
	}
}

func TestEstimatePosts(t *testing.T) {
	daily := &stages.Profile{Posts: []stages.ProfilePost{
		{Timestamp: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)},
		{Timestamp: time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)},
	}}
	burst := &stages.Profile{Posts: []stages.ProfilePost{
		{Timestamp: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)},
		{Timestamp: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)},
	}}

	tests := []struct {
		name    string
		goal    stages.Goal
		profile *stages.Profile
		posts   int
		basis   string
	}{
		{"base rate", stages.Goal{Text: "grow", TimelineDays: 7}, nil, 3, "goal"},
		{"aggressive", stages.Goal{Text: "aggressive growth", TimelineDays: 7}, nil, 7, "goal"},
		{"organic", stages.Goal{Text: "organic reach", TimelineDays: 10}, nil, 3, "goal"},
		{"percent boost", stages.Goal{Text: "grow 200%", TimelineDays: 10}, nil, 8, "goal"},
		{"no profile cap", stages.Goal{Text: "fast growth", TimelineDays: 30}, nil, 14, "goal"},
		{"short timeline cap", stages.Goal{Text: "fast", TimelineDays: 1}, nil, 1, "goal"},
		{"profile cadence", stages.Goal{Text: "grow 10%", TimelineDays: 7}, daily, 7, "profile"},
		{"profile clamped", stages.Goal{Text: "grow", TimelineDays: 10}, burst, 20, "profile"},
		{"single dated post", stages.Goal{Text: "grow", TimelineDays: 7}, &stages.Profile{Posts: daily.Posts[:1]}, 3, "goal"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plan := stages.EstimatePosts(tc.goal, tc.profile)
			if plan.Posts != tc.posts || plan.Basis != tc.basis {
				t.Fatalf("EstimatePosts = %+v, want %d posts (%s)", plan, tc.posts, tc.basis)
			}
		})
	}
}

func TestTimelineHours(t *testing.T) {
	tests := []struct{ days, posts, want int }{
		{7, 7, 24},
		{7, 3, 56},
		{1, 2, 12},
		{1, 48, 1},
		{3, 0, 24},
	}
	for _, tc := range tests {
		if got := stages.TimelineHours(tc.days, tc.posts); got != tc.want {
			t.Fatalf("TimelineHours(%d, %d) = %d, want %d", tc.days, tc.posts, got, tc.want)
		}
	}
}

func TestParseProfile(t *testing.T) {
	doc := `[{"username":"acme","biography":"We bake.","followersCount":1200,
		"latestPosts":[
			{"caption":"Fresh bread #bakery #local","likesCount":40,"commentsCount":2,"timestamp":"2026-02-01T09:00:00Z"},
			{"caption":"Croissants today #bakery","likesCount":90,"commentsCount":10,"timestamp":"2026-02-03T09:00:00Z"}
		]}]`
	profile, err := stages.ParseProfile([]byte(doc))
	if err != nil {
		t.Fatalf("ParseProfile: %v", err)
	}
	if profile.Username != "acme" || profile.Bio != "We bake." || profile.Followers != 1200 || len(profile.Posts) != 2 {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if rate, ok := profile.PostsPerDay(); !ok || rate != 0.5 {
		t.Fatalf("PostsPerDay = %v, %v", rate, ok)
	}
	if tags := profile.TopHashtags(1); len(tags) != 1 || tags[0] != "#bakery" {
		t.Fatalf("TopHashtags = %v", tags)
	}
	if best := profile.BestCaption(); best != "Croissants today #bakery" {
		t.Fatalf("BestCaption = %q", best)
	}

	if _, err := stages.ParseProfile([]byte(`[]`)); err == nil {
		t.Fatal("expected an empty array to be rejected")
	}
	if _, err := stages.ParseProfile([]byte(`{"username":`)); err == nil {
		t.Fatal("expected invalid JSON to be rejected")
	}
}

func TestParsePostsPlan(t *testing.T) {
	plan, err := stages.ParsePostsPlan(objectstore.Payload{
		"Post_2":       map[string]any{"content": "second", "status": "pending"},
		"Post_10":      map[string]any{"content": "tenth"},
		"Post_1":       map[string]any{"content": "first", "status": "processed", "released_at": "2026-03-01T12:00:00Z"},
		"Timeline":     "12",
		"Summary":      "ignored",
		"campaign":     true,
		"generated_at": "2026-03-01T11:00:00Z",
	})
	if err != nil {
		t.Fatalf("ParsePostsPlan: %v", err)
	}
	if len(plan.Posts) != 3 || plan.Posts[0].Number != 1 || plan.Posts[2].Number != 10 {
		t.Fatalf("posts not ordered by number: %+v", plan.Posts)
	}
	if plan.TimelineHours != 12 || !plan.Campaign || plan.GeneratedAt.IsZero() {
		t.Fatalf("unexpected plan %+v", plan)
	}
	next, ok := plan.NextPending()
	if !ok || next.Field != "Post_2" {
		t.Fatalf("NextPending = %+v, %v", next, ok)
	}
	if !plan.LastRelease().Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("LastRelease = %v", plan.LastRelease())
	}

	defaulted, err := stages.ParsePostsPlan(objectstore.Payload{"Post_1": map[string]any{"content": "x"}})
	if err != nil || defaulted.TimelineHours != 24 {
		t.Fatalf("expected default timeline, got %+v, %v", defaulted, err)
	}
	numeric, err := stages.ParsePostsPlan(objectstore.Payload{"Post_1": map[string]any{"content": "x"}, "Timeline": json.Number("6")})
	if err != nil || numeric.TimelineHours != 6 {
		t.Fatalf("expected numeric timeline, got %+v, %v", numeric, err)
	}

	invalid := []objectstore.Payload{
		{"Timeline": "24"},
		{"Post_1": "not an object"},
		{"Post_1": map[string]any{}, "Timeline": "soon"},
		{"Post_1": map[string]any{}, "Timeline": json.Number("0")},
	}
	for _, p := range invalid {
		if _, err := stages.ParsePostsPlan(p); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected validation error for %v, got %v", p, err)
		}
	}
}

func TestParseDraft(t *testing.T) {
	nested, err := stages.ParseDraft(objectstore.Payload{
		"post":     map[string]any{"caption": "Hello", "hashtags": []any{"#a", "#b"}, "visual_prompt": "a loaf"},
		"campaign": true,
	})
	if err != nil || nested.Variant != stages.DraftNested || !nested.Campaign || len(nested.Hashtags) != 2 {
		t.Fatalf("nested draft = %+v, %v", nested, err)
	}

	flat, err := stages.ParseDraft(objectstore.Payload{"content": "Hello", "hashtags": "#a #b", "image_prompt": "a loaf"})
	if err != nil || flat.Variant != stages.DraftFlat || flat.Caption != "Hello" || flat.VisualPrompt != "a loaf" || len(flat.Hashtags) != 2 {
		t.Fatalf("flat draft = %+v, %v", flat, err)
	}

	for _, p := range []objectstore.Payload{
		{"caption": "no prompt"},
		{"visual_prompt": "no caption"},
		{"post": map[string]any{"caption": " ", "visual_prompt": "x"}},
	} {
		if _, err := stages.ParseDraft(p); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected validation error for %v, got %v", p, err)
		}
	}
}
