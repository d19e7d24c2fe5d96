package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"postforge/internal/logging"
	"postforge/internal/naming"
	"postforge/internal/objectstore"
	"postforge/internal/services"
)

// Profile is the scraped account profile used to tailor a goal plan.
type Profile struct {
	Username  string
	Bio       string
	Followers int
	Posts     []ProfilePost
}

// ProfilePost is one historical post from the profile.
type ProfilePost struct {
	Caption   string
	Hashtags  []string
	Likes     int
	Comments  int
	Timestamp time.Time
}

type rawProfile struct {
	Username       string           `json:"username"`
	Biography      string           `json:"biography"`
	Bio            string           `json:"bio"`
	FollowersCount json.Number      `json:"followersCount"`
	Followers      json.Number      `json:"followers"`
	LatestPosts    []rawProfilePost `json:"latestPosts"`
	Posts          []rawProfilePost `json:"posts"`
}

type rawProfilePost struct {
	Caption       string      `json:"caption"`
	LikesCount    json.Number `json:"likesCount"`
	CommentsCount json.Number `json:"commentsCount"`
	Timestamp     string      `json:"timestamp"`
}

// ParseProfile decodes a profile document: a JSON object or a one-element
// array wrapping it.
func ParseProfile(data []byte) (*Profile, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, errors.New("profile array is empty")
		}
		data = list[0]
	}
	var raw rawProfile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	profile := &Profile{
		Username:  raw.Username,
		Bio:       strings.TrimSpace(firstOf(raw.Biography, raw.Bio)),
		Followers: numberOr(raw.FollowersCount, numberOr(raw.Followers, 0)),
	}
	posts := raw.LatestPosts
	if len(posts) == 0 {
		posts = raw.Posts
	}
	for _, p := range posts {
		post := ProfilePost{
			Caption:  strings.TrimSpace(p.Caption),
			Hashtags: hashtagPattern.FindAllString(p.Caption, -1),
			Likes:    numberOr(p.LikesCount, 0),
			Comments: numberOr(p.CommentsCount, 0),
		}
		if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(p.Timestamp)); err == nil {
			post.Timestamp = ts
		}
		profile.Posts = append(profile.Posts, post)
	}
	return profile, nil
}

// PostsPerDay is the observed posting cadence across dated posts.
func (p *Profile) PostsPerDay() (float64, bool) {
	var stamps []time.Time
	for _, post := range p.Posts {
		if !post.Timestamp.IsZero() {
			stamps = append(stamps, post.Timestamp)
		}
	}
	if len(stamps) < 2 {
		return 0, false
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
	span := stamps[len(stamps)-1].Sub(stamps[0]).Hours() / 24
	if span <= 0 {
		return 0, false
	}
	return float64(len(stamps)-1) / span, true
}

// TopHashtags returns the most used hashtags, most frequent first.
func (p *Profile) TopHashtags(n int) []string {
	counts := map[string]int{}
	for _, post := range p.Posts {
		for _, tag := range post.Hashtags {
			counts[tag]++
		}
	}
	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})
	return tags[:min(n, len(tags))]
}

// BestCaption is the caption of the post with the most likes plus comments.
func (p *Profile) BestCaption() string {
	best, score := "", -1
	for _, post := range p.Posts {
		if s := post.Likes + post.Comments; s > score && post.Caption != "" {
			best, score = post.Caption, s
		}
	}
	return best
}

// loadProfile reads profiles/<platform>/<identity>/<identity>.json. A missing
// or undecodable profile is treated as absent.
func loadProfile(ctx context.Context, store objectstore.Gateway, prefix string, key naming.Key, logger *slog.Logger) (*Profile, error) {
	profileKey := naming.Build(prefix, key.Platform, key.Identity, key.Identity+".json")
	data, err := store.ReadBytes(ctx, profileKey)
	switch {
	case errors.Is(err, services.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}
	profile, err := ParseProfile(data)
	if err != nil {
		logging.WarnWithContext(logger, "profile unreadable", "profile_decode_failed",
			logging.String("profile_key", profileKey),
			logging.Error(err),
			logging.String(logging.FieldImpact, "plan generated without profile context"),
		)
		return nil, nil
	}
	return profile, nil
}

// loadRules reads rules/<platform>/<identity>/rules.json. Missing or
// undecodable rules are treated as empty.
func loadRules(ctx context.Context, store objectstore.Gateway, prefix string, key naming.Key, logger *slog.Logger) (objectstore.Payload, error) {
	rulesKey := naming.Build(prefix, key.Platform, key.Identity, "rules.json")
	rules, err := store.ReadJSON(ctx, rulesKey)
	switch {
	case err == nil:
		return rules, nil
	case errors.Is(err, services.ErrNotFound):
		return nil, nil
	case errors.Is(err, services.ErrCorrupted):
		logging.WarnWithContext(logger, "rules unreadable", "rules_decode_failed",
			logging.String("rules_key", rulesKey),
			logging.Error(err),
			logging.String(logging.FieldImpact, "plan generated without brand rules"),
		)
		return nil, nil
	default:
		return nil, err
	}
}

func numberOr(n json.Number, fallback int) int {
	if v, err := n.Int64(); err == nil {
		return int(v)
	}
	if f, err := n.Float64(); err == nil {
		return int(f)
	}
	return fallback
}

func firstOf(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
