package stages

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"postforge/internal/naming"
)

// PostPlan is the number of posts a goal needs and how it was derived.
type PostPlan struct {
	Posts int
	Rate  float64
	Basis string
}

const (
	baseRatePerDay  = 0.5
	maxPostsPerGoal = 28
	noProfileCap    = 14
)

var (
	percentTarget  = regexp.MustCompile(`(\d+)%`)
	hashtagPattern = regexp.MustCompile(`#\w+`)
)

// EstimatePosts decides how many posts a goal needs. With at least two dated
// posts on the profile the observed cadence is the base rate; otherwise the
// goal wording picks it.
func EstimatePosts(goal Goal, profile *Profile) PostPlan {
	days := goal.TimelineDays
	text := strings.ToLower(goal.Text)

	rate, basis := keywordRate(text), "goal"
	limit := min(days*2, noProfileCap)
	if profile != nil {
		if observed, ok := profile.PostsPerDay(); ok {
			rate, basis = clamp(observed, 0.3, 2.0), "profile"
			limit = min(days*2, maxPostsPerGoal)
		}
	}
	rate *= percentBoost(text)

	posts := max(1, int(rate*float64(days)))
	posts = min(posts, limit)
	return PostPlan{Posts: posts, Rate: rate, Basis: basis}
}

func keywordRate(text string) float64 {
	switch {
	case containsAny(text, "aggressive", "rapid", "fast", "quick"):
		return 1.0
	case containsAny(text, "moderate", "steady", "consistent"):
		return 0.7
	case containsAny(text, "organic", "natural", "slow"):
		return 0.3
	default:
		return baseRatePerDay
	}
}

func percentBoost(text string) float64 {
	match := percentTarget.FindStringSubmatch(text)
	if match == nil {
		return 1
	}
	target, err := strconv.Atoi(match[1])
	switch {
	case err != nil:
		return 1
	case target > 100:
		return 1.6
	case target > 50:
		return 1.3
	default:
		return 1
	}
}

// TimelineHours is the spacing between posts, rounded to whole hours.
func TimelineHours(days, posts int) int {
	if posts <= 0 {
		return 24
	}
	return max(1, int(math.Round(float64(days*24)/float64(posts))))
}

// GoalHashtags derives fallback hashtags from the goal wording and platform.
func GoalHashtags(goal Goal, platform string) []string {
	text := strings.ToLower(goal.Text)
	persona := strings.ToLower(goal.Persona)
	var tags []string
	if strings.Contains(text, "engagement") {
		tags = append(tags, "#Engagement")
	}
	if containsAny(text, "growth", "grow", "increase") {
		tags = append(tags, "#Growth")
	}
	if containsAny(text, "brand", "business") {
		tags = append(tags, "#Brand")
	}
	if containsAny(text, "audience", "community") {
		tags = append(tags, "#Community")
	}
	switch {
	case strings.Contains(persona, "professional"):
		tags = append(tags, "#Professional")
	case strings.Contains(persona, "creative"):
		tags = append(tags, "#Creative")
	case strings.Contains(persona, "authentic"):
		tags = append(tags, "#Authentic")
	}
	if p := strings.TrimSpace(platform); p != "" {
		tags = append(tags, "#"+strings.ToUpper(p[:1])+strings.ToLower(p[1:]))
	}
	if goal.Campaign {
		tags = append(tags, "#Campaign")
	}
	tags = append(tags, "#NewBeginnings", "#JoinUs", "#Content", "#SocialMedia")
	tags = normalizeHashtags(tags)
	return tags[:min(5, len(tags))]
}

// normalizeHashtags prefixes '#', drops blanks and duplicates, and keeps at most eight.
func normalizeHashtags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.Join(strings.Fields(tag), "")
		tag = strings.TrimLeft(tag, "#")
		if tag == "" {
			continue
		}
		tag = "#" + tag
		folded := strings.ToLower(tag)
		if _, dup := seen[folded]; dup {
			continue
		}
		seen[folded] = struct{}{}
		out = append(out, tag)
		if len(out) == 8 {
			break
		}
	}
	return out
}

// postNumber parses Post_<n> plan keys.
func postNumber(key string) (int, bool) {
	digits, ok := strings.CutPrefix(key, "Post_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func isCampaign(key naming.Key) bool {
	return key.Tag() == naming.TagCampaign
}
