package naming_test

import (
	"strings"
	"testing"
	"time"

	"postforge/internal/naming"
)

func TestParse(t *testing.T) {
	key, err := naming.Parse("next_posts/instagram/acme/campaign_next_post_3.json")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if key.Prefix != "next_posts" || key.Platform != "instagram" || key.Identity != "acme" || key.File != "campaign_next_post_3.json" {
		t.Fatalf("unexpected key %+v", key)
	}
	if key.String() != "next_posts/instagram/acme/campaign_next_post_3.json" {
		t.Fatalf("round trip = %q", key.String())
	}

	for _, bad := range []string{"", "goal/instagram/goal_1.json", "goal//acme/goal_1.json", "a/b/c/d/e.json"} {
		if _, err := naming.Parse(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestVerbIDAndTag(t *testing.T) {
	tests := []struct {
		file, verb, id, tag string
	}{
		{"goal_abc.json", "goal", "abc", naming.TagRegular},
		{"campaign_next_post_3.json", "campaign_next_post", "3", naming.TagCampaign},
		{"campaign_1700000000000-ab12cd34.json", "campaign", "1700000000000-ab12cd34", naming.TagCampaign},
		{"post_1.json", "post", "1", naming.TagRegular},
		{"posts.json", "posts", "", naming.TagRegular},
		{"Goal_1.json", "", "", naming.TagRegular},
		{"goal_1.txt", "", "", naming.TagRegular},
	}
	for _, tc := range tests {
		t.Run(tc.file, func(t *testing.T) {
			key := naming.Key{Prefix: "p", Platform: "x", Identity: "y", File: tc.file}
			if key.Verb() != tc.verb || key.ID() != tc.id || key.Tag() != tc.tag {
				t.Fatalf("got verb=%q id=%q tag=%q", key.Verb(), key.ID(), key.Tag())
			}
		})
	}
}

func TestQuarantineKeys(t *testing.T) {
	key := "goal/instagram/acme/goal_1.json"
	qk := naming.QuarantineKey("goal", "goal", key)
	if qk != "failed_goal/instagram/acme/goal_1.json" {
		t.Fatalf("QuarantineKey = %q", qk)
	}
	if !naming.IsQuarantined(qk) || naming.IsQuarantined(key) {
		t.Fatal("IsQuarantined mismatch")
	}
	restored, err := naming.RestoreKey("goal", "goal/", qk)
	if err != nil || restored != key {
		t.Fatalf("RestoreKey = %q, %v", restored, err)
	}
	if _, err := naming.RestoreKey("posts", "next_posts", qk); err == nil {
		t.Fatal("expected error restoring under the wrong stage")
	}
}

func TestNewIDIsSortableAndUnique(t *testing.T) {
	early := naming.NewID(time.UnixMilli(1_700_000_000_000))
	late := naming.NewID(time.UnixMilli(1_700_000_000_001))
	if early >= late {
		t.Fatalf("expected %q < %q", early, late)
	}
	again := naming.NewID(time.UnixMilli(1_700_000_000_000))
	if again == early {
		t.Fatal("expected random suffix to differ")
	}
	file := naming.HandoffFile(naming.TagCampaign, early)
	if !naming.ValidFile(file) || !strings.HasPrefix(file, "campaign_") {
		t.Fatalf("invalid handoff file %q", file)
	}
}

func TestPrefixes(t *testing.T) {
	if got := naming.PlatformPrefix("goal", "twitter"); got != "goal/twitter/" {
		t.Fatalf("PlatformPrefix = %q", got)
	}
	if got := naming.IdentityPrefix("ready_post", "twitter", "acme"); got != "ready_post/twitter/acme/" {
		t.Fatalf("IdentityPrefix = %q", got)
	}
	key, _ := naming.Parse("next_posts/twitter/acme/regular_1.json")
	if got := key.WithPrefix("ready_post").WithFile(key.Base() + ".jpg").String(); got != "ready_post/twitter/acme/regular_1.jpg" {
		t.Fatalf("derived key = %q", got)
	}
}
