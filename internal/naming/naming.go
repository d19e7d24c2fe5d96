package naming

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PostsFile is the fixed name of the per-identity generated content aggregate.
const PostsFile = "posts.json"

// Tags derived from file verbs.
const (
	TagCampaign = "campaign"
	TagRegular  = "regular"
)

const quarantinePrefix = "failed_"

var fileNamePattern = regexp.MustCompile(`^[a-z0-9]+(?:_[A-Za-z0-9-]+)*\.json$`)

// Key is a parsed object key.
type Key struct {
	Prefix   string
	Platform string
	Identity string
	File     string
}

// Parse splits an object key into its components. Keys with fewer or more
// than four segments, or with empty segments, are rejected.
func Parse(key string) (Key, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 {
		return Key{}, fmt.Errorf("key %q: expected <prefix>/<platform>/<identity>/<file>", key)
	}
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return Key{}, fmt.Errorf("key %q: empty segment", key)
		}
	}
	return Key{Prefix: parts[0], Platform: parts[1], Identity: parts[2], File: parts[3]}, nil
}

// String rebuilds the key.
func (k Key) String() string {
	return Build(k.Prefix, k.Platform, k.Identity, k.File)
}

// IsJSON reports whether the file has a .json extension.
func (k Key) IsJSON() bool {
	return strings.HasSuffix(k.File, ".json")
}

// Verb returns the leading word group of a <verb>_<id>.json file. posts.json
// yields "posts". Non-conforming names yield "".
func (k Key) Verb() string {
	verb, _ := splitFile(k.File)
	return verb
}

// ID returns the identifier part of a <verb>_<id>.json file.
func (k Key) ID() string {
	_, id := splitFile(k.File)
	return id
}

// Tag classifies the hand-off as campaign or regular content.
func (k Key) Tag() string {
	if strings.HasPrefix(k.Verb(), TagCampaign) {
		return TagCampaign
	}
	return TagRegular
}

// Base returns the file name without its extension.
func (k Key) Base() string {
	return strings.TrimSuffix(k.File, path.Ext(k.File))
}

// WithPrefix returns the same platform/identity/file under another prefix.
func (k Key) WithPrefix(prefix string) Key {
	k.Prefix = prefix
	return k
}

// WithFile returns the same location with another file name.
func (k Key) WithFile(file string) Key {
	k.File = file
	return k
}

// splitFile treats everything before the last underscore as the verb.
func splitFile(file string) (verb, id string) {
	if file == PostsFile {
		return "posts", ""
	}
	if !fileNamePattern.MatchString(file) {
		return "", ""
	}
	base := strings.TrimSuffix(file, ".json")
	if i := strings.LastIndex(base, "_"); i > 0 {
		return base[:i], base[i+1:]
	}
	return base, ""
}

// ValidFile reports whether name follows the hand-off naming convention.
func ValidFile(name string) bool {
	return name == PostsFile || fileNamePattern.MatchString(name)
}

// Build joins key segments.
func Build(prefix, platform, identity, file string) string {
	return strings.Join([]string{prefix, platform, identity, file}, "/")
}

// PlatformPrefix is the listing prefix for every identity on a platform.
func PlatformPrefix(prefix, platform string) string {
	return prefix + "/" + platform + "/"
}

// IdentityPrefix is the listing prefix for one identity.
func IdentityPrefix(prefix, platform, identity string) string {
	return prefix + "/" + platform + "/" + identity + "/"
}

// QuarantinePrefix returns the failure area for a stage.
func QuarantinePrefix(stage string) string {
	return quarantinePrefix + stage
}

// IsQuarantined reports whether key lives in a failure area.
func IsQuarantined(key string) bool {
	return strings.HasPrefix(key, quarantinePrefix)
}

// QuarantineKey maps an input key to its failure record location, keeping
// everything after the input prefix.
func QuarantineKey(stage, inputPrefix, key string) string {
	suffix := strings.TrimPrefix(key, strings.TrimSuffix(inputPrefix, "/")+"/")
	return QuarantinePrefix(stage) + "/" + suffix
}

// RestoreKey maps a failure record key back under inputPrefix.
func RestoreKey(stage, inputPrefix, quarantineKey string) (string, error) {
	prefix := QuarantinePrefix(stage) + "/"
	suffix, ok := strings.CutPrefix(quarantineKey, prefix)
	if !ok || suffix == "" {
		return "", fmt.Errorf("key %q is not under %s", quarantineKey, prefix)
	}
	return strings.TrimSuffix(inputPrefix, "/") + "/" + suffix, nil
}

// NewID returns a lexically sortable unique identifier: unix millis plus
// eight random hex characters.
func NewID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + random[:8]
}

// HandoffFile builds <tag>_<id>.json.
func HandoffFile(tag, id string) string {
	return tag + "_" + id + ".json"
}
