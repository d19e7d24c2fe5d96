package stages

import (
	"fmt"
	"log/slog"
	"time"

	"postforge/internal/config"
	"postforge/internal/naming"
	"postforge/internal/objectstore"
	"postforge/internal/pipeline"
)

// Services bundles the dependencies shared by the stage handlers.
type Services struct {
	Store  objectstore.Gateway
	LLM    Completer
	Images ImageGenerator
	Now    func() time.Time
	Logger *slog.Logger
}

// Build returns the enabled stages in pipeline order. When ids is non-empty
// only those stages are built, regardless of their enabled flag.
func Build(cfg *config.Config, svc Services, ids ...string) ([]*pipeline.Stage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if svc.Store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	selected := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := cfg.Stage(id); !ok {
			return nil, fmt.Errorf("unknown stage %q", id)
		}
		selected[id] = true
	}

	p := cfg.Pipeline
	var out []*pipeline.Stage
	for _, id := range config.StageIDs() {
		settings, _ := cfg.Stage(id)
		if len(selected) > 0 {
			if !selected[id] {
				continue
			}
		} else if !settings.Enabled {
			continue
		}

		st := &pipeline.Stage{
			ID:       id,
			Interval: settings.Interval(),
			Timeout:  settings.Timeout(),
			MaxItems: settings.MaxItemsPerPass,
		}
		switch id {
		case config.StageGoal:
			st.InputPrefix, st.OutputPrefix = p.GoalPrefix, p.ContentPrefix
			st.Accepts = acceptsGoal
			st.Commit, st.Evidence = pipeline.CommitFlipStatus, pipeline.EvidenceIdentity
			st.Handler = NewGoalHandler(svc.Store, svc.LLM, p.ProfilePrefix, p.RulesPrefix, svc.Now, svc.Logger)
		case config.StageContent:
			st.InputPrefix, st.OutputPrefix = p.ContentPrefix, p.DraftsPrefix
			st.Downstream = []string{p.ReadyPrefix}
			st.Accepts = acceptsPlan
			st.Commit, st.Evidence = pipeline.CommitFlipStatus, pipeline.EvidenceIdentity
			st.Handler = NewContentHandler(p.DraftsPrefix, svc.Now, svc.Logger)
		case config.StagePosts:
			st.InputPrefix, st.OutputPrefix = p.DraftsPrefix, p.ReadyPrefix
			st.Accepts = acceptsDraft
			st.Commit, st.Evidence = pipeline.CommitDeleteSource, pipeline.EvidenceSameName
			st.Handler = NewPostsHandler(svc.Images, p.ReadyPrefix, svc.Now, svc.Logger)
		}
		if err := st.Validate(); err != nil {
			return nil, fmt.Errorf("stage %s: %w", id, err)
		}
		out = append(out, st)
	}
	return out, nil
}

func acceptsGoal(key naming.Key) bool {
	return key.Verb() == "goal" || isCampaign(key)
}

func acceptsPlan(key naming.Key) bool {
	return key.File == naming.PostsFile
}

func acceptsDraft(key naming.Key) bool {
	verb := key.Verb()
	return verb == naming.TagRegular || isCampaign(key)
}
