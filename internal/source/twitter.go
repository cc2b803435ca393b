package source

import (
	"context"

	"go.uber.org/zap"

	"github.com/brandbeacon/mentions-pipeline/internal/config"
	"github.com/brandbeacon/mentions-pipeline/internal/model"
)

// TwitterSource is a stub pending real API integration. It declares itself
// enabled when a bearer token is configured but intentionally returns no
// mentions; an empty result is its valid terminal state, not an error.
type TwitterSource struct {
	cfg config.TwitterConfig
}

// NewTwitter creates the Twitter stub adapter.
func NewTwitter(cfg config.TwitterConfig) *TwitterSource {
	return &TwitterSource{cfg: cfg}
}

func (s *TwitterSource) Name() model.Platform { return model.PlatformTwitter }

func (s *TwitterSource) Enabled(model.TrackedBrand) bool { return s.cfg.BearerToken != "" }

func (s *TwitterSource) FetchMentions(_ context.Context, brand model.TrackedBrand) ([]model.RawMention, error) {
	zap.L().Debug("twitter adapter is a stub, returning no mentions",
		zap.String("brand", brand.Name),
	)
	return nil, nil
}
