package worker

import (
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/config"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/mediawiki"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/models"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/ratelimit"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/reconcile"
)

// PlatformFactory hands out a fresh set of platform clients for one job.
type PlatformFactory interface {
	Platforms(job models.Job, sink mediawiki.Sink, log *zerolog.Logger) reconcile.Platforms
}

// ClientFactory builds MediaWiki clients from configuration. With a Redis
// client every platform shares one edit budget across jobs; without it each
// job's clients keep their own.
type ClientFactory struct {
	cfg        config.Config
	credential string
	http       *http.Client
	redis      *redis.Client
}

// NewClientFactory returns a factory. rdb may be nil.
func NewClientFactory(cfg config.Config, credential string, rdb *redis.Client) *ClientFactory {
	return &ClientFactory{
		cfg:        cfg,
		credential: credential,
		http:       &http.Client{Timeout: cfg.HTTPTimeout},
		redis:      rdb,
	}
}

func (f *ClientFactory) Platforms(_ models.Job, sink mediawiki.Sink, log *zerolog.Logger) reconcile.Platforms {
	return reconcile.Platforms{
		Data:    f.client("wikidata", f.cfg.WikidataAPI, mediawiki.Capabilities{}, sink, log),
		Media:   f.client("commons", f.cfg.CommonsAPI, mediawiki.Capabilities{}, sink, log),
		Article: f.client(f.cfg.ArticleSite, f.cfg.ArticleAPI, mediawiki.Capabilities{Disambiguation: true}, sink, log),
		Meta:    f.client("meta", f.cfg.MetaAPI, mediawiki.Capabilities{ShortURLs: true}, sink, log),
	}
}

func (f *ClientFactory) client(name, endpoint string, caps mediawiki.Capabilities, sink mediawiki.Sink, log *zerolog.Logger) *mediawiki.Client {
	opts := mediawiki.Options{
		Name:         name,
		Endpoint:     endpoint,
		Capabilities: caps,
		Credential:   f.credential,
		HTTPClient:   f.http,
		UserAgent:    f.cfg.UserAgent,
		EditBudget:   f.cfg.EditBudget,
		EditWindow:   f.cfg.EditWindow,
		Cooldown:     f.cfg.EditCooldown,
		TokenTTL:     f.cfg.TokenTTL,
		Maxlag:       f.cfg.Maxlag,
		Sink:         sink,
		Logger:       log,
	}
	if f.redis != nil {
		opts.Ledger = ratelimit.NewRedisWindow(f.redis, "wikiportret:edits:"+name, f.cfg.EditBudget, f.cfg.EditWindow)
	}
	return mediawiki.New(opts)
}
