package reconcile

import (
	"context"
	"errors"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/errs"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/mediawiki"
)

type purgeTarget struct {
	platform Platform
	title    string
}

// InvalidateCaches purges the pages touched by a run so readers see the
// changes immediately. Failures are logged and never fail the job.
func (e *Engine) InvalidateCaches(ctx context.Context) {
	targets := []purgeTarget{
		{e.platforms.Media, "Category:" + e.category()},
		{e.platforms.Media, "File:" + e.subject.FileName},
		{e.platforms.Article, e.subject.Title},
	}
	if e.facts.SubjectItem != "" {
		targets = append(targets, purgeTarget{e.platforms.Data, e.facts.SubjectItem})
	}

	for _, t := range targets {
		if t.platform == nil {
			continue
		}
		err := e.write(ctx, t.platform, "invalidate_caches", mediawiki.Params{
			"action":                   "purge",
			"titles":                   t.title,
			"forcelinkupdate":          "1",
			"forcerecursivelinkupdate": "1",
		}, nil)
		if err == nil {
			continue
		}
		e.log.Warn().Err(err).Str("platform", t.platform.Name()).Str("title", t.title).Msg("purge failed")
		if errors.Is(err, errs.ErrOverload) || ctx.Err() != nil {
			return
		}
	}
}

// ShortURLs returns short links to the file and the article when the meta
// platform supports it, falling back to the full URLs otherwise.
func (e *Engine) ShortURLs(ctx context.Context) (commons, article string) {
	commons, article = e.CommonsURL(), e.ArticleURL()
	meta := e.platforms.Meta
	if meta == nil || !meta.Capabilities().ShortURLs || meta.DryRun() {
		return commons, article
	}
	return e.shorten(ctx, commons), e.shorten(ctx, article)
}

func (e *Engine) shorten(ctx context.Context, long string) string {
	var resp struct {
		ShortenURL struct {
			ShortURL string `json:"shorturl"`
		} `json:"shortenurl"`
	}
	err := e.platforms.Meta.Write(ctx, mediawiki.Params{"action": "shortenurl", "url": long}, &resp)
	if err != nil || resp.ShortenURL.ShortURL == "" {
		e.log.Warn().Err(err).Str("url", long).Msg("short url unavailable, using full url")
		return long
	}
	return resp.ShortenURL.ShortURL
}
