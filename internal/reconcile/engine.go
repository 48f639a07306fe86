// Package reconcile brings the media repository, the structured-data store and
// the article into agreement for one donated image.
//
// Every step reads current remote state first and only writes what is missing,
// so running an Engine twice for the same subject is harmless.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/errs"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/mediawiki"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/models"
)

// errNoSubjectItem marks steps that could not run because the subject has no
// structured-data item.
var errNoSubjectItem = errors.New("subject has no item")

// Platform is the subset of *mediawiki.Client the engine depends on.
type Platform interface {
	Name() string
	Capabilities() mediawiki.Capabilities
	Read(ctx context.Context, params mediawiki.Params, out any) error
	Write(ctx context.Context, params mediawiki.Params, out any) error
	SetDryRun(on bool)
	DryRun() bool
}

// Platforms are the four wikis a job touches.
type Platforms struct {
	Data    Platform // Wikidata
	Media   Platform // Wikimedia Commons
	Article Platform // Dutch Wikipedia
	Meta    Platform // Meta-Wiki, short links only
}

func (p Platforms) all() []Platform {
	out := make([]Platform, 0, 4)
	for _, pl := range []Platform{p.Data, p.Media, p.Article, p.Meta} {
		if pl != nil {
			out = append(out, pl)
		}
	}
	return out
}

// Subject identifies the job being reconciled.
type Subject struct {
	JobID    string
	Title    string
	FileName string
}

// PublicDomainReview asks a human whether a file whose description mentions
// public domain is nevertheless copyrighted. Returning false leaves the
// copyright status unset.
type PublicDomainReview func(ctx context.Context, subject Subject, text string) (bool, error)

// Options tune an Engine. Zero values pick the Dutch Wikipedia defaults.
type Options struct {
	Logger             *zerolog.Logger
	PublicDomainReview PublicDomainReview
	ArticleSite        string
	MediaHost          string
	ArticleHost        string
	Now                func() time.Time
}

// Engine reconciles one subject. It is owned by a single worker goroutine.
type Engine struct {
	subject     Subject
	platforms   Platforms
	review      PublicDomainReview
	site        string
	mediaHost   string
	articleHost string
	now         func() time.Time
	log         zerolog.Logger

	facts      models.Facts
	subjectErr error
	prepared   bool
	writes     int
}

// New builds an engine for subject. The platforms must not be shared with
// another engine.
func New(subject Subject, platforms Platforms, opts Options) *Engine {
	subject.FileName = models.NormalizeFileName(subject.FileName)
	subject.Title = strings.TrimSpace(subject.Title)
	e := &Engine{
		subject:     subject,
		platforms:   platforms,
		review:      opts.PublicDomainReview,
		site:        opts.ArticleSite,
		mediaHost:   opts.MediaHost,
		articleHost: opts.ArticleHost,
		now:         opts.Now,
	}
	if e.site == "" {
		e.site = "nlwiki"
	}
	if e.mediaHost == "" {
		e.mediaHost = "commons.wikimedia.org"
	}
	if e.articleHost == "" {
		e.articleHost = "nl.wikipedia.org"
	}
	if e.now == nil {
		e.now = time.Now
	}
	base := zerolog.Nop()
	if opts.Logger != nil {
		base = *opts.Logger
	}
	e.log = base.With().Str("subject", subject.Title).Str("file", subject.FileName).Logger()
	return e
}

// SetDryRun switches every platform client of this engine together, so a run
// is either fully live or fully simulated.
func (e *Engine) SetDryRun(on bool) {
	for _, p := range e.platforms.all() {
		p.SetDryRun(on)
	}
}

// DryRun reports whether the engine's writes are simulated.
func (e *Engine) DryRun() bool {
	return e.platforms.Data != nil && e.platforms.Data.DryRun()
}

// Facts returns what the engine has learned so far.
func (e *Engine) Facts() models.Facts {
	f := e.facts
	f.PlannedMutations = e.writes
	return f
}

// Writes is the number of mutations sent (or recorded, in dry-run mode).
func (e *Engine) Writes() int { return e.writes }

func (e *Engine) summary() string {
	if e.facts.EditSummary != "" {
		return e.facts.EditSummary
	}
	return "Processing image of " + models.DisplayName(e.subject.Title)
}

func (e *Engine) category() string {
	if e.facts.Category != "" {
		return e.facts.Category
	}
	return models.DisplayName(e.subject.Title)
}

func (e *Engine) requireItem(step string) (string, error) {
	if e.facts.SubjectItem != "" {
		return e.facts.SubjectItem, nil
	}
	cause := e.subjectErr
	if cause == nil {
		cause = errs.NewNotFoundError("item", e.subject.Title)
	}
	return "", fmt.Errorf("%s: %w: %w", step, errNoSubjectItem, cause)
}

func (e *Engine) write(ctx context.Context, p Platform, step string, params mediawiki.Params, out any) error {
	if err := p.Write(ctx, params, out); err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	e.writes++
	e.log.Info().
		Str("step", step).
		Str("platform", p.Name()).
		Str("action", params["action"]).
		Bool("dry_run", p.DryRun()).
		Msg("write")
	return nil
}

func (e *Engine) skip(step, reason string) {
	e.log.Info().Str("step", step).Str("reason", reason).Msg("skipped")
}

// CommonsURL links to the media file's description page.
func (e *Engine) CommonsURL() string {
	return "https://" + e.mediaHost + "/wiki/File:" + wikiPath(e.subject.FileName)
}

// ArticleURL links to the subject's article.
func (e *Engine) ArticleURL() string {
	return "https://" + e.articleHost + "/wiki/" + wikiPath(e.subject.Title)
}

func wikiPath(title string) string {
	return url.PathEscape(strings.ReplaceAll(title, " ", "_"))
}

// Outcome of a single step in a run.
const (
	OutcomeDone    = "done"
	OutcomeWarning = "warning"
	OutcomeFailed  = "failed"
)

// StepResult records how one step ended.
type StepResult struct {
	Step    string `json:"step"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// Report summarizes a run for the dispatcher and the operator.
type Report struct {
	Steps        []StepResult `json:"steps"`
	Failed       bool         `json:"failed"`
	ItemNotFound bool         `json:"item_not_found"`
	Writes       int          `json:"writes"`
	CommonsURL   string       `json:"commons_url"`
	ArticleURL   string       `json:"article_url"`
	Confirmation string       `json:"confirmation,omitempty"`
}

func (r *Report) add(step, outcome string, err error) {
	res := StepResult{Step: step, Outcome: outcome}
	if err != nil {
		res.Detail = err.Error()
	}
	r.Steps = append(r.Steps, res)
}

// FailureSummary joins the details of every failed step.
func (r Report) FailureSummary() string {
	var parts []string
	for _, s := range r.Steps {
		if s.Outcome == OutcomeFailed {
			parts = append(parts, s.Detail)
		}
	}
	if r.ItemNotFound && len(parts) == 0 {
		parts = append(parts, "item not found")
	}
	return strings.Join(parts, "; ")
}

type step struct {
	name string
	fn   func(context.Context) error
}

// Run performs every reconciliation step in order.
//
// The media-repository steps and the structured-data steps each form a group:
// the first failing step ends its group, is logged and marks the report
// failed, and the run carries on with the next group. Data-quality warnings
// only skip their own step. Overload, token and disambiguation errors stop
// the run and are returned.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	if !e.prepared {
		if err := e.Prepare(ctx, models.Overrides{}); err != nil {
			return Report{}, err
		}
	}
	report := Report{}

	media := []step{
		{"ensure_category", e.EnsureCategory},
		{"add_file_category", e.AddFileCategory},
		{"tag_ticket", e.TagTicket},
		{"tag_license", e.TagLicense},
		{"tag_depicted", e.TagDepicted},
	}
	if err := e.runGroup(ctx, "media", media, &report); err != nil {
		return e.finish(report), err
	}

	data := []step{
		{"link_category", e.LinkCategory},
		{"attach_media", e.AttachMedia},
		{"qualify_capture_date", e.QualifyCaptureDate},
	}
	if err := e.runGroup(ctx, "structured_data", data, &report); err != nil {
		return e.finish(report), err
	}

	if err := e.PatchArticle(ctx); err != nil {
		report.add("patch_article", OutcomeFailed, err)
		if errs.Fatal(err) {
			e.log.Error().Err(err).Msg("article patch aborted the job")
			return e.finish(report), err
		}
		e.log.Error().Err(err).Msg("article patch failed")
		report.Failed = true
	} else {
		report.add("patch_article", OutcomeDone, nil)
	}

	e.InvalidateCaches(ctx)
	report.add("invalidate_caches", OutcomeDone, nil)

	report = e.finish(report)
	report.CommonsURL, report.ArticleURL = e.ShortURLs(ctx)
	report.Confirmation = FormatConfirmation(report.CommonsURL, report.ArticleURL)
	return report, nil
}

func (e *Engine) finish(r Report) Report {
	r.Writes = e.writes
	if r.CommonsURL == "" {
		r.CommonsURL = e.CommonsURL()
	}
	if r.ArticleURL == "" {
		r.ArticleURL = e.ArticleURL()
	}
	return r
}

func (e *Engine) runGroup(ctx context.Context, group string, steps []step, report *Report) error {
	for _, s := range steps {
		err := s.fn(ctx)
		switch {
		case err == nil:
			report.add(s.name, OutcomeDone, nil)
		case errs.Fatal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			report.add(s.name, OutcomeFailed, err)
			e.log.Error().Err(err).Str("group", group).Str("step", s.name).Msg("run aborted")
			return err
		case errors.Is(err, errs.ErrDataQuality):
			report.add(s.name, OutcomeWarning, err)
			e.log.Warn().Err(err).Str("group", group).Str("step", s.name).Msg("data quality warning, step skipped")
		case errors.Is(err, errNoSubjectItem):
			report.add(s.name, OutcomeFailed, err)
			report.ItemNotFound = true
			report.Failed = true
			e.log.Warn().Err(err).Str("group", group).Str("step", s.name).Msg("item not found")
			return nil
		default:
			report.add(s.name, OutcomeFailed, err)
			report.Failed = true
			e.log.Error().Err(err).Str("group", group).Str("step", s.name).Msg("step failed, skipping rest of group")
			return nil
		}
	}
	return nil
}
