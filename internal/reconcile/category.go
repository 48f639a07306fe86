package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/errs"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/mediawiki"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/models"
)

const categoryPageText = "{{Wikidata Infobox}}"

// EnsureCategory creates the subject's category on the media repository
// unless it already exists.
func (e *Engine) EnsureCategory(ctx context.Context) error {
	const name = "ensure_category"
	title := "Category:" + e.category()

	exists, err := e.pageExists(ctx, e.platforms.Media, title)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if exists {
		e.skip(name, "category exists")
		return nil
	}

	err = e.write(ctx, e.platforms.Media, name, mediawiki.Params{
		"action":     "edit",
		"title":      title,
		"text":       categoryPageText,
		"summary":    e.summary(),
		"createonly": "1",
		"bot":        "1",
	}, nil)
	if errs.HasCode(err, "articleexists") {
		e.skip(name, "category created concurrently")
		return nil
	}
	return err
}

// AddFileCategory files the media page under the subject's category.
func (e *Engine) AddFileCategory(ctx context.Context) error {
	const name = "add_file_category"
	tag := "[[Category:" + e.category() + "]]"
	if hasCategory(e.facts.MediaText, e.category()) {
		e.skip(name, "file already categorised")
		return nil
	}
	err := e.write(ctx, e.platforms.Media, name, mediawiki.Params{
		"action":     "edit",
		"title":      "File:" + e.subject.FileName,
		"appendtext": "\n" + tag,
		"summary":    e.summary(),
		"nocreate":   "1",
		"bot":        "1",
	}, nil)
	if err != nil {
		return err
	}
	e.facts.MediaText += "\n" + tag
	return nil
}

// LinkCategory links the category to the subject's item with a sitelink
// and records the reverse pointer (P373) on the item.
func (e *Engine) LinkCategory(ctx context.Context) error {
	const name = "link_category"
	qid, err := e.requireItem(name)
	if err != nil {
		return err
	}
	category := e.category()
	target := "Category:" + category

	switch current := e.facts.SubjectSitelinks["commonswiki"]; {
	case current == target:
		e.skip(name, "sitelink present")
	case current != "":
		return &errs.DuplicateStateError{Step: name, Existing: current, Wanted: target}
	default:
		err := e.write(ctx, e.platforms.Data, name, mediawiki.Params{
			"action":    "wbsetsitelink",
			"id":        qid,
			"linksite":  "commonswiki",
			"linktitle": target,
			"summary":   e.summary(),
			"bot":       "1",
		}, nil)
		if err != nil {
			return err
		}
		if e.facts.SubjectSitelinks == nil {
			e.facts.SubjectSitelinks = map[string]string{}
		}
		e.facts.SubjectSitelinks["commonswiki"] = target
	}

	if e.facts.SubjectClaims.HasString("P373", category) {
		e.skip(name, "P373 present")
		return nil
	}
	id, err := e.createClaim(ctx, e.platforms.Data, name, qid, "P373", quote(category))
	if err != nil {
		return err
	}
	e.subjectClaims().Add("P373", models.StringClaim(id, "P373", category))
	return nil
}

func (e *Engine) pageExists(ctx context.Context, p Platform, title string) (bool, error) {
	var resp struct {
		Query struct {
			Pages map[string]struct {
				Missing *string `json:"missing"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := p.Read(ctx, mediawiki.Params{"action": "query", "titles": title}, &resp); err != nil {
		return false, err
	}
	for key, page := range resp.Query.Pages {
		if key != "-1" && page.Missing == nil {
			return true, nil
		}
	}
	return false, nil
}

func hasCategory(text, category string) bool {
	norm := func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", " "))
	}
	lower := norm(text)
	want := norm(category)
	for _, prefix := range []string{"[[category:", "[[categorie:"} {
		for _, suffix := range []string{"]]", "|"} {
			if strings.Contains(lower, prefix+want+suffix) {
				return true
			}
		}
	}
	return false
}
