package reconcile

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/errs"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/mediawiki"
)

const articleSummary = "+Upload via #Wikiportret"

// Placement says where PlaceImage put the file.
type Placement int

const (
	PlacedNowhere Placement = iota
	PlacedInfoboxParam
	PlacedInfoboxInserted
	PlacedThumbnail
)

func (p Placement) String() string {
	switch p {
	case PlacedInfoboxParam:
		return "infobox parameter"
	case PlacedInfoboxInserted:
		return "infobox inserted"
	case PlacedThumbnail:
		return "thumbnail"
	default:
		return "nowhere"
	}
}

// ErrImageAlreadySet means the infobox already shows an image.
var ErrImageAlreadySet = errors.New("infobox already holds an image")

var (
	infoboxStart   = regexp.MustCompile(`(?i)\{\{\s*infobox`)
	imageParam     = regexp.MustCompile(`(?i)\|\s*afbeelding\s*=[ \t]*([^|\n}]*)`)
	captionParam   = regexp.MustCompile(`(?i)\|\s*(?:bij|onder)schrift\s*=[ \t]*([^|\n}]*)`)
	htmlComment    = regexp.MustCompile(`(?s)<!--.*?-->`)
	redirectLine   = regexp.MustCompile(`(?i)^\s*#\s*(?:redirect|doorverwijzing)`)
	photoRequest   = regexp.MustCompile(`(?i)\{\{\s*(?:fotogewenst|verzoek om afbeelding|afbeelding gewenst)\s*(?:\|[^{}]*)?\}\}[ \t]*\n?`)
	disambigMarker = regexp.MustCompile(`(?i)\{\{\s*(?:dp|disambig|doorverwijspagina)\s*[|}]`)
)

// PatchArticle embeds the file in the subject's article. It refuses to touch
// redirects, disambiguation pages, articles that already show the file and
// infoboxes that already hold an image.
func (e *Engine) PatchArticle(ctx context.Context) error {
	const name = "patch_article"
	title := e.subject.Title
	file := e.subject.FileName

	if err := e.checkDisambiguation(ctx, title); err != nil {
		return err
	}
	text, err := e.pageText(ctx, e.platforms.Article, title)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if !e.platforms.Article.Capabilities().Disambiguation && disambigMarker.MatchString(text) {
		return &errs.DisambiguationError{Title: title}
	}
	if redirectLine.MatchString(text) {
		e.log.Warn().Str("step", name).Msg("article is a redirect, not patched")
		return nil
	}
	if mentionsFile(text, file) {
		e.skip(name, "file already in article")
		return nil
	}

	patched, placement, err := PlaceImage(text, file, e.facts.Caption)
	if errors.Is(err, ErrImageAlreadySet) {
		e.log.Warn().Str("step", name).Msg("infobox already shows an image, not patched")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	patched = RemovePhotoRequests(patched)

	e.log.Info().Str("step", name).Stringer("placement", placement).Msg("image placed")
	return e.write(ctx, e.platforms.Article, name, mediawiki.Params{
		"action":   "edit",
		"title":    title,
		"text":     patched,
		"summary":  articleSummary,
		"notminor": "1",
		"nocreate": "1",
	}, nil)
}

func (e *Engine) checkDisambiguation(ctx context.Context, title string) error {
	if !e.platforms.Article.Capabilities().Disambiguation {
		return nil
	}
	var resp struct {
		Query struct {
			Pages map[string]struct {
				Missing   *string           `json:"missing"`
				PageProps map[string]string `json:"pageprops"`
			} `json:"pages"`
		} `json:"query"`
	}
	err := e.platforms.Article.Read(ctx, mediawiki.Params{
		"action": "query",
		"titles": title,
		"prop":   "pageprops",
		"ppprop": "disambiguation",
	}, &resp)
	if err != nil {
		return fmt.Errorf("disambiguation check: %w", err)
	}
	for _, page := range resp.Query.Pages {
		if _, ok := page.PageProps["disambiguation"]; ok {
			return &errs.DisambiguationError{Title: title}
		}
	}
	return nil
}

func mentionsFile(text, file string) bool {
	lower := strings.ToLower(text)
	for _, variant := range []string{file, strings.ReplaceAll(file, " ", "_")} {
		if strings.Contains(lower, strings.ToLower(variant)) {
			return true
		}
	}
	return false
}

// PlaceImage inserts file into article text. It tries, in order:
//  1. an infobox with an (empty) afbeelding parameter, which is filled;
//  2. an infobox without one, which gets the parameter added;
//  3. no infobox, in which case a thumbnail is prepended.
//
// A caption is filled in only where none exists.
func PlaceImage(text, file, caption string) (string, Placement, error) {
	loc := infoboxStart.FindStringIndex(text)
	if loc == nil {
		thumb := fmt.Sprintf("[[File:%s|thumb|%s]]\n", file, caption)
		return thumb + text, PlacedThumbnail, nil
	}
	start := loc[0]
	end := templateEnd(text, start)
	box, placement, err := placeInInfobox(text[start:end], file, caption)
	if err != nil {
		return text, PlacedNowhere, err
	}
	return text[:start] + box + text[end:], placement, nil
}

func placeInInfobox(box, file, caption string) (string, Placement, error) {
	if m := imageParam.FindStringSubmatchIndex(box); m != nil {
		value := htmlComment.ReplaceAllString(box[m[2]:m[3]], "")
		if strings.TrimSpace(value) != "" {
			return box, PlacedNowhere, ErrImageAlreadySet
		}
		box = box[:m[2]] + file + box[m[3]:]
		return fillCaption(box, m[2]+len(file), caption), PlacedInfoboxParam, nil
	}

	nameEnd := templateNameEnd(box)
	head, rest := box[:nameEnd], box[nameEnd:]
	params := []string{"| afbeelding = " + file}
	if captionParam.FindStringIndex(box) == nil {
		params = append(params, "| onderschrift = "+caption)
	}

	var out string
	switch {
	case strings.HasPrefix(rest, "}}"):
		out = strings.TrimRight(head, " \t\n") + "\n" + strings.Join(params, "\n") + "\n" + rest
	case strings.HasSuffix(head, "\n"):
		out = head + strings.Join(params, "\n") + "\n" + rest
	default:
		out = strings.TrimRight(head, " \t") + " " + strings.Join(params, " ") + " " + rest
	}
	return fillCaption(out, -1, caption), PlacedInfoboxInserted, nil
}

// fillCaption fills an empty caption parameter, or inserts one at insertAt
// when the box has none. A negative insertAt never inserts.
func fillCaption(box string, insertAt int, caption string) string {
	if m := captionParam.FindStringSubmatchIndex(box); m != nil {
		if strings.TrimSpace(htmlComment.ReplaceAllString(box[m[2]:m[3]], "")) == "" {
			return box[:m[2]] + caption + box[m[3]:]
		}
		return box
	}
	if insertAt < 0 || insertAt > len(box) {
		return box
	}
	ins := " | onderschrift = " + caption + " "
	if insertAt == len(box) || box[insertAt] == '\n' {
		ins = "\n| onderschrift = " + caption
	}
	return box[:insertAt] + ins + box[insertAt:]
}

// templateEnd returns the index just past the "}}" closing the template
// opened at start, or len(text) if it is never closed.
func templateEnd(text string, start int) int {
	depth := 0
	for i := start; i < len(text)-1; i++ {
		switch {
		case text[i] == '{' && text[i+1] == '{':
			depth++
			i++
		case text[i] == '}' && text[i+1] == '}':
			depth--
			i++
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(text)
}

func templateNameEnd(box string) int {
	i := strings.IndexAny(box[2:], "|}")
	if i < 0 {
		return len(box)
	}
	return i + 2
}

// RemovePhotoRequests drops "photo wanted" maintenance templates.
func RemovePhotoRequests(text string) string {
	return photoRequest.ReplaceAllString(text, "")
}
