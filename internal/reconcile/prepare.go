package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/errs"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/mediawiki"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/models"
)

const exifLayout = "2006:01:02 15:04:05"

// Prepare fetches the current remote state in parallel, derives the facts a
// run needs and then applies the operator's overrides on top.
//
// A missing media file is an error. A missing structured-data item is not:
// it is remembered and reported by the steps that need the item.
func (e *Engine) Prepare(ctx context.Context, overrides models.Overrides) error {
	var (
		media    entity
		text     string
		info     imageInfo
		item     entity
		itemErr  error
		fileName = "File:" + e.subject.FileName
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		media, err = e.fetchEntity(gctx, e.platforms.Media, "commonswiki", fileName, "claims")
		if err != nil {
			return fmt.Errorf("media item: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		text, err = e.pageText(gctx, e.platforms.Media, fileName)
		if err != nil {
			return fmt.Errorf("media text: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		info, err = e.fetchImageInfo(gctx, fileName)
		if err != nil {
			return fmt.Errorf("media metadata: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		item, err = e.fetchEntity(gctx, e.platforms.Data, e.site, e.subject.Title, "claims|sitelinks")
		if errors.Is(err, errs.ErrNotFound) {
			itemErr = err
			return nil
		}
		if err != nil {
			return fmt.Errorf("subject item: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	f := models.Facts{
		MediaItem:     media.ID,
		MediaClaims:   media.claims(),
		MediaText:     text,
		MediaURL:      info.URL,
		SubjectItem:   item.ID,
		SubjectClaims: item.claims(),
	}
	if len(item.Sitelinks) > 0 {
		f.SubjectSitelinks = make(map[string]string, len(item.Sitelinks))
		for site, link := range item.Sitelinks {
			f.SubjectSitelinks[site] = link.Title
		}
	}
	if d, ok := f.SubjectClaims.FirstDate("P569"); ok {
		f.BirthDate = models.DatePtr(d)
	}
	// An imprecise death date bounds the capture date by the end of its period.
	if d, ok := f.SubjectClaims.LastPossibleDate("P570"); ok {
		f.DeathDate = models.DatePtr(d)
	}
	if d, ok := captureDate(info.Metadata); ok {
		f.CaptureDate = models.DatePtr(d)
	}

	f.Apply(overrides)
	e.derive(&f)

	e.facts = f
	e.subjectErr = itemErr
	e.prepared = true
	e.log.Info().
		Str("media_item", f.MediaItem).
		Str("subject_item", f.SubjectItem).
		Str("license", f.License).
		Msg("prepared")
	return nil
}

// derive fills every fact the operator did not override.
func (e *Engine) derive(f *models.Facts) {
	name := models.DisplayName(e.subject.Title)
	if f.Category == "" {
		f.Category = name
	}
	if f.Caption == "" {
		f.Caption = name
		if f.CaptureDate != nil {
			f.Caption = fmt.Sprintf("%s in %d", name, f.CaptureDate.Year())
		}
	}
	if f.License == "" {
		f.License = DetectLicense(f.MediaText)
	}
	if f.EditSummary == "" {
		f.EditSummary = "Processing image of " + name
	}
}

// entity is a Wikibase entity as returned by wbgetentities. Media entities
// carry "statements" where items carry "claims"; an entity without any
// statements may encode them as an empty array.
type entity struct {
	ID         string          `json:"id"`
	Missing    *string         `json:"missing"`
	Claims     json.RawMessage `json:"claims"`
	Statements json.RawMessage `json:"statements"`
	Sitelinks  map[string]struct {
		Title string `json:"title"`
	} `json:"sitelinks"`
}

func (en entity) claims() models.Claims {
	out := models.Claims{}
	for _, raw := range []json.RawMessage{en.Claims, en.Statements} {
		if len(raw) == 0 || raw[0] != '{' {
			continue
		}
		var c models.Claims
		if err := json.Unmarshal(raw, &c); err == nil {
			for prop, list := range c {
				out[prop] = append(out[prop], list...)
			}
		}
	}
	return out
}

func (e *Engine) fetchEntity(ctx context.Context, p Platform, site, title, props string) (entity, error) {
	var resp struct {
		Entities map[string]entity `json:"entities"`
	}
	err := p.Read(ctx, mediawiki.Params{
		"action": "wbgetentities",
		"sites":  site,
		"titles": title,
		"props":  props,
	}, &resp)
	if err != nil {
		return entity{}, err
	}
	for key, en := range resp.Entities {
		if key == "-1" || en.ID == "" {
			continue
		}
		return en, nil
	}
	return entity{}, errs.NewNotFoundError("entity", site+":"+title)
}

func (e *Engine) pageText(ctx context.Context, p Platform, title string) (string, error) {
	var resp struct {
		Parse struct {
			Wikitext struct {
				Text string `json:"*"`
			} `json:"wikitext"`
		} `json:"parse"`
	}
	err := p.Read(ctx, mediawiki.Params{"action": "parse", "page": title, "prop": "wikitext"}, &resp)
	if errs.HasCode(err, "missingtitle") {
		return "", errs.NewNotFoundError("page", title)
	}
	if err != nil {
		return "", err
	}
	return resp.Parse.Wikitext.Text, nil
}

type metadataEntry struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

type imageInfo struct {
	URL      string          `json:"url"`
	Metadata []metadataEntry `json:"commonmetadata"`
}

func (e *Engine) fetchImageInfo(ctx context.Context, title string) (imageInfo, error) {
	var resp struct {
		Query struct {
			Pages map[string]struct {
				Missing   *string     `json:"missing"`
				ImageInfo []imageInfo `json:"imageinfo"`
			} `json:"pages"`
		} `json:"query"`
	}
	err := e.platforms.Media.Read(ctx, mediawiki.Params{
		"action": "query",
		"titles": title,
		"prop":   "imageinfo",
		"iiprop": "url|commonmetadata",
	}, &resp)
	if err != nil {
		return imageInfo{}, err
	}
	for _, page := range resp.Query.Pages {
		if page.Missing == nil && len(page.ImageInfo) > 0 {
			return page.ImageInfo[0], nil
		}
	}
	return imageInfo{}, errs.NewNotFoundError("file", title)
}

// captureDate picks the earliest embedded DateTime value of the form
// "YYYY:MM:DD HH:MM:SS" and truncates it to its day.
func captureDate(entries []metadataEntry) (models.Date, bool) {
	var found []time.Time
	for _, m := range entries {
		if !strings.Contains(strings.ToLower(m.Name), "datetime") {
			continue
		}
		var v string
		if err := json.Unmarshal(m.Value, &v); err != nil {
			continue
		}
		v = strings.TrimSpace(v)
		if strings.Count(v, ":") != 4 {
			continue
		}
		t, err := time.Parse(exifLayout, v)
		if err != nil {
			continue
		}
		found = append(found, t)
	}
	if len(found) == 0 {
		return models.Date{}, false
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Before(found[j]) })
	return models.NewDate(found[0]), true
}
