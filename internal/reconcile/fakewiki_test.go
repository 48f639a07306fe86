package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/errs"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/mediawiki"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/models"
)

type sentWrite struct {
	platform string
	params   mediawiki.Params
}

type fakeItem struct {
	id        string
	claims    models.Claims
	sitelinks map[string]string
}

// fakeWiki keeps just enough state of the four wikis for the engine to read
// back what it wrote.
type fakeWiki struct {
	mu sync.Mutex

	categories  map[string]bool
	fileName    string
	fileText    string
	mediaID     string
	mediaClaims models.Claims
	metadata    []map[string]any
	items       map[string]*fakeItem
	articles    map[string]string
	disambig    map[string]bool
	failWrites  map[string]error

	writes    []sentWrite
	recorded  []sentWrite
	nextClaim int
}

func newFakeWiki(file string) *fakeWiki {
	return &fakeWiki{
		categories:  map[string]bool{},
		fileName:    file,
		mediaID:     "M1001",
		mediaClaims: models.Claims{},
		items:       map[string]*fakeItem{},
		articles:    map[string]string{},
		disambig:    map[string]bool{},
		failWrites:  map[string]error{},
	}
}

func (w *fakeWiki) platforms() Platforms {
	return Platforms{
		Data:    &fakePlatform{wiki: w, name: "wikidata"},
		Media:   &fakePlatform{wiki: w, name: "commons"},
		Article: &fakePlatform{wiki: w, name: "nlwiki", caps: mediawiki.Capabilities{Disambiguation: true}},
		Meta:    &fakePlatform{wiki: w, name: "meta", caps: mediawiki.Capabilities{ShortURLs: true}},
	}
}

func (w *fakeWiki) writesBy(action string) []sentWrite {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []sentWrite
	for _, sw := range w.writes {
		if sw.params["action"] == action {
			out = append(out, sw)
		}
	}
	return out
}

func (w *fakeWiki) contentWrites() []sentWrite {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []sentWrite
	for _, sw := range w.writes {
		switch sw.params["action"] {
		case "purge", "shortenurl":
		default:
			out = append(out, sw)
		}
	}
	return out
}

func (w *fakeWiki) claimsFor(platform, entityID string) models.Claims {
	if platform == "commons" && entityID == w.mediaID {
		return w.mediaClaims
	}
	for _, it := range w.items {
		if it.id == entityID {
			return it.claims
		}
	}
	return nil
}

type fakePlatform struct {
	wiki *fakeWiki
	name string
	caps mediawiki.Capabilities
	dry  bool
}

func (p *fakePlatform) Name() string                         { return p.name }
func (p *fakePlatform) Capabilities() mediawiki.Capabilities { return p.caps }
func (p *fakePlatform) SetDryRun(on bool)                    { p.dry = on }
func (p *fakePlatform) DryRun() bool                         { return p.dry }

func (p *fakePlatform) Read(_ context.Context, params mediawiki.Params, out any) error {
	p.wiki.mu.Lock()
	resp, err := p.wiki.read(p.name, params)
	p.wiki.mu.Unlock()
	if err != nil {
		return err
	}
	return roundTrip(resp, out)
}

func (p *fakePlatform) Write(_ context.Context, params mediawiki.Params, out any) error {
	p.wiki.mu.Lock()
	defer p.wiki.mu.Unlock()
	sw := sentWrite{platform: p.name, params: params}
	if p.dry {
		p.wiki.recorded = append(p.wiki.recorded, sw)
		return nil
	}
	if err, ok := p.wiki.failWrites[p.name+":"+params["action"]]; ok {
		p.wiki.writes = append(p.wiki.writes, sw)
		return err
	}
	p.wiki.writes = append(p.wiki.writes, sw)
	resp, err := p.wiki.write(p.name, params)
	if err != nil {
		return err
	}
	return roundTrip(resp, out)
}

func roundTrip(resp any, out any) error {
	if out == nil || resp == nil {
		return nil
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (w *fakeWiki) read(platform string, p mediawiki.Params) (any, error) {
	switch {
	case p["action"] == "wbgetentities" && platform == "commons":
		if p["titles"] != "File:"+w.fileName {
			return map[string]any{"entities": map[string]any{"-1": map[string]any{"missing": ""}}}, nil
		}
		return map[string]any{"entities": map[string]any{
			w.mediaID: map[string]any{"id": w.mediaID, "statements": w.mediaClaims},
		}}, nil

	case p["action"] == "wbgetentities" && platform == "wikidata":
		it, ok := w.items[p["titles"]]
		if !ok {
			return map[string]any{"entities": map[string]any{"-1": map[string]any{"site": "nlwiki", "title": p["titles"], "missing": ""}}}, nil
		}
		links := map[string]any{}
		for site, title := range it.sitelinks {
			links[site] = map[string]string{"site": site, "title": title}
		}
		return map[string]any{"entities": map[string]any{
			it.id: map[string]any{"id": it.id, "claims": it.claims, "sitelinks": links},
		}}, nil

	case p["action"] == "parse":
		text, ok := w.pageText(platform, p["page"])
		if !ok {
			return nil, &errs.APIError{Platform: platform, Code: "missingtitle", Info: "The page you specified doesn't exist."}
		}
		return map[string]any{"parse": map[string]any{"wikitext": map[string]string{"*": text}}}, nil

	case p["action"] == "query" && p["prop"] == "imageinfo":
		return map[string]any{"query": map[string]any{"pages": map[string]any{
			"1001": map[string]any{"imageinfo": []map[string]any{{"url": "https://upload.example/x.jpg", "commonmetadata": w.metadata}}},
		}}}, nil

	case p["action"] == "query" && p["prop"] == "pageprops":
		page := map[string]any{"title": p["titles"]}
		if w.disambig[p["titles"]] {
			page["pageprops"] = map[string]string{"disambiguation": ""}
		}
		return map[string]any{"query": map[string]any{"pages": map[string]any{"7": page}}}, nil

	case p["action"] == "query":
		if w.categories[p["titles"]] {
			return map[string]any{"query": map[string]any{"pages": map[string]any{"55": map[string]any{"title": p["titles"]}}}}, nil
		}
		return map[string]any{"query": map[string]any{"pages": map[string]any{"-1": map[string]any{"title": p["titles"], "missing": ""}}}}, nil
	}
	return nil, fmt.Errorf("fake %s: unexpected read %v", platform, p)
}

func (w *fakeWiki) pageText(platform, title string) (string, bool) {
	switch platform {
	case "commons":
		if title == "File:"+w.fileName {
			return w.fileText, true
		}
	case "nlwiki":
		text, ok := w.articles[title]
		return text, ok
	}
	return "", false
}

func (w *fakeWiki) write(platform string, p mediawiki.Params) (any, error) {
	switch p["action"] {
	case "edit":
		title := p["title"]
		switch {
		case platform == "commons" && strings.HasPrefix(title, "Category:"):
			if w.categories[title] && p["createonly"] != "" {
				return nil, &errs.APIError{Platform: platform, Code: "articleexists", Info: "The article you tried to create has been created already."}
			}
			w.categories[title] = true
		case platform == "commons":
			w.fileText += p["appendtext"]
		case platform == "nlwiki":
			w.articles[title] = p["text"]
		}
		return map[string]any{"edit": map[string]string{"result": "Success"}}, nil

	case "wbcreateclaim":
		claims := w.claimsFor(platform, p["entity"])
		if claims == nil {
			return nil, &errs.APIError{Platform: platform, Code: "no-such-entity"}
		}
		w.nextClaim++
		id := fmt.Sprintf("%s$%d", p["entity"], w.nextClaim)
		var v any
		if err := json.Unmarshal([]byte(p["value"]), &v); err != nil {
			return nil, err
		}
		switch t := v.(type) {
		case string:
			claims.Add(p["property"], models.StringClaim(id, p["property"], t))
		case map[string]any:
			claims.Add(p["property"], models.EntityClaim(id, p["property"], t["id"].(string)))
		}
		return map[string]any{"claim": map[string]string{"id": id}}, nil

	case "wbsetsitelink":
		for _, it := range w.items {
			if it.id == p["id"] {
				if it.sitelinks == nil {
					it.sitelinks = map[string]string{}
				}
				it.sitelinks[p["linksite"]] = p["linktitle"]
			}
		}
		return map[string]any{"success": 1}, nil

	case "wbsetqualifier":
		var v struct {
			Time string `json:"time"`
		}
		if err := json.Unmarshal([]byte(p["value"]), &v); err != nil {
			return nil, err
		}
		d, _ := models.ParseWikibaseTime(v.Time)
		for _, it := range w.items {
			images := it.claims["P18"]
			for i := range images {
				if images[i].ID != p["claim"] {
					continue
				}
				if images[i].Qualifiers == nil {
					images[i].Qualifiers = map[string][]models.Snak{}
				}
				images[i].Qualifiers[p["property"]] = append(images[i].Qualifiers[p["property"]], models.TimeSnak(p["property"], d))
			}
		}
		return map[string]any{"success": 1}, nil

	case "purge":
		return map[string]any{"purge": []any{}}, nil

	case "shortenurl":
		return map[string]any{"shortenurl": map[string]string{"shorturl": "https://w.wiki/" + fmt.Sprint(len(w.writes))}}, nil
	}
	return nil, fmt.Errorf("fake %s: unexpected write %v", platform, p)
}

func fixedNow() time.Time {
	return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
}

// standardWiki is a subject with an item, a freshly uploaded file and an
// article whose infobox has an empty image parameter.
func standardWiki(t *testing.T) *fakeWiki {
	t.Helper()
	w := newFakeWiki("Jan Jansen 2019.jpg")
	w.fileText = "== {{int:filedesc}} ==\n{{Information|description=Jan Jansen}}\n" +
		"{{wikiportrait2|2019050410012345}}\n" +
		"PERMISSION=CC-BY-SA 4.0\n"
	w.metadata = []map[string]any{
		{"name": "DateTime", "value": "2019:05:06 09:00:00"},
		{"name": "DateTimeOriginal", "value": "2019:05:04 12:30:00"},
		{"name": "Make", "value": "Canon"},
	}
	birth, _ := json.Marshal(map[string]any{"time": "+1961-03-02T00:00:00Z", "precision": 11})
	w.items["Jan Jansen"] = &fakeItem{
		id: "Q4242",
		claims: models.Claims{
			"P569": {{ID: "Q4242$b", MainSnak: models.Snak{SnakType: "value", Property: "P569", DataValue: &models.DataValue{Type: "time", Value: birth}}}},
		},
	}
	w.articles["Jan Jansen"] = "{{Infobox persoon\n| naam = Jan Jansen\n| afbeelding = \n| geboortedatum = 2 maart 1961\n}}\n" +
		"{{fotogewenst}}\n'''Jan Jansen''' (1961) is een Nederlands politicus.\n"
	return w
}

func newTestEngine(w *fakeWiki, title string, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = fixedNow
	}
	return New(Subject{JobID: "job-1", Title: title, FileName: w.fileName}, w.platforms(), opts)
}
