package worker

import (
	"bytes"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/config"
)

type apiCall struct {
	wiki   string
	action string
	params map[string]string
}

// fakeAPI serves the Action API of the four wikis under /<wiki>/api.php and
// the original upload under /upload/portrait.png.
type fakeAPI struct {
	t      *testing.T
	server *httptest.Server

	mu          sync.Mutex
	fileName    string
	fileText    string
	articleText string
	hasItem     bool
	posts       []apiCall
	nextClaim   int
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{
		t:        t,
		fileName: "Jan Jansen 2019.jpg",
		fileText: "{{Information|description=Jan Jansen}}\n{{wikiportrait2|2019050410012345}}\nPERMISSION=CC-BY-SA 4.0\n",
		articleText: "{{Infobox persoon\n| naam = Jan Jansen\n| afbeelding = \n}}\n" +
			"'''Jan Jansen''' (1961) is een Nederlands politicus.\n",
		hasItem: true,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/upload/portrait.png", api.serveImage)
	for _, wiki := range []string{"wikidata", "commons", "nlwiki", "meta"} {
		wiki := wiki
		mux.HandleFunc("/"+wiki+"/api.php", func(w http.ResponseWriter, r *http.Request) {
			api.serveAPI(wiki, w, r)
		})
	}
	api.server = httptest.NewServer(mux)
	t.Cleanup(api.server.Close)
	return api
}

func (a *fakeAPI) config() config.Config {
	base := a.server.URL
	return config.Config{
		WikidataAPI: base + "/wikidata/api.php",
		CommonsAPI:  base + "/commons/api.php",
		ArticleAPI:  base + "/nlwiki/api.php",
		MetaAPI:     base + "/meta/api.php",
		ArticleSite: "nlwiki",
		UserAgent:   "WikiportretBot-test/1.0",
		EditBudget:  100,
	}
}

func (a *fakeAPI) postsBy(action string) []apiCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []apiCall
	for _, c := range a.posts {
		if c.action == action {
			out = append(out, c)
		}
	}
	return out
}

func (a *fakeAPI) postCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.posts)
}

func (a *fakeAPI) serveImage(w http.ResponseWriter, _ *http.Request) {
	img := imaging.New(1200, 800, color.NRGBA{R: 200, G: 120, B: 40, A: 255})
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.PNG); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

func (a *fakeAPI) serveAPI(wiki string, w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	params := map[string]string{}
	for k := range r.Form {
		params[k] = r.Form.Get(k)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var resp any
	if r.Method == http.MethodPost {
		a.posts = append(a.posts, apiCall{wiki: wiki, action: params["action"], params: params})
		resp = a.write(params)
	} else {
		resp = a.read(wiki, params)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *fakeAPI) read(wiki string, p map[string]string) any {
	missing := map[string]any{"query": map[string]any{"pages": map[string]any{
		"-1": map[string]any{"title": p["titles"], "missing": ""},
	}}}

	switch {
	case p["action"] == "query" && p["meta"] == "tokens":
		return map[string]any{"query": map[string]any{"tokens": map[string]string{"csrftoken": "abc+\\"}}}

	case p["action"] == "wbgetentities" && wiki == "commons":
		if p["titles"] != "File:"+a.fileName {
			return map[string]any{"entities": map[string]any{"-1": map[string]any{"missing": ""}}}
		}
		return map[string]any{"entities": map[string]any{"M77": map[string]any{"id": "M77", "statements": []any{}}}}

	case p["action"] == "wbgetentities" && wiki == "wikidata":
		if !a.hasItem {
			return map[string]any{"entities": map[string]any{"-1": map[string]any{"title": p["titles"], "missing": ""}}}
		}
		return map[string]any{"entities": map[string]any{"Q4242": map[string]any{"id": "Q4242", "claims": map[string]any{}}}}

	case p["action"] == "parse" && wiki == "commons" && p["page"] == "File:"+a.fileName:
		return map[string]any{"parse": map[string]any{"wikitext": map[string]string{"*": a.fileText}}}

	case p["action"] == "parse" && wiki == "nlwiki":
		return map[string]any{"parse": map[string]any{"wikitext": map[string]string{"*": a.articleText}}}

	case p["action"] == "parse":
		return map[string]any{"error": map[string]string{"code": "missingtitle", "info": "The page you specified doesn't exist."}}

	case p["action"] == "query" && p["prop"] == "imageinfo":
		if p["titles"] != "File:"+a.fileName {
			return missing
		}
		return map[string]any{"query": map[string]any{"pages": map[string]any{"77": map[string]any{
			"imageinfo": []map[string]any{{
				"url": a.server.URL + "/upload/portrait.png",
				"commonmetadata": []map[string]any{
					{"name": "DateTimeOriginal", "value": "2019:05:04 12:30:00"},
				},
			}},
		}}}}

	case p["action"] == "query" && p["prop"] == "pageprops":
		return map[string]any{"query": map[string]any{"pages": map[string]any{"7": map[string]any{"title": p["titles"]}}}}

	case p["action"] == "query":
		return missing
	}
	a.t.Errorf("unexpected read on %s: %v", wiki, p)
	return map[string]any{"error": map[string]string{"code": "badrequest", "info": "unexpected"}}
}

func (a *fakeAPI) write(p map[string]string) any {
	switch p["action"] {
	case "wbcreateclaim":
		a.nextClaim++
		return map[string]any{"claim": map[string]string{"id": p["entity"] + "$" + strings.Repeat("x", a.nextClaim)}}
	case "shortenurl":
		return map[string]any{"shortenurl": map[string]string{"shorturl": "https://w.wiki/Abc"}}
	case "edit":
		if p["title"] != "" && strings.HasPrefix(p["title"], "Category:") {
			return map[string]any{"edit": map[string]string{"result": "Success", "new": ""}}
		}
		return map[string]any{"edit": map[string]string{"result": "Success"}}
	}
	return map[string]any{"success": 1}
}

func requireNoPosts(t *testing.T, a *fakeAPI) {
	t.Helper()
	if n := a.postCount(); n != 0 {
		t.Fatalf("dry run must not send writes, got %d posts", n)
	}
}
