package reconcile

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/errs"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/models"
)

func TestPrepareDerivesFacts(t *testing.T) {
	w := standardWiki(t)
	e := newTestEngine(w, "Jan Jansen", Options{})

	require.NoError(t, e.Prepare(context.Background(), models.Overrides{}))
	f := e.Facts()

	assert.Equal(t, "M1001", f.MediaItem)
	assert.Equal(t, "Q4242", f.SubjectItem)
	require.NotNil(t, f.CaptureDate)
	assert.Equal(t, "2019-05-04", f.CaptureDate.String(), "earliest embedded date wins")
	require.NotNil(t, f.BirthDate)
	assert.Equal(t, "1961-03-02", f.BirthDate.String())
	assert.Nil(t, f.DeathDate)
	assert.Equal(t, "CC-BY-SA-4.0", f.License)
	assert.Equal(t, "Jan Jansen", f.Category)
	assert.Equal(t, "Jan Jansen in 2019", f.Caption)
	assert.Equal(t, "Processing image of Jan Jansen", f.EditSummary)
	assert.Equal(t, "https://upload.example/x.jpg", f.MediaURL)
}

func TestPrepareAppliesOverrides(t *testing.T) {
	w := standardWiki(t)
	e := newTestEngine(w, "Jan Jansen (politicus)", Options{})
	w.items["Jan Jansen (politicus)"] = w.items["Jan Jansen"]

	captured := models.NewDate(fixedNow().AddDate(-2, 0, 0))
	category := "Jan Jansen (1961)"
	require.NoError(t, e.Prepare(context.Background(), models.Overrides{
		CaptureDate: &captured,
		Category:    &category,
	}))
	f := e.Facts()

	assert.Equal(t, captured.String(), f.CaptureDate.String())
	assert.Equal(t, "Jan Jansen (1961)", f.Category)
	assert.Equal(t, "Jan Jansen in 2022", f.Caption, "caption follows the overridden date and the display name")
}

func TestPrepareFailsWithoutMediaFile(t *testing.T) {
	w := standardWiki(t)
	e := New(Subject{Title: "Jan Jansen", FileName: "Missing.jpg"}, w.platforms(), Options{Now: fixedNow})

	err := e.Prepare(context.Background(), models.Overrides{})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRunReconcilesEverything(t *testing.T) {
	w := standardWiki(t)
	e := newTestEngine(w, "Jan Jansen", Options{})

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Failed, report.FailureSummary())

	assert.True(t, w.categories["Category:Jan Jansen"])
	assert.Contains(t, w.fileText, "[[Category:Jan Jansen]]")

	assert.True(t, w.mediaClaims.HasString("P6305", "2019050410012345"))
	assert.True(t, w.mediaClaims.HasEntity("P275", "Q18199165"))
	assert.True(t, w.mediaClaims.HasEntity("P6216", "Q50423863"))
	assert.True(t, w.mediaClaims.HasEntity("P180", "Q4242"))

	item := w.items["Jan Jansen"]
	assert.Equal(t, "Category:Jan Jansen", item.sitelinks["commonswiki"])
	assert.True(t, item.claims.HasString("P373", "Jan Jansen"))
	image, ok := item.claims.Find("P18", "Jan Jansen 2019.jpg")
	require.True(t, ok)
	require.Len(t, image.Qualifiers["P585"], 1)
	d, ok := image.Qualifiers["P585"][0].Date()
	require.True(t, ok)
	assert.Equal(t, "2019-05-04", d.String())

	qualifier := w.writesBy("wbsetqualifier")[0].params["value"]
	var tv map[string]any
	require.NoError(t, json.Unmarshal([]byte(qualifier), &tv))
	assert.Equal(t, "+2019-05-04T00:00:00Z", tv["time"])
	assert.EqualValues(t, 11, tv["precision"])
	assert.Equal(t, "http://www.wikidata.org/entity/Q1985727", tv["calendarmodel"])

	assert.Equal(t, "{{Infobox persoon\n| naam = Jan Jansen\n| afbeelding = Jan Jansen 2019.jpg\n| onderschrift = Jan Jansen in 2019\n| geboortedatum = 2 maart 1961\n}}\n'''Jan Jansen''' (1961) is een Nederlands politicus.\n",
		w.articles["Jan Jansen"])
	edit := w.writesBy("edit")
	assert.Equal(t, "+Upload via #Wikiportret", edit[len(edit)-1].params["summary"])

	assert.Len(t, w.writesBy("purge"), 4)
	assert.Len(t, w.contentWrites(), 11)
	assert.Equal(t, 15, report.Writes)
	assert.Contains(t, report.CommonsURL, "https://w.wiki/")
	assert.Contains(t, report.Confirmation, report.CommonsURL)
	assert.Contains(t, report.Confirmation, report.ArticleURL)
}

func TestRunTwiceOnlyPurges(t *testing.T) {
	w := standardWiki(t)
	_, err := newTestEngine(w, "Jan Jansen", Options{}).Run(context.Background())
	require.NoError(t, err)
	first := len(w.contentWrites())
	purges := len(w.writesBy("purge"))

	report, err := newTestEngine(w, "Jan Jansen", Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Failed)
	assert.Len(t, w.contentWrites(), first, "second run must not mutate anything")
	assert.Len(t, w.writesBy("purge"), 2*purges)
}

func TestRunWithoutItemStillPatchesArticle(t *testing.T) {
	w := standardWiki(t)
	delete(w.items, "Jan Jansen")
	e := newTestEngine(w, "Jan Jansen", Options{})

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Failed)
	assert.True(t, report.ItemNotFound)
	assert.True(t, w.categories["Category:Jan Jansen"], "category is created before the item is needed")
	assert.Contains(t, w.articles["Jan Jansen"], "Jan Jansen 2019.jpg")
	assert.Len(t, w.writesBy("purge"), 3)
	assert.Empty(t, w.writesBy("wbsetsitelink"))
	assert.Contains(t, report.FailureSummary(), "not found")
}

func TestRunRefusesToReplaceExistingImage(t *testing.T) {
	w := standardWiki(t)
	w.items["Jan Jansen"].claims["P18"] = []models.Claim{models.StringClaim("Q4242$old", "P18", "Ouder portret.jpg")}
	e := newTestEngine(w, "Jan Jansen", Options{})

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Failed)
	assert.Contains(t, report.FailureSummary(), "Ouder portret.jpg")
	assert.Len(t, w.items["Jan Jansen"].claims["P18"], 1)
	assert.Empty(t, w.writesBy("wbsetqualifier"))
	assert.True(t, w.items["Jan Jansen"].claims.HasString("P373", "Jan Jansen"), "steps before the conflict still ran")
}

func TestRunSkipsCaptureDateAfterDeath(t *testing.T) {
	w := standardWiki(t)
	death, _ := json.Marshal(map[string]any{"time": "+2010-01-01T00:00:00Z", "precision": 11})
	w.items["Jan Jansen"].claims["P570"] = []models.Claim{{
		ID:       "Q4242$d",
		MainSnak: models.Snak{SnakType: "value", Property: "P570", DataValue: &models.DataValue{Type: "time", Value: death}},
	}}
	e := newTestEngine(w, "Jan Jansen", Options{})

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Failed, "a data-quality warning does not fail the job")
	assert.Empty(t, w.writesBy("wbsetqualifier"))
	var outcome string
	for _, s := range report.Steps {
		if s.Step == "qualify_capture_date" {
			outcome = s.Outcome
		}
	}
	assert.Equal(t, OutcomeWarning, outcome)
	assert.Contains(t, w.articles["Jan Jansen"], "Jan Jansen 2019.jpg")
}

func TestRunAcceptsCaptureInYearOfImpreciseDeath(t *testing.T) {
	w := standardWiki(t)
	death, _ := json.Marshal(map[string]any{"time": "+2019-00-00T00:00:00Z", "precision": 9})
	w.items["Jan Jansen"].claims["P570"] = []models.Claim{{
		ID:       "Q4242$d",
		MainSnak: models.Snak{SnakType: "value", Property: "P570", DataValue: &models.DataValue{Type: "time", Value: death}},
	}}
	e := newTestEngine(w, "Jan Jansen", Options{})

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Failed, report.FailureSummary())
	assert.Equal(t, "2019-12-31", e.Facts().DeathDate.String())
	assert.Len(t, w.writesBy("wbsetqualifier"), 1)
}

func TestOnlyMissingSubjectCountsAsItemNotFound(t *testing.T) {
	w := standardWiki(t)
	e := newTestEngine(w, "Jan Jansen", Options{})

	var report Report
	err := e.runGroup(context.Background(), "data", []step{
		{"qualify_capture_date", func(context.Context) error {
			return errs.NewNotFoundError("image statement", "Jan Jansen 2019.jpg")
		}},
	}, &report)
	require.NoError(t, err)
	assert.True(t, report.Failed)
	assert.False(t, report.ItemNotFound, "a missing statement is not a missing item")

	e = newTestEngine(w, "Onbekend", Options{})
	report = Report{}
	err = e.runGroup(context.Background(), "data", []step{
		{"link_category", func(context.Context) error {
			_, err := e.requireItem("link_category")
			return err
		}},
	}, &report)
	require.NoError(t, err)
	assert.True(t, report.ItemNotFound)
	assert.Contains(t, report.FailureSummary(), "item")
}

func TestQualifyCaptureDateRejectsFutureDate(t *testing.T) {
	w := standardWiki(t)
	e := newTestEngine(w, "Jan Jansen", Options{})
	future := models.NewDate(fixedNow().AddDate(0, 0, 1))
	require.NoError(t, e.Prepare(context.Background(), models.Overrides{CaptureDate: &future}))
	require.NoError(t, e.AttachMedia(context.Background()))

	err := e.QualifyCaptureDate(context.Background())
	assert.ErrorIs(t, err, errs.ErrDataQuality)
}

func TestQualifyCaptureDateAroundDeathDate(t *testing.T) {
	captured := models.NewDate(fixedNow().AddDate(-5, 0, 0))
	cases := []struct {
		name   string
		death  models.Date
		writes int
	}{
		{name: "same day", death: captured, writes: 1},
		{name: "day after capture", death: models.NewDate(captured.Time().AddDate(0, 0, 1)), writes: 1},
		{name: "day before capture", death: models.NewDate(captured.Time().AddDate(0, 0, -1)), writes: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := standardWiki(t)
			e := newTestEngine(w, "Jan Jansen", Options{})
			death := tc.death
			require.NoError(t, e.Prepare(context.Background(), models.Overrides{CaptureDate: &captured, DeathDate: &death}))
			require.NoError(t, e.AttachMedia(context.Background()))

			err := e.QualifyCaptureDate(context.Background())
			if tc.writes == 0 {
				assert.ErrorIs(t, err, errs.ErrDataQuality)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, w.writesBy("wbsetqualifier"), tc.writes)
		})
	}
}

func TestRunStopsOnOverload(t *testing.T) {
	w := standardWiki(t)
	w.failWrites["wikidata:wbsetsitelink"] = &errs.OverloadError{Platform: "wikidata", Info: "lagged"}
	e := newTestEngine(w, "Jan Jansen", Options{})

	_, err := e.Run(context.Background())
	assert.ErrorIs(t, err, errs.ErrOverload)
	for _, sw := range w.writes {
		assert.NotEqual(t, "nlwiki", sw.platform)
		assert.NotEqual(t, "purge", sw.params["action"])
	}
	assert.Empty(t, w.items["Jan Jansen"].claims["P18"])
}

func TestRunAbortsOnDisambiguationPage(t *testing.T) {
	w := standardWiki(t)
	w.disambig["Jan Jansen"] = true
	before := w.articles["Jan Jansen"]
	e := newTestEngine(w, "Jan Jansen", Options{})

	_, err := e.Run(context.Background())
	assert.ErrorIs(t, err, errs.ErrDisambiguation)
	assert.Equal(t, before, w.articles["Jan Jansen"])
	assert.Empty(t, w.writesBy("purge"))
}

func TestRunLeavesFilledInfoboxAlone(t *testing.T) {
	w := standardWiki(t)
	w.articles["Jan Jansen"] = "{{Infobox persoon\n| afbeelding = Bestaand.jpg\n}}\nTekst."
	e := newTestEngine(w, "Jan Jansen", Options{})

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Failed)
	assert.Equal(t, "{{Infobox persoon\n| afbeelding = Bestaand.jpg\n}}\nTekst.", w.articles["Jan Jansen"])
}

func TestRunSkipsRedirects(t *testing.T) {
	w := standardWiki(t)
	w.articles["Jan Jansen"] = "#DOORVERWIJZING [[Jan Jansen (politicus)]]"
	e := newTestEngine(w, "Jan Jansen", Options{})

	_, err := e.Run(context.Background())
	require.NoError(t, err)
	for _, sw := range w.writesBy("edit") {
		assert.NotEqual(t, "nlwiki", sw.platform)
	}
}

func TestDryRunRecordsWithoutMutating(t *testing.T) {
	w := standardWiki(t)
	before := w.articles["Jan Jansen"]
	e := newTestEngine(w, "Jan Jansen", Options{})
	e.SetDryRun(true)
	assert.True(t, e.DryRun())

	report, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, w.writes)
	assert.Len(t, w.recorded, 15)
	assert.Equal(t, 15, report.Writes)
	assert.Equal(t, before, w.articles["Jan Jansen"])
	assert.False(t, w.categories["Category:Jan Jansen"])
	assert.Equal(t, e.CommonsURL(), report.CommonsURL, "no short links in dry-run mode")
	assert.Equal(t, 15, e.Facts().PlannedMutations)
}

func TestEnsureCategoryToleratesConcurrentCreation(t *testing.T) {
	w := standardWiki(t)
	w.failWrites["commons:edit"] = &errs.APIError{Platform: "commons", Code: "articleexists"}
	e := newTestEngine(w, "Jan Jansen", Options{})
	require.NoError(t, e.Prepare(context.Background(), models.Overrides{}))

	assert.NoError(t, e.EnsureCategory(context.Background()))
}

func TestEnsureCategorySkipsExisting(t *testing.T) {
	w := standardWiki(t)
	w.categories["Category:Jan Jansen"] = true
	e := newTestEngine(w, "Jan Jansen", Options{})
	require.NoError(t, e.Prepare(context.Background(), models.Overrides{}))

	require.NoError(t, e.EnsureCategory(context.Background()))
	assert.Empty(t, w.writes)
}

func TestPublicDomainMentionNeedsReview(t *testing.T) {
	newWiki := func() *fakeWiki {
		w := standardWiki(t)
		w.fileText = "{{Information|description=Jan Jansen}}\n{{PD-self}}\n"
		return w
	}

	w := newWiki()
	e := newTestEngine(w, "Jan Jansen", Options{})
	require.NoError(t, e.Prepare(context.Background(), models.Overrides{}))
	require.NoError(t, e.TagLicense(context.Background()))
	assert.Empty(t, w.writes, "without a reviewer nothing is written")

	w = newWiki()
	var asked bool
	e = newTestEngine(w, "Jan Jansen", Options{
		PublicDomainReview: func(_ context.Context, s Subject, text string) (bool, error) {
			asked = true
			assert.Equal(t, "Jan Jansen", s.Title)
			assert.Contains(t, text, "PD-self")
			return true, nil
		},
	})
	require.NoError(t, e.Prepare(context.Background(), models.Overrides{}))
	require.NoError(t, e.TagLicense(context.Background()))
	assert.True(t, asked)
	assert.True(t, w.mediaClaims.HasEntity("P6216", "Q50423863"))
}
