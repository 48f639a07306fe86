package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/mediawiki"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/models"
)

const gregorian = "http://www.wikidata.org/entity/Q1985727"

type claimResponse struct {
	Claim struct {
		ID string `json:"id"`
	} `json:"claim"`
}

// createClaim adds a statement and returns its id. In dry-run mode no id
// comes back, so a placeholder keeps later steps addressable.
func (e *Engine) createClaim(ctx context.Context, p Platform, step, entityID, prop, value string) (string, error) {
	var resp claimResponse
	err := e.write(ctx, p, step, mediawiki.Params{
		"action":   "wbcreateclaim",
		"entity":   entityID,
		"property": prop,
		"snaktype": "value",
		"value":    value,
		"summary":  e.summary(),
		"bot":      "1",
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Claim.ID == "" {
		return fmt.Sprintf("%s$pending-%s", entityID, prop), nil
	}
	return resp.Claim.ID, nil
}

func (e *Engine) subjectClaims() models.Claims {
	if e.facts.SubjectClaims == nil {
		e.facts.SubjectClaims = models.Claims{}
	}
	return e.facts.SubjectClaims
}

func (e *Engine) mediaClaims() models.Claims {
	if e.facts.MediaClaims == nil {
		e.facts.MediaClaims = models.Claims{}
	}
	return e.facts.MediaClaims
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// itemValue encodes an item reference as a wbcreateclaim value.
func itemValue(qid string) (string, error) {
	n, err := strconv.ParseInt(strings.TrimPrefix(qid, "Q"), 10, 64)
	if err != nil || !strings.HasPrefix(qid, "Q") {
		return "", fmt.Errorf("invalid item id %q", qid)
	}
	b, err := json.Marshal(map[string]any{
		"entity-type": "item",
		"numeric-id":  n,
		"id":          qid,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// dayValue encodes a day-precision Gregorian time value.
func dayValue(d models.Date) string {
	b, _ := json.Marshal(map[string]any{
		"time":          d.WikibaseTime(),
		"timezone":      0,
		"before":        0,
		"after":         0,
		"precision":     11,
		"calendarmodel": gregorian,
	})
	return string(b)
}
