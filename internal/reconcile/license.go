package reconcile

import (
	"context"
	"regexp"
	"strings"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/models"
)

const (
	propLicense         = "P275"
	propCopyrightStatus = "P6216"
	propTicket          = "P6305"
	itemCopyrighted     = "Q50423863"
)

// licenseItems maps normalized license labels to their Wikidata items.
var licenseItems = map[string]string{
	"CC-BY-SA-4.0": "Q18199165",
	"CC-BY-SA-3.0": "Q14946043",
	"CC-BY-SA-2.0": "Q19068220",
	"CC-BY-4.0":    "Q20007257",
}

// Ordered from most to least specific. Matched against upper-cased text.
var licensePatterns = []*regexp.Regexp{
	regexp.MustCompile(`PERMISSION\s*=\s*\S+ [\d.]+`),
	regexp.MustCompile(`\{\{\s*CC-BY(?:-SA)?-\d\.\d`),
	regexp.MustCompile(`CC[- ]BY(?:-SA)?[- ]\d\.\d`),
}

var ticketPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\{\{\s*wikiportrait2\s*\|\s*(\d{16})`),
	regexp.MustCompile(`(?i)\{\{\s*PermissionTicket\s*\|\s*id\s*=\s*(\d{16})`),
}

var publicDomainPattern = regexp.MustCompile(`(?i)\bpd\b|public domain|publiek domein`)

// DetectLicense returns the normalized label of the longest license
// statement found in text, or "" when there is none.
func DetectLicense(text string) string {
	upper := strings.ToUpper(text)
	best := ""
	for _, re := range licensePatterns {
		for _, m := range re.FindAllString(upper, -1) {
			if len(m) > len(best) {
				best = m
			}
		}
	}
	if best == "" {
		return ""
	}
	return NormalizeLicense(best)
}

// NormalizeLicense turns "PERMISSION=CC-BY-SA 4.0" or "{{cc-by-sa-4.0" into
// "CC-BY-SA-4.0".
func NormalizeLicense(label string) string {
	label = strings.ToUpper(label)
	label = strings.ReplaceAll(label, "PERMISSION", "")
	label = strings.NewReplacer("=", "", "{", "").Replace(label)
	label = strings.Join(strings.Fields(label), " ")
	label = strings.ReplaceAll(label, "CC BY", "CC-BY")
	return strings.TrimRight(strings.ReplaceAll(label, " ", "-"), ".")
}

// LicenseItem returns the item for a license label, if it is known.
func LicenseItem(label string) (string, bool) {
	qid, ok := licenseItems[NormalizeLicense(label)]
	return qid, ok
}

func findTicket(text string) string {
	for _, re := range ticketPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

// TagTicket records the permission ticket number on the media item.
func (e *Engine) TagTicket(ctx context.Context) error {
	const name = "tag_ticket"
	ticket := findTicket(e.facts.MediaText)
	if ticket == "" {
		e.skip(name, "no ticket in file description")
		return nil
	}
	if e.facts.MediaClaims.HasString(propTicket, ticket) {
		e.skip(name, "ticket present")
		return nil
	}
	id, err := e.createClaim(ctx, e.platforms.Media, name, e.facts.MediaItem, propTicket, quote(ticket))
	if err != nil {
		return err
	}
	e.mediaClaims().Add(propTicket, models.StringClaim(id, propTicket, ticket))
	return nil
}

// TagLicense records the license on the media item, then its copyright
// status. When the description mentions public domain and no license could
// be established, the status is only written after human review.
func (e *Engine) TagLicense(ctx context.Context) error {
	const name = "tag_license"
	established := false

	if qid, ok := LicenseItem(e.facts.License); ok {
		if e.facts.MediaClaims.HasEntity(propLicense, qid) {
			e.skip(name, "license present")
		} else {
			value, err := itemValue(qid)
			if err != nil {
				return err
			}
			id, err := e.createClaim(ctx, e.platforms.Media, name, e.facts.MediaItem, propLicense, value)
			if err != nil {
				return err
			}
			e.mediaClaims().Add(propLicense, models.EntityClaim(id, propLicense, qid))
		}
		established = true
	} else if e.facts.License == "" {
		e.skip(name, "no license statement found")
	} else {
		e.log.Warn().Str("step", name).Str("license", e.facts.License).Msg("no item known for license, skipped")
	}
	if len(e.facts.MediaClaims[propLicense]) > 0 {
		established = true
	}

	return e.tagCopyrightStatus(ctx, established)
}

func (e *Engine) tagCopyrightStatus(ctx context.Context, licenseEstablished bool) error {
	const name = "tag_copyright_status"
	if e.facts.MediaClaims.HasEntity(propCopyrightStatus, itemCopyrighted) {
		e.skip(name, "copyright status present")
		return nil
	}
	if !licenseEstablished && publicDomainPattern.MatchString(e.facts.MediaText) {
		if e.review == nil {
			e.skip(name, "public domain mentioned, no reviewer configured")
			return nil
		}
		copyrighted, err := e.review(ctx, e.subject, e.facts.MediaText)
		if err != nil {
			return err
		}
		if !copyrighted {
			e.skip(name, "reviewer confirmed public domain")
			return nil
		}
	}
	value, err := itemValue(itemCopyrighted)
	if err != nil {
		return err
	}
	id, err := e.createClaim(ctx, e.platforms.Media, name, e.facts.MediaItem, propCopyrightStatus, value)
	if err != nil {
		return err
	}
	e.mediaClaims().Add(propCopyrightStatus, models.EntityClaim(id, propCopyrightStatus, itemCopyrighted))
	return nil
}
