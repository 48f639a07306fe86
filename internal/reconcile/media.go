package reconcile

import (
	"context"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/errs"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/mediawiki"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/models"
)

const (
	propImage       = "P18"
	propDepicts     = "P180"
	propPointInTime = "P585"
)

// TagDepicted records on the media item that it depicts the subject.
func (e *Engine) TagDepicted(ctx context.Context) error {
	const name = "tag_depicted"
	qid, err := e.requireItem(name)
	if err != nil {
		return err
	}
	if e.facts.MediaClaims.HasEntity(propDepicts, qid) {
		e.skip(name, "depicts present")
		return nil
	}
	value, err := itemValue(qid)
	if err != nil {
		return err
	}
	id, err := e.createClaim(ctx, e.platforms.Media, name, e.facts.MediaItem, propDepicts, value)
	if err != nil {
		return err
	}
	e.mediaClaims().Add(propDepicts, models.EntityClaim(id, propDepicts, qid))
	return nil
}

// AttachMedia sets the file as the subject's image (P18). A different image
// already on the item is reported, never replaced.
func (e *Engine) AttachMedia(ctx context.Context) error {
	const name = "attach_media"
	qid, err := e.requireItem(name)
	if err != nil {
		return err
	}
	file := e.subject.FileName
	if e.facts.SubjectClaims.HasString(propImage, file) {
		e.skip(name, "image present")
		return nil
	}
	for _, c := range e.facts.SubjectClaims[propImage] {
		if existing, ok := c.MainSnak.String(); ok {
			return &errs.DuplicateStateError{Step: name, Existing: existing, Wanted: file}
		}
	}
	id, err := e.createClaim(ctx, e.platforms.Data, name, qid, propImage, quote(file))
	if err != nil {
		return err
	}
	e.subjectClaims().Add(propImage, models.StringClaim(id, propImage, file))
	return nil
}

// QualifyCaptureDate adds the capture date (P585) to the image statement.
// Dates after the subject's death, before their birth or in the future are
// reported as data-quality warnings and not written.
func (e *Engine) QualifyCaptureDate(ctx context.Context) error {
	const name = "qualify_capture_date"
	date := e.facts.CaptureDate
	if date == nil {
		e.skip(name, "no capture date known")
		return nil
	}
	today := models.NewDate(e.now())
	switch {
	case date.After(today):
		return &errs.DataQualityWarning{Step: name, Message: "capture date " + date.String() + " lies in the future"}
	case e.facts.DeathDate != nil && date.After(*e.facts.DeathDate):
		return &errs.DataQualityWarning{Step: name, Message: "capture date " + date.String() + " is after death date " + e.facts.DeathDate.String()}
	case e.facts.BirthDate != nil && e.facts.BirthDate.After(*date):
		return &errs.DataQualityWarning{Step: name, Message: "capture date " + date.String() + " is before birth date " + e.facts.BirthDate.String()}
	}

	claim, ok := e.facts.SubjectClaims.Find(propImage, e.subject.FileName)
	if !ok || claim.ID == "" {
		return errs.NewNotFoundError("image statement", e.subject.FileName)
	}
	if len(claim.Qualifiers[propPointInTime]) > 0 {
		e.skip(name, "capture date present")
		return nil
	}
	err := e.write(ctx, e.platforms.Data, name, mediawiki.Params{
		"action":   "wbsetqualifier",
		"claim":    claim.ID,
		"property": propPointInTime,
		"snaktype": "value",
		"value":    dayValue(*date),
		"summary":  e.summary(),
		"bot":      "1",
	}, nil)
	if err != nil {
		return err
	}
	e.addQualifier(claim.ID, propPointInTime, *date)
	return nil
}

func (e *Engine) addQualifier(claimID, prop string, d models.Date) {
	list := e.facts.SubjectClaims[propImage]
	for i := range list {
		if list[i].ID != claimID {
			continue
		}
		if list[i].Qualifiers == nil {
			list[i].Qualifiers = map[string][]models.Snak{}
		}
		list[i].Qualifiers[prop] = append(list[i].Qualifiers[prop], models.TimeSnak(prop, d))
	}
}
