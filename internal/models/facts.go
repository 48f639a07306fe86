package models

// Facts is everything the engine learned about a job before and during a run.
// It is persisted alongside the job so the operator can review it.
type Facts struct {
	SubjectItem      string            `json:"subject_item,omitempty"`
	SubjectClaims    Claims            `json:"subject_claims,omitempty"`
	SubjectSitelinks map[string]string `json:"subject_sitelinks,omitempty"`
	MediaItem        string            `json:"media_item,omitempty"`
	MediaClaims      Claims            `json:"media_claims,omitempty"`
	MediaText        string            `json:"media_text,omitempty"`
	MediaURL         string            `json:"media_url,omitempty"`
	CaptureDate      *Date             `json:"capture_date,omitempty"`
	BirthDate        *Date             `json:"birth_date,omitempty"`
	DeathDate        *Date             `json:"death_date,omitempty"`
	Category         string            `json:"category,omitempty"`
	Caption          string            `json:"caption,omitempty"`
	License          string            `json:"license,omitempty"`
	EditSummary      string            `json:"edit_summary,omitempty"`
	PreviewLocation  string            `json:"preview_location,omitempty"`
	PlannedMutations int               `json:"planned_mutations,omitempty"`
}

// Apply overwrites fact fields with every override the operator set.
func (f *Facts) Apply(o Overrides) {
	if o.CaptureDate != nil {
		f.CaptureDate = o.CaptureDate
	}
	if o.BirthDate != nil {
		f.BirthDate = o.BirthDate
	}
	if o.DeathDate != nil {
		f.DeathDate = o.DeathDate
	}
	if o.Category != nil {
		f.Category = *o.Category
	}
	if o.Caption != nil {
		f.Caption = *o.Caption
	}
	if o.License != nil {
		f.License = *o.License
	}
	if o.EditSummary != nil {
		f.EditSummary = *o.EditSummary
	}
}

// Overrides are operator corrections to derived facts.
type Overrides struct {
	CaptureDate *Date   `json:"capture_date,omitempty"`
	BirthDate   *Date   `json:"birth_date,omitempty"`
	DeathDate   *Date   `json:"death_date,omitempty"`
	Category    *string `json:"category,omitempty"`
	Caption     *string `json:"caption,omitempty"`
	License     *string `json:"license,omitempty"`
	EditSummary *string `json:"edit_summary,omitempty"`
}

// Merge returns o with every field set in next taking precedence.
func (o Overrides) Merge(next Overrides) Overrides {
	if next.CaptureDate != nil {
		o.CaptureDate = next.CaptureDate
	}
	if next.BirthDate != nil {
		o.BirthDate = next.BirthDate
	}
	if next.DeathDate != nil {
		o.DeathDate = next.DeathDate
	}
	if next.Category != nil {
		o.Category = next.Category
	}
	if next.Caption != nil {
		o.Caption = next.Caption
	}
	if next.License != nil {
		o.License = next.License
	}
	if next.EditSummary != nil {
		o.EditSummary = next.EditSummary
	}
	return o
}

func (o Overrides) IsZero() bool {
	return o == Overrides{}
}
