package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rawListingFields is the loosely-typed shape language-model extraction
// returns before normalization.
type rawListingFields struct {
	Make                  *string          `json:"make"`
	Model                 *string          `json:"model"`
	Year                  *float64         `json:"year"`
	Miles                 *float64         `json:"miles"`
	ListingPrice          *float64         `json:"listingPrice"`
	TireLifeLeft          *bool            `json:"tireLifeLeft"`
	TitleStatus           *string          `json:"titleStatus"`
	CarfaxDamageIncidents *json.RawMessage `json:"carfaxDamageIncidents"`
	DocFeeQuoted          *float64         `json:"docFeeQuoted"`
	DocFeeNegotiable      *bool            `json:"docFeeNegotiable"`
	DocFeeAgreed          *float64         `json:"docFeeAgreed"`
	LowestPrice           *float64         `json:"lowestPrice"`
}

// ParseListingFieldsJSON decodes model-extracted listing fields, coercing
// numbers and normalizing the enum values. Unrecognized enum values become
// nil rather than an error, because extraction output is best-effort.
func ParseListingFieldsJSON(payload string) (ListingFields, error) {
	var raw rawListingFields
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &raw); err != nil {
		return ListingFields{}, fmt.Errorf("store: decode listing fields: %w", err)
	}

	fields := ListingFields{
		ListingPrice:     raw.ListingPrice,
		TireLifeLeft:     raw.TireLifeLeft,
		DocFeeQuoted:     raw.DocFeeQuoted,
		DocFeeNegotiable: raw.DocFeeNegotiable,
		DocFeeAgreed:     raw.DocFeeAgreed,
		LowestPrice:      raw.LowestPrice,
	}
	if raw.Make != nil && *raw.Make != "" {
		fields.Make = raw.Make
	}
	if raw.Model != nil && *raw.Model != "" {
		fields.Model = raw.Model
	}
	if raw.Year != nil {
		year := int(*raw.Year)
		fields.Year = &year
	}
	if raw.Miles != nil {
		miles := int(*raw.Miles)
		fields.Miles = &miles
	}
	if raw.TitleStatus != nil {
		if status, ok := normalizeTitleStatus(*raw.TitleStatus); ok {
			fields.TitleStatus = &status
		}
	}
	if raw.CarfaxDamageIncidents != nil {
		if v, ok := normalizeCarfax(*raw.CarfaxDamageIncidents); ok {
			fields.CarfaxDamageIncidents = &v
		}
	}
	return fields, nil
}

func normalizeTitleStatus(value string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case TitleClean:
		return TitleClean, true
	case TitleRebuilt:
		return TitleRebuilt, true
	case TitleCheckCarfax:
		return TitleCheckCarfax, true
	}
	return "", false
}

// normalizeCarfax accepts either the string enum or a bare boolean, which
// some model outputs produce.
func normalizeCarfax(raw json.RawMessage) (string, bool) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return CarfaxYes, true
		}
		return CarfaxNo, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case CarfaxYes:
			return CarfaxYes, true
		case CarfaxNo:
			return CarfaxNo, true
		case CarfaxUnsure:
			return CarfaxUnsure, true
		case CarfaxCheckCarfax:
			return CarfaxCheckCarfax, true
		}
	}
	return "", false
}
