// Package record defines the roster entity and the parsers that turn raw
// remote responses into typed values.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is returned when a response cannot be parsed.
var ErrMalformed = errors.New("malformed response")

// DefaultDisplayName is used when an element carries no name.
const DefaultDisplayName = "Unknown"

// Record is a single roster entry.
type Record struct {
	ID                 string `json:"id"`
	DisplayName        string `json:"display_name"`
	PictureRef         string `json:"picture_ref,omitempty"`
	AffiliationKey     string `json:"affiliation_key,omitempty"`
	AffiliationLogoRef string `json:"affiliation_logo_ref,omitempty"`
	RoleTitle          string `json:"role_title,omitempty"`
	ProfileRef         string `json:"profile_ref,omitempty"`
}

// Page wire format:
//
//	{
//	  "elements": [
//	    {
//	      "id": "abc" | 123,            required
//	      "displayName": "Jane Doe",    default "Unknown"
//	      "picture": "https://...",     default ""
//	      "affiliation": {              default none
//	        "key": "acme",              default ""
//	        "logo": "https://..."       default ""
//	      },
//	      "roleTitle": "Engineer",      default ""
//	      "profileUrl": "https://..."   default ""
//	    }
//	  ]
//	}
//
// "elements" is required; an empty array means no further data.
type pageBody struct {
	Elements *[]elementBody `json:"elements"`
}

type elementBody struct {
	ID          json.RawMessage  `json:"id"`
	DisplayName *string          `json:"displayName"`
	Picture     *string          `json:"picture"`
	Affiliation *affiliationBody `json:"affiliation"`
	RoleTitle   *string          `json:"roleTitle"`
	ProfileURL  *string          `json:"profileUrl"`
}

type affiliationBody struct {
	Key  *string `json:"key"`
	Logo *string `json:"logo"`
}

// ParsePage parses a page of records.
func ParsePage(body []byte) ([]Record, error) {
	var page pageBody
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("%w: decode page: %v", ErrMalformed, err)
	}
	if page.Elements == nil {
		return nil, fmt.Errorf("%w: missing elements", ErrMalformed)
	}

	records := make([]Record, 0, len(*page.Elements))
	for i, el := range *page.Elements {
		id, err := parseID(el.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrMalformed, i, err)
		}

		rec := Record{
			ID:          id,
			DisplayName: orDefault(el.DisplayName, DefaultDisplayName),
			PictureRef:  orDefault(el.Picture, ""),
			RoleTitle:   orDefault(el.RoleTitle, ""),
			ProfileRef:  orDefault(el.ProfileURL, ""),
		}
		if el.Affiliation != nil {
			rec.AffiliationKey = orDefault(el.Affiliation.Key, "")
			rec.AffiliationLogoRef = orDefault(el.Affiliation.Logo, "")
		}
		records = append(records, rec)
	}
	return records, nil
}

// Logo wire format: {"logo": "https://..." | null}. A null or empty logo
// means the affiliation has none.
type logoBody struct {
	Logo *string `json:"logo"`
}

// ParseLogo parses an affiliation logo lookup.
func ParseLogo(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", fmt.Errorf("%w: logo body is not an object", ErrMalformed)
	}
	var lb logoBody
	if err := json.Unmarshal(trimmed, &lb); err != nil {
		return "", fmt.Errorf("%w: decode logo: %v", ErrMalformed, err)
	}
	return orDefault(lb.Logo, ""), nil
}

// AffiliationKeys returns the distinct non-empty affiliation keys in order
// of first appearance.
func AffiliationKeys(records []Record) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, r := range records {
		if r.AffiliationKey == "" {
			continue
		}
		if _, ok := seen[r.AffiliationKey]; ok {
			continue
		}
		seen[r.AffiliationKey] = struct{}{}
		keys = append(keys, r.AffiliationKey)
	}
	return keys
}

func parseID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("missing id")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid id: %v", err)
		}
		if strings.TrimSpace(s) == "" {
			return "", errors.New("empty id")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("invalid id: %v", err)
	}
	return n.String(), nil
}

func orDefault(v *string, def string) string {
	if v == nil {
		return def
	}
	if s := strings.TrimSpace(*v); s != "" {
		return s
	}
	return def
}
