package record

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePage(t *testing.T) {
	body := []byte(`{"elements":[
		{"id":"a1","displayName":"Jane Doe","picture":"pic://1","affiliation":{"key":"acme","logo":""},"roleTitle":"Engineer","profileUrl":"https://x/in/jane"},
		{"id":42},
		{"id":"b2","affiliation":{"key":"globex","logo":"logo://globex"}}
	]}`)

	records, err := ParsePage(body)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, Record{
		ID:             "a1",
		DisplayName:    "Jane Doe",
		PictureRef:     "pic://1",
		AffiliationKey: "acme",
		RoleTitle:      "Engineer",
		ProfileRef:     "https://x/in/jane",
	}, records[0])

	assert.Equal(t, "42", records[1].ID)
	assert.Equal(t, DefaultDisplayName, records[1].DisplayName)
	assert.Empty(t, records[1].AffiliationKey)

	assert.Equal(t, "globex", records[2].AffiliationKey)
	assert.Equal(t, "logo://globex", records[2].AffiliationLogoRef)
}

func TestParsePage_Empty(t *testing.T) {
	records, err := ParsePage([]byte(`{"elements":[]}`))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestParsePage_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `<html>`},
		{name: "missing elements", body: `{"paging":{}}`},
		{name: "null elements", body: `{"elements":null}`},
		{name: "missing id", body: `{"elements":[{"displayName":"x"}]}`},
		{name: "empty id", body: `{"elements":[{"id":"  "}]}`},
		{name: "bad id type", body: `{"elements":[{"id":{"a":1}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePage([]byte(tt.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "expected ErrMalformed, got %v", err)
		})
	}
}

func TestParseLogo(t *testing.T) {
	logo, err := ParseLogo([]byte(`{"logo":"logo://acme"}`))
	require.NoError(t, err)
	assert.Equal(t, "logo://acme", logo)

	logo, err = ParseLogo([]byte(`{"logo":null}`))
	require.NoError(t, err)
	assert.Empty(t, logo)

	_, err = ParseLogo([]byte(`"nope"`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestAffiliationKeys(t *testing.T) {
	keys := AffiliationKeys([]Record{
		{ID: "1", AffiliationKey: "acme"},
		{ID: "2"},
		{ID: "3", AffiliationKey: "globex"},
		{ID: "4", AffiliationKey: "acme"},
	})
	assert.Equal(t, []string{"acme", "globex"}, keys)
}
