package common_test

import (
	"strings"
	"testing"

	"github.com/ogero/stremio-addonhub/internal/common"
	"github.com/stretchr/testify/assert"
)

func TestValidateIMDBTitleID(t *testing.T) {
	tests := []struct {
		title   string
		wantErr assert.ErrorAssertionFunc
	}{
		{"tt1234567", assert.NoError},
		{"tt0012345", assert.NoError},
		{"tt0", assert.NoError},
		{"tt", assert.Error},
		{"tt-1", assert.Error},
		{"1234567", assert.Error},
		{"ttabcdefg", assert.Error},
		{"", assert.Error},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			err := common.ValidateIMDBTitleID(tt.title)
			tt.wantErr(t, err)
		})
	}
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		t       string
		wantErr assert.ErrorAssertionFunc
	}{
		{"movie", assert.NoError},
		{"series", assert.NoError},
		{"channel", assert.NoError},
		{"Movie", assert.Error},
		{"movie/../x", assert.Error},
		{strings.Repeat("a", 33), assert.Error},
		{"", assert.Error},
	}

	for _, tt := range tests {
		t.Run(tt.t, func(t *testing.T) {
			err := common.ValidateContentType(tt.t)
			tt.wantErr(t, err)
		})
	}
}

func TestValidateContentID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr assert.ErrorAssertionFunc
	}{
		{"tt0903747", assert.NoError},
		{"tt0903747:1:2", assert.NoError},
		{"tmdb:1396", assert.NoError},
		{"kitsu:1:3", assert.NoError},
		{"tt1:", assert.Error},
		{"tt1 2", assert.Error},
		{"../etc", assert.Error},
		{"", assert.Error},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := common.ValidateContentID(tt.id)
			tt.wantErr(t, err)
		})
	}
}

func TestValidateAddonID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr assert.ErrorAssertionFunc
	}{
		{"com.linvo.cinemeta", assert.NoError},
		{"url.example.com.addon.1a2b3c4d", assert.NoError},
		{"org.stremio.opensubtitlesv3", assert.NoError},
		{"with:colon", assert.Error},
		{"with/slash", assert.Error},
		{"", assert.Error},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := common.ValidateAddonID(tt.id)
			tt.wantErr(t, err)
		})
	}
}

func TestValidateCatalogID(t *testing.T) {
	assert.NoError(t, common.ValidateCatalogID("top"))
	assert.Error(t, common.ValidateCatalogID(""))
	assert.Error(t, common.ValidateCatalogID(strings.Repeat("x", 129)))
}

func TestValidateSkip(t *testing.T) {
	tests := []struct {
		skip    string
		want    int
		wantErr assert.ErrorAssertionFunc
	}{
		{"", 0, assert.NoError},
		{"100", 100, assert.NoError},
		{"-1", 0, assert.Error},
		{"abc", 0, assert.Error},
	}

	for _, tt := range tests {
		t.Run(tt.skip, func(t *testing.T) {
			got, err := common.ValidateSkip(tt.skip)
			tt.wantErr(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
