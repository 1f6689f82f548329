package common

import (
	"errors"
	"regexp"
	"strconv"
)

var (
	imdbTitleIDRE = regexp.MustCompile(`^tt\d+$`)
	contentTypeRE = regexp.MustCompile(`^[a-z]+$`)
	contentIDRE   = regexp.MustCompile(`^[A-Za-z0-9_.\-]+(:[A-Za-z0-9_.\-]+)*$`)
	addonIDRE     = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
)

// ValidateIMDBTitleID checks if the given IMDB title ID is valid.
// It ensures the title starts with 'tt' followed by a numeric suffix.
func ValidateIMDBTitleID(ID string) error {

	if !imdbTitleIDRE.MatchString(ID) {
		return errors.New("invalid IMDB title")
	}

	return nil
}

// ValidateContentType checks if the content type looks like one addons declare (movie, series, channel, tv...).
func ValidateContentType(t string) error {
	if len(t) > 32 || !contentTypeRE.MatchString(t) {
		return errors.New("invalid content type, expected a lowercase word such as movie or series")
	}

	return nil
}

// ValidateContentID checks a content id such as tt0903747, tt0903747:1:2 or tmdb:1396.
func ValidateContentID(id string) error {
	if len(id) > 256 || !contentIDRE.MatchString(id) {
		return errors.New("invalid content id")
	}

	return nil
}

// ValidateAddonID checks if the given addon id is usable as a path segment and preference key.
func ValidateAddonID(id string) error {
	if len(id) > 256 || !addonIDRE.MatchString(id) {
		return errors.New("invalid addon id")
	}

	return nil
}

// ValidateCatalogID checks if the given catalog id is not empty and reasonably sized.
func ValidateCatalogID(id string) error {
	if id == "" {
		return errors.New("invalid catalog id, empty")
	}
	if len(id) > 128 {
		return errors.New("invalid catalog id, too long")
	}

	return nil
}

// ValidateSkip checks the catalog pagination offset.
// Empty means 0.
func ValidateSkip(skip string) (int, error) {
	if skip == "" {
		return 0, nil
	}

	v, err := strconv.Atoi(skip)
	if err != nil {
		return 0, errors.New("invalid skip, not a number")
	}

	if v < 0 {
		return 0, errors.New("invalid skip, less than 0")
	}

	return v, nil
}
