package services

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/snapvault/internal/common"
)

const maxDescriptionLength = 100

var (
	prefixPattern    = regexp.MustCompile(`^[A-Za-z0-9]{2,3}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Z0-9]{2,3}-\d{4}-\d{2}$`)
	whitespaceRun    = regexp.MustCompile(`\s+`)

	allowedImageTypes = map[string]struct{}{
		"image/jpeg": {},
		"image/jpg":  {},
		"image/png":  {},
	}
)

// ValidateFile accepts JPEG and PNG attachments of at most 20 MiB.
func ValidateFile(mimeType string, size int64) error {
	if _, ok := allowedImageTypes[strings.ToLower(strings.TrimSpace(mimeType))]; !ok {
		return fmt.Errorf("%w: unsupported file type %q, use JPG or PNG", common.ErrValidation, mimeType)
	}
	if size > common.MaxFileSizeBytes {
		return fmt.Errorf("%w: file is %.2f MB, the limit is %d MB",
			common.ErrValidation, float64(size)/common.BytesPerMB, common.MaxFileSizeBytes/common.BytesPerMB)
	}
	return nil
}

// NormalizePrefix checks a 2-3 character alphanumeric prefix and upper-cases it.
func NormalizePrefix(prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if !prefixPattern.MatchString(prefix) {
		return "", fmt.Errorf("%w: prefix must be 2-3 letters or digits", common.ErrValidation)
	}
	return strings.ToUpper(prefix), nil
}

// NormalizeDescription trims the description and checks its length.
func NormalizeDescription(description string) (string, error) {
	description = strings.TrimSpace(description)
	n := utf8.RuneCountInString(description)
	if n == 0 {
		return "", fmt.Errorf("%w: description must not be empty", common.ErrValidation)
	}
	if n > maxDescriptionLength {
		return "", fmt.Errorf("%w: description is limited to %d characters", common.ErrValidation, maxDescriptionLength)
	}
	return description, nil
}

// NormalizeSessionID upper-cases a PREFIX-MMDD-NN code and checks its shape.
func NormalizeSessionID(sessionID string) (string, error) {
	sessionID = strings.ToUpper(strings.TrimSpace(sessionID))
	if !sessionIDPattern.MatchString(sessionID) {
		return "", fmt.Errorf("%w: session id must look like PREFIX-MMDD-NN", common.ErrValidation)
	}
	return sessionID, nil
}

// folderName derives the storage folder of a session.
func folderName(sessionID, description string) string {
	return sessionID + "-" + whitespaceRun.ReplaceAllString(description, "-")
}
