package cryptox

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dmitrijs2005/snapvault/internal/common"
)

const (
	accessKeyCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	masterKeyCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	accessKeyGroups    = 3
	accessKeyGroupSize = 3
	masterKeyLength    = 12
)

var (
	accessKeyPattern = regexp.MustCompile(`^[A-Za-z0-9]{3}:[A-Za-z0-9]{3}:[A-Za-z0-9]{3}$`)
	masterKeyPattern = regexp.MustCompile(`^[A-Za-z0-9]{12}$`)
)

// GenerateAccessKey returns a 9 character session key grouped as ABC:DEF:GHI.
func GenerateAccessKey() (string, error) {
	raw, err := common.RandomString(accessKeyCharset, accessKeyGroups*accessKeyGroupSize)
	if err != nil {
		return "", err
	}
	groups := make([]string, 0, accessKeyGroups)
	for i := 0; i < len(raw); i += accessKeyGroupSize {
		groups = append(groups, raw[i:i+accessKeyGroupSize])
	}
	return strings.Join(groups, separator), nil
}

// GenerateMasterKey returns a 12 character alphanumeric administrator key.
func GenerateMasterKey() (string, error) {
	return common.RandomString(masterKeyCharset, masterKeyLength)
}

// ValidateAccessKeyFormat checks the ABC:DEF:GHI shape.
func ValidateAccessKeyFormat(key string) error {
	if !accessKeyPattern.MatchString(key) {
		return fmt.Errorf("%w: access key must look like ABC:DEF:GHI", common.ErrValidation)
	}
	return nil
}

// ValidateMasterKeyFormat checks for exactly 12 alphanumeric characters.
func ValidateMasterKeyFormat(key string) error {
	if !masterKeyPattern.MatchString(key) {
		return fmt.Errorf("%w: master key must be 12 letters or digits", common.ErrValidation)
	}
	return nil
}
