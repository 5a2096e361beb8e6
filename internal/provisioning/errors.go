package provisioning

import (
	"errors"

	"github.com/aws/smithy-go"
)

const codeInstanceNotFound = "InvalidInstanceID.NotFound"

// APIErrorCode returns the provider error code carried by err, or "" when err
// is not an API error.
func APIErrorCode(err error) string {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return ""
	}
	return apiErr.ErrorCode()
}

func isInstanceNotFound(err error) bool {
	return APIErrorCode(err) == codeInstanceNotFound
}
