// Package validation provides input validation middleware for the DishPay API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

var (
	// msisdnRegex validates Kenyan mobile numbers in international form
	msisdnRegex = regexp.MustCompile(`^254[17]\d{8}$`)
	// idRegex validates tenant/cook/order identifiers
	idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
)

// Providers the payout gateway can route to.
var knownProviders = map[string]bool{
	"mpesa":  true,
	"airtel": true,
	"tkash":  true,
}

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidMsisdn checks if a string is a valid mobile number (254XXXXXXXXX)
func IsValidMsisdn(msisdn string) bool {
	return msisdnRegex.MatchString(msisdn)
}

// IsValidID checks if a string is a well-formed identifier
func IsValidID(s string) bool {
	return idRegex.MatchString(s)
}

// IsKnownProvider checks if a provider code is one the gateway supports
func IsKnownProvider(p string) bool {
	return knownProviders[strings.ToLower(p)]
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// SanitizeMsisdn normalizes a mobile number to international form
func SanitizeMsisdn(msisdn string) string {
	msisdn = strings.TrimSpace(msisdn)
	msisdn = strings.TrimPrefix(msisdn, "+")

	// Local form 07XX/01XX becomes 2547XX/2541XX
	if strings.HasPrefix(msisdn, "0") && len(msisdn) == 10 {
		msisdn = "254" + msisdn[1:]
	}

	return msisdn
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidMsisdn checks if a field is a valid mobile number
func ValidMsisdn(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidMsisdn(value) {
			return &ValidationError{Field: field, Message: "must be a valid mobile number (254XXXXXXXXX)"}
		}
		return nil
	}
}

// KnownProvider checks if a field names a supported payout provider
func KnownProvider(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsKnownProvider(value) {
			return &ValidationError{Field: field, Message: "is not a supported provider"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// IDParamsMiddleware validates URL identifier parameters on routes that
// use them. Apply to route groups with :tenant/:cook/:order params to
// reject malformed identifiers early.
func IDParamsMiddleware(params ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, p := range params {
			v := c.Param(p)
			if v != "" && !IsValidID(v) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_" + p,
					"message": p + " must be 1-64 characters of [a-zA-Z0-9_-]",
				})
				return
			}
		}
		c.Next()
	}
}
