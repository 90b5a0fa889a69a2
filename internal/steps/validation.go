package steps

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/fjod/go_cart/checkout-flow/domain"
)

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRe = regexp.MustCompile(`^\+?[0-9 ()\-.]{7,20}$`)
	zipRe   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 \-]{1,9}$`)
)

// PaymentMethods the payment step accepts.
var PaymentMethods = []string{"card", "paypal", "bank_transfer"}

// ValidationError maps field names to messages. It is returned before any remote call.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

type fieldErrors map[string]string

func (f fieldErrors) require(field, value string) bool {
	if strings.TrimSpace(value) == "" {
		f[field] = "is required"
		return false
	}
	return true
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: f}
}

// ValidateAddress checks required fields and the email, phone and zip formats.
// prefix is prepended to field names, e.g. "billingAddress.".
func ValidateAddress(prefix string, a domain.Address) error {
	errs := fieldErrors{}

	errs.require(prefix+"firstName", a.FirstName)
	errs.require(prefix+"lastName", a.LastName)
	errs.require(prefix+"street", a.Street)
	errs.require(prefix+"city", a.City)
	errs.require(prefix+"state", a.State)
	errs.require(prefix+"country", a.Country)

	if errs.require(prefix+"email", a.Email) && !emailRe.MatchString(a.Email) {
		errs[prefix+"email"] = "is not a valid email address"
	}
	if errs.require(prefix+"phone", a.Phone) && !phoneRe.MatchString(a.Phone) {
		errs[prefix+"phone"] = "is not a valid phone number"
	}
	if errs.require(prefix+"zip", a.Zip) && !zipRe.MatchString(a.Zip) {
		errs[prefix+"zip"] = "is not a valid postal code"
	}

	return errs.err()
}

func validateChoice(field, value string, allowed []string) error {
	errs := fieldErrors{}
	if !errs.require(field, value) {
		return errs.err()
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	errs[field] = fmt.Sprintf("must be one of %s", strings.Join(allowed, ", "))
	return errs.err()
}
