package locations

import (
	"strings"
	"unicode/utf8"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

const maxNameLength = 120

func validateName(verr *shared.ValidationError, name string) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		verr.Add("name", "is required")
	case utf8.RuneCountInString(name) > maxNameLength:
		verr.Add("name", "must be at most 120 characters")
	}
}

func (in CreateInput) validate() error {
	verr := &shared.ValidationError{}
	validateName(verr, in.Name)
	if in.IsDefault && in.Active != nil && !*in.Active {
		verr.Add("active", "the default location must be active")
	}
	return verr.OrNil()
}

func (in UpdateInput) validate() error {
	verr := &shared.ValidationError{}
	if in.Name != nil {
		validateName(verr, *in.Name)
	}
	return verr.OrNil()
}
