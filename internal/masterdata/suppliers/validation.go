package suppliers

import (
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

var validate = validator.New()

func (in Input) validate(creating bool) error {
	verr := &shared.ValidationError{}
	if creating && in.Name == nil {
		verr.Add("name", "is required")
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		switch {
		case name == "":
			verr.Add("name", "is required")
		case utf8.RuneCountInString(name) > 200:
			verr.Add("name", "must be at most 200 characters")
		}
	}
	if in.Email != nil && strings.TrimSpace(*in.Email) != "" {
		if err := validate.Var(strings.TrimSpace(*in.Email), "email"); err != nil {
			verr.Add("email", "must be a valid email address")
		}
	}
	return verr.OrNil()
}

func (in Input) apply(s *Supplier) {
	if in.Name != nil {
		s.Name = shared.NormalizeName(*in.Name)
	}
	if in.ContactName != nil {
		s.ContactName = strings.TrimSpace(*in.ContactName)
	}
	if in.Email != nil {
		s.Email = strings.ToLower(strings.TrimSpace(*in.Email))
	}
	if in.Phone != nil {
		s.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.Address != nil {
		s.Address = strings.TrimSpace(*in.Address)
	}
	if in.Active != nil {
		s.Active = *in.Active
	}
}
