package delivery

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrUnknownChannel = errors.New("unknown channel")

// validate reports fields by their JSON names.
var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}()

// ValidationError lists the request fields that are missing.
type ValidationError struct {
	Channel Channel
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s request: missing %s", e.Channel, strings.Join(e.Missing, ", "))
}

// Validate checks the channel-required fields. Front ends call it before
// handing the request to the engine; the engine itself does not validate
// payloads. Whitespace-only values count as missing.
func (r Request) Validate() error {
	trimmed := Request{
		Channel: Channel(strings.TrimSpace(string(r.Channel))),
		To:      strings.TrimSpace(r.To),
		Subject: strings.TrimSpace(r.Subject),
		Body:    strings.TrimSpace(r.Body),
		Message: strings.TrimSpace(r.Message),
	}
	err := validate.Struct(trimmed)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate request: %w", err)
	}

	var missing []string
	for _, fe := range fieldErrs {
		if fe.Tag() == "oneof" {
			return fmt.Errorf("%w: %q", ErrUnknownChannel, r.Channel)
		}
		missing = append(missing, fe.Field())
	}
	return &ValidationError{Channel: trimmed.Channel, Missing: missing}
}
