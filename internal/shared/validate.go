package shared

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateStruct runs struct-tag validation on v and flattens any failures into
// "Namespace: tag" messages. A nil slice means v is valid.
func ValidateStruct(v any) ([]string, error) {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil, nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Validate checks the configuration and reports every invalid field at once.
// A missing Whisparr API key also matches [ErrMissingCredentials].
func (c *Config) Validate() error {
	msgs, err := ValidateStruct(c)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if len(msgs) == 0 {
		return nil
	}
	if c.Whisparr.APIKey == "" {
		return fmt.Errorf("%w (%w): %s", ErrInvalidConfig, ErrMissingCredentials, strings.Join(msgs, "; "))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}
