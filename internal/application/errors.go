package application

import (
	"errors"
	"fmt"
)

// ErrValidation marks input rejected before any state was touched.
var ErrValidation = errors.New("validation")

func Validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
