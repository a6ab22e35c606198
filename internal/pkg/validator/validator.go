// Package validator wraps go-playground/validator with the project's error
// format and the EVM-specific tags used by the configuration and probe plan:
//
//   - evmaddress: a 20-byte hex address with the 0x prefix
//   - hexdata: 0x-prefixed hex bytes of even length
package validator

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gvalidator "github.com/go-playground/validator/v10"
)

// ErrValidationFailed is the first error of the chain returned by Validate.
var ErrValidationFailed = errors.New("struct validation failed")

var validator *gvalidator.Validate

const errStringFormat = "'%s': value '%v' does not meet the requirements for the '%s' validation"

func init() {
	validator = gvalidator.New(gvalidator.WithRequiredStructEnabled())

	_ = validator.RegisterValidation("evmaddress", isAddress)
	_ = validator.RegisterValidation("hexdata", isHexData)
}

func isAddress(fl gvalidator.FieldLevel) bool {
	s := fl.Field().String()
	return len(s) == 2+2*common.AddressLength && common.IsHexAddress(s)
}

func isHexData(fl gvalidator.FieldLevel) bool {
	_, err := hexutil.Decode(fl.Field().String())
	return err == nil
}

func formatError(err error) error {
	var validationErrors gvalidator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	errs := []error{ErrValidationFailed}
	for _, validationErr := range validationErrors {
		errs = append(errs, fmt.Errorf(errStringFormat,
			validationErr.Namespace(),
			validationErr.Value(),
			validationErr.Tag(),
		))
	}

	return errors.Join(errs...)
}

// Validate checks v against its `validate` tags. On failure the returned error
// matches ErrValidationFailed and lists every violated field.
func Validate(v any) error {
	if err := validator.Struct(v); err != nil {
		return formatError(err)
	}

	return nil
}
