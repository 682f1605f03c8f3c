// Package apperr содержит общие ошибки клиентского ядра.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("not found")
	ErrTransactionFailed  = errors.New("transaction failed")
	ErrConstraint         = fmt.Errorf("%w: constraint violation", ErrTransactionFailed)
	ErrUnauthorized       = errors.New("unauthorized")
	ErrValidation         = errors.New("validation failed")
	ErrRemote             = errors.New("remote error")
	ErrTimeout            = errors.New("timeout")
)

// RemoteError - ответ удаленного сервиса с кодом не 2xx или success:false
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote error: status %d", e.Status)
	}
	return fmt.Sprintf("remote error (%d): %s", e.Status, e.Message)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// IsKnown сообщает, относится ли ошибка к одной из категорий пакета
func IsKnown(err error) bool {
	for _, target := range []error{
		ErrStorageUnavailable, ErrNotFound, ErrTransactionFailed, ErrUnauthorized,
		ErrValidation, ErrRemote, ErrTimeout,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Validation оборачивает ErrValidation с описанием поля
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
