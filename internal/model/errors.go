package model

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrValidation: общая причина всех ошибок валидации, для errors.Is.
var ErrValidation = errors.New("validation failed")

// ErrMemberNotFound возвращается, если участник не найден в группе.
var ErrMemberNotFound = errors.New("member not found")

// ValidationReason: код причины отказа, показываемой пользователю.
type ValidationReason string

const (
	ReasonMissingEvidence      ValidationReason = "missing_evidence"
	ReasonMissingCounterparty  ValidationReason = "missing_counterparty"
	ReasonMissingNote          ValidationReason = "missing_note"
	ReasonSelfReference        ValidationReason = "self_reference"
	ReasonBotReference         ValidationReason = "bot_reference"
	ReasonInactiveCounterparty ValidationReason = "inactive_counterparty"
	ReasonUnknownCounterparty  ValidationReason = "unknown_counterparty"
	ReasonGiftNotOpen          ValidationReason = "gift_not_open"
)

// ValidationError: ошибка пользовательского ввода. Операция прерывается целиком.
type ValidationError struct {
	Reason ValidationReason
	Detail string
}

// NewValidationError создаёт ошибку валидации с указанной причиной.
func NewValidationError(reason ValidationReason, detail string) *ValidationError {
	return &ValidationError{Reason: reason, Detail: detail}
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Reason, e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// AsValidation извлекает ValidationError из цепочки ошибок.
func AsValidation(err error) (*ValidationError, bool) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr, true
	}
	return nil, false
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
