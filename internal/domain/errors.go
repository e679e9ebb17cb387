package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation — команда не прошла проверку, состояние не менялось.
	ErrValidation = errors.New("validation failed")
	// ErrPersistence — хранилище записи не смогло зафиксировать заказ.
	ErrPersistence = errors.New("persistence failed")
	// ErrPublish — событие не удалось передать паблишеру.
	ErrPublish = errors.New("publish failed")
	// ErrOrderNotFound возвращается, если заказа нет в хранилище чтения.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOutboxPublish — ошибка при обновлении статуса сообщения outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrStoreClosed — хранилище или шина уже остановлены.
	ErrStoreClosed = errors.New("store is closed")
)

// ValidationError содержит нарушения по полям.
type ValidationError struct {
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

// Is позволяет сравнивать через errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PersistenceError оборачивает причину сбоя записи.
type PersistenceError struct {
	Op  string
	Err error
}

// NewPersistenceError оборачивает err, если он ещё не является PersistenceError.
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *PersistenceError
	if errors.As(err, &existing) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// PublishError оборачивает причину сбоя публикации события.
type PublishError struct {
	OrderID int64
	Err     error
}

// NewPublishError оборачивает err, если он ещё не является PublishError.
func NewPublishError(orderID int64, err error) error {
	if err == nil {
		return nil
	}
	var existing *PublishError
	if errors.As(err, &existing) {
		return err
	}
	return &PublishError{OrderID: orderID, Err: err}
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s: order %d: %v", ErrPublish, e.OrderID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

func (e *PublishError) Is(target error) bool {
	return target == ErrPublish
}

// IsValidation проверяет, является ли ошибка ошибкой валидации.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
