package domain

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// MaxNameLength ограничивает длину имени и фамилии в символах.
const MaxNameLength = 100

// MaxTotalCost — граница NUMERIC(14,2): допустимы суммы строго меньше.
const MaxTotalCost = 1e12

// Имена полей в нарушениях совпадают с JSON-контрактом команды.
const (
	FieldFirstName = "firstName"
	FieldLastName  = "lastName"
	FieldStatus    = "status"
	FieldTotalCost = "totalCost"
)

// FieldViolation описывает нарушение правила для одного поля.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidateCreateOrder проверяет команду и возвращает все найденные нарушения.
// Пустой результат означает, что команда валидна. Команда не изменяется.
func ValidateCreateOrder(cmd CreateOrderCommand) []FieldViolation {
	var violations []FieldViolation

	violations = appendNameViolation(violations, FieldFirstName, cmd.FirstName)
	violations = appendNameViolation(violations, FieldLastName, cmd.LastName)

	if !cmd.Status.Valid() {
		violations = append(violations, FieldViolation{
			Field:   FieldStatus,
			Message: fmt.Sprintf("status must be one of %s", joinStatuses()),
		})
	}

	switch {
	case math.IsNaN(cmd.TotalCost) || math.IsInf(cmd.TotalCost, 0):
		violations = append(violations, FieldViolation{Field: FieldTotalCost, Message: "totalCost must be a finite number"})
	case cmd.TotalCost < 0:
		violations = append(violations, FieldViolation{Field: FieldTotalCost, Message: "totalCost must be greater than or equal to 0"})
	case cmd.TotalCost >= MaxTotalCost:
		violations = append(violations, FieldViolation{Field: FieldTotalCost, Message: "totalCost must be less than 1000000000000"})
	case !hasCents(cmd.TotalCost):
		violations = append(violations, FieldViolation{Field: FieldTotalCost, Message: "totalCost must have at most 2 decimal places"})
	}

	return violations
}

func appendNameViolation(violations []FieldViolation, field, value string) []FieldViolation {
	trimmed := strings.TrimSpace(value)
	switch {
	case trimmed == "":
		return append(violations, FieldViolation{Field: field, Message: field + " is required"})
	case utf8.RuneCountInString(value) > MaxNameLength:
		return append(violations, FieldViolation{
			Field:   field,
			Message: fmt.Sprintf("%s must be at most %d characters", field, MaxNameLength),
		})
	default:
		return violations
	}
}

// hasCents проверяет, что сумма представима в копейках (NUMERIC(14,2) в хранилище).
func hasCents(v float64) bool {
	scaled := v * 100
	return math.Abs(scaled-math.Round(scaled)) < 1e-6
}

func joinStatuses() string {
	parts := make([]string, 0, len(orderStatuses))
	for _, s := range orderStatuses {
		parts = append(parts, string(s))
	}
	return strings.Join(parts, ", ")
}
