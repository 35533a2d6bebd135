// Package validation содержит функции валидации входных данных.
package validation

import "regexp"

var routingCodePattern = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)

// IsValidRoutingCode проверяет формат банковского маршрутного кода.
func IsValidRoutingCode(code string) bool {
	return routingCodePattern.MatchString(code)
}

// IsValidBankDetails проверяет полноту и формат банковских реквизитов.
func IsValidBankDetails(accountNumber, routingCode, holderName string) bool {
	if accountNumber == "" || holderName == "" {
		return false
	}
	if len(accountNumber) < 6 || len(accountNumber) > 34 {
		return false
	}
	return IsValidRoutingCode(routingCode)
}
