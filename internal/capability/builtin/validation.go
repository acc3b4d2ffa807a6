// SPDX-License-Identifier: MPL-2.0

package builtin

import (
	"context"
	"fmt"
	"html"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/alienmod/alienmod/internal/capability"
)

// DataValidationName is the registered name of the DataValidation capability.
const DataValidationName = "DataValidation"

var (
	emailPattern   = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	nonDigits      = regexp.MustCompile(`\D`)
	sqlKeywords    = regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP|UNION|ALTER)\b`)
	sqlPunctuation = regexp.MustCompile(`--|;|'|"`)
)

// DataValidation returns the DataValidation capability. Every method reports
// its verdict in "valid"; malformed arguments are business failures.
func DataValidation() capability.Registration {
	return capability.Registration{
		Name:        DataValidationName,
		Description: "Validate and sanitize input data",
		New: func(*capability.ExecutionContext) capability.Capability {
			return capability.NewTable(DataValidationName, capability.Methods{
				"validate_schema":       validateSchema,
				"validate_email":        validateEmail,
				"validate_phone_number": validatePhone,
				"validate_amount":       validateAmount,
				"sanitize_input":        sanitizeInput,
			})
		},
	}
}

func validateSchema(_ context.Context, args capability.Args) (capability.Result, error) {
	data, ok := args["data"].(map[string]any)
	if !ok {
		return capability.Failure("data: expected an object"), nil
	}
	schema, ok := args["schema"].(map[string]any)
	if !ok {
		return capability.Failure("schema: expected an object"), nil
	}

	fields := make([]string, 0, len(schema))
	for field := range schema {
		fields = append(fields, field)
	}
	slices.Sort(fields)

	problems := []any{}
	for _, field := range fields {
		rules, _ := schema[field].(map[string]any)
		for _, p := range checkField(field, data[field], rules) {
			problems = append(problems, p)
		}
	}
	return capability.Result{"success": true, "valid": len(problems) == 0, "errors": problems}, nil
}

func checkField(field string, value any, rules map[string]any) []string {
	if value == nil {
		if required, _ := rules["required"].(bool); required {
			return []string{fmt.Sprintf("Field '%s' is required", field)}
		}
		return nil
	}

	var problems []string
	fieldType, _ := rules["type"].(string)
	if fieldType == "" {
		fieldType = "str"
	}
	if !hasType(value, fieldType) {
		problems = append(problems, fmt.Sprintf("Field '%s' must be of type %s", field, fieldType))
	}

	length := len([]rune(fmt.Sprint(value)))
	if minLen, ok := number(rules["min_length"]); ok && float64(length) < minLen {
		problems = append(problems, fmt.Sprintf("Field '%s' must be at least %v characters", field, minLen))
	}
	if maxLen, ok := number(rules["max_length"]); ok && float64(length) > maxLen {
		problems = append(problems, fmt.Sprintf("Field '%s' must not exceed %v characters", field, maxLen))
	}

	if n, isNum := number(value); isNum {
		if lo, ok := number(rules["min"]); ok && n < lo {
			problems = append(problems, fmt.Sprintf("Field '%s' must be at least %v", field, lo))
		}
		if hi, ok := number(rules["max"]); ok && n > hi {
			problems = append(problems, fmt.Sprintf("Field '%s' must not exceed %v", field, hi))
		}
	}
	return problems
}

func hasType(value any, fieldType string) bool {
	switch fieldType {
	case "str":
		_, ok := value.(string)
		return ok
	case "int":
		n, ok := number(value)
		return ok && n == math.Trunc(n)
	case "float":
		_, ok := number(value)
		return ok
	case "bool":
		_, ok := value.(bool)
		return ok
	default:
		return true
	}
}

// number converts JSON and Go numeric values to float64. Strings do not count.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

func validateEmail(_ context.Context, args capability.Args) (capability.Result, error) {
	email := strings.ToLower(strings.TrimSpace(args.String("email")))
	valid := emailPattern.MatchString(email)
	result := capability.Result{"success": true, "valid": valid}
	if valid {
		result["normalized"] = email
	}
	return result, nil
}

func validatePhone(_ context.Context, args capability.Args) (capability.Result, error) {
	digits := nonDigits.ReplaceAllString(args.String("phone"), "")
	country := args.String("country")
	if country == "" {
		country = "KE"
	}

	normalized, valid := digits, len(digits) >= 10
	if country == "KE" {
		switch {
		case len(digits) == 12 && strings.HasPrefix(digits, "254"):
			valid = true
		case len(digits) == 10 && strings.HasPrefix(digits, "0"):
			normalized, valid = "254"+digits[1:], true
		case len(digits) == 9:
			normalized, valid = "254"+digits, true
		default:
			valid = false
		}
	}
	return capability.Result{"success": true, "valid": valid, "normalized": normalized, "country": country}, nil
}

func validateAmount(_ context.Context, args capability.Args) (capability.Result, error) {
	amount, ok := number(args["amount"])
	if !ok {
		parsed, err := strconv.ParseFloat(args.String("amount"), 64)
		if err != nil {
			return capability.Result{"success": true, "valid": false, "error": "amount is not a number"}, nil
		}
		amount = parsed
	}
	currency := args.String("currency")
	if currency == "" {
		currency = "KES"
	}

	if lo, _ := number(args["min_amount"]); amount < lo {
		return capability.Result{"success": true, "valid": false, "error": fmt.Sprintf("Amount must be at least %v %s", lo, currency)}, nil
	}
	if hi, ok := number(args["max_amount"]); ok && hi > 0 && amount > hi {
		return capability.Result{"success": true, "valid": false, "error": fmt.Sprintf("Amount must not exceed %v %s", hi, currency)}, nil
	}
	return capability.Result{"success": true, "valid": true, "amount": amount, "currency": currency}, nil
}

func sanitizeInput(_ context.Context, args capability.Args) (capability.Result, error) {
	raw := args.String("data")
	sanitized := strings.ReplaceAll(raw, "\x00", "")
	if allow, _ := args["allow_html"].(bool); !allow {
		sanitized = html.EscapeString(sanitized)
	}
	sanitized = sqlKeywords.ReplaceAllString(sanitized, "")
	sanitized = sqlPunctuation.ReplaceAllString(sanitized, "")

	return capability.Result{
		"success":          true,
		"sanitized":        strings.TrimSpace(sanitized),
		"original_length":  len(raw),
		"sanitized_length": len(sanitized),
	}, nil
}
