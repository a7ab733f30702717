// Package schema defines the typed contracts of the engine (ProblemSpec,
// StepResult) and their validators. Trace record shapes live in package trace.
//
// Validators are pure: they accept a value, return either the typed form or
// a fault.Error enumerating every violated rule (schema_invalid, or
// version_unsupported / step_contract_violation where those apply).
// They never mutate and never consult external resources.
package schema

import (
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/stepflow/internal/fault"
)

// SupportedMajor is the ProblemSpec MAJOR version the engine accepts.
// Higher MINOR/PATCH are accepted as long as required fields validate.
const SupportedMajor = 1

var (
	semverRE  = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	isoUTCRE  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`)
	hexHashRE = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// IsSemver reports whether value is a MAJOR.MINOR.PATCH version string.
func IsSemver(value string) bool {
	return semverRE.MatchString(value)
}

// IsISO8601UTC reports whether value is an ISO-8601 UTC timestamp with
// second precision and a Z suffix.
func IsISO8601UTC(value string) bool {
	return isoUTCRE.MatchString(value)
}

// IsHexHash reports whether value is 64 lowercase hex digits.
func IsHexHash(value string) bool {
	return hexHashRE.MatchString(value)
}

// MajorOf extracts the MAJOR component of a semver string.
// Callers must have checked IsSemver first.
func MajorOf(version string) int {
	major, _ := strconv.Atoi(strings.SplitN(version, ".", 2)[0])
	return major
}

// newValidator builds the shared validator instance with the custom rules
// and json-tag field naming used across all schema checks.
func newValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	// trimmed: non-empty after whitespace trim.
	mustRegister(v, "trimmed", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	mustRegister(v, "semver", func(fl validator.FieldLevel) bool {
		return IsSemver(fl.Field().String())
	})
	mustRegister(v, "isoutc", func(fl validator.FieldLevel) bool {
		return IsISO8601UTC(fl.Field().String())
	})
	mustRegister(v, "hexhash", func(fl validator.FieldLevel) bool {
		return IsHexHash(fl.Field().String())
	})

	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
}

// violations flattens validator errors into "path: rule" strings with the
// given prefix replacing the Go struct name.
func violations(prefix string, err error) []string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{prefix + ": " + err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if i := strings.Index(ns, "."); i >= 0 {
			ns = ns[i+1:]
		}
		out = append(out, prefix+"."+ns+": failed rule '"+fe.Tag()+"'")
	}
	return out
}

// invalid builds the schema_invalid fault from a violation list.
func invalid(subject string, list []string) *fault.Error {
	e := fault.New(fault.CodeSchemaInvalid, "%s failed validation (%d violation(s))", subject, len(list))
	e.Violations = list
	return e
}
