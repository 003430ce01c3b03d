package ips

import (
	"fmt"
	"net/http"
)

// Outcome is the only externally observable result of an invocation.
type Outcome struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Encode builds an Outcome.
func Encode(code int, message string) Outcome {
	return Outcome{StatusCode: code, Body: message}
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.StatusCode == http.StatusOK
}

// Status returns a metrics label for the outcome.
func (o Outcome) Status() string {
	return fmt.Sprintf("%d", o.StatusCode)
}

func unmappedCVE(cve string) Outcome {
	return Encode(http.StatusBadRequest, fmt.Sprintf("Cannot find IPS rule(s) for %s", cve))
}
