package evalapi

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rafaeljc/bifrost/ldreason"
)

// Evaluation value types accepted in EvaluateRequest.Type.
const (
	TypeBool   = "bool"
	TypeString = "string"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeJSON   = "json"
)

// EvaluateRequest defines the payload for POST /api/v1/evaluate.
type EvaluateRequest struct {
	// FlagKey identifies the flag to evaluate. Required.
	FlagKey string `json:"flag_key"`

	// Context is the evaluation context in its canonical JSON form. Required.
	Context json.RawMessage `json:"context"`

	// Type selects the typed evaluation method: bool, string, int, float,
	// or json. Defaults to json when omitted.
	Type string `json:"type,omitempty"`

	// Default is the value served when the flag cannot be evaluated. Its JSON
	// type must match Type. Optional; each type has a zero default.
	Default json.RawMessage `json:"default,omitempty"`
}

// Sanitize cleans up input data by trimming whitespace and normalizing case.
func (r *EvaluateRequest) Sanitize() {
	r.FlagKey = strings.TrimSpace(r.FlagKey)
	r.Type = strings.ToLower(strings.TrimSpace(r.Type))
	if r.Type == "" {
		r.Type = TypeJSON
	}
}

// Validate checks if the request data adheres to business rules.
// It returns a structured *ErrorResponse if validation fails, or nil if valid.
func (r *EvaluateRequest) Validate() *ErrorResponse {
	if r.FlagKey == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "flag_key is required",
		}
	}

	if len(r.Context) == 0 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "context is required",
		}
	}

	switch r.Type {
	case TypeBool, TypeString, TypeInt, TypeFloat, TypeJSON:
		return nil
	default:
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "type must be one of: bool, string, int, float, json",
		}
	}
}

// EvaluateResponse is the result of a flag evaluation. Evaluation failures do
// not produce HTTP errors; the reason field carries the error kind and the
// value falls back to the request default.
type EvaluateResponse struct {
	FlagKey string `json:"flag_key"`

	// Value is the resolved flag value, or the request default on failure.
	Value any `json:"value"`

	// VariationIndex is null when the default value was served.
	VariationIndex *int `json:"variation_index"`

	// Reason explains how the value was chosen.
	Reason ldreason.EvaluationReason `json:"reason"`
}

// newEvaluateResponse maps an evaluation detail to the wire form.
func newEvaluateResponse(flagKey string, detail ldreason.EvaluationDetail) EvaluateResponse {
	resp := EvaluateResponse{
		FlagKey: flagKey,
		Value:   detail.Value,
		Reason:  detail.Reason,
	}
	if detail.VariationIndex != ldreason.NoVariation {
		idx := detail.VariationIndex
		resp.VariationIndex = &idx
	}
	return resp
}

// StatusResponse reports the daemon's data synchronization state.
type StatusResponse struct {
	InstanceID  string           `json:"instance_id"`
	Initialized bool             `json:"initialized"`
	DataSource  DataSourceStatus `json:"data_source"`
}

// DataSourceStatus is the wire form of the client's data source status.
type DataSourceStatus struct {
	State      string           `json:"state"`
	StateSince time.Time        `json:"state_since"`
	LastError  *DataSourceError `json:"last_error,omitempty"`
}

// DataSourceError describes the most recent data source failure.
type DataSourceError struct {
	Kind       string    `json:"kind"`
	StatusCode int       `json:"status_code,omitempty"`
	Message    string    `json:"message,omitempty"`
	Time       time.Time `json:"time"`
}

// ErrorResponse is the uniform error payload for all endpoints.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
