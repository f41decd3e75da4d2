package evalapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/ldcontext"
	"github.com/rafaeljc/bifrost/ldreason"
)

// handleEvaluate processes the POST /api/v1/evaluate request.
//
// Responsibilities:
// 1. Decodes the JSON payload into the EvaluateRequest DTO.
// 2. Sanitizes and validates the input using the DTO's business logic.
// 3. Parses the evaluation context.
// 4. Runs the typed evaluation matching the requested value type.
// 5. Returns the evaluation detail with a 200 OK status.
//
// Evaluation failures (unknown flag, wrong type, malformed flag) are not HTTP
// errors: they serve the request default and surface the error kind in the
// reason, so callers degrade the same way embedded clients do.
func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	// 1. Decode Request
	var req EvaluateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	// 2. Sanitize & Validate
	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	// 3. Parse Evaluation Context
	var evalContext ldcontext.Context
	if err := json.Unmarshal(req.Context, &evalContext); err != nil {
		log.Warn("invalid evaluation context",
			slog.String("flag_key", req.FlagKey),
			slog.String("error", err.Error()),
		)
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_CONTEXT",
			Message: "Invalid evaluation context: " + err.Error(),
		})
		return
	}

	// 4. Typed Evaluation
	detail, errResp := a.evaluateTyped(&req, evalContext)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	log.Debug("flag evaluated",
		slog.String("flag_key", req.FlagKey),
		slog.String("reason", string(detail.Reason.Kind())),
	)

	// 5. Return Success
	render.Status(r, http.StatusOK)
	render.JSON(w, r, newEvaluateResponse(req.FlagKey, detail))
}

// evaluateTyped dispatches to the client method matching the requested type.
// A non-nil *ErrorResponse means the request default could not be parsed.
func (a *API) evaluateTyped(req *EvaluateRequest, ctx ldcontext.Context) (ldreason.EvaluationDetail, *ErrorResponse) {
	switch req.Type {
	case TypeBool:
		var def bool
		if errResp := parseDefault(req.Default, &def); errResp != nil {
			return ldreason.EvaluationDetail{}, errResp
		}
		_, detail, _ := a.client.BoolVariationDetail(req.FlagKey, ctx, def)
		return detail, nil

	case TypeString:
		var def string
		if errResp := parseDefault(req.Default, &def); errResp != nil {
			return ldreason.EvaluationDetail{}, errResp
		}
		_, detail, _ := a.client.StringVariationDetail(req.FlagKey, ctx, def)
		return detail, nil

	case TypeInt:
		var def int
		if errResp := parseDefault(req.Default, &def); errResp != nil {
			return ldreason.EvaluationDetail{}, errResp
		}
		_, detail, _ := a.client.IntVariationDetail(req.FlagKey, ctx, def)
		return detail, nil

	case TypeFloat:
		var def float64
		if errResp := parseDefault(req.Default, &def); errResp != nil {
			return ldreason.EvaluationDetail{}, errResp
		}
		_, detail, _ := a.client.Float64VariationDetail(req.FlagKey, ctx, def)
		return detail, nil

	default: // TypeJSON; Validate already rejected anything else
		_, detail, _ := a.client.JSONVariationDetail(req.FlagKey, ctx, req.Default)
		return detail, nil
	}
}

// parseDefault decodes the request default into the typed destination.
func parseDefault(raw json.RawMessage, dst any) *ErrorResponse {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "default does not match the requested type: " + err.Error(),
		}
	}
	return nil
}

// handleStatus processes the GET /api/v1/status request. It reports the
// daemon's identity and the current data synchronization state.
func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := a.client.DataSourceStatus()

	resp := StatusResponse{
		InstanceID:  a.client.InstanceID(),
		Initialized: a.client.Initialized(),
		DataSource: DataSourceStatus{
			State:      string(status.State),
			StateSince: status.StateSince,
		},
	}
	if status.LastError.Kind != "" {
		resp.DataSource.LastError = &DataSourceError{
			Kind:       string(status.LastError.Kind),
			StatusCode: status.LastError.StatusCode,
			Message:    status.LastError.Message,
			Time:       status.LastError.Time,
		}
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}
