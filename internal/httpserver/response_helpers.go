package httpserver

import (
	"encoding/json"
	"net/http"

	relayerrors "github.com/shielded-relay/relayer/internal/errors"
)

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type httpErrorBody struct {
	Error string `json:"error"`
}

// writeDecodeError reports a malformed request body. The processors
// themselves only ever see well-formed Go values, so a body that fails to
// decode never reaches C3-C8's own error taxonomy.
func writeDecodeError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, httpErrorBody{Error: "malformed request body: " + err.Error()})
}

// writeRelayErr writes an error returned directly by a processor call (as
// opposed to a DONE/FAILED response value) using its stable reason code when
// one is attached, falling back to a generic 500 otherwise.
func writeRelayErr(w http.ResponseWriter, err error) {
	if relayErr, ok := err.(*relayerrors.RelayError); ok {
		relayerrors.WriteRelayError(w, relayErr)
		return
	}
	writeJSON(w, http.StatusInternalServerError, httpErrorBody{Error: err.Error()})
}

// statusForOutcome maps the processors' own DONE/FAILED status string to an
// HTTP status code, per spec.md's "200 on DONE, 422 on FAILED" contract.
func statusForOutcome(outcome string) int {
	if outcome == "DONE" {
		return http.StatusOK
	}
	return http.StatusUnprocessableEntity
}
