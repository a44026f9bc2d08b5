package flow

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kudichat/kudichat/internal/ledger"
	"github.com/kudichat/kudichat/pkg/logger"
	"github.com/kudichat/kudichat/pkg/utils"
)

type Handler struct {
	codec   *Codec
	machine *Machine
}

func NewHandler(codec *Codec, machine *Machine) *Handler {
	return &Handler{codec: codec, machine: machine}
}

// Endpoint handles POST /flow/endpoint. Unencrypted POSTs are platform
// health checks and answered in the clear; everything else is decrypted,
// run through the screen machine, and the response encrypted under the
// flipped IV and returned as base64 text.
func (h *Handler) Endpoint(w http.ResponseWriter, r *http.Request) {
	var envelope EncryptedRequest
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	if !envelope.IsEncrypted() {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
		return
	}

	decrypted, err := h.codec.Decrypt(envelope)
	if err != nil {
		logger.Warn("Flow decryption failed", logger.Fields{logger.ErrorKey: err.Error()})
		// 421 tells the client to refresh the public key and retry
		w.WriteHeader(http.StatusMisdirectedRequest)
		return
	}

	var req Request
	if err := json.Unmarshal(decrypted.Payload, &req); err != nil {
		logger.Warn("Flow payload is not valid JSON", logger.Fields{logger.ErrorKey: err.Error()})
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	resp, err := h.machine.Handle(r.Context(), req)
	if err != nil {
		logger.Error("Flow screen handling failed", logger.Fields{
			logger.ErrorKey: err.Error(),
			"screen":        req.Screen,
			"action":        req.Action,
		})
		resp = h.errorResponse(req, err)
	}

	plaintext, err := json.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	ciphertext, err := h.codec.Encrypt(plaintext, decrypted.AESKey, decrypted.IV)
	if err != nil {
		logger.Error("Flow response encryption failed", logger.Fields{logger.ErrorKey: err.Error()})
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(ciphertext))
}

// errorResponse keeps the user on the current screen with a message the
// form can render. Auth failures close the form instead.
func (h *Handler) errorResponse(req Request, err error) *Response {
	var authErr *ledger.AuthError
	if errors.As(err, &authErr) {
		return &Response{Data: map[string]interface{}{
			"error_message": "Your session has expired. Please start again from chat.",
		}}
	}

	var valErr *ledger.ValidationError
	if errors.As(err, &valErr) {
		return errorOn(req.Screen, valErr.Field, valErr.Message)
	}

	return errorOn(req.Screen, "", "Something went wrong. Please try again.")
}
