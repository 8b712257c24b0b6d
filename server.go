package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ghks18g/eip712/pkg/eip712"
	"github.com/ghks18g/eip712/pkg/log"
	"github.com/ghks18g/eip712/pkg/relay"
	"github.com/ghks18g/eip712/pkg/sign"
)

const validateEndpoint = "/v1/validate"

var envelopeValidate = validator.New()

// ValidateRequest is the body of POST /v1/validate.
type ValidateRequest struct {
	TypedData json.RawMessage `json:"typedData" validate:"required"`
	Signature sign.Signature  `json:"signature" validate:"required"`
}

// ValidateResponse reports a decision. Error is meant for humans; clients
// should branch on Reason.
type ValidateResponse struct {
	ID       string          `json:"id,omitempty"`
	Accepted bool            `json:"accepted"`
	Reached  string          `json:"reached,omitempty"`
	Reason   relay.Reason    `json:"reason,omitempty"`
	Error    string          `json:"error,omitempty"`
	DomainID string          `json:"domainId,omitempty"`
	Digest   *common.Hash    `json:"digest,omitempty"`
	Signer   *common.Address `json:"signer,omitempty"`
}

// RelayServer exposes the validator over HTTP.
type RelayServer struct {
	validator    *relay.Validator
	logger       log.Logger
	maxBodyBytes int64
	now          func() time.Time
}

func NewRelayServer(v *relay.Validator, maxBodyBytes int64, logger log.Logger) *RelayServer {
	return &RelayServer{
		validator:    v,
		logger:       logger.WithName("http"),
		maxBodyBytes: maxBodyBytes,
		now:          time.Now,
	}
}

// Handler returns the routes served on the main listener.
func (s *RelayServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+validateEndpoint, s.handleValidate)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *RelayServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("relayd").Start(r.Context(), "relay.validate")
	defer span.End()
	ctx = log.SetContextLogger(ctx, s.logger.WithKV("remoteAddr", r.RemoteAddr))

	if s.maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	}

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeMalformed(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		s.writeMalformed(w, http.StatusBadRequest, err)
		return
	}
	if err := envelopeValidate.Struct(req); err != nil {
		s.writeMalformed(w, http.StatusBadRequest, err)
		return
	}
	td, err := eip712.ParseTypedData(req.TypedData)
	if err != nil {
		s.writeMalformed(w, http.StatusBadRequest, err)
		return
	}

	d := s.validator.ValidateTypedData(ctx, td, req.Signature, s.now())
	span.SetAttributes(
		attribute.String("relay.validation_id", d.ID),
		attribute.String("relay.reason", string(d.Reason)),
	)

	resp := ValidateResponse{
		ID:       d.ID,
		Accepted: d.Accepted(),
		Reached:  d.Reached.String(),
		Reason:   d.Reason,
		DomainID: d.DomainID,
	}
	if d.Digest != (common.Hash{}) {
		resp.Digest = &d.Digest
	}
	if d.Signer != (common.Address{}) {
		resp.Signer = &d.Signer
	}
	if d.Err != nil {
		resp.Error = d.Err.Error()
	}
	s.writeJSON(w, statusFor(d), resp)
}

func statusFor(d relay.Decision) int {
	switch {
	case d.Accepted():
		return http.StatusOK
	case d.Reason == relay.ReasonInternal:
		return http.StatusServiceUnavailable
	case d.Reason == relay.ReasonReplay:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *RelayServer) writeMalformed(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, ValidateResponse{Reason: relay.ReasonMalformedInput, Error: err.Error()})
}

func (s *RelayServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}
