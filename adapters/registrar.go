package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"pms-to-mqtt/application"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const registrationBodyLimit = 16 << 10

var ErrRegistrationStatus = fmt.Errorf("unexpected registration status")

type RegisterResponse struct {
	Success bool                           `json:"success"`
	Msg     string                         `json:"msg"`
	Result  application.RegistrationResult `json:"result"`
}

type HTTPRegistrarParams struct {
	URL    string
	Client *http.Client

	Log zerolog.Logger
}

func (p *HTTPRegistrarParams) EnsureDefaults() {
	if p.Client == nil {
		p.Client = http.DefaultClient
	}
}

// HTTPRegistrar posts the one time key to the provisioning backend and
// decodes broker credentials from the reply.
type HTTPRegistrar struct {
	params HTTPRegistrarParams

	log zerolog.Logger
}

func NewHTTPRegistrar(params HTTPRegistrarParams) (*HTTPRegistrar, error) {
	if params.URL == "" {
		return nil, fmt.Errorf("registration url is required")
	}
	params.EnsureDefaults()
	return &HTTPRegistrar{params: params, log: params.Log}, nil
}

func (r *HTTPRegistrar) Register(ctx context.Context, req application.RegistrationRequest) (application.RegistrationResult, error) {
	var empty application.RegistrationResult

	body, err := json.Marshal(req)
	if err != nil {
		return empty, err
	}

	requestID := uuid.NewString()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.params.URL, bytes.NewReader(body))
	if err != nil {
		return empty, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)

	r.log.Info().Str("request_id", requestID).Msg("posting registration")
	resp, err := r.params.Client.Do(httpReq)
	if err != nil {
		return empty, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, registrationBodyLimit))
	if err != nil {
		return empty, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return empty, fmt.Errorf("%w: %d", ErrRegistrationStatus, resp.StatusCode)
	}

	var out RegisterResponse
	if err := json.Unmarshal(extractFirstJSONObject(raw), &out); err != nil {
		r.log.Warn().Str("request_id", requestID).Msg("failed to parse registration response")
		return empty, err
	}
	if !out.Success {
		return empty, fmt.Errorf("%w: %s", application.ErrRegistrationFailed, out.Msg)
	}
	if err := out.Result.Validate(); err != nil {
		return empty, err
	}
	if _, err := uuid.Parse(out.Result.NodeID); err != nil {
		return empty, fmt.Errorf("%w: node_id %v", application.ErrIncompleteRegistration, err)
	}
	return out.Result, nil
}

// extractFirstJSONObject trims anything outside the outermost braces; some
// gateways wrap the reply in diagnostics.
func extractFirstJSONObject(b []byte) []byte {
	first := bytes.IndexByte(b, '{')
	last := bytes.LastIndexByte(b, '}')
	if first >= 0 && last > first {
		return b[first : last+1]
	}
	return b
}

var _ application.Registrar = &HTTPRegistrar{}
