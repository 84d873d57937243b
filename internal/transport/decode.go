package transport

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/agentstation/fleethold/pkg/errors"
	"github.com/agentstation/fleethold/pkg/logging"
)

// maxErrorBody bounds the response text kept in an APIError.
const maxErrorBody = 512

// DecodeResponse decodes a JSON response into the target structure.
// Non-2xx responses become an *errors.APIError. A nil target only checks
// the status.
func DecodeResponse(resp *http.Response, provider string, target any) error {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logging.Warn().Err(err).Str("provider", provider).Msg("Failed to close response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WrapIO("read", "response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(body)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		endpoint := ""
		if resp.Request != nil && resp.Request.URL != nil {
			endpoint = resp.Request.URL.Path
		}
		return &errors.APIError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Message:    msg,
			Endpoint:   endpoint,
		}
	}

	if target == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return errors.WrapParse("json", "response", err)
	}

	return nil
}
