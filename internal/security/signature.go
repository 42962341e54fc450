package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"strings"

	"loyalty/internal/apperr"
)

// SignatureHeader carries the base64 HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Shopify-Hmac-Sha256"

// Gate verifies webhook authenticity before anything is deduplicated or queued.
type Gate struct {
	secret string
	logger *slog.Logger
}

func NewGate(secret string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		secret: strings.TrimSpace(secret),
		logger: logger.With("component", "signature_gate"),
	}
}

// Verify checks signature against the HMAC of body. body must be the exact bytes
// that were signed; re-serialized JSON will not verify.
func (g *Gate) Verify(body []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		g.logger.Warn("webhook rejected: missing signature header")
		return apperr.Unauthorized("missing HMAC signature")
	}
	if g.secret == "" {
		g.logger.Error("webhook secret is not configured")
		return apperr.Misconfigured("server configuration error")
	}

	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		g.logger.Warn("webhook rejected: signature is not valid base64")
		return apperr.Unauthorized("invalid HMAC signature")
	}

	if subtle.ConstantTimeCompare(decoded, Sign(body, g.secret)) != 1 {
		g.logger.Warn("webhook rejected: signature mismatch")
		return apperr.Unauthorized("invalid HMAC signature")
	}

	g.logger.Debug("webhook signature verified")
	return nil
}

// Sign returns the raw HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// SignBase64 returns the header value a sender would attach to body.
func SignBase64(body []byte, secret string) string {
	return base64.StdEncoding.EncodeToString(Sign(body, secret))
}
