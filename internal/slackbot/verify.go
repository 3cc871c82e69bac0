package slackbot

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

const maxEventBytes = 1 << 20

// Verify checks the X-Slack-Signature header of a request body against the
// signing secret.
func Verify(header http.Header, body []byte, signingSecret string) error {
	sv, err := slack.NewSecretsVerifier(header, signingSecret)
	if err != nil {
		return fmt.Errorf("signature headers: %w", err)
	}
	if _, err := sv.Write(body); err != nil {
		return fmt.Errorf("hash body: %w", err)
	}
	if err := sv.Ensure(); err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	return nil
}

// SignatureMiddleware rejects requests whose signature does not match. The
// body is buffered and restored for the next handler.
func SignatureMiddleware(signingSecret string, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
			if err != nil {
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			if err := Verify(r.Header, body, signingSecret); err != nil {
				logger.Warn("rejected slack request", zap.Error(err))
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
