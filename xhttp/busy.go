package xhttp

import (
	"net/http"

	"go.uber.org/zap"
)

// Busy creates an Alice-style constructor that limits the number of HTTP
// transactions handled by decorated handlers. The decorated handler blocks
// waiting on a semaphore until the request's context is canceled. If a
// transaction is not allowed to proceed, it is answered
// http.StatusServiceUnavailable.
//
// Used here to cap concurrent WebSocket upgrades: for the relay's three
// accept paths, the decorated handler runs for the lifetime of the socket,
// so the semaphore doubles as the process-wide connection cap.
func Busy(maxTransactions int, logger *zap.Logger) func(http.Handler) http.Handler {
	if maxTransactions < 1 {
		panic("maxTransactions must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		semaphore = make(chan struct{}, maxTransactions)
		release   = func() {
			<-semaphore
		}
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(response http.ResponseWriter, request *http.Request) {
			select {
			case <-request.Context().Done():
				logger.Warn("server busy", zap.Error(request.Context().Err()))
				response.WriteHeader(http.StatusServiceUnavailable)

			case semaphore <- struct{}{}:
				defer release()
				next.ServeHTTP(response, request)
			}
		})
	}
}
