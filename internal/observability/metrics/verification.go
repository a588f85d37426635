package metrics

import "time"

// VerificationStore records the outcome of a store request.
func VerificationStore(result string) {
	if !enabled {
		return
	}
	verificationStoreTotal.WithLabelValues(result).Inc()
}

// VerificationRead records a read served by the read backend.
func VerificationRead(operation, status string) {
	if !enabled {
		return
	}
	verificationReadTotal.WithLabelValues(operation, status).Inc()
}

// BackendWrite records a single backend write of a fan-out.
func BackendWrite(backend, mode, status string, duration time.Duration) {
	if !enabled {
		return
	}
	backendWriteTotal.WithLabelValues(backend, mode, status).Inc()
	backendWriteDuration.WithLabelValues(backend).Observe(duration.Seconds())
}
