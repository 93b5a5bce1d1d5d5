package mailrelay

const (
	// ErrGracefullyShutdown indicates that a listener failed to drain
	// in-flight requests before the shutdown deadline.
	ErrGracefullyShutdown Error = "shut down listener gracefully"

	// ErrCertPathRequired indicates that TLS was requested without a certificate file.
	ErrCertPathRequired Error = "certificate file path is required"

	// ErrPrivateKeyPathRequired indicates that TLS was requested without a private key file.
	ErrPrivateKeyPathRequired Error = "private key file path is required"

	// ErrShutdownTimeout indicates that Server.Shutdown gave up waiting for listeners.
	ErrShutdownTimeout Error = "server shutdown timed out"
)

// Error represents a package level error. Implements builtin error interface.
type Error string

func (e Error) Error() string { return string(e) }
