package httpx

import (
	"log"
	"net/http"
	"time"
)

const DefaultTimeout = 90 * time.Second

var (
	transport = newTransport()
	client    = &http.Client{Timeout: DefaultTimeout, Transport: transport}
)

func newTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConnsPerHost = 4
	return t
}

// Client is shared by every outbound provider call. Per-call deadlines come
// from the request context; the client timeout is the ceiling.
func Client() *http.Client {
	return client
}

// Configure sets the ceiling for provider requests and sizes the idle pool
// to the engine fan-out. The ceiling never drops below callTimeout, so the
// per-call context deadline is always the one that fires first.
func Configure(timeoutSeconds int, callTimeout time.Duration, fanOut int) time.Duration {
	timeout := DefaultTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	if callTimeout > 0 && timeout < callTimeout {
		log.Printf("external http timeout=%s below call timeout=%s, raising to call timeout", timeout, callTimeout)
		timeout = callTimeout
	}
	if fanOut > 0 {
		transport.MaxIdleConnsPerHost = fanOut
	}
	client.Timeout = timeout
	return timeout
}
