package common

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	OK                     int = 200
	BAD_REQUEST            int = 400
	UNAUTHORIZED           int = 401
	FORBIDDEN              int = 403
	DATA_NOT_FOUND         int = 404
	METHOD_NOT_ALLOWED     int = 405
	CONFLICT               int = 409
	UNSUPPORTED_MEDIA_TYPE int = 415
	RATE_LIMIT_EXCEEDED    int = 429
	INTERNAL_SERVER_ERROR  int = 500
	BAD_GATEWAY            int = 502
	SERVICE_UNAVAILABLE    int = 503
	GATEWAY_TIMEOUT        int = 504
)

var messages = map[int]string{
	OK:                     "OK",
	BAD_REQUEST:            "Bad request",
	UNAUTHORIZED:           "Unauthorized",
	FORBIDDEN:              "Forbidden",
	DATA_NOT_FOUND:         "Data not found",
	METHOD_NOT_ALLOWED:     "Method not allowed",
	CONFLICT:               "Conflict",
	UNSUPPORTED_MEDIA_TYPE: "Unsupported media type",
	RATE_LIMIT_EXCEEDED:    "Rate limit exceeded",
	INTERNAL_SERVER_ERROR:  "Internal server error",
	BAD_GATEWAY:            "Bad gateway",
	SERVICE_UNAVAILABLE:    "Service unavailable",
	GATEWAY_TIMEOUT:        "Gateway timeout",
}

// ErrRequestNotAllowed is returned when the rate limiter rejects a request
var ErrRequestNotAllowed = errors.New("request not allowed by rate limiter")

// Response is what the proxy got back from the server
type Response struct {
	Status int
	Body   []byte
}

type Proxy struct {
	header      map[string]string
	client      *http.Client
	rateLimiter *RateLimiter
}

func NewProxy(header map[string]string, client *http.Client, rateLimiter *RateLimiter) *Proxy {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Proxy{header: header, client: client, rateLimiter: rateLimiter}
}

// Make a request to the provided url, indicating if it is vital.
// The request will be performed depending on the status of the rate limiter.
// Any status code is returned to the caller together with the body, only
// transport failures are errors
func (proxy *Proxy) Request(ctx context.Context, method string, target string, body []byte, vital bool) (Response, error) {

	// ask for permission to execute the request
	// and wait if necessary
	if !proxy.rateLimiter.Allowed(ctx, vital) {
		return Response{}, ErrRequestNotAllowed
	}

	// Create the request and add the header
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return Response{}, fmt.Errorf("could not create request: %w", stripURL(err))
	}
	for key, value := range proxy.header {
		request.Header.Set(key, value)
	}

	// Perform the request
	res, err := proxy.client.Do(request)
	if err != nil {
		return Response{}, fmt.Errorf("could not perform %s request: %w", method, stripURL(err))
	}
	defer res.Body.Close()

	// Check if the status of the request is understood
	if message, ok := messages[res.StatusCode]; ok {
		log.Debug().Int("status", res.StatusCode).Msg(message)
	} else {
		log.Warn().Int("status", res.StatusCode).Msg("Status code of request is not understood")
	}

	// Read the response
	stream, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, fmt.Errorf("could not read the response: %w", err)
	}

	if res.StatusCode == RATE_LIMIT_EXCEEDED {
		proxy.rateLimiter.ReceivedRateLimit(retryAfter(res.Header.Get("Retry-After")))
	}
	return Response{Status: res.StatusCode, Body: stream}, nil
}

// Throttle lets callers that understand the answer of the server
// extend the back off window
func (proxy *Proxy) Throttle(d time.Duration) {
	proxy.rateLimiter.ReceivedRateLimit(d)
}

// The url may carry credentials, keep it out of errors
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

func retryAfter(header string) time.Duration {
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
