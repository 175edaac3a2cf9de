package providers

import (
	"fmt"
	"net/http"
)

// HeaderAuth places a credential in a single request header.
type HeaderAuth struct {
	headerName string // e.g. "Authorization" or "x-api-key"
	prefix     string // e.g. "Bearer "
}

// BearerAuth is the OpenAI-style "Authorization: Bearer <key>" scheme.
func BearerAuth() HeaderAuth {
	return HeaderAuth{headerName: "Authorization", prefix: "Bearer "}
}

// APIKeyHeaderAuth sends the bare key in headerName.
func APIKeyHeaderAuth(headerName string) HeaderAuth {
	return HeaderAuth{headerName: headerName}
}

// Apply sets the credential header on h.
func (a HeaderAuth) Apply(h http.Header, credential string) error {
	if credential == "" {
		return fmt.Errorf("API key is required")
	}
	h.Set(a.headerName, a.prefix+credential)
	return nil
}
