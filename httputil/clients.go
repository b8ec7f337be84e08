package httputil

import (
	"net/http"
	"time"
)

type Clients struct {
	Feed  *http.Client // paged OData requests
	Media *http.Client // signed-URL CDN downloads, longer timeout
}

func NewClients() *Clients {
	return &Clients{
		Feed: &http.Client{
			Timeout: 60 * time.Second,
		},
		Media: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}
