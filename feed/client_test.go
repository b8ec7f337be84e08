package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Beck89/mta-mls-worker/models"
	"github.com/Beck89/mta-mls-worker/ratelimit"
)

type memRequestLog struct {
	mu   sync.Mutex
	rows []*models.FeedRequest
}

func (m *memRequestLog) Append(_ context.Context, r *models.FeedRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, r)
	return nil
}

func (m *memRequestLog) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func testLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	// Generous caps so client tests never sleep on admission.
	l, err := ratelimit.New(ratelimit.Config{
		APIPerSecond: 1000, APIPerHour: 100000, APIPerDay: 1000000,
		APISoftPerSecond: 999, APISoftPerHour: 99999, APISoftPerDay: 999999,
	})
	require.NoError(t, err)
	return l
}

func newTestClient(t *testing.T, baseURL string, reqLog RequestLog) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		BaseURL:       baseURL,
		Vendor:        "NWMLS",
		Token:         "test-token",
		Limiter:       testLimiter(t),
		RequestLog:    reqLog,
		Logger:        zerolog.Nop(),
		ProbeInterval: time.Millisecond,
		MaxProbes:     3,
	})
	require.NoError(t, err)
	return c
}

func TestFetchPageParsesEnvelope(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"value":[{"ListingKey":"K1","ListPrice":450000.00}],"@odata.nextLink":"https://next.example.com/page2"}`)
	}))
	defer srv.Close()

	reqLog := &memRequestLog{}
	c := newTestClient(t, srv.URL, reqLog)

	page, err := c.FetchPage(context.Background(), srv.URL+"/Property", nil)
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-token", gotAuth)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "K1", page.Records[0]["ListingKey"])
	assert.Equal(t, "https://next.example.com/page2", page.NextLink)
	assert.Positive(t, page.Bytes)

	require.Equal(t, 1, reqLog.len())
	assert.Equal(t, 200, reqLog.rows[0].StatusCode)
	assert.Equal(t, 1, reqLog.rows[0].RecordCount)
}

func TestFetchPagePreservesNumberPrecision(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"value":[{"ListPrice":123456789.01}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	page, err := c.FetchPage(context.Background(), srv.URL, nil)
	require.NoError(t, err)

	d := decPtr(page.Records[0], "ListPrice")
	require.NotNil(t, d)
	assert.Equal(t, "123456789.01", d.String())
}

func TestFetchPageProbesThrough429(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"value":[]}`)
	}))
	defer srv.Close()

	reqLog := &memRequestLog{}
	c := newTestClient(t, srv.URL, reqLog)

	page, err := c.FetchPage(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.Equal(t, 3, calls)
	// Two failed probes and one success, each logged.
	assert.Equal(t, 3, reqLog.len())
}

func TestFetchPageSurfacesRateLimitedAfterMaxProbes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.FetchPage(context.Background(), srv.URL, nil)

	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 3, rl.Attempts)
}

func TestFetchPageSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream broken")
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.FetchPage(context.Background(), srv.URL, nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Contains(t, apiErr.Body, "upstream broken")
}

func TestForEachPageFollowsNextLink(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/page2" {
			fmt.Fprint(w, `{"value":[{"ListingKey":"K2"}]}`)
			return
		}
		fmt.Fprintf(w, `{"value":[{"ListingKey":"K1"}],"@odata.nextLink":"%s/page2"}`, srv.URL)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	var keys []string
	err := c.ForEachPage(context.Background(), srv.URL+"/page1", nil, func(p *Page) error {
		for _, rec := range p.Records {
			keys = append(keys, str(rec, "ListingKey"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"K1", "K2"}, keys)
}

func TestDownloadMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/expired.jpg":
			w.WriteHeader(http.StatusForbidden)
		case "/limited.jpg":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("pngbytes"))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	t.Run("success records bytes", func(t *testing.T) {
		blob, err := c.DownloadMedia(context.Background(), srv.URL+"/ok.png")
		require.NoError(t, err)
		assert.Equal(t, int64(8), blob.Size)
		assert.Equal(t, "image/png", blob.ContentType)
		assert.Equal(t, int64(8), c.limiter.Stats().MediaBytesLastHour)
	})

	t.Run("403 surfaces URLExpiredError", func(t *testing.T) {
		_, err := c.DownloadMedia(context.Background(), srv.URL+"/expired.jpg")
		var exp *URLExpiredError
		require.ErrorAs(t, err, &exp)
		assert.Equal(t, http.StatusForbidden, exp.Status)
	})

	t.Run("429 surfaces RateLimitedError", func(t *testing.T) {
		_, err := c.DownloadMedia(context.Background(), srv.URL+"/limited.jpg")
		var rl *RateLimitedError
		require.ErrorAs(t, err, &rl)
	})
}

func TestFetchListingByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("$filter")
		assert.Contains(t, filter, "ListingId eq 'NWM2206041'")
		assert.Contains(t, filter, "OriginatingSystemName eq 'NWMLS'")
		fmt.Fprint(w, `{"value":[{"ListingKey":"K1"}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	rec, err := c.FetchListingByID(context.Background(), "NWM2206041", nil)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "K1", rec["ListingKey"])
}
