// Package orcid reads public person records from the ORCID API.
package orcid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrNotFound reports an ORCID iD unknown to the registry.
var ErrNotFound = errors.New("orcid not found")

const maxErrorBody = 512

// Person is the subset of an ORCID person record attached to authors.
type Person struct {
	ORCID      string
	GivenNames string
	FamilyName string
	Biography  string
}

type Client struct {
	http    *http.Client
	baseURL string
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewClient builds a client allowing at most perSecond requests per second.
// A non-positive rate disables limiting.
func NewClient(httpClient *http.Client, baseURL string, perSecond float64, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

type personPayload struct {
	Name *struct {
		GivenNames *valueField `json:"given-names"`
		FamilyName *valueField `json:"family-name"`
	} `json:"name"`
	Biography *struct {
		Content string `json:"content"`
	} `json:"biography"`
	ResponseCode     int    `json:"response-code"`
	DeveloperMessage string `json:"developer-message"`
}

type valueField struct {
	Value string `json:"value"`
}

// Person fetches GET {base}/{orcid}/person.
func (c *Client) Person(ctx context.Context, id string) (Person, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Person{}, fmt.Errorf("orcid is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Person{}, fmt.Errorf("wait for orcid rate limit: %w", err)
	}

	url := c.baseURL + "/" + id + "/person"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Person{}, fmt.Errorf("build orcid request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Person{}, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Person{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Person{}, fmt.Errorf("orcid %s: unexpected status %d: %s", id, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload personPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Person{}, fmt.Errorf("decode orcid person %s: %w", id, err)
	}
	// The API also reports missing records in-band.
	if payload.ResponseCode == http.StatusNotFound {
		c.logger.Debug().Str("orcid", id).Str("message", payload.DeveloperMessage).Msg("orcid reported not found")
		return Person{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}

	person := Person{ORCID: id}
	if payload.Name != nil {
		if payload.Name.GivenNames != nil {
			person.GivenNames = payload.Name.GivenNames.Value
		}
		if payload.Name.FamilyName != nil {
			person.FamilyName = payload.Name.FamilyName.Value
		}
	}
	if payload.Biography != nil {
		person.Biography = payload.Biography.Content
	}
	return person, nil
}
