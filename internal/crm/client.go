// Package crm is the OData v4 client for the Dynamics-style CRM API. It
// covers the handful of read operations the MCP tools need: point lookup of
// an entity's display name, top-1 entity search, and the three list queries.
//
// Every request goes through a client-side rate limiter and a circuit
// breaker, and the injected http.Client is expected to carry both the bearer
// token transport and a bounded timeout.
package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/actumdigital/crm-mcp/internal/entitycache"
	"github.com/actumdigital/crm-mcp/pkg/types"
)

// apiPath is the OData endpoint root below the resource URL.
const apiPath = "/api/data/v9.1"

// Client talks to the CRM OData API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	breaker    *Breaker
	logger     *log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRateLimit sets the sustained request rate and burst size against the
// CRM API. The default is 5 requests per second with a burst of 5.
func WithRateLimit(perSec float64, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSec), burst) }
}

// WithBreakerConfig overrides the circuit breaker tuning.
func WithBreakerConfig(cfg BreakerConfig) ClientOption {
	return func(c *Client) { c.breaker = NewBreaker(cfg) }
}

// WithClientLogger overrides the logger. The default logs to stderr.
func WithClientLogger(l *log.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a CRM client rooted at resource (the organisation URL,
// e.g. "https://org.crm4.dynamics.com"). httpClient must attach the bearer
// token to every request; see the auth package.
func NewClient(httpClient *http.Client, resource string, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(resource, "/") + apiPath,
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
		breaker:    NewBreaker(DefaultBreakerConfig()),
		logger:     log.New(os.Stderr, "crm: ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// httpResult carries the status and body of a completed request. It is
// non-nil even for 5xx responses so callers can report the status code.
type httpResult struct {
	status int
	body   []byte
}

// doGet performs one rate-limited, breaker-guarded GET. Transport failures
// and 5xx responses count against the circuit; 5xx still returns the result
// alongside the error so callers can inspect the status.
func (c *Client) doGet(ctx context.Context, rawURL string, query url.Values) (*httpResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("crm: rate limiter: %w", err)
	}
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}

	res, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("OData-MaxVersion", "4.0")
		req.Header.Set("OData-Version", "4.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		r := &httpResult{status: resp.StatusCode, body: body}
		if resp.StatusCode >= http.StatusInternalServerError {
			return r, fmt.Errorf("crm: server returned HTTP %d", resp.StatusCode)
		}
		return r, nil
	})

	hr, _ := res.(*httpResult)
	return hr, err
}

// FetchEntityName looks up the display name of one entity by ID. It never
// fails: unknown types, missing entities, and transport errors all map to a
// tagged fallback result that the cache stores like any other value.
func (c *Client) FetchEntityName(ctx context.Context, entityType types.EntityType, entityID string) entitycache.FetchResult {
	cfg, ok := entityConfigs[entityType]
	if !ok {
		return entitycache.UnsupportedType(entityType)
	}

	query := url.Values{}
	query.Set("$select", cfg.NameField)

	res, err := c.doGet(ctx, fmt.Sprintf("%s/%s(%s)", c.baseURL, cfg.Collection, entityID), query)
	if err != nil {
		c.logger.Printf("warning: error fetching %s %s: %v", entityType, entitycache.ShortID(entityID), err)
		if res != nil {
			return entitycache.StatusError(res.status, entityID)
		}
		return entitycache.FetchError(entityID)
	}

	switch res.status {
	case http.StatusOK:
		var payload map[string]interface{}
		if err := json.Unmarshal(res.body, &payload); err != nil {
			c.logger.Printf("warning: malformed response for %s %s: %v", entityType, entitycache.ShortID(entityID), err)
			return entitycache.FetchError(entityID)
		}
		if name, ok := payload[cfg.NameField].(string); ok && name != "" {
			return entitycache.Found(name)
		}
		return entitycache.Found(fmt.Sprintf("No name (%s...)", entitycache.ShortID(entityID)))
	case http.StatusNotFound:
		return entitycache.NotFound(entityID)
	default:
		return entitycache.StatusError(res.status, entityID)
	}
}

// SearchEntity finds at most one entity whose name matches name under the
// given mode. A nil hit with a nil error means nothing matched. Failures are
// returned to the caller, which treats them as an abort signal.
func (c *Client) SearchEntity(ctx context.Context, entityType types.EntityType, name string, mode entitycache.MatchMode) (*entitycache.SearchHit, error) {
	cfg, ok := entityConfigs[entityType]
	if !ok || cfg.IDField == "" {
		return nil, fmt.Errorf("crm: entity type %q does not support search", entityType)
	}

	escaped := escapeODataLiteral(name)
	var filter string
	if mode == entitycache.MatchPartial {
		filter = fmt.Sprintf("contains(%s, '%s')", cfg.NameField, escaped)
	} else {
		filter = fmt.Sprintf("%s eq '%s'", cfg.NameField, escaped)
	}

	query := url.Values{}
	query.Set("$filter", filter)
	query.Set("$select", cfg.IDField+","+cfg.NameField)
	query.Set("$top", "1")

	res, err := c.doGet(ctx, c.baseURL+"/"+cfg.Collection, query)
	if err != nil {
		return nil, err
	}
	if res.status != http.StatusOK {
		return nil, fmt.Errorf("crm: search for %s returned HTTP %d", entityType, res.status)
	}

	var payload struct {
		Value []map[string]interface{} `json:"value"`
	}
	if err := json.Unmarshal(res.body, &payload); err != nil {
		return nil, fmt.Errorf("crm: malformed search response: %w", err)
	}
	if len(payload.Value) == 0 {
		return nil, nil
	}

	first := payload.Value[0]
	id, _ := first[cfg.IDField].(string)
	hitName, _ := first[cfg.NameField].(string)
	if id == "" {
		return nil, nil
	}
	return &entitycache.SearchHit{ID: id, Name: hitName}, nil
}

// Opportunity is one open opportunity as returned by the CRM, raw lookup IDs
// included. The MCP layer replaces the IDs with resolved names before
// anything leaves the process.
type Opportunity struct {
	Name               string   `json:"name"`
	StepName           string   `json:"stepname"`
	CreatedOn          string   `json:"createdon"`
	ModifiedOn         string   `json:"modifiedon"`
	EstimatedValueBase *float64 `json:"estimatedvalue_base"`
	EstimatedCloseDate string   `json:"estimatedclosedate"`
	OwnerID            string   `json:"_ownerid_value"`
	CustomerID         string   `json:"_customerid_value"`
	DivisionID         string   `json:"_actum_divisionid_value"`
}

// OpportunityFilter narrows ListOpenOpportunities. IDs, not names: name
// resolution happens in the caller via the entity cache.
type OpportunityFilter struct {
	Top        int
	OwnerID    string
	DivisionID string
}

const opportunitySelect = "createdon,name,stepname,modifiedon,_actum_divisionid_value," +
	"_ownerid_value,estimatedvalue_base,estimatedclosedate,_customerid_value"

// ListOpenOpportunities returns open opportunities (statecode 0), newest
// first, optionally filtered by owner and division ID.
func (c *Client) ListOpenOpportunities(ctx context.Context, filter OpportunityFilter) ([]Opportunity, error) {
	conditions := []string{"statecode eq 0"}
	if filter.OwnerID != "" {
		conditions = append(conditions, fmt.Sprintf("_ownerid_value eq '%s'", escapeODataLiteral(filter.OwnerID)))
	}
	if filter.DivisionID != "" {
		conditions = append(conditions, fmt.Sprintf("_actum_divisionid_value eq '%s'", escapeODataLiteral(filter.DivisionID)))
	}
	top := filter.Top
	if top <= 0 {
		top = 1000
	}

	query := url.Values{}
	query.Set("$filter", strings.Join(conditions, " and "))
	query.Set("$select", opportunitySelect)
	query.Set("$orderby", "createdon desc")
	query.Set("$top", strconv.Itoa(top))

	res, err := c.doGet(ctx, c.baseURL+"/opportunities", query)
	if err != nil {
		return nil, fmt.Errorf("crm: failed to fetch opportunities: %w", err)
	}
	if res.status != http.StatusOK {
		return nil, fmt.Errorf("crm: failed to fetch opportunities: HTTP %d: %s", res.status, excerpt(res.body))
	}

	var payload struct {
		Value []Opportunity `json:"value"`
	}
	if err := json.Unmarshal(res.body, &payload); err != nil {
		return nil, fmt.Errorf("crm: malformed opportunities response: %w", err)
	}
	return payload.Value, nil
}

// User is one active system user.
type User struct {
	FullName     string `json:"fullname"`
	DomainName   string `json:"domainname"`
	SystemUserID string `json:"systemuserid"`
}

// ListUsers returns all active users who can own opportunities, ordered by
// full name.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	query := url.Values{}
	query.Set("$filter", "isdisabled eq false")
	query.Set("$select", "systemuserid,fullname,domainname,firstname,lastname")
	query.Set("$orderby", "fullname")
	query.Set("$top", "500")

	res, err := c.doGet(ctx, c.baseURL+"/systemusers", query)
	if err != nil {
		return nil, fmt.Errorf("crm: failed to fetch users: %w", err)
	}
	if res.status != http.StatusOK {
		return nil, fmt.Errorf("crm: failed to fetch users: HTTP %d", res.status)
	}

	var payload struct {
		Value []User `json:"value"`
	}
	if err := json.Unmarshal(res.body, &payload); err != nil {
		return nil, fmt.Errorf("crm: malformed users response: %w", err)
	}
	for i := range payload.Value {
		payload.Value[i].FullName = orNA(payload.Value[i].FullName)
		payload.Value[i].DomainName = orNA(payload.Value[i].DomainName)
		payload.Value[i].SystemUserID = orNA(payload.Value[i].SystemUserID)
	}
	return payload.Value, nil
}

// Division is one active business unit.
type Division struct {
	Name           string `json:"name"`
	DivisionName   string `json:"divisionname"`
	BusinessUnitID string `json:"businessunitid"`
}

// ListDivisions returns all active business units, ordered by name.
func (c *Client) ListDivisions(ctx context.Context) ([]Division, error) {
	query := url.Values{}
	query.Set("$filter", "isdisabled eq false")
	query.Set("$select", "businessunitid,name,divisionname,createdon,modifiedon,isdisabled,description")
	query.Set("$orderby", "name")
	query.Set("$top", "500")

	res, err := c.doGet(ctx, c.baseURL+"/businessunits", query)
	if err != nil {
		return nil, fmt.Errorf("crm: failed to fetch business units: %w", err)
	}
	if res.status != http.StatusOK {
		return nil, fmt.Errorf("crm: failed to fetch business units: HTTP %d", res.status)
	}

	var payload struct {
		Value []Division `json:"value"`
	}
	if err := json.Unmarshal(res.body, &payload); err != nil {
		return nil, fmt.Errorf("crm: malformed business units response: %w", err)
	}
	for i := range payload.Value {
		payload.Value[i].Name = orNA(payload.Value[i].Name)
		payload.Value[i].DivisionName = orNA(payload.Value[i].DivisionName)
		payload.Value[i].BusinessUnitID = orNA(payload.Value[i].BusinessUnitID)
	}
	return payload.Value, nil
}

// WhoAmI returns the user ID associated with the current access token.
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	res, err := c.doGet(ctx, c.baseURL+"/WhoAmI", nil)
	if err != nil {
		return "", fmt.Errorf("crm: WhoAmI failed: %w", err)
	}
	if res.status != http.StatusOK {
		return "", fmt.Errorf("crm: unable to get current user ID: HTTP %d", res.status)
	}

	var payload struct {
		UserID string `json:"UserId"`
	}
	if err := json.Unmarshal(res.body, &payload); err != nil {
		return "", fmt.Errorf("crm: malformed WhoAmI response: %w", err)
	}
	return payload.UserID, nil
}

// escapeODataLiteral doubles single quotes so user-supplied names cannot
// break out of an OData string literal.
func escapeODataLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// orNA substitutes "N/A" for fields the CRM left empty.
func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// excerpt truncates a response body for error messages.
func excerpt(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
