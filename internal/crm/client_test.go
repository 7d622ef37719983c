package crm_test

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actumdigital/crm-mcp/internal/crm"
	"github.com/actumdigital/crm-mcp/internal/entitycache"
	"github.com/actumdigital/crm-mcp/pkg/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *crm.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return crm.NewClient(srv.Client(), srv.URL,
		crm.WithRateLimit(1000, 1000),
		crm.WithClientLogger(log.New(io.Discard, "", 0)),
	)
}

func TestFetchEntityName_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/data/v9.1/systemusers(u-1)", r.URL.Path)
		assert.Equal(t, "fullname", r.URL.Query().Get("$select"))
		assert.Equal(t, "4.0", r.Header.Get("OData-MaxVersion"))
		w.Write([]byte(`{"fullname": "Jane Doe"}`))
	})

	res := client.FetchEntityName(context.Background(), types.EntityUser, "u-1")
	assert.Equal(t, entitycache.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "Jane Doe", res.Name)
}

func TestFetchEntityName_UnknownTypeNoRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an unknown entity type")
	})

	res := client.FetchEntityName(context.Background(), "widget", "w-1")
	assert.Equal(t, entitycache.OutcomeUnsupportedType, res.Outcome)
	assert.Equal(t, "Unknown type (widget)", res.Name)
}

func TestFetchEntityName_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	res := client.FetchEntityName(context.Background(), types.EntityAccount, "deadbeef-0001")
	assert.Equal(t, entitycache.OutcomeNotFound, res.Outcome)
	assert.Equal(t, "Not found (deadbeef...)", res.Name)
}

func TestFetchEntityName_ServerErrorEmbedsStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	res := client.FetchEntityName(context.Background(), types.EntityAccount, "deadbeef-0001")
	assert.Equal(t, entitycache.OutcomeError, res.Outcome)
	assert.Equal(t, "Error 503 (deadbeef...)", res.Name)
}

func TestFetchEntityName_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // immediate connection refused

	client := crm.NewClient(http.DefaultClient, srv.URL,
		crm.WithRateLimit(1000, 1000),
		crm.WithClientLogger(log.New(io.Discard, "", 0)),
	)

	res := client.FetchEntityName(context.Background(), types.EntityUser, "deadbeef-0001")
	assert.Equal(t, entitycache.OutcomeError, res.Outcome)
	assert.Equal(t, "Error (deadbeef...)", res.Name)
}

func TestFetchEntityName_MissingNameField(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"somethingelse": 1}`))
	})

	res := client.FetchEntityName(context.Background(), types.EntityUser, "deadbeef-0001")
	assert.Equal(t, entitycache.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "No name (deadbeef...)", res.Name)
}

func TestSearchEntity_ExactFilter(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/data/v9.1/systemusers", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "fullname eq 'Jane Doe'", q.Get("$filter"))
		assert.Equal(t, "systemuserid,fullname", q.Get("$select"))
		assert.Equal(t, "1", q.Get("$top"))
		w.Write([]byte(`{"value": [{"systemuserid": "u-1", "fullname": "Jane Doe"}]}`))
	})

	hit, err := client.SearchEntity(context.Background(), types.EntityUser, "Jane Doe", entitycache.MatchExact)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "u-1", hit.ID)
	assert.Equal(t, "Jane Doe", hit.Name)
}

func TestSearchEntity_PartialFilter(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "contains(name, 'Sales')", r.URL.Query().Get("$filter"))
		w.Write([]byte(`{"value": [{"businessunitid": "d-1", "name": "Sales EMEA"}]}`))
	})

	hit, err := client.SearchEntity(context.Background(), types.EntityDivision, "Sales", entitycache.MatchPartial)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "d-1", hit.ID)
}

func TestSearchEntity_EscapesSingleQuotes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "fullname eq 'O''Brien'", r.URL.Query().Get("$filter"))
		w.Write([]byte(`{"value": []}`))
	})

	_, err := client.SearchEntity(context.Background(), types.EntityUser, "O'Brien", entitycache.MatchExact)
	require.NoError(t, err)
}

func TestSearchEntity_NoResults(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value": []}`))
	})

	hit, err := client.SearchEntity(context.Background(), types.EntityUser, "Nobody", entitycache.MatchExact)
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestSearchEntity_UnsupportedType(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for a type without an ID field")
	})

	_, err := client.SearchEntity(context.Background(), types.EntityAccount, "Acme", entitycache.MatchExact)
	assert.Error(t, err)
}

func TestSearchEntity_BadStatusIsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.SearchEntity(context.Background(), types.EntityUser, "Jane", entitycache.MatchExact)
	assert.Error(t, err)
}

func TestListOpenOpportunities_QueryShape(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/data/v9.1/opportunities", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "statecode eq 0 and _ownerid_value eq 'u-1' and _actum_divisionid_value eq 'd-1'", q.Get("$filter"))
		assert.Equal(t, "createdon desc", q.Get("$orderby"))
		assert.Equal(t, "25", q.Get("$top"))
		w.Write([]byte(`{"value": [
			{"name": "Big deal", "stepname": "Qualify", "_ownerid_value": "u-1",
			 "_customerid_value": "c-1", "_actum_divisionid_value": "d-1",
			 "estimatedvalue_base": 125000.5}
		]}`))
	})

	opps, err := client.ListOpenOpportunities(context.Background(), crm.OpportunityFilter{
		Top: 25, OwnerID: "u-1", DivisionID: "d-1",
	})
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, "Big deal", opps[0].Name)
	assert.Equal(t, "u-1", opps[0].OwnerID)
	require.NotNil(t, opps[0].EstimatedValueBase)
	assert.InDelta(t, 125000.5, *opps[0].EstimatedValueBase, 0.001)
}

func TestListOpenOpportunities_DefaultTopAndFilter(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "statecode eq 0", q.Get("$filter"))
		assert.Equal(t, "1000", q.Get("$top"))
		w.Write([]byte(`{"value": []}`))
	})

	opps, err := client.ListOpenOpportunities(context.Background(), crm.OpportunityFilter{})
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestListOpenOpportunities_BadStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "bad $filter"}`))
	})

	_, err := client.ListOpenOpportunities(context.Background(), crm.OpportunityFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
}

func TestListUsers_SubstitutesNA(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/data/v9.1/systemusers", r.URL.Path)
		assert.Equal(t, "isdisabled eq false", r.URL.Query().Get("$filter"))
		w.Write([]byte(`{"value": [
			{"fullname": "Jane Doe", "domainname": "jane@example.com", "systemuserid": "u-1"},
			{"fullname": "", "systemuserid": "u-2"}
		]}`))
	})

	users, err := client.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Jane Doe", users[0].FullName)
	assert.Equal(t, "N/A", users[1].FullName)
	assert.Equal(t, "N/A", users[1].DomainName)
}

func TestListDivisions_SubstitutesNA(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/data/v9.1/businessunits", r.URL.Path)
		w.Write([]byte(`{"value": [
			{"name": "Sales", "divisionname": "", "businessunitid": "d-1"}
		]}`))
	})

	divisions, err := client.ListDivisions(context.Background())
	require.NoError(t, err)
	require.Len(t, divisions, 1)
	assert.Equal(t, "Sales", divisions[0].Name)
	assert.Equal(t, "N/A", divisions[0].DivisionName)
	assert.Equal(t, "d-1", divisions[0].BusinessUnitID)
}

func TestWhoAmI(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/data/v9.1/WhoAmI", r.URL.Path)
		w.Write([]byte(`{"UserId": "me-123"}`))
	})

	id, err := client.WhoAmI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "me-123", id)
}

func TestWhoAmI_BadStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.WhoAmI(context.Background())
	assert.Error(t, err)
}
