package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roboricindustries/rescue-events/pkg/schemas/common"
	"github.com/roboricindustries/rescue-events/pkg/schemas/requests"
)

func writeEnvelope(w http.ResponseWriter, status int, success bool, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(common.Response[any]{Success: success, Message: msg, Data: data})
}

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL + "/api/v1/", HTTPClient: srv.Client()})
}

func TestLoginStoresToken(t *testing.T) {
	var authHeaders []string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		authHeaders = append(authHeaders, r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		switch r.URL.Path {
		case "/api/v1/auth/login":
			var in LoginRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, "m@example.com", in.Email)
			writeEnvelope(w, http.StatusOK, true, "ok", AuthResponse{
				Token: "tok-1",
				User:  User{ID: "42", Role: RoleMechanic, FullName: "Ivan"},
			})
		case "/api/v1/users/me":
			writeEnvelope(w, http.StatusOK, true, "", User{ID: "42", Role: RoleMechanic})
		default:
			http.NotFound(w, r)
		}
	})

	out, err := c.Login(context.Background(), LoginRequest{Email: "m@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "42", out.User.ID)
	assert.Equal(t, common.Mechanic, out.User.RecipientRole())
	assert.Equal(t, "tok-1", c.Token())

	_, err = c.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"", "Bearer tok-1"}, authHeaders)
}

func TestRegisterDefaultsToCustomer(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var in RegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, RoleCustomer, in.Role)
		writeEnvelope(w, http.StatusCreated, true, "", AuthResponse{Token: "t", User: User{ID: "7", Role: in.Role}})
	})

	out, err := c.Register(context.Background(), RegisterRequest{Email: "c@example.com", Password: "pw", FullName: "C"})
	require.NoError(t, err)
	assert.Equal(t, common.Customer, out.User.RecipientRole())
	assert.Equal(t, "t", c.Token())
}

func TestUnauthorizedClearsTokenAndFiresHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, false, "token expired", nil)
	}))
	t.Cleanup(srv.Close)

	var hooked error
	c := New(Options{BaseURL: srv.URL, OnUnauthorized: func(err error) { hooked = err }})
	c.SetToken("stale")

	_, err := c.MyRequests(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "token expired", apiErr.Message)
	assert.Empty(t, c.Token())
	assert.Equal(t, err, hooked)
}

func TestNonEnvelopeErrorBody(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})
	err := c.AcceptRequest(context.Background(), "r1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream exploded", apiErr.Message)
	assert.False(t, errors.Is(err, ErrUnauthorized))
}

func TestEnvelopeFailureOn200(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, false, "request already taken", nil)
	})
	err := c.AcceptRequest(context.Background(), "r1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "request already taken", apiErr.Message)
}

func TestRequestActions(t *testing.T) {
	type call struct{ method, path, query, body string }
	var calls []call
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		calls = append(calls, call{r.Method, r.URL.Path, r.URL.RawQuery, string(b)})
		writeEnvelope(w, http.StatusOK, true, "", nil)
	})
	ctx := context.Background()

	require.NoError(t, c.AcceptRequest(ctx, "r1"))
	require.NoError(t, c.RejectRequest(ctx, "r1"))
	require.NoError(t, c.CancelRequest(ctx, "r1"))
	require.NoError(t, c.CompleteRequest(ctx, "r1", requests.CompleteInput{FinalAmount: 750}))
	require.NoError(t, c.UpdateAvailability(ctx, true))
	require.NoError(t, c.UpdateLocation(ctx, 12.5, 77.25))

	assert.Equal(t, []call{
		{http.MethodPut, "/api/v1/requests/r1/accept", "", ""},
		{http.MethodPut, "/api/v1/requests/r1/reject", "", ""},
		{http.MethodPut, "/api/v1/requests/r1/cancel", "", ""},
		{http.MethodPut, "/api/v1/requests/r1/complete", "", `{"finalAmount":750}`},
		{http.MethodPut, "/api/v1/mechanics/availability", "available=true", ""},
		{http.MethodPost, "/api/v1/mechanics/location", "lat=12.5&lng=77.25", ""},
	}, calls)
}

func TestCreateRequestAcceptsIDOrObject(t *testing.T) {
	created := requests.BreakdownRequest{ID: "r9", Status: requests.StatusSearching, IssueType: requests.IssueBatteryDead}

	t.Run("id", func(t *testing.T) {
		c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodPost && r.URL.Path == "/api/v1/requests":
				writeEnvelope(w, http.StatusCreated, true, "", "r9")
			case r.Method == http.MethodGet && r.URL.Path == "/api/v1/requests/r9":
				writeEnvelope(w, http.StatusOK, true, "", created)
			default:
				http.NotFound(w, r)
			}
		})
		got, err := c.CreateRequest(context.Background(), requests.CreateInput{IssueType: requests.IssueBatteryDead})
		require.NoError(t, err)
		assert.Equal(t, "r9", got.ID)
		assert.Equal(t, requests.StatusSearching, got.Status)
	})

	t.Run("object", func(t *testing.T) {
		c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusCreated, true, "", created)
		})
		got, err := c.CreateRequest(context.Background(), requests.CreateInput{IssueType: requests.IssueBatteryDead})
		require.NoError(t, err)
		assert.Equal(t, requests.IssueBatteryDead, got.IssueType)
	})
}

func TestRegisterMechanic(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var in MechanicRegistration
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		lat := in.CurrentLocationLat
		writeEnvelope(w, http.StatusOK, true, "", MechanicProfile{ID: "p1", UserID: "42", CurrentLocationLat: &lat})
	})
	p, err := c.RegisterMechanic(context.Background(), MechanicRegistration{CurrentLocationLat: 12.9, CurrentLocationLng: 77.6})
	require.NoError(t, err)
	require.NotNil(t, p.CurrentLocationLat)
	assert.Equal(t, 12.9, *p.CurrentLocationLat)
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "42",
		"exp": exp.Unix(),
	}).SignedString([]byte("server-secret"))
	require.NoError(t, err)

	got, err := TokenExpiry(signed)
	require.NoError(t, err)
	assert.True(t, exp.Equal(got))

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "42"}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, err = TokenExpiry(noExp)
	assert.ErrorIs(t, err, ErrNoExpiry)

	_, err = TokenExpiry("not-a-jwt")
	assert.Error(t, err)
}

func TestNewBaseURL(t *testing.T) {
	assert.Equal(t, DefaultBaseURL, New(Options{}).baseURL)
	assert.Equal(t, "http://api.local/v1", New(Options{BaseURL: "http://api.local/v1/"}).baseURL)
}
