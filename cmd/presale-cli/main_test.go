package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const ownerHex = "0x00000000000000000000000000000000000000A1"

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]interface{}
}

func newFakeServer(t *testing.T, status int, response string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var seen []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Auth: r.Header.Get("Authorization")}
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, &rec.Body))
		}
		seen = append(seen, rec)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestStatusPrintsIndentedJSON(t *testing.T) {
	srv, seen := newFakeServer(t, http.StatusOK, `{"phase":"active","currentStage":2}`)
	out, err := runCLI(t, "--endpoint", srv.URL, "status")
	require.NoError(t, err)
	require.Contains(t, out, "\"phase\": \"active\"")
	require.Len(t, *seen, 1)
	require.Equal(t, "/v1/presale", (*seen)[0].Path)
	require.Equal(t, http.MethodGet, (*seen)[0].Method)
}

func TestBuySendsDenomination(t *testing.T) {
	srv, seen := newFakeServer(t, http.StatusOK, `{"tokens":"500"}`)
	_, err := runCLI(t, "--endpoint", srv.URL, "buy", "--buyer", ownerHex, "--amount", "100", "--currency", "usdt", "--tokens")
	require.NoError(t, err)
	body := (*seen)[0].Body
	require.Equal(t, "/v1/presale/buy", (*seen)[0].Path)
	require.Equal(t, "tokens", body["denomination"])
	require.Equal(t, "100", body["amount"])
	require.Equal(t, "usdt", body["currency"])
}

func TestBuyValidatesLocally(t *testing.T) {
	srv, seen := newFakeServer(t, http.StatusOK, `{}`)
	_, err := runCLI(t, "--endpoint", srv.URL, "buy", "--buyer", "0x1", "--amount", "100", "--currency", "BNB")
	require.ErrorContains(t, err, "--buyer")
	_, err = runCLI(t, "--endpoint", srv.URL, "buy", "--buyer", ownerHex, "--amount", "1.5", "--currency", "BNB")
	require.ErrorContains(t, err, "--amount")
	require.Empty(t, *seen)
}

func TestQuoteEncodesQuery(t *testing.T) {
	srv, seen := newFakeServer(t, http.StatusOK, `{"cost":"1000000"}`)
	out, err := runCLI(t, "--endpoint", srv.URL, "quote", "--tokens", "100", "--currency", "USDT")
	require.NoError(t, err)
	require.Contains(t, out, "1000000")
	require.Equal(t, "currency=USDT&tokens=100", (*seen)[0].Query)
}

func TestAdminCommandsSendBearer(t *testing.T) {
	srv, seen := newFakeServer(t, http.StatusOK, `{"amount":"0"}`)
	_, err := runCLI(t, "--endpoint", srv.URL, "--token", "abc", "sweep")
	require.NoError(t, err)
	_, err = runCLI(t, "--endpoint", srv.URL, "--token", "abc", "register-currency", "busd", "--decimals", "18", "--feed", "busd-usd")
	require.NoError(t, err)
	_, err = runCLI(t, "--endpoint", srv.URL, "--token", "abc", "set-treasury", ownerHex)
	require.NoError(t, err)
	require.Len(t, *seen, 3)
	for _, req := range *seen {
		require.Equal(t, "Bearer abc", req.Auth)
		require.Equal(t, http.MethodPost, req.Method)
	}
	require.Equal(t, "BUSD", (*seen)[1].Body["symbol"])
	require.EqualValues(t, 18, (*seen)[1].Body["decimals"])
	require.Equal(t, ownerHex, (*seen)[2].Body["address"])
}

func TestAPIErrorsSurface(t *testing.T) {
	srv, _ := newFakeServer(t, http.StatusConflict, `{"error":"claim_not_open","message":"presale: claim window not open"}`)
	_, err := runCLI(t, "--endpoint", srv.URL, "claim", "--buyer", ownerHex)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusConflict, apiErr.Status)
	require.Equal(t, "claim_not_open", apiErr.Code)
}

func TestAdminTokenMintsOwnerToken(t *testing.T) {
	out, err := runCLI(t, "admin-token", "--owner", ownerHex, "--secret", "s3cret", "--ttl", "10m")
	require.NoError(t, err)
	raw := strings.TrimSpace(out)
	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("s3cret"), nil
	}, jwt.WithIssuer("presaled"))
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(ownerHex).Hex(), claims.Subject)
	require.WithinDuration(t, time.Now().Add(10*time.Minute), claims.ExpiresAt.Time, time.Minute)

	_, err = runCLI(t, "admin-token", "--owner", ownerHex, "--secret", "")
	require.Error(t, err)
}

func TestInvalidEndpoint(t *testing.T) {
	_, err := runCLI(t, "--endpoint", "localhost", "status")
	require.ErrorContains(t, err, "invalid endpoint")
}
