// ABOUTME: HTTP-level tests for the room, VIP code and VIP user endpoints
// ABOUTME: Exercises the full mux against a real temp-dir store

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagecast/stagecast/internal/config"
	"github.com/stagecast/stagecast/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = "unused"
	cfg.Directory.PushInterval = time.Second

	s := newServer(cfg, st, nil)
	t.Cleanup(s.directory.Close)
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func createRoom(t *testing.T, s *Server, name, password string) {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/api/rooms",
		CreateRoomRequest{Name: name, Password: password})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
}

func TestCreateRoom(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/rooms",
		CreateRoomRequest{Name: "alpha", Password: "secret", Privacy: "private"})
	require.Equal(t, http.StatusCreated, rec.Code)

	room := decodeBody[RoomResponse](t, s.mustGet(t, "alpha"))
	assert.Equal(t, "alpha", room.Name)
	assert.True(t, room.Claimed)
	assert.Equal(t, "private", room.Privacy)
	assert.False(t, room.IsLive)
	assert.Equal(t, 0, room.Viewers)
	assert.NotNil(t, room.Codes)
	assert.NotNil(t, room.VIPUsers)

	// The password never appears in any room response
	assert.NotContains(t, rec.Body.String(), "secret")
}

// mustGet fetches a room and asserts 200
func (s *Server) mustGet(t *testing.T, name string) *httptest.ResponseRecorder {
	t.Helper()
	rec := doJSON(t, s, http.MethodGet, "/api/rooms/"+name, nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	return rec
}

func TestCreateRoom_Duplicate(t *testing.T) {
	s := newTestServer(t)
	createRoom(t, s, "alpha", "first")

	rec := doJSON(t, s, http.MethodPost, "/api/rooms",
		CreateRoomRequest{Name: "alpha", Password: "second"})
	require.Equal(t, http.StatusConflict, rec.Code)

	resp := decodeBody[errorResponse](t, rec)
	assert.Equal(t, "room already exists", resp.Error)
}

func TestCreateRoom_BadInput(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/rooms", CreateRoomRequest{Name: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/rooms",
		CreateRoomRequest{Name: "alpha", Privacy: "unlisted"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRoom_NotFound(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/rooms/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateRoom_CoalescesAbsentFields(t *testing.T) {
	s := newTestServer(t)
	createRoom(t, s, "alpha", "secret")

	rec := doJSON(t, s, http.MethodPatch, "/api/rooms/alpha", UpdateRoomRequest{
		Title:   ptr("opening night"),
		Payment: &PaymentPayload{Enabled: true, Label: "tips", URL: "https://pay.example/alpha"},
		Relay:   &RelayPayload{Enabled: true, Host: "relay.example", Port: 1935, TLSPort: 1936, Username: "u", Password: "p"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// A later single-field patch leaves everything else alone
	rec = doJSON(t, s, http.MethodPatch, "/api/rooms/alpha",
		UpdateRoomRequest{IsLive: ptr(true)})
	require.Equal(t, http.StatusOK, rec.Code)

	room := decodeBody[RoomResponse](t, rec)
	assert.True(t, room.IsLive)
	assert.Equal(t, "opening night", room.Title)
	assert.Equal(t, PaymentPayload{Enabled: true, Label: "tips", URL: "https://pay.example/alpha"}, room.Payment)
	assert.Equal(t, RelayPayload{Enabled: true, Host: "relay.example", Port: 1935, TLSPort: 1936, Username: "u", Password: "p"}, room.Relay)
	assert.True(t, room.Claimed)
}

func TestUpdateRoom_Validation(t *testing.T) {
	s := newTestServer(t)
	createRoom(t, s, "alpha", "")

	rec := doJSON(t, s, http.MethodPatch, "/api/rooms/alpha",
		UpdateRoomRequest{Privacy: ptr("unlisted")})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPatch, "/api/rooms/alpha",
		UpdateRoomRequest{Viewers: ptr(-1)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPatch, "/api/rooms/ghost",
		UpdateRoomRequest{IsLive: ptr(true)})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteRoom(t *testing.T) {
	s := newTestServer(t)
	createRoom(t, s, "alpha", "")

	rec := doJSON(t, s, http.MethodDelete, "/api/rooms/alpha", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/rooms/alpha", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/api/rooms/alpha", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthRoom(t *testing.T) {
	s := newTestServer(t)
	createRoom(t, s, "alpha", "hunter2")
	createRoom(t, s, "open", "")

	rec := doJSON(t, s, http.MethodPost, "/api/rooms/alpha/auth",
		AuthRoomRequest{Password: "hunter2"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Wrong password, unclaimed room and missing room all fail the same way
	for _, tc := range []struct {
		name     string
		path     string
		password string
	}{
		{"wrong password", "/api/rooms/alpha/auth", "hunter3"},
		{"unclaimed room", "/api/rooms/open/auth", "anything"},
		{"missing room", "/api/rooms/ghost/auth", "hunter2"},
	} {
		rec := doJSON(t, s, http.MethodPost, tc.path, AuthRoomRequest{Password: tc.password})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.name)
		resp := decodeBody[errorResponse](t, rec)
		assert.Equal(t, "unable to authenticate", resp.Error, tc.name)
	}
}

func TestVIPCodeLifecycle(t *testing.T) {
	s := newTestServer(t)
	createRoom(t, s, "alpha", "")

	rec := doJSON(t, s, http.MethodPost, "/api/rooms/alpha/codes",
		AddCodeRequest{Code: "CODE1", MaxUses: 2})
	require.Equal(t, http.StatusCreated, rec.Code)

	issued := decodeBody[CodeResponse](t, rec)
	assert.Equal(t, CodeResponse{Code: "CODE1", RoomName: "alpha", MaxUses: 2, UsesLeft: 2}, issued)

	// Two redemptions succeed, the third is refused
	for i := 0; i < 2; i++ {
		rec := doJSON(t, s, http.MethodPost, "/api/codes/redeem", RedeemRequest{Code: "CODE1"})
		require.Equal(t, http.StatusOK, rec.Code, "redeem %d", i+1)
		resp := decodeBody[RedeemResponse](t, rec)
		assert.Equal(t, "alpha", resp.RoomName)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/codes/redeem", RedeemRequest{Code: "CODE1"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeBody[errorResponse](t, rec)
	assert.Equal(t, "invalid or expired code", resp.Error)

	rec = doJSON(t, s, http.MethodGet, "/api/rooms/alpha/codes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listing := decodeBody[map[string][]CodeInfoResponse](t, rec)
	require.Len(t, listing["codes"], 1)
	assert.Equal(t, CodeInfoResponse{Code: "CODE1", MaxUses: 2, UsesLeft: 0, Used: 2}, listing["codes"][0])
}

func TestAddCode_Generated(t *testing.T) {
	s := newTestServer(t)
	createRoom(t, s, "alpha", "")

	rec := doJSON(t, s, http.MethodPost, "/api/rooms/alpha/codes", AddCodeRequest{MaxUses: 1})
	require.Equal(t, http.StatusCreated, rec.Code)

	issued := decodeBody[CodeResponse](t, rec)
	assert.NotEmpty(t, issued.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/codes/redeem", RedeemRequest{Code: issued.Code})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAddCode_Conflicts(t *testing.T) {
	s := newTestServer(t)
	createRoom(t, s, "alpha", "")
	createRoom(t, s, "beta", "")

	rec := doJSON(t, s, http.MethodPost, "/api/rooms/alpha/codes",
		AddCodeRequest{Code: "DUP", MaxUses: 1})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Codes are unique across rooms
	rec = doJSON(t, s, http.MethodPost, "/api/rooms/beta/codes",
		AddCodeRequest{Code: "DUP", MaxUses: 1})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/rooms/ghost/codes",
		AddCodeRequest{Code: "ORPHAN", MaxUses: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/rooms/alpha/codes",
		AddCodeRequest{Code: "ZERO", MaxUses: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteCode(t *testing.T) {
	s := newTestServer(t)
	createRoom(t, s, "alpha", "")

	rec := doJSON(t, s, http.MethodPost, "/api/rooms/alpha/codes",
		AddCodeRequest{Code: "CODE1", MaxUses: 5})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/api/rooms/alpha/codes/CODE1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/codes/redeem", RedeemRequest{Code: "CODE1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Deleting again is still a success
	rec = doJSON(t, s, http.MethodDelete, "/api/rooms/alpha/codes/CODE1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLookupCode(t *testing.T) {
	s := newTestServer(t)
	createRoom(t, s, "alpha", "")

	rec := doJSON(t, s, http.MethodPost, "/api/rooms/alpha/codes",
		AddCodeRequest{Code: "CODE1", MaxUses: 3})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/codes/CODE1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resolved := decodeBody[CodeResponse](t, rec)
	assert.Equal(t, CodeResponse{Code: "CODE1", RoomName: "alpha", MaxUses: 3, UsesLeft: 3}, resolved)

	rec = doJSON(t, s, http.MethodGet, "/api/codes/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVIPUserLifecycle(t *testing.T) {
	s := newTestServer(t)
	createRoom(t, s, "alpha", "")

	for i := 0; i < 2; i++ {
		rec := doJSON(t, s, http.MethodPost, "/api/rooms/alpha/vips", GrantVIPRequest{User: "mallory"})
		assert.Equal(t, http.StatusNoContent, rec.Code, "grant %d", i+1)
	}

	rec := doJSON(t, s, http.MethodPost, "/api/rooms/alpha/vips", GrantVIPRequest{User: "alice"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/rooms/alpha/vips", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listing := decodeBody[map[string][]string](t, rec)
	assert.Equal(t, []string{"alice", "mallory"}, listing["users"])

	rec = doJSON(t, s, http.MethodDelete, "/api/rooms/alpha/vips/mallory", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/rooms/alpha/vips", nil)
	listing = decodeBody[map[string][]string](t, rec)
	assert.Equal(t, []string{"alice"}, listing["users"])

	// Revoking a non-member is a quiet success
	rec = doJSON(t, s, http.MethodDelete, "/api/rooms/alpha/vips/mallory", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGrantVIP_Errors(t *testing.T) {
	s := newTestServer(t)
	createRoom(t, s, "alpha", "")

	rec := doJSON(t, s, http.MethodPost, "/api/rooms/ghost/vips", GrantVIPRequest{User: "alice"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/rooms/alpha/vips", GrantVIPRequest{User: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteRoom_CascadesOverHTTP(t *testing.T) {
	s := newTestServer(t)
	createRoom(t, s, "alpha", "")

	rec := doJSON(t, s, http.MethodPost, "/api/rooms/alpha/codes",
		AddCodeRequest{Code: "CODE1", MaxUses: 5})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, s, http.MethodPost, "/api/rooms/alpha/vips", GrantVIPRequest{User: "alice"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/api/rooms/alpha", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The code name is free again for a new room
	createRoom(t, s, "alpha", "")
	rec = doJSON(t, s, http.MethodPost, "/api/rooms/alpha/codes",
		AddCodeRequest{Code: "CODE1", MaxUses: 5})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/rooms/alpha/vips", nil)
	listing := decodeBody[map[string][]string](t, rec)
	assert.Empty(t, listing["users"])
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestInvalidBody(t *testing.T) {
	s := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/rooms"},
		{http.MethodPatch, "/api/rooms/alpha"},
		{http.MethodPost, "/api/rooms/alpha/auth"},
		{http.MethodPost, "/api/rooms/alpha/codes"},
		{http.MethodPost, "/api/codes/redeem"},
		{http.MethodPost, "/api/rooms/alpha/vips"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		s.routes().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code,
			fmt.Sprintf("%s %s", tc.method, tc.path))
	}
}

func ptr[T any](v T) *T { return &v }
