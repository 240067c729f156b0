// ABOUTME: HTTP API handlers for the room store, VIP codes and VIP users
// ABOUTME: JSON boundary consumed by the signaling/session layer and admin tooling

package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/stagecast/stagecast/internal/store"
)

// PaymentPayload mirrors a room's payment configuration on the wire
type PaymentPayload struct {
	Enabled bool   `json:"enabled"`
	Label   string `json:"label,omitempty"`
	URL     string `json:"url,omitempty"`
}

// RelayPayload mirrors a room's relay configuration on the wire
type RelayPayload struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	TLSPort  int    `json:"tls_port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// CodeUsagePayload is the per-code quota view inside a room response
type CodeUsagePayload struct {
	MaxUses  int `json:"max_uses"`
	UsesLeft int `json:"uses_left"`
}

// RoomResponse is the JSON shape of a materialized room. The owner password
// never crosses the wire; callers authenticate through the auth endpoint.
type RoomResponse struct {
	Name        string                      `json:"name"`
	Claimed     bool                        `json:"claimed"`
	Privacy     string                      `json:"privacy"`
	IsLive      bool                        `json:"is_live"`
	VIPRequired bool                        `json:"vip_required"`
	Title       string                      `json:"title,omitempty"`
	Viewers     int                         `json:"viewers"`
	CreatedAt   string                      `json:"created_at"`
	Payment     PaymentPayload              `json:"payment"`
	Relay       RelayPayload                `json:"relay"`
	Codes       map[string]CodeUsagePayload `json:"codes"`
	VIPUsers    []string                    `json:"vip_users"`
}

// CreateRoomRequest is the JSON request body for POST /api/rooms
type CreateRoomRequest struct {
	Name     string `json:"name"`
	Password string `json:"password,omitempty"`
	Privacy  string `json:"privacy,omitempty"`
}

// UpdateRoomRequest is the JSON request body for PATCH /api/rooms/{name}.
// Absent fields keep their prior value.
type UpdateRoomRequest struct {
	Password    *string         `json:"password,omitempty"`
	Privacy     *string         `json:"privacy,omitempty"`
	IsLive      *bool           `json:"is_live,omitempty"`
	VIPRequired *bool           `json:"vip_required,omitempty"`
	Title       *string         `json:"title,omitempty"`
	Viewers     *int            `json:"viewers,omitempty"`
	Payment     *PaymentPayload `json:"payment,omitempty"`
	Relay       *RelayPayload   `json:"relay,omitempty"`
}

// AuthRoomRequest is the JSON request body for POST /api/rooms/{name}/auth
type AuthRoomRequest struct {
	Password string `json:"password"`
}

// AddCodeRequest is the JSON request body for POST /api/rooms/{name}/codes.
// When Code is empty the server generates one.
type AddCodeRequest struct {
	Code    string `json:"code,omitempty"`
	MaxUses int    `json:"max_uses"`
}

// CodeResponse is the JSON shape of an issued or resolved VIP code
type CodeResponse struct {
	Code     string `json:"code"`
	RoomName string `json:"room_name"`
	MaxUses  int    `json:"max_uses"`
	UsesLeft int    `json:"uses_left"`
}

// CodeInfoResponse is one row of GET /api/rooms/{name}/codes
type CodeInfoResponse struct {
	Code     string `json:"code"`
	MaxUses  int    `json:"max_uses"`
	UsesLeft int    `json:"uses_left"`
	Used     int    `json:"used"`
}

// RedeemRequest is the JSON request body for POST /api/codes/redeem
type RedeemRequest struct {
	Code string `json:"code"`
}

// RedeemResponse is the JSON response for a successful redemption
type RedeemResponse struct {
	RoomName string `json:"room_name,omitempty"`
}

// GrantVIPRequest is the JSON request body for POST /api/rooms/{name}/vips
type GrantVIPRequest struct {
	User string `json:"user"`
}

// errorResponse is the uniform JSON error body
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeStoreError maps store error kinds to HTTP responses. Unrecognized
// errors are storage failures: logged for the operator, opaque to the caller.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrRoomExists):
		writeError(w, http.StatusConflict, "room already exists")
	case errors.Is(err, store.ErrCodeExists):
		writeError(w, http.StatusConflict, "vip code already exists")
	case errors.Is(err, store.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("storage failure", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func roomResponse(room *store.Room) RoomResponse {
	codes := make(map[string]CodeUsagePayload, len(room.Codes))
	for code, usage := range room.Codes {
		codes[code] = CodeUsagePayload{MaxUses: usage.MaxUses, UsesLeft: usage.UsesLeft}
	}

	users := room.VIPUsers
	if users == nil {
		users = []string{}
	}

	return RoomResponse{
		Name:        room.Name,
		Claimed:     room.OwnerPassword != "",
		Privacy:     string(room.Privacy),
		IsLive:      room.IsLive,
		VIPRequired: room.VIPRequired,
		Title:       room.Title,
		Viewers:     room.Viewers,
		CreatedAt:   room.CreatedAt.UTC().Format(time.RFC3339),
		Payment: PaymentPayload{
			Enabled: room.Payment.Enabled,
			Label:   room.Payment.Label,
			URL:     room.Payment.URL,
		},
		Relay: RelayPayload{
			Enabled:  room.Relay.Enabled,
			Host:     room.Relay.Host,
			Port:     room.Relay.Port,
			TLSPort:  room.Relay.TLSPort,
			Username: room.Relay.Username,
			Password: room.Relay.Password,
		},
		Codes:    codes,
		VIPUsers: users,
	}
}

// handleCreateRoom handles POST /api/rooms requests.
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Privacy != "" && req.Privacy != string(store.PrivacyPublic) && req.Privacy != string(store.PrivacyPrivate) {
		writeError(w, http.StatusBadRequest, "privacy must be public or private")
		return
	}

	room, err := s.store.CreateRoom(r.Context(), store.CreateRoomParams{
		Name:          req.Name,
		OwnerPassword: req.Password,
		Privacy:       store.Privacy(req.Privacy),
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, roomResponse(room))
}

// handleGetRoom handles GET /api/rooms/{name} requests.
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.store.GetRoom(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, roomResponse(room))
}

// handleUpdateRoom handles PATCH /api/rooms/{name} requests. Fields absent
// from the body keep their stored value.
func (s *Server) handleUpdateRoom(w http.ResponseWriter, r *http.Request) {
	var req UpdateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Privacy != nil && *req.Privacy != string(store.PrivacyPublic) && *req.Privacy != string(store.PrivacyPrivate) {
		writeError(w, http.StatusBadRequest, "privacy must be public or private")
		return
	}
	if req.Viewers != nil && *req.Viewers < 0 {
		writeError(w, http.StatusBadRequest, "viewers must be non-negative")
		return
	}

	room, err := s.store.UpdateRoom(r.Context(), r.PathValue("name"), func(room *store.Room) {
		if req.Password != nil {
			room.OwnerPassword = *req.Password
		}
		if req.Privacy != nil {
			room.Privacy = store.Privacy(*req.Privacy)
		}
		if req.IsLive != nil {
			room.IsLive = *req.IsLive
		}
		if req.VIPRequired != nil {
			room.VIPRequired = *req.VIPRequired
		}
		if req.Title != nil {
			room.Title = *req.Title
		}
		if req.Viewers != nil {
			room.Viewers = *req.Viewers
		}
		if req.Payment != nil {
			room.Payment = store.PaymentConfig{
				Enabled: req.Payment.Enabled,
				Label:   req.Payment.Label,
				URL:     req.Payment.URL,
			}
		}
		if req.Relay != nil {
			room.Relay = store.RelayConfig{
				Enabled:  req.Relay.Enabled,
				Host:     req.Relay.Host,
				Port:     req.Relay.Port,
				TLSPort:  req.Relay.TLSPort,
				Username: req.Relay.Username,
				Password: req.Relay.Password,
			}
		}
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, roomResponse(room))
}

// handleDeleteRoom handles DELETE /api/rooms/{name} requests.
func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRoom(r.Context(), r.PathValue("name")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAuthRoom handles POST /api/rooms/{name}/auth requests. Failures are
// reported identically whether the room is missing, unclaimed, or the
// password is wrong.
func (s *Server) handleAuthRoom(w http.ResponseWriter, r *http.Request) {
	var req AuthRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var expected []byte
	room, err := s.store.GetRoom(r.Context(), r.PathValue("name"))
	if err == nil && room.OwnerPassword != "" {
		expected = []byte(room.OwnerPassword)
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.writeStoreError(w, err)
		return
	}

	// Unclaimed rooms never authenticate; without the length check two
	// empty strings would compare equal
	if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(req.Password), expected) != 1 {
		writeError(w, http.StatusUnauthorized, "unable to authenticate")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleAddCode handles POST /api/rooms/{name}/codes requests. A code is
// generated server-side when the issuer doesn't supply one.
func (s *Server) handleAddCode(w http.ResponseWriter, r *http.Request) {
	var req AddCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	code := req.Code
	if code == "" {
		code = uuid.NewString()
	}

	roomName := r.PathValue("name")
	if err := s.store.AddVIPCode(r.Context(), roomName, code, req.MaxUses); err != nil {
		s.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CodeResponse{
		Code:     code,
		RoomName: roomName,
		MaxUses:  req.MaxUses,
		UsesLeft: req.MaxUses,
	})
}

// handleListCodes handles GET /api/rooms/{name}/codes requests.
func (s *Server) handleListCodes(w http.ResponseWriter, r *http.Request) {
	infos, err := s.store.ListVIPCodes(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	resp := make([]CodeInfoResponse, 0, len(infos))
	for _, info := range infos {
		resp = append(resp, CodeInfoResponse{
			Code:     info.Code,
			MaxUses:  info.MaxUses,
			UsesLeft: info.UsesLeft,
			Used:     info.Used,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]CodeInfoResponse{"codes": resp})
}

// handleDeleteCode handles DELETE /api/rooms/{name}/codes/{code} requests.
// Deleting an absent code succeeds.
func (s *Server) handleDeleteCode(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteVIPCode(r.Context(), r.PathValue("name"), r.PathValue("code")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLookupCode handles GET /api/codes/{code} requests, resolving a code
// to its owning room independent of room context.
func (s *Server) handleLookupCode(w http.ResponseWriter, r *http.Request) {
	vc, err := s.store.LookupVIPCode(r.Context(), r.PathValue("code"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CodeResponse{
		Code:     vc.Code,
		RoomName: vc.RoomName,
		MaxUses:  vc.MaxUses,
		UsesLeft: vc.UsesLeft,
	})
}

// handleRedeem handles POST /api/codes/redeem requests. Unknown and
// exhausted codes get the same answer so codes can't be enumerated.
func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ok, err := s.store.RedeemVIPCode(r.Context(), req.Code)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "invalid or expired code")
		return
	}

	// Best effort: the code could be deleted between redeem and lookup
	resp := RedeemResponse{}
	if vc, err := s.store.LookupVIPCode(r.Context(), req.Code); err == nil {
		resp.RoomName = vc.RoomName
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGrantVIP handles POST /api/rooms/{name}/vips requests.
func (s *Server) handleGrantVIP(w http.ResponseWriter, r *http.Request) {
	var req GrantVIPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.store.GrantVIPUser(r.Context(), r.PathValue("name"), req.User); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListVIPs handles GET /api/rooms/{name}/vips requests.
func (s *Server) handleListVIPs(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListVIPUsers(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"users": users})
}

// handleRevokeVIP handles DELETE /api/rooms/{name}/vips/{user} requests.
// Revoking a non-member succeeds.
func (s *Server) handleRevokeVIP(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RevokeVIPUser(r.Context(), r.PathValue("name"), r.PathValue("user")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
