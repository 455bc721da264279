package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telya.io/werkstatt/internal/api/middleware"
	"telya.io/werkstatt/internal/domain"
	apperrors "telya.io/werkstatt/internal/pkg/errors"
	"telya.io/werkstatt/internal/pkg/logger"
	"telya.io/werkstatt/internal/tracking"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

// fakeStore implements both the staff Store and the tracking store against
// in-memory maps.
type fakeStore struct {
	tickets   map[string]*domain.Ticket
	estimates map[string]*domain.KvaEstimate
	history   map[string][]domain.StatusHistoryEntry
	messages  []*domain.TicketMessage
	staff     map[string]*domain.StaffUser
	decisions int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tickets:   make(map[string]*domain.Ticket),
		estimates: make(map[string]*domain.KvaEstimate),
		history:   make(map[string][]domain.StatusHistoryEntry),
		staff:     make(map[string]*domain.StaffUser),
	}
}

func (f *fakeStore) TicketByNumber(_ context.Context, number string) (*domain.Ticket, error) {
	if t, ok := f.tickets[number]; ok {
		return t, nil
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeStore) TicketByID(_ context.Context, id string) (*domain.Ticket, error) {
	for _, t := range f.tickets {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeStore) ListTickets(_ context.Context, _ *domain.TicketStatus, _, _ int) ([]*domain.Ticket, error) {
	var out []*domain.Ticket
	for _, t := range f.tickets {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStore) CreateTicket(_ context.Context, t *domain.Ticket) error {
	f.tickets[t.Number] = t
	return nil
}

func (f *fakeStore) UpdateTicketStatus(_ context.Context, ticketID string, newStatus domain.TicketStatus, note string) error {
	t, err := f.TicketByID(context.Background(), ticketID)
	if err != nil {
		return err
	}
	f.history[ticketID] = append(f.history[ticketID], domain.StatusHistoryEntry{
		TicketID: ticketID, OldStatus: t.Status, NewStatus: newStatus, Note: note,
	})
	t.Status = newStatus
	return nil
}

func (f *fakeStore) CurrentEstimate(_ context.Context, ticketID string) (*domain.KvaEstimate, error) {
	return f.estimates[ticketID], nil
}

func (f *fakeStore) CreateEstimate(_ context.Context, est *domain.KvaEstimate) error {
	est.Version = 1
	est.Status = domain.EstimateOffen
	est.IsCurrent = true
	f.estimates[est.TicketID] = est
	return nil
}

func (f *fakeStore) ReleaseEndcustomerPrice(_ context.Context, estimateID string, price decimal.Decimal) error {
	for _, est := range f.estimates {
		if est.ID == estimateID {
			p := price
			est.EndcustomerPrice = &p
			est.EndcustomerPriceReleased = true
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (f *fakeStore) StatusHistory(_ context.Context, ticketID string) ([]domain.StatusHistoryEntry, error) {
	return f.history[ticketID], nil
}

func (f *fakeStore) MessagesByTicket(_ context.Context, ticketID string) ([]domain.TicketMessage, error) {
	var out []domain.TicketMessage
	for _, m := range f.messages {
		if m.TicketID == ticketID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeStore) ApplyKvaDecision(_ context.Context, d domain.KvaDecision) error {
	f.decisions++
	if est := f.estimates[d.TicketID]; est != nil {
		est.Status = d.NewStatus
		decidedAt := d.DecidedAt
		est.DecidedAt = &decidedAt
	}
	for _, t := range f.tickets {
		if t.ID == d.TicketID {
			approved := d.Approved
			t.KvaApproved = &approved
			if d.NewTicketState != nil {
				t.Status = *d.NewTicketState
			}
		}
	}
	return nil
}

func (f *fakeStore) InsertMessage(_ context.Context, m *domain.TicketMessage) error {
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeStore) AppendStatusNote(_ context.Context, ticketID string, status domain.TicketStatus, note string) error {
	f.history[ticketID] = append(f.history[ticketID], domain.StatusHistoryEntry{
		TicketID: ticketID, OldStatus: status, NewStatus: status, Note: note,
	})
	return nil
}

func (f *fakeStore) StaffByUsername(_ context.Context, username string) (*domain.StaffUser, error) {
	if u, ok := f.staff[username]; ok {
		return u, nil
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeStore) StaffByID(_ context.Context, id string) (*domain.StaffUser, error) {
	for _, u := range f.staff {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeStore) NotificationsByRecipient(_ context.Context, _ string, _ bool, _ int) ([]domain.Notification, error) {
	return nil, nil
}

func (f *fakeStore) UnreadNotificationCount(_ context.Context, _ string) (int, error) {
	return 0, nil
}

func (f *fakeStore) MarkNotificationRead(_ context.Context, _, _ string) (bool, error) {
	return true, nil
}

func (f *fakeStore) MarkAllNotificationsRead(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

var _ Store = (*fakeStore)(nil)
var _ tracking.Store = (*fakeStore)(nil)

func newTrackingServer(store *fakeStore, maxRequests int) *gin.Engine {
	srv := NewServer(ServerDeps{
		Store:    store,
		JWTCfg:   middleware.JWTConfig{SigningKey: []byte("test-signing-key-1234567890123456"), Issuer: "werkstatt", ExpiresIn: time.Hour},
		Verifier: tracking.NewVerifier(store),
		Tracker:  tracking.NewService(store, nil, nil),
		Limiter:  tracking.NewLimiter(time.Minute, maxRequests),
	})

	r := gin.New()
	r.POST("/api/track", srv.Track)
	r.OPTIONS("/api/track", srv.TrackPreflight)
	return r
}

func seedTrackedTicket(store *fakeStore, withEstimate bool) *domain.Ticket {
	price := decimal.NewFromInt(199)
	ticket := &domain.Ticket{
		ID:             "t-1",
		Number:         "RT-2024-0001",
		Status:         domain.TicketKvaOffen,
		TrackingToken:  "token-abc",
		KvaRequired:    true,
		EstimatedPrice: &price,
	}
	store.tickets[ticket.Number] = ticket
	if withEstimate {
		repair := decimal.NewFromInt(120)
		store.estimates[ticket.ID] = &domain.KvaEstimate{
			ID: "e-1", TicketID: ticket.ID, Version: 1,
			Status: domain.EstimateOffen, IsCurrent: true,
			RepairCost: &repair,
		}
	}
	return ticket
}

func postTrack(r *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/track", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestTrackLookupSuccess(t *testing.T) {
	store := newFakeStore()
	seedTrackedTicket(store, true)
	r := newTrackingServer(store, 10)

	w := postTrack(r, `{"action":"lookup","ticket_number":"rt-2024-0001","tracking_token":"token-abc"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var view domain.TrackingView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "RT-2024-0001", view.TicketNumber)
	require.NotNil(t, view.EstimatedPrice, "direct customer sees the internal price")
	require.NotNil(t, view.Kva)
	assert.NotNil(t, view.Kva.RepairCost)
	assert.NotContains(t, w.Body.String(), "tracking_token", "token must never appear in the response")
}

func TestTrackLookupMasksB2B(t *testing.T) {
	store := newFakeStore()
	ticket := seedTrackedTicket(store, true)
	ticket.IsB2B = true
	r := newTrackingServer(store, 10)

	w := postTrack(r, `{"action":"lookup","ticket_number":"RT-2024-0001","tracking_token":"token-abc"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var view domain.TrackingView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Nil(t, view.EstimatedPrice, "internal price must be masked on reseller tickets")
	require.NotNil(t, view.Kva)
	assert.Nil(t, view.Kva.RepairCost)
	assert.Nil(t, view.Kva.EndcustomerPrice, "unreleased endcustomer price must be masked")
}

func TestTrackUnknownTicketAndWrongTokenIndistinguishable(t *testing.T) {
	store := newFakeStore()
	seedTrackedTicket(store, false)
	r := newTrackingServer(store, 10)

	unknown := postTrack(r, `{"action":"lookup","ticket_number":"RT-9999-9999","tracking_token":"token-abc"}`)
	wrong := postTrack(r, `{"action":"lookup","ticket_number":"RT-2024-0001","tracking_token":"nope"}`)

	assert.Equal(t, http.StatusNotFound, unknown.Code)
	assert.Equal(t, http.StatusForbidden, wrong.Code)

	var unknownBody, wrongBody map[string]string
	require.NoError(t, json.Unmarshal(unknown.Body.Bytes(), &unknownBody))
	require.NoError(t, json.Unmarshal(wrong.Body.Bytes(), &wrongBody))
	assert.Equal(t, unknownBody["error"], wrongBody["error"],
		"both failures must carry the identical generic message")
}

func TestTrackUnknownAction(t *testing.T) {
	store := newFakeStore()
	seedTrackedTicket(store, false)
	r := newTrackingServer(store, 10)

	w := postTrack(r, `{"action":"drop_tables","ticket_number":"RT-2024-0001","tracking_token":"token-abc"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "error")
}

func TestTrackMalformedBody(t *testing.T) {
	store := newFakeStore()
	r := newTrackingServer(store, 10)

	w := postTrack(r, `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrackKvaDecisionAndReplay(t *testing.T) {
	store := newFakeStore()
	seedTrackedTicket(store, true)
	r := newTrackingServer(store, 20)

	body := `{"action":"kva_decision","ticket_number":"RT-2024-0001","tracking_token":"token-abc","kva_approved":true}`
	w := postTrack(r, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"success":true`)
	assert.Contains(t, w.Body.String(), `"kva_approved":true`)

	// Replay is rejected, not reapplied.
	w = postTrack(r, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 1, store.decisions, "decision must commit exactly once")
}

func TestTrackKvaDecisionRequiresApprovedFlag(t *testing.T) {
	store := newFakeStore()
	seedTrackedTicket(store, true)
	r := newTrackingServer(store, 10)

	w := postTrack(r, `{"action":"kva_decision","ticket_number":"RT-2024-0001","tracking_token":"token-abc"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, store.decisions)
}

func TestTrackSendMessage(t *testing.T) {
	store := newFakeStore()
	seedTrackedTicket(store, false)
	r := newTrackingServer(store, 10)

	w := postTrack(r, `{"action":"send_message","ticket_number":"RT-2024-0001","tracking_token":"token-abc","message":"  Wann fertig?  "}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, store.messages, 1)
	assert.Equal(t, "Wann fertig?", store.messages[0].Body)

	w = postTrack(r, `{"action":"send_message","ticket_number":"RT-2024-0001","tracking_token":"token-abc","message":"   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, store.messages, 1, "rejected message must not be stored")
}

func TestTrackRateLimit(t *testing.T) {
	store := newFakeStore()
	seedTrackedTicket(store, false)
	r := newTrackingServer(store, 3)

	body := `{"action":"lookup","ticket_number":"RT-2024-0001","tracking_token":"token-abc"}`
	for i := 0; i < 3; i++ {
		w := postTrack(r, body)
		require.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
	}

	w := postTrack(r, body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "error")
}

func TestTrackPreflight(t *testing.T) {
	store := newFakeStore()
	r := newTrackingServer(store, 10)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/track", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestTrackResponsesNeverLeakSerialOrIMEI(t *testing.T) {
	store := newFakeStore()
	ticket := seedTrackedTicket(store, false)
	ticket.Device = domain.Device{ID: "d-1", Brand: "Apple", Model: "iPhone 12", Serial: "SN-SECRET", IMEI: "353915100000000"}
	r := newTrackingServer(store, 10)

	w := postTrack(r, `{"action":"lookup","ticket_number":"RT-2024-0001","tracking_token":"token-abc"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "SN-SECRET")
	assert.NotContains(t, w.Body.String(), "353915100000000")
	assert.Contains(t, w.Body.String(), "iPhone 12")
}

func TestTrackRateLimitAppliesBeforeVerification(t *testing.T) {
	store := newFakeStore()
	r := newTrackingServer(store, 2)

	// Invalid credentials still consume the budget; the limiter runs first.
	for i := 0; i < 2; i++ {
		postTrack(r, fmt.Sprintf(`{"action":"lookup","ticket_number":"X-%d","tracking_token":"t"}`, i))
	}
	w := postTrack(r, `{"action":"lookup","ticket_number":"X-3","tracking_token":"t"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
