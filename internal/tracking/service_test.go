package tracking

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"telya.io/werkstatt/internal/domain"
	apperrors "telya.io/werkstatt/internal/pkg/errors"
	"telya.io/werkstatt/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

// fakeStore is an in-memory Store that mimics the repository's decision
// semantics closely enough for the state-machine tests.
type fakeStore struct {
	tickets   map[string]*domain.Ticket      // keyed by normalized number
	estimates map[string]*domain.KvaEstimate // keyed by ticket id
	history   map[string][]domain.StatusHistoryEntry
	messages  []*domain.TicketMessage
	notes     []string
	decisions []domain.KvaDecision

	failLookup     error
	failInsertMsg  error
	failAppendNote error
	failDecision   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tickets:   make(map[string]*domain.Ticket),
		estimates: make(map[string]*domain.KvaEstimate),
		history:   make(map[string][]domain.StatusHistoryEntry),
	}
}

func (f *fakeStore) TicketByNumber(_ context.Context, number string) (*domain.Ticket, error) {
	if f.failLookup != nil {
		return nil, f.failLookup
	}
	t, ok := f.tickets[number]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) CurrentEstimate(_ context.Context, ticketID string) (*domain.KvaEstimate, error) {
	return f.estimates[ticketID], nil
}

func (f *fakeStore) StatusHistory(_ context.Context, ticketID string) ([]domain.StatusHistoryEntry, error) {
	return f.history[ticketID], nil
}

func (f *fakeStore) ApplyKvaDecision(_ context.Context, d domain.KvaDecision) error {
	if f.failDecision != nil {
		return f.failDecision
	}

	// Same guards the repository enforces inside its transaction: a versioned
	// decision requires the estimate to still be open, a legacy decision
	// requires the ticket flag to still be unset.
	if d.EstimateID != "" {
		est := f.estimates[d.TicketID]
		if est == nil || est.ID != d.EstimateID || est.Status != domain.EstimateOffen {
			return fmt.Errorf("decide estimate %s: already decided: %w", d.EstimateID, apperrors.ErrConflict)
		}
	} else {
		for _, t := range f.tickets {
			if t.ID == d.TicketID && t.KvaApproved != nil {
				return fmt.Errorf("apply decision to ticket %s: already decided: %w", d.TicketID, apperrors.ErrConflict)
			}
		}
	}
	f.decisions = append(f.decisions, d)

	if est := f.estimates[d.TicketID]; est != nil {
		est.Status = d.NewStatus
		decidedAt := d.DecidedAt
		est.DecidedAt = &decidedAt
	}
	for _, t := range f.tickets {
		if t.ID != d.TicketID {
			continue
		}
		approved := d.Approved
		t.KvaApproved = &approved
		approvedAt := d.DecidedAt
		t.KvaApprovedAt = &approvedAt
		if d.NewTicketState != nil {
			t.Status = *d.NewTicketState
		}
		if d.DisposalOption != nil {
			t.DisposalOption = d.DisposalOption
		}
	}
	return nil
}

func (f *fakeStore) InsertMessage(_ context.Context, m *domain.TicketMessage) error {
	if f.failInsertMsg != nil {
		return f.failInsertMsg
	}
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeStore) AppendStatusNote(_ context.Context, _ string, _ domain.TicketStatus, note string) error {
	if f.failAppendNote != nil {
		return f.failAppendNote
	}
	f.notes = append(f.notes, note)
	return nil
}

// fakeNotifier records fan-out calls.
type fakeNotifier struct {
	decided  int
	messaged int
	previews []string
}

func (f *fakeNotifier) CustomerDecidedKva(_ context.Context, _ *domain.Ticket, _ bool) {
	f.decided++
}

func (f *fakeNotifier) CustomerSentMessage(_ context.Context, _ *domain.Ticket, preview string) {
	f.messaged++
	f.previews = append(f.previews, preview)
}

func seedTicket(store *fakeStore, withEstimate bool) *domain.Ticket {
	ticket := &domain.Ticket{
		ID:            "t-1",
		Number:        "RT-2024-0001",
		Status:        domain.TicketKvaOffen,
		TrackingToken: "secret-token",
		KvaRequired:   true,
	}
	store.tickets[ticket.Number] = ticket
	if withEstimate {
		store.estimates[ticket.ID] = &domain.KvaEstimate{
			ID:        "e-1",
			TicketID:  ticket.ID,
			Version:   1,
			Status:    domain.EstimateOffen,
			IsCurrent: true,
		}
	}
	return ticket
}

func newServiceForTest(store *fakeStore, notifier *fakeNotifier) *Service {
	svc := NewService(store, notifier, nil)
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func appError(t *testing.T, err error) *apperrors.AppError {
	t.Helper()
	appErr, ok := apperrors.IsAppError(err)
	if !ok {
		t.Fatalf("expected AppError, got %v", err)
	}
	return appErr
}

func TestDecideKvaApproveStartsRepair(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	ticket := seedTicket(store, true)
	svc := newServiceForTest(store, notifier)

	res, err := svc.DecideKva(context.Background(), ticket, true, "")
	if err != nil {
		t.Fatalf("DecideKva: %v", err)
	}
	if !res.Approved {
		t.Error("result should report approval")
	}

	if ticket.Status != domain.TicketInReparatur {
		t.Errorf("ticket status = %s, want IN_REPARATUR", ticket.Status)
	}
	if ticket.KvaApproved == nil || !*ticket.KvaApproved {
		t.Error("ticket kva_approved should be true")
	}
	if got := store.estimates[ticket.ID].Status; got != domain.EstimateFreigegeben {
		t.Errorf("estimate status = %s, want FREIGEGEBEN", got)
	}
	if notifier.decided != 1 {
		t.Errorf("decision fan-out calls = %d, want 1", notifier.decided)
	}
}

func TestDecideKvaRejectWithFreeDisposal(t *testing.T) {
	store := newFakeStore()
	ticket := seedTicket(store, true)
	svc := newServiceForTest(store, &fakeNotifier{})

	if _, err := svc.DecideKva(context.Background(), ticket, false, domain.DisposalKostenlosEntsorgen); err != nil {
		t.Fatalf("DecideKva: %v", err)
	}

	if got := store.estimates[ticket.ID].Status; got != domain.EstimateEntsorgen {
		t.Errorf("estimate status = %s, want ENTSORGEN", got)
	}
	if ticket.Status == domain.TicketInReparatur {
		t.Error("rejection must not start the repair")
	}
}

func TestDecideKvaRejectDefaultsToAbgelehnt(t *testing.T) {
	for _, disposal := range []domain.DisposalOption{"", domain.DisposalZuruecksenden} {
		store := newFakeStore()
		ticket := seedTicket(store, true)
		svc := newServiceForTest(store, &fakeNotifier{})

		if _, err := svc.DecideKva(context.Background(), ticket, false, disposal); err != nil {
			t.Fatalf("DecideKva(disposal=%q): %v", disposal, err)
		}
		if got := store.estimates[ticket.ID].Status; got != domain.EstimateAbgelehnt {
			t.Errorf("disposal=%q: estimate status = %s, want ABGELEHNT", disposal, got)
		}
	}
}

func TestDecideKvaIdempotentAtMostOnce(t *testing.T) {
	store := newFakeStore()
	ticket := seedTicket(store, true)
	svc := newServiceForTest(store, &fakeNotifier{})

	if _, err := svc.DecideKva(context.Background(), ticket, true, ""); err != nil {
		t.Fatalf("first decision: %v", err)
	}

	// Any replay, with identical or different parameters, is rejected and
	// produces no further mutation.
	for _, approved := range []bool{true, false} {
		_, err := svc.DecideKva(context.Background(), ticket, approved, "")
		appErr := appError(t, err)
		if appErr.Code != apperrors.CodeKvaAlreadyDone {
			t.Errorf("replay(approved=%v) code = %s, want KVA_ALREADY_DECIDED", approved, appErr.Code)
		}
	}
	if len(store.decisions) != 1 {
		t.Errorf("decision writes = %d, want exactly 1", len(store.decisions))
	}
}

func TestDecideKvaSecondVersionAfterRejection(t *testing.T) {
	store := newFakeStore()
	ticket := seedTicket(store, true)
	svc := newServiceForTest(store, &fakeNotifier{})

	// Customer rejects version 1; the ticket-level flag is now false.
	if _, err := svc.DecideKva(context.Background(), ticket, false, ""); err != nil {
		t.Fatalf("reject v1: %v", err)
	}

	// Staff issues a revised estimate. The old decision stays on the ticket,
	// only the estimate is fresh.
	store.estimates[ticket.ID] = &domain.KvaEstimate{
		ID:        "e-2",
		TicketID:  ticket.ID,
		Version:   2,
		Status:    domain.EstimateOffen,
		IsCurrent: true,
	}
	ticket.Status = domain.TicketKvaOffen

	res, err := svc.DecideKva(context.Background(), ticket, true, "")
	if err != nil {
		t.Fatalf("decide v2: %v", err)
	}
	if !res.Approved {
		t.Error("result should report approval")
	}
	if ticket.Status != domain.TicketInReparatur {
		t.Errorf("ticket status = %s, want IN_REPARATUR", ticket.Status)
	}
	if ticket.KvaApproved == nil || !*ticket.KvaApproved {
		t.Error("ticket flag should mirror the latest decision")
	}
	if got := store.estimates[ticket.ID].Status; got != domain.EstimateFreigegeben {
		t.Errorf("v2 estimate status = %s, want FREIGEGEBEN", got)
	}
	if len(store.decisions) != 2 {
		t.Errorf("decision writes = %d, want 2", len(store.decisions))
	}
}

func TestDecideKvaLostRaceIsClientError(t *testing.T) {
	store := newFakeStore()
	ticket := seedTicket(store, true)
	notifier := &fakeNotifier{}
	svc := newServiceForTest(store, notifier)

	// A concurrent request decided the estimate between this request's
	// precondition read and its write.
	store.failDecision = fmt.Errorf("decide estimate e-1: already decided: %w", apperrors.ErrConflict)

	_, err := svc.DecideKva(context.Background(), ticket, true, "")
	appErr := appError(t, err)
	if appErr.Code != apperrors.CodeKvaAlreadyDone {
		t.Errorf("code = %s, want KVA_ALREADY_DECIDED", appErr.Code)
	}
	if appErr.HTTPStatus != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", appErr.HTTPStatus)
	}
	if notifier.decided != 0 {
		t.Error("lost race must not fan out")
	}
}

func TestDecideKvaNotRequired(t *testing.T) {
	store := newFakeStore()
	ticket := seedTicket(store, false)
	ticket.KvaRequired = false
	svc := newServiceForTest(store, &fakeNotifier{})

	_, err := svc.DecideKva(context.Background(), ticket, true, "")
	if got := appError(t, err).Code; got != apperrors.CodeKvaNotRequired {
		t.Errorf("code = %s, want KVA_NOT_REQUIRED", got)
	}
	if len(store.decisions) != 0 {
		t.Error("precondition failure must not write")
	}
}

func TestDecideKvaLegacyTicketLocked(t *testing.T) {
	store := newFakeStore()
	ticket := seedTicket(store, false)
	approved := true
	ticket.KvaApproved = &approved // decided before versioned estimates existed

	svc := newServiceForTest(store, &fakeNotifier{})
	_, err := svc.DecideKva(context.Background(), ticket, false, "")
	if got := appError(t, err).Code; got != apperrors.CodeKvaLegacyLocked {
		t.Errorf("code = %s, want KVA_DECISION_LOCKED", got)
	}
}

func TestDecideKvaInvalidDisposal(t *testing.T) {
	store := newFakeStore()
	ticket := seedTicket(store, true)
	svc := newServiceForTest(store, &fakeNotifier{})

	_, err := svc.DecideKva(context.Background(), ticket, false, domain.DisposalOption("WEGWERFEN"))
	if got := appError(t, err).HTTPStatus; got != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", got)
	}
}

func TestDecideKvaStoreFailureSurfaces(t *testing.T) {
	store := newFakeStore()
	ticket := seedTicket(store, true)
	store.failDecision = errors.New("connection reset")
	notifier := &fakeNotifier{}
	svc := newServiceForTest(store, notifier)

	_, err := svc.DecideKva(context.Background(), ticket, true, "")
	appErr := appError(t, err)
	if appErr.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", appErr.HTTPStatus)
	}
	if notifier.decided != 0 {
		t.Error("failed decision must not fan out")
	}
}

func TestSendMessageRejectsEmpty(t *testing.T) {
	store := newFakeStore()
	ticket := seedTicket(store, false)
	notifier := &fakeNotifier{}
	svc := newServiceForTest(store, notifier)

	for _, msg := range []string{"", "   ", "\n\t"} {
		err := svc.SendMessage(context.Background(), ticket, msg)
		if got := appError(t, err).Code; got != apperrors.CodeMessageEmpty {
			t.Errorf("message %q: code = %s, want MESSAGE_EMPTY", msg, got)
		}
	}
	if len(store.messages) != 0 || notifier.messaged != 0 {
		t.Error("rejected message must produce no write and no notification")
	}
}

func TestSendMessageTruncatesAt1000(t *testing.T) {
	store := newFakeStore()
	ticket := seedTicket(store, false)
	svc := newServiceForTest(store, &fakeNotifier{})

	long := strings.Repeat("ä", 2000)
	if err := svc.SendMessage(context.Background(), ticket, long); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if len(store.messages) != 1 {
		t.Fatalf("stored messages = %d, want 1", len(store.messages))
	}
	if got := len([]rune(store.messages[0].Body)); got != 1000 {
		t.Errorf("stored message length = %d characters, want exactly 1000", got)
	}
}

func TestSendMessagePreview(t *testing.T) {
	store := newFakeStore()
	ticket := seedTicket(store, false)
	notifier := &fakeNotifier{}
	svc := newServiceForTest(store, notifier)

	if err := svc.SendMessage(context.Background(), ticket, strings.Repeat("x", 300)); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(notifier.previews) != 1 {
		t.Fatalf("previews = %d, want 1", len(notifier.previews))
	}
	preview := notifier.previews[0]
	if !strings.HasSuffix(preview, "...") {
		t.Errorf("long message preview should end with ellipsis, got %q", preview)
	}
	if got := len([]rune(strings.TrimSuffix(preview, "..."))); got != 100 {
		t.Errorf("preview length = %d, want 100", got)
	}

	// Short messages are passed through unchanged.
	if err := svc.SendMessage(context.Background(), ticket, "kurz"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if notifier.previews[1] != "kurz" {
		t.Errorf("short preview = %q, want %q", notifier.previews[1], "kurz")
	}
}

func TestSendMessageFallsBackToStatusHistory(t *testing.T) {
	store := newFakeStore()
	ticket := seedTicket(store, false)
	store.failInsertMsg = errors.New("table locked")
	notifier := &fakeNotifier{}
	svc := newServiceForTest(store, notifier)

	if err := svc.SendMessage(context.Background(), ticket, "Bitte um Rückruf"); err != nil {
		t.Fatalf("SendMessage should succeed via fallback: %v", err)
	}
	if len(store.notes) != 1 {
		t.Fatalf("fallback notes = %d, want 1", len(store.notes))
	}
	if !strings.HasPrefix(store.notes[0], domain.CustomerNotePrefix) {
		t.Errorf("fallback note %q should carry the customer prefix", store.notes[0])
	}
	if notifier.messaged != 1 {
		t.Error("fallback path must still notify the staff")
	}
}

func TestSendMessageBothWritesFailing(t *testing.T) {
	store := newFakeStore()
	ticket := seedTicket(store, false)
	store.failInsertMsg = errors.New("table locked")
	store.failAppendNote = errors.New("also locked")
	svc := newServiceForTest(store, &fakeNotifier{})

	err := svc.SendMessage(context.Background(), ticket, "hallo")
	if got := appError(t, err).HTTPStatus; got != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", got)
	}
}

func TestLookupBuildsMaskedView(t *testing.T) {
	store := newFakeStore()
	ticket := seedTicket(store, true)
	ticket.IsB2B = true
	store.history[ticket.ID] = []domain.StatusHistoryEntry{
		{TicketID: ticket.ID, NewStatus: domain.TicketAngenommen},
		{TicketID: ticket.ID, NewStatus: domain.TicketInDiagnose, Note: "interne Notiz"},
	}
	svc := newServiceForTest(store, &fakeNotifier{})

	view, err := svc.Lookup(context.Background(), ticket)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if view.TicketNumber != ticket.Number {
		t.Errorf("ticket number = %s", view.TicketNumber)
	}
	if view.Kva == nil {
		t.Error("current estimate should be embedded")
	}
	if len(view.StatusHistory) != 1 {
		t.Errorf("visible history = %d, want 1", len(view.StatusHistory))
	}
}
