package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/request-service/internal/domain"
	"github.com/spec-kit/request-service/internal/events"
	"github.com/spec-kit/request-service/internal/observability"
	"github.com/spec-kit/request-service/internal/repository"
	apperrors "github.com/spec-kit/request-service/pkg/util"
)

type requestFixture struct {
	svc        *RequestService
	store      *memStore
	repo       *fakeRequestRepo
	dispatcher *capturingDispatcher
	now        time.Time
}

func newRequestFixture(t *testing.T) *requestFixture {
	t.Helper()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	store := newMemStore(func() time.Time { return now })
	repo := &fakeRequestRepo{store: store}
	dispatcher := &capturingDispatcher{}
	svc := NewRequestService(RequestDependencies{
		RequestRepo: repo,
		HistoryRepo: &fakeHistoryRepo{store: store},
		Dispatcher:  dispatcher,
		Metrics:     observability.NewMetrics(),
		Logger:      zap.NewNop(),
		Clock:       func() time.Time { return now },
	})
	return &requestFixture{svc: svc, store: store, repo: repo, dispatcher: dispatcher, now: now}
}

func (fx *requestFixture) mustCreate(t *testing.T, creator *domain.User) *domain.ServiceRequest {
	t.Helper()
	req, err := fx.svc.CreateRequest(context.Background(), creator, RequestCreateInput{
		Title:    "Quarterly compliance review",
		Category: domain.CategoryCompliance,
		Priority: domain.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return req
}

// mustTransition walks the request to the wanted status through the only legal
// path, using role-appropriate actors.
func (fx *requestFixture) mustTransition(t *testing.T, req *domain.ServiceRequest, creator *domain.User, target domain.RequestStatus) {
	t.Helper()
	path := map[domain.RequestStatus][]struct {
		to    domain.RequestStatus
		actor *domain.User
	}{
		domain.RequestStatusSubmitted: {{domain.RequestStatusSubmitted, creator}},
		domain.RequestStatusInReview: {
			{domain.RequestStatusSubmitted, creator},
			{domain.RequestStatusInReview, staffActor("staff-1")},
		},
		domain.RequestStatusApproved: {
			{domain.RequestStatusSubmitted, creator},
			{domain.RequestStatusInReview, staffActor("staff-1")},
			{domain.RequestStatusApproved, adminActor("admin-1")},
		},
		domain.RequestStatusRejected: {
			{domain.RequestStatusSubmitted, creator},
			{domain.RequestStatusInReview, staffActor("staff-1")},
			{domain.RequestStatusRejected, adminActor("admin-1")},
		},
		domain.RequestStatusCompleted: {
			{domain.RequestStatusSubmitted, creator},
			{domain.RequestStatusInReview, staffActor("staff-1")},
			{domain.RequestStatusApproved, adminActor("admin-1")},
			{domain.RequestStatusCompleted, adminActor("admin-1")},
		},
	}
	for _, step := range path[target] {
		if _, err := fx.svc.Transition(context.Background(), step.actor, req.ID, step.to, ""); err != nil {
			t.Fatalf("transition to %s: %v", step.to, err)
		}
	}
}

func TestCreateRequestStartsAsDraftWithAuditEntry(t *testing.T) {
	fx := newRequestFixture(t)
	creator := userActor("user-1")

	req := fx.mustCreate(t, creator)

	if req.Status != domain.RequestStatusDraft {
		t.Fatalf("status = %s, want DRAFT", req.Status)
	}
	if !strings.HasPrefix(req.ExternalKey, "REQ-") {
		t.Fatalf("external key = %q", req.ExternalKey)
	}
	entries := fx.store.entriesFor(req.ID)
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 history entry, got %d", len(entries))
	}
	if entries[0].Action != domain.ActionCreated {
		t.Fatalf("entry action = %s, want CREATED", entries[0].Action)
	}
	if entries[0].ActorID == nil || *entries[0].ActorID != creator.ID {
		t.Fatalf("entry actor = %v, want %s", entries[0].ActorID, creator.ID)
	}
}

func TestCreateRequestRejectsUnknownEnumValues(t *testing.T) {
	fx := newRequestFixture(t)

	_, err := fx.svc.CreateRequest(context.Background(), userActor("user-1"), RequestCreateInput{
		Title:    "x",
		Category: domain.RequestCategory("GOSSIP"),
	})
	if !apperrors.IsCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected VALIDATION_FAILED for category, got %v", err)
	}

	_, err = fx.svc.CreateRequest(context.Background(), userActor("user-1"), RequestCreateInput{
		Title:    "x",
		Priority: domain.RequestPriority("ASAP"),
	})
	if !apperrors.IsCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected VALIDATION_FAILED for priority, got %v", err)
	}
}

func TestFullLifecycleHappyPath(t *testing.T) {
	fx := newRequestFixture(t)
	creator := userActor("user-1")
	req := fx.mustCreate(t, creator)

	fx.mustTransition(t, req, creator, domain.RequestStatusCompleted)

	stored, err := fx.repo.GetByID(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.RequestStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", stored.Status)
	}
	if stored.ClosedAt == nil {
		t.Fatal("terminal request must carry ClosedAt")
	}

	// CREATED plus four STATUS_CHANGED entries, one per hop.
	entries := fx.store.entriesFor(req.ID)
	if len(entries) != 5 {
		t.Fatalf("expected 5 history entries, got %d", len(entries))
	}
	wantHops := [][2]domain.RequestStatus{
		{domain.RequestStatusDraft, domain.RequestStatusSubmitted},
		{domain.RequestStatusSubmitted, domain.RequestStatusInReview},
		{domain.RequestStatusInReview, domain.RequestStatusApproved},
		{domain.RequestStatusApproved, domain.RequestStatusCompleted},
	}
	for i, hop := range wantHops {
		entry := entries[i+1]
		if entry.Action != domain.ActionStatusChanged || entry.OldStatus != hop[0] || entry.NewStatus != hop[1] {
			t.Fatalf("entry %d = %s %s->%s, want STATUS_CHANGED %s->%s",
				i+1, entry.Action, entry.OldStatus, entry.NewStatus, hop[0], hop[1])
		}
	}

	published := fx.dispatcher.published()
	if len(published) != 4 {
		t.Fatalf("expected 1 event per transition, got %d", len(published))
	}
	if published[0].Type != events.EventRequestSubmitted {
		t.Fatalf("first event = %s, want request_submitted", published[0].Type)
	}
	for _, event := range published[1:] {
		if event.Type != events.EventRequestStatusChanged {
			t.Fatalf("event = %s, want request_status_changed", event.Type)
		}
	}
}

func TestRejectionIsTerminal(t *testing.T) {
	fx := newRequestFixture(t)
	creator := userActor("user-1")
	req := fx.mustCreate(t, creator)
	fx.mustTransition(t, req, creator, domain.RequestStatusRejected)

	stored, _ := fx.repo.GetByID(context.Background(), req.ID)
	if stored.ClosedAt == nil {
		t.Fatal("rejected request must carry ClosedAt")
	}

	for _, target := range []domain.RequestStatus{
		domain.RequestStatusSubmitted,
		domain.RequestStatusInReview,
		domain.RequestStatusApproved,
		domain.RequestStatusCompleted,
	} {
		_, err := fx.svc.Transition(context.Background(), adminActor("admin-1"), req.ID, target, "")
		if !apperrors.IsCode(err, apperrors.CodeInvalidTransition) {
			t.Fatalf("transition REJECTED->%s = %v, want INVALID_TRANSITION", target, err)
		}
	}
}

func TestInvalidTransitionPairsLeaveStateUntouched(t *testing.T) {
	all := []domain.RequestStatus{
		domain.RequestStatusDraft,
		domain.RequestStatusSubmitted,
		domain.RequestStatusInReview,
		domain.RequestStatusApproved,
		domain.RequestStatusRejected,
		domain.RequestStatusCompleted,
	}

	creator := userActor("user-1")
	// An actor that holds the capability for the target, so the only thing
	// that can fail is reachability.
	actorFor := func(to domain.RequestStatus) *domain.User {
		switch to {
		case domain.RequestStatusSubmitted:
			return creator
		case domain.RequestStatusInReview:
			return staffActor("staff-1")
		default:
			return adminActor("admin-1")
		}
	}

	for _, from := range all {
		for _, to := range all {
			if isValidTransition(from, to) || to == domain.RequestStatusDraft {
				continue
			}
			t.Run(string(from)+"_to_"+string(to), func(t *testing.T) {
				fx := newRequestFixture(t)
				req := fx.mustCreate(t, creator)
				fx.mustTransition(t, req, creator, from)
				before := len(fx.store.entriesFor(req.ID))

				_, err := fx.svc.Transition(context.Background(), actorFor(to), req.ID, to, "")
				if !apperrors.IsCode(err, apperrors.CodeInvalidTransition) {
					t.Fatalf("got %v, want INVALID_TRANSITION", err)
				}

				stored, _ := fx.repo.GetByID(context.Background(), req.ID)
				if stored.Status != from {
					t.Fatalf("status mutated to %s on failed transition", stored.Status)
				}
				if got := len(fx.store.entriesFor(req.ID)); got != before {
					t.Fatalf("history grew from %d to %d on failed transition", before, got)
				}
			})
		}
	}
}

func TestDraftIsNeverATransitionTarget(t *testing.T) {
	fx := newRequestFixture(t)
	creator := userActor("user-1")
	req := fx.mustCreate(t, creator)
	fx.mustTransition(t, req, creator, domain.RequestStatusSubmitted)

	_, err := fx.svc.Transition(context.Background(), adminActor("admin-1"), req.ID, domain.RequestStatusDraft, "")
	if !apperrors.IsCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("got %v, want INVALID_TRANSITION", err)
	}
}

func TestCreatorSubmitOutsideDraftIsInvalidTransition(t *testing.T) {
	fx := newRequestFixture(t)
	creator := userActor("user-1")
	req := fx.mustCreate(t, creator)
	fx.mustTransition(t, req, creator, domain.RequestStatusSubmitted)

	_, err := fx.svc.Transition(context.Background(), creator, req.ID, domain.RequestStatusSubmitted, "")
	if !apperrors.IsCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("got %v, want INVALID_TRANSITION", err)
	}
}

func TestNonCreatorCannotSubmit(t *testing.T) {
	fx := newRequestFixture(t)
	req := fx.mustCreate(t, userActor("user-1"))

	_, err := fx.svc.Transition(context.Background(), userActor("user-2"), req.ID, domain.RequestStatusSubmitted, "")
	if !apperrors.IsCode(err, apperrors.CodeForbidden) {
		t.Fatalf("got %v, want FORBIDDEN", err)
	}
}

func TestStaffApproveIsForbiddenRegardlessOfStatus(t *testing.T) {
	statuses := []domain.RequestStatus{
		domain.RequestStatusDraft,
		domain.RequestStatusSubmitted,
		domain.RequestStatusInReview,
		domain.RequestStatusApproved,
		domain.RequestStatusRejected,
		domain.RequestStatusCompleted,
	}
	for _, status := range statuses {
		t.Run(string(status), func(t *testing.T) {
			fx := newRequestFixture(t)
			creator := userActor("user-1")
			req := fx.mustCreate(t, creator)
			if status != domain.RequestStatusDraft {
				fx.mustTransition(t, req, creator, status)
			}

			// Capability is checked before reachability: staff can never
			// approve, so the answer is FORBIDDEN even where APPROVED would
			// otherwise be reachable or unreachable.
			_, err := fx.svc.Transition(context.Background(), staffActor("staff-1"), req.ID, domain.RequestStatusApproved, "")
			if !apperrors.IsCode(err, apperrors.CodeForbidden) {
				t.Fatalf("at %s got %v, want FORBIDDEN", status, err)
			}
		})
	}
}

func TestConcurrentStatusChangeIsConflict(t *testing.T) {
	fx := newRequestFixture(t)
	creator := userActor("user-1")
	req := fx.mustCreate(t, creator)

	fx.repo.forceStatusConflict = true
	_, err := fx.svc.Transition(context.Background(), creator, req.ID, domain.RequestStatusSubmitted, "")
	if !apperrors.IsCode(err, apperrors.CodeConflict) {
		t.Fatalf("got %v, want CONFLICT", err)
	}
	if len(fx.dispatcher.published()) != 0 {
		t.Fatal("no event may be published for a lost race")
	}
}

func TestEditRestrictedToCreatorOnDraft(t *testing.T) {
	fx := newRequestFixture(t)
	creator := userActor("user-1")
	req := fx.mustCreate(t, creator)

	title := "Updated title"
	if _, err := fx.svc.EditRequest(context.Background(), creator, req.ID, RequestEditInput{Title: &title}); err != nil {
		t.Fatalf("creator edit on draft: %v", err)
	}
	entries := fx.store.entriesFor(req.ID)
	if entries[len(entries)-1].Action != domain.ActionEdited {
		t.Fatalf("expected EDITED entry, got %s", entries[len(entries)-1].Action)
	}

	if _, err := fx.svc.EditRequest(context.Background(), adminActor("admin-1"), req.ID, RequestEditInput{Title: &title}); !apperrors.IsCode(err, apperrors.CodeForbidden) {
		t.Fatalf("non-creator edit = %v, want FORBIDDEN", err)
	}

	fx.mustTransition(t, req, creator, domain.RequestStatusSubmitted)
	if _, err := fx.svc.EditRequest(context.Background(), creator, req.ID, RequestEditInput{Title: &title}); !apperrors.IsCode(err, apperrors.CodeForbidden) {
		t.Fatalf("edit after submit = %v, want FORBIDDEN", err)
	}
}

func TestAssignIsAdminOnlyAndNonTerminal(t *testing.T) {
	fx := newRequestFixture(t)
	creator := userActor("user-1")
	req := fx.mustCreate(t, creator)

	if _, err := fx.svc.Assign(context.Background(), staffActor("staff-1"), req.ID, "staff-2"); !apperrors.IsCode(err, apperrors.CodeForbidden) {
		t.Fatalf("staff assign = %v, want FORBIDDEN", err)
	}

	updated, err := fx.svc.Assign(context.Background(), adminActor("admin-1"), req.ID, "staff-2")
	if err != nil {
		t.Fatalf("admin assign: %v", err)
	}
	if updated.AssigneeID == nil || *updated.AssigneeID != "staff-2" {
		t.Fatalf("assignee = %v", updated.AssigneeID)
	}
	published := fx.dispatcher.published()
	if len(published) != 1 || published[0].Type != events.EventRequestAssigned {
		t.Fatalf("expected one request_assigned event, got %v", published)
	}

	fx.mustTransition(t, req, creator, domain.RequestStatusCompleted)
	if _, err := fx.svc.Assign(context.Background(), adminActor("admin-1"), req.ID, "staff-3"); !apperrors.IsCode(err, apperrors.CodeForbidden) {
		t.Fatalf("assign on terminal = %v, want FORBIDDEN", err)
	}
}

func TestDeleteIsAdminOnly(t *testing.T) {
	fx := newRequestFixture(t)
	req := fx.mustCreate(t, userActor("user-1"))

	if err := fx.svc.Delete(context.Background(), userActor("user-1"), req.ID); !apperrors.IsCode(err, apperrors.CodeForbidden) {
		t.Fatalf("creator delete = %v, want FORBIDDEN", err)
	}
	if err := fx.svc.Delete(context.Background(), adminActor("admin-1"), req.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if _, err := fx.svc.GetRequest(context.Background(), adminActor("admin-1"), req.ID); !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Fatalf("get after delete = %v, want NOT_FOUND", err)
	}
}

func TestDeleteIsLoggedWithActorAndAction(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	store := newMemStore(func() time.Time { return now })
	svc := NewRequestService(RequestDependencies{
		RequestRepo: &fakeRequestRepo{store: store},
		HistoryRepo: &fakeHistoryRepo{store: store},
		Dispatcher:  &capturingDispatcher{},
		Metrics:     observability.NewMetrics(),
		Logger:      zap.New(core),
		Clock:       func() time.Time { return now },
	})

	req, err := svc.CreateRequest(context.Background(), userActor("user-1"), RequestCreateInput{
		Title:    "Quarterly compliance review",
		Category: domain.CategoryCompliance,
		Priority: domain.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	admin := adminActor("admin-1")
	if err := svc.Delete(context.Background(), admin, req.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// cascade removes the stored trail, so the log line is the only record
	// of who deleted what
	entries := logs.FilterMessage("request deleted").All()
	if len(entries) != 1 {
		t.Fatalf("expected one deletion log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["action"] != string(domain.ActionDeleted) {
		t.Fatalf("action field = %v, want %s", fields["action"], domain.ActionDeleted)
	}
	if fields["actor_id"] != admin.ID {
		t.Fatalf("actor_id field = %v, want %s", fields["actor_id"], admin.ID)
	}
	if fields["request_id"] != req.ID {
		t.Fatalf("request_id field = %v, want %s", fields["request_id"], req.ID)
	}
}

func TestViewScoping(t *testing.T) {
	fx := newRequestFixture(t)
	mine := fx.mustCreate(t, userActor("user-1"))
	theirs := fx.mustCreate(t, userActor("user-2"))

	if _, err := fx.svc.GetRequest(context.Background(), userActor("user-1"), theirs.ID); !apperrors.IsCode(err, apperrors.CodeForbidden) {
		t.Fatalf("cross-user get = %v, want FORBIDDEN", err)
	}
	if _, err := fx.svc.GetRequest(context.Background(), staffActor("staff-1"), theirs.ID); err != nil {
		t.Fatalf("staff get: %v", err)
	}

	list, err := fx.svc.ListRequests(context.Background(), userActor("user-1"), repository.RequestFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != mine.ID {
		t.Fatalf("user list scoped wrong: %v", list)
	}

	list, err = fx.svc.ListRequests(context.Background(), adminActor("admin-1"), repository.RequestFilter{})
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("admin should see all requests, got %d", len(list))
	}
}

func TestListHistoryOrderedAndScoped(t *testing.T) {
	fx := newRequestFixture(t)
	creator := userActor("user-1")
	req := fx.mustCreate(t, creator)
	fx.mustTransition(t, req, creator, domain.RequestStatusInReview)

	entries, err := fx.svc.ListHistory(context.Background(), creator, req.ID, 50, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Action != domain.ActionCreated {
		t.Fatalf("first entry = %s, want CREATED", entries[0].Action)
	}

	if _, err := fx.svc.ListHistory(context.Background(), userActor("user-2"), req.ID, 50, 0); !apperrors.IsCode(err, apperrors.CodeForbidden) {
		t.Fatalf("cross-user history = %v, want FORBIDDEN", err)
	}
}
