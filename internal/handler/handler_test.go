package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/canteen-system/internal/auth"
	"github.com/mmeshcher/canteen-system/internal/middleware"
	"github.com/mmeshcher/canteen-system/internal/model"
	"github.com/mmeshcher/canteen-system/internal/repository"
	"github.com/mmeshcher/canteen-system/internal/service"
	"github.com/mmeshcher/canteen-system/internal/validation"
)

type stubService struct {
	menuResp []model.MenuItem
	menuErr  error

	upsertResp model.MenuItem
	upsertErr  error

	availabilityErr error
	deleteErr       error

	createResp model.Reservation
	createErr  error

	statusResp *model.Reservation
	statusErr  error

	byUserResp []model.Reservation
	byUserErr  error

	byRangeResp []model.Reservation
	byRangeErr  error

	metricsResp model.Metrics
	metricsErr  error

	capsResp model.CapabilitySet
	capsErr  error

	overridesResp map[model.Capability]bool
	overridesErr  error

	setOverridesErr error
}

func (s *stubService) MenuItems(ctx context.Context, date string) ([]model.MenuItem, error) {
	return s.menuResp, s.menuErr
}

func (s *stubService) UpsertMenuItem(ctx context.Context, item model.MenuItem) (model.MenuItem, error) {
	return s.upsertResp, s.upsertErr
}

func (s *stubService) SetMenuItemAvailability(ctx context.Context, id int64, available bool) error {
	return s.availabilityErr
}

func (s *stubService) DeleteMenuItem(ctx context.Context, id int64) error {
	return s.deleteErr
}

func (s *stubService) CreateReservation(ctx context.Context, user model.User, selections []service.Selection, guestCount int, guestNames string) (model.Reservation, error) {
	return s.createResp, s.createErr
}

func (s *stubService) UpdateReservationStatus(ctx context.Context, id int64, newStatus model.Status) (*model.Reservation, error) {
	return s.statusResp, s.statusErr
}

func (s *stubService) ReservationsByUser(ctx context.Context, email string) ([]model.Reservation, error) {
	return s.byUserResp, s.byUserErr
}

func (s *stubService) ReservationsByDateRange(ctx context.Context, start, end string) ([]model.Reservation, error) {
	return s.byRangeResp, s.byRangeErr
}

func (s *stubService) Metrics(ctx context.Context, start, end string) (model.Metrics, error) {
	return s.metricsResp, s.metricsErr
}

func (s *stubService) UserCapabilities(ctx context.Context, user model.User) (model.CapabilitySet, error) {
	return s.capsResp, s.capsErr
}

func (s *stubService) PermissionOverrides(ctx context.Context, email string) (map[model.Capability]bool, error) {
	return s.overridesResp, s.overridesErr
}

func (s *stubService) SetPermissionOverrides(ctx context.Context, email string, overrides map[model.Capability]bool) error {
	return s.setOverridesErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	resolver := auth.NewResolver("buft.edu.bd", []string{"admin@buft.edu.bd"})
	authMW := middleware.NewAuthMiddleware("test-secret", resolver)

	return NewHandler(svc, resolver, logger, authMW)
}

func allCaps() model.CapabilitySet {
	caps := model.CapabilitySet{}
	for _, c := range model.Capabilities {
		caps[c] = true
	}
	return caps
}

func withUser(req *http.Request, email string) *http.Request {
	user := model.User{Email: email, Name: "tester", Role: model.RoleEmployee}
	return req.WithContext(middleware.WithIdentity(req.Context(), user))
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestLogin_Success(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	body, _ := json.Marshal(loginRequest{Email: "JDoe@Buft.Edu.Bd", Name: "J. Doe"})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatalf("login must set an auth cookie")
	}

	var identity identityResponse
	if err := json.NewDecoder(res.Body).Decode(&identity); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if identity.Email != "jdoe@buft.edu.bd" {
		t.Fatalf("email = %q, want lowercased address", identity.Email)
	}
	if identity.Role != model.RoleEmployee {
		t.Fatalf("role = %q, want %q", identity.Role, model.RoleEmployee)
	}
}

func TestLogin_ForeignDomain(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	body, _ := json.Marshal(loginRequest{Email: "jdoe@gmail.com", Name: "J. Doe"})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestGetMenu_WithAuthCookie(t *testing.T) {
	svc := &stubService{
		menuResp: []model.MenuItem{
			{ID: 1, MenuDate: "2025-03-10", Name: "Chicken Biryani", Price: 120, Category: model.CategoryMainCourse, Available: true},
		},
	}
	h := newTestHandler(t, svc)

	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, "jdoe@buft.edu.bd", "J. Doe")
	cookie := rec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodGet, "/api/menu", nil)
	req.AddCookie(cookie)

	respRec := httptest.NewRecorder()
	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.GetMenu))
	handlerWithAuth.ServeHTTP(respRec, req)

	res := respRec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var items []menuItemPayload
	if err := json.NewDecoder(res.Body).Decode(&items); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(items) != 1 || items[0].Name != "Chicken Biryani" {
		t.Fatalf("unexpected menu payload: %+v", items)
	}
}

func TestGetMenu_NoCookie(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/api/menu", nil)
	rec := httptest.NewRecorder()

	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.GetMenu))
	handlerWithAuth.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestCreateReservation_Created(t *testing.T) {
	svc := &stubService{
		createResp: model.Reservation{
			ID:          7,
			UserEmail:   "jdoe@buft.edu.bd",
			Date:        "2025-03-10",
			Time:        "12:00",
			TotalAmount: 520,
			Status:      model.StatusPending,
			Lines: []model.OrderLine{
				{MenuItemID: 1, NameSnapshot: "Chicken Biryani", PriceSnapshot: 120, Quantity: 2},
			},
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(createReservationRequest{
		Selections: []selectionPayload{{ItemID: 1, Quantity: 2}},
		GuestCount: 1,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/reservations", bytes.NewReader(body))
	req = withUser(req, "jdoe@buft.edu.bd")
	rec := httptest.NewRecorder()

	h.CreateReservation(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var payload reservationPayload
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.ID != 7 || payload.TotalAmount != 520 || payload.Status != model.StatusPending {
		t.Fatalf("unexpected reservation payload: %+v", payload)
	}
}

func TestCreateReservation_EmptySelection(t *testing.T) {
	svc := &stubService{createErr: service.ErrEmptySelection}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(createReservationRequest{})

	req := httptest.NewRequest(http.MethodPost, "/api/reservations", bytes.NewReader(body))
	req = withUser(req, "jdoe@buft.edu.bd")
	rec := httptest.NewRecorder()

	h.CreateReservation(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestUpsertMenuItem_ValidationError(t *testing.T) {
	svc := &stubService{
		capsResp:  allCaps(),
		upsertErr: validation.ValidationError{Field: "price", Message: "price must be positive"},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(menuItemPayload{Name: "Rice", Price: -1, Category: model.CategorySideDish})

	req := httptest.NewRequest(http.MethodPost, "/api/menu", bytes.NewReader(body))
	req = withUser(req, "staff.canteen@buft.edu.bd")
	rec := httptest.NewRecorder()

	h.UpsertMenuItem(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}

	var errResp errorResponse
	if err := json.NewDecoder(res.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if errResp.Field != "price" {
		t.Fatalf("field = %q, want price", errResp.Field)
	}
}

func TestUpsertMenuItem_Forbidden(t *testing.T) {
	svc := &stubService{
		capsResp: model.CapabilitySet{model.CapManageMenu: false},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(menuItemPayload{Name: "Rice", Price: 30, Category: model.CategorySideDish})

	req := httptest.NewRequest(http.MethodPost, "/api/menu", bytes.NewReader(body))
	req = withUser(req, "jdoe@buft.edu.bd")
	rec := httptest.NewRecorder()

	h.UpsertMenuItem(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
}

func TestDeleteMenuItem_NotFound(t *testing.T) {
	svc := &stubService{
		capsResp:  allCaps(),
		deleteErr: repository.ErrMenuItemNotFound,
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/menu/42", nil)
	req = withUser(req, "admin@buft.edu.bd")
	req = withURLParam(req, "id", "42")
	rec := httptest.NewRecorder()

	h.DeleteMenuItem(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestUpdateReservationStatus_Conflict(t *testing.T) {
	svc := &stubService{
		capsResp:  allCaps(),
		statusErr: service.ErrInvalidTransition,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(statusRequest{Status: model.StatusCompleted})

	req := httptest.NewRequest(http.MethodPatch, "/api/reservations/7/status", bytes.NewReader(body))
	req = withUser(req, "admin@buft.edu.bd")
	req = withURLParam(req, "id", "7")
	rec := httptest.NewRecorder()

	h.UpdateReservationStatus(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestUpdateReservationStatus_VersionConflict(t *testing.T) {
	svc := &stubService{
		capsResp:  allCaps(),
		statusErr: repository.ErrVersionConflict,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(statusRequest{Status: model.StatusConfirmed})

	req := httptest.NewRequest(http.MethodPatch, "/api/reservations/7/status", bytes.NewReader(body))
	req = withUser(req, "admin@buft.edu.bd")
	req = withURLParam(req, "id", "7")
	rec := httptest.NewRecorder()

	h.UpdateReservationStatus(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestUpdateReservationStatus_BadID(t *testing.T) {
	svc := &stubService{capsResp: allCaps()}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPatch, "/api/reservations/abc/status", nil)
	req = withUser(req, "admin@buft.edu.bd")
	req = withURLParam(req, "id", "abc")
	rec := httptest.NewRecorder()

	h.UpdateReservationStatus(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestGetReservations_OwnWithoutRange(t *testing.T) {
	svc := &stubService{
		byUserResp: []model.Reservation{{ID: 1, UserEmail: "jdoe@buft.edu.bd", Status: model.StatusPending}},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/reservations", nil)
	req = withUser(req, "jdoe@buft.edu.bd")
	rec := httptest.NewRecorder()

	h.GetReservations(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var payload []reservationPayload
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload) != 1 || payload[0].UserEmail != "jdoe@buft.edu.bd" {
		t.Fatalf("unexpected reservations payload: %+v", payload)
	}
}

func TestGetReservations_RangeRequiresReports(t *testing.T) {
	svc := &stubService{
		capsResp: model.CapabilitySet{model.CapViewReports: false},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/reservations?start=2025-03-01&end=2025-03-31", nil)
	req = withUser(req, "jdoe@buft.edu.bd")
	rec := httptest.NewRecorder()

	h.GetReservations(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
}

func TestGetMetrics_JSONResponse(t *testing.T) {
	svc := &stubService{
		capsResp: allCaps(),
		metricsResp: model.Metrics{
			TotalReservations: 3,
			TotalRevenue:      601,
			AverageOrderValue: 200,
			PeakHour:          "12:00",
			TopItem:           "Chicken Biryani",
			StatusDistribution:     map[model.Status]int{model.StatusPending: 3},
			DepartmentDistribution: map[string]int{"CSE": 3},
			DailyRevenue:           []model.DailyRevenue{{Date: "2025-03-10", Amount: 601}},
		},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/reports/metrics?start=2025-03-01&end=2025-03-31", nil)
	req = withUser(req, "admin@buft.edu.bd")
	rec := httptest.NewRecorder()

	h.GetMetrics(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var metrics model.Metrics
	if err := json.NewDecoder(res.Body).Decode(&metrics); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if metrics.PeakHour != "12:00" || metrics.TopItem != "Chicken Biryani" {
		t.Fatalf("unexpected metrics payload: %+v", metrics)
	}
}

func TestGetPermissions_ForeignDomain(t *testing.T) {
	svc := &stubService{capsResp: allCaps()}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/users/jdoe@gmail.com/permissions", nil)
	req = withUser(req, "admin@buft.edu.bd")
	req = withURLParam(req, "email", "jdoe@gmail.com")
	rec := httptest.NewRecorder()

	h.GetPermissions(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestPutPermissions_Success(t *testing.T) {
	svc := &stubService{
		capsResp:      allCaps(),
		overridesResp: map[model.Capability]bool{model.CapManageMenu: true},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(putPermissionsRequest{
		Overrides: map[model.Capability]bool{model.CapManageMenu: true},
	})

	req := httptest.NewRequest(http.MethodPut, "/api/users/jdoe@buft.edu.bd/permissions", bytes.NewReader(body))
	req = withUser(req, "admin@buft.edu.bd")
	req = withURLParam(req, "email", "jdoe@buft.edu.bd")
	rec := httptest.NewRecorder()

	h.PutPermissions(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var payload permissionsResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Email != "jdoe@buft.edu.bd" || payload.Role != model.RoleEmployee {
		t.Fatalf("unexpected permissions payload: %+v", payload)
	}
	if !payload.Overrides[model.CapManageMenu] {
		t.Fatalf("override must be echoed back: %+v", payload.Overrides)
	}
}
