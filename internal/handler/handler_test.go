package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/scambi-bot/internal/middleware"
	"github.com/mmeshcher/scambi-bot/internal/model"
	"github.com/mmeshcher/scambi-bot/internal/repository"
	"github.com/mmeshcher/scambi-bot/internal/service"
)

type stubService struct {
	pingErr error

	user    model.User
	userErr error

	exchanges    []model.Exchange
	exchangesErr error

	gifts []model.Gift

	cancelAdmin atomic.Int64
	cancelErr   error
	retracted   int
}

func (s *stubService) Ping(ctx context.Context) error { return s.pingErr }

func (s *stubService) Threshold() int { return 6 }

func (s *stubService) UserPoints(ctx context.Context, userID int64) (model.User, error) {
	u := s.user
	u.ID = userID
	return u, s.userErr
}

func (s *stubService) UserExchanges(ctx context.Context, userID int64) ([]model.Exchange, error) {
	return s.exchanges, s.exchangesErr
}

func (s *stubService) UserGifts(ctx context.Context, userID int64) ([]model.Gift, error) {
	return s.gifts, nil
}

func (s *stubService) CancelExchange(ctx context.Context, adminID, exchangeID int64) (service.ExchangeReversal, error) {
	s.cancelAdmin.Store(adminID)
	if s.cancelErr != nil {
		return service.ExchangeReversal{}, s.cancelErr
	}
	return service.ExchangeReversal{Exchange: model.Exchange{ID: exchangeID, Cancelled: true}, Retracted: s.retracted}, nil
}

func (s *stubService) CancelGift(ctx context.Context, adminID, giftID int64) (service.GiftReversal, error) {
	s.cancelAdmin.Store(adminID)
	if s.cancelErr != nil {
		return service.GiftReversal{}, s.cancelErr
	}
	return service.GiftReversal{Gift: model.Gift{ID: giftID, Cancelled: true}}, nil
}

const testSecret = "test-secret"

func newTestServer(t *testing.T, svc Service) *httptest.Server {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	h := NewHandler(svc, logger, middleware.NewAuthMiddleware(testSecret))
	ts := httptest.NewServer(h.SetupRouter())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path string, adminID int64) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, ts.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if adminID != 0 {
		req.Header.Set("Authorization", "Bearer "+middleware.NewAuthMiddleware(testSecret).IssueToken(adminID))
	}

	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, &stubService{})
	if res := do(t, ts, http.MethodGet, "/healthz", 0); res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	ts = newTestServer(t, &stubService{pingErr: errors.New("db down")})
	if res := do(t, ts, http.MethodGet, "/healthz", 0); res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestAPI_RequiresToken(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	res := do(t, ts, http.MethodGet, "/api/users/100", 0)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestGetUser(t *testing.T) {
	ts := newTestServer(t, &stubService{user: model.User{Handle: "ay", Points: 2, Total: 8}})

	res := do(t, ts, http.MethodGet, "/api/users/100", 1)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var got userResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := userResponse{ID: 100, Handle: "ay", Points: 2, Threshold: 6, Total: 8}
	if got != want {
		t.Fatalf("user = %+v, want %+v", got, want)
	}
}

func TestGetUser_BadID(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	res := do(t, ts, http.MethodGet, "/api/users/abc", 1)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestGetExchanges(t *testing.T) {
	ts := newTestServer(t, &stubService{})
	if res := do(t, ts, http.MethodGet, "/api/users/100/exchanges", 1); res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}

	svc := &stubService{exchanges: []model.Exchange{
		{ID: 2, Member1: 100, Member2: 200, Note: "ok", CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
	}}
	ts = newTestServer(t, svc)

	res := do(t, ts, http.MethodGet, "/api/users/100/exchanges", 1)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var got []model.Exchange
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != 2 || got[0].Member2 != 200 {
		t.Fatalf("unexpected exchanges: %+v", got)
	}
}

func TestGetExchanges_StoreError(t *testing.T) {
	ts := newTestServer(t, &stubService{exchangesErr: errors.New("boom")})

	res := do(t, ts, http.MethodGet, "/api/users/100/exchanges", 1)
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusInternalServerError)
	}
}

func TestGetGifts(t *testing.T) {
	ts := newTestServer(t, &stubService{gifts: []model.Gift{{ID: 4, GiverID: 100, Note: "libro"}}})

	res := do(t, ts, http.MethodGet, "/api/users/100/gifts", 1)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

func TestCancelExchange(t *testing.T) {
	svc := &stubService{retracted: 1}
	ts := newTestServer(t, svc)

	res := do(t, ts, http.MethodPost, "/api/exchanges/7/cancel", 2)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if got := svc.cancelAdmin.Load(); got != 2 {
		t.Fatalf("admin = %d, want 2", got)
	}

	var got reversalResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != (reversalResponse{ID: 7, Cancelled: true, Retracted: 1}) {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestCancel_ErrorStatuses(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: service.ErrUnauthorized, want: http.StatusForbidden},
		{err: fmt.Errorf("cancel exchange 7: %w", repository.ErrExchangeNotFound), want: http.StatusNotFound},
		{err: fmt.Errorf("cancel gift 7: %w", repository.ErrGiftNotFound), want: http.StatusNotFound},
		{err: fmt.Errorf("cancel exchange 7: %w", repository.ErrAlreadyCancelled), want: http.StatusConflict},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			ts := newTestServer(t, &stubService{cancelErr: tt.err})

			for _, path := range []string{"/api/exchanges/7/cancel", "/api/gifts/7/cancel"} {
				res := do(t, ts, http.MethodPost, path, 5)
				if res.StatusCode != tt.want {
					t.Fatalf("%s: status = %d, want %d", path, res.StatusCode, tt.want)
				}
			}
		})
	}
}

func TestCancel_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	res := do(t, ts, http.MethodGet, "/api/exchanges/7/cancel", 1)
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusMethodNotAllowed)
	}
}
