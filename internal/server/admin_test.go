package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleGenerateOtpRejectsWrongSecret(t *testing.T) {
	s := New(":0", "correct-secret")

	req := httptest.NewRequest(http.MethodGet, "/admin/generateOtp?t=wrong-secret", nil)
	rec := httptest.NewRecorder()

	s.handleGenerateOtp(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a wrong secret, got %d", rec.Code)
	}
}

func TestHandleGenerateOtpAcceptsCorrectSecret(t *testing.T) {
	s := New(":0", "correct-secret")

	req := httptest.NewRequest(http.MethodGet, "/admin/generateOtp?t=correct-secret", nil)
	rec := httptest.NewRecorder()

	s.handleGenerateOtp(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for the correct secret, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected a non-empty OTP in the response body")
	}
}
