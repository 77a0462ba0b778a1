// Package server exposes the small HTTP surface used by the admin
// console: generating one-time passwords that gate a sender's handshake
// with a receiver.
package server

import (
	"fmt"
	"net/http"

	"github.com/Raqibreyaz/synclet/internal/auth"
	"github.com/Raqibreyaz/synclet/pkg/log"
)

// AdminServer serves the OTP generation endpoint on Addr.
type AdminServer struct {
	Addr   string
	Secret string
}

func New(addr, secret string) *AdminServer {
	return &AdminServer{Addr: addr, Secret: secret}
}

func (s *AdminServer) Run() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/generateOtp", s.handleGenerateOtp)

	log.Info("Admin server listening at %s", s.Addr)
	return http.ListenAndServe(s.Addr, mux)
}

func (s *AdminServer) handleGenerateOtp(w http.ResponseWriter, r *http.Request) {
	log.Info("New one-time password requested by admin")

	if r.URL.Query().Get("t") != s.Secret {
		http.Error(w, "invalid admin secret", http.StatusUnauthorized)
		return
	}

	otp := auth.Get().GenerateOtp()
	log.Info("One-time password request accepted: %s", otp)
	fmt.Fprint(w, otp)
}
