package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"rsc.io/qr"
)

const qrCaption = "New WhatsApp QR Code"

type qrRequest struct {
	QR string `json:"qr"`
}

// handleQR renders the login QR payload to PNG and relays it to the operator.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	var req qrRequest
	if !decode(w, r, &req) {
		return
	}
	if req.QR == "" {
		http.Error(w, "qr is required", http.StatusBadRequest)
		return
	}

	path, err := s.writeQR(req.QR)
	if err != nil {
		s.logger.Error("render qr failed", slog.Any("error", err))
		http.Error(w, "render qr failed", http.StatusInternalServerError)
		return
	}
	defer os.Remove(path)

	s.notifier.SendPhoto(r.Context(), path, qrCaption, false)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeQR(data string) (string, error) {
	code, err := qr.Encode(data, qr.M)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	dir := s.cfg.ScratchDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "qr_code_"+uuid.NewString()[:8]+".png")
	if err := os.WriteFile(path, code.PNG(), 0o600); err != nil {
		return "", fmt.Errorf("write qr: %w", err)
	}
	return path, nil
}
