// Package server exposes an encrypted model over HTTP. Ciphertexts travel as
// base64 envelopes in JSON bodies.
package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/zeebo/blake3"

	"github.com/z3rotig4r/ckks_train/internal/he"
	"github.com/z3rotig4r/ckks_train/internal/logreg"
)

const (
	// MaxBatch bounds the samples accepted by one request.
	MaxBatch = 256
	// maxBodySize bounds a request body; one envelope may carry he.MaxCiphertextSize bytes.
	maxBodySize = 64 * 1024 * 1024
)

// Server serializes every request touching the model behind one mutex; the model
// and its arithmetic unit are single-writer.
type Server struct {
	mu        sync.Mutex
	model     *logreg.Model
	threshold float64
	logger    *log.Logger
	router    *mux.Router
}

func New(model *logreg.Model, threshold float64, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Server{model: model, threshold: threshold, logger: logger, router: mux.NewRouter()}

	s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
	s.router.HandleFunc("/api/params", s.paramsHandler).Methods("GET")
	s.router.HandleFunc("/api/encrypt", s.encryptHandler).Methods("POST", "OPTIONS")
	s.router.HandleFunc("/api/predict", s.predictHandler).Methods("POST", "OPTIONS")
	s.router.HandleFunc("/api/decrypt", s.decryptHandler).Methods("POST", "OPTIONS")
	return s
}

// Handler returns the routed handler wrapped with CORS headers.
func (s *Server) Handler() http.Handler {
	return enableCORS(s.router)
}

// ListenAndServe serves over TLS when both certificate files exist, plain HTTP
// otherwise.
func (s *Server) ListenAndServe(addr, certFile, keyFile string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if fileExists(certFile) && fileExists(keyFile) {
		s.logger.Printf("Server starting with HTTPS on https://localhost%s", addr)
		return srv.ListenAndServeTLS(certFile, keyFile)
	}
	s.logger.Printf("Server starting with HTTP on http://localhost%s (no TLS certificates found)", addr)
	return srv.ListenAndServe()
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

type ParamsResponse struct {
	MaxDepth      int       `json:"max_depth"`
	LogBaseScale  int       `json:"log_base_scale"`
	Features      int       `json:"features"`
	Activation    string    `json:"activation"`
	RequiredDepth int       `json:"required_depth"`
	UpdateRule    string    `json:"update_rule"`
	Trained       bool      `json:"trained"`
	Threshold     float64   `json:"threshold"`
	Ledger        he.Ledger `json:"ledger"`
}

func (s *Server) paramsHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	u := s.model.Unit()
	resp := ParamsResponse{
		MaxDepth:      u.MaxDepth(),
		LogBaseScale:  u.LogBaseScale(),
		Activation:    s.model.Activation().Name(),
		RequiredDepth: s.model.Activation().RequiredDepth(),
		UpdateRule:    s.model.UpdateRule().Name(),
		Trained:       s.model.Trained(),
		Threshold:     s.threshold,
		Ledger:        u.Ledger(),
	}
	if st, err := s.model.State(); err == nil {
		resp.Features = st.Weights.Size()
	}
	s.mu.Unlock()

	writeJSON(w, resp)
}

type EncryptRequest struct {
	Features [][]float64 `json:"features"`
}

type CiphertextsResponse struct {
	Ciphertexts []he.Envelope `json:"ciphertexts"`
	Digests     []string      `json:"digests"`
	DurationMs  float64       `json:"duration_ms"`
	Ledger      he.Ledger     `json:"ledger"`
	Timestamp   int64         `json:"timestamp"`
}

func (s *Server) encryptHandler(w http.ResponseWriter, r *http.Request) {
	var req EncryptRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Features) == 0 || len(req.Features) > MaxBatch {
		http.Error(w, fmt.Sprintf("Expected between 1 and %d samples", MaxBatch), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	encX, _, err := s.model.EncryptData(req.Features, nil)
	if err != nil {
		s.fail(w, "Encryption failed", err)
		return
	}
	resp, err := s.seal(encX, start)
	if err != nil {
		s.fail(w, "Serialization failed", err)
		return
	}
	s.logger.Printf("Encrypted %d samples in %.3f ms", len(encX), resp.DurationMs)
	writeJSON(w, resp)
}

type PredictRequest struct {
	Ciphertexts []he.Envelope `json:"ciphertexts"`
}

func (s *Server) predictHandler(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Ciphertexts) == 0 || len(req.Ciphertexts) > MaxBatch {
		http.Error(w, fmt.Sprintf("Expected between 1 and %d ciphertexts", MaxBatch), http.StatusBadRequest)
		return
	}
	s.logger.Printf("Received inference request with %d encrypted samples", len(req.Ciphertexts))

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.model.State()
	if err != nil {
		s.fail(w, "Model unavailable", err)
		return
	}
	start := time.Now()
	encX, ok := s.open(w, req.Ciphertexts, st.Weights.Size())
	if !ok {
		return
	}
	decodeTime := time.Since(start)

	preds, err := s.model.PredictAll(r.Context(), encX)
	if err != nil {
		s.fail(w, "Inference failed", err)
		return
	}
	inferTime := time.Since(start) - decodeTime

	resp, err := s.seal(preds, start)
	if err != nil {
		s.fail(w, "Failed to marshal result", err)
		return
	}
	s.logger.Printf("Inference completed: decode %.3f ms, inference %.3f ms, total %.3f ms",
		ms(decodeTime), ms(inferTime), resp.DurationMs)
	writeJSON(w, resp)
}

type DecryptRequest struct {
	Predictions []he.Envelope `json:"predictions"`
	Threshold   *float64      `json:"threshold,omitempty"`
}

type DecryptResponse struct {
	Scores    []float64 `json:"scores"`
	Labels    []int     `json:"labels"`
	Threshold float64   `json:"threshold"`
}

func (s *Server) decryptHandler(w http.ResponseWriter, r *http.Request) {
	var req DecryptRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Predictions) == 0 || len(req.Predictions) > MaxBatch {
		http.Error(w, fmt.Sprintf("Expected between 1 and %d predictions", MaxBatch), http.StatusBadRequest)
		return
	}
	threshold := s.threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	preds, ok := s.open(w, req.Predictions, 1)
	if !ok {
		return
	}
	scores, err := s.model.DecryptScores(preds)
	if err != nil {
		s.fail(w, "Decryption failed", err)
		return
	}
	writeJSON(w, DecryptResponse{Scores: scores, Labels: logreg.Threshold(scores, threshold), Threshold: threshold})
}

func (s *Server) open(w http.ResponseWriter, envs []he.Envelope, size int) ([]he.CipherValue, bool) {
	u := s.model.Unit()
	out := make([]he.CipherValue, len(envs))
	for i, env := range envs {
		if env.Size != size {
			http.Error(w, fmt.Sprintf("Ciphertext %d has size %d, expected %d", i, env.Size, size), http.StatusBadRequest)
			return nil, false
		}
		v, err := u.Open(env)
		if err != nil {
			s.logger.Printf("Failed to open ciphertext %d: %v", i, err)
			http.Error(w, fmt.Sprintf("Invalid ciphertext %d: %v", i, err), http.StatusBadRequest)
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func (s *Server) seal(values []he.CipherValue, start time.Time) (CiphertextsResponse, error) {
	u := s.model.Unit()
	resp := CiphertextsResponse{
		Ciphertexts: make([]he.Envelope, len(values)),
		Digests:     make([]string, len(values)),
	}
	for i, v := range values {
		env, err := u.Seal(v)
		if err != nil {
			return CiphertextsResponse{}, err
		}
		resp.Ciphertexts[i] = env
		resp.Digests[i] = Digest(env)
	}
	resp.DurationMs = ms(time.Since(start))
	resp.Ledger = u.Ledger()
	resp.Timestamp = time.Now().Unix()
	return resp, nil
}

// Digest is the hex BLAKE3 hash of an envelope's encoded ciphertext.
func Digest(env he.Envelope) string {
	sum := blake3.Sum256([]byte(env.Ciphertext))
	return hex.EncodeToString(sum[:])
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, logreg.ErrUninitializedModel):
		status = http.StatusConflict
	case errors.Is(err, he.ErrInvalidCipherValue), errors.Is(err, logreg.ErrShapeMismatch):
		status = http.StatusBadRequest
	}
	s.logger.Printf("%s: %v", msg, err)
	http.Error(w, fmt.Sprintf("%s: %v", msg, err), status)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000.0 }

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
