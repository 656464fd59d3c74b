package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xhad/studyroom/internal/models"
	"go.uber.org/zap"
)

const (
	TypeIngest   = "ingest"
	TypeChat     = "chat"
	TypeQuiz     = "quiz"
	TypeStatus   = "status"
	TypeSummary  = "summary"
	TypeResponse = "response"
	TypeError    = "error"
)

var ErrOutsideRoot = errors.New("path is outside the upload directory")

// Message is the envelope for both directions on /ws.
type Message struct {
	Type       string                    `json:"type"`
	Content    string                    `json:"content,omitempty"`
	DocumentID int                       `json:"document_id,omitempty"`
	Path       string                    `json:"path,omitempty"`
	History    []models.ConversationTurn `json:"history,omitempty"`
	Data       interface{}               `json:"data,omitempty"`
}

// IngestReport is the JSON form of an ingest result.
type IngestReport struct {
	DocumentID int    `json:"document_id"`
	Summary    string `json:"summary"`
	Summarized bool   `json:"summarized"`
	Indexed    bool   `json:"indexed"`
	ChunkCount int    `json:"chunk_count"`
	SummaryErr string `json:"summary_error,omitempty"`
	IndexErr   string `json:"index_error,omitempty"`
}

func NewIngestReport(r models.IngestResult) IngestReport {
	report := IngestReport{
		DocumentID: r.DocumentID,
		Summary:    r.Summary,
		Summarized: r.Summarized,
		Indexed:    r.Indexed,
		ChunkCount: r.ChunkCount,
	}
	if r.SummaryErr != nil {
		report.SummaryErr = r.SummaryErr.Error()
	}
	if r.IndexErr != nil {
		report.IndexErr = r.IndexErr.Error()
	}
	return report
}

// Service is the document pipeline as seen by the transport.
type Service interface {
	Ingest(ctx context.Context, filePath string, documentID int) (models.IngestResult, error)
	Chat(ctx context.Context, documentID int, question string, history []models.ConversationTurn) (string, error)
	Quiz(ctx context.Context, documentID int) ([]models.QuizItem, error)
}

type Config struct {
	Addr string
	// UploadDir restricts ingest paths; empty allows any path.
	UploadDir string
	// RequestTimeout bounds a single message; 0 means 5 minutes.
	RequestTimeout time.Duration
}

type WSServer struct {
	config   Config
	service  Service
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSServer(config Config, service Service, gatherer prometheus.Gatherer, logger *zap.Logger) *WSServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 5 * time.Minute
	}
	return &WSServer{
		config:   config,
		service:  service,
		gatherer: gatherer,
		logger:   logger.Named("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Be careful with this in production
			},
		},
	}
}

// Handler serves /ws, /health and /metrics.
func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// ListenAndServe runs until ctx is cancelled, then shuts down gracefully.
func (s *WSServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting websocket server", zap.String("addr", s.config.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// connection serializes writes; gorilla allows one concurrent writer.
type connection struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *connection) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := &connection{ws: ws}
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("error reading message", zap.Error(err))
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendMessage(conn, Message{Type: TypeError, Content: fmt.Sprintf("invalid message: %v", err)})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleMessage(ctx, conn, msg)
		}()
	}
	cancel()
}

func (s *WSServer) handleMessage(ctx context.Context, conn *connection, msg Message) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	switch msg.Type {
	case TypeIngest:
		path, err := s.resolvePath(msg.Path)
		if err != nil {
			s.sendError(conn, msg, err)
			return
		}
		s.sendMessage(conn, Message{Type: TypeStatus, DocumentID: msg.DocumentID, Content: fmt.Sprintf("Processing %s", filepath.Base(path))})

		result, err := s.service.Ingest(ctx, path, msg.DocumentID)
		if err != nil {
			s.sendError(conn, msg, err)
			return
		}
		s.sendMessage(conn, Message{Type: TypeSummary, DocumentID: msg.DocumentID, Content: result.Summary, Data: NewIngestReport(result)})

	case TypeChat:
		answer, err := s.service.Chat(ctx, msg.DocumentID, msg.Content, msg.History)
		if err != nil {
			s.sendError(conn, msg, err)
			return
		}
		s.sendMessage(conn, Message{Type: TypeResponse, DocumentID: msg.DocumentID, Content: answer})

	case TypeQuiz:
		items, err := s.service.Quiz(ctx, msg.DocumentID)
		if err != nil {
			s.sendError(conn, msg, err)
			return
		}
		s.sendMessage(conn, Message{Type: TypeQuiz, DocumentID: msg.DocumentID, Data: items})

	default:
		s.sendError(conn, msg, fmt.Errorf("unknown message type %q", msg.Type))
	}
}

// resolvePath cleans p and, when an upload directory is set, resolves it
// relative to that directory and refuses anything outside it.
func (s *WSServer) resolvePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("path is required")
	}
	if s.config.UploadDir == "" {
		return filepath.Clean(p), nil
	}

	root, err := filepath.Abs(s.config.UploadDir)
	if err != nil {
		return "", err
	}
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, full)
	}
	full = filepath.Clean(full)

	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return full, nil
}

func (s *WSServer) sendError(conn *connection, msg Message, err error) {
	s.logger.Warn("request failed",
		zap.String("type", msg.Type),
		zap.Int("document_id", msg.DocumentID),
		zap.Error(err),
	)
	s.sendMessage(conn, Message{Type: TypeError, DocumentID: msg.DocumentID, Content: err.Error()})
}

func (s *WSServer) sendMessage(conn *connection, msg Message) {
	if err := conn.send(msg); err != nil {
		s.logger.Debug("error sending message", zap.Error(err))
	}
}
