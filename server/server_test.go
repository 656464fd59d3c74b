package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/studyroom/internal/models"
)

type fakeService struct {
	mu         sync.Mutex
	ingestPath string
	history    []models.ConversationTurn
}

func (f *fakeService) Ingest(_ context.Context, path string, documentID int) (models.IngestResult, error) {
	f.mu.Lock()
	f.ingestPath = path
	f.mu.Unlock()
	if strings.HasSuffix(path, ".exe") {
		return models.IngestResult{}, errors.New("unsupported format")
	}
	return models.IngestResult{
		DocumentID: documentID,
		Summary:    "One. Two. Three.",
		Summarized: true,
		Indexed:    false,
		IndexErr:   errors.New("disk full"),
	}, nil
}

func (f *fakeService) Chat(_ context.Context, documentID int, question string, history []models.ConversationTurn) (string, error) {
	f.mu.Lock()
	f.history = history
	f.mu.Unlock()
	return "answer to " + question, nil
}

func (f *fakeService) Quiz(_ context.Context, _ int) ([]models.QuizItem, error) {
	return []models.QuizItem{{
		Question: "Q",
		Options:  []models.QuizOption{{ID: "A", Text: "x"}},
		Answer:   "A",
	}}, nil
}

func newTestServer(t *testing.T, config Config) (*httptest.Server, *fakeService) {
	t.Helper()
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "studyroom_test_total", Help: "test"}))

	svc := &fakeService{}
	ts := httptest.NewServer(NewWSServer(config, svc, reg, nil).Handler())
	t.Cleanup(ts.Close)
	return ts, svc
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

// readUntil skips status messages.
func readUntil(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != TypeStatus {
			return msg
		}
	}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestMetrics(t *testing.T) {
	ts, _ := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "studyroom_test_total")
}

func TestChatMessage(t *testing.T) {
	ts, svc := newTestServer(t, Config{})
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(Message{
		Type:       TypeChat,
		DocumentID: 3,
		Content:    "what is ATP?",
		History:    []models.ConversationTurn{{Role: models.RoleUser, Content: "hi"}},
	}))

	msg := readUntil(t, conn)
	assert.Equal(t, TypeResponse, msg.Type)
	assert.Equal(t, 3, msg.DocumentID)
	assert.Equal(t, "answer to what is ATP?", msg.Content)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.history, 1)
	assert.Equal(t, "hi", svc.history[0].Content)
}

func TestQuizMessage(t *testing.T) {
	ts, _ := newTestServer(t, Config{})
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(Message{Type: TypeQuiz, DocumentID: 1}))

	msg := readUntil(t, conn)
	assert.Equal(t, TypeQuiz, msg.Type)
	items, ok := msg.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, "Q", items[0].(map[string]interface{})["question"])
}

func TestIngestMessage(t *testing.T) {
	dir := t.TempDir()
	ts, svc := newTestServer(t, Config{UploadDir: dir})
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(Message{Type: TypeIngest, DocumentID: 9, Path: "notes.txt"}))

	msg := readUntil(t, conn)
	assert.Equal(t, TypeSummary, msg.Type)
	assert.Equal(t, "One. Two. Three.", msg.Content)
	report, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, report["indexed"])
	assert.Equal(t, "disk full", report["index_error"])

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, filepath.Join(dir, "notes.txt"), svc.ingestPath)
}

func TestIngestErrors(t *testing.T) {
	ts, _ := newTestServer(t, Config{UploadDir: t.TempDir()})
	conn := dial(t, ts)

	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"escape upload dir", Message{Type: TypeIngest, Path: "../../etc/passwd"}, ErrOutsideRoot.Error()},
		{"missing path", Message{Type: TypeIngest}, "path is required"},
		{"service error", Message{Type: TypeIngest, Path: "tool.exe"}, "unsupported format"},
		{"unknown type", Message{Type: "dance"}, `unknown message type "dance"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteJSON(tt.msg))
			msg := readUntil(t, conn)
			assert.Equal(t, TypeError, msg.Type)
			assert.Equal(t, tt.want, msg.Content)
		})
	}
}

func TestInvalidJSON(t *testing.T) {
	ts, _ := newTestServer(t, Config{})
	conn := dial(t, ts)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readUntil(t, conn)
	assert.Equal(t, TypeError, msg.Type)
	assert.Contains(t, msg.Content, "invalid message")
}

func TestResolvePath(t *testing.T) {
	root := t.TempDir()
	s := NewWSServer(Config{UploadDir: root}, nil, nil, nil)

	got, err := s.resolvePath("a/b.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "b.pdf"), got)

	got, err = s.resolvePath(filepath.Join(root, "c.pdf"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "c.pdf"), got)

	_, err = s.resolvePath("/etc/passwd")
	assert.ErrorIs(t, err, ErrOutsideRoot)

	open := NewWSServer(Config{}, nil, nil, nil)
	got, err = open.resolvePath("./x/../y.txt")
	require.NoError(t, err)
	assert.Equal(t, "y.txt", got)
}
