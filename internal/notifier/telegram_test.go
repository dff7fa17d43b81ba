package notifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestNotifier(t *testing.T, url string, retries int) *TelegramNotifier {
	t.Helper()
	n, err := NewTelegramNotifier("TOKEN", "42", "", retries, time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)
	n.baseURL = url
	return n
}

func TestTelegramNotifier_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "42", r.PostForm.Get("chat_id"))
		assert.Equal(t, "run finished", r.PostForm.Get("text"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := newTestNotifier(t, srv.URL, 1)
	require.NoError(t, n.Send(context.Background(), "run finished"))
}

func TestTelegramNotifier_SendWithRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := newTestNotifier(t, srv.URL, 3)
	require.NoError(t, n.SendWithRetry(context.Background(), "hello"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	atomic.StoreInt32(&calls, -10)
	n = newTestNotifier(t, srv.URL, 2)
	err := n.SendWithRetry(context.Background(), "hello")
	assert.ErrorContains(t, err, "after 2 attempts")
}

func TestNewTelegramNotifier_BadProxy(t *testing.T) {
	_, err := NewTelegramNotifier("T", "1", "://nope", 1, 0, nil)
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	assert.NoError(t, n.SendWithRetry(context.Background(), "x"))
}
