package lastfm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

const callbackPage = `<!doctype html>
<html><head><title>rockscrob</title></head>
<body style="font-family: sans-serif; text-align: center; padding: 50px;">
<h1>Authorized</h1><p>You can close this window and return to rockscrob.</p>
</body></html>`

// Callback is a local HTTP listener that receives the token Last.fm appends
// to the cb URL after the user authorizes the application.
type Callback struct {
	ln     net.Listener
	srv    *http.Server
	tokens chan string
}

// ListenCallback starts listening on addr (for example "127.0.0.1:0").
func ListenCallback(addr string) (*Callback, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen callback: %w", err)
	}
	cb := &Callback{ln: ln, tokens: make(chan string, 1)}
	mux := http.NewServeMux()
	mux.HandleFunc("/", cb.handle)
	cb.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = cb.srv.Serve(ln) }()
	return cb, nil
}

// URL is the address to pass as the cb parameter.
func (cb *Callback) URL() string {
	return "http://" + cb.ln.Addr().String() + "/"
}

func (cb *Callback) handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}
	select {
	case cb.tokens <- token:
	default:
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(callbackPage))
}

// Wait blocks until a token arrives or ctx is done.
func (cb *Callback) Wait(ctx context.Context) (string, error) {
	select {
	case token := <-cb.tokens:
		return token, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close stops the listener.
func (cb *Callback) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cb.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
