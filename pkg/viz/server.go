package viz

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/julienschmidt/httprouter"
)

// Server renders registered channel traces over HTTP. The scope page
// refreshes its images client-side; rendering happens on request so an
// unwatched scope costs nothing on the data path.
type Server struct {
	port int
	srv  *http.Server

	mu     sync.RWMutex
	traces []*ChannelTrace
	status func() interface{}
}

func NewServer(port int) *Server {
	return &Server{
		port: port,
		srv:  &http.Server{Addr: fmt.Sprintf(":%d", port)},
	}
}

// Register adds a trace to the scope page, in registration order.
func (s *Server) Register(t *ChannelTrace) {
	s.mu.Lock()
	s.traces = append(s.traces, t)
	s.mu.Unlock()
}

// SetStatus installs the value served as JSON at /status.
func (s *Server) SetStatus(fn func() interface{}) {
	s.mu.Lock()
	s.status = fn
	s.mu.Unlock()
}

func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

func (s *Server) Run(ctx context.Context) error {
	handler := httprouter.New()

	handler.GET("/", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		http.Redirect(w, r, "/scope", http.StatusFound)
	})

	handler.GET("/scope", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s.mu.RLock()
		names := make([]string, 0, len(s.traces))
		for _, t := range s.traces {
			names = append(names, t.Name())
		}
		s.mu.RUnlock()

		w.Header().Add("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Kraken Scope</title>
		<script type="text/javascript">
			window.onload = function() {
				setInterval(function() {
					var imgs = document.getElementsByTagName('img');
					for (var i = 0; i < imgs.length; i++) {
						imgs[i].src = imgs[i].src.split("?")[0] + "?" + new Date().getTime();
					}
				}, 1000);
			}
		</script></head><body style='background-color: black'>`))
		for _, name := range names {
			w.Write([]byte(fmt.Sprintf(`<div><img src="/img/%s" /></div>`, name)))
		}
		w.Write([]byte(`</body></html>`))
	})

	handler.GET("/img/:name", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		name := params.ByName("name")

		var trace *ChannelTrace
		s.mu.RLock()
		for _, t := range s.traces {
			if t.Name() == name {
				trace = t
				break
			}
		}
		s.mu.RUnlock()

		if trace == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		img, err := trace.Render()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Add("Content-Type", "image/png")
		w.Write(img)
	})

	handler.GET("/status", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s.mu.RLock()
		status := s.status
		s.mu.RUnlock()

		w.Header().Add("Content-Type", "application/json")
		if status == nil {
			w.Write([]byte("{}"))
			return
		}
		json.NewEncoder(w).Encode(status())
	})

	s.srv.Handler = handler

	go func() {
		<-ctx.Done()
		s.srv.Close()
	}()

	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
