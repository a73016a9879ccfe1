// Package api serves the daemon's control commands as newline-delimited JSON
// over TCP.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	log "thermal_governor/log"
)

const (
	MAX_REQUEST_SIZE = 65536
	ACCEPT_MIN_DELAY = 5 * time.Millisecond
	ACCEPT_MAX_DELAY = time.Second
)

type APIRequest struct {
	Command   string          `json:"command"`
	Parameter json.RawMessage `json:"parameter,omitempty"`
}

type ServerHandlerFunc func(*Server, net.Conn, *APIRequest, []byte, error) error

type Server struct {
	listener       net.Listener
	done           chan struct{}
	wg             sync.WaitGroup
	handler        ServerHandlerFunc
	bConnKeepAlive bool
	ReadTimeout    time.Duration

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer listens on addr. With bKeepAlive a connection can carry several
// commands; otherwise it is closed after the first reply.
func NewServer(addr string, handler ServerHandlerFunc, bKeepAlive bool) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("api listen %s: %w", addr, err)
	}
	return newServer(l, handler, bKeepAlive), nil
}

func newServer(l net.Listener, handler ServerHandlerFunc, bKeepAlive bool) *Server {
	s := &Server{
		listener:       l,
		done:           make(chan struct{}),
		handler:        handler,
		bConnKeepAlive: bKeepAlive,
		ReadTimeout:    time.Second * 15,
		conns:          make(map[net.Conn]struct{}),
	}
	if s.handler == nil {
		s.handler = DefaultServerHandler
	}
	s.wg.Add(1)
	return s
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) ListenAndServe() {
	defer s.wg.Done()

	var tempDelay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			// back off so a persistent error (e.g. EMFILE) does not spin
			if tempDelay == 0 {
				tempDelay = ACCEPT_MIN_DELAY
			} else {
				tempDelay *= 2
			}
			if tempDelay > ACCEPT_MAX_DELAY {
				tempDelay = ACCEPT_MAX_DELAY
			}
			log.Errorf("Accept error %v; retrying in %v", err, tempDelay)
			select {
			case <-s.done:
				return
			case <-time.After(tempDelay):
			}
			continue
		}
		tempDelay = 0

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)

			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

// Shutdown stops accepting, closes open connections and waits for the
// handlers to return or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	s.listener.Close()

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	log.Debugf("Connection from %v", conn.RemoteAddr())

	r := bufio.NewReaderSize(conn, MAX_REQUEST_SIZE)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.ReadTimeout)); err != nil {
			log.Debugf("err %v", err)
		}
		buf, err := r.ReadBytes('\n')
		if err != nil && !(errors.Is(err, io.EOF) && len(buf) > 0) {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debugf("handleConnection %v: %v", conn.RemoteAddr(), err)
			}
			break
		}

		req := APIRequest{}
		perr := json.Unmarshal(buf, &req)
		if perr != nil {
			log.Debugf("bad request from %v: %v", conn.RemoteAddr(), perr)
		}

		if err := s.handler(s, conn, &req, buf, perr); err != nil {
			log.Error(err)
			break
		}

		if !s.bConnKeepAlive || err != nil {
			// one connection per command as default
			break
		}
	}

	log.Debugf("Server disconnected from %v", conn.RemoteAddr())
}

func DefaultServerHandler(s *Server, conn net.Conn, req *APIRequest, rawbuf []byte, err error) error {
	resp := fmt.Sprintf("received from %v: %v, error: %v\n", conn.RemoteAddr(), req.Command, err)
	log.Info(resp)
	_, err = conn.Write([]byte(resp))
	return err
}

// PrepareJSONResponse marshals v and terminates it with a newline.
func PrepareJSONResponse(v interface{}) ([]byte, error) {
	jsonResponse, err := json.Marshal(v)
	if err != nil {
		log.Errorf("err %v", err)
		return nil, err
	}
	return append(jsonResponse, '\n'), nil
}
