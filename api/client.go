package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "thermal_governor/log"
	"thermal_governor/util"
)

var ErrCommandFailed = errors.New("api: command failed")

type TCPClient struct {
	Addr         string
	Conn         net.Conn
	TxBytes      int
	RxBytes      int
	Errors       int
	RedialCount  int
	LastErrorTS  float64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DialTimeout  time.Duration
	KeepAlive    bool // server keeps the connection open between commands
	reader       *bufio.Reader
	mx           sync.Mutex
}

// NewTCPClient does not dial; the first request does.
func NewTCPClient(addr string) *TCPClient {
	return &TCPClient{
		Addr:         addr,
		ReadTimeout:  time.Second * 15,
		WriteTimeout: time.Second * 15,
		DialTimeout:  time.Second * 1,
	}
}

func (my *TCPClient) redial() error {
	if my.Conn != nil {
		my.Conn.Close()
	}
	myDialer := net.Dialer{Timeout: my.DialTimeout}
	conn, err := myDialer.Dial("tcp", my.Addr)
	my.RedialCount++
	if err != nil {
		log.Debugf("can't connect to %s err %v", my.Addr, err)
		my.Conn = nil
		my.Errors++
		my.LastErrorTS = util.NowInSec()
		return err
	}
	my.Conn = conn
	my.reader = bufio.NewReaderSize(conn, MAX_REQUEST_SIZE)
	my.Errors = 0
	return nil
}

func (my *TCPClient) fail(err error) error {
	my.Errors++
	my.LastErrorTS = util.NowInSec()
	return err
}

func (my *TCPClient) sendAndReceive(reqbuf []byte) ([]byte, error) {
	if my.Conn == nil || my.Errors > 0 {
		if err := my.redial(); err != nil {
			return nil, err
		}
	}

	if n := len(reqbuf); n == 0 || reqbuf[n-1] != '\n' {
		reqbuf = append(reqbuf, '\n')
	}

	if err := my.Conn.SetWriteDeadline(time.Now().Add(my.WriteTimeout)); err != nil {
		log.Debugf("err %v", err)
	}
	n, err := my.Conn.Write(reqbuf)
	if err != nil {
		return nil, my.fail(fmt.Errorf("send to %s: %w", my.Addr, err))
	}
	my.TxBytes += n

	if err := my.Conn.SetReadDeadline(time.Now().Add(my.ReadTimeout)); err != nil {
		log.Debugf("err %v", err)
	}
	reply, err := my.reader.ReadBytes('\n')
	if err != nil {
		return nil, my.fail(fmt.Errorf("receive from %s: %w", my.Addr, err))
	}
	my.RxBytes += len(reply)

	if !my.KeepAlive {
		my.Conn.Close()
		my.Conn = nil
	}
	return reply, nil
}

// SendAndReceive writes one request line and returns the reply line. It
// retries once so a dropped connection is transparent to callers.
func (my *TCPClient) SendAndReceive(reqbuf []byte) ([]byte, error) {
	my.mx.Lock()
	defer my.mx.Unlock()

	reply, err := my.sendAndReceive(reqbuf)
	if err != nil {
		reply, err = my.sendAndReceive(reqbuf)
	}
	return reply, err
}

// Call runs a command and decodes the reply. A reply with an error status
// is returned together with ErrCommandFailed.
func (my *TCPClient) Call(command string, parameter interface{}, data interface{}) (*Response, error) {
	req := struct {
		Command   string      `json:"command"`
		Parameter interface{} `json:"parameter,omitempty"`
	}{Command: command, Parameter: parameter}

	reqbuf, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	reply, err := my.SendAndReceive(reqbuf)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Response
		Data json.RawMessage `json:"Data,omitempty"`
	}
	if err := json.Unmarshal(reply, &raw); err != nil {
		return nil, fmt.Errorf("decode reply to %s: %w", command, err)
	}
	resp := raw.Response
	if resp.Status != STATUS_SUCCESS {
		return &resp, fmt.Errorf("%w: %s: %s", ErrCommandFailed, command, resp.Msg)
	}
	if data != nil && len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, data); err != nil {
			return &resp, fmt.Errorf("decode %s data: %w", command, err)
		}
		resp.Data = data
	}
	return &resp, nil
}

func (my *TCPClient) Shutdown() {
	my.mx.Lock()
	defer my.mx.Unlock()

	if my.Conn != nil {
		my.Conn.Close()
		my.Conn = nil
	}
}
