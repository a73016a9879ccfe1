package api

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"thermal_governor/governor"
	log "thermal_governor/log"
	"thermal_governor/system"
	"thermal_governor/version"
)

const (
	CMD_STATUS    = "status"
	CMD_THRESHOLD = "threshold"
	CMD_VERSION   = "version"
	CMD_SYSINFO   = "sysinfo"
)

const (
	STATUS_SUCCESS = "S"
	STATUS_ERROR   = "E"
)

// Response is the envelope of every reply. Data depends on the command.
type Response struct {
	Status  string      `json:"STATUS"`
	When    int64       `json:"When"`
	Code    int         `json:"Code"`
	Msg     string      `json:"Msg"`
	Command string      `json:"Command"`
	Data    interface{} `json:"Data,omitempty"`
}

const (
	CODE_OK = iota
	CODE_INVALID_JSON
	CODE_INVALID_COMMAND
	CODE_INVALID_PARAMETER
	CODE_UNAVAILABLE
)

type StateSource interface {
	State() governor.State
}

type ThresholdStore interface {
	Load() int64
	Store(v int64)
}

type SysInfoSource interface {
	GetSystemInfo() (*system.SystemInformation, error)
}

type ThresholdData struct {
	Threshold int64 `json:"threshold"`
	Previous  int64 `json:"previous,omitempty"`
}

// Handler answers the control commands.
type Handler struct {
	State     StateSource
	Threshold ThresholdStore
	SysInfo   SysInfoSource
}

func (my *Handler) Serve(s *Server, conn net.Conn, req *APIRequest, rawbuf []byte, err error) error {
	var resp Response
	if err != nil {
		resp = errorResponse(req.Command, CODE_INVALID_JSON, fmt.Sprintf("invalid request: %v", err))
	} else {
		resp = my.Execute(req)
	}

	buf, err := PrepareJSONResponse(resp)
	if err != nil {
		return err
	}
	_, err = conn.Write(buf)
	return err
}

func (my *Handler) Execute(req *APIRequest) Response {
	cmd := strings.ToLower(strings.TrimSpace(req.Command))
	switch cmd {
	case CMD_STATUS:
		if my.State == nil {
			return errorResponse(cmd, CODE_UNAVAILABLE, "governor not running")
		}
		return successResponse(cmd, "Governor status", my.State.State())

	case CMD_THRESHOLD:
		return my.threshold(cmd, req.Parameter)

	case CMD_VERSION:
		return successResponse(cmd, "thermald version", version.GetVersionConfig())

	case CMD_SYSINFO:
		if my.SysInfo == nil {
			return errorResponse(cmd, CODE_UNAVAILABLE, "system information not available")
		}
		info, err := my.SysInfo.GetSystemInfo()
		if err != nil {
			return errorResponse(cmd, CODE_UNAVAILABLE, err.Error())
		}
		return successResponse(cmd, "System information", info)

	default:
		return errorResponse(req.Command, CODE_INVALID_COMMAND, fmt.Sprintf("invalid command %q", req.Command))
	}
}

// threshold reads the trip point, or sets it when a parameter is given. The
// parameter may be a JSON number or a string holding one.
func (my *Handler) threshold(cmd string, param json.RawMessage) Response {
	if my.Threshold == nil {
		return errorResponse(cmd, CODE_UNAVAILABLE, "threshold not available")
	}

	raw := strings.TrimSpace(string(param))
	if raw == "" || raw == "null" {
		return successResponse(cmd, "Threshold", ThresholdData{Threshold: my.Threshold.Load()})
	}

	var text string
	if err := json.Unmarshal(param, &text); err != nil {
		text = raw
	}
	v, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		return errorResponse(cmd, CODE_INVALID_PARAMETER, fmt.Sprintf("invalid threshold %s", raw))
	}

	prev := my.Threshold.Load()
	my.Threshold.Store(v)
	log.Infof("Threshold changed from %d to %d through the control api", prev, v)
	return successResponse(cmd, "Threshold set", ThresholdData{Threshold: v, Previous: prev})
}

func successResponse(cmd, msg string, data interface{}) Response {
	return Response{
		Status:  STATUS_SUCCESS,
		When:    time.Now().Unix(),
		Code:    CODE_OK,
		Msg:     msg,
		Command: cmd,
		Data:    data,
	}
}

func errorResponse(cmd string, code int, msg string) Response {
	return Response{
		Status:  STATUS_ERROR,
		When:    time.Now().Unix(),
		Code:    code,
		Msg:     msg,
		Command: cmd,
	}
}
