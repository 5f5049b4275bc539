// Package server exposes an engine over websocket. Every socket is one
// engine connection; requests and responses are JSON messages.
package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dianpeng/fsql/engine"
	"github.com/dianpeng/fsql/logger"
	"github.com/dianpeng/fsql/sqlerr"
	"github.com/dianpeng/fsql/vm"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

type RequestOp string

const (
	OpExecute  RequestOp = "execute"
	OpDescribe RequestOp = "describe"
	OpFetch    RequestOp = "fetch"
	OpRowCount RequestOp = "rowcount"
	OpUpdate   RequestOp = "update"
	OpDelete   RequestOp = "delete"
	OpDiscard  RequestOp = "discard"
)

type Request struct {
	Op     RequestOp `json:"op"`
	SQL    string    `json:"sql,omitempty"`
	RSID   uint64    `json:"rsid,omitempty"`
	Dir    string    `json:"dir,omitempty"`
	Offset int       `json:"offset,omitempty"`
	// echoed back, lets clients pipeline requests
	ReqID string `json:"req_id,omitempty"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type RowBody struct {
	Number int      `json:"number"`
	Values []string `json:"values"`
	Nulls  []bool   `json:"nulls"`
}

type Response struct {
	Status   int             `json:"status"`
	Count    int             `json:"count"`
	RSID     uint64          `json:"rsid,omitempty"`
	Columns  []engine.Column `json:"columns,omitempty"`
	Row      *RowBody        `json:"row,omitempty"`
	Warnings []ErrorBody     `json:"warnings,omitempty"`
	Error    *ErrorBody      `json:"error,omitempty"`
	ReqID    string          `json:"req_id,omitempty"`
}

func errorBody(err error) *ErrorBody {
	if e, ok := sqlerr.As(err); ok {
		return &ErrorBody{
			Code:    e.Code,
			Kind:    e.Kind.String(),
			Message: e.Msg,
			Detail:  e.Detail,
		}
	}
	return &ErrorBody{
		Code:    sqlerr.Other,
		Kind:    sqlerr.KindInternal.String(),
		Message: err.Error(),
	}
}

type Server struct {
	engine   *engine.Engine
	upgrader websocket.Upgrader
}

func New(e *engine.Engine) *Server {
	return &Server{
		engine: e,
		upgrader: websocket.Upgrader{
			WriteBufferSize: 1024 * 10,
			ReadBufferSize:  1024 * 10,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler routes "/" to the websocket endpoint and "/health" to a probe.
func (self *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/", self)
	return mux
}

func (self *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("server: upgrade failed: %s", err)
		return
	}
	defer ws.Close()

	conn := self.engine.Connect()
	defer conn.Close()
	logger.Infof("server: %s connected as %s", r.RemoteAddr, conn.ID())

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Errorf("server: unexpected close of %s: %s", conn.ID(), err)
			} else {
				logger.Debugf("server: %s disconnected: %s", conn.ID(), err)
			}
			return
		}

		var res *Response
		req := Request{}
		if err := json.Unmarshal(message, &req); err != nil {
			res = &Response{Error: &ErrorBody{
				Code:    sqlerr.BadCmd,
				Kind:    sqlerr.KindSyntax.String(),
				Message: "bad request: " + err.Error(),
			}}
		} else {
			res = handle(conn, &req)
			res.ReqID = req.ReqID
		}
		if res.Error != nil {
			logger.Debugf("server: %s %s failed: %s", conn.ID(), req.Op, res.Error.Message)
		}

		data, err := json.Marshal(res)
		if err != nil {
			logger.Errorf("server: encoding response: %s", err)
			return
		}
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Errorf("server: writing response: %s", err)
			return
		}
	}
}

func handle(conn *engine.Conn, req *Request) *Response {
	id := engine.RSID(req.RSID)
	switch req.Op {
	case OpExecute, OpDescribe:
		var res *engine.Result
		var err error
		if req.Op == OpExecute {
			res, err = conn.Execute(req.SQL)
		} else {
			res, err = conn.Describe(req.SQL)
		}
		if err != nil {
			return &Response{Error: errorBody(err)}
		}
		out := &Response{
			Status:  res.Status,
			Count:   res.Count,
			RSID:    uint64(res.RSID),
			Columns: res.Columns,
		}
		for _, w := range res.Warnings {
			out.Warnings = append(out.Warnings, *errorBody(w))
		}
		return out

	case OpFetch:
		dir, ok := engine.ParseDirection(req.Dir)
		if !ok {
			return &Response{Error: &ErrorBody{
				Code:    sqlerr.BadCmd,
				Kind:    sqlerr.KindExecution.String(),
				Message: "unknown fetch direction " + req.Dir,
			}}
		}
		row, err := conn.Fetch(id, dir, req.Offset)
		if err != nil {
			return &Response{Error: errorBody(err)}
		}
		if row == nil {
			return &Response{Status: vm.StatusEnd, RSID: req.RSID}
		}
		return &Response{
			Status: vm.StatusRow,
			RSID:   req.RSID,
			Row:    &RowBody{Number: row.Number, Values: row.Values, Nulls: row.Nulls},
		}

	case OpRowCount:
		n, err := conn.RowCount(id)
		if err != nil {
			return &Response{Error: errorBody(err)}
		}
		return &Response{Status: vm.StatusCount, Count: n, RSID: req.RSID}

	case OpUpdate, OpDelete:
		var n int
		var err error
		if req.Op == OpUpdate {
			n, err = conn.PositionedUpdate(id, req.SQL)
		} else {
			n, err = conn.PositionedDelete(id)
		}
		if err != nil {
			return &Response{Error: errorBody(err)}
		}
		return &Response{Status: vm.StatusCount, Count: n, RSID: req.RSID}

	case OpDiscard:
		if err := conn.Discard(id); err != nil {
			return &Response{Error: errorBody(err)}
		}
		return &Response{Status: vm.StatusExecuted}

	default:
		return &Response{Error: &ErrorBody{
			Code:    sqlerr.BadCmd,
			Kind:    sqlerr.KindExecution.String(),
			Message: "unknown op " + string(req.Op),
		}}
	}
}

// Listen serves addr until SIGINT or SIGTERM, then shuts down.
func (self *Server) Listen(addr string) error {
	exit := make(chan os.Signal, 2)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	s := &http.Server{
		Addr:    addr,
		Handler: self.Handler(),
	}
	failed := make(chan error, 1)
	go func() {
		if err := s.ListenAndServe(); err != http.ErrServerClosed {
			failed <- err
		}
	}()
	logger.Infof("server: listening on %s", addr)

	select {
	case err := <-failed:
		return err
	case <-exit:
		break
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Infof("server: shutting down")
	return s.Shutdown(ctx)
}
