package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"nuha.dev/trackee/internal/agent"
	"nuha.dev/trackee/internal/backend"
	"nuha.dev/trackee/internal/credential"
	"nuha.dev/trackee/internal/util"
)

// Dispatcher calls registered functions by name. A function is either
// func(ctx, *Res) error or func(ctx, *Req, *Res) error; requests are decoded
// from the JSON body and validated before the call.
type Dispatcher struct {
	funcs     map[string]_function
	validator *validator.Validate
	log       zerolog.Logger
}

type _function struct {
	reqType reflect.Type
	resType reflect.Type
	handler reflect.Value
}

type errorBody struct {
	Error string `json:"error"`
}

func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{}
	d.funcs = make(map[string]_function)
	d.validator = validator.New()
	d.log = logger
	return d
}

func (disp *Dispatcher) Add(funcname string, f interface{}) {
	s := _function{}
	s.handler = reflect.ValueOf(f)
	if s.handler.Type().NumIn() == 2 {
		s.reqType = nil
		s.resType = s.handler.Type().In(1).Elem()
	} else {
		s.reqType = s.handler.Type().In(1).Elem()
		s.resType = s.handler.Type().In(2).Elem()
	}
	disp.funcs[funcname] = s
}

func (disp *Dispatcher) Call(funcname string, w http.ResponseWriter, r *http.Request) {
	_func, ok := disp.funcs[funcname]
	if !ok {
		http.Error(w, fmt.Sprintf("function \"%s\" not found", funcname), http.StatusNotFound)
		return
	}
	disp.call(_func, r, w)
}

func (disp *Dispatcher) call(_func _function, r *http.Request, w http.ResponseWriter) {
	response := reflect.New(_func.resType)
	var err_ref []reflect.Value
	ctx := r.Context()
	if _func.reqType != nil {
		request := reflect.New(_func.reqType)
		err := json.NewDecoder(r.Body).Decode(request.Interface())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = disp.validator.Struct(request.Interface())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err_ref = _func.handler.Call([]reflect.Value{reflect.ValueOf(ctx), request, response})
	} else {
		err_ref = _func.handler.Call([]reflect.Value{reflect.ValueOf(ctx), response})
	}
	if !err_ref[0].IsNil() {
		err := err_ref[0].Interface().(error)
		code := statusOf(err)
		if code >= 500 {
			disp.log.Error().Err(err).Msg("function failed")
		}
		writeJSON(w, code, errorBody{Error: err.Error()})
		return
	}
	util.JsonWrite(w, response.Interface())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, backend.ErrLoginRejected):
		return http.StatusUnauthorized
	case errors.Is(err, agent.ErrNotLoggedIn), errors.Is(err, agent.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, credential.ErrStore), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		var se *backend.StatusError
		if errors.As(err, &se) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
