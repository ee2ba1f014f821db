// Package jsonrpc 实现与传输无关的 JSON-RPC 2.0 分发器，HTTP 与 WebSocket 共用
package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/weisyn/ledgernode/internal/api/jsonrpc/types"
	apitypes "github.com/weisyn/ledgernode/internal/api/types"
)

// ErrDuplicateMethod 方法已被其他模块注册
var ErrDuplicateMethod = errors.New("jsonrpc method already registered")

// MethodHandler JSON-RPC方法处理器
type MethodHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Module 一组同命名空间的方法
type Module interface {
	Name() string
	Methods() map[string]MethodHandler
}

// Server JSON-RPC 2.0 服务器
type Server struct {
	logger *zap.Logger

	mu      sync.RWMutex
	methods map[string]MethodHandler
	modules []string
}

// NewServer 创建JSON-RPC服务器
func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:  logger,
		methods: make(map[string]MethodHandler),
	}
}

// RegisterMethod 注册单个方法，重名时返回 ErrDuplicateMethod
func (s *Server) RegisterMethod(method string, handler MethodHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.methods[method]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMethod, method)
	}
	s.methods[method] = handler
	return nil
}

// RegisterModule 注册模块的全部方法；任一方法重名时不注册该模块的任何方法
func (s *Server) RegisterModule(m Module) error {
	methods := m.Methods()

	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range methods {
		if _, ok := s.methods[name]; ok {
			return fmt.Errorf("%w: %s (module %s)", ErrDuplicateMethod, name, m.Name())
		}
	}
	for name, h := range methods {
		s.methods[name] = h
	}
	s.modules = append(s.modules, m.Name())
	return nil
}

// Modules 已注册模块名
func (s *Server) Modules() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.modules))
	copy(out, s.modules)
	return out
}

// Methods 已注册方法名（排序）
func (s *Server) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.methods))
	for name := range s.methods {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Handle 处理一条原始请求；通知类请求返回 nil
func (s *Server) Handle(ctx context.Context, raw []byte) (resp *types.Response) {
	var req types.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, types.CodeParseError, "Parse error", err.Error())
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("JSON-RPC handler panic recovered",
				zap.Any("panic", rec),
				zap.String("method", req.Method),
				zap.ByteString("stack", debug.Stack()))
			resp = s.problemResponse(req.ID, types.CodeInternalError, req.Method, apitypes.NewProblemDetails(
				apitypes.CodeCommonInternalError,
				apitypes.LayerLedgerService,
				"服务器内部错误，请稍后重试或联系管理员。",
				fmt.Sprintf("Panic recovered: %v", rec),
				http.StatusInternalServerError,
				nil,
			))
		}
	}()

	// 验证JSON-RPC版本
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, types.CodeInvalidRequest, "Invalid Request", "jsonrpc field must be '2.0'")
	}

	s.mu.RLock()
	handler, ok := s.methods[req.Method]
	s.mu.RUnlock()
	if !ok {
		if req.IsNotification() {
			return nil
		}
		return errorResponse(req.ID, types.CodeMethodNotFound, "Method not found", req.Method)
	}

	result, err := handler(ctx, req.Params)
	if req.IsNotification() {
		return nil
	}
	if err != nil {
		return s.handlerError(req.ID, req.Method, err)
	}
	return &types.Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

// handlerError 将处理器错误映射为 JSON-RPC 错误
func (s *Server) handlerError(id interface{}, method string, err error) *types.Response {
	var rpcErr *types.RPCError
	if errors.As(err, &rpcErr) {
		return errorResponse(id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	}
	problem, ok := apitypes.IsProblemDetails(err)
	if !ok {
		s.logger.Error("Handler returned non-ProblemDetails error",
			zap.String("method", method),
			zap.Error(err))
		problem = apitypes.NewProblemDetails(
			apitypes.CodeCommonInternalError,
			apitypes.LayerLedgerService,
			"服务器内部错误，请稍后重试或联系管理员。",
			fmt.Sprintf("Internal error: %v", err),
			http.StatusInternalServerError,
			map[string]interface{}{"method": method},
		)
	}
	code := types.CodeServerError
	if problem.Status == http.StatusBadRequest {
		code = types.CodeInvalidParams
	}
	return s.problemResponse(id, code, method, problem)
}

func (s *Server) problemResponse(id interface{}, code int, method string, problem *apitypes.ProblemDetails) *types.Response {
	if problem.Status >= http.StatusInternalServerError {
		s.logger.Error("JSON-RPC error",
			zap.String("code", problem.Code),
			zap.String("traceId", problem.TraceID),
			zap.String("method", method),
			zap.Error(problem))
	} else {
		s.logger.Debug("JSON-RPC error",
			zap.String("code", problem.Code),
			zap.String("method", method),
			zap.Error(problem))
	}
	// Problem Details 嵌入 error.data
	return &types.Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &types.ErrorResponse{Code: code, Message: problem.UserMessage, Data: problem},
	}
}

func errorResponse(id interface{}, code int, message string, data interface{}) *types.Response {
	return &types.Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &types.ErrorResponse{Code: code, Message: message, Data: data},
	}
}

// maxBodyBytes 单个 HTTP 请求体上限
const maxBodyBytes = 1 << 20

// ServeHTTP 处理HTTP请求
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.write(w, errorResponse(nil, types.CodeInvalidRequest, "Invalid Request", "Only POST method is allowed"))
		return
	}
	raw, err := readBody(w, r)
	if err != nil {
		s.write(w, errorResponse(nil, types.CodeParseError, "Parse error", err.Error()))
		return
	}
	resp := s.Handle(r.Context(), raw)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.write(w, resp)
}

// write JSON-RPC 规范：即使发生错误也返回 200，错误信息在 body 中体现
func (s *Server) write(w http.ResponseWriter, resp *types.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	var raw json.RawMessage
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}
