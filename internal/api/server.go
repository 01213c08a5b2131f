// Package api serves checkpoint metadata over HTTP: the collection
// listing, per-checkpoint tensor indexes, and the structural config
// inferred from the weight shapes.
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/checkpoint/internal/infer"
	"github.com/samcharles93/checkpoint/internal/logger"
	"github.com/samcharles93/checkpoint/internal/persist"
)

type Server struct {
	store persist.Store
	log   logger.Logger
}

func NewServer(store persist.Store, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{store: store, log: log}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/checkpoints", s.handleListCheckpoints)
	e.GET("/v1/checkpoints/:key", s.handleGetCheckpoint)
	e.GET("/v1/checkpoints/:key/config", s.handleGetConfig)
}

func (s *Server) handleListCheckpoints(c *echo.Context) error {
	keys, err := s.store.List(c.Request().Context())
	if err != nil {
		s.log.Error("list checkpoints", "error", err)
		return writeStoreError(c, err)
	}

	list := CheckpointList{Checkpoints: make([]CheckpointSummary, 0, len(keys))}
	for _, key := range keys {
		step, ok := persist.Step(key)
		if !ok {
			continue
		}
		list.Checkpoints = append(list.Checkpoints, CheckpointSummary{Key: key, Step: step})
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetCheckpoint(c *echo.Context) error {
	key := c.Param("key")
	step, ok := persist.Step(key)
	if !ok {
		return writeBadRequest(c, "key must look like <step>"+persist.Ext)
	}

	m, err := s.store.Load(c.Request().Context(), key)
	if err != nil {
		s.log.Error("load checkpoint", "key", key, "error", err)
		return writeStoreError(c, err)
	}

	detail := CheckpointDetail{Key: key, Step: step}
	for _, name := range m.Names() {
		t, _ := m.Get(name)
		detail.Tensors = append(detail.Tensors, TensorInfo{
			Name:  name,
			DType: t.DType.String(),
			Shape: t.Shape,
		})
	}
	return c.JSON(http.StatusOK, detail)
}

func (s *Server) handleGetConfig(c *echo.Context) error {
	key := c.Param("key")
	if _, ok := persist.Step(key); !ok {
		return writeBadRequest(c, "key must look like <step>"+persist.Ext)
	}

	var opts []infer.Option
	if raw := c.QueryParam("n_ctx"); raw != "" {
		nCtx, err := strconv.Atoi(raw)
		if err != nil || nCtx <= 0 {
			return writeBadRequest(c, "n_ctx must be a positive integer")
		}
		opts = append(opts, infer.WithNCtx(nCtx))
	}

	m, err := s.store.Load(c.Request().Context(), key)
	if err != nil {
		s.log.Error("load checkpoint", "key", key, "error", err)
		return writeStoreError(c, err)
	}
	cfg, err := infer.FromWeights(m, opts...)
	if err != nil {
		s.log.Error("infer config", "key", key, "error", err)
		return writeStoreError(c, err)
	}
	return c.JSON(http.StatusOK, cfg)
}
