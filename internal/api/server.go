/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cctp-bridge-go/internal/analytics"
	"cctp-bridge-go/internal/database"
	"cctp-bridge-go/internal/fees"
	"cctp-bridge-go/internal/ledger"
	"cctp-bridge-go/internal/models"
	"cctp-bridge-go/internal/transfer"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server is the operator-facing HTTP API. It fronts the state machine, the
// ledger and the analytics aggregator; it never talks to the provider
// directly.
type Server struct {
	machine    *transfer.Machine
	estimator  *fees.Estimator
	ledger     *ledger.Service
	aggregator *analytics.Aggregator
	db         *database.Service

	httpServer *http.Server
}

func NewServer(cfg models.ServerConfig, machine *transfer.Machine, estimator *fees.Estimator, ledgerService *ledger.Service, aggregator *analytics.Aggregator, db *database.Service) *Server {
	server := &Server{
		machine:    machine,
		estimator:  estimator,
		ledger:     ledgerService,
		aggregator: aggregator,
		db:         db,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	v1 := engine.Group("/v1")
	{
		v1.POST("/transfers", server.initiateTransfer)
		v1.GET("/transfers", server.listTransfers)
		v1.GET("/transfers/:id", server.getTransfer)
		v1.POST("/transfers/:id/cancel", server.cancelTransfer)
		v1.POST("/transfers/:id/accelerate", server.accelerateTransfer)
		v1.GET("/quote", server.quote)
		v1.GET("/wallets/:id/balance", server.walletBalance)
		v1.GET("/wallets/:id/transactions", server.walletTransactions)
		v1.POST("/wallets/:id/transactions", server.recordWalletTransaction)
		v1.POST("/transactions/:id/reconcile", server.reconcileWalletTransaction)
		v1.GET("/reports/rollup", server.rollup)
		v1.GET("/health", server.health)
	}

	server.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return server
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	zap.L().Info("Admin API listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		zap.L().Info("Handled request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}
