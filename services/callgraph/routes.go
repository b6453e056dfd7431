// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callgraph

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// ServiceName is reported by the tracing middleware.
const ServiceName = "pycallgraph"

// RegisterRoutes registers all call graph routes with the router.
//
// Description:
//
//	Registers all /v1/callgraph/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST   /v1/callgraph/init - Build a project's call graph
//	GET    /v1/callgraph/declarations - List declarations
//	GET    /v1/callgraph/declaration - One declaration with calls and callers
//	GET    /v1/callgraph/search - Fuzzy declaration search
//	GET    /v1/callgraph/entry_points - Declarations nothing calls
//	GET    /v1/callgraph/leaves - Declarations that call nothing
//	GET    /v1/callgraph/structure - Declarations grouped by file
//	GET    /v1/callgraph/focus - Callers and callees around one declaration
//	GET    /v1/callgraph/export - Serialized graph download
//	GET    /v1/callgraph/health - Health check
//
// Snapshot Endpoints:
//
//	POST   /v1/callgraph/snapshot - Save the current graph
//	GET    /v1/callgraph/snapshots - List snapshots
//	GET    /v1/callgraph/snapshot/diff - Compare two snapshots
//	GET    /v1/callgraph/snapshot/:id - Load a snapshot
//	DELETE /v1/callgraph/snapshot/:id - Delete a snapshot
//
// Example:
//
//	svc := callgraph.NewService(callgraph.DefaultServiceConfig(), nil)
//	handlers := callgraph.NewHandlers(svc)
//
//	v1 := router.Group("/v1")
//	callgraph.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	cg := rg.Group("/callgraph")
	{
		cg.POST("/init", handlers.HandleInit)

		cg.GET("/declarations", handlers.HandleDeclarations)
		cg.GET("/declaration", handlers.HandleDeclaration)
		cg.GET("/search", handlers.HandleSearch)
		cg.GET("/entry_points", handlers.HandleEntryPoints)
		cg.GET("/leaves", handlers.HandleLeaves)
		cg.GET("/structure", handlers.HandleStructure)
		cg.GET("/focus", handlers.HandleFocus)
		cg.GET("/export", handlers.HandleExportGraph)

		cg.GET("/health", handlers.HandleHealth)

		// diff must be registered before the :id wildcard
		cg.GET("/snapshot/diff", handlers.HandleDiffSnapshots)
		cg.POST("/snapshot", handlers.HandleSaveSnapshot)
		cg.GET("/snapshots", handlers.HandleListSnapshots)
		cg.GET("/snapshot/:id", handlers.HandleLoadSnapshot)
		cg.DELETE("/snapshot/:id", handlers.HandleDeleteSnapshot)
	}
}

// NewRouter returns a gin engine with recovery, request tracing, the
// /metrics endpoint and all call graph routes.
func NewRouter(handlers *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(ServiceName))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	return router
}
