// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newProtectedRouter(apiKey string) *gin.Engine {
	router := gin.New()
	router.Use(APIKeyMiddleware(apiKey))
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": true})
	})
	return router
}

func doGet(router *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/ping", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestAPIKeyMiddlewareDisabledWhenEmpty(t *testing.T) {
	router := newProtectedRouter("")
	assert.Equal(t, http.StatusOK, doGet(router, "").Code)
}

func TestAPIKeyMiddlewareAcceptsValidKey(t *testing.T) {
	router := newProtectedRouter("secret-key")
	assert.Equal(t, http.StatusOK, doGet(router, "Bearer secret-key").Code)
	// Scheme is case-insensitive.
	assert.Equal(t, http.StatusOK, doGet(router, "bearer secret-key").Code)
}

func TestAPIKeyMiddlewareRejectsBadRequests(t *testing.T) {
	router := newProtectedRouter("secret-key")

	assert.Equal(t, http.StatusUnauthorized, doGet(router, "").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(router, "Bearer wrong-key").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(router, "Basic secret-key").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(router, "secret-key").Code)
}
