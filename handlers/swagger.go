package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the auth service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>gogotex-auth - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

// OpenAPI document for the session endpoints.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "gogotex-auth-sessions", "version": "v1.0.0" },
  "components": {
    "schemas": {
      "TokenPair": { "type": "object", "properties": {
        "accessToken": {"type":"string"}, "refreshToken": {"type":"string"},
        "accessTokenExpiry": {"type":"string","format":"date-time"}, "refreshTokenExpiry": {"type":"string","format":"date-time"} } },
      "RefreshRequest": { "type": "object", "required": ["refresh_token"], "properties": { "refresh_token": {"type":"string"} } },
      "SessionInfo": { "type": "object", "properties": {
        "userId": {"type":"string"}, "tokenId": {"type":"string"},
        "issuedAt": {"type":"string","format":"date-time"}, "lastUsed": {"type":"string","format":"date-time"} } }
    },
    "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer" } }
  },
  "paths": {
    "/auth/login": {
      "post": {
        "summary": "Verify an OIDC id_token (or exchange an authorization code) and issue a token pair",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"id_token":{"type":"string"},"code":{"type":"string"},"redirect_uri":{"type":"string"}}}}}},
        "responses": { "200": { "description": "token pair and user" }, "401": { "description": "identity not verified" }, "403": { "description": "account disabled" } }
      }
    },
    "/auth/refresh": {
      "post": { "summary": "Rotate a refresh token into a new token pair", "requestBody": { "content": { "application/json": { "schema": {"$ref":"#/components/schemas/RefreshRequest"}}}}, "responses": { "200": { "description": "new token pair", "content": { "application/json": { "schema": {"$ref":"#/components/schemas/TokenPair"}}} }, "401": { "description": "refresh failed" } } }
    },
    "/auth/logout": {
      "post": { "summary": "Revoke a refresh token and the bearer access token, if any", "requestBody": { "content": { "application/json": { "schema": {"$ref":"#/components/schemas/RefreshRequest"}}}}, "responses": { "200": { "description": "logged out" } } }
    },
    "/auth/logout-all": {
      "post": { "summary": "Revoke every session of the authenticated user", "security": [{"bearer": []}], "responses": { "200": { "description": "all sessions revoked" }, "401": { "description": "unauthenticated" } } }
    },
    "/auth/session": {
      "post": { "summary": "Inspect the session behind a refresh token", "requestBody": { "content": { "application/json": { "schema": {"$ref":"#/components/schemas/RefreshRequest"}}}}, "responses": { "200": { "description": "session", "content": { "application/json": { "schema": {"$ref":"#/components/schemas/SessionInfo"}}} }, "401": { "description": "invalid session" } } }
    },
    "/api/v1/me": {
      "get": { "summary": "Get the authenticated user", "security": [{"bearer": []}], "responses": { "200": { "description": "user" } } }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "responses": { "200": { "description": "metrics" } } } }
  }
}`
