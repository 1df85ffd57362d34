// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpapi

import (
	"context"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/hertz-contrib/jwt"
)

// Router wires Handler's methods onto Hertz routes. Plain command routes
// are open; the two admin operations (register_workflow, stop_partition)
// are JWT-gated when jwtAuth is set, mirroring the teacher's SetJWT/
// authChainWith pattern.
type Router struct {
	handler *Handler
	jwtAuth *JWTAuth
}

// NewRouter builds a Router over handler; call SetJWT before Build to
// protect the admin routes.
func NewRouter(handler *Handler) *Router {
	return &Router{handler: handler}
}

// SetJWT enables JWT-gated admin routes.
func (r *Router) SetJWT(jwtAuth *JWTAuth) {
	r.jwtAuth = jwtAuth
}

func (r *Router) adminChain(handler app.HandlerFunc) []app.HandlerFunc {
	if r.jwtAuth == nil {
		return []app.HandlerFunc{handler}
	}
	return []app.HandlerFunc{r.jwtAuth.Middleware.MiddlewareFunc(), handler}
}

// Build assembles the Hertz engine and registers every route.
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	allOpts := append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(allOpts...)

	h.Use(accessLog())

	api := h.Group("/api")
	api.GET("/health", r.handler.HealthCheck)
	if r.jwtAuth != nil {
		api.POST("/login", r.jwtAuth.Middleware.LoginHandler)
	}

	jobs := api.Group("/jobs")
	jobs.POST("", r.handler.ScheduleJob)
	jobs.GET("/:id", r.handler.GetJob)
	jobs.POST("/:id/cancel", r.handler.CancelJob)

	workflows := api.Group("/workflows")
	workflows.POST("/:key", r.adminChain(r.handler.RegisterWorkflow)...)

	admin := api.Group("/admin")
	admin.POST("/partitions/:id/stop", r.adminChain(r.handler.StopPartition)...)

	return h
}

// accessLog is the same hlog-based request logger the teacher's
// middleware.AccessLog provides, kept local since httpapi has no other use
// for a full middleware.Middleware type.
func accessLog() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)
		latency := time.Since(start)
		hlog.CtxInfof(ctx, "%s %s %s %d %s",
			c.Method(), c.Path(), c.ClientIP(), c.Response.StatusCode(), latency)
	}
}

// JWTAuth wraps hertz-contrib/jwt for httpapi's admin routes: a fixed
// service-credential identity rather than the teacher's username/password
// login, since this front door authenticates operators, not end users.
type JWTAuth struct {
	Middleware *jwt.HertzJWTMiddleware
}

// operatorIdentityKey is the JWT claim naming the authenticated operator.
const operatorIdentityKey = "operator"

// NewJWTAuth builds a JWTAuth checking logins against validOperators
// (operator name → password), credentials issued out of band (e.g. via the Vault-backed secrets flow
// ServiceHostConfig already uses for mTLS). timeout/maxRefresh follow
// MiddlewareConfig.JWTTimeout/JWTMaxRefresh.
func NewJWTAuth(key []byte, timeout, maxRefresh time.Duration, validOperators map[string]string) (*JWTAuth, error) {
	var mu sync.Mutex
	authMiddleware, err := jwt.New(&jwt.HertzJWTMiddleware{
		Realm:       "wflow-ingress",
		Key:         key,
		Timeout:     timeout,
		MaxRefresh:  maxRefresh,
		IdentityKey: operatorIdentityKey,
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if name, ok := data.(string); ok {
				return jwt.MapClaims{operatorIdentityKey: name}
			}
			return jwt.MapClaims{}
		},
		IdentityHandler: func(ctx context.Context, c *app.RequestContext) interface{} {
			claims := jwt.ExtractClaims(ctx, c)
			name, _ := claims[operatorIdentityKey].(string)
			return name
		},
		Authenticator: func(ctx context.Context, c *app.RequestContext) (interface{}, error) {
			var loginVals struct {
				Operator string `json:"operator"`
				Password string `json:"password"`
			}
			if err := c.BindJSON(&loginVals); err != nil {
				return nil, jwt.ErrMissingLoginValues
			}
			mu.Lock()
			want, ok := validOperators[loginVals.Operator]
			mu.Unlock()
			if !ok || want != loginVals.Password {
				return nil, jwt.ErrFailedAuthentication
			}
			return loginVals.Operator, nil
		},
		Authorizator: func(data interface{}, ctx context.Context, c *app.RequestContext) bool {
			name, ok := data.(string)
			return ok && name != ""
		},
		Unauthorized: func(ctx context.Context, c *app.RequestContext, code int, message string) {
			c.JSON(code, map[string]interface{}{"code": code, "message": message})
		},
	})
	if err != nil {
		return nil, err
	}
	if err := authMiddleware.MiddlewareInit(); err != nil {
		return nil, err
	}
	return &JWTAuth{Middleware: authMiddleware}, nil
}
