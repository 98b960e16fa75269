// Package rest exposes the registry's public HTTP API (SPEC_FULL.md §6),
// reusing the teacher's Gin route table and wire types but dispatching every
// handler to a *registry.Registry instead of talking to NATS KV directly.
package rest

import (
	"errors"
	"net/http"
	"strconv"

	"schemaregistry/internal/regerr"
	"schemaregistry/internal/registry"
	"schemaregistry/internal/types"

	"github.com/gin-gonic/gin"
)

// SchemaRecord is a stored schema as returned to clients.
type SchemaRecord struct {
	Schema     string `json:"schema"`
	Subject    string `json:"subject"`
	Version    int32  `json:"version"`
	ID         int32  `json:"id"`
	SchemaType string `json:"schemaType,omitempty"`
}

// SchemaRequest is the payload for registering or looking up a schema.
type SchemaRequest struct {
	Schema     string `json:"schema"`
	SchemaType string `json:"schemaType,omitempty"`
}

// SchemaResponse returns a newly assigned (or carried-forward) schema ID.
type SchemaResponse struct {
	ID int32 `json:"id"`
}

// CompatibilityResponse indicates a compatibility check's result.
type CompatibilityResponse struct {
	IsCompatible bool `json:"is_compatible"`
}

// ConfigRequest updates a compatibility level.
type ConfigRequest struct {
	Compatibility string `json:"compatibility"`
}

// ConfigResponse returns the effective compatibility level.
type ConfigResponse struct {
	CompatibilityLevel string `json:"compatibilityLevel"`
}

// ErrorResponse is the wire shape of every non-2xx response.
type ErrorResponse struct {
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
}

// Handler dispatches HTTP requests to a *registry.Registry. Unlike the
// teacher's package-level registry/kvSchemas globals, Handler carries no
// global state, so an fx-wired app can construct and tear down more than one
// (e.g. in tests).
type Handler struct {
	registry *registry.Registry
}

// NewHandler builds a Handler over reg.
func NewHandler(reg *registry.Registry) *Handler {
	return &Handler{registry: reg}
}

// NewRouter builds the Gin engine with every route SPEC_FULL.md §6 names.
// Schema and subject deletion are non-goals, but SPEC_FULL.md §6 commits to
// an explicit 405 on those paths rather than a silent 404, so DELETE is
// still routed — just rejected.
func NewRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
		c.Next()
	})

	r.GET("/subjects", h.listSubjects)

	subjectGroup := r.Group("/subjects/:subject")
	{
		subjectGroup.GET("/versions", h.listVersions)
		subjectGroup.POST("/versions", h.registerSchema)
		subjectGroup.GET("/versions/:version", h.getSchema)
		subjectGroup.DELETE("/versions/:version", h.deletionNotSupported)
		subjectGroup.POST("", h.lookupSchema)
		subjectGroup.DELETE("", h.deletionNotSupported)
	}

	r.GET("/schemas/ids/:id", h.getSchemaByID)

	r.POST("/compatibility/subjects/:subject/versions/:version", h.checkCompatibility)
	r.POST("/compatibility/subjects/:subject/versions", h.checkCompatibility)

	r.GET("/config", h.getGlobalConfig)
	r.PUT("/config", h.updateGlobalConfig)
	r.GET("/config/:subject", h.getSubjectConfig)
	r.PUT("/config/:subject", h.updateSubjectConfig)

	return r
}

func (h *Handler) listSubjects(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.ListSubjects())
}

// deletionNotSupported answers subject/version deletion requests with an
// explicit 405, per SPEC_FULL.md §6 — a non-goal is still an unambiguous
// signal to the client, not a silent 404.
func (h *Handler) deletionNotSupported(c *gin.Context) {
	writeError(c, http.StatusMethodNotAllowed, 40301, "deletion is not supported by this registry")
}

func (h *Handler) registerSchema(c *gin.Context) {
	subject := c.Param("subject")

	var req SchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, 42201, "invalid JSON")
		return
	}

	schemaType := schemaTypeOrDefault(req.SchemaType)
	id, err := h.registry.Register(c.Request.Context(), subject, req.Schema, schemaType, forwardedHeaders(c))
	if err != nil {
		writeRegErr(c, err)
		return
	}

	c.JSON(http.StatusOK, SchemaResponse{ID: id})
}

func (h *Handler) getSchema(c *gin.Context) {
	subject := c.Param("subject")
	version, err := parseVersion(c.Param("version"))
	if err != nil {
		writeError(c, http.StatusBadRequest, 42202, "invalid version")
		return
	}

	found, ok := h.registry.Get(subject, version)
	if !ok {
		writeError(c, http.StatusNotFound, 40401, "version not found")
		return
	}
	c.JSON(http.StatusOK, toRecord(found))
}

func (h *Handler) listVersions(c *gin.Context) {
	subject := c.Param("subject")
	schemas := h.registry.GetAllVersions(subject)
	if len(schemas) == 0 {
		writeError(c, http.StatusNotFound, 40401, "subject not found")
		return
	}
	versions := make([]int32, 0, len(schemas))
	for _, s := range schemas {
		versions = append(versions, s.Version)
	}
	c.JSON(http.StatusOK, versions)
}

func (h *Handler) lookupSchema(c *gin.Context) {
	subject := c.Param("subject")

	var req SchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, 42201, "invalid JSON")
		return
	}

	schemaType := schemaTypeOrDefault(req.SchemaType)
	found, ok, err := h.registry.Lookup(subject, req.Schema, schemaType)
	if err != nil {
		writeRegErr(c, err)
		return
	}
	if !ok {
		writeError(c, http.StatusNotFound, 40403, "schema not found")
		return
	}
	c.JSON(http.StatusOK, toRecord(found))
}

func (h *Handler) getSchemaByID(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, 42202, "invalid id")
		return
	}

	text, ok := h.registry.GetByID(int32(id))
	if !ok {
		writeError(c, http.StatusNotFound, 40403, "schema not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema": text})
}

func (h *Handler) checkCompatibility(c *gin.Context) {
	subject := c.Param("subject")

	var req SchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, 42201, "invalid JSON")
		return
	}

	schemaType := schemaTypeOrDefault(req.SchemaType)
	compatible, err := h.registry.CheckCompatibility(subject, req.Schema, schemaType)
	if err != nil {
		writeRegErr(c, err)
		return
	}
	c.JSON(http.StatusOK, CompatibilityResponse{IsCompatible: compatible})
}

func (h *Handler) getGlobalConfig(c *gin.Context) {
	level := h.registry.GetCompatibility(nil)
	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: string(level)})
}

func (h *Handler) updateGlobalConfig(c *gin.Context) {
	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, 42201, "invalid JSON")
		return
	}
	level := types.CompatibilityLevel(req.Compatibility)
	if err := h.registry.UpdateCompatibility(c.Request.Context(), nil, level); err != nil {
		writeRegErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: req.Compatibility})
}

func (h *Handler) getSubjectConfig(c *gin.Context) {
	subject := c.Param("subject")
	level := h.registry.GetCompatibility(&subject)
	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: string(level)})
}

func (h *Handler) updateSubjectConfig(c *gin.Context) {
	subject := c.Param("subject")
	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, 42201, "invalid JSON")
		return
	}
	level := types.CompatibilityLevel(req.Compatibility)
	if err := h.registry.UpdateCompatibility(c.Request.Context(), &subject, level); err != nil {
		writeRegErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: req.Compatibility})
}

func schemaTypeOrDefault(raw string) types.SchemaType {
	if raw == "" {
		return types.Avro
	}
	return types.SchemaType(raw)
}

func toRecord(s *registry.Schema) SchemaRecord {
	rec := SchemaRecord{Schema: s.SchemaText, Subject: s.Subject, Version: s.Version, ID: s.ID}
	if s.Type != types.Avro {
		rec.SchemaType = string(s.Type)
	}
	return rec
}

func parseVersion(raw string) (int32, error) {
	if raw == "latest" {
		return registry.VersionLatest, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}

// forwardedHeaders carries along whatever a forwarded request needs to
// authenticate itself to the master; this registry has no auth layer of its
// own, so today this is always empty.
func forwardedHeaders(c *gin.Context) map[string]string { return nil }

func writeError(c *gin.Context, status, code int, message string) {
	c.JSON(status, ErrorResponse{ErrorCode: code, Message: message})
}

func writeRegErr(c *gin.Context, err error) {
	var re *regerr.Error
	if !errors.As(err, &re) {
		writeError(c, http.StatusInternalServerError, 50000, err.Error())
		return
	}

	switch re.Kind {
	case regerr.KindInvalidSchema:
		writeError(c, http.StatusUnprocessableEntity, 42201, re.Message)
	case regerr.KindIncompatibleSchema:
		writeError(c, http.StatusConflict, 40901, re.Message)
	case regerr.KindUnknownMaster:
		writeError(c, http.StatusInternalServerError, 50003, re.Message)
	case regerr.KindNotFound:
		writeError(c, http.StatusNotFound, 40401, re.Message)
	case regerr.KindTimeout:
		writeError(c, http.StatusGatewayTimeout, 50002, re.Message)
	case regerr.KindForwardingError:
		writeError(c, http.StatusInternalServerError, 50001, re.Message)
	default:
		writeError(c, http.StatusInternalServerError, 50000, re.Message)
	}
}
