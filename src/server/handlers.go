package server

import (
	"io"
	"net/http"
	"strings"

	"lumendb/src/auth"
	"lumendb/src/engine"

	"github.com/gin-gonic/gin"
)

const contextUserKey = "authUser"

// writeError maps engine error kinds onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch engine.KindOf(err) {
	case engine.KindNotFound:
		status = http.StatusNotFound
	case engine.KindAlreadyExists, engine.KindDuplicate:
		status = http.StatusConflict
	case engine.KindBadRequest, engine.KindUnsupportedStage,
		engine.KindUnsupportedOperator, engine.KindDivisionByZero:
		status = http.StatusBadRequest
	}

	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// authRequired validates the bearer token when authentication is enabled.
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.AuthEnabled {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		value, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || value == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		token, err := s.tokens.Validate(value)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(contextUserKey, token)
		c.Next()
	}
}

// adminRequired restricts a route to admin tokens.
func (s *Server) adminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.AuthEnabled {
			c.Next()
			return
		}

		raw, ok := c.Get(contextUserKey)
		token, _ := raw.(*auth.Token)
		if !ok || token == nil || token.Role != auth.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}

		c.Next()
	}
}

func (s *Server) handleLogin(c *gin.Context) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	user, err := s.users.VerifyCredentials(creds.Username, creds.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token := s.tokens.Issue(user)
	c.JSON(http.StatusOK, token)
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.Database.Info())
}

func (s *Server) handleListCollections(c *gin.Context) {
	metas, err := s.manager.Collections.ListCollections()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collections": metas})
}

func (s *Server) handleCreateCollection(c *gin.Context) {
	var body struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "collection name required"})
		return
	}

	meta, err := s.manager.CreateCollection(body.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, meta)
}

func (s *Server) handleDeleteCollection(c *gin.Context) {
	if err := s.manager.DeleteCollection(c.Param("name")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleInsertDocument(c *gin.Context) {
	var body engine.Document
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "document body must be a JSON object"})
		return
	}

	doc, err := s.manager.Collections.InsertDocument(c.Param("name"), body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (s *Server) handleFindDocuments(c *gin.Context) {
	// The filter passes through raw so the planner sees the client's own
	// key order.
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read filter"})
		return
	}

	docs, err := s.manager.Collections.FindDocuments(c.Param("name"), raw)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
}

func (s *Server) handleUpdateDocument(c *gin.Context) {
	var spec map[string]interface{}
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "update spec must be a JSON object"})
		return
	}

	doc, err := s.manager.Collections.UpdateDocument(c.Param("name"), c.Param("id"), spec)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(c *gin.Context) {
	if err := s.manager.Collections.DeleteDocument(c.Param("name"), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListIndexes(c *gin.Context) {
	indexes, err := s.manager.Collections.ListIndexes(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"indexes": indexes})
}

func (s *Server) handleCreateIndex(c *gin.Context) {
	var body struct {
		Field string `json:"field"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index field required"})
		return
	}

	idx, err := s.manager.Collections.CreateIndex(c.Param("name"), body.Field)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, idx)
}

func (s *Server) handleGetIndex(c *gin.Context) {
	idx, err := s.manager.Collections.GetIndex(c.Param("name"), c.Param("field"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, idx)
}

func (s *Server) handleDeleteIndex(c *gin.Context) {
	if err := s.manager.Collections.DeleteIndex(c.Param("name"), c.Param("field")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRebuildIndex(c *gin.Context) {
	idx, err := s.manager.Collections.RebuildIndex(c.Param("name"), c.Param("field"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, idx)
}

func (s *Server) handleAggregate(c *gin.Context) {
	// The pipeline passes through raw; $sort key order comes from the body.
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read pipeline"})
		return
	}

	results, err := s.manager.Collections.Aggregate(c.Param("name"), raw)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (s *Server) handleListBackups(c *gin.Context) {
	backups, err := s.backups.List()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": backups})
}

func (s *Server) handleCreateBackup(c *gin.Context) {
	name, err := s.backups.Create()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": name})
}

func (s *Server) handleRestoreBackup(c *gin.Context) {
	if err := s.backups.Restore(c.Param("backup")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
