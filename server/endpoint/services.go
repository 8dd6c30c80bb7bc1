package endpoint

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/catalogwatch/discovery"
	apperrors "github.com/kbukum/catalogwatch/errors"
)

// ServiceReader is the read side of the discovery cache.
type ServiceReader interface {
	GetServices(service string, opts ...discovery.GetOption) []discovery.Node
	GetAllServices() map[string][]discovery.Node
}

// ReaderFunc resolves the reader per request. It returns nil while
// discovery is not watching.
type ReaderFunc func() ServiceReader

// Services returns a handler that dumps every cached service.
func Services(reader ReaderFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		r := reader()
		if r == nil {
			respondError(c, apperrors.ServiceUnavailable("discovery"))
			return
		}
		c.JSON(http.StatusOK, gin.H{"services": r.GetAllServices()})
	}
}

// ServiceNodes returns a handler for one service's nodes. The query
// parameter passing=true restricts the result to passing nodes.
func ServiceNodes(reader ReaderFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		r := reader()
		if r == nil {
			respondError(c, apperrors.ServiceUnavailable("discovery"))
			return
		}
		name := c.Param("name")
		var opts []discovery.GetOption
		if passing, _ := strconv.ParseBool(c.Query("passing")); passing {
			opts = append(opts, discovery.PassingOnly())
		}
		nodes := r.GetServices(name, opts...)
		if nodes == nil {
			respondError(c, apperrors.NotFound("service", name))
			return
		}
		c.JSON(http.StatusOK, gin.H{"service": name, "nodes": nodes})
	}
}

func respondError(c *gin.Context, err *apperrors.AppError) {
	c.AbortWithStatusJSON(err.HTTPStatus, err.ToResponse())
}
