package api

import (
	"github.com/gin-gonic/gin"
)

// Handlers groups everything mounted under /api.
type Handlers struct {
	Sequences *SequenceHandler
	Contacts  *ContactHandler
	Templates *TemplateHandler
}

// CORS allows the dashboard to call the API from another origin.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

func RegisterRoutes(r gin.IRouter, h Handlers) {
	apiGroup := r.Group("/api")

	// Sequence Routes
	apiGroup.GET("/accounts/:id/sequences", h.Sequences.GetSequences)
	apiGroup.POST("/sequences", h.Sequences.CreateSequence)
	apiGroup.GET("/sequences/:id", h.Sequences.GetSequence)
	apiGroup.PUT("/sequences/:id", h.Sequences.UpdateSequence)
	apiGroup.DELETE("/sequences/:id", h.Sequences.DeleteSequence)
	apiGroup.POST("/sequences/:id/deactivate", h.Sequences.DeactivateSequence)

	// Step Routes
	apiGroup.GET("/sequences/:id/steps", h.Sequences.GetSteps)
	apiGroup.POST("/sequences/:id/steps", h.Sequences.AddStep)
	apiGroup.POST("/sequences/:id/steps/reorder", h.Sequences.ReorderSteps)
	apiGroup.PUT("/steps/:id", h.Sequences.UpdateStep)
	apiGroup.DELETE("/steps/:id", h.Sequences.DeleteStep)
	apiGroup.GET("/sequence-logs", h.Sequences.GetLogs)

	// Contact Routes
	apiGroup.GET("/accounts/:id/contacts", h.Contacts.GetContacts)
	apiGroup.GET("/accounts/:id/due", h.Contacts.GetDue)
	apiGroup.POST("/contacts/:id/sequence", h.Contacts.StartSequence)
	apiGroup.DELETE("/contacts/:id/sequence", h.Contacts.StopSequence)
	apiGroup.POST("/contacts/:id/evaluation", h.Contacts.Evaluate)
	apiGroup.GET("/contacts/:id/messages", h.Contacts.GetMessages)
	apiGroup.POST("/contacts/:id/messages", h.Contacts.SendReply)

	// Template Routes
	apiGroup.GET("/templates", h.Templates.GetTemplates)
	apiGroup.POST("/templates/sync", h.Templates.SyncTemplates)
}
