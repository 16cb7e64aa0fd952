package app

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	myMiddleware "proMessenger/pkg/middleware"
)

func (s *Server) Routes() *chi.Mux {
	r := s.router
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.Health())
	r.Post("/session", s.Login())

	r.Group(func(r chi.Router) {
		r.Use(myMiddleware.Authenticator(s.session))
		r.Delete("/session", s.Logout())

		r.Get("/conversations", s.GetConversations())
		r.Get("/conversations/{partnerId}/messages", s.OpenConversation())
		r.Delete("/conversations/{partnerId}", s.CloseConversation())
		r.Post("/conversations/{partnerId}/read", s.MarkConversationAsRead())

		r.Post("/messages", s.SendMessage())

		r.Post("/attachments", s.AddAttachments())
		r.Delete("/attachments/{id}", s.RemoveAttachment())
		r.Get("/attachments/{id}/preview", s.PreviewAttachment())

		r.Post("/orders/{messageId}/accept", s.AcceptOrder())
		r.Post("/orders/{messageId}/reject", s.RejectOrder())
		r.Get("/orders/history", s.OrderHistory())

		r.Get("/ws", s.ServeWs())
	})

	return r
}
