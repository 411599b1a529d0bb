package execserver

import "github.com/go-chi/chi/v5"

func (s *Server) setupRoutes() {
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/", s.handleCreateSession)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleStopSession)

				r.Post("/plugins", s.handleLoadPlugin)
				r.Post("/execute", s.handleExecute)
				r.Get("/execute/{execID}/stream", s.handleExecuteStream)
				r.Post("/variables", s.handleUpdateVariables)
				r.Post("/files", s.handleUploadFile)
				r.Get("/artifacts/{filename}", s.handleGetArtifact)
			})
		})
	})
}
