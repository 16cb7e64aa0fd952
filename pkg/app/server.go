package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"proMessenger/pkg/api"
	"proMessenger/pkg/middleware"
)

type Options struct {
	Addr           string
	AllowedOrigins []string
}

type Server struct {
	router      *chi.Mux
	session     *middleware.Session
	chatService api.ChatService
	orders      *api.OrderCoordinator
	preparer    *api.Preparer
	hub         *api.Hub
	channel     *api.Channel
	validate    *validator.Validate
	opts        Options
}

func NewServer(router *chi.Mux, session *middleware.Session, chatService api.ChatService, orders *api.OrderCoordinator,
	preparer *api.Preparer, hub *api.Hub, channel *api.Channel, opts Options) *Server {
	s := &Server{
		router:      router,
		session:     session,
		chatService: chatService,
		orders:      orders,
		preparer:    preparer,
		hub:         hub,
		channel:     channel,
		validate:    validator.New(),
		opts:        opts,
	}

	// Any 401 from the backend ends the session: the UI goes back to login.
	session.OnUnauthorized(func(userId string) {
		log.Printf("Session of %s expired", userId)
		hub.Publish(api.UserID(userId), api.EventSessionExpired, nil)
		// The hook can fire from the channel's own goroutines.
		go channel.Close()
	})
	return s
}

// resume reconnects the realtime channel when a token survived a restart.
func (s *Server) resume(ctx context.Context) {
	uid, err := s.session.UserID()
	if err != nil {
		return
	}
	if err := s.start(ctx, api.UserID(uid)); err != nil {
		log.Printf("Unable to resume session of %s: %v", uid, err)
	}
}

func (s *Server) start(ctx context.Context, uid api.UserID) error {
	s.chatService.State().SetSelf(uid)
	if err := s.channel.Connect(ctx, uid, s.chatService.HandleInbound); err != nil {
		return err
	}
	return s.chatService.ReloadConversations(ctx)
}

func (s *Server) Run() error {
	// Server run context
	serverCtx, serverStopCtx := context.WithCancel(context.Background())

	go s.hub.Run(serverCtx)

	// run function that initializes the routes
	r := s.Routes()

	server := &http.Server{Addr: s.opts.Addr, Handler: r}

	s.resume(serverCtx)

	// Listen for syscall signals for process to interrupt/quit
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig

		// Shutdown signal with grace period of 30 seconds
		shutdownCtx, cancelFunc := context.WithTimeout(serverCtx, 30*time.Second)

		// Cancels shutdownCtx if shutdown occurs before timeout
		defer cancelFunc()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		s.channel.Close()
		s.chatService.Tray().Clear()

		// Trigger graceful shutdown
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatal(err)
		}
		serverStopCtx()
	}()

	log.Printf("Dashboard listening on %s", s.opts.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-serverCtx.Done()
	return nil
}
