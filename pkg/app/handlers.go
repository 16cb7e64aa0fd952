package app

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"proMessenger/pkg/api"
	"proMessenger/pkg/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8092,
	WriteBufferSize: 8092,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type loginRequest struct {
	Token string `json:"token" validate:"required"`
}

type sendMessageRequest struct {
	Text          string   `json:"text" validate:"max=5000"`
	AttachmentIds []string `json:"attachmentIds" validate:"dive,uuid"`
}

type attachmentsResponse struct {
	Attachments []*api.PendingAttachment `json:"attachments"`
	Errors      []string                 `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Unable to encode response: %v", err)
	}
}

// writeError maps err onto a status code and the {error, message} envelope.
func writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "internal"

	var remote *api.RemoteError
	var incomplete *api.IncompleteOrderError
	switch {
	case errors.Is(err, middleware.ErrNoSession), errors.Is(err, api.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.As(err, &remote):
		switch remote.Kind {
		case api.KindResponse:
			status, code = http.StatusBadGateway, "server"
		case api.KindNoResponse:
			status, code = http.StatusGatewayTimeout, "network"
		default:
			status, code = http.StatusInternalServerError, "client"
		}
	case errors.As(err, &incomplete), errors.Is(err, api.ErrInvalidOrder):
		status, code = http.StatusUnprocessableEntity, "invalid_order"
	case errors.Is(err, api.ErrMessageNotFound), errors.Is(err, api.ErrAttachmentNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, api.ErrOrderAlreadyProcessed):
		status, code = http.StatusConflict, "already_processed"
	case errors.Is(err, api.ErrOrderInFlight):
		status, code = http.StatusConflict, "in_flight"
	case errors.Is(err, api.ErrStockUnavailable), errors.Is(err, api.ErrSizeUnavailable):
		status, code = http.StatusConflict, "stock"
	case errors.Is(err, api.ErrOrderCancelled):
		status, code = http.StatusConflict, "cancelled"
	case errors.Is(err, api.ErrNoConversation), errors.Is(err, api.ErrEmptyMessage),
		errors.Is(err, api.ErrMissingAttachment), errors.Is(err, api.ErrUnknownMessageType):
		status, code = http.StatusBadRequest, "bad_request"
	}

	message := api.NotificationText(err)
	if errors.Is(err, api.ErrEmptyMessage) || errors.Is(err, api.ErrMissingAttachment) {
		message = err.Error()
	}
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		log.Printf("Unable to unmarshal request body: %v", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: err.Error()})
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation", Message: err.Error()})
		return false
	}
	return true
}

func (s *Server) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"connected": s.channel.Connected(),
		})
	}
}

func (s *Server) Login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if !s.decode(w, r, &req) {
			return
		}

		uid, err := s.session.Login(req.Token)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_token", Message: err.Error()})
			return
		}
		if err := s.start(r.Context(), api.UserID(uid)); err != nil {
			log.Printf("Unable to start session of %s: %v", uid, err)
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"userId": uid})
		log.Printf("Successfully logged in user with id: %s", uid)
	}
}

func (s *Server) Logout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.channel.Close()
		s.chatService.CloseConversation()
		s.chatService.Tray().Clear()
		if err := s.session.Logout(); err != nil {
			log.Printf("Unable to clear token: %v", err)
		}
		s.chatService.State().SetSelf("")

		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) GetConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.chatService.ReloadConversations(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.chatService.State().Conversations())
	}
}

func (s *Server) OpenConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partnerId := api.UserID(chi.URLParam(r, "partnerId"))

		if err := s.chatService.OpenConversation(r.Context(), partnerId); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.chatService.State().Messages())
		log.Printf("Successfully opened conversation with: %s", partnerId)
	}
}

func (s *Server) CloseConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if partner, _ := s.chatService.State().Partner(); partner == api.UserID(chi.URLParam(r, "partnerId")) {
			s.chatService.CloseConversation()
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) MarkConversationAsRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partnerId := api.UserID(chi.URLParam(r, "partnerId"))

		if err := s.chatService.MarkRead(r.Context(), partnerId); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) SendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		if !s.decode(w, r, &req) {
			return
		}

		message, err := s.chatService.SendMessage(r.Context(), req.Text, req.AttachmentIds)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, message)
	}
}

// AddAttachments takes a multipart form with one or more "files" parts. The
// optimize query parameter, or the X-Optimize header, asks for image shrinking.
func (s *Server) AddAttachments() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limits := s.preparer.Limits()
		if err := r.ParseMultipartForm(limits.MaxFileSize); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: err.Error()})
			return
		}
		defer func() {
			_ = r.MultipartForm.RemoveAll()
		}()

		var files []api.File
		for _, header := range append(r.MultipartForm.File["files"], r.MultipartForm.File["file"]...) {
			f, err := header.Open()
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: err.Error()})
				return
			}
			// One byte over the limit is enough for the size check to fail.
			data, err := io.ReadAll(io.LimitReader(f, limits.MaxFileSize+1))
			_ = f.Close()
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: err.Error()})
				return
			}
			files = append(files, api.File{
				Name:     header.Filename,
				Mimetype: header.Header.Get("Content-Type"),
				Data:     data,
			})
		}

		optimize := optimizeRequested(r)
		prepared, errs := s.preparer.Prepare(r.Context(), files, optimize)
		added, overflow := s.chatService.Tray().Add(prepared...)
		errs = append(errs, overflow...)

		if added == nil {
			added = []*api.PendingAttachment{}
		}
		if errs == nil {
			errs = []string{}
		}
		writeJSON(w, http.StatusOK, attachmentsResponse{Attachments: added, Errors: errs})
	}
}

func optimizeRequested(r *http.Request) bool {
	for _, value := range []string{r.URL.Query().Get("optimize"), r.Header.Get("X-Optimize")} {
		if ok, err := strconv.ParseBool(value); err == nil && ok {
			return true
		}
	}
	return false
}

func (s *Server) RemoveAttachment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.chatService.Tray().Remove(chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) PreviewAttachment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending, ok := s.chatService.Tray().Get(chi.URLParam(r, "id"))
		if !ok || pending.Preview() == "" {
			writeError(w, api.ErrAttachmentNotFound)
			return
		}
		w.Header().Set("Content-Type", pending.Mimetype)
		http.ServeFile(w, r, pending.Preview())
	}
}

func (s *Server) AcceptOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.orders.Accept(r.Context(), chi.URLParam(r, "messageId")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) RejectOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.orders.Reject(r.Context(), chi.URLParam(r, "messageId")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) OrderHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		history, err := s.orders.History(r.Context(), limit)
		if err != nil {
			log.Printf("Unable to read order history: %v", err)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, history)
	}
}

func (s *Server) ServeWs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := middleware.UID(r.Context())

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println(err)
			return
		}

		log.Println("Connected to websocket")
		client := api.NewClient(s.hub, conn, make(chan []byte, 256), api.UserID(uid))
		client.Hub.Register <- client

		// Allow collection of memory referenced by the caller by doing all work in
		// new goroutines.
		go client.WritePump()
		go client.ReadPump()
	}
}
