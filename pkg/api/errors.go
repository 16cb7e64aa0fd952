package api

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingAttachment  = errors.New("non-text message without attachment")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrNoConversation     = errors.New("no conversation is open")
	ErrAttachmentNotFound = errors.New("pending attachment not found")
	ErrMessageNotFound    = errors.New("message not found in the open conversation")
	ErrEmptyMessage       = errors.New("message has neither text nor attachments")

	ErrInvalidOrder          = errors.New("message is not a valid order")
	ErrOrderAlreadyProcessed = errors.New("order already processed")
	ErrOrderInFlight         = errors.New("order action already in progress")
	ErrOrderCancelled        = errors.New("order action cancelled")
	ErrStockUnavailable      = errors.New("insufficient stock")
	ErrSizeUnavailable       = errors.New("requested size unavailable")

	ErrUnauthorized = errors.New("unauthorized")
	ErrNotConnected = errors.New("realtime channel not connected")
)

// ErrorKind separates the three ways a remote call can fail.
type ErrorKind int

const (
	// KindResponse: the server answered with an error status.
	KindResponse ErrorKind = iota + 1
	// KindNoResponse: the request was sent but nothing came back.
	KindNoResponse
	// KindRequest: the request could not be built.
	KindRequest
)

func (k ErrorKind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindNoResponse:
		return "no-response"
	case KindRequest:
		return "request"
	default:
		return "unknown"
	}
}

type RemoteError struct {
	Kind    ErrorKind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	switch e.Kind {
	case KindResponse:
		return fmt.Sprintf("%s: server responded %d: %s", e.Op, e.Status, e.Message)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// UserMessage is the text shown in the UI notification for this failure.
func (e *RemoteError) UserMessage() string {
	switch e.Kind {
	case KindResponse:
		if e.Status >= 500 || e.Message == "" {
			return "Erreur serveur, veuillez réessayer."
		}
		return e.Message
	case KindNoResponse:
		return "Aucune réponse du serveur. Vérifiez votre connexion."
	default:
		return "Impossible d'envoyer la requête."
	}
}

// IncompleteOrderError lists the order fields that could not be extracted.
type IncompleteOrderError struct {
	Missing []string
}

func (e *IncompleteOrderError) Error() string {
	return "incomplete order, missing " + strings.Join(e.Missing, ", ")
}

func (e *IncompleteOrderError) Is(target error) bool {
	return target == ErrInvalidOrder
}

// NotificationText renders any action error for the user.
func NotificationText(err error) string {
	var remote *RemoteError
	var incomplete *IncompleteOrderError
	switch {
	case errors.As(err, &remote):
		return remote.UserMessage()
	case errors.As(err, &incomplete):
		return "Informations de commande incomplètes: " + strings.Join(incomplete.Missing, ", ")
	case errors.Is(err, ErrInvalidOrder):
		return "Ce message n'est pas une commande valide."
	case errors.Is(err, ErrOrderAlreadyProcessed):
		return "Cette commande a déjà été traitée."
	case errors.Is(err, ErrOrderInFlight):
		return "Une action est déjà en cours pour cette commande."
	case errors.Is(err, ErrSizeUnavailable):
		return "La taille demandée n'est pas disponible."
	case errors.Is(err, ErrStockUnavailable):
		return "Stock insuffisant pour cette commande."
	case errors.Is(err, ErrOrderCancelled):
		return "Action annulée."
	case errors.Is(err, ErrMessageNotFound):
		return "Message introuvable."
	case errors.Is(err, ErrNoConversation):
		return "Aucune conversation ouverte."
	case errors.Is(err, ErrAttachmentNotFound):
		return "Pièce jointe introuvable."
	default:
		return "Une erreur est survenue."
	}
}
