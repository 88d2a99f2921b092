package dispatch

import (
	"github.com/teslashibe/go-callbridge/pkg/protocol"
)

// ToolName is the only tool the dialogue model is offered.
const ToolName = "send_email_notification"

// Notification kinds accepted in the "type" argument.
const (
	KindMeeting = "reunion"
	KindQuote   = "cotizacion"
)

// Tool returns the definition advertised in session.update.
func Tool() protocol.Tool {
	return protocol.Tool{
		Name:        ToolName,
		Description: "Envía datos de reunión o cotización a un webhook para generar y enviar un correo electrónico.",
		Parameters: map[string]any{
			"email": map[string]any{
				"type":        "string",
				"description": "Correo electrónico del usuario o destinatario",
			},
			"name": map[string]any{
				"type":        "string",
				"description": "Nombre del usuario o destinatario",
			},
			"type": map[string]any{
				"type":        "string",
				"enum":        []string{KindMeeting, KindQuote},
				"description": "Tipo de notificación: 'reunion' o 'cotizacion'",
			},
			"fecha": map[string]any{
				"type":        "string",
				"description": "Fecha de la reunión en formato ISO o descripción legible",
			},
			"detalles": map[string]any{
				"type":        "string",
				"description": "Detalles adicionales para la cotización o contexto",
			},
		},
		Required: []string{"email", "name", "type", "fecha"},
	}
}

// Confirmation is the line read back to the caller after a successful send.
func Confirmation(kind, email string) string {
	what := "la cotización"
	if kind == KindMeeting {
		what = "la invitación de reunión"
	}
	return "✅ Se ha enviado " + what + " al correo " + email + "."
}
