// Package docs registers the OpenAPI document served under /swagger.
//
// Regenerate from the handler annotations with:
//
//	swag init -g cmd/tixcheckout/main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/orders": {
            "get": {"summary": "List my orders", "responses": {"200": {"description": "OK"}}},
            "post": {"summary": "Create order (idempotent)", "responses": {"201": {"description": "Created"}, "409": {"description": "not enough tickets / idem in progress"}, "429": {"description": "rate limited"}}}
        },
        "/orders/{id}": {
            "get": {"summary": "Get order with payment and tickets", "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}, "404": {"description": "Not Found"}}}
        },
        "/orders/{id}/cancel": {
            "post": {"summary": "Cancel unpaid order", "responses": {"200": {"description": "OK"}, "409": {"description": "already paid / already closed"}}}
        },
        "/orders/{id}/resend-email": {
            "post": {"summary": "Resend payment confirmation email", "responses": {"202": {"description": "Accepted"}}}
        },
        "/orders/{id}/events": {
            "get": {"summary": "Stream order status changes (SSE)", "produces": ["text/event-stream"], "responses": {"200": {"description": "OK"}}}
        },
        "/payments/webhook": {
            "post": {"summary": "Payment provider callback", "responses": {"200": {"description": "OK"}}}
        },
        "/payments/{reference}/simulate": {
            "post": {"summary": "Settle a mock payment", "responses": {"200": {"description": "OK"}}}
        },
        "/payments/{reference}/status": {
            "get": {"summary": "Reconcile payment with the provider", "responses": {"200": {"description": "OK"}}}
        },
        "/tickets/{number}/validate": {
            "get": {"summary": "Validate ticket for entry", "responses": {"200": {"description": "OK"}, "403": {"description": "admin or organizer role required"}}}
        },
        "/tickets/{number}/check-in": {
            "post": {"summary": "Check in ticket", "responses": {"200": {"description": "OK"}, "403": {"description": "admin or organizer role required"}, "409": {"description": "already used / not active"}}}
        },
        "/tickets/cancel": {
            "post": {"summary": "Cancel tickets in bulk", "responses": {"200": {"description": "OK"}, "403": {"description": "admin or organizer role required"}}}
        },
        "/notifications": {
            "get": {"summary": "List my notifications", "responses": {"200": {"description": "OK"}}}
        },
        "/notifications/{id}/read": {
            "post": {"summary": "Mark notification as read", "responses": {"200": {"description": "OK"}}}
        },
        "/events/{id}/availability": {
            "get": {"summary": "Get availability counters", "responses": {"200": {"description": "OK"}, "304": {"description": "Not Modified"}}}
        },
        "/admin/events": {
            "post": {"summary": "Create event (draft)", "responses": {"201": {"description": "Created"}}}
        },
        "/admin/events/{id}/publish": {
            "post": {"summary": "Publish event", "responses": {"200": {"description": "OK"}}}
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "TixCheckout API",
	Description:      "Order, payment and ticket lifecycle for event ticketing.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
