// Package mlog contains the structured logging fields shared by the engine's
// components.
package mlog

import (
	"go.uber.org/zap"
)

// DeploymentID returns a field containing a deployment ID.
func DeploymentID(id string) zap.Field {
	return zap.String("deployment_id", id)
}

// Group returns a field containing a deployment group.
func Group(g string) zap.Field {
	return zap.String("group", g)
}

// Step returns a field containing the name of a pipeline step.
func Step(s string) zap.Field {
	return zap.String("step", s)
}

// Stage returns a field containing the name of a rollout stage.
func Stage(s string) zap.Field {
	return zap.String("stage", s)
}

// TicketToken returns a field containing the wait token of a lock ticket.
//
// Tokens are abbreviated using FormatID().
func TicketToken(t string) zap.Field {
	return zap.String("ticket_token", FormatID(t))
}

// ManifestID returns a field containing a manifest ID.
func ManifestID(id string) zap.Field {
	return zap.String("manifest_id", id)
}

// Deployment returns the fields that identify a deployment.
func Deployment(id, group string) []zap.Field {
	return []zap.Field{
		DeploymentID(id),
		Group(group),
	}
}
