package service

import (
	"fmt"

	"github.com/spec-kit/helpdesk/internal/domain"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

type operation string

const (
	opCreateTicket    operation = "ticket.create"
	opAssignTicket    operation = "ticket.assign"
	opChangeStatus    operation = "ticket.change_status"
	opConfirmResolved operation = "ticket.confirm_resolved"
	opRejectResolved  operation = "ticket.reject_resolved"
	opDeleteTicket    operation = "ticket.delete"
	opAddComment      operation = "comment.add"
	opAgentStats      operation = "stats.agents"
)

// rolePolicy is the operation-by-role authorization table. Listing and
// reading tickets is open to every role (with per-ticket ownership checks
// applied separately); everything mutating is restricted here.
var rolePolicy = map[operation]map[domain.Role]bool{
	opCreateTicket:    {domain.RoleCustomer: true},
	opAssignTicket:    {domain.RoleAgent: true},
	opChangeStatus:    {domain.RoleAgent: true},
	opConfirmResolved: {domain.RoleCustomer: true},
	opRejectResolved:  {domain.RoleCustomer: true},
	opDeleteTicket:    {domain.RoleAgent: true},
	opAddComment:      {domain.RoleAgent: true},
	opAgentStats:      {domain.RoleAdmin: true},
}

func authorize(op operation, role domain.Role) error {
	if !rolePolicy[op][role] {
		return apperrors.NewForbidden(fmt.Sprintf("role %s may not perform %s", role, op))
	}
	return nil
}
