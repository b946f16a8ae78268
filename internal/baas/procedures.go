package baas

// Named remote procedures and their argument keys.
const (
	ProcUpdateUserRole      = "update_user_role"
	ProcDeleteUser          = "delete_user"
	ProcAssignIssue         = "assign_issue"
	ProcUpdateIssueStatus   = "update_issue_status"
	ProcUpdateIssuePriority = "update_issue_priority"

	ArgUserID      = "user_id"
	ArgNewRole     = "new_role"
	ArgIssueID     = "issue_id"
	ArgAssigneeID  = "assignee_id"
	ArgNewStatus   = "new_status"
	ArgNewPriority = "new_priority"
)
