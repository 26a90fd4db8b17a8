package notify

import (
	"fmt"
	"strings"
	"time"
)

// ApprovalRequest describes a pending elevation request for the approver.
type ApprovalRequest struct {
	Tier       string
	Username   string
	Email      string
	EmployeeID string
	Token      string
	ExpiresAt  time.Time
	PublicKey  string
	Signature  string
}

// ApprovalMessage builds the email that carries a raw approval token to the
// approver mailbox.
func ApprovalMessage(to, from string, req ApprovalRequest) Message {
	lines := []string{
		fmt.Sprintf("A new %s access request is awaiting approval.", req.Tier),
		"",
		"Username: " + req.Username,
		"Email:    " + req.Email,
	}
	if req.EmployeeID != "" {
		lines = append(lines, "Employee: "+req.EmployeeID)
	}
	lines = append(lines,
		"",
		"Approval token: "+req.Token,
		"Expires:        "+req.ExpiresAt.UTC().Format(time.RFC1123),
	)
	if req.PublicKey != "" {
		lines = append(lines, "", "Public key:", req.PublicKey)
	}
	if req.Signature != "" {
		lines = append(lines, "", "Signature: "+req.Signature)
	}
	lines = append(lines, "", "If you did not expect this request, ignore this email.")

	return Message{
		To:      to,
		From:    from,
		Subject: fmt.Sprintf("Approval required: %s request from %s", req.Tier, req.Username),
		Body:    strings.Join(lines, "\n"),
	}
}

// CodePurpose distinguishes registration codes from login codes.
type CodePurpose string

const (
	PurposeRegistration CodePurpose = "registration"
	PurposeLogin        CodePurpose = "login"
)

// CodeMessage builds the email carrying a one-time code.
func CodeMessage(to, from string, purpose CodePurpose, code string, ttl time.Duration) Message {
	subject := "Your login code"
	intro := "Use the code below to finish signing in."
	if purpose == PurposeRegistration {
		subject = "Verify your account"
		intro = "Use the code below to verify your new account."
	}
	body := strings.Join([]string{
		intro,
		"",
		"    " + code,
		"",
		fmt.Sprintf("The code expires in %d minutes and can be used once.", int(ttl.Minutes())),
		"If you did not request it, you can ignore this email.",
	}, "\n")
	return Message{To: to, From: from, Subject: subject, Body: body}
}
