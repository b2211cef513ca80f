package email

import (
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderProposalResolvedTemplate(t *testing.T) {
	data := ProposalResolvedData{
		AppName:       "Quorum",
		UserName:      "Test User",
		ProposalTitle: "Fund the treasury",
		Outcome:       "passed",
		ProposalURL:   "https://example.com/proposals/prop_1",
	}

	html, err := renderTemplate(proposalResolvedEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Quorum") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Fund the treasury") {
		t.Error("template should contain proposal title")
	}
	if !strings.Contains(html, "passed") {
		t.Error("template should contain outcome")
	}
	if !strings.Contains(html, "https://example.com/proposals/prop_1") {
		t.Error("template should contain proposal URL")
	}
}

func TestRenderInvitationTemplate(t *testing.T) {
	data := InvitationData{
		AppName:   "Quorum",
		UserName:  "Test User",
		GroupName: "Builders Guild",
		JoinURL:   "https://example.com/groups/grp_1/join",
	}

	html, err := renderTemplate(invitationEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Builders Guild") {
		t.Error("template should contain group name")
	}
	if !strings.Contains(html, "https://example.com/groups/grp_1/join") {
		t.Error("template should contain join URL")
	}
}
