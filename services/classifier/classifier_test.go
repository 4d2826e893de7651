package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		email    *models.Email
		expected enum.EmailClassification
	}{
		{
			name: "failed recipients header is a bounce",
			email: &models.Email{
				FromAddress: "postmaster@example.com",
				RawHeaders:  models.JSONMap{"X-Failed-Recipients": []string{"gone@example.org"}},
			},
			expected: enum.EmailClassificationBounce,
		},
		{
			name:     "mailer daemon sender is a bounce",
			email:    &models.Email{FromAddress: "MAILER-DAEMON@mx.example.com", Subject: "hello"},
			expected: enum.EmailClassificationBounce,
		},
		{
			name:     "bounce subject",
			email:    &models.Email{FromAddress: "postmaster@example.com", Subject: "Undeliverable: Quarterly numbers"},
			expected: enum.EmailClassificationBounce,
		},
		{
			name: "auto submitted is an auto reply",
			email: &models.Email{
				FromAddress: "jane@example.com",
				RawHeaders:  models.JSONMap{"Auto-Submitted": []interface{}{"auto-replied"}},
			},
			expected: enum.EmailClassificationAutoReply,
		},
		{
			name: "auto submitted no is not an auto reply",
			email: &models.Email{
				FromAddress: "jane@gmail.com",
				ToAddresses: []string{"bob@example.com"},
				RawHeaders:  models.JSONMap{"Auto-Submitted": []string{"no"}},
			},
			expected: enum.EmailClassificationOK,
		},
		{
			name: "list unsubscribe is bulk",
			email: &models.Email{
				FromAddress: "news@example.com",
				RawHeaders:  models.JSONMap{"List-Unsubscribe": []string{"<mailto:unsubscribe@example.com>"}},
			},
			expected: enum.EmailClassificationBulk,
		},
		{
			name: "sender differing from from is bulk",
			email: &models.Email{
				FromAddress: "jane@example.com",
				RawHeaders:  models.JSONMap{"Sender": []string{"Mailer <bounces@esp.example.net>"}},
			},
			expected: enum.EmailClassificationBulk,
		},
		{
			name: "same company domain is internal",
			email: &models.Email{
				FromAddress: "jane@acme-widgets.com",
				ToAddresses: []string{"bob@acme-widgets.com"},
				CcAddresses: []string{"ann@ACME-widgets.com"},
			},
			expected: enum.EmailClassificationInternal,
		},
		{
			name: "external recipient is ok",
			email: &models.Email{
				FromAddress: "jane@acme-widgets.com",
				ToAddresses: []string{"bob@acme-widgets.com", "carl@other.org"},
			},
			expected: enum.EmailClassificationOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classification, _ := Classify(tt.email)
			assert.Equal(t, tt.expected, classification)
		})
	}
}

func TestApply_SetsReason(t *testing.T) {
	email := &models.Email{
		FromAddress: "news@example.com",
		RawHeaders:  models.JSONMap{"Precedence": []string{"bulk"}},
	}

	Apply(email)

	assert.Equal(t, enum.EmailClassificationBulk, email.Classification)
	assert.Equal(t, "PRECEDENCE: BULK header present", email.ClassificationReason)
}
